package mem

// lastWriteData records the most recent store of one hart for the trace
// collaborator. A size of zero means no store since the last clear.
type lastWriteData struct {
	size  uint64
	addr  uint64
	value uint64
	prev  uint64
}

func (m *Memory) recordLastWrite(hart int, addr, width, value, prev uint64) {
	m.lastWrite[hart] = lastWriteData{
		size:  width,
		addr:  addr,
		value: value,
		prev:  prev,
	}
}

func (m *Memory) lastWriteNew(hart int) (size, addr, value uint64) {
	lwd := m.lastWrite[hart]
	return lwd.size, lwd.addr, lwd.value
}

func (m *Memory) lastWritePrev(hart int) (size, addr, value uint64) {
	lwd := m.lastWrite[hart]
	return lwd.size, lwd.addr, lwd.prev
}

func (m *Memory) clearLastWrite(hart int) {
	m.lastWrite[hart].size = 0
}
