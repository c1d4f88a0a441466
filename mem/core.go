package mem

// CoreServices is the privileged capability handed to the hart, to loaders
// and to the trace collaborator. It carries the operations that must not be
// part of the public surface: pokes that bypass write permission,
// reservation tracking, last-write records, and AMO sequencing.
type CoreServices struct {
	mem *Memory
}

// CoreServices returns the privileged capability for this memory.
func (m *Memory) CoreServices() CoreServices {
	return CoreServices{mem: m}
}

// Memory returns the memory behind this capability.
func (c CoreServices) Memory() *Memory { return c.mem }

// PokeByte stores a byte at addr, bypassing write permission. The page must
// be mapped.
func (c CoreServices) PokeByte(addr uint64, value uint8) bool {
	return c.mem.poke(addr, 1, uint64(value))
}

// PokeHalf stores a halfword at addr, bypassing write permission.
func (c CoreServices) PokeHalf(addr uint64, value uint16) bool {
	return c.mem.poke(addr, 2, uint64(value))
}

// PokeWord stores a word at addr, bypassing write permission. Register
// words are still masked.
func (c CoreServices) PokeWord(addr uint64, value uint32) bool {
	return c.mem.poke(addr, 4, uint64(value))
}

// PokeDouble stores a double-word at addr, bypassing write permission.
func (c CoreServices) PokeDouble(addr uint64, value uint64) bool {
	return c.mem.poke(addr, 8, value)
}

// MakeLr establishes a reservation of the given size for the hart,
// replacing any prior reservation.
func (c CoreServices) MakeLr(hart int, addr, size uint64) {
	c.mem.makeLr(hart, addr, size)
}

// HasLr reports whether the hart holds a valid reservation for addr.
func (c CoreServices) HasLr(hart int, addr uint64) bool {
	return c.mem.hasLr(hart, addr)
}

// InvalidateLr drops the hart's reservation.
func (c CoreServices) InvalidateLr(hart int) {
	c.mem.invalidateLr(hart)
}

// LastWriteNew returns the size, address and committed value of the hart's
// most recent store. A size of zero means no store since the last clear.
func (c CoreServices) LastWriteNew(hart int) (size, addr, value uint64) {
	return c.mem.lastWriteNew(hart)
}

// LastWritePrev returns the size, address and overwritten value of the
// hart's most recent store.
func (c CoreServices) LastWritePrev(hart int) (size, addr, value uint64) {
	return c.mem.lastWritePrev(hart)
}

// ClearLastWrite resets the hart's last-write record.
func (c CoreServices) ClearLastWrite(hart int) {
	c.mem.clearLastWrite(hart)
}
