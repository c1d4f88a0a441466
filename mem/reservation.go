package mem

// A reservation tracks one outstanding LR (load-reserved) per hart. The
// byte range [addr, addr+size) is invalidated by any conflicting store.
type reservation struct {
	addr  uint64
	size  uint64
	valid bool
}

func (r reservation) conflictsWith(addr, size uint64) bool {
	return addr < r.addr+r.size && r.addr < addr+size
}

// makeLr establishes a reservation for the given hart, replacing any prior
// one.
func (m *Memory) makeLr(hart int, addr, size uint64) {
	m.lrMu.Lock()
	defer m.lrMu.Unlock()

	m.reservations[hart] = reservation{addr: addr, size: size, valid: true}
}

// hasLr reports whether the hart holds a valid reservation for addr. The
// address is the key; the reservation size does not participate.
func (m *Memory) hasLr(hart int, addr uint64) bool {
	m.lrMu.Lock()
	defer m.lrMu.Unlock()

	res := m.reservations[hart]
	return res.valid && res.addr == addr
}

// invalidateLr drops the hart's reservation.
func (m *Memory) invalidateLr(hart int) {
	m.lrMu.Lock()
	defer m.lrMu.Unlock()

	m.reservations[hart].valid = false
}

// invalidateOtherHartLrLocked drops every reservation, except the writing
// hart's own, whose range intersects the stored bytes. Callers hold lrMu.
func (m *Memory) invalidateOtherHartLrLocked(hart int, addr, size uint64) {
	for i := range m.reservations {
		if i == hart {
			continue
		}
		if m.reservations[i].conflictsWith(addr, size) {
			m.reservations[i].valid = false
		}
	}
}

// invalidateAllLrLocked drops every reservation whose range intersects the
// stored bytes. Used by pokes and snapshot restore, where no hart identity
// is meaningful. Callers hold lrMu.
func (m *Memory) invalidateAllLrLocked(addr, size uint64) {
	for i := range m.reservations {
		if m.reservations[i].conflictsWith(addr, size) {
			m.reservations[i].valid = false
		}
	}
}
