// Package mem models the physical memory of a simulated RISC-V system: a
// flat little-endian byte space with per-page attributes, memory-mapped
// register masking, LR/SC reservation tracking, per-hart last-write
// records, and snapshot I/O.
package mem

import (
	"sync"

	"github.com/luckidea/SweRV-ISS/mem/pma"
)

// Memory size units.
const (
	KB = 1 << 10
	MB = 1 << 20
	GB = 1 << 30
)

// A Memory is the simulated physical memory shared by all harts. Data
// accesses and instruction fetches go through the public Read/Fetch/Write
// surface; privileged operations (poke, reservations, last-write records,
// AMO sequencing) are reached through the CoreServices capability.
//
// The attribute table and register masks are configured between Build and
// the first access, and are read-only afterwards.
type Memory struct {
	size   uint64
	store  *storage
	pmaMgr *pma.Manager

	amoMu sync.Mutex
	lrMu  sync.Mutex

	reservations []reservation
	lastWrite    []lastWriteData

	checkUnmapped bool
}

// Size returns the memory size in bytes.
func (m *Memory) Size() uint64 { return m.size }

// PageSize returns the attribute-table page size.
func (m *Memory) PageSize() uint64 { return m.pmaMgr.PageSize() }

// RegionSize returns the region size.
func (m *Memory) RegionSize() uint64 { return m.pmaMgr.RegionSize() }

// HartCount returns the number of harts sharing this memory.
func (m *Memory) HartCount() int { return len(m.reservations) }

// PmaAt returns the attributes of the page containing addr.
func (m *Memory) PmaAt(addr uint64) pma.Pma { return m.pmaMgr.Pma(addr) }

// IsAddrInIccm returns true if addr falls in instruction closely coupled
// memory.
func (m *Memory) IsAddrInIccm(addr uint64) bool { return m.pmaMgr.Pma(addr).IsIccm() }

// IsAddrInDccm returns true if addr falls in data closely coupled memory.
func (m *Memory) IsAddrInDccm(addr uint64) bool { return m.pmaMgr.Pma(addr).IsDccm() }

// IsAddrInMappedRegs returns true if addr falls in a memory-mapped register
// area.
func (m *Memory) IsAddrInMappedRegs(addr uint64) bool { return m.pmaMgr.Pma(addr).IsMmr() }

// IsDataAddrExternal returns true if addr is external to the core.
func (m *Memory) IsDataAddrExternal(addr uint64) bool { return m.pmaMgr.Pma(addr).IsExternal() }

// SetCheckUnmapped controls whether the ELF loader and snapshot restores
// fail on bytes that land on unmapped pages. Enabled by default. The HEX
// loader fails on such bytes regardless of this setting.
func (m *Memory) SetCheckUnmapped(flag bool) { m.checkUnmapped = flag }

// CheckUnmapped returns the current unmapped-byte policy for loads.
func (m *Memory) CheckUnmapped() bool { return m.checkUnmapped }

// DefineIccm defines an instruction closely coupled memory area. Must be
// called before the first access.
func (m *Memory) DefineIccm(addr, size uint64) error { return m.pmaMgr.DefineIccm(addr, size) }

// DefineDccm defines a data closely coupled memory area. Must be called
// before the first access.
func (m *Memory) DefineDccm(addr, size uint64) error { return m.pmaMgr.DefineDccm(addr, size) }

// DefineMmrArea defines a memory-mapped register area. Must be called
// before the first access.
func (m *Memory) DefineMmrArea(addr, size uint64) error { return m.pmaMgr.DefineMmrArea(addr, size) }

// FinishCcmConfig completes CCM configuration; see pma.Manager.
func (m *Memory) FinishCcmConfig(iccmRw bool) { m.pmaMgr.FinishCcmConfig(iccmRw) }

// SetMmrMask installs the write mask of a memory-mapped register word.
func (m *Memory) SetMmrMask(addr uint64, mask uint32) error {
	return m.pmaMgr.SetMmrMask(addr, mask)
}

// MmrMask returns the write mask of the word containing addr.
func (m *Memory) MmrMask(addr uint64) uint32 { return m.pmaMgr.MmrMask(addr) }

// ResetMmrWords zeroes the contents of every memory-mapped register word.
// Mask configuration is retained.
func (m *Memory) ResetMmrWords() {
	for _, r := range m.pmaMgr.MmrRanges() {
		for addr := r[0]; addr < r[1]; addr += 4 {
			m.store.writeUint(addr, 4, 0)
		}
	}
}

// read is the checked data-read path shared by all widths.
func (m *Memory) read(addr, width uint64) (uint64, bool) {
	pma1 := m.pmaMgr.Pma(addr)
	if !pma1.IsRead() {
		return 0, false
	}

	if addr&(width-1) != 0 {
		pma2 := m.pmaMgr.Pma(addr + width - 1)
		if pma1 != pma2 {
			return 0, false
		}
	}

	// Memory-mapped registers allow aligned word access only.
	if pma1.IsMmr() && (width != 4 || addr&3 != 0) {
		return 0, false
	}

	return m.store.readUint(addr, width)
}

// fetch is the checked instruction-fetch path. It differs from read in the
// gating attribute only.
func (m *Memory) fetch(addr, width uint64) (uint64, bool) {
	p := m.pmaMgr.Pma(addr)
	if !p.IsExec() {
		return 0, false
	}

	if addr&(width-1) != 0 {
		pma2 := m.pmaMgr.Pma(addr + width - 1)
		if p != pma2 {
			return 0, false
		}
	}

	return m.store.readUint(addr, width)
}

// write is the checked store path shared by all widths. The reservation
// lock is held across the commit and the invalidation of other harts'
// reservations, which serializes LR/SC against all stores. The last-write
// record is updated before reservations are touched.
func (m *Memory) write(hart int, addr, width, value uint64) bool {
	pma1 := m.pmaMgr.Pma(addr)
	if !pma1.IsWrite() {
		return false
	}

	if addr&(width-1) != 0 {
		pma2 := m.pmaMgr.Pma(addr + width - 1)
		if pma1 != pma2 {
			return false
		}
	}

	if pma1.IsMmr() {
		if width != 4 || addr&3 != 0 {
			return false
		}
		value &= uint64(m.pmaMgr.MmrMask(addr))
	}

	m.lrMu.Lock()
	defer m.lrMu.Unlock()

	prev, ok := m.store.readUint(addr, width)
	if !ok {
		return false
	}
	if !m.store.writeUint(addr, width, value) {
		return false
	}

	m.recordLastWrite(hart, addr, width, value, prev)
	m.invalidateOtherHartLrLocked(hart, addr, width)

	return true
}

// poke writes like write but is gated on the page being mapped rather than
// writable, records no last-write information, and invalidates conflicting
// reservations of every hart. A misaligned poke may cross an attribute
// boundary as long as both ends are mapped; loaders rely on that when a
// segment straddles areas.
func (m *Memory) poke(addr, width, value uint64) bool {
	pma1 := m.pmaMgr.Pma(addr)
	if !pma1.IsMapped() {
		return false
	}

	if addr&(width-1) != 0 {
		if !m.pmaMgr.Pma(addr + width - 1).IsMapped() {
			return false
		}
	}

	if pma1.IsMmr() {
		if width != 4 || addr&3 != 0 {
			return false
		}
		value &= uint64(m.pmaMgr.MmrMask(addr))
	}

	if !m.store.writeUint(addr, width, value) {
		return false
	}

	m.lrMu.Lock()
	m.invalidateAllLrLocked(addr, width)
	m.lrMu.Unlock()

	return true
}

// checkWrite is the side-effect-free trial of write. For memory-mapped
// registers it returns the value that a real write would commit.
func (m *Memory) checkWrite(addr, width, value uint64) (uint64, bool) {
	pma1 := m.pmaMgr.Pma(addr)
	if !pma1.IsWrite() {
		return 0, false
	}

	if addr&(width-1) != 0 {
		pma2 := m.pmaMgr.Pma(addr + width - 1)
		if pma1 != pma2 {
			return 0, false
		}
	}

	if pma1.IsMmr() {
		if width != 4 || addr&3 != 0 {
			return 0, false
		}
		value &= uint64(m.pmaMgr.MmrMask(addr))
	}

	if addr+width > m.size {
		return 0, false
	}

	return value, true
}

// ReadByte reads the byte at addr.
func (m *Memory) ReadByte(addr uint64) (uint8, bool) {
	v, ok := m.read(addr, 1)
	return uint8(v), ok
}

// ReadHalf reads the little-endian halfword at addr.
func (m *Memory) ReadHalf(addr uint64) (uint16, bool) {
	v, ok := m.read(addr, 2)
	return uint16(v), ok
}

// ReadWord reads the little-endian word at addr.
func (m *Memory) ReadWord(addr uint64) (uint32, bool) {
	v, ok := m.read(addr, 4)
	return uint32(v), ok
}

// ReadDouble reads the little-endian double-word at addr.
func (m *Memory) ReadDouble(addr uint64) (uint64, bool) {
	return m.read(addr, 8)
}

// FetchHalf reads the halfword at addr for instruction fetch. A misaligned
// fetch may not cross pages of differing attributes.
func (m *Memory) FetchHalf(addr uint64) (uint16, bool) {
	v, ok := m.fetch(addr, 2)
	return uint16(v), ok
}

// FetchWord reads the word at addr for instruction fetch. A halfword-
// aligned fetch is allowed as long as both halves carry the same
// attributes.
func (m *Memory) FetchWord(addr uint64) (uint32, bool) {
	v, ok := m.fetch(addr, 4)
	return uint32(v), ok
}

// WriteByte stores a byte at addr on behalf of the given hart.
func (m *Memory) WriteByte(hart int, addr uint64, value uint8) bool {
	return m.write(hart, addr, 1, uint64(value))
}

// WriteHalf stores a little-endian halfword at addr on behalf of the given
// hart.
func (m *Memory) WriteHalf(hart int, addr uint64, value uint16) bool {
	return m.write(hart, addr, 2, uint64(value))
}

// WriteWord stores a little-endian word at addr on behalf of the given
// hart.
func (m *Memory) WriteWord(hart int, addr uint64, value uint32) bool {
	return m.write(hart, addr, 4, uint64(value))
}

// WriteDouble stores a little-endian double-word at addr on behalf of the
// given hart.
func (m *Memory) WriteDouble(hart int, addr uint64, value uint64) bool {
	return m.write(hart, addr, 8, value)
}

// CheckWriteByte reports whether a byte store at addr would succeed.
func (m *Memory) CheckWriteByte(addr uint64, value uint8) (uint8, bool) {
	v, ok := m.checkWrite(addr, 1, uint64(value))
	return uint8(v), ok
}

// CheckWriteHalf reports whether a halfword store at addr would succeed.
func (m *Memory) CheckWriteHalf(addr uint64, value uint16) (uint16, bool) {
	v, ok := m.checkWrite(addr, 2, uint64(value))
	return uint16(v), ok
}

// CheckWriteWord reports whether a word store at addr would succeed and
// returns the value that would be committed after register masking.
func (m *Memory) CheckWriteWord(addr uint64, value uint32) (uint32, bool) {
	v, ok := m.checkWrite(addr, 4, uint64(value))
	return uint32(v), ok
}

// CheckWriteDouble reports whether a double-word store at addr would
// succeed.
func (m *Memory) CheckWriteDouble(addr uint64, value uint64) (uint64, bool) {
	return m.checkWrite(addr, 8, value)
}

// CopyFrom copies the contents of another memory into this one. When the
// sizes differ, the overlapping prefix is copied. Attributes, masks,
// reservations and last-write records are not copied.
func (m *Memory) CopyFrom(other *Memory) {
	limit := m.size
	if other.size < limit {
		limit = other.size
	}

	// Units never written in the other memory read as zero there, so the
	// corresponding bytes here are cleared.
	for baseAddr, unit := range m.store.units {
		if baseAddr >= limit {
			continue
		}
		if _, ok := other.store.units[baseAddr]; ok {
			continue
		}
		n := m.store.unitSize
		if left := limit - baseAddr; left < n {
			n = left
		}
		clear(unit[:n])
	}

	for baseAddr, unit := range other.store.units {
		if baseAddr >= m.size {
			continue
		}
		n := other.store.unitSize
		if left := m.size - baseAddr; left < n {
			n = left
		}
		m.store.writeBytes(baseAddr, unit[:n])
	}
}
