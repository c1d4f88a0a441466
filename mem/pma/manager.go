package pma

import (
	"fmt"
	"math/bits"
)

// DefaultPageSize is the page granularity of the attribute table.
const DefaultPageSize = 4 * 1024

// DefaultRegionSize scopes CCM and memory-mapped-register definitions.
// A closely coupled memory must fit inside a single region.
const DefaultRegionSize = 256 * 1024 * 1024

// An area is a configured ICCM, DCCM or memory-mapped-register range.
type area struct {
	tag   string
	start uint64
	size  uint64
}

func (a area) overlaps(start, size uint64) bool {
	return start < a.start+a.size && a.start < start+size
}

// A Manager maintains the per-page attribute table of a simulated memory
// together with the write masks of its memory-mapped register words. It is
// configured once during initialization and is read-only afterwards.
type Manager struct {
	memSize    uint64
	pageSize   uint64
	regionSize uint64

	pageShift   uint
	regionShift uint
	regionMask  uint64

	pages []Pma

	areas    []area
	mmrAreas []area
	masks    map[uint64]uint32
}

// NewManager creates an attribute table for a memory of memSize bytes.
// All sizes must be powers of two and the page size must divide the region
// size. Every page starts out external with full read/write/execute
// capability; CCM and register areas refine that during configuration.
func NewManager(memSize, pageSize, regionSize uint64) (*Manager, error) {
	switch {
	case memSize == 0 || memSize&(memSize-1) != 0:
		return nil, fmt.Errorf("memory size 0x%x is not a power of two", memSize)
	case pageSize == 0 || pageSize&(pageSize-1) != 0:
		return nil, fmt.Errorf("page size 0x%x is not a power of two", pageSize)
	case regionSize == 0 || regionSize&(regionSize-1) != 0:
		return nil, fmt.Errorf("region size 0x%x is not a power of two", regionSize)
	case pageSize > regionSize:
		return nil, fmt.Errorf("page size 0x%x exceeds region size 0x%x",
			pageSize, regionSize)
	case pageSize > memSize:
		return nil, fmt.Errorf("page size 0x%x exceeds memory size 0x%x",
			pageSize, memSize)
	}

	m := &Manager{
		memSize:     memSize,
		pageSize:    pageSize,
		regionSize:  regionSize,
		pageShift:   uint(bits.TrailingZeros64(pageSize)),
		regionShift: uint(bits.TrailingZeros64(regionSize)),
		masks:       make(map[uint64]uint32),
	}

	regionCount := memSize / regionSize
	if regionCount == 0 {
		regionCount = 1
	}
	m.regionMask = regionCount - 1

	m.pages = make([]Pma, memSize/pageSize)
	for i := range m.pages {
		m.pages[i] = AttrRead | AttrWrite | AttrExec
	}

	return m, nil
}

// MemSize returns the size of the covered memory in bytes.
func (m *Manager) MemSize() uint64 { return m.memSize }

// PageSize returns the page granularity of the table.
func (m *Manager) PageSize() uint64 { return m.pageSize }

// RegionSize returns the region granularity of the table.
func (m *Manager) RegionSize() uint64 { return m.regionSize }

// PageIndex returns the number of the page containing addr.
func (m *Manager) PageIndex(addr uint64) uint64 { return addr >> m.pageShift }

// RegionIndex returns the number of the region containing addr.
func (m *Manager) RegionIndex(addr uint64) uint64 {
	return (addr >> m.regionShift) & m.regionMask
}

// Pma returns the attributes of the page containing addr. Addresses beyond
// the covered memory have no capabilities.
func (m *Manager) Pma(addr uint64) Pma {
	ix := m.PageIndex(addr)
	if ix >= uint64(len(m.pages)) {
		return 0
	}
	return m.pages[ix]
}

// checkArea validates the alignment and placement rules common to ICCM,
// DCCM and memory-mapped register definitions.
func (m *Manager) checkArea(tag string, addr, size uint64) error {
	if size == 0 || addr%m.pageSize != 0 || size%m.pageSize != 0 {
		return fmt.Errorf(
			"%s area addr=0x%x size=0x%x is not page aligned", tag, addr, size)
	}
	if addr+size > m.memSize {
		return fmt.Errorf(
			"%s area addr=0x%x size=0x%x exceeds memory size 0x%x",
			tag, addr, size, m.memSize)
	}
	if addr>>m.regionShift != (addr+size-1)>>m.regionShift {
		return fmt.Errorf(
			"%s area addr=0x%x size=0x%x crosses a region boundary",
			tag, addr, size)
	}
	for _, a := range m.areas {
		if a.overlaps(addr, size) {
			return fmt.Errorf(
				"%s area addr=0x%x size=0x%x overlaps %s area addr=0x%x size=0x%x",
				tag, addr, size, a.tag, a.start, a.size)
		}
	}
	return nil
}

func (m *Manager) setPages(addr, size uint64, attrs Pma) {
	first := m.PageIndex(addr)
	last := m.PageIndex(addr + size - 1)
	for ix := first; ix <= last; ix++ {
		m.pages[ix] = attrs
	}
}

// DefineIccm marks the given range as instruction closely coupled memory.
// The affected pages become fetchable and readable; FinishCcmConfig may
// later grant data write access as well.
func (m *Manager) DefineIccm(addr, size uint64) error {
	if err := m.checkArea("iccm", addr, size); err != nil {
		return err
	}
	m.setPages(addr, size, AttrExec|AttrRead|AttrIccm)
	m.areas = append(m.areas, area{"iccm", addr, size})
	return nil
}

// DefineDccm marks the given range as data closely coupled memory. The
// affected pages become readable and writable but not fetchable.
func (m *Manager) DefineDccm(addr, size uint64) error {
	if err := m.checkArea("dccm", addr, size); err != nil {
		return err
	}
	m.setPages(addr, size, AttrRead|AttrWrite|AttrDccm)
	m.areas = append(m.areas, area{"dccm", addr, size})
	return nil
}

// DefineMmrArea marks the given range as a memory-mapped register area.
// Every word in the area gets an all-ones write mask until SetMmrMask
// narrows it.
func (m *Manager) DefineMmrArea(addr, size uint64) error {
	if err := m.checkArea("mmr", addr, size); err != nil {
		return err
	}
	m.setPages(addr, size, AttrRead|AttrWrite|AttrMmr)
	m.areas = append(m.areas, area{"mmr", addr, size})
	m.mmrAreas = append(m.mmrAreas, area{"mmr", addr, size})
	return nil
}

// FinishCcmConfig completes CCM configuration. When iccmRw is true, ICCM
// pages, which are already readable, additionally allow data writes (for
// cores that permit load/store access to instruction memory).
func (m *Manager) FinishCcmConfig(iccmRw bool) {
	if !iccmRw {
		return
	}
	for ix, p := range m.pages {
		if p.IsIccm() {
			m.pages[ix] = p | AttrRead | AttrWrite
		}
	}
}

// SetMmrMask installs the write mask of the memory-mapped register at the
// given word-aligned address. The address must fall inside a previously
// defined register area.
func (m *Manager) SetMmrMask(addr uint64, mask uint32) error {
	if addr&3 != 0 {
		return fmt.Errorf("mmr mask addr 0x%x is not word aligned", addr)
	}
	if !m.Pma(addr).IsMmr() {
		return fmt.Errorf("addr 0x%x is not in a memory-mapped register area", addr)
	}
	m.masks[addr] = mask
	return nil
}

// MmrMask returns the write mask of the word containing addr. Words that
// never had a mask installed, and addresses outside register areas, mask
// nothing.
func (m *Manager) MmrMask(addr uint64) uint32 {
	if mask, ok := m.masks[addr&^uint64(3)]; ok {
		return mask
	}
	return ^uint32(0)
}

// MmrRanges returns the configured memory-mapped register ranges as
// [start, end) pairs in definition order.
func (m *Manager) MmrRanges() [][2]uint64 {
	ranges := make([][2]uint64, 0, len(m.mmrAreas))
	for _, a := range m.mmrAreas {
		ranges = append(ranges, [2]uint64{a.start, a.start + a.size})
	}
	return ranges
}
