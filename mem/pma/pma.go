// Package pma tracks the physical memory attributes of simulated memory at
// page granularity, including the write masks of memory-mapped register
// areas.
package pma

// A Pma is the packed set of physical memory attributes of one page. Six
// independent capability bits fit in one byte, which keeps the per-page
// table small when pages are small.
type Pma uint8

const (
	// AttrRead marks a page readable by load instructions.
	AttrRead Pma = 1 << iota

	// AttrWrite marks a page writable by store instructions.
	AttrWrite

	// AttrExec marks a page usable for instruction fetch.
	AttrExec

	// AttrMmr marks a page as holding memory-mapped registers.
	AttrMmr

	// AttrIccm marks a page as belonging to an ICCM area.
	AttrIccm

	// AttrDccm marks a page as belonging to a DCCM area.
	AttrDccm
)

// IsRead returns true if the page can be used for data reads.
func (p Pma) IsRead() bool { return p&AttrRead != 0 }

// IsWrite returns true if the page can be used for data writes.
func (p Pma) IsWrite() bool { return p&AttrWrite != 0 }

// IsExec returns true if the page can be used for instruction fetch.
func (p Pma) IsExec() bool { return p&AttrExec != 0 }

// IsMmr returns true if the page holds memory-mapped registers.
func (p Pma) IsMmr() bool { return p&AttrMmr != 0 }

// IsIccm returns true if the page belongs to an ICCM area.
func (p Pma) IsIccm() bool { return p&AttrIccm != 0 }

// IsDccm returns true if the page belongs to a DCCM area.
func (p Pma) IsDccm() bool { return p&AttrDccm != 0 }

// IsMapped returns true if the page is usable at all.
func (p Pma) IsMapped() bool { return p&(AttrRead|AttrWrite|AttrExec) != 0 }

// IsExternal returns true if the page is external to the core.
func (p Pma) IsExternal() bool { return p&(AttrDccm|AttrMmr) == 0 }
