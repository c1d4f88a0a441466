package mem

import (
	"fmt"

	"github.com/luckidea/SweRV-ISS/mem/pma"
)

// A Builder configures and creates Memory instances.
type Builder struct {
	size       uint64
	pageSize   uint64
	regionSize uint64
	hartCount  int
}

// MakeBuilder returns a Builder with a 4 GiB address space, 4 KiB pages,
// 256 MiB regions and a single hart.
func MakeBuilder() Builder {
	return Builder{
		size:       4 * GB,
		pageSize:   pma.DefaultPageSize,
		regionSize: pma.DefaultRegionSize,
		hartCount:  1,
	}
}

// WithSize sets the memory size in bytes. The size must be a power of two.
func (b Builder) WithSize(size uint64) Builder {
	b.size = size
	return b
}

// WithPageSize sets the attribute-table page size.
func (b Builder) WithPageSize(pageSize uint64) Builder {
	b.pageSize = pageSize
	return b
}

// WithRegionSize sets the region size.
func (b Builder) WithRegionSize(regionSize uint64) Builder {
	b.regionSize = regionSize
	return b
}

// WithHartCount sets the number of harts that share the memory.
func (b Builder) WithHartCount(hartCount int) Builder {
	b.hartCount = hartCount
	return b
}

// Build creates the memory. All bytes start out zero and all pages start
// out external with full access; CCM and register areas are defined on the
// returned memory before the first access.
func (b Builder) Build() (*Memory, error) {
	if b.hartCount < 1 {
		return nil, fmt.Errorf("hart count %d is not positive", b.hartCount)
	}

	mgr, err := pma.NewManager(b.size, b.pageSize, b.regionSize)
	if err != nil {
		return nil, err
	}

	m := &Memory{
		size:          b.size,
		store:         newStorage(b.size),
		pmaMgr:        mgr,
		reservations:  make([]reservation, b.hartCount),
		lastWrite:     make([]lastWriteData, b.hartCount),
		checkUnmapped: true,
	}

	return m, nil
}
