package loader

import (
	"debug/elf"
	"errors"
	"fmt"
	"io"
	"log"

	"github.com/luckidea/SweRV-ISS/mem"
)

// An ElfLoader places the loadable segments of RISC-V ELF images into a
// simulated memory and extracts their symbols.
type ElfLoader struct {
	mem     *mem.Memory
	core    mem.CoreServices
	symbols *SymbolTable
}

// NewElfLoader creates a loader that populates m and records symbols in
// symbols.
func NewElfLoader(m *mem.Memory, symbols *SymbolTable) *ElfLoader {
	return &ElfLoader{
		mem:     m,
		core:    m.CoreServices(),
		symbols: symbols,
	}
}

func checkElfClass(f *elf.File, registerWidth int) error {
	switch registerWidth {
	case 32:
		if f.Class != elf.ELFCLASS32 {
			return fmt.Errorf("ELF class is %s, want ELFCLASS32 for a "+
				"32-bit core", f.Class)
		}
	case 64:
		if f.Class != elf.ELFCLASS64 {
			return fmt.Errorf("ELF class is %s, want ELFCLASS64 for a "+
				"64-bit core", f.Class)
		}
	default:
		return fmt.Errorf("register width %d is not supported", registerWidth)
	}
	return nil
}

func validateElf(f *elf.File, registerWidth int) error {
	if f.Machine != elf.EM_RISCV {
		return fmt.Errorf("ELF machine is %s, want EM_RISCV", f.Machine)
	}
	if f.Data != elf.ELFDATA2LSB {
		return fmt.Errorf("ELF data encoding is %s, want little-endian", f.Data)
	}
	return checkElfClass(f, registerWidth)
}

// segmentAddr returns the placement address of a loadable segment. The
// physical address wins unless it is zero.
func segmentAddr(p *elf.Prog) uint64 {
	if p.Paddr != 0 {
		return p.Paddr
	}
	return p.Vaddr
}

// Load places the PT_LOAD segments of the given file into memory through
// the poke path and extracts its symbols. It returns the entry point and
// the address one past the highest loaded byte. The register width (32 or
// 64) must match the file's ELF class.
//
// When the memory's unmapped check is enabled, a byte landing on an
// unmapped page fails the load; otherwise such bytes are skipped and
// reported.
func (l *ElfLoader) Load(path string, registerWidth int) (entry, end uint64, err error) {
	f, err := elf.Open(path)
	if err != nil {
		return 0, 0, fmt.Errorf("%s: %w", path, err)
	}
	defer f.Close()

	if err := validateElf(f, registerWidth); err != nil {
		return 0, 0, fmt.Errorf("%s: %w", path, err)
	}

	var minAddr, maxAddr uint64
	loaded := false
	skipped := 0

	for i, p := range f.Progs {
		if p.Type != elf.PT_LOAD || p.Memsz == 0 {
			continue
		}

		data := make([]byte, p.Memsz)
		if p.Filesz > 0 {
			if _, err := io.ReadFull(p.Open(), data[:p.Filesz]); err != nil {
				return 0, 0, fmt.Errorf("%s: segment %d: %w", path, i, err)
			}
		}

		addr := segmentAddr(p)
		for off, b := range data {
			if l.core.PokeByte(addr+uint64(off), b) {
				continue
			}
			if l.mem.CheckUnmapped() {
				return 0, 0, fmt.Errorf(
					"%s: segment %d: address 0x%x is not mapped",
					path, i, addr+uint64(off))
			}
			skipped++
		}

		if !loaded || addr < minAddr {
			minAddr = addr
		}
		if last := addr + p.Memsz - 1; !loaded || last > maxAddr {
			maxAddr = last
		}
		loaded = true
	}

	if !loaded {
		return 0, 0, fmt.Errorf("%s: no loadable segments", path)
	}
	if skipped > 0 {
		log.Printf("%s: skipped %d bytes on unmapped pages", path, skipped)
	}

	l.extractSymbols(f)

	return f.Entry, maxAddr + 1, nil
}

func (l *ElfLoader) extractSymbols(f *elf.File) {
	syms, err := f.Symbols()
	if err != nil {
		// A stripped file has no symbol table; that is not a load error.
		return
	}

	for _, s := range syms {
		if s.Name == "" {
			continue
		}
		switch elf.ST_TYPE(s.Info) {
		case elf.STT_FUNC, elf.STT_OBJECT:
			l.symbols.Insert(Symbol{Name: s.Name, Addr: s.Value, Size: s.Size})
		}
	}
}

// ElfBounds returns the minimum and maximum addresses covered by the
// loadable segments of the given file without touching simulated memory.
func ElfBounds(path string) (minAddr, maxAddr uint64, err error) {
	f, err := elf.Open(path)
	if err != nil {
		return 0, 0, fmt.Errorf("%s: %w", path, err)
	}
	defer f.Close()

	found := false
	for _, p := range f.Progs {
		if p.Type != elf.PT_LOAD || p.Memsz == 0 {
			continue
		}
		addr := segmentAddr(p)
		if !found || addr < minAddr {
			minAddr = addr
		}
		if last := addr + p.Memsz - 1; !found || last > maxAddr {
			maxAddr = last
		}
		found = true
	}

	if !found {
		return 0, 0, fmt.Errorf("%s: no loadable segments", path)
	}
	return minAddr, maxAddr, nil
}

// ElfFlags reports the class and machine of the given ELF file without
// touching simulated memory.
func ElfFlags(path string) (is32, is64, isRiscv bool, err error) {
	f, err := elf.Open(path)
	if err != nil {
		return false, false, false, fmt.Errorf("%s: %w", path, err)
	}
	defer f.Close()

	return f.Class == elf.ELFCLASS32,
		f.Class == elf.ELFCLASS64,
		f.Machine == elf.EM_RISCV,
		nil
}

// ElfHasSymbol reports whether the given ELF file defines a symbol with
// the given name.
func ElfHasSymbol(path, name string) (bool, error) {
	f, err := elf.Open(path)
	if err != nil {
		return false, fmt.Errorf("%s: %w", path, err)
	}
	defer f.Close()

	syms, err := f.Symbols()
	if err != nil {
		if errors.Is(err, elf.ErrNoSymbols) {
			return false, nil
		}
		return false, fmt.Errorf("%s: %w", path, err)
	}

	for _, s := range syms {
		if s.Name == name {
			return true, nil
		}
	}
	return false, nil
}
