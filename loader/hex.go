package loader

import (
	"bufio"
	"fmt"
	"os"
	"strconv"
	"strings"

	"github.com/luckidea/SweRV-ISS/mem"
)

// A HexLoader reads line-oriented HEX program files into a simulated
// memory.
//
// A line holds either an @address directive setting the byte-write cursor,
// or whitespace-separated byte tokens of exactly two hex digits written at
// the cursor. A # starts a comment running to the end of the line.
type HexLoader struct {
	mem  *mem.Memory
	core mem.CoreServices
}

// NewHexLoader creates a loader that populates m.
func NewHexLoader(m *mem.Memory) *HexLoader {
	return &HexLoader{mem: m, core: m.CoreServices()}
}

func parseHexAddr(tok string) (uint64, error) {
	s := strings.TrimPrefix(tok, "@")
	s = strings.TrimPrefix(strings.TrimPrefix(s, "0x"), "0X")
	if s == "" {
		return 0, fmt.Errorf("bad address directive %q", tok)
	}
	addr, err := strconv.ParseUint(s, 16, 64)
	if err != nil {
		return 0, fmt.Errorf("bad address directive %q", tok)
	}
	return addr, nil
}

func isHexDigit(c byte) bool {
	return c >= '0' && c <= '9' || c >= 'a' && c <= 'f' || c >= 'A' && c <= 'F'
}

// Load reads the given HEX file into memory through the poke path. Any
// malformed token, out-of-range cursor, or byte landing on an unmapped
// page fails the whole load with a diagnostic naming the file and line.
func (l *HexLoader) Load(path string) error {
	f, err := os.Open(path)
	if err != nil {
		return fmt.Errorf("hex load: %w", err)
	}
	defer f.Close()

	var cursor uint64
	lineNo := 0

	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		lineNo++
		line := scanner.Text()

		if ix := strings.IndexByte(line, '#'); ix >= 0 {
			line = line[:ix]
		}

		for _, tok := range strings.Fields(line) {
			if strings.HasPrefix(tok, "@") {
				addr, err := parseHexAddr(tok)
				if err != nil {
					return fmt.Errorf("%s:%d: %w", path, lineNo, err)
				}
				cursor = addr
				continue
			}

			if len(tok) != 2 || !isHexDigit(tok[0]) || !isHexDigit(tok[1]) {
				return fmt.Errorf("%s:%d: malformed byte token %q",
					path, lineNo, tok)
			}
			b, _ := strconv.ParseUint(tok, 16, 8)

			if cursor >= l.mem.Size() {
				return fmt.Errorf("%s:%d: address 0x%x is out of range",
					path, lineNo, cursor)
			}
			if !l.core.PokeByte(cursor, uint8(b)) {
				return fmt.Errorf("%s:%d: address 0x%x is not mapped",
					path, lineNo, cursor)
			}
			cursor++
		}
	}

	if err := scanner.Err(); err != nil {
		return fmt.Errorf("hex load: %s: %w", path, err)
	}
	return nil
}
