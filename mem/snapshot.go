package mem

import (
	"bufio"
	"bytes"
	"encoding/binary"
	"fmt"
	"io"
	"os"
)

// Snapshot file layout: a little-endian header {magic, version, memory
// size, block count} followed by {begin, end, raw bytes} per block.
var snapshotMagic = [4]byte{'W', 'H', 'M', 'S'}

const snapshotVersion = uint32(1)

const snapshotChunkSize = 64 * KB

type snapshotHeader struct {
	Magic      [4]byte
	Version    uint32
	Size       uint64
	BlockCount uint32
}

// SaveSnapshot writes the given [begin, end) byte ranges of the memory to
// a binary file, in input order.
func (m *Memory) SaveSnapshot(path string, blocks [][2]uint64) error {
	for i, b := range blocks {
		if b[0] >= b[1] || b[1] > m.size {
			return fmt.Errorf("snapshot block %d [0x%x, 0x%x) is invalid",
				i, b[0], b[1])
		}
	}

	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("snapshot save: %w", err)
	}
	defer f.Close()

	w := bufio.NewWriter(f)

	hdr := snapshotHeader{
		Magic:      snapshotMagic,
		Version:    snapshotVersion,
		Size:       m.size,
		BlockCount: uint32(len(blocks)),
	}
	if err := binary.Write(w, binary.LittleEndian, hdr); err != nil {
		return fmt.Errorf("snapshot save: %w", err)
	}

	buf := make([]byte, snapshotChunkSize)
	for _, b := range blocks {
		if err := binary.Write(w, binary.LittleEndian, b[0]); err != nil {
			return fmt.Errorf("snapshot save: %w", err)
		}
		if err := binary.Write(w, binary.LittleEndian, b[1]); err != nil {
			return fmt.Errorf("snapshot save: %w", err)
		}

		for addr := b[0]; addr < b[1]; addr += snapshotChunkSize {
			n := uint64(snapshotChunkSize)
			if left := b[1] - addr; left < n {
				n = left
			}
			m.store.readBytes(addr, buf[:n])
			if _, err := w.Write(buf[:n]); err != nil {
				return fmt.Errorf("snapshot save: %w", err)
			}
		}
	}

	return w.Flush()
}

// LoadSnapshot restores memory contents from a snapshot file. The bytes go
// through the poke path, so they bypass write permission but respect
// mapping. When blocks is non-empty, the file's block list must match it.
//
// Bytes that cannot be poked fail the load when the unmapped check is
// enabled; otherwise they are skipped and counted in the returned value.
func (m *Memory) LoadSnapshot(path string, blocks [][2]uint64) (int, error) {
	f, err := os.Open(path)
	if err != nil {
		return 0, fmt.Errorf("snapshot load: %w", err)
	}
	defer f.Close()

	r := bufio.NewReader(f)

	var hdr snapshotHeader
	if err := binary.Read(r, binary.LittleEndian, &hdr); err != nil {
		return 0, fmt.Errorf("snapshot load: bad header: %w", err)
	}
	if !bytes.Equal(hdr.Magic[:], snapshotMagic[:]) {
		return 0, fmt.Errorf("snapshot load: bad magic %q", hdr.Magic)
	}
	if hdr.Version != snapshotVersion {
		return 0, fmt.Errorf("snapshot load: version %d, want %d",
			hdr.Version, snapshotVersion)
	}
	if hdr.Size > m.size {
		return 0, fmt.Errorf(
			"snapshot load: snapshot memory size 0x%x exceeds memory size 0x%x",
			hdr.Size, m.size)
	}
	if len(blocks) > 0 && uint32(len(blocks)) != hdr.BlockCount {
		return 0, fmt.Errorf("snapshot load: file has %d blocks, want %d",
			hdr.BlockCount, len(blocks))
	}

	skipped := 0
	buf := make([]byte, snapshotChunkSize)

	for i := uint32(0); i < hdr.BlockCount; i++ {
		var begin, end uint64
		if err := binary.Read(r, binary.LittleEndian, &begin); err != nil {
			return skipped, fmt.Errorf("snapshot load: block %d: %w", i, err)
		}
		if err := binary.Read(r, binary.LittleEndian, &end); err != nil {
			return skipped, fmt.Errorf("snapshot load: block %d: %w", i, err)
		}
		if begin >= end || end > m.size {
			return skipped, fmt.Errorf(
				"snapshot load: block %d [0x%x, 0x%x) is invalid", i, begin, end)
		}
		if len(blocks) > 0 && blocks[i] != [2]uint64{begin, end} {
			return skipped, fmt.Errorf(
				"snapshot load: block %d is [0x%x, 0x%x), want [0x%x, 0x%x)",
				i, begin, end, blocks[i][0], blocks[i][1])
		}

		for addr := begin; addr < end; addr += snapshotChunkSize {
			n := uint64(snapshotChunkSize)
			if left := end - addr; left < n {
				n = left
			}
			if _, err := io.ReadFull(r, buf[:n]); err != nil {
				return skipped, fmt.Errorf("snapshot load: block %d: %w", i, err)
			}

			for off := uint64(0); off < n; off++ {
				if m.poke(addr+off, 1, uint64(buf[off])) {
					continue
				}
				if m.checkUnmapped {
					return skipped, fmt.Errorf(
						"snapshot load: block %d: cannot restore byte at 0x%x",
						i, addr+off)
				}
				skipped++
			}
		}
	}

	return skipped, nil
}
