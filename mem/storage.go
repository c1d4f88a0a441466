package mem

import "encoding/binary"

// A storage keeps the contents of the simulated physical memory.
//
// The storage manages its bytes in fixed-size units and allocates a unit
// only when it is first written. Untouched units read as zero without ever
// being allocated, which lets a multi-GiB simulated memory run in a small
// host footprint.
type storage struct {
	unitSize uint64
	capacity uint64
	units    map[uint64][]byte
}

func newStorage(capacity uint64) *storage {
	return &storage{
		unitSize: 4096,
		capacity: capacity,
		units:    make(map[uint64][]byte),
	}
}

func (s *storage) parseAddress(addr uint64) (baseAddr, inUnitAddr uint64) {
	inUnitAddr = addr % s.unitSize
	baseAddr = addr - inUnitAddr
	return
}

func (s *storage) unitForWrite(addr uint64) []byte {
	baseAddr, _ := s.parseAddress(addr)
	unit, ok := s.units[baseAddr]
	if !ok {
		unit = make([]byte, s.unitSize)
		s.units[baseAddr] = unit
	}
	return unit
}

// readBytes fills buf with the bytes starting at addr. It reports false if
// the range extends beyond the storage capacity.
func (s *storage) readBytes(addr uint64, buf []byte) bool {
	length := uint64(len(buf))
	if addr >= s.capacity || addr+length > s.capacity {
		return false
	}

	currAddr := addr
	offset := uint64(0)
	for offset < length {
		baseAddr, inUnitAddr := s.parseAddress(currAddr)
		n := s.unitSize - inUnitAddr
		if left := length - offset; left < n {
			n = left
		}

		if unit, ok := s.units[baseAddr]; ok {
			copy(buf[offset:offset+n], unit[inUnitAddr:inUnitAddr+n])
		} else {
			for i := offset; i < offset+n; i++ {
				buf[i] = 0
			}
		}

		offset += n
		currAddr += n
	}

	return true
}

// writeBytes stores data starting at addr. It reports false if the range
// extends beyond the storage capacity.
func (s *storage) writeBytes(addr uint64, data []byte) bool {
	length := uint64(len(data))
	if addr >= s.capacity || addr+length > s.capacity {
		return false
	}

	currAddr := addr
	offset := uint64(0)
	for offset < length {
		unit := s.unitForWrite(currAddr)
		_, inUnitAddr := s.parseAddress(currAddr)
		n := s.unitSize - inUnitAddr
		if left := length - offset; left < n {
			n = left
		}

		copy(unit[inUnitAddr:inUnitAddr+n], data[offset:offset+n])

		offset += n
		currAddr += n
	}

	return true
}

// readUint reads a little-endian integer of the given byte width.
func (s *storage) readUint(addr uint64, width uint64) (uint64, bool) {
	var buf [8]byte
	if !s.readBytes(addr, buf[:width]) {
		return 0, false
	}

	switch width {
	case 1:
		return uint64(buf[0]), true
	case 2:
		return uint64(binary.LittleEndian.Uint16(buf[:2])), true
	case 4:
		return uint64(binary.LittleEndian.Uint32(buf[:4])), true
	case 8:
		return binary.LittleEndian.Uint64(buf[:8]), true
	}
	return 0, false
}

// writeUint stores a little-endian integer of the given byte width.
func (s *storage) writeUint(addr uint64, width uint64, value uint64) bool {
	var buf [8]byte
	switch width {
	case 1:
		buf[0] = byte(value)
	case 2:
		binary.LittleEndian.PutUint16(buf[:2], uint16(value))
	case 4:
		binary.LittleEndian.PutUint32(buf[:4], uint32(value))
	case 8:
		binary.LittleEndian.PutUint64(buf[:8], value)
	default:
		return false
	}
	return s.writeBytes(addr, buf[:width])
}
