package directory

import (
	"encoding/binary"
	"fmt"
	"hash/crc32"
)

// Directory image wire format (little-endian):
//
//	magic     uint32
//	version   uint32
//	count     uint32
//	entries   [count]imageEntry
//	crc32     uint32  // IEEE CRC-32 over everything preceding it
//
// imageEntry:
//
//	keyLen         uint16
//	key            [keyLen]byte
//	blockOffset    uint64
//	blockCount     uint64
//	payloadLength  uint32
//	originalLength uint32
//	checksum       uint64
//	timestamp      int64
//	compressed     uint8
//	algorithm      uint8

const (
	imageMagic   uint32 = 0x44495230 // "DIR0"
	imageVersion uint32 = 1
)

// ErrCorruptImage means the directory image failed its CRC-32 check or is
// otherwise malformed.
type ErrCorruptImage struct {
	Reason string
}

func (e *ErrCorruptImage) Error() string {
	return fmt.Sprintf("directory: corrupt image: %s", e.Reason)
}

// Save serializes the directory into its on-disk image.
func (d *Directory) Save() []byte {
	d.mu.RLock()
	defer d.mu.RUnlock()

	// Estimate capacity: header + trailer + per-entry fixed cost.
	const entryFixed = 2 + 8 + 8 + 4 + 4 + 8 + 8 + 1 + 1
	buf := make([]byte, 0, 12+len(d.table)*(entryFixed+16))

	var hdr [12]byte
	binary.LittleEndian.PutUint32(hdr[0:4], imageMagic)
	binary.LittleEndian.PutUint32(hdr[4:8], imageVersion)
	binary.LittleEndian.PutUint32(hdr[8:12], uint32(len(d.table)))
	buf = append(buf, hdr[:]...)

	for k, e := range d.table {
		var fixed [entryFixed]byte
		binary.LittleEndian.PutUint16(fixed[0:2], uint16(len(k)))
		binary.LittleEndian.PutUint64(fixed[2:10], e.loc.BlockOffset)
		binary.LittleEndian.PutUint64(fixed[10:18], e.loc.BlockCount)
		binary.LittleEndian.PutUint32(fixed[18:22], e.loc.PayloadLength)
		binary.LittleEndian.PutUint32(fixed[22:26], e.loc.OriginalLength)
		binary.LittleEndian.PutUint64(fixed[26:34], e.loc.Checksum)
		binary.LittleEndian.PutUint64(fixed[34:42], uint64(e.loc.Timestamp))
		if e.loc.Compressed {
			fixed[42] = 1
		}
		fixed[43] = e.loc.Algorithm

		buf = append(buf, fixed[:2]...)
		buf = append(buf, k...)
		buf = append(buf, fixed[2:]...)
	}

	sum := crc32.ChecksumIEEE(buf)
	var trailer [4]byte
	binary.LittleEndian.PutUint32(trailer[:], sum)
	return append(buf, trailer[:]...)
}

// Load rebuilds a Directory from a previously-saved image. buf may be longer
// than the image (the engine passes the whole metadata region): the CRC-32
// trailer is read right after the last entry and any bytes past it are
// ignored. The recency order of loaded entries is insertion order (oldest
// entry in the image first), since the original access-time ordering is not
// preserved across restarts.
func Load(buf []byte) (*Directory, error) {
	if len(buf) < 16 {
		return nil, &ErrCorruptImage{Reason: "buffer too small"}
	}

	body := buf
	magic := binary.LittleEndian.Uint32(body[0:4])
	if magic != imageMagic {
		return nil, &ErrCorruptImage{Reason: "bad magic"}
	}
	version := binary.LittleEndian.Uint32(body[4:8])
	if version != imageVersion {
		return nil, &ErrCorruptImage{Reason: fmt.Sprintf("unsupported version %d", version)}
	}
	count := binary.LittleEndian.Uint32(body[8:12])

	d := New()
	off := 12
	for i := uint32(0); i < count; i++ {
		if off+2 > len(body) {
			return nil, &ErrCorruptImage{Reason: "truncated entry header"}
		}
		keyLen := int(binary.LittleEndian.Uint16(body[off : off+2]))
		off += 2

		if off+keyLen > len(body) {
			return nil, &ErrCorruptImage{Reason: "truncated key"}
		}
		key := string(body[off : off+keyLen])
		off += keyLen

		const fixedRest = 8 + 8 + 4 + 4 + 8 + 8 + 1 + 1
		if off+fixedRest > len(body) {
			return nil, &ErrCorruptImage{Reason: "truncated entry body"}
		}
		loc := DiskLocation{
			BlockOffset:    binary.LittleEndian.Uint64(body[off : off+8]),
			BlockCount:     binary.LittleEndian.Uint64(body[off+8 : off+16]),
			PayloadLength:  binary.LittleEndian.Uint32(body[off+16 : off+20]),
			OriginalLength: binary.LittleEndian.Uint32(body[off+20 : off+24]),
			Checksum:       binary.LittleEndian.Uint64(body[off+24 : off+32]),
			Timestamp:      int64(binary.LittleEndian.Uint64(body[off+32 : off+40])),
			Compressed:     body[off+40] != 0,
			Algorithm:      body[off+41],
		}
		off += fixedRest

		d.Insert(key, loc)
	}

	if off+4 > len(body) {
		return nil, &ErrCorruptImage{Reason: "truncated trailer"}
	}
	want := binary.LittleEndian.Uint32(body[off : off+4])
	if got := crc32.ChecksumIEEE(body[:off]); got != want {
		return nil, &ErrCorruptImage{Reason: fmt.Sprintf("crc mismatch: got %#x want %#x", got, want)}
	}

	return d, nil
}
