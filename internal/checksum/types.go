// Package checksum implements the cache's on-disk checksum algorithms and
// the sentinel encoding that lets a single 64-bit field on DiskLocation
// self-describe which algorithm produced it.
package checksum

// Type identifies a checksum algorithm.
type Type uint8

const (
	// TypeNone means no checksum is computed (not recommended).
	TypeNone Type = 0
	// TypeCRC32C is CRC32 with the Castagnoli polynomial, kept for on-disk
	// compatibility with legacy 32-bit checksum fields.
	TypeCRC32C Type = 1
	// TypeXXH3 is the default: a fast, collision-resistant 64-bit hash.
	TypeXXH3 Type = 2
)

// String returns a human-readable algorithm name.
func (t Type) String() string {
	switch t {
	case TypeNone:
		return "none"
	case TypeCRC32C:
		return "crc32c"
	case TypeXXH3:
		return "xxh3"
	default:
		return "unknown"
	}
}

// sentinelShift places the algorithm tag in the top byte of the 64-bit
// checksum field, leaving 56 bits for the hash value itself. CRC32C values
// fit entirely in 32 bits so they are zero-extended; XXH3 values are
// truncated to 56 bits, which is still more than sufficient to detect
// accidental corruption (this is not a cryptographic guarantee).
const sentinelShift = 56

const hashMask = (uint64(1) << sentinelShift) - 1

// Compute returns the encoded checksum (sentinel + hash) for data using the
// given algorithm.
func Compute(t Type, data []byte) uint64 {
	switch t {
	case TypeNone:
		return 0
	case TypeCRC32C:
		return encode(t, uint64(MaskedValue(data)))
	case TypeXXH3:
		return encode(t, XXH3_64bits(data)&hashMask)
	default:
		return 0
	}
}

// Verify recomputes the checksum of data using the algorithm encoded in
// stored, and reports whether it matches.
func Verify(stored uint64, data []byte) bool {
	t := AlgorithmOf(stored)
	if t == TypeNone {
		return true
	}
	return Compute(t, data) == stored
}

// AlgorithmOf extracts the algorithm tag a checksum value was encoded with.
func AlgorithmOf(stored uint64) Type {
	return Type(stored >> sentinelShift)
}

func encode(t Type, hash uint64) uint64 {
	return (uint64(t) << sentinelShift) | (hash & hashMask)
}
