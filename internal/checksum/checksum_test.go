package checksum

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestComputeVerifyRoundTripCRC32C(t *testing.T) {
	data := []byte("the quick brown fox jumps over the lazy dog")
	sum := Compute(TypeCRC32C, data)

	assert.Equal(t, TypeCRC32C, AlgorithmOf(sum))
	assert.True(t, Verify(sum, data))
	assert.False(t, Verify(sum, []byte("tampered")))
}

func TestComputeVerifyRoundTripXXH3(t *testing.T) {
	data := []byte("block-managed single-file content cache")
	sum := Compute(TypeXXH3, data)

	assert.Equal(t, TypeXXH3, AlgorithmOf(sum))
	assert.True(t, Verify(sum, data))
	assert.False(t, Verify(sum, []byte("tampered")))
}

func TestComputeTypeNoneYieldsZero(t *testing.T) {
	assert.Equal(t, uint64(0), Compute(TypeNone, []byte("anything")))
}

func TestVerifyTypeNoneAlwaysPasses(t *testing.T) {
	assert.True(t, Verify(0, []byte("anything")))
}

func TestSentinelEncodingIsolatesAlgorithmTag(t *testing.T) {
	crcSum := Compute(TypeCRC32C, []byte("a"))
	xxhSum := Compute(TypeXXH3, []byte("a"))

	assert.NotEqual(t, crcSum>>sentinelShift, xxhSum>>sentinelShift)
	assert.LessOrEqual(t, crcSum&hashMask, hashMask)
	assert.LessOrEqual(t, xxhSum&hashMask, hashMask)
}

func TestTypeString(t *testing.T) {
	assert.Equal(t, "none", TypeNone.String())
	assert.Equal(t, "crc32c", TypeCRC32C.String())
	assert.Equal(t, "xxh3", TypeXXH3.String())
	assert.Equal(t, "unknown", Type(99).String())
}

func TestMaskUnmaskRoundTrip(t *testing.T) {
	crc := Value([]byte("payload"))
	masked := Mask(crc)
	assert.Equal(t, crc, Unmask(masked))
}
