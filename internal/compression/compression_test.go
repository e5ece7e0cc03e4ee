package compression

import (
	"bytes"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func repeatedPayload(n int) []byte {
	return bytes.Repeat([]byte("abcdefghij"), n)
}

func TestConfigValidate(t *testing.T) {
	cfg := DefaultConfig()
	require.NoError(t, cfg.Validate())

	bad := cfg
	bad.Algorithm = Type(99)
	assert.Error(t, bad.Validate())

	bad = cfg
	bad.MinSize = -1
	assert.Error(t, bad.Validate())
}

func TestCompressDecompressRoundTripEachAlgorithm(t *testing.T) {
	payload := repeatedPayload(500)

	for _, alg := range []Type{FastCompression, BalancedCompression, LZ4Compression} {
		t.Run(alg.String(), func(t *testing.T) {
			encoded, err := Compress(alg, payload, 3)
			require.NoError(t, err)

			decoded, err := DecompressWithSize(alg, encoded, len(payload))
			require.NoError(t, err)
			assert.Equal(t, payload, decoded)
		})
	}
}

func TestNoCompressionIsIdentity(t *testing.T) {
	payload := []byte("hello world")
	encoded, err := Compress(NoCompression, payload, 0)
	require.NoError(t, err)
	assert.Equal(t, payload, encoded)

	decoded, err := DecompressWithSize(NoCompression, encoded, len(payload))
	require.NoError(t, err)
	assert.Equal(t, payload, decoded)
}

func TestCompressorSkipsBelowMinSize(t *testing.T) {
	cfg := DefaultConfig()
	cfg.MinSize = 1024
	c := New(cfg)

	out, compressed := c.Compress([]byte("short"))
	assert.False(t, compressed)
	assert.Equal(t, []byte("short"), out)
	assert.Equal(t, uint64(1), c.Stats().Skipped)
}

func TestCompressorSkipsWhenDisabled(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Enabled = false
	c := New(cfg)

	payload := repeatedPayload(500)
	out, compressed := c.Compress(payload)
	assert.False(t, compressed)
	assert.Equal(t, payload, out)
}

func TestCompressorCompressesEligiblePayload(t *testing.T) {
	cfg := DefaultConfig()
	cfg.MinSize = 10
	c := New(cfg)

	payload := repeatedPayload(1000)
	out, compressed := c.Compress(payload)
	require.True(t, compressed)
	assert.Less(t, len(out), len(payload))
	assert.Equal(t, uint64(1), c.Stats().Compressed)

	decoded, err := c.Decompress(out, true, cfg.Algorithm, len(payload))
	require.NoError(t, err)
	assert.Equal(t, payload, decoded)
}

func TestCompressorDecompressPassesThroughWhenNotCompressed(t *testing.T) {
	c := New(DefaultConfig())
	data := []byte("raw bytes")
	out, err := c.Decompress(data, false, NoCompression, len(data))
	require.NoError(t, err)
	assert.Equal(t, data, out)
}

func TestStatsRatioAndSpaceSaved(t *testing.T) {
	s := Stats{BytesIn: 1000, BytesOut: 400}
	assert.InDelta(t, 0.4, s.Ratio(), 1e-9)
	assert.Equal(t, uint64(600), s.SpaceSaved())

	empty := Stats{}
	assert.Equal(t, float64(1), empty.Ratio())
}

func TestTypeString(t *testing.T) {
	assert.Equal(t, "none", NoCompression.String())
	assert.Equal(t, "fast", FastCompression.String())
	assert.Equal(t, "balanced", BalancedCompression.String())
	assert.Equal(t, "lz4", LZ4Compression.String())
	assert.Contains(t, Type(200).String(), "unknown")
}

func TestSetConfig(t *testing.T) {
	c := New(DefaultConfig())
	updated := DefaultConfig()
	updated.Level = 9
	c.SetConfig(updated)
	assert.Equal(t, 9, c.Config().Level)
}
