package oracle

import (
	"bytes"
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func fixedSampler(raw ...byte) *Sampler {
	return NewSampler(bytes.NewReader(raw))
}

func TestSampleEqualBounds(t *testing.T) {
	s := NewSampler(bytes.NewReader(nil))
	for _, v := range []uint32{0, 1, 100, math.MaxUint32} {
		got, err := s.Sample(v, v)
		require.NoError(t, err)
		assert.Equal(t, v, got)
	}
}

func TestSampleReduction(t *testing.T) {
	// 0x0000012c = 300; 300 % 101 + 100 = 198
	got, err := fixedSampler(0x2c, 0x01, 0, 0).Sample(100, 200)
	require.NoError(t, err)
	assert.Equal(t, uint32(198), got)

	got, err = fixedSampler(0xff, 0xff, 0xff, 0xff).Sample(0, math.MaxUint32)
	require.NoError(t, err)
	assert.Equal(t, uint32(math.MaxUint32), got)

	_, err = fixedSampler(1, 2).Sample(0, 9)
	assert.Error(t, err)
}

func TestSampleIsOrderIndependent(t *testing.T) {
	raw := []byte{0xde, 0xad, 0xbe, 0xef}
	a, err := fixedSampler(raw...).Sample(50, 100)
	require.NoError(t, err)
	b, err := fixedSampler(raw...).Sample(100, 50)
	require.NoError(t, err)
	assert.Equal(t, a, b)
	assert.GreaterOrEqual(t, a, uint32(50))
	assert.LessOrEqual(t, a, uint32(100))
}

func TestSampleDistribution(t *testing.T) {
	s := NewSampler(nil)
	counts := make([]int, 10)
	for i := 0; i < 1000; i++ {
		v, err := s.Sample(0, 9)
		require.NoError(t, err)
		require.Less(t, v, uint32(10))
		counts[v]++
	}
	for v, count := range counts {
		assert.Positive(t, count, "value %d never drawn", v)
	}
}

func TestSampleModuloBias(t *testing.T) {
	// 2^32 = 3 * 1431655765 + 1: residue 0 has one extra preimage, so
	// Sample(0, 2) is not uniform.
	assert.True(t, HasModuloBias(0, 2))
	got, err := fixedSampler(0xff, 0xff, 0xff, 0xff).Sample(0, 2)
	require.NoError(t, err)
	assert.Equal(t, uint32(0), got)

	assert.True(t, HasModuloBias(DefaultMin, DefaultMax))
	assert.True(t, HasModuloBias(9, 0))
	assert.False(t, HasModuloBias(0, 255))
	assert.False(t, HasModuloBias(0, math.MaxUint32))
	assert.False(t, HasModuloBias(7, 7))
}
