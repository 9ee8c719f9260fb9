package oracle

import (
	"crypto/rand"
	"encoding/binary"
	"fmt"
	"io"
)

// Sampler draws integers from an enclave randomness source.
type Sampler struct {
	source io.Reader
}

// NewSampler reads from source, or crypto/rand when source is nil.
func NewSampler(source io.Reader) *Sampler {
	if source == nil {
		source = rand.Reader
	}
	return &Sampler{source: source}
}

// Sample returns an integer in the inclusive range between min and max, in
// either order. Four little-endian bytes are reduced modulo the window size,
// which is biased towards low values unless the window divides 2^32; see
// HasModuloBias.
func (s *Sampler) Sample(min, max uint32) (uint32, error) {
	if min == max {
		return min, nil
	}
	if min > max {
		min, max = max, min
	}

	var buf [4]byte
	if _, err := io.ReadFull(s.source, buf[:]); err != nil {
		return 0, fmt.Errorf("reading randomness: %w", err)
	}
	raw := binary.LittleEndian.Uint32(buf[:])

	window := uint64(max) - uint64(min) + 1
	if window == 1<<32 {
		return raw, nil
	}
	return uint32(uint64(raw)%window) + min, nil
}

// HasModuloBias reports whether Sample(min, max) is not exactly uniform.
func HasModuloBias(min, max uint32) bool {
	if min > max {
		min, max = max, min
	}
	window := uint64(max) - uint64(min) + 1
	return (1<<32)%window != 0
}
