// Package routing encodes the parameters a randomness request hands to the
// attested function so that its reply can be addressed.
//
// The encoding is ASCII, comma-separated KEY=VALUE pairs:
//
//	PID=<program id>,REQUEST_KEY=<record address>
//
// Identities are base58. Unknown keys are ignored; a repeated key keeps its
// last value. Buffers may carry trailing NUL padding up to MaxLen.
package routing

import (
	"bytes"
	"fmt"
	"strings"

	"github.com/ruteri/attested-randomness/interfaces"
)

const (
	// MaxLen is the largest parameter buffer accepted.
	MaxLen = 512

	// KeyProgramID names the program the seed call is addressed to.
	KeyProgramID = "PID"
	// KeyRequestKey names the record the seed call writes to.
	KeyRequestKey = "REQUEST_KEY"
)

// Params are the decoded routing parameters.
type Params struct {
	ProgramID  interfaces.Identity
	RequestKey interfaces.Identity
}

// Encode renders the parameters.
func Encode(p Params) []byte {
	return []byte(fmt.Sprintf("%s=%s,%s=%s", KeyProgramID, p.ProgramID, KeyRequestKey, p.RequestKey))
}

// Decode parses a parameter buffer. Both keys are required and neither may
// be the zero identity.
func Decode(buf []byte) (Params, error) {
	if len(buf) > MaxLen {
		return Params{}, fmt.Errorf("%w: %d bytes exceeds %d", interfaces.ErrInvalidParams, len(buf), MaxLen)
	}
	buf = bytes.TrimRight(buf, "\x00")
	for _, c := range buf {
		if c > 0x7f {
			return Params{}, fmt.Errorf("%w: non-ASCII byte 0x%02x", interfaces.ErrInvalidParams, c)
		}
	}

	var p Params
	for _, pair := range strings.Split(string(buf), ",") {
		key, value, ok := strings.Cut(pair, "=")
		if !ok {
			continue
		}

		var dst *interfaces.Identity
		switch strings.TrimSpace(key) {
		case KeyProgramID:
			dst = &p.ProgramID
		case KeyRequestKey:
			dst = &p.RequestKey
		default:
			continue
		}

		id, err := interfaces.NewIdentityFromString(strings.TrimSpace(value))
		if err != nil {
			return Params{}, fmt.Errorf("%w: %s: %v", interfaces.ErrInvalidParams, key, err)
		}
		*dst = id
	}

	if p.ProgramID.IsZero() {
		return Params{}, fmt.Errorf("%w: %s cannot be undefined", interfaces.ErrInvalidParams, KeyProgramID)
	}
	if p.RequestKey.IsZero() {
		return Params{}, fmt.Errorf("%w: %s cannot be undefined", interfaces.ErrInvalidParams, KeyRequestKey)
	}
	return p, nil
}
