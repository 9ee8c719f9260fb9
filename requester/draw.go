package requester

import (
	"crypto/ed25519"
	"encoding/json"
	"fmt"
	"os"

	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/ruteri/attested-randomness/cryptoutils"
	"github.com/ruteri/attested-randomness/interfaces"
	"github.com/ruteri/attested-randomness/record"
)

// Draw is the requester's handle on one randomness request. It holds the
// record key, which signs the seed in the signature strategy.
type Draw struct {
	Record          interfaces.Identity
	RecordKey       ed25519.PrivateKey
	ExternalRequest interfaces.Identity
	Function        interfaces.Identity
	Strategy        record.Strategy
	// Commitment and SecretID are set for the preimage strategy. SecretID
	// locates the sealed secret in the secret store.
	Commitment [32]byte
	SecretID   interfaces.ContentID
}

type drawJSON struct {
	Record          interfaces.Identity   `json:"record"`
	RecordKey       string                `json:"record_key"`
	ExternalRequest interfaces.Identity   `json:"external_request"`
	Function        interfaces.Identity   `json:"function"`
	Strategy        string                `json:"strategy"`
	Commitment      hexutil.Bytes         `json:"commitment,omitempty"`
	SecretID        *interfaces.ContentID `json:"secret_id,omitempty"`
}

func (d *Draw) MarshalJSON() ([]byte, error) {
	keyPEM, err := cryptoutils.EncodePrivateKeyPEM(d.RecordKey)
	if err != nil {
		return nil, fmt.Errorf("encoding record key: %w", err)
	}
	v := drawJSON{
		Record:          d.Record,
		RecordKey:       string(keyPEM),
		ExternalRequest: d.ExternalRequest,
		Function:        d.Function,
		Strategy:        d.Strategy.String(),
	}
	if d.Strategy == record.StrategyPreimage {
		v.Commitment = d.Commitment[:]
		v.SecretID = &d.SecretID
	}
	return json.Marshal(v)
}

func (d *Draw) UnmarshalJSON(data []byte) error {
	var v drawJSON
	if err := json.Unmarshal(data, &v); err != nil {
		return err
	}

	key, err := cryptoutils.DecodePrivateKeyPEM([]byte(v.RecordKey))
	if err != nil {
		return fmt.Errorf("%w: %w", ErrInvalidDraw, err)
	}
	if cryptoutils.IdentityOf(key) != v.Record {
		return fmt.Errorf("%w: record key does not match record %s", ErrInvalidDraw, v.Record)
	}
	strategy, err := record.ParseStrategy(v.Strategy)
	if err != nil {
		return fmt.Errorf("%w: %w", ErrInvalidDraw, err)
	}

	*d = Draw{
		Record:          v.Record,
		RecordKey:       key,
		ExternalRequest: v.ExternalRequest,
		Function:        v.Function,
		Strategy:        strategy,
	}
	if strategy == record.StrategyPreimage {
		if len(v.Commitment) != len(d.Commitment) {
			return fmt.Errorf("%w: commitment of %d bytes", ErrInvalidDraw, len(v.Commitment))
		}
		copy(d.Commitment[:], v.Commitment)
		if v.SecretID == nil {
			return fmt.Errorf("%w: missing secret id", ErrInvalidDraw)
		}
		d.SecretID = *v.SecretID
	}
	return nil
}

// SaveDraw writes the draw readable only by the owner.
func SaveDraw(path string, d *Draw) error {
	data, err := json.MarshalIndent(d, "", "  ")
	if err != nil {
		return err
	}
	return os.WriteFile(path, data, 0o600)
}

// LoadDraw reads a draw written by SaveDraw.
func LoadDraw(path string) (*Draw, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	var d Draw
	if err := json.Unmarshal(data, &d); err != nil {
		return nil, err
	}
	return &d, nil
}
