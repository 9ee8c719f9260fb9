package functions

import (
	"encoding/binary"
	"errors"
	"fmt"

	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/ruteri/attested-randomness/cryptoutils"
	"github.com/ruteri/attested-randomness/interfaces"
	"github.com/ruteri/attested-randomness/ledger"
	"github.com/ruteri/attested-randomness/routing"
)

const (
	// DefaultExpirationSlots is the expiration window applied when a request
	// does not set one.
	DefaultExpirationSlots uint64 = 2250
	// MinExpirationSlots is the shortest accepted expiration window.
	MinExpirationSlots uint64 = 150

	// FunctionSize is the encoded size of a Function account.
	FunctionSize = 8 + 32 + 32 + 32 + 8 + 8
	// RequestSize is the encoded size of a Request account.
	RequestSize = 8 + 32 + 32 + 32 + 1 + 8*5 + 2 + routing.MaxLen
)

var (
	functionDiscriminator = ledger.AccountDiscriminator("FunctionAccount")
	requestDiscriminator  = ledger.AccountDiscriminator("FunctionRequestAccount")

	// ErrInvalidAccount is returned for accounts that do not decode.
	ErrInvalidAccount = errors.New("invalid functions account")
)

// Function is an attested function: code identified by its measurement and
// the enclave key currently allowed to act for it.
type Function struct {
	Authority          interfaces.Identity     `json:"authority"`
	Measurement        cryptoutils.Measurement `json:"measurement"`
	EnclaveSigner      interfaces.Identity     `json:"enclave_signer"`
	SignerRegisteredAt int64                   `json:"signer_registered_at"`
	CreatedAt          int64                   `json:"created_at"`
}

func (f *Function) Encode() []byte {
	buf := make([]byte, 0, FunctionSize)
	buf = append(buf, functionDiscriminator[:]...)
	buf = append(buf, f.Authority[:]...)
	buf = append(buf, f.Measurement[:]...)
	buf = append(buf, f.EnclaveSigner[:]...)
	buf = binary.LittleEndian.AppendUint64(buf, uint64(f.SignerRegisteredAt))
	buf = binary.LittleEndian.AppendUint64(buf, uint64(f.CreatedAt))
	return buf
}

func DecodeFunction(data []byte) (*Function, error) {
	if len(data) != FunctionSize || [8]byte(data[:8]) != functionDiscriminator {
		return nil, fmt.Errorf("%w: not a function account", ErrInvalidAccount)
	}
	f := &Function{}
	copy(f.Authority[:], data[8:40])
	copy(f.Measurement[:], data[40:72])
	copy(f.EnclaveSigner[:], data[72:104])
	f.SignerRegisteredAt = int64(binary.LittleEndian.Uint64(data[104:112]))
	f.CreatedAt = int64(binary.LittleEndian.Uint64(data[112:120]))
	return f, nil
}

// RequestStatus is the lifecycle of a function request.
type RequestStatus uint8

const (
	RequestNone RequestStatus = iota
	RequestPending
	RequestExpired
)

func (s RequestStatus) String() string {
	switch s {
	case RequestPending:
		return "pending"
	case RequestExpired:
		return "expired"
	default:
		return "none"
	}
}

func (s RequestStatus) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}

func (s *RequestStatus) UnmarshalText(text []byte) error {
	switch string(text) {
	case "pending":
		*s = RequestPending
	case "expired":
		*s = RequestExpired
	case "none":
		*s = RequestNone
	default:
		return fmt.Errorf("unknown request status %q", text)
	}
	return nil
}

// Request asks a function to run once with the given parameters.
type Request struct {
	Function              interfaces.Identity `json:"function"`
	Authority             interfaces.Identity `json:"authority"`
	Payer                 interfaces.Identity `json:"payer"`
	Status                RequestStatus       `json:"status"`
	Bounty                uint64              `json:"bounty"`
	CreatedSlot           uint64              `json:"created_slot"`
	ExpirationSlot        uint64              `json:"expiration_slot"`
	GarbageCollectionSlot uint64              `json:"garbage_collection_slot"`
	ValidAfterSlot        uint64              `json:"valid_after_slot"`
	Params                hexutil.Bytes       `json:"params"`
}

// StatusAt reports the request status as of slot.
func (r *Request) StatusAt(slot uint64) RequestStatus {
	if r.Status == RequestPending && slot > r.ExpirationSlot {
		return RequestExpired
	}
	return r.Status
}

// Runnable reports whether an oracle may act on the request at slot.
func (r *Request) Runnable(slot uint64) bool {
	return r.StatusAt(slot) == RequestPending && slot >= r.ValidAfterSlot
}

func (r *Request) Encode() []byte {
	buf := make([]byte, 0, RequestSize)
	buf = append(buf, requestDiscriminator[:]...)
	buf = append(buf, r.Function[:]...)
	buf = append(buf, r.Authority[:]...)
	buf = append(buf, r.Payer[:]...)
	buf = append(buf, byte(r.Status))
	buf = binary.LittleEndian.AppendUint64(buf, r.Bounty)
	buf = binary.LittleEndian.AppendUint64(buf, r.CreatedSlot)
	buf = binary.LittleEndian.AppendUint64(buf, r.ExpirationSlot)
	buf = binary.LittleEndian.AppendUint64(buf, r.GarbageCollectionSlot)
	buf = binary.LittleEndian.AppendUint64(buf, r.ValidAfterSlot)
	buf = binary.LittleEndian.AppendUint16(buf, uint16(len(r.Params)))
	buf = append(buf, r.Params...)
	return append(buf, make([]byte, RequestSize-len(buf))...)
}

func DecodeRequest(data []byte) (*Request, error) {
	if len(data) != RequestSize || [8]byte(data[:8]) != requestDiscriminator {
		return nil, fmt.Errorf("%w: not a request account", ErrInvalidAccount)
	}
	r := &Request{}
	copy(r.Function[:], data[8:40])
	copy(r.Authority[:], data[40:72])
	copy(r.Payer[:], data[72:104])
	r.Status = RequestStatus(data[104])
	off := 105
	for _, field := range []*uint64{&r.Bounty, &r.CreatedSlot, &r.ExpirationSlot, &r.GarbageCollectionSlot, &r.ValidAfterSlot} {
		*field = binary.LittleEndian.Uint64(data[off : off+8])
		off += 8
	}
	n := int(binary.LittleEndian.Uint16(data[off : off+2]))
	off += 2
	if n > routing.MaxLen {
		return nil, fmt.Errorf("%w: params length %d", ErrInvalidAccount, n)
	}
	r.Params = append([]byte(nil), data[off:off+n]...)
	return r, nil
}

// IsRequestAccount reports whether data looks like an encoded Request.
func IsRequestAccount(data []byte) bool {
	return len(data) == RequestSize && [8]byte(data[:8]) == requestDiscriminator
}
