package cryptoutils

import (
	"bytes"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"net/http"

	tdx_abi "github.com/google/go-tdx-guest/abi"
	tdx_client "github.com/google/go-tdx-guest/client"
	tdx_pb "github.com/google/go-tdx-guest/proto/tdx"
	"github.com/google/go-tdx-guest/verify"
	"github.com/ruteri/attested-randomness/interfaces"
)

var (
	DCAPAttestation  = AttestationType{StringID: "qemu-tdx"}
	DummyAttestation = AttestationType{StringID: "dummy"}
)

var (
	// ErrAttestationFailed is returned when a quote does not verify.
	ErrAttestationFailed = errors.New("attestation verification failed")
	// ErrReportDataMismatch is returned when a quote binds different data.
	ErrReportDataMismatch = errors.New("attestation report data mismatch")
	// ErrDummyAttestation is returned for dummy quotes when they are not allowed.
	ErrDummyAttestation = errors.New("dummy attestation not allowed")
)

type AttestationType struct {
	StringID string
}

func AttestationTypeFromString(str string) (AttestationType, error) {
	switch str {
	case DCAPAttestation.StringID:
		return DCAPAttestation, nil
	case DummyAttestation.StringID:
		return DummyAttestation, nil
	default:
		return AttestationType{}, errors.ErrUnsupported
	}
}

// Measurement identifies the code running inside an enclave.
type Measurement [32]byte

func (m Measurement) String() string {
	return hex.EncodeToString(m[:])
}

func (m Measurement) MarshalText() ([]byte, error) {
	return []byte(m.String()), nil
}

func (m *Measurement) UnmarshalText(text []byte) error {
	parsed, err := ParseMeasurement(string(text))
	if err != nil {
		return err
	}
	*m = parsed
	return nil
}

// ParseMeasurement parses a hex measurement.
func ParseMeasurement(s string) (Measurement, error) {
	raw, err := hex.DecodeString(s)
	if err != nil || len(raw) != len(Measurement{}) {
		return Measurement{}, fmt.Errorf("invalid measurement %q", s)
	}
	return Measurement(raw), nil
}

// EnclaveReportData binds an enclave signer to the function it serves.
func EnclaveReportData(function, signer interfaces.Identity) [64]byte {
	var rd [64]byte
	copy(rd[:32], function[:])
	copy(rd[32:], signer[:])
	return rd
}

type AttestationProvider interface {
	AttestationType() AttestationType
	Attest(reportData [64]byte) ([]byte, error)
}

// AttestationProviderFor returns the provider named by attestationType. A
// non-empty remoteAddress selects a remote quote provider for DCAP.
func AttestationProviderFor(attestationType string, remoteAddress string, dummyMeasurement Measurement) (AttestationProvider, error) {
	switch attestationType {
	case DCAPAttestation.StringID:
		if remoteAddress != "" {
			return &RemoteAttestationProvider{Address: remoteAddress}, nil
		}
		return DCAPAttestationProvider{}, nil
	case DummyAttestation.StringID:
		return DummyAttestationProvider{Measurement: dummyMeasurement}, nil
	}
	return nil, fmt.Errorf("%w: attestation type %q", errors.ErrUnsupported, attestationType)
}

type RemoteAttestationProvider struct {
	Address string
}

func (*RemoteAttestationProvider) AttestationType() AttestationType { return DCAPAttestation }

func (p *RemoteAttestationProvider) Attest(reportData [64]byte) ([]byte, error) {
	extraDataHex := hex.EncodeToString(reportData[:])

	url := fmt.Sprintf("%s/attest/%s", p.Address, extraDataHex)
	resp, err := http.DefaultClient.Get(url)
	if err != nil {
		return nil, fmt.Errorf("calling remote quote provider: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(resp.Body)
		return nil, fmt.Errorf("remote quote provider returned status %d: %s", resp.StatusCode, string(body))
	}

	rawQuote, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("reading quote from response: %w", err)
	}
	return rawQuote, nil
}

type DCAPAttestationProvider struct{}

func (DCAPAttestationProvider) AttestationType() AttestationType { return DCAPAttestation }

func (DCAPAttestationProvider) Attest(reportData [64]byte) ([]byte, error) {
	qp := &tdx_client.LinuxConfigFsQuoteProvider{}
	if qp.IsSupported() == nil {
		return qp.GetRawQuote(reportData)
	}

	qd, err := tdx_client.OpenDevice()
	if err != nil {
		return nil, err
	}
	defer qd.Close()

	return tdx_client.GetRawQuote(qd, reportData)
}

var dummyQuoteMagic = []byte("DUMMYQ01")

// DummyAttestationProvider produces unsigned quotes carrying a fixed
// measurement. Verifiers reject them unless explicitly allowed.
type DummyAttestationProvider struct {
	Measurement Measurement
}

func (DummyAttestationProvider) AttestationType() AttestationType {
	return DummyAttestation
}

// Attest returns magic(8) | measurement(32) | reportData(64).
func (p DummyAttestationProvider) Attest(reportData [64]byte) ([]byte, error) {
	quote := make([]byte, 0, len(dummyQuoteMagic)+32+64)
	quote = append(quote, dummyQuoteMagic...)
	quote = append(quote, p.Measurement[:]...)
	return append(quote, reportData[:]...), nil
}

// QuoteVerifier checks attestation quotes and extracts the measurement.
type QuoteVerifier struct {
	AllowDummy bool
}

// Verify checks quote against reportData and returns the enclave measurement.
func (v QuoteVerifier) Verify(quote []byte, reportData [64]byte) (Measurement, error) {
	if bytes.HasPrefix(quote, dummyQuoteMagic) {
		if !v.AllowDummy {
			return Measurement{}, ErrDummyAttestation
		}
		return verifyDummyQuote(quote, reportData)
	}
	return VerifyDCAPAttestation(reportData, quote)
}

func verifyDummyQuote(quote []byte, reportData [64]byte) (Measurement, error) {
	body := quote[len(dummyQuoteMagic):]
	if len(body) != 32+64 {
		return Measurement{}, fmt.Errorf("%w: malformed dummy quote", ErrAttestationFailed)
	}
	if !bytes.Equal(body[32:], reportData[:]) {
		return Measurement{}, ErrReportDataMismatch
	}
	return Measurement(body[:32]), nil
}

// VerifyDCAPAttestation verifies a TDX quote and returns the hash of its
// MRTD and runtime measurement registers.
func VerifyDCAPAttestation(reportData [64]byte, report []byte) (Measurement, error) {
	protoQuote, err := tdx_abi.QuoteToProto(report)
	if err != nil {
		return Measurement{}, fmt.Errorf("%w: could not parse quote: %w", ErrAttestationFailed, err)
	}

	v4Quote, ok := protoQuote.(*tdx_pb.QuoteV4)
	if !ok {
		return Measurement{}, fmt.Errorf("%w: unsupported quote type: %T", ErrAttestationFailed, protoQuote)
	}

	if err := verify.TdxQuote(protoQuote, verify.DefaultOptions()); err != nil {
		return Measurement{}, fmt.Errorf("%w: %w", ErrAttestationFailed, err)
	}

	if !bytes.Equal(v4Quote.TdQuoteBody.ReportData, reportData[:]) {
		return Measurement{}, fmt.Errorf("%w: got %x, expected %x", ErrReportDataMismatch, v4Quote.TdQuoteBody.ReportData, reportData[:])
	}

	return TDXMeasurement(v4Quote.TdQuoteBody.MrTd, v4Quote.TdQuoteBody.Rtmrs), nil
}

// TDXMeasurement is sha256(MRTD ‖ RTMR0 ‖ ... ‖ RTMR3).
func TDXMeasurement(mrtd []byte, rtmrs [][]byte) Measurement {
	h := sha256.New()
	h.Write(mrtd)
	for _, rtmr := range rtmrs {
		h.Write(rtmr)
	}
	return Measurement(h.Sum(nil))
}
