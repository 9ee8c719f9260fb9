package clients

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/ruteri/attested-randomness/api"
	"github.com/ruteri/attested-randomness/functions"
	"github.com/ruteri/attested-randomness/interfaces"
	"github.com/ruteri/attested-randomness/ledger"
	"github.com/ruteri/attested-randomness/record"
	"github.com/stretchr/testify/mock"
)

// DefaultTimeout bounds a single API call.
const DefaultTimeout = 30 * time.Second

// ErrUnexpectedResponse is returned for non-2xx responses that carry no
// recognizable error.
var ErrUnexpectedResponse = errors.New("unexpected API response")

// LedgerClient implements api.LedgerProvider over the ledger RPC API.
type LedgerClient struct {
	baseURL    string
	httpClient *http.Client
}

// NewLedgerClient creates a client for the ledger at baseURL
// (e.g. "http://localhost:8080").
func NewLedgerClient(baseURL string, timeout ...time.Duration) *LedgerClient {
	clientTimeout := DefaultTimeout
	if len(timeout) > 0 {
		clientTimeout = timeout[0]
	}

	return &LedgerClient{
		baseURL:    strings.TrimSuffix(baseURL, "/"),
		httpClient: &http.Client{Timeout: clientTimeout},
	}
}

// Submit sends a signed transaction and returns its receipt.
func (c *LedgerClient) Submit(ctx context.Context, tx *ledger.Transaction) (*ledger.Receipt, error) {
	body, err := json.Marshal(tx)
	if err != nil {
		return nil, fmt.Errorf("could not encode transaction: %w", err)
	}

	var receipt ledger.Receipt
	if err := c.do(ctx, http.MethodPost, "/api/v1/transactions", body, &receipt); err != nil {
		return nil, err
	}
	return &receipt, nil
}

// Account fetches a raw account.
func (c *LedgerClient) Account(ctx context.Context, key interfaces.Identity) (*api.AccountResponse, error) {
	var resp api.AccountResponse
	if err := c.do(ctx, http.MethodGet, "/api/v1/accounts/"+key.String(), nil, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// Record fetches a decoded randomness record.
func (c *LedgerClient) Record(ctx context.Context, key interfaces.Identity) (*record.Record, error) {
	var resp api.RecordResponse
	if err := c.do(ctx, http.MethodGet, "/api/v1/records/"+key.String(), nil, &resp); err != nil {
		return nil, err
	}
	if resp.Record == nil {
		return nil, fmt.Errorf("%w: empty record", ErrUnexpectedResponse)
	}
	return resp.Record, nil
}

// Function fetches a decoded attested function.
func (c *LedgerClient) Function(ctx context.Context, key interfaces.Identity) (*functions.Function, error) {
	var resp api.FunctionResponse
	if err := c.do(ctx, http.MethodGet, "/api/v1/functions/"+key.String(), nil, &resp); err != nil {
		return nil, err
	}
	if resp.Function == nil {
		return nil, fmt.Errorf("%w: empty function", ErrUnexpectedResponse)
	}
	return resp.Function, nil
}

// PendingRequests lists the requests the function's oracle may answer now.
func (c *LedgerClient) PendingRequests(ctx context.Context, function interfaces.Identity) ([]functions.PendingRequest, error) {
	var pending []functions.PendingRequest
	if err := c.do(ctx, http.MethodGet, "/api/v1/functions/"+function.String()+"/requests", nil, &pending); err != nil {
		return nil, err
	}
	return pending, nil
}

// Slot fetches the current slot and its hash.
func (c *LedgerClient) Slot(ctx context.Context) (*api.SlotResponse, error) {
	var resp api.SlotResponse
	if err := c.do(ctx, http.MethodGet, "/api/v1/slot", nil, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

func (c *LedgerClient) do(ctx context.Context, method, path string, body []byte, out any) error {
	return doJSON(ctx, c.httpClient, method, c.baseURL+path, body, out)
}

func doJSON(ctx context.Context, client *http.Client, method, url string, body []byte, out any) error {
	var reader io.Reader
	if body != nil {
		reader = bytes.NewReader(body)
	}

	req, err := http.NewRequestWithContext(ctx, method, url, reader)
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := client.Do(req)
	if err != nil {
		return fmt.Errorf("could not request %s: %w", url, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return decodeError(resp)
	}

	if out == nil {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("could not parse response: %w", err)
	}
	return nil
}

// decodeError restores the error carried by a non-2xx response. Protocol
// errors are matched by code so errors.Is works across the wire.
func decodeError(resp *http.Response) error {
	bodyBytes, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("%w: status %d", ErrUnexpectedResponse, resp.StatusCode)
	}

	var errResp api.ErrorResponse
	if err := json.Unmarshal(bodyBytes, &errResp); err != nil || errResp.Error == "" {
		return fmt.Errorf("%w: status %d: %s", ErrUnexpectedResponse, resp.StatusCode, strings.TrimSpace(string(bodyBytes)))
	}

	if pe, ok := interfaces.ProtocolErrorByCode(errResp.Code); ok {
		if errResp.Detail != "" {
			return fmt.Errorf("%w (%s)", pe, errResp.Detail)
		}
		return pe
	}

	if resp.StatusCode == http.StatusNotFound {
		return fmt.Errorf("%w: %s", ledger.ErrAccountNotFound, errResp.Error)
	}
	return fmt.Errorf("%w: status %d: %s", ErrUnexpectedResponse, resp.StatusCode, errResp.Error)
}

// MockLedgerProvider implements api.LedgerProvider for testing.
type MockLedgerProvider struct {
	mock.Mock
}

func (m *MockLedgerProvider) Submit(ctx context.Context, tx *ledger.Transaction) (*ledger.Receipt, error) {
	args := m.Called(ctx, tx)
	receipt, _ := args.Get(0).(*ledger.Receipt)
	return receipt, args.Error(1)
}

func (m *MockLedgerProvider) Account(ctx context.Context, key interfaces.Identity) (*api.AccountResponse, error) {
	args := m.Called(ctx, key)
	resp, _ := args.Get(0).(*api.AccountResponse)
	return resp, args.Error(1)
}

func (m *MockLedgerProvider) Record(ctx context.Context, key interfaces.Identity) (*record.Record, error) {
	args := m.Called(ctx, key)
	rec, _ := args.Get(0).(*record.Record)
	return rec, args.Error(1)
}

func (m *MockLedgerProvider) Function(ctx context.Context, key interfaces.Identity) (*functions.Function, error) {
	args := m.Called(ctx, key)
	fn, _ := args.Get(0).(*functions.Function)
	return fn, args.Error(1)
}

func (m *MockLedgerProvider) PendingRequests(ctx context.Context, function interfaces.Identity) ([]functions.PendingRequest, error) {
	args := m.Called(ctx, function)
	pending, _ := args.Get(0).([]functions.PendingRequest)
	return pending, args.Error(1)
}

func (m *MockLedgerProvider) Slot(ctx context.Context) (*api.SlotResponse, error) {
	args := m.Called(ctx)
	resp, _ := args.Get(0).(*api.SlotResponse)
	return resp, args.Error(1)
}
