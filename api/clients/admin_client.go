package clients

import (
	"context"
	"crypto/ed25519"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/ruteri/attested-randomness/api"
	"github.com/ruteri/attested-randomness/cryptoutils"
	"github.com/ruteri/attested-randomness/kms"
)

// AdminClient submits master seed shares to an oracle's admin API.
type AdminClient struct {
	baseURL    string
	privateKey ed25519.PrivateKey
	httpClient *http.Client
}

// NewAdminClient creates a client for the admin API at baseURL
// (e.g. "http://localhost:8081") acting as the admin holding privateKey.
func NewAdminClient(baseURL string, privateKey ed25519.PrivateKey, timeout ...time.Duration) *AdminClient {
	clientTimeout := DefaultTimeout
	if len(timeout) > 0 {
		clientTimeout = timeout[0]
	}

	return &AdminClient{
		baseURL:    strings.TrimSuffix(baseURL, "/"),
		privateKey: privateKey,
		httpClient: &http.Client{Timeout: clientTimeout},
	}
}

// Status returns "locked" or "unlocked".
func (c *AdminClient) Status(ctx context.Context) (string, error) {
	var resp api.AdminStatusResponse
	if err := doJSON(ctx, c.httpClient, http.MethodGet, c.baseURL+"/status", nil, &resp); err != nil {
		return "", err
	}
	return resp.State, nil
}

// SubmitShare signs and submits the admin's share.
func (c *AdminClient) SubmitShare(ctx context.Context, share []byte) error {
	body, err := json.Marshal(api.ShareSubmission{
		Admin:     cryptoutils.IdentityOf(c.privateKey),
		Share:     share,
		Signature: kms.SignShare(share, c.privateKey),
	})
	if err != nil {
		return fmt.Errorf("failed to encode share: %w", err)
	}
	return doJSON(ctx, c.httpClient, http.MethodPost, c.baseURL+"/share", body, nil)
}
