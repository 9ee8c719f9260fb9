package httpserver

import (
	"bytes"
	"context"
	"crypto/ed25519"
	"crypto/rand"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/ruteri/attested-randomness/api"
	"github.com/ruteri/attested-randomness/cryptoutils"
	"github.com/ruteri/attested-randomness/interfaces"
	"github.com/ruteri/attested-randomness/kms"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newAdminEnv(t *testing.T) (*AdminHandler, *httptest.Server, [][]byte, []ed25519.PrivateKey) {
	t.Helper()
	masterKey := make([]byte, 32)
	_, err := rand.Read(masterKey)
	require.NoError(t, err)

	ids := make([]interfaces.Identity, 3)
	keys := make([]ed25519.PrivateKey, 3)
	for i := range ids {
		ids[i], keys[i], err = cryptoutils.GenerateKey()
		require.NoError(t, err)
	}
	config := kms.ShamirConfig{Threshold: 2, Admins: ids}
	shares, err := kms.SplitMasterKey(masterKey, config)
	require.NoError(t, err)

	shamirKMS, err := kms.NewShamirKMSRecovery(config)
	require.NoError(t, err)
	handler := NewAdminHandler(shamirKMS, discard())
	ts := httptest.NewServer(handler.AdminRouter())
	t.Cleanup(ts.Close)
	return handler, ts, shares, keys
}

func submitShare(t *testing.T, url string, sub api.ShareSubmission) *http.Response {
	t.Helper()
	body, err := json.Marshal(sub)
	require.NoError(t, err)
	resp, err := http.Post(url+"/share", "application/json", bytes.NewReader(body))
	require.NoError(t, err)
	t.Cleanup(func() { resp.Body.Close() })
	return resp
}

func TestAdminHandler_Unlock(t *testing.T) {
	handler, ts, shares, keys := newAdminEnv(t)

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()
	assert.ErrorIs(t, handler.WaitForUnlock(ctx), context.DeadlineExceeded)

	resp := submitShare(t, ts.URL, api.ShareSubmission{
		Admin:     cryptoutils.IdentityOf(keys[0]),
		Share:     shares[0],
		Signature: kms.SignShare(shares[1], keys[0]),
	})
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)

	for i := range 2 {
		resp := submitShare(t, ts.URL, api.ShareSubmission{
			Admin:     cryptoutils.IdentityOf(keys[i]),
			Share:     shares[i],
			Signature: kms.SignShare(shares[i], keys[i]),
		})
		require.Equal(t, http.StatusOK, resp.StatusCode)
	}
	require.NoError(t, handler.WaitForUnlock(context.Background()))

	resp = submitShare(t, ts.URL, api.ShareSubmission{
		Admin:     cryptoutils.IdentityOf(keys[2]),
		Share:     shares[2],
		Signature: kms.SignShare(shares[2], keys[2]),
	})
	assert.Equal(t, http.StatusConflict, resp.StatusCode)

	statusResp, err := http.Get(ts.URL + "/status")
	require.NoError(t, err)
	defer statusResp.Body.Close()
	status := decode[api.AdminStatusResponse](t, statusResp)
	assert.Equal(t, "unlocked", status.State)
}

func TestAdminHandler_BadBody(t *testing.T) {
	_, ts, _, _ := newAdminEnv(t)

	resp, err := http.Post(ts.URL+"/share", "application/json", bytes.NewBufferString("not json"))
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}
