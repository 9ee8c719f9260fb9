package clients

import (
	"context"
	"crypto/ed25519"
	"crypto/rand"
	"net/http/httptest"
	"testing"

	"github.com/ruteri/attested-randomness/cryptoutils"
	"github.com/ruteri/attested-randomness/httpserver"
	"github.com/ruteri/attested-randomness/interfaces"
	"github.com/ruteri/attested-randomness/kms"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestAdminClient_Unlock(t *testing.T) {
	masterKey := make([]byte, 32)
	_, err := rand.Read(masterKey)
	require.NoError(t, err)

	ids := make([]interfaces.Identity, 2)
	keys := make([]ed25519.PrivateKey, 2)
	for i := range ids {
		ids[i], keys[i], err = cryptoutils.GenerateKey()
		require.NoError(t, err)
	}
	config := kms.ShamirConfig{Threshold: 2, Admins: ids}
	shares, err := kms.SplitMasterKey(masterKey, config)
	require.NoError(t, err)

	shamirKMS, err := kms.NewShamirKMSRecovery(config)
	require.NoError(t, err)
	handler := httpserver.NewAdminHandler(shamirKMS, discard())
	ts := httptest.NewServer(handler.AdminRouter())
	defer ts.Close()

	ctx := context.Background()
	status, err := NewAdminClient(ts.URL, keys[0]).Status(ctx)
	require.NoError(t, err)
	assert.Equal(t, "locked", status)

	_, outsider, err := cryptoutils.GenerateKey()
	require.NoError(t, err)
	err = NewAdminClient(ts.URL, outsider).SubmitShare(ctx, shares[0])
	assert.ErrorIs(t, err, ErrUnexpectedResponse)

	for i := range keys {
		require.NoError(t, NewAdminClient(ts.URL, keys[i]).SubmitShare(ctx, shares[i]))
	}
	require.NoError(t, handler.WaitForUnlock(ctx))

	status, err = NewAdminClient(ts.URL, keys[1]).Status(ctx)
	require.NoError(t, err)
	assert.Equal(t, "unlocked", status)

	unlocked, err := shamirKMS.SimpleKMS()
	require.NoError(t, err)
	expected, err := kms.NewSimpleKMS(masterKey)
	require.NoError(t, err)
	got, err := unlocked.DeriveKey("test")
	require.NoError(t, err)
	want, err := expected.DeriveKey("test")
	require.NoError(t, err)
	assert.Equal(t, want, got)
}
