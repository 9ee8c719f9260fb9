package storage

import (
	"context"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"testing"

	"github.com/ruteri/attested-randomness/interfaces"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func TestFileBackend(t *testing.T) {
	ctx := context.Background()
	dir := t.TempDir()

	backend, err := NewFileBackend(dir, testLogger())
	require.NoError(t, err)
	assert.True(t, backend.Available(ctx))
	assert.Equal(t, "file://"+dir, backend.LocationURI())

	secret := []byte("requester secret")
	id, err := backend.Store(ctx, secret, interfaces.SecretType)
	require.NoError(t, err)
	assert.Equal(t, interfaces.ComputeID(secret), id)

	info, err := os.Stat(filepath.Join(dir, "secrets", id.String()))
	require.NoError(t, err)
	assert.Equal(t, os.FileMode(0o600), info.Mode().Perm())

	data, err := backend.Fetch(ctx, id, interfaces.SecretType)
	require.NoError(t, err)
	assert.Equal(t, secret, data)

	_, err = backend.Fetch(ctx, id, interfaces.RecordType)
	assert.ErrorIs(t, err, interfaces.ErrContentNotFound, "content types are separate namespaces")
}

func TestStorageBackendFactory(t *testing.T) {
	factory := NewStorageBackendFactory(testLogger())
	dir := t.TempDir()

	location, err := interfaces.NewStorageBackendLocation("file://" + dir)
	require.NoError(t, err)
	backend, err := factory.StorageBackendFor(location)
	require.NoError(t, err)
	assert.IsType(t, &FileBackend{}, backend)

	_, err = interfaces.NewStorageBackendLocation("github://owner/repo")
	assert.ErrorIs(t, err, interfaces.ErrInvalidLocationURI)

	vaultLocation, err := interfaces.NewStorageBackendLocation("vault://token@vault.local:8200/secret/randomness?tls=false")
	require.NoError(t, err)
	vault, err := factory.StorageBackendFor(vaultLocation)
	require.NoError(t, err)
	assert.Equal(t, "vault-secret-randomness", vault.Name())

	_, err = factory.FromURIs(nil)
	assert.Error(t, err)

	multi, err := factory.FromURIs([]string{"file://" + dir, "file://" + t.TempDir()})
	require.NoError(t, err)
	assert.IsType(t, &MultiStorageBackend{}, multi)

	id, err := multi.Store(context.Background(), []byte("x"), interfaces.EventType)
	require.NoError(t, err)
	data, err := backend.Fetch(context.Background(), id, interfaces.EventType)
	require.NoError(t, err)
	assert.Equal(t, []byte("x"), data)
}
