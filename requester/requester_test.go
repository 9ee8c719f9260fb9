package requester

import (
	"context"
	"crypto/ed25519"
	"crypto/rand"
	"io"
	"log/slog"
	"path/filepath"
	"testing"
	"time"

	"github.com/ruteri/attested-randomness/chain"
	"github.com/ruteri/attested-randomness/cryptoutils"
	"github.com/ruteri/attested-randomness/interfaces"
	"github.com/ruteri/attested-randomness/ledger"
	"github.com/ruteri/attested-randomness/oracle"
	"github.com/ruteri/attested-randomness/randomness"
	"github.com/ruteri/attested-randomness/record"
	"github.com/ruteri/attested-randomness/storage"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var testMeasurement = cryptoutils.Measurement{0x42}

func discard() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

type testEnv struct {
	ledger    *ledger.Ledger
	function  interfaces.Identity
	secrets   *storage.FileBackend
	requester *Requester
	runner    *oracle.FunctionRunner
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()
	ctx := context.Background()
	l, err := chain.NewLedger(ledger.NewMemoryStore(), ledger.NewManualClock(time.Unix(1_700_000_000, 0)), cryptoutils.QuoteVerifier{AllowDummy: true}, discard())
	require.NoError(t, err)

	_, payerKey, err := cryptoutils.GenerateKey()
	require.NoError(t, err)
	function, err := chain.CreateFunction(ctx, l, payerKey, testMeasurement)
	require.NoError(t, err)

	_, enclaveKey, err := cryptoutils.GenerateKey()
	require.NoError(t, err)
	enclave := &oracle.Enclave{
		Function: function,
		Key:      enclaveKey,
		Provider: cryptoutils.DummyAttestationProvider{Measurement: testMeasurement},
		Log:      discard(),
	}
	require.NoError(t, enclave.Register(ctx, l))

	secrets, err := storage.NewFileBackend(t.TempDir(), discard())
	require.NoError(t, err)
	r, err := New(payerKey, LocalLedger{l}, secrets, discard())
	require.NoError(t, err)

	return &testEnv{
		ledger:    l,
		function:  function,
		secrets:   secrets,
		requester: r,
		runner: oracle.NewFunctionRunner(oracle.RunnerConfig{
			Function:  function,
			SignerKey: enclaveKey,
			Min:       oracle.DefaultMin,
			Max:       oracle.DefaultMax,
		}, oracle.NewSampler(rand.Reader), l, discard()),
	}
}

func (env *testEnv) seed(t *testing.T) {
	t.Helper()
	env.ledger.AdvanceSlot([32]byte{0x5e})
	worker := oracle.NewWorker(oracle.WorkerConfig{}, env.runner, oracle.LedgerSource{Ledger: env.ledger}, discard())
	require.NoError(t, worker.Poll(context.Background()))
	_, failed := worker.Stats()
	require.Zero(t, failed)
}

func TestPreimageDraw(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	draw, receipt, err := env.requester.Request(ctx, RequestOptions{Function: env.function, Strategy: record.StrategyPreimage})
	require.NoError(t, err)
	assert.NotZero(t, receipt.TxID)
	assert.NotEqual(t, [32]byte{}, draw.Commitment)

	secret, err := env.requester.fetchSecret(ctx, draw.SecretID, draw.Commitment)
	require.NoError(t, err)
	assert.Equal(t, draw.Commitment, randomness.Commitment(secret))

	_, err = env.requester.Reveal(ctx, draw)
	assert.ErrorIs(t, err, interfaces.ErrNotSeeded)

	env.seed(t)

	rec, err := env.requester.Reveal(ctx, draw)
	require.NoError(t, err)
	assert.Equal(t, record.StateRevealed, rec.State)
	assert.Equal(t, randomness.FromPreimage(secret, rec.Anchor, rec.Seed), rec.Result)

	_, err = env.requester.Reveal(ctx, draw)
	assert.ErrorIs(t, err, interfaces.ErrAlreadyRevealed)
}

func TestStoredSecretIsSealed(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	draw, _, err := env.requester.NewRequest(ctx, RequestOptions{Function: env.function, Strategy: record.StrategyPreimage})
	require.NoError(t, err)
	secret, err := env.requester.fetchSecret(ctx, draw.SecretID, draw.Commitment)
	require.NoError(t, err)

	_, err = env.secrets.Fetch(ctx, interfaces.ContentID(draw.Commitment), interfaces.SecretType)
	assert.ErrorIs(t, err, interfaces.ErrContentNotFound)

	blob, err := env.secrets.Fetch(ctx, draw.SecretID, interfaces.SecretType)
	require.NoError(t, err)
	assert.NotContains(t, string(blob), string(secret[:]))

	_, otherPayer, err := cryptoutils.GenerateKey()
	require.NoError(t, err)
	other, err := New(otherPayer, LocalLedger{env.ledger}, env.secrets, discard())
	require.NoError(t, err)
	_, err = other.fetchSecret(ctx, draw.SecretID, draw.Commitment)
	assert.ErrorIs(t, err, ErrSecretMismatch)

	_, err = env.requester.fetchSecret(ctx, draw.SecretID, [32]byte{1})
	assert.ErrorIs(t, err, ErrSecretMismatch)
}

func TestSignatureDraw(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	draw, _, err := env.requester.Request(ctx, RequestOptions{Function: env.function, Strategy: record.StrategySignature})
	require.NoError(t, err)
	assert.Equal(t, [32]byte{}, draw.Commitment)

	env.seed(t)

	tx, err := env.requester.RevealTransaction(ctx, draw)
	require.NoError(t, err)
	assert.Empty(t, tx.Signers())

	rec, err := env.requester.Reveal(ctx, draw)
	require.NoError(t, err)
	assert.Equal(t, record.StateRevealed, rec.State)

	signature := ed25519.Sign(draw.RecordKey, randomness.SeedMessage(rec.Seed))
	assert.Equal(t, randomness.FromSignature([randomness.SignatureSize]byte(signature)), rec.Result)
}

func TestRevealChecksStrategy(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	draw, _, err := env.requester.Request(ctx, RequestOptions{Function: env.function, Strategy: record.StrategySignature})
	require.NoError(t, err)
	env.seed(t)

	draw.Strategy = record.StrategyPreimage
	_, err = env.requester.RevealTransaction(ctx, draw)
	assert.ErrorIs(t, err, interfaces.ErrStrategyMismatch)
}

func TestPreimageNeedsSecretStore(t *testing.T) {
	env := newTestEnv(t)
	env.requester.secrets = nil
	env.requester.sealer = nil

	_, _, err := env.requester.NewRequest(context.Background(), RequestOptions{Function: env.function, Strategy: record.StrategyPreimage})
	assert.ErrorIs(t, err, ErrNoSecretStore)

	_, _, err = env.requester.NewRequest(context.Background(), RequestOptions{Function: env.function, Strategy: record.Strategy(9)})
	assert.ErrorIs(t, err, interfaces.ErrInvalidParams)
}

func TestDrawFile(t *testing.T) {
	env := newTestEnv(t)
	path := filepath.Join(t.TempDir(), "draw.json")

	draw, _, err := env.requester.NewRequest(context.Background(), RequestOptions{Function: env.function, Strategy: record.StrategyPreimage})
	require.NoError(t, err)
	require.NoError(t, SaveDraw(path, draw))

	loaded, err := LoadDraw(path)
	require.NoError(t, err)
	assert.Equal(t, draw, loaded)

	other, _, err := env.requester.NewRequest(context.Background(), RequestOptions{Function: env.function, Strategy: record.StrategySignature})
	require.NoError(t, err)
	other.RecordKey = draw.RecordKey
	require.NoError(t, SaveDraw(path, other))
	_, err = LoadDraw(path)
	assert.ErrorIs(t, err, ErrInvalidDraw)
}
