package functions

import (
	"context"
	"crypto/ed25519"
	"io"
	"log/slog"
	"strings"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/ruteri/attested-randomness/cryptoutils"
	"github.com/ruteri/attested-randomness/interfaces"
	"github.com/ruteri/attested-randomness/ledger"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var testMeasurement = cryptoutils.Measurement{0xaa, 0xbb}

type testEnv struct {
	ledger    *ledger.Ledger
	function  interfaces.Identity
	authority interfaces.Identity
	authKey   ed25519.PrivateKey
	signer    interfaces.Identity
	signerKey ed25519.PrivateKey
}

func key(t *testing.T) (interfaces.Identity, ed25519.PrivateKey) {
	t.Helper()
	id, priv, err := cryptoutils.GenerateKey()
	require.NoError(t, err)
	return id, priv
}

func send(t *testing.T, l *ledger.Ledger, keys []ed25519.PrivateKey, ixs ...ledger.Instruction) error {
	t.Helper()
	tx := ledger.NewTransaction(ixs...)
	require.NoError(t, tx.Sign(keys...))
	_, err := l.Submit(context.Background(), tx)
	return err
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()
	log := slog.New(slog.NewTextHandler(io.Discard, nil))
	l := ledger.New(ledger.NewMemoryStore(), ledger.NewManualClock(time.Unix(1_700_000_000, 0)), log)
	require.NoError(t, l.Register(NewProgram(cryptoutils.QuoteVerifier{AllowDummy: true}, log)))

	env := &testEnv{ledger: l}
	var fnKey ed25519.PrivateKey
	env.function, fnKey = key(t)
	env.authority, env.authKey = key(t)
	env.signer, env.signerKey = key(t)

	require.NoError(t, send(t, l, []ed25519.PrivateKey{fnKey, env.authKey},
		NewFunctionInitInstruction(env.function, env.authority, testMeasurement)))
	return env
}

func (env *testEnv) registerEnclave(t *testing.T, measurement cryptoutils.Measurement, boundTo interfaces.Identity) error {
	t.Helper()
	quote, err := cryptoutils.DummyAttestationProvider{Measurement: measurement}.Attest(cryptoutils.EnclaveReportData(boundTo, env.signer))
	require.NoError(t, err)
	return send(t, env.ledger, []ed25519.PrivateKey{env.signerKey}, NewRegisterEnclaveInstruction(env.function, env.signer, quote))
}

func (env *testEnv) request(t *testing.T, init RequestInit) (interfaces.Identity, error) {
	t.Helper()
	reqKey, reqPriv := key(t)
	init.Request = reqKey
	init.Function = env.function
	init.Authority = env.authority
	init.Payer = env.authority
	return reqKey, send(t, env.ledger, []ed25519.PrivateKey{reqPriv, env.authKey}, NewRequestInitAndTriggerInstruction(init))
}

func TestRegisterEnclave(t *testing.T) {
	env := newTestEnv(t)
	registry := NewRegistry(env.ledger)
	ctx := context.Background()

	ok, err := registry.IsRegisteredSigner(ctx, env.function, env.signer)
	require.NoError(t, err)
	assert.False(t, ok)

	assert.ErrorIs(t, env.registerEnclave(t, cryptoutils.Measurement{0x01}, env.function), ErrMeasurementMismatch)
	assert.ErrorIs(t, env.registerEnclave(t, testMeasurement, env.authority), cryptoutils.ErrReportDataMismatch)

	require.NoError(t, env.registerEnclave(t, testMeasurement, env.function))

	ok, err = registry.IsRegisteredSigner(ctx, env.function, env.signer)
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = registry.IsRegisteredSigner(ctx, env.function, env.authority)
	require.NoError(t, err)
	assert.False(t, ok)

	ok, err = registry.IsRegisteredSigner(ctx, interfaces.IdentityFromSeed("unknown"), env.signer)
	require.NoError(t, err)
	assert.False(t, ok)

	fn, err := registry.Function(env.function)
	require.NoError(t, err)
	assert.Equal(t, env.authority, fn.Authority)
	assert.Equal(t, int64(1_700_000_000), fn.SignerRegisteredAt)
}

func TestRequestInitAndTrigger(t *testing.T) {
	env := newTestEnv(t)
	registry := NewRegistry(env.ledger)

	reqKey, err := env.request(t, RequestInit{Params: []byte("PID=x,REQUEST_KEY=y")})
	require.NoError(t, err)

	req, err := registry.Request(reqKey)
	require.NoError(t, err)
	assert.Equal(t, RequestPending, req.Status)
	assert.Equal(t, DefaultExpirationSlots, req.ExpirationSlot)
	assert.Equal(t, hexutil.Bytes("PID=x,REQUEST_KEY=y"), req.Params)

	fn, err := registry.RequestFunction(context.Background(), reqKey, 0)
	require.NoError(t, err)
	assert.Equal(t, env.function, fn)

	_, err = registry.RequestFunction(context.Background(), reqKey, DefaultExpirationSlots+1)
	assert.ErrorIs(t, err, ErrRequestNotRunnable)

	later, err := env.request(t, RequestInit{ValidAfterSlot: 10})
	require.NoError(t, err)
	_, err = registry.RequestFunction(context.Background(), later, 9)
	assert.ErrorIs(t, err, ErrRequestNotRunnable)
	fn, err = registry.RequestFunction(context.Background(), later, 10)
	require.NoError(t, err)
	assert.Equal(t, env.function, fn)

	_, err = env.request(t, RequestInit{ExpirationSlots: MinExpirationSlots - 1})
	assert.ErrorIs(t, err, ErrExpirationTooShort)

	_, err = env.request(t, RequestInit{ExpirationSlots: MinExpirationSlots})
	assert.NoError(t, err)

	_, err = env.request(t, RequestInit{Params: []byte(strings.Repeat("a", 513))})
	assert.ErrorIs(t, err, ErrParamsTooLong)
}

func TestPendingRequests(t *testing.T) {
	env := newTestEnv(t)
	queue := NewQueueReader(env.ledger)
	ctx := context.Background()

	now, err := env.request(t, RequestInit{ExpirationSlots: MinExpirationSlots})
	require.NoError(t, err)
	later, err := env.request(t, RequestInit{ValidAfterSlot: 10})
	require.NoError(t, err)

	pending, err := queue.PendingRequests(ctx, env.function, 0)
	require.NoError(t, err)
	require.Len(t, pending, 1)
	assert.Equal(t, now, pending[0].Key)

	pending, err = queue.PendingRequests(ctx, env.function, 10)
	require.NoError(t, err)
	assert.Len(t, pending, 2)

	pending, err = queue.PendingRequests(ctx, env.function, MinExpirationSlots+1)
	require.NoError(t, err)
	require.Len(t, pending, 1)
	assert.Equal(t, later, pending[0].Key)

	pending, err = queue.PendingRequests(ctx, interfaces.IdentityFromSeed("other"), 10)
	require.NoError(t, err)
	assert.Empty(t, pending)
}

func TestRequestClose(t *testing.T) {
	env := newTestEnv(t)
	stranger, strangerKey := key(t)

	reqKey, err := env.request(t, RequestInit{ExpirationSlots: MinExpirationSlots})
	require.NoError(t, err)

	err = send(t, env.ledger, []ed25519.PrivateKey{strangerKey}, NewRequestCloseInstruction(reqKey, stranger))
	assert.ErrorIs(t, err, ErrCloseNotAllowed)

	for i := uint64(0); i <= MinExpirationSlots; i++ {
		env.ledger.AdvanceSlot([32]byte{byte(i)})
	}
	require.NoError(t, send(t, env.ledger, []ed25519.PrivateKey{strangerKey}, NewRequestCloseInstruction(reqKey, stranger)))

	_, err = NewRegistry(env.ledger).RequestFunction(context.Background(), reqKey, env.ledger.Slot())
	assert.ErrorIs(t, err, ledger.ErrAccountNotFound)

	reqKey, err = env.request(t, RequestInit{})
	require.NoError(t, err)
	require.NoError(t, send(t, env.ledger, []ed25519.PrivateKey{env.authKey}, NewRequestCloseInstruction(reqKey, env.authority)))
}

func TestAccountCodecs(t *testing.T) {
	req := &Request{
		Function:       interfaces.IdentityFromSeed("f"),
		Status:         RequestPending,
		ExpirationSlot: 5,
		Params:         []byte("PID=1"),
	}
	decoded, err := DecodeRequest(req.Encode())
	require.NoError(t, err)
	assert.Equal(t, req, decoded)
	assert.Equal(t, RequestExpired, decoded.StatusAt(6))

	fn := &Function{Authority: interfaces.IdentityFromSeed("a"), Measurement: testMeasurement, CreatedAt: 7}
	decodedFn, err := DecodeFunction(fn.Encode())
	require.NoError(t, err)
	assert.Equal(t, fn, decodedFn)

	_, err = DecodeFunction(req.Encode())
	assert.ErrorIs(t, err, ErrInvalidAccount)
	_, err = DecodeRequest(fn.Encode())
	assert.ErrorIs(t, err, ErrInvalidAccount)
}
