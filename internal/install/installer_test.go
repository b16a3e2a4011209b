package install

import (
	"context"
	"encoding/hex"
	"errors"
	"os"
	"path/filepath"
	"sync"
	"testing"

	"sorobancli/internal/contract"
	"sorobancli/internal/gateway"
	"sorobancli/internal/metrics"
	"sorobancli/internal/models"
	"sorobancli/internal/secret"
	"sorobancli/internal/signer"
	"sorobancli/internal/snapshot"
	"sorobancli/internal/storage"

	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stellar/go/keypair"
	"github.com/stellar/go/network"
	"github.com/stellar/go/xdr"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest/observer"
)

const (
	testSeed = "SBFGFF27Y64ZUGFAIG5AMJGQODZZKV2YQKAVUUN4HNE24XZXD2OEUVUP"
	// sha256("foo")
	fooHash = "2c26b46b68ffc68ff99b453c1d30413413422d706483bfa0f98a5e886266e7ae"
)

type fakeGateway struct {
	mu        sync.Mutex
	account   gateway.Account
	getErr    error
	submitErr error
	submitted []xdr.TransactionEnvelope
	closed    bool
}

func (g *fakeGateway) GetAccount(_ context.Context, address string) (gateway.Account, error) {
	if g.getErr != nil {
		return gateway.Account{}, g.getErr
	}
	acc := g.account
	acc.Address = address
	return acc, nil
}

func (g *fakeGateway) Submit(_ context.Context, env xdr.TransactionEnvelope) (gateway.SubmitResult, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.submitErr != nil {
		return gateway.SubmitResult{}, g.submitErr
	}
	g.submitted = append(g.submitted, env)
	return gateway.SubmitResult{Hash: "cafe", Status: "PENDING"}, nil
}

func (g *fakeGateway) Close() error {
	g.closed = true
	return nil
}

func factoryFor(gw gateway.Gateway) (GatewayFactory, *[]string) {
	var urls []string
	return func(url string) (gateway.Gateway, error) {
		urls = append(urls, url)
		return gw, nil
	}, &urls
}

type failingRepo struct {
	*storage.MemoryRepository
}

func (*failingRepo) SaveInstallation(context.Context, *models.Installation) error {
	return errors.New("database is down")
}

func writeWasm(t *testing.T, dir string, code []byte) string {
	t.Helper()
	path := filepath.Join(dir, "contract.wasm")
	require.NoError(t, os.WriteFile(path, code, 0o644))
	return path
}

func newSecret(t *testing.T, seed string) *secret.Buffer {
	t.Helper()
	buf, err := secret.FromString(seed)
	require.NoError(t, err)
	return buf
}

func TestInstall_Local(t *testing.T) {
	dir := t.TempDir()
	ledger := filepath.Join(dir, ".soroban", "ledger.json")
	require.NoError(t, snapshot.Init(ledger, snapshot.DefaultLedgerInfo()))
	wasm := writeWasm(t, dir, []byte("foo"))

	history := storage.NewMemoryRepository()
	rec := metrics.New()
	inst := NewInstaller(WithHistory(history), WithMetrics(rec))

	first, err := inst.Install(context.Background(), wasm, LocalTarget{LedgerFile: ledger})
	require.NoError(t, err)
	assert.Equal(t, fooHash, first.String())
	assert.Equal(t, models.ModeLocal, first.Mode)

	second, err := inst.Install(context.Background(), wasm, LocalTarget{LedgerFile: ledger})
	require.NoError(t, err)
	assert.Equal(t, first.String(), second.String())
	assert.NotEqual(t, first.ID, second.ID)

	snap, err := snapshot.Load(ledger)
	require.NoError(t, err)
	assert.Equal(t, 1, snap.Len())
	entry, ok := snap.Get(contract.CodeKey(first.ContractHash))
	require.True(t, ok)
	assert.Equal(t, []byte("foo"), entry.Data.MustContractCode().Code)

	records, err := history.ListInstallations(context.Background(), models.InstallationFilter{ContractHash: fooHash})
	require.NoError(t, err)
	require.Len(t, records, 2)
	assert.Equal(t, ledger, records[0].LedgerFile)
	assert.Equal(t, 3, records[0].CodeSize)

	assert.Equal(t, 2.0, testutil.ToFloat64(rec.InstallsTotal.WithLabelValues("local", metrics.ResultSuccess)))
	assert.Equal(t, 1.0, testutil.ToFloat64(rec.LedgerEntries))
}

func TestInstall_LocalMissingSnapshot(t *testing.T) {
	dir := t.TempDir()
	ledger := filepath.Join(dir, "missing", "ledger.json")
	wasm := writeWasm(t, dir, []byte("foo"))

	rec := metrics.New()
	inst := NewInstaller(WithMetrics(rec))

	_, err := inst.Install(context.Background(), wasm, LocalTarget{LedgerFile: ledger})
	require.Error(t, err)
	assert.True(t, errors.Is(err, snapshot.ErrUnreadable))
	assert.Contains(t, err.Error(), ledger)

	assert.NoFileExists(t, ledger)
	assert.Equal(t, 1.0, testutil.ToFloat64(rec.ErrorsTotal.WithLabelValues("snapshot_unreadable")))
}

func TestInstall_ArtifactUnreadable(t *testing.T) {
	dir := t.TempDir()
	ledger := filepath.Join(dir, "ledger.json")
	require.NoError(t, snapshot.Init(ledger, snapshot.DefaultLedgerInfo()))
	before, err := os.ReadFile(ledger)
	require.NoError(t, err)

	wasm := filepath.Join(dir, "nope.wasm")
	_, err = NewInstaller().Install(context.Background(), wasm, LocalTarget{LedgerFile: ledger})
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrArtifactUnreadable))
	assert.True(t, errors.Is(err, os.ErrNotExist))

	var artifactErr *ArtifactError
	require.True(t, errors.As(err, &artifactErr))
	assert.Equal(t, wasm, artifactErr.Path)

	after, err := os.ReadFile(ledger)
	require.NoError(t, err)
	assert.Equal(t, before, after)
}

func TestInstall_Remote(t *testing.T) {
	wasm := writeWasm(t, t.TempDir(), []byte("foo"))
	kp, err := keypair.ParseFull(testSeed)
	require.NoError(t, err)

	gw := &fakeGateway{account: gateway.Account{Sequence: 300}}
	factory, urls := factoryFor(gw)
	history := storage.NewMemoryRepository()
	buf := newSecret(t, testSeed)

	inst := NewInstaller(WithGatewayFactory(factory), WithHistory(history))
	res, err := inst.Install(context.Background(), wasm, RemoteTarget{
		RPCURL:     "http://rpc.example",
		Passphrase: network.PublicNetworkPassphrase,
		Fee:        1,
		Secret:     buf,
	})
	require.NoError(t, err)

	assert.Equal(t, fooHash, res.String())
	assert.Equal(t, "cafe", res.TxHash)
	assert.Equal(t, int64(301), res.Sequence)
	assert.Equal(t, kp.Address(), res.Account)
	assert.Equal(t, []string{"http://rpc.example"}, *urls)
	assert.True(t, gw.closed)

	require.Len(t, gw.submitted, 1)
	env := gw.submitted[0]
	tx := env.V1.Tx
	assert.Equal(t, xdr.SequenceNumber(301), tx.SeqNum)
	assert.Equal(t, xdr.Uint32(1), tx.Fee)
	assert.Equal(t, kp.Address(), tx.SourceAccount.Address())
	assert.NoError(t, signer.Verify(env, kp.Address(), network.PublicNetworkPassphrase))
	assert.Error(t, signer.Verify(env, kp.Address(), network.TestNetworkPassphrase))

	// The secret does not outlive the install
	err = buf.Use(func([]byte) error { return nil })
	assert.True(t, errors.Is(err, secret.ErrClosed))

	records, err := history.ListInstallations(context.Background(), models.InstallationFilter{Mode: models.ModeRemote})
	require.NoError(t, err)
	require.Len(t, records, 1)
	assert.Equal(t, kp.Address(), records[0].SourceAccount)
	assert.Equal(t, "cafe", records[0].TxHash)
	assert.Equal(t, int64(301), records[0].Sequence)
	assert.Equal(t, res.ID, records[0].ID)
}

func TestInstall_RemoteErrors(t *testing.T) {
	rejected := &gateway.RejectedError{Status: "ERROR", Payload: "AAAA"}

	tests := []struct {
		name       string
		seed       string
		gw         *fakeGateway
		wantErr    error
		wantSubmit bool
	}{
		{
			name:    "invalid secret",
			seed:    "SNOTAKEY",
			gw:      &fakeGateway{},
			wantErr: signer.ErrInvalidSecretKey,
		},
		{
			name:    "public key as secret",
			seed:    "GAXXX",
			gw:      &fakeGateway{},
			wantErr: signer.ErrInvalidSecretKey,
		},
		{
			name:    "account not found",
			seed:    testSeed,
			gw:      &fakeGateway{getErr: gateway.ErrAccountNotFound},
			wantErr: gateway.ErrAccountNotFound,
		},
		{
			name:    "network",
			seed:    testSeed,
			gw:      &fakeGateway{getErr: errors.Join(gateway.ErrNetwork, errors.New("connection refused"))},
			wantErr: gateway.ErrNetwork,
		},
		{
			name:    "rejected",
			seed:    testSeed,
			gw:      &fakeGateway{account: gateway.Account{Sequence: 1}, submitErr: rejected},
			wantErr: gateway.ErrRejected,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			wasm := writeWasm(t, t.TempDir(), []byte("foo"))
			factory, urls := factoryFor(tt.gw)
			rec := metrics.New()

			_, err := NewInstaller(WithGatewayFactory(factory), WithMetrics(rec)).Install(
				context.Background(), wasm, RemoteTarget{
					RPCURL:     "http://rpc.example",
					Passphrase: network.TestNetworkPassphrase,
					Fee:        100,
					Secret:     newSecret(t, tt.seed),
				})
			require.Error(t, err)
			assert.True(t, errors.Is(err, tt.wantErr), "got %v", err)
			assert.Empty(t, tt.gw.submitted)
			assert.Equal(t, 1.0, testutil.ToFloat64(rec.InstallsTotal.WithLabelValues("remote", metrics.ResultFailure)))

			if errors.Is(err, signer.ErrInvalidSecretKey) {
				assert.Empty(t, *urls, "no network I/O with a bad key")
			}
		})
	}
}

func TestInstall_RemoteRejectedCarriesPayload(t *testing.T) {
	wasm := writeWasm(t, t.TempDir(), []byte("foo"))
	gw := &fakeGateway{submitErr: &gateway.RejectedError{Status: "ERROR", Payload: "tx_bad_seq"}}
	factory, _ := factoryFor(gw)

	_, err := NewInstaller(WithGatewayFactory(factory)).Install(context.Background(), wasm, RemoteTarget{
		RPCURL:     "http://rpc.example",
		Passphrase: network.TestNetworkPassphrase,
		Fee:        100,
		Secret:     newSecret(t, testSeed),
	})

	var rejected *gateway.RejectedError
	require.True(t, errors.As(err, &rejected))
	assert.Equal(t, "tx_bad_seq", rejected.Payload)
}

func TestInstall_GatewayFactoryError(t *testing.T) {
	wasm := writeWasm(t, t.TempDir(), []byte("foo"))
	factory := func(string) (gateway.Gateway, error) {
		return nil, errors.New("unknown rpc dialect")
	}

	_, err := NewInstaller(WithGatewayFactory(factory)).Install(context.Background(), wasm, RemoteTarget{
		RPCURL:     "http://rpc.example",
		Passphrase: network.TestNetworkPassphrase,
		Fee:        100,
		Secret:     newSecret(t, testSeed),
	})
	assert.ErrorContains(t, err, "unknown rpc dialect")
}

func TestInstall_HistoryFailureIsNotFatal(t *testing.T) {
	dir := t.TempDir()
	ledger := filepath.Join(dir, "ledger.json")
	require.NoError(t, snapshot.Init(ledger, snapshot.DefaultLedgerInfo()))
	wasm := writeWasm(t, dir, []byte("foo"))

	core, logs := observer.New(zap.WarnLevel)
	inst := NewInstaller(WithHistory(&failingRepo{MemoryRepository: storage.NewMemoryRepository()}), WithLogger(zap.New(core)))

	res, err := inst.Install(context.Background(), wasm, LocalTarget{LedgerFile: ledger})
	require.NoError(t, err)
	assert.Equal(t, fooHash, res.String())

	warnings := logs.FilterMessage("Failed to record install history").All()
	require.Len(t, warnings, 1)
	assert.Equal(t, res.ID.String(), warnings[0].ContextMap()["install_id"])
}

func TestInstall_NilTarget(t *testing.T) {
	_, err := NewInstaller().Install(context.Background(), "contract.wasm", nil)
	assert.Error(t, err)
}

func TestResult_String(t *testing.T) {
	raw, err := hex.DecodeString(fooHash)
	require.NoError(t, err)
	var h xdr.Hash
	copy(h[:], raw)

	assert.Equal(t, fooHash, Result{ID: uuid.New(), ContractHash: h}.String())
}

func TestErrorKind(t *testing.T) {
	tests := []struct {
		err  error
		want string
	}{
		{nil, ""},
		{&ArtifactError{Path: "x", Err: os.ErrNotExist}, "artifact_unreadable"},
		{&snapshot.PathError{Kind: snapshot.ErrWriteFailure, Path: "x", Err: os.ErrPermission}, "snapshot_write_failure"},
		{&gateway.RejectedError{Status: "ERROR"}, "rejected"},
		{errors.New("boom"), "other"},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, ErrorKind(tt.err))
	}
}
