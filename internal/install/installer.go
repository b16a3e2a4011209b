// Package install drives a contract code installation end to end: it reads
// the artifact, then either upserts it into the local ledger file or builds,
// signs and submits an install transaction to a remote network.
package install

import (
	"context"
	"encoding/hex"
	"errors"
	"fmt"
	"os"
	"time"

	"sorobancli/internal/gateway"
	"sorobancli/internal/metrics"
	"sorobancli/internal/models"
	"sorobancli/internal/signer"
	"sorobancli/internal/snapshot"
	"sorobancli/internal/storage"
	"sorobancli/internal/txbuild"

	"github.com/google/uuid"
	"github.com/stellar/go/xdr"
	"go.uber.org/zap"
)

// GatewayFactory opens a gateway to the RPC service at url
type GatewayFactory func(url string) (gateway.Gateway, error)

// Result is the outcome of a successful install
type Result struct {
	ID           uuid.UUID
	Mode         models.InstallMode
	ContractHash xdr.Hash

	// Remote installs only
	Account  string
	TxHash   string
	TxStatus string
	Sequence int64
}

// String returns the hex content hash, the only thing printed on success
func (r Result) String() string {
	return hex.EncodeToString(r.ContractHash[:])
}

// Installer coordinates one install at a time
type Installer struct {
	gateways  GatewayFactory
	logger    *zap.Logger
	metrics   *metrics.Recorder
	history   storage.Repository
	buildOpts []txbuild.Option
	now       func() time.Time
}

// Option configures an Installer
type Option func(*Installer)

// WithGatewayFactory sets how remote gateways are opened
func WithGatewayFactory(f GatewayFactory) Option {
	return func(i *Installer) { i.gateways = f }
}

// WithLogger sets the logger
func WithLogger(l *zap.Logger) Option {
	return func(i *Installer) { i.logger = l }
}

// WithMetrics sets the metrics recorder
func WithMetrics(m *metrics.Recorder) Option {
	return func(i *Installer) { i.metrics = m }
}

// WithHistory records every successful install in repo
func WithHistory(repo storage.Repository) Option {
	return func(i *Installer) { i.history = repo }
}

// WithBuildOptions passes options to the transaction builder
func WithBuildOptions(opts ...txbuild.Option) Option {
	return func(i *Installer) { i.buildOpts = append(i.buildOpts, opts...) }
}

// WithClock replaces time.Now
func WithClock(now func() time.Time) Option {
	return func(i *Installer) { i.now = now }
}

// NewInstaller creates an Installer. Without options it talks stellar-rpc,
// logs nothing and keeps no history.
func NewInstaller(opts ...Option) *Installer {
	i := &Installer{
		gateways: func(url string) (gateway.Gateway, error) {
			return gateway.New(gateway.DialectStellarRPC, url)
		},
		logger:  zap.NewNop(),
		metrics: metrics.New(),
		now:     time.Now,
	}
	for _, opt := range opts {
		opt(i)
	}
	return i
}

// Metrics returns the recorder the installer reports to
func (i *Installer) Metrics() *metrics.Recorder {
	return i.metrics
}

// Install installs the contract at wasmPath into target.
// The first error encountered is returned and nothing is committed or submitted after it.
func (i *Installer) Install(ctx context.Context, wasmPath string, target Target) (Result, error) {
	if target == nil {
		return Result{}, errors.New("install target is required")
	}
	switch t := target.(type) {
	case RemoteTarget:
		if t.Secret != nil {
			defer t.Secret.Close()
		}
	case LocalTarget:
		if t.LedgerFile == "" {
			target = LocalTarget{LedgerFile: snapshot.DefaultPath}
		}
	}

	start := i.now()
	id := uuid.New()
	mode := target.Mode()
	log := i.logger.With(
		zap.String("install_id", id.String()),
		zap.String("mode", string(mode)),
		zap.String("wasm", wasmPath),
	)

	res, codeSize, err := i.install(ctx, log, wasmPath, target)
	elapsed := i.now().Sub(start)
	if err != nil {
		i.metrics.ObserveFailure(string(mode), ErrorKind(err), elapsed)
		log.Debug("Install failed", zap.Duration("elapsed", elapsed), zap.Error(err))
		return Result{}, err
	}
	res.ID = id
	res.Mode = mode

	i.metrics.ObserveSuccess(string(mode), elapsed, codeSize, start)
	log.Info("Contract installed",
		zap.String("contract_hash", res.String()),
		zap.Int("code_size", codeSize),
		zap.Duration("elapsed", elapsed),
	)

	i.record(ctx, log, res, target, codeSize, start, elapsed)
	return res, nil
}

func (i *Installer) install(ctx context.Context, log *zap.Logger, wasmPath string, target Target) (Result, int, error) {
	code, err := readArtifact(wasmPath)
	if err != nil {
		return Result{}, 0, err
	}
	log.Debug("Read contract artifact", zap.Int("code_size", len(code)))

	switch t := target.(type) {
	case LocalTarget:
		res, err := i.installLocal(log, code, t)
		return res, len(code), err
	case RemoteTarget:
		res, err := i.installRemote(ctx, log, code, t)
		return res, len(code), err
	default:
		return Result{}, 0, fmt.Errorf("unsupported install target %T", target)
	}
}

func readArtifact(path string) ([]byte, error) {
	code, err := os.ReadFile(path)
	if err != nil {
		return nil, &ArtifactError{Path: path, Err: err}
	}
	return code, nil
}

func (i *Installer) installLocal(log *zap.Logger, code []byte, t LocalTarget) (Result, error) {
	path := t.LedgerFile
	snap, err := snapshot.Load(path)
	if err != nil {
		return Result{}, err
	}

	codeHash, err := snap.UpsertContractCode(code)
	if err != nil {
		return Result{}, fmt.Errorf("failed to upsert contract code: %w", err)
	}

	// The header is written back unchanged
	if err := snapshot.Commit(snap, snap.Info, path); err != nil {
		return Result{}, err
	}
	i.metrics.LedgerEntries.Set(float64(snap.Len()))

	log.Debug("Committed local ledger",
		zap.String("ledger_file", path),
		zap.Int("entries", snap.Len()),
	)
	return Result{ContractHash: codeHash}, nil
}

func (i *Installer) installRemote(ctx context.Context, log *zap.Logger, code []byte, t RemoteTarget) (Result, error) {
	if t.Secret == nil {
		return Result{}, fmt.Errorf("%w: no secret key provided", signer.ErrInvalidSecretKey)
	}

	kp, err := signer.ParseSecretKey(t.Secret)
	if err != nil {
		return Result{}, err
	}
	address := kp.Address()

	gw, err := i.gateways(t.RPCURL)
	if err != nil {
		return Result{}, fmt.Errorf("failed to open rpc gateway: %w", err)
	}
	defer gw.Close()

	account, err := gw.GetAccount(ctx, address)
	if err != nil {
		return Result{}, err
	}
	log.Debug("Fetched source account",
		zap.String("account", address),
		zap.Int64("sequence", account.Sequence),
	)

	tx, codeHash, err := txbuild.BuildInstall(code, account.Sequence, t.Fee, address, i.buildOpts...)
	if err != nil {
		return Result{}, err
	}

	env, err := signer.Sign(tx, kp, t.Passphrase)
	if err != nil {
		return Result{}, err
	}
	t.Secret.Close()

	if err := signer.Verify(env, address, t.Passphrase); err != nil {
		return Result{}, fmt.Errorf("signed envelope failed self-check: %w", err)
	}

	submitted, err := gw.Submit(ctx, env)
	if err != nil {
		return Result{}, err
	}
	log.Info("Submitted install transaction",
		zap.String("tx_hash", submitted.Hash),
		zap.String("status", submitted.Status),
		zap.Int64("sequence", int64(tx.SeqNum)),
	)

	return Result{
		ContractHash: codeHash,
		Account:      address,
		TxHash:       submitted.Hash,
		TxStatus:     submitted.Status,
		Sequence:     int64(tx.SeqNum),
	}, nil
}

// record saves the install in the history repository. Failures are logged only.
func (i *Installer) record(ctx context.Context, log *zap.Logger, res Result, target Target, codeSize int, at time.Time, elapsed time.Duration) {
	if i.history == nil {
		return
	}

	inst := &models.Installation{
		ID:           res.ID,
		ContractHash: res.String(),
		Mode:         res.Mode,
		CodeSize:     codeSize,
		InstalledAt:  at.UTC(),
		DurationMs:   elapsed.Milliseconds(),
	}
	switch t := target.(type) {
	case LocalTarget:
		inst.LedgerFile = t.LedgerFile
	case RemoteTarget:
		inst.RPCURL = t.RPCURL
		inst.NetworkPassphrase = t.Passphrase
		inst.SourceAccount = res.Account
		inst.Sequence = res.Sequence
		inst.TxHash = res.TxHash
		inst.TxStatus = res.TxStatus
	}

	if err := i.history.SaveInstallation(ctx, inst); err != nil {
		log.Warn("Failed to record install history", zap.Error(err))
	}
}
