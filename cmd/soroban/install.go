package main

import (
	"context"
	"fmt"

	"sorobancli/internal/config"
	"sorobancli/internal/gateway"
	"sorobancli/internal/install"
	"sorobancli/internal/logging"
	"sorobancli/internal/metrics"
	"sorobancli/internal/snapshot"
	"sorobancli/internal/storage"

	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

// ── install ──────────────────────────────────────────────────────────────────

var installKeys = []string{
	config.KeyWasm,
	config.KeyLedgerFile,
	config.KeyRPCURL,
	config.KeySecretKey,
	config.KeyNetworkPassphrase,
	config.KeyFee,
	config.KeyRPCDialect,
	config.KeyRPCTimeout,
	config.KeyDatabaseURL,
	config.KeyMetricsFile,
}

func (c *cli) installCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "install",
		Short: "Install a WASM contract into the sandbox ledger or onto a network",
		Long: `Install reads a compiled contract and installs its code.

Without --rpc-url the code is written into the sandbox ledger file.
With --rpc-url an install transaction is signed with --secret-key for
--network-passphrase and submitted to the RPC service.`,
		Args: cobra.NoArgs,
		PreRunE: func(cmd *cobra.Command, args []string) error {
			return c.bind(cmd, installKeys...)
		},
		RunE: c.runInstall,
	}

	flags := cmd.Flags()
	flags.String(config.KeyWasm, "", "WASM file to install")
	flags.String(config.KeyLedgerFile, snapshot.DefaultPath, "File to persist ledger state")
	flags.String(config.KeySecretKey, "", "Secret 'S' key used to sign the transaction sent to the rpc server")
	flags.String(config.KeyRPCURL, "", "RPC server endpoint")
	flags.String(config.KeyNetworkPassphrase, "", "Network passphrase to sign the transaction sent to the rpc server")
	flags.Uint32(config.KeyFee, config.DefaultFee, "Flat transaction fee in stroops")
	flags.String(config.KeyRPCDialect, string(gateway.DialectStellarRPC), "RPC method set: stellar-rpc or legacy")
	flags.Duration(config.KeyRPCTimeout, 0, "Timeout for each RPC request (default 30s)")
	flags.String(config.KeyDatabaseURL, "", "Postgres URL for install history (no history is recorded when empty)")
	flags.String(config.KeyMetricsFile, "", "Write Prometheus metrics to this file after the install")
	return cmd
}

func (c *cli) runInstall(cmd *cobra.Command, _ []string) error {
	cfg, err := config.Load(c.v)
	if err != nil {
		return err
	}

	logger, err := logging.New(cfg.LogLevel, cfg.LogFormat)
	if err != nil {
		return err
	}
	defer logger.Sync() //nolint:errcheck

	// Mode selection happens before any file or network access
	target, err := cfg.Target()
	if err != nil {
		return err
	}

	ctx := cmd.Context()
	rec := metrics.New()
	opts := []install.Option{
		install.WithGatewayFactory(cfg.GatewayFactory(logger)),
		install.WithLogger(logger),
		install.WithMetrics(rec),
	}
	if history := openHistory(ctx, cfg, logger); history != nil {
		defer history.Close()
		opts = append(opts, install.WithHistory(history))
	}
	installer := install.NewInstaller(opts...)

	res, err := installer.Install(ctx, cfg.WasmPath, target)

	if cfg.MetricsFile != "" {
		if werr := rec.WriteTextfile(cfg.MetricsFile); werr != nil {
			logger.Warn("Failed to write metrics", zap.String("path", cfg.MetricsFile), zap.Error(werr))
		}
	}
	if err != nil {
		return err
	}

	fmt.Fprintln(cmd.OutOrStdout(), res.String())
	return nil
}

// openHistory connects to Postgres when configured. It returns nil when no
// database is set or it cannot be reached; the install still runs.
func openHistory(ctx context.Context, cfg *config.Config, logger *zap.Logger) storage.Repository {
	if cfg.DatabaseURL == "" {
		return nil
	}
	repo, err := storage.NewPostgresRepository(ctx, cfg.DatabaseURL)
	if err != nil {
		logger.Warn("Install history unavailable, not recording this install", zap.Error(err))
		return nil
	}
	return repo
}
