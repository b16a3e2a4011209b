package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"runtime/debug"
	"syscall"

	"sorobancli/internal/config"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

// version is overridden at build time via -ldflags "-X main.version=...".
var version = "dev"

func main() {
	config.LoadDotEnv()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	root := newRootCmd()
	if err := root.ExecuteContext(ctx); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		stop()
		os.Exit(1)
	}
}

// cli carries the state shared by every subcommand of one invocation
type cli struct {
	v       *viper.Viper
	cfgFile string
}

func newRootCmd() *cobra.Command {
	c := &cli{v: config.NewViper()}

	root := &cobra.Command{
		Use:   "soroban",
		Short: "Install Soroban contract code into a local sandbox or onto a network",
		Long: `soroban installs compiled contract WASM either into the local sandbox
ledger file or onto a network through a Soroban RPC service.

On success the hex content hash of the installed code is printed.`,
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	root.PersistentFlags().StringVar(&c.cfgFile, "config", "", "config file (yaml, toml or json)")
	root.PersistentFlags().String(config.KeyLogLevel, "warn", "Log level: debug, info, warn or error")
	root.PersistentFlags().String(config.KeyLogFormat, "json", "Log format: json or console")

	root.AddCommand(c.installCmd())
	root.AddCommand(c.ledgerCmd())
	root.AddCommand(c.historyCmd())
	root.AddCommand(versionCmd())
	return root
}

// bind makes the flags of the running command visible to viper and reads the config file
func (c *cli) bind(cmd *cobra.Command, keys ...string) error {
	for _, key := range append([]string{config.KeyLogLevel, config.KeyLogFormat}, keys...) {
		if err := c.v.BindPFlag(key, cmd.Flags().Lookup(key)); err != nil {
			return fmt.Errorf("bind flag %s: %w", key, err)
		}
	}
	return config.ReadConfigFile(c.v, c.cfgFile)
}

// ── version ──────────────────────────────────────────────────────────────────

func versionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print the soroban CLI version",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Fprintf(cmd.OutOrStdout(), "soroban %s\n", versionString())
		},
	}
}

func versionString() string {
	info, ok := debug.ReadBuildInfo()
	if !ok {
		return version
	}
	rev := ""
	for _, s := range info.Settings {
		if s.Key == "vcs.revision" && len(s.Value) >= 12 {
			rev = s.Value[:12]
		}
	}
	if rev == "" {
		return fmt.Sprintf("%s (%s)", version, info.GoVersion)
	}
	return fmt.Sprintf("%s (%s, %s)", version, rev, info.GoVersion)
}
