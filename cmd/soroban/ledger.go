package main

import (
	"fmt"

	"sorobancli/internal/config"
	"sorobancli/internal/snapshot"

	"github.com/spf13/cobra"
)

// ── ledger ───────────────────────────────────────────────────────────────────

func (c *cli) ledgerCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "ledger",
		Short: "Manage the sandbox ledger file",
	}
	cmd.AddCommand(c.ledgerInitCmd())
	return cmd
}

func (c *cli) ledgerInitCmd() *cobra.Command {
	info := snapshot.DefaultLedgerInfo()

	cmd := &cobra.Command{
		Use:   "init",
		Short: "Create an empty sandbox ledger file",
		Args:  cobra.NoArgs,
		PreRunE: func(cmd *cobra.Command, args []string) error {
			return c.bind(cmd, config.KeyLedgerFile)
		},
		RunE: func(cmd *cobra.Command, args []string) error {
			path := c.v.GetString(config.KeyLedgerFile)
			if err := snapshot.Init(path, info); err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), path)
			return nil
		},
	}

	flags := cmd.Flags()
	flags.String(config.KeyLedgerFile, snapshot.DefaultPath, "File to persist ledger state")
	flags.Uint32Var(&info.ProtocolVersion, "protocol-version", info.ProtocolVersion, "Ledger protocol version")
	flags.Uint32Var(&info.SequenceNumber, "sequence", info.SequenceNumber, "Ledger sequence number")
	flags.Uint64Var(&info.Timestamp, "timestamp", info.Timestamp, "Ledger close time (unix seconds)")
	flags.StringVar(&info.NetworkPassphrase, "passphrase", info.NetworkPassphrase, "Sandbox network passphrase")
	flags.Uint32Var(&info.BaseReserve, "base-reserve", info.BaseReserve, "Base reserve")

	return cmd
}
