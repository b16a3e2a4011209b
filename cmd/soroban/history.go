package main

import (
	"encoding/json"
	"fmt"

	"sorobancli/internal/config"
	"sorobancli/internal/models"
	"sorobancli/internal/storage"

	"github.com/spf13/cobra"
)

// ── history ──────────────────────────────────────────────────────────────────

func (c *cli) historyCmd() *cobra.Command {
	var filter models.InstallationFilter
	var mode string

	cmd := &cobra.Command{
		Use:   "history",
		Short: "List recorded installs from the history database",
		Args:  cobra.NoArgs,
		PreRunE: func(cmd *cobra.Command, args []string) error {
			return c.bind(cmd, config.KeyDatabaseURL)
		},
		RunE: func(cmd *cobra.Command, args []string) error {
			url := c.v.GetString(config.KeyDatabaseURL)
			if url == "" {
				return fmt.Errorf("--database-url is required")
			}
			switch models.InstallMode(mode) {
			case "", models.ModeLocal, models.ModeRemote:
				filter.Mode = models.InstallMode(mode)
			default:
				return fmt.Errorf("unknown mode %q", mode)
			}

			repo, err := storage.NewPostgresRepository(cmd.Context(), url)
			if err != nil {
				return err
			}
			defer repo.Close()

			return printHistory(cmd, repo, filter)
		},
	}

	flags := cmd.Flags()
	flags.String(config.KeyDatabaseURL, "", "Postgres URL holding install history")
	flags.StringVar(&filter.ContractHash, "contract-hash", "", "Only show installs of this hex content hash")
	flags.StringVar(&mode, "mode", "", "Only show local or remote installs")
	flags.IntVar(&filter.Limit, "limit", storage.DefaultListLimit, "Maximum number of records")
	flags.IntVar(&filter.Offset, "offset", 0, "Records to skip")

	return cmd
}

// printHistory writes one JSON document per installation
func printHistory(cmd *cobra.Command, repo storage.Repository, filter models.InstallationFilter) error {
	installations, err := repo.ListInstallations(cmd.Context(), filter)
	if err != nil {
		return err
	}

	enc := json.NewEncoder(cmd.OutOrStdout())
	for _, inst := range installations {
		if err := enc.Encode(inst); err != nil {
			return fmt.Errorf("failed to encode installation: %w", err)
		}
	}
	return nil
}
