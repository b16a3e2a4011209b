package storage

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"sorobancli/internal/models"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

const schema = `
	CREATE TABLE IF NOT EXISTS contract_installations (
		id                 UUID PRIMARY KEY,
		contract_hash      TEXT NOT NULL,
		mode               TEXT NOT NULL,
		code_size          INTEGER NOT NULL,
		ledger_file        TEXT NOT NULL DEFAULT '',
		rpc_url            TEXT NOT NULL DEFAULT '',
		network_passphrase TEXT NOT NULL DEFAULT '',
		source_account     TEXT NOT NULL DEFAULT '',
		sequence           BIGINT NOT NULL DEFAULT 0,
		tx_hash            TEXT NOT NULL DEFAULT '',
		tx_status          TEXT NOT NULL DEFAULT '',
		installed_at       TIMESTAMPTZ NOT NULL,
		duration_ms        BIGINT NOT NULL DEFAULT 0
	);
	CREATE INDEX IF NOT EXISTS contract_installations_hash_idx
		ON contract_installations (contract_hash, installed_at DESC);
`

const installationColumns = `
	id, contract_hash, mode, code_size, ledger_file, rpc_url,
	network_passphrase, source_account, sequence, tx_hash, tx_status,
	installed_at, duration_ms
`

// PostgresRepository implements the Repository interface using PostgreSQL
type PostgresRepository struct {
	pool *pgxpool.Pool
}

// NewPostgresRepository creates a new PostgreSQL repository and makes sure
// the installations table exists
func NewPostgresRepository(ctx context.Context, databaseURL string) (*PostgresRepository, error) {
	pool, err := pgxpool.New(ctx, databaseURL)
	if err != nil {
		return nil, fmt.Errorf("failed to create connection pool: %w", err)
	}

	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	if _, err := pool.Exec(ctx, schema); err != nil {
		pool.Close()
		return nil, fmt.Errorf("failed to create schema: %w", err)
	}

	return &PostgresRepository{
		pool: pool,
	}, nil
}

// SaveInstallation saves an installation record
func (r *PostgresRepository) SaveInstallation(ctx context.Context, inst *models.Installation) error {
	query := `
		INSERT INTO contract_installations (` + installationColumns + `)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13)
		ON CONFLICT (id) DO NOTHING
	`

	_, err := r.pool.Exec(ctx, query, installationArgs(inst)...)
	if err != nil {
		return fmt.Errorf("failed to save installation: %w", err)
	}

	return nil
}

// GetInstallation retrieves an installation by id
func (r *PostgresRepository) GetInstallation(ctx context.Context, id uuid.UUID) (*models.Installation, error) {
	query := `SELECT ` + installationColumns + ` FROM contract_installations WHERE id = $1`

	inst, err := scanInstallation(r.pool.QueryRow(ctx, query, id))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get installation: %w", err)
	}

	return inst, nil
}

// ListInstallations lists installations, newest first
func (r *PostgresRepository) ListInstallations(ctx context.Context, filter models.InstallationFilter) ([]*models.Installation, error) {
	query, args := listQuery(filter)
	rows, err := r.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list installations: %w", err)
	}
	defer rows.Close()

	var installations []*models.Installation
	for rows.Next() {
		inst, err := scanInstallation(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan installation: %w", err)
		}
		installations = append(installations, inst)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating installations: %w", err)
	}

	return installations, nil
}

func installationArgs(inst *models.Installation) []any {
	return []any{
		inst.ID,
		inst.ContractHash,
		string(inst.Mode),
		inst.CodeSize,
		inst.LedgerFile,
		inst.RPCURL,
		inst.NetworkPassphrase,
		inst.SourceAccount,
		inst.Sequence,
		inst.TxHash,
		inst.TxStatus,
		inst.InstalledAt,
		inst.DurationMs,
	}
}

// listQuery builds the SELECT for filter. Only the conditions that are set
// appear in the WHERE clause.
func listQuery(filter models.InstallationFilter) (string, []any) {
	var (
		conds []string
		args  []any
	)
	if filter.ContractHash != "" {
		args = append(args, filter.ContractHash)
		conds = append(conds, fmt.Sprintf("contract_hash = $%d", len(args)))
	}
	if filter.Mode != "" {
		args = append(args, string(filter.Mode))
		conds = append(conds, fmt.Sprintf("mode = $%d", len(args)))
	}

	limit := filter.Limit
	if limit <= 0 {
		limit = DefaultListLimit
	}
	offset := filter.Offset
	if offset < 0 {
		offset = 0
	}

	var b strings.Builder
	b.WriteString("SELECT " + strings.Join(strings.Fields(installationColumns), " "))
	b.WriteString(" FROM contract_installations")
	if len(conds) > 0 {
		b.WriteString(" WHERE " + strings.Join(conds, " AND "))
	}
	args = append(args, limit, offset)
	fmt.Fprintf(&b, " ORDER BY installed_at DESC LIMIT $%d OFFSET $%d", len(args)-1, len(args))

	return b.String(), args
}

func scanInstallation(row pgx.Row) (*models.Installation, error) {
	var inst models.Installation
	var mode string

	err := row.Scan(
		&inst.ID,
		&inst.ContractHash,
		&mode,
		&inst.CodeSize,
		&inst.LedgerFile,
		&inst.RPCURL,
		&inst.NetworkPassphrase,
		&inst.SourceAccount,
		&inst.Sequence,
		&inst.TxHash,
		&inst.TxStatus,
		&inst.InstalledAt,
		&inst.DurationMs,
	)
	if err != nil {
		return nil, err
	}

	inst.Mode = models.InstallMode(mode)
	return &inst, nil
}

// Ping checks database connectivity
func (r *PostgresRepository) Ping(ctx context.Context) error {
	return r.pool.Ping(ctx)
}

// Close closes the database connection pool
func (r *PostgresRepository) Close() error {
	r.pool.Close()
	return nil
}
