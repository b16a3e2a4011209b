package models

import (
	"time"

	"github.com/google/uuid"
)

// InstallMode says where contract code was installed
type InstallMode string

const (
	ModeLocal  InstallMode = "local"
	ModeRemote InstallMode = "remote"
)

// Installation records one successful contract code installation
type Installation struct {
	ID           uuid.UUID   `json:"id"`
	ContractHash string      `json:"contract_hash"` // hex SHA-256 of the wasm
	Mode         InstallMode `json:"mode"`
	CodeSize     int         `json:"code_size"`

	// Local installs
	LedgerFile string `json:"ledger_file,omitempty"`

	// Remote installs
	RPCURL            string `json:"rpc_url,omitempty"`
	NetworkPassphrase string `json:"network_passphrase,omitempty"`
	SourceAccount     string `json:"source_account,omitempty"`
	Sequence          int64  `json:"sequence,omitempty"` // sequence number used by the transaction
	TxHash            string `json:"tx_hash,omitempty"`
	TxStatus          string `json:"tx_status,omitempty"`

	InstalledAt time.Time `json:"installed_at"`
	DurationMs  int64     `json:"duration_ms"`
}

// InstallationFilter narrows a history listing
type InstallationFilter struct {
	ContractHash string
	Mode         InstallMode
	Limit        int
	Offset       int
}
