package install

import (
	"sorobancli/internal/models"
	"sorobancli/internal/secret"
)

// Target says where contract code is installed. It is either a LocalTarget
// or a RemoteTarget.
type Target interface {
	Mode() models.InstallMode
	isTarget()
}

// LocalTarget installs into the sandbox ledger file
type LocalTarget struct {
	LedgerFile string
}

// RemoteTarget submits an install transaction to a network through its RPC service.
// Install takes ownership of Secret and closes it once the transaction is signed.
type RemoteTarget struct {
	RPCURL     string
	Passphrase string
	Fee        uint32
	Secret     *secret.Buffer
}

func (LocalTarget) Mode() models.InstallMode  { return models.ModeLocal }
func (RemoteTarget) Mode() models.InstallMode { return models.ModeRemote }

func (LocalTarget) isTarget()  {}
func (RemoteTarget) isTarget() {}
