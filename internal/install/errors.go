package install

import (
	"errors"
	"fmt"

	"sorobancli/internal/gateway"
	"sorobancli/internal/signer"
	"sorobancli/internal/snapshot"
	"sorobancli/internal/txbuild"
)

// ErrArtifactUnreadable is returned when the contract file cannot be read
var ErrArtifactUnreadable = errors.New("contract artifact unreadable")

// ArtifactError records the artifact path that could not be read
type ArtifactError struct {
	Path string
	Err  error
}

func (e *ArtifactError) Error() string {
	return fmt.Sprintf("%v: %s: %v", ErrArtifactUnreadable, e.Path, e.Err)
}

// Unwrap exposes both the kind and the cause to errors.Is / errors.As
func (e *ArtifactError) Unwrap() []error {
	return []error{ErrArtifactUnreadable, e.Err}
}

// ErrorKind returns a short, stable label for err, used in metrics
func ErrorKind(err error) string {
	switch {
	case err == nil:
		return ""
	case errors.Is(err, ErrArtifactUnreadable):
		return "artifact_unreadable"
	case errors.Is(err, snapshot.ErrUnreadable):
		return "snapshot_unreadable"
	case errors.Is(err, snapshot.ErrWriteFailure):
		return "snapshot_write_failure"
	case errors.Is(err, signer.ErrInvalidSecretKey):
		return "invalid_secret_key"
	case errors.Is(err, txbuild.ErrEncoding):
		return "encoding"
	case errors.Is(err, gateway.ErrAccountNotFound):
		return "account_not_found"
	case errors.Is(err, gateway.ErrRejected):
		return "rejected"
	case errors.Is(err, gateway.ErrNetwork):
		return "network"
	default:
		return "other"
	}
}
