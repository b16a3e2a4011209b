package storage

import (
	"context"
	"errors"

	"sorobancli/internal/models"

	"github.com/google/uuid"
)

// ErrNotFound is returned when an installation record does not exist
var ErrNotFound = errors.New("installation not found")

// Repository defines the interface for install history storage
type Repository interface {
	SaveInstallation(ctx context.Context, inst *models.Installation) error
	GetInstallation(ctx context.Context, id uuid.UUID) (*models.Installation, error)
	ListInstallations(ctx context.Context, filter models.InstallationFilter) ([]*models.Installation, error)

	// Health & Maintenance
	Ping(ctx context.Context) error
	Close() error
}

// DefaultListLimit caps listings that do not set a limit
const DefaultListLimit = 50
