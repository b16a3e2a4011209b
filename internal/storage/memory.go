package storage

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"sorobancli/internal/models"

	"github.com/google/uuid"
)

// MemoryRepository keeps install history in process memory. It is used when
// no database is configured.
type MemoryRepository struct {
	mu            sync.RWMutex
	installations map[uuid.UUID]models.Installation
}

// NewMemoryRepository creates an empty in-memory repository
func NewMemoryRepository() *MemoryRepository {
	return &MemoryRepository{
		installations: make(map[uuid.UUID]models.Installation),
	}
}

// SaveInstallation stores a copy of inst. Saving an existing id is a no-op.
func (r *MemoryRepository) SaveInstallation(_ context.Context, inst *models.Installation) error {
	if inst == nil {
		return fmt.Errorf("failed to save installation: nil record")
	}
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, ok := r.installations[inst.ID]; ok {
		return nil
	}
	r.installations[inst.ID] = *inst
	return nil
}

// GetInstallation returns the installation with the given id
func (r *MemoryRepository) GetInstallation(_ context.Context, id uuid.UUID) (*models.Installation, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	inst, ok := r.installations[id]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	return &inst, nil
}

// ListInstallations lists installations matching filter, newest first
func (r *MemoryRepository) ListInstallations(_ context.Context, filter models.InstallationFilter) ([]*models.Installation, error) {
	r.mu.RLock()
	matched := make([]*models.Installation, 0, len(r.installations))
	for _, inst := range r.installations {
		if filter.ContractHash != "" && inst.ContractHash != filter.ContractHash {
			continue
		}
		if filter.Mode != "" && inst.Mode != filter.Mode {
			continue
		}
		inst := inst
		matched = append(matched, &inst)
	}
	r.mu.RUnlock()

	sort.Slice(matched, func(i, j int) bool {
		return matched[i].InstalledAt.After(matched[j].InstalledAt)
	})

	limit := filter.Limit
	if limit <= 0 {
		limit = DefaultListLimit
	}
	if filter.Offset >= len(matched) {
		return nil, nil
	}
	matched = matched[filter.Offset:]
	if len(matched) > limit {
		matched = matched[:limit]
	}
	return matched, nil
}

// Ping always succeeds
func (r *MemoryRepository) Ping(context.Context) error {
	return nil
}

// Close is a no-op
func (r *MemoryRepository) Close() error {
	return nil
}
