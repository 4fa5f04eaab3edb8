package project

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/softwareforge/forge/internal/store"
	"gorm.io/gorm"
)

// Manager provides access to the local project table.
type Manager interface {
	// Get retrieves a project by server GUID.
	Get(ctx context.Context, guid uuid.UUID) (*Project, error)

	// Add records p. Fails with ErrProjectExists if the GUID is known.
	Add(ctx context.Context, p *Project) error

	// List returns the projects recorded for a collection.
	List(ctx context.Context, collection uuid.UUID) ([]Project, error)

	// DeleteByCollection removes every project of a collection and
	// returns how many rows went.
	DeleteByCollection(ctx context.Context, collection uuid.UUID) (int64, error)
}

type manager struct {
	repo *store.Repository[Project]
}

// NewManager creates a gorm-backed Manager.
func NewManager(db *gorm.DB) Manager {
	return &manager{repo: store.NewRepository[Project](db)}
}

func (m *manager) Get(ctx context.Context, guid uuid.UUID) (*Project, error) {
	if guid == uuid.Nil {
		return nil, ErrEmptyProjectGUID
	}
	p, err := m.repo.First(ctx, "guid = ?", guid)
	if errors.Is(err, store.ErrNotFound) {
		return nil, fmt.Errorf("%w: %s", ErrProjectNotFound, guid)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get project: %w", err)
	}
	return p, nil
}

func (m *manager) Add(ctx context.Context, p *Project) error {
	if err := p.Validate(); err != nil {
		return err
	}

	_, err := m.Get(ctx, p.GUID)
	switch {
	case err == nil:
		return fmt.Errorf("%w: %s", ErrProjectExists, p.GUID)
	case !errors.Is(err, ErrProjectNotFound):
		return err
	}

	if err := m.repo.Create(ctx, p); err != nil {
		if errors.Is(err, store.ErrDuplicate) {
			return fmt.Errorf("%w: %s", ErrProjectExists, p.GUID)
		}
		return err
	}
	return nil
}

func (m *manager) List(ctx context.Context, collection uuid.UUID) ([]Project, error) {
	if collection == uuid.Nil {
		return nil, ErrEmptyCollectionID
	}
	return m.repo.Find(ctx, "team_collection_guid = ?", collection)
}

func (m *manager) DeleteByCollection(ctx context.Context, collection uuid.UUID) (int64, error) {
	if collection == uuid.Nil {
		return 0, ErrEmptyCollectionID
	}
	return m.repo.Delete(ctx, "team_collection_guid = ?", collection)
}
