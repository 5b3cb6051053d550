package repository

import (
	"context"
	"errors"

	"github.com/slhuckstead/accountmap/internal/models"
)

var (
	ErrNotFound    = errors.New("mapping not found")
	ErrDuplicate   = errors.New("mapping already exists for source identifier")
	ErrUnavailable = errors.New("mapping store unavailable")
)

// MappingStore is the persistence boundary of the registry. Every mutation is a
// single atomic operation keyed by id or by (source, source_identifier); callers
// never combine a read and a write to decide an outcome.
type MappingStore interface {
	// Insert fails with ErrDuplicate when the (source, identifier) pair is taken.
	Insert(ctx context.Context, m *models.AccountMapping) error
	FindByID(ctx context.Context, id string) (*models.AccountMapping, error)
	FindByKey(ctx context.Context, source models.Source, identifier string) (*models.AccountMapping, error)
	List(ctx context.Context, filter models.MappingFilter) ([]*models.AccountMapping, error)
	Count(ctx context.Context, filter models.MappingFilter) (int, error)
	// Update replaces the mutable fields of m.ID and returns the stored row.
	Update(ctx context.Context, m *models.AccountMapping) (*models.AccountMapping, error)
	// DeleteByID removes the row and returns it, or ErrNotFound when nothing
	// was removed.
	DeleteByID(ctx context.Context, id string) (*models.AccountMapping, error)
	// Iterate streams matching rows in order, stopping at the first error
	// returned by fn or by the context.
	Iterate(ctx context.Context, filter models.MappingFilter, fn func(*models.AccountMapping) error) error
	Ping(ctx context.Context) error
}

// UnavailableMappingRepository stands in when no store is configured.
type UnavailableMappingRepository struct{}

func (UnavailableMappingRepository) Insert(context.Context, *models.AccountMapping) error {
	return ErrUnavailable
}

func (UnavailableMappingRepository) FindByID(context.Context, string) (*models.AccountMapping, error) {
	return nil, ErrUnavailable
}

func (UnavailableMappingRepository) FindByKey(context.Context, models.Source, string) (*models.AccountMapping, error) {
	return nil, ErrUnavailable
}

func (UnavailableMappingRepository) List(context.Context, models.MappingFilter) ([]*models.AccountMapping, error) {
	return nil, ErrUnavailable
}

func (UnavailableMappingRepository) Count(context.Context, models.MappingFilter) (int, error) {
	return 0, ErrUnavailable
}

func (UnavailableMappingRepository) Update(context.Context, *models.AccountMapping) (*models.AccountMapping, error) {
	return nil, ErrUnavailable
}

func (UnavailableMappingRepository) DeleteByID(context.Context, string) (*models.AccountMapping, error) {
	return nil, ErrUnavailable
}

func (UnavailableMappingRepository) Iterate(context.Context, models.MappingFilter, func(*models.AccountMapping) error) error {
	return ErrUnavailable
}

func (UnavailableMappingRepository) Ping(context.Context) error {
	return ErrUnavailable
}
