package repository

import (
	"context"
	"sort"
	"strings"
	"sync"

	"github.com/slhuckstead/accountmap/internal/models"
)

// MemoryMappingRepository keeps mappings in process memory, for development
// and tests. Iterate works on a sorted snapshot, not a cursor. Records are
// immutable versions swapped atomically; byKey holds the version that
// reserved a (source, identifier) pair.
type MemoryMappingRepository struct {
	byID  sync.Map // id -> *models.AccountMapping
	byKey sync.Map // key -> *models.AccountMapping
}

func NewMemoryMappingRepository() *MemoryMappingRepository {
	return &MemoryMappingRepository{}
}

func (r *MemoryMappingRepository) Insert(ctx context.Context, m *models.AccountMapping) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	rec := m.Clone()
	if _, loaded := r.byKey.LoadOrStore(rec.Key(), rec); loaded {
		return ErrDuplicate
	}
	r.byID.Store(rec.ID, rec)
	return nil
}

func (r *MemoryMappingRepository) FindByID(ctx context.Context, id string) (*models.AccountMapping, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	v, ok := r.byID.Load(id)
	if !ok {
		return nil, ErrNotFound
	}
	return v.(*models.AccountMapping).Clone(), nil
}

func (r *MemoryMappingRepository) FindByKey(ctx context.Context, source models.Source, identifier string) (*models.AccountMapping, error) {
	lookup := models.AccountMapping{Source: source, SourceIdentifier: identifier}
	v, ok := r.byKey.Load(lookup.Key())
	if !ok {
		return nil, ErrNotFound
	}
	return r.FindByID(ctx, v.(*models.AccountMapping).ID)
}

func (r *MemoryMappingRepository) List(ctx context.Context, filter models.MappingFilter) ([]*models.AccountMapping, error) {
	var out []*models.AccountMapping
	err := r.Iterate(ctx, filter, func(m *models.AccountMapping) error {
		out = append(out, m)
		return nil
	})
	return out, err
}

func (r *MemoryMappingRepository) Count(ctx context.Context, filter models.MappingFilter) (int, error) {
	filter.Limit, filter.Offset = 0, 0
	return len(r.snapshot(filter)), ctx.Err()
}

func (r *MemoryMappingRepository) Update(ctx context.Context, m *models.AccountMapping) (*models.AccountMapping, error) {
	for {
		if err := ctx.Err(); err != nil {
			return nil, err
		}

		v, ok := r.byID.Load(m.ID)
		if !ok {
			return nil, ErrNotFound
		}
		cur := v.(*models.AccountMapping)

		next := cur.Clone()
		next.Source = m.Source
		next.SourceIdentifier = m.SourceIdentifier
		next.SourceDescription = m.SourceDescription
		next.FinancialEdgeAccount = m.FinancialEdgeAccount
		next.UpdatedAt = m.UpdatedAt

		oldKey, newKey := cur.Key(), next.Key()
		reserved := false
		if newKey != oldKey {
			holder, loaded := r.byKey.LoadOrStore(newKey, next)
			if loaded && holder.(*models.AccountMapping).ID != m.ID {
				return nil, ErrDuplicate
			}
			reserved = !loaded
		}

		if r.byID.CompareAndSwap(m.ID, cur, next) {
			if newKey != oldKey {
				r.releaseKey(oldKey, m.ID)
			}
			return next.Clone(), nil
		}

		// Lost a race with another mutation of the same id; retry on the new version.
		if reserved {
			r.byKey.CompareAndDelete(newKey, next)
		}
	}
}

func (r *MemoryMappingRepository) DeleteByID(ctx context.Context, id string) (*models.AccountMapping, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	v, loaded := r.byID.LoadAndDelete(id)
	if !loaded {
		return nil, ErrNotFound
	}
	m := v.(*models.AccountMapping)
	r.releaseKey(m.Key(), id)
	return m.Clone(), nil
}

func (r *MemoryMappingRepository) Iterate(ctx context.Context, filter models.MappingFilter, fn func(*models.AccountMapping) error) error {
	for _, m := range r.snapshot(filter) {
		if err := ctx.Err(); err != nil {
			return err
		}
		if err := fn(m); err != nil {
			return err
		}
	}
	return nil
}

func (r *MemoryMappingRepository) Ping(ctx context.Context) error {
	return ctx.Err()
}

func (r *MemoryMappingRepository) releaseKey(key, id string) {
	if holder, ok := r.byKey.Load(key); ok && holder.(*models.AccountMapping).ID == id {
		r.byKey.CompareAndDelete(key, holder)
	}
}

func (r *MemoryMappingRepository) snapshot(filter models.MappingFilter) []*models.AccountMapping {
	var all []*models.AccountMapping
	r.byID.Range(func(_, v any) bool {
		m := v.(*models.AccountMapping)
		if filter.Source != "" && m.Source != filter.Source {
			return true
		}
		if filter.Search != "" && !strings.HasPrefix(m.SourceIdentifier, filter.Search) {
			return true
		}
		all = append(all, m.Clone())
		return true
	})

	sort.Slice(all, func(i, j int) bool {
		if all[i].Source != all[j].Source {
			return all[i].Source < all[j].Source
		}
		if all[i].SourceIdentifier != all[j].SourceIdentifier {
			return all[i].SourceIdentifier < all[j].SourceIdentifier
		}
		return all[i].ID < all[j].ID
	})

	if filter.Offset > 0 {
		if filter.Offset >= len(all) {
			return nil
		}
		all = all[filter.Offset:]
	}
	if filter.Limit > 0 && len(all) > filter.Limit {
		all = all[:filter.Limit]
	}
	return all
}
