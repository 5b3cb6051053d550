package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"path/filepath"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/google/uuid"
	_ "github.com/ncruces/go-sqlite3/driver"
	_ "github.com/ncruces/go-sqlite3/embed"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/slhuckstead/accountmap/internal/models"
)

const testSchema = `
CREATE TABLE account_mappings (
	id TEXT PRIMARY KEY,
	source TEXT NOT NULL,
	source_identifier TEXT NOT NULL,
	source_description TEXT NOT NULL DEFAULT '',
	financial_edge_account TEXT NOT NULL,
	created_at TIMESTAMP NOT NULL,
	updated_at TIMESTAMP NOT NULL,
	UNIQUE(source, source_identifier)
);
`

func newSQLiteStore(t *testing.T) MappingStore {
	t.Helper()
	path := filepath.Join(t.TempDir(), "mappings.db")
	db, err := sql.Open("sqlite3", "file:"+path+"?_pragma=busy_timeout(10000)&_pragma=journal_mode(wal)")
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })

	_, err = db.Exec(testSchema)
	require.NoError(t, err)
	return NewSQLMappingRepository(db)
}

func newMemoryStore(t *testing.T) MappingStore {
	return NewMemoryMappingRepository()
}

var stores = map[string]func(t *testing.T) MappingStore{
	"memory": newMemoryStore,
	"sqlite": newSQLiteStore,
}

func newMapping(source models.Source, identifier string) *models.AccountMapping {
	now := time.Now().UTC().Truncate(time.Microsecond)
	return &models.AccountMapping{
		ID:                   uuid.NewString(),
		Source:               source,
		SourceIdentifier:     identifier,
		SourceDescription:    "Test",
		FinancialEdgeAccount: "10-1000-000",
		CreatedAt:            now,
		UpdatedAt:            now,
	}
}

func TestStore_InsertAndFind(t *testing.T) {
	for name, newStore := range stores {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			store := newStore(t)

			m := newMapping(models.SourcePopuli, "12345")
			require.NoError(t, store.Insert(ctx, m))

			got, err := store.FindByID(ctx, m.ID)
			require.NoError(t, err)
			assert.Equal(t, m.SourceIdentifier, got.SourceIdentifier)
			assert.Equal(t, m.FinancialEdgeAccount, got.FinancialEdgeAccount)
			assert.True(t, m.CreatedAt.Equal(got.CreatedAt), "created_at %v != %v", m.CreatedAt, got.CreatedAt)

			byKey, err := store.FindByKey(ctx, models.SourcePopuli, "12345")
			require.NoError(t, err)
			assert.Equal(t, m.ID, byKey.ID)

			_, err = store.FindByID(ctx, uuid.NewString())
			assert.ErrorIs(t, err, ErrNotFound)
		})
	}
}

func TestStore_InsertDuplicateKey(t *testing.T) {
	for name, newStore := range stores {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			store := newStore(t)

			require.NoError(t, store.Insert(ctx, newMapping(models.SourcePopuli, "dup")))
			err := store.Insert(ctx, newMapping(models.SourcePopuli, "dup"))
			assert.ErrorIs(t, err, ErrDuplicate)

			// Same identifier under another source is a different key.
			require.NoError(t, store.Insert(ctx, newMapping(models.SourceRaisersEdge, "dup")))
		})
	}
}

func TestStore_ConcurrentInsertSameKey(t *testing.T) {
	for name, newStore := range stores {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			store := newStore(t)

			var ok, dup atomic.Int32
			var wg sync.WaitGroup
			for i := 0; i < 10; i++ {
				wg.Add(1)
				go func() {
					defer wg.Done()
					err := store.Insert(ctx, newMapping(models.SourcePopuli, "race"))
					switch {
					case err == nil:
						ok.Add(1)
					case errors.Is(err, ErrDuplicate):
						dup.Add(1)
					default:
						t.Errorf("unexpected error: %v", err)
					}
				}()
			}
			wg.Wait()

			assert.Equal(t, int32(1), ok.Load())
			assert.Equal(t, int32(9), dup.Load())
		})
	}
}

func TestStore_ConcurrentDelete(t *testing.T) {
	for name, newStore := range stores {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			store := newStore(t)

			m := newMapping(models.SourcePopuli, "race-test")
			require.NoError(t, store.Insert(ctx, m))

			var deleted, notFound atomic.Int32
			var wg sync.WaitGroup
			for i := 0; i < 10; i++ {
				wg.Add(1)
				go func() {
					defer wg.Done()
					removed, err := store.DeleteByID(ctx, m.ID)
					switch {
					case err == nil:
						assert.Equal(t, m.ID, removed.ID)
						assert.Equal(t, models.SourcePopuli, removed.Source)
						deleted.Add(1)
					case errors.Is(err, ErrNotFound):
						notFound.Add(1)
					default:
						t.Errorf("unexpected error: %v", err)
					}
				}()
			}
			wg.Wait()

			assert.Equal(t, int32(1), deleted.Load())
			assert.Equal(t, int32(9), notFound.Load())

			// The key is free again.
			require.NoError(t, store.Insert(ctx, newMapping(models.SourcePopuli, "race-test")))
		})
	}
}

func TestStore_Update(t *testing.T) {
	for name, newStore := range stores {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			store := newStore(t)

			a := newMapping(models.SourcePopuli, "a")
			b := newMapping(models.SourcePopuli, "b")
			require.NoError(t, store.Insert(ctx, a))
			require.NoError(t, store.Insert(ctx, b))

			change := a.Clone()
			change.SourceIdentifier = "a2"
			change.FinancialEdgeAccount = "20-2000-000"
			change.UpdatedAt = a.UpdatedAt.Add(time.Second)

			updated, err := store.Update(ctx, change)
			require.NoError(t, err)
			assert.Equal(t, "a2", updated.SourceIdentifier)
			assert.Equal(t, "20-2000-000", updated.FinancialEdgeAccount)
			assert.True(t, a.CreatedAt.Equal(updated.CreatedAt))

			// Old key released, new key taken.
			require.NoError(t, store.Insert(ctx, newMapping(models.SourcePopuli, "a")))
			assert.ErrorIs(t, store.Insert(ctx, newMapping(models.SourcePopuli, "a2")), ErrDuplicate)

			clash := b.Clone()
			clash.SourceIdentifier = "a2"
			_, err = store.Update(ctx, clash)
			assert.ErrorIs(t, err, ErrDuplicate)

			missing := newMapping(models.SourcePopuli, "ghost")
			_, err = store.Update(ctx, missing)
			assert.ErrorIs(t, err, ErrNotFound)
		})
	}
}

func TestStore_ListCountIterate(t *testing.T) {
	for name, newStore := range stores {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			store := newStore(t)

			for i := 0; i < 12; i++ {
				require.NoError(t, store.Insert(ctx, newMapping(models.SourcePopuli, fmt.Sprintf("id-%02d", i))))
			}
			require.NoError(t, store.Insert(ctx, newMapping(models.SourceRaisersEdge, "id_x")))

			n, err := store.Count(ctx, models.MappingFilter{})
			require.NoError(t, err)
			assert.Equal(t, 13, n)

			n, err = store.Count(ctx, models.MappingFilter{Source: models.SourceRaisersEdge})
			require.NoError(t, err)
			assert.Equal(t, 1, n)

			page, err := store.List(ctx, models.MappingFilter{Source: models.SourcePopuli, Limit: 5, Offset: 5})
			require.NoError(t, err)
			require.Len(t, page, 5)
			assert.Equal(t, "id-05", page[0].SourceIdentifier)

			tail, err := store.List(ctx, models.MappingFilter{Source: models.SourcePopuli, Offset: 10})
			require.NoError(t, err)
			assert.Len(t, tail, 2)

			// Search is a literal prefix: '_' is not a wildcard.
			n, err = store.Count(ctx, models.MappingFilter{Search: "id_"})
			require.NoError(t, err)
			assert.Equal(t, 1, n)

			var seen int
			stop := errors.New("stop")
			err = store.Iterate(ctx, models.MappingFilter{}, func(*models.AccountMapping) error {
				seen++
				if seen == 3 {
					return stop
				}
				return nil
			})
			assert.ErrorIs(t, err, stop)
			assert.Equal(t, 3, seen)
		})
	}
}

func TestStore_IterateHonoursCancellation(t *testing.T) {
	for name, newStore := range stores {
		t.Run(name, func(t *testing.T) {
			store := newStore(t)
			for i := 0; i < 20; i++ {
				require.NoError(t, store.Insert(context.Background(), newMapping(models.SourcePopuli, fmt.Sprintf("c-%02d", i))))
			}

			ctx, cancel := context.WithCancel(context.Background())
			var seen int
			err := store.Iterate(ctx, models.MappingFilter{}, func(*models.AccountMapping) error {
				seen++
				if seen == 2 {
					cancel()
				}
				return nil
			})
			assert.ErrorIs(t, err, context.Canceled)
			assert.Equal(t, 2, seen)
		})
	}
}

func TestUnavailableMappingRepository(t *testing.T) {
	var store MappingStore = UnavailableMappingRepository{}
	ctx := context.Background()

	assert.ErrorIs(t, store.Ping(ctx), ErrUnavailable)
	assert.ErrorIs(t, store.Insert(ctx, newMapping(models.SourcePopuli, "x")), ErrUnavailable)
	_, err := store.List(ctx, models.MappingFilter{})
	assert.ErrorIs(t, err, ErrUnavailable)
	_, err = store.DeleteByID(ctx, "x")
	assert.ErrorIs(t, err, ErrUnavailable)
}
