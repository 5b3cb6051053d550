package mapper

import (
	"context"
	"fmt"
	"sync"
	"time"

	gocache "github.com/patrickmn/go-cache"

	"github.com/slhuckstead/accountmap/internal/models"
)

// Source is the registry view the lookup caches.
type Source interface {
	Resolve(ctx context.Context, source models.Source, identifier string) (*models.AccountMapping, error)
	List(ctx context.Context, filter models.MappingFilter) (*models.MappingPage, error)
	ClampLimit(requested int) int
}

// Lookup caches the public read paths. Only found mappings and unfiltered
// pages near the start of the list are cached, so the key space stays bounded
// by the data rather than by what callers ask for.
//
// generation counts ClearCache calls. A read that overlapped a mutation is
// returned but not stored.
type Lookup struct {
	source        Source
	cache         *gocache.Cache
	maxPageOffset int

	mu         sync.Mutex
	generation uint64
}

func New(source Source, ttl time.Duration) *Lookup {
	if ttl <= 0 {
		ttl = 5 * time.Minute
	}
	return &Lookup{
		source:        source,
		cache:         gocache.New(ttl, 2*ttl),
		maxPageOffset: 1000,
	}
}

// Account resolves the Financial Edge account for an external identifier.
func (l *Lookup) Account(ctx context.Context, source models.Source, identifier string) (*models.AccountMapping, error) {
	key := fmt.Sprintf("resolve:%s:%s", source, identifier)
	if v, found := l.cache.Get(key); found {
		if m, ok := v.(*models.AccountMapping); ok {
			return m.Clone(), nil
		}
	}

	gen := l.currentGeneration()
	m, err := l.source.Resolve(ctx, source, identifier)
	if err != nil {
		return nil, err
	}
	l.store(gen, key, m.Clone())
	return m, nil
}

// Page returns a public list window.
func (l *Lookup) Page(ctx context.Context, filter models.MappingFilter) (*models.MappingPage, error) {
	filter.Limit = l.source.ClampLimit(filter.Limit)

	cacheable := filter.Search == "" && filter.Offset <= l.maxPageOffset
	key := fmt.Sprintf("list:%s:%d:%d", filter.Source, filter.Limit, filter.Offset)
	if cacheable {
		if v, found := l.cache.Get(key); found {
			if page, ok := v.(*models.MappingPage); ok {
				return page, nil
			}
		}
	}

	gen := l.currentGeneration()
	page, err := l.source.List(ctx, filter)
	if err != nil {
		return nil, err
	}
	if cacheable {
		l.store(gen, key, page)
	}
	return page, nil
}

// ClearCache drops every cached entry; called after each mutation.
func (l *Lookup) ClearCache() {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.generation++
	l.cache.Flush()
}

func (l *Lookup) currentGeneration() uint64 {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.generation
}

// store caches v unless the cache was cleared since gen was read.
func (l *Lookup) store(gen uint64, key string, v any) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.generation != gen {
		return
	}
	l.cache.SetDefault(key, v)
}

func (l *Lookup) ItemCount() int {
	return l.cache.ItemCount()
}
