package mapper

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/slhuckstead/accountmap/internal/domains"
	"github.com/slhuckstead/accountmap/internal/models"
)

type fakeSource struct {
	resolveCalls int
	listCalls    int
	mappings     map[string]*models.AccountMapping
	// duringRead runs after the row is read and before it is returned.
	duringRead func()
}

func (f *fakeSource) Resolve(ctx context.Context, source models.Source, identifier string) (*models.AccountMapping, error) {
	f.resolveCalls++
	m, ok := f.mappings[string(source)+"/"+identifier]
	if f.duringRead != nil {
		f.duringRead()
	}
	if !ok {
		return nil, domains.NotFound("mapping")
	}
	return m.Clone(), nil
}

func (f *fakeSource) List(ctx context.Context, filter models.MappingFilter) (*models.MappingPage, error) {
	f.listCalls++
	if f.duringRead != nil {
		f.duringRead()
	}
	return &models.MappingPage{Limit: filter.Limit, Offset: filter.Offset, Mappings: []*models.AccountMapping{}}, nil
}

func (f *fakeSource) ClampLimit(requested int) int {
	if requested <= 0 || requested > 100 {
		return 100
	}
	return requested
}

func newFake() *fakeSource {
	return &fakeSource{mappings: map[string]*models.AccountMapping{
		"populi/12345": {ID: "m1", Source: models.SourcePopuli, SourceIdentifier: "12345", FinancialEdgeAccount: "10-1000-000"},
	}}
}

func TestLookup_AccountIsCached(t *testing.T) {
	src := newFake()
	l := New(src, time.Minute)
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		m, err := l.Account(ctx, models.SourcePopuli, "12345")
		require.NoError(t, err)
		assert.Equal(t, "10-1000-000", m.FinancialEdgeAccount)
	}
	assert.Equal(t, 1, src.resolveCalls)

	l.ClearCache()
	_, err := l.Account(ctx, models.SourcePopuli, "12345")
	require.NoError(t, err)
	assert.Equal(t, 2, src.resolveCalls)
}

func TestLookup_MissesAreNotCached(t *testing.T) {
	src := newFake()
	l := New(src, time.Minute)

	for i := 0; i < 2; i++ {
		_, err := l.Account(context.Background(), models.SourcePopuli, "nope")
		assert.True(t, domains.IsKind(err, domains.KindNotFound))
	}
	assert.Equal(t, 2, src.resolveCalls)
	assert.Equal(t, 0, l.ItemCount())
}

func TestLookup_PageKeysAreClamped(t *testing.T) {
	src := newFake()
	l := New(src, time.Minute)
	ctx := context.Background()

	for _, limit := range []int{0, 500, 999999} {
		page, err := l.Page(ctx, models.MappingFilter{Limit: limit})
		require.NoError(t, err)
		assert.Equal(t, 100, page.Limit)
	}
	assert.Equal(t, 1, src.listCalls)

	_, err := l.Page(ctx, models.MappingFilter{Search: "12"})
	require.NoError(t, err)
	_, err = l.Page(ctx, models.MappingFilter{Search: "12"})
	require.NoError(t, err)
	assert.Equal(t, 3, src.listCalls)
}

func TestLookup_ReadOverlappingMutationIsNotCached(t *testing.T) {
	src := newFake()
	l := New(src, time.Minute)
	ctx := context.Background()

	// The row is deleted and the cache cleared while the read is in flight.
	src.duringRead = func() {
		delete(src.mappings, "populi/12345")
		l.ClearCache()
	}
	m, err := l.Account(ctx, models.SourcePopuli, "12345")
	require.NoError(t, err)
	assert.Equal(t, "m1", m.ID)
	assert.Equal(t, 0, l.ItemCount())

	_, err = l.Page(ctx, models.MappingFilter{})
	require.NoError(t, err)
	assert.Equal(t, 0, l.ItemCount())

	src.duringRead = nil
	_, err = l.Account(ctx, models.SourcePopuli, "12345")
	assert.True(t, domains.IsKind(err, domains.KindNotFound))
	assert.Equal(t, 2, src.resolveCalls)
}
