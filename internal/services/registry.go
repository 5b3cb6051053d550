package services

import (
	"context"
	"errors"
	"log"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.opentelemetry.io/otel/trace/noop"

	"github.com/slhuckstead/accountmap/internal/domains"
	"github.com/slhuckstead/accountmap/internal/models"
	"github.com/slhuckstead/accountmap/internal/repository"
)

// EventPublisher receives mapping change notifications.
type EventPublisher interface {
	PublishEvent(event *domains.MappingEvent) error
}

// CacheInvalidator is cleared after every successful mutation.
type CacheInvalidator interface {
	ClearCache()
}

// RegistryOptions holds the optional collaborators of a MappingRegistry.
type RegistryOptions struct {
	Events       EventPublisher
	Cache        CacheInvalidator
	Tracer       trace.Tracer
	QueryTimeout time.Duration
	DefaultLimit int
	MaxLimit     int
	Now          func() time.Time
}

// MappingRegistry owns the lifecycle of account mappings. It holds no locks:
// every outcome that depends on the current state is decided by one atomic
// store operation.
type MappingRegistry struct {
	store        repository.MappingStore
	events       EventPublisher
	cache        CacheInvalidator
	tracer       trace.Tracer
	queryTimeout time.Duration
	defaultLimit int
	maxLimit     int
	now          func() time.Time
}

func NewMappingRegistry(store repository.MappingStore, opts RegistryOptions) *MappingRegistry {
	r := &MappingRegistry{
		store:        store,
		events:       opts.Events,
		cache:        opts.Cache,
		tracer:       opts.Tracer,
		queryTimeout: opts.QueryTimeout,
		defaultLimit: opts.DefaultLimit,
		maxLimit:     opts.MaxLimit,
		now:          opts.Now,
	}
	if r.tracer == nil {
		r.tracer = noop.NewTracerProvider().Tracer("registry")
	}
	if r.maxLimit <= 0 {
		r.maxLimit = 100
	}
	if r.defaultLimit <= 0 || r.defaultLimit > r.maxLimit {
		r.defaultLimit = r.maxLimit
	}
	if r.now == nil {
		r.now = time.Now
	}
	return r
}

// SetCache replaces the invalidated cache. It must be called before the
// registry is shared.
func (r *MappingRegistry) SetCache(cache CacheInvalidator) {
	r.cache = cache
}

// ClampLimit returns the effective window for a requested limit.
func (r *MappingRegistry) ClampLimit(requested int) int {
	switch {
	case requested <= 0:
		return r.defaultLimit
	case requested > r.maxLimit:
		return r.maxLimit
	}
	return requested
}

func (r *MappingRegistry) Create(ctx context.Context, in models.MappingInput, actor *models.Principal) (*models.AccountMapping, error) {
	ctx, span := r.start(ctx, "create")
	defer span.End()

	now := r.now().UTC()
	m := &models.AccountMapping{
		ID:                   uuid.NewString(),
		Source:               in.Source,
		SourceIdentifier:     in.SourceIdentifier,
		SourceDescription:    in.SourceDescription,
		FinancialEdgeAccount: in.FinancialEdgeAccount,
		CreatedAt:            now,
		UpdatedAt:            now,
	}

	ctx, cancel := r.withTimeout(ctx)
	defer cancel()

	if err := r.store.Insert(ctx, m); err != nil {
		return nil, r.fail(span, "create", err)
	}

	span.SetAttributes(attribute.String("mapping.id", m.ID))
	r.changed(domains.EventMappingCreated, m, actor)
	return m, nil
}

func (r *MappingRegistry) Get(ctx context.Context, id string) (*models.AccountMapping, error) {
	ctx, span := r.start(ctx, "get")
	defer span.End()

	if !validID(id) {
		return nil, domains.NotFound("mapping")
	}

	ctx, cancel := r.withTimeout(ctx)
	defer cancel()

	m, err := r.store.FindByID(ctx, id)
	if err != nil {
		return nil, r.fail(span, "get", err)
	}
	return m, nil
}

// Resolve looks a mapping up by its natural key.
func (r *MappingRegistry) Resolve(ctx context.Context, source models.Source, identifier string) (*models.AccountMapping, error) {
	ctx, span := r.start(ctx, "resolve")
	defer span.End()

	ctx, cancel := r.withTimeout(ctx)
	defer cancel()

	m, err := r.store.FindByKey(ctx, source, identifier)
	if err != nil {
		return nil, r.fail(span, "resolve", err)
	}
	return m, nil
}

// List returns one clamped window of mappings plus the total match count.
func (r *MappingRegistry) List(ctx context.Context, filter models.MappingFilter) (*models.MappingPage, error) {
	ctx, span := r.start(ctx, "list")
	defer span.End()

	filter.Limit = r.ClampLimit(filter.Limit)
	span.SetAttributes(attribute.Int("mapping.limit", filter.Limit))

	ctx, cancel := r.withTimeout(ctx)
	defer cancel()

	mappings, err := r.store.List(ctx, filter)
	if err != nil {
		return nil, r.fail(span, "list", err)
	}
	total, err := r.store.Count(ctx, filter)
	if err != nil {
		return nil, r.fail(span, "list", err)
	}

	if mappings == nil {
		mappings = []*models.AccountMapping{}
	}
	return &models.MappingPage{
		Mappings: mappings,
		Count:    len(mappings),
		Total:    total,
		Limit:    filter.Limit,
		Offset:   filter.Offset,
	}, nil
}

func (r *MappingRegistry) Update(ctx context.Context, id string, in models.MappingInput, actor *models.Principal) (*models.AccountMapping, error) {
	ctx, span := r.start(ctx, "update")
	defer span.End()

	if !validID(id) {
		return nil, domains.NotFound("mapping")
	}

	ctx, cancel := r.withTimeout(ctx)
	defer cancel()

	m, err := r.store.Update(ctx, &models.AccountMapping{
		ID:                   id,
		Source:               in.Source,
		SourceIdentifier:     in.SourceIdentifier,
		SourceDescription:    in.SourceDescription,
		FinancialEdgeAccount: in.FinancialEdgeAccount,
		UpdatedAt:            r.now().UTC(),
	})
	if err != nil {
		return nil, r.fail(span, "update", err)
	}

	r.changed(domains.EventMappingUpdated, m, actor)
	return m, nil
}

// Delete removes a mapping. Of any number of concurrent calls for one id,
// exactly one returns nil; the others get NotFound.
func (r *MappingRegistry) Delete(ctx context.Context, id string, actor *models.Principal) error {
	ctx, span := r.start(ctx, "delete")
	defer span.End()

	if !validID(id) {
		return domains.NotFound("mapping")
	}

	ctx, cancel := r.withTimeout(ctx)
	defer cancel()

	m, err := r.store.DeleteByID(ctx, id)
	if err != nil {
		return r.fail(span, "delete", err)
	}

	r.changed(domains.EventMappingDeleted, m, actor)
	return nil
}

// Count reports how many mappings match the filter, ignoring its window.
func (r *MappingRegistry) Count(ctx context.Context, filter models.MappingFilter) (int, error) {
	ctx, span := r.start(ctx, "count")
	defer span.End()

	ctx, cancel := r.withTimeout(ctx)
	defer cancel()

	n, err := r.store.Count(ctx, filter)
	if err != nil {
		return 0, r.fail(span, "count", err)
	}
	return n, nil
}

// Iterate streams mappings from a store cursor. It has no query timeout; the
// caller's context bounds it.
func (r *MappingRegistry) Iterate(ctx context.Context, filter models.MappingFilter, fn func(*models.AccountMapping) error) error {
	ctx, span := r.start(ctx, "iterate")
	defer span.End()

	if err := r.store.Iterate(ctx, filter, fn); err != nil {
		return r.fail(span, "iterate", err)
	}
	return nil
}

func (r *MappingRegistry) Ping(ctx context.Context) error {
	return r.store.Ping(ctx)
}

func (r *MappingRegistry) start(ctx context.Context, op string) (context.Context, trace.Span) {
	return r.tracer.Start(ctx, "registry."+op, trace.WithSpanKind(trace.SpanKindInternal))
}

func (r *MappingRegistry) withTimeout(ctx context.Context) (context.Context, context.CancelFunc) {
	if r.queryTimeout <= 0 {
		return context.WithCancel(ctx)
	}
	return context.WithTimeout(ctx, r.queryTimeout)
}

// fail maps store errors into the API taxonomy. Store text only reaches the log.
func (r *MappingRegistry) fail(span trace.Span, op string, err error) error {
	var de *domains.Error
	switch {
	case errors.Is(err, repository.ErrNotFound):
		de = domains.NotFound("mapping")
	case errors.Is(err, repository.ErrDuplicate):
		de = domains.Conflict("a mapping for this source identifier already exists")
	case errors.Is(err, repository.ErrUnavailable):
		de = domains.DependencyUnavailable("mapping store unavailable", err)
	case domains.FromContext(err) != nil:
		de = domains.FromContext(err)
	case errors.As(err, &de):
	default:
		log.Printf("[registry] %s failed: %v", op, err)
		de = domains.DependencyUnavailable("mapping store unavailable", err)
	}

	if de.Kind != domains.KindNotFound && de.Kind != domains.KindConflict {
		span.RecordError(err)
		span.SetStatus(codes.Error, string(de.Kind))
	}
	return de
}

func (r *MappingRegistry) changed(eventType string, m *models.AccountMapping, actor *models.Principal) {
	if r.cache != nil {
		r.cache.ClearCache()
	}
	if r.events == nil {
		return
	}
	actorID := ""
	if actor != nil {
		actorID = actor.ID
	}
	if err := r.events.PublishEvent(domains.NewMappingEvent(eventType, m.ID, string(m.Source), actorID)); err != nil {
		log.Printf("[registry] Failed to publish %s for %s: %v", eventType, m.ID, err)
	}
}

func validID(id string) bool {
	_, err := uuid.Parse(id)
	return err == nil && len(id) == 36
}
