package controllers

import (
	"net/http"

	"github.com/gorilla/mux"
	"go.opentelemetry.io/otel/trace"
	"go.opentelemetry.io/otel/trace/noop"

	"github.com/slhuckstead/accountmap/internal/config"
	"github.com/slhuckstead/accountmap/internal/domains"
	"github.com/slhuckstead/accountmap/internal/mapper"
	"github.com/slhuckstead/accountmap/internal/services"
	"github.com/slhuckstead/accountmap/internal/tracing"
)

// Deps are the collaborators the HTTP surface is built from.
type Deps struct {
	Config    *config.Config
	Guard     *services.IdentityGuard
	Validator *services.Validator
	Registry  *services.MappingRegistry
	Lookup    *mapper.Lookup
	Exports   *services.ExportService
	Health    *services.HealthService
	Sync      *services.SyncService
	Shedder   *services.LoadShedder
	Tracer    trace.Tracer
}

// NewRouter mounts every route and wraps the router in the request-scoped
// middleware, which also covers unmatched paths.
func NewRouter(d Deps) http.Handler {
	limits := d.Config.Limits
	tracer := d.Tracer
	if tracer == nil {
		tracer = noop.NewTracerProvider().Tracer("http")
	}

	mappingsHandler := NewMappingsHandler(d.Registry, d.Lookup, d.Validator, limits.MaxBodyBytes)
	exportHandler := NewExportHandler(d.Exports, d.Validator, limits.ExportTimeout)
	healthHandler := NewHealthHandler(d.Health)
	syncHandler := NewSyncHandler(d.Sync, d.Validator, limits.MaxBodyBytes)

	admin := adminOnly(d.Guard)
	exportGate := shed(d.Shedder, services.ClassExport)
	syncGate := shed(d.Shedder, services.ClassSync)

	// Paths are matched as sent; "/api/admin/../mappings" is not rewritten.
	router := mux.NewRouter().SkipClean(true)
	router.NotFoundHandler = http.HandlerFunc(notFound)
	router.MethodNotAllowedHandler = http.HandlerFunc(methodNotAllowed)
	router.Use(tracing.Middleware(tracer))

	router.HandleFunc("/health", healthHandler.HandleHealth).Methods("GET")

	// Subrouters answer their own misses; mux reports a method mismatch under
	// a prefix as not found otherwise.
	api := router.PathPrefix("/api").Subrouter()
	api.NotFoundHandler = router.NotFoundHandler
	api.MethodNotAllowedHandler = router.MethodNotAllowedHandler
	api.HandleFunc("/health", healthHandler.HandleHealth).Methods("GET")
	api.HandleFunc("/mappings", mappingsHandler.HandlePublicList).Methods("GET")
	api.HandleFunc("/mappings/resolve", mappingsHandler.HandleResolve).Methods("GET")

	api.Handle("/admin/mappings", admin(http.HandlerFunc(mappingsHandler.HandleListMappings))).Methods("GET")
	api.Handle("/admin/mappings", admin(http.HandlerFunc(mappingsHandler.HandleCreateMapping))).Methods("POST")
	api.Handle("/admin/mappings/export", admin(exportGate(http.HandlerFunc(exportHandler.HandleExport)))).Methods("GET")
	api.Handle("/admin/mappings/{id}", admin(http.HandlerFunc(mappingsHandler.HandleGetMapping))).Methods("GET")
	api.Handle("/admin/mappings/{id}", admin(http.HandlerFunc(mappingsHandler.HandleUpdateMapping))).Methods("PUT")
	api.Handle("/admin/mappings/{id}", admin(http.HandlerFunc(mappingsHandler.HandleDeleteMapping))).Methods("DELETE")

	api.Handle("/sync", admin(syncGate(http.HandlerFunc(syncHandler.HandleSync)))).Methods("POST")

	var handler http.Handler = router
	handler = corsMiddleware(d.Config.CORSAllowedOrigin)(handler)
	handler = securityHeadersMiddleware(handler)
	handler = recoverMiddleware(handler)
	handler = loggingMiddleware(handler)
	handler = requestIDMiddleware(handler)
	return handler
}

func notFound(w http.ResponseWriter, r *http.Request) {
	respondError(w, r, domains.NotFound("resource"))
}

func methodNotAllowed(w http.ResponseWriter, r *http.Request) {
	respondJSON(w, http.StatusMethodNotAllowed, domains.ErrorResponse{
		Error:     "method_not_allowed",
		Message:   "method not allowed",
		RequestID: RequestIDFrom(r.Context()),
	})
}
