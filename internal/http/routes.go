package httpx

import (
	"log/slog"
	"net/http"
)

// RouterServices holds the dependencies of the HTTP router.
type RouterServices struct {
	Uploads UploadsService
	// APIKeys guards /api routes; empty disables the check.
	APIKeys []string
	Logger  *slog.Logger
}

// NewRouter creates the HTTP router. Middleware (logging, recovery) is applied by the caller.
func NewRouter(services RouterServices) http.Handler {
	logger := services.Logger
	if logger == nil {
		logger = slog.Default()
	}

	mux := http.NewServeMux()
	uploads := &UploadHandlers{Svc: services.Uploads, Logger: logger.With("component", "http_uploads")}
	registerUploadRoutes(mux, uploads, RequireAPIKey(services.APIKeys))

	mux.Handle("GET /healthz", http.HandlerFunc(healthHandler))
	mux.Handle("HEAD /healthz", http.HandlerFunc(healthHandler))

	return mux
}

func registerUploadRoutes(mux *http.ServeMux, h *UploadHandlers, guard func(http.Handler) http.Handler) {
	mux.Handle("POST "+uploadsPath, guard(http.HandlerFunc(h.Create)))
	mux.Handle("GET "+uploadsPath, guard(http.HandlerFunc(h.List)))
	mux.Handle("GET "+uploadsPath+"/{id}", guard(http.HandlerFunc(h.Get)))
}
