package bootstrap

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/target/vidrelay/config"
	httpx "github.com/target/vidrelay/internal/http"
)

// HTTPServerConfig contains configuration for the HTTP server.
type HTTPServerConfig struct {
	Config   config.HTTPConfig
	APIKeys  []string
	Services ServiceContainer
	Logger   *slog.Logger
}

// NewHTTPServer builds the server with the middleware chain applied.
func NewHTTPServer(cfg HTTPServerConfig) *http.Server {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	if len(cfg.APIKeys) == 0 {
		logger.Warn("API key check disabled; set API_KEYS to protect /api routes")
	}

	router := httpx.NewRouter(httpx.RouterServices{
		Uploads: cfg.Services.Uploads,
		APIKeys: cfg.APIKeys,
		Logger:  logger,
	})

	// Order: Recover -> Logging -> Router
	var h http.Handler = router
	h = httpx.Logging(logger.With("component", "http"))(h)
	h = httpx.Recover(logger)(h)

	return &http.Server{
		Addr:              cfg.Config.Addr,
		Handler:           h,
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       cfg.Config.ReadTimeout,
		WriteTimeout:      cfg.Config.WriteTimeout,
		IdleTimeout:       120 * time.Second,
	}
}

// RunConfig groups the pieces Run supervises.
type RunConfig struct {
	Server          *http.Server
	Services        ServiceContainer
	ShutdownTimeout time.Duration
	Logger          *slog.Logger
	// Listener is optional; the server listens on Server.Addr when nil.
	Listener net.Listener
}

// Run serves HTTP and runs the registry sweeper until ctx is canceled or
// either fails. Shutdown stops accepting requests, then gives in-flight jobs
// until the shutdown timeout to finish before canceling them.
func Run(ctx context.Context, cfg RunConfig) error {
	if cfg.Server == nil || cfg.Services.Uploads == nil {
		return errors.New("server and upload service are required")
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}

	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		logger.InfoContext(gctx, "starting HTTP server", "addr", cfg.Server.Addr)
		var err error
		if cfg.Listener != nil {
			err = cfg.Server.Serve(cfg.Listener)
		} else {
			err = cfg.Server.ListenAndServe()
		}
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return fmt.Errorf("http server: %w", err)
	})

	if cfg.Services.Sweeper != nil {
		g.Go(func() error {
			return cfg.Services.Sweeper.Run(gctx)
		})
	}

	g.Go(func() error {
		<-gctx.Done()
		return shutdown(context.WithoutCancel(gctx), cfg, logger)
	})

	return g.Wait()
}

func shutdown(ctx context.Context, cfg RunConfig, logger *slog.Logger) error {
	timeout := cfg.ShutdownTimeout
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	shutdownCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	logger.InfoContext(ctx, "shutting down HTTP server")
	var errs []error
	if err := cfg.Server.Shutdown(shutdownCtx); err != nil {
		errs = append(errs, fmt.Errorf("shutdown http server: %w", err))
	}

	logger.InfoContext(ctx, "waiting for in-flight upload jobs")
	if err := cfg.Services.Uploads.Wait(shutdownCtx); err != nil {
		errs = append(errs, err)
	}
	if err := cfg.Services.Observability.Close(); err != nil {
		errs = append(errs, fmt.Errorf("close metrics: %w", err))
	}

	if len(errs) == 0 {
		logger.InfoContext(ctx, "shutdown complete")
	}
	return errors.Join(errs...)
}
