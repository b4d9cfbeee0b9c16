package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"os"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/imdevinc/recipe-mirror/internal/api"
	"github.com/imdevinc/recipe-mirror/internal/config"
	"github.com/imdevinc/recipe-mirror/internal/hub"
	"github.com/imdevinc/recipe-mirror/internal/mirror"
	"github.com/imdevinc/recipe-mirror/internal/outbox"
)

// SetupLogger installs the process-wide text logger.
func SetupLogger(cfg *config.Config) {
	logger := slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{
		Level: cfg.SlogLevel(),
	}))
	slog.SetDefault(logger)
}

// Option configures Run.
type Option func(*runOptions)

type runOptions struct {
	listener net.Listener
}

// WithListener serves HTTP on l instead of listening on the configured address.
func WithListener(l net.Listener) Option {
	return func(o *runOptions) { o.listener = l }
}

// Run starts the mirrors, the outbox drainer and the HTTP API, and blocks
// until ctx is done or one of them fails.
func Run(ctx context.Context, cfg *config.Config, opts ...Option) error {
	var ro runOptions
	for _, opt := range opts {
		opt(&ro)
	}

	svc, err := Open(cfg, true)
	if err != nil {
		return err
	}
	defer svc.Close()

	mirror.Register()
	h := hub.NewHub(hub.Deps{
		Store:  svc.Store,
		Cache:  svc.Cache,
		Remote: svc.Remote,
		Broker: svc.Broker,
		Parser: svc.Parser,
	})
	if err := h.CreateWorkersFromConfig(cfg); err != nil {
		return fmt.Errorf("create mirrors: %w", err)
	}

	drainer, err := outbox.NewDrainer("outbox", svc.Outbox, svc.Store, cfg.Outbox.Interval.Std())
	if err != nil {
		return fmt.Errorf("create outbox drainer: %w", err)
	}
	h.RegisterWorker(drainer)

	slog.Info("recipe-mirror is starting",
		"remote", cfg.Remote.GetType(),
		"mirrors", len(cfg.Mirrors),
		"cache", CachePath(cfg),
		"state", StatePath(cfg),
	)

	g, gCtx := errgroup.WithContext(ctx)

	g.Go(func() error {
		return h.Run(gCtx)
	})

	if cfg.HTTP.IsEnabled() {
		router := api.NewRouter(api.Deps{Repo: svc.Repo, Hub: h, Outbox: svc.Outbox, Broker: svc.Broker})
		server := &http.Server{Handler: router, ReadHeaderTimeout: 10 * time.Second}

		l := ro.listener
		if l == nil {
			l, err = net.Listen("tcp", cfg.HTTP.Addr)
			if err != nil {
				return fmt.Errorf("listen on %s: %w", cfg.HTTP.Addr, err)
			}
		}

		g.Go(func() error {
			slog.Info("Starting HTTP server", "address", l.Addr().String())
			if err := server.Serve(l); err != nil && !errors.Is(err, http.ErrServerClosed) {
				return fmt.Errorf("HTTP server error: %w", err)
			}
			return nil
		})

		g.Go(func() error {
			<-gCtx.Done()
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
			defer cancel()
			if err := server.Shutdown(shutdownCtx); err != nil {
				slog.Error("HTTP server shutdown error", "error", err)
			}
			return nil
		})
	}

	if err := g.Wait(); err != nil {
		slog.Error("Application error", "error", err)
		return err
	}

	slog.Info("recipe-mirror stopped")
	return nil
}
