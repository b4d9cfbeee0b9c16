// Package app wires configuration into running services.
package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"

	"github.com/imdevinc/recipe-mirror/internal/cache"
	"github.com/imdevinc/recipe-mirror/internal/config"
	"github.com/imdevinc/recipe-mirror/internal/events"
	"github.com/imdevinc/recipe-mirror/internal/outbox"
	"github.com/imdevinc/recipe-mirror/internal/recipe"
	"github.com/imdevinc/recipe-mirror/internal/remote"
	"github.com/imdevinc/recipe-mirror/internal/remote/couchstore"
	"github.com/imdevinc/recipe-mirror/internal/remote/dirstore"
	"github.com/imdevinc/recipe-mirror/internal/repository"
	"github.com/imdevinc/recipe-mirror/internal/storage"
	"github.com/imdevinc/recipe-mirror/internal/util"
)

// Services are the long-lived objects a command works with. Remote and
// Outbox are nil for local-only commands.
type Services struct {
	Config *config.Config
	Store  *storage.Store
	Cache  *cache.DB
	Broker *events.Broker
	Remote remote.Store
	Outbox *outbox.Outbox
	Repo   *repository.Repository
	Parser recipe.Parser
}

// CachePath returns the configured cache path or the platform default.
func CachePath(cfg *config.Config) string {
	if cfg.CachePath != "" {
		return cfg.CachePath
	}
	return util.GetDefaultCachePath()
}

// StatePath returns the configured state path or the platform default.
func StatePath(cfg *config.Config) string {
	if cfg.StatePath != "" {
		return cfg.StatePath
	}
	return util.GetDefaultStatePath()
}

// Open opens the state store and the cache. withRemote also connects the
// configured remote store and the outbox.
func Open(cfg *config.Config, withRemote bool) (*Services, error) {
	cachePath, statePath := CachePath(cfg), StatePath(cfg)
	for _, p := range []string{cachePath, statePath} {
		if err := os.MkdirAll(filepath.Dir(p), 0755); err != nil {
			return nil, fmt.Errorf("create data directory: %w", err)
		}
	}

	s := &Services{
		Config: cfg,
		Broker: events.NewBroker(),
		Parser: recipe.Parser{Location: cfg.Location()},
	}

	var err error
	s.Store, err = storage.NewStore(statePath)
	if err != nil {
		s.Close()
		return nil, fmt.Errorf("open state store: %w", err)
	}
	slog.Debug("State store opened", "path", statePath)

	retention := cfg.RecentRetention
	if retention < 0 {
		retention = 0
	}
	s.Cache, err = cache.Open(cachePath, cache.WithBroker(s.Broker), cache.WithRecentRetention(retention))
	if err != nil {
		s.Close()
		return nil, fmt.Errorf("open cache: %w", err)
	}
	slog.Debug("Cache opened", "path", cachePath)

	opts := []repository.Option{repository.WithUserID(cfg.UserID), repository.WithLocation(s.Parser.Location)}
	if withRemote {
		s.Remote, err = NewRemote(cfg.Remote, slog.Default())
		if err != nil {
			s.Close()
			return nil, err
		}
		s.Outbox = outbox.New(s.Store, s.Remote, cfg.Outbox.MaxAttempts)
		opts = append(opts, repository.WithRemote(s.Remote, s.Outbox), repository.WithCollection(recipeCollection(cfg)))
	}
	s.Repo = repository.New(s.Cache, s.Broker, opts...)

	return s, nil
}

// Close releases everything Open acquired.
func (s *Services) Close() error {
	var errs []error
	if s.Remote != nil {
		errs = append(errs, s.Remote.Close())
	}
	if s.Cache != nil {
		errs = append(errs, s.Cache.Close())
	}
	if s.Store != nil {
		errs = append(errs, s.Store.Close())
	}
	if s.Broker != nil {
		s.Broker.Close()
	}
	return errors.Join(errs...)
}

// ResetOptions selects what Reset removes beyond user data and worker state.
type ResetOptions struct {
	// Purge also deletes every mirrored row.
	Purge bool
	// DiscardPending drops queued remote writes. Recipes whose write is still
	// queued then exist locally only.
	DiscardPending bool
}

// Reset clears local user data and worker checkpoints. Queued remote writes
// are kept unless opts.DiscardPending is set; kept is how many remain.
func (s *Services) Reset(ctx context.Context, opts ResetOptions) (kept int, err error) {
	if err := s.Repo.ClearLocalUserData(ctx); err != nil {
		return 0, err
	}
	if err := s.Store.Clear(); err != nil {
		return 0, fmt.Errorf("failed to clear state: %w", err)
	}

	box := s.Outbox
	if box == nil {
		box = outbox.New(s.Store, nil, 0)
	}
	if opts.DiscardPending {
		if err := box.Clear(); err != nil {
			return 0, fmt.Errorf("failed to clear outbox: %w", err)
		}
	} else {
		pending, parked, err := box.Counts()
		if err != nil {
			return 0, err
		}
		kept = pending + parked
	}

	if opts.Purge {
		if err := s.Cache.Purge(ctx); err != nil {
			return kept, err
		}
	}
	return kept, nil
}

// NewRemote builds the remote store named by the configuration.
func NewRemote(conf config.RemoteConf, logger *slog.Logger) (remote.Store, error) {
	switch c := conf.(type) {
	case config.CouchDBRemoteConf:
		return couchstore.New(couchstore.Config{
			URL:             c.URL,
			Username:        c.Username,
			Password:        c.Password,
			DBPrefix:        c.DBPrefix,
			CreateDatabases: c.CreateDatabases,
			Timeout:         c.Timeout.Std(),
			Heartbeat:       c.Heartbeat.Std(),
		}, logger), nil
	case config.DirectoryRemoteConf:
		var opts []dirstore.Option
		if c.Debounce > 0 {
			opts = append(opts, dirstore.WithDebounce(c.Debounce.Std()))
		}
		store, err := dirstore.New(c.BaseDir, logger, opts...)
		if err != nil {
			return nil, fmt.Errorf("open directory remote: %w", err)
		}
		return store, nil
	case nil:
		return nil, fmt.Errorf("no remote configured")
	default:
		return nil, fmt.Errorf("unsupported remote type %q", conf.GetType())
	}
}

// recipeCollection is where user-authored recipes are written: the
// collection of the first recipe mirror.
func recipeCollection(cfg *config.Config) string {
	for _, m := range cfg.Mirrors {
		if m.GetType() == config.MirrorRecipes {
			return m.GetCollection()
		}
	}
	return repository.DefaultCollection
}
