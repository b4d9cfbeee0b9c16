// Package hub owns the lifecycle of background workers.
package hub

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"sync"

	"github.com/imdevinc/recipe-mirror/internal/cache"
	"github.com/imdevinc/recipe-mirror/internal/config"
	"github.com/imdevinc/recipe-mirror/internal/events"
	"github.com/imdevinc/recipe-mirror/internal/recipe"
	"github.com/imdevinc/recipe-mirror/internal/remote"
	"github.com/imdevinc/recipe-mirror/internal/storage"
	"github.com/imdevinc/recipe-mirror/internal/worker"
)

// Worker run states.
const (
	StateRegistered = "registered"
	StateRunning    = "running"
	StateStopped    = "stopped"
	StateFailed     = "failed"
)

// Deps are the shared resources handed to worker factories.
type Deps struct {
	Store  *storage.Store
	Cache  *cache.DB
	Remote remote.Store
	Broker *events.Broker
	Parser recipe.Parser
}

// WorkerStatus is a point-in-time view of one worker.
type WorkerStatus struct {
	Name    string            `json:"name"`
	Type    string            `json:"type"`
	State   string            `json:"state"`
	Error   string            `json:"error,omitempty"`
	Details map[string]string `json:"details,omitempty"`
}

// Hub is the central coordinator that starts and stops workers
type Hub struct {
	workers []worker.Worker
	states  map[string]*WorkerStatus
	deps    Deps
	ctx     context.Context
	cancel  context.CancelFunc
	mu      sync.RWMutex
	wg      sync.WaitGroup
}

// NewHub creates a new hub instance
func NewHub(deps Deps) *Hub {
	ctx, cancel := context.WithCancel(context.Background())
	return &Hub{
		workers: make([]worker.Worker, 0),
		states:  make(map[string]*WorkerStatus),
		deps:    deps,
		ctx:     ctx,
		cancel:  cancel,
	}
}

// RegisterWorker adds a worker to the hub
func (h *Hub) RegisterWorker(w worker.Worker) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.workers = append(h.workers, w)
	h.states[w.Name()] = &WorkerStatus{Name: w.Name(), Type: w.Type(), State: StateRegistered}
	slog.Info("Worker registered",
		"name", w.Name(),
		"type", w.Type(),
	)
}

func (h *Hub) setState(name, state string, err error) {
	h.mu.Lock()
	defer h.mu.Unlock()
	s := h.states[name]
	if s == nil {
		return
	}
	s.State = state
	s.Error = ""
	if err != nil {
		s.Error = err.Error()
	}
}

// Start runs every worker in its own goroutine
func (h *Hub) Start() error {
	workers := h.GetWorkers()

	slog.Info("Starting hub", "workers", len(workers))

	for _, w := range workers {
		h.wg.Add(1)
		h.setState(w.Name(), StateRunning, nil)
		go func(w worker.Worker) {
			defer h.wg.Done()

			slog.Info("Starting worker", "name", w.Name())
			if err := w.Start(); err != nil {
				slog.Error("Worker failed", "name", w.Name(), "error", err)
				h.setState(w.Name(), StateFailed, err)
				return
			}
			h.setState(w.Name(), StateStopped, nil)
		}(w)
	}

	slog.Info("Hub started successfully")
	return nil
}

// Stop gracefully stops all workers
func (h *Hub) Stop() error {
	slog.Info("Stopping hub")

	// Cancel context to signal all workers to stop
	h.cancel()

	for _, w := range h.GetWorkers() {
		if err := w.Stop(); err != nil {
			slog.Error("Error stopping worker", "name", w.Name(), "error", err)
		}
	}

	// Wait for all goroutines to finish
	h.wg.Wait()

	slog.Info("Hub stopped")
	return nil
}

// Run starts the hub, blocks until ctx is done, then stops it.
func (h *Hub) Run(ctx context.Context) error {
	if err := h.Start(); err != nil {
		return err
	}
	<-ctx.Done()
	return h.Stop()
}

// GetWorkers returns all registered workers (thread-safe copy)
func (h *Hub) GetWorkers() []worker.Worker {
	h.mu.RLock()
	defer h.mu.RUnlock()

	workers := make([]worker.Worker, len(h.workers))
	copy(workers, h.workers)
	return workers
}

// GetWorkerByName finds a worker by name
func (h *Hub) GetWorkerByName(name string) (worker.Worker, error) {
	h.mu.RLock()
	defer h.mu.RUnlock()

	for _, w := range h.workers {
		if w.Name() == name {
			return w, nil
		}
	}

	return nil, fmt.Errorf("worker not found: %s", name)
}

// Status reports every worker, sorted by name.
func (h *Hub) Status() []WorkerStatus {
	workers := h.GetWorkers()

	out := make([]WorkerStatus, 0, len(workers))
	for _, w := range workers {
		h.mu.RLock()
		s := *h.states[w.Name()]
		h.mu.RUnlock()
		s.Details = w.Status()
		out = append(out, s)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}

// Context returns the hub's context
func (h *Hub) Context() context.Context {
	return h.ctx
}

// WorkerFactory is a function that creates a worker from configuration
type WorkerFactory func(conf config.MirrorConf, deps Deps) (worker.Worker, error)

var (
	factoriesMu     sync.RWMutex
	workerFactories = make(map[string]WorkerFactory)
)

// RegisterWorkerFactory registers a factory for creating workers of a specific type
func RegisterWorkerFactory(workerType string, factory WorkerFactory) {
	factoriesMu.Lock()
	defer factoriesMu.Unlock()
	workerFactories[workerType] = factory
}

// CreateWorkersFromConfig creates one worker per configured mirror
func (h *Hub) CreateWorkersFromConfig(cfg *config.Config) error {
	for i, mirrorConf := range cfg.Mirrors {
		workerType := mirrorConf.GetType()

		factoriesMu.RLock()
		factory, ok := workerFactories[workerType]
		factoriesMu.RUnlock()
		if !ok {
			return fmt.Errorf("no factory registered for mirror type '%s' (mirror %d: %s)",
				workerType, i, mirrorConf.GetName())
		}

		w, err := factory(mirrorConf, h.deps)
		if err != nil {
			return fmt.Errorf("failed to create mirror %s: %w", mirrorConf.GetName(), err)
		}

		h.RegisterWorker(w)
	}

	return nil
}
