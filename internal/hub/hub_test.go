package hub

import (
	"context"
	"errors"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/imdevinc/recipe-mirror/internal/config"
	"github.com/imdevinc/recipe-mirror/internal/storage"
	"github.com/imdevinc/recipe-mirror/internal/worker"
)

// MockWorker is a test implementation of the Worker interface
type MockWorker struct {
	name       string
	workerType string
	ctx        context.Context
	cancel     context.CancelFunc
	mu         sync.Mutex
	started    bool
	startErr   error
	details    map[string]string
}

func NewMockWorker(name, workerType string) *MockWorker {
	ctx, cancel := context.WithCancel(context.Background())
	return &MockWorker{
		name:       name,
		workerType: workerType,
		ctx:        ctx,
		cancel:     cancel,
		details:    map[string]string{"lastSeq": "7"},
	}
}

func (m *MockWorker) Start() error {
	m.mu.Lock()
	m.started = true
	m.mu.Unlock()
	if m.startErr != nil {
		return m.startErr
	}
	// Block until context is cancelled (simulating real worker)
	<-m.ctx.Done()
	return nil
}

func (m *MockWorker) Stop() error {
	m.cancel()
	return nil
}

func (m *MockWorker) Name() string              { return m.name }
func (m *MockWorker) Type() string              { return m.workerType }
func (m *MockWorker) Context() context.Context  { return m.ctx }
func (m *MockWorker) Status() map[string]string { return m.details }

func (m *MockWorker) Started() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.started
}

func createTestDeps(t *testing.T) Deps {
	tmpDir := t.TempDir()
	dbPath := filepath.Join(tmpDir, "test.db")
	store, err := storage.NewStore(dbPath)
	if err != nil {
		t.Fatalf("Failed to create test store: %v", err)
	}
	t.Cleanup(func() { store.Close() })
	return Deps{Store: store}
}

func waitFor(t *testing.T, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for !cond() {
		if time.Now().After(deadline) {
			t.Fatal("Condition not met in time")
		}
		time.Sleep(10 * time.Millisecond)
	}
}

func TestNewHub(t *testing.T) {
	hub := NewHub(createTestDeps(t))
	if hub == nil {
		t.Fatal("Hub is nil")
	}

	if len(hub.GetWorkers()) != 0 {
		t.Error("New hub should have no workers")
	}
}

func TestHubRegisterWorker(t *testing.T) {
	hub := NewHub(createTestDeps(t))
	hub.RegisterWorker(NewMockWorker("recipes", "recipes"))
	hub.RegisterWorker(NewMockWorker("categories", "categories"))

	if len(hub.GetWorkers()) != 2 {
		t.Errorf("Expected 2 workers, got %d", len(hub.GetWorkers()))
	}

	found, err := hub.GetWorkerByName("categories")
	if err != nil {
		t.Fatalf("Failed to get worker: %v", err)
	}
	if found.Type() != "categories" {
		t.Errorf("Expected categories, got %s", found.Type())
	}

	if _, err := hub.GetWorkerByName("nonexistent"); err == nil {
		t.Error("Expected error for non-existent worker")
	}
}

func TestHubStartStopAndStatus(t *testing.T) {
	hub := NewHub(createTestDeps(t))
	ok := NewMockWorker("b-ok", "recipes")
	bad := NewMockWorker("a-bad", "categories")
	bad.startErr = errors.New("remote unreachable")

	hub.RegisterWorker(ok)
	hub.RegisterWorker(bad)

	if got := hub.Status(); got[0].State != StateRegistered {
		t.Errorf("Expected registered before start, got %s", got[0].State)
	}

	if err := hub.Start(); err != nil {
		t.Fatalf("Failed to start hub: %v", err)
	}
	waitFor(t, func() bool { return ok.Started() && hub.Status()[0].State == StateFailed })

	status := hub.Status()
	if status[0].Name != "a-bad" || status[0].Error != "remote unreachable" {
		t.Errorf("Unexpected failed status %+v", status[0])
	}
	if status[1].State != StateRunning || status[1].Details["lastSeq"] != "7" {
		t.Errorf("Unexpected running status %+v", status[1])
	}

	if err := hub.Stop(); err != nil {
		t.Fatalf("Failed to stop hub: %v", err)
	}

	select {
	case <-hub.Context().Done():
	default:
		t.Error("Hub context should be cancelled after stop")
	}
	if hub.Status()[1].State != StateStopped {
		t.Errorf("Expected stopped, got %s", hub.Status()[1].State)
	}
}

func TestHubRun(t *testing.T) {
	hub := NewHub(createTestDeps(t))
	w := NewMockWorker("recipes", "recipes")
	hub.RegisterWorker(w)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- hub.Run(ctx) }()

	waitFor(t, w.Started)
	cancel()

	select {
	case err := <-done:
		if err != nil {
			t.Errorf("Run returned %v", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("Run did not return after cancel")
	}
}

func TestCreateWorkersFromConfig(t *testing.T) {
	deps := createTestDeps(t)

	var gotDeps Deps
	RegisterWorkerFactory("test-recipes", func(conf config.MirrorConf, d Deps) (worker.Worker, error) {
		gotDeps = d
		return NewMockWorker(conf.GetName(), conf.GetType()), nil
	})
	t.Cleanup(func() {
		factoriesMu.Lock()
		delete(workerFactories, "test-recipes")
		factoriesMu.Unlock()
	})

	hub := NewHub(deps)
	cfg := &config.Config{Mirrors: []config.MirrorConf{
		config.RecipeMirrorConf{Type: "test-recipes", Name: "home"},
	}}
	if err := hub.CreateWorkersFromConfig(cfg); err != nil {
		t.Fatalf("CreateWorkersFromConfig: %v", err)
	}
	if len(hub.GetWorkers()) != 1 || hub.GetWorkers()[0].Name() != "home" {
		t.Errorf("Unexpected workers %v", hub.GetWorkers())
	}
	if gotDeps.Store != deps.Store {
		t.Error("Factory did not receive hub deps")
	}

	cfg.Mirrors = []config.MirrorConf{config.CategoryMirrorConf{Type: "unknown", Name: "x"}}
	if err := hub.CreateWorkersFromConfig(cfg); err == nil {
		t.Error("Expected error for unregistered type")
	}
}
