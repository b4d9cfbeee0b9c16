package outbox

import (
	"strconv"
	"time"

	"github.com/imdevinc/recipe-mirror/internal/storage"
	"github.com/imdevinc/recipe-mirror/internal/worker"
)

// WorkerType is the Drainer's worker type.
const WorkerType = "outbox"

// Status settings written after every drain.
const (
	SettingLastDrain = "lastDrain"
	SettingPending   = "pending"
	SettingParked    = "parked"
)

// DefaultInterval is used when NewDrainer gets a non-positive interval.
const DefaultInterval = 30 * time.Second

// Drainer is a worker that drains an Outbox on a fixed interval.
type Drainer struct {
	*worker.BaseWorker
	box      *Outbox
	interval time.Duration
}

// NewDrainer creates a drainer worker.
func NewDrainer(name string, box *Outbox, store *storage.Store, interval time.Duration) (*Drainer, error) {
	if interval <= 0 {
		interval = DefaultInterval
	}
	bw, err := worker.NewBaseWorker(name, WorkerType, store, 0)
	if err != nil {
		return nil, err
	}
	return &Drainer{BaseWorker: bw, box: box, interval: interval}, nil
}

// Start drains once immediately and then on every tick until Stop.
func (d *Drainer) Start() error {
	ctx := d.Context()
	ticker := time.NewTicker(d.interval)
	defer ticker.Stop()

	d.LogInfo("Outbox drainer started", "interval", d.interval)
	for {
		d.drain()
		select {
		case <-ctx.Done():
			d.LogInfo("Outbox drainer stopped")
			return nil
		case <-ticker.C:
		}
	}
}

func (d *Drainer) drain() {
	sent, err := d.box.Drain(d.Context())
	if err != nil {
		d.LogWarn("Outbox drain incomplete", "sent", sent, "error", err)
	} else if sent > 0 {
		d.LogInfo("Outbox drained", "sent", sent)
	}

	pending, parked, err := d.box.Counts()
	if err != nil {
		d.LogError("Failed to count outbox", "error", err)
		return
	}
	status := map[string]string{
		SettingLastDrain: time.Now().UTC().Format(time.RFC3339),
		SettingPending:   strconv.Itoa(pending),
		SettingParked:    strconv.Itoa(parked),
	}
	for k, v := range status {
		if err := d.SetSetting(k, v); err != nil {
			d.LogWarn("Failed to save outbox status", "key", k, "error", err)
		}
	}
}
