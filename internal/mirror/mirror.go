// Package mirror keeps local cache tables in step with remote collections.
// Each mirror is a worker holding one live subscription; every snapshot is
// parsed, merged with user-local state and written in one batch.
package mirror

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"github.com/imdevinc/recipe-mirror/internal/events"
	"github.com/imdevinc/recipe-mirror/internal/remote"
	"github.com/imdevinc/recipe-mirror/internal/util"
	"github.com/imdevinc/recipe-mirror/internal/worker"
)

// Checkpoint settings kept per mirror in the state store.
const (
	SettingLastSnapshot = "lastSnapshot"
	SettingLastSeq      = "lastSeq"
	SettingDocCount     = "docCount"
	SettingMalformed    = "malformed"
)

// applier writes one snapshot into the cache.
type applier interface {
	Apply(ctx context.Context, snap remote.Snapshot) error
}

// base is the subscription loop shared by the mirrors.
type base struct {
	*worker.BaseWorker
	remote remote.Store
	broker *events.Broker
	query  remote.Query
	now    func() time.Time
}

func (b *base) run(a applier) error {
	ctx := b.Context()

	sub, err := b.remote.Subscribe(ctx, b.query)
	if err != nil {
		return fmt.Errorf("subscribe %s: %w", b.query.Collection, err)
	}
	defer sub.Close()

	b.LogInfo("Mirror started", "collection", b.query.Collection, "since", b.GetSettingWithDefault(SettingLastSeq, ""))

	for snap := range sub.Snapshots() {
		// Failures leave the cache serving stale rows until the next snapshot
		if err := a.Apply(ctx, snap); err != nil {
			b.LogWarn("Failed to apply snapshot", "seq", snap.Seq, "changes", len(snap.Changes), "error", err)
			continue
		}
		b.checkpoint(snap)
	}

	b.LogInfo("Mirror stopped", "collection", b.query.Collection)
	return nil
}

func (b *base) checkpoint(snap remote.Snapshot) {
	settings := map[string]string{
		SettingLastSnapshot: b.now().UTC().Format(time.RFC3339),
		SettingLastSeq:      snap.Seq,
		SettingDocCount:     strconv.Itoa(len(snap.Docs)),
	}
	for k, v := range settings {
		if err := b.SetSetting(k, v); err != nil {
			b.LogWarn("Failed to save checkpoint", "key", k, "error", err)
		}
	}
	b.broker.Publish(events.Event{Type: events.TypeSyncComplete, Table: b.query.Collection})
}

// fresh returns the snapshot documents not yet written with their current
// content. Walking the full state lets a failed apply heal on the next
// snapshot. Removals are only logged.
func (b *base) fresh(snap remote.Snapshot) []remote.Document {
	for _, c := range snap.Changes {
		if c.Kind == remote.Removed {
			// The local row stays; favorites and history may still point at it
			b.LogInfo("Remote document removed, keeping local row", "id", c.Doc.ID)
			b.ForgetProcessed(c.Doc.ID)
		}
	}

	docs := make([]remote.Document, 0, len(snap.Docs))
	for _, d := range snap.Docs {
		if b.IsRepeating(d.ID, util.HashFields(d.Fields)) {
			continue
		}
		docs = append(docs, d)
	}
	return docs
}

func (b *base) markWritten(docs []remote.Document) {
	for _, d := range docs {
		b.MarkProcessed(d.ID, util.HashFields(d.Fields))
	}
}

// skipMalformed counts malformed documents once per content version.
func (b *base) skipMalformed(docs []remote.Document) {
	if len(docs) == 0 {
		return
	}
	b.markWritten(docs)
	total, _ := strconv.Atoi(b.GetSettingWithDefault(SettingMalformed, "0"))
	if err := b.SetSetting(SettingMalformed, strconv.Itoa(total+len(docs))); err != nil {
		b.LogWarn("Failed to save malformed count", "error", err)
	}
}
