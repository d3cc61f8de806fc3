package realtime

import (
	"context"
	"errors"
	"log/slog"
	"sync/atomic"

	"github.com/google/uuid"
)

// Fanout is the single entry point the server publishes through. Every
// snapshot reaches the in-process hub; when an external publisher is
// configured it is also broadcast for sibling nodes. External failures
// are logged and counted, never retried, and never surface to the
// request that triggered the publish.
type Fanout struct {
	hub      *Hub
	external Publisher
	nodeID   string
	logger   *slog.Logger

	published atomic.Int64
	failed    atomic.Int64
}

// NewFanout creates a Fanout. external may be nil for single-node
// deployments.
func NewFanout(hub *Hub, external Publisher, logger *slog.Logger) *Fanout {
	if logger == nil {
		logger = slog.Default()
	}
	return &Fanout{
		hub:      hub,
		external: external,
		nodeID:   uuid.NewString(),
		logger:   logger,
	}
}

// NodeID identifies this process in snapshot Origin fields. The bridge
// uses it to discard this node's own broadcasts.
func (f *Fanout) NodeID() string {
	return f.nodeID
}

// Hub returns the in-process hub subscribers attach to.
func (f *Fanout) Hub() *Hub {
	return f.hub
}

// Publish stamps the snapshot with this node's origin and delivers it
// locally, then externally. Best-effort: the caller never sees an error.
func (f *Fanout) Publish(ctx context.Context, snap *Snapshot) {
	if snap == nil {
		return
	}
	snap.Origin = f.nodeID

	f.hub.Publish(snap)
	f.published.Add(1)

	if f.external == nil {
		return
	}
	if err := f.external.Publish(ctx, snap); err != nil {
		if errors.Is(err, ErrBrokerUnavailable) {
			f.logger.Debug("external publish skipped", "contest_id", snap.ContestID)
			return
		}
		f.failed.Add(1)
		f.logger.Warn("external publish failed",
			"contest_id", snap.ContestID,
			"error", err,
		)
	}
}

// Published reports how many snapshots have been handed to the hub.
func (f *Fanout) Published() int64 {
	return f.published.Load()
}

// Failed reports how many external publishes have errored.
func (f *Fanout) Failed() int64 {
	return f.failed.Load()
}

// Close releases the external publisher, if any.
func (f *Fanout) Close() error {
	if f.external == nil {
		return nil
	}
	return f.external.Close()
}
