package model

import (
	"context"
	"sort"
	"sync"
	"time"

	"offerdesk/internal/obs"
)

const DefaultRetention = time.Hour

// SnapshotStore persists the latest pruned poll snapshot.
type SnapshotStore interface {
	LoadSnapshot(ctx context.Context) (PollSnapshot, error)
	SaveSnapshot(ctx context.Context, snap PollSnapshot) error
}

// PollState prunes poll data of resolved offers once they age out of the
// retention window.
type PollState struct {
	mu        sync.Mutex // serializes store writes between Persist and the sweeper
	retention time.Duration
	logger    *obs.Logger
	metrics   *obs.Metrics
}

func NewPollState(retention time.Duration, logger *obs.Logger, metrics *obs.Metrics) *PollState {
	if retention <= 0 {
		retention = DefaultRetention
	}
	return &PollState{
		retention: retention,
		logger:    logger,
		metrics:   metrics,
	}
}

func (p *PollState) Retention() time.Duration { return p.retention }

// Prune returns a copy of snap without the OfferData/Timestamps entries of
// offers that are not Accepted, CreatedNeedsConfirmation or InEscrow and
// whose last change is older than the retention window. snap is not modified.
func (p *PollState) Prune(snap PollSnapshot, now time.Time) (PollSnapshot, []string) {
	out := snap.Clone()
	cur := now.Unix()
	limit := int64(p.retention / time.Second)

	var pruned []string
	for id, ts := range out.Timestamps {
		state, _ := out.StateOf(id)
		if state.settled() || cur-ts <= limit {
			continue
		}
		delete(out.OfferData, id)
		delete(out.Timestamps, id)
		pruned = append(pruned, id)
	}
	sort.Strings(pruned)

	if len(pruned) > 0 {
		if p.metrics != nil {
			p.metrics.PrunedTotal.Add(float64(len(pruned)))
		}
		p.logger.Info(map[string]interface{}{
			"op":        "poll_prune",
			"pruned":    len(pruned),
			"remaining": len(out.Timestamps),
		})
	}
	return out, pruned
}

// heldAssets maps every snapshot offer whose state keeps our items
// committed to the asset ids recorded for it.
func heldAssets(snap PollSnapshot) map[string][]string {
	out := make(map[string][]string)
	collect := func(states map[string]OfferState) {
		for id, st := range states {
			if !st.HoldsItems() {
				continue
			}
			if ids := snap.OfferData[id].AssetIDs; len(ids) > 0 {
				out[id] = ids
			}
		}
	}
	collect(snap.Sent)
	collect(snap.Received)
	return out
}

// Run re-prunes the stored snapshot every interval so aged-out entries do not
// linger while the platform is not polling.
func (p *PollState) Run(ctx context.Context, store SnapshotStore, interval time.Duration) {
	if interval <= 0 {
		interval = time.Minute
	}
	t := time.NewTicker(interval)
	defer t.Stop()

	p.sweepOnce(ctx, store)

	for {
		select {
		case <-ctx.Done():
			return
		case <-t.C:
			p.sweepOnce(ctx, store)
		}
	}
}

// Persist saves snap, ordered with respect to the background sweep.
func (p *PollState) Persist(ctx context.Context, store SnapshotStore, snap PollSnapshot) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	return store.SaveSnapshot(ctx, snap)
}

func (p *PollState) sweepOnce(ctx context.Context, store SnapshotStore) {
	p.mu.Lock()
	defer p.mu.Unlock()

	start := time.Now()
	snap, err := store.LoadSnapshot(ctx)
	if err != nil {
		p.logger.Error(map[string]interface{}{
			"op":    "poll_sweep",
			"error": err.Error(),
		})
		return
	}
	pruned, ids := p.Prune(snap, time.Now())
	if len(ids) == 0 {
		return
	}
	err = store.SaveSnapshot(ctx, pruned)

	fields := map[string]interface{}{
		"op":         "poll_sweep",
		"pruned":     len(ids),
		"latency_ms": time.Since(start).Milliseconds(),
	}
	if err != nil {
		fields["error"] = err.Error()
		p.logger.Error(fields)
		return
	}
	p.logger.Info(fields)
}
