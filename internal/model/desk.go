package model

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"

	"offerdesk/internal/obs"
)

type Config struct {
	Platform  Platform
	Sessions  Sessions
	Approver  Approver
	Inventory Inventory
	Handler   Handler

	AccountID      string // our account, for inventory refreshes
	IdentitySecret string // shared secret for mobile confirmations

	Policy    RetryPolicy
	Sleeper   Sleeper
	Retention time.Duration    // poll data retention, default 1h
	Now       func() time.Time // injected for testability

	Logger  *obs.Logger
	Metrics *obs.Metrics
}

// Desk owns the offer queue and the item reservations. At most one offer is
// fetched, decided and acted on at a time.
type Desk struct {
	mu         sync.Mutex
	queue      []string
	processing bool

	reservations *Reservations
	exec         *Executor
	gate         *ConfirmationGate
	poll         *PollState
	handler      Handler
	inventory    Inventory
	accountID    string
	now          func() time.Time

	logger  *obs.Logger
	metrics *obs.Metrics

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

func NewDesk(cfg Config) *Desk {
	ctx, cancel := context.WithCancel(context.Background())
	d := &Desk{
		reservations: NewReservations(),
		exec: NewExecutor(ExecutorConfig{
			Platform:  cfg.Platform,
			Sessions:  cfg.Sessions,
			Inventory: cfg.Inventory,
			AccountID: cfg.AccountID,
			Policy:    cfg.Policy,
			Sleeper:   cfg.Sleeper,
			Logger:    cfg.Logger,
			Metrics:   cfg.Metrics,
		}),
		gate:      NewConfirmationGate(cfg.Approver, cfg.IdentitySecret, cfg.Logger, cfg.Metrics),
		poll:      NewPollState(cfg.Retention, cfg.Logger, cfg.Metrics),
		handler:   cfg.Handler,
		inventory: cfg.Inventory,
		accountID: cfg.AccountID,
		now:       cfg.Now,
		logger:    cfg.Logger,
		metrics:   cfg.Metrics,
		ctx:       ctx,
		cancel:    cancel,
	}
	if d.handler == nil {
		d.handler = nopHandler{}
	}
	if d.now == nil {
		d.now = time.Now
	}
	if d.metrics != nil {
		d.reservations.onChange = func(n int) { d.metrics.ItemsReserved.Set(float64(n)) }
	}
	return d
}

func (d *Desk) Reservations() *Reservations { return d.reservations }
func (d *Desk) PollState() *PollState { return d.poll }

// ReservedItems is the sorted list of our asset ids that must not be offered elsewhere.
func (d *Desk) ReservedItems() []string { return d.reservations.Items() }

// Queue returns a copy of the queued offer ids and whether one is in flight.
func (d *Desk) Queue() ([]string, bool) {
	d.mu.Lock()
	defer d.mu.Unlock()
	return append([]string(nil), d.queue...), d.processing
}

// Wait blocks until the worker has drained the queue. Callers must not
// Submit concurrently with Wait; it is meant for a quiescent desk, such as
// after a batch in tests or the simulator.
func (d *Desk) Wait() { d.wg.Wait() }

// Close aborts pending backoffs and waits for the worker to exit.
func (d *Desk) Close() {
	d.cancel()
	d.wg.Wait()
}

// Submit takes a newly received offer. Glitched offers are dropped; otherwise
// our outbound items are reserved right away and the offer is queued. It
// reports whether the offer was queued.
func (d *Desk) Submit(offer *Offer) bool {
	if offer == nil || offer.ID == "" {
		return false
	}
	if offer.Glitched {
		d.incSubmitted("glitched")
		d.logger.Warn(map[string]interface{}{
			"op":    "submit",
			"offer": offer.ID,
			"error": "offer is glitched",
		})
		return false
	}

	d.reservations.Hold(offer.ID, offer.giveAssetIDs()...)

	d.mu.Lock()
	defer d.mu.Unlock()

	if indexOf(d.queue, offer.ID) != -1 {
		d.incSubmitted("duplicate")
		return false
	}
	d.queue = append(d.queue, offer.ID)
	d.incSubmitted("queued")
	d.setDepthLocked()

	if d.processing {
		return true
	}
	if len(d.queue) == 1 {
		// nothing ahead of it: act on the offer we were handed, no fetch
		d.startLocked(offer, offer.ID)
	} else {
		d.startLocked(nil, d.queue[0])
	}
	return true
}

func (d *Desk) startLocked(offer *Offer, id string) {
	d.processing = true
	d.wg.Add(1)
	go d.work(offer, id)
}

// work processes offers until the queue is empty. Only the goroutine that
// flipped processing to true runs it.
func (d *Desk) work(offer *Offer, id string) {
	defer d.wg.Done()
	for id != "" {
		failed := false
		if offer == nil {
			var err error
			offer, err = d.exec.Fetch(d.ctx, id)
			if err != nil {
				failed = true
				d.handler.OnFetchError(id, err)
			}
		}
		if offer != nil {
			d.process(offer)
		}
		offer = nil
		id = d.finish(id, failed)
	}
}

// finish takes id off the queue, or moves it to the tail when its fetch
// failed and others are waiting, then picks the next id.
func (d *Desk) finish(id string, failed bool) string {
	d.mu.Lock()
	defer d.mu.Unlock()

	if i := indexOf(d.queue, id); i != -1 {
		d.queue = append(d.queue[:i], d.queue[i+1:]...)
		if failed && len(d.queue) > 0 {
			d.queue = append(d.queue, id)
		}
	}
	d.processing = false
	d.setDepthLocked()

	if len(d.queue) == 0 || d.ctx.Err() != nil {
		return ""
	}
	d.processing = true
	return d.queue[0]
}

func (d *Desk) process(offer *Offer) {
	start := time.Now()
	cycle := uuid.NewString()

	action := d.handler.OnNewOffer(d.ctx, offer)

	var err error
	switch action {
	case ActionAccept:
		if _, err = d.AcceptOffer(d.ctx, offer); err != nil {
			d.handler.OnAcceptError(offer.ID, err)
		}
	case ActionDecline:
		if err = d.DeclineOffer(d.ctx, offer); err != nil {
			d.handler.OnDeclineError(offer.ID, err)
		}
	}

	fields := map[string]interface{}{
		"op":         "process",
		"cycle":      cycle,
		"offer":      offer.ID,
		"action":     string(action),
		"latency_ms": time.Since(start).Milliseconds(),
	}
	if err != nil {
		fields["error"] = err.Error()
		d.logger.Error(fields)
	} else {
		d.logger.Info(fields)
	}
}

// AcceptOffer accepts through the executor. A permanent failure frees the
// offer's items; a pending result goes through the confirmation gate.
func (d *Desk) AcceptOffer(ctx context.Context, offer *Offer) (SendStatus, error) {
	status, err := d.exec.Accept(ctx, offer)
	if err != nil {
		if KindOf(err).Permanent() {
			d.reservations.Drop(offer.ID, offer.giveAssetIDs()...)
		}
		return "", err
	}
	if status == StatusPending {
		d.gate.Confirm(ctx, offer)
	}
	return status, nil
}

func (d *Desk) DeclineOffer(ctx context.Context, offer *Offer) error {
	return d.exec.Decline(ctx, offer)
}

// SendOffer reserves our items, records them as the offer's assetids and
// sends it. The items are freed again if the send fails.
func (d *Desk) SendOffer(ctx context.Context, offer *Offer) (SendStatus, error) {
	ids := offer.giveAssetIDs()
	key := offer.ID
	if key == "" {
		key = "pending-" + uuid.NewString()
	}
	d.reservations.Hold(key, ids...)
	offer.Data.AssetIDs = ids

	status, err := d.exec.Send(ctx, offer)
	if err != nil {
		d.reservations.Drop(key, ids...)
		return "", err
	}
	if offer.ID != "" && offer.ID != key {
		d.reservations.Hold(offer.ID, ids...)
		d.reservations.Drop(key, ids...)
	}
	if status == StatusPending {
		d.gate.Confirm(ctx, offer)
	}
	return status, nil
}

// OfferChanged is called when the platform reports a state change.
func (d *Desk) OfferChanged(ctx context.Context, offer *Offer, oldState OfferState) {
	ids := offer.giveAssetIDs()

	switch {
	case offer.State.HoldsItems():
		d.reservations.Hold(offer.ID, ids...)
		if len(offer.Data.AssetIDs) == 0 {
			offer.Data.AssetIDs = ids
		}
	case offer.State == StateAccepted:
		// given items leave only once the refreshed inventory no longer has them
		d.refreshInventory(ctx, offer.ID)
		d.reservations.Drop(offer.ID, ids...)
	default:
		d.reservations.Drop(offer.ID, ids...)
	}

	d.logger.Info(map[string]interface{}{
		"op":        "offer_changed",
		"offer":     offer.ID,
		"state":     offer.State.String(),
		"old_state": oldState.String(),
		"reserved":  d.reservations.Len(),
	})
	d.handler.OnOfferUpdated(ctx, offer, oldState)
}

// OnPoll prunes aged-out entries from snap, brings reservations in line with
// the states it reports and hands the pruned copy to the handler. The caller
// decides whether to persist the returned snapshot.
func (d *Desk) OnPoll(ctx context.Context, snap PollSnapshot) (PollSnapshot, []string) {
	pruned, ids := d.poll.Prune(snap, d.now())
	d.reconcile(ctx, snap)
	d.handler.OnPollData(ctx, pruned)
	return pruned, ids
}

// Adopt rebuilds reservations from a previously persisted snapshot.
func (d *Desk) Adopt(snap PollSnapshot) {
	d.reconcile(d.ctx, snap)
	d.logger.Info(map[string]interface{}{
		"op":       "adopt",
		"offers":   len(snap.Sent) + len(snap.Received),
		"reserved": d.reservations.Len(),
	})
}

// reconcile holds the items of every snapshot offer still committing them
// and releases whatever an offer in any other state still holds. Offers the
// snapshot does not mention are left alone.
func (d *Desk) reconcile(ctx context.Context, snap PollSnapshot) {
	for id, assets := range heldAssets(snap) {
		d.reservations.Hold(id, assets...)
	}
	for _, states := range []map[string]OfferState{snap.Sent, snap.Received} {
		for id, st := range states {
			if st.HoldsItems() || !d.reservations.Holding(id) {
				continue
			}
			if st == StateAccepted {
				d.refreshInventory(ctx, id)
			}
			released := d.reservations.DropAll(id)
			d.logger.Info(map[string]interface{}{
				"op":       "poll_release",
				"offer":    id,
				"state":    st.String(),
				"released": len(released),
			})
		}
	}
}

func (d *Desk) refreshInventory(ctx context.Context, offerID string) {
	if d.inventory == nil {
		return
	}
	if err := d.inventory.Refresh(ctx, d.accountID); err != nil {
		d.logger.Error(map[string]interface{}{
			"op":    "inventory_refresh",
			"offer": offerID,
			"error": err.Error(),
		})
	}
}

func (d *Desk) setDepthLocked() {
	if d.metrics == nil {
		return
	}
	d.metrics.QueueDepth.Set(float64(len(d.queue)))
}

func (d *Desk) incSubmitted(result string) {
	if d.metrics == nil {
		return
	}
	d.metrics.SubmittedTotal.WithLabelValues(result).Inc()
}

func indexOf(ids []string, id string) int {
	for i, v := range ids {
		if v == id {
			return i
		}
	}
	return -1
}

type nopHandler struct{}

func (nopHandler) OnNewOffer(context.Context, *Offer) Action { return ActionIgnore }
func (nopHandler) OnOfferUpdated(context.Context, *Offer, OfferState) {}
func (nopHandler) OnPollData(context.Context, PollSnapshot) {}
func (nopHandler) OnFetchError(string, error) {}
func (nopHandler) OnAcceptError(string, error) {}
func (nopHandler) OnDeclineError(string, error) {}
