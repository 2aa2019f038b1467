package model

import (
	"context"
	"fmt"
	"time"

	"offerdesk/internal/obs"
)

const (
	opSend    = "send"
	opAccept  = "accept"
	opDecline = "decline"
	opFetch   = "fetch"
)

// RetryPolicy bounds how long a failing operation is pursued.
// The wait before attempt n+1 is Step*n (linear, not exponential).
type RetryPolicy struct {
	MaxAttempts int
	Step        time.Duration
}

func DefaultRetryPolicy() RetryPolicy {
	return RetryPolicy{MaxAttempts: 5, Step: 5 * time.Second}
}

func (p RetryPolicy) Backoff(attempts int) time.Duration {
	return p.Step * time.Duration(attempts)
}

// Sleeper waits for d or until ctx is done.
type Sleeper interface {
	Sleep(ctx context.Context, d time.Duration) error
}

type timerSleeper struct{}

func (timerSleeper) Sleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	timer := time.NewTimer(d)
	select {
	case <-ctx.Done():
		timer.Stop()
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

type ExecutorConfig struct {
	Platform  Platform
	Sessions  Sessions
	Inventory Inventory
	AccountID string // whose inventory is refreshed after item mismatches

	Policy  RetryPolicy // zero value => DefaultRetryPolicy
	Sleeper Sleeper     // nil => real timers

	Logger  *obs.Logger
	Metrics *obs.Metrics
}

// Executor runs send/accept/fetch against the platform with classification,
// session recovery and linear backoff.
type Executor struct {
	platform  Platform
	sessions  Sessions
	inventory Inventory
	accountID string
	policy    RetryPolicy
	sleeper   Sleeper
	logger    *obs.Logger
	metrics   *obs.Metrics
}

func NewExecutor(cfg ExecutorConfig) *Executor {
	p := cfg.Policy
	if p == (RetryPolicy{}) {
		p = DefaultRetryPolicy()
	}
	if p.MaxAttempts <= 0 {
		p.MaxAttempts = DefaultRetryPolicy().MaxAttempts
	}
	if p.Step < 0 {
		p.Step = 0
	}
	s := cfg.Sleeper
	if s == nil {
		s = timerSleeper{}
	}
	return &Executor{
		platform:  cfg.Platform,
		sessions:  cfg.Sessions,
		inventory: cfg.Inventory,
		accountID: cfg.AccountID,
		policy:    p,
		sleeper:   s,
		logger:    cfg.Logger,
		metrics:   cfg.Metrics,
	}
}

func (e *Executor) Policy() RetryPolicy { return e.policy }

// Send dispatches a new offer. HandledByUs is set on every dispatch.
func (e *Executor) Send(ctx context.Context, offer *Offer) (SendStatus, error) {
	return retry(ctx, e, opSend, offer.ID, func(ctx context.Context) (SendStatus, error) {
		st, err := e.platform.Send(ctx, offer)
		offer.Data.HandledByUs = true
		return st, err
	})
}

// Accept accepts an offer, skipping the platform's post-accept state refresh.
func (e *Executor) Accept(ctx context.Context, offer *Offer) (SendStatus, error) {
	return retry(ctx, e, opAccept, offer.ID, func(ctx context.Context) (SendStatus, error) {
		st, err := e.platform.Accept(ctx, offer, true)
		offer.Data.HandledByUs = true
		return st, err
	})
}

// Decline is dispatched once; its failure is surfaced as is.
func (e *Executor) Decline(ctx context.Context, offer *Offer) error {
	start := time.Now()
	err := e.platform.Decline(ctx, offer)
	offer.Data.HandledByUs = true

	e.observe(opDecline, start, err, false)
	fields := map[string]interface{}{
		"op":         opDecline,
		"offer":      offer.ID,
		"latency_ms": time.Since(start).Milliseconds(),
	}
	if err != nil {
		fields["error"] = err.Error()
		e.logger.Error(fields)
	} else {
		e.logger.Info(fields)
	}
	return err
}

// Fetch loads an offer by id. A vanished offer, or one that is no longer
// Active, is returned as (nil, nil): there is nothing left to act on.
func (e *Executor) Fetch(ctx context.Context, id string) (*Offer, error) {
	return retry(ctx, e, opFetch, id, func(ctx context.Context) (*Offer, error) {
		o, err := e.platform.GetOffer(ctx, id)
		if err != nil {
			if KindOf(err) == KindNoMatch {
				return nil, nil
			}
			return nil, err
		}
		if o == nil || o.State != StateActive {
			return nil, nil
		}
		return o, nil
	})
}

type phase int

const (
	phaseAttempting phase = iota
	phaseBackingOff
	phaseRecoveringSession
	phaseDone
)

func (p phase) String() string {
	switch p {
	case phaseAttempting:
		return "attempting"
	case phaseBackingOff:
		return "backing_off"
	case phaseRecoveringSession:
		return "recovering_session"
	default:
		return "done"
	}
}

// retry drives call through attempting -> (backing_off | recovering_session)
// -> attempting ... -> done, with at most policy.MaxAttempts calls.
func retry[T any](ctx context.Context, e *Executor, op, offerID string, call func(context.Context) (T, error)) (T, error) {
	var (
		res      T
		err      error
		attempts int
		delay    time.Duration
		reason   string
	)
	start := time.Now()
	ph := phaseAttempting

	for ph != phaseDone {
		switch ph {
		case phaseAttempting:
			if cerr := ctx.Err(); cerr != nil {
				if err == nil {
					err = cerr
				}
				ph = phaseDone
				continue
			}
			res, err = call(ctx)
			attempts++
			if err == nil {
				ph = phaseDone
				continue
			}
			ph, delay = e.next(ctx, op, offerID, attempts, err)
			reason = "transient"

		case phaseRecoveringSession:
			if rerr := e.recoverSession(ctx, op, offerID); rerr != nil {
				delay = e.policy.Backoff(attempts)
				reason = "session"
				ph = phaseBackingOff
				continue
			}
			e.incRetry(op, "session")
			ph = phaseAttempting

		case phaseBackingOff:
			e.incRetry(op, reason)
			e.logger.Warn(map[string]interface{}{
				"op":       op,
				"offer":    offerID,
				"attempt":  attempts,
				"phase":    ph.String(),
				"delay_ms": delay.Milliseconds(),
				"error":    err.Error(),
			})
			if serr := e.sleeper.Sleep(ctx, delay); serr != nil {
				err = fmt.Errorf("%s %s aborted after %d attempts: %w", op, offerID, attempts, serr)
				ph = phaseDone
				continue
			}
			ph = phaseAttempting
		}
	}

	e.observe(op, start, err, err == nil && gone(res))
	fields := map[string]interface{}{
		"op":         op,
		"offer":      offerID,
		"attempts":   attempts,
		"latency_ms": time.Since(start).Milliseconds(),
	}
	if err != nil {
		fields["error"] = err.Error()
		fields["kind"] = KindOf(err).String()
		e.logger.Error(fields)
		var zero T
		return zero, err
	}
	e.logger.Info(fields)
	return res, nil
}

// next classifies a failed attempt and picks the following phase.
func (e *Executor) next(ctx context.Context, op, offerID string, attempts int, err error) (phase, time.Duration) {
	kind := KindOf(err)
	switch {
	case kind.Permanent():
		return phaseDone, 0
	case kind == KindItemMismatch:
		// refresh is for later offers; this one still fails
		e.refreshInventory(ctx, op, offerID)
		return phaseDone, 0
	case attempts >= e.policy.MaxAttempts:
		return phaseDone, 0
	case kind == KindSessionExpired:
		return phaseRecoveringSession, 0
	default:
		return phaseBackingOff, e.policy.Backoff(attempts)
	}
}

func (e *Executor) recoverSession(ctx context.Context, op, offerID string) error {
	if e.sessions == nil {
		return fmt.Errorf("no session keeper configured")
	}
	start := time.Now()
	err := e.sessions.EnsureLoggedIn(ctx, true)

	result := "success"
	fields := map[string]interface{}{
		"op":         "session_recover",
		"for_op":     op,
		"offer":      offerID,
		"latency_ms": time.Since(start).Milliseconds(),
	}
	if err != nil {
		result = "fail"
		fields["error"] = err.Error()
		e.logger.Error(fields)
	} else {
		e.logger.Info(fields)
	}
	if e.metrics != nil {
		e.metrics.SessionRecoveryTotal.WithLabelValues(result).Inc()
	}
	return err
}

func (e *Executor) refreshInventory(ctx context.Context, op, offerID string) {
	if e.inventory == nil {
		return
	}
	if err := e.inventory.Refresh(ctx, e.accountID); err != nil {
		e.logger.Error(map[string]interface{}{
			"op":     "inventory_refresh",
			"for_op": op,
			"offer":  offerID,
			"error":  err.Error(),
		})
	}
}

func (e *Executor) incRetry(op, reason string) {
	if e.metrics == nil {
		return
	}
	e.metrics.RetryTotal.WithLabelValues(op, reason).Inc()
}

func (e *Executor) observe(op string, start time.Time, err error, gone bool) {
	if e.metrics == nil {
		return
	}
	result := "success"
	switch {
	case err != nil:
		result = "error"
	case gone:
		result = "gone"
	}
	e.metrics.OpTotal.WithLabelValues(op, result).Inc()
	e.metrics.OpLatencyMS.WithLabelValues(op).Observe(float64(time.Since(start).Milliseconds()))
}

// gone reports a fetch that resolved to no offer.
func gone[T any](v T) bool {
	if o, ok := any(v).(*Offer); ok {
		return o == nil
	}
	return false
}
