package model

import (
	"context"
	"time"

	"offerdesk/internal/obs"
)

// ConfirmationGate approves the mobile confirmation a "pending" send or
// accept is waiting on. Failures are logged and counted, never retried: the
// send/accept already succeeded from the caller's point of view.
type ConfirmationGate struct {
	approver Approver
	secret   string
	logger   *obs.Logger
	metrics  *obs.Metrics
}

func NewConfirmationGate(approver Approver, secret string, logger *obs.Logger, metrics *obs.Metrics) *ConfirmationGate {
	return &ConfirmationGate{
		approver: approver,
		secret:   secret,
		logger:   logger,
		metrics:  metrics,
	}
}

func (g *ConfirmationGate) Confirm(ctx context.Context, offer *Offer) {
	start := time.Now()
	var err error
	if g.approver != nil {
		err = g.approver.AcceptConfirmation(ctx, g.secret, offer.ID)
	}
	offer.Data.ActedOnConfirmation = true

	result := "success"
	fields := map[string]interface{}{
		"op":         "confirm",
		"offer":      offer.ID,
		"latency_ms": time.Since(start).Milliseconds(),
	}
	if g.approver == nil {
		result = "fail"
		fields["error"] = "no approver configured"
		g.logger.Error(fields)
	} else if err != nil {
		result = "fail"
		fields["error"] = err.Error()
		g.logger.Error(fields)
	} else {
		g.logger.Info(fields)
	}
	if g.metrics != nil {
		g.metrics.ConfirmationTotal.WithLabelValues(result).Inc()
	}
}
