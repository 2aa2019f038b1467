package bridge

import (
	"context"
	"net/http"
	"time"

	"offerdesk/internal/model"
)

// Handler forwards desk callbacks to the sidecar's decision handler.
// Notification failures are logged; a failed decision means ignore.
type Handler struct {
	c       *Client
	timeout time.Duration
}

func NewHandler(c *Client, timeout time.Duration) *Handler {
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return &Handler{c: c, timeout: timeout}
}

type decisionResp struct {
	Action model.Action `json:"action"`
}

type updatedReq struct {
	Offer    *model.Offer     `json:"offer"`
	OldState model.OfferState `json:"old_state"`
}

type errorReq struct {
	Op      string `json:"op"`
	OfferID string `json:"offer_id"`
	Kind    string `json:"kind"`
	Error   string `json:"error"`
}

func (h *Handler) OnNewOffer(ctx context.Context, offer *model.Offer) model.Action {
	ctx, cancel := context.WithTimeout(ctx, h.timeout)
	defer cancel()

	var out decisionResp
	if err := h.c.call(ctx, "handler_offer", http.MethodPost, "/v1/handler/offer", offer, &out); err != nil {
		h.logFailure("handler_offer", offer.ID, err)
		return model.ActionIgnore
	}
	switch out.Action {
	case model.ActionAccept, model.ActionDecline:
		return out.Action
	default:
		return model.ActionIgnore
	}
}

func (h *Handler) OnOfferUpdated(ctx context.Context, offer *model.Offer, oldState model.OfferState) {
	h.notify(ctx, "handler_updated", offer.ID, "/v1/handler/updated", updatedReq{Offer: offer, OldState: oldState})
}

func (h *Handler) OnPollData(ctx context.Context, snap model.PollSnapshot) {
	h.notify(ctx, "handler_poll", "", "/v1/handler/poll", snap)
}

func (h *Handler) OnFetchError(id string, err error) { h.reportError("fetch", id, err) }

func (h *Handler) OnAcceptError(id string, err error) { h.reportError("accept", id, err) }

func (h *Handler) OnDeclineError(id string, err error) { h.reportError("decline", id, err) }

func (h *Handler) reportError(op, id string, err error) {
	body := errorReq{
		Op:      op,
		OfferID: id,
		Kind:    model.KindOf(err).String(),
		Error:   err.Error(),
	}
	h.notify(context.Background(), "handler_error", id, "/v1/handler/error", body)
}

func (h *Handler) notify(ctx context.Context, op, offerID, path string, body any) {
	ctx, cancel := context.WithTimeout(ctx, h.timeout)
	defer cancel()
	if err := h.c.call(ctx, op, http.MethodPost, path, body, nil); err != nil {
		h.logFailure(op, offerID, err)
	}
}

func (h *Handler) logFailure(op, offerID string, err error) {
	h.c.logger.Error(map[string]interface{}{
		"op":    op,
		"offer": offerID,
		"error": err.Error(),
	})
}
