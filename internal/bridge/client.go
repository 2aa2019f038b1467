// Package bridge talks to the local sidecar that fronts the trading platform
// and hosts the decision handler.
package bridge

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/google/uuid"

	"offerdesk/internal/model"
	"offerdesk/internal/obs"
)

// eresultUnknownParty is the platform code for a trade whose items changed.
const eresultUnknownParty = 26

// Client implements model.Platform, model.Sessions, model.Approver and
// model.Inventory over the sidecar's HTTP API.
type Client struct {
	base   string
	hc     *http.Client
	logger *obs.Logger
}

func New(base string, hc *http.Client, logger *obs.Logger) *Client {
	base = strings.TrimRight(strings.TrimSpace(base), "/")
	if base == "" {
		base = "http://127.0.0.1:8787"
	}
	if hc == nil {
		hc = &http.Client{Timeout: 15 * time.Second}
	}
	return &Client{base: base, hc: hc, logger: logger}
}

type errorBody struct {
	Error   string `json:"error"`
	Kind    string `json:"kind"`
	EResult int    `json:"eresult"`
}

type statusResp struct {
	Status  string `json:"status"`
	OfferID string `json:"offer_id,omitempty"`
}

type acceptReq struct {
	SkipStateUpdate bool            `json:"skip_state_update"`
	Data            model.OfferData `json:"data"`
}

type declineReq struct {
	Data model.OfferData `json:"data"`
}

type loginReq struct {
	Force bool `json:"force"`
}

type confirmReq struct {
	Secret string `json:"secret"`
}

func (c *Client) Send(ctx context.Context, offer *model.Offer) (model.SendStatus, error) {
	var out statusResp
	if err := c.call(ctx, "send", http.MethodPost, "/v1/offers/send", offer, &out); err != nil {
		return "", err
	}
	if out.OfferID != "" {
		offer.ID = out.OfferID
	}
	return c.parseStatus("send", offer.ID, out.Status, model.StatusSent), nil
}

func (c *Client) Accept(ctx context.Context, offer *model.Offer, skipStateUpdate bool) (model.SendStatus, error) {
	var out statusResp
	path := "/v1/offers/" + url.PathEscape(offer.ID) + "/accept"
	body := acceptReq{SkipStateUpdate: skipStateUpdate, Data: offer.Data}
	if err := c.call(ctx, "accept", http.MethodPost, path, body, &out); err != nil {
		return "", err
	}
	return c.parseStatus("accept", offer.ID, out.Status, model.StatusAccepted), nil
}

func (c *Client) Decline(ctx context.Context, offer *model.Offer) error {
	path := "/v1/offers/" + url.PathEscape(offer.ID) + "/decline"
	return c.call(ctx, "decline", http.MethodPost, path, declineReq{Data: offer.Data}, nil)
}

func (c *Client) GetOffer(ctx context.Context, id string) (*model.Offer, error) {
	var out model.Offer
	if err := c.call(ctx, "fetch", http.MethodGet, "/v1/offers/"+url.PathEscape(id), nil, &out); err != nil {
		return nil, err
	}
	if out.ID == "" {
		out.ID = id
	}
	return &out, nil
}

func (c *Client) EnsureLoggedIn(ctx context.Context, force bool) error {
	return c.call(ctx, "login", http.MethodPost, "/v1/session/login", loginReq{Force: force}, nil)
}

func (c *Client) AcceptConfirmation(ctx context.Context, secret, objectID string) error {
	path := "/v1/confirmations/" + url.PathEscape(objectID) + "/accept"
	return c.call(ctx, "confirm", http.MethodPost, path, confirmReq{Secret: secret}, nil)
}

func (c *Client) Refresh(ctx context.Context, accountID string) error {
	path := "/v1/inventory/" + url.PathEscape(accountID) + "/refresh"
	return c.call(ctx, "inventory_refresh", http.MethodPost, path, nil, nil)
}

// call performs one request. Non-2xx answers become *model.PlatformError;
// transport failures are returned as is and classify as transient.
func (c *Client) call(ctx context.Context, op, method, path string, req, resp any) error {
	code, raw, err := c.doJSON(ctx, method, c.base+path, req, resp)
	if err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}
	if code >= 200 && code < 300 {
		return nil
	}
	return decodeError(op, code, raw)
}

// doJSON sends JSON and decodes a 2xx JSON response into resp.
// Returns status code and raw body (trimmed) for error mapping.
func (c *Client) doJSON(ctx context.Context, method, u string, req, resp any) (int, string, error) {
	var body io.Reader
	if req != nil {
		b, err := json.Marshal(req)
		if err != nil {
			return 0, "", err
		}
		body = bytes.NewReader(b)
	}

	httpReq, err := http.NewRequestWithContext(ctx, method, u, body)
	if err != nil {
		return 0, "", fmt.Errorf("newrequest: %w (url=%s)", err, u)
	}
	if req != nil {
		httpReq.Header.Set("Content-Type", "application/json")
	}
	httpReq.Header.Set("User-Agent", "offerdesk/bridge")
	httpReq.Header.Set("X-Request-ID", uuid.NewString())

	rsp, err := c.hc.Do(httpReq)
	if err != nil {
		return 0, "", err
	}
	defer rsp.Body.Close()

	b, _ := io.ReadAll(io.LimitReader(rsp.Body, 1<<20))
	raw := strings.TrimSpace(string(b))

	if rsp.StatusCode >= 200 && rsp.StatusCode < 300 && resp != nil && len(b) > 0 {
		if err := json.Unmarshal(b, resp); err != nil {
			return rsp.StatusCode, raw, fmt.Errorf("decode response: %w", err)
		}
	}
	return rsp.StatusCode, raw, nil
}

func decodeError(op string, code int, raw string) error {
	var eb errorBody
	_ = json.Unmarshal([]byte(raw), &eb) // tolerate non-JSON error bodies

	msg := eb.Error
	if msg == "" {
		msg = fmt.Sprintf("status %d: %s", code, raw)
	}
	kind := model.ParseErrorKind(eb.Kind)
	switch {
	case eb.Kind != "":
	case eb.EResult == eresultUnknownParty:
		kind = model.KindItemMismatch
	case op == "fetch" && code == http.StatusNotFound:
		// a bare 404 on lookup means the offer is gone
		kind = model.KindNoMatch
	}
	return &model.PlatformError{Op: op, Kind: kind, EResult: eb.EResult, Message: msg}
}

// parseStatus maps the sidecar's status string. The request already went
// through, so an unknown value falls back to def instead of failing.
func (c *Client) parseStatus(op, offerID, s string, def model.SendStatus) model.SendStatus {
	switch st := model.SendStatus(s); st {
	case "":
		return def
	case model.StatusSent, model.StatusAccepted, model.StatusPending, model.StatusEscrow:
		return st
	default:
		c.logger.Warn(map[string]interface{}{
			"op":     op,
			"offer":  offerID,
			"status": s,
			"error":  "unknown status from bridge",
		})
		return def
	}
}
