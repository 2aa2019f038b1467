// Package deskclient is a Go client for the offer desk's admin and event API.
package deskclient

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"math"
	"math/rand"
	"net/http"
	"net/url"
	"sort"
	"strings"
	"time"

	"offerdesk/internal/model"
)

type Client struct {
	baseURL string
	token   string
	http    *http.Client
	rng     *rand.Rand
}

func New(baseURL string, hc *http.Client) *Client {
	baseURL = strings.TrimRight(baseURL, "/")
	if hc == nil {
		hc = &http.Client{Timeout: 10 * time.Second}
	}
	return &Client{
		baseURL: baseURL,
		http:    hc,
		rng:     rand.New(rand.NewSource(time.Now().UnixNano())),
	}
}

// WithToken returns a copy that sends token as the event bearer token.
func (c *Client) WithToken(token string) *Client {
	cp := *c
	cp.token = token
	return &cp
}

type reservationsResp struct {
	Items []string `json:"items"`
}

type submitResp struct {
	Queued bool `json:"queued"`
}

type pollResp struct {
	Pruned []string `json:"pruned"`
}

func (c *Client) ReservedItems(ctx context.Context) ([]string, error) {
	path := c.baseURL + "/v1/reservations"
	var out reservationsResp
	code, raw, err := c.doJSON(ctx, http.MethodGet, path, nil, &out)
	if err != nil {
		return nil, err
	}
	if code != http.StatusOK {
		return nil, &UnexpectedStatusError{Method: http.MethodGet, Path: path, Code: code, Body: raw}
	}
	sort.Strings(out.Items)
	return out.Items, nil
}

func (c *Client) IsReserved(ctx context.Context, assetID string) (bool, error) {
	items, err := c.ReservedItems(ctx)
	if err != nil {
		return false, err
	}
	i := sort.SearchStrings(items, assetID)
	return i < len(items) && items[i] == assetID, nil
}

func (c *Client) Queue(ctx context.Context) (QueueState, error) {
	path := c.baseURL + "/v1/queue"
	var out QueueState
	code, raw, err := c.doJSON(ctx, http.MethodGet, path, nil, &out)
	if err != nil {
		return QueueState{}, err
	}
	if code != http.StatusOK {
		return QueueState{}, &UnexpectedStatusError{Method: http.MethodGet, Path: path, Code: code, Body: raw}
	}
	return out, nil
}

// SubmitOffer posts a new-offer event and reports whether it was queued.
func (c *Client) SubmitOffer(ctx context.Context, offer model.Offer) (bool, error) {
	if offer.ID == "" {
		return false, fmt.Errorf("offer id required")
	}
	path := c.baseURL + "/v1/events/offers"
	var out submitResp
	code, raw, err := c.doJSON(ctx, http.MethodPost, path, offer, &out)
	if err != nil {
		return false, err
	}
	if code != http.StatusAccepted {
		return false, &UnexpectedStatusError{Method: http.MethodPost, Path: path, Code: code, Body: raw}
	}
	return out.Queued, nil
}

// OfferChanged posts a state-change event for offer.
func (c *Client) OfferChanged(ctx context.Context, offer model.Offer, oldState model.OfferState) error {
	if offer.ID == "" {
		return fmt.Errorf("offer id required")
	}
	path := fmt.Sprintf("%s/v1/events/offers/%s/changed", c.baseURL, url.PathEscape(offer.ID))
	body := map[string]any{"offer": offer, "old_state": oldState}
	code, raw, err := c.doJSON(ctx, http.MethodPost, path, body, nil)
	if err != nil {
		return err
	}
	if code != http.StatusAccepted {
		return &UnexpectedStatusError{Method: http.MethodPost, Path: path, Code: code, Body: raw}
	}
	return nil
}

// Poll posts a poll snapshot and returns the ids whose data was pruned.
func (c *Client) Poll(ctx context.Context, snap model.PollSnapshot) ([]string, error) {
	path := c.baseURL + "/v1/events/poll"
	var out pollResp
	code, raw, err := c.doJSON(ctx, http.MethodPost, path, snap, &out)
	if err != nil {
		return nil, err
	}
	if code != http.StatusOK {
		return nil, &UnexpectedStatusError{Method: http.MethodPost, Path: path, Code: code, Body: raw}
	}
	return out.Pruned, nil
}

// doJSON sends JSON and optionally decodes JSON response.
// Returns status code and raw body (trimmed) for debugging.
func (c *Client) doJSON(ctx context.Context, method, url string, req any, resp any) (int, string, error) {
	var body io.Reader
	if req != nil {
		b, err := json.Marshal(req)
		if err != nil {
			return 0, "", err
		}
		body = bytes.NewReader(b)
	}

	httpReq, err := http.NewRequestWithContext(ctx, method, url, body)
	if err != nil {
		return 0, "", err
	}
	if req != nil {
		httpReq.Header.Set("Content-Type", "application/json")
	}
	if c.token != "" {
		httpReq.Header.Set("Authorization", "Bearer "+c.token)
	}

	rsp, err := c.http.Do(httpReq)
	if err != nil {
		return 0, "", err
	}
	defer rsp.Body.Close()

	b, _ := io.ReadAll(io.LimitReader(rsp.Body, 1<<20))
	raw := strings.TrimSpace(string(b))

	if resp != nil && len(b) > 0 {
		_ = json.Unmarshal(b, resp) // tolerate non-JSON error bodies
	}
	return rsp.StatusCode, raw, nil
}

// WaitIdle polls the queue until nothing is queued or in flight.
func (c *Client) WaitIdle(ctx context.Context, opt WaitOptions) error {
	if opt.MinPoll <= 0 {
		opt.MinPoll = 10 * time.Millisecond
	}
	if opt.MaxPoll <= 0 {
		opt.MaxPoll = 500 * time.Millisecond
	}
	if opt.JitterFrac <= 0 {
		opt.JitterFrac = 0.2
	}

	for attempt := 0; ; attempt++ {
		q, err := c.Queue(ctx)
		if err != nil {
			return err
		}
		if q.Idle() {
			return nil
		}

		sleep := time.Duration(float64(opt.MinPoll) * math.Pow(1.5, float64(attempt)))
		if sleep > opt.MaxPoll {
			sleep = opt.MaxPoll
		}
		sleep = addJitter(c.rng, sleep, opt.JitterFrac)

		timer := time.NewTimer(sleep)
		select {
		case <-ctx.Done():
			timer.Stop()
			return ctx.Err()
		case <-timer.C:
		}
	}
}

func addJitter(r *rand.Rand, d time.Duration, frac float64) time.Duration {
	if frac <= 0 {
		return d
	}
	// jitter range: [d*(1-frac), d*(1+frac)]
	j := (r.Float64()*2 - 1) * frac
	out := time.Duration(float64(d) * (1 + j))
	if out < 0 {
		return 0
	}
	return out
}
