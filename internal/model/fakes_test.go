package model_test

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"offerdesk/internal/model"
)

// fakePlatform serves offers from memory. Errors scripted per op/id are
// returned in order before the call starts succeeding.
type fakePlatform struct {
	mu      sync.Mutex
	offers  map[string]*model.Offer
	script  map[string][]error          // key: op or op+":"+id
	calls   map[string]int
	status  map[string]model.SendStatus // op -> status on success
	nextID  int64
	skipped []bool
}

func newFakePlatform() *fakePlatform {
	return &fakePlatform{
		offers: make(map[string]*model.Offer),
		script: make(map[string][]error),
		calls:  make(map[string]int),
		status: make(map[string]model.SendStatus),
	}
}

func (p *fakePlatform) add(o *model.Offer) *model.Offer {
	p.mu.Lock()
	defer p.mu.Unlock()
	cp := *o
	p.offers[o.ID] = &cp
	return o
}

func (p *fakePlatform) fail(key string, errs ...error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.script[key] = append(p.script[key], errs...)
}

func (p *fakePlatform) count(key string) int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.calls[key]
}

// take records a call and pops the next scripted error, if any.
func (p *fakePlatform) take(op, id string) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.calls[op]++
	p.calls[op+":"+id]++
	for _, key := range []string{op + ":" + id, op} {
		if errs := p.script[key]; len(errs) > 0 {
			p.script[key] = errs[1:]
			return errs[0]
		}
	}
	return nil
}

func (p *fakePlatform) statusFor(op string, def model.SendStatus) model.SendStatus {
	p.mu.Lock()
	defer p.mu.Unlock()
	if s, ok := p.status[op]; ok {
		return s
	}
	return def
}

func (p *fakePlatform) Send(ctx context.Context, offer *model.Offer) (model.SendStatus, error) {
	if err := p.take("send", offer.ID); err != nil {
		return "", err
	}
	if offer.ID == "" {
		offer.ID = fmt.Sprintf("sent-%d", atomic.AddInt64(&p.nextID, 1))
	}
	return p.statusFor("send", model.StatusSent), nil
}

func (p *fakePlatform) Accept(ctx context.Context, offer *model.Offer, skipStateUpdate bool) (model.SendStatus, error) {
	p.mu.Lock()
	p.skipped = append(p.skipped, skipStateUpdate)
	p.mu.Unlock()
	if err := p.take("accept", offer.ID); err != nil {
		return "", err
	}
	return p.statusFor("accept", model.StatusAccepted), nil
}

func (p *fakePlatform) Decline(ctx context.Context, offer *model.Offer) error {
	return p.take("decline", offer.ID)
}

func (p *fakePlatform) GetOffer(ctx context.Context, id string) (*model.Offer, error) {
	if err := p.take("fetch", id); err != nil {
		return nil, err
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	o, ok := p.offers[id]
	if !ok {
		return nil, &model.PlatformError{Op: "fetch", Kind: model.KindNoMatch, Message: "NoMatch"}
	}
	cp := *o
	return &cp, nil
}

func transient(msg string) error {
	return &model.PlatformError{Op: "test", Kind: model.KindTransient, Message: msg}
}

func kindErr(k model.ErrorKind) error {
	return &model.PlatformError{Op: "test", Kind: k, Message: k.String()}
}

// recordingSleeper never sleeps; it remembers what it was asked to wait.
type recordingSleeper struct {
	mu     sync.Mutex
	delays []time.Duration
}

func (s *recordingSleeper) Sleep(ctx context.Context, d time.Duration) error {
	s.mu.Lock()
	s.delays = append(s.delays, d)
	s.mu.Unlock()
	return ctx.Err()
}

func (s *recordingSleeper) got() []time.Duration {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]time.Duration(nil), s.delays...)
}

type fakeSessions struct {
	mu     sync.Mutex
	errs   []error
	calls  int
	forced bool
}

func (s *fakeSessions) EnsureLoggedIn(ctx context.Context, force bool) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.calls++
	s.forced = force
	if len(s.errs) > 0 {
		err := s.errs[0]
		s.errs = s.errs[1:]
		return err
	}
	return nil
}

type fakeInventory struct {
	mu        sync.Mutex
	accounts  []string
	onRefresh func()
}

func (i *fakeInventory) Refresh(ctx context.Context, accountID string) error {
	i.mu.Lock()
	i.accounts = append(i.accounts, accountID)
	hook := i.onRefresh
	i.mu.Unlock()
	if hook != nil {
		hook()
	}
	return nil
}

func (i *fakeInventory) refreshes() int {
	i.mu.Lock()
	defer i.mu.Unlock()
	return len(i.accounts)
}

type fakeApprover struct {
	mu      sync.Mutex
	err     error
	secrets []string
	objects []string
}

func (a *fakeApprover) AcceptConfirmation(ctx context.Context, secret, objectID string) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.secrets = append(a.secrets, secret)
	a.objects = append(a.objects, objectID)
	return a.err
}

// fakeHandler records every callback and flags overlapping decisions.
type fakeHandler struct {
	mu         sync.Mutex
	decide     func(o *model.Offer) model.Action
	seen       []string
	updated    []string
	polls      []model.PollSnapshot
	fetchErrs  map[string]int
	acceptErr  map[string]error
	declineErr map[string]error

	inFlight int32
	overlaps int32
}

func newFakeHandler(decide func(o *model.Offer) model.Action) *fakeHandler {
	return &fakeHandler{
		decide:     decide,
		fetchErrs:  make(map[string]int),
		acceptErr:  make(map[string]error),
		declineErr: make(map[string]error),
	}
}

func (h *fakeHandler) OnNewOffer(ctx context.Context, o *model.Offer) model.Action {
	if atomic.AddInt32(&h.inFlight, 1) > 1 {
		atomic.AddInt32(&h.overlaps, 1)
	}
	defer atomic.AddInt32(&h.inFlight, -1)

	h.mu.Lock()
	h.seen = append(h.seen, o.ID)
	decide := h.decide
	h.mu.Unlock()

	if decide == nil {
		return model.ActionIgnore
	}
	return decide(o)
}

func (h *fakeHandler) OnOfferUpdated(ctx context.Context, o *model.Offer, old model.OfferState) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.updated = append(h.updated, o.ID)
}

func (h *fakeHandler) OnPollData(ctx context.Context, snap model.PollSnapshot) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.polls = append(h.polls, snap)
}

func (h *fakeHandler) OnFetchError(id string, err error) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.fetchErrs[id]++
}

func (h *fakeHandler) OnAcceptError(id string, err error) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.acceptErr[id] = err
}

func (h *fakeHandler) OnDeclineError(id string, err error) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.declineErr[id] = err
}

func (h *fakeHandler) order() []string {
	h.mu.Lock()
	defer h.mu.Unlock()
	return append([]string(nil), h.seen...)
}

func offer(id string, give ...string) *model.Offer {
	o := &model.Offer{ID: id, State: model.StateActive}
	for _, a := range give {
		o.ItemsToGive = append(o.ItemsToGive, model.Item{AssetID: a})
	}
	return o
}
