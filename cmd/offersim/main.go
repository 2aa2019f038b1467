package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log"
	"math/rand"
	"net"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"

	"offerdesk/internal/api"
	"offerdesk/internal/model"
	"offerdesk/internal/obs"
	"offerdesk/pkg/deskclient"
)

// simPlatform is an in-memory trading platform that fails on purpose.
type simPlatform struct {
	mu          sync.Mutex
	rng         *rand.Rand
	offers      map[string]*model.Offer
	loggedIn    bool
	failRate    float64
	sessionRate float64
	latency     time.Duration

	calls    int64
	failures int64
	logins   int64
}

func (p *simPlatform) add(o model.Offer) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.offers[o.ID] = &o
}

// roll decides the outcome of one call.
func (p *simPlatform) roll(op string) error {
	atomic.AddInt64(&p.calls, 1)
	time.Sleep(p.latency)

	p.mu.Lock()
	defer p.mu.Unlock()
	r := p.rng.Float64()
	switch {
	case !p.loggedIn || r < p.sessionRate:
		p.loggedIn = false
		atomic.AddInt64(&p.failures, 1)
		return &model.PlatformError{Op: op, Kind: model.KindSessionExpired, Message: "Not Logged In"}
	case r < p.sessionRate+p.failRate:
		atomic.AddInt64(&p.failures, 1)
		return &model.PlatformError{Op: op, Kind: model.KindTransient, EResult: 16, Message: "Timeout"}
	}
	return nil
}

func (p *simPlatform) setState(id string, st model.OfferState) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if o, ok := p.offers[id]; ok {
		o.State = st
	}
}

func (p *simPlatform) current(id string) model.Offer {
	p.mu.Lock()
	defer p.mu.Unlock()
	return *p.offers[id]
}

func (p *simPlatform) Send(ctx context.Context, offer *model.Offer) (model.SendStatus, error) {
	if err := p.roll("send"); err != nil {
		return "", err
	}
	if offer.ID == "" {
		offer.ID = uuid.NewString()
	}
	p.add(*offer)
	return model.StatusSent, nil
}

func (p *simPlatform) Accept(ctx context.Context, offer *model.Offer, skipStateUpdate bool) (model.SendStatus, error) {
	if err := p.roll("accept"); err != nil {
		return "", err
	}
	p.setState(offer.ID, model.StateAccepted)
	if len(offer.ItemsToReceive) == 0 {
		// pure gifts out need a mobile confirmation
		return model.StatusPending, nil
	}
	return model.StatusAccepted, nil
}

func (p *simPlatform) Decline(ctx context.Context, offer *model.Offer) error {
	if err := p.roll("decline"); err != nil {
		return err
	}
	p.setState(offer.ID, model.StateDeclined)
	return nil
}

func (p *simPlatform) GetOffer(ctx context.Context, id string) (*model.Offer, error) {
	if err := p.roll("fetch"); err != nil {
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

func (p *simPlatform) EnsureLoggedIn(ctx context.Context, force bool) error {
	atomic.AddInt64(&p.logins, 1)
	p.mu.Lock()
	defer p.mu.Unlock()
	p.loggedIn = true
	return nil
}

func (p *simPlatform) AcceptConfirmation(ctx context.Context, secret, objectID string) error {
	return p.roll("confirm")
}

func (p *simPlatform) Refresh(ctx context.Context, accountID string) error { return nil }

// simHandler accepts offers that give us something back and tracks overlap.
type simHandler struct {
	inFlight int32
	overlaps int64
	decided  int64
	fetchErr int64
	actErr   int64
}

func (h *simHandler) OnNewOffer(ctx context.Context, o *model.Offer) model.Action {
	if atomic.AddInt32(&h.inFlight, 1) > 1 {
		atomic.AddInt64(&h.overlaps, 1)
	}
	defer atomic.AddInt32(&h.inFlight, -1)
	atomic.AddInt64(&h.decided, 1)
	if len(o.ItemsToGive) <= len(o.ItemsToReceive)+1 {
		return model.ActionAccept
	}
	return model.ActionDecline
}

func (h *simHandler) OnOfferUpdated(context.Context, *model.Offer, model.OfferState) {}
func (h *simHandler) OnPollData(context.Context, model.PollSnapshot) {}
func (h *simHandler) OnFetchError(string, error) { atomic.AddInt64(&h.fetchErr, 1) }
func (h *simHandler) OnAcceptError(string, error) { atomic.AddInt64(&h.actErr, 1) }
func (h *simHandler) OnDeclineError(string, error) { atomic.AddInt64(&h.actErr, 1) }

type fixedSleeper struct{ d time.Duration }

func (s fixedSleeper) Sleep(ctx context.Context, d time.Duration) error {
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-time.After(s.d):
		return nil
	}
}

func main() {
	var (
		clients     = flag.Int("clients", 8, "number of concurrent offer senders")
		perClient   = flag.Int("offers", 25, "offers per sender")
		pool        = flag.Int("items", 60, "size of our item pool")
		failRate    = flag.Float64("failrate", 0.15, "probability of a transient platform failure")
		sessionRate = flag.Float64("sessionrate", 0.03, "probability of a session expiry")
		latency     = flag.Duration("latency", time.Millisecond, "platform call latency")
		backoff     = flag.Duration("backoff", 2*time.Millisecond, "wait between retries in the simulation")
		quiet       = flag.Bool("quiet", true, "suppress desk logs")
	)
	flag.Parse()

	logger := obs.NewLogger()
	if *quiet {
		logger = nil
	}
	metrics := obs.NewMetrics(prometheus.NewRegistry())

	platform := &simPlatform{
		rng:         rand.New(rand.NewSource(time.Now().UnixNano())),
		offers:      make(map[string]*model.Offer),
		failRate:    *failRate,
		sessionRate: *sessionRate,
		latency:     *latency,
	}
	handler := &simHandler{}
	desk := model.NewDesk(model.Config{
		Platform:       platform,
		Sessions:       platform,
		Approver:       platform,
		Inventory:      platform,
		Handler:        handler,
		AccountID:      "sim",
		IdentitySecret: "sim-secret",
		Sleeper:        fixedSleeper{d: *backoff},
		Logger:         logger,
		Metrics:        metrics,
	})
	defer desk.Close()

	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		log.Fatalf("listen: %v", err)
	}
	srv := &http.Server{Handler: api.NewServer(desk, api.Options{Logger: logger}).Handler()}
	go func() {
		if err := srv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Printf("http server error: %v", err)
		}
	}()
	defer srv.Close()

	dc := deskclient.New("http://"+ln.Addr().String(), nil)
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Minute)
	defer cancel()

	var (
		submitted int64
		queued    int64
		errCount  int64
		mu        sync.Mutex
		offers    []model.Offer
	)

	start := time.Now()
	var wg sync.WaitGroup
	for i := 0; i < *clients; i++ {
		seed := int64(i) + time.Now().UnixNano()
		wg.Add(1)
		go func() {
			defer wg.Done()
			rng := rand.New(rand.NewSource(seed))
			for n := 0; n < *perClient && ctx.Err() == nil; n++ {
				o := model.Offer{ID: uuid.NewString(), State: model.StateActive, Partner: fmt.Sprintf("partner-%d", rng.Intn(100))}
				for k := rng.Intn(3) + 1; k > 0; k-- {
					o.ItemsToGive = append(o.ItemsToGive, model.Item{AssetID: fmt.Sprintf("asset-%03d", rng.Intn(*pool)), AppID: 730})
				}
				for k := rng.Intn(3); k > 0; k-- {
					o.ItemsToReceive = append(o.ItemsToReceive, model.Item{AssetID: uuid.NewString(), AppID: 730})
				}
				o.Glitched = rng.Float64() < 0.02

				platform.add(o)
				atomic.AddInt64(&submitted, 1)
				ok, err := dc.SubmitOffer(ctx, o)
				if err != nil {
					atomic.AddInt64(&errCount, 1)
					continue
				}
				if ok {
					atomic.AddInt64(&queued, 1)
					mu.Lock()
					offers = append(offers, o)
					mu.Unlock()
				}
			}
		}()
	}
	wg.Wait()

	if err := dc.WaitIdle(ctx, deskclient.WaitOptions{}); err != nil {
		log.Fatalf("wait idle: %v", err)
	}
	elapsed := time.Since(start)

	reservedBefore, err := dc.ReservedItems(ctx)
	if err != nil {
		log.Fatalf("reserved items: %v", err)
	}

	// report the final platform state of every offer, as the sidecar would
	snap := model.PollSnapshot{}.Clone()
	old := time.Now().Add(-2 * time.Hour).Unix()
	for _, o := range offers {
		final := platform.current(o.ID)
		if final.State == model.StateActive {
			final.State = model.StateCanceled
		}
		if err := dc.OfferChanged(ctx, final, model.StateActive); err != nil {
			atomic.AddInt64(&errCount, 1)
		}
		snap.Received[o.ID] = final.State
		snap.Timestamps[o.ID] = old
		snap.OfferData[o.ID] = model.OfferData{HandledByUs: true}
	}

	reservedAfter, err := dc.ReservedItems(ctx)
	if err != nil {
		log.Fatalf("reserved items: %v", err)
	}
	pruned, err := dc.Poll(ctx, snap)
	if err != nil {
		log.Fatalf("poll: %v", err)
	}

	fmt.Println("=== Offer Desk Simulation ===")
	fmt.Printf("duration: %s, senders: %d, item pool: %d\n", elapsed, *clients, *pool)
	fmt.Printf("submitted:        %d\n", submitted)
	fmt.Printf("queued:           %d\n", queued)
	fmt.Printf("decided:          %d\n", atomic.LoadInt64(&handler.decided))
	fmt.Printf("handler_overlaps: %d\n", atomic.LoadInt64(&handler.overlaps))
	fmt.Printf("platform_calls:   %d\n", atomic.LoadInt64(&platform.calls))
	fmt.Printf("platform_faults:  %d\n", atomic.LoadInt64(&platform.failures))
	fmt.Printf("session_logins:   %d\n", atomic.LoadInt64(&platform.logins))
	fmt.Printf("fetch_errors:     %d\n", atomic.LoadInt64(&handler.fetchErr))
	fmt.Printf("action_errors:    %d\n", atomic.LoadInt64(&handler.actErr))
	fmt.Printf("reserved_idle:    %d\n", len(reservedBefore))
	fmt.Printf("reserved_settled: %d\n", len(reservedAfter))
	fmt.Printf("poll_pruned:      %d\n", len(pruned))
	fmt.Printf("errors:           %d\n", errCount)

	// handler_overlaps must be 0 and reserved_settled must be 0 once every
	// offer reached a final state.
}
