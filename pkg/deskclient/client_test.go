package deskclient

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"reflect"
	"sync"
	"testing"
	"time"

	"offerdesk/internal/model"
)

func TestReservedItemsAndIsReserved(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/v1/reservations" || r.Method != http.MethodGet {
			http.NotFound(w, r)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"items":["z","a","m"]}`))
	}))
	defer srv.Close()

	c := New(srv.URL, &http.Client{Timeout: 2 * time.Second})
	items, err := c.ReservedItems(context.Background())
	if err != nil {
		t.Fatalf("reserved items: %v", err)
	}
	if !reflect.DeepEqual(items, []string{"a", "m", "z"}) {
		t.Fatalf("expected sorted items, got %v", items)
	}
	for id, want := range map[string]bool{"m": true, "b": false} {
		got, err := c.IsReserved(context.Background(), id)
		if err != nil || got != want {
			t.Fatalf("IsReserved(%q) = %v, %v; want %v", id, got, err, want)
		}
	}
}

func TestUnexpectedStatus(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusUnauthorized)
		w.Write([]byte(`{"error":"invalid token"}`))
	}))
	defer srv.Close()

	_, err := New(srv.URL, nil).SubmitOffer(context.Background(), model.Offer{ID: "1"})
	var use *UnexpectedStatusError
	if !errors.As(err, &use) || use.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401 UnexpectedStatusError, got %v", err)
	}
}

func TestSubmitSendsToken(t *testing.T) {
	var auth string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		auth = r.Header.Get("Authorization")
		w.WriteHeader(http.StatusAccepted)
		w.Write([]byte(`{"queued":true}`))
	}))
	defer srv.Close()

	base := New(srv.URL, nil)
	queued, err := base.WithToken("t0k").SubmitOffer(context.Background(), model.Offer{ID: "1"})
	if err != nil || !queued {
		t.Fatalf("expected queued, got %v err=%v", queued, err)
	}
	if auth != "Bearer t0k" {
		t.Fatalf("expected bearer token, got %q", auth)
	}
	if base.token != "" {
		t.Fatalf("WithToken must not modify the original client")
	}
}

func TestWaitIdlePollsUntilDrained(t *testing.T) {
	var mu sync.Mutex
	calls := 0
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		mu.Lock()
		calls++
		n := calls
		mu.Unlock()
		w.Header().Set("Content-Type", "application/json")
		if n < 3 {
			w.Write([]byte(`{"queued":["a"],"processing":true}`))
			return
		}
		w.Write([]byte(`{"queued":[],"processing":false}`))
	}))
	defer srv.Close()

	c := New(srv.URL, nil)
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if err := c.WaitIdle(ctx, WaitOptions{MinPoll: time.Millisecond, MaxPoll: 5 * time.Millisecond}); err != nil {
		t.Fatalf("wait idle: %v", err)
	}
	mu.Lock()
	defer mu.Unlock()
	if calls != 3 {
		t.Fatalf("expected 3 polls, got %d", calls)
	}
}

func TestWatchReservationsEmitsChanges(t *testing.T) {
	var mu sync.Mutex
	responses := []string{
		`{"items":["a","b"]}`,
		`{"items":["a","b"]}`,
		`{"items":["b","c"]}`,
	}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		mu.Lock()
		body := responses[0]
		if len(responses) > 1 {
			responses = responses[1:]
		}
		mu.Unlock()
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(body))
	}))
	defer srv.Close()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	ch := New(srv.URL, nil).WatchReservations(ctx, WatchOptions{Interval: 5 * time.Millisecond})

	first := <-ch
	if !reflect.DeepEqual(first.Items, []string{"a", "b"}) || first.Err != nil {
		t.Fatalf("unexpected first event %+v", first)
	}
	second := <-ch
	if !reflect.DeepEqual(second.Added, []string{"c"}) || !reflect.DeepEqual(second.Removed, []string{"a"}) {
		t.Fatalf("unexpected change %+v", second)
	}

	cancel()
	for range ch {
	}
}

func TestDiff(t *testing.T) {
	added, removed := diff([]string{"a", "c", "d"}, []string{"b", "c", "e"})
	if !reflect.DeepEqual(added, []string{"b", "e"}) || !reflect.DeepEqual(removed, []string{"a", "d"}) {
		t.Fatalf("unexpected diff added=%v removed=%v", added, removed)
	}
}
