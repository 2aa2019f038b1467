package model

import (
	"sort"
	"sync"
)

// anonymous owns items reserved through the plain Reserve call.
const anonymous = ""

// Reservations is the set of our asset ids currently committed to an offer.
// Each id remembers which offers hold it, so an item shared by two offers
// stays reserved until the last of them lets go.
type Reservations struct {
	mu    sync.Mutex
	items map[string]map[string]struct{} // asset id -> holders

	onChange func(n int)
}

func NewReservations() *Reservations {
	return &Reservations{items: make(map[string]map[string]struct{})}
}

// Reserve marks ids as in trade outside of any offer. They stay reserved
// until Release, whatever offers sharing them do. Idempotent.
func (r *Reservations) Reserve(ids ...string) {
	r.Hold(anonymous, ids...)
}

// Release removes ids regardless of who holds them. Idempotent.
func (r *Reservations) Release(ids ...string) {
	r.mu.Lock()
	for _, id := range ids {
		delete(r.items, id)
	}
	n := len(r.items)
	r.mu.Unlock()
	r.changed(n)
}

// Hold reserves ids on behalf of offerID.
func (r *Reservations) Hold(offerID string, ids ...string) {
	r.mu.Lock()
	for _, id := range ids {
		if id == "" {
			continue
		}
		h, ok := r.items[id]
		if !ok {
			h = make(map[string]struct{}, 1)
			r.items[id] = h
		}
		h[offerID] = struct{}{}
	}
	n := len(r.items)
	r.mu.Unlock()
	r.changed(n)
}

// Drop releases offerID's hold on ids; an id leaves the set once nobody
// holds it.
func (r *Reservations) Drop(offerID string, ids ...string) {
	r.mu.Lock()
	for _, id := range ids {
		h, ok := r.items[id]
		if !ok {
			continue
		}
		delete(h, offerID)
		if len(h) == 0 {
			delete(r.items, id)
		}
	}
	n := len(r.items)
	r.mu.Unlock()
	r.changed(n)
}

// DropAll releases every hold offerID has and returns the ids it held,
// sorted.
func (r *Reservations) DropAll(offerID string) []string {
	r.mu.Lock()
	var ids []string
	for id, h := range r.items {
		if _, ok := h[offerID]; !ok {
			continue
		}
		ids = append(ids, id)
		delete(h, offerID)
		if len(h) == 0 {
			delete(r.items, id)
		}
	}
	n := len(r.items)
	r.mu.Unlock()
	if len(ids) > 0 {
		r.changed(n)
	}
	sort.Strings(ids)
	return ids
}

// Holding reports whether offerID holds any item.
func (r *Reservations) Holding(offerID string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, h := range r.items {
		if _, ok := h[offerID]; ok {
			return true
		}
	}
	return false
}

func (r *Reservations) Has(id string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	_, ok := r.items[id]
	return ok
}

func (r *Reservations) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.items)
}

// Items returns a sorted copy of the reserved ids.
func (r *Reservations) Items() []string {
	r.mu.Lock()
	out := make([]string, 0, len(r.items))
	for id := range r.items {
		out = append(out, id)
	}
	r.mu.Unlock()
	sort.Strings(out)
	return out
}

func (r *Reservations) changed(n int) {
	if r.onChange != nil {
		r.onChange(n)
	}
}
