package model_test

import (
	"reflect"
	"testing"

	"offerdesk/internal/model"
)

func TestReserveAndReleaseAreIdempotent(t *testing.T) {
	r := model.NewReservations()
	r.Reserve("b", "a")
	r.Reserve("a")
	if got := r.Items(); !reflect.DeepEqual(got, []string{"a", "b"}) {
		t.Fatalf("expected [a b], got %v", got)
	}

	r.Release("a", "missing")
	r.Release("a")
	if r.Has("a") || !r.Has("b") || r.Len() != 1 {
		t.Fatalf("unexpected set after release: %v", r.Items())
	}
}

func TestSharedItemStaysUntilLastHolderDrops(t *testing.T) {
	r := model.NewReservations()
	r.Hold("A", "x", "y")
	r.Hold("B", "y", "")

	r.Drop("A", "x", "y")
	if got := r.Items(); !reflect.DeepEqual(got, []string{"y"}) {
		t.Fatalf("expected [y], got %v", got)
	}
	r.Drop("A", "y")
	if !r.Has("y") {
		t.Fatalf("dropping twice must not release B's hold")
	}
	r.Drop("B", "y")
	if r.Len() != 0 {
		t.Fatalf("expected empty set, got %v", r.Items())
	}
}

func TestAnonymousReservationOutlivesOfferHolds(t *testing.T) {
	r := model.NewReservations()
	r.Reserve("x")
	r.Hold("A", "x")
	r.Drop("A", "x")
	if !r.Has("x") {
		t.Fatalf("x must stay reserved until released")
	}
	r.Release("x")
	if r.Has("x") {
		t.Fatalf("release must clear x")
	}
}

func TestDropAllReleasesEveryHoldOfAnOffer(t *testing.T) {
	r := model.NewReservations()
	r.Hold("A", "x", "y")
	r.Hold("B", "y", "z")

	if !r.Holding("A") || r.Holding("C") {
		t.Fatalf("unexpected Holding result")
	}
	if got := r.DropAll("A"); !reflect.DeepEqual(got, []string{"x", "y"}) {
		t.Fatalf("expected [x y] dropped, got %v", got)
	}
	if got := r.Items(); !reflect.DeepEqual(got, []string{"y", "z"}) {
		t.Fatalf("expected [y z], got %v", got)
	}
	if r.Holding("A") {
		t.Fatalf("A must hold nothing after DropAll")
	}
	if got := r.DropAll("A"); len(got) != 0 {
		t.Fatalf("second DropAll must be a no-op, got %v", got)
	}
}

func TestItemsReturnsCopy(t *testing.T) {
	r := model.NewReservations()
	r.Reserve("x")
	items := r.Items()
	items[0] = "mutated"
	if !r.Has("x") || r.Has("mutated") {
		t.Fatalf("Items must not expose internal state")
	}
}
