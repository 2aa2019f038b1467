package deskclient

import (
	"context"
	"time"
)

// WatchReservations polls the reserved set until ctx is cancelled. The first
// successful poll is always emitted; later ones only when the set changed.
// The channel is closed on exit.
func (c *Client) WatchReservations(ctx context.Context, opt WatchOptions) <-chan ReservationChange {
	ch := make(chan ReservationChange, 1)

	if opt.Interval <= 0 {
		opt.Interval = time.Second
	}

	go func() {
		defer close(ch)

		t := time.NewTicker(opt.Interval)
		defer t.Stop()

		var last []string
		first := true
		for {
			items, err := c.ReservedItems(ctx)
			if err != nil && ctx.Err() != nil {
				return
			}

			var ev ReservationChange
			emit := false
			switch {
			case err != nil:
				ev, emit = ReservationChange{Items: last, Err: err}, true
			case first:
				ev, emit = ReservationChange{Items: items, Added: items}, true
			default:
				added, removed := diff(last, items)
				ev = ReservationChange{Items: items, Added: added, Removed: removed}
				emit = len(added)+len(removed) > 0
			}
			if err == nil {
				last, first = items, false
			}
			if emit {
				select {
				case ch <- ev:
				case <-ctx.Done():
					return
				}
			}

			select {
			case <-ctx.Done():
				return
			case <-t.C:
			}
		}
	}()

	return ch
}

// diff compares two sorted id lists.
func diff(prev, cur []string) (added, removed []string) {
	i, j := 0, 0
	for i < len(prev) || j < len(cur) {
		switch {
		case j == len(cur) || (i < len(prev) && prev[i] < cur[j]):
			removed = append(removed, prev[i])
			i++
		case i == len(prev) || cur[j] < prev[i]:
			added = append(added, cur[j])
			j++
		default:
			i++
			j++
		}
	}
	return added, removed
}
