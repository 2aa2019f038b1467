package deskclient

import "time"

// QueueState mirrors GET /v1/queue.
type QueueState struct {
	Queued     []string `json:"queued"`
	Processing bool     `json:"processing"`
}

// Idle reports whether nothing is queued or in flight.
func (q QueueState) Idle() bool { return len(q.Queued) == 0 && !q.Processing }

// ReservationChange is emitted by WatchReservations whenever the reserved set
// differs from the previous poll. Err is set when a poll failed; Items then
// holds the last known set.
type ReservationChange struct {
	Items   []string
	Added   []string
	Removed []string
	Err     error
}

// WatchOptions controls reservation polling.
type WatchOptions struct {
	Interval time.Duration // default 1s
}

// WaitOptions controls WaitIdle polling.
type WaitOptions struct {
	MinPoll    time.Duration // default 10ms
	MaxPoll    time.Duration // default 500ms
	JitterFrac float64       // default 0.2 (20%)
}
