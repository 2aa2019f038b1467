package model

import "context"

// OfferState mirrors the platform's numeric trade offer states.
type OfferState int

const (
	StateInvalid                  OfferState = 1
	StateActive                   OfferState = 2
	StateAccepted                 OfferState = 3
	StateCountered                OfferState = 4
	StateExpired                  OfferState = 5
	StateCanceled                 OfferState = 6
	StateDeclined                 OfferState = 7
	StateInvalidItems             OfferState = 8
	StateCreatedNeedsConfirmation OfferState = 9
	StateCanceledBySecondFactor   OfferState = 10
	StateInEscrow                 OfferState = 11
)

var stateNames = map[OfferState]string{
	StateInvalid:                  "Invalid",
	StateActive:                   "Active",
	StateAccepted:                 "Accepted",
	StateCountered:                "Countered",
	StateExpired:                  "Expired",
	StateCanceled:                 "Canceled",
	StateDeclined:                 "Declined",
	StateInvalidItems:             "InvalidItems",
	StateCreatedNeedsConfirmation: "CreatedNeedsConfirmation",
	StateCanceledBySecondFactor:   "CanceledBySecondFactor",
	StateInEscrow:                 "InEscrow",
}

func (s OfferState) String() string {
	if n, ok := stateNames[s]; ok {
		return n
	}
	return "Unknown"
}

// HoldsItems reports whether our outbound items stay committed in this state.
func (s OfferState) HoldsItems() bool {
	return s == StateActive || s == StateCreatedNeedsConfirmation || s == StateInEscrow
}

// settled is the poll-pruning notion of "active": states whose metadata
// must outlive the retention window.
func (s OfferState) settled() bool {
	return s == StateAccepted || s == StateCreatedNeedsConfirmation || s == StateInEscrow
}

type Item struct {
	AssetID string `json:"assetid"`
	AppID   int    `json:"appid,omitempty"`
	Name    string `json:"name,omitempty"`
}

// OfferData is the per-offer metadata this system annotates.
type OfferData struct {
	AssetIDs            []string `json:"assetids,omitempty"`
	HandledByUs         bool     `json:"handledByUs,omitempty"`
	ActedOnConfirmation bool     `json:"actedOnConfirmation,omitempty"`
}

func (d OfferData) clone() OfferData {
	if d.AssetIDs != nil {
		d.AssetIDs = append([]string(nil), d.AssetIDs...)
	}
	return d
}

// Offer is a trade proposal as seen through the remote client.
// Data is annotated by the desk; the Platform is expected to persist it.
type Offer struct {
	ID             string     `json:"id"`
	Partner        string     `json:"partner,omitempty"`
	State          OfferState `json:"state"`
	ItemsToGive    []Item     `json:"items_to_give"`
	ItemsToReceive []Item     `json:"items_to_receive"`
	Glitched       bool       `json:"glitched,omitempty"`
	Data           OfferData  `json:"data"`
}

func (o *Offer) giveAssetIDs() []string {
	ids := make([]string, 0, len(o.ItemsToGive))
	for _, it := range o.ItemsToGive {
		ids = append(ids, it.AssetID)
	}
	return ids
}

// PollSnapshot is the periodic authoritative state dump from the platform.
type PollSnapshot struct {
	Sent       map[string]OfferState `json:"sent"`
	Received   map[string]OfferState `json:"received"`
	Timestamps map[string]int64      `json:"timestamps"` // unix seconds of last observed change
	OfferData  map[string]OfferData  `json:"offerData"`
}

// Clone returns a deep copy; nil maps come back empty.
func (p PollSnapshot) Clone() PollSnapshot {
	out := PollSnapshot{
		Sent:       make(map[string]OfferState, len(p.Sent)),
		Received:   make(map[string]OfferState, len(p.Received)),
		Timestamps: make(map[string]int64, len(p.Timestamps)),
		OfferData:  make(map[string]OfferData, len(p.OfferData)),
	}
	for k, v := range p.Sent {
		out.Sent[k] = v
	}
	for k, v := range p.Received {
		out.Received[k] = v
	}
	for k, v := range p.Timestamps {
		out.Timestamps[k] = v
	}
	for k, v := range p.OfferData {
		out.OfferData[k] = v.clone()
	}
	return out
}

// StateOf looks the id up in Sent, then Received.
func (p PollSnapshot) StateOf(id string) (OfferState, bool) {
	if s, ok := p.Sent[id]; ok {
		return s, true
	}
	s, ok := p.Received[id]
	return s, ok
}

// Action is the decision handler's verdict for a new offer.
type Action string

const (
	ActionAccept  Action = "accept"
	ActionDecline Action = "decline"
	ActionIgnore  Action = "ignore"
)

// SendStatus is what the platform reports after a send or accept.
type SendStatus string

const (
	StatusSent     SendStatus = "sent"
	StatusAccepted SendStatus = "accepted"
	StatusPending  SendStatus = "pending"
	StatusEscrow   SendStatus = "escrow"
)

// Platform is the remote trading client. Send assigns offer.ID.
type Platform interface {
	Send(ctx context.Context, offer *Offer) (SendStatus, error)
	Accept(ctx context.Context, offer *Offer, skipStateUpdate bool) (SendStatus, error)
	Decline(ctx context.Context, offer *Offer) error
	GetOffer(ctx context.Context, id string) (*Offer, error)
}

type Sessions interface {
	// EnsureLoggedIn returns once a fresh session is confirmed or recovery failed.
	EnsureLoggedIn(ctx context.Context, force bool) error
}

type Approver interface {
	AcceptConfirmation(ctx context.Context, secret, objectID string) error
}

type Inventory interface {
	Refresh(ctx context.Context, accountID string) error
}

// Handler is the business logic that decides what to do with offers.
type Handler interface {
	OnNewOffer(ctx context.Context, offer *Offer) Action
	OnOfferUpdated(ctx context.Context, offer *Offer, oldState OfferState)
	OnPollData(ctx context.Context, snap PollSnapshot)
	OnFetchError(offerID string, err error)
	OnAcceptError(offerID string, err error)
	OnDeclineError(offerID string, err error)
}
