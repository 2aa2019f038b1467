package model

import (
	"errors"
	"fmt"
)

// ErrorKind is the closed set of failure classes a Platform reports.
type ErrorKind int

const (
	KindTransient ErrorKind = iota
	KindSessionExpired
	KindNotFriend
	KindUntradeable
	KindInventoryFull
	KindItemMismatch
	KindNoMatch
)

var kindNames = map[ErrorKind]string{
	KindTransient:      "transient",
	KindSessionExpired: "session_expired",
	KindNotFriend:      "not_friend",
	KindUntradeable:    "untradeable",
	KindInventoryFull:  "inventory_full",
	KindItemMismatch:   "item_mismatch",
	KindNoMatch:        "no_match",
}

func (k ErrorKind) String() string {
	if n, ok := kindNames[k]; ok {
		return n
	}
	return "transient"
}

// ParseErrorKind maps a wire name back to a kind; unknown names are transient.
func ParseErrorKind(s string) ErrorKind {
	for k, n := range kindNames {
		if n == s {
			return k
		}
	}
	return KindTransient
}

// Permanent reports whether retrying can never succeed.
func (k ErrorKind) Permanent() bool {
	return k == KindNotFriend || k == KindUntradeable || k == KindInventoryFull
}

type PlatformError struct {
	Op      string
	Kind    ErrorKind
	EResult int // platform result code, 0 if none
	Message string
}

func (e *PlatformError) Error() string {
	if e.EResult != 0 {
		return fmt.Sprintf("%s: %s (kind=%s eresult=%d)", e.Op, e.Message, e.Kind, e.EResult)
	}
	return fmt.Sprintf("%s: %s (kind=%s)", e.Op, e.Message, e.Kind)
}

// KindOf classifies err. Errors that are not a *PlatformError (network,
// decoding) are transient.
func KindOf(err error) ErrorKind {
	var pe *PlatformError
	if errors.As(err, &pe) {
		return pe.Kind
	}
	return KindTransient
}
