package domain

import (
	"fmt"
	"strings"
)

type Status string

const (
	StatusPending   Status = "pending"
	StatusPaid      Status = "paid"
	StatusCancelled Status = "cancelled"
	StatusFailed    Status = "failed"
	StatusRefunded  Status = "refunded"
)

func (s Status) Valid() bool {
	switch s {
	case StatusPending, StatusPaid, StatusCancelled, StatusFailed, StatusRefunded:
		return true
	}
	return false
}

func ParseStatus(raw string) (Status, error) {
	s := Status(strings.ToLower(strings.TrimSpace(raw)))
	if !s.Valid() {
		return "", fmt.Errorf("%w: %q", ErrInvalidStatus, raw)
	}
	return s, nil
}

// Terminal states accept no further transitions.
func (s Status) Terminal() bool {
	switch s {
	case StatusPaid, StatusCancelled, StatusRefunded:
		return true
	case StatusPending, StatusFailed:
		return false
	default:
		return true
	}
}

// Payable reports whether a payment may still be collected for the invoice.
func (s Status) Payable() bool {
	return !s.Terminal()
}

func CanTransition(current, target Status) bool {
	switch current {
	case StatusPending:
		return target == StatusPaid || target == StatusFailed || target == StatusCancelled
	case StatusFailed:
		return target == StatusPaid || target == StatusPending || target == StatusCancelled
	case StatusPaid, StatusCancelled, StatusRefunded:
		return false
	default:
		return false
	}
}

type Kind string

const (
	KindInitial      Kind = "initial"
	KindRenewal      Kind = "renewal"
	KindReactivation Kind = "reactivation"
	KindAdHoc        Kind = "ad_hoc"
)
