package domain

import (
	"fmt"
	"strings"
)

type Status string

const (
	StatusActive   Status = "active"
	StatusTrialing Status = "trialing"
	StatusPaused   Status = "paused"
	StatusCanceled Status = "canceled"
	StatusExpired  Status = "expired"
)

func (s Status) Valid() bool {
	switch s {
	case StatusActive, StatusTrialing, StatusPaused, StatusCanceled, StatusExpired:
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

// CanTransition reports whether a subscription may move from current to
// target. active -> active is a renewal.
func CanTransition(current, target Status) bool {
	switch current {
	case StatusTrialing:
		return target == StatusActive || target == StatusExpired || target == StatusCanceled
	case StatusActive:
		return target == StatusActive || target == StatusExpired || target == StatusCanceled || target == StatusPaused
	case StatusPaused:
		return target == StatusActive || target == StatusCanceled
	case StatusExpired:
		return target == StatusActive || target == StatusCanceled
	case StatusCanceled:
		return false
	default:
		return false
	}
}

// Reactivatable lists the states a successful payment brings back to active.
func (s Status) Reactivatable() bool {
	switch s {
	case StatusExpired, StatusPaused, StatusTrialing:
		return true
	case StatusActive, StatusCanceled:
		return false
	default:
		return false
	}
}
