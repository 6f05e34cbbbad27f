package domain

import (
	"fmt"
	"strings"
)

type Status string

const (
	StatusPending  Status = "pending"
	StatusSuccess  Status = "success"
	StatusFailed   Status = "failed"
	StatusRefunded Status = "refunded"
	StatusDisputed Status = "disputed"
)

func (s Status) Valid() bool {
	switch s {
	case StatusPending, StatusSuccess, StatusFailed, StatusRefunded, StatusDisputed:
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

// CanTransition treats success and failed as terminal for gateway outcomes.
// Only a settled payment moves on, to refunded or disputed.
func CanTransition(current, target Status) bool {
	switch current {
	case StatusPending:
		return target == StatusSuccess || target == StatusFailed
	case StatusFailed:
		return false
	case StatusSuccess:
		return target == StatusRefunded || target == StatusDisputed
	case StatusDisputed:
		return target == StatusSuccess || target == StatusRefunded
	case StatusRefunded:
		return false
	default:
		return false
	}
}

type Provider string

const (
	ProviderPaystack Provider = "paystack"
	ProviderStripe   Provider = "stripe"
)

func ParseProvider(raw string) (Provider, error) {
	p := Provider(strings.ToLower(strings.TrimSpace(raw)))
	switch p {
	case ProviderPaystack, ProviderStripe:
		return p, nil
	}
	return "", fmt.Errorf("%w: %q", ErrInvalidProvider, raw)
}
