package apperror

import (
	"errors"
	"strings"
)

// Error kinds. Callers match on these with errors.Is.
var (
	ErrNotFound         = errors.New("not_found")
	ErrInvalidState     = errors.New("invalid_state")
	ErrInvalidArgument  = errors.New("invalid_argument")
	ErrGateway          = errors.New("gateway_error")
	ErrSignatureInvalid = errors.New("signature_invalid")
	ErrConcurrentUpdate = errors.New("concurrent_update")
)

const genericGatewayReason = "payment provider request failed"

// Error is a classified domain error. Code is a stable snake_case identifier,
// Message is safe to show to API callers.
type Error struct {
	Kind    error
	Code    string
	Message string
	Cause   error
}

func (e *Error) Error() string {
	if e.Message != "" {
		return e.Code + ": " + e.Message
	}
	return e.Code
}

func (e *Error) Unwrap() []error {
	if e.Cause != nil {
		return []error{e.Kind, e.Cause}
	}
	return []error{e.Kind}
}

func newError(kind error, code, message string) *Error {
	return &Error{Kind: kind, Code: code, Message: message}
}

func NotFound(code string) *Error {
	return newError(ErrNotFound, code, "")
}

func InvalidState(code, message string) *Error {
	return newError(ErrInvalidState, code, message)
}

func InvalidArgument(code, message string) *Error {
	return newError(ErrInvalidArgument, code, message)
}

func SignatureInvalid() *Error {
	return newError(ErrSignatureInvalid, "invalid_signature", "")
}

// Gateway wraps a provider failure. The provider message is forwarded only
// when it is non-empty and single-line; otherwise a generic message is used.
func Gateway(providerMessage string, cause error) *Error {
	msg := strings.TrimSpace(providerMessage)
	if msg == "" || strings.ContainsAny(msg, "\r\n") || len(msg) > 200 {
		msg = genericGatewayReason
	}
	return &Error{Kind: ErrGateway, Code: "gateway_error", Message: msg, Cause: cause}
}

// KindOf returns the kind sentinel of err, or nil when err is unclassified.
func KindOf(err error) error {
	for _, kind := range []error{ErrNotFound, ErrInvalidState, ErrInvalidArgument, ErrGateway, ErrSignatureInvalid, ErrConcurrentUpdate} {
		if errors.Is(err, kind) {
			return kind
		}
	}
	return nil
}

// CodeOf returns the stable code of a classified error.
func CodeOf(err error) string {
	var appErr *Error
	if errors.As(err, &appErr) {
		return appErr.Code
	}
	if kind := KindOf(err); kind != nil {
		return kind.Error()
	}
	return "internal_error"
}
