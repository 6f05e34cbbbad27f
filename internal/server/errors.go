package server

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/railzwaylabs/membership/internal/apperror"
)

var ErrUnauthorized = errors.New("organization_required")

type errorBody struct {
	Type    string `json:"type"`
	Code    string `json:"code,omitempty"`
	Message string `json:"message"`
	Field   string `json:"field,omitempty"`
}

type errorResponse struct {
	Error errorBody `json:"error"`
}

type validationError struct {
	field   string
	code    string
	message string
}

func (e *validationError) Error() string { return e.code + ": " + e.message }

func newValidationError(field, code, message string) error {
	return &validationError{field: field, code: code, message: message}
}

func invalidRequestError() error {
	return newValidationError("", "invalid_request", "request body is malformed")
}

// AbortWithError maps an error to its HTTP status and the JSON error body.
func AbortWithError(c *gin.Context, err error) {
	status, body := classify(err)
	_ = c.Error(err)
	c.AbortWithStatusJSON(status, errorResponse{Error: body})
}

func classify(err error) (int, errorBody) {
	var verr *validationError
	if errors.As(err, &verr) {
		return http.StatusBadRequest, errorBody{Type: "invalid_request", Code: verr.code, Message: verr.message, Field: verr.field}
	}
	if errors.Is(err, ErrUnauthorized) {
		return http.StatusUnauthorized, errorBody{Type: "unauthorized", Code: ErrUnauthorized.Error(), Message: "X-Organization-ID header is required"}
	}

	message := apperror.CodeOf(err)
	var appErr *apperror.Error
	if errors.As(err, &appErr) && appErr.Message != "" {
		message = appErr.Message
	}

	switch apperror.KindOf(err) {
	case apperror.ErrNotFound:
		return http.StatusNotFound, errorBody{Type: "not_found", Code: apperror.CodeOf(err), Message: message}
	case apperror.ErrInvalidState:
		return http.StatusConflict, errorBody{Type: "invalid_state", Code: apperror.CodeOf(err), Message: message}
	case apperror.ErrConcurrentUpdate:
		return http.StatusConflict, errorBody{Type: "concurrent_update", Code: apperror.CodeOf(err), Message: "resource changed, retry the request"}
	case apperror.ErrInvalidArgument:
		return http.StatusBadRequest, errorBody{Type: "invalid_request", Code: apperror.CodeOf(err), Message: message}
	case apperror.ErrSignatureInvalid:
		return http.StatusBadRequest, errorBody{Type: "invalid_signature", Code: apperror.CodeOf(err), Message: "webhook signature verification failed"}
	case apperror.ErrGateway:
		return http.StatusBadGateway, errorBody{Type: "gateway_error", Code: apperror.CodeOf(err), Message: message}
	default:
		return http.StatusInternalServerError, errorBody{Type: "internal_error", Message: "internal server error"}
	}
}
