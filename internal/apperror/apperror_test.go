package apperror

import (
	"errors"
	"fmt"
	"strings"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestKindSurvivesWrapping(t *testing.T) {
	err := fmt.Errorf("load subscription: %w", NotFound("subscription_not_found"))
	require.ErrorIs(t, err, ErrNotFound)
	require.Equal(t, ErrNotFound, KindOf(err))
	require.Equal(t, "subscription_not_found", CodeOf(err))
}

func TestCodeOfUnclassified(t *testing.T) {
	require.Equal(t, "internal_error", CodeOf(errors.New("boom")))
	require.Nil(t, KindOf(errors.New("boom")))
	require.Equal(t, "concurrent_update", CodeOf(fmt.Errorf("save: %w", ErrConcurrentUpdate)))
}

func TestGatewayMessage(t *testing.T) {
	cause := errors.New("status 401")

	cases := []struct {
		name    string
		message string
		want    string
	}{
		{name: "forwarded", message: "Invalid key", want: "Invalid key"},
		{name: "empty", message: "  ", want: genericGatewayReason},
		{name: "multiline", message: "line one\nline two", want: genericGatewayReason},
		{name: "too long", message: strings.Repeat("x", 201), want: genericGatewayReason},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			err := Gateway(tc.message, cause)
			require.Equal(t, tc.want, err.Message)
			require.ErrorIs(t, err, ErrGateway)
			require.ErrorIs(t, err, cause)
		})
	}
}
