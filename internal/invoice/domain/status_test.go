package domain

import (
	"regexp"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestPaidIsTerminal(t *testing.T) {
	inv := &Invoice{Status: StatusPaid}
	for _, target := range []Status{StatusPending, StatusFailed, StatusCancelled} {
		require.ErrorIs(t, inv.TransitionTo(target), ErrInvalidTransition)
		require.Equal(t, StatusPaid, inv.Status)
	}
}

func TestCancelledCannotBePaid(t *testing.T) {
	inv := &Invoice{Status: StatusCancelled}
	require.ErrorIs(t, inv.TransitionTo(StatusPaid), ErrInvalidTransition)
	require.False(t, StatusCancelled.Payable())
}

func TestFailedInvoiceCanStillBePaid(t *testing.T) {
	inv := &Invoice{Status: StatusFailed}
	require.NoError(t, inv.TransitionTo(StatusPaid))
	require.Equal(t, StatusPaid, inv.Status)
}

func TestRandomNumberFormat(t *testing.T) {
	at := time.Date(2024, time.March, 5, 0, 0, 0, 0, time.UTC)
	require.Regexp(t, regexp.MustCompile(`^INV-202403-\d{4}$`), RandomNumber(at))
	require.Equal(t, "INV-202403-0042", FormatNumber(at, 42))
}
