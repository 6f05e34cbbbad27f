package domain

import (
	"fmt"
	"math/rand/v2"
	"time"
)

// NumberGenerator yields candidate invoice numbers. Uniqueness is enforced by
// the store; callers regenerate on collision.
type NumberGenerator func(at time.Time) string

// RandomNumber formats INV-YYYYMM-NNNN with a random four digit suffix.
func RandomNumber(at time.Time) string {
	return FormatNumber(at, rand.IntN(10000))
}

func FormatNumber(at time.Time, seq int) string {
	at = at.UTC()
	return fmt.Sprintf("INV-%04d%02d-%04d", at.Year(), int(at.Month()), seq%10000)
}
