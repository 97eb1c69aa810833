package utils

import (
	"regexp"
	"strings"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// MaxAmount is the largest amount the gateway accepts, in major units.
var MaxAmount = decimal.RequireFromString("999999.99")

var amountPattern = regexp.MustCompile(`^\d+(\.\d+)?$`)

// ValidationError is returned for caller input rejected before any gateway call.
type ValidationError struct {
	Field   string
	Message string
}

func (e *ValidationError) Error() string {
	if e.Field == "" {
		return e.Message
	}
	return e.Field + ": " + e.Message
}

// ParseAmount validates a major-unit amount string and returns it in minor
// units. Valid amounts are > 0, <= 999999.99 and have at most 2 decimals.
func ParseAmount(raw string) (int64, error) {
	s := strings.TrimSpace(raw)
	if !amountPattern.MatchString(s) {
		return 0, &ValidationError{Field: "amount", Message: "Invalid amount format"}
	}
	amount, err := decimal.NewFromString(s)
	if err != nil {
		return 0, &ValidationError{Field: "amount", Message: "Invalid amount format"}
	}
	if !amount.IsPositive() {
		return 0, &ValidationError{Field: "amount", Message: "Amount must be greater than zero"}
	}
	if amount.GreaterThan(MaxAmount) {
		return 0, &ValidationError{Field: "amount", Message: "Amount must be less than 1,000,000"}
	}
	if i := strings.IndexByte(s, '.'); i >= 0 && len(s)-i-1 > 2 {
		return 0, &ValidationError{Field: "amount", Message: "Amount must have at most 2 decimal places"}
	}
	return amount.Shift(2).IntPart(), nil
}

// IsValidUUIDv4 accepts only the canonical 36-character form with the
// version-4 nibble and RFC 4122 variant bits.
func IsValidUUIDv4(s string) bool {
	if len(s) != 36 {
		return false
	}
	id, err := uuid.Parse(s)
	if err != nil {
		return false
	}
	return id.Version() == 4 && id.Variant() == uuid.RFC4122
}
