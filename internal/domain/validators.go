package domain

import (
	"fmt"
	"regexp"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

var (
	currencyRegex   = regexp.MustCompile(`^[a-z]{3}$`)
	providerIDRegex = regexp.MustCompile(`^[A-Za-z0-9_\-]{1,255}$`)
)

// ValidateCurrency checks for a lowercase ISO 4217 code, as the provider expects.
func ValidateCurrency(currency string) error {
	if !currencyRegex.MatchString(currency) {
		return fmt.Errorf("invalid currency code: %s", currency)
	}
	return nil
}

// ValidatePrice checks a catalog price is non-negative and fits the
// two-decimal catalog column.
func ValidatePrice(price decimal.Decimal) error {
	if price.IsNegative() {
		return fmt.Errorf("price must be non-negative, got %s", price)
	}
	if !price.Equal(price.Round(2)) {
		return fmt.Errorf("price must have at most 2 decimal places, got %s", price)
	}
	return nil
}

// ValidateProviderID checks a payment provider id before it reaches the ledger.
func ValidateProviderID(id string) error {
	if id == "" {
		return ErrValidation("provider_id is required")
	}
	if !providerIDRegex.MatchString(id) {
		return ErrValidation("provider_id is malformed")
	}
	return nil
}

// ParseTrackID parses a track id from user input.
func ParseTrackID(raw string) (uuid.UUID, error) {
	id, err := uuid.Parse(raw)
	if err != nil || id == uuid.Nil {
		return uuid.Nil, ErrValidation(fmt.Sprintf("invalid track id %q", raw))
	}
	return id, nil
}
