package models

import (
	"errors"
	"fmt"
	"sort"
	"strings"
)

// ErrInvalidSymbol marks input that cannot be resolved to any instrument.
// No provider call is made and the request is not retried.
var ErrInvalidSymbol = errors.New("invalid symbol")

// AuthError is a credential rejection by a provider. It is fatal for that
// provider: renewal is not retried once this surfaces.
type AuthError struct {
	Provider string
	Err      error
}

func (e *AuthError) Error() string {
	return fmt.Sprintf("auth failed for provider %s: %v", e.Provider, e.Err)
}

func (e *AuthError) Unwrap() error { return e.Err }

// TransientError is a network or timeout failure for one provider call.
// It triggers failover to the next candidate and counts toward health
// degradation.
type TransientError struct {
	Provider string
	Err      error
}

func (e *TransientError) Error() string {
	return fmt.Sprintf("provider %s: %v", e.Provider, e.Err)
}

func (e *TransientError) Unwrap() error { return e.Err }

// DataQualityError marks a payload the provider returned but that fails
// validation: non-positive price or a timestamp older than one already seen
// for the symbol. Treated as a fetch failure for failover purposes.
type DataQualityError struct {
	Provider string
	Symbol   string
	Reason   string
}

func (e *DataQualityError) Error() string {
	return fmt.Sprintf("bad payload from %s for %s: %s", e.Provider, e.Symbol, e.Reason)
}

// UnavailableError is returned when every candidate provider for a symbol has
// been exhausted. Attempts carries the last error per provider for
// diagnostics.
type UnavailableError struct {
	Symbol   string
	Attempts map[string]error
}

func (e *UnavailableError) Error() string {
	if len(e.Attempts) == 0 {
		return fmt.Sprintf("no providers available for %s", e.Symbol)
	}
	parts := make([]string, 0, len(e.Attempts))
	for name, err := range e.Attempts {
		parts = append(parts, fmt.Sprintf("%s: %v", name, err))
	}
	sort.Strings(parts)
	return fmt.Sprintf("all providers failed for %s (%s)", e.Symbol, strings.Join(parts, "; "))
}
