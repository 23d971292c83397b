package models

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/finroute/finroute/pkg/validation"
)

// AssetType is the classification bucket a symbol falls into.
type AssetType string

const (
	AssetCrypto    AssetType = "crypto"
	AssetEquity    AssetType = "equity"
	AssetIndex     AssetType = "index"
	AssetForex     AssetType = "forex"
	AssetCommodity AssetType = "commodity"
	AssetUnknown   AssetType = "unknown"
)

// TTLClass names a cache lifetime bucket.
type TTLClass string

const (
	TTLCrypto      TTLClass = "crypto"
	TTLTraditional TTLClass = "traditional"
	TTLNews        TTLClass = "news"
	TTLMacro       TTLClass = "macro"
)

// Duration maps a TTL class to its fixed lifetime.
func (c TTLClass) Duration() time.Duration {
	switch c {
	case TTLCrypto:
		return 60 * time.Second
	case TTLTraditional:
		return 300 * time.Second
	case TTLNews:
		return 900 * time.Second
	case TTLMacro:
		return 86400 * time.Second
	default:
		return 300 * time.Second
	}
}

// TTLClassFor picks the cache class for an asset type: crypto moves fast,
// everything else is traditional market data.
func TTLClassFor(at AssetType) TTLClass {
	if at == AssetCrypto {
		return TTLCrypto
	}
	return TTLTraditional
}

// Symbol is the result of normalizing raw user input. It is ephemeral and
// recomputed on every request.
type Symbol struct {
	Raw        string    `json:"raw"`
	Canonical  string    `json:"canonical" validate:"omitempty,ticker"`
	AssetType  AssetType `json:"asset_type"`
	ProviderID string    `json:"provider_id"`
	Confidence float64   `json:"confidence" validate:"confidence"`
	// PriceDivisor converts minor-unit quotes (e.g. pence) to major units.
	// 1 means no conversion.
	PriceDivisor float64 `json:"price_divisor"`
}

// Unknown reports whether the symbol could not be classified at all.
// Callers must not issue provider calls for unknown symbols.
func (s Symbol) Unknown() bool {
	return s.AssetType == AssetUnknown || s.Confidence == 0
}

// Quote is the uniform price shape returned by all providers.
type Quote struct {
	Symbol         string    `json:"symbol" validate:"required,ticker"`
	AssetType      AssetType `json:"asset_type"`
	Price          float64   `json:"price" validate:"required,price"`
	ChangePercent  float64   `json:"change_percent"`
	ChangeAbsolute float64   `json:"change_absolute"`
	Volume         *float64  `json:"volume,omitempty"`
	Timestamp      time.Time `json:"timestamp" validate:"required"`
	Source         string    `json:"source" validate:"required,source"`
}

// Validate validates the Quote struct
func (q Quote) Validate() error {
	if errors := validation.ValidateStruct(q); len(errors) > 0 {
		return errors
	}
	return nil
}

// Sanitize cleans the Quote data in place.
func (q *Quote) Sanitize() {
	q.Symbol = validation.SanitizeString(q.Symbol)
	q.Source = validation.SanitizeString(q.Source)
	if q.Timestamp.IsZero() {
		q.Timestamp = time.Now().UTC()
	} else {
		q.Timestamp = validation.SanitizeTimestamp(q.Timestamp)
	}
}

// ToJSON converts to a JSON string for caching and pub/sub.
func (q Quote) ToJSON() (string, error) {
	data, err := json.Marshal(q)
	if err != nil {
		return "", fmt.Errorf("json marshal error: %w", err)
	}
	return string(data), nil
}

// QuoteFromJSON creates a Quote from a JSON string.
func QuoteFromJSON(data string) (Quote, error) {
	var q Quote
	if err := json.Unmarshal([]byte(data), &q); err != nil {
		return q, fmt.Errorf("json unmarshal error: %w", err)
	}

	q.Sanitize()
	if err := q.Validate(); err != nil {
		return q, fmt.Errorf("validation failed: %w", err)
	}

	return q, nil
}

// Result is one slot of a bulk response: either a quote or the typed error
// that stopped it. Exactly one of the two is set.
type Result struct {
	Quote *Quote `json:"quote,omitempty"`
	Err   error  `json:"-"`
}

// SymbolRecord is a discovered symbol-to-provider-identifier mapping held in
// the metadata store.
type SymbolRecord struct {
	Symbol       string    `json:"symbol"`
	DisplayName  string    `json:"display_name,omitempty"`
	ProviderID   string    `json:"provider_id"`
	AssetType    AssetType `json:"asset_type"`
	Active       bool      `json:"active"`
	DiscoveredAt time.Time `json:"discovered_at"`
	LastUpdated  time.Time `json:"last_updated"`
}
