package models

import (
	"errors"
	"strings"
	"testing"
	"time"
)

func TestTTLClassDurations(t *testing.T) {
	tests := []struct {
		class TTLClass
		want  time.Duration
	}{
		{TTLCrypto, 60 * time.Second},
		{TTLTraditional, 300 * time.Second},
		{TTLNews, 900 * time.Second},
		{TTLMacro, 24 * time.Hour},
	}
	for _, tt := range tests {
		if got := tt.class.Duration(); got != tt.want {
			t.Errorf("%s.Duration() = %v, want %v", tt.class, got, tt.want)
		}
	}
}

func TestTTLClassFor(t *testing.T) {
	if TTLClassFor(AssetCrypto) != TTLCrypto {
		t.Error("crypto must use the short TTL class")
	}
	for _, at := range []AssetType{AssetEquity, AssetIndex, AssetForex, AssetCommodity} {
		if TTLClassFor(at) != TTLTraditional {
			t.Errorf("%s must use the traditional TTL class", at)
		}
	}
}

func TestSymbolUnknown(t *testing.T) {
	if !(Symbol{AssetType: AssetUnknown}).Unknown() {
		t.Error("unknown asset type must report Unknown")
	}
	if !(Symbol{AssetType: AssetEquity, Confidence: 0}).Unknown() {
		t.Error("zero confidence must report Unknown")
	}
	if (Symbol{AssetType: AssetEquity, Confidence: 0.5}).Unknown() {
		t.Error("classified symbol must not report Unknown")
	}
}

func TestQuoteValidate(t *testing.T) {
	valid := Quote{
		Symbol:    "AAPL",
		AssetType: AssetEquity,
		Price:     150.25,
		Timestamp: time.Now().UTC(),
		Source:    "ig",
	}
	if err := valid.Validate(); err != nil {
		t.Errorf("valid quote rejected: %v", err)
	}

	tests := []struct {
		name   string
		mutate func(*Quote)
	}{
		{"zero price", func(q *Quote) { q.Price = 0 }},
		{"negative price", func(q *Quote) { q.Price = -1 }},
		{"absurd price", func(q *Quote) { q.Price = 1e9 }},
		{"empty symbol", func(q *Quote) { q.Symbol = "" }},
		{"lowercase symbol", func(q *Quote) { q.Symbol = "aapl" }},
		{"empty source", func(q *Quote) { q.Source = "" }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			q := valid
			tt.mutate(&q)
			if err := q.Validate(); err == nil {
				t.Error("expected validation failure")
			}
		})
	}
}

func TestQuoteSanitizeClampsFutureTimestamp(t *testing.T) {
	q := Quote{Timestamp: time.Now().Add(time.Hour)}
	q.Sanitize()
	if q.Timestamp.After(time.Now().Add(time.Second)) {
		t.Errorf("future timestamp not clamped: %v", q.Timestamp)
	}
}

func TestQuoteJSONRoundTrip(t *testing.T) {
	vol := 1000.0
	q := Quote{
		Symbol:        "BTC",
		AssetType:     AssetCrypto,
		Price:         64000,
		ChangePercent: 1.2,
		Volume:        &vol,
		Timestamp:     time.Now().UTC().Truncate(time.Second),
		Source:        "binance",
	}
	data, err := q.ToJSON()
	if err != nil {
		t.Fatalf("ToJSON: %v", err)
	}
	got, err := QuoteFromJSON(data)
	if err != nil {
		t.Fatalf("QuoteFromJSON: %v", err)
	}
	if got.Symbol != q.Symbol || got.Price != q.Price || !got.Timestamp.Equal(q.Timestamp) {
		t.Errorf("round trip mismatch: %+v", got)
	}
	if got.Volume == nil || *got.Volume != vol {
		t.Errorf("volume lost in round trip: %v", got.Volume)
	}
}

func TestQuoteFromJSONRejectsInvalid(t *testing.T) {
	if _, err := QuoteFromJSON(`{"symbol":"BTC","price":-5,"source":"binance"}`); err == nil {
		t.Error("expected validation failure for negative price")
	}
	if _, err := QuoteFromJSON(`{not json`); err == nil {
		t.Error("expected unmarshal failure")
	}
}

func TestUnavailableErrorMessage(t *testing.T) {
	err := &UnavailableError{
		Symbol: "SPX",
		Attempts: map[string]error{
			"ig": errors.New("deadline exceeded"),
		},
	}
	msg := err.Error()
	if !strings.Contains(msg, "SPX") || !strings.Contains(msg, "ig") {
		t.Errorf("diagnostics missing from message: %q", msg)
	}
}
