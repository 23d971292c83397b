package provider

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/finroute/finroute/pkg/httpx"
	"github.com/finroute/finroute/pkg/models"
)

// MEXC is the crypto fallback for tokens Binance does not list. Its ticker
// API mirrors Binance's shape but it has no batch path here: the aggregator
// falls back to per-symbol calls.
type MEXC struct {
	baseURL string
	client  *httpx.Client
}

func NewMEXC(baseURL string, timeout time.Duration) *MEXC {
	return &MEXC{baseURL: baseURL, client: httpx.New(timeout)}
}

func (m *MEXC) Name() string { return "mexc" }

func (m *MEXC) FetchQuote(ctx context.Context, sym models.Symbol) (models.Quote, error) {
	u := fmt.Sprintf("%s/ticker/24hr?symbol=%s", m.baseURL, sym.ProviderID)
	req, err := http.NewRequest(http.MethodGet, u, nil)
	if err != nil {
		return models.Quote{}, err
	}

	res, err := m.client.Do(ctx, req)
	if err != nil {
		return models.Quote{}, err
	}
	defer res.Body.Close()

	if res.StatusCode != http.StatusOK {
		return models.Quote{}, fmt.Errorf("mexc http %d", res.StatusCode)
	}

	var t struct {
		LastPrice          string `json:"lastPrice"`
		PriceChange        string `json:"priceChange"`
		PriceChangePercent string `json:"priceChangePercent"`
		Volume             string `json:"volume"`
	}
	if err := json.NewDecoder(res.Body).Decode(&t); err != nil {
		return models.Quote{}, fmt.Errorf("mexc decode: %w", err)
	}

	price, err := strconv.ParseFloat(t.LastPrice, 64)
	if err != nil {
		return models.Quote{}, fmt.Errorf("mexc parse lastPrice %q: %w", t.LastPrice, err)
	}
	pct, _ := strconv.ParseFloat(t.PriceChangePercent, 64)
	abs, _ := strconv.ParseFloat(t.PriceChange, 64)

	q := models.Quote{
		Symbol:         sym.Canonical,
		AssetType:      models.AssetCrypto,
		Price:          price,
		ChangePercent:  pct,
		ChangeAbsolute: abs,
		Timestamp:      time.Now().UTC(),
		Source:         m.Name(),
	}
	if vol, err := strconv.ParseFloat(t.Volume, 64); err == nil {
		q.Volume = &vol
	}
	return q, nil
}

func (m *MEXC) HealthCheck(ctx context.Context) bool {
	req, err := http.NewRequest(http.MethodGet, m.baseURL+"/ping", nil)
	if err != nil {
		return false
	}
	res, err := m.client.Do(ctx, req)
	if err != nil {
		return false
	}
	defer res.Body.Close()
	return res.StatusCode == http.StatusOK
}
