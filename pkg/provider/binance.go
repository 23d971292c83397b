package provider

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/finroute/finroute/pkg/httpx"
	"github.com/finroute/finroute/pkg/logger"
	"github.com/finroute/finroute/pkg/models"
	"go.uber.org/zap"
)

// Binance serves crypto quotes from the public 24hr ticker endpoint.
type Binance struct {
	baseURL string
	client  *httpx.Client
}

func NewBinance(baseURL string, timeout time.Duration) *Binance {
	return &Binance{baseURL: baseURL, client: httpx.New(timeout)}
}

func (b *Binance) Name() string { return "binance" }

// ticker24h is the subset of the 24hr ticker payload we read.
type ticker24h struct {
	Symbol             string `json:"symbol"`
	LastPrice          string `json:"lastPrice"`
	PriceChange        string `json:"priceChange"`
	PriceChangePercent string `json:"priceChangePercent"`
	Volume             string `json:"volume"`
}

func (b *Binance) FetchQuote(ctx context.Context, sym models.Symbol) (models.Quote, error) {
	u := fmt.Sprintf("%s/ticker/24hr?symbol=%s", b.baseURL, sym.ProviderID)
	req, err := http.NewRequest(http.MethodGet, u, nil)
	if err != nil {
		return models.Quote{}, err
	}

	res, err := b.client.Do(ctx, req)
	if err != nil {
		return models.Quote{}, err
	}
	defer res.Body.Close()

	if res.StatusCode != http.StatusOK {
		return models.Quote{}, fmt.Errorf("binance http %d", res.StatusCode)
	}

	var t ticker24h
	if err := json.NewDecoder(res.Body).Decode(&t); err != nil {
		return models.Quote{}, fmt.Errorf("binance decode: %w", err)
	}
	return b.toQuote(sym.Canonical, t)
}

// FetchQuotesBulk pulls the full ticker list once and matches requested
// pairs out of it, which is cheaper than one call per symbol.
func (b *Binance) FetchQuotesBulk(ctx context.Context, syms []models.Symbol) ([]models.Result, error) {
	req, err := http.NewRequest(http.MethodGet, b.baseURL+"/ticker/24hr", nil)
	if err != nil {
		return nil, err
	}

	res, err := b.client.Do(ctx, req)
	if err != nil {
		return nil, err
	}
	defer res.Body.Close()

	if res.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("binance http %d", res.StatusCode)
	}

	var all []ticker24h
	if err := json.NewDecoder(res.Body).Decode(&all); err != nil {
		return nil, fmt.Errorf("binance decode: %w", err)
	}

	byPair := make(map[string]ticker24h, len(all))
	for _, t := range all {
		byPair[t.Symbol] = t
	}

	out := make([]models.Result, len(syms))
	for i, sym := range syms {
		t, ok := byPair[sym.ProviderID]
		if !ok {
			out[i] = models.Result{Err: fmt.Errorf("binance: pair %s not listed", sym.ProviderID)}
			continue
		}
		q, err := b.toQuote(sym.Canonical, t)
		if err != nil {
			out[i] = models.Result{Err: err}
			continue
		}
		out[i] = models.Result{Quote: &q}
	}
	return out, nil
}

func (b *Binance) toQuote(symbol string, t ticker24h) (models.Quote, error) {
	price, err := strconv.ParseFloat(t.LastPrice, 64)
	if err != nil {
		return models.Quote{}, fmt.Errorf("binance parse lastPrice %q: %w", t.LastPrice, err)
	}
	pct, _ := strconv.ParseFloat(t.PriceChangePercent, 64)
	abs, _ := strconv.ParseFloat(t.PriceChange, 64)

	q := models.Quote{
		Symbol:         symbol,
		AssetType:      models.AssetCrypto,
		Price:          price,
		ChangePercent:  pct,
		ChangeAbsolute: abs,
		Timestamp:      time.Now().UTC(),
		Source:         b.Name(),
	}
	if vol, err := strconv.ParseFloat(t.Volume, 64); err == nil {
		q.Volume = &vol
	}
	return q, nil
}

func (b *Binance) HealthCheck(ctx context.Context) bool {
	req, err := http.NewRequest(http.MethodGet, b.baseURL+"/ping", nil)
	if err != nil {
		return false
	}
	res, err := b.client.Do(ctx, req)
	if err != nil {
		logger.Log.Debug("binance health check failed", zap.Error(err))
		return false
	}
	defer res.Body.Close()
	return res.StatusCode == http.StatusOK
}
