package provider

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/finroute/finroute/pkg/httpx"
	"github.com/finroute/finroute/pkg/logger"
	"github.com/finroute/finroute/pkg/models"
	"github.com/finroute/finroute/pkg/session"
	"go.uber.org/zap"
)

// IG is the stateful provider covering forex, indices, commodities and the
// equity fallback. Every call rides the single authenticated session owned
// by the session manager.
type IG struct {
	baseURL  string
	apiKey   string
	client   *httpx.Client
	sessions *session.Manager
}

func NewIG(baseURL, apiKey string, timeout time.Duration, sessions *session.Manager) *IG {
	return &IG{
		baseURL:  baseURL,
		apiKey:   apiKey,
		client:   httpx.New(timeout),
		sessions: sessions,
	}
}

func (g *IG) Name() string { return "ig" }

type marketSnapshot struct {
	Snapshot struct {
		Bid              float64 `json:"bid"`
		Offer            float64 `json:"offer"`
		PercentageChange float64 `json:"percentageChange"`
		NetChange        float64 `json:"netChange"`
	} `json:"snapshot"`
}

func (g *IG) FetchQuote(ctx context.Context, sym models.Symbol) (models.Quote, error) {
	tok, err := g.sessions.GetToken(ctx)
	if err != nil {
		return models.Quote{}, err
	}

	u := fmt.Sprintf("%s/markets/%s", g.baseURL, sym.ProviderID)
	req, err := http.NewRequest(http.MethodGet, u, nil)
	if err != nil {
		return models.Quote{}, err
	}
	tok.Apply(req)
	req.Header.Set("X-IG-API-KEY", g.apiKey)

	res, err := g.client.Do(ctx, req)
	if err != nil {
		return models.Quote{}, err
	}
	defer res.Body.Close()

	switch {
	case res.StatusCode == http.StatusUnauthorized:
		// Provider dropped the session under us; the next call relogs in.
		g.sessions.Invalidate()
		return models.Quote{}, fmt.Errorf("ig session rejected (http 401)")
	case res.StatusCode != http.StatusOK:
		return models.Quote{}, fmt.Errorf("ig http %d for %s", res.StatusCode, sym.ProviderID)
	}

	var m marketSnapshot
	if err := json.NewDecoder(res.Body).Decode(&m); err != nil {
		return models.Quote{}, fmt.Errorf("ig decode: %w", err)
	}

	raw := m.Snapshot.Bid
	if raw == 0 {
		raw = m.Snapshot.Offer
	}
	if raw == 0 {
		return models.Quote{}, fmt.Errorf("ig returned zero price for %s", sym.ProviderID)
	}

	// Spread-bet instruments quote at a provider-specific scale; regional
	// minor-unit listings carry their own divisor from normalization.
	divisor := scaleFor(sym.ProviderID, sym.Canonical) * sym.PriceDivisor

	return models.Quote{
		Symbol:         sym.Canonical,
		AssetType:      sym.AssetType,
		Price:          raw / divisor,
		ChangePercent:  m.Snapshot.PercentageChange,
		ChangeAbsolute: m.Snapshot.NetChange / divisor,
		Timestamp:      time.Now().UTC(),
		Source:         g.Name(),
	}, nil
}

// scaleFor returns the factor spread-bet prices must be divided by. Forex
// pairs quote in fractional pips (10000, or 100 for JPY quotes); spot
// commodities on the same epic family and everything else are unscaled.
func scaleFor(epic, canonical string) float64 {
	if !strings.HasPrefix(epic, "CS.D.") {
		return 1
	}
	if !strings.Contains(epic, ".TODAY.IP") && !strings.Contains(epic, ".CFD.IP") {
		return 1
	}
	upper := strings.ToUpper(epic)
	for _, commodity := range []string{"USC", "GOLD", "SILVER", "COPPER"} {
		if strings.Contains(upper, commodity) {
			return 1
		}
	}
	if strings.HasSuffix(canonical, "JPY") {
		return 100
	}
	return 10000
}

func (g *IG) HealthCheck(ctx context.Context) bool {
	sym := models.Symbol{
		Canonical:    "EURUSD",
		AssetType:    models.AssetForex,
		ProviderID:   "CS.D.EURUSD.TODAY.IP",
		PriceDivisor: 1,
	}
	if _, err := g.FetchQuote(ctx, sym); err != nil {
		logger.Log.Debug("ig health check failed", zap.Error(err))
		return false
	}
	return true
}
