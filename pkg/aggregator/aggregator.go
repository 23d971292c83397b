package aggregator

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/finroute/finroute/pkg/cache"
	"github.com/finroute/finroute/pkg/config"
	"github.com/finroute/finroute/pkg/health"
	"github.com/finroute/finroute/pkg/logger"
	"github.com/finroute/finroute/pkg/metrics"
	"github.com/finroute/finroute/pkg/models"
	"github.com/finroute/finroute/pkg/normalizer"
	"github.com/finroute/finroute/pkg/provider"
	"github.com/finroute/finroute/pkg/session"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

// cacheShape distinguishes the stored representation; only full quotes today.
const cacheShape = "quote"

// statefulProvider is the one provider whose batch traffic must stay
// strictly sequential.
const statefulProvider = "ig"

// Notifier receives provider state transitions. Implementations must never
// block the caller.
type Notifier interface {
	ProviderStateChanged(provider, state string)
}

// Aggregator routes quote requests across providers with cache-aside reads,
// priority failover and health-based candidate filtering.
type Aggregator struct {
	cfg      config.ProviderConfig
	cache    *cache.Engine
	health   *health.Registry
	notifier Notifier

	providers map[string]provider.Provider
	priority  map[models.AssetType][]string

	// highWater holds the newest accepted timestamp per canonical symbol so
	// a failover answer can never move a symbol's clock backwards.
	mu        sync.Mutex
	highWater map[string]time.Time
}

// New wires an aggregator over the given providers. Priority per asset type
// is fixed: crypto prefers the exchanges, everything else goes to the
// stateful provider.
func New(cfg config.ProviderConfig, c *cache.Engine, reg *health.Registry, n Notifier, providers ...provider.Provider) *Aggregator {
	byName := make(map[string]provider.Provider, len(providers))
	for _, p := range providers {
		byName[p.Name()] = p
	}
	return &Aggregator{
		cfg:       cfg,
		cache:     c,
		health:    reg,
		notifier:  n,
		providers: byName,
		priority: map[models.AssetType][]string{
			models.AssetCrypto:    {"binance", "mexc"},
			models.AssetEquity:    {statefulProvider},
			models.AssetIndex:     {statefulProvider},
			models.AssetForex:     {statefulProvider},
			models.AssetCommodity: {statefulProvider},
		},
		highWater: make(map[string]time.Time),
	}
}

// Fetch resolves one raw symbol to a quote: normalize, cache lookup, then
// provider failover in priority order.
func (a *Aggregator) Fetch(ctx context.Context, raw string) (models.Quote, error) {
	start := time.Now()
	q, err := a.fetch(ctx, raw, false)
	metrics.FetchLatency.Observe(time.Since(start).Seconds())

	at := string(q.AssetType)
	if at == "" {
		at = string(models.AssetUnknown)
	}
	status := "ok"
	if err != nil {
		status = "error"
	}
	metrics.FetchTotal.WithLabelValues(at, status).Inc()
	return q, err
}

func (a *Aggregator) fetch(ctx context.Context, raw string, bypassCache bool) (models.Quote, error) {
	sym := normalizer.Normalize(raw)
	if sym.Unknown() {
		return models.Quote{}, fmt.Errorf("%q: %w", raw, models.ErrInvalidSymbol)
	}

	key := cache.Key(sym, cacheShape)
	if !bypassCache {
		if q, ok := a.cache.Get(ctx, key); ok {
			return q, nil
		}
	}

	q, err := a.fetchFresh(ctx, sym)
	if err != nil {
		return models.Quote{}, err
	}
	a.cache.Set(ctx, key, q, models.TTLClassFor(sym.AssetType))
	return q, nil
}

// fetchFresh walks the candidate providers for the symbol's asset type.
// Unavailable providers are skipped, except that when the filter would leave
// nothing, the top candidate is probed anyway so an outage can be detected
// as over.
func (a *Aggregator) fetchFresh(ctx context.Context, sym models.Symbol) (models.Quote, error) {
	all := a.priority[sym.AssetType]

	candidates := make([]string, 0, len(all))
	for _, name := range all {
		if a.health.IsAvailable(name) {
			candidates = append(candidates, name)
		}
	}
	if len(candidates) == 0 && len(all) > 0 {
		candidates = all[:1]
	}

	attempts := make(map[string]error, len(candidates))
	for _, name := range candidates {
		p, ok := a.providers[name]
		if !ok {
			continue
		}

		q, err := a.callProvider(ctx, p, sym)
		if err != nil {
			kind := classify(err)
			switch kind {
			case health.FailureAuth:
				err = &models.AuthError{Provider: name, Err: err}
			case health.FailureTimeout, health.FailureNetwork:
				err = &models.TransientError{Provider: name, Err: err}
			}
			attempts[name] = err
			a.recordFailure(name, kind)
			logger.Log.Warn("provider fetch failed",
				zap.String("provider", name),
				zap.String("symbol", sym.Canonical),
				zap.Error(err))
			continue
		}

		a.recordSuccess(name)
		return q, nil
	}
	return models.Quote{}, &models.UnavailableError{Symbol: sym.Canonical, Attempts: attempts}
}

// callProvider runs one provider call under its timeout and validates the
// payload before it is accepted.
func (a *Aggregator) callProvider(ctx context.Context, p provider.Provider, sym models.Symbol) (models.Quote, error) {
	timeout := a.cfg.Timeout
	if p.Name() == statefulProvider {
		timeout = a.cfg.StatefulTimeout
	}
	callCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	start := time.Now()
	q, err := p.FetchQuote(callCtx, sym)
	status := "ok"
	if err != nil {
		status = "error"
	}
	metrics.ProviderRequestDuration.WithLabelValues(p.Name(), status).Observe(time.Since(start).Seconds())
	if err != nil {
		return models.Quote{}, err
	}

	if err := a.accept(p.Name(), sym, &q); err != nil {
		return models.Quote{}, err
	}
	return q, nil
}

// accept sanitizes and validates a provider payload and enforces per-symbol
// timestamp monotonicity.
func (a *Aggregator) accept(providerName string, sym models.Symbol, q *models.Quote) error {
	q.Sanitize()
	if q.Price <= 0 {
		return &models.DataQualityError{Provider: providerName, Symbol: sym.Canonical, Reason: "non-positive price"}
	}
	if err := q.Validate(); err != nil {
		return &models.DataQualityError{Provider: providerName, Symbol: sym.Canonical, Reason: err.Error()}
	}

	a.mu.Lock()
	defer a.mu.Unlock()
	if last, ok := a.highWater[sym.Canonical]; ok && q.Timestamp.Before(last) {
		return &models.DataQualityError{Provider: providerName, Symbol: sym.Canonical, Reason: "timestamp older than last accepted quote"}
	}
	a.highWater[sym.Canonical] = q.Timestamp
	return nil
}

func (a *Aggregator) recordSuccess(name string) {
	before := a.health.StateOf(name)
	a.health.RecordSuccess(name)
	a.notifyTransition(name, before)
}

func (a *Aggregator) recordFailure(name string, kind health.FailureKind) {
	before := a.health.StateOf(name)
	a.health.RecordFailure(name, kind)
	metrics.ProviderErrors.WithLabelValues(name, string(kind)).Inc()
	a.notifyTransition(name, before)
}

func (a *Aggregator) notifyTransition(name string, before health.State) {
	after := a.health.StateOf(name)
	if after == before || a.notifier == nil {
		return
	}
	a.notifier.ProviderStateChanged(name, after.String())
}

// classify maps a provider error onto a failure kind for health accounting.
func classify(err error) health.FailureKind {
	var dq *models.DataQualityError
	switch {
	case errors.Is(err, session.ErrSessionFailed), errors.Is(err, session.ErrCredentialsRejected):
		return health.FailureAuth
	case errors.As(err, &dq):
		return health.FailurePayload
	case errors.Is(err, context.DeadlineExceeded):
		return health.FailureTimeout
	default:
		return health.FailureNetwork
	}
}

// FetchBulk resolves many raw symbols, preserving input order in the result
// slice. Per-symbol failures occupy their slot without failing the batch.
func (a *Aggregator) FetchBulk(ctx context.Context, raws []string) []models.Result {
	metrics.BulkFetchTotal.Inc()
	metrics.BulkFetchSymbols.Observe(float64(len(raws)))

	out := make([]models.Result, len(raws))
	syms := make([]models.Symbol, len(raws))

	// Phase 1: normalize and drain the cache; collect misses per primary
	// provider, keeping each symbol's original slot index.
	misses := make(map[string][]int)
	for i, raw := range raws {
		sym := normalizer.Normalize(raw)
		syms[i] = sym
		if sym.Unknown() {
			out[i] = models.Result{Err: fmt.Errorf("%q: %w", raw, models.ErrInvalidSymbol)}
			continue
		}
		if q, ok := a.cache.Get(ctx, cache.Key(sym, cacheShape)); ok {
			q := q
			out[i] = models.Result{Quote: &q}
			continue
		}
		primary := a.priority[sym.AssetType][0]
		misses[primary] = append(misses[primary], i)
	}

	// Phase 2: per-provider groups run concurrently; slots within a group
	// are written without overlap so no lock is needed around out.
	g, gctx := errgroup.WithContext(ctx)
	for name, idxs := range misses {
		name, idxs := name, idxs
		g.Go(func() error {
			if name == statefulProvider {
				a.bulkSequential(gctx, syms, idxs, out)
			} else {
				a.bulkBatch(gctx, name, syms, idxs, out)
			}
			return nil
		})
	}
	_ = g.Wait()
	return out
}

// bulkBatch uses the provider's native batch endpoint when it has one and is
// available; any symbol the batch cannot answer falls back to the normal
// single-fetch failover path.
func (a *Aggregator) bulkBatch(ctx context.Context, name string, syms []models.Symbol, idxs []int, out []models.Result) {
	pending := idxs

	p := a.providers[name]
	bf, hasBulk := p.(provider.BulkFetcher)
	if hasBulk && a.health.IsAvailable(name) {
		batch := make([]models.Symbol, len(idxs))
		for j, i := range idxs {
			batch[j] = syms[i]
		}

		callCtx, cancel := context.WithTimeout(ctx, a.cfg.Timeout)
		results, err := bf.FetchQuotesBulk(callCtx, batch)
		cancel()
		if err != nil {
			a.recordFailure(name, classify(err))
			logger.Log.Warn("bulk provider call failed", zap.String("provider", name), zap.Error(err))
		} else {
			a.recordSuccess(name)
			pending = make([]int, 0, len(idxs))
			for j, i := range idxs {
				res := results[j]
				if res.Err != nil || res.Quote == nil {
					pending = append(pending, i)
					continue
				}
				q := *res.Quote
				if err := a.accept(name, syms[i], &q); err != nil {
					pending = append(pending, i)
					continue
				}
				out[i] = models.Result{Quote: &q}
				a.cache.Set(ctx, cache.Key(syms[i], cacheShape), q, models.TTLClassFor(syms[i].AssetType))
			}
		}
	}

	for _, i := range pending {
		a.fillSlot(ctx, syms[i], &out[i])
	}
}

// bulkSequential serves a group one symbol at a time with mandatory spacing
// between calls; the stateful provider tolerates no concurrent or
// back-to-back bursts on a shared session.
func (a *Aggregator) bulkSequential(ctx context.Context, syms []models.Symbol, idxs []int, out []models.Result) {
	for n, i := range idxs {
		if n > 0 {
			select {
			case <-time.After(a.cfg.BatchSpacing):
			case <-ctx.Done():
				for _, rest := range idxs[n:] {
					out[rest] = models.Result{Err: ctx.Err()}
				}
				return
			}
		}
		a.fillSlot(ctx, syms[i], &out[i])
	}
}

func (a *Aggregator) fillSlot(ctx context.Context, sym models.Symbol, slot *models.Result) {
	q, err := a.fetchFresh(ctx, sym)
	if err != nil {
		slot.Err = err
		return
	}
	a.cache.Set(ctx, cache.Key(sym, cacheShape), q, models.TTLClassFor(sym.AssetType))
	slot.Quote = &q
}

// Refresh force-fetches the given symbols, overwriting any cached entries.
// Used by the cache refresh endpoint to re-prime long-TTL classes.
func (a *Aggregator) Refresh(ctx context.Context, raws []string) []models.Result {
	out := make([]models.Result, len(raws))
	for i, raw := range raws {
		q, err := a.fetch(ctx, raw, true)
		if err != nil {
			out[i] = models.Result{Err: err}
			continue
		}
		out[i] = models.Result{Quote: &q}
	}
	return out
}

// HealthSnapshot reports current provider breaker states.
func (a *Aggregator) HealthSnapshot() []health.ProviderHealth {
	return a.health.Snapshot()
}
