package provider

import (
	"context"

	"github.com/finroute/finroute/pkg/models"
)

// Provider is the uniform capability surface every external data source
// implements. Wire protocol and auth detail are fully owned by the adapter;
// callers depend only on this interface.
type Provider interface {
	Name() string
	FetchQuote(ctx context.Context, sym models.Symbol) (models.Quote, error)
	HealthCheck(ctx context.Context) bool
}

// BulkFetcher is implemented by providers with a native batch endpoint.
// The returned slice is aligned with syms: each slot holds either a quote or
// the error for that symbol, never both.
type BulkFetcher interface {
	FetchQuotesBulk(ctx context.Context, syms []models.Symbol) ([]models.Result, error)
}
