package metadata

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/finroute/finroute/pkg/logger"
	"github.com/finroute/finroute/pkg/metrics"
	"github.com/finroute/finroute/pkg/models"
	_ "github.com/lib/pq"
	"go.uber.org/zap"
)

// ErrNotFound is returned when no mapping exists for a symbol.
var ErrNotFound = errors.New("symbol not found")

// Store persists discovered symbol-to-provider-identifier mappings so
// expensive discovery work survives restarts.
type Store struct {
	db *sql.DB
}

const schema = `
CREATE TABLE IF NOT EXISTS symbols (
	symbol        TEXT PRIMARY KEY,
	display_name  TEXT NOT NULL DEFAULT '',
	provider_id   TEXT NOT NULL,
	asset_type    TEXT NOT NULL,
	active        BOOLEAN NOT NULL DEFAULT TRUE,
	discovered_at TIMESTAMPTZ NOT NULL DEFAULT now(),
	last_updated  TIMESTAMPTZ NOT NULL DEFAULT now()
)`

// New opens a pooled connection and ensures the schema exists.
func New(databaseURL string) (*Store, error) {
	db, err := sql.Open("postgres", databaseURL)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	db.SetMaxOpenConns(25)
	db.SetMaxIdleConns(5)
	db.SetConnMaxLifetime(5 * time.Minute)
	db.SetConnMaxIdleTime(5 * time.Minute)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}
	if _, err := db.ExecContext(ctx, schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to ensure schema: %w", err)
	}

	logger.Log.Info("metadata store connected")
	return &Store{db: db}, nil
}

// NewWithDB wraps an existing connection; used by tests.
func NewWithDB(db *sql.DB) *Store {
	return &Store{db: db}
}

// Lookup returns the stored mapping for a canonical symbol.
func (s *Store) Lookup(ctx context.Context, symbol string) (models.SymbolRecord, error) {
	start := time.Now()

	var rec models.SymbolRecord
	var at string
	err := s.db.QueryRowContext(ctx,
		`SELECT symbol, display_name, provider_id, asset_type, active, discovered_at, last_updated
		   FROM symbols WHERE symbol = $1`, symbol).
		Scan(&rec.Symbol, &rec.DisplayName, &rec.ProviderID, &at, &rec.Active, &rec.DiscoveredAt, &rec.LastUpdated)

	status := "ok"
	switch {
	case errors.Is(err, sql.ErrNoRows):
		status = "miss"
		err = ErrNotFound
	case err != nil:
		status = "error"
	}
	metrics.MetadataOperationDuration.WithLabelValues("lookup", status).Observe(time.Since(start).Seconds())
	if err != nil {
		return models.SymbolRecord{}, err
	}
	rec.AssetType = models.AssetType(at)
	return rec, nil
}

// Upsert inserts or refreshes a mapping, bumping last_updated.
func (s *Store) Upsert(ctx context.Context, rec models.SymbolRecord) error {
	start := time.Now()

	_, err := s.db.ExecContext(ctx,
		`INSERT INTO symbols (symbol, display_name, provider_id, asset_type, active)
		 VALUES ($1, $2, $3, $4, $5)
		 ON CONFLICT (symbol) DO UPDATE SET
		   display_name = EXCLUDED.display_name,
		   provider_id  = EXCLUDED.provider_id,
		   asset_type   = EXCLUDED.asset_type,
		   active       = EXCLUDED.active,
		   last_updated = now()`,
		rec.Symbol, rec.DisplayName, rec.ProviderID, string(rec.AssetType), rec.Active)

	status := "ok"
	if err != nil {
		status = "error"
	}
	metrics.MetadataOperationDuration.WithLabelValues("upsert", status).Observe(time.Since(start).Seconds())
	if err != nil {
		return fmt.Errorf("upsert %s: %w", rec.Symbol, err)
	}
	return nil
}

// Deactivate marks a mapping inactive without losing the discovery record.
func (s *Store) Deactivate(ctx context.Context, symbol string) error {
	res, err := s.db.ExecContext(ctx,
		`UPDATE symbols SET active = FALSE, last_updated = now() WHERE symbol = $1`, symbol)
	if err != nil {
		return fmt.Errorf("deactivate %s: %w", symbol, err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

// ListActive returns all active mappings, used to pre-warm the cache.
func (s *Store) ListActive(ctx context.Context) ([]models.SymbolRecord, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT symbol, display_name, provider_id, asset_type, active, discovered_at, last_updated
		   FROM symbols WHERE active ORDER BY symbol`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []models.SymbolRecord
	for rows.Next() {
		var rec models.SymbolRecord
		var at string
		if err := rows.Scan(&rec.Symbol, &rec.DisplayName, &rec.ProviderID, &at, &rec.Active, &rec.DiscoveredAt, &rec.LastUpdated); err != nil {
			return nil, err
		}
		rec.AssetType = models.AssetType(at)
		out = append(out, rec)
	}
	return out, rows.Err()
}

func (s *Store) HealthCheck(ctx context.Context) bool {
	if err := s.db.PingContext(ctx); err != nil {
		logger.Log.Debug("metadata store health check failed", zap.Error(err))
		return false
	}
	return true
}

func (s *Store) Close() error {
	return s.db.Close()
}
