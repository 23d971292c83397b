package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/finroute/finroute/pkg/aggregator"
	"github.com/finroute/finroute/pkg/cache"
	"github.com/finroute/finroute/pkg/config"
	"github.com/finroute/finroute/pkg/health"
	"github.com/finroute/finroute/pkg/logger"
	"github.com/finroute/finroute/pkg/metadata"
	"github.com/finroute/finroute/pkg/metrics"
	"github.com/finroute/finroute/pkg/notify"
	"github.com/finroute/finroute/pkg/provider"
	"github.com/finroute/finroute/pkg/session"
	"github.com/gorilla/mux"
	"go.uber.org/zap"
)

func main() {
	if err := logger.Init(); err != nil {
		panic(err)
	}
	defer logger.Sync()
	log := logger.Log

	log.Info("starting finroute API server")

	cfg, err := config.Load()
	if err != nil {
		log.Fatal("failed to load configuration", zap.Error(err))
	}

	cacheEngine, err := cache.New(cfg.RedisURL)
	if err != nil {
		log.Fatal("failed to connect to Redis", zap.Error(err))
	}
	defer cacheEngine.Close()

	// Symbol metadata store is optional; without it resolution is pure
	// normalization.
	var meta *metadata.Store
	if cfg.DatabaseURL != "" {
		meta, err = metadata.New(cfg.DatabaseURL)
		if err != nil {
			log.Fatal("failed to connect to metadata store", zap.Error(err))
		}
		defer meta.Close()
	}

	notifier := notify.NewTelegram(cfg.Notify)

	sessions := session.NewManager(provider.NewIGAuthenticator(cfg.Provider), cfg.Session)

	binance := provider.NewBinance(cfg.Provider.BinanceBaseURL, cfg.Provider.Timeout)
	mexc := provider.NewMEXC(cfg.Provider.MEXCBaseURL, cfg.Provider.Timeout)
	ig := provider.NewIG(cfg.Provider.IGBaseURL, cfg.Provider.IGAPIKey, cfg.Provider.StatefulTimeout, sessions)

	registry := health.NewRegistry(cfg.Health, binance.Name(), mexc.Name(), ig.Name())
	agg := aggregator.New(cfg.Provider, cacheEngine, registry, notifier, binance, mexc, ig)

	srv := &server{
		agg:      agg,
		cache:    cacheEngine,
		meta:     meta,
		sessions: sessions,
	}

	router := mux.NewRouter()
	router.Use(loggingMiddleware)
	router.Use(metricsMiddleware)

	router.HandleFunc("/health", srv.handleHealth).Methods("GET")
	router.Handle("/metrics", metrics.Handler())

	api := router.PathPrefix("/api/v1").Subrouter()
	api.HandleFunc("/quotes/bulk", srv.handleBulkQuotes).Methods("POST")
	api.HandleFunc("/quotes/{symbol}", srv.handleQuote).Methods("GET")
	api.HandleFunc("/providers/status", srv.handleProviderStatus).Methods("GET")
	api.HandleFunc("/cache/refresh", srv.handleCacheRefresh).Methods("POST")
	api.HandleFunc("/symbols", srv.handleListSymbols).Methods("GET")
	api.HandleFunc("/symbols", srv.handleUpsertSymbol).Methods("PUT")
	api.HandleFunc("/symbols/{symbol}", srv.handleLookupSymbol).Methods("GET")

	httpServer := &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.HTTPPort),
		Handler:      router,
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 30 * time.Second,
		IdleTimeout:  120 * time.Second,
	}

	go func() {
		log.Info("starting HTTP server", zap.String("addr", httpServer.Addr))
		if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatal("failed to start server", zap.Error(err))
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Info("shutting down server...")

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	if err := httpServer.Shutdown(ctx); err != nil {
		log.Error("server forced to shutdown", zap.Error(err))
	}

	log.Info("server exited")
}

func loggingMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		next.ServeHTTP(w, r)
		logger.Log.Info("HTTP request",
			zap.String("method", r.Method),
			zap.String("path", r.URL.Path),
			zap.String("remote_addr", r.RemoteAddr),
			zap.Duration("duration", time.Since(start)))
	})
}

func metricsMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(rec, r)
		metrics.APIRequestDuration.
			WithLabelValues(r.Method, r.URL.Path, fmt.Sprintf("%d", rec.status)).
			Observe(time.Since(start).Seconds())
	})
}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(code int) {
	r.status = code
	r.ResponseWriter.WriteHeader(code)
}
