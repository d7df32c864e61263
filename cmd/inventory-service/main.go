package main

import (
	"context"
	"encoding/json"
	"errors"
	"log"
	"net/http"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"github.com/caarlos0/env/v11"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/nazeru/shop-lab-go/internal/inventory"
	"github.com/nazeru/shop-lab-go/pkg/errs"
	"github.com/nazeru/shop-lab-go/pkg/httpapi"
	"github.com/nazeru/shop-lab-go/pkg/logging"
	"github.com/nazeru/shop-lab-go/pkg/metrics"
)

type config struct {
	Port        string `env:"PORT" envDefault:"8083"`
	DatabaseURL string `env:"DATABASE_URL,required"`
}

type initializeRequest struct {
	ItemID   string `json:"itemId"`
	Quantity int    `json:"quantity"`
}

type quantityRequest struct {
	Quantity int `json:"quantity"`
}

type stockView struct {
	inventory.Record
	StockStatus inventory.StockStatus `json:"stockStatus"`
}

func view(rec inventory.Record) stockView {
	return stockView{Record: rec, StockStatus: rec.Status()}
}

func main() {
	var cfg config
	if err := env.Parse(&cfg); err != nil {
		log.Fatalf("config error: %v", err)
	}

	logger, err := logging.New("inventory-service")
	if err != nil {
		log.Fatalf("logger error: %v", err)
	}
	defer logger.Sync()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	pool, err := pgxpool.New(ctx, cfg.DatabaseURL)
	if err != nil {
		log.Fatalf("db connect error: %v", err)
	}
	defer pool.Close()

	engine := inventory.NewEngine(inventory.NewPgStore(pool), logger)
	srvMetrics := metrics.NewServerMetrics("inventory_service")

	mux := http.NewServeMux()
	mux.HandleFunc("GET /health", func(w http.ResponseWriter, r *http.Request) {
		if err := pool.Ping(r.Context()); err != nil {
			httpapi.WriteJSON(w, http.StatusServiceUnavailable, map[string]any{"status": "db_error"})
			return
		}
		httpapi.WriteJSON(w, http.StatusOK, map[string]any{"status": "ok"})
	})
	mux.Handle("GET /metrics", metrics.Handler())

	mux.HandleFunc("POST /api/inventory", instrument(srvMetrics, "initialize_stock", func(w http.ResponseWriter, r *http.Request) {
		var req initializeRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			httpapi.Fail(w, http.StatusBadRequest, "invalid json", errs.CodeValidationFailure)
			return
		}
		if req.ItemID == "" || req.Quantity < 0 {
			httpapi.Fail(w, http.StatusBadRequest, "itemId and a non-negative quantity are required", errs.CodeValidationFailure)
			return
		}
		rec, err := engine.Initialize(r.Context(), req.ItemID, req.Quantity)
		if err != nil {
			httpapi.Error(w, err)
			return
		}
		httpapi.OK(w, "Inventory initialized", view(rec))
	}))

	mux.HandleFunc("GET /api/inventory/{itemId}", instrument(srvMetrics, "get_stock", func(w http.ResponseWriter, r *http.Request) {
		rec, err := engine.Get(r.Context(), r.PathValue("itemId"))
		if err != nil {
			if errors.Is(err, inventory.ErrNotFound) {
				httpapi.Fail(w, http.StatusNotFound, "inventory record not found", errs.CodeItemUnavailable)
				return
			}
			httpapi.Error(w, err)
			return
		}
		httpapi.OK(w, "Inventory retrieved", view(rec))
	}))

	mux.HandleFunc("PUT /api/inventory/{itemId}", instrument(srvMetrics, "update_stock", func(w http.ResponseWriter, r *http.Request) {
		var req quantityRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			httpapi.Fail(w, http.StatusBadRequest, "invalid json", errs.CodeValidationFailure)
			return
		}
		if req.Quantity < 0 {
			httpapi.Fail(w, http.StatusBadRequest, "quantity must be non-negative", errs.CodeValidationFailure)
			return
		}
		rec, err := engine.UpdateTotal(r.Context(), r.PathValue("itemId"), req.Quantity)
		if err != nil {
			httpapi.Error(w, err)
			return
		}
		httpapi.OK(w, "Inventory updated", view(rec))
	}))

	mux.HandleFunc("POST /api/inventory/{itemId}/reserve", instrument(srvMetrics, "reserve_stock", func(w http.ResponseWriter, r *http.Request) {
		req, ok := decodeQuantity(w, r)
		if !ok {
			return
		}
		if !engine.Reserve(r.Context(), r.PathValue("itemId"), req.Quantity) {
			httpapi.Fail(w, http.StatusBadRequest, "insufficient stock", errs.CodeItemUnavailable)
			return
		}
		httpapi.OK(w, "Stock reserved", nil)
	}))

	mux.HandleFunc("POST /api/inventory/{itemId}/release", instrument(srvMetrics, "release_stock", func(w http.ResponseWriter, r *http.Request) {
		req, ok := decodeQuantity(w, r)
		if !ok {
			return
		}
		engine.Release(r.Context(), r.PathValue("itemId"), req.Quantity)
		httpapi.OK(w, "Stock released", nil)
	}))

	mux.HandleFunc("POST /api/inventory/{itemId}/consume", instrument(srvMetrics, "consume_stock", func(w http.ResponseWriter, r *http.Request) {
		req, ok := decodeQuantity(w, r)
		if !ok {
			return
		}
		engine.Consume(r.Context(), r.PathValue("itemId"), req.Quantity)
		httpapi.OK(w, "Stock consumed", nil)
	}))

	srv := &http.Server{Addr: ":" + cfg.Port, Handler: mux, ReadHeaderTimeout: 5 * time.Second}
	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		_ = srv.Shutdown(shutdownCtx)
	}()

	logger.Info("listening", logging.Fields{Step: "startup", Status: cfg.Port})
	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		log.Fatalf("http server error: %v", err)
	}
}

func decodeQuantity(w http.ResponseWriter, r *http.Request) (quantityRequest, bool) {
	var req quantityRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		httpapi.Fail(w, http.StatusBadRequest, "invalid json", errs.CodeValidationFailure)
		return req, false
	}
	if req.Quantity <= 0 {
		httpapi.Fail(w, http.StatusBadRequest, "quantity must be positive", errs.CodeValidationFailure)
		return req, false
	}
	return req, true
}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(code int) {
	r.status = code
	r.ResponseWriter.WriteHeader(code)
}

func instrument(m *metrics.ServerMetrics, handler string, next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		next(rec, r)
		m.Observe(handler, strconv.Itoa(rec.status), float64(time.Since(start).Milliseconds()))
	}
}
