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
	"github.com/shopspring/decimal"

	"github.com/nazeru/shop-lab-go/internal/payment"
	"github.com/nazeru/shop-lab-go/pkg/errs"
	"github.com/nazeru/shop-lab-go/pkg/eventbus"
	"github.com/nazeru/shop-lab-go/pkg/httpapi"
	"github.com/nazeru/shop-lab-go/pkg/idempotency"
	"github.com/nazeru/shop-lab-go/pkg/logging"
	"github.com/nazeru/shop-lab-go/pkg/metrics"
	"github.com/nazeru/shop-lab-go/pkg/outbox"
)

type config struct {
	Port           string        `env:"PORT" envDefault:"8082"`
	DatabaseURL    string        `env:"DATABASE_URL,required"`
	KafkaBrokers   string        `env:"KAFKA_BROKERS"`
	GatewayLatency time.Duration `env:"GATEWAY_LATENCY" envDefault:"1s"`
	OutboxInterval time.Duration `env:"OUTBOX_INTERVAL" envDefault:"500ms"`
}

type createPaymentRequest struct {
	OrderID  string          `json:"orderId"`
	UserID   string          `json:"userId"`
	Amount   decimal.Decimal `json:"amount"`
	Method   string          `json:"paymentMethod"`
	Currency string          `json:"currency"`
}

type processPaymentRequest struct {
	TransactionID string `json:"transactionId"`
}

type refundPaymentRequest struct {
	Amount decimal.Decimal `json:"amount"`
}

func main() {
	var cfg config
	if err := env.Parse(&cfg); err != nil {
		log.Fatalf("config error: %v", err)
	}

	logger, err := logging.New("payment-service")
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

	gw := &payment.SimulatedGateway{Latency: cfg.GatewayLatency}
	ledger := payment.NewLedger(payment.NewPgStore(pool), gw, logger)

	bus := eventbus.NewClient(cfg.KafkaBrokers)
	if bus.Enabled() {
		pub := eventbus.NewPublisher(bus)
		defer pub.Close()

		dispatcher := &outbox.Dispatcher{Queue: outbox.NewPgQueue(pool), Sender: pub, Log: logger, Interval: cfg.OutboxInterval}
		go dispatcher.Run(ctx)
	} else {
		logger.Warn("event bus disabled, payment events will stay in the outbox", logging.Fields{})
	}

	srvMetrics := metrics.NewServerMetrics("payment_service")

	mux := http.NewServeMux()
	mux.HandleFunc("GET /health", func(w http.ResponseWriter, r *http.Request) {
		if err := pool.Ping(r.Context()); err != nil {
			httpapi.WriteJSON(w, http.StatusServiceUnavailable, map[string]any{"status": "db_error"})
			return
		}
		httpapi.WriteJSON(w, http.StatusOK, map[string]any{"status": "ok"})
	})
	mux.Handle("GET /metrics", metrics.Handler())

	mux.HandleFunc("POST /api/payments", instrument(srvMetrics, "create_payment", func(w http.ResponseWriter, r *http.Request) {
		var req createPaymentRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			httpapi.Fail(w, http.StatusBadRequest, "invalid json", errs.CodeValidationFailure)
			return
		}
		method, err := payment.ParseMethod(req.Method)
		if err != nil {
			httpapi.Error(w, err)
			return
		}
		p, err := ledger.Create(r.Context(), payment.CreateRequest{
			OrderID:        req.OrderID,
			UserID:         req.UserID,
			Amount:         req.Amount,
			Method:         method,
			Currency:       req.Currency,
			IdempotencyKey: idempotency.Key(r),
		})
		if err != nil {
			httpapi.Error(w, err)
			return
		}
		httpapi.OK(w, "Payment created", p)
	}))

	mux.HandleFunc("GET /api/payments/{paymentId}", instrument(srvMetrics, "get_payment", func(w http.ResponseWriter, r *http.Request) {
		p, err := ledger.Get(r.Context(), r.PathValue("paymentId"))
		if err != nil {
			httpapi.Error(w, err)
			return
		}
		httpapi.OK(w, "Payment retrieved", p)
	}))

	mux.HandleFunc("POST /api/payments/{paymentId}/process", instrument(srvMetrics, "process_payment", func(w http.ResponseWriter, r *http.Request) {
		var req processPaymentRequest
		if r.Body != nil && r.ContentLength != 0 {
			if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
				httpapi.Fail(w, http.StatusBadRequest, "invalid json", errs.CodeValidationFailure)
				return
			}
		}
		p, err := ledger.Process(r.Context(), r.PathValue("paymentId"), req.TransactionID)
		if err != nil {
			httpapi.Error(w, err)
			return
		}
		httpapi.OK(w, "Payment processed", p)
	}))

	mux.HandleFunc("POST /api/payments/{paymentId}/cancel", instrument(srvMetrics, "cancel_payment", func(w http.ResponseWriter, r *http.Request) {
		p, err := ledger.Cancel(r.Context(), r.PathValue("paymentId"))
		if err != nil {
			httpapi.Error(w, err)
			return
		}
		httpapi.OK(w, "Payment canceled", p)
	}))

	mux.HandleFunc("POST /api/payments/{paymentId}/refund", instrument(srvMetrics, "refund_payment", func(w http.ResponseWriter, r *http.Request) {
		var req refundPaymentRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			httpapi.Fail(w, http.StatusBadRequest, "invalid json", errs.CodeValidationFailure)
			return
		}
		p, err := ledger.Refund(r.Context(), r.PathValue("paymentId"), req.Amount)
		if err != nil {
			httpapi.Error(w, err)
			return
		}
		httpapi.OK(w, "Payment refunded", p)
	}))

	mux.HandleFunc("GET /api/payments/{paymentId}/validate", instrument(srvMetrics, "validate_payment", func(w http.ResponseWriter, r *http.Request) {
		valid, err := ledger.Validate(r.Context(), r.PathValue("paymentId"))
		if err != nil {
			httpapi.Error(w, err)
			return
		}
		httpapi.OK(w, "Payment validated", map[string]bool{"valid": valid})
	}))

	mux.HandleFunc("GET /api/payments/user/{userId}", instrument(srvMetrics, "list_payments_by_user", func(w http.ResponseWriter, r *http.Request) {
		ps, err := ledger.ListByUser(r.Context(), r.PathValue("userId"))
		if err != nil {
			httpapi.Error(w, err)
			return
		}
		httpapi.OK(w, "Payments retrieved", ps)
	}))

	mux.HandleFunc("GET /api/payments/order/{orderId}", instrument(srvMetrics, "list_payments_by_order", func(w http.ResponseWriter, r *http.Request) {
		ps, err := ledger.ListByOrder(r.Context(), r.PathValue("orderId"))
		if err != nil {
			httpapi.Error(w, err)
			return
		}
		httpapi.OK(w, "Payments retrieved", ps)
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
