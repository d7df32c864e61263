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

	"github.com/nazeru/shop-lab-go/internal/catalog"
	"github.com/nazeru/shop-lab-go/internal/order"
	"github.com/nazeru/shop-lab-go/pkg/errs"
	"github.com/nazeru/shop-lab-go/pkg/eventbus"
	"github.com/nazeru/shop-lab-go/pkg/events"
	"github.com/nazeru/shop-lab-go/pkg/httpapi"
	"github.com/nazeru/shop-lab-go/pkg/logging"
	"github.com/nazeru/shop-lab-go/pkg/metrics"
	"github.com/nazeru/shop-lab-go/pkg/outbox"
)

type config struct {
	Port           string        `env:"PORT" envDefault:"8080"`
	DatabaseURL    string        `env:"DATABASE_URL,required"`
	KafkaBrokers   string        `env:"KAFKA_BROKERS"`
	ConsumerGroup  string        `env:"CONSUMER_GROUP" envDefault:"order-service"`
	CatalogBaseURL string        `env:"CATALOG_BASE_URL" envDefault:"http://localhost:8081"`
	CatalogTimeout time.Duration `env:"CATALOG_TIMEOUT" envDefault:"2500ms"`
	OutboxInterval time.Duration `env:"OUTBOX_INTERVAL" envDefault:"500ms"`
}

type createOrderRequest struct {
	UserID          string          `json:"userId"`
	Items           []requestedItem `json:"items"`
	ShippingAddress order.Address   `json:"shippingAddress"`
}

type requestedItem struct {
	ItemID   string `json:"itemId"`
	Quantity int    `json:"quantity"`
}

type updateOrderRequest struct {
	ShippingAddress map[string]string `json:"shippingAddress"`
	PaymentInfo     map[string]string `json:"paymentInfo"`
}

func main() {
	var cfg config
	if err := env.Parse(&cfg); err != nil {
		log.Fatalf("config error: %v", err)
	}

	logger, err := logging.New("order-service")
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

	lookup := catalog.NewClient(cfg.CatalogBaseURL, cfg.CatalogTimeout)
	svc := order.NewService(order.NewPgStore(pool), lookup, logger)

	bus := eventbus.NewClient(cfg.KafkaBrokers)
	if bus.Enabled() {
		pub := eventbus.NewPublisher(bus)
		defer pub.Close()

		dispatcher := &outbox.Dispatcher{Queue: outbox.NewPgQueue(pool), Sender: pub, Log: logger, Interval: cfg.OutboxInterval}
		go dispatcher.Run(ctx)

		consumer := order.NewPaymentConsumer(svc, order.NewPgInbox(pool), logger)
		go eventbus.Consume(ctx, bus, events.TopicPaymentSuccess, cfg.ConsumerGroup, logger, consumer.HandleCompleted)
		go eventbus.Consume(ctx, bus, events.TopicPaymentFailed, cfg.ConsumerGroup, logger, consumer.HandleFailed)
	} else {
		logger.Warn("event bus disabled, orders will not react to payments", logging.Fields{})
	}

	srvMetrics := metrics.NewServerMetrics("order_service")

	mux := http.NewServeMux()
	mux.HandleFunc("GET /health", func(w http.ResponseWriter, r *http.Request) {
		if err := pool.Ping(r.Context()); err != nil {
			httpapi.WriteJSON(w, http.StatusServiceUnavailable, map[string]any{"status": "db_error"})
			return
		}
		httpapi.WriteJSON(w, http.StatusOK, map[string]any{"status": "ok"})
	})
	mux.Handle("GET /metrics", metrics.Handler())

	mux.HandleFunc("POST /api/orders", instrument(srvMetrics, "create_order", func(w http.ResponseWriter, r *http.Request) {
		var req createOrderRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			httpapi.Fail(w, http.StatusBadRequest, "invalid json", errs.CodeValidationFailure)
			return
		}
		items := make([]order.RequestedItem, 0, len(req.Items))
		for _, it := range req.Items {
			items = append(items, order.RequestedItem{ItemID: it.ItemID, Quantity: it.Quantity})
		}
		o, err := svc.Create(r.Context(), order.CreateRequest{
			UserID:          req.UserID,
			Items:           items,
			ShippingAddress: req.ShippingAddress,
		})
		if err != nil {
			httpapi.Error(w, err)
			return
		}
		httpapi.OK(w, "Order created successfully", o)
	}))

	mux.HandleFunc("GET /api/orders/{orderId}", instrument(srvMetrics, "get_order", func(w http.ResponseWriter, r *http.Request) {
		o, err := svc.Get(r.Context(), r.PathValue("orderId"))
		if err != nil {
			httpapi.Error(w, err)
			return
		}
		httpapi.OK(w, "Order retrieved", o)
	}))

	mux.HandleFunc("PUT /api/orders/{orderId}", instrument(srvMetrics, "update_order", func(w http.ResponseWriter, r *http.Request) {
		var req updateOrderRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			httpapi.Fail(w, http.StatusBadRequest, "invalid json", errs.CodeValidationFailure)
			return
		}
		o, err := svc.Update(r.Context(), r.PathValue("orderId"), order.UpdateRequest{
			ShippingAddress: req.ShippingAddress,
			PaymentInfo:     req.PaymentInfo,
		})
		if err != nil {
			httpapi.Error(w, err)
			return
		}
		httpapi.OK(w, "Order details updated", o)
	}))

	mux.HandleFunc("POST /api/orders/{orderId}/cancel", instrument(srvMetrics, "cancel_order", func(w http.ResponseWriter, r *http.Request) {
		o, err := svc.Cancel(r.Context(), r.PathValue("orderId"))
		if err != nil {
			httpapi.Error(w, err)
			return
		}
		httpapi.OK(w, "Order canceled", o)
	}))

	mux.HandleFunc("POST /api/orders/{orderId}/status/{status}", instrument(srvMetrics, "transition_order", func(w http.ResponseWriter, r *http.Request) {
		target, err := order.ParseStatus(r.PathValue("status"))
		if err != nil {
			httpapi.Error(w, err)
			return
		}
		o, err := svc.TransitionStatus(r.Context(), r.PathValue("orderId"), target)
		if err != nil {
			httpapi.Error(w, err)
			return
		}
		httpapi.OK(w, "Order status updated", o)
	}))

	mux.HandleFunc("GET /api/orders/user/{userId}", instrument(srvMetrics, "list_orders_by_user", func(w http.ResponseWriter, r *http.Request) {
		entries, err := svc.ListByUser(r.Context(), r.PathValue("userId"))
		if err != nil {
			httpapi.Error(w, err)
			return
		}
		httpapi.OK(w, "Orders retrieved", entries)
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
