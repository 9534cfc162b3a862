package main

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"syscall"
	"time"

	"github.com/jcmexdev/marketplace/internal/catalog"
	"github.com/jcmexdev/marketplace/internal/core/ports"
	"github.com/jcmexdev/marketplace/internal/events"
	"github.com/jcmexdev/marketplace/internal/infra/httpx"
	"github.com/jcmexdev/marketplace/internal/order"
	"github.com/jcmexdev/marketplace/internal/payment"
	"github.com/jcmexdev/marketplace/internal/payment/gateway"
	"github.com/jcmexdev/marketplace/internal/pkg/cache"
	"github.com/jcmexdev/marketplace/internal/pkg/metrics"
	"github.com/jcmexdev/marketplace/internal/pkg/telemetry"
	"github.com/jcmexdev/marketplace/internal/storage/sqlite"
	"github.com/jcmexdev/marketplace/internal/webhook"
)

type cfg struct {
	Port             string
	SQLitePath       string
	RedisAddr        string
	KafkaBrokers     string
	GatewayBaseURL   string
	GatewaySecretKey string
	WebhookSecret    string
	Currency         string
	GatewayTimeout   time.Duration
	CatalogCacheTTL  time.Duration
}

func readCfg() (cfg, error) {
	secret := strings.TrimSpace(os.Getenv("GATEWAY_SECRET_KEY"))
	if secret == "" {
		return cfg{}, errors.New("GATEWAY_SECRET_KEY is required")
	}
	webhookSecret := strings.TrimSpace(os.Getenv("WEBHOOK_SECRET"))
	if webhookSecret == "" {
		return cfg{}, errors.New("WEBHOOK_SECRET is required")
	}

	timeoutMS, _ := strconv.Atoi(getEnv("GATEWAY_TIMEOUT_MS", "15000"))
	cacheTTLMS, _ := strconv.Atoi(getEnv("CATALOG_CACHE_TTL_MS", "30000"))

	return cfg{
		Port:             getEnv("PORT", "8080"),
		SQLitePath:       getEnv("SQLITE_PATH", "./data/marketplace.db"),
		RedisAddr:        os.Getenv("REDIS_ADDR"),
		KafkaBrokers:     os.Getenv("KAFKA_BROKERS"),
		GatewayBaseURL:   strings.TrimRight(getEnv("GATEWAY_BASE_URL", "https://api.flutterwave.com/v3"), "/"),
		GatewaySecretKey: secret,
		WebhookSecret:    webhookSecret,
		Currency:         getEnv("CURRENCY", "NGN"),
		GatewayTimeout:   time.Duration(timeoutMS) * time.Millisecond,
		CatalogCacheTTL:  time.Duration(cacheTTLMS) * time.Millisecond,
	}, nil
}

func main() {
	telemetry.InitLogger()

	conf, err := readCfg()
	if err != nil {
		slog.Error("config error", "error", err)
		os.Exit(1)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	shutdownTracer, err := telemetry.SetupTracer(ctx, "marketplace-orders")
	if err != nil {
		slog.Warn("tracing disabled", "error", err)
	} else {
		defer func() { _ = shutdownTracer(context.Background()) }()
	}

	store, err := sqlite.Open(conf.SQLitePath)
	if err != nil {
		slog.Error("open store", "error", err)
		os.Exit(1)
	}
	defer store.Close()

	var productCache cache.Cache
	if conf.RedisAddr != "" {
		productCache = cache.NewRedisCache(conf.RedisAddr, "marketplace")
	}
	cat := catalog.NewCachedRepository(store, productCache, conf.CatalogCacheTTL)

	var gw ports.PaymentGateway = gateway.NewClient(conf.GatewayBaseURL, conf.GatewaySecretKey, conf.GatewayTimeout)

	m := metrics.New()
	aggregator := order.NewAggregator(store, cat)
	coordinator := payment.NewCoordinator(store, cat, gw, conf.Currency, conf.GatewayTimeout)
	reconciler := webhook.NewReconciler(store, conf.WebhookSecret)

	kafkaClient := events.NewClient(conf.KafkaBrokers)
	if kafkaClient.Enabled() {
		writer := kafkaClient.NewWriter(events.TopicOrders)
		defer writer.Close()
		relay := events.NewRelay(store, writer, time.Second)
		go relay.Run(ctx)
		slog.Info("outbox relay started", "brokers", conf.KafkaBrokers)
	}

	handler := httpx.NewHandler(aggregator, coordinator, reconciler, m)
	router := httpx.NewRouter(handler, m)

	server := &http.Server{
		Addr:              ":" + conf.Port,
		Handler:           router,
		ReadHeaderTimeout: 5 * time.Second,
	}

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		_ = server.Shutdown(shutdownCtx)
	}()

	slog.Info("marketplace order service listening", "addr", server.Addr)
	if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		slog.Error("http server failed", "error", err)
		os.Exit(1)
	}
}

func getEnv(key, fallback string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return fallback
}
