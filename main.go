package main

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/coreybb/hermes/api"
	"github.com/coreybb/hermes/catalog"
	"github.com/coreybb/hermes/datastore"
	"github.com/coreybb/hermes/delivery"
	"github.com/coreybb/hermes/fulfillment"
	"github.com/coreybb/hermes/metrics"
	rh "github.com/coreybb/hermes/route-handlers"
	"github.com/coreybb/hermes/tokenlink"
	"github.com/coreybb/hermes/webhooks"
	_ "github.com/lib/pq"
	"github.com/stripe/stripe-go/v81"
)

const (
	defaultPort         = "8080"
	defaultBaseURL      = "http://localhost:8080"
	defaultTokenSecret  = "change-this-secret"
	defaultProductsPath = "products.yaml"
	defaultFromEmail    = "deliver@lakonic.dev"
	defaultFromName     = "Hermes"
	dbPingTimeout       = 5 * time.Second
	shutdownTimeout     = 15 * time.Second
	dbMaxOpenConns      = 25
	dbMaxIdleConns      = 25
	dbConnMaxLifetime   = 5 * time.Minute
)

type config struct {
	port                string
	baseURL             string
	tokenSecret         string
	productsPath        string
	databaseURL         string
	stripeAPIKey        string
	stripeWebhookSecret string
	sendGridAPIKey      string
	sendGridFromEmail   string
	sendGridFromName    string
	discordCustomerURL  string
	discordAdminURL     string
}

func main() {
	cfg := loadConfig()

	metrics.Register()
	stripe.Key = cfg.stripeAPIKey

	products, err := catalog.Load(cfg.productsPath)
	if err != nil {
		log.Fatalf("Products config load failed: %v", err)
	}
	log.Printf("Loaded %d configured products from %s", products.Len(), cfg.productsPath)

	codec := tokenlink.NewCodec(cfg.tokenSecret)

	registry, cleanup, err := setupRegistry(cfg.databaseURL)
	if err != nil {
		log.Fatalf("Event registry setup failed: %v", err)
	}
	defer cleanup()

	dispatcher, alerter := setupChannels(cfg)

	orchestrator := fulfillment.NewOrchestrator(registry, products, codec, dispatcher, alerter, cfg.baseURL)

	webhookHandler := webhooks.NewStripeWebhookHandler(
		webhooks.NewStripeEventParser(cfg.stripeWebhookSecret),
		webhooks.NewCheckoutSessionExpander(),
		orchestrator,
	)
	downloadHandler := rh.NewDownloadHandler(codec)

	router := api.SetupRoutes(webhookHandler, downloadHandler)

	startServer(cfg.port, router)
}

func loadConfig() config {
	cfg := config{
		port:                envOrDefault("PORT", defaultPort),
		baseURL:             envOrDefault("APP_BASE_URL", defaultBaseURL),
		tokenSecret:         os.Getenv("DOWNLOAD_TOKEN_SECRET"),
		productsPath:        envOrDefault("PRODUCTS_CONFIG_PATH", defaultProductsPath),
		databaseURL:         os.Getenv("DB_CONNECTION_STRING"),
		stripeAPIKey:        os.Getenv("STRIPE_API_KEY"),
		stripeWebhookSecret: os.Getenv("STRIPE_WEBHOOK_SECRET"),
		sendGridAPIKey:      os.Getenv("SENDGRID_API_KEY"),
		sendGridFromEmail:   envOrDefault("SENDGRID_FROM_EMAIL", defaultFromEmail),
		sendGridFromName:    envOrDefault("SENDGRID_FROM_NAME", defaultFromName),
		discordCustomerURL:  os.Getenv("DISCORD_WEBHOOK_CUSTOMER"),
		discordAdminURL:     os.Getenv("DISCORD_WEBHOOK_ADMIN"),
	}

	if cfg.tokenSecret == "" {
		cfg.tokenSecret = defaultTokenSecret
		log.Println("WARNING: DOWNLOAD_TOKEN_SECRET not set, using an insecure default.")
	}
	if cfg.stripeWebhookSecret == "" {
		log.Println("WARNING: STRIPE_WEBHOOK_SECRET not set. Webhook deliveries will be rejected.")
	}
	if cfg.stripeAPIKey == "" {
		log.Println("WARNING: STRIPE_API_KEY not set. Line-item expansion will fail at runtime.")
	}
	if cfg.sendGridAPIKey == "" {
		log.Println("WARNING: SENDGRID_API_KEY not set. Email delivery will fail at runtime.")
	}
	return cfg
}

func envOrDefault(key, fallback string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return fallback
}

// setupRegistry picks the durable Postgres registry when a database is
// configured, falling back to the process-local one for single-instance
// setups.
func setupRegistry(databaseURL string) (fulfillment.EventRegistry, func(), error) {
	if databaseURL == "" {
		log.Println("WARNING: DB_CONNECTION_STRING not set, event idempotency is process-local only.")
		return fulfillment.NewMemoryRegistry(), func() {}, nil
	}

	db, err := setupDatabase(databaseURL)
	if err != nil {
		return nil, nil, err
	}

	repo := datastore.NewProcessedEventRepository(db)
	ctx, cancel := context.WithTimeout(context.Background(), dbPingTimeout)
	defer cancel()
	if err := repo.EnsureSchema(ctx); err != nil {
		db.Close()
		return nil, nil, err
	}
	return repo, func() { db.Close() }, nil
}

func setupDatabase(connStr string) (*sql.DB, error) {
	db, err := sql.Open("postgres", connStr)
	if err != nil {
		return nil, fmt.Errorf("failed to open database connection: %w", err)
	}

	db.SetMaxOpenConns(dbMaxOpenConns)
	db.SetMaxIdleConns(dbMaxIdleConns)
	db.SetConnMaxLifetime(dbConnMaxLifetime)

	ctx, cancel := context.WithTimeout(context.Background(), dbPingTimeout)
	defer cancel()

	if err = db.PingContext(ctx); err != nil {
		db.Close() // Close unusable connection pool
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	log.Println("Database connection successful")
	return db, nil
}

func setupChannels(cfg config) (*delivery.Dispatcher, fulfillment.AdminAlerter) {
	var channels []delivery.NotificationChannel

	if cfg.sendGridAPIKey != "" {
		channels = append(channels, delivery.NewEmailChannel(cfg.sendGridAPIKey, cfg.sendGridFromEmail, cfg.sendGridFromName))
	}
	if cfg.discordCustomerURL != "" {
		channels = append(channels, delivery.NewDiscordChannel(cfg.discordCustomerURL))
	}
	if len(channels) == 0 {
		log.Println("WARNING: No notification channels configured. Fulfillment dispatch will fail.")
	}

	var alerter fulfillment.AdminAlerter
	if cfg.discordAdminURL != "" {
		alerter = delivery.NewDiscordChannel(cfg.discordAdminURL)
	}

	return delivery.NewDispatcher(channels...), alerter
}

func startServer(port string, router http.Handler) {
	server := &http.Server{
		Addr:    ":" + port,
		Handler: router,
	}

	shutdownSignal := make(chan os.Signal, 1)
	signal.Notify(shutdownSignal, os.Interrupt, syscall.SIGINT, syscall.SIGTERM)

	go func() {
		log.Printf("Server starting on port %s", port)
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatalf("Server error: %v", err)
		}
	}()

	<-shutdownSignal // Block until signal received
	log.Println("Shutdown signal received, initiating graceful shutdown...")

	shutdownCtx, cancelShutdown := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancelShutdown()

	if err := server.Shutdown(shutdownCtx); err != nil {
		log.Printf("Graceful shutdown failed: %v", err)
	}

	log.Println("Server gracefully stopped")
}
