package main

import (
	"context"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/go-redis/redis/v8"
	"github.com/joho/godotenv"

	"github.com/rezapp/backend/internal/config"
	"github.com/rezapp/backend/internal/database"
	"github.com/rezapp/backend/internal/gateway"
	"github.com/rezapp/backend/internal/handlers"
	"github.com/rezapp/backend/internal/jobs"
	"github.com/rezapp/backend/internal/lock"
	"github.com/rezapp/backend/internal/middleware"
	"github.com/rezapp/backend/internal/routes"
	"github.com/rezapp/backend/internal/security"
	"github.com/rezapp/backend/internal/services/audit"
	"github.com/rezapp/backend/internal/services/promo"
	"github.com/rezapp/backend/internal/services/subscription"
	"github.com/rezapp/backend/internal/services/tierconfig"
)

func main() {
	// Load environment variables
	if err := godotenv.Load(); err != nil {
		log.Println("No .env file found, using environment variables")
	}

	// Initialize configuration
	cfg := config.LoadConfig()

	// Initialize database
	db, err := database.InitDB(cfg.Database)
	if err != nil {
		log.Fatalf("Failed to initialize database: %v", err)
	}

	// Initialize Redis client
	redisClient := redis.NewClient(&redis.Options{
		Addr:     cfg.Redis.URL,
		Password: cfg.Redis.Password,
		DB:       cfg.Redis.DB,
	})

	// Test Redis connection
	ctx := context.Background()
	if _, err := redisClient.Ping(ctx).Result(); err != nil {
		log.Fatalf("Failed to connect to Redis: %v", err)
	}

	// Security alert recorder
	alerts := security.NewAlertRecorder(1000)
	alerts.Start()

	// Audit logger, buffered so request paths never block on it
	auditLogger := audit.NewLogger(audit.NewGormSink(db), 1024)
	auditLogger.Start()

	// Billing gateway client; the noop gateway keeps local development
	// off the wire
	var gw gateway.Gateway
	if cfg.Environment == "development" && cfg.Gateway.KeySecret == "" {
		log.Println("No gateway credentials configured, using noop gateway")
		gw = gateway.Noop{}
	} else {
		gw = gateway.NewClient(cfg.Gateway.BaseURL, cfg.Gateway.KeyID, cfg.Gateway.KeySecret)
	}

	// Initialize services
	tierService := tierconfig.NewService(tierconfig.NewGormStore(db), redisClient)
	promoService := promo.NewService(db)
	subStore := subscription.NewGormStore(db)
	upgradeStore := subscription.NewGormUpgradeStore(db)
	subService := subscription.NewService(subStore, upgradeStore, tierService, promoService, auditLogger, gw)
	benefitsReader := subscription.NewBenefitsReader(subStore)
	eventLedger := subscription.NewGormEventLedger(db)
	processor := subscription.NewProcessor(subStore, auditLogger)

	// Webhook perimeter
	allowlist, err := middleware.NewIPAllowlist(cfg.Webhook.AllowedCIDRs, alerts)
	if err != nil {
		log.Fatalf("Invalid webhook allowlist: %v", err)
	}
	rateLimiter := middleware.NewRateLimiter(cfg.Webhook.RateLimitPerMinute)

	// Initialize handlers
	webhookHandler := handlers.NewWebhookHandler(cfg.Webhook.Secret, eventLedger, processor, alerts)
	subscriptionHandler := handlers.NewSubscriptionHandler(subService, benefitsReader, tierService, promoService)
	alertsHandler := handlers.NewAlertsHandler(alerts)

	// Initialize Gin router
	if cfg.Environment == "production" {
		gin.SetMode(gin.ReleaseMode)
	}
	router := gin.Default()

	corsConfig := cors.DefaultConfig()
	corsConfig.AllowOrigins = []string{cfg.FrontendURL}
	corsConfig.AllowHeaders = append(corsConfig.AllowHeaders, "Authorization", "X-User-ID")
	router.Use(cors.New(corsConfig))

	// Setup routes
	routes.RegisterHealthRoutes(router)
	routes.RegisterWebhookRoutes(router, webhookHandler, allowlist, rateLimiter)
	routes.RegisterSubscriptionRoutes(router, subscriptionHandler)
	routes.RegisterSecurityRoutes(router, alertsHandler)

	// Background jobs, each run guarded by a Redis lock
	locks := lock.NewManager(redisClient)
	scheduler, err := jobs.NewScheduler(cfg.Jobs,
		jobs.NewExpiryJob(subStore, auditLogger, locks),
		jobs.NewDowngradeJob(subStore, tierService, auditLogger, locks),
		jobs.NewUpgradeCleanupJob(upgradeStore, eventLedger, auditLogger, locks),
	)
	if err != nil {
		log.Fatalf("Failed to schedule jobs: %v", err)
	}
	scheduler.Start()

	// Start server
	srv := startServer(router, cfg.Server.Port)

	// Wait for interrupt signal to gracefully shut down the server
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit
	log.Println("Shutting down server...")

	scheduler.Stop()
	rateLimiter.Stop()

	// Create a deadline to wait for
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	// Shutdown server
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Fatalf("Server forced to shutdown: %v", err)
	}

	// Flush buffered audit entries and alert counters last
	auditLogger.Stop()
	if dropped := auditLogger.Dropped(); dropped > 0 {
		log.Printf("Audit buffer dropped %d entries during this run", dropped)
	}
	alerts.Stop()

	log.Println("Server exiting")
}

// startServer starts the HTTP server
func startServer(router *gin.Engine, port string) *http.Server {
	srv := &http.Server{
		Addr:    ":" + port,
		Handler: router,
	}

	// Start server in a goroutine
	go func() {
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("Failed to start server: %v", err)
		}
	}()

	log.Printf("Server started on port %s", port)
	return srv
}
