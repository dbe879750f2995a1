package main

import (
	"context"
	"encoding/json"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/premiobox/backend/internal/config"
	"github.com/premiobox/backend/internal/database"
	"github.com/premiobox/backend/internal/gateway"
	"github.com/premiobox/backend/internal/handlers"
	mW "github.com/premiobox/backend/internal/middleware"
	"github.com/premiobox/backend/internal/services"
	"github.com/spf13/viper"
	httpSwagger "github.com/swaggo/http-swagger"
)

// @title PremioBox Backend API
// @version 1.0
// @description API for PIX deposit reconciliation, prize-box wagers and affiliate commissions
// @host localhost:8080
// @BasePath /api/v1
// @schemes http https

func main() {
	// Initialize config
	viper.SetConfigFile(".env") // explicitly point to .env file
	viper.AutomaticEnv()        // allow environment variables to override .env
	viper.ReadInConfig()        // read .env file

	// Set environment variable prefix
	viper.SetEnvPrefix("")

	viper.BindEnv("database.host", "DATABASE_HOST")
	viper.BindEnv("database.port", "DATABASE_PORT")
	viper.BindEnv("database.user", "DATABASE_USER")
	viper.BindEnv("database.password", "DATABASE_PASSWORD")
	viper.BindEnv("database.name", "DATABASE_NAME")
	viper.BindEnv("database.ssl_mode", "DATABASE_SSL_MODE")

	viper.BindEnv("redis.host", "REDIS_HOST")
	viper.BindEnv("redis.port", "REDIS_PORT")
	viper.BindEnv("redis.password", "REDIS_PASSWORD")
	viper.BindEnv("redis.db", "REDIS_DB")

	viper.BindEnv("gateway.base_url", "GATEWAY_BASE_URL")
	viper.BindEnv("gateway.client_id", "GATEWAY_CLIENT_ID")
	viper.BindEnv("gateway.client_secret", "GATEWAY_CLIENT_SECRET")
	viper.BindEnv("gateway.webhook_secret", "GATEWAY_WEBHOOK_SECRET")
	viper.BindEnv("gateway.timeout", "GATEWAY_TIMEOUT")

	viper.BindEnv("jwt.secret_key", "JWT_SECRET_KEY")
	viper.BindEnv("jwt.expiry_hours", "JWT_EXPIRY_HOURS")
	viper.BindEnv("argon2.time", "ARGON2_TIME")
	viper.BindEnv("argon2.memory", "ARGON2_MEMORY")
	viper.BindEnv("argon2.threads", "ARGON2_THREADS")
	viper.BindEnv("argon2.key_length", "ARGON2_KEY_LENGTH")
	viper.BindEnv("argon2.salt_length", "ARGON2_SALT_LENGTH")

	if err := viper.ReadInConfig(); err != nil {
		log.Printf("Config file not found, using defaults: %v", err)
	}

	rules := config.LoadRulesConfig()

	// Initialize services
	db := database.InitDatabase()
	defer db.Close()

	redisClient := database.InitRedis()
	if redisClient != nil {
		defer redisClient.Close()
	}

	gatewayClient := gateway.NewClient()

	ledgerService := services.NewLedgerService(db)
	affiliateService := services.NewAffiliateService(db, ledgerService, rules)
	reconService := services.NewReconciliationService(db, ledgerService, affiliateService, rules)
	rolloverService := services.NewRolloverService(db, ledgerService)
	withdrawalService := services.NewWithdrawalService(db, ledgerService, rules)
	depositService := services.NewDepositService(db, gatewayClient, redisClient, rules)
	authService := services.NewAuthService(db, redisClient, affiliateService)
	settlementService := services.NewSettlementService(db)

	webhookHandler := handlers.NewWebhookHandler(db, redisClient, reconService)
	accountHandler := handlers.NewAccountHandler(db, ledgerService)

	// Initialize auth middleware with Redis
	mW.InitAuthMiddleware(redisClient)

	// Background expiry sweep for stale deposit intents
	sweepCtx, stopSweep := context.WithCancel(context.Background())
	defer stopSweep()
	go reconService.RunExpirySweep(sweepCtx)

	// Setup router
	r := chi.NewRouter()

	// Middleware
	r.Use(mW.SecurityHeaders)
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)
	r.Use(middleware.RealIP)
	r.Use(middleware.Timeout(60 * time.Second))

	// CORS
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   []string{"https://*", "http://*"},
		AllowedMethods:   []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type", "Access-Control-Allow-Origin"},
		ExposedHeaders:   []string{"Link"},
		AllowCredentials: true,
		MaxAge:           86400,
	}))

	// Health check
	r.Get("/health", func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(map[string]string{"status": "healthy"})
	})

	// Swagger documentation
	r.Get("/swagger/*", httpSwagger.Handler(
		httpSwagger.URL("http://localhost:8080/swagger/doc.json"),
	))

	// Gateway webhook, authenticated by HMAC signature rather than JWT
	r.Post("/webhook/pix", webhookHandler.HandlePixWebhook)

	// API routes
	r.Route("/api/v1", func(r chi.Router) {
		// Public endpoints (no auth required)
		r.Post("/auth/register", authService.Register)
		r.Post("/auth/login", authService.Login)
		r.Post("/auth/logout", authService.Logout)

		// Protected endpoints (auth required)
		r.Group(func(r chi.Router) {
			r.Use(mW.AuthMiddleware)

			r.Get("/auth/account", authService.GetUserAccount)

			r.Get("/account", accountHandler.GetAccount)
			r.Get("/account/ledger", accountHandler.GetLedgerHistory)

			r.Post("/deposits", depositService.CreateDeposit)
			r.Get("/deposits/{identifier}", depositService.GetDeposit)

			r.Post("/wagers", rolloverService.PlaceWager)

			r.Post("/withdrawals", withdrawalService.RequestWithdrawal)
			r.Get("/withdrawals", withdrawalService.ListWithdrawals)

			r.Get("/affiliates/referrals", affiliateService.ListReferrals)

			// Operational endpoints
			r.Post("/admin/settlements/export", settlementService.ExportSettlementBatch)
			r.Get("/admin/accounts/{userId}/verify", accountHandler.VerifyBalance)
		})
	})

	port := os.Getenv("PORT")
	if port == "" {
		port = "8080"
	}

	// Start server
	server := &http.Server{
		Addr:         ":" + port,
		Handler:      r,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	// Graceful shutdown
	go func() {
		log.Printf("Server starting on :%s", port)
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("Server failed: %v", err)
		}
	}()

	// Wait for interrupt signal
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Println("Server shutting down...")
	stopSweep()
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := server.Shutdown(ctx); err != nil {
		log.Fatal("Server forced to shutdown:", err)
	}

	log.Println("Server stopped")
}
