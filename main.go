package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gorilla/mux"

	"botpay/api"
	"botpay/cache"
	"botpay/config"
	"botpay/db"
	"botpay/gateway"
	"botpay/middleware"
	"botpay/provisioning"
	"botpay/rates"
	"botpay/services"
	"botpay/stores"
	"botpay/workers"
)

const (
	colorReset  = "\033[0m"
	colorRed    = "\033[31m"
	colorGreen  = "\033[32m"
	colorYellow = "\033[33m"
	colorBlue   = "\033[34m"
	colorPurple = "\033[35m"
	colorCyan   = "\033[36m"
	colorBold   = "\033[1m"
)

func printBanner() {
	fmt.Printf("%s%s", colorCyan, colorBold)
	fmt.Println("╔══════════════════════════════════════════════════════════════╗")
	fmt.Println("║                                                              ║")
	fmt.Println("║  🤖 BotPay Payment Coordination Service                      ║")
	fmt.Println("║                                                              ║")
	fmt.Println("║  Bot rental purchases, webhooks and provisioning             ║")
	fmt.Println("║                                                              ║")
	fmt.Println("╚══════════════════════════════════════════════════════════════╝")
	fmt.Printf("%s", colorReset)
}

func printStep(step, message string) {
	fmt.Printf("%s[%s]%s %s%s%s\n", colorBlue, step, colorReset, colorBold, message, colorReset)
}

func printSuccess(message string) {
	fmt.Printf("%s✓%s %s\n", colorGreen, colorReset, message)
}

func printWarning(message string) {
	fmt.Printf("%s⚠%s %s\n", colorYellow, colorReset, message)
}

func printError(message string) {
	fmt.Printf("%s✗%s %s\n", colorRed, colorReset, message)
}

func printInfo(message string) {
	fmt.Printf("%sℹ%s %s\n", colorCyan, colorReset, message)
}

func buildGatewayClient(cfg *config.Config) gateway.Client {
	switch cfg.Gateway.Provider {
	case "stripe":
		return gateway.NewStripeClient(cfg.Gateway.Stripe.Secret, cfg.Gateway.ReturnURL, cfg.Gateway.CancelURL)
	case "xendit":
		return gateway.NewXenditClient(cfg.Gateway.Xendit.Secret, cfg.Gateway.ReturnURL, cfg.Gateway.CancelURL)
	default:
		return gateway.NewPayPalClient(
			cfg.Gateway.PayPal.BaseURL,
			cfg.Gateway.PayPal.ClientID,
			cfg.Gateway.PayPal.ClientSecret,
			cfg.Gateway.Timeout,
		)
	}
}

func main() {
	printBanner()
	fmt.Println()

	printStep("1/9", "Loading configuration...")
	cfg, err := config.LoadConfig()
	if err != nil {
		printError(fmt.Sprintf("Failed to load configuration: %v", err))
		os.Exit(1)
	}
	if err := cfg.Validate(); err != nil {
		printError(fmt.Sprintf("Configuration validation failed: %v", err))
		os.Exit(1)
	}
	printSuccess("Configuration loaded and validated")

	printStep("2/9", "Connecting to database...")
	gormDB, err := db.Connect(db.Options{
		DSN:          cfg.GetDatabaseURL(),
		MaxOpenConns: cfg.Database.MaxOpenConns,
		MaxIdleConns: cfg.Database.MaxIdleConns,
	})
	if err != nil {
		printError(fmt.Sprintf("Failed to connect to database: %v", err))
		os.Exit(1)
	}
	sqlDB, err := gormDB.DB()
	if err != nil {
		printError(fmt.Sprintf("Failed to get database instance: %v", err))
		os.Exit(1)
	}
	defer sqlDB.Close()
	printSuccess(fmt.Sprintf("Connected to PostgreSQL at %s:%d", cfg.Database.Host, cfg.Database.Port))

	printStep("3/9", "Running migrations...")
	if err := db.CreateMigrator(gormDB).Up(); err != nil {
		printError(fmt.Sprintf("Migrations failed: %v", err))
		os.Exit(1)
	}
	printSuccess("Schema is up to date")

	printStep("4/9", "Connecting to Redis...")
	var lastGood rates.LastGoodStore
	var redisCache *cache.RedisCache
	if cfg.Redis.Enabled {
		redisCache, err = cache.CreateRedisCache(cache.RedisConfig{
			Host:     cfg.Redis.Host,
			Port:     cfg.Redis.Port,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
		})
		if err != nil {
			printWarning(fmt.Sprintf("Failed to connect to Redis: %v (continuing without rate persistence)", err))
		} else {
			defer redisCache.Close()
			lastGood = rates.CreateRedisLastGoodStore(redisCache)
			printSuccess(fmt.Sprintf("Connected to Redis at %s:%d", cfg.Redis.Host, cfg.Redis.Port))
		}
	} else {
		printInfo("Redis disabled; last good rate lives in memory only")
	}

	printStep("5/9", "Initializing rate cache...")
	rateSource := rates.CreateOKXSource(cfg.Rates.FetchTimeout)
	rateCache := rates.CreateCache(rateSource, cfg.Rates.TTL, cfg.Rates.FetchTimeout, lastGood)
	printSuccess(fmt.Sprintf("Rate cache ready for %s (TTL %s)", cfg.Rates.Pair, cfg.Rates.TTL))

	printStep("6/9", "Initializing payment gateway...")
	gatewayClient := buildGatewayClient(cfg)
	printSuccess(fmt.Sprintf("Gateway ready: %s", gatewayClient.GetName()))

	printStep("7/9", "Initializing stores and services...")
	intentStore := stores.CreatePaymentIntentStore(gormDB)
	planStore := stores.CreatePlanStore(gormDB)
	webhookStore := stores.CreateWebhookEventStore(gormDB)
	taskStore := stores.CreateProvisionTaskStore(gormDB)

	entitlements := provisioning.NewHTTPEntitlementClient(
		cfg.Provisioning.BaseURL,
		cfg.Provisioning.APIKey,
		cfg.Provisioning.Timeout,
	)

	provisioningService := services.NewProvisioningService(intentStore, taskStore, entitlements, cfg.Provisioning.MaxAttempts)
	paymentService := services.NewPaymentService(
		intentStore, planStore, taskStore,
		rateCache, gatewayClient, provisioningService,
		cfg.Gateway.Currency, cfg.Rates.Pair,
		cfg.Payments.ExpiryWindow, cfg.Provisioning.MaxAttempts,
	)
	webhookService := services.NewWebhookService(intentStore, webhookStore, taskStore, provisioningService, cfg.Provisioning.MaxAttempts)
	reconciliationService := services.NewReconciliationService(intentStore, planStore)
	printSuccess("Stores and services initialized")

	printStep("8/9", "Starting provisioner worker...")
	provisioner := workers.NewProvisioner(provisioningService, intentStore, cfg.Provisioning.PollInterval, cfg.Provisioning.BatchSize)
	provisioner.Start()
	printSuccess(fmt.Sprintf("Provisioner polling every %s", cfg.Provisioning.PollInterval))

	printStep("9/9", "Setting up HTTP server...")
	paymentHandler := api.CreatePaymentHandler(paymentService)
	webhookHandler := api.CreateWebhookHandler(webhookService, cfg.Gateway.WebhookSecret)
	reconciliationHandler := api.CreateReconciliationHandler(reconciliationService)

	router := mux.NewRouter()
	router.Use(middleware.CorrelationMiddleware)
	router.Use(middleware.LoggingMiddleware)
	router.Use(middleware.CORSMiddleware)
	router.Use(middleware.RecoveryMiddleware)

	apiRouter := router.PathPrefix("/api/v1").Subrouter()
	apiRouter.Use(middleware.RateLimitMiddleware)
	apiRouter.HandleFunc("/health", api.HealthCheckHandler).Methods("GET")
	paymentHandler.RegisterRoutes(apiRouter)
	webhookHandler.RegisterRoutes(apiRouter)
	reconciliationHandler.RegisterRoutes(apiRouter)

	server := &http.Server{
		Addr:         ":" + cfg.Server.Port,
		Handler:      router,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
		IdleTimeout:  cfg.Server.IdleTimeout,
	}
	printSuccess("HTTP server configured")

	fmt.Println()
	fmt.Printf("%s%s🎉 BotPay is ready!%s\n", colorGreen, colorBold, colorReset)
	fmt.Println()
	fmt.Printf("%s%sAPI Endpoints:%s\n", colorPurple, colorBold, colorReset)
	fmt.Printf("  %s•%s Health:         %shttp://localhost:%s/api/v1/health%s\n", colorCyan, colorReset, colorYellow, cfg.Server.Port, colorReset)
	fmt.Printf("  %s•%s Purchases:      %shttp://localhost:%s/api/v1/purchases%s\n", colorCyan, colorReset, colorYellow, cfg.Server.Port, colorReset)
	fmt.Printf("  %s•%s Webhooks:       %shttp://localhost:%s/api/v1/webhooks/gateway%s\n", colorCyan, colorReset, colorYellow, cfg.Server.Port, colorReset)
	fmt.Printf("  %s•%s Reconciliation: %shttp://localhost:%s/api/v1/reconciliation%s\n", colorCyan, colorReset, colorYellow, cfg.Server.Port, colorReset)
	fmt.Println()
	fmt.Printf("%s%sEnvironment:%s %s%s%s\n", colorPurple, colorBold, colorReset, colorYellow, cfg.Environment, colorReset)
	fmt.Printf("%s%sGateway:%s %s%s%s\n", colorPurple, colorBold, colorReset, colorYellow, cfg.Gateway.Provider, colorReset)
	fmt.Printf("%s%sRate Pair:%s %s%s%s\n", colorPurple, colorBold, colorReset, colorYellow, cfg.Rates.Pair, colorReset)
	fmt.Println()
	fmt.Printf("%s%sPress Ctrl+C to stop the server%s\n", colorYellow, colorBold, colorReset)
	fmt.Println()

	go func() {
		printInfo(fmt.Sprintf("Starting HTTP server on port %s...", cfg.Server.Port))
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			printError(fmt.Sprintf("Server failed to start: %v", err))
			os.Exit(1)
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	fmt.Println()
	printWarning("Shutting down BotPay server...")

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := server.Shutdown(ctx); err != nil {
		printError(fmt.Sprintf("Server forced to shutdown: %v", err))
		os.Exit(1)
	}

	provisioner.Stop()

	printSuccess("BotPay server stopped gracefully")
}
