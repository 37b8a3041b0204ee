package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	_ "medledger/api/swagger" // swagger docs
	"medledger/internal/config"
	"medledger/internal/database"
	"medledger/internal/events"
	"medledger/internal/handler"
	"medledger/internal/logging"
	"medledger/internal/metrics"
	"medledger/internal/middleware"
	"medledger/internal/repository"
	"medledger/internal/service"
	"medledger/internal/tracing"
	"medledger/internal/websocket"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/sony/gobreaker"
	swaggerFiles "github.com/swaggo/files"
	ginSwagger "github.com/swaggo/gin-swagger"
)

const serviceName = "pharmacy-ledger"

// @title           Pharmacy Ledger API
// @version         1.0
// @description     Transactional inventory ledger for a pharmacy: catalog, billing, returns and reports.
// @host            localhost:8080
// @BasePath        /
// @securityDefinitions.apikey BearerAuth
// @in header
// @name Authorization
func main() {
	cfg := config.Load()

	logger := logging.New(logging.Config{
		Level:       cfg.LogLevel,
		ServiceName: serviceName,
		Environment: cfg.Environment,
	})

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	tracer, err := tracing.Init(ctx, tracing.Config{
		ServiceName:  serviceName,
		Environment:  cfg.Environment,
		OTLPEndpoint: cfg.OTLPEndpoint,
	})
	if err != nil {
		logger.WithError(err).Warn("Tracing disabled")
		tracer = &tracing.Provider{}
	}

	db, err := database.NewConnection(cfg.DB, logger)
	if err != nil {
		logger.WithError(err).Error("Database connection failed")
		os.Exit(1)
	}
	if err := database.Migrate(db); err != nil {
		logger.WithError(err).Error("Database migration failed")
		os.Exit(1)
	}
	logger.Info("Connected to PostgreSQL successfully")

	m := metrics.New("pharmacy")
	middleware.InitAuth(cfg.JWTSecret)

	// Set up WebSocket Hub
	wsHub := websocket.NewHub(logger)
	go wsHub.Run(ctx)

	publishers := events.Fanout{wsHub}
	var kafkaPublisher *events.KafkaPublisher
	if len(cfg.KafkaBrokers) > 0 {
		kafkaPublisher = events.NewKafkaPublisher(cfg.KafkaBrokers, cfg.KafkaTopic, logger)
		publishers = append(publishers, kafkaPublisher)
		logger.Info("Publishing ledger events to Kafka", "brokers", cfg.KafkaBrokers, "topic", cfg.KafkaTopic)
	}

	breakerCfg := repository.DefaultBreakerConfig()
	breakerCfg.OnStateChange = func(name string, to gobreaker.State) {
		m.CircuitBreakerState.WithLabelValues(name).Set(float64(to))
	}
	txManager := repository.NewBreakerTransactionManager(
		repository.NewTransactionManager(db, cfg.Ledger.Isolation),
		breakerCfg,
		service.IsInfrastructureFailure,
		logger.WithComponent("breaker").Logger,
	)

	// Set up dependencies (Repository -> Service -> Handler)
	userRepo := repository.NewUserRepository(db)
	auditRepo := repository.NewAuditRepository(db)
	categoryRepo := repository.NewCategoryRepository(db)
	medicineRepo := repository.NewMedicineRepository(db)
	movementRepo := repository.NewStockMovementRepository(db)
	billRepo := repository.NewBillRepository(db)
	returnRepo := repository.NewReturnRepository(db)
	sequenceRepo := repository.NewSequenceRepository(db)
	reportRepo := repository.NewReportRepository(db)

	ledgerService := service.NewLedgerService(service.LedgerDeps{
		TxManager: txManager,
		Medicines: medicineRepo,
		Bills:     billRepo,
		Returns:   returnRepo,
		Sequences: sequenceRepo,
		Movements: movementRepo,
		Audits:    auditRepo,
		Publisher: publishers,
		Metrics:   m,
		Logger:    logger,
	}, service.LedgerOptions{
		BillPrefix: cfg.Ledger.BillPrefix,
		TxTimeout:  cfg.Ledger.TxTimeout,
		MaxRetries: cfg.Ledger.MaxRetries,
	})
	catalogService := service.NewCatalogService(service.CatalogDeps{
		TxManager:  txManager,
		Categories: categoryRepo,
		Medicines:  medicineRepo,
		Movements:  movementRepo,
		Audits:     auditRepo,
		Publisher:  publishers,
		Logger:     logger,
	})
	reportService := service.NewReportService(reportRepo, cfg.Ledger.LowStockThreshold, nil)
	userService := service.NewUserService(userRepo, auditRepo, cfg.JWTSecret, cfg.JWTTTL)
	auditService := service.NewAuditService(auditRepo)

	created, err := userService.BootstrapAdmin(ctx, cfg.AdminEmail, cfg.AdminPassword)
	if err != nil {
		logger.WithError(err).Error("Failed to bootstrap admin account")
	} else if created {
		logger.Info("Created initial admin account", "email", cfg.AdminEmail)
	}

	secureCookie := cfg.GinMode == gin.ReleaseMode

	// Initialize Handlers
	userHandler := handler.NewUserHandler(userService, secureCookie)
	billHandler := handler.NewBillHandler(ledgerService)
	medicineHandler := handler.NewMedicineHandler(catalogService)
	reportHandler := handler.NewReportHandler(reportService)
	auditHandler := handler.NewAuditHandler(auditService)

	gin.SetMode(cfg.GinMode)
	router := gin.New()
	router.Use(gin.Recovery(), middleware.RequestLogger(logger.WithComponent("http")), m.Middleware())

	// CORS configuration
	corsConfig := cors.DefaultConfig()
	corsConfig.AllowOrigins = cfg.CORSOrigins
	corsConfig.AllowCredentials = true
	corsConfig.AllowHeaders = []string{"Origin", "Content-Length", "Content-Type", "Authorization", "Accept", middleware.RequestIDHeader}
	corsConfig.ExposeHeaders = []string{middleware.RequestIDHeader, "Retry-After"}
	corsConfig.AllowMethods = []string{"GET", "POST", "PATCH", "OPTIONS"}
	router.Use(cors.New(corsConfig))

	// Swagger route
	router.GET("/swagger/*any", ginSwagger.WrapHandler(swaggerFiles.Handler))

	// Health check
	router.GET("/health", func(c *gin.Context) {
		sqlDB, err := db.DB()
		if err == nil {
			err = sqlDB.PingContext(c.Request.Context())
		}
		if err != nil {
			c.JSON(http.StatusServiceUnavailable, gin.H{"status": "DOWN", "database": err.Error()})
			return
		}
		c.JSON(http.StatusOK, gin.H{"status": "OK", "ws_clients": wsHub.ClientCount()})
	})
	router.GET("/metrics", gin.WrapH(m.Handler()))

	// WebSocket endpoint
	router.GET("/ws", func(c *gin.Context) {
		websocket.ServeWs(wsHub, c, middleware.GetJWTSecret())
	})

	// API Routing
	api := router.Group("")
	userHandler.RegisterRoutes(api)
	billHandler.RegisterRoutes(api)
	medicineHandler.RegisterRoutes(api)
	reportHandler.RegisterRoutes(api)
	auditHandler.RegisterRoutes(api)

	srv := &http.Server{
		Addr:              ":" + cfg.Port,
		Handler:           router,
		ReadHeaderTimeout: 10 * time.Second,
		WriteTimeout:      30 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	go func() {
		logger.Info("Server listening", "port", cfg.Port)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.WithError(err).Error("Server failed")
			stop()
		}
	}()

	<-ctx.Done()
	logger.Info("Shutting down server...")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.WithError(err).Error("Server forced to shutdown")
	}
	if kafkaPublisher != nil {
		if err := kafkaPublisher.Close(); err != nil {
			logger.WithError(err).Error("Failed to close Kafka writer")
		}
	}
	if err := tracer.Shutdown(shutdownCtx); err != nil {
		logger.WithError(err).Error("Failed to shutdown tracer")
	}
	if sqlDB, err := db.DB(); err == nil {
		_ = sqlDB.Close()
	}
	logger.Info("Server stopped")
}
