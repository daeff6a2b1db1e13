package app

import (
	"context"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/ethaccount/userop/src/account"
	"github.com/ethaccount/userop/src/gasfee"
	"github.com/ethaccount/userop/src/handler"
	"github.com/ethaccount/userop/src/repository"
	"github.com/ethaccount/userop/src/service"
	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/go-redis/redis/v8"
	swaggerFiles "github.com/swaggo/files"
	ginSwagger "github.com/swaggo/gin-swagger"

	"github.com/rs/zerolog"
	postgresDriver "gorm.io/driver/postgres"
	"gorm.io/gorm"
)

type Application struct {
	config               AppConfig
	database             *gorm.DB
	redis                *redis.Client
	Blockchain           *service.BlockchainService
	UserOperationService *service.UserOperationService
	PollingService       *service.ReceiptPollingService
}

func NewApplication(ctx context.Context, config AppConfig) *Application {
	logger := zerolog.Ctx(ctx).With().Str("function", "NewApplication").Logger()

	// Connect to Redis
	redisOpts, err := redis.ParseURL(*config.RedisAddr)
	if err != nil {
		logger.Error().Err(err).Msg("failed to parse redis URL")
		return nil
	}

	rdb := redis.NewClient(redisOpts)

	// Test Redis connection
	if err := rdb.Ping(ctx).Err(); err != nil {
		logger.Error().Err(err).Msg("connection to redis failed")
		return nil
	}
	logger.Info().Msg("Redis connection established")

	// Connect to database
	database, err := gorm.Open(postgresDriver.Open(*config.DSN), &gorm.Config{})
	if err != nil {
		logger.Error().Err(err).Msg("connection to database failed")
		return nil
	}

	// Test database connection
	db, err := database.DB()
	if err != nil {
		logger.Error().Err(err).Msg("failed to get underlying database connection")
		return nil
	}

	if err := db.Ping(); err != nil {
		logger.Error().Err(err).Msg("connection to database failed")
		closeConnections(ctx, database, rdb)
		return nil
	}

	logger.Info().Msg("Database connection established")

	// run migration files
	if err := MigrationUp(ctx, *config.DSN, *config.MigrationPath); err != nil {
		logger.Error().Err(err).Msg("database migration failed")
		closeConnections(ctx, database, rdb)
		return nil
	}

	blockchain, err := NewBlockchain(ctx, config)
	if err != nil {
		logger.Error().Err(err).Msg("connection to chain endpoints failed")
		closeConnections(ctx, database, rdb)
		return nil
	}

	preparer, err := NewPreparer(ctx, config, blockchain)
	if err != nil {
		logger.Error().Err(err).Msg("creation of user operation preparer failed")
		blockchain.Close()
		closeConnections(ctx, database, rdb)
		return nil
	}

	userOpRepo := repository.NewUserOperationRepository(database)
	userOpCache := repository.NewUserOperationCache(rdb, "userop")

	userOpService := service.NewUserOperationService(
		preparer,
		blockchain.Bundler,
		userOpRepo,
		userOpCache,
		service.NewAccountBuilder(blockchain.Client, config.AccountConfig()),
		*config.EntryPoint,
	)

	pollingService := service.NewReceiptPollingService(userOpRepo, userOpService, service.PollingConfig{
		PollingInterval: time.Duration(*config.PollingInterval) * time.Second,
	})

	return &Application{
		config:               config,
		database:             database,
		redis:                rdb,
		Blockchain:           blockchain,
		UserOperationService: userOpService,
		PollingService:       pollingService,
	}
}

// NewBlockchain dials the node, the bundler and the optional paymaster and checks they agree
func NewBlockchain(ctx context.Context, config AppConfig) (*service.BlockchainService, error) {
	blockchain, err := service.NewBlockchainService(ctx, service.BlockchainConfig{
		RPCURL:              *config.RPCURL,
		BundlerURL:          *config.BundlerURL,
		PaymasterURL:        *config.PaymasterURL,
		SponsorshipPolicyID: *config.SponsorshipPolicyID,
		EntryPoint:          *config.EntryPoint,
	})
	if err != nil {
		return nil, err
	}

	if err := blockchain.Verify(ctx); err != nil {
		blockchain.Close()
		return nil, err
	}

	return blockchain, nil
}

// NewPreparer builds the user operation preparer with the configured sponsor,
// fee estimator and default account
func NewPreparer(ctx context.Context, config AppConfig, blockchain *service.BlockchainService) (*service.UserOperationPreparer, error) {
	logger := zerolog.Ctx(ctx).With().Str("function", "NewPreparer").Logger()

	estimator, err := gasfee.NewEIP1559Estimator(*config.BaseFeeMultiplier)
	if err != nil {
		return nil, fmt.Errorf("failed to create fee estimator: %w", err)
	}

	var sponsor service.Sponsor
	if blockchain.Paymaster != nil {
		sponsor = service.NewPaymasterSponsor(blockchain.Paymaster)
		logger.Info().Msg("user operations are sponsored by the paymaster")
	} else {
		sponsor = service.NewSelfFundedSponsor(blockchain.Bundler)
		logger.Info().Msg("no paymaster configured, user operations are self-funded")
	}

	var defaultAccount account.SmartAccount
	if config.DefaultAccountOwner != nil {
		defaultAccount, err = account.New(ctx, blockchain.Client, config.AccountConfig())
		if err != nil {
			return nil, fmt.Errorf("failed to create default account: %w", err)
		}
		logger.Info().
			Str("owner", config.DefaultAccountOwner.Hex()).
			Str("address", defaultAccount.Address().Hex()).
			Msg("default account configured")
	}

	return service.NewUserOperationPreparer(estimator, sponsor, service.PreparerConfig{
		DefaultAccount: defaultAccount,
	}), nil
}

func (app *Application) Shutdown(ctx context.Context) {
	logger := zerolog.Ctx(ctx).With().Str("function", "Shutdown").Logger()

	closeConnections(logger.WithContext(ctx), app.database, app.redis)

	if app.Blockchain != nil {
		app.Blockchain.Close()
		logger.Info().Msg("Chain connections closed")
	}
}

// closeConnections closes the database and Redis clients; either may be nil
func closeConnections(ctx context.Context, database *gorm.DB, rdb *redis.Client) {
	logger := zerolog.Ctx(ctx)

	if database != nil {
		db, err := database.DB()
		if err != nil {
			logger.Error().Err(err).Msg("Failed to get underlying database connection")
		} else if err := db.Close(); err != nil {
			logger.Error().Err(err).Msg("Failed to close database connection")
		} else {
			logger.Info().Msg("Database connection closed")
		}
	}

	if rdb != nil {
		if err := rdb.Close(); err != nil {
			logger.Error().Err(err).Msg("Failed to close redis connection")
		} else {
			logger.Info().Msg("Redis connection closed")
		}
	}
}

func (app *Application) RunHTTPServer(ctx context.Context, wg *sync.WaitGroup) {
	defer wg.Done()

	logger := zerolog.Ctx(ctx).With().Str("function", "RunHTTPServer").Logger()

	// Set to release mode to disable Gin logger
	gin.SetMode(gin.ReleaseMode)

	ginRouter := gin.New()
	ginRouter.Use(gin.Recovery())

	// Register routes
	app.registerRoutes(ctx, ginRouter)

	// Build HTTP server
	server := &http.Server{
		Addr:    fmt.Sprintf(":%s", *app.config.Port),
		Handler: ginRouter,
	}

	// Start server in goroutine
	go func() {
		zerolog.Ctx(ctx).Info().Msgf("HTTP server is on http://localhost:%s/api/v1/health", *app.config.Port)
		err := server.ListenAndServe()
		if err != nil && err != http.ErrServerClosed {
			zerolog.Ctx(ctx).Panic().Err(err).Msg("Failed to start HTTP server")
		}
	}()

	// Wait for context cancellation
	<-ctx.Done()

	logger.Info().Msg("Gracefully shutting down HTTP server...")

	// Create shutdown context with timeout
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()

	// Shutdown server
	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Error().Err(err).Msg("Failed to shutdown HTTP server gracefully")
	} else {
		logger.Info().Msg("HTTP server shutdown complete")
	}
}

func (app *Application) RunPollingWorker(ctx context.Context, wg *sync.WaitGroup) {
	defer wg.Done()

	logger := zerolog.Ctx(ctx).With().Str("function", "RunPollingWorker").Logger()
	logger.Info().Msg("Starting receipt polling worker")

	if err := app.PollingService.Start(ctx); err != nil && err != context.Canceled {
		logger.Error().Err(err).Msg("Receipt polling worker stopped unexpectedly")
		return
	}

	logger.Info().Msg("Receipt polling worker stopped")
}

func (app *Application) registerRoutes(ctx context.Context, router *gin.Engine) {
	// Configure CORS
	config := cors.DefaultConfig()
	config.AllowOrigins = *app.config.AllowOrigins
	config.AllowMethods = []string{"GET", "POST", "OPTIONS"}
	config.AllowHeaders = []string{"Origin", "Content-Type", "Accept", "Authorization", "X-Requested-With", "X-API-Secret", "X-Request-ID"}
	config.AllowCredentials = true

	router.Use(cors.New(config))

	// Swagger documentation
	router.GET("/swagger/*any", ginSwagger.WrapHandler(swaggerFiles.Handler))

	handler.RegisterRoutes(ctx, router, handler.RouteConfig{
		UserOperations: app.UserOperationService,
		APISecret:      *app.config.APISecret,
	})
}
