package main

import (
	"context"
	"database/sql"
	"fmt"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	_ "github.com/lib/pq"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/redis/go-redis/v9"
	"go.mongodb.org/mongo-driver/mongo"
	"golang.org/x/sync/errgroup"

	"relay/internal/config"
	"relay/internal/constants"
	"relay/internal/consumer"
	"relay/internal/dedup"
	"relay/internal/logger"
	"relay/internal/rules"
	"relay/internal/store"
	"relay/internal/transport"
	"relay/pkg/bootstrap"
	"relay/pkg/cel"
	"relay/pkg/delivery"
	"relay/pkg/hashing"
	"relay/pkg/health"
	"relay/pkg/metrics"
	"relay/pkg/middleware"
	"relay/pkg/migrations"
	"relay/pkg/processing"
	"relay/pkg/ratelimit"
	"relay/pkg/routing"
	"relay/pkg/tracing"
)

const shutdownGrace = 2 * constants.ShutdownTimeout

type App struct {
	*bootstrap.Base
	dbConnector *bootstrap.DatabaseConnector

	db          *sql.DB
	redisClient *redis.Client
	mongoClient *mongo.Client

	rulesService *rules.Service
	dedupService *dedup.Service
	handler      *processing.Handler
	consumer     *consumer.Consumer

	tracerProvider *tracing.TracerProvider
	server         *http.Server
}

func NewApp(cfg *config.Config, log logger.Logger) *App {
	if sugaredLogger, ok := log.(*logger.SugaredLogger); ok {
		sugaredLogger.SetServiceName("processor-service")
	}
	return &App{
		Base:        bootstrap.NewBase(cfg, log),
		dbConnector: bootstrap.NewDatabaseConnector(cfg, log),
	}
}

func (a *App) Initialize(ctx context.Context) error {
	if err := a.initDatabases(ctx); err != nil {
		return fmt.Errorf("failed to initialize databases: %w", err)
	}

	if err := a.InitTransport(); err != nil {
		return fmt.Errorf("failed to initialize transport: %w", err)
	}

	if err := a.initPipeline(ctx); err != nil {
		return fmt.Errorf("failed to initialize pipeline: %w", err)
	}

	tp, err := tracing.Init(a.Config.Tracing, "processor-service")
	if err != nil {
		return fmt.Errorf("failed to initialize tracing: %w", err)
	}
	a.tracerProvider = tp

	metrics.RegisterProcessingMetrics()
	metrics.RegisterRoutingMetrics()
	metrics.RegisterTransportMetrics()
	metrics.RegisterManagementMetrics()
	if a.Config.Deduplication.Enabled {
		metrics.RegisterDedupMetrics()
	}
	if a.Config.CircuitBreaker.Enabled {
		metrics.RegisterCircuitBreakerMetrics()
	}

	if err := a.initHTTPServer(); err != nil {
		return fmt.Errorf("failed to initialize HTTP server: %w", err)
	}

	return nil
}

func (a *App) initDatabases(ctx context.Context) error {
	db, err := a.dbConnector.InitPostgreSQL(ctx)
	if err != nil {
		return err
	}
	a.db = db

	if a.db != nil && a.Config.Database.RunMigrations {
		if err := migrations.RunPostgres(a.dbConnector.PostgresDSN()); err != nil {
			return fmt.Errorf("failed to run migrations: %w", err)
		}
		a.Logger.InfowCtx(ctx, "Database migrations applied")
	}

	if a.Config.Deduplication.Enabled {
		rdb, err := a.dbConnector.InitRedis(ctx)
		if err != nil {
			return err
		}
		a.redisClient = rdb
	}

	mongoClient, err := a.dbConnector.InitMongoDB(ctx)
	if err != nil {
		a.Logger.WarnwCtx(ctx, "MongoDB connection failed, continuing without entity store", "error", err)
	} else {
		a.mongoClient = mongoClient
	}

	return nil
}

func (a *App) initPipeline(ctx context.Context) error {
	evaluator, err := cel.NewEvaluator()
	if err != nil {
		return fmt.Errorf("failed to create expression evaluator: %w", err)
	}

	var provider routing.ConfigProvider
	if a.db != nil {
		svc := rules.NewService(rules.NewRepository(a.db), a.Config.Routing, a.Logger)
		if err := svc.Reload(ctx, true); err != nil {
			a.Logger.WarnwCtx(ctx, "Failed to load initial routing rules", "error", err)
		}
		a.rulesService = svc
		provider = svc
	} else {
		provider = routing.StaticConfig(routing.Config{
			DefaultDestination: a.Config.Routing.DefaultDestination,
			QueueConfig:        a.Config.Routing.QueueConfig,
		})
	}

	handlerFactory := newHandlerFactory(a.Config, a.Factory, a.Logger)
	gateway := routing.NewGateway(provider, handlerFactory, evaluator, a.Logger)

	services := &processing.Services{
		Hasher: hashing.NewHasher(),
		Logger: a.Logger,
	}
	if a.mongoClient != nil {
		dbName := a.Config.Database.MongoDB.Database
		if dbName == "" {
			dbName = "relay"
		}
		mongoStore := store.NewMongoStore(a.mongoClient.Database(dbName))
		if err := mongoStore.EnsureIndexes(ctx); err != nil {
			a.Logger.WarnwCtx(ctx, "Failed to ensure entity store indexes", "error", err)
		}
		services.Store = mongoStore
	}
	if a.redisClient != nil {
		var repo dedup.Repository = dedup.NewRepository(a.redisClient)
		if a.Config.CircuitBreaker.Enabled {
			repo = dedup.NewCircuitBreakerRepository(repo, a.Config.CircuitBreaker)
		}
		a.dedupService = dedup.NewService(repo, a.Config.Deduplication, a.Logger)
		services.Dedup = a.dedupService
	}

	a.handler = processing.NewHandler(gateway, services, a.Config.Processing, a.Factory, a.Logger)
	a.consumer = consumer.New(a.Config.Broker.Kafka, a.handler, a.Factory, a.Logger)
	return nil
}

// newHandlerFactory picks the delivery surface matching the configured
// broker. Bus handlers need the AMQP-specific publish surface for typed
// destinations, sessions and TTLs; every other broker goes through the plain
// queue transport.
func newHandlerFactory(cfg *config.Config, tf transport.Factory, log logger.Logger) delivery.HandlerFactory {
	if cfg.Broker.Type == "amqp" {
		busFactory := delivery.BusFactory(func() (delivery.BusTransport, error) {
			return transport.NewAMQPTransport(cfg.Broker.AMQP, log)
		})
		return delivery.NewBusHandlerFactory(busFactory, cfg.Routing.QueueConfig, log)
	}
	return delivery.NewQueueHandlerFactory(tf, cfg.Routing.QueueConfig, log)
}

func (a *App) initHTTPServer() error {
	gin.SetMode(gin.ReleaseMode)
	router := gin.New()

	if a.Config.Tracing.Enabled {
		router.Use(tracing.GinMiddleware("processor-service"))
	}

	router.Use(middleware.RecoveryMiddleware(a.Logger))
	router.Use(middleware.LoggerMiddleware(a.Logger))
	router.Use(middleware.RequestIDMiddleware())

	if a.Config.Management.RateLimit.Enabled {
		rateLimitConfig := ratelimit.RateLimitConfig{
			RPS:             a.Config.Management.RateLimit.RPS,
			Burst:           a.Config.Management.RateLimit.Burst,
			CleanupInterval: time.Duration(a.Config.Management.RateLimit.CleanupInterval) * time.Second,
			MaxAge:          time.Duration(a.Config.Management.RateLimit.MaxAge) * time.Second,
		}
		router.Use(ratelimit.RateLimitMiddleware(rateLimitConfig))
		a.Logger.Infow("Rate limiting enabled", "rps", rateLimitConfig.RPS, "burst", rateLimitConfig.Burst)
	}

	if a.db != nil && a.rulesService != nil {
		evaluator, err := cel.NewEvaluator()
		if err != nil {
			return fmt.Errorf("failed to create expression evaluator: %w", err)
		}
		api := rules.NewAPI(rules.NewRepository(a.db), a.rulesService, evaluator, a.Logger)
		api.RegisterRoutes(router)
	}

	healthRegistry := health.NewCheckerRegistry()
	if a.db != nil {
		healthRegistry.Register(health.NewPostgreSQLChecker(a.db))
	}
	if a.redisClient != nil {
		healthRegistry.Register(health.NewRedisChecker(a.redisClient))
	}
	if a.mongoClient != nil {
		healthRegistry.RegisterOptional(health.NewMongoDBChecker(a.mongoClient))
	}
	healthRegistry.Register(health.NewBrokerChecker(a.Config.Broker.Type, func(ctx context.Context) error {
		tr, err := a.Factory()
		if err != nil {
			return err
		}
		return tr.Close()
	}))

	router.GET("/health", func(c *gin.Context) {
		h := healthRegistry.Check(c.Request.Context())
		statusCode := http.StatusOK
		if h.Status == health.StatusUnhealthy {
			statusCode = http.StatusServiceUnavailable
		}
		c.JSON(statusCode, h)
	})

	router.GET("/metrics", gin.WrapH(promhttp.Handler()))

	a.server = &http.Server{
		Addr:         fmt.Sprintf(":%d", a.Config.Server.Port),
		Handler:      router,
		ReadTimeout:  a.Config.Server.ReadTimeoutSeconds * time.Second,
		WriteTimeout: a.Config.Server.WriteTimeoutSeconds * time.Second,
	}
	return nil
}

func (a *App) Run(ctx context.Context) error {
	g, gCtx := errgroup.WithContext(ctx)

	if a.server != nil {
		g.Go(func() error {
			a.Logger.InfowCtx(ctx, "HTTP server starting", "port", a.Config.Server.Port)
			if err := a.server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
				return fmt.Errorf("HTTP server error: %w", err)
			}
			return nil
		})
	}

	if a.rulesService != nil {
		g.Go(func() error {
			return a.rulesService.StartReloader(gCtx)
		})
	}

	g.Go(func() error {
		return a.consumer.Run(gCtx)
	})

	return g.Wait()
}

func (a *App) Shutdown(ctx context.Context) error {
	additionalShutdown := func(ctx context.Context) []error {
		var errs []error

		if a.server != nil {
			serverCtx, cancel := context.WithTimeout(context.Background(), constants.ShutdownTimeout)
			defer cancel()
			if err := a.server.Shutdown(serverCtx); err != nil {
				errs = append(errs, fmt.Errorf("HTTP server shutdown error: %w", err))
			}
		}

		if a.consumer != nil {
			if err := a.consumer.Close(); err != nil {
				errs = append(errs, fmt.Errorf("consumer close error: %w", err))
			}
		}

		if a.dedupService != nil {
			a.dedupService.Close()
		}

		if a.tracerProvider != nil {
			if err := a.tracerProvider.Shutdown(ctx); err != nil {
				errs = append(errs, fmt.Errorf("tracer provider shutdown error: %w", err))
			}
		}

		errs = append(errs, a.dbConnector.ShutdownDatabases(ctx, a.redisClient, a.db, a.mongoClient)...)

		return errs
	}

	return a.Base.Shutdown(ctx, additionalShutdown)
}
