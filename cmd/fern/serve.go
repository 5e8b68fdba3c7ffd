package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/Gobusters/ectologger"
	"github.com/labstack/echo/v4"
	echomiddleware "github.com/labstack/echo/v4/middleware"
	"github.com/segmentio/kafka-go"
	"github.com/spf13/cobra"
	"go.opentelemetry.io/contrib/instrumentation/github.com/labstack/echo/otelecho"

	"github.com/Ramsey-B/fern/config"
	"github.com/Ramsey-B/fern/internal/handlers"
	"github.com/Ramsey-B/fern/pkg/cache"
	"github.com/Ramsey-B/fern/pkg/database"
	"github.com/Ramsey-B/fern/pkg/events"
	"github.com/Ramsey-B/fern/pkg/fallback"
	"github.com/Ramsey-B/fern/pkg/health"
	"github.com/Ramsey-B/fern/pkg/middleware"
	"github.com/Ramsey-B/fern/pkg/pipeline"
	"github.com/Ramsey-B/fern/pkg/redis"
	"github.com/Ramsey-B/fern/pkg/repositories"
	"github.com/Ramsey-B/fern/pkg/resilience"
	"github.com/Ramsey-B/fern/pkg/seed"
	"github.com/Ramsey-B/fern/pkg/startup"
	"github.com/Ramsey-B/fern/pkg/tracing"
	"github.com/Ramsey-B/fern/pkg/workflow"
)

func newServeCommand(envFile *string) *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the pipeline API",
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, logger, sync, err := loadConfig(*envFile)
			if err != nil {
				return err
			}
			defer sync()

			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()

			return serve(ctx, cfg, logger)
		},
	}
}

// server holds everything the startup graph brings up.
type server struct {
	cfg       *config.Config
	logger    ectologger.Logger
	db        database.DB
	redis     *redis.Client
	publisher events.Publisher
	layer     *resilience.Layer
}

func serve(ctx context.Context, cfg *config.Config, logger ectologger.Logger) error {
	shutdownTracing, err := tracing.Setup(ctx, cfg.AppName, tracing.OTLPConfig{
		Enabled:  cfg.OTLPEnabled,
		Endpoint: cfg.OTLPEndpoint,
		Protocol: cfg.OTLPProtocol,
		Insecure: cfg.OTLPInsecure,
	})
	if err != nil {
		return err
	}
	defer func() {
		if err := shutdownTracing(context.Background()); err != nil {
			logger.WithError(err).Warn("failed to flush traces")
		}
	}()

	s := &server{cfg: cfg, logger: logger, publisher: events.Noop{}}
	boot := startup.NewStartup(logger, cfg.StartupMaxAttempts)
	for _, dep := range s.dependencies() {
		boot.AddDependency(dep)
	}
	if err := boot.Start(ctx); err != nil {
		return err
	}
	defer func() {
		if err := boot.Stop(context.Background()); err != nil {
			logger.WithError(err).Error("failed to stop dependencies")
		}
	}()

	service := pipeline.NewService(s.layer, s.stepCache(), s.publisher, logger)

	var redisPinger health.Pinger
	if s.redis != nil {
		redisPinger = s.redis
	}
	checker := health.NewChecker(health.PingerFunc(s.db.PingContext), redisPinger, cfg.FallbackEnabled, cfg.Version)

	e := echo.New()
	e.HideBanner = true
	e.HidePort = true
	e.HTTPErrorHandler = middleware.Error(logger)
	e.Use(echomiddleware.Recover())
	e.Use(otelecho.Middleware(cfg.AppName))
	e.Use(middleware.Context())
	e.Use(middleware.Logger(logger))

	checker.RegisterRoutes(e)
	if err := handlers.Register(e, service, logger); err != nil {
		return fmt.Errorf("failed to register routes: %w", err)
	}

	httpServer := &http.Server{
		Addr:              fmt.Sprintf(":%d", cfg.Port),
		Handler:           e,
		ReadTimeout:       time.Duration(cfg.HttpServerReadTimeoutSeconds) * time.Second,
		WriteTimeout:      time.Duration(cfg.HttpServerWriteTimeoutSeconds) * time.Second,
		IdleTimeout:       time.Duration(cfg.HttpServerIdleTimeoutSeconds) * time.Second,
		ReadHeaderTimeout: time.Duration(cfg.ReadHeaderTimeoutSeconds) * time.Second,
		MaxHeaderBytes:    cfg.MaxHeaderBytes,
	}

	serveErr := make(chan error, 1)
	go func() {
		logger.Infof("Listening on %s", httpServer.Addr)
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serveErr <- err
		}
		close(serveErr)
	}()
	checker.SetReady(true)

	select {
	case err := <-serveErr:
		return err
	case <-ctx.Done():
	}

	logger.Info("Shutting down")
	checker.SetReady(false)
	shutdownCtx, cancel := context.WithTimeout(context.Background(), time.Duration(cfg.ShutdownTimeoutSeconds)*time.Second)
	defer cancel()
	return httpServer.Shutdown(shutdownCtx)
}

func (s *server) stepCache() cache.StepCache {
	if s.redis == nil {
		return cache.Noop{}
	}
	return cache.NewRedisStepCache(s.redis, s.cfg.StepCacheTTL, s.logger)
}

func (s *server) dependencies() []startup.StartupDependency {
	cfg := s.cfg
	return []startup.StartupDependency{
		&startup.Dependency{
			Name: "database",
			OnStart: func(ctx context.Context) error {
				db, err := connectDatabase(ctx, cfg, s.logger)
				if err != nil {
					return err
				}
				s.db = db
				return nil
			},
			OnStop: func(context.Context) error {
				return s.db.Close()
			},
		},
		&startup.Dependency{
			Name:     "migrations",
			Requires: []string{"database"},
			OnStart: func(context.Context) error {
				return migrationService(cfg, s.logger).Migrate(s.db, cfg.DatabaseName)
			},
		},
		&startup.Dependency{
			Name:     "engine",
			Requires: []string{"migrations"},
			OnStart: func(ctx context.Context) error {
				layer, err := s.buildLayer(ctx)
				if err != nil {
					return err
				}
				if err := layer.EnsureSchema(ctx); err != nil {
					return err
				}
				s.layer = layer
				return nil
			},
		},
		&startup.Dependency{
			Name: "redis",
			OnStart: func(ctx context.Context) error {
				if !cfg.RedisEnabled {
					return nil
				}
				client, err := redis.NewClient(ctx, redis.Config{
					Host:     cfg.RedisHost,
					Port:     cfg.RedisPort,
					Password: cfg.RedisPassword,
					DB:       cfg.RedisDB,
				}, s.logger)
				if err != nil {
					// the step cache is optional
					s.logger.WithError(err).Warn("redis unavailable, step cache disabled")
					return nil
				}
				s.redis = client
				return nil
			},
			OnStop: func(context.Context) error {
				if s.redis == nil {
					return nil
				}
				return s.redis.Close()
			},
		},
		&startup.Dependency{
			Name: "kafka",
			OnStart: func(ctx context.Context) error {
				if !cfg.KafkaEnabled {
					return nil
				}
				kafkaCfg := events.ParseConfig(cfg.KafkaBrokers, cfg.KafkaEventsTopic)
				if len(kafkaCfg.Brokers) == 0 {
					return fmt.Errorf("KAFKA_ENABLED is set but KAFKA_BROKERS is empty")
				}
				conn, err := kafka.DialContext(ctx, "tcp", kafkaCfg.Brokers[0])
				if err != nil {
					return fmt.Errorf("failed to reach kafka broker %s: %w", kafkaCfg.Brokers[0], err)
				}
				_ = conn.Close()

				s.publisher = events.NewKafkaPublisher(kafkaCfg, s.logger)
				return nil
			},
			OnStop: func(context.Context) error {
				return s.publisher.Close()
			},
		},
	}
}

func (s *server) buildLayer(ctx context.Context) (*resilience.Layer, error) {
	primary := workflow.NewEngine(repositories.NewStore(s.db, s.logger), s.logger)

	var stand *workflow.Engine
	if s.cfg.FallbackEnabled {
		stand = workflow.NewEngine(fallback.NewStore(s.logger), s.logger)
		if s.cfg.FallbackFixturesEnabled {
			if _, err := seed.Apply(ctx, stand, seed.Default(), s.logger); err != nil {
				return nil, fmt.Errorf("failed to seed fallback store: %w", err)
			}
		}
	}

	return resilience.NewLayer(
		primary,
		stand,
		resilience.NewDBProber(s.db),
		repositories.NewSchemaHealer(s.db, s.logger),
		resilience.Config{
			ProbeTimeout: s.cfg.StoreProbeTimeout,
			HealOnDrift:  s.cfg.SchemaHealOnDrift,
		},
		s.logger,
	), nil
}
