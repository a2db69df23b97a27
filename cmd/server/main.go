package main

import (
	"context"
	"fmt"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/redis/go-redis/v9"
	"google.golang.org/grpc"
	"google.golang.org/grpc/health"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
	"google.golang.org/grpc/reflection"

	"github.com/iLi-Media-Group/mybeatfi-sub000/internal/client"
	"github.com/iLi-Media-Group/mybeatfi-sub000/internal/config"
	"github.com/iLi-Media-Group/mybeatfi-sub000/internal/database"
	"github.com/iLi-Media-Group/mybeatfi-sub000/internal/handler"
	"github.com/iLi-Media-Group/mybeatfi-sub000/internal/logger"
	"github.com/iLi-Media-Group/mybeatfi-sub000/internal/repository"
	"github.com/iLi-Media-Group/mybeatfi-sub000/internal/scheduler"
	"github.com/iLi-Media-Group/mybeatfi-sub000/internal/service"
)

func main() {
	// Load configuration
	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load configuration: %v\n", err)
		os.Exit(1)
	}

	// Initialize logger
	log := logger.New(logger.Config{
		Level:       cfg.Service.LogLevel,
		Environment: cfg.Service.Environment,
		ServiceName: cfg.Service.Name,
		Version:     cfg.Service.Version,
	})

	log.Info().
		Str("service", cfg.Service.Name).
		Str("version", cfg.Service.Version).
		Str("environment", cfg.Service.Environment).
		Msg("Starting Sync Settlement Service")

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Initialize database
	db, err := database.New(ctx, database.Config{
		DSN:         cfg.Database.DSN(),
		MaxConns:    cfg.Database.MaxConns,
		MinConns:    cfg.Database.MinConns,
		MaxConnTime: cfg.Database.MaxConnTime.Duration,
		MaxIdleTime: cfg.Database.MaxIdleTime.Duration,
		HealthCheck: cfg.Database.HealthCheck.Duration,
	})
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to connect to database")
	}
	defer db.Close()
	log.Info().Msg("Database connection established")

	applied, err := db.Migrate(ctx)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to apply migrations")
	}
	if len(applied) > 0 {
		log.Info().Strs("migrations", applied).Msg("Migrations applied")
	}

	store := repository.NewPostgresStore(db)

	// Collaborators. Each one is optional so the service can run standalone.
	var (
		notifications *client.NotificationPublisher
		payouts       *client.PayoutPublisher
		natsClient    *client.NATSClient
		redisClient   *redis.Client
		deduper       service.Deduper
		locker        scheduler.Locker
	)

	if cfg.NATS.URL != "" {
		natsClient, err = client.ConnectNATS(cfg.NATS.URL, cfg.Service.Name, log.Logger)
		if err != nil {
			log.Fatal().Err(err).Str("url", cfg.NATS.URL).Msg("Failed to connect to NATS")
		}
		defer natsClient.Close()
		notifications = client.NewNotificationPublisher(natsClient)
		log.Info().Str("url", cfg.NATS.URL).Msg("NATS connection established")
	} else {
		log.Warn().Msg("NATS_URL not set, notifications disabled")
	}

	if len(cfg.Kafka.Brokers) > 0 {
		payouts, err = client.NewPayoutPublisher(cfg.Kafka.Brokers, cfg.Kafka.PayoutTopic)
		if err != nil {
			log.Fatal().Err(err).Msg("Failed to create payout publisher")
		}
		defer payouts.Close()
		log.Info().Strs("brokers", cfg.Kafka.Brokers).Str("topic", cfg.Kafka.PayoutTopic).Msg("Payout publisher initialized")
	} else {
		log.Warn().Msg("KAFKA_BROKERS not set, payout events disabled")
	}

	if cfg.Redis.Addr != "" {
		redisClient, err = client.ConnectRedis(ctx, cfg.Redis.Addr, cfg.Redis.Password, cfg.Redis.DB)
		if err != nil {
			log.Fatal().Err(err).Msg("Failed to connect to Redis")
		}
		defer redisClient.Close()
		deduper = client.NewRedisDeduper(redisClient, 72*time.Hour)
		locker = client.NewRedisLocker(redisClient)
		log.Info().Msg("Redis connection established")
	}

	dispatcher := client.NewDispatcher(client.DefaultDispatcherConfig(), notifications, payouts, log.Logger)
	dispatcher.Start(ctx)

	// Initialize services
	minimum, err := cfg.MinimumWithdrawal()
	if err != nil {
		log.Fatal().Err(err).Msg("Invalid ledger configuration")
	}
	notifier := service.WithNotifier(dispatcher)
	ledgerService := service.NewLedgerService(store, cfg.Ledger.HoldPeriod.Duration, log.Component("ledger"), notifier)
	proposalService := service.NewProposalService(store, ledgerService, log.Component("proposals"), notifier)
	services := handler.Services{
		Proposals:   proposalService,
		Negotiation: service.NewNegotiationService(store, log.Component("negotiation"), notifier),
		Ledger:      ledgerService,
		Withdrawals: service.NewWithdrawalService(store, ledgerService, minimum, log.Component("withdrawals"), notifier),
		Payments:    service.NewPaymentIntake(proposalService, deduper, log.Component("payments")),
	}

	var paymentSubscriber *client.PaymentSubscriber
	if natsClient != nil {
		paymentSubscriber = client.NewPaymentSubscriber(natsClient, services.Payments, log.Logger)
		if err := paymentSubscriber.Start(ctx); err != nil {
			log.Fatal().Err(err).Msg("Failed to subscribe to payment confirmations")
		}
	}

	// Scheduled sweeps
	sweeps := scheduler.New(locker, log)
	if cfg.Scheduler.Enabled {
		jobs := []scheduler.Job{
			{Name: "expire-proposals", Spec: cfg.Scheduler.ExpireSpec, Sweep: proposalService.Expire},
			{Name: "mature-funds", Spec: cfg.Scheduler.MaturitySpec, Sweep: ledgerService.MatureFunds, LockTTL: 10 * time.Minute},
		}
		for _, job := range jobs {
			if err := sweeps.Add(job); err != nil {
				log.Fatal().Err(err).Msg("Failed to schedule sweep")
			}
		}
		sweeps.Start()
	}

	// Setup HTTP routes
	httpHandler := handler.NewHTTPHandler(services, log)
	router := handler.NewRouter(httpHandler, handler.RouterConfig{
		AllowedOrigins: cfg.Server.AllowedOrigins,
		RequestTimeout: cfg.Server.RequestTimeout.Duration,
		Health: func(r *http.Request) error {
			if err := db.Ping(r.Context()); err != nil {
				return err
			}
			if natsClient != nil && !natsClient.Healthy() {
				return fmt.Errorf("nats disconnected")
			}
			return nil
		},
	})

	httpServer := &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.Server.Port),
		Handler:      router,
		ReadTimeout:  cfg.Server.ReadTimeout.Duration,
		WriteTimeout: cfg.Server.WriteTimeout.Duration,
		IdleTimeout:  cfg.Server.IdleTimeout.Duration,
	}

	go func() {
		log.Info().Int("port", cfg.Server.Port).Msg("Starting HTTP server")
		if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Error().Err(err).Msg("HTTP server failed")
		}
	}()

	// Start gRPC server
	grpcServer := grpc.NewServer(grpc.UnaryInterceptor(handler.ActorInterceptor()))
	handler.NewGRPCHandler(services, log.Logger).Register(grpcServer)
	healthServer := health.NewServer()
	healthpb.RegisterHealthServer(grpcServer, healthServer)
	healthServer.SetServingStatus(handler.ServiceName, healthpb.HealthCheckResponse_SERVING)
	reflection.Register(grpcServer) // Enable reflection for debugging

	grpcListener, err := net.Listen("tcp", fmt.Sprintf(":%d", cfg.Server.GRPCPort))
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to create gRPC listener")
	}

	go func() {
		log.Info().Int("port", cfg.Server.GRPCPort).Msg("Starting gRPC server")
		if err := grpcServer.Serve(grpcListener); err != nil {
			log.Error().Err(err).Msg("gRPC server failed")
		}
	}()

	// Graceful shutdown
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Info().Msg("Shutting down server...")
	healthServer.Shutdown()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout.Duration)
	defer shutdownCancel()

	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("HTTP server shutdown failed")
	}

	// Stop gRPC server gracefully
	grpcServer.GracefulStop()

	if paymentSubscriber != nil {
		paymentSubscriber.Stop()
	}
	sweeps.Stop()

	// Drain queued notifications before the publishers close.
	if err := dispatcher.Close(shutdownCtx); err != nil {
		log.Warn().Err(err).Msg("Notification queue not fully drained")
	}

	log.Info().Msg("Server stopped")
}
