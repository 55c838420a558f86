package main

import (
	"context"
	"fmt"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/nats-io/nats.go"
	"github.com/nats-io/nats.go/jetstream"
	"google.golang.org/grpc"
	"google.golang.org/grpc/health"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
	"google.golang.org/grpc/reflection"

	"github.com/pesio-ai/be-acq-requests/internal/client"
	"github.com/pesio-ai/be-acq-requests/internal/handler"
	"github.com/pesio-ai/be-acq-requests/internal/metrics"
	"github.com/pesio-ai/be-acq-requests/internal/pkg/config"
	"github.com/pesio-ai/be-acq-requests/internal/pkg/database"
	"github.com/pesio-ai/be-acq-requests/internal/pkg/logger"
	"github.com/pesio-ai/be-acq-requests/internal/repository"
	"github.com/pesio-ai/be-acq-requests/internal/rules"
	"github.com/pesio-ai/be-acq-requests/internal/service"
	"github.com/pesio-ai/be-acq-requests/internal/sweep"
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
		Msg("Starting Acquisition Requests Service")

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Initialize database
	db, err := database.New(ctx, cfg.Database, log)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to connect to database")
	}
	defer db.Close()
	log.Info().Msg("Database connection established")

	// Notification bus is optional
	var js jetstream.JetStream
	if cfg.NATS.URL != "" {
		var nc *nats.Conn
		nc, js, err = client.ConnectNATS(cfg.NATS.URL, cfg.Service.Name, log.Component("nats").Logger)
		if err != nil {
			log.Fatal().Err(err).Msg("Failed to connect to NATS")
		}
		defer nc.Drain()
		log.Info().Str("url", cfg.NATS.URL).Msg("NATS connection established")
	} else {
		log.Warn().Msg("NATS_URL not set, notifications are disabled")
	}
	notifier := client.NewNotificationPublisher(js, cfg.NATS.SubjectPrefix, log.Component("notifications").Logger)

	m := metrics.New("acq_requests")

	// Initialize repositories
	stepsRepo := repository.NewApprovalStepsRepository(db)
	repos := service.Repositories{
		Tx:         db,
		Requests:   repository.NewRequestRepository(db),
		Steps:      stepsRepo,
		Documents:  repository.NewDocumentRepository(db),
		Advisories: repository.NewAdvisoryRepository(db),
		Funding:    repository.NewFundingRepository(db),
		Audit:      repository.NewAuditRepository(db),
		Rules:      repository.NewRuleCatalogRepository(db),
	}

	// Rule catalog: start empty, then load the stored tables
	empty, err := rules.NewCatalog(rules.Tables{}, rules.DefaultGates())
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to build empty rule catalog")
	}
	store := rules.NewStore(empty)

	opts := service.Options{AdminRole: cfg.Auth.AdminRole, Metrics: m}
	rulesService := service.NewRulesService(repos, store, opts, log.Component("rules"))
	if _, err := rulesService.Bootstrap(ctx, cfg.Rules.SeedFile); err != nil {
		log.Fatal().Err(err).Msg("Failed to load rule catalog")
	}

	// Initialize services
	services := handler.Services{
		Requests:  service.NewRequestService(repos, store, notifier, opts, log.Component("requests")),
		Approvals: service.NewApprovalRoutingService(repos, store, notifier, opts, log.Component("approvals")),
		Packages:  service.NewPackageService(repos, store, notifier, opts, log.Component("package")),
		Funding:   service.NewFundingService(repos, store, notifier, opts, log.Component("funding")),
		Rules:     rulesService,
	}

	// Overdue sweep
	sweeper := sweep.NewOverdueSweeper(stepsRepo, notifier, m, log.Component("sweep").Logger)
	if cfg.Sweep.Schedule != "" {
		if err := sweeper.Start(cfg.Sweep.Schedule); err != nil {
			log.Fatal().Err(err).Str("schedule", cfg.Sweep.Schedule).Msg("Failed to start overdue sweep")
		}
	}

	// HTTP server
	httpHandler := handler.NewHTTPHandler(services, handler.HTTPOptions{
		AdminRole:      cfg.Auth.AdminRole,
		RequestTimeout: cfg.Server.RequestTimeout,
		Metrics:        m,
		Health:         db,
	}, log.Component("http"))

	httpServer := &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.Server.Port),
		Handler:      httpHandler.Routes(),
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
		IdleTimeout:  cfg.Server.IdleTimeout,
	}

	go func() {
		log.Info().Int("port", cfg.Server.Port).Msg("Starting HTTP server")
		if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Error().Err(err).Msg("HTTP server failed")
		}
	}()

	// Start gRPC server
	grpcServer := grpc.NewServer(grpc.UnaryInterceptor(handler.UnaryInterceptor(log.Component("grpc"))))
	handler.NewGRPCHandler(services, log.Component("grpc")).Register(grpcServer)

	healthServer := health.NewServer()
	healthServer.SetServingStatus(handler.ServiceName, healthpb.HealthCheckResponse_SERVING)
	healthpb.RegisterHealthServer(grpcServer, healthServer)
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

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer shutdownCancel()

	sweeper.Stop(shutdownCtx)

	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("HTTP server shutdown failed")
	}

	// Stop gRPC server gracefully
	grpcServer.GracefulStop()

	log.Info().Msg("Server stopped")
}
