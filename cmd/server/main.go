package main

import (
	"context"
	"net"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog"
	grpclib "google.golang.org/grpc"
	"google.golang.org/grpc/reflection"

	grpcadapter "github.com/simaogato/autoinvest-backend/internal/adapter/grpc"
	"github.com/simaogato/autoinvest-backend/internal/adapter/lock"
	"github.com/simaogato/autoinvest-backend/internal/adapter/repository/postgres"
	"github.com/simaogato/autoinvest-backend/internal/config"
	"github.com/simaogato/autoinvest-backend/internal/domain"
	"github.com/simaogato/autoinvest-backend/internal/logger"
	"github.com/simaogato/autoinvest-backend/internal/scheduler"
	"github.com/simaogato/autoinvest-backend/internal/usecase/autoinvest"
	"github.com/simaogato/autoinvest-backend/internal/usecase/drip"
	"github.com/simaogato/autoinvest-backend/internal/usecase/portfolio"
)

const (
	connectAttempts = 5
	connectBackoff  = 2 * time.Second
)

func main() {
	// 1. Configuration and logging
	cfg, err := config.Load()
	if err != nil {
		// Logger is not configured yet
		bootLog := zerolog.New(os.Stderr)
		bootLog.Fatal().Err(err).Msg("Invalid configuration")
	}

	log := logger.New(logger.Config{Level: cfg.LogLevel, Pretty: cfg.LogPretty})

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// 2. Setup Database
	db, err := connectDB(ctx, cfg.DBConnStr, log)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to connect to database")
	}
	defer db.Close()

	if err := db.Migrate(ctx); err != nil {
		log.Fatal().Err(err).Msg("Failed to apply schema")
	}
	log.Info().Msg("Database schema applied")

	// 3. Locks: Redis when configured, in-process otherwise
	var locker domain.Locker
	if cfg.RedisAddress != "" {
		rdb, err := lock.Connect(ctx, cfg.RedisAddress)
		if err != nil {
			log.Fatal().Err(err).Msg("Failed to connect to redis")
		}
		defer rdb.Close()
		locker = lock.NewRedisLocker(rdb, cfg.LockTTL, log)
		log.Info().Str("address", cfg.RedisAddress).Msg("Using Redis locks")
	} else {
		locker = lock.NewLocalLocker()
		log.Warn().Msg("REDIS_ADDRESS not set, using in-process locks (single instance only)")
	}

	// 4. Initialize Repositories (Postgres)
	planRepo := postgres.NewPlanRepository(db)
	executionRepo := postgres.NewExecutionRepository(db)
	dripRepo := postgres.NewDripRepository(db)
	holdingRepo := postgres.NewHoldingRepository(db)

	// 5. Initialize Services (Use Cases)
	planService := autoinvest.NewPlanService(planRepo, executionRepo, db, locker, log)
	dripService := drip.NewService(dripRepo, holdingRepo, db, locker, log)
	portfolioService := portfolio.NewPortfolioService(holdingRepo, planRepo, dripRepo)

	// 6. Scheduler
	sched := scheduler.New(log)
	if err := sched.AddJob(cfg.DueExecutionsSchedule, scheduler.NewDueExecutionsJob(planService, log)); err != nil {
		log.Fatal().Err(err).Msg("Failed to register due executions job")
	}
	if err := sched.AddJob(cfg.PauseReconcileSchedule, scheduler.NewPauseReconcileJob(planService, log)); err != nil {
		log.Fatal().Err(err).Msg("Failed to register pause reconcile job")
	}
	sched.Start()

	// 7. Start gRPC Server
	grpcServer := grpclib.NewServer(
		grpclib.ChainUnaryInterceptor(
			grpcadapter.LoggingInterceptor(log),
			grpcadapter.AuthInterceptor(cfg.APIToken),
		),
	)

	grpcAdapter := grpcadapter.NewServer(planService, dripService, portfolioService)
	grpcAdapter.PendingBatchSize = cfg.PendingBatchSize
	grpcadapter.RegisterAutoInvestServiceServer(grpcServer, grpcAdapter)

	reflection.Register(grpcServer)

	lis, err := net.Listen("tcp", cfg.GRPCAddress())
	if err != nil {
		log.Fatal().Err(err).Str("address", cfg.GRPCAddress()).Msg("Failed to listen")
	}

	// Start server in a goroutine
	go func() {
		log.Info().Str("address", cfg.GRPCAddress()).Msg("gRPC server listening")
		if err := grpcServer.Serve(lis); err != nil {
			log.Error().Err(err).Msg("gRPC server stopped serving")
			stop()
		}
	}()

	// Graceful shutdown
	<-ctx.Done()
	log.Info().Msg("Shutting down gracefully...")

	sched.Stop()
	grpcServer.GracefulStop()
	log.Info().Msg("gRPC server stopped")
}

// connectDB opens the database, retrying while Postgres is still starting up
func connectDB(ctx context.Context, connStr string, log zerolog.Logger) (*postgres.DB, error) {
	var lastErr error
	for attempt := 1; attempt <= connectAttempts; attempt++ {
		db, err := postgres.NewDB(ctx, connStr)
		if err == nil {
			return db, nil
		}
		lastErr = err

		log.Warn().Err(err).Int("attempt", attempt).Msg("Database not ready, retrying")
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(connectBackoff):
		}
	}
	return nil, lastErr
}
