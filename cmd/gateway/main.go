package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	_ "github.com/example/kioskshop/docs"
	"github.com/example/kioskshop/gateway"
	"github.com/example/kioskshop/pkg/audit"
	"github.com/example/kioskshop/pkg/auth"
	"github.com/example/kioskshop/pkg/cart"
	"github.com/example/kioskshop/pkg/catalog"
	"github.com/example/kioskshop/pkg/config"
	"github.com/example/kioskshop/pkg/discovery"
	kgrpc "github.com/example/kioskshop/pkg/grpc"
	"github.com/example/kioskshop/pkg/ledger"
	"github.com/example/kioskshop/pkg/logger"
	"github.com/example/kioskshop/pkg/pettycash"
	"github.com/example/kioskshop/pkg/reports"
	"github.com/example/kioskshop/pkg/repository"
	"go.uber.org/zap"
)

// @title Kiosk Shop API
// @version 1.0
// @description Catalog, cart, checkout, balances and petty cash for a neighbourhood kiosk.
// @BasePath /api/v1
// @securityDefinitions.apikey BearerAuth
// @in header
// @name Authorization
// @description Bearer token from /auth/login.
func main() {
	configPath := flag.String("config", "config/config.yaml", "path to the config file")
	flag.Parse()

	// Load config
	cfg, err := config.Load(*configPath)
	if err != nil {
		panic(fmt.Sprintf("Failed to load config: %v", err))
	}

	// Setup logger
	log, err := logger.New(cfg.Log)
	if err != nil {
		panic(fmt.Sprintf("Failed to create logger: %v", err))
	}
	defer log.Sync()

	log.Info("Starting kiosk gateway",
		zap.Int("port", cfg.Gateway.Port),
		zap.String("host", cfg.Gateway.Host))

	db, err := repository.NewMySQL(&cfg.MySQL)
	if err != nil {
		log.Fatal("Failed to open MySQL", zap.Error(err))
	}
	defer repository.CloseDB(db)

	ctx := context.Background()

	redisRepo := repository.NewRedisRepository(&cfg.Redis)
	defer redisRepo.Close()
	if err := redisRepo.Ping(ctx); err != nil {
		log.Warn("Redis connection failed, caches and idempotency keys are degraded", zap.Error(err))
	} else {
		log.Info("Redis connected successfully")
	}

	checks := map[string]func(context.Context) error{
		"mysql": func(ctx context.Context) error { return repository.PingDB(ctx, db) },
		"redis": redisRepo.Ping,
	}

	// Audit trail: MongoDB behind a single actor. Optional.
	var (
		recorder    audit.Recorder = audit.Nop{}
		auditFinder gateway.AuditFinder
	)
	if store, err := repository.NewAuditStore(&cfg.MongoDB); err != nil {
		log.Warn("MongoDB unavailable, audit trail disabled", zap.Error(err))
	} else {
		dispatcher, err := audit.NewDispatcher(store, log)
		if err != nil {
			log.Fatal("Failed to start audit actor", zap.Error(err))
		}
		defer func() {
			closeCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			if err := store.Close(closeCtx); err != nil {
				log.Warn("Failed to close MongoDB", zap.Error(err))
			}
		}()
		defer dispatcher.Close()

		recorder = dispatcher
		auditFinder = store
		checks["mongodb"] = store.Ping
	}

	services := gateway.Services{
		Auth:      auth.NewService(db, redisRepo, cfg.Auth, log),
		Catalog:   catalog.NewService(db, redisRepo, recorder, log),
		Cart:      cart.NewService(db, log),
		Ledger:    ledger.NewService(db, recorder, log).WithCatalogInvalidation(redisRepo),
		PettyCash: pettycash.NewService(db, recorder, log),
		Reports:   reports.NewService(db, cfg.Reports.LowStockThreshold),
	}

	httpChecks := make(map[string]gateway.HealthCheck, len(checks))
	grpcChecks := make(map[string]kgrpc.Check, len(checks))
	for name, check := range checks {
		httpChecks[name] = check
		grpcChecks[name] = check
	}

	gw := gateway.NewGateway(cfg, log, services, gateway.Options{
		Idempotency: redisRepo,
		Audit:       auditFinder,
		Checks:      httpChecks,
	})
	gw.SetupRoutes()

	healthSrv := kgrpc.NewHealthServer(cfg, log, grpcChecks)

	// Setup service discovery
	advertise, err := discovery.AdvertisedHost(cfg.Gateway.AdvertiseHost, cfg.Gateway.Host)
	if err != nil {
		log.Fatal("Failed to resolve advertised host", zap.Error(err))
	}
	self := &discovery.ServiceInstance{
		Name: "kiosk-gateway",
		Host: advertise,
		Port: cfg.Gateway.Port,
	}
	regCtx, cancelReg := context.WithCancel(ctx)
	defer cancelReg()

	sd, err := discovery.NewServiceDiscovery(&cfg.Etcd, log)
	if err != nil {
		log.Warn("Failed to connect to etcd, continuing without service discovery", zap.Error(err))
	} else if err := sd.Register(regCtx, self); err != nil {
		log.Warn("Failed to register in etcd", zap.Error(err))
	} else {
		log.Info("Service registered in etcd", zap.String("address", self.Addr()))
	}

	errCh := make(chan error, 2)
	go func() {
		if err := gw.Start(); err != nil {
			errCh <- fmt.Errorf("gateway: %w", err)
		}
	}()
	go func() {
		if err := healthSrv.Start(); err != nil {
			errCh <- fmt.Errorf("grpc health: %w", err)
		}
	}()

	log.Info("Gateway started successfully")

	// Wait for interrupt signal
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)

	select {
	case <-sigCh:
		log.Info("Received shutdown signal")
	case err := <-errCh:
		log.Error("Server error", zap.Error(err))
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()

	if sd != nil {
		if err := sd.Deregister(shutdownCtx, self); err != nil {
			log.Warn("Failed to deregister service", zap.Error(err))
		}
		sd.Close()
	}
	if err := gw.Shutdown(shutdownCtx); err != nil {
		log.Error("Gateway shutdown failed", zap.Error(err))
	}
	healthSrv.Stop()

	log.Info("Gateway stopped")
}
