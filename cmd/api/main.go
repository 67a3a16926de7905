package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/multierr"

	"github.com/angelmondragon/meetlessons-backend/api/routes"
	"github.com/angelmondragon/meetlessons-backend/internal/billing"
	"github.com/angelmondragon/meetlessons-backend/internal/checkout"
	"github.com/angelmondragon/meetlessons-backend/internal/devices"
	"github.com/angelmondragon/meetlessons-backend/internal/entitlements"
	"github.com/angelmondragon/meetlessons-backend/internal/users"
	stripewebhook "github.com/angelmondragon/meetlessons-backend/internal/webhooks/stripe"
	"github.com/angelmondragon/meetlessons-backend/pkg/config"
	"github.com/angelmondragon/meetlessons-backend/pkg/db"
	"github.com/angelmondragon/meetlessons-backend/pkg/logger"
	"github.com/angelmondragon/meetlessons-backend/pkg/metrics"
	"github.com/angelmondragon/meetlessons-backend/pkg/migrate"
	"github.com/angelmondragon/meetlessons-backend/pkg/redis"
	"github.com/angelmondragon/meetlessons-backend/pkg/security"
	pkgstripe "github.com/angelmondragon/meetlessons-backend/pkg/stripe"
)

const shutdownTimeout = 15 * time.Second

func main() {
	logg := logger.New(logger.Options{ServiceName: "api"})

	if err := godotenv.Load(); err != nil {
		logg.Warn(context.Background(), ".env file not found, relying on environment")
	}

	cfg, err := config.Load()
	if err != nil {
		logg.Error(context.Background(), "failed to load config", err)
		os.Exit(1)
	}

	logg = logger.New(logger.Options{
		ServiceName: "api",
		Level:       logger.ParseLevel(cfg.App.LogLevel),
		WarnStack:   cfg.App.LogWarnStack,
	})

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, cfg, logg); err != nil {
		logg.Error(ctx, "api server stopped unexpectedly", err)
		os.Exit(1)
	}
}

func run(ctx context.Context, cfg *config.Config, logg *logger.Logger) (err error) {
	dbClient, err := db.New(ctx, cfg.DB, logg)
	if err != nil {
		return err
	}
	defer func() { err = multierr.Append(err, dbClient.Close()) }()

	if err := migrate.MaybeRun(ctx, cfg, logg, dbClient); err != nil {
		return err
	}

	var redisClient *redis.Client
	if cfg.Redis.Enabled() {
		redisClient, err = redis.New(ctx, cfg.Redis, logg)
		if err != nil {
			return err
		}
		defer func() { err = multierr.Append(err, redisClient.Close()) }()
	} else {
		logg.Warn(ctx, "redis not configured; pairing rate limit disabled")
	}

	registry := prometheus.NewRegistry()
	registry.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	billingMetrics := metrics.NewBillingMetrics(registry)

	var stripeClient *pkgstripe.Client
	if cfg.Stripe.Enabled() {
		stripeClient, err = pkgstripe.NewClient(ctx, cfg.Stripe, logg)
		if err != nil {
			return err
		}
	} else {
		logg.Warn(ctx, "stripe not configured; paid feature is open to every user")
	}
	gateway := pkgstripe.NewGateway(stripeClient, billingMetrics)

	gdb := dbClient.DB()
	billingRepo := billing.NewRepository(gdb)
	userRepo := users.NewRepository(gdb)
	settings := billing.NewSettingsLoader(billingRepo, stripeClient != nil)

	var lister entitlements.SubscriptionLister
	var lookup billing.DiscountLookuper
	if stripeClient != nil {
		lister = gateway
		lookup = gateway
	}

	resolver := entitlements.NewResolver(entitlements.ResolverParams{
		Settings:      settings,
		Repo:          billingRepo,
		Stripe:        lister,
		RefreshWindow: cfg.Stripe.RefreshWindow,
		Logger:        logg,
		Metrics:       billingMetrics,
	})

	authority, err := devices.NewAuthority(devices.AuthorityParams{
		Repo:           devices.NewRepository(gdb),
		Tx:             dbClient,
		Entitlements:   resolver,
		Settings:       settings,
		Hasher:         security.NewTokenHasher(cfg.Devices.TokenPepper),
		PairingCodeTTL: cfg.Devices.PairingCodeTTL,
		Logger:         logg,
		Metrics:        billingMetrics,
	})
	if err != nil {
		return err
	}

	webhookService, err := stripewebhook.NewService(stripewebhook.ServiceParams{
		BillingRepo:       billingRepo,
		Users:             userRepo,
		Stripe:            gateway,
		Devices:           authority,
		TransactionRunner: dbClient,
		Logger:            logg,
		Metrics:           billingMetrics,
	})
	if err != nil {
		return err
	}

	checkoutService, err := checkout.NewService(checkout.ServiceParams{
		Tx:           dbClient,
		BillingRepo:  billingRepo,
		Users:        userRepo,
		Settings:     settings,
		Entitlements: resolver,
		Gateway:      gateway,
		URLs:         redirectURLs(cfg),
		Logger:       logg,
	})
	if err != nil {
		return err
	}

	adminService, err := billing.NewAdminService(billingRepo, lookup)
	if err != nil {
		return err
	}

	port := os.Getenv("PORT")
	if port == "" {
		port = cfg.App.Port
	}
	addr := ":" + port
	ctx = logg.WithFields(ctx, map[string]any{
		"env":        cfg.App.Env,
		"addr":       addr,
		"stripe_env": stripeClient.Environment(),
	})

	server := &http.Server{
		Addr: addr,
		Handler: routes.NewRouter(cfg, logg, routes.Dependencies{
			DB:            dbClient,
			Redis:         redisClient,
			Metrics:       promhttp.HandlerFor(registry, promhttp.HandlerOpts{}),
			Settings:      settings,
			Entitlements:  resolver,
			Devices:       authority,
			Checkout:      checkoutService,
			Webhooks:      webhookService,
			Admin:         adminService,
			WebhookSecret: stripeClient.SigningSecret(),
		}),
		ReadHeaderTimeout: 10 * time.Second,
	}

	serveErr := make(chan error, 1)
	go func() {
		logg.Info(ctx, "starting api server")
		serveErr <- server.ListenAndServe()
	}()

	select {
	case err := <-serveErr:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	case <-ctx.Done():
	}

	logg.Info(ctx, "shutting down api server")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	return server.Shutdown(shutdownCtx)
}

func redirectURLs(cfg *config.Config) checkout.URLs {
	base := strings.TrimRight(cfg.App.BaseURL, "/")
	return checkout.URLs{
		Success:      base + cfg.Stripe.SuccessPath,
		Cancel:       base + cfg.Stripe.CancelPath,
		PortalReturn: base + cfg.Stripe.PortalReturn,
	}
}
