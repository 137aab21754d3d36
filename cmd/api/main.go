package main

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"
	_ "time/tzdata"

	"recovery-caller/internal/archive"
	"recovery-caller/internal/audit"
	"recovery-caller/internal/auth"
	"recovery-caller/internal/billing"
	"recovery-caller/internal/calls"
	"recovery-caller/internal/config"
	"recovery-caller/internal/httpapi"
	"recovery-caller/internal/merchants"
	"recovery-caller/internal/messaging"
	"recovery-caller/internal/offers"
	"recovery-caller/internal/reporting"
	"recovery-caller/internal/shopify"
	"recovery-caller/internal/telephony"
	"recovery-caller/pkg/logger"
	"recovery-caller/pkg/utils"

	"github.com/gin-gonic/gin"
	_ "github.com/jackc/pgx/v5/stdlib"
)

func main() {
	// Root context that cancels on shutdown
	rootCtx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	cfg, err := config.Load()
	if err != nil {
		slog.Error("config load failed", "err", err)
		os.Exit(1)
	}

	log := logger.New(cfg.App.Env, "recovery-api")
	slog.SetDefault(log)

	if cfg.IsProduction() {
		gin.SetMode(gin.ReleaseMode)
	}

	authManager, err := auth.NewManager(cfg.Auth)
	if err != nil {
		log.Error("auth init failed", "err", err)
		os.Exit(1)
	}

	db, err := utils.OpenPostgres(rootCtx, "pgx", cfg.PostgresDSN(), utils.PostgresPoolConfig{})
	if err != nil {
		log.Error("postgres init failed", "err", err)
		os.Exit(1)
	}
	defer db.Close()

	var slots calls.SlotLimiter
	if cfg.RedisEnabled() {
		rdb, err := utils.OpenRedis(rootCtx, utils.RedisConfig{Addr: cfg.RedisAddr(), Password: cfg.Redis.Password})
		if err != nil {
			log.Error("redis init failed", "err", err)
			os.Exit(1)
		}
		defer rdb.Close()
		capper, err := utils.NewConcurrencyCap(rdb, "recovery:calls:", cfg.Dispatcher.ShopCallCap, cfg.Dispatcher.ShopCallCapTTL)
		if err != nil {
			log.Error("call cap init failed", "err", err)
			os.Exit(1)
		}
		slots = capper
	}

	var voice telephony.CallProvider
	voice, err = telephony.NewVapiProvider(telephony.VapiConfig{
		BaseURL:       cfg.Voice.BaseURL,
		APIKey:        cfg.Voice.APIKey,
		AssistantID:   cfg.Voice.AssistantID,
		PhoneNumberID: cfg.Voice.PhoneNumberID,
		Timeout:       cfg.Voice.Timeout,
	})
	if err != nil {
		log.Error("voice provider init failed", "err", err)
		os.Exit(1)
	}
	sms, err := messaging.NewTwilioSender(messaging.TwilioConfig{
		AccountSID: cfg.Twilio.AccountSID,
		AuthToken:  cfg.Twilio.AuthToken,
		FromNumber: cfg.Twilio.FromNumber,
	})
	if err != nil {
		log.Error("sms sender init failed", "err", err)
		os.Exit(1)
	}

	var archiver archive.Archiver = archive.Nop{}
	if cfg.Archive.Bucket != "" {
		s3a, err := archive.NewS3Archiver(rootCtx, archive.S3Config{
			Bucket:    cfg.Archive.Bucket,
			Region:    cfg.Archive.Region,
			Endpoint:  cfg.Archive.Endpoint,
			AccessKey: cfg.Archive.AccessKey,
			SecretKey: cfg.Archive.SecretKey,
			Prefix:    cfg.Archive.Prefix,
		})
		if err != nil {
			log.Error("archive init failed", "err", err)
			os.Exit(1)
		}
		archiver = s3a
	}

	jobs := calls.NewPostgresStore(db)
	settings := merchants.NewPostgresStore(db)
	ledger := billing.NewPostgresStore(db)
	stripeProvider := billing.NewStripeProvider(billing.StripeConfig{
		SecretKey:  cfg.Stripe.SecretKey,
		PlanPrices: cfg.Stripe.PlanPrices,
		UsagePrice: cfg.Stripe.UsagePrice,
	})

	dispatcher := calls.NewDispatcher(jobs, settings, voice, calls.DispatcherOptions{
		Slots:       slots,
		Concurrency: cfg.Dispatcher.Concurrency,
		Logger:      log,
	})
	meter := billing.NewMeter(ledger, stripeProvider, nil, log)
	subs := billing.NewSubscriptions(ledger, stripeProvider, nil, log)
	offerDispatcher := offers.NewDispatcher(jobs, settings, shopify.NewClient(shopify.Config{
		APIVersion: cfg.Shopify.APIVersion,
		Timeout:    cfg.Shopify.Timeout,
	}, log), sms, offers.Options{Logger: log})

	webhookRouter := telephony.NewRouter(telephony.RouterDeps{
		Jobs:     jobs,
		Finisher: dispatcher,
		Offers:   offerDispatcher,
		Billing:  meter,
		Archiver: archiver,
		Logger:   log,
	})

	deps := routeDeps{
		authMW: auth.RequireToken(authManager),
		voiceWebhook: telephony.WebhookHandler{
			Router: webhookRouter,
			Secret: cfg.Voice.WebhookSecret,
		},
		api: httpapi.Handlers{
			Sweeper:             dispatcher,
			Billing:             ledger,
			Subscriptions:       subs,
			Reports:             reporting.NewService(jobs, ledger),
			Audit:               audit.NewService(audit.NewPostgresRepo(db)),
			DefaultSweepLimit:   cfg.Dispatcher.BatchLimit,
			StripeWebhookSecret: cfg.Stripe.WebhookSecret,
		},
		ready: func(ctx context.Context) error {
			if err := utils.HealthCheck(ctx, db, 2*time.Second); err != nil {
				return err
			}
			return voice.HealthCheck(ctx)
		},
	}

	// Gin router
	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(logger.Middleware(log))
	registerRoutes(r, deps)

	srv := &http.Server{
		Addr:              cfg.HTTPAddr(),
		Handler:           r,
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       15 * time.Second,
		WriteTimeout:      30 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	go func() {
		log.Info("api listening", "addr", srv.Addr, "env", cfg.App.Env, "voice_provider", voice.Name())
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Error("http server failed", "err", err)
			stop()
		}
	}()

	<-rootCtx.Done()
	log.Info("shutdown initiated")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 20*time.Second)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Error("http shutdown failed", "err", err)
	}
}
