package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"genify/billing"
	"genify/config"
	"genify/database"
	"genify/events"
	"genify/handlers"
	"genify/logging"
	"genify/middleware"
	"genify/models"
	"genify/queue"
	"genify/routes"
	"genify/services"
	"genify/websocket"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		// the logger is configured from cfg, so this one goes to stderr plainly
		os.Stderr.WriteString("config: " + err.Error() + "\n")
		os.Exit(1)
	}
	log, err := logging.New(cfg.LogLevel, cfg.LogDev)
	if err != nil {
		os.Stderr.WriteString("logger: " + err.Error() + "\n")
		os.Exit(1)
	}
	defer func() { _ = log.Sync() }()

	if err := run(cfg, log); err != nil {
		log.Fatal("server stopped", zap.Error(err))
	}
}

func run(cfg *config.Config, log *zap.Logger) error {
	log.Info("starting Genify backend", zap.String("mode", cfg.GinMode))

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// ===== MONGODB =====
	connectCtx, cancel := context.WithTimeout(ctx, 30*time.Second)
	db, err := database.Connect(connectCtx, database.Options{
		URI:          cfg.MongoURI,
		Database:     cfg.MongoDatabase,
		Transactions: cfg.MongoTransactions,
	}, log)
	cancel()
	if err != nil {
		return err
	}
	defer func() {
		dctx, dcancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer dcancel()
		_ = db.Disconnect(dctx)
	}()

	idxCtx, cancel := context.WithTimeout(ctx, 30*time.Second)
	err = db.EnsureIndexes(idxCtx)
	cancel()
	if err != nil {
		return err
	}

	users := database.NewUserRepo(db)
	affiliateRepo := database.NewAffiliateRepo(db)
	payoutRepo := database.NewPayoutRepo(db)
	pushRepo := database.NewPushRepo(db)

	// ===== LIVE UPDATES AND NOTIFICATIONS =====
	hub := websocket.NewHub(log)
	go hub.Run(ctx)

	mailer := services.NewSMTPMailer(services.SMTPOptions{
		Host:     cfg.SMTP.Host,
		Port:     cfg.SMTP.Port,
		Username: cfg.SMTP.Username,
		Password: cfg.SMTP.Password,
		From:     cfg.SMTP.From,
		AppURL:   cfg.AppURL,
	}, log)
	push := services.NewPushNotifier(pushRepo, services.VAPIDOptions{
		PublicKey:  cfg.VAPID.PublicKey,
		PrivateKey: cfg.VAPID.PrivateKey,
		Subject:    cfg.VAPID.Subject,
	}, nil, log)
	if !push.Enabled() {
		log.Warn("VAPID keys not set, web push disabled")
	}
	notifier := services.NewNotifier(users, hub, push, mailer, log)

	var publisher events.Publisher
	if cfg.AMQPURL != "" {
		pub := queue.NewPublisher(cfg.AMQPURL, log)
		defer func() { _ = pub.Close() }()
		publisher = pub

		consumer := queue.NewConsumer(cfg.AMQPURL, notifier, log)
		go func() {
			if err := consumer.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
				log.Error("event consumer stopped", zap.Error(err))
			}
		}()
		log.Info("affiliate events go through RabbitMQ", zap.String("queue", queue.EventsQueue))
	} else {
		publisher = events.Direct{
			Handler: notifier,
			OnError: func(ev events.Event, err error) {
				log.Warn("event handler failed", zap.String("kind", string(ev.Kind)), zap.Error(err))
			},
		}
		log.Info("AMQP_URL not set, affiliate events are handled in process")
	}

	// ===== SERVICES =====
	tokens := services.NewTokenIssuer(cfg.JWTSecret, cfg.JWTTTL)
	affiliates := services.NewAffiliateService(users, affiliateRepo, publisher, services.Programme{
		Commission:       models.Money(cfg.Programme.CommissionPence),
		MinimumPayout:    models.Money(cfg.Programme.MinimumPayoutPence),
		ClickDedupWindow: cfg.Programme.ClickDedupWindow,
		ReferralBaseURL:  cfg.AppURL,
	}, log)
	payouts := services.NewPayoutService(affiliateRepo, payoutRepo, users, db, publisher,
		models.Money(cfg.Programme.MinimumPayoutPence), log)
	auth := services.NewAuthService(users, affiliates, mailer, tokens, services.AuthOptions{
		TrialLength:     cfg.Programme.TrialLength,
		VerificationTTL: cfg.Programme.VerificationTTL,
		VerifyURL:       cfg.AppURL,
	}, log)
	if cfg.Stripe.SecretKey == "" {
		log.Warn("STRIPE_SECRET_KEY not set, billing calls will fail")
	}
	billingSvc := services.NewBillingService(users,
		billing.NewStripeProvider(cfg.Stripe.SecretKey, cfg.Stripe.PriceID, cfg.Stripe.WebhookSecret),
		affiliates, cfg.AppURL, log)
	humanizer := services.NewHumanizerService(nil, services.HumanizerOptions{
		BaseURL:      cfg.Humanizer.BaseURL,
		APIKey:       cfg.Humanizer.APIKey,
		PollAttempts: cfg.Humanizer.PollAttempts,
		PollInterval: cfg.Humanizer.PollInterval,
		Fallback:     cfg.Humanizer.Fallback,
	}, log)

	sweeper := services.NewTrialSweeper(users, log)
	if err := sweeper.Start(cfg.TrialSweepInterval); err != nil {
		return err
	}
	defer func() { _ = sweeper.Stop() }()

	// ===== RATE LIMITING =====
	var limiter middleware.Limiter
	if cfg.RateLimit.Enabled {
		limiter = newLimiter(ctx, cfg, log)
	}

	// ===== ROUTER =====
	if cfg.Release() {
		gin.SetMode(gin.ReleaseMode)
	} else {
		gin.SetMode(gin.DebugMode)
	}
	h := handlers.New(handlers.Deps{
		Auth:              auth,
		Tokens:            tokens,
		Affiliates:        affiliates,
		Payouts:           payouts,
		Billing:           billingSvc,
		Humanizer:         humanizer,
		Push:              push,
		Ping:              db.Ping,
		Log:               log,
		AppURL:            cfg.AppURL,
		SecureCookies:     cfg.SecureCookies,
		ReferralCookieTTL: cfg.Programme.ReferralCookieTTL,
		HumanizeTimeout:   time.Duration(cfg.Humanizer.PollAttempts+2) * cfg.Humanizer.PollInterval,
	})
	router := routes.SetupRouter(h, routes.Options{
		CORSOrigins: cfg.CORSOrigins,
		Limiter:     limiter,
		Hub:         hub,
		Tokens:      tokens,
		Log:         log,
	})

	// ===== SERVER =====
	server := &http.Server{
		Addr:              ":" + cfg.Port,
		Handler:           router,
		ReadHeaderTimeout: 10 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		log.Info("server listening", zap.String("addr", server.Addr))
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	log.Info("shutting down server")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		log.Warn("forced shutdown", zap.Error(err))
	}
	log.Info("server stopped gracefully")
	return nil
}

// newLimiter prefers the shared Redis bucket and falls back to the
// in-process sliding window when Redis is absent or unreachable.
func newLimiter(ctx context.Context, cfg *config.Config, log *zap.Logger) middleware.Limiter {
	fallback := middleware.NewIPRateLimiter(cfg.RateLimit.Capacity, time.Duration(cfg.RateLimit.Capacity)*cfg.RateLimit.RefillInterval/time.Duration(cfg.RateLimit.RefillTokens))
	if cfg.RedisURL == "" {
		log.Info("REDIS_URL not set, using in-memory rate limiter")
		return fallback
	}
	opts, err := redis.ParseURL(cfg.RedisURL)
	if err != nil {
		log.Warn("invalid REDIS_URL, using in-memory rate limiter", zap.Error(err))
		return fallback
	}
	rdb := redis.NewClient(opts)
	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := rdb.Ping(pingCtx).Err(); err != nil {
		log.Warn("redis unreachable, using in-memory rate limiter", zap.Error(err))
		_ = rdb.Close()
		return fallback
	}
	log.Info("rate limiting through redis")
	return middleware.NewRedisTokenBucket(rdb, middleware.TokenBucketConfig{
		Capacity:       cfg.RateLimit.Capacity,
		RefillTokens:   cfg.RateLimit.RefillTokens,
		RefillInterval: cfg.RateLimit.RefillInterval,
		TTL:            cfg.RateLimit.TTL,
		Prefix:         cfg.RateLimit.Prefix,
	})
}
