package main

import (
	"context"
	"expvar"
	"fmt"
	"log"
	"os"
	"runtime"
	"strconv"
	"strings"
	"time"

	"linkwave/internal/auth"
	"linkwave/internal/billing"
	"linkwave/internal/db"
	"linkwave/internal/documents"
	"linkwave/internal/domain/outbox"
	"linkwave/internal/domain/storage"
	"linkwave/internal/events"
	"linkwave/internal/mailer"
	"linkwave/internal/notifications"
	"linkwave/internal/payments"
	"linkwave/internal/ratelimiter"
	"linkwave/internal/reconcile"
	"linkwave/internal/reconcile/zoho"
	"linkwave/internal/tracing"

	"github.com/9ssi7/exponent"
	"github.com/cloudinary/cloudinary-go/v2"
	"github.com/joho/godotenv"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"golang.org/x/crypto/bcrypt"
)

var version = "1.0.0"

func envString(key, def string) string {
	if v, ok := os.LookupEnv(key); ok && strings.TrimSpace(v) != "" {
		return strings.TrimSpace(v)
	}
	return def
}

func envInt(key string, def int) int {
	v, ok := os.LookupEnv(key)
	if !ok || v == "" {
		return def
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		log.Printf("invalid %s=%q, using %d", key, v, def)
		return def
	}
	return n
}

func envBool(key string, def bool) bool {
	v, ok := os.LookupEnv(key)
	if !ok || v == "" {
		return def
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		log.Printf("invalid %s=%q, using %t", key, v, def)
		return def
	}
	return b
}

func envDuration(key string, def time.Duration) time.Duration {
	v, ok := os.LookupEnv(key)
	if !ok || v == "" {
		return def
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		log.Printf("invalid %s=%q, using %s", key, v, def)
		return def
	}
	return d
}

func envList(key string) []string {
	var out []string
	for _, part := range strings.Split(os.Getenv(key), ",") {
		if p := strings.TrimSpace(part); p != "" {
			out = append(out, p)
		}
	}
	return out
}

// LoadRateLimiterConfig reads the webhook limiter settings. The window is
// per client IP.
func LoadRateLimiterConfig() ratelimiter.Config {
	return ratelimiter.Config{
		RequestsPerTimeFrame: envInt("RATELIMITER_REQUESTS_COUNT", 100),
		TimeFrame:            envDuration("RATELIMITER_TIME_FRAME", time.Minute),
		Enabled:              envBool("RATE_LIMITER_ENABLED", true),
		RedisAddr:            envString("REDIS_ADDR", ""),
		RedisPassword:        envString("REDIS_PASSWORD", ""),
	}
}

// NewLogger creates a console zap logger with coloured levels.
func NewLogger(level string) (*zap.SugaredLogger, error) {
	encoderCfg := zap.NewProductionEncoderConfig()
	encoderCfg.EncodeTime = zapcore.ISO8601TimeEncoder
	encoderCfg.EncodeLevel = zapcore.CapitalColorLevelEncoder

	lvl := zapcore.InfoLevel
	if level != "" {
		if err := lvl.UnmarshalText([]byte(level)); err != nil {
			return nil, fmt.Errorf("invalid LOG_LEVEL %q: %w", level, err)
		}
	}

	core := zapcore.NewCore(zapcore.NewConsoleEncoder(encoderCfg), zapcore.AddSync(os.Stdout), lvl)
	return zap.New(core).Sugar(), nil
}

func loadConfig() (config, error) {
	proxies, err := payments.ParseTrustedProxies(envString("TRUSTED_PROXIES", payments.DefaultTrustedProxies))
	if err != nil {
		return config{}, err
	}

	return config{
		addr:      envString("ADDR", ":8080"),
		env:       envString("ENV", "development"),
		apiURL:    envString("EXTERNAL_URL", "localhost:8080"),
		portalURL: envString("PORTAL_URL", "https://www.linkwave.co.za"),
		logLevel:  envString("LOG_LEVEL", "info"),
		otelHost:  envString("OTEL_COLLECTOR_HOST", ""),
		timezone:  envString("TZ_BILLING", "Africa/Johannesburg"),
		db: dbConfig{
			addr:         envString("DB_ADDR", ""),
			maxOpenConns: envInt("DB_MAX_OPEN_CONNS", 20),
			maxIdleConns: envInt("DB_MAX_IDLE_CONNS", 2),
			maxIdleTime:  envString("DB_MAX_IDLE_TIME", "15m"),
		},
		mail: mailConfig{
			host:         envString("SMTP_HOST", ""),
			port:         envInt("SMTP_PORT", 587),
			username:     envString("SMTP_USERNAME", ""),
			password:     envString("SMTP_PASSWORD", ""),
			fromEmail:    envString("MAIL_FROM_EMAIL", "billing@linkwave.co.za"),
			financeEmail: envString("FINANCE_EMAIL", "finance@linkwave.co.za"),
			supportEmail: envString("SUPPORT_EMAIL", "support@linkwave.co.za"),
		},
		auth: authConfig{
			basic: basicConfig{
				user:     envString("AUTH_BASIC_USER", ""),
				pass:     envString("AUTH_BASIC_PASS", ""),
				passHash: envString("AUTH_BASIC_PASS_HASH", ""),
			},
			token: tokenConfig{
				secret: envString("AUTH_JWT_SECRET", ""),
				aud:    envString("AUTH_JWT_AUDIENCE", "authenticated"),
				iss:    envString("AUTH_JWT_ISSUER", ""),
			},
			cronSecret:    envString("CRON_SECRET", ""),
			callbackToken: envString("NOTIFICATION_CALLBACK_TOKEN", ""),
		},
		netcash: netcashConfig{
			webhookSecret: envString("NETCASH_WEBHOOK_SECRET", ""),
			serviceKey:    envString("NETCASH_SERVICE_KEY", ""),
			vaultKey:      envString("NETCASH_VAULT_KEY", ""),
			returnURL:     envString("NETCASH_RETURN_URL", ""),
			cancelURL:     envString("NETCASH_CANCEL_URL", ""),
			referenceSalt: envString("PAYNOW_REFERENCE_SALT", "linkwave"),
		},
		sms: smsConfig{
			apiKey:  envString("CLICKATELL_API_KEY", ""),
			baseURL: envString("CLICKATELL_BASE_URL", notifications.ClickatellBaseURL),
			pace:    envDuration("SMS_PACE", 500*time.Millisecond),
		},
		push: pushConfig{
			accessToken: envString("EXPO_ACCESS_TOKEN", ""),
		},
		zoho: zoho.Config{
			Region:         envString("ZOHO_REGION", "US"),
			OrganizationID: envString("ZOHO_ORG_ID", ""),
			ClientID:       envString("ZOHO_CLIENT_ID", ""),
			ClientSecret:   envString("ZOHO_CLIENT_SECRET", ""),
			RefreshToken:   envString("ZOHO_REFRESH_TOKEN", ""),
		},
		kafka: kafkaConfig{
			brokers: envList("KAFKA_BROKERS"),
			topic:   envString("KAFKA_TOPIC", "billing-events"),
		},
		scheduler: schedulerConfig{
			enabled:         envBool("SCHEDULER_ENABLED", true),
			dispatcherPoll:  envDuration("DISPATCHER_POLL_INTERVAL", 30*time.Second),
			zohoSyncEvery:   envDuration("ZOHO_SYNC_INTERVAL", 15*time.Minute),
			monitorEvery:    envDuration("SYNC_MONITOR_INTERVAL", 4*time.Hour),
			zohoSyncBatch:   envInt("ZOHO_SYNC_BATCH", 50),
			reminderDaysOut: envInt("REMINDER_DAYS_BEFORE_DUE", 5),
		},
		monitor: reconcile.MonitorConfig{
			FailedThreshold: envInt("SYNC_FAILED_THRESHOLD", 5),
			SuccessRateMin:  envInt("SYNC_SUCCESS_RATE_MIN", 95),
			StaleAfter:      envDuration("SYNC_STALE_AFTER", 4*time.Hour),
			AlertEmail:      envString("PAYMENT_ALERT_EMAIL", ""),
			AlertWebhookURL: envString("PAYMENT_ALERT_WEBHOOK_URL", ""),
		},
		cloudinary: cloudinaryConfig{
			url:    envString("CLOUDINARY_URL", ""),
			folder: envString("CLOUDINARY_FOLDER", "billing"),
		},
		rateLimiter:    LoadRateLimiterConfig(),
		trustedProxies: proxies,
	}, nil
}

//	@title			Linkwave Billing API
//	@description	Payment webhooks, billing notifications and Zoho reconciliation for Linkwave.

//	@contact.name	Linkwave Engineering
//	@contact.email	dev@linkwave.co.za

//	@BasePath					/v1
//	@securityDefinitions.apikey	ApiKeyAuth
//	@in							header
//	@name						Authorization
//	@description

func main() {
	if err := godotenv.Load(); err != nil && !os.IsNotExist(err) {
		log.Fatalf("Error loading .env file: %v", err)
	}
	cfg, err := loadConfig()
	if err != nil {
		log.Fatal(err)
	}

	logger, err := NewLogger(cfg.logLevel)
	if err != nil {
		log.Fatal(err)
	}
	defer logger.Sync()

	loc, err := time.LoadLocation(cfg.timezone)
	if err != nil {
		logger.Fatalw("load timezone", "tz", cfg.timezone, "error", err)
	}

	// Basic auth compares against a bcrypt hash only.
	if cfg.auth.basic.passHash == "" && cfg.auth.basic.pass != "" {
		h, err := bcrypt.GenerateFromPassword([]byte(cfg.auth.basic.pass), bcrypt.DefaultCost)
		if err != nil {
			logger.Fatal(err)
		}
		cfg.auth.basic.passHash = string(h)
		cfg.auth.basic.pass = ""
	}

	ctx, stop := context.WithCancel(context.Background())
	defer stop()

	if cfg.otelHost != "" {
		tp, err := tracing.InitTracing(ctx, cfg.otelHost, "linkwave-billing", version)
		if err != nil {
			logger.Fatal(err)
		}
		defer func() {
			sctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			_ = tp.Shutdown(sctx)
		}()
		logger.Infow("tracing enabled", "collector", cfg.otelHost)
	}

	// Database
	pool, err := db.New(cfg.db.addr, int32(cfg.db.maxOpenConns), int32(cfg.db.maxIdleConns), cfg.db.maxIdleTime)
	if err != nil {
		logger.Fatal(err)
	}
	defer pool.Close()
	logger.Info("database connection pool established")

	store := storage.NewContainer(pool)

	// Events
	var publisher events.Publisher = events.Nop{}
	if len(cfg.kafka.brokers) > 0 {
		publisher = events.NewKafkaPublisher(cfg.kafka.brokers, cfg.kafka.topic, logger)
		logger.Infow("publishing billing events to kafka", "brokers", cfg.kafka.brokers, "topic", cfg.kafka.topic)
	}
	defer publisher.Close()

	// Mail, SMS, push
	smtp, err := mailer.NewSMTPMailer(cfg.mail.host, cfg.mail.port, cfg.mail.username, cfg.mail.password, cfg.mail.fromEmail)
	if err != nil {
		logger.Fatal(err)
	}
	sms := notifications.NewClickatellClient(cfg.sms.apiKey, cfg.sms.baseURL)
	expo := exponent.NewClient(exponent.WithAccessToken(cfg.push.accessToken))

	dispatcher := notifications.NewDispatcher(store.Outbox, store.NotifyLog, store.Webhooks,
		notifications.DispatcherConfig{PollInterval: cfg.scheduler.dispatcherPoll}, logger)
	dispatcher.Register(outbox.ChannelEmail, notifications.NewEmailChannel(smtp))
	dispatcher.Register(outbox.ChannelSMS, notifications.NewSMSChannel(sms))
	dispatcher.Register(outbox.ChannelPush, notifications.NewPushChannel(expo))

	// Payment gateway
	refs, err := payments.NewReferenceGenerator(cfg.netcash.referenceSalt)
	if err != nil {
		logger.Fatal(err)
	}
	gateways := payments.NewPaymentManager()
	gateways.RegisterGateway(payments.ProviderNetcash, payments.NewNetcashAdapter(
		cfg.netcash.serviceKey, cfg.netcash.vaultKey, cfg.netcash.returnURL, cfg.netcash.cancelURL, refs,
	))

	// Document archive
	var archive billing.Archiver
	if cfg.cloudinary.url != "" {
		cld, err := cloudinary.NewFromURL(cfg.cloudinary.url)
		if err != nil {
			logger.Fatal(err)
		}
		archive = documents.NewArchive(cld, cfg.cloudinary.folder)
	}

	// Reconciliation
	zohoClient := zoho.NewClient(cfg.zoho)
	if !cfg.zoho.Enabled() {
		logger.Warn("zoho billing credentials not configured; sync calls will fail")
	}
	syncSvc := reconcile.NewSyncService(zohoClient, store.Transactions, store.Invoices, store.Customers, store.ZohoSync, publisher, logger)
	monitor := reconcile.NewPaymentSyncMonitor(store.Transactions, store.MonitorLogs, smtp, cfg.monitor, logger)

	// Billing pipeline
	processor := billing.NewProcessor(store, store.Customers, store.Webhooks, publisher,
		billing.ProcessorConfig{FinanceEmail: cfg.mail.financeEmail}, logger)
	intake := billing.NewIntake(store.Webhooks, processor, store,
		billing.IntakeConfig{WebhookSecret: cfg.netcash.webhookSecret, Environment: cfg.env, TrustedProxies: cfg.trustedProxies}, logger)
	notifier := billing.NewInvoiceNotifier(store, store.Invoices, store.NotifyLog, syncSvc, archive, gateways, logger)
	smsReminders := billing.NewSMSReminders(store.Invoices, sms, store.NotifyLog, billing.SMSReminderConfig{
		PortalURL:    cfg.portalURL,
		SupportEmail: cfg.mail.supportEmail,
		Pace:         cfg.sms.pace,
	}, logger)
	emailReminders := billing.NewEmailReminders(store, store.Invoices, logger)
	tracker := billing.NewTracker(store.NotifyLog, store.Receivables, logger)
	monthly := billing.NewMonthlyInvoices(store.Services, store.Invoices, notifier, syncSvc, publisher, loc, logger)

	// Rate limiter
	var limiter ratelimiter.Limiter = ratelimiter.NewFixedWindowLimiter(
		cfg.rateLimiter.RequestsPerTimeFrame,
		cfg.rateLimiter.TimeFrame,
	)
	if cfg.rateLimiter.RedisAddr != "" {
		rdb := redis.NewClient(&redis.Options{Addr: cfg.rateLimiter.RedisAddr, Password: cfg.rateLimiter.RedisPassword})
		defer rdb.Close()
		limiter = ratelimiter.NewRedisFixedWindowLimiter(rdb, cfg.rateLimiter.RequestsPerTimeFrame, cfg.rateLimiter.TimeFrame, "rl:webhook:", logger)
	}

	app := &application{
		config:         cfg,
		logger:         logger,
		store:          store,
		authenticator:  auth.NewJWTAuthenticator(cfg.auth.token.secret, cfg.auth.token.aud, cfg.auth.token.iss),
		rateLimiter:    limiter,
		intake:         intake,
		notifier:       notifier,
		smsReminders:   smsReminders,
		emailReminders: emailReminders,
		tracker:        tracker,
		monthly:        monthly,
		sync:           syncSvc,
		monitor:        monitor,
		dispatcher:     dispatcher,
		location:       loc,
	}

	//Metrics collected http://localhost:8080/v1/debug/vars
	expvar.NewString("version").Set(version)
	expvar.Publish("database", expvar.Func(func() any {
		s := pool.Stat()
		return map[string]any{
			"total_conns":    s.TotalConns(),
			"idle_conns":     s.IdleConns(),
			"acquired_conns": s.AcquiredConns(),
			"max_conns":      s.MaxConns(),
		}
	}))
	expvar.Publish("goroutines", expvar.Func(func() any {
		return runtime.NumGoroutine()
	}))

	// Background workers
	listener, err := db.NewListener(cfg.db.addr, "notification_outbox", logger)
	if err != nil {
		logger.Warnw("outbox listener unavailable; dispatcher will poll only", "error", err)
		go dispatcher.Run(ctx, nil)
	} else {
		defer listener.Close()
		go dispatcher.Run(ctx, listener.Notify)
	}

	if cfg.scheduler.enabled {
		sched, err := app.startScheduler(ctx)
		if err != nil {
			logger.Fatal(err)
		}
		defer sched.Shutdown()
	}

	mux := app.mount()

	if err := app.run(mux); err != nil {
		logger.Errorw("server stopped", "error", err)
	}
}
