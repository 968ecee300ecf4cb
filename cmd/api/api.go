package main

import (
	"context"
	"errors"
	"expvar"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"linkwave/docs" //this is required to generate swagger docs
	"linkwave/internal/auth"
	"linkwave/internal/billing"
	"linkwave/internal/domain/storage"
	"linkwave/internal/notifications"
	"linkwave/internal/payments"
	"linkwave/internal/ratelimiter"
	"linkwave/internal/reconcile"
	"linkwave/internal/reconcile/zoho"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	httpSwagger "github.com/swaggo/http-swagger/v2"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
	"go.uber.org/zap"
)

type application struct {
	config         config
	store          *storage.Container
	logger         *zap.SugaredLogger
	authenticator  auth.Authenticator
	rateLimiter    ratelimiter.Limiter
	intake         *billing.Intake
	notifier       *billing.InvoiceNotifier
	smsReminders   *billing.SMSReminders
	emailReminders *billing.EmailReminders
	tracker        *billing.Tracker
	monthly        *billing.MonthlyInvoices
	sync           *reconcile.SyncService
	monitor        *reconcile.PaymentSyncMonitor
	dispatcher     *notifications.Dispatcher
	location       *time.Location
}

type config struct {
	addr        string
	db          dbConfig
	env         string
	apiURL      string
	portalURL   string
	logLevel    string
	otelHost    string
	timezone    string
	mail        mailConfig
	auth        authConfig
	netcash     netcashConfig
	sms         smsConfig
	push        pushConfig
	zoho        zoho.Config
	kafka       kafkaConfig
	scheduler   schedulerConfig
	monitor     reconcile.MonitorConfig
	cloudinary  cloudinaryConfig
	rateLimiter ratelimiter.Config

	// Peers allowed to set X-Forwarded-For and friends.
	trustedProxies payments.TrustedProxies
}

type authConfig struct {
	basic basicConfig
	token tokenConfig
	// Bearer secret for /cron routes.
	cronSecret string
	// Shared token on provider delivery callbacks.
	callbackToken string
}

type tokenConfig struct {
	secret string
	aud    string
	iss    string
}

type basicConfig struct {
	user     string
	pass     string
	passHash string
}

type mailConfig struct {
	host         string
	port         int
	username     string
	password     string
	fromEmail    string
	financeEmail string
	supportEmail string
}

type dbConfig struct {
	addr         string
	maxOpenConns int
	maxIdleConns int
	maxIdleTime  string
}

type netcashConfig struct {
	webhookSecret string
	serviceKey    string
	vaultKey      string
	returnURL     string
	cancelURL     string
	referenceSalt string
}

type smsConfig struct {
	apiKey  string
	baseURL string
	pace    time.Duration
}

type pushConfig struct {
	accessToken string
}

type kafkaConfig struct {
	brokers []string
	topic   string
}

type schedulerConfig struct {
	enabled         bool
	dispatcherPoll  time.Duration
	zohoSyncEvery   time.Duration
	monitorEvery    time.Duration
	zohoSyncBatch   int
	reminderDaysOut int
}

type cloudinaryConfig struct {
	url    string
	folder string
}

func (app *application) mount() http.Handler {
	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(app.RealIPMiddleware)
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)

	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   []string{"https://*", "http://*"},
		AllowedMethods:   []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type", "X-CSRF-Token"},
		ExposedHeaders:   []string{"Link", "Retry-After", "X-RateLimit-Limit", "X-RateLimit-Remaining", "X-RateLimit-Reset"},
		AllowCredentials: false,
		MaxAge:           300,
	}))

	r.Use(middleware.Timeout(60 * time.Second))

	r.Route("/v1", func(r chi.Router) {
		r.With(app.BasicAuthMiddleware()).Get("/health", app.healthCheckHandler)
		docsURL := fmt.Sprintf("%s/swagger/doc.json", app.config.addr)
		r.Get("/swagger/*", httpSwagger.Handler(httpSwagger.URL(docsURL)))

		r.With(app.BasicAuthMiddleware()).Get("/debug/vars", expvar.Handler().ServeHTTP)

		// Netcash posts here; always answered with 200 so it stops retrying.
		r.Route("/payments/netcash/webhook", func(r chi.Router) {
			r.With(app.WebhookRateLimitMiddleware).Post("/", app.netcashWebhookHandler)
			r.Get("/", app.netcashWebhookHealthHandler)
		})

		r.Route("/notifications/callbacks", func(r chi.Router) {
			r.Use(app.CallbackTokenMiddleware)
			r.Post("/sms", app.smsCallbackHandler)
			r.Post("/email", app.emailCallbackHandler)
		})

		r.Route("/cron", func(r chi.Router) {
			r.Use(app.CronSecretMiddleware)
			r.Get("/payment-sync-monitor", app.paymentSyncMonitorHandler)
			r.Post("/sms-reminders", app.cronSMSRemindersHandler)
			r.Post("/invoice-reminders", app.cronInvoiceRemindersHandler)
			r.Post("/zoho-sync", app.cronZohoSyncHandler)
			r.Post("/ar-snapshot", app.cronARSnapshotHandler)
			r.Post("/monthly-invoices", app.cronMonthlyInvoicesHandler)
		})

		r.Route("/admin", func(r chi.Router) {
			r.Use(app.AdminTokenMiddleware)

			r.Get("/webhooks", app.listWebhooksHandler)
			r.Get("/webhooks/{webhookID}", app.getWebhookHandler)

			r.Get("/payments", app.listPaymentsHandler)
			r.Post("/payments/{transactionID}/sync", app.syncPaymentHandler)

			r.Route("/invoices/{invoiceID}", func(r chi.Router) {
				r.Post("/notify", app.notifyInvoiceHandler)
				r.Post("/sms-reminder", app.sendSMSReminderHandler)
				r.Get("/sms-reminder", app.smsReminderStatusHandler)
				r.Post("/paynow", app.payNowHandler)
				r.Get("/notifications", app.invoiceNotificationsHandler)
			})

			r.Get("/billing/ar-aging", app.arAgingHandler)
			r.Get("/billing/metrics", app.billingMetricsHandler)

			r.Get("/notifications/dead", app.listDeadNotificationsHandler)
			r.Post("/notifications/{messageID}/requeue", app.requeueNotificationHandler)
		})
	})

	return otelhttp.NewHandler(r, "linkwave-api")
}

func (app *application) run(mux http.Handler) error {
	// Docs
	docs.SwaggerInfo.Version = version
	docs.SwaggerInfo.Host = app.config.apiURL
	docs.SwaggerInfo.BasePath = "/v1"

	srv := &http.Server{
		Addr:         app.config.addr,
		Handler:      mux,
		WriteTimeout: time.Second * 30,
		ReadTimeout:  time.Second * 10,
		IdleTimeout:  time.Minute,
	}

	shutdown := make(chan error)

	go func() {
		quit := make(chan os.Signal, 1)

		signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
		s := <-quit

		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()

		app.logger.Infow("signal caught", "signal", s.String())

		shutdown <- srv.Shutdown(ctx)
	}()

	app.logger.Infow("server has started", "addr", app.config.addr, "env", app.config.env)

	err := srv.ListenAndServe()
	if !errors.Is(err, http.ErrServerClosed) {
		return err
	}

	err = <-shutdown
	if err != nil {
		return err
	}

	app.logger.Infow("server has stopped", "addr", app.config.addr, "env", app.config.env)

	return nil
}
