package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog/log"
	"go.mongodb.org/mongo-driver/mongo"

	"github.com/evcarbon/carbon-credit-api/internal/config"
	"github.com/evcarbon/carbon-credit-api/internal/domain/creditrequest"
	"github.com/evcarbon/carbon-credit-api/internal/domain/idempotency"
	"github.com/evcarbon/carbon-credit-api/internal/domain/marketplace"
	"github.com/evcarbon/carbon-credit-api/internal/domain/payment"
	"github.com/evcarbon/carbon-credit-api/internal/domain/vehicle"
	"github.com/evcarbon/carbon-credit-api/internal/domain/verification"
	"github.com/evcarbon/carbon-credit-api/internal/domain/wallet"
	"github.com/evcarbon/carbon-credit-api/internal/middleware"
	"github.com/evcarbon/carbon-credit-api/internal/pkg/database"
	"github.com/evcarbon/carbon-credit-api/internal/pkg/gateway"
	"github.com/evcarbon/carbon-credit-api/internal/pkg/jwt"
	"github.com/evcarbon/carbon-credit-api/internal/pkg/logger"
	"github.com/evcarbon/carbon-credit-api/internal/pkg/outbox"
	"github.com/evcarbon/carbon-credit-api/internal/pkg/rabbitmq"
	pkgresponse "github.com/evcarbon/carbon-credit-api/internal/pkg/response"
	"github.com/evcarbon/carbon-credit-api/internal/pkg/storage"
	"github.com/evcarbon/carbon-credit-api/internal/pkg/svcclient"
	"github.com/evcarbon/carbon-credit-api/migrations"
)

const version = "1.0.0"

// handlers holds the HTTP surface of every enabled service. A nil handler
// means the service is not mounted by this process.
type handlers struct {
	auth        func(http.Handler) http.Handler
	serviceAuth func(http.Handler) http.Handler

	vehicle      *vehicle.Handler
	credit       *creditrequest.Handler
	verification *verification.Handler
	wallet       *wallet.Handler
	marketplace  *marketplace.Handler
	payment      *payment.Handler
}

func main() {
	cfg := config.Load()
	if err := logger.Init(logger.Config{
		Level:       cfg.LogLevel,
		Environment: cfg.Env,
		LogFile:     cfg.LogFile,
		Service:     "carbon-api",
	}); err != nil {
		log.Fatal().Err(err).Msg("Failed to init logger")
	}

	log.Info().
		Str("env", cfg.Env).
		Str("port", cfg.Port).
		Strs("services", cfg.EnabledServices).
		Msg("Starting carbon credit API")

	db, err := database.NewPostgres(cfg.DatabaseURL)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to connect to PostgreSQL")
	}
	defer database.ClosePostgres(db)

	migrateCtx, cancelMigrate := context.WithTimeout(context.Background(), time.Minute)
	if err := database.Migrate(migrateCtx, db, migrations.FS); err != nil {
		log.Fatal().Err(err).Msg("Failed to apply migrations")
	}
	cancelMigrate()

	var rdb *redis.Client
	if rdb, err = database.NewRedis(cfg.RedisURL); err != nil {
		log.Warn().Err(err).Msg("Redis unavailable, idempotency and live events run single-instance")
		rdb = nil
	}
	defer database.CloseRedis(rdb)

	events, closeEvents, err := rabbitmq.New(cfg.RabbitMQURL, cfg.RabbitMQExchange)
	if err != nil {
		log.Warn().Err(err).Msg("RabbitMQ unavailable, domain events disabled")
		events, closeEvents = rabbitmq.NoopPublisher{}, func() {}
	}
	defer closeEvents()

	jobs := outbox.NewStore(db, cfg.OutboxMaxAttempts)
	jwtService := jwt.NewService(cfg.JWTSecret, cfg.JWTAccessTTL)

	// Upstream clients. In a single-process deployment they call back into
	// this same server.
	creditClient := svcclient.NewCreditClient(cfg.CreditServiceURL, cfg.ServiceAPISecret, cfg.UpstreamTimeout())
	verificationClient := svcclient.NewVerificationClient(cfg.VerificationServiceURL, cfg.ServiceAPISecret, cfg.UpstreamTimeout())
	walletClient := svcclient.NewWalletClient(cfg.WalletServiceURL, cfg.ServiceAPISecret, cfg.WalletIssueTimeout())

	h := &handlers{
		auth:        middleware.Auth(jwtService),
		serviceAuth: middleware.ServiceAuth(cfg.ServiceAPISecret),
	}

	var mongoClient *mongo.Client
	if cfg.ServiceEnabled(config.ServiceEVData) {
		client, mdb, err := database.NewMongo(cfg.MongoURL, cfg.MongoDatabase)
		if err != nil {
			log.Fatal().Err(err).Msg("Failed to connect to MongoDB")
		}
		mongoClient = client

		vehicleRepo := vehicle.NewMongoRepository(mdb)
		idxCtx, cancelIdx := context.WithTimeout(context.Background(), 30*time.Second)
		if err := vehicleRepo.EnsureIndexes(idxCtx); err != nil {
			log.Fatal().Err(err).Msg("Failed to create vehicle indexes")
		}
		cancelIdx()

		vehicleService := vehicle.NewService(vehicleRepo, idempotency.NewStore(rdb), creditClient)
		h.vehicle = vehicle.NewHandler(vehicleService)
	}
	defer database.CloseMongo(mongoClient)

	if cfg.ServiceEnabled(config.ServiceCredit) {
		creditService := creditrequest.NewService(creditrequest.NewRepository(db), verificationClient, jobs)
		h.credit = creditrequest.NewHandler(creditService)
	}

	if cfg.ServiceEnabled(config.ServiceVerification) {
		docs, err := storage.New(storage.Config{
			Driver:      cfg.StorageDriver,
			LocalPath:   cfg.StorageLocalPath,
			BaseURL:     cfg.StorageBaseURL,
			S3Endpoint:  cfg.S3Endpoint,
			S3Region:    cfg.S3Region,
			S3Bucket:    cfg.S3Bucket,
			S3AccessKey: cfg.S3AccessKey,
			S3SecretKey: cfg.S3SecretKey,
		})
		if err != nil {
			log.Fatal().Err(err).Str("driver", cfg.StorageDriver).Msg("Failed to create certificate storage")
		}
		verificationService := verification.NewService(verification.NewRepository(db), walletClient, jobs, docs, cfg.WalletIssueTimeout())
		h.verification = verification.NewHandler(verificationService)
	}

	if cfg.ServiceEnabled(config.ServiceWallet) {
		h.wallet = wallet.NewHandler(wallet.NewService(wallet.NewRepository(db)))
	}

	var hub *marketplace.Hub
	if cfg.ServiceEnabled(config.ServiceMarketplace) {
		hub = marketplace.NewHub(rdb)
		go hub.Run()

		transfers := svcclient.NewWalletClient(cfg.WalletServiceURL, cfg.ServiceAPISecret, cfg.UpstreamTimeout())
		marketService := marketplace.NewService(marketplace.NewRepository(db), transfers, events, jobs, hub)
		h.marketplace = marketplace.NewHandler(marketService, hub, cfg.AllowedOrigins)
	}

	if cfg.ServiceEnabled(config.ServicePayment) {
		gw := gateway.New(cfg.StripeSecretKey, cfg.StripeCurrency, cfg.StripeMockMode)
		paymentService := payment.NewService(payment.NewRepository(db), gw, cfg.StripeCurrency)
		paymentService.SetDefaultEscrowFee(cfg.EscrowDefaultFeePercent)
		h.payment = payment.NewHandler(paymentService)
		log.Info().Str("provider", gw.Name()).Msg("Payment gateway ready")
	}

	server := &http.Server{
		Addr:         ":" + cfg.Port,
		Handler:      newRouter(cfg, h),
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	go func() {
		log.Info().Str("addr", server.Addr).Msg("HTTP server listening")
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatal().Err(err).Msg("HTTP server error")
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Info().Msg("Shutting down server...")

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if hub != nil {
		hub.Shutdown()
	}
	if err := server.Shutdown(ctx); err != nil {
		log.Error().Err(err).Msg("Server forced to shutdown")
	}

	log.Info().Msg("Server exited properly")
}

func newRouter(cfg *config.Config, h *handlers) chi.Router {
	r := chi.NewRouter()

	r.Use(chimw.RealIP)
	r.Use(middleware.RequestID)
	r.Use(middleware.Logger)
	r.Use(middleware.Recover)
	r.Use(middleware.Metrics)
	r.Use(middleware.CORSHandler(cfg.AllowedOrigins))

	r.Get("/health", func(w http.ResponseWriter, r *http.Request) {
		pkgresponse.OK(w, map[string]interface{}{
			"status":   "ok",
			"version":  version,
			"services": cfg.EnabledServices,
		})
	})
	r.Handle("/metrics", promhttp.Handler())

	r.Route("/api/v1", func(r chi.Router) {
		r.Get("/ping", func(w http.ResponseWriter, r *http.Request) {
			pkgresponse.OK(w, map[string]string{"message": "pong"})
		})

		if h.vehicle != nil {
			r.Mount("/vehicles", h.vehicle.Routes(h.auth))
		}

		// /credits carries the credit service and the verification intake
		if h.credit != nil || h.verification != nil {
			var credits chi.Router = chi.NewRouter()
			if h.credit != nil {
				credits = h.credit.Routes(h.auth, h.serviceAuth)
				r.Post("/calculate/co2", h.credit.CalculateCO2)
			}
			if h.verification != nil {
				credits.With(h.serviceAuth).Post("/verify", h.verification.Submit)
			}
			r.Mount("/credits", credits)
		}

		if h.verification != nil {
			r.Mount("/verification", h.verification.Routes(h.auth))
		}

		if h.wallet != nil {
			r.Mount("/wallet", h.wallet.Routes(h.auth, h.serviceAuth))
		}

		if h.marketplace != nil {
			r.Mount("/listings", h.marketplace.ListingRoutes(h.auth))
			r.Mount("/orders", h.marketplace.OrderRoutes(h.auth))
			// browsers cannot set headers on a websocket handshake
			r.Get("/marketplace/ws", func(w http.ResponseWriter, r *http.Request) {
				if token := r.URL.Query().Get("token"); token != "" {
					r.Header.Set("Authorization", "Bearer "+token)
				}
				h.auth(http.HandlerFunc(h.marketplace.WebSocket)).ServeHTTP(w, r)
			})
		}

		if h.payment != nil {
			r.Mount("/payments", h.payment.Routes(h.auth))
			r.Mount("/withdrawal", h.payment.WithdrawalRoutes(h.auth))
		}
	})

	return r
}
