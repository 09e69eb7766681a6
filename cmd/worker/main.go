package main

import (
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/jmoiron/sqlx"
	"github.com/rs/zerolog/log"
	"go.mongodb.org/mongo-driver/mongo"

	"github.com/evcarbon/carbon-credit-api/internal/config"
	"github.com/evcarbon/carbon-credit-api/internal/domain/creditrequest"
	"github.com/evcarbon/carbon-credit-api/internal/domain/marketplace"
	"github.com/evcarbon/carbon-credit-api/internal/domain/vehicle"
	"github.com/evcarbon/carbon-credit-api/internal/domain/verification"
	"github.com/evcarbon/carbon-credit-api/internal/pkg/database"
	"github.com/evcarbon/carbon-credit-api/internal/pkg/logger"
	"github.com/evcarbon/carbon-credit-api/internal/pkg/outbox"
	"github.com/evcarbon/carbon-credit-api/internal/pkg/rabbitmq"
	"github.com/evcarbon/carbon-credit-api/internal/pkg/svcclient"
)

// worker drains the outbox and prunes expired idempotency keys. It shares
// the API's Postgres schema; the API applies migrations on boot.
func main() {
	cfg := config.Load()
	if err := logger.Init(logger.Config{
		Level:       cfg.LogLevel,
		Environment: cfg.Env,
		LogFile:     cfg.LogFile,
		Service:     "carbon-worker",
	}); err != nil {
		log.Fatal().Err(err).Msg("Failed to init logger")
	}

	log.Info().
		Dur("outbox_interval", cfg.OutboxInterval).
		Str("prune_schedule", cfg.PruneSchedule).
		Msg("Starting carbon worker")

	db, err := database.NewPostgres(cfg.DatabaseURL)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to connect to PostgreSQL")
	}
	defer database.ClosePostgres(db)

	events, closeEvents, err := rabbitmq.New(cfg.RabbitMQURL, cfg.RabbitMQExchange)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to connect to RabbitMQ")
	}
	defer closeEvents()

	jobs := outbox.NewStore(db, cfg.OutboxMaxAttempts)
	dispatcher := newDispatcher(cfg, db, jobs, events)

	var (
		pruner      keyPruner
		mongoClient *mongo.Client
	)
	if cfg.ServiceEnabled(config.ServiceEVData) {
		client, mdb, err := database.NewMongo(cfg.MongoURL, cfg.MongoDatabase)
		if err != nil {
			log.Fatal().Err(err).Msg("Failed to connect to MongoDB")
		}
		mongoClient = client

		// pruning only rewrites the key lists embedded in each vehicle
		pruner = vehicle.NewService(vehicle.NewMongoRepository(mdb), nil, nil)
	}
	defer database.CloseMongo(mongoClient)

	sched, err := newScheduler(cfg.OutboxInterval, cfg.PruneSchedule, dispatcher, pruner)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to create scheduler")
	}
	sched.Start()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Info().Msg("Shutdown signal received")
	done := make(chan struct{})
	go func() {
		sched.Stop()
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(30 * time.Second):
		log.Warn().Msg("Timed out waiting for running jobs")
	}
	log.Info().Msg("Worker exited")
}

// newDispatcher wires every outbox kind to the service that owns the retry
func newDispatcher(cfg *config.Config, db *sqlx.DB, jobs *outbox.Store, events rabbitmq.Publisher) *outbox.Dispatcher {
	verificationClient := svcclient.NewVerificationClient(cfg.VerificationServiceURL, cfg.ServiceAPISecret, cfg.UpstreamTimeout())
	issueClient := svcclient.NewWalletClient(cfg.WalletServiceURL, cfg.ServiceAPISecret, cfg.WalletIssueTimeout())
	transferClient := svcclient.NewWalletClient(cfg.WalletServiceURL, cfg.ServiceAPISecret, cfg.UpstreamTimeout())

	credits := creditrequest.NewService(creditrequest.NewRepository(db), verificationClient, jobs)
	// certificate documents are rendered on approval, never by a retried issuance
	verifications := verification.NewService(verification.NewRepository(db), issueClient, jobs, nil, cfg.WalletIssueTimeout())
	market := marketplace.NewService(marketplace.NewRepository(db), transferClient, events, jobs, nil)

	d := outbox.NewDispatcher(jobs, cfg.OutboxBatchSize)
	d.Register(outbox.KindVerificationSubmit, credits.HandleForwardJob)
	d.Register(outbox.KindWalletIssue, verifications.HandleIssueJob)
	d.Register(outbox.KindWalletCompensate, market.HandleCompensateJob)
	d.Register(outbox.KindEventPublish, market.HandlePublishJob)
	return d
}
