package main

import (
	"context"
	"fmt"
	"time"

	"github.com/robfig/cron/v3"
	"github.com/rs/zerolog/log"
)

// maxDrainRounds bounds how many batches one tick may dispatch, so a
// persistent backlog cannot starve the prune job.
const maxDrainRounds = 10

type batchRunner interface {
	RunOnce(ctx context.Context) (int, error)
}

type keyPruner interface {
	PruneKeys(ctx context.Context) (int, error)
}

type scheduler struct {
	cron    *cron.Cron
	outbox  batchRunner
	keys    keyPruner
	timeout time.Duration
}

// newScheduler registers the outbox drain every outboxEvery and, when keys is
// set, idempotency key pruning on pruneSpec. Nothing runs until Start.
func newScheduler(outboxEvery time.Duration, pruneSpec string, outbox batchRunner, keys keyPruner) (*scheduler, error) {
	if outboxEvery <= 0 {
		return nil, fmt.Errorf("outbox interval must be positive, got %s", outboxEvery)
	}

	s := &scheduler{
		cron: cron.New(
			cron.WithLocation(time.UTC),
			cron.WithChain(cron.Recover(cronLogger{}), cron.SkipIfStillRunning(cronLogger{})),
		),
		outbox:  outbox,
		keys:    keys,
		timeout: 5 * time.Minute,
	}

	if _, err := s.cron.AddFunc(fmt.Sprintf("@every %s", outboxEvery), s.drainOutbox); err != nil {
		return nil, fmt.Errorf("register outbox job: %w", err)
	}
	if keys != nil {
		if _, err := s.cron.AddFunc(pruneSpec, s.pruneKeys); err != nil {
			return nil, fmt.Errorf("register prune job %q: %w", pruneSpec, err)
		}
	}
	return s, nil
}

func (s *scheduler) Start() {
	s.cron.Start()
	log.Info().Int("jobs", len(s.cron.Entries())).Msg("Scheduler started")
}

// Stop waits for running jobs to finish
func (s *scheduler) Stop() {
	<-s.cron.Stop().Done()
	log.Info().Msg("Scheduler stopped")
}

func (s *scheduler) drainOutbox() {
	ctx, cancel := context.WithTimeout(context.Background(), s.timeout)
	defer cancel()

	total := 0
	for round := 0; round < maxDrainRounds; round++ {
		n, err := s.outbox.RunOnce(ctx)
		if err != nil {
			log.Error().Err(err).Msg("Outbox dispatch failed")
			break
		}
		total += n
		if n == 0 {
			break
		}
	}
	if total > 0 {
		log.Info().Int("jobs", total).Msg("Outbox drained")
	}
}

func (s *scheduler) pruneKeys() {
	ctx, cancel := context.WithTimeout(context.Background(), s.timeout)
	defer cancel()

	n, err := s.keys.PruneKeys(ctx)
	if err != nil {
		log.Error().Err(err).Msg("Idempotency key pruning failed")
		return
	}
	log.Info().Int("pruned", n).Msg("Idempotency keys pruned")
}

// cronLogger routes cron's own messages into zerolog
type cronLogger struct{}

func (cronLogger) Info(msg string, keysAndValues ...interface{}) {
	log.Debug().Fields(keysAndValues).Msg("cron: " + msg)
}

func (cronLogger) Error(err error, msg string, keysAndValues ...interface{}) {
	log.Error().Err(err).Fields(keysAndValues).Msg("cron: " + msg)
}
