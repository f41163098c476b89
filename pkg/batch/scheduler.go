package batch

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"github.com/rs/zerolog"

	"github.com/cuemby/anchor/pkg/events"
	"github.com/cuemby/anchor/pkg/ledger"
	"github.com/cuemby/anchor/pkg/log"
	"github.com/cuemby/anchor/pkg/versions"
)

// Scheduler periodically drives the batch writer of the protocol version
// active at the current ledger height
type Scheduler struct {
	dispatcher *versions.Dispatcher
	ledger     ledger.Client
	broker     *events.Broker
	interval   time.Duration

	stopCh chan struct{}
	doneCh chan struct{}
	logger zerolog.Logger
}

// NewScheduler creates a batching scheduler
func NewScheduler(dispatcher *versions.Dispatcher, ledgerClient ledger.Client, broker *events.Broker, interval time.Duration) *Scheduler {
	return &Scheduler{
		dispatcher: dispatcher,
		ledger:     ledgerClient,
		broker:     broker,
		interval:   interval,
		stopCh:     make(chan struct{}),
		doneCh:     make(chan struct{}),
		logger:     log.WithComponent("batch"),
	}
}

// Start begins the batching loop
func (s *Scheduler) Start() {
	go s.run()
}

// Stop stops the scheduler at the next cycle boundary
func (s *Scheduler) Stop() {
	close(s.stopCh)
	<-s.doneCh
}

func (s *Scheduler) run() {
	defer close(s.doneCh)

	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	s.logger.Info().Msg("Batch scheduler started")

	for {
		select {
		case <-ticker.C:
			if err := s.writeBatch(); err != nil {
				// Log error but continue; queued operations stay queued
				s.logger.Error().Err(err).Msg("Batching cycle failed")
			}
		case <-s.stopCh:
			s.logger.Info().Msg("Batch scheduler stopped")
			return
		}
	}
}

// writeBatch runs one batching cycle
func (s *Scheduler) writeBatch() error {
	ctx := context.Background()

	latest, err := s.ledger.GetLatestTime(ctx)
	if err != nil {
		return fmt.Errorf("failed to read ledger time: %w", err)
	}

	writer, err := s.dispatcher.BatchWriterAt(latest.Time)
	if err != nil {
		return err
	}

	anchored, err := writer.WriteBatch(ctx)
	if err != nil {
		return err
	}
	if anchored > 0 {
		s.broker.Publish(events.EventBatchAnchored, "operation batch anchored", map[string]string{
			"operations": strconv.Itoa(anchored),
		})
	}
	return nil
}
