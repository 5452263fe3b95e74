package job

import (
	"context"
	"sync"
	"time"

	"neobank/internal/config"
	"neobank/internal/model"
	"neobank/internal/repository"

	"github.com/sirupsen/logrus"
	"gorm.io/gorm"
)

// Publisher delivers one outbox message to its destination.
type Publisher interface {
	Publish(ctx context.Context, msg *model.OutboxMessage) error
}

// ============================================================================
// Outbox sender
// ============================================================================
//
// Ledger changes enqueue their events in outbox_message inside the same
// database transaction. This job polls the PENDING rows and hands each one to
// the publisher registered for its topic:
//
//   PENDING --publish ok--> SENT
//   PENDING --publish err--> PENDING, retry_count+1
//                        \-> FAILED once retry_count reaches max_retry_count
//
// Delivery is at least once; consumers dedupe on the message key.
// ============================================================================

type OutboxSender struct {
	outboxRepo    *repository.OutboxRepository
	publishers    map[string]Publisher
	log           *logrus.Logger
	interval      time.Duration
	batchSize     int
	maxRetryCount int
	stopCh        chan struct{}

	mu      sync.Mutex
	stopped bool
	done    chan struct{}
}

func NewOutboxSender(db *gorm.DB, cfg *config.JobsConfig, log *logrus.Logger) *OutboxSender {
	return &OutboxSender{
		outboxRepo:    repository.NewOutboxRepository(db),
		publishers:    make(map[string]Publisher),
		log:           log,
		interval:      cfg.OutboxInterval,
		batchSize:     cfg.OutboxBatchSize,
		maxRetryCount: cfg.MaxRetryCount,
		stopCh:        make(chan struct{}),
	}
}

// Register routes messages of topic to p. Must be called before Start.
func (s *OutboxSender) Register(topic string, p Publisher) {
	s.publishers[topic] = p
}

// Start polls until ctx is done or Stop is called. A sender that was already
// stopped returns at once.
func (s *OutboxSender) Start(ctx context.Context) {
	s.mu.Lock()
	if s.stopped {
		s.mu.Unlock()
		return
	}
	done := make(chan struct{})
	s.done = done
	s.mu.Unlock()
	defer close(done)

	s.log.WithField("interval", s.interval.String()).Info("outbox sender started")

	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			s.log.Info("outbox sender stopped: context done")
			return
		case <-s.stopCh:
			s.log.Info("outbox sender stopped")
			return
		case <-ticker.C:
			s.processPendingMessages(ctx)
		}
	}
}

// Stop ends the poll loop and waits for the batch in flight to finish.
func (s *OutboxSender) Stop() {
	s.mu.Lock()
	if !s.stopped {
		s.stopped = true
		close(s.stopCh)
	}
	done := s.done
	s.mu.Unlock()

	if done != nil {
		<-done
	}
}

// processPendingMessages handles one batch and returns how many were sent.
func (s *OutboxSender) processPendingMessages(ctx context.Context) int {
	messages, err := s.outboxRepo.GetPendingMessages(ctx, s.batchSize)
	if err != nil {
		s.log.WithError(err).Error("failed to load pending outbox messages")
		return 0
	}

	sent := 0
	for _, msg := range messages {
		if s.sendMessage(ctx, msg) {
			sent++
		}
	}
	return sent
}

func (s *OutboxSender) sendMessage(ctx context.Context, msg *model.OutboxMessage) bool {
	entry := s.log.WithFields(logrus.Fields{
		"outbox_id":  msg.ID,
		"topic":      msg.Topic,
		"event_type": msg.EventType,
		"key":        msg.MessageKey,
	})

	publisher, ok := s.publishers[msg.Topic]
	if !ok {
		entry.Warn("no publisher registered for topic")
		s.recordFailure(ctx, entry, msg)
		return false
	}

	if err := publisher.Publish(ctx, msg); err != nil {
		entry.WithError(err).Warn("failed to publish outbox message")
		s.recordFailure(ctx, entry, msg)
		return false
	}

	if err := s.outboxRepo.MarkAsSent(ctx, msg.ID); err != nil {
		entry.WithError(err).Error("failed to mark outbox message as sent")
		return false
	}

	entry.Debug("outbox message sent")
	return true
}

func (s *OutboxSender) recordFailure(ctx context.Context, entry *logrus.Entry, msg *model.OutboxMessage) {
	if msg.RetryCount+1 >= s.maxRetryCount {
		if err := s.outboxRepo.MarkAsFailed(ctx, msg.ID); err != nil {
			entry.WithError(err).Error("failed to mark outbox message as failed")
			return
		}
		entry.Error("outbox message exceeded max retries, marked as failed")
		return
	}

	if err := s.outboxRepo.IncrementRetryCount(ctx, msg.ID); err != nil {
		entry.WithError(err).Error("failed to increment outbox retry count")
	}
}
