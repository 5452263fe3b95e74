package job

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"neobank/internal/config"
	"neobank/internal/infrastructure/lock"
	"neobank/internal/infrastructure/logger"
	"neobank/internal/infrastructure/mq"
	"neobank/internal/model"
	"neobank/internal/service"
	"neobank/internal/testutil"

	"github.com/IBM/sarama/mocks"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"
)

type recordingPublisher struct {
	mu   sync.Mutex
	got  []*model.OutboxMessage
	fail error
}

func (p *recordingPublisher) Publish(_ context.Context, msg *model.OutboxMessage) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.fail != nil {
		return p.fail
	}
	p.got = append(p.got, msg)
	return nil
}

func testJobsConfig() *config.JobsConfig {
	return &config.JobsConfig{
		OutboxInterval:  10 * time.Millisecond,
		OutboxBatchSize: 100,
		MaxRetryCount:   2,
		ReconcileCron:   "@every 1h",
		ReconcileBatch:  2,
	}
}

// seedActivity runs real deposits and transfers so the outbox and history
// are populated the way production writes them.
func seedActivity(t *testing.T, db *gorm.DB) (a, b *model.Account) {
	t.Helper()

	svc, err := service.NewTransferService(db, lock.NoopLocker{}, &config.LedgerConfig{
		MaxRetries:       3,
		OperationTimeout: 5 * time.Second,
		MaxAmount:        "1000000",
		DefaultPageSize:  10,
		MaxPageSize:      100,
	}, service.EventTopics{LedgerEvents: "ledger-events", Notifications: "ledger-notifications"}, logger.Discard())
	require.NoError(t, err)

	a = testutil.CreateAccount(t, db, "Alice", "alice@example.com", "0")
	b = testutil.CreateAccount(t, db, "Bob", "bob@example.com", "0")

	ctx := context.Background()
	_, err = svc.ExecuteDeposit(ctx, a.ID, decimal.NewFromInt(100))
	require.NoError(t, err)
	_, err = svc.ExecuteTransfer(ctx, a.ID, "bob@example.com", decimal.NewFromInt(40))
	require.NoError(t, err)
	return a, b
}

func TestOutboxSender_RoutesByTopic(t *testing.T) {
	db := testutil.NewDB(t)
	seedActivity(t, db)

	events := &recordingPublisher{}
	notifications := &recordingPublisher{}
	sender := NewOutboxSender(db, testJobsConfig(), logger.Discard())
	sender.Register("ledger-events", events)
	sender.Register("ledger-notifications", notifications)

	sent := sender.processPendingMessages(context.Background())
	assert.Equal(t, 3, sent)

	require.Len(t, events.got, 2)
	assert.Equal(t, model.EventDeposited, events.got[0].EventType)
	assert.Equal(t, model.EventTransferred, events.got[1].EventType)
	require.Len(t, notifications.got, 1)
	assert.Equal(t, model.EventTransferReceived, notifications.got[0].EventType)

	assert.Empty(t, testutil.PendingOutbox(t, db))
	assert.Zero(t, sender.processPendingMessages(context.Background()))
}

func TestOutboxSender_RetriesThenFails(t *testing.T) {
	db := testutil.NewDB(t)
	seedActivity(t, db)

	broken := &recordingPublisher{fail: errors.New("broker down")}
	sender := NewOutboxSender(db, testJobsConfig(), logger.Discard())
	sender.Register("ledger-events", broken)
	// no publisher for notifications: counted as a failure too

	ctx := context.Background()
	assert.Zero(t, sender.processPendingMessages(ctx))

	pending := testutil.PendingOutbox(t, db)
	require.Len(t, pending, 3)
	for _, msg := range pending {
		assert.Equal(t, 1, msg.RetryCount)
	}

	assert.Zero(t, sender.processPendingMessages(ctx))
	assert.Empty(t, testutil.PendingOutbox(t, db))

	var failed int64
	require.NoError(t, db.Model(&model.OutboxMessage{}).Where("status = ?", model.OutboxStatusFailed).Count(&failed).Error)
	assert.Equal(t, int64(3), failed)
}

func TestOutboxSender_KafkaPublisher(t *testing.T) {
	db := testutil.NewDB(t)
	seedActivity(t, db)

	producer := mocks.NewSyncProducer(t, nil)
	for i := 0; i < 2; i++ {
		producer.ExpectSendMessageWithCheckerFunctionAndSucceed(func(val []byte) error {
			if len(val) == 0 {
				return errors.New("empty payload")
			}
			return nil
		})
	}
	publisher := mq.NewKafkaPublisher(producer)
	t.Cleanup(func() { _ = publisher.Close() })

	sender := NewOutboxSender(db, testJobsConfig(), logger.Discard())
	sender.Register("ledger-events", publisher)
	sender.Register("ledger-notifications", &recordingPublisher{})

	assert.Equal(t, 3, sender.processPendingMessages(context.Background()))
}

func TestOutboxSender_StartStop(t *testing.T) {
	db := testutil.NewDB(t)
	seedActivity(t, db)

	pub := &recordingPublisher{}
	sender := NewOutboxSender(db, testJobsConfig(), logger.Discard())
	sender.Register("ledger-events", pub)
	sender.Register("ledger-notifications", pub)

	done := make(chan struct{})
	go func() {
		sender.Start(context.Background())
		close(done)
	}()

	require.Eventually(t, func() bool {
		pub.mu.Lock()
		defer pub.mu.Unlock()
		return len(pub.got) == 3
	}, 2*time.Second, 10*time.Millisecond)

	sender.Stop()
	sender.Stop()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("sender did not stop")
	}
}

func TestReconcileJob_CleanLedger(t *testing.T) {
	db := testutil.NewDB(t)
	seedActivity(t, db)
	testutil.CreateAccount(t, db, "Carol", "carol@example.com", "0")

	job := NewReconcileJob(db, testJobsConfig(), logger.Discard())
	report, err := job.Run(context.Background())
	require.NoError(t, err)

	assert.Equal(t, 3, report.Checked)
	assert.Empty(t, report.Drifts)
	assert.Same(t, report, job.LastReport())
}

func TestReconcileJob_DetectsDrift(t *testing.T) {
	db := testutil.NewDB(t)
	a, _ := seedActivity(t, db)
	orphan := testutil.CreateAccount(t, db, "Dave", "dave@example.com", "5")

	// a balance write that bypassed the ledger
	require.NoError(t, db.Model(&model.Account{}).Where("id = ?", a.ID).Update("balance", decimal.NewFromInt(999)).Error)

	job := NewReconcileJob(db, testJobsConfig(), logger.Discard())
	report, err := job.Run(context.Background())
	require.NoError(t, err)

	require.Len(t, report.Drifts, 2)
	byAccount := map[int64]Drift{}
	for _, d := range report.Drifts {
		byAccount[d.AccountID] = d
	}

	assert.True(t, decimal.NewFromInt(999).Equal(byAccount[a.ID].Balance))
	assert.True(t, decimal.NewFromInt(60).Equal(byAccount[a.ID].LastBalanceAfter))
	assert.NotEmpty(t, byAccount[a.ID].LastTransactionNo)

	assert.True(t, decimal.NewFromInt(5).Equal(byAccount[orphan.ID].Balance))
	assert.True(t, byAccount[orphan.ID].LastBalanceAfter.IsZero())
}

type blockingPublisher struct {
	entered chan struct{}
	release chan struct{}
	once    sync.Once
}

func (p *blockingPublisher) Publish(ctx context.Context, msg *model.OutboxMessage) error {
	p.once.Do(func() { close(p.entered) })
	<-p.release
	return nil
}

func TestOutboxSender_StopWaitsForBatchInFlight(t *testing.T) {
	db := testutil.NewDB(t)
	seedActivity(t, db)

	pub := &blockingPublisher{entered: make(chan struct{}), release: make(chan struct{})}
	sender := NewOutboxSender(db, testJobsConfig(), logger.Discard())
	sender.Register("ledger-events", pub)
	sender.Register("ledger-notifications", pub)

	go sender.Start(context.Background())

	select {
	case <-pub.entered:
	case <-time.After(2 * time.Second):
		t.Fatal("sender never published")
	}

	stopped := make(chan struct{})
	go func() {
		sender.Stop()
		close(stopped)
	}()

	select {
	case <-stopped:
		t.Fatal("Stop returned while a publish was still running")
	case <-time.After(50 * time.Millisecond):
	}

	close(pub.release)

	select {
	case <-stopped:
	case <-time.After(2 * time.Second):
		t.Fatal("Stop did not return after the batch finished")
	}
}

func TestOutboxSender_StopBeforeStart(t *testing.T) {
	db := testutil.NewDB(t)
	sender := NewOutboxSender(db, testJobsConfig(), logger.Discard())

	sender.Stop()

	done := make(chan struct{})
	go func() {
		sender.Start(context.Background())
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("a stopped sender must not start polling")
	}
}

func TestReconcileJob_StartRejectsBadSchedule(t *testing.T) {
	db := testutil.NewDB(t)
	cfg := testJobsConfig()
	cfg.ReconcileCron = "not a schedule"

	job := NewReconcileJob(db, cfg, logger.Discard())
	assert.Error(t, job.Start(context.Background()))
}

func TestReconcileJob_StartStop(t *testing.T) {
	db := testutil.NewDB(t)
	job := NewReconcileJob(db, testJobsConfig(), logger.Discard())

	require.NoError(t, job.Start(context.Background()))
	job.Stop()
}

var _ Publisher = (*mq.KafkaPublisher)(nil)
