package job

import (
	"context"
	"fmt"
	"sync"
	"time"

	"neobank/internal/config"
	"neobank/internal/model"
	"neobank/internal/repository"

	"github.com/robfig/cron/v3"
	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"
	"gorm.io/gorm"
)

// ============================================================================
// Reconciliation
// ============================================================================
//
// Every balance change writes a record carrying balance_after in the same
// transaction, so for every account:
//
//   account.balance == balance_after of its newest record   (0 if none)
//
// The job walks all accounts on a cron schedule and reports the accounts
// where this does not hold. It never repairs anything; drift means a write
// bypassed the ledger and needs a human.
// ============================================================================

// Drift is one account whose balance disagrees with its history.
type Drift struct {
	AccountID         int64           `json:"account_id"`
	Balance           decimal.Decimal `json:"balance"`
	LastBalanceAfter  decimal.Decimal `json:"last_balance_after"`
	LastTransactionNo string          `json:"last_transaction_no,omitempty"`
}

type ReconcileReport struct {
	StartedAt  time.Time `json:"started_at"`
	FinishedAt time.Time `json:"finished_at"`
	Checked    int       `json:"checked"`
	Drifts     []Drift   `json:"drifts"`
}

type ReconcileJob struct {
	accountRepo     *repository.AccountRepository
	transactionRepo *repository.TransactionRepository
	log             *logrus.Logger
	schedule        string
	batchSize       int
	cron            *cron.Cron

	mu   sync.Mutex
	last *ReconcileReport
}

func NewReconcileJob(db *gorm.DB, cfg *config.JobsConfig, log *logrus.Logger) *ReconcileJob {
	return &ReconcileJob{
		accountRepo:     repository.NewAccountRepository(db),
		transactionRepo: repository.NewTransactionRepository(db),
		log:             log,
		schedule:        cfg.ReconcileCron,
		batchSize:       cfg.ReconcileBatch,
	}
}

// Start schedules the job. Runs never overlap.
func (j *ReconcileJob) Start(ctx context.Context) error {
	cronLogger := cron.PrintfLogger(j.log)
	j.cron = cron.New(
		cron.WithLogger(cronLogger),
		cron.WithChain(cron.Recover(cronLogger), cron.SkipIfStillRunning(cronLogger)),
	)

	_, err := j.cron.AddFunc(j.schedule, func() {
		if _, err := j.Run(ctx); err != nil {
			j.log.WithError(err).Error("reconciliation failed")
		}
	})
	if err != nil {
		return fmt.Errorf("schedule reconciliation %q: %w", j.schedule, err)
	}

	j.cron.Start()
	j.log.WithField("schedule", j.schedule).Info("reconcile job started")
	return nil
}

// Stop unschedules the job and waits for a running pass to finish.
func (j *ReconcileJob) Stop() {
	if j.cron == nil {
		return
	}
	<-j.cron.Stop().Done()
	j.log.Info("reconcile job stopped")
}

// Run checks every account once.
func (j *ReconcileJob) Run(ctx context.Context) (*ReconcileReport, error) {
	report := &ReconcileReport{StartedAt: time.Now().UTC(), Drifts: []Drift{}}

	var afterID int64
	for {
		accounts, err := j.accountRepo.ListAfterID(ctx, afterID, j.batchSize)
		if err != nil {
			return nil, fmt.Errorf("list accounts after %d: %w", afterID, err)
		}
		if len(accounts) == 0 {
			break
		}

		for _, account := range accounts {
			drift, err := j.check(ctx, account)
			if err != nil {
				return nil, err
			}
			report.Checked++
			if drift != nil {
				report.Drifts = append(report.Drifts, *drift)
			}
		}
		afterID = accounts[len(accounts)-1].ID
	}

	report.FinishedAt = time.Now().UTC()

	entry := j.log.WithFields(logrus.Fields{
		"checked":  report.Checked,
		"drifted":  len(report.Drifts),
		"duration": report.FinishedAt.Sub(report.StartedAt).String(),
	})
	if len(report.Drifts) > 0 {
		for _, d := range report.Drifts {
			j.log.WithFields(logrus.Fields{
				"account_id":          d.AccountID,
				"balance":             d.Balance.StringFixed(2),
				"last_balance_after":  d.LastBalanceAfter.StringFixed(2),
				"last_transaction_no": d.LastTransactionNo,
			}).Error("balance drift detected")
		}
		entry.Warn("reconciliation found drift")
	} else {
		entry.Info("reconciliation clean")
	}

	j.mu.Lock()
	j.last = report
	j.mu.Unlock()

	return report, nil
}

// LastReport returns the result of the most recent pass, or nil.
func (j *ReconcileJob) LastReport() *ReconcileReport {
	j.mu.Lock()
	defer j.mu.Unlock()
	return j.last
}

// check compares one account with its newest record. A mismatch is read
// again once, since a transfer may have committed between the two reads.
func (j *ReconcileJob) check(ctx context.Context, account *model.Account) (*Drift, error) {
	drift, err := j.compare(ctx, account)
	if err != nil || drift == nil {
		return drift, err
	}

	fresh, err := j.accountRepo.GetByID(ctx, nil, account.ID)
	if err != nil {
		return nil, fmt.Errorf("reload account %d: %w", account.ID, err)
	}
	return j.compare(ctx, fresh)
}

func (j *ReconcileJob) compare(ctx context.Context, account *model.Account) (*Drift, error) {
	latest, err := j.transactionRepo.LatestByOwner(ctx, account.ID)
	if err != nil {
		return nil, err
	}

	expected := decimal.Zero
	var transactionNo string
	if latest != nil {
		expected = latest.BalanceAfter
		transactionNo = latest.TransactionNo
	}

	if account.Balance.Equal(expected) {
		return nil, nil
	}
	return &Drift{
		AccountID:         account.ID,
		Balance:           account.Balance,
		LastBalanceAfter:  expected,
		LastTransactionNo: transactionNo,
	}, nil
}
