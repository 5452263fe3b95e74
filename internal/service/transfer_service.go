package service

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"time"

	"neobank/internal/config"
	"neobank/internal/infrastructure/lock"
	"neobank/internal/model"
	"neobank/internal/repository"
	"neobank/pkg/idgen"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"
	"gorm.io/gorm"
)

// EventTopics names the outbox topics. An empty topic disables that stream.
type EventTopics struct {
	LedgerEvents  string
	Notifications string
}

// TransferService sequences the ledger, the recorder and the outbox into
// the user-facing deposit and transfer operations.
type TransferService struct {
	db          *gorm.DB
	accountRepo *repository.AccountRepository
	outboxRepo  *repository.OutboxRepository
	ledger      *Ledger
	recorder    *Recorder
	locker      lock.AccountLocker
	cfg         *config.LedgerConfig
	maxAmount   decimal.Decimal
	topics      EventTopics
	log         *logrus.Logger
	now         func() time.Time
}

func NewTransferService(
	db *gorm.DB,
	locker lock.AccountLocker,
	cfg *config.LedgerConfig,
	topics EventTopics,
	log *logrus.Logger,
) (*TransferService, error) {
	maxAmount, err := cfg.MaxAmountDecimal()
	if err != nil {
		return nil, err
	}

	accountRepo := repository.NewAccountRepository(db)
	return &TransferService{
		db:          db,
		accountRepo: accountRepo,
		outboxRepo:  repository.NewOutboxRepository(db),
		ledger:      NewLedger(accountRepo),
		recorder:    NewRecorder(repository.NewTransactionRepository(db)),
		locker:      locker,
		cfg:         cfg,
		maxAmount:   maxAmount,
		topics:      topics,
		log:         log,
		now:         time.Now,
	}, nil
}

type DepositResult struct {
	NewBalance decimal.Decimal
	Record     *model.AccountTransaction
}

type TransferResult struct {
	NewBalance decimal.Decimal
	Record     *model.AccountTransaction
	Incoming   *model.AccountTransaction
}

// ============================================================================
// Deposit
// ============================================================================

func (s *TransferService) ExecuteDeposit(ctx context.Context, accountID int64, amount decimal.Decimal) (*DepositResult, error) {
	if err := ValidateAmount(amount, s.maxAmount); err != nil {
		return nil, err
	}

	ctx, cancel := context.WithTimeout(ctx, s.cfg.OperationTimeout)
	defer cancel()

	release, err := s.lockAccounts(ctx, accountID)
	if err != nil {
		return nil, err
	}
	defer release()

	var result *DepositResult
	err = s.withRetry(ctx, func() error {
		r, err := s.depositOnce(ctx, accountID, amount)
		result = r
		return err
	})
	if err != nil {
		return nil, s.classify("deposit", err)
	}

	s.log.WithFields(logrus.Fields{
		"account_id":     accountID,
		"amount":         amount.StringFixed(2),
		"balance_after":  result.NewBalance.StringFixed(2),
		"transaction_no": result.Record.TransactionNo,
	}).Info("deposit completed")

	return result, nil
}

func (s *TransferService) depositOnce(ctx context.Context, accountID int64, amount decimal.Decimal) (*DepositResult, error) {
	var result *DepositResult

	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		balance, err := s.ledger.Deposit(ctx, tx, accountID, amount)
		if err != nil {
			return err
		}

		at := s.timestamp()
		record, err := s.recorder.RecordDeposit(ctx, tx, accountID, amount, balance, at)
		if err != nil {
			return err
		}

		if s.topics.LedgerEvents != "" {
			msg, err := newOutboxMessage(s.topics.LedgerEvents, model.EventDeposited, strconv.FormatInt(accountID, 10),
				model.DepositedEvent{
					TransactionNo: record.TransactionNo,
					AccountID:     accountID,
					Amount:        amount,
					BalanceAfter:  balance,
					OccurredAt:    at,
				})
			if err != nil {
				return err
			}
			if err := s.outboxRepo.CreateBatch(ctx, tx, []*model.OutboxMessage{msg}); err != nil {
				return fmt.Errorf("enqueue deposit event: %w", err)
			}
		}

		result = &DepositResult{NewBalance: balance, Record: record}
		return nil
	})

	return result, err
}

// ============================================================================
// Transfer
// ============================================================================
//
// Key point: the ledger writes, both history legs and the outbox events are
// one database transaction. A failure or timeout anywhere rolls all of it
// back, so no caller can observe a debit without its credit and records.

func (s *TransferService) ExecuteTransfer(ctx context.Context, fromID int64, toEmail string, amount decimal.Decimal) (*TransferResult, error) {
	if err := ValidateAmount(amount, s.maxAmount); err != nil {
		return nil, err
	}

	recipient, err := s.accountRepo.GetByEmail(ctx, toEmail)
	if err != nil {
		if errors.Is(err, repository.ErrAccountNotFound) {
			return nil, ErrRecipientNotFound
		}
		return nil, persistenceFailure("failed to resolve recipient", err)
	}
	if recipient.ID == fromID {
		return nil, ErrSelfTransfer
	}

	sender, err := s.accountRepo.GetByID(ctx, nil, fromID)
	if err != nil {
		if errors.Is(err, repository.ErrAccountNotFound) {
			return nil, ErrAccountNotFound
		}
		return nil, persistenceFailure("failed to load sender", err)
	}

	ctx, cancel := context.WithTimeout(ctx, s.cfg.OperationTimeout)
	defer cancel()

	release, err := s.lockAccounts(ctx, sender.ID, recipient.ID)
	if err != nil {
		return nil, err
	}
	defer release()

	var result *TransferResult
	err = s.withRetry(ctx, func() error {
		r, err := s.transferOnce(ctx, sender, recipient, amount)
		result = r
		return err
	})
	if err != nil {
		s.log.WithError(err).WithFields(logrus.Fields{
			"from_account_id": sender.ID,
			"to_account_id":   recipient.ID,
			"amount":          amount.StringFixed(2),
		}).Warn("transfer rejected")
		return nil, s.classify("transfer", err)
	}

	s.log.WithFields(logrus.Fields{
		"transfer_no":     result.Record.TransferNo,
		"from_account_id": sender.ID,
		"to_account_id":   recipient.ID,
		"amount":          amount.StringFixed(2),
	}).Info("transfer completed")

	return result, nil
}

func (s *TransferService) transferOnce(ctx context.Context, sender, recipient *model.Account, amount decimal.Decimal) (*TransferResult, error) {
	var result *TransferResult

	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		fromBalance, toBalance, err := s.ledger.Transfer(ctx, tx, sender.ID, recipient.ID, amount)
		if err != nil {
			return err
		}

		legs := TransferLegs{
			TransferNo:       idgen.GenerateTransferNo(),
			From:             sender,
			To:               recipient,
			Amount:           amount,
			FromBalanceAfter: fromBalance,
			ToBalanceAfter:   toBalance,
			At:               s.timestamp(),
		}
		out, in, err := s.recorder.RecordTransfer(ctx, tx, legs)
		if err != nil {
			return err
		}

		msgs, err := s.transferMessages(legs)
		if err != nil {
			return err
		}
		if err := s.outboxRepo.CreateBatch(ctx, tx, msgs); err != nil {
			return fmt.Errorf("enqueue transfer events: %w", err)
		}

		result = &TransferResult{NewBalance: fromBalance, Record: out, Incoming: in}
		return nil
	})

	return result, err
}

func (s *TransferService) transferMessages(legs TransferLegs) ([]*model.OutboxMessage, error) {
	var msgs []*model.OutboxMessage

	if s.topics.LedgerEvents != "" {
		msg, err := newOutboxMessage(s.topics.LedgerEvents, model.EventTransferred, legs.TransferNo,
			model.TransferredEvent{
				TransferNo:       legs.TransferNo,
				FromAccountID:    legs.From.ID,
				ToAccountID:      legs.To.ID,
				Amount:           legs.Amount,
				FromBalanceAfter: legs.FromBalanceAfter,
				ToBalanceAfter:   legs.ToBalanceAfter,
				OccurredAt:       legs.At,
			})
		if err != nil {
			return nil, err
		}
		msgs = append(msgs, msg)
	}

	if s.topics.Notifications != "" {
		msg, err := newOutboxMessage(s.topics.Notifications, model.EventTransferReceived, legs.TransferNo,
			model.TransferReceivedNotice{
				TransferNo:     legs.TransferNo,
				RecipientEmail: legs.To.Email,
				RecipientName:  legs.To.Name,
				SenderName:     legs.From.Name,
				SenderEmail:    legs.From.Email,
				Amount:         legs.Amount,
				BalanceAfter:   legs.ToBalanceAfter,
				OccurredAt:     legs.At,
			})
		if err != nil {
			return nil, err
		}
		msgs = append(msgs, msg)
	}

	return msgs, nil
}

// ============================================================================
// History
// ============================================================================

// History returns one page of the account's records, newest first.
func (s *TransferService) History(ctx context.Context, q HistoryQuery) (*HistoryPage, error) {
	if q.PageSize > s.cfg.MaxPageSize {
		return nil, newError(ErrCodeInvalidPage,
			fmt.Sprintf("page size must not exceed %d", s.cfg.MaxPageSize), nil)
	}
	return s.recorder.Query(ctx, q)
}

// ============================================================================
// helpers
// ============================================================================

func (s *TransferService) lockAccounts(ctx context.Context, accountIDs ...int64) (func(), error) {
	release, err := s.locker.LockAccounts(ctx, uuid.NewString(), accountIDs...)
	if err != nil {
		return nil, newError(ErrCodeBusy, "account is busy, please retry", err)
	}
	return release, nil
}

// withRetry restarts fn after an optimistic lock conflict, at most
// cfg.MaxRetries times in total.
func (s *TransferService) withRetry(ctx context.Context, fn func() error) error {
	var err error
	for attempt := 1; attempt <= s.cfg.MaxRetries; attempt++ {
		err = fn()
		if !errors.Is(err, repository.ErrOptimisticLock) {
			return err
		}

		s.log.WithField("attempt", attempt).Debug("optimistic lock conflict, retrying")

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(time.Duration(attempt) * 10 * time.Millisecond):
		}
	}
	return err
}

// classify keeps business errors as they are and reports everything else as
// a persistence failure.
func (s *TransferService) classify(op string, err error) error {
	var svcErr *ServiceError
	switch {
	case errors.As(err, &svcErr):
		return svcErr
	case errors.Is(err, repository.ErrOptimisticLock):
		return newError(ErrCodeBusy, "account is busy, please retry", err)
	default:
		return persistenceFailure(op+" failed", err)
	}
}

func (s *TransferService) timestamp() time.Time {
	return s.now().UTC().Truncate(time.Millisecond)
}

func newOutboxMessage(topic, eventType, key string, payload interface{}) (*model.OutboxMessage, error) {
	body, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("encode %s payload: %w", eventType, err)
	}
	return &model.OutboxMessage{
		MessageKey: key,
		Topic:      topic,
		EventType:  eventType,
		Payload:    string(body),
		Status:     model.OutboxStatusPending,
	}, nil
}
