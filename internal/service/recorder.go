package service

import (
	"context"
	"fmt"
	"time"

	"neobank/internal/model"
	"neobank/internal/repository"
	"neobank/pkg/idgen"

	"github.com/shopspring/decimal"
	"gorm.io/gorm"
)

// Recorder appends the immutable history entries that describe ledger
// changes. Writes take the caller's transaction; Query reads committed data.
type Recorder struct {
	transactionRepo *repository.TransactionRepository
}

func NewRecorder(transactionRepo *repository.TransactionRepository) *Recorder {
	return &Recorder{transactionRepo: transactionRepo}
}

// RecordDeposit writes the single record of a deposit.
func (r *Recorder) RecordDeposit(ctx context.Context, tx *gorm.DB, accountID int64, amount, balanceAfter decimal.Decimal, at time.Time) (*model.AccountTransaction, error) {
	record := &model.AccountTransaction{
		TransactionNo: idgen.GenerateTransactionNo(),
		Type:          model.TransactionTypeDeposit,
		OwnerID:       accountID,
		Amount:        amount,
		BalanceAfter:  balanceAfter,
		Description:   fmt.Sprintf("Deposit of $%s", amount.StringFixed(2)),
		CreatedAt:     at,
	}

	if err := r.transactionRepo.CreateBatch(ctx, tx, []*model.AccountTransaction{record}); err != nil {
		return nil, fmt.Errorf("record deposit: %w", err)
	}
	return record, nil
}

// TransferLegs carries everything needed to write both sides of a transfer.
type TransferLegs struct {
	TransferNo       string
	From             *model.Account
	To               *model.Account
	Amount           decimal.Decimal
	FromBalanceAfter decimal.Decimal
	ToBalanceAfter   decimal.Decimal
	At               time.Time
}

// RecordTransfer writes the sender and recipient legs in one insert. Either
// both rows exist afterwards or neither does.
func (r *Recorder) RecordTransfer(ctx context.Context, tx *gorm.DB, legs TransferLegs) (out, in *model.AccountTransaction, err error) {
	fromID, toID := legs.From.ID, legs.To.ID

	out = &model.AccountTransaction{
		TransactionNo:  idgen.GenerateTransactionNo(),
		TransferNo:     legs.TransferNo,
		Type:           model.TransactionTypeTransferOut,
		OwnerID:        fromID,
		CounterpartyID: &toID,
		Amount:         legs.Amount,
		BalanceAfter:   legs.FromBalanceAfter,
		Description:    fmt.Sprintf("Transfer to %s (%s)", legs.To.Name, legs.To.Email),
		CreatedAt:      legs.At,
	}
	in = &model.AccountTransaction{
		TransactionNo:  idgen.GenerateTransactionNo(),
		TransferNo:     legs.TransferNo,
		Type:           model.TransactionTypeTransferIn,
		OwnerID:        toID,
		CounterpartyID: &fromID,
		Amount:         legs.Amount,
		BalanceAfter:   legs.ToBalanceAfter,
		Description:    fmt.Sprintf("Transfer from %s (%s)", legs.From.Name, legs.From.Email),
		CreatedAt:      legs.At,
	}

	if err := r.transactionRepo.CreateBatch(ctx, tx, []*model.AccountTransaction{out, in}); err != nil {
		return nil, nil, fmt.Errorf("record transfer %s: %w", legs.TransferNo, err)
	}
	return out, in, nil
}

// HistoryQuery selects one page of an account's history.
//
// By default it covers every record the account is involved in, as owner
// or as counterparty. OwnedOnly narrows it to the account's deposits and its
// own transfer legs.
type HistoryQuery struct {
	AccountID int64
	Page      int
	PageSize  int
	OwnedOnly bool
}

type HistoryPage struct {
	Records     []*model.AccountTransaction `json:"records"`
	CurrentPage int                         `json:"current_page"`
	TotalPages  int                         `json:"total_pages"`
	TotalCount  int64                       `json:"total_count"`
	PageSize    int                         `json:"page_size"`
}

// Query returns the requested page, newest first. A page past the end is
// empty, not an error.
func (r *Recorder) Query(ctx context.Context, q HistoryQuery) (*HistoryPage, error) {
	if q.Page < 1 {
		return nil, newError(ErrCodeInvalidPage, "page must be at least 1", nil)
	}
	if q.PageSize < 1 {
		return nil, newError(ErrCodeInvalidPage, "page size must be at least 1", nil)
	}

	total, err := r.transactionRepo.CountByAccount(ctx, q.AccountID, q.OwnedOnly)
	if err != nil {
		return nil, persistenceFailure("failed to count history", err)
	}

	result := &HistoryPage{
		Records:     []*model.AccountTransaction{},
		CurrentPage: q.Page,
		TotalPages:  totalPages(total, q.PageSize),
		TotalCount:  total,
		PageSize:    q.PageSize,
	}
	// also keeps (page-1)*pageSize from overflowing
	if q.Page > result.TotalPages {
		return result, nil
	}

	records, err := r.transactionRepo.ListByAccount(ctx, q.AccountID, q.OwnedOnly, (q.Page-1)*q.PageSize, q.PageSize)
	if err != nil {
		return nil, persistenceFailure("failed to load history", err)
	}
	if records != nil {
		result.Records = records
	}
	return result, nil
}

func totalPages(total int64, pageSize int) int {
	size := int64(pageSize)
	return int((total + size - 1) / size)
}
