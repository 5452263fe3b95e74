package service

import (
	"context"
	"errors"
	"fmt"

	"neobank/internal/model"
	"neobank/internal/repository"

	"github.com/shopspring/decimal"
	"gorm.io/gorm"
)

// ============================================================================
// Ledger
// ============================================================================
//
// The ledger is the only code that writes account balances. Every method runs
// inside a transaction owned by the caller, so the balance change and the
// records describing it commit or roll back together.
//
// A write is:
//
//   SELECT ... FOR UPDATE                    (row lock, latest committed value)
//   new = balance +/- amount, reject if < 0  (computed here, not in SQL)
//   UPDATE ... SET balance=new, version=version+1 WHERE id=? AND version=?
//
// The version guard turns a stale read into repository.ErrOptimisticLock,
// which the orchestrator answers by restarting the whole unit. Databases
// without row locks (SQLite) rely on the version guard alone.
// ============================================================================

type Ledger struct {
	accountRepo *repository.AccountRepository
}

func NewLedger(accountRepo *repository.AccountRepository) *Ledger {
	return &Ledger{accountRepo: accountRepo}
}

// Deposit adds amount to the account and returns the new balance.
func (l *Ledger) Deposit(ctx context.Context, tx *gorm.DB, accountID int64, amount decimal.Decimal) (decimal.Decimal, error) {
	return l.Credit(ctx, tx, accountID, amount)
}

// Credit is the receiving side of a transfer.
func (l *Ledger) Credit(ctx context.Context, tx *gorm.DB, accountID int64, amount decimal.Decimal) (decimal.Decimal, error) {
	if !amount.IsPositive() {
		return decimal.Zero, newError(ErrCodeInvalidAmount, "amount must be greater than 0", nil)
	}

	account, err := l.lock(ctx, tx, accountID)
	if err != nil {
		return decimal.Zero, err
	}
	return l.apply(ctx, tx, account, amount)
}

// Debit removes amount from the account. Fails with ErrInsufficientFunds
// when the balance would go below zero.
func (l *Ledger) Debit(ctx context.Context, tx *gorm.DB, accountID int64, amount decimal.Decimal) (decimal.Decimal, error) {
	if !amount.IsPositive() {
		return decimal.Zero, newError(ErrCodeInvalidAmount, "amount must be greater than 0", nil)
	}

	account, err := l.lock(ctx, tx, accountID)
	if err != nil {
		return decimal.Zero, err
	}
	return l.apply(ctx, tx, account, amount.Neg())
}

// Transfer debits fromID and credits toID inside tx and returns both new
// balances.
//
// Key point: both rows are locked in ascending id order before either is
// written, so A->B and B->A running together queue on the same row first.
func (l *Ledger) Transfer(ctx context.Context, tx *gorm.DB, fromID, toID int64, amount decimal.Decimal) (decimal.Decimal, decimal.Decimal, error) {
	if fromID == toID {
		return decimal.Zero, decimal.Zero, ErrSelfTransfer
	}
	if !amount.IsPositive() {
		return decimal.Zero, decimal.Zero, newError(ErrCodeInvalidAmount, "amount must be greater than 0", nil)
	}

	firstID, secondID := fromID, toID
	if secondID < firstID {
		firstID, secondID = secondID, firstID
	}

	locked := make(map[int64]*model.Account, 2)
	for _, id := range []int64{firstID, secondID} {
		account, err := l.accountRepo.GetByIDForUpdate(ctx, tx, id)
		if err != nil {
			if errors.Is(err, repository.ErrAccountNotFound) {
				if id == toID {
					return decimal.Zero, decimal.Zero, ErrRecipientNotFound
				}
				return decimal.Zero, decimal.Zero, ErrAccountNotFound
			}
			return decimal.Zero, decimal.Zero, err
		}
		locked[id] = account
	}

	fromBalance, err := l.apply(ctx, tx, locked[fromID], amount.Neg())
	if err != nil {
		return decimal.Zero, decimal.Zero, err
	}

	toBalance, err := l.apply(ctx, tx, locked[toID], amount)
	if err != nil {
		return decimal.Zero, decimal.Zero, err
	}

	return fromBalance, toBalance, nil
}

func (l *Ledger) lock(ctx context.Context, tx *gorm.DB, accountID int64) (*model.Account, error) {
	account, err := l.accountRepo.GetByIDForUpdate(ctx, tx, accountID)
	if err != nil {
		if errors.Is(err, repository.ErrAccountNotFound) {
			return nil, ErrAccountNotFound
		}
		return nil, err
	}
	return account, nil
}

// apply writes balance+delta guarded by the version the balance was read at.
func (l *Ledger) apply(ctx context.Context, tx *gorm.DB, account *model.Account, delta decimal.Decimal) (decimal.Decimal, error) {
	newBalance := account.Balance.Add(delta)
	if newBalance.IsNegative() {
		return decimal.Zero, newError(ErrCodeInsufficientFunds,
			fmt.Sprintf("balance %s is below %s", account.Balance.StringFixed(2), delta.Neg().StringFixed(2)), nil)
	}

	err := l.accountRepo.UpdateBalance(ctx, tx, account.ID, newBalance, account.Version)
	switch {
	case err == nil:
	case errors.Is(err, repository.ErrBalanceNotEnough):
		return decimal.Zero, ErrInsufficientFunds
	case errors.Is(err, repository.ErrAccountNotFound):
		return decimal.Zero, ErrAccountNotFound
	default:
		return decimal.Zero, err
	}

	account.Balance = newBalance
	account.Version++
	return newBalance, nil
}
