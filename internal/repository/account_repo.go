package repository

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"neobank/internal/model"

	"github.com/shopspring/decimal"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

var (
	ErrAccountNotFound  = errors.New("account not found")
	ErrBalanceNotEnough = errors.New("balance not enough")
	ErrOptimisticLock   = errors.New("optimistic lock conflict, retry")
	ErrEmailTaken       = errors.New("email already registered")
	ErrNumberTaken      = errors.New("account number already in use")
)

type AccountRepository struct {
	db *gorm.DB
}

func NewAccountRepository(db *gorm.DB) *AccountRepository {
	return &AccountRepository{db: db}
}

func (r *AccountRepository) conn(tx *gorm.DB) *gorm.DB {
	if tx == nil {
		return r.db
	}
	return tx
}

func (r *AccountRepository) Create(ctx context.Context, account *model.Account) error {
	err := r.db.WithContext(ctx).Create(account).Error
	if err != nil {
		if isDuplicateKey(err) {
			return r.duplicateCause(ctx, account)
		}
		return fmt.Errorf("create account: %w", err)
	}
	return nil
}

func (r *AccountRepository) GetByID(ctx context.Context, tx *gorm.DB, id int64) (*model.Account, error) {
	var account model.Account
	err := r.conn(tx).WithContext(ctx).Where("id = ?", id).First(&account).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrAccountNotFound
		}
		return nil, fmt.Errorf("get account %d: %w", id, err)
	}
	return &account, nil
}

func (r *AccountRepository) GetByEmail(ctx context.Context, email string) (*model.Account, error) {
	var account model.Account
	err := r.db.WithContext(ctx).
		Where("email = ?", strings.ToLower(strings.TrimSpace(email))).
		First(&account).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrAccountNotFound
		}
		return nil, fmt.Errorf("get account by email: %w", err)
	}
	return &account, nil
}

func (r *AccountRepository) ExistsByAccountNumber(ctx context.Context, accountNumber string) (bool, error) {
	var count int64
	err := r.db.WithContext(ctx).
		Model(&model.Account{}).
		Where("account_number = ?", accountNumber).
		Count(&count).Error
	return count > 0, err
}

// GetByIDForUpdate reads the row under SELECT ... FOR UPDATE. Must be called
// with a transaction handle.
func (r *AccountRepository) GetByIDForUpdate(ctx context.Context, tx *gorm.DB, id int64) (*model.Account, error) {
	var account model.Account
	err := tx.WithContext(ctx).
		Clauses(clause.Locking{Strength: "UPDATE"}).
		Where("id = ?", id).
		First(&account).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrAccountNotFound
		}
		return nil, fmt.Errorf("lock account %d: %w", id, err)
	}
	return &account, nil
}

// UpdateBalance writes a balance computed by the caller, guarded by the
// version it was computed from.
//
// Key point: the WHERE clause carries both the version and the non-negative
// check, so a stale read can never overwrite a newer balance.
func (r *AccountRepository) UpdateBalance(ctx context.Context, tx *gorm.DB, id int64, newBalance decimal.Decimal, version int) error {
	if newBalance.IsNegative() {
		return ErrBalanceNotEnough
	}

	result := tx.WithContext(ctx).
		Model(&model.Account{}).
		Where("id = ? AND version = ?", id, version).
		Updates(map[string]interface{}{
			"balance": newBalance,
			"version": gorm.Expr("version + 1"),
		})

	if result.Error != nil {
		return fmt.Errorf("update balance of account %d: %w", id, result.Error)
	}

	if result.RowsAffected == 0 {
		if _, err := r.GetByID(ctx, tx, id); err != nil {
			return err
		}
		return ErrOptimisticLock
	}

	return nil
}

// ListAfterID pages through accounts by id, used by the reconciliation job.
func (r *AccountRepository) ListAfterID(ctx context.Context, afterID int64, limit int) ([]*model.Account, error) {
	var accounts []*model.Account
	err := r.db.WithContext(ctx).
		Where("id > ?", afterID).
		Order("id ASC").
		Limit(limit).
		Find(&accounts).Error
	return accounts, err
}

// duplicateCause tells which unique key a failed insert collided with. The
// translated driver error no longer names the constraint.
func (r *AccountRepository) duplicateCause(ctx context.Context, account *model.Account) error {
	var count int64
	err := r.db.WithContext(ctx).
		Model(&model.Account{}).
		Where("email = ?", account.Email).
		Count(&count).Error
	if err != nil {
		return fmt.Errorf("create account: %w", err)
	}
	if count > 0 {
		return ErrEmailTaken
	}
	return ErrNumberTaken
}

func isDuplicateKey(err error) bool {
	if errors.Is(err, gorm.ErrDuplicatedKey) {
		return true
	}
	msg := strings.ToLower(err.Error())
	return strings.Contains(msg, "duplicate") || strings.Contains(msg, "unique constraint")
}
