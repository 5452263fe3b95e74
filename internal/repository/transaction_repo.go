package repository

import (
	"context"
	"errors"
	"fmt"

	"neobank/internal/model"

	"gorm.io/gorm"
)

type TransactionRepository struct {
	db *gorm.DB
}

func NewTransactionRepository(db *gorm.DB) *TransactionRepository {
	return &TransactionRepository{db: db}
}

// CreateBatch inserts all records with a single statement.
func (r *TransactionRepository) CreateBatch(ctx context.Context, tx *gorm.DB, records []*model.AccountTransaction) error {
	if tx == nil {
		tx = r.db
	}
	if len(records) == 0 {
		return nil
	}
	return tx.WithContext(ctx).Omit("Owner", "Counterparty").Create(&records).Error
}

func (r *TransactionRepository) ListByTransferNo(ctx context.Context, transferNo string) ([]*model.AccountTransaction, error) {
	var records []*model.AccountTransaction
	err := r.db.WithContext(ctx).
		Where("transfer_no = ?", transferNo).
		Order("id ASC").
		Find(&records).Error
	return records, err
}

// LatestByOwner returns the newest record owned by the account, or nil.
func (r *TransactionRepository) LatestByOwner(ctx context.Context, ownerID int64) (*model.AccountTransaction, error) {
	var trans model.AccountTransaction
	err := r.db.WithContext(ctx).
		Where("owner_id = ?", ownerID).
		Order("created_at DESC, id DESC").
		First(&trans).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, fmt.Errorf("latest record of account %d: %w", ownerID, err)
	}
	return &trans, nil
}

func (r *TransactionRepository) accountScope(ctx context.Context, accountID int64, ownedOnly bool) *gorm.DB {
	query := r.db.WithContext(ctx).Model(&model.AccountTransaction{})
	if ownedOnly {
		return query.Where("owner_id = ?", accountID)
	}
	return query.Where("owner_id = ? OR counterparty_id = ?", accountID, accountID)
}

// CountByAccount counts the records ListByAccount pages through.
func (r *TransactionRepository) CountByAccount(ctx context.Context, accountID int64, ownedOnly bool) (int64, error) {
	var total int64
	if err := r.accountScope(ctx, accountID, ownedOnly).Count(&total).Error; err != nil {
		return 0, fmt.Errorf("count records of account %d: %w", accountID, err)
	}
	return total, nil
}

// ListByAccount returns up to limit records the account is involved in,
// newest first, skipping the first offset. Ties on created_at fall back to
// insertion order.
func (r *TransactionRepository) ListByAccount(ctx context.Context, accountID int64, ownedOnly bool, offset, limit int) ([]*model.AccountTransaction, error) {
	var records []*model.AccountTransaction
	err := r.accountScope(ctx, accountID, ownedOnly).
		Preload("Owner").
		Preload("Counterparty").
		Order("created_at DESC").
		Order("id DESC").
		Offset(offset).
		Limit(limit).
		Find(&records).Error
	if err != nil {
		return nil, fmt.Errorf("list records of account %d: %w", accountID, err)
	}
	return records, nil
}
