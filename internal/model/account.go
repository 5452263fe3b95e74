package model

import (
	"time"

	"github.com/shopspring/decimal"
)

// Account user account
//
// Balance is only ever written by the ledger, and every write bumps Version
// (optimistic lock). Email is stored lower-cased.
type Account struct {
	ID            int64           `gorm:"primaryKey;autoIncrement" json:"id"`
	AccountNumber string          `gorm:"type:varchar(20);uniqueIndex;not null" json:"account_number"`
	Email         string          `gorm:"type:varchar(255);uniqueIndex;not null" json:"email"`
	Name          string          `gorm:"type:varchar(128);not null" json:"name"`
	PasswordHash  string          `gorm:"type:varchar(255);not null" json:"-"`
	Balance       decimal.Decimal `gorm:"type:decimal(20,2);not null;default:0" json:"balance"`
	Version       int             `gorm:"not null;default:0" json:"-"`
	CreatedAt     time.Time       `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt     time.Time       `gorm:"autoUpdateTime" json:"updated_at"`
}

func (Account) TableName() string {
	return "account"
}
