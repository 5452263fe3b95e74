package model

import (
	"time"

	"github.com/shopspring/decimal"
)

// ============================================================================
// Transaction types
// ============================================================================

const (
	TransactionTypeDeposit     = "deposit"
	TransactionTypeTransferOut = "transfer_out"
	TransactionTypeTransferIn  = "transfer_in"
)

// ============================================================================
// Transaction record
// ============================================================================

// AccountTransaction is one immutable entry of an account's history.
//
// Rules:
//  1. Append only. Nothing updates or deletes a row once written.
//  2. BalanceAfter is the owner's balance right after this entry was applied,
//     captured inside the same database transaction as the balance write.
//  3. A transfer writes two rows sharing TransferNo, Amount and CreatedAt:
//     transfer_out owned by the sender, transfer_in owned by the recipient,
//     each naming the other side in CounterpartyID.
type AccountTransaction struct {
	ID             int64           `gorm:"primaryKey;autoIncrement" json:"id"`
	TransactionNo  string          `gorm:"type:varchar(64);uniqueIndex;not null" json:"transaction_no"`
	TransferNo     string          `gorm:"type:varchar(64);index" json:"transfer_no,omitempty"`
	Type           string          `gorm:"type:varchar(20);not null" json:"type"`
	OwnerID        int64           `gorm:"index:idx_owner_created,priority:1;not null" json:"owner_id"`
	CounterpartyID *int64          `gorm:"index:idx_counterparty_created,priority:1" json:"counterparty_id,omitempty"`
	Amount         decimal.Decimal `gorm:"type:decimal(20,2);not null" json:"amount"`
	BalanceAfter   decimal.Decimal `gorm:"type:decimal(20,2);not null" json:"balance_after"`
	Description    string          `gorm:"type:varchar(256);not null" json:"description"`
	CreatedAt      time.Time       `gorm:"index:idx_owner_created,priority:2;index:idx_counterparty_created,priority:2" json:"created_at"`

	Owner        *Account `gorm:"foreignKey:OwnerID" json:"-"`
	Counterparty *Account `gorm:"foreignKey:CounterpartyID" json:"-"`
}

func (AccountTransaction) TableName() string {
	return "account_transaction"
}

// IsTransferLeg reports whether the record is one side of a transfer.
func (t *AccountTransaction) IsTransferLeg() bool {
	return t.Type == TransactionTypeTransferOut || t.Type == TransactionTypeTransferIn
}
