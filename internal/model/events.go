package model

import (
	"time"

	"github.com/shopspring/decimal"
)

// DepositedEvent payload of EventDeposited.
type DepositedEvent struct {
	TransactionNo string          `json:"transaction_no"`
	AccountID     int64           `json:"account_id"`
	Amount        decimal.Decimal `json:"amount"`
	BalanceAfter  decimal.Decimal `json:"balance_after"`
	OccurredAt    time.Time       `json:"occurred_at"`
}

// TransferredEvent payload of EventTransferred.
type TransferredEvent struct {
	TransferNo       string          `json:"transfer_no"`
	FromAccountID    int64           `json:"from_account_id"`
	ToAccountID      int64           `json:"to_account_id"`
	Amount           decimal.Decimal `json:"amount"`
	FromBalanceAfter decimal.Decimal `json:"from_balance_after"`
	ToBalanceAfter   decimal.Decimal `json:"to_balance_after"`
	OccurredAt       time.Time       `json:"occurred_at"`
}

// TransferReceivedNotice payload of EventTransferReceived, consumed by the
// email notifier.
type TransferReceivedNotice struct {
	TransferNo     string          `json:"transfer_no"`
	RecipientEmail string          `json:"recipient_email"`
	RecipientName  string          `json:"recipient_name"`
	SenderName     string          `json:"sender_name"`
	SenderEmail    string          `json:"sender_email"`
	Amount         decimal.Decimal `json:"amount"`
	BalanceAfter   decimal.Decimal `json:"balance_after"`
	OccurredAt     time.Time       `json:"occurred_at"`
}
