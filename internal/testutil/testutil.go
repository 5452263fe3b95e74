// Package testutil builds the throwaway infrastructure used by package tests.
package testutil

import (
	"context"
	"fmt"
	"sync/atomic"
	"testing"

	"neobank/internal/config"
	"neobank/internal/infrastructure/database"
	"neobank/internal/infrastructure/logger"
	"neobank/internal/model"
	"neobank/internal/repository"

	"github.com/alicebob/miniredis/v2"
	"github.com/go-redis/redis/v8"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/bcrypt"
	"gorm.io/gorm"
)

// Password is the plain text password of every account made by CreateAccount.
const Password = "secret123"

var (
	passwordHash  []byte
	accountNumber atomic.Int64
)

func init() {
	var err error
	passwordHash, err = bcrypt.GenerateFromPassword([]byte(Password), bcrypt.MinCost)
	if err != nil {
		panic(err)
	}
}

// NewDB returns a migrated in-memory SQLite database private to the test.
func NewDB(t *testing.T) *gorm.DB {
	t.Helper()

	db, err := database.Open(&config.DatabaseConfig{Driver: "sqlite", DSN: ":memory:"}, logger.Discard())
	require.NoError(t, err)
	require.NoError(t, database.Migrate(db))

	t.Cleanup(func() {
		if sqlDB, err := db.DB(); err == nil {
			_ = sqlDB.Close()
		}
	})
	return db
}

// NewRedis starts a miniredis server and returns a client for it.
func NewRedis(t *testing.T) (*miniredis.Miniredis, *redis.Client) {
	t.Helper()

	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })
	return mr, client
}

// CreateAccount inserts an account holding balance.
func CreateAccount(t *testing.T, db *gorm.DB, name, email, balance string) *model.Account {
	t.Helper()

	account := &model.Account{
		AccountNumber: fmt.Sprintf("%010d", 1000000000+accountNumber.Add(1)),
		Email:         email,
		Name:          name,
		PasswordHash:  string(passwordHash),
		Balance:       decimal.RequireFromString(balance),
	}
	require.NoError(t, repository.NewAccountRepository(db).Create(context.Background(), account))
	return account
}

// Balance reads the committed balance of an account.
func Balance(t *testing.T, db *gorm.DB, accountID int64) decimal.Decimal {
	t.Helper()

	account, err := repository.NewAccountRepository(db).GetByID(context.Background(), nil, accountID)
	require.NoError(t, err)
	return account.Balance
}

// RequireBalance fails the test unless the account holds want.
func RequireBalance(t *testing.T, db *gorm.DB, accountID int64, want string) {
	t.Helper()

	got := Balance(t, db, accountID)
	require.Truef(t, decimal.RequireFromString(want).Equal(got),
		"account %d: want balance %s, got %s", accountID, want, got.String())
}

// CountRecords returns how many history records the account owns.
func CountRecords(t *testing.T, db *gorm.DB, ownerID int64) int64 {
	t.Helper()

	var count int64
	require.NoError(t, db.Model(&model.AccountTransaction{}).Where("owner_id = ?", ownerID).Count(&count).Error)
	return count
}

// PendingOutbox returns the queued outbox messages, oldest first.
func PendingOutbox(t *testing.T, db *gorm.DB) []*model.OutboxMessage {
	t.Helper()

	msgs, err := repository.NewOutboxRepository(db).GetPendingMessages(context.Background(), 1000)
	require.NoError(t, err)
	return msgs
}

// FailInserts makes every INSERT into table fail with err.
func FailInserts(t *testing.T, db *gorm.DB, table string, err error) {
	t.Helper()

	name := "testutil:fail_" + table
	require.NoError(t, db.Callback().Create().Before("gorm:create").Register(name, func(tx *gorm.DB) {
		if tx.Statement.Table == table {
			_ = tx.AddError(err)
		}
	}))
}
