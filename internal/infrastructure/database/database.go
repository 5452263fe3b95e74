package database

import (
	"fmt"
	"time"

	"neobank/internal/config"
	"neobank/internal/model"

	"github.com/glebarez/sqlite"
	"github.com/sirupsen/logrus"
	"gorm.io/driver/mysql"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"

	// registers the "postgres" database/sql driver used by postgresDialector
	_ "github.com/lib/pq"
)

// InitDatabase opens the configured database and migrates the schema.
// Any failure is fatal.
func InitDatabase(cfg *config.DatabaseConfig, log *logrus.Logger) *gorm.DB {
	db, err := Open(cfg, log)
	if err != nil {
		log.WithError(err).Fatal("failed to connect to database")
	}

	if err := Migrate(db); err != nil {
		log.WithError(err).Fatal("failed to migrate schema")
	}

	log.WithField("driver", cfg.Driver).Info("database connected")
	return db
}

// Open picks the dialector for cfg.Driver and configures the pool.
func Open(cfg *config.DatabaseConfig, log *logrus.Logger) (*gorm.DB, error) {
	var dialector gorm.Dialector
	switch cfg.Driver {
	case "mysql":
		dialector = mysqlDialector(cfg)
	case "postgres":
		dialector = postgresDialector(cfg)
	case "sqlite":
		dialector = sqlite.Open(cfg.DSN)
	default:
		return nil, fmt.Errorf("unsupported database driver %q", cfg.Driver)
	}

	logLevel := gormlogger.Warn
	if cfg.LogSQL {
		logLevel = gormlogger.Info
	}

	db, err := gorm.Open(dialector, &gorm.Config{
		Logger: gormlogger.New(log, gormlogger.Config{
			SlowThreshold:             200 * time.Millisecond,
			LogLevel:                  logLevel,
			IgnoreRecordNotFoundError: true,
		}),
		TranslateError: true,
	})
	if err != nil {
		return nil, fmt.Errorf("open %s: %w", cfg.Driver, err)
	}

	sqlDB, err := db.DB()
	if err != nil {
		return nil, fmt.Errorf("get underlying db: %w", err)
	}

	if cfg.Driver == "sqlite" {
		// SQLite allows a single writer; one connection keeps
		// transactions serialised instead of failing with SQLITE_BUSY.
		sqlDB.SetMaxOpenConns(1)
		sqlDB.SetMaxIdleConns(1)
	} else {
		sqlDB.SetMaxOpenConns(cfg.MaxOpenConns)
		sqlDB.SetMaxIdleConns(cfg.MaxIdleConns)
		sqlDB.SetConnMaxLifetime(time.Hour)
	}

	return db, nil
}

// Migrate creates or updates all tables.
func Migrate(db *gorm.DB) error {
	return db.AutoMigrate(
		&model.Account{},
		&model.AccountTransaction{},
		&model.OutboxMessage{},
	)
}

func mysqlDialector(cfg *config.DatabaseConfig) gorm.Dialector {
	dsn := fmt.Sprintf("%s:%s@tcp(%s:%d)/%s?charset=utf8mb4&parseTime=True&loc=UTC",
		cfg.User,
		cfg.Password,
		cfg.Host,
		cfg.Port,
		cfg.Database,
	)
	return mysql.Open(dsn)
}

func postgresDialector(cfg *config.DatabaseConfig) gorm.Dialector {
	dsn := fmt.Sprintf("host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
		cfg.Host,
		cfg.Port,
		cfg.User,
		cfg.Password,
		cfg.Database,
		cfg.SSLMode,
	)
	return postgres.New(postgres.Config{
		DriverName: "postgres",
		DSN:        dsn,
	})
}
