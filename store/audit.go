// Package store persists the transfer audit trail. Every applied transition
// is appended as an immutable row, so the full lifecycle of any transfer can
// be reconstructed after the in-memory state is gone.
package store

import (
	"context"
	"fmt"
	"time"

	"github.com/glebarez/sqlite"
	"go.uber.org/zap"
	"gorm.io/driver/mysql"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"

	"github.com/warmline/warmline/config"
	"github.com/warmline/warmline/types"
)

// TransferRecord is one applied transition. Rows are append-only; the
// (transfer_id, version) pair is unique because versions never repeat
// within a transfer.
type TransferRecord struct {
	ID            uint      `gorm:"primaryKey;autoIncrement"`
	TransferID    string    `gorm:"size:64;index;uniqueIndex:idx_transfer_version,priority:1"`
	Version       uint64    `gorm:"uniqueIndex:idx_transfer_version,priority:2"`
	CallID        string    `gorm:"size:64;index"`
	Status        string    `gorm:"size:32"`
	Actor         string    `gorm:"size:32"`
	TargetAgentID string    `gorm:"size:64"`
	Reason        string    `gorm:"size:256"`
	CreatedAt     time.Time `gorm:"index"`
}

// TableName keeps the table name stable across gorm naming strategies.
func (TransferRecord) TableName() string { return "transfer_audit" }

// Audit is the transfer audit trail backed by a relational database.
type Audit struct {
	db     *gorm.DB
	logger *zap.Logger
}

// Open connects to the configured database and migrates the audit schema.
// An empty driver disables auditing and returns (nil, nil); callers treat a
// nil *Audit as a no-op sink.
func Open(cfg config.DatabaseConfig, logger *zap.Logger) (*Audit, error) {
	if cfg.Driver == "" {
		return nil, nil
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	var dialector gorm.Dialector
	switch cfg.Driver {
	case "sqlite":
		dialector = sqlite.Open(cfg.DSN())
	case "postgres":
		dialector = postgres.Open(cfg.DSN())
	case "mysql":
		dialector = mysql.Open(cfg.DSN())
	default:
		return nil, fmt.Errorf("unsupported database driver: %s", cfg.Driver)
	}

	db, err := gorm.Open(dialector, &gorm.Config{
		Logger: gormlogger.Default.LogMode(gormlogger.Silent),
	})
	if err != nil {
		return nil, fmt.Errorf("open audit database: %w", err)
	}

	sqlDB, err := db.DB()
	if err != nil {
		return nil, fmt.Errorf("access connection pool: %w", err)
	}
	if cfg.MaxOpenConns > 0 {
		sqlDB.SetMaxOpenConns(cfg.MaxOpenConns)
	}
	if cfg.MaxIdleConns > 0 {
		sqlDB.SetMaxIdleConns(cfg.MaxIdleConns)
	}
	if cfg.ConnMaxLifetime > 0 {
		sqlDB.SetConnMaxLifetime(cfg.ConnMaxLifetime)
	}

	if err := db.AutoMigrate(&TransferRecord{}); err != nil {
		return nil, fmt.Errorf("migrate audit schema: %w", err)
	}

	logger.Info("audit store ready", zap.String("driver", cfg.Driver))
	return &Audit{
		db:     db,
		logger: logger.With(zap.String("component", "audit_store")),
	}, nil
}

// Append records one applied transition. Safe on a nil receiver so disabled
// auditing needs no branching at call sites. Append failures are logged,
// not propagated: auditing never vetoes a transition that already happened.
func (a *Audit) Append(ctx context.Context, state *types.TransferState, actor types.Role) {
	if a == nil || state == nil {
		return
	}

	rec := TransferRecord{
		TransferID:    state.TransferID,
		Version:       state.Version,
		CallID:        state.CallID,
		Status:        string(state.Status),
		Actor:         string(actor),
		TargetAgentID: state.TargetAgentID,
		Reason:        state.Reason,
		CreatedAt:     time.Now().UTC(),
	}

	if err := a.db.WithContext(ctx).Create(&rec).Error; err != nil {
		a.logger.Error("audit append failed",
			zap.String("transfer_id", state.TransferID),
			zap.Uint64("version", state.Version),
			zap.Error(err),
		)
	}
}

// History returns every recorded transition of a transfer in version order.
func (a *Audit) History(ctx context.Context, transferID string) ([]TransferRecord, error) {
	if a == nil {
		return nil, nil
	}
	var recs []TransferRecord
	err := a.db.WithContext(ctx).
		Where("transfer_id = ?", transferID).
		Order("version ASC").
		Find(&recs).Error
	if err != nil {
		return nil, fmt.Errorf("load transfer history: %w", err)
	}
	return recs, nil
}

// CallHistory returns every recorded transition across all transfers of a
// call, oldest first.
func (a *Audit) CallHistory(ctx context.Context, callID string) ([]TransferRecord, error) {
	if a == nil {
		return nil, nil
	}
	var recs []TransferRecord
	err := a.db.WithContext(ctx).
		Where("call_id = ?", callID).
		Order("id ASC").
		Find(&recs).Error
	if err != nil {
		return nil, fmt.Errorf("load call history: %w", err)
	}
	return recs, nil
}

// Ping verifies database connectivity for readiness checks.
func (a *Audit) Ping(ctx context.Context) error {
	if a == nil {
		return nil
	}
	sqlDB, err := a.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.PingContext(ctx)
}

// Close releases the connection pool.
func (a *Audit) Close() error {
	if a == nil {
		return nil
	}
	sqlDB, err := a.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}
