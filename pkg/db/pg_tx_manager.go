package db

import (
	"context"
	"fmt"

	"signal_bot/pkg/logger"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/jackc/pgx/v5/tracelog"
)

type PoolConfig struct {
	DSN      string
	MaxConns int32
	// LogLevel of the pgx query tracer: "debug", "info", "warn", "error" or "none".
	LogLevel string
}

func pgxLog(_ context.Context, level tracelog.LogLevel, msg string, data map[string]any) {
	switch {
	case level >= tracelog.LogLevelDebug:
		logger.Debug("pgx: %s %v", msg, data)
	case level >= tracelog.LogLevelInfo:
		logger.Info("pgx: %s %v", msg, data)
	case level == tracelog.LogLevelWarn:
		logger.Warn("pgx: %s %v", msg, data)
	default:
		logger.Error("pgx: %s %v", msg, data)
	}
}

type PgTxManager struct {
	poolMaster *pgxpool.Pool
}

func NewPgTxManager(poolMaster *pgxpool.Pool) *PgTxManager {
	return &PgTxManager{
		poolMaster: poolMaster,
	}
}

func (m *PgTxManager) Close() {
	m.poolMaster.Close()
}

func NewPool(ctx context.Context, conf PoolConfig) (*pgxpool.Pool, error) {
	pc, err := pgxpool.ParseConfig(conf.DSN)
	if err != nil {
		return nil, fmt.Errorf("parse dsn: %w", err)
	}
	if conf.MaxConns > 0 {
		pc.MaxConns = conf.MaxConns
	}
	if conf.LogLevel != "" && conf.LogLevel != "none" {
		level, err := tracelog.LogLevelFromString(conf.LogLevel)
		if err != nil {
			return nil, fmt.Errorf("pgx log level: %w", err)
		}
		pc.ConnConfig.Tracer = &tracelog.TraceLog{
			Logger:   tracelog.LoggerFunc(pgxLog),
			LogLevel: level,
		}
	}
	return pgxpool.NewWithConfig(ctx, pc)
}

// RunMaster runs fn in a read-committed transaction. fn's error rolls the transaction back.
func (m *PgTxManager) RunMaster(ctx context.Context, fn func(ctxTx context.Context, tx Transaction) error) error {
	return m.inTx(ctx, pgx.TxOptions{IsoLevel: pgx.ReadCommitted}, fn)
}

func (m *PgTxManager) Conn() Transaction {
	return m.poolMaster
}

func (m *PgTxManager) Ping(ctx context.Context) error {
	return m.poolMaster.Ping(ctx)
}

func (m *PgTxManager) inTx(
	ctx context.Context,
	options pgx.TxOptions,
	f func(ctxTx context.Context, tx Transaction) error,
) (err error) {
	tx, err := m.poolMaster.BeginTx(ctx, options)
	if err != nil {
		return fmt.Errorf("failed to begin tx, err: %w", err)
	}

	defer func() {
		if p := recover(); p != nil {
			logger.Error("panic in tx: %v", p)
			_ = tx.Rollback(ctx)
			panic(p)
		} else if err != nil {
			_ = tx.Rollback(ctx)
		} else {
			err = tx.Commit(ctx)
		}
	}()

	if err = f(ctx, tx); err != nil {
		return fmt.Errorf("failed to run fn, err: %w", err)
	}

	return nil
}
