package store

import (
	"context"
	"fmt"

	"futures-decision-engine/internal/backtest"
	"futures-decision-engine/internal/exchange"
	"futures-decision-engine/internal/position"
)

// Repository provides the persistence operations backed by PostgreSQL.
type Repository struct {
	db *DB
}

// NewRepository creates a repository over an open DB.
func NewRepository(db *DB) *Repository {
	return &Repository{db: db}
}

// EnsureSchema creates the tables if they do not exist. Idempotent, run at
// startup.
func (r *Repository) EnsureSchema(ctx context.Context) error {
	stmts := []string{
		`CREATE TABLE IF NOT EXISTS closed_trades (
			id BIGSERIAL PRIMARY KEY,
			position_id VARCHAR(36) NOT NULL,
			symbol VARCHAR(20) NOT NULL,
			mode VARCHAR(20) NOT NULL,
			side VARCHAR(4) NOT NULL,
			entry_price DECIMAL(20, 8) NOT NULL,
			exit_price DECIMAL(20, 8) NOT NULL,
			quantity DECIMAL(20, 8) NOT NULL,
			pnl DECIMAL(20, 8) NOT NULL,
			pnl_frac DECIMAL(12, 8) NOT NULL,
			reason VARCHAR(20) NOT NULL,
			opened_at TIMESTAMPTZ NOT NULL,
			closed_at TIMESTAMPTZ NOT NULL
		)`,
		`CREATE INDEX IF NOT EXISTS idx_closed_trades_symbol ON closed_trades(symbol, closed_at)`,
		`CREATE TABLE IF NOT EXISTS backtest_runs (
			run_id VARCHAR(36) PRIMARY KEY,
			symbol VARCHAR(20) NOT NULL,
			mode VARCHAR(20) NOT NULL,
			windows INT NOT NULL,
			initial_equity DECIMAL(20, 8) NOT NULL,
			final_equity DECIMAL(20, 8) NOT NULL,
			total_trades INT NOT NULL,
			win_rate DECIMAL(8, 6) NOT NULL,
			max_drawdown_frac DECIMAL(8, 6) NOT NULL,
			started_at TIMESTAMPTZ NOT NULL,
			finished_at TIMESTAMPTZ NOT NULL
		)`,
		`CREATE TABLE IF NOT EXISTS backtest_trades (
			id BIGSERIAL PRIMARY KEY,
			run_id VARCHAR(36) NOT NULL REFERENCES backtest_runs(run_id) ON DELETE CASCADE,
			window_index INT NOT NULL,
			symbol VARCHAR(20) NOT NULL,
			side VARCHAR(4) NOT NULL,
			entry_time TIMESTAMPTZ NOT NULL,
			exit_time TIMESTAMPTZ NOT NULL,
			entry_price DECIMAL(20, 8) NOT NULL,
			pnl_frac DECIMAL(12, 8) NOT NULL,
			reason VARCHAR(20) NOT NULL,
			bars INT NOT NULL,
			confidence DECIMAL(8, 6) NOT NULL
		)`,
		`CREATE INDEX IF NOT EXISTS idx_backtest_trades_run ON backtest_trades(run_id)`,
	}
	for _, stmt := range stmts {
		if _, err := r.db.Pool.Exec(ctx, stmt); err != nil {
			return fmt.Errorf("failed to ensure schema: %w", err)
		}
	}
	return nil
}

// SaveClosedTrade persists one closed live trade.
func (r *Repository) SaveClosedTrade(ctx context.Context, t position.ClosedTrade) error {
	_, err := r.db.Pool.Exec(ctx, `
		INSERT INTO closed_trades
			(position_id, symbol, mode, side, entry_price, exit_price, quantity, pnl, pnl_frac, reason, opened_at, closed_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)`,
		t.PositionID, t.Symbol, t.Mode, string(t.Side), t.EntryPrice, t.ExitPrice,
		t.Qty, t.PnL, t.PnLFrac, t.Reason, t.OpenedAt, t.ClosedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to save closed trade: %w", err)
	}
	return nil
}

// SaveBacktestRun persists a run header and all its trades in one transaction.
func (r *Repository) SaveBacktestRun(ctx context.Context, res *backtest.Result) error {
	tx, err := r.db.Pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback(ctx)

	sum := res.Summarize()
	_, err = tx.Exec(ctx, `
		INSERT INTO backtest_runs
			(run_id, symbol, mode, windows, initial_equity, final_equity, total_trades, win_rate, max_drawdown_frac, started_at, finished_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)`,
		res.RunID, res.Symbol, res.Mode, res.Windows, res.InitialEquity, sum.FinalEquity,
		sum.Trades, sum.WinRate, sum.MaxDrawdownFrac, res.StartedAt, res.FinishedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to save backtest run: %w", err)
	}

	for _, t := range res.Trades {
		_, err = tx.Exec(ctx, `
			INSERT INTO backtest_trades
				(run_id, window_index, symbol, side, entry_time, exit_time, entry_price, pnl_frac, reason, bars, confidence)
			VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)`,
			res.RunID, t.WindowIndex, t.Symbol, string(t.Side), t.EntryTime, t.ExitTime,
			t.EntryPrice, t.PnLFrac, t.Reason, t.Bars, t.Confidence,
		)
		if err != nil {
			return fmt.Errorf("failed to save backtest trade: %w", err)
		}
	}

	return tx.Commit(ctx)
}

// RecentClosedTrades returns the most recent closed trades, newest first.
func (r *Repository) RecentClosedTrades(ctx context.Context, limit int) ([]position.ClosedTrade, error) {
	rows, err := r.db.Pool.Query(ctx, `
		SELECT position_id, symbol, mode, side, entry_price, exit_price, quantity, pnl, pnl_frac, reason, opened_at, closed_at
		FROM closed_trades ORDER BY closed_at DESC LIMIT $1`, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to query closed trades: %w", err)
	}
	defer rows.Close()

	var out []position.ClosedTrade
	for rows.Next() {
		var t position.ClosedTrade
		var side string
		if err := rows.Scan(&t.PositionID, &t.Symbol, &t.Mode, &side, &t.EntryPrice, &t.ExitPrice,
			&t.Qty, &t.PnL, &t.PnLFrac, &t.Reason, &t.OpenedAt, &t.ClosedAt); err != nil {
			return nil, fmt.Errorf("failed to scan closed trade: %w", err)
		}
		t.Side = exchange.Side(side)
		out = append(out, t)
	}
	return out, rows.Err()
}
