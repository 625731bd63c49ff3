package store

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	_ "github.com/mattn/go-sqlite3"

	apperrors "swing-trader/internal/errors"
	"swing-trader/internal/models"
)

// SQLiteStore implements TradeStore using SQLite.
type SQLiteStore struct {
	db *sql.DB
}

// NewSQLiteStore creates a new SQLite-based trade store.
func NewSQLiteStore(dbPath string) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite3", dbPath+"?_journal_mode=WAL&_busy_timeout=5000")
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	// Configure connection pool for concurrent access
	db.SetMaxOpenConns(10)
	db.SetMaxIdleConns(5)
	db.SetConnMaxLifetime(time.Hour)

	store := &SQLiteStore{db: db}

	if err := store.initSchema(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to initialize schema: %w", err)
	}

	return store, nil
}

// initSchema creates all required tables and indexes.
func (s *SQLiteStore) initSchema() error {
	schema := `
	-- Trades table: one row per bracket trade across its whole lifecycle
	CREATE TABLE IF NOT EXISTS trades (
		id TEXT PRIMARY KEY,
		user_id TEXT NOT NULL,
		symbol TEXT NOT NULL,
		exchange TEXT NOT NULL,
		instrument TEXT NOT NULL,
		side TEXT NOT NULL,
		quantity INTEGER NOT NULL,
		signal_price REAL NOT NULL,
		stop_loss REAL NOT NULL,
		target REAL NOT NULL,
		trailing_enabled INTEGER DEFAULT 0,
		trailing_distance REAL DEFAULT 0,
		entry_price REAL DEFAULT 0,
		entry_order_id TEXT DEFAULT '',
		stop_order_id TEXT DEFAULT '',
		target_order_id TEXT DEFAULT '',
		is_live INTEGER DEFAULT 0,
		highest_price REAL DEFAULT 0,
		status TEXT NOT NULL,
		needs_review INTEGER DEFAULT 0,
		created_at DATETIME NOT NULL,
		entry_date DATETIME,
		completed_at DATETIME,
		exit_price REAL DEFAULT 0,
		exit_reason TEXT DEFAULT '',
		gross_pnl REAL DEFAULT 0,
		net_pnl REAL DEFAULT 0,
		status_message TEXT DEFAULT '',
		sl_updates INTEGER DEFAULT 0,
		last_stop_update DATETIME,
		archived INTEGER DEFAULT 0,
		version INTEGER NOT NULL DEFAULT 0
	);

	-- Candles cache for historical OHLCV data
	CREATE TABLE IF NOT EXISTS candles (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		symbol TEXT NOT NULL,
		timeframe TEXT NOT NULL,
		timestamp DATETIME NOT NULL,
		open REAL NOT NULL,
		high REAL NOT NULL,
		low REAL NOT NULL,
		close REAL NOT NULL,
		volume INTEGER NOT NULL,
		created_at DATETIME DEFAULT CURRENT_TIMESTAMP,
		UNIQUE(symbol, timeframe, timestamp)
	);

	-- Worker heartbeats
	CREATE TABLE IF NOT EXISTS worker_status (
		worker TEXT PRIMARY KEY,
		last_run DATETIME NOT NULL,
		updated_at DATETIME DEFAULT CURRENT_TIMESTAMP
	);

	-- Create indexes for performance
	CREATE INDEX IF NOT EXISTS idx_trades_user ON trades(user_id);
	CREATE INDEX IF NOT EXISTS idx_trades_symbol ON trades(symbol);
	CREATE INDEX IF NOT EXISTS idx_trades_status ON trades(status);
	CREATE INDEX IF NOT EXISTS idx_candles_symbol_timeframe ON candles(symbol, timeframe);
	CREATE INDEX IF NOT EXISTS idx_candles_timestamp ON candles(timestamp);
	`

	_, err := s.db.Exec(schema)
	return err
}

// Close closes the database connection.
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

const tradeColumns = `id, user_id, symbol, exchange, instrument, side, quantity,
	signal_price, stop_loss, target, trailing_enabled, trailing_distance,
	entry_price, entry_order_id, stop_order_id, target_order_id, is_live,
	highest_price, status, needs_review, created_at, entry_date, completed_at,
	exit_price, exit_reason, gross_pnl, net_pnl, status_message,
	sl_updates, last_stop_update, archived, version`

// SaveTrade inserts a new trade.
func (s *SQLiteStore) SaveTrade(ctx context.Context, t *models.Trade) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO trades (`+tradeColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`, t.ID, t.UserID, t.Symbol, string(t.Exchange), string(t.Instrument), string(t.Side), t.Quantity,
		t.SignalPrice, t.StopLoss, t.Target, boolToInt(t.TrailingEnabled), t.TrailingDistance,
		t.EntryPrice, t.EntryOrderID, t.StopOrderID, t.TargetOrderID, boolToInt(t.IsLive),
		t.HighestPrice, string(t.Status), boolToInt(t.NeedsReview), t.CreatedAt, nullTime(t.EntryDate), nullTime(t.CompletedAt),
		t.ExitPrice, string(t.ExitReason), t.GrossPnL, t.NetPnL, t.StatusMessage,
		t.SLUpdates, nullTime(t.LastStopUpdate), boolToInt(t.Archived), t.Version)
	if err != nil {
		return fmt.Errorf("failed to save trade: %w", err)
	}
	return nil
}

// GetTrade retrieves a trade by ID. A non-empty userID additionally
// requires the trade to belong to that user.
func (s *SQLiteStore) GetTrade(ctx context.Context, userID, id string) (*models.Trade, error) {
	query := `SELECT ` + tradeColumns + ` FROM trades WHERE id = ?`
	args := []interface{}{id}
	if userID != "" {
		query += " AND user_id = ?"
		args = append(args, userID)
	}

	row := s.db.QueryRowContext(ctx, query, args...)
	t, err := scanTrade(row)
	if err == sql.ErrNoRows {
		return nil, apperrors.ErrTradeNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get trade: %w", err)
	}
	return t, nil
}

// UpdateTrade writes the trade back, guarded by its version. On success
// the version is bumped both in the row and on the passed trade. A stale
// version returns ErrVersionConflict and leaves the row untouched.
func (s *SQLiteStore) UpdateTrade(ctx context.Context, t *models.Trade) error {
	result, err := s.db.ExecContext(ctx, `
		UPDATE trades SET
			entry_price = ?, entry_order_id = ?, stop_order_id = ?, target_order_id = ?,
			stop_loss = ?, highest_price = ?, status = ?, needs_review = ?,
			entry_date = ?, completed_at = ?, exit_price = ?, exit_reason = ?,
			gross_pnl = ?, net_pnl = ?, status_message = ?,
			sl_updates = ?, last_stop_update = ?, archived = ?,
			version = version + 1
		WHERE id = ? AND version = ?
	`, t.EntryPrice, t.EntryOrderID, t.StopOrderID, t.TargetOrderID,
		t.StopLoss, t.HighestPrice, string(t.Status), boolToInt(t.NeedsReview),
		nullTime(t.EntryDate), nullTime(t.CompletedAt), t.ExitPrice, string(t.ExitReason),
		t.GrossPnL, t.NetPnL, t.StatusMessage,
		t.SLUpdates, nullTime(t.LastStopUpdate), boolToInt(t.Archived),
		t.ID, t.Version)
	if err != nil {
		return fmt.Errorf("failed to update trade: %w", err)
	}

	rows, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to update trade: %w", err)
	}
	if rows == 0 {
		// Distinguish a stale version from a missing row.
		var exists int
		err := s.db.QueryRowContext(ctx, `SELECT 1 FROM trades WHERE id = ?`, t.ID).Scan(&exists)
		if err == sql.ErrNoRows {
			return apperrors.ErrTradeNotFound
		}
		if err != nil {
			return fmt.Errorf("failed to update trade: %w", err)
		}
		return apperrors.ErrVersionConflict
	}

	t.Version++
	return nil
}

// ListTrades retrieves trades matching the filter.
func (s *SQLiteStore) ListTrades(ctx context.Context, filter TradeFilter) ([]models.Trade, error) {
	query := `SELECT ` + tradeColumns + ` FROM trades WHERE 1=1`
	args := []interface{}{}

	if filter.UserID != "" {
		query += " AND user_id = ?"
		args = append(args, filter.UserID)
	}
	if filter.Symbol != "" {
		query += " AND symbol = ?"
		args = append(args, filter.Symbol)
	}
	if filter.Status != "" {
		query += " AND status = ?"
		args = append(args, string(filter.Status))
	}
	if filter.ActiveOnly {
		query += " AND status IN (?, ?)"
		args = append(args, string(models.TradePlaced), string(models.TradeOpen))
	}
	if !filter.IncludeArchived {
		query += " AND archived = 0"
	}

	query += " ORDER BY created_at DESC"
	if filter.Limit > 0 {
		query += " LIMIT ?"
		args = append(args, filter.Limit)
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query trades: %w", err)
	}
	defer rows.Close()

	var trades []models.Trade
	for rows.Next() {
		t, err := scanTrade(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan trade: %w", err)
		}
		trades = append(trades, *t)
	}

	return trades, rows.Err()
}

// scanner abstracts sql.Row and sql.Rows.
type scanner interface {
	Scan(dest ...interface{}) error
}

func scanTrade(row scanner) (*models.Trade, error) {
	var t models.Trade
	var exchange, instrument, side, status, exitReason string
	var trailingEnabled, isLive, needsReview, archived int
	var entryDate, completedAt, lastStopUpdate sql.NullTime

	err := row.Scan(&t.ID, &t.UserID, &t.Symbol, &exchange, &instrument, &side, &t.Quantity,
		&t.SignalPrice, &t.StopLoss, &t.Target, &trailingEnabled, &t.TrailingDistance,
		&t.EntryPrice, &t.EntryOrderID, &t.StopOrderID, &t.TargetOrderID, &isLive,
		&t.HighestPrice, &status, &needsReview, &t.CreatedAt, &entryDate, &completedAt,
		&t.ExitPrice, &exitReason, &t.GrossPnL, &t.NetPnL, &t.StatusMessage,
		&t.SLUpdates, &lastStopUpdate, &archived, &t.Version)
	if err != nil {
		return nil, err
	}

	t.Exchange = models.Exchange(exchange)
	t.Instrument = models.InstrumentKind(instrument)
	t.Side = models.OrderSide(side)
	t.Status = models.TradeStatus(status)
	t.ExitReason = models.ExitReason(exitReason)
	t.TrailingEnabled = trailingEnabled == 1
	t.IsLive = isLive == 1
	t.NeedsReview = needsReview == 1
	t.Archived = archived == 1
	if entryDate.Valid {
		t.EntryDate = entryDate.Time
	}
	if completedAt.Valid {
		t.CompletedAt = completedAt.Time
	}
	if lastStopUpdate.Valid {
		t.LastStopUpdate = lastStopUpdate.Time
	}

	return &t, nil
}

// ============================================================================
// Candles Methods
// ============================================================================

// SaveCandles saves candles to the database.
func (s *SQLiteStore) SaveCandles(ctx context.Context, symbol, timeframe string, candles []models.Candle) error {
	if len(candles) == 0 {
		return nil
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	stmt, err := tx.PrepareContext(ctx, `
		INSERT OR REPLACE INTO candles (symbol, timeframe, timestamp, open, high, low, close, volume)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
	`)
	if err != nil {
		return fmt.Errorf("failed to prepare statement: %w", err)
	}
	defer stmt.Close()

	for _, c := range candles {
		_, err := stmt.ExecContext(ctx, symbol, timeframe, c.Timestamp, c.Open, c.High, c.Low, c.Close, c.Volume)
		if err != nil {
			return fmt.Errorf("failed to insert candle: %w", err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit transaction: %w", err)
	}

	return nil
}

// GetCandles retrieves candles from the database.
func (s *SQLiteStore) GetCandles(ctx context.Context, symbol, timeframe string, from, to time.Time) ([]models.Candle, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT timestamp, open, high, low, close, volume
		FROM candles
		WHERE symbol = ? AND timeframe = ? AND timestamp >= ? AND timestamp <= ?
		ORDER BY timestamp ASC
	`, symbol, timeframe, from, to)
	if err != nil {
		return nil, fmt.Errorf("failed to query candles: %w", err)
	}
	defer rows.Close()

	var candles []models.Candle
	for rows.Next() {
		var c models.Candle
		if err := rows.Scan(&c.Timestamp, &c.Open, &c.High, &c.Low, &c.Close, &c.Volume); err != nil {
			return nil, fmt.Errorf("failed to scan candle: %w", err)
		}
		candles = append(candles, c)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating candles: %w", err)
	}

	return candles, nil
}

// ============================================================================
// Worker Status Methods
// ============================================================================

// SetWorkerHeartbeat records the last run time for a worker.
func (s *SQLiteStore) SetWorkerHeartbeat(ctx context.Context, worker string, at time.Time) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT OR REPLACE INTO worker_status (worker, last_run, updated_at)
		VALUES (?, ?, ?)
	`, worker, at, time.Now())
	if err != nil {
		return fmt.Errorf("failed to set worker heartbeat: %w", err)
	}
	return nil
}

// GetWorkerHeartbeats returns the last run time of every known worker.
func (s *SQLiteStore) GetWorkerHeartbeats(ctx context.Context) (map[string]time.Time, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT worker, last_run FROM worker_status`)
	if err != nil {
		return nil, fmt.Errorf("failed to query worker status: %w", err)
	}
	defer rows.Close()

	beats := make(map[string]time.Time)
	for rows.Next() {
		var worker string
		var lastRun time.Time
		if err := rows.Scan(&worker, &lastRun); err != nil {
			return nil, fmt.Errorf("failed to scan worker status: %w", err)
		}
		beats[worker] = lastRun
	}

	return beats, rows.Err()
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}

func nullTime(t time.Time) interface{} {
	if t.IsZero() {
		return nil
	}
	return t
}
