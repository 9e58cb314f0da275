package store

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	_ "github.com/mattn/go-sqlite3"

	apperrors "consensus-trader/internal/errors"
	"consensus-trader/internal/models"
)

// SQLiteStore implements SignalStore using SQLite.
type SQLiteStore struct {
	db *sql.DB
}

// NewSQLiteStore opens (or creates) the database at dbPath.
func NewSQLiteStore(dbPath string) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite3", dbPath+"?_journal_mode=WAL&_busy_timeout=5000")
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

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
	-- Generated consensus signals
	CREATE TABLE IF NOT EXISTS signals (
		id TEXT PRIMARY KEY,
		symbol TEXT NOT NULL,
		direction TEXT NOT NULL,
		confidence REAL NOT NULL,
		raw_confidence REAL NOT NULL,
		net_score REAL NOT NULL,
		entry_price REAL,
		stop_price REAL,
		target_price REAL,
		tradable INTEGER NOT NULL,
		reason TEXT,
		generated_at DATETIME NOT NULL,
		created_at DATETIME DEFAULT CURRENT_TIMESTAMP
	);

	-- Per-source contributions to each signal
	CREATE TABLE IF NOT EXISTS signal_sources (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		signal_id TEXT NOT NULL,
		source_id TEXT NOT NULL,
		weight REAL NOT NULL,
		direction TEXT NOT NULL,
		confidence REAL NOT NULL,
		FOREIGN KEY (signal_id) REFERENCES signals(id)
	);

	-- Orders placed from signals
	CREATE TABLE IF NOT EXISTS orders (
		id TEXT PRIMARY KEY,
		signal_id TEXT,
		symbol TEXT NOT NULL,
		side TEXT NOT NULL,
		qty REAL NOT NULL,
		type TEXT NOT NULL,
		limit_price REAL,
		status TEXT NOT NULL,
		retry_count INTEGER DEFAULT 0,
		stop_order_id TEXT,
		target_order_id TEXT,
		filled_price REAL,
		placed_at DATETIME NOT NULL,
		updated_at DATETIME NOT NULL
	);

	-- Reported signal outcomes used for weight adaptation
	CREATE TABLE IF NOT EXISTS outcomes (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		signal_id TEXT NOT NULL,
		source_id TEXT NOT NULL,
		was_correct INTEGER NOT NULL,
		confidence REAL NOT NULL,
		reported_at DATETIME NOT NULL
	);

	-- Latest adaptive weight per source
	CREATE TABLE IF NOT EXISTS source_weights (
		source_id TEXT PRIMARY KEY,
		weight REAL NOT NULL,
		rolling_accuracy REAL NOT NULL,
		updated_at DATETIME DEFAULT CURRENT_TIMESTAMP
	);

	-- Runtime flags that must survive restarts
	CREATE TABLE IF NOT EXISTS runtime_flags (
		name TEXT PRIMARY KEY,
		value TEXT NOT NULL,
		reason TEXT,
		updated_at DATETIME DEFAULT CURRENT_TIMESTAMP
	);

	CREATE INDEX IF NOT EXISTS idx_signals_symbol_time ON signals(symbol, generated_at);
	CREATE INDEX IF NOT EXISTS idx_signal_sources_signal ON signal_sources(signal_id);
	CREATE INDEX IF NOT EXISTS idx_orders_signal ON orders(signal_id);
	CREATE INDEX IF NOT EXISTS idx_outcomes_source ON outcomes(source_id);
	`
	_, err := s.db.Exec(schema)
	return err
}

// SaveSignal persists a signal and its contributing sources atomically.
func (s *SQLiteStore) SaveSignal(ctx context.Context, signal models.Signal) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("beginning transaction: %w", err)
	}
	defer tx.Rollback()

	_, err = tx.ExecContext(ctx, `
		INSERT INTO signals (id, symbol, direction, confidence, raw_confidence, net_score,
			entry_price, stop_price, target_price, tradable, reason, generated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		signal.ID, signal.Symbol, string(signal.Direction), signal.Confidence,
		signal.RawConfidence, signal.NetScore, signal.EntryPrice, signal.StopPrice,
		signal.TargetPrice, boolToInt(signal.Tradable), signal.Reason, signal.GeneratedAt)
	if err != nil {
		return fmt.Errorf("inserting signal: %w", err)
	}

	for _, src := range signal.ContributingSources {
		_, err = tx.ExecContext(ctx, `
			INSERT INTO signal_sources (signal_id, source_id, weight, direction, confidence)
			VALUES (?, ?, ?, ?, ?)`,
			signal.ID, src.SourceID, src.Weight, string(src.Direction), src.Confidence)
		if err != nil {
			return fmt.Errorf("inserting signal source: %w", err)
		}
	}

	return tx.Commit()
}

// GetSignal returns the signal with the given ID, including its sources.
func (s *SQLiteStore) GetSignal(ctx context.Context, id string) (models.Signal, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT id, symbol, direction, confidence, raw_confidence, net_score,
			entry_price, stop_price, target_price, tradable, reason, generated_at
		FROM signals WHERE id = ?`, id)

	signal, err := scanSignal(row)
	if err == sql.ErrNoRows {
		return models.Signal{}, apperrors.Wrapf(apperrors.ErrDataNotFound, "signal %s", id)
	}
	if err != nil {
		return models.Signal{}, fmt.Errorf("querying signal: %w", err)
	}

	signal.ContributingSources, err = s.signalSources(ctx, id)
	if err != nil {
		return models.Signal{}, err
	}
	return signal, nil
}

// RecentSignals returns the most recent signals, optionally filtered by
// symbol. Contributing sources are not populated.
func (s *SQLiteStore) RecentSignals(ctx context.Context, symbol string, limit int) ([]models.Signal, error) {
	if limit <= 0 {
		limit = 20
	}

	query := `
		SELECT id, symbol, direction, confidence, raw_confidence, net_score,
			entry_price, stop_price, target_price, tradable, reason, generated_at
		FROM signals`
	args := []interface{}{}
	if symbol != "" {
		query += " WHERE symbol = ?"
		args = append(args, symbol)
	}
	query += " ORDER BY generated_at DESC LIMIT ?"
	args = append(args, limit)

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("querying signals: %w", err)
	}
	defer rows.Close()

	var signals []models.Signal
	for rows.Next() {
		signal, err := scanSignal(rows)
		if err != nil {
			return nil, fmt.Errorf("scanning signal: %w", err)
		}
		signals = append(signals, signal)
	}
	return signals, rows.Err()
}

func (s *SQLiteStore) signalSources(ctx context.Context, signalID string) ([]models.ContributingSource, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT source_id, weight, direction, confidence
		FROM signal_sources WHERE signal_id = ?`, signalID)
	if err != nil {
		return nil, fmt.Errorf("querying signal sources: %w", err)
	}
	defer rows.Close()

	var sources []models.ContributingSource
	for rows.Next() {
		var src models.ContributingSource
		var direction string
		if err := rows.Scan(&src.SourceID, &src.Weight, &direction, &src.Confidence); err != nil {
			return nil, fmt.Errorf("scanning signal source: %w", err)
		}
		src.Direction = models.Direction(direction)
		sources = append(sources, src)
	}
	return sources, rows.Err()
}

// SaveOrder inserts or updates an order record.
func (s *SQLiteStore) SaveOrder(ctx context.Context, order models.Order) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO orders (id, signal_id, symbol, side, qty, type, limit_price, status,
			retry_count, stop_order_id, target_order_id, filled_price, placed_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			status = excluded.status,
			retry_count = excluded.retry_count,
			stop_order_id = excluded.stop_order_id,
			target_order_id = excluded.target_order_id,
			filled_price = excluded.filled_price,
			updated_at = excluded.updated_at`,
		order.ID, order.SignalID, order.Symbol, string(order.Side), order.Qty,
		string(order.Type), order.LimitPrice, string(order.Status), order.RetryCount,
		order.Bracket.StopOrderID, order.Bracket.TargetOrderID, order.FilledPrice,
		order.PlacedAt, order.UpdatedAt)
	if err != nil {
		return fmt.Errorf("saving order: %w", err)
	}
	return nil
}

// OrdersForSignal returns all orders placed for a signal.
func (s *SQLiteStore) OrdersForSignal(ctx context.Context, signalID string) ([]models.Order, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, signal_id, symbol, side, qty, type, limit_price, status,
			retry_count, stop_order_id, target_order_id, filled_price, placed_at, updated_at
		FROM orders WHERE signal_id = ? ORDER BY placed_at`, signalID)
	if err != nil {
		return nil, fmt.Errorf("querying orders: %w", err)
	}
	defer rows.Close()

	var orders []models.Order
	for rows.Next() {
		var o models.Order
		var side, otype, status string
		err := rows.Scan(&o.ID, &o.SignalID, &o.Symbol, &side, &o.Qty, &otype,
			&o.LimitPrice, &status, &o.RetryCount, &o.Bracket.StopOrderID,
			&o.Bracket.TargetOrderID, &o.FilledPrice, &o.PlacedAt, &o.UpdatedAt)
		if err != nil {
			return nil, fmt.Errorf("scanning order: %w", err)
		}
		o.Side = models.OrderSide(side)
		o.Type = models.OrderType(otype)
		o.Status = models.OrderStatus(status)
		orders = append(orders, o)
	}
	return orders, rows.Err()
}

// SaveOutcome records a reported signal outcome.
func (s *SQLiteStore) SaveOutcome(ctx context.Context, outcome models.SignalOutcome) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO outcomes (signal_id, source_id, was_correct, confidence, reported_at)
		VALUES (?, ?, ?, ?, ?)`,
		outcome.SignalID, outcome.SourceID, boolToInt(outcome.WasCorrect),
		outcome.Confidence, outcome.ReportedAt)
	if err != nil {
		return fmt.Errorf("saving outcome: %w", err)
	}
	return nil
}

// SourceStats aggregates recorded outcomes per source.
func (s *SQLiteStore) SourceStats(ctx context.Context) ([]SourceStat, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT source_id, COUNT(*), SUM(was_correct)
		FROM outcomes GROUP BY source_id ORDER BY source_id`)
	if err != nil {
		return nil, fmt.Errorf("querying source stats: %w", err)
	}
	defer rows.Close()

	var stats []SourceStat
	for rows.Next() {
		var stat SourceStat
		if err := rows.Scan(&stat.SourceID, &stat.Total, &stat.Correct); err != nil {
			return nil, fmt.Errorf("scanning source stat: %w", err)
		}
		stats = append(stats, stat)
	}
	return stats, rows.Err()
}

// SaveWeights upserts the latest adaptive weight per source.
func (s *SQLiteStore) SaveWeights(ctx context.Context, weights []models.SourceWeight) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("beginning transaction: %w", err)
	}
	defer tx.Rollback()

	for _, sw := range weights {
		_, err = tx.ExecContext(ctx, `
			INSERT INTO source_weights (source_id, weight, rolling_accuracy, updated_at)
			VALUES (?, ?, ?, CURRENT_TIMESTAMP)
			ON CONFLICT(source_id) DO UPDATE SET
				weight = excluded.weight,
				rolling_accuracy = excluded.rolling_accuracy,
				updated_at = CURRENT_TIMESTAMP`,
			sw.SourceID, sw.Weight, sw.RollingAccuracy)
		if err != nil {
			return fmt.Errorf("saving weight for %s: %w", sw.SourceID, err)
		}
	}
	return tx.Commit()
}

// LoadWeights returns the persisted weight per source, empty if none.
func (s *SQLiteStore) LoadWeights(ctx context.Context) (map[string]float64, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT source_id, weight FROM source_weights`)
	if err != nil {
		return nil, fmt.Errorf("querying weights: %w", err)
	}
	defer rows.Close()

	weights := make(map[string]float64)
	for rows.Next() {
		var id string
		var w float64
		if err := rows.Scan(&id, &w); err != nil {
			return nil, fmt.Errorf("scanning weight: %w", err)
		}
		weights[id] = w
	}
	return weights, rows.Err()
}

// SetHalted persists the trading-halt flag.
func (s *SQLiteStore) SetHalted(ctx context.Context, halted bool, reason string) error {
	value := "0"
	if halted {
		value = "1"
	}
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO runtime_flags (name, value, reason, updated_at)
		VALUES ('halted', ?, ?, CURRENT_TIMESTAMP)
		ON CONFLICT(name) DO UPDATE SET
			value = excluded.value,
			reason = excluded.reason,
			updated_at = CURRENT_TIMESTAMP`, value, reason)
	if err != nil {
		return fmt.Errorf("saving halt flag: %w", err)
	}
	return nil
}

// Halted returns the persisted trading-halt flag and its reason.
func (s *SQLiteStore) Halted(ctx context.Context) (bool, string, error) {
	var value, reason string
	err := s.db.QueryRowContext(ctx,
		`SELECT value, COALESCE(reason, '') FROM runtime_flags WHERE name = 'halted'`).
		Scan(&value, &reason)
	if err == sql.ErrNoRows {
		return false, "", nil
	}
	if err != nil {
		return false, "", fmt.Errorf("querying halt flag: %w", err)
	}
	return value == "1", reason, nil
}

// Close closes the database.
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

type rowScanner interface {
	Scan(dest ...interface{}) error
}

func scanSignal(row rowScanner) (models.Signal, error) {
	var signal models.Signal
	var direction string
	var tradable int
	err := row.Scan(&signal.ID, &signal.Symbol, &direction, &signal.Confidence,
		&signal.RawConfidence, &signal.NetScore, &signal.EntryPrice, &signal.StopPrice,
		&signal.TargetPrice, &tradable, &signal.Reason, &signal.GeneratedAt)
	if err != nil {
		return models.Signal{}, err
	}
	signal.Direction = models.Direction(direction)
	signal.Tradable = tradable != 0
	return signal, nil
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}

var _ SignalStore = (*SQLiteStore)(nil)
