// Package store persists per-account symbol state, the tracked-symbol ledger,
// session summaries and access tokens.
package store

import (
	"bytes"
	"context"
	"crypto/sha256"
	"database/sql"
	_ "embed"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"bandtrader/internal/core"
	apperrors "bandtrader/pkg/errors"

	"github.com/mattn/go-sqlite3"
	"github.com/shopspring/decimal"
)

//go:embed schema.sql
var schema string

// SQLiteStore implements core.IStateStore and core.ITokenStore on SQLite
type SQLiteStore struct {
	db *sql.DB
}

// NewSQLiteStore opens (or creates) the database at dbPath and applies the schema
func NewSQLiteStore(dbPath string) (*SQLiteStore, error) {
	dsn := fmt.Sprintf("file:%s?_busy_timeout=5000&_journal_mode=WAL&_synchronous=NORMAL", dbPath)
	db, err := sql.Open("sqlite3", dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	// one writer at a time; tenants share the file
	db.SetMaxOpenConns(1)

	if err := db.Ping(); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}
	if _, err := db.Exec(schema); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to apply schema: %w", err)
	}

	return &SQLiteStore{db: db}, nil
}

// Ping reports whether the database is reachable
func (s *SQLiteStore) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

func checksum(base string, lots int, pending []byte) []byte {
	h := sha256.New()
	fmt.Fprintf(h, "%s|%d|", base, lots)
	h.Write(pending)
	return h.Sum(nil)
}

func (s *SQLiteStore) SaveSymbolState(ctx context.Context, accountID string, state *core.SymbolState) error {
	var pending []byte
	if state.PendingOrder != nil {
		var err error
		if pending, err = json.Marshal(state.PendingOrder); err != nil {
			return fmt.Errorf("failed to marshal pending order: %w", err)
		}
	}
	base := state.BasePrice.String()

	tx, err := s.db.BeginTx(ctx, &sql.TxOptions{Isolation: sql.LevelSerializable})
	if err != nil {
		return fmt.Errorf("%w: begin: %v", apperrors.ErrStoreUnavailable, err)
	}
	defer func() {
		_ = tx.Rollback()
	}()

	var pendingCol interface{}
	if pending != nil {
		pendingCol = string(pending)
	}
	_, err = tx.ExecContext(ctx, `
		INSERT INTO symbol_state (account_id, symbol, base_price, lots, pending_order, checksum, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT (account_id, symbol) DO UPDATE SET
			base_price = excluded.base_price,
			lots = excluded.lots,
			pending_order = excluded.pending_order,
			checksum = excluded.checksum,
			updated_at = excluded.updated_at`,
		accountID, state.Symbol, base, state.Lots, pendingCol,
		checksum(base, state.Lots, pending), time.Now().UnixNano())
	if err != nil {
		return fmt.Errorf("%w: write symbol state: %v", apperrors.ErrStoreUnavailable, err)
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("%w: commit: %v", apperrors.ErrStoreUnavailable, err)
	}
	return nil
}

func (s *SQLiteStore) LoadSymbolState(ctx context.Context, accountID, symbol string) (*core.SymbolState, error) {
	var (
		base      string
		lots      int
		pending   sql.NullString
		stored    []byte
		updatedAt int64
	)
	err := s.db.QueryRowContext(ctx, `
		SELECT base_price, lots, pending_order, checksum, updated_at
		FROM symbol_state WHERE account_id = ? AND symbol = ?`, accountID, symbol).
		Scan(&base, &lots, &pending, &stored, &updatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("%w: read symbol state: %v", apperrors.ErrStoreUnavailable, err)
	}

	var pendingRaw []byte
	if pending.Valid {
		pendingRaw = []byte(pending.String)
	}
	if !bytes.Equal(stored, checksum(base, lots, pendingRaw)) {
		return nil, fmt.Errorf("checksum verification failed for %s/%s: data corruption detected", accountID, symbol)
	}

	price, err := decimal.NewFromString(base)
	if err != nil {
		return nil, fmt.Errorf("invalid stored base price %q: %w", base, err)
	}
	state := &core.SymbolState{
		Symbol:    symbol,
		BasePrice: price,
		Lots:      lots,
		UpdatedAt: time.Unix(0, updatedAt),
	}
	if pendingRaw != nil {
		var ref core.OrderRef
		if err := json.Unmarshal(pendingRaw, &ref); err != nil {
			return nil, fmt.Errorf("failed to unmarshal pending order: %w", err)
		}
		state.PendingOrder = &ref
	}
	return state, nil
}

func (s *SQLiteStore) AppendSessionSummary(ctx context.Context, summary *core.SessionSummary) error {
	recorded := summary.RecordedAt
	if recorded.IsZero() {
		recorded = time.Now()
	}
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO session_summary
			(account_id, session_date, buy_trades, sell_trades, base_ratchets, approx_profit, recorded_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)`,
		summary.AccountID, summary.Date, summary.BuyTrades, summary.SellTrades,
		summary.BaseRatchets, summary.ApproxProfit.String(), recorded.UnixNano())
	if err != nil {
		var sqliteErr sqlite3.Error
		if errors.As(err, &sqliteErr) && sqliteErr.ExtendedCode == sqlite3.ErrConstraintUnique {
			return fmt.Errorf("%w: %s on %s", apperrors.ErrDuplicateSummary, summary.AccountID, summary.Date)
		}
		return fmt.Errorf("%w: append session summary: %v", apperrors.ErrStoreUnavailable, err)
	}
	return nil
}

func (s *SQLiteStore) ListSessionSummaries(ctx context.Context, accountID string) ([]*core.SessionSummary, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT session_date, buy_trades, sell_trades, base_ratchets, approx_profit, recorded_at
		FROM session_summary WHERE account_id = ? ORDER BY session_date`, accountID)
	if err != nil {
		return nil, fmt.Errorf("%w: list session summaries: %v", apperrors.ErrStoreUnavailable, err)
	}
	defer rows.Close()

	var out []*core.SessionSummary
	for rows.Next() {
		var (
			sum      = &core.SessionSummary{AccountID: accountID}
			profit   string
			recorded int64
		)
		if err := rows.Scan(&sum.Date, &sum.BuyTrades, &sum.SellTrades, &sum.BaseRatchets, &profit, &recorded); err != nil {
			return nil, err
		}
		if sum.ApproxProfit, err = decimal.NewFromString(profit); err != nil {
			return nil, fmt.Errorf("invalid stored profit %q: %w", profit, err)
		}
		sum.RecordedAt = time.Unix(0, recorded)
		out = append(out, sum)
	}
	return out, rows.Err()
}

func (s *SQLiteStore) ListTrackedSymbols(ctx context.Context, accountID string) ([]string, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT symbol FROM tracked_symbols WHERE account_id = ? ORDER BY id`, accountID)
	if err != nil {
		return nil, fmt.Errorf("%w: list tracked symbols: %v", apperrors.ErrStoreUnavailable, err)
	}
	defer rows.Close()

	var out []string
	for rows.Next() {
		var sym string
		if err := rows.Scan(&sym); err != nil {
			return nil, err
		}
		out = append(out, sym)
	}
	return out, rows.Err()
}

func (s *SQLiteStore) TrackSymbol(ctx context.Context, accountID, symbol string) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT OR IGNORE INTO tracked_symbols (account_id, symbol, created_at) VALUES (?, ?, ?)`,
		accountID, symbol, time.Now().UnixNano())
	if err != nil {
		return fmt.Errorf("%w: track symbol: %v", apperrors.ErrStoreUnavailable, err)
	}
	return nil
}

func (s *SQLiteStore) SaveAccessToken(ctx context.Context, accountID, token string) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO access_tokens (account_id, token, updated_at) VALUES (?, ?, ?)
		ON CONFLICT (account_id) DO UPDATE SET token = excluded.token, updated_at = excluded.updated_at`,
		accountID, token, time.Now().UnixNano())
	if err != nil {
		return fmt.Errorf("%w: save access token: %v", apperrors.ErrStoreUnavailable, err)
	}
	return nil
}

func (s *SQLiteStore) LoadAccessToken(ctx context.Context, accountID string) (string, error) {
	var token string
	err := s.db.QueryRowContext(ctx,
		`SELECT token FROM access_tokens WHERE account_id = ?`, accountID).Scan(&token)
	if errors.Is(err, sql.ErrNoRows) {
		return "", fmt.Errorf("%w: %s", apperrors.ErrTokenNotFound, accountID)
	}
	if err != nil {
		return "", fmt.Errorf("%w: load access token: %v", apperrors.ErrStoreUnavailable, err)
	}
	return token, nil
}

func (s *SQLiteStore) Close() error {
	return s.db.Close()
}
