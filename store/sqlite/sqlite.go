/*
Package sqlite provides the SQLite-backed implementation of the storage
interfaces.

INTERFACES IMPLEMENTED:
  shop.LedgerStore:   Account balances + atomic delta application
  shop.StockPool:     Inventory units + derived product counter
  shop.AuditLog:      Ledger entry reads (writes ride inside ApplyDelta)
  shop.ProductStore:  Catalog CRUD
  shop.IdentityStore: External identity -> account key mapping
  shop.WorldStore:    Single trading-world record
  shop.StatsStore:    Admin aggregates

ATOMICITY:
  Every mutation primitive runs as one SQL transaction under a process-wide
  write mutex. ApplyDelta re-reads the stored balance inside its own
  transaction, so there is no window between the negativity check and the
  write - the documented lost-update hazard of read-then-write balance code
  cannot occur here. ReserveUnits selects and consumes units in the same
  transaction that moves the counter.

KEY TABLES:
  accounts:       growid-keyed balances, one column per denomination
  products:       catalog + denormalized stock counter
  stock_units:    inventory lines; UNIQUE(product_code, content) dedupes ingest
  ledger_entries: append-only audit trail; seq preserves commit order
  identities:     external identity -> growid
  world_info:     single row (id = 1)

WAL MODE:
  Opened with WAL and foreign keys on, same as any :memory: test instance.

USAGE:
  store, err := sqlite.New("./shop.db")
  if err != nil { ... }
  defer store.Close()
*/
package sqlite

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	_ "github.com/mattn/go-sqlite3"

	"github.com/lockshop/engine/currency"
	"github.com/lockshop/engine/shop"
)

// Store implements all storage interfaces using SQLite.
type Store struct {
	db *sql.DB
	mu sync.Mutex
}

// New creates a SQLite store at the given path. Use ":memory:" for tests.
func New(dbPath string) (*Store, error) {
	db, err := sql.Open("sqlite3", dbPath+"?_foreign_keys=on&_journal_mode=WAL")
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	// The store serializes writers itself; a single connection keeps the
	// in-memory database coherent across goroutines as well.
	db.SetMaxOpenConns(1)

	s := &Store{db: db}
	if err := s.migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to migrate database: %w", err)
	}
	return s, nil
}

// Close closes the database connection.
func (s *Store) Close() error {
	return s.db.Close()
}

func (s *Store) migrate() error {
	schema := `
	-- Accounts (one row per GrowID, created lazily on first reference)
	CREATE TABLE IF NOT EXISTS accounts (
		growid TEXT PRIMARY KEY,
		balance_wl INTEGER NOT NULL DEFAULT 0,
		balance_dl INTEGER NOT NULL DEFAULT 0,
		balance_bgl INTEGER NOT NULL DEFAULT 0,
		created_at TEXT NOT NULL
	);

	-- External identity -> account key
	CREATE TABLE IF NOT EXISTS identities (
		external_id TEXT PRIMARY KEY,
		growid TEXT UNIQUE NOT NULL,
		created_at TEXT NOT NULL
	);

	-- Catalog; stock is the derived count of available units
	CREATE TABLE IF NOT EXISTS products (
		code TEXT PRIMARY KEY,
		name TEXT NOT NULL,
		price INTEGER NOT NULL,
		stock INTEGER NOT NULL DEFAULT 0,
		description TEXT NOT NULL DEFAULT '',
		active INTEGER NOT NULL DEFAULT 1
	);

	-- Inventory units. The UNIQUE index rejects re-ingesting a line that is
	-- already in the product's pool.
	CREATE TABLE IF NOT EXISTS stock_units (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		product_code TEXT NOT NULL,
		content TEXT NOT NULL,
		consumed INTEGER NOT NULL DEFAULT 0,
		consumed_by TEXT,
		buyer_growid TEXT,
		consumed_at TEXT,
		added_by TEXT NOT NULL,
		added_at TEXT NOT NULL,
		source_label TEXT NOT NULL DEFAULT '',
		FOREIGN KEY (product_code) REFERENCES products(code)
	);

	CREATE UNIQUE INDEX IF NOT EXISTS idx_stock_units_unique_line
		ON stock_units(product_code, content);

	-- Hot path: oldest-available-first selection during reservation
	CREATE INDEX IF NOT EXISTS idx_stock_units_available
		ON stock_units(product_code, id) WHERE consumed = 0;

	-- Append-only audit trail. seq records true commit order per account;
	-- there is no UPDATE or DELETE on this table, ever.
	CREATE TABLE IF NOT EXISTS ledger_entries (
		seq INTEGER PRIMARY KEY AUTOINCREMENT,
		id TEXT UNIQUE NOT NULL,
		growid TEXT NOT NULL,
		amount INTEGER NOT NULL,
		kind TEXT NOT NULL,
		detail TEXT NOT NULL DEFAULT '',
		old_balance TEXT NOT NULL,
		new_balance TEXT NOT NULL,
		created_at TEXT NOT NULL,
		FOREIGN KEY (growid) REFERENCES accounts(growid)
	);

	CREATE INDEX IF NOT EXISTS idx_ledger_entries_account
		ON ledger_entries(growid, seq DESC);

	-- Trading world record (single row)
	CREATE TABLE IF NOT EXISTS world_info (
		id INTEGER PRIMARY KEY CHECK (id = 1),
		world TEXT NOT NULL,
		owner TEXT NOT NULL,
		bot TEXT NOT NULL,
		updated_at TEXT NOT NULL
	);
	`

	_, err := s.db.Exec(schema)
	return err
}

// =============================================================================
// LEDGER STORE (shop.LedgerStore interface)
// =============================================================================

// GetBalance returns the stored balance, creating the account row on first
// reference.
func (s *Store) GetBalance(ctx context.Context, key shop.AccountKey) (currency.Lock, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return currency.Zero, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	bal, err := s.balanceTx(ctx, tx, key)
	if err != nil {
		return currency.Zero, err
	}
	return bal, tx.Commit()
}

// balanceTx reads an account balance inside tx, inserting the row if absent.
func (s *Store) balanceTx(ctx context.Context, tx *sql.Tx, key shop.AccountKey) (currency.Lock, error) {
	var bal currency.Lock
	err := tx.QueryRowContext(ctx,
		"SELECT balance_wl, balance_dl, balance_bgl FROM accounts WHERE growid = ?",
		string(key),
	).Scan(&bal.WL, &bal.DL, &bal.BGL)

	if err == sql.ErrNoRows {
		_, err = tx.ExecContext(ctx,
			"INSERT INTO accounts (growid, created_at) VALUES (?, ?)",
			string(key), now())
		if err != nil {
			return currency.Zero, fmt.Errorf("failed to create account: %w", err)
		}
		return currency.Zero, nil
	}
	if err != nil {
		return currency.Zero, fmt.Errorf("failed to read balance: %w", err)
	}
	return bal, nil
}

// ApplyDelta atomically moves the account balance and appends one ledger
// entry. The negativity check runs against the balance read inside this
// transaction, never a cached value.
func (s *Store) ApplyDelta(ctx context.Context, key shop.AccountKey, delta currency.Lock, kind shop.EntryKind, detail string) (currency.Lock, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return currency.Zero, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	old, err := s.balanceTx(ctx, tx, key)
	if err != nil {
		return currency.Zero, err
	}

	next := old.Add(delta)
	if next.TotalWL() < 0 || next.HasNegative() {
		return currency.Zero, shop.ErrNegativeBalance
	}

	if err := s.writeBalanceTx(ctx, tx, key, next); err != nil {
		return currency.Zero, err
	}
	if err := s.appendEntryTx(ctx, tx, shop.LedgerEntry{
		ID:         shop.EntryID(uuid.NewString()),
		Account:    key,
		Amount:     delta.TotalWL(),
		Kind:       kind,
		Detail:     detail,
		OldBalance: old.Format(),
		NewBalance: next.Format(),
	}); err != nil {
		return currency.Zero, err
	}

	if err := tx.Commit(); err != nil {
		return currency.Zero, fmt.Errorf("failed to commit delta: %w", err)
	}
	return next, nil
}

// ResetBalance zeroes the account and records the prior balance in the
// audit detail.
func (s *Store) ResetBalance(ctx context.Context, key shop.AccountKey, detail string) (currency.Lock, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return currency.Zero, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	old, err := s.balanceTx(ctx, tx, key)
	if err != nil {
		return currency.Zero, err
	}

	if detail == "" {
		detail = "balance reset"
	}
	detail = fmt.Sprintf("%s; previous balance: %s", detail, old.String())

	if err := s.writeBalanceTx(ctx, tx, key, currency.Zero); err != nil {
		return currency.Zero, err
	}
	if err := s.appendEntryTx(ctx, tx, shop.LedgerEntry{
		ID:         shop.EntryID(uuid.NewString()),
		Account:    key,
		Amount:     -old.TotalWL(),
		Kind:       shop.KindReset,
		Detail:     detail,
		OldBalance: old.Format(),
		NewBalance: currency.Zero.Format(),
	}); err != nil {
		return currency.Zero, err
	}

	if err := tx.Commit(); err != nil {
		return currency.Zero, fmt.Errorf("failed to commit reset: %w", err)
	}
	return old, nil
}

func (s *Store) writeBalanceTx(ctx context.Context, tx *sql.Tx, key shop.AccountKey, bal currency.Lock) error {
	_, err := tx.ExecContext(ctx,
		"UPDATE accounts SET balance_wl = ?, balance_dl = ?, balance_bgl = ? WHERE growid = ?",
		bal.WL, bal.DL, bal.BGL, string(key))
	if err != nil {
		return fmt.Errorf("failed to write balance: %w", err)
	}
	return nil
}

func (s *Store) appendEntryTx(ctx context.Context, tx *sql.Tx, e shop.LedgerEntry) error {
	_, err := tx.ExecContext(ctx, `
		INSERT INTO ledger_entries
		(id, growid, amount, kind, detail, old_balance, new_balance, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		string(e.ID), string(e.Account), e.Amount, string(e.Kind),
		e.Detail, e.OldBalance, e.NewBalance, now(),
	)
	if err != nil {
		return fmt.Errorf("failed to append ledger entry: %w", err)
	}
	return nil
}

// =============================================================================
// AUDIT LOG (shop.AuditLog interface)
// =============================================================================

// Query returns an account's ledger entries, newest first.
func (s *Store) Query(ctx context.Context, key shop.AccountKey, limit int) ([]shop.LedgerEntry, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if limit <= 0 {
		limit = 10
	}

	rows, err := s.db.QueryContext(ctx, `
		SELECT id, growid, amount, kind, detail, old_balance, new_balance, created_at
		FROM ledger_entries
		WHERE growid = ?
		ORDER BY seq DESC
		LIMIT ?`,
		string(key), limit,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to query ledger entries: %w", err)
	}
	defer rows.Close()

	var entries []shop.LedgerEntry
	for rows.Next() {
		var (
			e         shop.LedgerEntry
			createdAt string
		)
		if err := rows.Scan(&e.ID, &e.Account, &e.Amount, &e.Kind,
			&e.Detail, &e.OldBalance, &e.NewBalance, &createdAt); err != nil {
			return nil, fmt.Errorf("failed to scan ledger entry: %w", err)
		}
		e.CreatedAt = parseTime(createdAt)
		entries = append(entries, e)
	}
	return entries, rows.Err()
}

// =============================================================================
// STOCK POOL (shop.StockPool interface)
// =============================================================================

// ReserveUnits atomically selects quantity available units oldest-first and
// marks them consumed. No partial reservation survives a shortfall.
func (s *Store) ReserveUnits(ctx context.Context, productCode string, quantity int, consumedBy string, buyer shop.AccountKey) ([]shop.StockUnit, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	rows, err := tx.QueryContext(ctx, `
		SELECT id, content, added_by, added_at, source_label
		FROM stock_units
		WHERE product_code = ? AND consumed = 0
		ORDER BY id ASC
		LIMIT ?`,
		productCode, quantity,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to select stock units: %w", err)
	}

	var units []shop.StockUnit
	for rows.Next() {
		var (
			u       shop.StockUnit
			addedAt string
		)
		if err := rows.Scan(&u.ID, &u.Content, &u.AddedBy, &addedAt, &u.SourceLabel); err != nil {
			rows.Close()
			return nil, fmt.Errorf("failed to scan stock unit: %w", err)
		}
		u.ProductCode = productCode
		u.AddedAt = parseTime(addedAt)
		units = append(units, u)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return nil, err
	}

	if len(units) < quantity {
		return nil, &shop.InsufficientStockError{
			ProductCode: productCode,
			Requested:   quantity,
			Available:   len(units),
		}
	}

	consumedAt := time.Now().UTC()
	for i := range units {
		res, err := tx.ExecContext(ctx, `
			UPDATE stock_units
			SET consumed = 1, consumed_by = ?, buyer_growid = ?, consumed_at = ?
			WHERE id = ? AND consumed = 0`,
			consumedBy, string(buyer), formatTime(consumedAt), units[i].ID,
		)
		if err != nil {
			return nil, fmt.Errorf("failed to consume stock unit: %w", err)
		}
		n, _ := res.RowsAffected()
		if n != 1 {
			// Selected under this same transaction; a miss here means the
			// snapshot lied, which WAL + single-writer rules out.
			return nil, fmt.Errorf("stock unit %d vanished during reservation", units[i].ID)
		}
		units[i].Consumed = true
		units[i].ConsumedBy = consumedBy
		units[i].BuyerKey = buyer
		at := consumedAt
		units[i].ConsumedAt = &at
	}

	if _, err := tx.ExecContext(ctx,
		"UPDATE products SET stock = stock - ? WHERE code = ?",
		len(units), productCode,
	); err != nil {
		return nil, fmt.Errorf("failed to update stock counter: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("failed to commit reservation: %w", err)
	}
	return units, nil
}

// ReleaseUnits restores reserved units to available, reversing the counter
// move in the same transaction.
func (s *Store) ReleaseUnits(ctx context.Context, units []shop.StockUnit) error {
	if len(units) == 0 {
		return nil
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	released := make(map[string]int64)
	for _, u := range units {
		res, err := tx.ExecContext(ctx, `
			UPDATE stock_units
			SET consumed = 0, consumed_by = NULL, buyer_growid = NULL, consumed_at = NULL
			WHERE id = ? AND consumed = 1`,
			u.ID,
		)
		if err != nil {
			return fmt.Errorf("failed to release stock unit: %w", err)
		}
		if n, _ := res.RowsAffected(); n == 1 {
			released[u.ProductCode]++
		}
	}

	for code, n := range released {
		if _, err := tx.ExecContext(ctx,
			"UPDATE products SET stock = stock + ? WHERE code = ?", n, code,
		); err != nil {
			return fmt.Errorf("failed to update stock counter: %w", err)
		}
	}

	return tx.Commit()
}

// AddUnits ingests inventory lines. Lines already present in the product's
// pool are reported in failures and skipped; the counter moves by exactly
// the number inserted.
func (s *Store) AddUnits(ctx context.Context, productCode string, lines []string, sourceLabel, addedBy string) (int, []string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, nil, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	var exists int
	err = tx.QueryRowContext(ctx,
		"SELECT COUNT(*) FROM products WHERE code = ?", productCode,
	).Scan(&exists)
	if err != nil {
		return 0, nil, fmt.Errorf("failed to check product: %w", err)
	}
	if exists == 0 {
		return 0, nil, shop.ErrProductNotFound
	}

	added := 0
	var failures []string
	addedAt := now()
	for _, line := range lines {
		line = strings.TrimSpace(line)
		if line == "" {
			continue
		}
		res, err := tx.ExecContext(ctx, `
			INSERT OR IGNORE INTO stock_units
			(product_code, content, added_by, added_at, source_label)
			VALUES (?, ?, ?, ?, ?)`,
			productCode, line, addedBy, addedAt, sourceLabel,
		)
		if err != nil {
			return 0, nil, fmt.Errorf("failed to insert stock unit: %w", err)
		}
		if n, _ := res.RowsAffected(); n == 1 {
			added++
		} else {
			failures = append(failures, line)
		}
	}

	if added > 0 {
		if _, err := tx.ExecContext(ctx,
			"UPDATE products SET stock = stock + ? WHERE code = ?", added, productCode,
		); err != nil {
			return 0, nil, fmt.Errorf("failed to update stock counter: %w", err)
		}
	}

	if err := tx.Commit(); err != nil {
		return 0, nil, fmt.Errorf("failed to commit ingest: %w", err)
	}
	return added, failures, nil
}

// CountAvailable counts a product's available units.
func (s *Store) CountAvailable(ctx context.Context, productCode string) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var n int64
	err := s.db.QueryRowContext(ctx,
		"SELECT COUNT(*) FROM stock_units WHERE product_code = ? AND consumed = 0",
		productCode,
	).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("failed to count available units: %w", err)
	}
	return n, nil
}

// UnitHistory lists a product's units newest-added-first.
func (s *Store) UnitHistory(ctx context.Context, productCode string, limit int) ([]shop.StockUnit, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if limit <= 0 {
		limit = 10
	}

	rows, err := s.db.QueryContext(ctx, `
		SELECT id, product_code, content, consumed, consumed_by, buyer_growid,
		       consumed_at, added_by, added_at, source_label
		FROM stock_units
		WHERE product_code = ?
		ORDER BY id DESC
		LIMIT ?`,
		productCode, limit,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to query stock history: %w", err)
	}
	defer rows.Close()

	var units []shop.StockUnit
	for rows.Next() {
		var (
			u                 shop.StockUnit
			consumedBy, buyer sql.NullString
			consumedAt        sql.NullString
			addedAt           string
		)
		if err := rows.Scan(&u.ID, &u.ProductCode, &u.Content, &u.Consumed,
			&consumedBy, &buyer, &consumedAt, &u.AddedBy, &addedAt, &u.SourceLabel); err != nil {
			return nil, fmt.Errorf("failed to scan stock unit: %w", err)
		}
		u.ConsumedBy = consumedBy.String
		u.BuyerKey = shop.AccountKey(buyer.String)
		if consumedAt.Valid {
			t := parseTime(consumedAt.String)
			u.ConsumedAt = &t
		}
		u.AddedAt = parseTime(addedAt)
		units = append(units, u)
	}
	return units, rows.Err()
}

// Helper functions

func now() string {
	return formatTime(time.Now().UTC())
}

func formatTime(t time.Time) string {
	return t.UTC().Format(time.RFC3339)
}

func parseTime(s string) time.Time {
	t, _ := time.Parse(time.RFC3339, s)
	return t
}

func isUniqueConstraintError(err error) bool {
	return err != nil && strings.Contains(err.Error(), "UNIQUE constraint failed")
}
