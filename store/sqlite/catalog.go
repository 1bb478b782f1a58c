package sqlite

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/lockshop/engine/shop"
)

// =============================================================================
// PRODUCT STORE (shop.ProductStore interface)
// =============================================================================

// CreateProduct adds a catalog entry with zero stock.
func (s *Store) CreateProduct(ctx context.Context, p shop.Product) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO products (code, name, price, stock, description, active)
		VALUES (?, ?, ?, 0, ?, ?)`,
		p.Code, p.Name, p.Price, p.Description, boolToInt(p.Active),
	)
	if isUniqueConstraintError(err) {
		return shop.ErrProductExists
	}
	if err != nil {
		return fmt.Errorf("failed to create product: %w", err)
	}
	return nil
}

// GetProduct retrieves a product by code. Returns ErrProductNotFound for an
// unknown code.
func (s *Store) GetProduct(ctx context.Context, code string) (*shop.Product, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var (
		p      shop.Product
		active int
	)
	err := s.db.QueryRowContext(ctx,
		"SELECT code, name, price, stock, description, active FROM products WHERE code = ?",
		code,
	).Scan(&p.Code, &p.Name, &p.Price, &p.Stock, &p.Description, &active)

	if err == sql.ErrNoRows {
		return nil, shop.ErrProductNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read product: %w", err)
	}
	p.Active = active != 0
	return &p, nil
}

// ListProducts returns the catalog ordered by price, cheapest first.
func (s *Store) ListProducts(ctx context.Context) ([]shop.Product, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	rows, err := s.db.QueryContext(ctx,
		"SELECT code, name, price, stock, description, active FROM products ORDER BY price ASC, code ASC",
	)
	if err != nil {
		return nil, fmt.Errorf("failed to list products: %w", err)
	}
	defer rows.Close()

	var products []shop.Product
	for rows.Next() {
		var (
			p      shop.Product
			active int
		)
		if err := rows.Scan(&p.Code, &p.Name, &p.Price, &p.Stock, &p.Description, &active); err != nil {
			return nil, fmt.Errorf("failed to scan product: %w", err)
		}
		p.Active = active != 0
		products = append(products, p)
	}
	return products, rows.Err()
}

// UpdateProduct rewrites the mutable fields (name, price, description,
// active). The stock counter is owned by the pool and never set here.
func (s *Store) UpdateProduct(ctx context.Context, p shop.Product) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	res, err := s.db.ExecContext(ctx, `
		UPDATE products SET name = ?, price = ?, description = ?, active = ?
		WHERE code = ?`,
		p.Name, p.Price, p.Description, boolToInt(p.Active), p.Code,
	)
	if err != nil {
		return fmt.Errorf("failed to update product: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return shop.ErrProductNotFound
	}
	return nil
}

// DeleteProduct removes a product and its consumed unit history. Refused
// while any unit is still available.
func (s *Store) DeleteProduct(ctx context.Context, code string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	var available int
	err = tx.QueryRowContext(ctx,
		"SELECT COUNT(*) FROM stock_units WHERE product_code = ? AND consumed = 0",
		code,
	).Scan(&available)
	if err != nil {
		return fmt.Errorf("failed to count available units: %w", err)
	}
	if available > 0 {
		return shop.ErrProductHasStock
	}

	if _, err := tx.ExecContext(ctx,
		"DELETE FROM stock_units WHERE product_code = ?", code,
	); err != nil {
		return fmt.Errorf("failed to delete stock history: %w", err)
	}

	res, err := tx.ExecContext(ctx, "DELETE FROM products WHERE code = ?", code)
	if err != nil {
		return fmt.Errorf("failed to delete product: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return shop.ErrProductNotFound
	}

	return tx.Commit()
}

// =============================================================================
// IDENTITY STORE (shop.IdentityStore interface)
// =============================================================================

// LinkIdentity binds an external identity to an account key, creating the
// account row in passing. An account key claimed by a different external
// identity is rejected.
func (s *Store) LinkIdentity(ctx context.Context, externalID string, key shop.AccountKey) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	var claimedBy string
	err = tx.QueryRowContext(ctx,
		"SELECT external_id FROM identities WHERE growid = ? AND external_id != ?",
		string(key), externalID,
	).Scan(&claimedBy)
	if err == nil {
		return shop.ErrIdentityTaken
	}
	if err != sql.ErrNoRows {
		return fmt.Errorf("failed to check identity: %w", err)
	}

	if _, err := tx.ExecContext(ctx, `
		INSERT INTO identities (external_id, growid, created_at) VALUES (?, ?, ?)
		ON CONFLICT(external_id) DO UPDATE SET growid = excluded.growid`,
		externalID, string(key), now(),
	); err != nil {
		return fmt.Errorf("failed to link identity: %w", err)
	}
	if _, err := tx.ExecContext(ctx,
		"INSERT OR IGNORE INTO accounts (growid, created_at) VALUES (?, ?)",
		string(key), now(),
	); err != nil {
		return fmt.Errorf("failed to create account: %w", err)
	}

	return tx.Commit()
}

// ResolveIdentity returns the account key bound to an external identity.
func (s *Store) ResolveIdentity(ctx context.Context, externalID string) (shop.AccountKey, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var growid string
	err := s.db.QueryRowContext(ctx,
		"SELECT growid FROM identities WHERE external_id = ?", externalID,
	).Scan(&growid)

	if err == sql.ErrNoRows {
		return "", shop.ErrAccountNotLinked
	}
	if err != nil {
		return "", fmt.Errorf("failed to resolve identity: %w", err)
	}
	return shop.AccountKey(growid), nil
}

// =============================================================================
// WORLD STORE (shop.WorldStore interface)
// =============================================================================

// GetWorld returns the trading-world record, or nil when unset.
func (s *Store) GetWorld(ctx context.Context) (*shop.WorldInfo, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var (
		info      shop.WorldInfo
		updatedAt string
	)
	err := s.db.QueryRowContext(ctx,
		"SELECT world, owner, bot, updated_at FROM world_info WHERE id = 1",
	).Scan(&info.World, &info.Owner, &info.Bot, &updatedAt)

	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read world info: %w", err)
	}
	info.UpdatedAt = parseTime(updatedAt)
	return &info, nil
}

// SetWorld replaces the trading-world record.
func (s *Store) SetWorld(ctx context.Context, info shop.WorldInfo) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO world_info (id, world, owner, bot, updated_at) VALUES (1, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			world = excluded.world,
			owner = excluded.owner,
			bot = excluded.bot,
			updated_at = excluded.updated_at`,
		info.World, info.Owner, info.Bot, now(),
	)
	if err != nil {
		return fmt.Errorf("failed to write world info: %w", err)
	}
	return nil
}

// =============================================================================
// STATS STORE (shop.StatsStore interface)
// =============================================================================

// Stats aggregates ledger activity since the given time plus current
// catalog and account totals.
func (s *Store) Stats(ctx context.Context, since time.Time) (shop.Statistics, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	stats := shop.Statistics{Since: since}

	err := s.db.QueryRowContext(ctx, `
		SELECT COUNT(*),
		       COALESCE(SUM(CASE WHEN kind = ? THEN 1 ELSE 0 END), 0),
		       COALESCE(SUM(CASE WHEN kind = ? THEN 1 ELSE 0 END), 0),
		       COALESCE(SUM(amount), 0),
		       COALESCE(SUM(CASE WHEN kind = ? THEN -amount ELSE 0 END), 0)
		FROM ledger_entries
		WHERE created_at >= ?`,
		string(shop.KindPurchase), string(shop.KindDonation), string(shop.KindPurchase),
		formatTime(since),
	).Scan(&stats.TotalEntries, &stats.Purchases, &stats.Donations,
		&stats.VolumeWL, &stats.PurchaseVolumeWL)
	if err != nil {
		return shop.Statistics{}, fmt.Errorf("failed to aggregate ledger stats: %w", err)
	}

	err = s.db.QueryRowContext(ctx, `
		SELECT COUNT(*),
		       COALESCE(SUM(CASE WHEN active = 1 THEN 1 ELSE 0 END), 0),
		       COALESCE(SUM(stock), 0)
		FROM products`,
	).Scan(&stats.TotalProducts, &stats.ActiveProducts, &stats.TotalStock)
	if err != nil {
		return shop.Statistics{}, fmt.Errorf("failed to aggregate product stats: %w", err)
	}

	err = s.db.QueryRowContext(ctx, `
		SELECT COUNT(*),
		       COALESCE(SUM(balance_wl + balance_dl * 100 + balance_bgl * 10000), 0)
		FROM accounts`,
	).Scan(&stats.TotalAccounts, &stats.TotalBalanceWL)
	if err != nil {
		return shop.Statistics{}, fmt.Errorf("failed to aggregate account stats: %w", err)
	}

	return stats, nil
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
