/*
store.go - Persistence interfaces for the storefront engine

PURPOSE:
  Defines the contract between the coordinator and the database. The two
  mutation primitives - ApplyDelta and ReserveUnits - are individually
  atomic; every correctness argument in the engine rests on that and
  nothing else.

ATOMICITY CONTRACT:
  ApplyDelta:   read-check-write of one account balance plus exactly one
                ledger entry, as a single unit. No interleaving window.
  ReserveUnits: select-and-consume of N units plus the counter decrement,
                all-or-nothing. No unit is handed to two callers.

  Per-account commit order of ledger entries reflects the true ApplyDelta
  order. No ordering guarantee across accounts.

SEE ALSO:
  - store/sqlite: The SQLite implementation
  - trade: The coordinator that composes these primitives
*/
package shop

import (
	"context"
	"time"

	"github.com/lockshop/engine/currency"
)

// =============================================================================
// LEDGER STORE
// =============================================================================

// LedgerStore owns account balances. It is the only writer of balance state.
type LedgerStore interface {
	// GetBalance returns the stored balance. Unknown accounts read as zero
	// and are created in passing; the first read reserves the key.
	GetBalance(ctx context.Context, key AccountKey) (currency.Lock, error)

	// ApplyDelta atomically adds the per-denomination delta to the account
	// balance and appends one ledger entry of the given kind in the same
	// transaction. Fails with ErrNegativeBalance - applying nothing - if the
	// resulting total or any single denomination would go negative. The
	// negativity check runs against the authoritative stored balance, never
	// a cached one.
	ApplyDelta(ctx context.Context, key AccountKey, delta currency.Lock, kind EntryKind, detail string) (currency.Lock, error)

	// ResetBalance zeroes the account and appends a KindReset entry whose
	// detail records the prior balance. Returns the balance that was wiped.
	ResetBalance(ctx context.Context, key AccountKey, detail string) (currency.Lock, error)
}

// =============================================================================
// STOCK POOL
// =============================================================================

// StockPool owns inventory units and the per-product derived counter.
type StockPool interface {
	// ReserveUnits atomically selects quantity available units of the
	// product - oldest first - and marks them consumed by the given buyer.
	// Fails wholesale with ErrInsufficientStock when fewer are available;
	// no partial reservation survives.
	ReserveUnits(ctx context.Context, productCode string, quantity int, consumedBy string, buyer AccountKey) ([]StockUnit, error)

	// ReleaseUnits reverses a reservation, restoring the units to available.
	// Only legal on units reserved in this process and not yet confirmed
	// delivered; the coordinator calls it when the ledger debit fails.
	ReleaseUnits(ctx context.Context, units []StockUnit) error

	// AddUnits appends inventory lines for a product. Duplicate lines
	// already in the product's pool are reported back per line and skipped;
	// the batch never partially corrupts the stock counter.
	AddUnits(ctx context.Context, productCode string, lines []string, sourceLabel, addedBy string) (added int, failures []string, err error)

	// CountAvailable reports how many of a product's units are available.
	// Authoritative count, unlike the denormalized Product.Stock counter.
	CountAvailable(ctx context.Context, productCode string) (int64, error)

	// UnitHistory lists a product's units newest-added-first.
	UnitHistory(ctx context.Context, productCode string, limit int) ([]StockUnit, error)
}

// =============================================================================
// AUDIT LOG (read side - writes happen inside ApplyDelta)
// =============================================================================

// AuditLog reads the append-only ledger. There is deliberately no write
// method here: entries exist only as a side effect of balance mutations.
type AuditLog interface {
	// Query returns an account's entries, newest first.
	Query(ctx context.Context, key AccountKey, limit int) ([]LedgerEntry, error)
}

// =============================================================================
// CATALOG
// =============================================================================

// ProductStore manages the catalog.
type ProductStore interface {
	CreateProduct(ctx context.Context, p Product) error
	GetProduct(ctx context.Context, code string) (*Product, error)
	ListProducts(ctx context.Context) ([]Product, error)
	UpdateProduct(ctx context.Context, p Product) error

	// DeleteProduct removes a product. Fails with ErrProductHasStock while
	// any of its units are still available.
	DeleteProduct(ctx context.Context, code string) error
}

// =============================================================================
// IDENTITY
// =============================================================================

// IdentityStore maps external platform identities to account keys.
type IdentityStore interface {
	// LinkIdentity binds an external identity to an account key. Fails with
	// ErrIdentityTaken when the key is already claimed by someone else;
	// re-linking your own identity overwrites it.
	LinkIdentity(ctx context.Context, externalID string, key AccountKey) error

	// ResolveIdentity returns the account key for an external identity, or
	// ErrAccountNotLinked.
	ResolveIdentity(ctx context.Context, externalID string) (AccountKey, error)
}

// WorldStore holds the single trading-world record.
type WorldStore interface {
	GetWorld(ctx context.Context) (*WorldInfo, error)
	SetWorld(ctx context.Context, info WorldInfo) error
}

// =============================================================================
// STATS
// =============================================================================

// StatsStore produces raw aggregates for the admin statistics view.
type StatsStore interface {
	Stats(ctx context.Context, since time.Time) (Statistics, error)
}
