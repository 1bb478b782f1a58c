/*
Package shop defines the storefront domain: accounts, products, stock units
and the append-only ledger of balance mutations.

KEY CONCEPTS IN THIS FILE (types.go):
  - AccountKey: the buyer's in-game identity (GrowID), the ledger key
  - Product: a purchasable catalog entry with a derived stock counter
  - StockUnit: one redeemable inventory line, consumed exactly once
  - LedgerEntry: immutable audit record of a single balance mutation

DESIGN PRINCIPLES:
  1. Accounts are created lazily - the first balance read reserves the key
  2. StockUnits transition Available -> Consumed exactly once, irreversibly
     (a rolled-back reservation restores Available before anything escapes)
  3. LedgerEntries are append-only and carry formatted pre/post snapshots
  4. Products own a denormalized stock counter kept in sync by the same
     transaction that flips unit state

SEE ALSO:
  - shop/store.go: Persistence interfaces over these types
  - currency: The Lock denomination value type
*/
package shop

import (
	"time"

	"github.com/lockshop/engine/currency"
)

// =============================================================================
// IDENTIFIERS
// =============================================================================

// AccountKey is the opaque ledger key: the buyer's GrowID. External platform
// identities (e.g. a chat user ID) map onto it via the IdentityStore.
type AccountKey string

// EntryID identifies a single ledger entry.
type EntryID string

// =============================================================================
// ACCOUNT
// =============================================================================

// Account is a stored balance. The three denominations are individually
// non-negative at all times; only the store's ApplyDelta may move them.
type Account struct {
	Key       AccountKey
	Balance   currency.Lock
	CreatedAt time.Time
}

// =============================================================================
// PRODUCT & STOCK
// =============================================================================

// Product is a catalog entry. Stock is the count of available units in the
// pool, maintained by the same transactions that reserve or add units.
type Product struct {
	Code        string
	Name        string
	Price       int64 // base units (WL) per unit
	Stock       int64
	Description string
	Active      bool
}

// StockUnit is one redeemable inventory line.
type StockUnit struct {
	ID          int64
	ProductCode string
	Content     string // the redeemable secret; delivered to the buyer
	Consumed    bool
	ConsumedBy  string     // external identity that triggered consumption
	BuyerKey    AccountKey // account the unit was sold to
	ConsumedAt  *time.Time
	AddedBy     string
	AddedAt     time.Time
	SourceLabel string
}

// =============================================================================
// LEDGER ENTRY - Immutable audit record
// =============================================================================

// EntryKind classifies a balance mutation.
type EntryKind string

const (
	KindAdminAdd    EntryKind = "ADMIN_ADD"
	KindAdminRemove EntryKind = "ADMIN_REMOVE"
	KindPurchase    EntryKind = "PURCHASE"
	KindReset       EntryKind = "RESET"
	KindDonation    EntryKind = "DONATION"
)

// LedgerEntry records one committed balance mutation. Amount is the signed
// base-unit value of the delta (a purchase debit is negative). OldBalance and
// NewBalance hold currency.Lock Format() snapshots taken inside the same
// transaction that moved the balance.
type LedgerEntry struct {
	ID         EntryID
	Account    AccountKey
	Amount     int64
	Kind       EntryKind
	Detail     string
	OldBalance string
	NewBalance string
	CreatedAt  time.Time
}

// =============================================================================
// STATISTICS - Aggregates for the admin view
// =============================================================================

// Statistics holds raw counters over a trailing window (ledger rows) and the
// current catalog/account totals. Derived figures such as the average order
// value are computed by the trade package.
type Statistics struct {
	Since time.Time

	TotalEntries     int64
	Purchases        int64
	Donations        int64
	VolumeWL         int64 // sum of signed entry amounts in the window
	PurchaseVolumeWL int64 // absolute WL spent on purchases in the window

	TotalProducts  int64
	ActiveProducts int64
	TotalStock     int64

	TotalAccounts  int64
	TotalBalanceWL int64
}

// =============================================================================
// WORLD INFO - Single-row trading-world record
// =============================================================================

// WorldInfo describes where the storefront trades in-game.
type WorldInfo struct {
	World     string
	Owner     string
	Bot       string
	UpdatedAt time.Time
}
