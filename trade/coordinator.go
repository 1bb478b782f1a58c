/*
Package trade orchestrates purchases and balance adjustments over the
storage primitives.

PURPOSE:
  The Coordinator is the single writer of account state. Every purchase
  walks the same pipeline:

    Validate -> ResolveAccount -> PriceCheck -> ReserveStock ->
    DebitLedger -> Deliver -> Commit

  and is terminal on first success or first unrecoverable failure.

ROLLBACK POLICY:
  Stock is reserved BEFORE the ledger is touched, so a stock shortfall
  never requires a ledger rollback. The one compensating action in the
  whole engine is releasing reserved stock when the debit fails. Delivery
  failure happens after commit and never rolls anything back - the result
  carries the items inline instead.

ORDERING:
  The price check may read the process-local cache, but the debit re-reads
  the authoritative balance and ApplyDelta re-verifies negativity inside
  its own transaction. The cache can cost a buyer a spurious rejection,
  never an overdraft.

SEE ALSO:
  - shop/store.go: The atomic primitives this pipeline composes
  - store/sqlite: Their implementation
*/
package trade

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/lockshop/engine/currency"
	"github.com/lockshop/engine/shop"
)

// Default limits, tuned for the in-game trading flow.
const (
	DefaultMaxItemsPerPurchase = 100
	DefaultDeliveryChunkSize   = 1900
	DefaultDeliveryTimeout     = 10 * time.Second

	debitRetries = 3
)

// IdentityResolver maps a caller's external identity to an account key.
type IdentityResolver interface {
	ResolveIdentity(ctx context.Context, externalID string) (shop.AccountKey, error)
}

// Sink delivers purchased item contents to a buyer out-of-band. Payloads
// larger than the platform limit are sent in chunks.
type Sink interface {
	Send(ctx context.Context, identity string, text string) error
}

// Config carries the coordinator's operational knobs.
type Config struct {
	MaxItemsPerPurchase int
	DeliveryChunkSize   int
	DeliveryTimeout     time.Duration
}

func (c Config) withDefaults() Config {
	if c.MaxItemsPerPurchase <= 0 {
		c.MaxItemsPerPurchase = DefaultMaxItemsPerPurchase
	}
	if c.DeliveryChunkSize <= 0 {
		c.DeliveryChunkSize = DefaultDeliveryChunkSize
	}
	if c.DeliveryTimeout <= 0 {
		c.DeliveryTimeout = DefaultDeliveryTimeout
	}
	return c
}

// Coordinator couples the ledger, the stock pool and the audit trail into
// all-or-nothing operations.
type Coordinator struct {
	ledger     shop.LedgerStore
	pool       shop.StockPool
	audit      shop.AuditLog
	products   shop.ProductStore
	identities IdentityResolver
	sink       Sink
	cache      *BalanceCache
	log        *slog.Logger
	cfg        Config
}

// Deps bundles the coordinator's collaborators.
type Deps struct {
	Ledger     shop.LedgerStore
	Pool       shop.StockPool
	Audit      shop.AuditLog
	Products   shop.ProductStore
	Identities IdentityResolver
	Sink       Sink // may be nil: all deliveries degrade to inline
	Cache      *BalanceCache
	Logger     *slog.Logger
}

// NewCoordinator wires a coordinator. The cache is optional; without one
// every balance read goes straight to the store.
func NewCoordinator(d Deps, cfg Config) *Coordinator {
	if d.Logger == nil {
		d.Logger = slog.Default()
	}
	return &Coordinator{
		ledger:     d.Ledger,
		pool:       d.Pool,
		audit:      d.Audit,
		products:   d.Products,
		identities: d.Identities,
		sink:       d.Sink,
		cache:      d.Cache,
		log:        d.Logger,
		cfg:        cfg.withDefaults(),
	}
}

// =============================================================================
// PURCHASE
// =============================================================================

// PurchaseResult reports a committed purchase. When Delivered is false the
// caller must present Items inline - the purchase is committed either way.
type PurchaseResult struct {
	Success    bool
	Message    string
	Product    string
	Quantity   int
	PricePaid  int64
	NewBalance currency.Lock
	Items      []string
	Delivered  bool
}

// ProcessPurchase executes one purchase end to end. Rejections before the
// debit leave no trace; a debit failure releases the reserved stock before
// surfacing; a delivery failure returns a committed partial success.
func (c *Coordinator) ProcessPurchase(ctx context.Context, callerIdentity, productCode string, quantity int) (*PurchaseResult, error) {
	// Validate
	if quantity <= 0 {
		return nil, fmt.Errorf("%w: quantity must be positive", shop.ErrValidation)
	}
	if quantity > c.cfg.MaxItemsPerPurchase {
		return nil, fmt.Errorf("%w: at most %d items per purchase", shop.ErrValidation, c.cfg.MaxItemsPerPurchase)
	}
	if productCode == "" {
		return nil, fmt.Errorf("%w: product code required", shop.ErrValidation)
	}

	// ResolveAccount
	key, err := c.identities.ResolveIdentity(ctx, callerIdentity)
	if err != nil {
		return nil, err
	}

	product, err := c.products.GetProduct(ctx, productCode)
	if err != nil {
		return nil, err
	}
	if !product.Active {
		return nil, shop.ErrProductInactive
	}

	// PriceCheck - cached read is fine here, the debit re-verifies.
	required := product.Price * int64(quantity)
	balance, err := c.balance(ctx, key)
	if err != nil {
		return nil, err
	}
	if balance.TotalWL() < required {
		return nil, &shop.InsufficientFundsError{
			Key:       key,
			Required:  required,
			Available: balance.TotalWL(),
		}
	}

	// ReserveStock - before the ledger, so a shortfall needs no compensation.
	units, err := c.pool.ReserveUnits(ctx, productCode, quantity, callerIdentity, key)
	if err != nil {
		return nil, err
	}

	// DebitLedger - the one step with a compensating action.
	detail := fmt.Sprintf("Purchased %dx %s (%s)", quantity, product.Name, product.Code)
	newBalance, err := c.debit(ctx, key, required, detail)
	if err != nil {
		if relErr := c.pool.ReleaseUnits(ctx, units); relErr != nil {
			// Reserved units we failed to release are lost to the pool until
			// repaired by hand; this must page someone.
			c.log.Error("stock release failed after debit failure",
				"account", string(key), "product", productCode, "error", relErr)
		}
		return nil, err
	}
	c.cache.Put(key, newBalance)

	items := make([]string, len(units))
	for i, u := range units {
		items[i] = u.Content
	}

	// Deliver - post-commit; failure degrades to inline disclosure.
	delivered := c.deliver(ctx, callerIdentity, product.Name, quantity, required, items)

	msg := fmt.Sprintf("Purchase successful!\n• Product: %s\n• Quantity: %d\n• Price paid: %d WL\n• New balance:\n%s",
		product.Name, quantity, required, newBalance.Format())
	if !delivered {
		msg += "\nDelivery unavailable; your items are included below."
	}

	c.log.Info("purchase committed",
		"account", string(key), "product", productCode,
		"quantity", quantity, "paid_wl", required, "delivered", delivered)

	return &PurchaseResult{
		Success:    true,
		Message:    msg,
		Product:    product.Code,
		Quantity:   quantity,
		PricePaid:  required,
		NewBalance: newBalance,
		Items:      items,
		Delivered:  delivered,
	}, nil
}

// debit charges amount base units using the greedy break-down, then applies
// the resulting per-denomination delta atomically. A concurrent commit
// between the read and the write surfaces as ErrNegativeBalance from the
// store's own re-check; the composition is then recomputed and retried.
func (c *Coordinator) debit(ctx context.Context, key shop.AccountKey, amount int64, detail string) (currency.Lock, error) {
	var lastErr error
	for attempt := 0; attempt < debitRetries; attempt++ {
		balance, err := c.ledger.GetBalance(ctx, key)
		if err != nil {
			return currency.Zero, err
		}

		next, err := balance.Debit(amount)
		if errors.Is(err, currency.ErrInsufficientFunds) {
			return currency.Zero, &shop.InsufficientFundsError{
				Key:       key,
				Required:  amount,
				Available: balance.TotalWL(),
			}
		}
		if err != nil {
			// ErrConversion: the pre-check passed but the break-down failed.
			c.log.Error("denomination conversion invariant violated",
				"account", string(key), "amount", amount, "balance", balance.String())
			return currency.Zero, err
		}

		newBalance, err := c.ledger.ApplyDelta(ctx, key, balance.Delta(next), shop.KindPurchase, detail)
		if errors.Is(err, shop.ErrNegativeBalance) {
			lastErr = err
			continue
		}
		if err != nil {
			return currency.Zero, err
		}
		return newBalance, nil
	}

	// The balance kept shifting under us; the caller sees it as contention,
	// not as a broken invariant.
	return currency.Zero, fmt.Errorf("debit of %d WL did not settle: %w", amount, lastErr)
}

// =============================================================================
// ADMINISTRATIVE OPERATIONS
// =============================================================================

// AdjustBalance applies a per-denomination delta with an audit record.
// Fails with ErrNegativeBalance - applying nothing - when the result would
// take the total or any denomination below zero.
func (c *Coordinator) AdjustBalance(ctx context.Context, key shop.AccountKey, delta currency.Lock, kind shop.EntryKind, detail string) (currency.Lock, error) {
	if key == "" {
		return currency.Zero, fmt.Errorf("%w: account key required", shop.ErrValidation)
	}
	switch kind {
	case shop.KindAdminAdd, shop.KindAdminRemove, shop.KindDonation:
	default:
		return currency.Zero, fmt.Errorf("%w: kind %q not valid for adjustment", shop.ErrValidation, kind)
	}

	newBalance, err := c.ledger.ApplyDelta(ctx, key, delta, kind, detail)
	if err != nil {
		return currency.Zero, err
	}
	c.cache.Put(key, newBalance)

	c.log.Info("balance adjusted",
		"account", string(key), "kind", string(kind), "delta_wl", delta.TotalWL())
	return newBalance, nil
}

// ResetBalance zeroes an account, recording the prior balance in the audit
// detail. Returns the balance that was wiped.
func (c *Coordinator) ResetBalance(ctx context.Context, key shop.AccountKey, detail string) (currency.Lock, error) {
	if key == "" {
		return currency.Zero, fmt.Errorf("%w: account key required", shop.ErrValidation)
	}

	old, err := c.ledger.ResetBalance(ctx, key, detail)
	if err != nil {
		return currency.Zero, err
	}
	c.cache.Put(key, currency.Zero)

	c.log.Info("balance reset", "account", string(key), "wiped_wl", old.TotalWL())
	return old, nil
}

// GetBalance reads an account balance through the cache.
func (c *Coordinator) GetBalance(ctx context.Context, key shop.AccountKey) (currency.Lock, error) {
	if key == "" {
		return currency.Zero, fmt.Errorf("%w: account key required", shop.ErrValidation)
	}
	return c.balance(ctx, key)
}

// GetAuditTrail returns an account's ledger entries, newest first.
func (c *Coordinator) GetAuditTrail(ctx context.Context, key shop.AccountKey, limit int) ([]shop.LedgerEntry, error) {
	if key == "" {
		return nil, fmt.Errorf("%w: account key required", shop.ErrValidation)
	}
	return c.audit.Query(ctx, key, limit)
}

// IngestStock adds inventory lines to a product's pool. Duplicate lines are
// reported back, not treated as a batch failure.
func (c *Coordinator) IngestStock(ctx context.Context, productCode string, lines []string, sourceLabel, actorIdentity string) (int, []string, error) {
	if productCode == "" {
		return 0, nil, fmt.Errorf("%w: product code required", shop.ErrValidation)
	}
	if len(lines) == 0 {
		return 0, nil, fmt.Errorf("%w: no stock lines provided", shop.ErrValidation)
	}

	added, failures, err := c.pool.AddUnits(ctx, productCode, lines, sourceLabel, actorIdentity)
	if err != nil {
		return 0, nil, err
	}

	c.log.Info("stock ingested",
		"product", productCode, "added", added, "rejected", len(failures), "source", sourceLabel)
	return added, failures, nil
}

func (c *Coordinator) balance(ctx context.Context, key shop.AccountKey) (currency.Lock, error) {
	if c.cache != nil {
		return c.cache.Get(ctx, key)
	}
	return c.ledger.GetBalance(ctx, key)
}
