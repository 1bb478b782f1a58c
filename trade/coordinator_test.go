package trade_test

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/lockshop/engine/currency"
	"github.com/lockshop/engine/shop"
	"github.com/lockshop/engine/store/sqlite"
	"github.com/lockshop/engine/trade"
)

// =============================================================================
// TEST SETUP
// =============================================================================

// recordingSink captures delivered chunks; fail makes every send error.
type recordingSink struct {
	sent []string
	fail bool
}

func (s *recordingSink) Send(_ context.Context, _ string, text string) error {
	if s.fail {
		return errors.New("connection refused")
	}
	s.sent = append(s.sent, text)
	return nil
}

type testEnv struct {
	coord *trade.Coordinator
	store *sqlite.Store
	cache *trade.BalanceCache
	sink  *recordingSink
}

func newTestEnv(t *testing.T, cfg trade.Config) *testEnv {
	store, err := sqlite.New(":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })

	sink := &recordingSink{}
	cache := trade.NewBalanceCache(store, time.Minute, 100)
	coord := trade.NewCoordinator(trade.Deps{
		Ledger:     store,
		Pool:       store,
		Audit:      store,
		Products:   store,
		Identities: store,
		Sink:       sink,
		Cache:      cache,
	}, cfg)

	return &testEnv{coord: coord, store: store, cache: cache, sink: sink}
}

// seedShop links discord:1 to BUYER, funds the account and stocks a product.
func (e *testEnv) seedShop(t *testing.T, balance currency.Lock, price int64, lines ...string) {
	ctx := context.Background()

	require.NoError(t, e.store.LinkIdentity(ctx, "discord:1", "BUYER"))
	if !balance.IsZero() {
		_, err := e.store.ApplyDelta(ctx, "BUYER", balance, shop.KindAdminAdd, "seed")
		require.NoError(t, err)
	}

	require.NoError(t, e.store.CreateProduct(ctx, shop.Product{
		Code: "vpn", Name: "VPN Account", Price: price, Active: true,
	}))
	if len(lines) > 0 {
		added, _, err := e.store.AddUnits(ctx, "vpn", lines, "seed", "tester")
		require.NoError(t, err)
		require.Equal(t, len(lines), added)
	}
}

// =============================================================================
// PURCHASE - Happy path
// =============================================================================

func TestCoordinator_Purchase_Succeeds(t *testing.T) {
	// GIVEN: 100 WL, a 30 WL product with stock
	// WHEN: Buying 2
	// THEN: 60 WL debited, two oldest units delivered, one PURCHASE entry

	env := newTestEnv(t, trade.Config{})
	env.seedShop(t, currency.New(100, 0, 0), 30, "unit-1", "unit-2", "unit-3")
	ctx := context.Background()

	res, err := env.coord.ProcessPurchase(ctx, "discord:1", "vpn", 2)
	require.NoError(t, err)

	assert.True(t, res.Success)
	assert.True(t, res.Delivered)
	assert.Equal(t, int64(60), res.PricePaid)
	assert.Equal(t, currency.New(40, 0, 0), res.NewBalance)
	assert.Equal(t, []string{"unit-1", "unit-2"}, res.Items)
	assert.NotEmpty(t, env.sink.sent)

	bal, err := env.store.GetBalance(ctx, "BUYER")
	require.NoError(t, err)
	assert.Equal(t, currency.New(40, 0, 0), bal)

	p, err := env.store.GetProduct(ctx, "vpn")
	require.NoError(t, err)
	assert.Equal(t, int64(1), p.Stock)

	entries, err := env.store.Query(ctx, "BUYER", 10)
	require.NoError(t, err)
	require.Len(t, entries, 2)
	assert.Equal(t, shop.KindPurchase, entries[0].Kind)
	assert.Equal(t, int64(-60), entries[0].Amount)
	assert.Contains(t, entries[0].Detail, "VPN Account")
}

func TestCoordinator_Purchase_BreaksDenominations(t *testing.T) {
	// GIVEN: A single BGL and a 50 WL product
	// WHEN: Buying one
	// THEN: The BGL is broken minimally: 50 WL + 99 DL remain

	env := newTestEnv(t, trade.Config{})
	env.seedShop(t, currency.New(0, 0, 1), 50, "unit-1")

	res, err := env.coord.ProcessPurchase(context.Background(), "discord:1", "vpn", 1)
	require.NoError(t, err)
	assert.Equal(t, currency.New(50, 99, 0), res.NewBalance)
}

// =============================================================================
// PURCHASE - Rejections
// =============================================================================

func TestCoordinator_Purchase_InsufficientFunds(t *testing.T) {
	// GIVEN: 50 WL and a 30 WL product
	// WHEN: Buying 2 (60 WL)
	// THEN: Rejected up front; stock untouched

	env := newTestEnv(t, trade.Config{})
	env.seedShop(t, currency.New(50, 0, 0), 30, "unit-1", "unit-2")
	ctx := context.Background()

	_, err := env.coord.ProcessPurchase(ctx, "discord:1", "vpn", 2)

	var fundsErr *shop.InsufficientFundsError
	require.ErrorAs(t, err, &fundsErr)
	assert.Equal(t, int64(60), fundsErr.Required)
	assert.Equal(t, int64(50), fundsErr.Available)

	p, err := env.store.GetProduct(ctx, "vpn")
	require.NoError(t, err)
	assert.Equal(t, int64(2), p.Stock)
}

func TestCoordinator_Purchase_InsufficientStock(t *testing.T) {
	// GIVEN: Plenty of funds but one unit
	// WHEN: Buying 2
	// THEN: Rejected; funds untouched

	env := newTestEnv(t, trade.Config{})
	env.seedShop(t, currency.New(1000, 0, 0), 30, "unit-1")
	ctx := context.Background()

	_, err := env.coord.ProcessPurchase(ctx, "discord:1", "vpn", 2)
	assert.ErrorIs(t, err, shop.ErrInsufficientStock)

	bal, err := env.store.GetBalance(ctx, "BUYER")
	require.NoError(t, err)
	assert.Equal(t, currency.New(1000, 0, 0), bal)
}

func TestCoordinator_Purchase_UnlinkedIdentity(t *testing.T) {
	env := newTestEnv(t, trade.Config{})
	env.seedShop(t, currency.New(100, 0, 0), 30, "unit-1")

	_, err := env.coord.ProcessPurchase(context.Background(), "discord:unknown", "vpn", 1)
	assert.ErrorIs(t, err, shop.ErrAccountNotLinked)
}

func TestCoordinator_Purchase_InactiveProduct(t *testing.T) {
	env := newTestEnv(t, trade.Config{})
	env.seedShop(t, currency.New(100, 0, 0), 30, "unit-1")
	ctx := context.Background()

	require.NoError(t, env.store.UpdateProduct(ctx, shop.Product{
		Code: "vpn", Name: "VPN Account", Price: 30, Active: false,
	}))

	_, err := env.coord.ProcessPurchase(ctx, "discord:1", "vpn", 1)
	assert.ErrorIs(t, err, shop.ErrProductInactive)
}

func TestCoordinator_Purchase_Validation(t *testing.T) {
	env := newTestEnv(t, trade.Config{MaxItemsPerPurchase: 5})
	env.seedShop(t, currency.New(100, 0, 0), 1, "u1")
	ctx := context.Background()

	_, err := env.coord.ProcessPurchase(ctx, "discord:1", "vpn", 0)
	assert.ErrorIs(t, err, shop.ErrValidation)

	_, err = env.coord.ProcessPurchase(ctx, "discord:1", "vpn", -3)
	assert.ErrorIs(t, err, shop.ErrValidation)

	_, err = env.coord.ProcessPurchase(ctx, "discord:1", "vpn", 6)
	assert.ErrorIs(t, err, shop.ErrValidation)

	_, err = env.coord.ProcessPurchase(ctx, "discord:1", "", 1)
	assert.ErrorIs(t, err, shop.ErrValidation)
}

// =============================================================================
// PURCHASE - Rollback
// =============================================================================

func TestCoordinator_Purchase_DebitFailureReleasesStock(t *testing.T) {
	// GIVEN: A stale cached balance that passes the price check while the
	//        stored balance cannot cover the charge
	// WHEN: Buying
	// THEN: The reservation is rolled back; no PURCHASE entry exists

	env := newTestEnv(t, trade.Config{})
	env.seedShop(t, currency.New(10, 0, 0), 30, "unit-1")
	ctx := context.Background()

	env.cache.Put("BUYER", currency.New(1000, 0, 0))

	_, err := env.coord.ProcessPurchase(ctx, "discord:1", "vpn", 1)
	assert.ErrorIs(t, err, currency.ErrInsufficientFunds)

	p, err := env.store.GetProduct(ctx, "vpn")
	require.NoError(t, err)
	assert.Equal(t, int64(1), p.Stock, "reserved unit must be released")

	units, err := env.store.UnitHistory(ctx, "vpn", 10)
	require.NoError(t, err)
	require.Len(t, units, 1)
	assert.False(t, units[0].Consumed)

	entries, err := env.store.Query(ctx, "BUYER", 10)
	require.NoError(t, err)
	for _, e := range entries {
		assert.NotEqual(t, shop.KindPurchase, e.Kind)
	}
}

// =============================================================================
// PURCHASE - Delivery degradation
// =============================================================================

func TestCoordinator_Purchase_DeliveryFailureIsPartialSuccess(t *testing.T) {
	// GIVEN: A sink that always fails
	// WHEN: Buying
	// THEN: The purchase is committed and the items come back inline

	env := newTestEnv(t, trade.Config{})
	env.seedShop(t, currency.New(100, 0, 0), 30, "secret-item")
	env.sink.fail = true
	ctx := context.Background()

	res, err := env.coord.ProcessPurchase(ctx, "discord:1", "vpn", 1)
	require.NoError(t, err)

	assert.True(t, res.Success)
	assert.False(t, res.Delivered)
	assert.Equal(t, []string{"secret-item"}, res.Items)
	assert.Contains(t, res.Message, "included below")

	bal, err := env.store.GetBalance(ctx, "BUYER")
	require.NoError(t, err)
	assert.Equal(t, currency.New(70, 0, 0), bal, "debit stands despite failed delivery")
}

func TestCoordinator_Purchase_ChunksLargeDeliveries(t *testing.T) {
	// GIVEN: A tiny chunk limit and several items
	// WHEN: Buying them all
	// THEN: Delivery arrives in multiple chunks, every item in exactly one

	env := newTestEnv(t, trade.Config{DeliveryChunkSize: 64})
	lines := make([]string, 6)
	for i := range lines {
		lines[i] = fmt.Sprintf("account-%d:password-%d", i, i)
	}
	env.seedShop(t, currency.New(100, 0, 0), 10, lines...)

	res, err := env.coord.ProcessPurchase(context.Background(), "discord:1", "vpn", 6)
	require.NoError(t, err)
	require.True(t, res.Delivered)

	assert.Greater(t, len(env.sink.sent), 1)
	// The header rides alone when it exceeds the limit; item chunks obey it.
	for _, chunk := range env.sink.sent[1:] {
		assert.LessOrEqual(t, len(chunk), 64)
	}
	all := ""
	for _, chunk := range env.sink.sent {
		all += chunk + "\n"
	}
	for _, line := range lines {
		assert.Contains(t, all, line)
	}
}

func TestCoordinator_Purchase_NoSinkReturnsItemsInline(t *testing.T) {
	env := newTestEnv(t, trade.Config{})
	env.seedShop(t, currency.New(100, 0, 0), 30, "unit-1")

	// Rebuild without a sink.
	coord := trade.NewCoordinator(trade.Deps{
		Ledger:     env.store,
		Pool:       env.store,
		Audit:      env.store,
		Products:   env.store,
		Identities: env.store,
	}, trade.Config{})

	res, err := coord.ProcessPurchase(context.Background(), "discord:1", "vpn", 1)
	require.NoError(t, err)
	assert.False(t, res.Delivered)
	assert.Equal(t, []string{"unit-1"}, res.Items)
}

// =============================================================================
// ADMIN OPERATIONS
// =============================================================================

func TestCoordinator_AdjustBalance(t *testing.T) {
	env := newTestEnv(t, trade.Config{})
	ctx := context.Background()

	got, err := env.coord.AdjustBalance(ctx, "PLAYER", currency.New(5, 1, 0), shop.KindAdminAdd, "event prize")
	require.NoError(t, err)
	assert.Equal(t, currency.New(5, 1, 0), got)

	got, err = env.coord.AdjustBalance(ctx, "PLAYER", currency.New(-5, 0, 0), shop.KindAdminRemove, "correction")
	require.NoError(t, err)
	assert.Equal(t, currency.New(0, 1, 0), got)

	// Removing more than a denomination holds is rejected wholesale.
	_, err = env.coord.AdjustBalance(ctx, "PLAYER", currency.New(-1, 0, 0), shop.KindAdminRemove, "overdraw")
	assert.ErrorIs(t, err, shop.ErrNegativeBalance)
}

func TestCoordinator_AdjustBalance_RejectsWrongKind(t *testing.T) {
	env := newTestEnv(t, trade.Config{})

	_, err := env.coord.AdjustBalance(context.Background(), "PLAYER",
		currency.New(1, 0, 0), shop.KindPurchase, "sneaky")
	assert.ErrorIs(t, err, shop.ErrValidation)
}

func TestCoordinator_ResetBalance_RefreshesCache(t *testing.T) {
	// GIVEN: A cached non-zero balance
	// WHEN: Resetting the account
	// THEN: A cached read immediately observes zero

	env := newTestEnv(t, trade.Config{})
	ctx := context.Background()

	_, err := env.coord.AdjustBalance(ctx, "PLAYER", currency.New(500, 0, 0), shop.KindAdminAdd, "seed")
	require.NoError(t, err)

	old, err := env.coord.ResetBalance(ctx, "PLAYER", "owner request")
	require.NoError(t, err)
	assert.Equal(t, currency.New(500, 0, 0), old)

	bal, err := env.coord.GetBalance(ctx, "PLAYER")
	require.NoError(t, err)
	assert.True(t, bal.IsZero())
}

func TestCoordinator_GetBalance_ServesFromCache(t *testing.T) {
	// GIVEN: A balance read through the coordinator
	// WHEN: The store moves underneath without the coordinator knowing
	// THEN: The cached value is served until the TTL passes

	env := newTestEnv(t, trade.Config{})
	ctx := context.Background()

	_, err := env.store.ApplyDelta(ctx, "PLAYER", currency.New(100, 0, 0), shop.KindAdminAdd, "seed")
	require.NoError(t, err)

	bal, err := env.coord.GetBalance(ctx, "PLAYER")
	require.NoError(t, err)
	assert.Equal(t, int64(100), bal.TotalWL())

	_, err = env.store.ApplyDelta(ctx, "PLAYER", currency.New(50, 0, 0), shop.KindDonation, "out of band")
	require.NoError(t, err)

	bal, err = env.coord.GetBalance(ctx, "PLAYER")
	require.NoError(t, err)
	assert.Equal(t, int64(100), bal.TotalWL(), "stale read within TTL is expected")
}

func TestCoordinator_IngestStock(t *testing.T) {
	env := newTestEnv(t, trade.Config{})
	env.seedShop(t, currency.Zero, 30)
	ctx := context.Background()

	added, failures, err := env.coord.IngestStock(ctx, "vpn", []string{"a", "b", "a"}, "batch", "admin#1")
	require.NoError(t, err)
	assert.Equal(t, 2, added)
	assert.Equal(t, []string{"a"}, failures)

	_, _, err = env.coord.IngestStock(ctx, "vpn", nil, "batch", "admin#1")
	assert.ErrorIs(t, err, shop.ErrValidation)

	_, _, err = env.coord.IngestStock(ctx, "", []string{"x"}, "batch", "admin#1")
	assert.ErrorIs(t, err, shop.ErrValidation)
}

// =============================================================================
// DEBIT RETRY
// =============================================================================

// flakyLedger fails the first ApplyDelta with ErrNegativeBalance to mimic a
// concurrent commit landing between the read and the write.
type flakyLedger struct {
	shop.LedgerStore
	failures int
}

func (f *flakyLedger) ApplyDelta(ctx context.Context, key shop.AccountKey, delta currency.Lock, kind shop.EntryKind, detail string) (currency.Lock, error) {
	if f.failures > 0 {
		f.failures--
		return currency.Zero, shop.ErrNegativeBalance
	}
	return f.LedgerStore.ApplyDelta(ctx, key, delta, kind, detail)
}

func TestCoordinator_Purchase_RetriesContendedDebit(t *testing.T) {
	// GIVEN: A ledger whose first write attempt loses to a concurrent commit
	// WHEN: Buying
	// THEN: The debit is recomputed and the purchase still lands

	store, err := sqlite.New(":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })

	ctx := context.Background()
	require.NoError(t, store.LinkIdentity(ctx, "discord:1", "BUYER"))
	_, err = store.ApplyDelta(ctx, "BUYER", currency.New(100, 0, 0), shop.KindAdminAdd, "seed")
	require.NoError(t, err)
	require.NoError(t, store.CreateProduct(ctx, shop.Product{Code: "vpn", Name: "VPN", Price: 30, Active: true}))
	_, _, err = store.AddUnits(ctx, "vpn", []string{"u1"}, "seed", "tester")
	require.NoError(t, err)

	coord := trade.NewCoordinator(trade.Deps{
		Ledger:     &flakyLedger{LedgerStore: store, failures: 1},
		Pool:       store,
		Audit:      store,
		Products:   store,
		Identities: store,
	}, trade.Config{})

	res, err := coord.ProcessPurchase(ctx, "discord:1", "vpn", 1)
	require.NoError(t, err)
	assert.Equal(t, currency.New(70, 0, 0), res.NewBalance)
}
