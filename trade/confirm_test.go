package trade_test

import (
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/lockshop/engine/shop"
	"github.com/lockshop/engine/trade"
)

func newTestConfirmStore(t *testing.T, ttl time.Duration) *trade.ConfirmStore {
	store, err := trade.OpenConfirmStore(filepath.Join(t.TempDir(), "confirm.db"), ttl)
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })
	return store
}

func TestConfirmStore_IssueAndRedeem(t *testing.T) {
	store := newTestConfirmStore(t, time.Minute)

	token, err := store.Issue("delete_product", "vpn")
	require.NoError(t, err)
	require.NotEmpty(t, token)

	assert.NoError(t, store.Redeem(token, "delete_product", "vpn"))
}

func TestConfirmStore_TokenIsSingleUse(t *testing.T) {
	store := newTestConfirmStore(t, time.Minute)

	token, err := store.Issue("delete_product", "vpn")
	require.NoError(t, err)

	require.NoError(t, store.Redeem(token, "delete_product", "vpn"))
	assert.ErrorIs(t, store.Redeem(token, "delete_product", "vpn"), shop.ErrConfirmationRequired)
}

func TestConfirmStore_MismatchedActionOrSubject(t *testing.T) {
	// GIVEN: A token issued for deleting product "vpn"
	// WHEN: Redeeming it for another action or another subject
	// THEN: Rejected, and the attempt burns the token

	store := newTestConfirmStore(t, time.Minute)

	token, err := store.Issue("delete_product", "vpn")
	require.NoError(t, err)
	assert.ErrorIs(t, store.Redeem(token, "reset_balance", "vpn"), shop.ErrConfirmationRequired)
	assert.ErrorIs(t, store.Redeem(token, "delete_product", "vpn"), shop.ErrConfirmationRequired)

	token, err = store.Issue("delete_product", "vpn")
	require.NoError(t, err)
	assert.ErrorIs(t, store.Redeem(token, "delete_product", "proxy"), shop.ErrConfirmationRequired)
}

func TestConfirmStore_UnknownToken(t *testing.T) {
	store := newTestConfirmStore(t, time.Minute)
	assert.ErrorIs(t, store.Redeem("no-such-token", "delete_product", "vpn"), shop.ErrConfirmationRequired)
}

func TestConfirmStore_Expiry(t *testing.T) {
	store := newTestConfirmStore(t, 20*time.Millisecond)

	token, err := store.Issue("reset_balance", "PLAYER")
	require.NoError(t, err)

	time.Sleep(40 * time.Millisecond)
	assert.ErrorIs(t, store.Redeem(token, "reset_balance", "PLAYER"), shop.ErrConfirmationRequired)
}

func TestConfirmStore_DistinctTokensCoexist(t *testing.T) {
	store := newTestConfirmStore(t, time.Minute)

	t1, err := store.Issue("delete_product", "vpn")
	require.NoError(t, err)
	t2, err := store.Issue("delete_product", "proxy")
	require.NoError(t, err)
	require.NotEqual(t, t1, t2)

	assert.NoError(t, store.Redeem(t2, "delete_product", "proxy"))
	assert.NoError(t, store.Redeem(t1, "delete_product", "vpn"))
}
