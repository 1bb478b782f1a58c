package currency_test

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/lockshop/engine/currency"
)

// =============================================================================
// TOTAL & ARITHMETIC
// =============================================================================

func TestLock_TotalWL(t *testing.T) {
	assert.Equal(t, int64(0), currency.Zero.TotalWL())
	assert.Equal(t, int64(1), currency.New(1, 0, 0).TotalWL())
	assert.Equal(t, int64(100), currency.New(0, 1, 0).TotalWL())
	assert.Equal(t, int64(10000), currency.New(0, 0, 1).TotalWL())
	assert.Equal(t, int64(11550), currency.New(1250, 3, 1).TotalWL())
}

func TestLock_Arithmetic(t *testing.T) {
	a := currency.New(5, 2, 1)
	b := currency.New(3, 1, 0)

	assert.Equal(t, currency.New(8, 3, 1), a.Add(b))
	assert.Equal(t, currency.New(2, 1, 1), a.Sub(b))
	assert.Equal(t, currency.New(-5, -2, -1), a.Neg())
	assert.True(t, currency.Zero.IsZero())
	assert.False(t, a.IsZero())
}

func TestLock_Delta(t *testing.T) {
	// GIVEN: A balance moving from (50, 2, 1) to (30, 1, 1)
	// WHEN: Computing the delta between them
	// THEN: Applying the delta to the old balance yields the new one

	old := currency.New(50, 2, 1)
	next := currency.New(30, 1, 1)

	delta := old.Delta(next)
	assert.Equal(t, currency.New(-20, -1, 0), delta)
	assert.Equal(t, next, old.Add(delta))
}

func TestLock_HasNegative(t *testing.T) {
	assert.False(t, currency.New(0, 0, 0).HasNegative())
	assert.False(t, currency.New(5, 0, 2).HasNegative())
	assert.True(t, currency.New(-1, 0, 0).HasNegative())
	assert.True(t, currency.New(100, -1, 0).HasNegative())
}

// =============================================================================
// DEBIT - Denomination break-down
// =============================================================================

func TestLock_Debit_FromWLOnly(t *testing.T) {
	// GIVEN: 80 WL, no higher denominations
	// WHEN: Debiting 30 WL
	// THEN: 50 WL remain, nothing was broken

	got, err := currency.New(80, 0, 0).Debit(30)
	require.NoError(t, err)
	assert.Equal(t, currency.New(50, 0, 0), got)
}

func TestLock_Debit_BreaksSingleBGL(t *testing.T) {
	// GIVEN: A single BGL and nothing else
	// WHEN: Debiting 50 WL
	// THEN: Exactly one BGL and one DL are broken: 50 WL + 99 DL remain

	got, err := currency.New(0, 0, 1).Debit(50)
	require.NoError(t, err)
	assert.Equal(t, currency.New(50, 99, 0), got)
	assert.Equal(t, int64(9950), got.TotalWL())
}

func TestLock_Debit_BreaksOnlyAsNeeded(t *testing.T) {
	// GIVEN: 50 WL, 2 DL, 1 BGL
	// WHEN: Debiting 120 WL
	// THEN: One DL is broken; the BGL is untouched

	got, err := currency.New(50, 2, 1).Debit(120)
	require.NoError(t, err)
	assert.Equal(t, currency.New(30, 1, 1), got)
}

func TestLock_Debit_ExactDLCover(t *testing.T) {
	// GIVEN: 0 WL, 3 DL
	// WHEN: Debiting exactly 300 WL
	// THEN: All three DL are broken and fully consumed

	got, err := currency.New(0, 3, 0).Debit(300)
	require.NoError(t, err)
	assert.Equal(t, currency.Zero, got)
}

func TestLock_Debit_WholeBalance(t *testing.T) {
	got, err := currency.New(1250, 3, 1).Debit(11550)
	require.NoError(t, err)
	assert.True(t, got.IsZero())
}

func TestLock_Debit_ZeroAmount(t *testing.T) {
	balance := currency.New(10, 1, 0)
	got, err := balance.Debit(0)
	require.NoError(t, err)
	assert.Equal(t, balance, got)
}

func TestLock_Debit_InsufficientFunds(t *testing.T) {
	// GIVEN: 99 WL total
	// WHEN: Debiting 100 WL
	// THEN: ErrInsufficientFunds, balance untouched

	balance := currency.New(99, 0, 0)
	got, err := balance.Debit(100)

	assert.ErrorIs(t, err, currency.ErrInsufficientFunds)
	assert.Equal(t, balance, got)
}

func TestLock_Debit_NegativeAmount(t *testing.T) {
	_, err := currency.New(10, 0, 0).Debit(-1)
	assert.Error(t, err)
}

func TestLock_Debit_PreservesTotal(t *testing.T) {
	// GIVEN: A spread of balances and charges
	// WHEN: Debiting
	// THEN: The total always drops by exactly the charge

	cases := []struct {
		balance currency.Lock
		amount  int64
	}{
		{currency.New(0, 0, 3), 1},
		{currency.New(7, 0, 1), 9_999},
		{currency.New(0, 150, 0), 14_950},
		{currency.New(1, 1, 1), 10_101},
	}
	for _, tc := range cases {
		got, err := tc.balance.Debit(tc.amount)
		require.NoError(t, err, "balance %s amount %d", tc.balance, tc.amount)
		assert.Equal(t, tc.balance.TotalWL()-tc.amount, got.TotalWL())
		assert.False(t, got.HasNegative())
	}
}

// =============================================================================
// FORMATTING
// =============================================================================

func TestLock_Format(t *testing.T) {
	got := currency.New(1250, 3, 1).Format()
	want := "• 1,250 WL\n• 3 DL (= 300 WL)\n• 1 BGL (= 10,000 WL)\nTotal: 11,550 WL"
	assert.Equal(t, want, got)
}

func TestLock_Format_Zero(t *testing.T) {
	got := currency.Zero.Format()
	want := "• 0 WL\n• 0 DL (= 0 WL)\n• 0 BGL (= 0 WL)\nTotal: 0 WL"
	assert.Equal(t, want, got)
}

func TestLock_String(t *testing.T) {
	assert.Equal(t, "50 WL / 99 DL / 0 BGL (= 9950 WL)", currency.New(50, 99, 0).String())
}
