/*
Package currency implements the lock denomination model.

PURPOSE:
  Pure value arithmetic for the three-denomination lock economy:
  World Locks (WL), Diamond Locks (DL) and Blue Gem Locks (BGL).
  No I/O, no state - every operation returns a new value.

CONVERSION TABLE:
  1 DL  = 100 WL
  1 BGL = 100 DL = 10,000 WL

DEBIT POLICY:
  Debit breaks higher denominations down greedily, largest first, and
  only as far as the charge actually requires. Breaking one BGL yields
  100 DL; breaking one DL yields 100 WL. The charge is always taken
  from WL last. This minimizes the number of broken locks: paying
  50 WL from a single BGL leaves 50 WL + 99 DL, never 9,950 loose WL.

FORMAT CONTRACT:
  Format() output is stored verbatim in audit snapshots, so its shape
  is part of the persistence contract, not a display convenience.

SEE ALSO:
  - shop/errors.go: The wider error taxonomy built on these sentinels
  - store/sqlite: Persists the three denominations as separate columns
*/
package currency

import (
	"errors"
	"fmt"
	"strings"
)

// Conversion rates expressed in base units (WL).
const (
	RateWL  int64 = 1
	RateDL  int64 = 100
	RateBGL int64 = 10000
)

var (
	// ErrInsufficientFunds is returned when a debit exceeds the total balance.
	// This is a business rejection: nothing was converted or subtracted.
	ErrInsufficientFunds = errors.New("insufficient funds")

	// ErrConversion is returned when the break-down cannot cover the charge
	// even though the total was sufficient. Unreachable if the pre-check
	// holds; callers must treat it as an invariant violation, not retry it.
	ErrConversion = errors.New("denomination conversion failed")
)

// =============================================================================
// LOCK - Three-denomination balance value
// =============================================================================

// Lock is an immutable three-denomination amount. Each field counts whole
// locks of that denomination; a negative field only ever appears in deltas,
// never in a stored balance.
type Lock struct {
	WL  int64
	DL  int64
	BGL int64
}

// Zero is the empty balance.
var Zero = Lock{}

// New builds a Lock from per-denomination counts.
func New(wl, dl, bgl int64) Lock {
	return Lock{WL: wl, DL: dl, BGL: bgl}
}

// FromWL builds a Lock holding the amount entirely in base units.
func FromWL(amount int64) Lock {
	return Lock{WL: amount}
}

// TotalWL is the weighted sum in base units.
func (l Lock) TotalWL() int64 {
	return l.WL*RateWL + l.DL*RateDL + l.BGL*RateBGL
}

func (l Lock) Add(o Lock) Lock { return Lock{l.WL + o.WL, l.DL + o.DL, l.BGL + o.BGL} }
func (l Lock) Sub(o Lock) Lock { return Lock{l.WL - o.WL, l.DL - o.DL, l.BGL - o.BGL} }
func (l Lock) Neg() Lock       { return Lock{-l.WL, -l.DL, -l.BGL} }
func (l Lock) IsZero() bool    { return l.WL == 0 && l.DL == 0 && l.BGL == 0 }

// HasNegative reports whether any single denomination is negative.
// Stored balances must never have one; deltas may.
func (l Lock) HasNegative() bool {
	return l.WL < 0 || l.DL < 0 || l.BGL < 0
}

// Delta returns the per-denomination difference o - l, i.e. the delta that
// ApplyDelta must receive to move a balance from l to o.
func (l Lock) Delta(o Lock) Lock {
	return o.Sub(l)
}

// =============================================================================
// DEBIT - Greedy denomination break-down
// =============================================================================

// Debit charges amount base units against the balance and returns the
// resulting balance. Higher denominations are broken only while the lower
// ones cannot cover the remainder, largest first, and the charge is taken
// from WL last.
//
// Fails with ErrInsufficientFunds (balance untouched) when the total is
// short, and with ErrConversion if WL still cannot cover the charge after a
// full break-down - which cannot happen when the pre-check passed.
func (l Lock) Debit(amount int64) (Lock, error) {
	if amount < 0 {
		return l, fmt.Errorf("debit amount must not be negative: %d", amount)
	}
	if l.TotalWL() < amount {
		return l, ErrInsufficientFunds
	}

	wl, dl, bgl := l.WL, l.DL, l.BGL

	// Break BGL into DL while WL+DL cannot cover the charge.
	if deficit := amount - (wl + dl*RateDL); deficit > 0 {
		broken := ceilDiv(deficit, RateBGL)
		if broken > bgl {
			broken = bgl
		}
		bgl -= broken
		dl += broken * (RateBGL / RateDL)
	}

	// Break DL into WL while WL alone cannot cover the charge.
	if deficit := amount - wl; deficit > 0 {
		broken := ceilDiv(deficit, RateDL)
		if broken > dl {
			broken = dl
		}
		dl -= broken
		wl += broken * RateDL
	}

	if wl < amount {
		return l, ErrConversion
	}
	wl -= amount

	return Lock{WL: wl, DL: dl, BGL: bgl}, nil
}

func ceilDiv(a, b int64) int64 {
	return (a + b - 1) / b
}

// =============================================================================
// FORMATTING
// =============================================================================

// Format renders the balance in the fixed audit-snapshot shape:
//
//	• 1,250 WL
//	• 3 DL (= 300 WL)
//	• 1 BGL (= 10,000 WL)
//	Total: 11,550 WL
func (l Lock) Format() string {
	return fmt.Sprintf("• %s WL\n• %s DL (= %s WL)\n• %s BGL (= %s WL)\nTotal: %s WL",
		group(l.WL),
		group(l.DL), group(l.DL*RateDL),
		group(l.BGL), group(l.BGL*RateBGL),
		group(l.TotalWL()),
	)
}

// String is a compact single-line form for logs.
func (l Lock) String() string {
	return fmt.Sprintf("%d WL / %d DL / %d BGL (= %d WL)", l.WL, l.DL, l.BGL, l.TotalWL())
}

// group inserts thousands separators.
func group(n int64) string {
	neg := n < 0
	if neg {
		n = -n
	}
	s := fmt.Sprintf("%d", n)
	if len(s) > 3 {
		var b strings.Builder
		lead := len(s) % 3
		if lead > 0 {
			b.WriteString(s[:lead])
		}
		for i := lead; i < len(s); i += 3 {
			if b.Len() > 0 {
				b.WriteByte(',')
			}
			b.WriteString(s[i : i+3])
		}
		s = b.String()
	}
	if neg {
		return "-" + s
	}
	return s
}
