package trade_test

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"github.com/lockshop/engine/trade"
)

func TestSuppressor_AllowsFirstAttempt(t *testing.T) {
	s := trade.NewSuppressor(time.Second)
	assert.True(t, s.Allow("user#1", "purchase:vpn"))
}

func TestSuppressor_RejectsDuplicateInsideWindow(t *testing.T) {
	s := trade.NewSuppressor(time.Second)

	assert.True(t, s.Allow("user#1", "purchase:vpn"))
	assert.False(t, s.Allow("user#1", "purchase:vpn"))
}

func TestSuppressor_DifferentKeysIndependent(t *testing.T) {
	// GIVEN: user#1 just ran purchase:vpn
	// WHEN: A different caller or a different command arrives
	// THEN: Both pass

	s := trade.NewSuppressor(time.Second)
	assert.True(t, s.Allow("user#1", "purchase:vpn"))

	assert.True(t, s.Allow("user#2", "purchase:vpn"))
	assert.True(t, s.Allow("user#1", "purchase:proxy"))
}

func TestSuppressor_WindowExpires(t *testing.T) {
	s := trade.NewSuppressor(20 * time.Millisecond)

	assert.True(t, s.Allow("user#1", "purchase:vpn"))
	time.Sleep(40 * time.Millisecond)
	assert.True(t, s.Allow("user#1", "purchase:vpn"))
}

func TestSuppressor_HammeringStaysSuppressed(t *testing.T) {
	// GIVEN: A 50ms window
	// WHEN: Retrying every 30ms
	// THEN: Each retry refreshes the window and stays suppressed

	s := trade.NewSuppressor(50 * time.Millisecond)

	assert.True(t, s.Allow("user#1", "purchase:vpn"))
	for i := 0; i < 3; i++ {
		time.Sleep(30 * time.Millisecond)
		assert.False(t, s.Allow("user#1", "purchase:vpn"))
	}
}
