/*
suppress.go - Duplicate command suppression

PURPOSE:
  Double-sent commands (impatient re-taps, client retries) within a short
  window are rejected before they reach the coordinator. Keyed by
  (caller, command); a suppressed attempt refreshes the window, so
  hammering a command keeps it suppressed.

  This is per-process state. It protects against accidental duplicates,
  not against replay across restarts.
*/
package trade

import (
	"sync"
	"time"
)

// DefaultSuppressWindow is how long a repeated (caller, command) pair is
// rejected after a first sighting.
const DefaultSuppressWindow = 3 * time.Second

const suppressorMaxKeys = 10000

type suppressKey struct {
	caller  string
	command string
}

// Suppressor rejects duplicate commands inside a rolling window.
type Suppressor struct {
	mu     sync.Mutex
	seen   map[suppressKey]time.Time
	window time.Duration
	clock  func() time.Time
}

// NewSuppressor builds a suppressor. A non-positive window falls back to the
// default.
func NewSuppressor(window time.Duration) *Suppressor {
	if window <= 0 {
		window = DefaultSuppressWindow
	}
	return &Suppressor{
		seen:   make(map[suppressKey]time.Time),
		window: window,
		clock:  time.Now,
	}
}

// Allow reports whether this (caller, command) pair may proceed. Both an
// allowed and a suppressed attempt stamp the window, so repeated duplicates
// stay suppressed until the caller backs off.
func (s *Suppressor) Allow(caller, command string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.clock()
	key := suppressKey{caller: caller, command: command}

	last, ok := s.seen[key]
	dup := ok && now.Sub(last) < s.window

	if len(s.seen) >= suppressorMaxKeys {
		s.sweepLocked(now)
	}
	s.seen[key] = now
	return !dup
}

func (s *Suppressor) sweepLocked(now time.Time) {
	for k, t := range s.seen {
		if now.Sub(t) >= s.window {
			delete(s.seen, k)
		}
	}
}
