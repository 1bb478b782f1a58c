/*
confirm.go - Two-step confirmation for destructive operations

PURPOSE:
  Destructive admin operations (balance reset, product delete) run as two
  calls: the first issues a short-lived token naming the exact action and
  subject, the second presents it back. A token is single use, expires
  after a short window, and only redeems against the same action/subject
  pair it was issued for.

  Tokens live in a Bolt bucket so a restart between the two steps voids
  nothing silently: pending tokens survive, expired ones are swept on the
  next issue.
*/
package trade

import (
	"encoding/json"
	"fmt"
	"time"

	bolt "github.com/boltdb/bolt"
	"github.com/google/uuid"

	"github.com/lockshop/engine/shop"
)

// DefaultConfirmTTL is how long an issued confirmation token stays valid.
const DefaultConfirmTTL = 30 * time.Second

var confirmBucket = []byte("confirmations")

type confirmRecord struct {
	Action    string    `json:"action"`
	Subject   string    `json:"subject"`
	ExpiresAt time.Time `json:"expires_at"`
}

// ConfirmStore issues and redeems single-use confirmation tokens.
type ConfirmStore struct {
	db    *bolt.DB
	ttl   time.Duration
	clock func() time.Time
}

// OpenConfirmStore opens (or creates) the token database at path. A
// non-positive ttl falls back to the default.
func OpenConfirmStore(path string, ttl time.Duration) (*ConfirmStore, error) {
	if ttl <= 0 {
		ttl = DefaultConfirmTTL
	}

	db, err := bolt.Open(path, 0600, &bolt.Options{Timeout: 1 * time.Second})
	if err != nil {
		return nil, fmt.Errorf("failed to open confirmation store: %w", err)
	}

	err = db.Update(func(tx *bolt.Tx) error {
		_, err := tx.CreateBucketIfNotExists(confirmBucket)
		return err
	})
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to create confirmation bucket: %w", err)
	}

	return &ConfirmStore{db: db, ttl: ttl, clock: time.Now}, nil
}

// Close releases the underlying database file.
func (s *ConfirmStore) Close() error {
	return s.db.Close()
}

// Issue creates a token for the given action on the given subject. Expired
// tokens are swept in the same transaction.
func (s *ConfirmStore) Issue(action, subject string) (string, error) {
	token := uuid.NewString()
	now := s.clock()

	rec, err := json.Marshal(confirmRecord{
		Action:    action,
		Subject:   subject,
		ExpiresAt: now.Add(s.ttl),
	})
	if err != nil {
		return "", fmt.Errorf("failed to encode confirmation: %w", err)
	}

	err = s.db.Update(func(tx *bolt.Tx) error {
		b := tx.Bucket(confirmBucket)

		c := b.Cursor()
		for k, v := c.First(); k != nil; k, v = c.Next() {
			var old confirmRecord
			if json.Unmarshal(v, &old) != nil || !now.Before(old.ExpiresAt) {
				if err := b.Delete(k); err != nil {
					return err
				}
			}
		}

		return b.Put([]byte(token), rec)
	})
	if err != nil {
		return "", fmt.Errorf("failed to store confirmation: %w", err)
	}
	return token, nil
}

// Redeem consumes a token. Fails with ErrConfirmationRequired when the token
// is unknown, expired, or was issued for a different action or subject; the
// token is deleted in every case, so a wrong guess costs the pending
// confirmation.
func (s *ConfirmStore) Redeem(token, action, subject string) error {
	var rec confirmRecord
	found := false

	err := s.db.Update(func(tx *bolt.Tx) error {
		b := tx.Bucket(confirmBucket)
		v := b.Get([]byte(token))
		if v == nil {
			return nil
		}
		found = true
		if err := json.Unmarshal(v, &rec); err != nil {
			return fmt.Errorf("failed to decode confirmation: %w", err)
		}
		return b.Delete([]byte(token))
	})
	if err != nil {
		return fmt.Errorf("failed to redeem confirmation: %w", err)
	}

	if !found || !s.clock().Before(rec.ExpiresAt) {
		return shop.ErrConfirmationRequired
	}
	if rec.Action != action || rec.Subject != subject {
		return shop.ErrConfirmationRequired
	}
	return nil
}
