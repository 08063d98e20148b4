// Package idempotency caches walletd responses keyed by the caller's
// Idempotency-Key so retried writes and relays return the first outcome.
package idempotency

import (
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	bolt "go.etcd.io/bbolt"
	"lukechampine.com/blake3"
)

var bucketResponses = []byte("responses")

// DefaultTTL bounds how long a cached response is replayed.
const DefaultTTL = 24 * time.Hour

// Record is one cached response. Fingerprint identifies the request body the
// response belongs to.
type Record struct {
	StatusCode  int       `json:"statusCode"`
	Body        []byte    `json:"body"`
	Fingerprint string    `json:"fingerprint"`
	StoredAt    time.Time `json:"storedAt"`
	ExpiresAt   time.Time `json:"expiresAt"`
}

// Store persists cached responses in a bbolt file.
type Store struct {
	db  *bolt.DB
	ttl time.Duration
	now func() time.Time
}

// Open opens (creating if needed) the store at path.
func Open(path string, ttl time.Duration) (*Store, error) {
	if path == "" {
		return nil, errors.New("idempotency: path required")
	}
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	db, err := bolt.Open(path, 0o600, &bolt.Options{Timeout: time.Second})
	if err != nil {
		return nil, fmt.Errorf("idempotency: open %s: %w", path, err)
	}
	if err := db.Update(func(tx *bolt.Tx) error {
		_, err := tx.CreateBucketIfNotExists(bucketResponses)
		return err
	}); err != nil {
		db.Close()
		return nil, err
	}
	return &Store{db: db, ttl: ttl, now: time.Now}, nil
}

// SetNowFunc overrides the clock used for expiry.
func (s *Store) SetNowFunc(now func() time.Time) {
	if now != nil {
		s.now = now
	}
}

// Close releases the database file.
func (s *Store) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}

// Key scopes an idempotency key to the caller and route.
func Key(caller, method, path, idem string) string {
	return caller + "|" + method + "|" + path + "|" + idem
}

// Fingerprint digests a request body.
func Fingerprint(body []byte) string {
	sum := blake3.Sum256(body)
	return hex.EncodeToString(sum[:])
}

// Get returns the cached response for key. Expired records are deleted.
func (s *Store) Get(key string) (Record, bool, error) {
	var (
		record Record
		found  bool
	)
	err := s.db.Update(func(tx *bolt.Tx) error {
		bucket := tx.Bucket(bucketResponses)
		raw := bucket.Get([]byte(key))
		if raw == nil {
			return nil
		}
		if err := json.Unmarshal(raw, &record); err != nil {
			return err
		}
		if s.now().After(record.ExpiresAt) {
			record = Record{}
			return bucket.Delete([]byte(key))
		}
		found = true
		return nil
	})
	if err != nil {
		return Record{}, false, err
	}
	return record, found, nil
}

// Put stores a response under key for the configured TTL.
func (s *Store) Put(key string, status int, body []byte, fingerprint string) error {
	now := s.now()
	payload, err := json.Marshal(Record{
		StatusCode:  status,
		Body:        body,
		Fingerprint: fingerprint,
		StoredAt:    now,
		ExpiresAt:   now.Add(s.ttl),
	})
	if err != nil {
		return err
	}
	return s.db.Update(func(tx *bolt.Tx) error {
		return tx.Bucket(bucketResponses).Put([]byte(key), payload)
	})
}
