// Package storage provides tenant-scoped persistence for the ledger core
// on top of bbolt, generalizing a single bucket-per-entity-
// type layout to composite "tenantID|entityID" keys so one process can
// safely serve many tenants out of one database file.
//
// Protobuf encoding was dropped (see DESIGN.md); values are JSON-encoded,
// matching the convention already used for event payloads in
// event_store.go.
package storage

import (
	"encoding/json"
	"fmt"
	"time"

	"go.etcd.io/bbolt"
)

// Bucket names, one per entity type.
var (
	BucketTenants          = []byte("tenants")
	BucketAccounts         = []byte("accounts")
	BucketJournalEntries   = []byte("journal_entries")
	BucketBankAccounts     = []byte("bank_accounts")
	BucketBankTx           = []byte("bank_transactions")
	BucketBankMatches      = []byte("bank_matches")
	BucketSessions         = []byte("reconciliation_sessions")
	BucketRuns             = []byte("review_runs")
	BucketDocuments        = []byte("review_documents")
	BucketCompanionIssues  = []byte("companion_issues")
	BucketCompanionStories = []byte("companion_stories")
	BucketStoryState       = []byte("companion_story_state")
	BucketEvents           = []byte("events")
	BucketBankRules        = []byte("bank_rules")
	BucketInvoices         = []byte("invoices")
	BucketBills            = []byte("bills")
)

var allBuckets = [][]byte{
	BucketTenants, BucketAccounts, BucketJournalEntries,
	BucketBankAccounts, BucketBankTx, BucketBankMatches,
	BucketSessions, BucketRuns, BucketDocuments,
	BucketCompanionIssues, BucketCompanionStories, BucketStoryState,
	BucketEvents, BucketBankRules, BucketInvoices, BucketBills,
}

// Storage wraps a bbolt database handle.
type Storage struct {
	db *bbolt.DB
}

// Open creates/opens the bbolt database at dbPath and ensures all buckets
// exist, mirroring NewStorage/initBuckets in storage.go.
func Open(dbPath string) (*Storage, error) {
	db, err := bbolt.Open(dbPath, 0600, &bbolt.Options{Timeout: 10 * time.Second})
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	s := &Storage{db: db}
	if err := s.initBuckets(); err != nil {
		return nil, fmt.Errorf("failed to initialize buckets: %w", err)
	}
	return s, nil
}

func (s *Storage) initBuckets() error {
	return s.db.Update(func(tx *bbolt.Tx) error {
		for _, b := range allBuckets {
			if _, err := tx.CreateBucketIfNotExists(b); err != nil {
				return fmt.Errorf("failed to create bucket %s: %w", b, err)
			}
		}
		return nil
	})
}

// Close closes the underlying database.
func (s *Storage) Close() error { return s.db.Close() }

// tenantKey builds the composite "tenantID|id" key every entity is
// addressed by.
func tenantKey(tenantID, id string) []byte {
	return []byte(tenantID + "|" + id)
}

func put(tx *bbolt.Tx, bucket []byte, tenantID, id string, v any) error {
	b := tx.Bucket(bucket)
	data, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("failed to marshal %s: %w", bucket, err)
	}
	return b.Put(tenantKey(tenantID, id), data)
}

func get[T any](tx *bbolt.Tx, bucket []byte, tenantID, id string) (*T, error) {
	b := tx.Bucket(bucket)
	data := b.Get(tenantKey(tenantID, id))
	if data == nil {
		return nil, fmt.Errorf("%s not found: %s", bucket, id)
	}
	var v T
	if err := json.Unmarshal(data, &v); err != nil {
		return nil, fmt.Errorf("failed to unmarshal %s: %w", bucket, err)
	}
	return &v, nil
}

func listByTenant[T any](tx *bbolt.Tx, bucket []byte, tenantID string) ([]*T, error) {
	b := tx.Bucket(bucket)
	prefix := []byte(tenantID + "|")
	var out []*T
	c := b.Cursor()
	for k, v := c.Seek(prefix); k != nil && hasPrefix(k, prefix); k, v = c.Next() {
		var item T
		if err := json.Unmarshal(v, &item); err != nil {
			return nil, fmt.Errorf("failed to unmarshal %s: %w", bucket, err)
		}
		out = append(out, &item)
	}
	return out, nil
}

func hasPrefix(b, prefix []byte) bool {
	if len(b) < len(prefix) {
		return false
	}
	for i := range prefix {
		if b[i] != prefix[i] {
			return false
		}
	}
	return true
}

func del(tx *bbolt.Tx, bucket []byte, tenantID, id string) error {
	b := tx.Bucket(bucket)
	return b.Delete(tenantKey(tenantID, id))
}

// Update runs fn inside a single read-write bbolt transaction. bbolt
// serializes all writer transactions, which is the row-lock boundary the
// allocation and reconciliation engines rely on for per-tenant mutual
// exclusion.
func (s *Storage) Update(fn func(tx *bbolt.Tx) error) error { return s.db.Update(fn) }

// View runs fn inside a read-only bbolt transaction.
func (s *Storage) View(fn func(tx *bbolt.Tx) error) error { return s.db.View(fn) }
