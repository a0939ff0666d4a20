// Package eventlog is the ledger core's append-only event log,
// generalizing EventStore/EventProcessor (event_store.go) from a
// single-tenant accounting demo to the tenant-scoped event types this
// module's components emit.
package eventlog

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.etcd.io/bbolt"

	"ledgercore/internal/storage"
)

// Event type constants.
const (
	EventAccountCreated     = "ACCOUNT_CREATED"
	EventJournalEntryPosted = "JOURNAL_ENTRY_POSTED"
	EventJournalEntryVoided = "JOURNAL_ENTRY_VOIDED"
	EventBankTxIngested     = "BANK_TX_INGESTED"
	EventSessionMatched     = "SESSION_MATCHED"
	EventSessionUnmatched   = "SESSION_UNMATCHED"
	EventSessionCompleted   = "SESSION_COMPLETED"
	EventReviewRunCompleted = "REVIEW_RUN_COMPLETED"
	EventIssueStatusChanged = "ISSUE_STATUS_CHANGED"
)

// Event is the atomic, append-only log record.
type Event struct {
	ID        string    `json:"id"`
	TenantID  string    `json:"tenant_id"`
	Type      string    `json:"event_type"`
	Payload   json.RawMessage `json:"payload"`
	UserID    string    `json:"user_id,omitempty"`
	CreatedAt time.Time `json:"created_at"`
}

// Store appends events into the shared bbolt database, ordered by
// timestamp + id within the events bucket, mirroring the
// AppendEvent/GetEvents key scheme in storage.go.
type Store struct {
	db *bboltHandle
}

// bboltHandle exposes just the db accessor Store needs from *storage.Storage
// without re-exporting bbolt as a dependency of every caller.
type bboltHandle struct {
	s *storage.Storage
}

// New wraps a Storage instance for event append/replay.
func New(s *storage.Storage) *Store {
	return &Store{db: &bboltHandle{s: s}}
}

// Append records a new event for tenantID, JSON-encoding payload.
func (st *Store) Append(tenantID, eventType string, payload any, userID string) (*Event, error) {
	data, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal event payload: %w", err)
	}
	ev := &Event{
		ID:        uuid.New().String(),
		TenantID:  tenantID,
		Type:      eventType,
		Payload:   data,
		UserID:    userID,
		CreatedAt: time.Now(),
	}
	err = st.db.s.Update(func(tx *bbolt.Tx) error {
		b := tx.Bucket(storage.BucketEvents)
		key := fmt.Sprintf("%s|%d_%s", tenantID, ev.CreatedAt.UnixNano(), ev.ID)
		data, err := json.Marshal(ev)
		if err != nil {
			return err
		}
		return b.Put([]byte(key), data)
	})
	if err != nil {
		return nil, fmt.Errorf("failed to append event: %w", err)
	}
	return ev, nil
}

// Replay walks all events for tenantID between from/to (inclusive) in
// order, invoking handler for each.
func (st *Store) Replay(tenantID string, from, to time.Time, handler func(*Event) error) error {
	prefix := []byte(tenantID + "|")
	return st.db.s.View(func(tx *bbolt.Tx) error {
		b := tx.Bucket(storage.BucketEvents)
		c := b.Cursor()
		for k, v := c.Seek(prefix); k != nil && hasPrefix(k, prefix); k, v = c.Next() {
			var ev Event
			if err := json.Unmarshal(v, &ev); err != nil {
				return fmt.Errorf("failed to unmarshal event: %w", err)
			}
			if ev.CreatedAt.Before(from) || ev.CreatedAt.After(to) {
				continue
			}
			if err := handler(&ev); err != nil {
				return fmt.Errorf("failed to handle event %s: %w", ev.ID, err)
			}
		}
		return nil
	})
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
