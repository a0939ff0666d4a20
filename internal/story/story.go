// Package story maintains the per-tenant cached narrative that
// summarizes the companion layer's radar and top issues. Regeneration
// is fingerprint- and debounce-gated so the advisor is never called more
// often than the underlying facts change, and a periodic worker drains
// tenants flagged dirty by write-path events — generalizing
// accrual_service.go's ProcessPendingRecognitions scan-all-then-process
// shape from recognition schedules to story regeneration.
package story

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"log"
	"sort"
	"time"

	"go.etcd.io/bbolt"

	"ledgercore/internal/advisor"
	"ledgercore/internal/companion"
	"ledgercore/internal/ledger"
	"ledgercore/internal/storage"
)

// DebounceWindow is the minimum time between regenerations of an
// unchanged story.
const DebounceWindow = 300 * time.Second

const fallbackNarrative = "A fresh summary isn't available right now. Your deterministic reconciliation and review results are unaffected."

type fingerprintIssue struct {
	ID       string `json:"id"`
	Severity string `json:"severity"`
	Title    string `json:"title"`
}

type fingerprintPayload struct {
	Radar  map[string]float64  `json:"radar"`
	Issues []fingerprintIssue `json:"issues"`
}

// Fingerprint is the first 16 hex characters of the SHA-256 digest of a
// stably-serialized {radar, top-10 issues} projection. encoding/json
// always emits map keys in sorted order, so this is deterministic
// without any extra sorting of the radar axes.
func Fingerprint(radar map[string]float64, issues []*ledger.CompanionIssue) string {
	top := topIssues(issues, 10)
	payload := fingerprintPayload{Radar: radar}
	for _, i := range top {
		payload.Issues = append(payload.Issues, fingerprintIssue{ID: i.ID, Severity: string(i.Severity), Title: i.Title})
	}
	data, _ := json.Marshal(payload)
	sum := sha256.Sum256(data)
	return hex.EncodeToString(sum[:])[:16]
}

func severityWeight(s ledger.IssueSeverity) int {
	switch s {
	case ledger.SeverityHigh:
		return 3
	case ledger.SeverityMedium:
		return 2
	default:
		return 1
	}
}

func topIssues(issues []*ledger.CompanionIssue, n int) []*ledger.CompanionIssue {
	sorted := append([]*ledger.CompanionIssue(nil), issues...)
	sort.SliceStable(sorted, func(i, j int) bool {
		if sorted[i].Severity != sorted[j].Severity {
			return severityWeight(sorted[i].Severity) > severityWeight(sorted[j].Severity)
		}
		return sorted[i].CreatedAt.After(sorted[j].CreatedAt)
	})
	if len(sorted) > n {
		sorted = sorted[:n]
	}
	return sorted
}

// MarkDirty flips a tenant's story state to dirty; write-path events (a
// new run, a new issue, a matched bank transaction) call this so the
// periodic worker knows to consider the tenant for regeneration.
func MarkDirty(db *storage.Storage, tenantID string, now time.Time) error {
	state, err := db.GetStoryState(tenantID)
	if err != nil || state == nil {
		state = &ledger.CompanionStoryState{TenantID: tenantID}
	}
	state.Dirty = true
	state.LastRequestedAt = now
	return db.SaveStoryState(state)
}

// Regenerate applies the fingerprint/debounce gate for tenantID. It
// gathers inputs in a read transaction, calls the advisor outside any
// transaction (the long story timeout applies here), and persists the
// result — a fresh narrative, or a fallback on failure — in a second,
// short write transaction. It never calls the advisor while a
// transaction is open.
func Regenerate(ctx context.Context, db *storage.Storage, tenantID string, provider advisor.Provider, now time.Time) error {
	var radar map[string]float64
	var issues []*ledger.CompanionIssue
	var existing *ledger.CompanionStory
	var state *ledger.CompanionStoryState

	err := db.View(func(tx *bbolt.Tx) error {
		var err error
		radar, err = companion.ComputeRadar(tx, tenantID, now)
		if err != nil {
			return err
		}
		issues, err = storage.ListIssues(tx, tenantID)
		return err
	})
	if err != nil {
		return err
	}
	existing, _ = db.GetStory(tenantID)
	state, _ = db.GetStoryState(tenantID)

	fingerprint := Fingerprint(radar, issues)
	if existing != nil && !existing.IsFallback && existing.Fingerprint == fingerprint && now.Sub(existing.GeneratedAt) < DebounceWindow {
		if state != nil && state.Dirty {
			state.Dirty = false
			return db.SaveStoryState(state)
		}
		return nil
	}

	narrative, isFallback := generateNarrative(ctx, provider, radar, topIssues(issues, 10))
	newStory := &ledger.CompanionStory{
		TenantID:    tenantID,
		Narrative:   narrative,
		Fingerprint: fingerprint,
		IsFallback:  isFallback,
		GeneratedAt: now,
	}
	if err := db.SaveStory(newStory); err != nil {
		return err
	}

	if state == nil {
		state = &ledger.CompanionStoryState{TenantID: tenantID}
	}
	state.Dirty = false
	state.LastRequestedAt = now
	return db.SaveStoryState(state)
}

func generateNarrative(ctx context.Context, provider advisor.Provider, radar map[string]float64, top []*ledger.CompanionIssue) (string, bool) {
	if provider == nil {
		return fallbackNarrative, true
	}
	system := "You are a bookkeeping companion writing a short, plain-language status update " +
		"for a small business owner. Use only the radar scores and issues you are given; do not " +
		"invent numbers, ids, or accounts."
	payload, _ := json.Marshal(struct {
		Radar  map[string]float64      `json:"radar"`
		Issues []*ledger.CompanionIssue `json:"issues"`
	}{radar, top})

	var out struct {
		Narrative string `json:"narrative"`
	}
	if err := advisor.Ask(ctx, provider, system, string(payload), advisor.StoryTimeout, &out); err != nil {
		log.Printf("story: advisor unavailable, using fallback narrative: %v", err)
		return fallbackNarrative, true
	}
	if out.Narrative == "" {
		return fallbackNarrative, true
	}
	return out.Narrative, false
}

// ReadCached returns the tenant's cached story. A missing story returns
// the fallback text and marks the tenant dirty for the next worker pass;
// this path never calls the LLM.
func ReadCached(db *storage.Storage, tenantID string, now time.Time) (*ledger.CompanionStory, error) {
	st, err := db.GetStory(tenantID)
	if err == nil && st != nil {
		return st, nil
	}
	if markErr := MarkDirty(db, tenantID, now); markErr != nil {
		return nil, markErr
	}
	return &ledger.CompanionStory{TenantID: tenantID, Narrative: fallbackNarrative, IsFallback: true, GeneratedAt: now}, nil
}

// Worker periodically drains every tenant flagged dirty, regenerating
// their story. Errors on one tenant are logged and do not stop the scan
// of the rest, matching accrual_service.go's per-schedule error
// isolation.
func Worker(ctx context.Context, db *storage.Storage, provider advisor.Provider, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			drainDirty(ctx, db, provider)
		}
	}
}

func drainDirty(ctx context.Context, db *storage.Storage, provider advisor.Provider) {
	ids, err := db.ListAllTenantIDs()
	if err != nil {
		log.Printf("story: failed to list tenants: %v", err)
		return
	}
	now := time.Now()
	for _, id := range ids {
		state, err := db.GetStoryState(id)
		if err != nil || state == nil || !state.Dirty {
			continue
		}
		if err := Regenerate(ctx, db, id, provider, now); err != nil {
			log.Printf("story: failed to regenerate for tenant %s: %v", id, err)
		}
	}
}
