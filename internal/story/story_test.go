package story

import (
	"context"
	"os"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.etcd.io/bbolt"

	"ledgercore/internal/ledger"
	"ledgercore/internal/storage"
)

const testTenant = "tenant-story"

func openTestStorage(t *testing.T) *storage.Storage {
	t.Helper()
	f, err := os.CreateTemp("", "story-test-*.db")
	require.NoError(t, err)
	f.Close()
	path := f.Name()
	t.Cleanup(func() { os.Remove(path) })

	db, err := storage.Open(path)
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	return db
}

type fakeProvider struct {
	response string
	err      error
}

func (f *fakeProvider) Generate(ctx context.Context, systemPrompt, userPrompt string) (string, error) {
	return f.response, f.err
}

func TestFingerprintIsStableAcrossMapIterationOrder(t *testing.T) {
	radar := map[string]float64{"cash_reconciliation": 90, "revenue_invoices": 100, "expenses_receipts": 80, "tax_compliance": 70}
	issues := []*ledger.CompanionIssue{
		{ID: "i1", Severity: ledger.SeverityHigh, Title: "a", CreatedAt: time.Now()},
	}
	a := Fingerprint(radar, issues)
	b := Fingerprint(radar, issues)
	assert.Equal(t, a, b)
	assert.Len(t, a, 16)
}

func TestFingerprintChangesWhenRadarChanges(t *testing.T) {
	issues := []*ledger.CompanionIssue{}
	a := Fingerprint(map[string]float64{"cash_reconciliation": 90}, issues)
	b := Fingerprint(map[string]float64{"cash_reconciliation": 80}, issues)
	assert.NotEqual(t, a, b)
}

func TestFingerprintConsidersOnlyTopTenIssues(t *testing.T) {
	now := time.Now()
	var many []*ledger.CompanionIssue
	for i := 0; i < 15; i++ {
		many = append(many, &ledger.CompanionIssue{
			ID:        uuid.NewString(),
			Severity:  ledger.SeverityLow,
			Title:     "low priority noise",
			CreatedAt: now.Add(-time.Duration(i) * time.Hour),
		})
	}
	withExtraLow := append(append([]*ledger.CompanionIssue(nil), many...), &ledger.CompanionIssue{
		ID: uuid.NewString(), Severity: ledger.SeverityLow, Title: "excluded", CreatedAt: now.Add(-100 * time.Hour),
	})
	radar := map[string]float64{"cash_reconciliation": 90}
	a := Fingerprint(radar, many)
	b := Fingerprint(radar, withExtraLow)
	assert.Equal(t, a, b, "a 16th low-priority issue outside the top 10 shouldn't move the fingerprint")
}

func TestMarkDirtySetsStateOnFreshTenant(t *testing.T) {
	db := openTestStorage(t)
	now := time.Now()
	require.NoError(t, MarkDirty(db, testTenant, now))

	state, err := db.GetStoryState(testTenant)
	require.NoError(t, err)
	require.NotNil(t, state)
	assert.True(t, state.Dirty)
	assert.WithinDuration(t, now, state.LastRequestedAt, time.Second)
}

func TestReadCachedReturnsFallbackAndMarksDirtyWhenMissing(t *testing.T) {
	db := openTestStorage(t)
	now := time.Now()

	got, err := ReadCached(db, testTenant, now)
	require.NoError(t, err)
	assert.True(t, got.IsFallback)
	assert.Equal(t, fallbackNarrative, got.Narrative)

	state, err := db.GetStoryState(testTenant)
	require.NoError(t, err)
	require.NotNil(t, state)
	assert.True(t, state.Dirty)
}

func TestReadCachedReturnsExistingStoryWithoutCallingAdvisor(t *testing.T) {
	db := openTestStorage(t)
	existing := &ledger.CompanionStory{TenantID: testTenant, Narrative: "All clear this week.", Fingerprint: "abc123", GeneratedAt: time.Now()}
	require.NoError(t, db.SaveStory(existing))

	got, err := ReadCached(db, testTenant, time.Now())
	require.NoError(t, err)
	assert.Equal(t, "All clear this week.", got.Narrative)
	assert.False(t, got.IsFallback)
}

func TestRegenerateWritesFreshNarrativeWhenNoExistingStory(t *testing.T) {
	db := openTestStorage(t)
	provider := &fakeProvider{response: `{"narrative":"Reconciliation is on track this month."}`}

	err := Regenerate(context.Background(), db, testTenant, provider, time.Now())
	require.NoError(t, err)

	got, err := db.GetStory(testTenant)
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, "Reconciliation is on track this month.", got.Narrative)
	assert.False(t, got.IsFallback)

	state, err := db.GetStoryState(testTenant)
	require.NoError(t, err)
	require.NotNil(t, state)
	assert.False(t, state.Dirty)
}

func TestRegenerateFallsBackWhenProviderUnavailable(t *testing.T) {
	db := openTestStorage(t)

	err := Regenerate(context.Background(), db, testTenant, nil, time.Now())
	require.NoError(t, err)

	got, err := db.GetStory(testTenant)
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.True(t, got.IsFallback)
	assert.Equal(t, fallbackNarrative, got.Narrative)
}

func TestRegenerateSkipsRecomputeWithinDebounceWindowOnUnchangedFingerprint(t *testing.T) {
	db := openTestStorage(t)
	now := time.Now()

	radar := map[string]float64{"cash_reconciliation": 100, "revenue_invoices": 100, "expenses_receipts": 100, "tax_compliance": 100}
	fp := Fingerprint(radar, nil)
	existing := &ledger.CompanionStory{TenantID: testTenant, Narrative: "cached narrative", Fingerprint: fp, GeneratedAt: now}
	require.NoError(t, db.SaveStory(existing))
	require.NoError(t, MarkDirty(db, testTenant, now))

	provider := &fakeProvider{response: `{"narrative":"should not be used"}`}
	err := Regenerate(context.Background(), db, testTenant, provider, now.Add(10*time.Second))
	require.NoError(t, err)

	got, err := db.GetStory(testTenant)
	require.NoError(t, err)
	assert.Equal(t, "cached narrative", got.Narrative, "debounce window keeps the cached narrative")

	state, err := db.GetStoryState(testTenant)
	require.NoError(t, err)
	assert.False(t, state.Dirty, "debounce skip still clears the dirty flag")
}

func TestRegenerateRecomputesAfterDebounceWindowElapses(t *testing.T) {
	db := openTestStorage(t)
	now := time.Now()

	radar := map[string]float64{"cash_reconciliation": 100, "revenue_invoices": 100, "expenses_receipts": 100, "tax_compliance": 100}
	fp := Fingerprint(radar, nil)
	existing := &ledger.CompanionStory{TenantID: testTenant, Narrative: "stale narrative", Fingerprint: fp, GeneratedAt: now.Add(-DebounceWindow - time.Second)}
	require.NoError(t, db.SaveStory(existing))

	provider := &fakeProvider{response: `{"narrative":"fresh narrative"}`}
	err := Regenerate(context.Background(), db, testTenant, provider, now)
	require.NoError(t, err)

	got, err := db.GetStory(testTenant)
	require.NoError(t, err)
	assert.Equal(t, "fresh narrative", got.Narrative)
}

func TestDrainDirtyRegeneratesOnlyDirtyTenants(t *testing.T) {
	db := openTestStorage(t)
	now := time.Now()

	err := db.Update(func(tx *bbolt.Tx) error {
		if err := storage.SaveTenant(tx, &ledger.Tenant{ID: "tenant-a", Name: "A"}); err != nil {
			return err
		}
		return storage.SaveTenant(tx, &ledger.Tenant{ID: "tenant-b", Name: "B"})
	})
	require.NoError(t, err)

	require.NoError(t, MarkDirty(db, "tenant-a", now))
	clean := &ledger.CompanionStoryState{TenantID: "tenant-b", Dirty: false, LastRequestedAt: now}
	require.NoError(t, db.SaveStoryState(clean))

	provider := &fakeProvider{response: `{"narrative":"drained"}`}
	drainDirty(context.Background(), db, provider)

	storyA, err := db.GetStory("tenant-a")
	require.NoError(t, err)
	require.NotNil(t, storyA)
	assert.Equal(t, "drained", storyA.Narrative)

	storyB, err := db.GetStory("tenant-b")
	require.Error(t, err)
	assert.Nil(t, storyB)
}
