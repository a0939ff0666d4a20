package storage

import (
	"go.etcd.io/bbolt"

	"ledgercore/internal/ledger"
)

// ---- Review runs & documents ----

func SaveRun(tx *bbolt.Tx, r *ledger.Run) error {
	return put(tx, BucketRuns, r.TenantID, r.ID, r)
}

func (s *Storage) SaveRun(r *ledger.Run) error {
	return s.db.Update(func(tx *bbolt.Tx) error { return SaveRun(tx, r) })
}

func GetRun(tx *bbolt.Tx, tenantID, id string) (*ledger.Run, error) {
	return get[ledger.Run](tx, BucketRuns, tenantID, id)
}

func (s *Storage) GetRun(tenantID, id string) (*ledger.Run, error) {
	var out *ledger.Run
	err := s.db.View(func(tx *bbolt.Tx) error {
		v, err := GetRun(tx, tenantID, id)
		out = v
		return err
	})
	return out, err
}

func ListRuns(tx *bbolt.Tx, tenantID string, surface ledger.Surface) ([]*ledger.Run, error) {
	all, err := listByTenant[ledger.Run](tx, BucketRuns, tenantID)
	if err != nil {
		return nil, err
	}
	if surface == "" {
		return all, nil
	}
	var out []*ledger.Run
	for _, r := range all {
		if r.Surface == surface {
			out = append(out, r)
		}
	}
	return out, nil
}

func (s *Storage) ListRuns(tenantID string, surface ledger.Surface) ([]*ledger.Run, error) {
	var out []*ledger.Run
	err := s.db.View(func(tx *bbolt.Tx) error {
		v, err := ListRuns(tx, tenantID, surface)
		out = v
		return err
	})
	return out, err
}

func SaveDocument(tx *bbolt.Tx, d *ledger.Document) error {
	return put(tx, BucketDocuments, d.TenantID, d.ID, d)
}

func (s *Storage) SaveDocument(d *ledger.Document) error {
	return s.db.Update(func(tx *bbolt.Tx) error { return SaveDocument(tx, d) })
}

func ListDocumentsByRun(tx *bbolt.Tx, tenantID, runID string) ([]*ledger.Document, error) {
	all, err := listByTenant[ledger.Document](tx, BucketDocuments, tenantID)
	if err != nil {
		return nil, err
	}
	var out []*ledger.Document
	for _, d := range all {
		if d.RunID == runID {
			out = append(out, d)
		}
	}
	return out, nil
}

func (s *Storage) ListDocumentsByRun(tenantID, runID string) ([]*ledger.Document, error) {
	var out []*ledger.Document
	err := s.db.View(func(tx *bbolt.Tx) error {
		v, err := ListDocumentsByRun(tx, tenantID, runID)
		out = v
		return err
	})
	return out, err
}

// ---- Companion issues & story ----

func SaveIssue(tx *bbolt.Tx, i *ledger.CompanionIssue) error {
	return put(tx, BucketCompanionIssues, i.TenantID, i.ID, i)
}

func (s *Storage) SaveIssue(i *ledger.CompanionIssue) error {
	return s.db.Update(func(tx *bbolt.Tx) error { return SaveIssue(tx, i) })
}

// BulkCreateIssues persists many issues in one transaction so a pipeline
// run's entire issue batch commits atomically.
func (s *Storage) BulkCreateIssues(issues []*ledger.CompanionIssue) error {
	return s.db.Update(func(tx *bbolt.Tx) error {
		for _, i := range issues {
			if err := SaveIssue(tx, i); err != nil {
				return err
			}
		}
		return nil
	})
}

func GetIssue(tx *bbolt.Tx, tenantID, id string) (*ledger.CompanionIssue, error) {
	return get[ledger.CompanionIssue](tx, BucketCompanionIssues, tenantID, id)
}

func (s *Storage) GetIssue(tenantID, id string) (*ledger.CompanionIssue, error) {
	var out *ledger.CompanionIssue
	err := s.db.View(func(tx *bbolt.Tx) error {
		v, err := GetIssue(tx, tenantID, id)
		out = v
		return err
	})
	return out, err
}

func ListIssues(tx *bbolt.Tx, tenantID string) ([]*ledger.CompanionIssue, error) {
	return listByTenant[ledger.CompanionIssue](tx, BucketCompanionIssues, tenantID)
}

func (s *Storage) ListIssues(tenantID string) ([]*ledger.CompanionIssue, error) {
	var out []*ledger.CompanionIssue
	err := s.db.View(func(tx *bbolt.Tx) error {
		v, err := ListIssues(tx, tenantID)
		out = v
		return err
	})
	return out, err
}

func (s *Storage) SaveStory(st *ledger.CompanionStory) error {
	return s.db.Update(func(tx *bbolt.Tx) error { return put(tx, BucketCompanionStories, st.TenantID, "story", st) })
}

func (s *Storage) GetStory(tenantID string) (*ledger.CompanionStory, error) {
	var out *ledger.CompanionStory
	err := s.db.View(func(tx *bbolt.Tx) error {
		v, err := get[ledger.CompanionStory](tx, BucketCompanionStories, tenantID, "story")
		out = v
		return err
	})
	return out, err
}

func (s *Storage) SaveStoryState(st *ledger.CompanionStoryState) error {
	return s.db.Update(func(tx *bbolt.Tx) error { return put(tx, BucketStoryState, st.TenantID, "state", st) })
}

func (s *Storage) GetStoryState(tenantID string) (*ledger.CompanionStoryState, error) {
	var out *ledger.CompanionStoryState
	err := s.db.View(func(tx *bbolt.Tx) error {
		v, err := get[ledger.CompanionStoryState](tx, BucketStoryState, tenantID, "state")
		out = v
		return err
	})
	return out, err
}

// ListAllTenantIDs scans the tenants bucket, used by the story worker to
// drain dirty tenants.
func (s *Storage) ListAllTenantIDs() ([]string, error) {
	var ids []string
	err := s.db.View(func(tx *bbolt.Tx) error {
		tenants, err := listByTenant[ledger.Tenant](tx, BucketTenants, "_")
		if err != nil {
			return err
		}
		for _, t := range tenants {
			ids = append(ids, t.ID)
		}
		return nil
	})
	return ids, err
}
