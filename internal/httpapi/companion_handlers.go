package httpapi

import (
	"net/http"
	"time"

	"go.etcd.io/bbolt"

	"ledgercore/internal/companion"
	"ledgercore/internal/ledger"
	"ledgercore/internal/storage"
	"ledgercore/internal/story"
)

// markStoryDirty flags tenantID's cached story for regeneration; called
// after any write path that could move the radar or issue set.
func (env *handlerEnv) markStoryDirty(tenantID string) error {
	return story.MarkDirty(env.db, tenantID, time.Now())
}

func (env *handlerEnv) listIssues(w http.ResponseWriter, r *http.Request) {
	tid := tenantID(r)
	issues, err := env.db.ListIssues(tid)
	if err != nil {
		errorToHTTP(w, err)
		return
	}

	if status := r.URL.Query().Get("status"); status != "" {
		filtered := issues[:0]
		for _, i := range issues {
			if string(i.Status) == status {
				filtered = append(filtered, i)
			}
		}
		issues = filtered
	}
	if severity := r.URL.Query().Get("severity"); severity != "" {
		filtered := issues[:0]
		for _, i := range issues {
			if string(i.Severity) == severity {
				filtered = append(filtered, i)
			}
		}
		issues = filtered
	}
	writeJSON(w, http.StatusOK, issues)
}

type updateIssueRequest struct {
	Status string `json:"status"`
}

func (env *handlerEnv) updateIssue(w http.ResponseWriter, r *http.Request) {
	tid := tenantID(r)
	issueID := urlParam(r, "id")
	var req updateIssueRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "VALIDATION_ERROR", "malformed request body")
		return
	}
	switch ledger.IssueStatus(req.Status) {
	case ledger.IssueOpen, ledger.IssueSnoozed, ledger.IssueResolved, ledger.IssueDismissed:
	default:
		writeError(w, http.StatusBadRequest, "VALIDATION_ERROR", "unknown issue status")
		return
	}

	var issue *ledger.CompanionIssue
	err := env.db.Update(func(tx *bbolt.Tx) error {
		i, err := storage.GetIssue(tx, tid, issueID)
		if err != nil {
			return ledger.NewNotFoundError("issue not found")
		}
		i.Status = ledger.IssueStatus(req.Status)
		issue = i
		return storage.SaveIssue(tx, i)
	})
	if err != nil {
		errorToHTTP(w, err)
		return
	}
	if err := env.markStoryDirty(tid); err != nil {
		errorToHTTP(w, err)
		return
	}
	writeJSON(w, http.StatusOK, issue)
}

// companionSummary composes the radar, coverage, close-readiness
// verdict, playbook, and cached narrative story into one read-only
// view. It never calls the advisor directly — the narrative comes from
// whatever the background worker last cached.
func (env *handlerEnv) companionSummary(w http.ResponseWriter, r *http.Request) {
	tid := tenantID(r)
	now := time.Now()

	var radar map[string]float64
	var coverage map[string]float64
	var readiness *companion.CloseReadiness
	var playbook []companion.PlaybookStep
	err := env.db.View(func(tx *bbolt.Tx) error {
		var err error
		radar, err = companion.ComputeRadar(tx, tid, now)
		if err != nil {
			return err
		}
		coverage, err = companion.ComputeCoverage(tx, tid)
		if err != nil {
			return err
		}
		readiness, err = companion.ComputeCloseReadiness(tx, tid, now)
		if err != nil {
			return err
		}
		playbook, err = companion.BuildPlaybook(tx, tid, companion.DefaultPlaybookSize, coverage)
		return err
	})
	if err != nil {
		errorToHTTP(w, err)
		return
	}

	narrative, err := story.ReadCached(env.db, tid, now)
	if err != nil {
		errorToHTTP(w, err)
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"radar":          radar,
		"coverage":       coverage,
		"close_readiness": readiness,
		"playbook":       playbook,
		"story":          narrative,
	})
}
