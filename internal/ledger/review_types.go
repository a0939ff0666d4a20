package ledger

import "time"

// Surface identifies which review pipeline or companion axis a fact
// belongs to.
type Surface string

const (
	SurfaceBank     Surface = "bank"
	SurfaceInvoices Surface = "invoices"
	SurfaceReceipts Surface = "receipts"
	SurfaceBooks    Surface = "books"
)

type RunStatus string

const (
	RunPending   RunStatus = "PENDING"
	RunRunning   RunStatus = "RUNNING"
	RunCompleted RunStatus = "COMPLETED"
	RunFailed    RunStatus = "FAILED"
)

// Run is one execution of a review pipeline over a period.
type Run struct {
	ID               string    `json:"id"`
	TenantID         string    `json:"tenant_id"`
	Surface          Surface   `json:"surface"`
	Status           RunStatus `json:"status"`
	PeriodStart      time.Time `json:"period_start"`
	PeriodEnd        time.Time `json:"period_end"`
	TraceID          string    `json:"trace_id"`
	OverallRiskScore float64   `json:"overall_risk_score"`
	RiskLevel        string    `json:"risk_level"`
	Metrics          map[string]any `json:"metrics,omitempty"`
	AdvisorCalled    bool      `json:"advisor_called"`
	AdvisorSummary   string    `json:"advisor_summary,omitempty"`
	AdvisorRankedDocuments          []AdvisorRankedDocument          `json:"advisor_ranked_documents,omitempty"`
	AdvisorSuggestedClassifications []AdvisorSuggestedClassification `json:"advisor_suggested_classifications,omitempty"`
	CreatedAt        time.Time `json:"created_at"`
	CompletedAt      *time.Time `json:"completed_at,omitempty"`
}

// AdvisorRankedDocument is one document the advisor flagged for
// priority review. DocumentID must be one of the ids sent in the
// request; a caller filters anything else out before persisting.
type AdvisorRankedDocument struct {
	DocumentID string `json:"document_id"`
	Priority   string `json:"priority"`
	Reason     string `json:"reason"`
}

// AdvisorSuggestedClassification is the advisor's proposed account
// code for a document, keyed the same way as AdvisorRankedDocument.
type AdvisorSuggestedClassification struct {
	DocumentID           string  `json:"document_id"`
	SuggestedAccountCode string  `json:"suggested_account_code,omitempty"`
	Confidence           float64 `json:"confidence,omitempty"`
	Reason               string  `json:"reason"`
}

type AuditStatus string

const (
	AuditOK      AuditStatus = "ok"
	AuditWarning AuditStatus = "warning"
	AuditError   AuditStatus = "error"
)

// Flag is one weighted rule hit recorded against a review Document.
type Flag struct {
	Code     string  `json:"code"`
	Severity string  `json:"severity"` // low|medium|high
	Delta    float64 `json:"delta"`
	Message  string  `json:"message"`
}

// Document is a single per-item review result owned by a Run (a receipt,
// an invoice, a journal entry, or a bank line, depending on surface).
type Document struct {
	ID              string         `json:"id"`
	RunID           string         `json:"run_id"`
	TenantID        string         `json:"tenant_id"`
	SourceRef       string         `json:"source_ref"`
	ExtractedPayload map[string]any `json:"extracted_payload,omitempty"`
	ProposedPosting map[string]any  `json:"proposed_posting,omitempty"`
	Flags           []Flag         `json:"flags"`
	Score           float64        `json:"score"`
	Status          AuditStatus    `json:"status"`
}

// ----------------------------------------------------------------------
// Companion layer
// ----------------------------------------------------------------------

type IssueSeverity string

const (
	SeverityLow    IssueSeverity = "low"
	SeverityMedium IssueSeverity = "medium"
	SeverityHigh   IssueSeverity = "high"
)

type IssueStatus string

const (
	IssueOpen     IssueStatus = "open"
	IssueSnoozed  IssueStatus = "snoozed"
	IssueResolved IssueStatus = "resolved"
	IssueDismissed IssueStatus = "dismissed"
)

// CompanionIssue is a derived, cross-surface actionable item.
type CompanionIssue struct {
	ID                string        `json:"id"`
	TenantID          string        `json:"tenant_id"`
	Surface           Surface       `json:"surface"`
	RunType           string        `json:"run_type"`
	RunID             string        `json:"run_id,omitempty"`
	Severity          IssueSeverity `json:"severity"`
	Status            IssueStatus   `json:"status"`
	Title             string        `json:"title"`
	Description       string        `json:"description"`
	RecommendedAction string        `json:"recommended_action"`
	EstimatedImpact   string        `json:"estimated_impact"`
	Data              map[string]any `json:"data,omitempty"`
	TraceID           string        `json:"trace_id"`
	CreatedAt         time.Time     `json:"created_at"`
}

// CompanionStory is the cached narrative text for a tenant's companion
// summary view.
type CompanionStory struct {
	TenantID    string    `json:"tenant_id"`
	Narrative   string    `json:"narrative"`
	Fingerprint string    `json:"fingerprint"`
	IsFallback  bool      `json:"is_fallback"`
	GeneratedAt time.Time `json:"generated_at"`
}

// CompanionStoryState tracks the dirty/debounce bookkeeping around the
// cached story.
type CompanionStoryState struct {
	TenantID         string    `json:"tenant_id"`
	Dirty            bool      `json:"dirty"`
	LastRequestedAt  time.Time `json:"last_requested_at"`
}
