package model

import "time"

// ReviewSummary aggregates run-level readiness over the live field map.
type ReviewSummary struct {
	Blocking         int      `json:"blocking"`
	NeedsReview      int      `json:"needs_review"`
	AutoApproved     int      `json:"auto_approved"`
	OptionalMissing  int      `json:"optional_missing"`
	BlockingFields   []string `json:"blocking_fields"`
	ReviewFields     []string `json:"needs_review_fields"`
	ApprovedFields   []string `json:"auto_approved_fields"`
	MissingFields    []string `json:"optional_missing_fields"`
	SkippedDocuments []string `json:"skipped_documents,omitempty"`
	ReadyForAutofill bool     `json:"ready_for_autofill"`
}

// CanonicalFields is the approved, immutable snapshot handed to the filler.
type CanonicalFields struct {
	RunID      string    `json:"run_id"`
	ApprovalID string    `json:"approval_id"`
	ApprovedAt time.Time `json:"approved_at"`
	Version    int       `json:"version"`
	Fields     FieldMap  `json:"fields"`
}

// Values returns path to value for every field holding a value.
func (c *CanonicalFields) Values() map[string]string {
	out := make(map[string]string, len(c.Fields))
	for p, f := range c.Fields {
		if f.HasValue() {
			out[p] = *f.Value
		}
	}
	return out
}

// FillResult is the outcome of one form-filling attempt.
type FillResult string

// Fill attempt results.
const (
	FillPass FillResult = "PASS"
	FillFail FillResult = "FAIL"
	FillSkip FillResult = "SKIP"
)

// FillAttempt is reported by the form-filling collaborator per field.
type FillAttempt struct {
	Path              string     `json:"path"`
	Attempted         bool       `json:"attempted"`
	SelectorUsed      string     `json:"selector_used,omitempty"`
	DOMReadbackValue  *string    `json:"dom_readback_value"`
	Result            FillResult `json:"result"`
	FailureReasonCode *string    `json:"failure_reason_code"`
}

// FillReport is the complete response of the form-filling collaborator.
type FillReport struct {
	RunID       string        `json:"run_id"`
	ApprovalID  string        `json:"approval_id"`
	Attempts    []FillAttempt `json:"attempts"`
	Destination string        `json:"destination,omitempty"`
	TraceRef    string        `json:"trace_ref,omitempty"`
	FilledAt    time.Time     `json:"filled_at"`
}

// Attempt returns the attempt for path, if any.
func (r *FillReport) Attempt(path string) (FillAttempt, bool) {
	for _, a := range r.Attempts {
		if a.Path == path {
			return a, true
		}
	}
	return FillAttempt{}, false
}

// ValidationEntry is the post-fill verdict for one field.
type ValidationEntry struct {
	Value      *string     `json:"value"`
	Expected   *string     `json:"expected"`
	FromDOM    bool        `json:"from_dom"`
	FillResult FillResult  `json:"fill_result,omitempty"`
	Status     Status      `json:"status"`
	Rule       *RuleResult `json:"rule,omitempty"`
	Codes      []string    `json:"codes,omitempty"`
}

// ValidationReport is written by post-fill validation.
type ValidationReport struct {
	RunID       string                     `json:"run_id"`
	ApprovalID  string                     `json:"approval_id"`
	Fields      map[string]ValidationEntry `json:"fields"`
	Summary     ReviewSummary              `json:"summary"`
	Warnings    []Warning                  `json:"warnings,omitempty"`
	ValidatedAt time.Time                  `json:"validated_at"`
}
