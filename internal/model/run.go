package model

import "time"

// RunStatus represents the lifecycle stage of an intake run.
type RunStatus string

const (
	RunStatusCreated   RunStatus = "created"
	RunStatusReview    RunStatus = "review"
	RunStatusApproved  RunStatus = "approved"
	RunStatusFilled    RunStatus = "filled"
	RunStatusValidated RunStatus = "validated"
	RunStatusFailed    RunStatus = "failed"
)

// Run is the index record for one intake run.
type Run struct {
	ID        string    `json:"id"`
	Status    RunStatus `json:"status"`
	Version   int       `json:"version"`
	Blocking  int       `json:"blocking"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// Candidate is one extractor report for a path.
type Candidate struct {
	Value    *string `json:"value"`
	Source   Source  `json:"source"`
	Evidence *string `json:"raw_evidence"`
	Document string  `json:"document,omitempty"`
	Fuzzy    bool    `json:"fuzzy,omitempty"`
}

// EvidenceText returns the evidence or "" when null.
func (c Candidate) EvidenceText() string {
	if c.Evidence == nil {
		return ""
	}
	return *c.Evidence
}

// Extraction is the combined output of the source extractors for a run.
type Extraction struct {
	Fields   map[string][]Candidate `json:"fields"`
	Warnings []Warning              `json:"warnings,omitempty"`
	Presence map[string]Presence    `json:"presence,omitempty"`
}

// RunState is the per-run aggregate: the full field map plus run-level
// diagnostics. It is loaded and persisted as one document keyed by run id.
type RunState struct {
	RunID     string              `json:"run_id"`
	Fields    FieldMap            `json:"fields"`
	Warnings  []Warning           `json:"warnings,omitempty"`
	Presence  map[string]Presence `json:"presence,omitempty"`
	Version   int                 `json:"version"`
	UpdatedAt time.Time           `json:"updated_at"`
}

// AddWarning appends w unless an identical warning is already recorded.
func (s *RunState) AddWarning(w Warning) {
	for _, existing := range s.Warnings {
		if existing == w {
			return
		}
	}
	s.Warnings = append(s.Warnings, w)
}
