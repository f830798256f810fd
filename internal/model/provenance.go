package model

// ProvenanceAttempt records one scored extraction candidate for a field.
type ProvenanceAttempt struct {
	Source     Source  `json:"source"`
	Document   string  `json:"document,omitempty"`
	Value      string  `json:"value"`
	Evidence   string  `json:"evidence,omitempty"`
	Confidence float64 `json:"confidence"`
	Rejected   bool    `json:"rejected,omitempty"`
	Reason     string  `json:"reason,omitempty"`
	Winner     bool    `json:"winner,omitempty"`
}

// Label identifies the attempt in conflict records and review output:
// the originating document when known, otherwise the source.
func (a ProvenanceAttempt) Label() string {
	if a.Document != "" {
		return a.Document
	}
	return string(a.Source)
}
