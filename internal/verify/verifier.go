// Package verify runs the two-tier validation of a run: deterministic rules
// on every field, then an optional external verifier on the fields rules
// could not settle.
package verify

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"github.com/sells-group/intake-cli/internal/model"
)

// Request describes one field sent to an external verifier.
type Request struct {
	Path     string          `json:"path"`
	Document string          `json:"document"`
	Label    string          `json:"label"`
	Type     model.FieldType `json:"type"`
	Value    string          `json:"value"`
	Evidence string          `json:"evidence,omitempty"`
}

// Response is the verdict returned for one field.
type Response struct {
	Verdict            model.Status `json:"verdict"`
	Confidence         float64      `json:"confidence"`
	Reason             string       `json:"reason,omitempty"`
	SuggestedValue     string       `json:"suggested_value,omitempty"`
	SuggestedEvidence  string       `json:"suggested_evidence,omitempty"`
	RequiresHumanInput bool         `json:"requires_human_input,omitempty"`
}

// Validate checks the response shape. Violations are reported as a
// *model.MalformedResponseError naming the collaborator.
func (r *Response) Validate(collaborator string) error {
	if r == nil {
		return &model.MalformedResponseError{Collaborator: collaborator, Reason: "empty response"}
	}
	switch r.Verdict {
	case model.StatusGreen, model.StatusAmber, model.StatusRed:
	default:
		return &model.MalformedResponseError{
			Collaborator: collaborator,
			Reason:       fmt.Sprintf("unknown verdict %q", r.Verdict),
		}
	}
	if r.Confidence < 0 || r.Confidence > 1 {
		return &model.MalformedResponseError{
			Collaborator: collaborator,
			Reason:       fmt.Sprintf("confidence %v outside [0,1]", r.Confidence),
		}
	}
	return nil
}

// Verifier checks a single field value against its evidence.
type Verifier interface {
	// Name returns the verifier identifier used in config and warnings.
	Name() string
	// Verify returns a verdict for the field.
	Verify(ctx context.Context, req Request) (*Response, error)
}

// Registry manages the available verifiers.
type Registry struct {
	mu        sync.RWMutex
	verifiers map[string]Verifier
}

// NewRegistry creates an empty verifier registry.
func NewRegistry() *Registry {
	return &Registry{verifiers: make(map[string]Verifier)}
}

// Register adds a verifier to the registry.
func (r *Registry) Register(v Verifier) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.verifiers[v.Name()] = v
}

// Get returns a verifier by name, or nil if not found.
func (r *Registry) Get(name string) Verifier {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.verifiers[name]
}

// List returns all registered verifier names, sorted.
func (r *Registry) List() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	names := make([]string, 0, len(r.verifiers))
	for name := range r.verifiers {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}
