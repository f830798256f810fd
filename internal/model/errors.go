package model

import (
	"fmt"
	"strings"

	"github.com/rotisserie/eris"
)

// Sentinel errors shared across packages.
var (
	ErrRunNotFound   = eris.New("run not found")
	ErrUnknownField  = eris.New("unknown field path")
	ErrNotApproved   = eris.New("run has no canonical snapshot")
	ErrStaleApproval = eris.New("canonical snapshot is stale; re-approve after edits")
	ErrNoSuggestion  = eris.New("suggestion not found")
	ErrNoConflict    = eris.New("conflict candidate not found")
	ErrNotFilled     = eris.New("run has no fill report")
)

// FormatError reports a value rejected by a deterministic rule.
type FormatError struct {
	Path  string
	Codes []string
}

func (e *FormatError) Error() string {
	return fmt.Sprintf("format error on %s: %s", e.Path, strings.Join(e.Codes, ","))
}

// CollaboratorUnavailableError reports an unreachable or timed-out
// verification or fill collaborator.
type CollaboratorUnavailableError struct {
	Collaborator string
	Err          error
}

func (e *CollaboratorUnavailableError) Error() string {
	return fmt.Sprintf("%s unavailable: %v", e.Collaborator, e.Err)
}

func (e *CollaboratorUnavailableError) Unwrap() error {
	return e.Err
}

// MalformedResponseError reports a collaborator response that could not be
// parsed or failed validation.
type MalformedResponseError struct {
	Collaborator string
	Reason       string
}

func (e *MalformedResponseError) Error() string {
	return fmt.Sprintf("malformed %s response: %s", e.Collaborator, e.Reason)
}

// ApprovalPreconditionError is returned when approval is attempted while
// blocking fields remain.
type ApprovalPreconditionError struct {
	Blocking []string
}

func (e *ApprovalPreconditionError) Error() string {
	return fmt.Sprintf("approval blocked by %d field(s): %s", len(e.Blocking), strings.Join(e.Blocking, ", "))
}
