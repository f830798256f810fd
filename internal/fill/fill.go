// Package fill hands an approved canonical snapshot to the form-filling
// collaborator and collects its per-field report.
package fill

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"sort"

	"github.com/rotisserie/eris"

	"github.com/sells-group/intake-cli/internal/model"
	"github.com/sells-group/intake-cli/internal/resilience"
)

// Filler drives the external form filling for one approved snapshot.
type Filler interface {
	Name() string
	Fill(ctx context.Context, snap *model.CanonicalFields) (*model.FillReport, error)
}

// FieldValue is one entry of the payload sent to the filler.
type FieldValue struct {
	Path  string `json:"path"`
	Value string `json:"value"`
}

// Payload is the request body posted to the webhook.
type Payload struct {
	RunID      string       `json:"run_id"`
	ApprovalID string       `json:"approval_id"`
	Fields     []FieldValue `json:"fields"`
}

// NewPayload builds the request body from a snapshot. Only fields holding
// a value are sent, ordered by path.
func NewPayload(snap *model.CanonicalFields) Payload {
	values := snap.Values()
	p := Payload{RunID: snap.RunID, ApprovalID: snap.ApprovalID, Fields: make([]FieldValue, 0, len(values))}
	for path, v := range values {
		p.Fields = append(p.Fields, FieldValue{Path: path, Value: v})
	}
	sort.Slice(p.Fields, func(i, j int) bool { return p.Fields[i].Path < p.Fields[j].Path })
	return p
}

type webhookResponse struct {
	Attempts    []model.FillAttempt `json:"attempts"`
	Destination string              `json:"destination"`
	TraceRef    string              `json:"trace_ref"`
}

// WebhookFiller posts the snapshot to an HTTP automation endpoint.
type WebhookFiller struct {
	url    string
	client *http.Client
}

// NewWebhookFiller creates a WebhookFiller. Timeouts are applied by the
// caller's context.
func NewWebhookFiller(url string, client *http.Client) *WebhookFiller {
	if client == nil {
		client = &http.Client{}
	}
	return &WebhookFiller{url: url, client: client}
}

// Name implements Filler.
func (w *WebhookFiller) Name() string { return "filler" }

// Fill implements Filler.
func (w *WebhookFiller) Fill(ctx context.Context, snap *model.CanonicalFields) (*model.FillReport, error) {
	payload, err := json.Marshal(NewPayload(snap))
	if err != nil {
		return nil, eris.Wrap(err, "fill: marshal payload")
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, w.url, bytes.NewReader(payload))
	if err != nil {
		return nil, eris.Wrap(err, "fill: create request")
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := w.client.Do(req)
	if err != nil {
		return nil, eris.Wrap(err, "fill: request failed")
	}
	defer resp.Body.Close() //nolint:errcheck

	body, err := io.ReadAll(io.LimitReader(resp.Body, 4<<20))
	if err != nil {
		return nil, eris.Wrap(err, "fill: read response")
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		err := eris.Errorf("fill: filler returned status %d", resp.StatusCode)
		if resilience.IsTransientHTTPStatus(resp.StatusCode) {
			return nil, resilience.NewTransientError(err, resp.StatusCode)
		}
		return nil, err
	}

	var out webhookResponse
	if err := json.Unmarshal(body, &out); err != nil {
		return nil, &model.MalformedResponseError{Collaborator: w.Name(), Reason: err.Error()}
	}
	report := &model.FillReport{
		RunID:       snap.RunID,
		ApprovalID:  snap.ApprovalID,
		Attempts:    out.Attempts,
		Destination: out.Destination,
		TraceRef:    out.TraceRef,
	}
	if err := Validate(w.Name(), report); err != nil {
		return nil, err
	}
	return report, nil
}

// Validate checks that every attempt names a path once and carries a known
// result.
func Validate(collaborator string, r *model.FillReport) error {
	seen := make(map[string]bool, len(r.Attempts))
	for i, a := range r.Attempts {
		if a.Path == "" {
			return &model.MalformedResponseError{Collaborator: collaborator, Reason: fmt.Sprintf("attempt %d has no path", i)}
		}
		if seen[a.Path] {
			return &model.MalformedResponseError{Collaborator: collaborator, Reason: fmt.Sprintf("duplicate attempt for %s", a.Path)}
		}
		seen[a.Path] = true
		switch a.Result {
		case model.FillPass, model.FillFail, model.FillSkip:
		default:
			return &model.MalformedResponseError{Collaborator: collaborator, Reason: fmt.Sprintf("unknown result %q for %s", a.Result, a.Path)}
		}
	}
	return nil
}
