package verify

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	sdk "github.com/anthropics/anthropic-sdk-go"
	"github.com/rotisserie/eris"

	"github.com/sells-group/intake-cli/internal/model"
	"github.com/sells-group/intake-cli/internal/resilience"
	"github.com/sells-group/intake-cli/pkg/anthropic"
)

// AnthropicName identifies the LLM-backed verifier.
const AnthropicName = "anthropic"

const verifierSystemPrompt = `You verify values extracted from immigration intake documents (passports and USCIS Form G-28).
For the field described by the user, judge whether the value is plausible and consistent with the evidence text.
Reply with a single JSON object and nothing else:
{"verdict":"green|amber|red","confidence":0.0,"reason":"short reason","suggested_value":"","suggested_evidence":"","requires_human_input":false}
Use "green" only when the evidence clearly supports the value. Use "red" when the value is clearly wrong for the field.
Only suggest a replacement value when it appears verbatim in the evidence, and quote that evidence in suggested_evidence.
Set requires_human_input when only the applicant or attorney can supply the answer.`

// AnthropicVerifier asks a Claude model to verify a field value.
type AnthropicVerifier struct {
	client    anthropic.Client
	model     string
	maxTokens int64
}

// NewAnthropicVerifier creates a verifier backed by the given client.
func NewAnthropicVerifier(client anthropic.Client, model string, maxTokens int64) *AnthropicVerifier {
	if maxTokens <= 0 {
		maxTokens = 512
	}
	return &AnthropicVerifier{client: client, model: model, maxTokens: maxTokens}
}

// Name implements Verifier.
func (v *AnthropicVerifier) Name() string { return AnthropicName }

// Verify implements Verifier.
func (v *AnthropicVerifier) Verify(ctx context.Context, req Request) (*Response, error) {
	temp := 0.0
	resp, err := v.client.CreateMessage(ctx, anthropic.MessageRequest{
		Model:     v.model,
		MaxTokens: v.maxTokens,
		System: []anthropic.SystemBlock{{
			Text:         verifierSystemPrompt,
			CacheControl: &anthropic.CacheControl{TTL: "5m"},
		}},
		Messages:    []anthropic.Message{{Role: "user", Content: buildPrompt(req)}},
		Temperature: &temp,
	})
	if err != nil {
		var apiErr *sdk.Error
		if errors.As(err, &apiErr) && resilience.IsTransientHTTPStatus(apiErr.StatusCode) {
			return nil, resilience.NewTransientError(err, apiErr.StatusCode)
		}
		return nil, eris.Wrapf(err, "verify: anthropic call for %s", req.Path)
	}
	resp.Usage.LogCost(v.model, "verify")

	return parseResponse(AnthropicName, resp.Text())
}

func buildPrompt(req Request) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Document: %s\n", req.Document)
	fmt.Fprintf(&b, "Field: %s (%s)\n", req.Label, req.Path)
	fmt.Fprintf(&b, "Field type: %s\n", req.Type)
	fmt.Fprintf(&b, "Value: %q\n", req.Value)
	if req.Evidence != "" {
		fmt.Fprintf(&b, "Evidence:\n%s\n", req.Evidence)
	} else {
		b.WriteString("Evidence: (none)\n")
	}
	return b.String()
}

// parseResponse extracts the JSON object from a model reply. Replies often
// wrap the object in prose or a code fence.
func parseResponse(collaborator, text string) (*Response, error) {
	start := strings.Index(text, "{")
	end := strings.LastIndex(text, "}")
	if start < 0 || end < start {
		return nil, &model.MalformedResponseError{Collaborator: collaborator, Reason: "no JSON object in reply"}
	}
	var r Response
	if err := json.Unmarshal([]byte(text[start:end+1]), &r); err != nil {
		return nil, &model.MalformedResponseError{Collaborator: collaborator, Reason: err.Error()}
	}
	r.Verdict = model.Status(strings.ToLower(strings.TrimSpace(string(r.Verdict))))
	return &r, nil
}
