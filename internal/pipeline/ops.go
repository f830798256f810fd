package pipeline

import (
	"context"
	"sort"

	"go.uber.org/zap"

	"github.com/sells-group/intake-cli/internal/model"
)

// OpResult is returned by every human operation: the fields it touched and
// the summary recomputed afterwards.
type OpResult struct {
	Fields  []*model.Field      `json:"fields"`
	Summary model.ReviewSummary `json:"summary"`
	Version int                 `json:"version"`
}

// Edit applies a batch of user edits. The batch is all or nothing: the
// first rejected value fails the call and nothing is stored.
func (s *Service) Edit(ctx context.Context, runID string, edits map[string]string, force bool) (*OpResult, error) {
	paths := make([]string, 0, len(edits))
	for p := range edits {
		paths = append(paths, p)
	}
	sort.Strings(paths)

	return s.mutate(ctx, runID, "edit", func(state *model.RunState) ([]*model.Field, error) {
		out := make([]*model.Field, 0, len(paths))
		for _, p := range paths {
			f, err := s.Manager.Edit(state, p, edits[p], force)
			if err != nil {
				return nil, err
			}
			out = append(out, f)
		}
		return out, nil
	})
}

// AcceptAll confirms every blocking and needs-review field as it stands.
func (s *Service) AcceptAll(ctx context.Context, runID string) (*OpResult, error) {
	return s.mutate(ctx, runID, "accept-all", func(state *model.RunState) ([]*model.Field, error) {
		paths, err := s.Manager.AcceptAll(state)
		if err != nil {
			return nil, err
		}
		out := make([]*model.Field, 0, len(paths))
		for _, p := range paths {
			out = append(out, state.Fields[p])
		}
		return out, nil
	})
}

// ApplySuggestion replaces a field's value with one of its suggestions.
func (s *Service) ApplySuggestion(ctx context.Context, runID, path string, index int) (*OpResult, error) {
	return s.mutate(ctx, runID, "apply-suggestion", func(state *model.RunState) ([]*model.Field, error) {
		f, err := s.Manager.ApplySuggestion(state, path, index)
		if err != nil {
			return nil, err
		}
		return []*model.Field{f}, nil
	})
}

// ResolveConflict picks the conflict candidate with the given label.
func (s *Service) ResolveConflict(ctx context.Context, runID, path, label string) (*OpResult, error) {
	return s.mutate(ctx, runID, "resolve-conflict", func(state *model.RunState) ([]*model.Field, error) {
		f, err := s.Manager.ResolveConflict(state, path, label)
		if err != nil {
			return nil, err
		}
		return []*model.Field{f}, nil
	})
}

// ConfirmInvalid pins a field red at the user's request.
func (s *Service) ConfirmInvalid(ctx context.Context, runID, path string) (*OpResult, error) {
	return s.mutate(ctx, runID, "confirm-invalid", func(state *model.RunState) ([]*model.Field, error) {
		f, err := s.Manager.ConfirmInvalid(state, path)
		if err != nil {
			return nil, err
		}
		return []*model.Field{f}, nil
	})
}

// mutate runs a human operation under the run lock, then reclassifies and
// persists. Any error leaves the stored run unchanged.
func (s *Service) mutate(ctx context.Context, runID, op string, fn func(*model.RunState) ([]*model.Field, error)) (*OpResult, error) {
	var res OpResult
	err := s.withRun(ctx, runID, func(run *model.Run, state *model.RunState) error {
		fields, err := fn(state)
		if err != nil {
			return err
		}
		res.Summary = s.Gate.Summarize(state)
		res.Version = state.Version
		res.Fields = make([]*model.Field, len(fields))
		for i, f := range fields {
			res.Fields[i] = f.Clone()
		}
		if err := s.persist(ctx, run, state, res.Summary, s.statusAfterChange(run, state)); err != nil {
			return err
		}
		stageLogger(runID, op).Info("pipeline: human operation applied",
			zap.Int("fields", len(fields)),
			zap.Int("version", state.Version),
			zap.Int("blocking", res.Summary.Blocking),
		)
		return nil
	})
	if err != nil {
		return nil, err
	}
	return &res, nil
}
