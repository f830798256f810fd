// Package pipeline sequences the intake stages for one run: ingest, review,
// validation, human operations, approval, fill and post-fill validation.
// Every stage loads the run, works on it under the run's lock and persists
// the result before returning. The CLI and the HTTP API both drive it.
package pipeline

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/intake-cli/internal/canonical"
	"github.com/sells-group/intake-cli/internal/fill"
	"github.com/sells-group/intake-cli/internal/model"
	"github.com/sells-group/intake-cli/internal/postfill"
	"github.com/sells-group/intake-cli/internal/resilience"
	"github.com/sells-group/intake-cli/internal/resolve"
	"github.com/sells-group/intake-cli/internal/review"
	"github.com/sells-group/intake-cli/internal/store"
	"github.com/sells-group/intake-cli/internal/verify"
)

// Deps are the collaborators of a Service. Filler and FillGuard may be nil
// when form filling is not configured.
type Deps struct {
	Registry  *model.FieldRegistry
	Files     *store.Files
	Index     store.Store
	Merger    *resolve.Merger
	Gate      *review.Gate
	Validator *verify.Orchestrator
	Manager   *canonical.Manager
	Post      *postfill.Validator
	Filler    fill.Filler
	FillGuard *resilience.Guard
}

// Service runs the stages against persisted runs.
type Service struct {
	Deps
	locks *canonical.Locks
	newID func() string
	now   func() time.Time
}

// Option configures a Service.
type Option func(*Service)

// WithIDFunc overrides run id generation.
func WithIDFunc(fn func() string) Option {
	return func(s *Service) { s.newID = fn }
}

// WithNow overrides the clock.
func WithNow(now func() time.Time) Option {
	return func(s *Service) { s.now = now }
}

// New creates a Service.
func New(deps Deps, opts ...Option) *Service {
	s := &Service{
		Deps:  deps,
		locks: canonical.NewLocks(),
		newID: uuid.NewString,
		now:   time.Now,
	}
	if s.Filler != nil && s.FillGuard == nil {
		s.FillGuard = resilience.NewGuard(s.Filler.Name(), 60*time.Second)
	}
	for _, o := range opts {
		o(s)
	}
	return s
}

// IngestResult is returned by Ingest.
type IngestResult struct {
	RunID   string              `json:"run_id"`
	Created bool                `json:"created"`
	Merge   resolve.MergeResult `json:"merge"`
	Summary model.ReviewSummary `json:"summary"`
}

// Ingest merges extractor output into a run. An empty runID starts a new
// run; an existing one is merged into, leaving locked fields alone. Tier
// one runs immediately so the stored statuses are meaningful.
func (s *Service) Ingest(ctx context.Context, runID string, ext model.Extraction) (*IngestResult, error) {
	created := false
	if runID == "" {
		runID = s.newID()
	}
	if _, err := s.Files.RunDir(runID); err != nil {
		return nil, err
	}
	unlock := s.locks.Acquire(runID)
	defer unlock()

	log := stageLogger(runID, "ingest")

	state, err := s.Files.LoadState(runID)
	if errors.Is(err, model.ErrRunNotFound) {
		state = &model.RunState{RunID: runID, Fields: model.FieldMap{}}
		created = true
	} else if err != nil {
		return nil, err
	}

	run, err := s.Index.GetRun(ctx, runID)
	if err != nil && !errors.Is(err, model.ErrRunNotFound) {
		return nil, err
	}

	res := s.Merger.Merge(state, ext)
	if _, err := s.Validator.Run(ctx, state, false); err != nil {
		return nil, eris.Wrap(err, "pipeline: tier one")
	}
	summary := s.Gate.Summarize(state)
	next := model.RunStatusReview
	if run != nil {
		next = s.statusAfterChange(run, state)
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	// The index row is created only once the field map is on disk.
	if err := s.Files.SaveState(state); err != nil {
		return nil, err
	}
	if err := s.Files.SaveSummary(runID, summary); err != nil {
		return nil, err
	}
	if run == nil {
		if run, err = s.Index.CreateRun(ctx, runID); err != nil {
			return nil, err
		}
	}
	run.Blocking = summary.Blocking
	if err := s.setStatus(ctx, run, state, next); err != nil {
		return nil, err
	}
	log.Info("pipeline: ingested",
		zap.Bool("created", created),
		zap.Int("changed", len(res.Changed)),
		zap.Int("skipped", len(res.Skipped)),
		zap.Int("unknown", len(res.Unknown)),
		zap.Int("blocking", summary.Blocking),
	)
	return &IngestResult{RunID: runID, Created: created, Merge: res, Summary: summary}, nil
}

// Review recomputes and stores the review summary from the live field map.
func (s *Service) Review(ctx context.Context, runID string) (model.ReviewSummary, error) {
	var summary model.ReviewSummary
	err := s.withRun(ctx, runID, func(run *model.Run, state *model.RunState) error {
		summary = s.Gate.Summarize(state)
		return s.persist(ctx, run, state, summary, s.statusAfterChange(run, state))
	})
	return summary, err
}

// ValidateResult is returned by Validate.
type ValidateResult struct {
	Report  verify.Report       `json:"report"`
	Summary model.ReviewSummary `json:"summary"`
}

// Validate runs tier one, and tier two when requested and a verifier is
// configured. Verifier outages only add warnings. A cancelled context
// leaves the stored run untouched.
func (s *Service) Validate(ctx context.Context, runID string, tierTwo bool) (*ValidateResult, error) {
	var out ValidateResult
	err := s.withRun(ctx, runID, func(run *model.Run, state *model.RunState) error {
		report, err := s.Validator.Run(ctx, state, tierTwo && s.Validator.TierTwoEnabled())
		if err != nil {
			return err
		}
		if err := ctx.Err(); err != nil {
			return err
		}
		out.Report = report
		out.Summary = s.Gate.Summarize(state)
		return s.persist(ctx, run, state, out.Summary, s.statusAfterChange(run, state))
	})
	if err != nil {
		return nil, err
	}
	return &out, nil
}

// Approve snapshots the run once nothing blocks it. Approving again without
// intervening edits returns the stored snapshot.
func (s *Service) Approve(ctx context.Context, runID string) (*model.CanonicalFields, model.ReviewSummary, error) {
	var snap *model.CanonicalFields
	var summary model.ReviewSummary
	err := s.withRun(ctx, runID, func(run *model.Run, state *model.RunState) error {
		prev, err := s.Files.LoadCanonical(runID)
		if err != nil {
			return err
		}
		snap, summary, err = s.Manager.Approve(state, prev)
		if err != nil {
			var pre *model.ApprovalPreconditionError
			if errors.As(err, &pre) {
				if perr := s.persist(ctx, run, state, summary, model.RunStatusReview); perr != nil {
					stageLogger(runID, "approve").Warn("pipeline: persist blocked summary", zap.Error(perr))
				}
			}
			return err
		}
		if snap != prev {
			if err := s.Files.SaveCanonical(snap); err != nil {
				return err
			}
		}
		status := model.RunStatusApproved
		if snap == prev && postApproval(run.Status) {
			status = run.Status
		}
		return s.persist(ctx, run, state, summary, status)
	})
	if err != nil {
		return nil, summary, err
	}
	return snap, summary, nil
}

// Fill hands the approved snapshot to the form filler. A stored report for
// the same approval is returned without calling the filler again.
func (s *Service) Fill(ctx context.Context, runID string) (*model.FillReport, error) {
	if s.Filler == nil {
		return nil, eris.New("pipeline: no filler configured")
	}
	var report *model.FillReport
	err := s.withRun(ctx, runID, func(run *model.Run, state *model.RunState) error {
		log := stageLogger(runID, "fill")
		stored, err := s.Files.LoadCanonical(runID)
		if err != nil {
			return err
		}
		snap, err := canonical.Usable(state, stored)
		if err != nil {
			return err
		}

		prev, err := s.Files.LoadFillReport(runID)
		if err != nil {
			return err
		}
		if prev != nil && prev.ApprovalID == snap.ApprovalID {
			log.Info("pipeline: fill already done for approval", zap.String("approval_id", snap.ApprovalID))
			report = prev
			return nil
		}

		report, err = resilience.Call(ctx, s.FillGuard, func(ctx context.Context) (*model.FillReport, error) {
			return s.Filler.Fill(ctx, snap)
		})
		if err != nil {
			log.Warn("pipeline: filler failed", zap.Error(err))
			return err
		}
		report.RunID = runID
		report.ApprovalID = snap.ApprovalID
		report.FilledAt = s.now().UTC()
		if err := s.Files.SaveFillReport(report); err != nil {
			return err
		}
		log.Info("pipeline: filled",
			zap.String("approval_id", snap.ApprovalID),
			zap.Int("attempts", len(report.Attempts)),
		)
		return s.setStatus(ctx, run, state, model.RunStatusFilled)
	})
	if err != nil {
		return nil, err
	}
	return report, nil
}

// PostFill validates what the filler wrote. The report is written only if
// ctx is still live once validation finishes. A report with blocking fields
// marks the run failed.
func (s *Service) PostFill(ctx context.Context, runID string, tierTwo bool) (*model.ValidationReport, error) {
	var report *model.ValidationReport
	err := s.withRun(ctx, runID, func(run *model.Run, state *model.RunState) error {
		stored, err := s.Files.LoadCanonical(runID)
		if err != nil {
			return err
		}
		snap, err := canonical.Usable(state, stored)
		if err != nil {
			return err
		}
		fr, err := s.Files.LoadFillReport(runID)
		if err != nil {
			return err
		}
		if fr == nil || fr.ApprovalID != snap.ApprovalID {
			return eris.Wrapf(model.ErrNotFilled, "pipeline: run %s", runID)
		}

		report, err = s.Post.Validate(ctx, snap, fr, state.Presence, tierTwo && s.Validator.TierTwoEnabled())
		if err != nil {
			return err
		}
		if err := ctx.Err(); err != nil {
			return err
		}
		if err := s.Files.SaveValidation(report); err != nil {
			return err
		}
		status := model.RunStatusValidated
		if report.Summary.Blocking > 0 {
			status = model.RunStatusFailed
		}
		return s.setStatus(ctx, run, state, status)
	})
	if err != nil {
		return nil, err
	}
	return report, nil
}

// RunView is everything stored for a run.
type RunView struct {
	Run        *model.Run              `json:"run"`
	State      *model.RunState         `json:"state"`
	Summary    *model.ReviewSummary    `json:"summary,omitempty"`
	Canonical  *model.CanonicalFields  `json:"canonical,omitempty"`
	Stale      bool                    `json:"canonical_stale"`
	FillReport *model.FillReport       `json:"fill_report,omitempty"`
	Validation *model.ValidationReport `json:"validation,omitempty"`
}

// Get loads a run and its artifacts.
func (s *Service) Get(ctx context.Context, runID string) (*RunView, error) {
	run, err := s.Index.GetRun(ctx, runID)
	if err != nil {
		return nil, err
	}
	state, err := s.Files.LoadState(runID)
	if err != nil {
		return nil, err
	}
	v := &RunView{Run: run, State: state}
	if v.Summary, err = s.Files.LoadSummary(runID); err != nil {
		return nil, err
	}
	if v.Canonical, err = s.Files.LoadCanonical(runID); err != nil {
		return nil, err
	}
	v.Stale = v.Canonical != nil && canonical.Stale(state, v.Canonical)
	if v.FillReport, err = s.Files.LoadFillReport(runID); err != nil {
		return nil, err
	}
	if v.Validation, err = s.Files.LoadValidation(runID); err != nil {
		return nil, err
	}
	return v, nil
}

// List returns runs from the index.
func (s *Service) List(ctx context.Context, filter store.RunFilter) ([]model.Run, error) {
	return s.Index.ListRuns(ctx, filter)
}

// withRun loads a run under its lock and hands it to fn.
func (s *Service) withRun(ctx context.Context, runID string, fn func(*model.Run, *model.RunState) error) error {
	if _, err := s.Files.RunDir(runID); err != nil {
		return err
	}
	unlock := s.locks.Acquire(runID)
	defer unlock()

	state, err := s.Files.LoadState(runID)
	if err != nil {
		return err
	}
	run, err := s.Index.GetRun(ctx, runID)
	if err != nil {
		return err
	}
	return fn(run, state)
}

// persist writes the field map and summary, then updates the index.
func (s *Service) persist(ctx context.Context, run *model.Run, state *model.RunState, summary model.ReviewSummary, status model.RunStatus) error {
	if err := s.Files.SaveState(state); err != nil {
		return err
	}
	if err := s.Files.SaveSummary(state.RunID, summary); err != nil {
		return err
	}
	run.Blocking = summary.Blocking
	return s.setStatus(ctx, run, state, status)
}

func (s *Service) setStatus(ctx context.Context, run *model.Run, state *model.RunState, status model.RunStatus) error {
	run.Status = status
	run.Version = state.Version
	return eris.Wrapf(s.Index.UpdateRun(ctx, run), "pipeline: update run %s", run.ID)
}

// statusAfterChange keeps a post-approval status while the snapshot still
// matches the field map and drops back to review once it is stale.
func (s *Service) statusAfterChange(run *model.Run, state *model.RunState) model.RunStatus {
	if run.Status == model.RunStatusApproved || postApproval(run.Status) {
		if run.Version == state.Version {
			return run.Status
		}
	}
	return model.RunStatusReview
}

// postApproval reports whether the status follows a fill of the snapshot.
func postApproval(st model.RunStatus) bool {
	switch st {
	case model.RunStatusFilled, model.RunStatusValidated, model.RunStatusFailed:
		return true
	}
	return false
}

func stageLogger(runID, stage string) *zap.Logger {
	return zap.L().With(zap.String("run_id", runID), zap.String("stage", stage))
}
