package store

import (
	"encoding/json"
	"errors"
	"io/fs"
	"os"
	"path/filepath"
	"regexp"

	"github.com/rotisserie/eris"

	"github.com/sells-group/intake-cli/internal/model"
)

// Artifact file names inside a run directory.
const (
	FieldsFile     = "fields.json"
	SummaryFile    = "review_summary.json"
	CanonicalFile  = "canonical.json"
	FillReportFile = "fill_report.json"
	ValidationFile = "validation_report.json"
)

var reRunID = regexp.MustCompile(`^[A-Za-z0-9][A-Za-z0-9_-]{0,127}$`)

// ErrInvalidRunID is returned for run ids that cannot name a directory.
var ErrInvalidRunID = eris.New("invalid run id")

// Files keeps one directory of JSON artifacts per run under a root
// directory. Writes are atomic: a temp file is renamed into place.
type Files struct {
	root string
}

// NewFiles creates the root directory if needed.
func NewFiles(root string) (*Files, error) {
	if err := os.MkdirAll(root, 0o755); err != nil {
		return nil, eris.Wrapf(err, "files: create root %s", root)
	}
	return &Files{root: root}, nil
}

// Root returns the root directory.
func (f *Files) Root() string { return f.root }

// RunDir returns the directory of a run.
func (f *Files) RunDir(runID string) (string, error) {
	if !reRunID.MatchString(runID) {
		return "", eris.Wrapf(ErrInvalidRunID, "files: %q", runID)
	}
	return filepath.Join(f.root, runID), nil
}

// Exists reports whether the run has a field map on disk.
func (f *Files) Exists(runID string) bool {
	dir, err := f.RunDir(runID)
	if err != nil {
		return false
	}
	_, err = os.Stat(filepath.Join(dir, FieldsFile))
	return err == nil
}

func (f *Files) write(runID, name string, v any) error {
	dir, err := f.RunDir(runID)
	if err != nil {
		return err
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return eris.Wrapf(err, "files: create run dir %s", runID)
	}
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return eris.Wrapf(err, "files: marshal %s", name)
	}

	tmp, err := os.CreateTemp(dir, "."+name+".*")
	if err != nil {
		return eris.Wrapf(err, "files: temp for %s", name)
	}
	defer os.Remove(tmp.Name()) //nolint:errcheck

	if _, err := tmp.Write(append(data, '\n')); err != nil {
		tmp.Close() //nolint:errcheck
		return eris.Wrapf(err, "files: write %s", name)
	}
	if err := tmp.Close(); err != nil {
		return eris.Wrapf(err, "files: close %s", name)
	}
	if err := os.Rename(tmp.Name(), filepath.Join(dir, name)); err != nil {
		return eris.Wrapf(err, "files: rename %s", name)
	}
	return nil
}

// read decodes an artifact into v. A missing file reports found=false.
func (f *Files) read(runID, name string, v any) (bool, error) {
	dir, err := f.RunDir(runID)
	if err != nil {
		return false, err
	}
	data, err := os.ReadFile(filepath.Join(dir, name))
	if errors.Is(err, fs.ErrNotExist) {
		return false, nil
	}
	if err != nil {
		return false, eris.Wrapf(err, "files: read %s/%s", runID, name)
	}
	if err := json.Unmarshal(data, v); err != nil {
		return false, eris.Wrapf(err, "files: decode %s/%s", runID, name)
	}
	return true, nil
}

// SaveState writes the field map document.
func (f *Files) SaveState(state *model.RunState) error {
	return f.write(state.RunID, FieldsFile, state)
}

// LoadState reads the field map document. A run without one is
// model.ErrRunNotFound.
func (f *Files) LoadState(runID string) (*model.RunState, error) {
	var state model.RunState
	found, err := f.read(runID, FieldsFile, &state)
	if err != nil {
		return nil, err
	}
	if !found {
		return nil, eris.Wrapf(model.ErrRunNotFound, "files: run %s", runID)
	}
	if state.Fields == nil {
		state.Fields = model.FieldMap{}
	}
	return &state, nil
}

// SaveSummary writes the review summary.
func (f *Files) SaveSummary(runID string, s model.ReviewSummary) error {
	return f.write(runID, SummaryFile, s)
}

// LoadSummary reads the review summary, or nil when none was written.
func (f *Files) LoadSummary(runID string) (*model.ReviewSummary, error) {
	var s model.ReviewSummary
	found, err := f.read(runID, SummaryFile, &s)
	if err != nil || !found {
		return nil, err
	}
	return &s, nil
}

// SaveCanonical writes the canonical snapshot.
func (f *Files) SaveCanonical(c *model.CanonicalFields) error {
	return f.write(c.RunID, CanonicalFile, c)
}

// LoadCanonical reads the canonical snapshot, or nil when the run was never
// approved.
func (f *Files) LoadCanonical(runID string) (*model.CanonicalFields, error) {
	var c model.CanonicalFields
	found, err := f.read(runID, CanonicalFile, &c)
	if err != nil || !found {
		return nil, err
	}
	return &c, nil
}

// SaveFillReport writes the form-filling report.
func (f *Files) SaveFillReport(r *model.FillReport) error {
	return f.write(r.RunID, FillReportFile, r)
}

// LoadFillReport reads the form-filling report, or nil when none exists.
func (f *Files) LoadFillReport(runID string) (*model.FillReport, error) {
	var r model.FillReport
	found, err := f.read(runID, FillReportFile, &r)
	if err != nil || !found {
		return nil, err
	}
	return &r, nil
}

// SaveValidation writes the post-fill validation report.
func (f *Files) SaveValidation(r *model.ValidationReport) error {
	return f.write(r.RunID, ValidationFile, r)
}

// LoadValidation reads the post-fill validation report, or nil when none
// exists.
func (f *Files) LoadValidation(runID string) (*model.ValidationReport, error) {
	var r model.ValidationReport
	found, err := f.read(runID, ValidationFile, &r)
	if err != nil || !found {
		return nil, err
	}
	return &r, nil
}
