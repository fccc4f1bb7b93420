package solver

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"astrored/internal/fsutil"
	"astrored/internal/mpc80"
	"astrored/internal/orbit"
)

// Files names the artifacts exchanged with the external solver.
type Files struct {
	Input  string `json:"input" yaml:"input"`
	Result string `json:"result" yaml:"result"`
	Error  string `json:"error" yaml:"error"`
}

// DefaultFiles returns the artifact names used when none are configured.
func DefaultFiles() Files {
	return Files{Input: "astrored.obs", Result: "astrored.res", Error: "astrored.err"}
}

func (f Files) withDefaults() Files {
	d := DefaultFiles()
	if f.Input == "" {
		f.Input = d.Input
	}
	if f.Result == "" {
		f.Result = d.Result
	}
	if f.Error == "" {
		f.Error = d.Error
	}
	return f
}

// Workspace is a scratch directory owned by one Driver. It holds the
// solver's template configuration alongside the per-attempt artifacts.
type Workspace struct {
	Dir   string
	Files Files
}

// NewWorkspace creates dir if needed. Empty artifact names take defaults.
func NewWorkspace(dir string, files Files) (*Workspace, error) {
	if dir == "" {
		return nil, fmt.Errorf("workspace directory not set")
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create workspace: %w", err)
	}
	return &Workspace{Dir: dir, Files: files.withDefaults()}, nil
}

func (w *Workspace) InputPath() string  { return filepath.Join(w.Dir, w.Files.Input) }
func (w *Workspace) ResultPath() string { return filepath.Join(w.Dir, w.Files.Result) }
func (w *Workspace) ErrorPath() string  { return filepath.Join(w.Dir, w.Files.Error) }

func (w *Workspace) isArtifact(name string) bool {
	return name == w.Files.Input || name == w.Files.Result || name == w.Files.Error
}

// Prepare copies the regular files of templateDir into the workspace.
// Subdirectories and files named like an artifact are skipped. An empty
// templateDir is a no-op.
func (w *Workspace) Prepare(templateDir string) error {
	if templateDir == "" {
		return nil
	}
	entries, err := os.ReadDir(templateDir)
	if err != nil {
		return fmt.Errorf("read solver templates: %w", err)
	}
	for _, e := range entries {
		if !e.Type().IsRegular() || w.isArtifact(e.Name()) {
			continue
		}
		if err := fsutil.CopyFile(filepath.Join(templateDir, e.Name()), filepath.Join(w.Dir, e.Name())); err != nil {
			return fmt.Errorf("copy template %s: %w", e.Name(), err)
		}
	}
	return nil
}

// Reset removes the input, result and error artifacts so no attempt can
// observe output left by a previous one. Template files are kept.
func (w *Workspace) Reset() error {
	for _, p := range []string{w.InputPath(), w.ResultPath(), w.ErrorPath()} {
		if err := fsutil.RemoveIfExists(p); err != nil {
			return fmt.Errorf("%w: reset %s: %v", ErrWorkspaceInconsistency, filepath.Base(p), err)
		}
	}
	return nil
}

// WriteInput encodes set into the observation input file.
func (w *Workspace) WriteInput(set mpc80.ObservationSet) error {
	return mpc80.WriteFile(w.InputPath(), set)
}

// ReadInput decodes the observation input file.
func (w *Workspace) ReadInput() (mpc80.ObservationSet, error) {
	return mpc80.ReadFile(w.InputPath(), mpc80.Decoder{})
}

// Outcome inspects the artifacts of a finished solver run. A result file
// yields its estimate, or ErrUnusableResult when it does not parse. An
// error file yields ErrNonConvergence carrying the file's text. Neither
// yields ErrWorkspaceInconsistency.
func (w *Workspace) Outcome() (orbit.Estimate, error) {
	if f, err := os.Open(w.ResultPath()); err == nil {
		defer f.Close()
		est, err := ParseResult(f)
		if err != nil {
			return orbit.Estimate{}, fmt.Errorf("%w: %s: %v", ErrUnusableResult, w.Files.Result, err)
		}
		return est, nil
	} else if !os.IsNotExist(err) {
		return orbit.Estimate{}, fmt.Errorf("%w: %v", ErrWorkspaceInconsistency, err)
	}

	b, err := os.ReadFile(w.ErrorPath())
	if err == nil {
		msg := strings.TrimSpace(string(b))
		if msg == "" {
			return orbit.Estimate{}, ErrNonConvergence
		}
		return orbit.Estimate{}, fmt.Errorf("%w: %s", ErrNonConvergence, firstLine(msg))
	}
	if !os.IsNotExist(err) {
		return orbit.Estimate{}, fmt.Errorf("%w: %v", ErrWorkspaceInconsistency, err)
	}
	return orbit.Estimate{}, fmt.Errorf("%w: neither %s nor %s produced", ErrWorkspaceInconsistency, w.Files.Result, w.Files.Error)
}

func firstLine(s string) string {
	if i := strings.IndexByte(s, '\n'); i >= 0 {
		return s[:i]
	}
	return s
}
