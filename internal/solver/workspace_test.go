package solver

import (
	"context"
	"errors"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"astrored/internal/mpc80"
)

func TestParseResult(t *testing.T) {
	text := `# fitted by test
KEP 2.7675 0.0758 10.59 80.30 73.12 -10.5
RMS 1e-6 2e-7 3e-5 4e-5 5e-5 6e-5
NOBS 42
MJD 60200.0
`
	est, err := ParseResult(strings.NewReader(text))
	if err != nil {
		t.Fatalf("expected nil error, got %v", err)
	}
	if est.SemimajorAxis.Value != 2.7675 || est.Eccentricity.Sigma != 2e-7 {
		t.Fatalf("unexpected elements %v", est)
	}
	if est.MeanAnomaly.Value != 349.5 {
		t.Fatalf("expected mean anomaly normalized to 349.5, got %v", est.MeanAnomaly.Value)
	}
	if est.Epoch != 2460200.5 {
		t.Fatalf("expected JD 2460200.5, got %v", est.Epoch)
	}
}

func TestParseResultErrors(t *testing.T) {
	cases := map[string]string{
		"missing rms": "KEP 1 0.1 1 1 1 1\nMJD 60000\n",
		"missing kep": "RMS 1 1 1 1 1 1\nMJD 60000\n",
		"missing mjd": "KEP 1 0.1 1 1 1 1\nRMS 1 1 1 1 1 1\n",
		"short kep":   "KEP 1 0.1 1\nRMS 1 1 1 1 1 1\nMJD 60000\n",
		"bad number":  "KEP 1 x 1 1 1 1\nRMS 1 1 1 1 1 1\nMJD 60000\n",
		"hyperbolic":  "KEP 1 1.2 1 1 1 1\nRMS 1 1 1 1 1 1\nMJD 60000\n",
	}
	for name, text := range cases {
		if _, err := ParseResult(strings.NewReader(text)); err == nil {
			t.Fatalf("%s: expected error", name)
		}
	}
}

func TestWorkspacePrepareAndReset(t *testing.T) {
	tmpl := t.TempDir()
	if err := os.WriteFile(filepath.Join(tmpl, "fit.cfg"), []byte("epoch 60200\n"), 0o644); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(filepath.Join(tmpl, "astrored.res"), []byte("stale"), 0o644); err != nil {
		t.Fatal(err)
	}
	if err := os.Mkdir(filepath.Join(tmpl, "sub"), 0o755); err != nil {
		t.Fatal(err)
	}

	ws, err := NewWorkspace(filepath.Join(t.TempDir(), "worker-0"), Files{})
	if err != nil {
		t.Fatalf("workspace: %v", err)
	}
	if err := ws.Prepare(tmpl); err != nil {
		t.Fatalf("prepare: %v", err)
	}
	if _, err := os.Stat(filepath.Join(ws.Dir, "fit.cfg")); err != nil {
		t.Fatalf("expected template copied: %v", err)
	}
	if _, err := os.Stat(ws.ResultPath()); !os.IsNotExist(err) {
		t.Fatalf("expected artifact-named template to be skipped")
	}

	if err := ws.WriteInput(mpc80.ObservationSet{obsIn(2020, 3)}); err != nil {
		t.Fatalf("write input: %v", err)
	}
	for _, p := range []string{ws.ResultPath(), ws.ErrorPath()} {
		if err := os.WriteFile(p, []byte("x"), 0o644); err != nil {
			t.Fatal(err)
		}
	}
	if err := ws.Reset(); err != nil {
		t.Fatalf("reset: %v", err)
	}
	for _, p := range []string{ws.InputPath(), ws.ResultPath(), ws.ErrorPath()} {
		if _, err := os.Stat(p); !os.IsNotExist(err) {
			t.Fatalf("expected %s removed", filepath.Base(p))
		}
	}
	if _, err := os.Stat(filepath.Join(ws.Dir, "fit.cfg")); err != nil {
		t.Fatalf("expected template kept after reset: %v", err)
	}
	if err := ws.Reset(); err != nil {
		t.Fatalf("expected reset of an empty workspace to succeed, got %v", err)
	}
}

func TestWorkspaceOutcome(t *testing.T) {
	ws, err := NewWorkspace(t.TempDir(), Files{Input: "in.obs"})
	if err != nil {
		t.Fatal(err)
	}
	if ws.Files.Result != DefaultFiles().Result {
		t.Fatalf("expected default result name, got %q", ws.Files.Result)
	}
	if _, err := ws.Outcome(); !errors.Is(err, ErrWorkspaceInconsistency) {
		t.Fatalf("expected ErrWorkspaceInconsistency, got %v", err)
	}
	if err := os.WriteFile(ws.ErrorPath(), []byte("too few observations\nsecond line"), 0o644); err != nil {
		t.Fatal(err)
	}
	_, err = ws.Outcome()
	if !errors.Is(err, ErrNonConvergence) || !strings.Contains(err.Error(), "too few observations") {
		t.Fatalf("expected ErrNonConvergence with message, got %v", err)
	}
	if err := os.WriteFile(ws.ResultPath(), []byte("garbage"), 0o644); err != nil {
		t.Fatal(err)
	}
	_, err = ws.Outcome()
	if !errors.Is(err, ErrUnusableResult) || errors.Is(err, ErrWorkspaceInconsistency) {
		t.Fatalf("expected ErrUnusableResult, got %v", err)
	}
	if !recoverable(err) {
		t.Fatalf("expected unusable result to be recoverable, got %v", err)
	}
}

func requireShell(t *testing.T) {
	t.Helper()
	if _, err := exec.LookPath("sh"); err != nil {
		t.Skip("sh not available")
	}
}

func TestExecSolverWritesResult(t *testing.T) {
	requireShell(t)
	ws, err := NewWorkspace(t.TempDir(), Files{})
	if err != nil {
		t.Fatal(err)
	}
	if err := ws.WriteInput(mpc80.ObservationSet{obsIn(2020, 3)}); err != nil {
		t.Fatal(err)
	}
	want := estimateFor(2020)
	script := "test -s {input} && printf '" + strings.ReplaceAll(resultText(want), "\n", `\n`) + "' > {result}"
	s := NewExecSolver("sh", []string{"-c", script}, nil)
	if st := s.Available(); !st.Available {
		t.Fatalf("expected sh to be available: %v", st.Error)
	}

	got, err := s.Solve(context.Background(), ws)
	if err != nil {
		t.Fatalf("expected nil error, got %v", err)
	}
	if got != want {
		t.Fatalf("expected %v, got %v", want, got)
	}
}

func TestExecSolverErrorArtifact(t *testing.T) {
	requireShell(t)
	ws, err := NewWorkspace(t.TempDir(), Files{})
	if err != nil {
		t.Fatal(err)
	}
	s := NewExecSolver("sh", []string{"-c", "echo diverged > {error}; exit 3"}, nil)
	if _, err := s.Solve(context.Background(), ws); !errors.Is(err, ErrNonConvergence) {
		t.Fatalf("expected ErrNonConvergence, got %v", err)
	}
}

func TestExecSolverTimeout(t *testing.T) {
	requireShell(t)
	ws, err := NewWorkspace(t.TempDir(), Files{})
	if err != nil {
		t.Fatal(err)
	}
	ctx, cancel := context.WithTimeout(context.Background(), 100*time.Millisecond)
	defer cancel()
	start := time.Now()
	_, err = NewExecSolver("sh", []string{"-c", "sleep 10"}, nil).Solve(ctx, ws)
	if !errors.Is(err, ErrSolverTimeout) {
		t.Fatalf("expected ErrSolverTimeout, got %v", err)
	}
	if time.Since(start) > 5*time.Second {
		t.Fatalf("expected the process to be killed promptly")
	}
}

func TestExecSolverMissingBinary(t *testing.T) {
	s := NewExecSolver("astrored-no-such-solver", nil, nil)
	if s.Available().Available {
		t.Fatalf("expected missing binary to be unavailable")
	}
	ws, _ := NewWorkspace(t.TempDir(), Files{})
	_, err := s.Solve(context.Background(), ws)
	if err == nil || errors.Is(err, ErrNonConvergence) {
		t.Fatalf("expected a start error, got %v", err)
	}
}
