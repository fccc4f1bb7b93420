package solver

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os/exec"
	"strings"
	"time"

	"astrored/internal/orbit"
)

// OrbitSolver fits one orbit to the observation input already written to
// the workspace. Implementations report failure with ErrNonConvergence.
type OrbitSolver interface {
	Solve(ctx context.Context, ws *Workspace) (orbit.Estimate, error)
}

// ToolStatus represents the availability of the solver binary.
type ToolStatus struct {
	Available bool
	Version   string
	Path      string
	Error     error
}

// ExecSolver runs an external orbit fitting binary inside the workspace.
// Arguments may reference the artifacts as {input}, {result} and {error}.
type ExecSolver struct {
	Binary string
	Args   []string
	Logger *slog.Logger
}

func NewExecSolver(binary string, args []string, logger *slog.Logger) *ExecSolver {
	if logger == nil {
		logger = slog.Default()
	}
	return &ExecSolver{Binary: binary, Args: args, Logger: logger}
}

// Available checks that the binary can be found on PATH.
func (s *ExecSolver) Available() ToolStatus {
	if s.Binary == "" {
		return ToolStatus{Error: errors.New("solver binary not configured")}
	}
	path, err := exec.LookPath(s.Binary)
	if err != nil {
		return ToolStatus{Error: err}
	}
	return ToolStatus{Available: true, Path: path}
}

func (s *ExecSolver) args(ws *Workspace) []string {
	r := strings.NewReplacer(
		"{input}", ws.Files.Input,
		"{result}", ws.Files.Result,
		"{error}", ws.Files.Error,
		"{dir}", ws.Dir,
	)
	out := make([]string, len(s.Args))
	for i, a := range s.Args {
		out[i] = r.Replace(a)
	}
	return out
}

// Solve blocks until the binary exits, then reads the workspace artifacts.
// The exit status is logged but not trusted; only the artifacts decide
// success. When ctx expires the process is killed and ErrSolverTimeout
// is returned.
func (s *ExecSolver) Solve(ctx context.Context, ws *Workspace) (orbit.Estimate, error) {
	start := time.Now()
	cmd := exec.CommandContext(ctx, s.Binary, s.args(ws)...)
	cmd.Dir = ws.Dir
	cmd.WaitDelay = 2 * time.Second

	output, err := cmd.CombinedOutput()
	if ctxErr := ctx.Err(); ctxErr != nil {
		if errors.Is(ctxErr, context.DeadlineExceeded) {
			return orbit.Estimate{}, fmt.Errorf("%w: %s killed after %s", ErrSolverTimeout, s.Binary, time.Since(start).Round(time.Millisecond))
		}
		return orbit.Estimate{}, ctxErr
	}
	if err != nil {
		var exitErr *exec.ExitError
		if !errors.As(err, &exitErr) {
			return orbit.Estimate{}, fmt.Errorf("run %s: %w", s.Binary, err)
		}
		s.Logger.Debug("solver exited with status",
			"binary", s.Binary,
			"code", exitErr.ExitCode(),
			"output", tail(output, 512),
		)
	}
	return ws.Outcome()
}

func tail(b []byte, n int) string {
	if len(b) > n {
		b = b[len(b)-n:]
	}
	return strings.TrimSpace(string(b))
}
