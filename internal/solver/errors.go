package solver

import "errors"

var (
	// ErrNonConvergence means the solver left an error artifact. It is
	// recoverable: the attempt is recorded and skipped.
	ErrNonConvergence = errors.New("solver did not converge")

	// ErrNoConvergentOrbit means no attempt produced a usable estimate.
	ErrNoConvergentOrbit = errors.New("no convergent orbit")

	// ErrUnusableResult means the solver left a result artifact that does
	// not parse into a bound orbit. It is recoverable like ErrNonConvergence.
	ErrUnusableResult = errors.New("solver result unusable")

	// ErrWorkspaceInconsistency means the workspace could not be reset or
	// the solver left neither a result nor an error artifact.
	ErrWorkspaceInconsistency = errors.New("solver workspace inconsistent")

	// ErrSolverTimeout means the solver process was killed at its deadline.
	ErrSolverTimeout = errors.New("solver timed out")
)

// recoverable reports whether a failed attempt lets the driver move on.
func recoverable(err error) bool {
	return errors.Is(err, ErrNonConvergence) ||
		errors.Is(err, ErrUnusableResult) ||
		errors.Is(err, ErrSolverTimeout)
}
