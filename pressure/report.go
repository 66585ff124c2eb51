package pressure

import (
	"fmt"
	"strings"

	"github.com/notargets/FVFlow/solver"
	"github.com/notargets/FVFlow/thermo"
)

// NonConvergence selects what Correct does when a pressure solve misses its
// tolerance.
type NonConvergence uint8

const (
	Continue       NonConvergence = iota // Log a warning and carry on
	ReportDegraded                       // Carry on and mark the report degraded
	Fail                                 // Return solver.ErrNotConverged, fields untouched
)

func (n NonConvergence) String() string {
	switch n {
	case Continue:
		return "continue"
	case ReportDegraded:
		return "degraded"
	case Fail:
		return "fail"
	}
	return fmt.Sprintf("NonConvergence(%d)", uint8(n))
}

// ParseNonConvergence accepts the names printed by String.
func ParseNonConvergence(s string) (NonConvergence, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "continue":
		return Continue, nil
	case "degraded", "reportdegraded", "report":
		return ReportDegraded, nil
	case "fail", "error":
		return Fail, nil
	}
	return Continue, fmt.Errorf("unknown non-convergence policy %q", s)
}

// Report is the outcome of one pressure correction.
type Report struct {
	Solves            []solver.Performance
	NonOrthIterations int
	Continuity        thermo.ContinuityErrors
	// Degraded is set under ReportDegraded when a solve did not converge.
	Degraded bool
}

// Converged reports whether every solve met its tolerance.
func (r *Report) Converged() bool {
	for _, s := range r.Solves {
		if !s.Converged {
			return false
		}
	}
	return true
}

// Final returns the performance of the last solve.
func (r *Report) Final() (solver.Performance, bool) {
	if len(r.Solves) == 0 {
		return solver.Performance{}, false
	}
	return r.Solves[len(r.Solves)-1], true
}

// InitialResidual is the initial residual of the first solve, the usual
// measure of outer-loop convergence.
func (r *Report) InitialResidual() float64 {
	if len(r.Solves) == 0 {
		return 0
	}
	return r.Solves[0].InitialResidual
}
