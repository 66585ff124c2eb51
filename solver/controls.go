// Package solver provides iterative solvers for ldu matrices.
package solver

import (
	"errors"
	"fmt"
	"strings"
)

var (
	// ErrNotConverged is returned by callers that treat a solve that missed
	// its tolerance as fatal. Solvers themselves report it in Performance.
	ErrNotConverged = errors.New("linear solver did not converge")
	// ErrUnknownSolver is returned for an unsupported solver or preconditioner name.
	ErrUnknownSolver = errors.New("unknown linear solver")
	// ErrNoControls is returned when a field has no solver controls.
	ErrNoControls = errors.New("no solver controls")
	// ErrDiverged is returned when the residual becomes non-finite.
	ErrDiverged = errors.New("linear solver diverged")
)

// Controls configures one solve.
type Controls struct {
	Solver         string  `mapstructure:"solver" toml:"Solver"`
	Preconditioner string  `mapstructure:"preconditioner" toml:"Preconditioner"`
	Tolerance      float64 `mapstructure:"tolerance" toml:"Tolerance"`
	RelTol         float64 `mapstructure:"reltol" toml:"RelTol"`
	MaxIter        int     `mapstructure:"maxiter" toml:"MaxIter"`
	MinIter        int     `mapstructure:"miniter" toml:"MinIter"`
}

// DefaultControls returns PCG with DIC preconditioning to a tight absolute
// tolerance.
func DefaultControls() Controls {
	return Controls{
		Solver:         "PCG",
		Preconditioner: "DIC",
		Tolerance:      1e-8,
		RelTol:         0,
		MaxIter:        1000,
	}
}

// Validate checks names and limits.
func (c Controls) Validate() error {
	switch strings.ToLower(c.Solver) {
	case "pcg", "pbicgstab", "gaussseidel":
	default:
		return fmt.Errorf("%q: %w", c.Solver, ErrUnknownSolver)
	}
	switch strings.ToLower(c.Preconditioner) {
	case "", "none", "diagonal", "dic":
	default:
		return fmt.Errorf("preconditioner %q: %w", c.Preconditioner, ErrUnknownSolver)
	}
	if c.Tolerance < 0 || c.RelTol < 0 || c.RelTol >= 1 {
		return fmt.Errorf("tolerance %g, relTol %g out of range", c.Tolerance, c.RelTol)
	}
	if c.MaxIter < 1 || c.MinIter < 0 || c.MinIter > c.MaxIter {
		return fmt.Errorf("iteration limits min %d, max %d out of range", c.MinIter, c.MaxIter)
	}
	return nil
}

// Dictionary maps field names to solver controls.
type Dictionary map[string]Controls

// FinalSuffix names the controls used on the final inner iteration.
const FinalSuffix = "Final"

// Select returns the controls for name, or for name+"Final" when final is
// set and such an entry exists.
func (d Dictionary) Select(name string, final bool) (Controls, error) {
	if final {
		if c, ok := d[name+FinalSuffix]; ok {
			return c, nil
		}
	}
	c, ok := d[name]
	if !ok {
		return Controls{}, fmt.Errorf("field %q: %w", name, ErrNoControls)
	}
	return c, nil
}

// Performance records the outcome of one solve.
type Performance struct {
	Solver          string
	Field           string
	InitialResidual float64
	FinalResidual   float64
	NIterations     int
	Converged       bool
}

func (p Performance) String() string {
	return fmt.Sprintf("%s:  Solving for %s, Initial residual = %g, Final residual = %g, No Iterations %d",
		p.Solver, p.Field, p.InitialResidual, p.FinalResidual, p.NIterations)
}
