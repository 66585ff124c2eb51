// Package control sequences the outer, pressure and non-orthogonal
// corrector loops of a time step and drives time stepping.
package control

import "fmt"

// Controls sets the number of iterations of each loop.
type Controls struct {
	NOuterCorrectors int `mapstructure:"nouter" toml:"NOuterCorrectors"`
	NCorrectors      int `mapstructure:"ncorrectors" toml:"NCorrectors"`
	// NNonOrthCorr extra passes follow the first, so the pressure equation
	// is solved NNonOrthCorr+1 times per corrector.
	NNonOrthCorr int `mapstructure:"nnonorthcorr" toml:"NNonOrthogonalCorrectors"`
}

func (c Controls) Validate() error {
	if c.NOuterCorrectors < 1 || c.NCorrectors < 1 || c.NNonOrthCorr < 0 {
		return fmt.Errorf("loop controls outer %d, correctors %d, non-orthogonal %d out of range",
			c.NOuterCorrectors, c.NCorrectors, c.NNonOrthCorr)
	}
	return nil
}

// Controller counts the nested loops of one time step:
//
//	for c.Loop() {
//		for c.CorrectPressure() {
//			for c.CorrectNonOrthogonal() { ... }
//		}
//	}
type Controller struct {
	Controls

	corr, corrPressure, corrNonOrtho int
}

func NewController(c Controls) (*Controller, error) {
	if err := c.Validate(); err != nil {
		return nil, err
	}
	return &Controller{Controls: c}, nil
}

// Reset rewinds every counter, as before the first Loop of a step.
func (c *Controller) Reset() {
	c.corr, c.corrPressure, c.corrNonOrtho = 0, 0, 0
}

// Loop advances the outer corrector and reports whether it should run.
func (c *Controller) Loop() bool {
	c.corr++
	if c.corr > c.NOuterCorrectors {
		c.corr = 0
		return false
	}
	c.corrPressure = 0
	c.corrNonOrtho = 0
	return true
}

// CorrectPressure advances the pressure corrector.
func (c *Controller) CorrectPressure() bool {
	c.corrPressure++
	if c.corrPressure > c.NCorrectors {
		c.corrPressure = 0
		return false
	}
	c.corrNonOrtho = 0
	return true
}

// CorrectNonOrthogonal advances the non-orthogonal corrector.
func (c *Controller) CorrectNonOrthogonal() bool {
	c.corrNonOrtho++
	if c.corrNonOrtho > c.NNonOrthCorr+1 {
		c.corrNonOrtho = 0
		return false
	}
	return true
}

func (c *Controller) FinalIter() bool { return c.corr == c.NOuterCorrectors }

func (c *Controller) FinalNonOrthogonalIter() bool { return c.corrNonOrtho == c.NNonOrthCorr+1 }

// FinalInnerIter is the last non-orthogonal pass of the last pressure
// corrector of the last outer iteration.
func (c *Controller) FinalInnerIter() bool {
	return c.FinalIter() && c.corrPressure == c.NCorrectors && c.FinalNonOrthogonalIter()
}

// Counters returns the current outer, pressure and non-orthogonal counts.
func (c *Controller) Counters() (outer, pressure, nonOrth int) {
	return c.corr, c.corrPressure, c.corrNonOrtho
}

// FixedPolicy runs exactly Passes non-orthogonal passes, the last one
// final. Final selects the final solver controls on that pass.
type FixedPolicy struct {
	Passes int
	Final  bool

	pass int
}

func (p *FixedPolicy) CorrectNonOrthogonal() bool {
	p.pass++
	if p.pass > p.Passes {
		p.pass = 0
		return false
	}
	return true
}

func (p *FixedPolicy) FinalNonOrthogonalIter() bool { return p.pass == p.Passes }

func (p *FixedPolicy) FinalInnerIter() bool { return p.Final && p.FinalNonOrthogonalIter() }
