package control

import (
	"fmt"

	"github.com/notargets/FVFlow/field"
	"github.com/notargets/FVFlow/momentum"
	"github.com/notargets/FVFlow/ops"
	"github.com/notargets/FVFlow/pressure"
	"github.com/notargets/FVFlow/sources"
	"github.com/notargets/FVFlow/thermo"
	"github.com/sirupsen/logrus"
)

// Stepper advances the coupled fields in time.
type Stepper struct {
	Ops      *ops.Algebra
	Control  *Controller
	Pressure *pressure.Corrector
	Density  *thermo.Continuity
	Fields   *pressure.Fields
	Cloud    *sources.Cloud // Optional
	Film     *sources.Film  // Optional
	Mu       float64
	DeltaT   float64
	Time     float64
	Log      logrus.FieldLogger
}

// StepReport collects the pressure reports of one time step.
type StepReport struct {
	Time        float64
	Corrections []*pressure.Report
}

// Degraded reports whether any correction of the step was degraded.
func (r *StepReport) Degraded() bool {
	for _, c := range r.Corrections {
		if c.Degraded {
			return true
		}
	}
	return false
}

// Last returns the report of the final correction.
func (r *StepReport) Last() *pressure.Report {
	if len(r.Corrections) == 0 {
		return nil
	}
	return r.Corrections[len(r.Corrections)-1]
}

func (s *Stepper) logger() logrus.FieldLogger {
	if s.Log == nil {
		return logrus.StandardLogger()
	}
	return s.Log
}

func (s *Stepper) storeOld() {
	f := s.Fields
	f.P.StoreOld()
	f.PRgh.StoreOld()
	f.Rho.StoreOld()
	f.Psi.StoreOld()
	f.U.StoreOld()
	f.Phi.StoreOld()
}

// checkpoint holds everything a step changes.
type checkpoint struct {
	time       float64
	cumulative float64
	scalars    map[*field.VolScalar]*field.VolScalar
	U          *field.VolVector
	phi        *field.SurfaceScalar
	cloud      *sources.CloudState
	film       *sources.FilmState
}

func (s *Stepper) save() *checkpoint {
	f := s.Fields
	cp := &checkpoint{
		time:       s.Time,
		cumulative: s.Density.Cumulative(),
		scalars:    make(map[*field.VolScalar]*field.VolScalar),
		U:          f.U.Checkpoint(),
		phi:        f.Phi.Checkpoint(),
	}
	for _, v := range []*field.VolScalar{f.P, f.PRgh, f.Rho, f.Psi, f.K, f.Dpdt} {
		if v != nil {
			cp.scalars[v] = v.Checkpoint()
		}
	}
	if s.Cloud != nil {
		st := s.Cloud.Save()
		cp.cloud = &st
	}
	if s.Film != nil {
		st := s.Film.Save()
		cp.film = &st
	}
	return cp
}

func (s *Stepper) restore(cp *checkpoint) error {
	s.Time = cp.time
	s.Density.SetCumulative(cp.cumulative)
	s.Control.Reset()
	for v, c := range cp.scalars {
		if err := v.Restore(c); err != nil {
			return err
		}
	}
	if err := s.Fields.U.Restore(cp.U); err != nil {
		return err
	}
	if err := s.Fields.Phi.Restore(cp.phi); err != nil {
		return err
	}
	if cp.cloud != nil {
		s.Cloud.Restore(*cp.cloud)
	}
	if cp.film != nil {
		s.Film.Restore(*cp.film)
	}
	return nil
}

// Step advances one time step: store the old levels, evolve the film and
// the parcels, then run the outer and pressure correctors. A failed step
// leaves the fields, the sources and Time as they were, so it can be
// retried with a different DeltaT.
func (s *Stepper) Step() (*StepReport, error) {
	if s.Ops == nil || s.Control == nil || s.Pressure == nil || s.Density == nil || s.Fields == nil {
		return nil, fmt.Errorf("stepper is not fully configured")
	}
	if s.DeltaT <= 0 {
		return nil, fmt.Errorf("invalid time step %g", s.DeltaT)
	}
	cp := s.save()
	report, err := s.advance()
	if err != nil {
		if rerr := s.restore(cp); rerr != nil {
			return report, fmt.Errorf("%v; undoing the step: %w", err, rerr)
		}
		return report, err
	}
	return report, nil
}

func (s *Stepper) advance() (*StepReport, error) {
	f := s.Fields
	s.storeOld()
	s.Time += s.DeltaT
	report := &StepReport{Time: s.Time}
	log := s.logger().WithField("time", s.Time)

	if s.Film != nil {
		if err := s.Film.Evolve(s.DeltaT); err != nil {
			return nil, fmt.Errorf("film: %w", err)
		}
	}
	if s.Cloud != nil {
		if err := s.Cloud.Evolve(s.Time, s.DeltaT); err != nil {
			return nil, fmt.Errorf("parcels: %w", err)
		}
	}

	for s.Control.Loop() {
		if err := s.Density.UpdatePsi(f.P, f.Psi); err != nil {
			return nil, err
		}
		for s.Control.CorrectPressure() {
			in := momentum.Inputs{
				Rho:    f.Rho,
				Rho0:   f.Rho.Old(),
				U:      f.U,
				Phi:    f.Phi,
				Mu:     s.Mu,
				DeltaT: s.DeltaT,
			}
			if s.Cloud != nil {
				in.SU = s.Cloud.SU()
			}
			eq, err := momentum.Assemble(s.Ops, in)
			if err != nil {
				return nil, err
			}
			rep, err := s.Pressure.Correct(f, eq, s.Control, s.DeltaT)
			if err != nil {
				return report, err
			}
			report.Corrections = append(report.Corrections, rep)
		}
	}

	if last := report.Last(); last != nil {
		log.WithFields(logrus.Fields{
			"corrections": len(report.Corrections),
			"p_rgh":       last.InitialResidual(),
			"cumulative":  last.Continuity.Cumulative,
			"degraded":    report.Degraded(),
		}).Info("time step done")
	}
	return report, nil
}

// Run takes steps until endTime, calling each after every step if it is
// not nil.
func (s *Stepper) Run(endTime float64, each func(*StepReport) error) error {
	const eps = 1e-9
	for s.Time+eps*s.DeltaT < endTime {
		rep, err := s.Step()
		if err != nil {
			return fmt.Errorf("step from t = %g: %w", s.Time, err)
		}
		if each != nil {
			if err = each(rep); err != nil {
				return err
			}
		}
	}
	return nil
}
