// Package config reads a simulation case from a configuration file,
// command-line flags or environment variables.
package config

import (
	"errors"
	"fmt"
	"io"
	"math"
	"strings"

	"github.com/BurntSushi/toml"
	"github.com/notargets/FVFlow/control"
	"github.com/notargets/FVFlow/partitions"
	"github.com/notargets/FVFlow/pressure"
	"github.com/notargets/FVFlow/solver"
	"github.com/spf13/cast"
	"github.com/spf13/viper"
)

// ErrInvalid is returned for a configuration that cannot describe a case.
var ErrInvalid = errors.New("invalid configuration")

// EnvPrefix prefixes environment variables, e.g. FVFLOW_TIME_DELTAT.
const EnvPrefix = "FVFLOW"

// Case is a complete simulation setup.
type Case struct {
	Mesh    MeshConfig
	Time    TimeConfig
	Physics PhysicsConfig
	Control ControlConfig
	Solvers solver.Dictionary
	Parcels ParcelsConfig
	Film    FilmConfig
}

type MeshConfig struct {
	Type              string // box or file
	File              string `toml:",omitempty"`
	NX, NY, NZ        int
	LX, LY, LZ        float64
	Skew              float64
	Partitions        int
	PartitionStrategy string
	// Outlet names a patch held at p_rgh = PRef; every other patch is a wall.
	Outlet string `toml:",omitempty"`
}

type TimeConfig struct {
	DeltaT  float64
	EndTime float64
	// WriteInterval is the number of time steps between field summaries.
	WriteInterval int
}

// PhysicsConfig describes the gas. With R > 0 the gas is ideal at
// temperature T; otherwise the density is frozen at RhoRef + Stratification·z.
type PhysicsConfig struct {
	Gravity        []float64
	R, T           float64
	Mu             float64
	RhoRef         float64
	Stratification float64
	// PRef is the initial p_rgh.
	PRef float64
}

type ControlConfig struct {
	NOuterCorrectors         int
	NCorrectors              int
	NNonOrthogonalCorrectors int
	RefCell                  int
	RefValue                 float64
	// NonConvergence is the policy for a pressure solve that misses its
	// tolerance: continue, degraded or fail.
	NonConvergence string
}

// ParcelsConfig configures a single spray injector. No parcels are
// injected when MassFlow is zero.
type ParcelsConfig struct {
	Position []float64
	Velocity []float64
	MassFlow float64
	Lifetime float64
	Start    float64
	Stop     float64
}

// FilmConfig covers Patch with an evaporating liquid film. No film is
// created when Patch is empty.
type FilmConfig struct {
	Patch     string `toml:",omitempty"`
	Rho       float64
	Thickness float64
	EvapFlux  float64
}

var defaults = map[string]interface{}{
	"Mesh.Type":              "box",
	"Mesh.NX":                4,
	"Mesh.NY":                4,
	"Mesh.NZ":                20,
	"Mesh.LX":                0.2,
	"Mesh.LY":                0.2,
	"Mesh.LZ":                1.0,
	"Mesh.Skew":              0.0,
	"Mesh.Partitions":        1,
	"Mesh.PartitionStrategy": "graph",
	"Mesh.Outlet":            "",

	"Time.DeltaT":        1e-3,
	"Time.EndTime":       0.1,
	"Time.WriteInterval": 10,

	"Physics.Gravity":        []interface{}{0.0, 0.0, -9.81},
	"Physics.R":              287.0,
	"Physics.T":              300.0,
	"Physics.Mu":             1.8e-5,
	"Physics.RhoRef":         1.0,
	"Physics.Stratification": 0.0,
	"Physics.PRef":           1e5,

	"Control.NOuterCorrectors":         1,
	"Control.NCorrectors":              2,
	"Control.NNonOrthogonalCorrectors": 0,
	"Control.RefCell":                  0,
	"Control.RefValue":                 0.0,
	"Control.NonConvergence":           "continue",

	"Parcels.Position": []interface{}{0.1, 0.1, 0.9},
	"Parcels.Velocity": []interface{}{0.0, 0.0, 0.0},
	"Parcels.MassFlow": 0.0,
	"Parcels.Lifetime": 0.05,
	"Parcels.Start":    0.0,
	"Parcels.Stop":     0.0,

	"Film.Patch":     "",
	"Film.Rho":       1000.0,
	"Film.Thickness": 1e-4,
	"Film.EvapFlux":  0.0,
}

// SetDefaults registers the default value of every key on v.
func SetDefaults(v *viper.Viper) {
	for k, val := range defaults {
		v.SetDefault(k, val)
	}
}

// New returns a viper instance with the defaults set that also reads
// FVFLOW_ environment variables.
func New() *viper.Viper {
	v := viper.New()
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	SetDefaults(v)
	return v
}

// Load reads the case file at path over the defaults.
func Load(path string) (*Case, error) {
	v := New()
	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("reading configuration file: %w", err)
		}
	}
	return FromViper(v)
}

// FromViper extracts and validates the case held by v.
func FromViper(v *viper.Viper) (*Case, error) {
	gravity, err := toFloat64SliceE(v.Get("Physics.Gravity"))
	if err != nil {
		return nil, fmt.Errorf("Physics.Gravity: %v: %w", err, ErrInvalid)
	}
	position, err := toFloat64SliceE(v.Get("Parcels.Position"))
	if err != nil {
		return nil, fmt.Errorf("Parcels.Position: %v: %w", err, ErrInvalid)
	}
	velocity, err := toFloat64SliceE(v.Get("Parcels.Velocity"))
	if err != nil {
		return nil, fmt.Errorf("Parcels.Velocity: %v: %w", err, ErrInvalid)
	}
	solvers, err := solverDictionary(v)
	if err != nil {
		return nil, err
	}
	c := &Case{
		Mesh: MeshConfig{
			Type:              strings.ToLower(v.GetString("Mesh.Type")),
			File:              v.GetString("Mesh.File"),
			NX:                v.GetInt("Mesh.NX"),
			NY:                v.GetInt("Mesh.NY"),
			NZ:                v.GetInt("Mesh.NZ"),
			LX:                v.GetFloat64("Mesh.LX"),
			LY:                v.GetFloat64("Mesh.LY"),
			LZ:                v.GetFloat64("Mesh.LZ"),
			Skew:              v.GetFloat64("Mesh.Skew"),
			Partitions:        v.GetInt("Mesh.Partitions"),
			PartitionStrategy: v.GetString("Mesh.PartitionStrategy"),
			Outlet:            v.GetString("Mesh.Outlet"),
		},
		Time: TimeConfig{
			DeltaT:        v.GetFloat64("Time.DeltaT"),
			EndTime:       v.GetFloat64("Time.EndTime"),
			WriteInterval: v.GetInt("Time.WriteInterval"),
		},
		Physics: PhysicsConfig{
			Gravity:        gravity,
			R:              v.GetFloat64("Physics.R"),
			T:              v.GetFloat64("Physics.T"),
			Mu:             v.GetFloat64("Physics.Mu"),
			RhoRef:         v.GetFloat64("Physics.RhoRef"),
			Stratification: v.GetFloat64("Physics.Stratification"),
			PRef:           v.GetFloat64("Physics.PRef"),
		},
		Control: ControlConfig{
			NOuterCorrectors:         v.GetInt("Control.NOuterCorrectors"),
			NCorrectors:              v.GetInt("Control.NCorrectors"),
			NNonOrthogonalCorrectors: v.GetInt("Control.NNonOrthogonalCorrectors"),
			RefCell:                  v.GetInt("Control.RefCell"),
			RefValue:                 v.GetFloat64("Control.RefValue"),
			NonConvergence:           strings.ToLower(v.GetString("Control.NonConvergence")),
		},
		Solvers: solvers,
		Parcels: ParcelsConfig{
			Position: position,
			Velocity: velocity,
			MassFlow: v.GetFloat64("Parcels.MassFlow"),
			Lifetime: v.GetFloat64("Parcels.Lifetime"),
			Start:    v.GetFloat64("Parcels.Start"),
			Stop:     v.GetFloat64("Parcels.Stop"),
		},
		Film: FilmConfig{
			Patch:     v.GetString("Film.Patch"),
			Rho:       v.GetFloat64("Film.Rho"),
			Thickness: v.GetFloat64("Film.Thickness"),
			EvapFlux:  v.GetFloat64("Film.EvapFlux"),
		},
	}
	if err = c.Validate(); err != nil {
		return nil, err
	}
	return c, nil
}

// solverDictionary reads the Solvers table. Viper lowercases keys, so the
// Final suffix is restored here; a missing p_rgh entry gets the defaults.
func solverDictionary(v *viper.Viper) (solver.Dictionary, error) {
	d := solver.Dictionary{}
	suffix := strings.ToLower(solver.FinalSuffix)
	for key, raw := range v.GetStringMap("Solvers") {
		entry, err := cast.ToStringMapE(raw)
		if err != nil {
			return nil, fmt.Errorf("Solvers.%s: %v: %w", key, err, ErrInvalid)
		}
		ctrl, err := solverControls(entry)
		if err != nil {
			return nil, fmt.Errorf("Solvers.%s: %v: %w", key, err, ErrInvalid)
		}
		name := key
		if strings.HasSuffix(key, suffix) {
			name = strings.TrimSuffix(key, suffix) + solver.FinalSuffix
		}
		d[name] = ctrl
	}
	if _, ok := d["p_rgh"]; !ok {
		d["p_rgh"] = solver.DefaultControls()
	}
	return d, nil
}

func solverControls(entry map[string]interface{}) (solver.Controls, error) {
	ctrl := solver.DefaultControls()
	for k, val := range entry {
		var err error
		switch strings.ToLower(k) {
		case "solver":
			ctrl.Solver, err = cast.ToStringE(val)
		case "preconditioner":
			ctrl.Preconditioner, err = cast.ToStringE(val)
		case "tolerance":
			ctrl.Tolerance, err = cast.ToFloat64E(val)
		case "reltol":
			ctrl.RelTol, err = cast.ToFloat64E(val)
		case "maxiter":
			ctrl.MaxIter, err = cast.ToIntE(val)
		case "miniter":
			ctrl.MinIter, err = cast.ToIntE(val)
		default:
			err = fmt.Errorf("unknown key %q", k)
		}
		if err != nil {
			return ctrl, err
		}
	}
	return ctrl, nil
}

// toFloat64SliceE accepts a TOML or JSON array, or a comma separated
// string as given on the command line.
func toFloat64SliceE(i interface{}) ([]float64, error) {
	switch s := i.(type) {
	case []float64:
		return s, nil
	case string:
		var out []float64
		for _, f := range strings.Split(strings.Trim(s, "[] "), ",") {
			v, err := cast.ToFloat64E(strings.TrimSpace(f))
			if err != nil {
				return nil, err
			}
			out = append(out, v)
		}
		return out, nil
	}
	items, err := cast.ToSliceE(i)
	if err != nil {
		return nil, err
	}
	out := make([]float64, len(items))
	for j, item := range items {
		if out[j], err = cast.ToFloat64E(item); err != nil {
			return nil, err
		}
	}
	return out, nil
}

func invalid(format string, args ...interface{}) error {
	return fmt.Errorf("%s: %w", fmt.Sprintf(format, args...), ErrInvalid)
}

func finite(vals ...float64) bool {
	for _, v := range vals {
		if math.IsNaN(v) || math.IsInf(v, 0) {
			return false
		}
	}
	return true
}

// Validate checks every section of the case.
func (c *Case) Validate() error {
	m := c.Mesh
	switch m.Type {
	case "box":
		if m.NX < 1 || m.NY < 1 || m.NZ < 1 {
			return invalid("Mesh: box dimensions %d×%d×%d", m.NX, m.NY, m.NZ)
		}
		if !(m.LX > 0 && m.LY > 0 && m.LZ > 0) || !finite(m.Skew) {
			return invalid("Mesh: box extents %g×%g×%g, skew %g", m.LX, m.LY, m.LZ, m.Skew)
		}
	case "file":
		if m.File == "" {
			return invalid("Mesh.File is required for a file mesh")
		}
	default:
		return invalid("Mesh.Type %q is not box or file", m.Type)
	}
	if m.Partitions < 1 {
		return invalid("Mesh.Partitions=%d but should be >0", m.Partitions)
	}
	if _, err := partitions.ParseStrategy(m.PartitionStrategy); err != nil {
		return invalid("Mesh.PartitionStrategy: %v", err)
	}

	t := c.Time
	if !(t.DeltaT > 0) || !finite(t.DeltaT) {
		return invalid("Time.DeltaT=%g but should be >0", t.DeltaT)
	}
	if !(t.EndTime >= 0) || !finite(t.EndTime) {
		return invalid("Time.EndTime=%g but should be >=0", t.EndTime)
	}
	if t.WriteInterval < 0 {
		return invalid("Time.WriteInterval=%d but should be >=0", t.WriteInterval)
	}

	p := c.Physics
	if len(p.Gravity) != 3 || !finite(p.Gravity...) {
		return invalid("Physics.Gravity should have three finite components, got %v", p.Gravity)
	}
	if p.R > 0 {
		if !(p.T > 0) {
			return invalid("Physics.T=%g but should be >0 for a perfect gas", p.T)
		}
	} else if !(p.RhoRef > 0) {
		return invalid("Physics.RhoRef=%g but should be >0 for a frozen density", p.RhoRef)
	}
	if p.Mu < 0 || !finite(p.Mu, p.Stratification, p.PRef, p.RhoRef, p.R, p.T) {
		return invalid("Physics: viscosity %g, stratification %g, reference pressure %g",
			p.Mu, p.Stratification, p.PRef)
	}

	if err := c.LoopControls().Validate(); err != nil {
		return invalid("Control: %v", err)
	}
	if c.Control.RefCell < 0 {
		return invalid("Control.RefCell=%d but should be >=0", c.Control.RefCell)
	}
	if _, err := pressure.ParseNonConvergence(c.Control.NonConvergence); err != nil {
		return invalid("Control.NonConvergence: %v", err)
	}

	for name, ctrl := range c.Solvers {
		if err := ctrl.Validate(); err != nil {
			return invalid("Solvers.%s: %v", name, err)
		}
	}

	pc := c.Parcels
	if pc.MassFlow < 0 || pc.Lifetime < 0 || pc.Start < 0 || pc.Stop < 0 {
		return invalid("Parcels: mass flow %g, lifetime %g, start %g, stop %g must not be negative",
			pc.MassFlow, pc.Lifetime, pc.Start, pc.Stop)
	}
	if pc.MassFlow > 0 && (len(pc.Position) != 3 || len(pc.Velocity) != 3) {
		return invalid("Parcels: position %v and velocity %v need three components", pc.Position, pc.Velocity)
	}

	if f := c.Film; f.Patch != "" && (!(f.Rho > 0) || f.Thickness < 0 || f.EvapFlux < 0) {
		return invalid("Film: density %g, thickness %g, evaporation flux %g out of range",
			f.Rho, f.Thickness, f.EvapFlux)
	}
	return nil
}

// LoopControls returns the corrector loop counts.
func (c *Case) LoopControls() control.Controls {
	return control.Controls{
		NOuterCorrectors: c.Control.NOuterCorrectors,
		NCorrectors:      c.Control.NCorrectors,
		NNonOrthCorr:     c.Control.NNonOrthogonalCorrectors,
	}
}

// NonConvergence returns the policy named by Control.NonConvergence. An
// unknown name, which Validate rejects, gives pressure.Continue.
func (c *Case) NonConvergence() pressure.NonConvergence {
	n, _ := pressure.ParseNonConvergence(c.Control.NonConvergence)
	return n
}

// Write encodes the case as TOML.
func (c *Case) Write(w io.Writer) error {
	return toml.NewEncoder(w).Encode(c)
}
