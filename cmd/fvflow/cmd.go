package main

import (
	"fmt"
	"math"

	"github.com/notargets/FVFlow/config"
	"github.com/notargets/FVFlow/control"
	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"
	"gonum.org/v1/gonum/floats"
)

// Cfg holds the configuration assembled from defaults, the case file,
// FVFLOW_ environment variables and flags.
var Cfg *viper.Viper

type option struct {
	name       string
	usage      string
	defaultVal interface{}
	flagsets   []*pflag.FlagSet
}

// Root is the main command.
var Root = &cobra.Command{
	Use:   "fvflow",
	Short: "A finite-volume solver for buoyant compressible flow.",
	Long: `fvflow solves buoyant compressible flow on polyhedral meshes with a
pressure-based segregated algorithm, including evaporating sprays and films.

Configuration is read from a case file (--config, TOML, YAML or JSON), from
environment variables in the form FVFLOW_SECTION_KEY (e.g. FVFLOW_TIME_DELTAT)
and from the flags below. Use "fvflow config" to print the effective case.`,
	SilenceUsage:      true,
	DisableAutoGenTag: true,
	PersistentPreRunE: func(*cobra.Command, []string) error { return setup() },
}

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print the version number",
	Run: func(cmd *cobra.Command, args []string) {
		fmt.Fprintf(cmd.OutOrStdout(), "fvflow v%s\n", Version)
	},
	DisableAutoGenTag: true,
}

var configCmd = &cobra.Command{
	Use:   "config",
	Short: "Print the effective case configuration as TOML",
	RunE: func(cmd *cobra.Command, args []string) error {
		c, err := config.FromViper(Cfg)
		if err != nil {
			return err
		}
		return c.Write(cmd.OutOrStdout())
	},
	DisableAutoGenTag: true,
}

var meshCmd = &cobra.Command{
	Use:   "mesh",
	Short: "Build the mesh and its partitions and report their quality",
	RunE: func(cmd *cobra.Command, args []string) error {
		c, err := config.FromViper(Cfg)
		if err != nil {
			return err
		}
		m, err := c.BuildMesh()
		if err != nil {
			return err
		}
		s, err := c.BuildSchedule(m)
		if err != nil {
			return err
		}
		maxAngle, avgAngle := m.NonOrthogonality()
		st := s.Layout.PartitionStatistics()
		out := cmd.OutOrStdout()
		fmt.Fprintf(out, "cells %d, internal faces %d, boundary faces %d, volume %g\n",
			m.NCells, m.NInternalFaces, m.NBoundaryFaces(), m.TotalVolume())
		for _, p := range m.Patches {
			fmt.Fprintf(out, "patch %-8s faces %d\n", p.Name, p.Size)
		}
		fmt.Fprintf(out, "non-orthogonality max %.2f°, average %.2f°\n", maxAngle, avgAngle)
		fmt.Fprintf(out, "partitions %d, cells min %d, max %d, imbalance %.3f\n",
			st.NumPartitions, st.MinCells, st.MaxCells, st.Imbalance)
		fmt.Fprintf(out, "interface faces %d in %d rounds\n",
			len(s.Connector.InterfaceFaces), len(s.Connector.InterfaceRounds))
		return nil
	},
	DisableAutoGenTag: true,
}

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Run a case to its end time",
	RunE: func(cmd *cobra.Command, args []string) error {
		c, err := config.FromViper(Cfg)
		if err != nil {
			return err
		}
		log := logrus.StandardLogger()
		sim, err := c.Build(log)
		if err != nil {
			return err
		}
		var steps int
		return sim.Stepper.Run(c.Time.EndTime, func(r *control.StepReport) error {
			steps++
			if c.Time.WriteInterval > 0 && steps%c.Time.WriteInterval == 0 {
				logSummary(log, sim, r)
			}
			return nil
		})
	},
	DisableAutoGenTag: true,
}

func logSummary(log logrus.FieldLogger, sim *config.Simulation, r *control.StepReport) {
	f := sim.Fields
	speed := make([]float64, len(f.U.Internal))
	for i, magSqr := range sim.Ops.MagSqr(f.U) {
		speed[i] = math.Sqrt(magSqr)
	}
	fields := logrus.Fields{
		"time":     r.Time,
		"p_rgh":    fmt.Sprintf("[%g, %g]", floats.Min(f.PRgh.Internal), floats.Max(f.PRgh.Internal)),
		"rho":      fmt.Sprintf("[%g, %g]", floats.Min(f.Rho.Internal), floats.Max(f.Rho.Internal)),
		"maxU":     floats.Max(speed),
		"gas mass": sim.Ops.DomainIntegrate(f.Rho.Internal),
	}
	if sim.Cloud != nil {
		fields["parcels"] = len(sim.Cloud.Parcels)
		fields["liquid"] = sim.Cloud.LiquidMass()
	}
	if sim.Film != nil {
		fields["film"] = sim.Film.Mass()
	}
	log.WithFields(fields).Info("fields")
}

func init() {
	Root.AddCommand(versionCmd)
	Root.AddCommand(configCmd)
	Root.AddCommand(meshCmd)
	Root.AddCommand(runCmd)

	Cfg = config.New()
	caseCmds := []*pflag.FlagSet{runCmd.Flags(), meshCmd.Flags(), configCmd.Flags()}
	options := []option{
		{
			name:       "Time.EndTime",
			usage:      "Time.EndTime is the simulated time to stop at [s]",
			defaultVal: 0.1,
			flagsets:   []*pflag.FlagSet{runCmd.Flags(), configCmd.Flags()},
		},
		{
			name:       "Time.DeltaT",
			usage:      "Time.DeltaT is the time step [s]",
			defaultVal: 1e-3,
			flagsets:   []*pflag.FlagSet{runCmd.Flags(), configCmd.Flags()},
		},
		{
			name:       "Mesh.Partitions",
			usage:      "Mesh.Partitions is the number of cell partitions run in parallel",
			defaultVal: 1,
			flagsets:   caseCmds,
		},
		{
			name:       "Mesh.File",
			usage:      "Mesh.File is a Gambit or Gmsh tetrahedral mesh, used with Mesh.Type=file",
			defaultVal: "",
			flagsets:   caseCmds,
		},
	}
	Root.PersistentFlags().String("config", "", "configuration file")
	Root.PersistentFlags().String("loglevel", "info", "logging level (debug, info, warn, error)")
	Cfg.BindPFlag("config", Root.PersistentFlags().Lookup("config"))
	Cfg.BindPFlag("loglevel", Root.PersistentFlags().Lookup("loglevel"))

	for _, o := range options {
		for i, set := range o.flagsets {
			if i != 0 {
				set.AddFlag(o.flagsets[0].Lookup(o.name))
				continue
			}
			switch v := o.defaultVal.(type) {
			case string:
				set.String(o.name, v, o.usage)
			case int:
				set.Int(o.name, v, o.usage)
			case float64:
				set.Float64(o.name, v, o.usage)
			default:
				panic("invalid argument type")
			}
			Cfg.BindPFlag(o.name, set.Lookup(o.name))
		}
	}
}

// setup reads the case file, if there is one, and sets the log level.
func setup() error {
	level, err := logrus.ParseLevel(Cfg.GetString("loglevel"))
	if err != nil {
		return err
	}
	logrus.SetLevel(level)
	if path := Cfg.GetString("config"); path != "" {
		Cfg.SetConfigFile(path)
		if err := Cfg.ReadInConfig(); err != nil {
			return fmt.Errorf("fvflow: problem reading configuration file: %v", err)
		}
	}
	return nil
}
