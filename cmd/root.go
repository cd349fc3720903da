package cmd

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"github.com/routesim/routesim/sim/cluster"
	"github.com/routesim/routesim/sim/trace"
)

var (
	// simulation flags shared by run and serve
	configPath       string  // YAML config file
	seed             int64   // Seed for every random stream
	mode             string  // survival or sandbox
	baseRate         float64 // Base requests per second
	logLevel         string  // Log verbosity level
	starterTopology  bool    // Build the starter network when the config has none
	traceLevel       string  // none, outcomes or full
	traceSampleEvery int     // Node sample stride at full trace level
	restorePath      string  // Snapshot file to resume from

	// run flags
	duration       float64 // Simulated seconds
	stepDT         float64 // Seconds per step
	snapshotOut    string  // Write the final snapshot here
	snapshotFormat string  // json or yaml
)

// rootCmd is the base command for the CLI
var rootCmd = &cobra.Command{
	Use:   "routesim",
	Short: "Step-driven simulator for request routing through a service topology",
}

// runCmd runs a headless simulation for a fixed duration
var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Run a headless simulation and print metrics",
	Run: func(cmd *cobra.Command, args []string) {
		setLogLevel()

		cfg, err := buildConfig(cmd)
		if err != nil {
			logrus.Fatalf("%v", err)
		}
		s, err := newSimulator(cfg)
		if err != nil {
			logrus.Fatalf("%v", err)
		}

		logrus.Infof("Starting %s simulation: seed=%d rate=%.2f duration=%.1fs dt=%.3fs",
			cfg.Mode, cfg.Seed, cfg.BaseRate, duration, stepDT)
		start := time.Now()
		if err := s.Run(duration, stepDT); err != nil {
			logrus.Fatalf("simulation failed: %v", err)
		}
		if err := s.CheckInvariants(); err != nil {
			logrus.Fatalf("invariant violated: %v", err)
		}

		s.Metrics().Print(s.Clock())
		if s.Trace().Enabled() {
			printTraceSummary(os.Stdout, trace.Summarize(s.Trace()))
		}
		if snapshotOut != "" {
			if err := writeSnapshot(snapshotOut, snapshotFormat, s.Snapshot()); err != nil {
				logrus.Fatalf("%v", err)
			}
			logrus.Infof("Snapshot written to %s", snapshotOut)
		}
		logrus.Infof("Simulation complete in %s.", time.Since(start).Round(time.Millisecond))
	},
}

func setLogLevel() {
	level, err := logrus.ParseLevel(logLevel)
	if err != nil {
		logrus.Fatalf("Invalid log level: %s", logLevel)
	}
	logrus.SetLevel(level)
}

// buildConfig loads --config (or the --mode defaults) and applies the flags
// the user set explicitly.
func buildConfig(cmd *cobra.Command) (cluster.Config, error) {
	if !cluster.IsValidMode(mode) {
		return cluster.Config{}, fmt.Errorf("unknown mode %q; valid: survival, sandbox", mode)
	}
	var cfg cluster.Config
	if configPath != "" {
		loaded, err := cluster.LoadConfig(configPath)
		if err != nil {
			return cluster.Config{}, err
		}
		cfg = *loaded
		if cmd.Flags().Changed("mode") && cluster.Mode(mode) != cfg.Mode {
			return cluster.Config{}, fmt.Errorf("--mode %s conflicts with mode %s in %s", mode, cfg.Mode, configPath)
		}
	} else {
		cfg = cluster.DefaultConfig(cluster.Mode(mode))
	}

	flags := cmd.Flags()
	if flags.Changed("seed") {
		cfg.Seed = seed
	}
	if flags.Changed("rate") {
		cfg.BaseRate = baseRate
	}
	if flags.Changed("trace-level") {
		if !trace.IsValidTraceLevel(traceLevel) {
			return cluster.Config{}, fmt.Errorf("unknown trace level %q; valid: none, outcomes, full", traceLevel)
		}
		cfg.Trace.Level = trace.TraceLevel(traceLevel)
	}
	if flags.Changed("trace-sample-every") {
		cfg.Trace.SampleEvery = traceSampleEvery
	}
	if cfg.Topology == nil && starterTopology {
		cfg.Topology = cluster.StarterTopology()
	}
	if err := cfg.Validate(); err != nil {
		return cluster.Config{}, fmt.Errorf("invalid config: %w", err)
	}
	return cfg, nil
}

// newSimulator builds a fresh simulator, or resumes --restore.
func newSimulator(cfg cluster.Config) (*cluster.Simulator, error) {
	if restorePath == "" {
		return cluster.NewSimulator(cfg)
	}
	snap, err := readSnapshot(restorePath)
	if err != nil {
		return nil, err
	}
	logrus.Infof("Resuming from %s at %.2fs", restorePath, snap.Clock)
	return cluster.RestoreSimulator(cfg, snap)
}

func snapshotFormatFor(path, format string) string {
	if format != "" {
		return format
	}
	switch filepath.Ext(path) {
	case ".yaml", ".yml":
		return "yaml"
	}
	return "json"
}

func readSnapshot(path string) (cluster.Snapshot, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return cluster.Snapshot{}, fmt.Errorf("reading snapshot: %w", err)
	}
	return cluster.DecodeSnapshot(data, snapshotFormatFor(path, ""))
}

func writeSnapshot(path, format string, snap cluster.Snapshot) error {
	data, err := cluster.EncodeSnapshot(snap, snapshotFormatFor(path, format))
	if err != nil {
		return err
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return fmt.Errorf("writing snapshot: %w", err)
	}
	return nil
}

func printTraceSummary(w io.Writer, sum *trace.TraceSummary) {
	fmt.Fprintln(w, "=== Trace Summary ===")
	fmt.Fprintf(w, "Outcomes Traced      : %d\n", sum.TotalOutcomes)
	if sum.DroppedOutcomes > 0 {
		fmt.Fprintf(w, "Outcomes Dropped     : %d\n", sum.DroppedOutcomes)
	}
	fmt.Fprintf(w, "Latency mean/p50/p95/p99: %.3f / %.3f / %.3f / %.3f s\n",
		sum.MeanLatency, sum.P50Latency, sum.P95Latency, sum.P99Latency)
	fmt.Fprintf(w, "Mean Hops            : %.2f\n", sum.MeanHops)
	nodes := make([]string, 0, len(sum.ResolvedByNode))
	for id := range sum.ResolvedByNode {
		nodes = append(nodes, id)
	}
	sort.Strings(nodes)
	for _, id := range nodes {
		fmt.Fprintf(w, "  %-12s resolved=%d", id, sum.ResolvedByNode[id])
		if peak, ok := sum.PeakQueueByNode[id]; ok {
			fmt.Fprintf(w, " peak_queue=%d mean_load=%.2f min_health=%.1f",
				peak, sum.MeanLoadByNode[id], sum.MinHealthByNode[id])
		}
		fmt.Fprintln(w)
	}
}

// Execute runs the CLI root command
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func addSimulationFlags(c *cobra.Command) {
	c.Flags().StringVar(&configPath, "config", "", "YAML config file (defaults of --mode when empty)")
	c.Flags().Int64Var(&seed, "seed", 42, "Seed for every random stream")
	c.Flags().StringVar(&mode, "mode", string(cluster.ModeSurvival), "Preset mode (survival, sandbox)")
	c.Flags().Float64Var(&baseRate, "rate", 1.0, "Base requests per second")
	c.Flags().StringVar(&logLevel, "log", "error", "Log level (trace, debug, info, warn, error, fatal, panic)")
	c.Flags().BoolVar(&starterTopology, "starter-topology", true, "Build the starter network when the config declares no topology")
	c.Flags().StringVar(&traceLevel, "trace-level", "none", "Decision trace level (none, outcomes, full)")
	c.Flags().IntVar(&traceSampleEvery, "trace-sample-every", 1, "Record node samples every N steps at full trace level")
	c.Flags().StringVar(&restorePath, "restore", "", "Resume from a snapshot file (.json or .yaml)")
}

// init sets up CLI flags and subcommands
func init() {
	addSimulationFlags(runCmd)
	runCmd.Flags().Float64Var(&duration, "duration", 600, "Simulated seconds to run")
	runCmd.Flags().Float64Var(&stepDT, "dt", 0.05, "Simulated seconds per step")
	runCmd.Flags().StringVar(&snapshotOut, "snapshot-out", "", "Write the final snapshot to this file")
	runCmd.Flags().StringVar(&snapshotFormat, "snapshot-format", "", "Snapshot format (json, yaml); inferred from the file extension when empty")

	rootCmd.AddCommand(runCmd)
}
