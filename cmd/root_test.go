package cmd

import (
	"bytes"
	"os"
	"path/filepath"
	"testing"

	"github.com/spf13/cobra"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/routesim/routesim/sim/cluster"
	"github.com/routesim/routesim/sim/trace"
)

// newFlagCmd returns a command carrying the simulation flags, parsed from
// args, so buildConfig sees Changed() exactly as cobra would set it.
func newFlagCmd(t *testing.T, args ...string) *cobra.Command {
	t.Helper()
	c := &cobra.Command{Use: "test"}
	addSimulationFlags(c)
	require.NoError(t, c.ParseFlags(args))
	t.Cleanup(func() {
		configPath, restorePath = "", ""
		mode = string(cluster.ModeSurvival)
	})
	return c
}

func TestBuildConfig_ModeDefaultsWithStarterTopology(t *testing.T) {
	// GIVEN only --mode sandbox
	c := newFlagCmd(t, "--mode", "sandbox")

	// WHEN the config is built
	cfg, err := buildConfig(c)

	// THEN the sandbox preset is used with the starter network
	require.NoError(t, err)
	assert.Equal(t, cluster.ModeSandbox, cfg.Mode)
	assert.Equal(t, int64(42), cfg.Seed)
	assert.Equal(t, cluster.DefaultConfig(cluster.ModeSandbox).BaseRate, cfg.BaseRate, "unchanged --rate must not override")
	require.NotNil(t, cfg.Topology)
	assert.Len(t, cfg.Topology.Nodes, 6)
}

func TestBuildConfig_ExplicitFlagsOverride(t *testing.T) {
	c := newFlagCmd(t, "--seed", "9", "--rate", "3.5", "--trace-level", "full", "--trace-sample-every", "4", "--starter-topology=false")

	cfg, err := buildConfig(c)
	require.NoError(t, err)
	assert.Equal(t, int64(9), cfg.Seed)
	assert.Equal(t, 3.5, cfg.BaseRate)
	assert.Equal(t, trace.TraceLevelFull, cfg.Trace.Level)
	assert.Equal(t, 4, cfg.Trace.SampleEvery)
	assert.Nil(t, cfg.Topology)
}

func TestBuildConfig_FromFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "cfg.yaml")
	require.NoError(t, os.WriteFile(path, []byte("mode: sandbox\nseed: 5\nbase_rate: 2\n"), 0o644))

	cfg, err := buildConfig(newFlagCmd(t, "--config", path, "--seed", "6"))
	require.NoError(t, err)
	assert.Equal(t, cluster.ModeSandbox, cfg.Mode)
	assert.Equal(t, int64(6), cfg.Seed, "explicit flag wins over the file")
	assert.Equal(t, 2.0, cfg.BaseRate)

	_, err = buildConfig(newFlagCmd(t, "--config", path, "--mode", "survival"))
	assert.ErrorContains(t, err, "conflicts")
}

func TestBuildConfig_Rejections(t *testing.T) {
	tests := []struct {
		name string
		args []string
	}{
		{"unknown mode", []string{"--mode", "chaos"}},
		{"unknown trace level", []string{"--trace-level", "verbose"}},
		{"negative rate", []string{"--rate", "-1"}},
		{"missing config file", []string{"--config", "/nonexistent/cfg.yaml"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := buildConfig(newFlagCmd(t, tt.args...))
			assert.Error(t, err)
		})
	}
}

func TestSnapshotFile_RoundTripAndRestore(t *testing.T) {
	// GIVEN a short sandbox run written to YAML
	cfg := cluster.DefaultConfig(cluster.ModeSandbox)
	cfg.Topology = cluster.StarterTopology()
	s, err := cluster.NewSimulator(cfg)
	require.NoError(t, err)
	require.NoError(t, s.Run(3, 0.5))
	path := filepath.Join(t.TempDir(), "snap.yaml")
	require.NoError(t, writeSnapshot(path, "", s.Snapshot()))

	// WHEN it is restored through --restore
	restorePath = path
	t.Cleanup(func() { restorePath = "" })
	restored, err := newSimulator(cfg)

	// THEN the clock and network carry over
	require.NoError(t, err)
	assert.Equal(t, s.Clock(), restored.Clock())
	assert.Equal(t, s.Network().Connections(), restored.Network().Connections())
}

func TestSnapshotFormatFor(t *testing.T) {
	assert.Equal(t, "yaml", snapshotFormatFor("a/b.yml", ""))
	assert.Equal(t, "json", snapshotFormatFor("a/b.json", ""))
	assert.Equal(t, "json", snapshotFormatFor("a/b", ""))
	assert.Equal(t, "yaml", snapshotFormatFor("a/b.json", "yaml"))
}

func TestPrintTraceSummary(t *testing.T) {
	cfg := cluster.DefaultConfig(cluster.ModeSandbox)
	cfg.Topology = cluster.StarterTopology()
	cfg.Trace.Level = trace.TraceLevelFull
	s, err := cluster.NewSimulator(cfg)
	require.NoError(t, err)
	require.NoError(t, s.Run(20, 0.1))

	var buf bytes.Buffer
	printTraceSummary(&buf, trace.Summarize(s.Trace()))

	out := buf.String()
	assert.Contains(t, out, "=== Trace Summary ===")
	assert.Contains(t, out, "peak_queue=")
}

func TestCapTrace(t *testing.T) {
	newServeCmd := func(args ...string) *cobra.Command {
		c := &cobra.Command{Use: "serve-test"}
		c.Flags().IntVar(&traceMaxRecords, "trace-max-records", defaultServeTraceRecords, "")
		require.NoError(t, c.ParseFlags(args))
		return c
	}
	t.Cleanup(func() { traceMaxRecords = defaultServeTraceRecords })

	// GIVEN no cap anywhere THEN the server default applies
	cfg := cluster.DefaultConfig(cluster.ModeSandbox)
	capTrace(newServeCmd(), &cfg)
	assert.Equal(t, defaultServeTraceRecords, cfg.Trace.MaxRecords)

	// GIVEN a cap from the config file THEN it is kept
	cfg.Trace.MaxRecords = 500
	capTrace(newServeCmd(), &cfg)
	assert.Equal(t, 500, cfg.Trace.MaxRecords)

	// GIVEN an explicit flag THEN it wins
	capTrace(newServeCmd("--trace-max-records", "42"), &cfg)
	assert.Equal(t, 42, cfg.Trace.MaxRecords)
}

func TestWriteDefaults_ParsesBack(t *testing.T) {
	for _, m := range []string{"survival", "sandbox"} {
		t.Run(m, func(t *testing.T) {
			var buf bytes.Buffer
			require.NoError(t, writeDefaults(&buf, m, true))

			cfg, err := cluster.ParseConfig(buf.Bytes())
			require.NoError(t, err)
			require.NoError(t, cfg.Validate())
			assert.Equal(t, cluster.Mode(m), cfg.Mode)
			assert.NotNil(t, cfg.Topology)
		})
	}
	assert.Error(t, writeDefaults(&bytes.Buffer{}, "chaos", false))
}
