package cmd

import (
	"fmt"
	"io"
	"os"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/routesim/routesim/sim/cluster"
)

var defaultsWithTopology bool

// defaultsCmd prints the preset configuration of a mode as YAML
var defaultsCmd = &cobra.Command{
	Use:   "defaults",
	Short: "Print the default configuration of a mode",
	Run: func(cmd *cobra.Command, args []string) {
		if err := writeDefaults(os.Stdout, mode, defaultsWithTopology); err != nil {
			logrus.Fatalf("%v", err)
		}
	},
}

func writeDefaults(w io.Writer, m string, withTopology bool) error {
	if !cluster.IsValidMode(m) {
		return fmt.Errorf("unknown mode %q; valid: survival, sandbox", m)
	}
	cfg := cluster.DefaultConfig(cluster.Mode(m))
	if withTopology {
		cfg.Topology = cluster.StarterTopology()
	}
	enc := yaml.NewEncoder(w)
	enc.SetIndent(2)
	if err := enc.Encode(cfg); err != nil {
		return fmt.Errorf("encoding defaults: %w", err)
	}
	return enc.Close()
}

func init() {
	defaultsCmd.Flags().StringVar(&mode, "mode", string(cluster.ModeSurvival), "Preset mode (survival, sandbox)")
	defaultsCmd.Flags().BoolVar(&defaultsWithTopology, "starter-topology", false, "Include the starter topology")
	rootCmd.AddCommand(defaultsCmd)
}
