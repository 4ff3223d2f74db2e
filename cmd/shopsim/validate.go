package main

import (
	"fmt"
	"io"
	"path/filepath"
	"sort"

	"github.com/spf13/cobra"

	"shopkeep.ai/internal/sim/config"
	"shopkeep.ai/internal/sim/scenario"
)

var validateCmd = &cobra.Command{
	Use:   "validate",
	Short: "Load the configuration and print its digests",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		reg, _, err := loadKernel(configDir)
		if err != nil {
			return err
		}
		printRegistry(cmd.OutOrStdout(), reg)
		scenarios, err := scenario.Load(filepath.Join(configDir, "scenarios.yaml"))
		if err != nil {
			return err
		}
		fmt.Fprintf(cmd.OutOrStdout(), "scenarios %v (default %s)\n", scenarios.IDs(), scenarios.DefaultScenario)
		return nil
	},
}

func printRegistry(w io.Writer, reg *config.Registry) {
	s := reg.Settings()
	fmt.Fprintf(w, "config %s\n", reg.Dir())
	fmt.Fprintf(w, "digest %s\n", reg.Digest())
	digests := reg.Digests()
	names := make([]string, 0, len(digests))
	for n := range digests {
		names = append(names, n)
	}
	sort.Strings(names)
	for _, n := range names {
		fmt.Fprintf(w, "  %-20s %s\n", n, digests[n])
	}
	fmt.Fprintf(w, "events %d  actions %d  tradeoffs %d  thresholds %d\n",
		reg.Events().Len(), len(reg.Actions()), len(reg.Tradeoffs().Edges()), len(reg.Thresholds()))
	fmt.Fprintf(w, "campaign %d days, %d-%d action slots, cascade depth %d\n",
		s.CampaignDays, s.BaseActionSlots, s.MaxActionSlots, s.MaxCascadeDepth)
	for _, warn := range reg.Warnings() {
		fmt.Fprintf(w, "warning: %s\n", warn)
	}
}
