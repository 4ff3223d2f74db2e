package main

import (
	"fmt"
	"io"
	"os"
	"sort"

	"github.com/spf13/cobra"

	"shopkeep.ai/internal/sim/kernel"
	"shopkeep.ai/internal/sim/metrics"
)

var inspectHistory int

var inspectCmd = &cobra.Command{
	Use:   "inspect <save-file>",
	Short: "Print a summary and the digest of a save file",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		_, k, err := loadKernel(configDir)
		if err != nil {
			return err
		}
		b, err := os.ReadFile(args[0])
		if err != nil {
			return err
		}
		st, err := k.Load(b)
		if err != nil {
			return err
		}
		return printState(cmd.OutOrStdout(), k, st, inspectHistory)
	},
}

func init() {
	inspectCmd.Flags().IntVar(&inspectHistory, "history", 10, "number of trailing history entries to print")
}

func printState(w io.Writer, k *kernel.Kernel, st kernel.GameState, history int) error {
	digest, err := k.Digest(st)
	if err != nil {
		return err
	}
	fmt.Fprintf(w, "campaign %s seed %d day %d\n", st.CampaignID, st.Seed, st.Day)
	if st.Terminal != "" {
		fmt.Fprintf(w, "terminal %s\n", st.Terminal)
	}
	if st.ConfigDigest != "" && st.ConfigDigest != k.Config().Digest() {
		fmt.Fprintf(w, "note: saved under config %s, loaded with %s\n", st.ConfigDigest, k.Config().Digest())
	}
	for _, m := range metrics.All() {
		fmt.Fprintf(w, "  %-13s %10.2f\n", m, st.Snapshot.Get(m))
	}
	fmt.Fprintf(w, "slots %d/%d  pending %d  history %d\n", st.Plan.Remaining(), st.Plan.Count, len(st.Pending), len(st.History))
	for _, p := range st.Pending {
		fmt.Fprintf(w, "  pending %s on day %d (from %s)\n", p.EventID, p.ActivationTurn, p.Source)
	}
	if len(st.Cooldowns) > 0 {
		ids := make([]string, 0, len(st.Cooldowns))
		for id := range st.Cooldowns {
			ids = append(ids, id)
		}
		sort.Strings(ids)
		for _, id := range ids {
			fmt.Fprintf(w, "  last %s on day %d\n", id, st.Cooldowns[id])
		}
	}
	from := len(st.History) - history
	if from < 0 {
		from = 0
	}
	for _, h := range st.History[from:] {
		label := h.Action + h.Event + h.Note
		fmt.Fprintf(w, "  d%-4d #%-5d %-9s %s %s\n", h.Day, h.Seq, h.Kind, label, h.Outcome)
	}
	fmt.Fprintf(w, "digest %s\n", digest)
	return nil
}
