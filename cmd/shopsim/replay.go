package main

import (
	"encoding/json"
	"fmt"
	"io"
	"path/filepath"

	"github.com/spf13/cobra"

	plog "shopkeep.ai/internal/persistence/log"
	"shopkeep.ai/internal/persistence/snapshot"
	"shopkeep.ai/internal/sim/config"
	"shopkeep.ai/internal/sim/kernel"
	"shopkeep.ai/internal/sim/metrics"
)

var replayCmd = &cobra.Command{
	Use:   "replay <campaign>",
	Short: "Replay a campaign from its logs and verify every day and the newest save",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		reg, k, err := loadKernel(configDir)
		if err != nil {
			return err
		}
		return runReplay(k, reg.Settings(), dataDir, args[0], cmd.OutOrStdout())
	},
}

// runReplay restarts the campaign from its seed, feeds it the logged actions
// and event choices, and compares each closed day with the logged snapshot.
func runReplay(k *kernel.Kernel, set config.Settings, dir, campaign string, out io.Writer) error {
	store := snapshot.NewStore(filepath.Join(dir, "saves"), set.SaveRetention, set.SaveCompress)
	latest, ok, err := store.Latest(campaign)
	if err != nil {
		return err
	}
	if !ok {
		return fmt.Errorf("replay %s: no save to take the seed from", campaign)
	}
	rec, err := store.Read(latest.Path)
	if err != nil {
		return err
	}

	var turns []kernel.TurnReport
	err = plog.ReadLines(plog.NewTurnLogger(dir).Path(campaign), func(raw json.RawMessage) error {
		var e plog.TurnEntry
		if err := json.Unmarshal(raw, &e); err != nil {
			return err
		}
		turns = append(turns, e.Report)
		return nil
	})
	if err != nil {
		return fmt.Errorf("read turn log: %w", err)
	}
	var days []kernel.DayReport
	err = plog.ReadLines(plog.NewDayLogger(dir).Path(campaign), func(raw json.RawMessage) error {
		var e plog.DayEntry
		if err := json.Unmarshal(raw, &e); err != nil {
			return err
		}
		days = append(days, e.Report)
		return nil
	})
	if err != nil {
		return fmt.Errorf("read day log: %w", err)
	}

	st, err := k.BeginCampaign(kernel.CampaignOptions{ID: campaign, Seed: rec.Seed})
	if err != nil {
		return err
	}
	next := 0
	applyUntil := func(day int) error {
		for ; next < len(turns) && turns[next].Day <= day; next++ {
			t := turns[next]
			var rep kernel.TurnReport
			st, rep, err = k.ApplyAction(st, t.Action, kernel.Params{Quantity: t.Quantity})
			if err != nil {
				return fmt.Errorf("day %d action %s: %w", t.Day, t.Action, err)
			}
			if rep.Outcome != t.Outcome {
				return fmt.Errorf("day %d action %s: outcome %s, logged %s", t.Day, t.Action, rep.Outcome, t.Outcome)
			}
		}
		return nil
	}

	for _, logged := range days {
		if logged.Day != st.Day {
			return fmt.Errorf("day log out of step: logged day %d, replay at day %d", logged.Day, st.Day)
		}
		if err := applyUntil(logged.Day); err != nil {
			return err
		}
		var rep kernel.DayReport
		st, rep, err = k.EndDay(st, kernel.DayOptions{Choices: loggedChoices(logged)})
		if err != nil {
			return fmt.Errorf("day %d: %w", logged.Day, err)
		}
		if m, ok := firstDiff(rep.Snapshot, logged.Snapshot); ok {
			return fmt.Errorf("day %d diverged at %s: replay %.6f, logged %.6f",
				logged.Day, m, rep.Snapshot.Get(m), logged.Snapshot.Get(m))
		}
	}
	if err := applyUntil(st.Day); err != nil {
		return err
	}

	got, err := k.Digest(st)
	if err != nil {
		return err
	}
	fmt.Fprintf(out, "replayed %s: %d days, %d actions, now day %d\n", campaign, len(days), next, st.Day)
	if rec.Day != st.Day {
		fmt.Fprintf(out, "newest save is day %d; digest not compared\n", rec.Day)
		fmt.Fprintf(out, "digest %s\n", got)
		return nil
	}
	saved, err := k.Restore(rec)
	if err != nil {
		return err
	}
	want, err := k.Digest(saved)
	if err != nil {
		return err
	}
	if got != want {
		return fmt.Errorf("replay digest %s differs from save %s (%s)", got, want, filepath.Base(latest.Path))
	}
	fmt.Fprintf(out, "digest %s matches %s\n", got, filepath.Base(latest.Path))
	return nil
}

func loggedChoices(rep kernel.DayReport) map[string]string {
	out := map[string]string{}
	for _, group := range [][]kernel.EventReport{rep.Events, rep.Absorbed} {
		for _, ev := range group {
			for _, t := range ev.Triggered {
				if t.Choice != "" {
					out[t.Event] = t.Choice
				}
			}
		}
	}
	return out
}

func firstDiff(a, b metrics.Snapshot) (metrics.Metric, bool) {
	for _, m := range metrics.All() {
		if a.Get(m) != b.Get(m) {
			return m, true
		}
	}
	return 0, false
}
