package main

import (
	"context"
	"fmt"
	"io"
	"path/filepath"

	"github.com/spf13/cobra"

	"shopkeep.ai/internal/campaign"
	"shopkeep.ai/internal/sim/kernel"
	"shopkeep.ai/internal/sim/metrics"
	"shopkeep.ai/internal/sim/scenario"
)

type autoplayOptions struct {
	Campaign  string
	Scenario  string
	Seed      int64
	Days      int
	SaveEvery int
	Resume    bool
	DisableDB bool
}

var autoplayOpts autoplayOptions

var autoplayCmd = &cobra.Command{
	Use:   "autoplay",
	Short: "Play a campaign with a fixed policy, writing saves, index and logs",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, cancel := signalContext()
		defer cancel()
		return runAutoplay(ctx, autoplayOpts, cmd.OutOrStdout())
	},
}

func init() {
	f := autoplayCmd.Flags()
	f.StringVar(&autoplayOpts.Campaign, "campaign", "", "campaign id (default: random)")
	f.StringVar(&autoplayOpts.Scenario, "scenario", "", "scenario id from <configs>/scenarios.yaml (default: the file's default)")
	f.Int64Var(&autoplayOpts.Seed, "seed", 42, "campaign seed")
	f.IntVar(&autoplayOpts.Days, "days", 0, "stop after this many days (0: play to the end)")
	f.IntVar(&autoplayOpts.SaveEvery, "save-every", 30, "write a save every n days")
	f.BoolVar(&autoplayOpts.Resume, "resume", false, "continue the newest save of --campaign")
	f.BoolVar(&autoplayOpts.DisableDB, "disable-db", false, "skip the sqlite index")
}

func runAutoplay(ctx context.Context, opts autoplayOptions, out io.Writer) error {
	rt, err := openRuntime(ctx, runtimeOptions{
		ConfigDir: configDir,
		DataDir:   dataDir,
		DisableDB: opts.DisableDB,
		SaveEvery: opts.SaveEvery,
		Logger:    newLogger("autoplay"),
	})
	if err != nil {
		return err
	}
	defer rt.Close()

	scenarios, err := scenario.Load(filepath.Join(configDir, "scenarios.yaml"))
	if err != nil {
		return err
	}
	spec, ok := scenarios.Get(opts.Scenario)
	if !ok {
		return fmt.Errorf("unknown scenario %q (have %v)", opts.Scenario, scenarios.IDs())
	}
	choose, ok := policies[spec.Policy]
	if !ok {
		return fmt.Errorf("scenario %s: unknown policy %q", spec.ID, spec.Policy)
	}
	if opts.Days == 0 {
		opts.Days = spec.Days
	}

	sess := campaign.NewSession(rt.k, rt.sinks)
	if opts.Resume {
		if opts.Campaign == "" {
			return fmt.Errorf("--resume needs --campaign")
		}
		_, err = sess.Resume(ctx, opts.Campaign)
	} else {
		_, err = sess.Begin(kernel.CampaignOptions{ID: opts.Campaign, Seed: opts.Seed + spec.SeedOffset, Start: spec.Start})
	}
	if err != nil {
		return err
	}

	played := 0
	for {
		st, _ := sess.State()
		if st.Terminal != "" || (opts.Days > 0 && played >= opts.Days) {
			break
		}
		if err := ctx.Err(); err != nil {
			break
		}
		if err := playDay(sess, choose); err != nil {
			return err
		}
		if st, _ := sess.State(); st.Terminal != "" {
			break
		}
		rep, err := sess.EndDay(kernel.DayOptions{})
		if err != nil {
			return err
		}
		played++
		for _, a := range rep.Alerts {
			fmt.Fprintf(out, "day %4d alert %s %.1f -> %.1f\n", rep.Day, a.Key, a.Before, a.After)
		}
		for _, ev := range rep.Events {
			fmt.Fprintf(out, "day %4d event %s (%s) cascade=%d\n", rep.Day, ev.Event, ev.Category, len(ev.Triggered))
		}
	}

	st, _ := sess.State()
	if st.Terminal == "" {
		if _, _, err := sess.Save(); err != nil {
			return err
		}
	}
	digest, err := rt.k.Digest(st)
	if err != nil {
		return err
	}
	fmt.Fprintf(out, "campaign %s day %d money %.2f reputation %.1f terminal=%q\n",
		st.CampaignID, st.Day, st.Snapshot.Get(metrics.Money), st.Snapshot.Get(metrics.Reputation), st.Terminal)
	fmt.Fprintf(out, "digest %s\n", digest)
	return nil
}

// playDay spends the day's slots by policy until they run out or nothing
// suitable is left.
func playDay(sess *campaign.Session, choose policy) error {
	for {
		list, err := sess.Actions()
		if err != nil {
			return err
		}
		st, _ := sess.State()
		kind := choose(st.Snapshot, list.Actions)
		if kind == "" {
			return nil
		}
		rep, err := sess.Apply(kind, kernel.Params{})
		if err != nil {
			return err
		}
		if rep.Terminal != "" {
			return nil
		}
	}
}

// policy picks the next action kind, or "" to stop for the day.
type policy func(s metrics.Snapshot, opts []kernel.ActionOption) string

var policies = map[string]policy{
	"balanced": balanced,
	"cautious": cautious,
	"growth":   growth,
}

func picker(opts []kernel.ActionOption) func(kinds ...string) string {
	have := map[string]bool{}
	for _, o := range opts {
		have[o.Kind] = true
	}
	return func(kinds ...string) string {
		for _, k := range kinds {
			if have[k] {
				return k
			}
		}
		return ""
	}
}

// balanced fixes the most pressing shortage first and otherwise grows demand.
func balanced(s metrics.Snapshot, opts []kernel.ActionOption) string {
	pick := picker(opts)
	money := s.Get(metrics.Money)
	switch {
	case s.Get(metrics.Inventory) < 40 && money > 1500:
		return pick("restock")
	case s.Get(metrics.StaffFatigue) > 60:
		return pick("rest_staff")
	case s.Get(metrics.Facility) < 50 && money > 2000:
		return pick("repair", "deep_clean")
	case s.Get(metrics.Reputation) < 40:
		return pick("community_event", "menu_special")
	case money > 4000 && s.Get(metrics.Demand) < 70:
		return pick("marketing", "menu_special")
	}
	return ""
}

// cautious only maintains the shop and keeps cash in reserve.
func cautious(s metrics.Snapshot, opts []kernel.ActionOption) string {
	pick := picker(opts)
	money := s.Get(metrics.Money)
	switch {
	case s.Get(metrics.StaffFatigue) > 45:
		return pick("rest_staff")
	case s.Get(metrics.Inventory) < 30 && money > 1200:
		return pick("restock")
	case s.Get(metrics.Facility) < 60 && money > 2500:
		return pick("repair", "deep_clean")
	}
	return ""
}

// growth spends on demand whenever the till allows.
func growth(s metrics.Snapshot, opts []kernel.ActionOption) string {
	pick := picker(opts)
	money := s.Get(metrics.Money)
	switch {
	case s.Get(metrics.Inventory) < 50 && money > 1000:
		return pick("restock")
	case s.Get(metrics.StaffFatigue) > 75:
		return pick("rest_staff")
	case money > 2500 && s.Get(metrics.Demand) < 90:
		return pick("marketing", "menu_special", "community_event")
	case s.Get(metrics.Facility) < 40 && money > 1500:
		return pick("repair")
	}
	return ""
}
