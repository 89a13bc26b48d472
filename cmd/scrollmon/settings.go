package main

import (
	"fmt"
	"io"
	"sort"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/eliteGoblin/focusd/scroll_mon/internal/domain"
	"github.com/eliteGoblin/focusd/scroll_mon/internal/infra"
	"github.com/eliteGoblin/focusd/scroll_mon/internal/policy"
)

func newSettingsCmd(opts *rootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "settings",
		Short: "Show or change thresholds, quotas and the monitored selection",
	}
	cmd.AddCommand(newSettingsGetCmd(opts), newSettingsSetCmd(opts))
	return cmd
}

func newSettingsGetCmd(opts *rootOptions) *cobra.Command {
	var jsonOutput bool
	cmd := &cobra.Command{
		Use:   "get",
		Short: "Print the current settings",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(opts, func(a *app) error {
				s := a.manager.Settings()
				if jsonOutput {
					return writeJSON(cmd.OutOrStdout(), s)
				}
				printSettings(cmd.OutOrStdout(), s)
				return nil
			})
		},
	}
	cmd.Flags().BoolVar(&jsonOutput, "json", false, "Output settings as JSON")
	return cmd
}

func printSettings(out io.Writer, s domain.Settings) {
	fmt.Fprintf(out, "Threshold:         %d min\n", s.ThresholdMinutes)
	fmt.Fprintf(out, "Cooldown:          %d min\n", s.CooldownMinutes)
	fmt.Fprintf(out, "Break reminder:    %d s\n", s.BreakSeconds)
	fmt.Fprintf(out, "Soft mode:         %t\n", s.SoftModeEnabled)
	fmt.Fprintf(out, "Overrides per day: %d\n", s.OverridesPerDay)
	fmt.Fprintf(out, "Override length:   %d min\n", s.OverrideMinutes)
	fmt.Fprintf(out, "Onboarded:         %t\n", s.HasCompletedOnboarding)
	fmt.Fprintln(out, "Monitored:")
	printSelection(out, s.MonitoredSelection)
}

func newSettingsSetCmd(opts *rootOptions) *cobra.Command {
	var (
		threshold       int
		cooldown        int
		breakSeconds    int
		softMode        bool
		overridesPerDay int
		overrideMinutes int
		onboarded       bool
		apps            []string
		categories      []string
		domains         []string
	)
	cmd := &cobra.Command{
		Use:   "set",
		Short: "Change settings; values are clamped into their allowed ranges",
		Long: fmt.Sprintf(`Changes only the flags given. Numeric values are clamped:
  threshold %d-%d min, cooldown %d-%d min, break %d-%d s,
  overrides per day %d-%d, override length %d-%d min.
Selection flags replace the whole list; pass an empty value to clear it.`,
			domain.MinThresholdMinutes, domain.MaxThresholdMinutes,
			domain.MinCooldownMinutes, domain.MaxCooldownMinutes,
			domain.MinBreakSeconds, domain.MaxBreakSeconds,
			domain.MinOverridesPerDay, domain.MaxOverridesPerDay,
			domain.MinOverrideMinutes, domain.MaxOverrideMinutes),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(opts, func(a *app) error {
				s := a.manager.Settings()
				flags := cmd.Flags()

				if flags.Changed("threshold") {
					s.ThresholdMinutes = threshold
				}
				if flags.Changed("cooldown") {
					s.CooldownMinutes = cooldown
				}
				if flags.Changed("break") {
					s.BreakSeconds = breakSeconds
				}
				if flags.Changed("soft-mode") {
					s.SoftModeEnabled = softMode
				}
				if flags.Changed("overrides-per-day") {
					s.OverridesPerDay = overridesPerDay
				}
				if flags.Changed("override-minutes") {
					s.OverrideMinutes = overrideMinutes
				}
				if flags.Changed("onboarded") {
					s.HasCompletedOnboarding = onboarded
				}
				if flags.Changed("apps") {
					s.MonitoredSelection.Applications = apps
				}
				if flags.Changed("categories") {
					if unknown := unknownCategories(a.catalog, categories); len(unknown) > 0 {
						return fmt.Errorf("unknown categories: %s (see '%s apps')",
							strings.Join(unknown, ", "), infra.AppName)
					}
					s.MonitoredSelection.Categories = categories
				}
				if flags.Changed("domains") {
					s.MonitoredSelection.WebDomains = domains
				}

				if err := a.manager.UpdateSettings(s); err != nil {
					return err
				}
				fmt.Fprintln(cmd.OutOrStdout(), "Settings saved")
				printSettings(cmd.OutOrStdout(), a.manager.Settings())
				return nil
			})
		},
	}

	def := domain.DefaultSettings()
	f := cmd.Flags()
	f.IntVar(&threshold, "threshold", def.ThresholdMinutes, "Daily usage before a cooldown (minutes)")
	f.IntVar(&cooldown, "cooldown", def.CooldownMinutes, "Cooldown length (minutes)")
	f.IntVar(&breakSeconds, "break", def.BreakSeconds, "Break reminder (seconds, advisory)")
	f.BoolVar(&softMode, "soft-mode", def.SoftModeEnabled, "Allow overrides during a cooldown")
	f.IntVar(&overridesPerDay, "overrides-per-day", def.OverridesPerDay, "Override quota per day")
	f.IntVar(&overrideMinutes, "override-minutes", def.OverrideMinutes, "Override length (minutes)")
	f.BoolVar(&onboarded, "onboarded", false, "Mark onboarding as completed")
	f.StringSliceVar(&apps, "apps", nil, "Application process names, comma separated")
	f.StringSliceVar(&categories, "categories", nil, "Catalog category ids, comma separated")
	f.StringSliceVar(&domains, "domains", nil, "Web domains, comma separated (recorded, not enforced)")
	return cmd
}

func unknownCategories(catalog *policy.Registry, ids []string) []string {
	var unknown []string
	for _, id := range ids {
		id = strings.ToLower(strings.TrimSpace(id))
		if id == "" {
			continue
		}
		if _, ok := catalog.Get(id); !ok {
			unknown = append(unknown, id)
		}
	}
	return unknown
}

func newAppsCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "apps",
		Short: "List the app categories that can be selected",
		Run: func(cmd *cobra.Command, args []string) {
			out := cmd.OutOrStdout()
			fmt.Fprintln(out, "\n=== App Categories ===")
			for _, c := range policy.NewRegistry().GetAll() {
				fmt.Fprintf(out, "\n[%s] %s\n", c.ID(), c.Name())
				fmt.Fprintln(out, "  Processes:")
				for _, p := range c.ProcessPatterns() {
					fmt.Fprintf(out, "    - %s\n", p)
				}
			}
			fmt.Fprintln(out, "\nAny process name can also be selected with 'settings set --apps'.")
			fmt.Fprintln(out, "======================")
		},
	}
}

func newLogCmd(opts *rootOptions) *cobra.Command {
	var (
		today      bool
		week       bool
		limit      int
		jsonOutput bool
	)
	cmd := &cobra.Command{
		Use:   "log",
		Short: "Show the event log",
		RunE: func(cmd *cobra.Command, args []string) error {
			if today && week {
				return fmt.Errorf("--today and --week are mutually exclusive")
			}
			return withApp(opts, func(a *app) error {
				log := a.store.LoadEventLog()
				now := time.Now()

				entries := log.Entries
				switch {
				case today:
					entries = log.Today(now)
				case week:
					entries = log.LastWeek(now)
				}
				if limit > 0 && len(entries) > limit {
					entries = entries[len(entries)-limit:]
				}

				if jsonOutput {
					if entries == nil {
						entries = []domain.EventLogEntry{}
					}
					return writeJSON(cmd.OutOrStdout(), entries)
				}
				printEntries(cmd.OutOrStdout(), entries)
				return nil
			})
		},
	}
	cmd.Flags().BoolVar(&today, "today", false, "Only entries since local midnight")
	cmd.Flags().BoolVar(&week, "week", false, "Only entries from the last 7 days")
	cmd.Flags().IntVar(&limit, "limit", 0, "Show at most the N most recent entries (0 = all)")
	cmd.Flags().BoolVar(&jsonOutput, "json", false, "Output entries as JSON")
	return cmd
}

func printEntries(out io.Writer, entries []domain.EventLogEntry) {
	if len(entries) == 0 {
		fmt.Fprintln(out, "No events.")
		return
	}
	counts := make(map[domain.EventType]int)
	for _, e := range entries {
		counts[e.EventType]++
		line := fmt.Sprintf("%s  %-18s", e.Timestamp.Local().Format("2006-01-02 15:04:05"), e.EventType)
		if e.Duration != nil {
			line += "  " + formatDuration(*e.Duration)
		}
		if e.Details != nil {
			line += "  " + *e.Details
		}
		fmt.Fprintln(out, strings.TrimRight(line, " "))
	}

	types := make([]string, 0, len(counts))
	for t := range counts {
		types = append(types, string(t))
	}
	sort.Strings(types)
	parts := make([]string, 0, len(types))
	for _, t := range types {
		parts = append(parts, fmt.Sprintf("%s=%d", t, counts[domain.EventType(t)]))
	}
	fmt.Fprintf(out, "\n%d events: %s\n", len(entries), strings.Join(parts, " "))
}
