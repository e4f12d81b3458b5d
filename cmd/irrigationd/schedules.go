package main

import (
	"fmt"
	"io"
	"sort"
	"strconv"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/sweeney/irrigationd/internal/schedule"
)

func newSchedulesCmd(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "schedules",
		Short: "List stored schedules and their next fire time",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, _, err := opts.load(cmd)
			if err != nil {
				return err
			}
			loc, err := cfg.Location()
			if err != nil {
				return err
			}
			list, err := schedule.FileStore{Path: cfg.Data.Schedules}.LoadAll(cmd.Context())
			if err != nil {
				return err
			}
			return printSchedules(cmd.OutOrStdout(), list, time.Now().In(loc))
		},
	}
}

func printSchedules(w io.Writer, list []schedule.Entry, now time.Time) error {
	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "NAME\tSTATION\tACTION\tMINUTES\tACTIVE\tNEXT")
	for _, e := range sortedEntries(list) {
		fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%t\t%s\n",
			e.Name, e.DeviceID, e.Action, minutes(e), e.Active, nextFire(e, now))
	}
	return tw.Flush()
}

func sortedEntries(list []schedule.Entry) []schedule.Entry {
	out := append([]schedule.Entry(nil), list...)
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}

func minutes(e schedule.Entry) string {
	if e.Action != schedule.ActionOn {
		return "-"
	}
	if e.DurationMinutes <= 0 {
		return "max"
	}
	return strconv.Itoa(e.DurationMinutes)
}

func nextFire(e schedule.Entry, now time.Time) string {
	if !e.Active || e.Rule == nil {
		return "-"
	}
	if err := e.Rule.Validate(); err != nil {
		return "invalid rule"
	}
	next := e.Rule.Next(now)
	if next.IsZero() {
		return "never"
	}
	return next.Format("2006-01-02 15:04:05 MST")
}
