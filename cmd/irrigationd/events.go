package main

import (
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/spf13/cobra"

	"github.com/sweeney/irrigationd/internal/events"
)

type eventsOptions struct {
	device string
	typ    string
	source string
	since  time.Duration
	limit  int
}

func newEventsCmd(opts *rootOptions) *cobra.Command {
	eo := &eventsOptions{}
	cmd := &cobra.Command{
		Use:   "events",
		Short: "Show recent entries from the event log",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, _, err := opts.load(cmd)
			if err != nil {
				return err
			}
			q, err := eo.query(time.Now())
			if err != nil {
				return err
			}
			evlog, err := events.OpenSQLite(cfg.Data.EventsDB)
			if err != nil {
				return err
			}
			defer evlog.Close()

			list, err := evlog.Query(cmd.Context(), q)
			if err != nil {
				return err
			}
			printEvents(cmd.OutOrStdout(), list)
			return nil
		},
	}
	f := cmd.Flags()
	f.StringVar(&eo.device, "device", "", "only events for this station id")
	f.StringVar(&eo.typ, "type", "", "only events of this type (INFO, WARNING, ERROR)")
	f.StringVar(&eo.source, "source", "", "only events from this source")
	f.DurationVar(&eo.since, "since", 0, "only events newer than this, e.g. 24h")
	f.IntVarP(&eo.limit, "limit", "n", 50, "maximum number of events")
	return cmd
}

func (o *eventsOptions) query(now time.Time) (events.Query, error) {
	q := events.Query{
		DeviceID: o.device,
		Source:   o.source,
		Type:     events.Type(strings.ToUpper(o.typ)),
		Limit:    o.limit,
	}
	if q.Type != "" && !q.Type.Valid() {
		return q, errors.Newf("unknown event type %q", o.typ)
	}
	if o.since > 0 {
		q.From = now.Add(-o.since)
	}
	return q, nil
}

func printEvents(w io.Writer, list []events.Event) {
	for _, e := range list {
		device := e.DeviceID
		if device == "" {
			device = "-"
		}
		fmt.Fprintf(w, "%s  %-7s  %-14s  %-6s  %s\n",
			e.Time.Format("2006-01-02 15:04:05"), e.Type, e.Source, device, e.Text)
	}
}
