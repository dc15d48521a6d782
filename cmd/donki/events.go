package main

import (
	"bytes"
	"encoding/json"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/abelbrown/spaceweather/internal/donki"
	"github.com/abelbrown/spaceweather/internal/paging"
	"github.com/abelbrown/spaceweather/internal/repo"
)

func newEventsCmd(opts *options) *cobra.Command {
	var f listFlags
	var refreshIfNeeded bool
	cmd := &cobra.Command{
		Use:   "events",
		Short: "List event summaries, newest first",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := openApp(opts)
			if err != nil {
				return err
			}
			defer a.Close()

			defaults, err := a.cfg.Types()
			if err != nil {
				return err
			}
			types, err := f.eventTypes(defaults)
			if err != nil {
				return err
			}
			r, err := f.dateRange()
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()

			w, single, err := f.singleWeek()
			if err != nil {
				return err
			}
			if single {
				sums, err := a.events.SummariesForWeek(cmd.Context(), w, types, r, refreshIfNeeded)
				if err != nil {
					return err
				}
				fmt.Fprintln(out, headerStyle.Render("Week of "+w.String()))
				printEventSummaries(out, sums)
				return nil
			}

			filters := paging.NewFilters(paging.EventFilter{Types: types, DateRange: r})
			pager := paging.NewEventsPager(a.events, filters, paging.SourceOptions{Events: a.otel})
			defer pager.Close()
			sums, err := pager.Collect(cmd.Context(), f.pages)
			if err != nil {
				return err
			}
			printEventSummaries(out, sums)
			return nil
		},
	}
	f.register(cmd, "event types, e.g. FLR,CME (default from config, else all)")
	cmd.Flags().BoolVar(&refreshIfNeeded, "refresh", false, "with --week, refetch the week if its cache is stale")
	return cmd
}

func newEventCmd(opts *options) *cobra.Command {
	var force bool
	cmd := &cobra.Command{
		Use:   "event <id>",
		Short: "Show one event",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := openApp(opts)
			if err != nil {
				return err
			}
			defer a.Close()

			res, err := a.events.ByID(cmd.Context(), donki.EventID(args[0]), force)
			if repo.IsNotFound(err) {
				return fmt.Errorf("event %s not found", args[0])
			}
			if err != nil {
				return err
			}

			out := cmd.OutOrStdout()
			e := res.Event
			fmt.Fprintf(out, "%s %s\n", typeBadge.Render(string(e.Type)), headerStyle.Render(string(e.ID)))
			fmt.Fprintf(out, "%s %s\n", e.Type.DisplayName(), when(e.Time))
			if x := extrasText(e.Extras); x != "" {
				fmt.Fprintln(out, x)
			}
			if e.Link != "" {
				fmt.Fprintln(out, mutedStyle.Render(e.Link))
			}
			for _, id := range e.LinkedEvents {
				fmt.Fprintln(out, mutedStyle.Render("linked: "+string(id)))
			}
			var pretty bytes.Buffer
			if err := json.Indent(&pretty, e.JSON, "", "  "); err == nil {
				fmt.Fprintln(out, pretty.String())
			}
			if res.NeedsRefresh {
				fmt.Fprintln(out, mutedStyle.Render("The cached copy may be outdated; use --force to refetch it."))
			}
			return nil
		},
	}
	cmd.Flags().BoolVar(&force, "force", false, "refetch the event's week from the network")
	return cmd
}
