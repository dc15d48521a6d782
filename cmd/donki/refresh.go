package main

import (
	"context"
	"fmt"
	"io"

	"github.com/spf13/cobra"

	"github.com/abelbrown/spaceweather/internal/donki"
	"github.com/abelbrown/spaceweather/internal/paging"
	"github.com/abelbrown/spaceweather/internal/refresh"
)

func newRefreshCmd(opts *options) *cobra.Command {
	var f listFlags
	cmd := &cobra.Command{
		Use:   "refresh",
		Short: "Refetch every stale cached week and report what is left",
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
			eventTypes, err := f.eventTypes(defaults)
			if err != nil {
				return err
			}
			r, err := f.dateRange()
			if err != nil {
				return err
			}
			ctx := cmd.Context()
			out := cmd.OutOrStdout()
			srcOpts := paging.SourceOptions{Events: a.otel}

			events := paging.NewEventsPager(a.events, paging.NewFilters(paging.EventFilter{Types: eventTypes, DateRange: r}), srcOpts)
			defer events.Close()
			if err := runMediator(ctx, out, "Events", events.Mediator); err != nil {
				return err
			}
			printState(ctx, out, "Events", func(ctx context.Context) <-chan refresh.State {
				return a.events.NeedToRefreshState(ctx, eventTypes, r)
			})

			notifications := paging.NewNotificationsPager(a.notifications, paging.NewFilters(paging.NotificationFilter{Types: donki.NotificationTypes(), DateRange: r}), srcOpts)
			defer notifications.Close()
			if err := runMediator(ctx, out, "Notifications", notifications.Mediator); err != nil {
				return err
			}
			printState(ctx, out, "Notifications", func(ctx context.Context) <-chan refresh.State {
				return a.notifications.NeedToRefreshState(ctx, donki.NotificationTypes(), r)
			})
			return nil
		},
	}
	cmd.Flags().StringSliceVar(&f.types, "types", nil, "event types to refresh (default from config, else all)")
	cmd.Flags().StringVar(&f.from, "from", "", "first day of the date range (YYYY-MM-DD)")
	cmd.Flags().StringVar(&f.to, "to", "", "last day of the date range (YYYY-MM-DD)")
	return cmd
}

func runMediator(ctx context.Context, out io.Writer, label string, m paging.RemoteMediator) error {
	res, err := m.Load(ctx, paging.Refresh)
	if err != nil {
		return err
	}
	if res.Err != nil {
		fmt.Fprintf(out, "%s: %s\n", label, errorStyle.Render("refresh failed: "+res.Err.Error()))
		return nil
	}
	fmt.Fprintf(out, "%s: %s\n", label, okStyle.Render("refreshed"))
	return nil
}

// printState prints the first state the watcher reports.
func printState(ctx context.Context, out io.Writer, label string, watch func(context.Context) <-chan refresh.State) {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()
	if s, ok := <-watch(ctx); ok {
		fmt.Fprintf(out, "%s: %s\n", label, stateText(s))
	}
}
