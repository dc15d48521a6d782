package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/abelbrown/spaceweather/internal/donki"
	"github.com/abelbrown/spaceweather/internal/paging"
	"github.com/abelbrown/spaceweather/internal/repo"
)

func newNotificationsCmd(opts *options) *cobra.Command {
	var f listFlags
	cmd := &cobra.Command{
		Use:   "notifications",
		Short: "List notification summaries, newest first",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := openApp(opts)
			if err != nil {
				return err
			}
			defer a.Close()

			types, err := f.notificationTypes()
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
				sums, err := a.notifications.SummariesForWeek(cmd.Context(), w, types, r)
				if err != nil {
					return err
				}
				fmt.Fprintln(out, headerStyle.Render("Week of "+w.String()))
				printNotificationSummaries(out, sums)
				return nil
			}

			filters := paging.NewFilters(paging.NotificationFilter{Types: types, DateRange: r})
			pager := paging.NewNotificationsPager(a.notifications, filters, paging.SourceOptions{Events: a.otel})
			defer pager.Close()
			sums, err := pager.Collect(cmd.Context(), f.pages)
			if err != nil {
				return err
			}
			printNotificationSummaries(out, sums)
			return nil
		},
	}
	f.register(cmd, "notification types, e.g. Report,FLR (default all)")
	return cmd
}

func newNotificationCmd(opts *options) *cobra.Command {
	return &cobra.Command{
		Use:   "notification <id>",
		Short: "Show one cached notification and mark it read",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := openApp(opts)
			if err != nil {
				return err
			}
			defer a.Close()

			n, err := a.notifications.ByIDAndMarkRead(cmd.Context(), donki.NotificationID(args[0]))
			if repo.IsNotFound(err) {
				return fmt.Errorf("notification %s is not cached; list its week first", args[0])
			}
			if err != nil {
				return err
			}

			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "%s %s\n", typeBadge.Render(string(n.Type)), headerStyle.Render(n.Title))
			fmt.Fprintln(out, when(n.Time))
			if n.Link != "" {
				fmt.Fprintln(out, mutedStyle.Render(n.Link))
			}
			fmt.Fprintln(out)
			fmt.Fprintln(out, n.Body)
			return nil
		},
	}
}

func newUnreadCmd(opts *options) *cobra.Command {
	return &cobra.Command{
		Use:   "unread",
		Short: "Print the number of unread notifications",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := openApp(opts)
			if err != nil {
				return err
			}
			defer a.Close()
			fmt.Fprintln(cmd.OutOrStdout(), a.notifications.UnreadCount(cmd.Context()))
			return nil
		},
	}
}

func newMarkReadCmd(opts *options) *cobra.Command {
	return &cobra.Command{
		Use:   "mark-read",
		Short: "Mark every cached notification read",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := openApp(opts)
			if err != nil {
				return err
			}
			defer a.Close()
			n, err := a.notifications.MarkAllRead(cmd.Context())
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), okStyle.Render(fmt.Sprintf("Marked %d notifications read", n)))
			return nil
		},
	}
}
