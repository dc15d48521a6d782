package main

import (
	"github.com/spf13/cobra"
)

// options are the persistent flags shared by every command.
type options struct {
	configPath string
	verbose    bool
}

func newRootCmd() *cobra.Command {
	opts := &options{}
	root := &cobra.Command{
		Use:           "donki",
		Short:         "Browse NASA DONKI space weather events and notifications",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.PersistentFlags().StringVar(&opts.configPath, "config", "", "config file (default is $DONKI_DATA_DIR or ~/.spaceweather, config.json)")
	root.PersistentFlags().BoolVarP(&opts.verbose, "verbose", "v", false, "log debug output to stderr")

	root.AddCommand(newEventsCmd(opts))
	root.AddCommand(newEventCmd(opts))
	root.AddCommand(newNotificationsCmd(opts))
	root.AddCommand(newNotificationCmd(opts))
	root.AddCommand(newUnreadCmd(opts))
	root.AddCommand(newMarkReadCmd(opts))
	root.AddCommand(newRefreshCmd(opts))
	root.AddCommand(newUpdateCmd(opts))
	root.AddCommand(newServeCmd(opts))
	root.AddCommand(newKeyCmd(opts))
	root.AddCommand(newLogCmd(opts))
	return root
}
