// Command donki browses the NASA DONKI space weather feed through a local
// cache.
//
// Usage:
//
//	donki events                 Event summaries, newest week first
//	donki event <id>             One event's payload
//	donki notifications          Notification summaries
//	donki notification <id>      One notification, marked read
//	donki unread                 Unread notification count
//	donki mark-read              Mark every notification read
//	donki refresh                Refresh stale cached weeks
//	donki update                 Run one background update
//	donki serve                  Periodic updates plus /metrics
//	donki key set|clear          Manage the API key
//	donki log                    Observability event log viewer
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	err := newRootCmd().ExecuteContext(ctx)
	stop()
	if err != nil {
		fmt.Fprintln(os.Stderr, errorStyle.Render("error: "+err.Error()))
		os.Exit(1)
	}
}
