package main

import (
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/spf13/cobra"

	"github.com/abelbrown/spaceweather/internal/coord"
	"github.com/abelbrown/spaceweather/internal/donki"
	"github.com/abelbrown/spaceweather/internal/logging"
	"github.com/abelbrown/spaceweather/internal/metrics"
	"github.com/abelbrown/spaceweather/internal/otel"
	"github.com/abelbrown/spaceweather/internal/work"
)

func newUpdateCmd(opts *options) *cobra.Command {
	var skipRecent bool
	cmd := &cobra.Command{
		Use:   "update",
		Short: "Run one background update and list new unread notifications",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := openApp(opts)
			if err != nil {
				return err
			}
			defer a.Close()

			c := coord.NewCoordinator(a.notifications, coord.Options{Events: a.otel})
			unread, err := c.Update(cmd.Context(), !skipRecent)
			printNotificationSummaries(cmd.OutOrStdout(), unread)
			return err
		},
	}
	cmd.Flags().BoolVar(&skipRecent, "skip-recent", false, "skip weeks loaded within the last hour")
	return cmd
}

func newServeCmd(opts *options) *cobra.Command {
	var addr string
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run background updates periodically and serve /metrics",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := openApp(opts)
			if err != nil {
				return err
			}
			defer a.Close()

			if addr == "" {
				addr = a.cfg.MetricsAddr
			}
			ctx := cmd.Context()
			out := cmd.OutOrStdout()

			metrics.MustRegister(prometheus.DefaultRegisterer)
			metrics.StartServer(ctx, addr, prometheus.DefaultGatherer, map[string]http.Handler{
				"/debug/events": otel.Handler(a.ring),
				"/debug/work":   workHandler(a.pool),
			})

			c := coord.NewCoordinator(a.notifications, coord.Options{
				Interval: time.Duration(a.cfg.UpdateInterval),
				Events:   a.otel,
				OnUpdate: func(unread []donki.NotificationSummary, err error) {
					if err != nil {
						fmt.Fprintln(out, errorStyle.Render("update failed: "+err.Error()))
					}
					if len(unread) > 0 {
						fmt.Fprintln(out, headerStyle.Render(fmt.Sprintf("%d new notifications", len(unread))))
						printNotificationSummaries(out, unread)
					}
				},
			})
			logging.Info("Serving", "addr", addr, "interval", c.Interval())
			fmt.Fprintf(out, "Updating every %s, metrics on http://%s/metrics\n", c.Interval(), addr)
			c.Start(ctx)
			<-ctx.Done()
			c.Wait()
			return nil
		},
	}
	cmd.Flags().StringVar(&addr, "addr", "", "metrics listen address (default from config)")
	return cmd
}

// workHandler serves the pool's counters and recent items.
func workHandler(p *work.Pool) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		type item struct {
			ID          string  `json:"id"`
			Type        string  `json:"type"`
			Status      string  `json:"status"`
			Description string  `json:"description"`
			DurMs       float64 `json:"dur_ms"`
			Err         string  `json:"err,omitempty"`
		}
		recent := p.Recent()
		items := make([]item, 0, len(recent))
		for _, it := range recent {
			v := item{
				ID:          it.ID,
				Type:        string(it.Type),
				Status:      string(it.Status),
				Description: it.Description,
				DurMs:       float64(it.Duration()) / float64(time.Millisecond),
			}
			if it.Error != nil {
				v.Err = it.Error.Error()
			}
			items = append(items, v)
		}
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(struct {
			Stats  work.Stats `json:"stats"`
			Recent []item     `json:"recent"`
		}{p.Stats(), items})
	})
}
