package main

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/abelbrown/spaceweather/internal/fetch"
)

func newKeyCmd(opts *options) *cobra.Command {
	key := &cobra.Command{
		Use:   "key",
		Short: "Show or manage the api.nasa.gov API key",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, _, err := loadConfig(opts)
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			if fetch.NewKeyStore(cfg.APIKey).IsCustom() {
				fmt.Fprintln(out, okStyle.Render("Using a personal API key"))
			} else {
				fmt.Fprintln(out, "Using the shared "+fetch.DefaultAPIKey+mutedStyle.Render(" (low hourly quota, see `donki key set`)"))
			}
			return nil
		},
	}
	key.AddCommand(&cobra.Command{
		Use:   "set <key>",
		Short: "Use a personal API key instead of the shared demo key",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return saveKey(cmd, opts, strings.TrimSpace(args[0]))
		},
	})
	key.AddCommand(&cobra.Command{
		Use:   "clear",
		Short: "Go back to the shared demo key",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return saveKey(cmd, opts, "")
		},
	})
	return key
}

func saveKey(cmd *cobra.Command, opts *options, key string) error {
	cfg, path, err := loadConfig(opts)
	if err != nil {
		return err
	}
	cfg.APIKey = key
	if err := cfg.Save(path); err != nil {
		return fmt.Errorf("save config: %w", err)
	}
	if key == "" {
		fmt.Fprintln(cmd.OutOrStdout(), okStyle.Render("API key cleared"))
	} else {
		fmt.Fprintln(cmd.OutOrStdout(), okStyle.Render("API key saved to "+path))
	}
	return nil
}
