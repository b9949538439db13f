package main

import (
	"fmt"

	"github.com/spf13/cobra"
)

var installCmd = &cobra.Command{
	Use:   "install",
	Short: "Install and activate the configured cache version, then exit",
	Long: `Fetches every manifest entry into the bucket of the configured version and
deletes every other bucket. Exits non-zero when any manifest entry fails.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := newApp(cmd.Context())
		if err != nil {
			return err
		}
		w, err := a.registry.Register(cmd.Context(), a.cfg.CacheVersion, a.cfg.Manifest)
		if err != nil {
			return err
		}
		fmt.Fprintf(cmd.OutOrStdout(), "%s active (%d entries)\n", w.Bucket, len(w.Manifest))
		return nil
	},
}
