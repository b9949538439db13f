package main

import (
	"fmt"

	"github.com/52poke/sitecache/internal/cache"
	"github.com/spf13/cobra"
)

var bucketsCmd = &cobra.Command{
	Use:   "buckets",
	Short: "List cache buckets in storage",
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := newApp(cmd.Context())
		if err != nil {
			return err
		}
		names, err := a.storage.Keys(cmd.Context())
		if err != nil {
			return err
		}
		current := cache.BucketName(a.cfg.CachePrefix, a.cfg.CacheVersion)
		for _, name := range names {
			marker := " "
			if name == current {
				marker = "*"
			}
			fmt.Fprintf(cmd.OutOrStdout(), "%s %s\n", marker, name)
		}
		return nil
	},
}
