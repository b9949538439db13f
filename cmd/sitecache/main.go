package main

import (
	"os"

	"github.com/spf13/cobra"
)

var rootCmd = &cobra.Command{
	Use:   "sitecache",
	Short: "Offline-first cache in front of a static site",
	Long: `sitecache proxies a static site and keeps a versioned copy of it.
Pages and assets keep being served from the cache when the origin is down.`,
	SilenceUsage: true,
}

func main() {
	rootCmd.AddCommand(serveCmd, installCmd, bucketsCmd)
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}
