package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

var rootCmd = &cobra.Command{
	Use:          "kirin",
	Short:        "Kirin disruption ingestion daemon",
	Long:         "Ingests GTFS-RT and COTS/IRE real-time disruption feeds, merges them into per-trip TripUpdates, and republishes a GTFS-RT feed",
	SilenceUsage: true,
}

var configPath string

func init() {
	rootCmd.PersistentFlags().StringVarP(&configPath, "config", "c", "", "path to a contributor config file (JSON)")
	rootCmd.AddCommand(serveCmd)
	rootCmd.AddCommand(purgeCmd)
	rootCmd.AddCommand(pollCmd)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Println(err)
		os.Exit(1)
	}
}
