package main

import (
	"os"

	"github.com/spf13/cobra"
)

var version = "dev"

var rootCmd = &cobra.Command{
	Use:     "popsynth",
	Short:   "Spatial population synthesis",
	Long:    `popsynth fits, integerizes, selects, and places a synthetic household and person population for a set of small areas.`,
	Version: version,
}

func init() {
	rootCmd.AddCommand(runCmd)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}
