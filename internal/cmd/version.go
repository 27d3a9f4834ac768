package cmd

import (
	"fmt"
	"runtime"

	"github.com/spf13/cobra"
)

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print version information",
	Run: func(cmd *cobra.Command, args []string) {
		fmt.Printf("superadvisor %s (commit %s, %s)\n", Version, Commit, runtime.Version())
	},
}

func init() {
	rootCmd.AddCommand(versionCmd)
}
