package cmd

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"
)

var costsSince time.Duration

var costsCmd = &cobra.Command{
	Use:   "costs",
	Short: "Report per-jurisdiction query spend from the audit trail",
	RunE: func(cmd *cobra.Command, args []string) error {
		store, err := openAuditStore()
		if err != nil {
			return err
		}
		defer store.Close()

		summaries, err := store.Costs(cmd.Context(), time.Now().Add(-costsSince))
		if err != nil {
			return err
		}
		if len(summaries) == 0 {
			fmt.Println("No queries in the selected window.")
			return nil
		}

		var totalQueries, totalBlocked int
		var totalCost float64
		fmt.Printf("%-8s %-10s %-10s %s\n", "COUNTRY", "QUERIES", "BLOCKED", "COST")
		for _, s := range summaries {
			fmt.Printf("%-8s %-10d %-10d $%.6f\n", s.Country, s.Queries, s.Blocked, s.TotalCostUSD)
			totalQueries += s.Queries
			totalBlocked += s.Blocked
			totalCost += s.TotalCostUSD
		}
		fmt.Printf("%-8s %-10d %-10d $%.6f\n", "total", totalQueries, totalBlocked, totalCost)
		return nil
	},
}

func init() {
	costsCmd.Flags().DurationVar(&costsSince, "since", 24*time.Hour, "report window")
	rootCmd.AddCommand(costsCmd)
}
