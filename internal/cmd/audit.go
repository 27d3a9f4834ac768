package cmd

import (
	"encoding/json"
	"fmt"
	"os"
	"strings"

	"github.com/spf13/cobra"
)

var auditLimit int

var auditCmd = &cobra.Command{
	Use:   "audit",
	Short: "Inspect the signed governance trail",
}

var auditListCmd = &cobra.Command{
	Use:   "list",
	Short: "List recent audit records, newest first",
	RunE: func(cmd *cobra.Command, args []string) error {
		store, err := openAuditStore()
		if err != nil {
			return err
		}
		defer store.Close()

		records, err := store.List(cmd.Context(), auditLimit)
		if err != nil {
			return err
		}
		if len(records) == 0 {
			fmt.Println("No audit records.")
			return nil
		}
		fmt.Printf("%-14s %-18s %-8s %-4s %-18s %-10s %s\n",
			"EVENT", "CORRELATION", "MEMBER", "CTRY", "STATE", "COST", "CREATED")
		for _, rec := range records {
			fmt.Printf("%-14s %-18s %-8s %-4s %-18s $%-9.6f %s\n",
				rec.EventID, rec.CorrelationID, rec.MemberID, rec.Country,
				rec.State, rec.TotalCostUSD, rec.CreatedAt.Format("2006-01-02 15:04:05"))
		}
		return nil
	},
}

var auditShowCmd = &cobra.Command{
	Use:   "show <event-id>",
	Short: "Print one audit record as JSON",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		store, err := openAuditStore()
		if err != nil {
			return err
		}
		defer store.Close()

		rec, err := store.Get(cmd.Context(), args[0])
		if err != nil {
			return err
		}
		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		return enc.Encode(rec)
	},
}

var auditVerifyCmd = &cobra.Command{
	Use:   "verify [event-id]",
	Short: "Verify record signatures (all records when no ID is given)",
	Args:  cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		store, err := openAuditStore()
		if err != nil {
			return err
		}
		defer store.Close()

		if len(args) == 1 {
			rec, err := store.Get(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			if !store.Verify(rec) {
				return fmt.Errorf("record %s: signature INVALID", rec.EventID)
			}
			fmt.Printf("Record %s: signature valid\n", rec.EventID)
			return nil
		}

		records, err := store.List(cmd.Context(), auditLimit)
		if err != nil {
			return err
		}
		var bad []string
		for _, rec := range records {
			if !store.Verify(rec) {
				bad = append(bad, rec.EventID)
			}
		}
		if len(bad) > 0 {
			return fmt.Errorf("%d of %d records have invalid signatures: %s",
				len(bad), len(records), strings.Join(bad, ", "))
		}
		fmt.Printf("All %d records verified.\n", len(records))
		return nil
	},
}

func init() {
	auditCmd.PersistentFlags().IntVar(&auditLimit, "limit", 50, "maximum records to read")
	auditCmd.AddCommand(auditListCmd, auditShowCmd, auditVerifyCmd)
	rootCmd.AddCommand(auditCmd)
}
