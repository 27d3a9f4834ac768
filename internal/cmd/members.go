package cmd

import (
	"fmt"

	"github.com/spf13/cobra"
)

var membersCountry string

var membersCmd = &cobra.Command{
	Use:   "members",
	Short: "List member profiles in the data catalog",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
		app, err := buildApp(ctx)
		if err != nil {
			return err
		}
		defer app.close(ctx)

		profiles, err := app.members.ListByCountry(ctx, membersCountry)
		if err != nil {
			return err
		}
		if len(profiles) == 0 {
			fmt.Printf("No members in %s.\n", membersCountry)
			return nil
		}
		fmt.Printf("%-8s %-20s %-4s %-12s %s\n", "ID", "NAME", "AGE", "BALANCE", "EMPLOYMENT")
		for _, p := range profiles {
			fmt.Printf("%-8s %-20s %-4d %-12.0f %s\n",
				p.MemberID, p.Name, p.Age, p.SuperBalance, p.EmploymentStatus)
		}
		return nil
	},
}

func init() {
	membersCmd.Flags().StringVar(&membersCountry, "country", "AU", "jurisdiction code")
	rootCmd.AddCommand(membersCmd)
}
