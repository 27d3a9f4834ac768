package cmd

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"github.com/dativo-io/superadvisor/internal/advisor"
	"github.com/dativo-io/superadvisor/internal/member"
	"github.com/dativo-io/superadvisor/internal/requestctx"
)

var (
	askMemberID  string
	askCountry   string
	askSessionID string
	askMode      string
	askJSON      bool
)

var askCmd = &cobra.Command{
	Use:   "ask [query]",
	Short: "Run one advisory query through the pipeline",
	Example: `  superadvisor ask --member AU001 "What is my balance?"
  superadvisor ask --member UK001 --country UK "Can I withdraw at 55?"
  superadvisor ask --member US001 --mode deterministic "Project my 401(k) at 65"`,
	Args: cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
		query := strings.Join(args, " ")

		app, err := buildApp(ctx)
		if err != nil {
			return err
		}
		defer app.close(ctx)

		mc, err := app.members.Get(ctx, askMemberID)
		if err != nil {
			if errors.Is(err, member.ErrNotFound) {
				return fmt.Errorf("unknown member %q", askMemberID)
			}
			return err
		}

		country := askCountry
		if country == "" {
			country = mc.Country
		}
		if askSessionID != "" {
			ctx = requestctx.SetSessionID(ctx, askSessionID)
		}

		outcome, err := app.controller.Process(ctx, &advisor.Query{
			Text:           query,
			MemberID:       askMemberID,
			SessionID:      askSessionID,
			Country:        country,
			ValidationMode: askMode,
		}, mc)
		if err != nil {
			return fmt.Errorf("query %s failed: %w", outcome.CorrelationID, err)
		}

		if askJSON {
			enc := json.NewEncoder(os.Stdout)
			enc.SetIndent("", "  ")
			return enc.Encode(outcome)
		}
		printOutcome(outcome)
		return nil
	},
}

func printOutcome(outcome *advisor.Outcome) {
	fmt.Printf("State:       %s\n", outcome.State)
	fmt.Printf("Correlation: %s\n", outcome.CorrelationID)
	if outcome.Validation != nil {
		fmt.Printf("Validation:  passed=%t confidence=%.2f attempts=%d mode=%s\n",
			outcome.Validation.Passed, outcome.Validation.Confidence,
			outcome.Validation.Attempts, outcome.Validation.Mode)
	}
	if outcome.Cost != nil {
		fmt.Printf("Cost:        $%.6f (classification $%.6f, synthesis $%.6f, validation $%.6f)\n",
			outcome.Cost.TotalUSD,
			outcome.Cost.Classification.CostUSD,
			outcome.Cost.Synthesis.CostUSD,
			outcome.Cost.Validation.CostUSD)
	}
	fmt.Printf("Latency:     %.0fms\n", outcome.LatencyMS)
	fmt.Println()
	fmt.Println(outcome.Answer)
	if len(outcome.Citations) > 0 {
		fmt.Println()
		fmt.Println("Sources:")
		for _, cit := range outcome.Citations {
			fmt.Printf("  [%s] %s, %s\n", cit.ID, cit.Authority, cit.Regulation)
		}
	}
}

func init() {
	askCmd.Flags().StringVar(&askMemberID, "member", "", "member ID (required)")
	askCmd.Flags().StringVar(&askCountry, "country", "", "jurisdiction code (defaults to the member's)")
	askCmd.Flags().StringVar(&askSessionID, "session", "", "session ID for correlated queries")
	askCmd.Flags().StringVar(&askMode, "mode", "", "validation mode (llm_judge, deterministic)")
	askCmd.Flags().BoolVar(&askJSON, "json", false, "print the full outcome as JSON")
	_ = askCmd.MarkFlagRequired("member")
	rootCmd.AddCommand(askCmd)
}
