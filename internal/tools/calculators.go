package tools

import (
	"fmt"
	"math"

	"github.com/dativo-io/superadvisor/internal/member"
)

// runCalculator dispatches a catalog entry to its jurisdiction-aware
// calculation. Outputs carry only financial figures, never member
// identifiers.
func runCalculator(def *Definition, mc *member.Context, args map[string]any) (map[string]any, error) {
	switch def.ToolID {
	case ToolBalance:
		return calcBalance(mc), nil
	case ToolTax:
		return calcWithdrawalTax(def.Country, mc, args)
	case ToolProjection:
		return calcProjection(mc), nil
	case ToolPreservation:
		return calcPreservation(mc), nil
	case ToolContributions:
		return calcContributions(def.Country, mc), nil
	default:
		return nil, fmt.Errorf("%w: %s", ErrUnknownTool, def.Key)
	}
}

func calcBalance(mc *member.Context) map[string]any {
	return map[string]any{
		"account_balance":       mc.SuperBalance,
		"other_assets":          mc.OtherAssets,
		"account_based_pension": mc.AccountBasedPension,
		"outstanding_debt":      mc.Debt,
		"net_position":          mc.SuperBalance + mc.OtherAssets - mc.Debt,
	}
}

// calcWithdrawalTax applies the jurisdiction's lump-sum rules to a withdrawal
// amount. The figures are the headline rates each authority publishes; the
// answer cites the authority rather than pretending to be a full assessment.
func calcWithdrawalTax(country string, mc *member.Context, args map[string]any) (map[string]any, error) {
	amount, err := floatArg(args, "withdrawal_amount")
	if err != nil {
		return nil, err
	}
	if amount <= 0 || amount > mc.SuperBalance {
		return nil, fmt.Errorf("withdrawal amount %.2f outside available balance %.2f", amount, mc.SuperBalance)
	}

	out := map[string]any{"withdrawal_amount": amount}
	switch country {
	case "AU":
		// Tax-free from a taxed fund at or after preservation age.
		if mc.Age >= mc.PreservationAge {
			out["tax"] = 0.0
			out["note"] = "lump sum tax-free at or after preservation age"
		} else {
			out["tax"] = amount * 0.22
			out["note"] = "taxed component withheld at 22% before preservation age"
		}
	case "US":
		tax := amount * 0.22
		if float64(mc.Age) < 59.5 {
			penalty := amount * 0.10
			out["early_withdrawal_penalty"] = penalty
			tax += penalty
			out["note"] = "10% early distribution penalty applies before age 59.5"
		}
		out["tax"] = tax
	case "UK":
		taxFree := math.Min(amount*0.25, 268275)
		out["tax_free_portion"] = taxFree
		out["tax"] = (amount - taxFree) * 0.20
		out["note"] = "25% tax-free lump sum, remainder taxed as income"
	case "IN":
		if mc.Age >= mc.PreservationAge {
			out["tax"] = 0.0
			out["note"] = "EPF withdrawal tax-exempt at retirement age"
		} else {
			out["tax"] = amount * 0.10
			out["note"] = "TDS at 10% on early EPF withdrawal"
		}
	default:
		return nil, fmt.Errorf("no withdrawal tax rules for jurisdiction %s", country)
	}
	out["net_amount"] = amount - out["tax"].(float64)
	return out, nil
}

func calcProjection(mc *member.Context) map[string]any {
	rate := growthRate(mc.RiskProfile)
	years := mc.YearsToPreservation()

	projected := mc.SuperBalance
	contribution := mc.AnnualIncomeOutsideSuper * 0.10
	for i := 0; i < years; i++ {
		projected = projected*(1+rate) + contribution
	}
	return map[string]any{
		"current_balance":             mc.SuperBalance,
		"assumed_growth_rate":         rate,
		"assumed_annual_contribution": contribution,
		"years_projected":             years,
		"projected_balance":           math.Round(projected),
	}
}

func calcPreservation(mc *member.Context) map[string]any {
	return map[string]any{
		"preservation_age": mc.PreservationAge,
		"current_age":      mc.Age,
		"years_to_access":  mc.YearsToPreservation(),
		"accessible":       mc.Age >= mc.PreservationAge,
	}
}

func calcContributions(country string, mc *member.Context) map[string]any {
	out := map[string]any{"annual_income": mc.AnnualIncomeOutsideSuper}
	switch country {
	case "AU":
		cap := 30000.0
		out["concessional_cap"] = cap
		out["employer_contribution"] = mc.AnnualIncomeOutsideSuper * 0.115
		out["estimated_headroom"] = math.Max(cap-mc.AnnualIncomeOutsideSuper*0.115, 0)
	case "UK":
		out["annual_allowance"] = 60000.0
	case "US":
		out["elective_deferral_limit"] = 23500.0
	case "IN":
		out["employee_epf_rate"] = 0.12
		out["annual_epf_contribution"] = mc.AnnualIncomeOutsideSuper * 0.12
	}
	return out
}

func growthRate(riskProfile string) float64 {
	switch riskProfile {
	case "Conservative":
		return 0.05
	case "Balanced", "Moderate":
		return 0.065
	case "Growth":
		return 0.08
	case "Aggressive":
		return 0.09
	default:
		return 0.06
	}
}

func floatArg(args map[string]any, key string) (float64, error) {
	v, ok := args[key]
	if !ok {
		return 0, fmt.Errorf("missing argument %q", key)
	}
	switch n := v.(type) {
	case float64:
		return n, nil
	case int:
		return float64(n), nil
	default:
		return 0, fmt.Errorf("argument %q must be numeric, got %T", key, v)
	}
}
