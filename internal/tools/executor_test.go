package tools

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dativo-io/superadvisor/internal/classify"
	"github.com/dativo-io/superadvisor/internal/member"
)

func newTestExecutor(t *testing.T) (*Executor, *member.Store) {
	t.Helper()
	store, err := member.NewStore(filepath.Join(t.TempDir(), "catalog.db"))
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })

	registry, err := LoadRegistry()
	require.NoError(t, err)
	return NewExecutor(registry, store), store
}

func seedMember(t *testing.T, store *member.Store) *member.Context {
	t.Helper()
	mc := &member.Context{
		MemberID: "AU100", Name: "Test Member", Age: 58, Country: "AU",
		SuperBalance: 400000, OtherAssets: 50000, PreservationAge: 60,
		AnnualIncomeOutsideSuper: 90000, Debt: 20000,
		EmploymentStatus: "Full-time", RiskProfile: "Balanced",
	}
	require.NoError(t, store.Put(context.Background(), mc))
	return mc
}

func TestRegistryKeys(t *testing.T) {
	registry, err := LoadRegistry()
	require.NoError(t, err)

	def, err := registry.Lookup("AU-tax")
	require.NoError(t, err)
	assert.Equal(t, "AU", def.Country)
	assert.Contains(t, def.Citations, "AU-TAX-001")

	_, err = registry.Lookup("AU-teleport")
	assert.ErrorIs(t, err, ErrUnknownTool)

	// Every jurisdiction declares the full tool set.
	assert.Len(t, registry.Keys(), 20)
}

func TestPlanToolsByTopic(t *testing.T) {
	e, store := newTestExecutor(t)
	mc := seedMember(t, store)

	plan, err := e.PlanTools(&classify.Result{Topic: classify.TopicWithdrawal}, mc)
	require.NoError(t, err)
	require.Len(t, plan.Calls, 2)
	assert.Equal(t, "AU-tax", plan.Calls[0].Key)
	assert.Equal(t, "AU-balance", plan.Calls[1].Key)
	assert.Equal(t, 40000.0, plan.Calls[0].Arguments["withdrawal_amount"])
}

func TestPlanToolsUnknownJurisdiction(t *testing.T) {
	e, store := newTestExecutor(t)
	mc := seedMember(t, store)
	mc.Country = "FR"

	_, err := e.PlanTools(&classify.Result{Topic: classify.TopicBalance}, mc)
	assert.ErrorIs(t, err, ErrUnknownTool)
}

func TestExecutePlanOrder(t *testing.T) {
	e, store := newTestExecutor(t)
	mc := seedMember(t, store)

	plan, err := e.PlanTools(&classify.Result{Topic: classify.TopicGeneral}, mc)
	require.NoError(t, err)

	results := e.Execute(context.Background(), plan)
	require.Len(t, results, len(plan.Calls))
	for i, r := range results {
		assert.Equal(t, plan.Calls[i].Key, r.ToolName)
		assert.False(t, r.Failed(), "call %s failed: %s", r.ToolName, r.Err)
		assert.NotEmpty(t, r.Output)
	}
	assert.False(t, AllFailed(results))
}

func TestExecutePartialFailure(t *testing.T) {
	e, store := newTestExecutor(t)
	mc := seedMember(t, store)

	plan := &Plan{
		MemberID: mc.MemberID,
		Country:  mc.Country,
		Calls: []Call{
			{Key: "AU-tax", Arguments: map[string]any{"withdrawal_amount": 9_000_000.0}},
			{Key: "AU-balance"},
		},
	}

	results := e.Execute(context.Background(), plan)
	require.Len(t, results, 2)
	assert.True(t, results[0].Failed())
	assert.False(t, results[1].Failed())
	assert.False(t, AllFailed(results))
}

func TestExecuteUnknownMemberAllFail(t *testing.T) {
	e, _ := newTestExecutor(t)

	plan := &Plan{
		MemberID: "ZZ999",
		Country:  "AU",
		Calls:    []Call{{Key: "AU-balance"}, {Key: "AU-preservation"}},
	}
	results := e.Execute(context.Background(), plan)
	require.Len(t, results, 2)
	assert.True(t, AllFailed(results))
}

func TestWithdrawalTaxRules(t *testing.T) {
	args := map[string]any{"withdrawal_amount": 50000.0}

	under := &member.Context{Age: 55, PreservationAge: 60, SuperBalance: 400000}
	out, err := calcWithdrawalTax("AU", under, args)
	require.NoError(t, err)
	assert.Equal(t, 50000*0.22, out["tax"])

	over := &member.Context{Age: 63, PreservationAge: 60, SuperBalance: 400000}
	out, err = calcWithdrawalTax("AU", over, args)
	require.NoError(t, err)
	assert.Equal(t, 0.0, out["tax"])

	usEarly := &member.Context{Age: 55, PreservationAge: 59, SuperBalance: 400000}
	out, err = calcWithdrawalTax("US", usEarly, args)
	require.NoError(t, err)
	assert.Equal(t, 5000.0, out["early_withdrawal_penalty"])

	uk := &member.Context{Age: 58, PreservationAge: 55, SuperBalance: 400000}
	out, err = calcWithdrawalTax("UK", uk, args)
	require.NoError(t, err)
	assert.Equal(t, 12500.0, out["tax_free_portion"])
	assert.Equal(t, 7500.0, out["tax"])
}

func TestProjectionGrowsWithYears(t *testing.T) {
	mc := &member.Context{
		Age: 50, PreservationAge: 60, SuperBalance: 200000,
		AnnualIncomeOutsideSuper: 80000, RiskProfile: "Growth",
	}
	out := calcProjection(mc)
	assert.Equal(t, 10, out["years_projected"])
	assert.Greater(t, out["projected_balance"].(float64), 200000.0)

	retired := &member.Context{Age: 65, PreservationAge: 60, SuperBalance: 200000}
	out = calcProjection(retired)
	assert.Equal(t, 0, out["years_projected"])
	assert.Equal(t, 200000.0, out["projected_balance"].(float64))
}
