// Package member holds the member profile model and the SQL-backed data
// catalog the calculation tools and the pipeline read from. Profiles are
// read-only inputs to query processing; the pipeline never writes them.
package member

import "fmt"

// Context carries the member attributes a query is grounded on. The pipeline
// treats it as read-only and anonymizes direct identifiers before any value
// reaches a model-facing prompt.
type Context struct {
	MemberID                 string  `json:"member_id"`
	Name                     string  `json:"name"`
	Age                      int     `json:"age"`
	Country                  string  `json:"country"`
	SuperBalance             float64 `json:"super_balance"`
	MaritalStatus            string  `json:"marital_status"`
	OtherAssets              float64 `json:"other_assets"`
	PreservationAge          int     `json:"preservation_age"`
	AccountBasedPension      float64 `json:"account_based_pension"`
	AnnualIncomeOutsideSuper float64 `json:"annual_income_outside_super"`
	Debt                     float64 `json:"debt"`
	Dependents               int     `json:"dependents"`
	EmploymentStatus         string  `json:"employment_status"`
	RiskProfile              string  `json:"risk_profile"`
	HomeOwnership            string  `json:"home_ownership"`
}

// YearsToPreservation returns how many years remain until the member reaches
// preservation age, floored at zero.
func (c *Context) YearsToPreservation() int {
	if c.Age >= c.PreservationAge {
		return 0
	}
	return c.PreservationAge - c.Age
}

// Retired reports whether the member's employment status marks them as
// already retired.
func (c *Context) Retired() bool {
	return c.EmploymentStatus == "Retired"
}

func (c *Context) validate() error {
	if c.MemberID == "" {
		return fmt.Errorf("member context missing member_id")
	}
	if c.Country == "" {
		return fmt.Errorf("member %s missing country", c.MemberID)
	}
	if c.Age <= 0 {
		return fmt.Errorf("member %s has invalid age %d", c.MemberID, c.Age)
	}
	return nil
}
