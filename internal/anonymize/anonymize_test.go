package anonymize

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dativo-io/superadvisor/internal/member"
)

func TestAnonymizeReplacesIdentifiers(t *testing.T) {
	mc := &member.Context{
		MemberID: "AU001", Name: "Margaret Chen", Age: 58, Country: "AU",
		SuperBalance: 485000, PreservationAge: 60,
	}

	anon, tm := Anonymize(mc)
	require.NotNil(t, tm)

	assert.NotContains(t, anon.Name, "Margaret")
	assert.NotContains(t, anon.MemberID, "AU001")
	// Non-identifying attributes survive untouched.
	assert.Equal(t, 58, anon.Age)
	assert.Equal(t, 485000.0, anon.SuperBalance)
	// Original is not modified.
	assert.Equal(t, "Margaret Chen", mc.Name)
}

func TestTokensAreStable(t *testing.T) {
	mc := &member.Context{MemberID: "AU001", Name: "Margaret Chen", Age: 58, Country: "AU"}
	a1, _ := Anonymize(mc)
	a2, _ := Anonymize(mc)
	assert.Equal(t, a1.Name, a2.Name)
	assert.Equal(t, a1.MemberID, a2.MemberID)
}

func TestScrubRestoreRoundTrip(t *testing.T) {
	mc := &member.Context{MemberID: "AU001", Name: "Margaret Chen", Age: 58, Country: "AU"}
	anon, tm := Anonymize(mc)

	prompt := "Member Margaret Chen (AU001) asked about withdrawals."
	scrubbed := tm.Scrub(prompt)
	assert.True(t, tm.Clean(scrubbed))
	assert.Contains(t, scrubbed, anon.Name)

	answer := "Hello " + anon.Name + ", your account " + anon.MemberID + " allows access at 60."
	restored := tm.Restore(answer)
	assert.Contains(t, restored, "Margaret Chen")
	assert.Contains(t, restored, "AU001")
	assert.NotContains(t, restored, anon.Name)
}

func TestSubstringIdentifiers(t *testing.T) {
	// A name containing the member id must not be half-replaced.
	mc := &member.Context{MemberID: "Chen", Name: "Margaret Chen", Age: 58, Country: "AU"}
	_, tm := Anonymize(mc)

	scrubbed := tm.Scrub("Margaret Chen holds account Chen.")
	assert.True(t, tm.Clean(scrubbed))
	assert.Equal(t, "Margaret Chen holds account Chen.", tm.Restore(scrubbed))
}
