// Package anonymize substitutes stable tokens for direct member identifiers
// before any value crosses into a model-facing prompt, and restores them in
// the final caller-facing answer. Tokens are deterministic per identifier so
// repeated references within one query collapse to the same placeholder.
package anonymize

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"strings"

	"github.com/dativo-io/superadvisor/internal/member"
)

// TokenMap maps real identifiers to their placeholder tokens for one query.
// Scrub and Restore are inverse string substitutions over the same pairs.
type TokenMap struct {
	// real identifier -> token, longest identifiers first at build time so
	// substring identifiers cannot clobber longer ones.
	pairs []pair
}

type pair struct {
	real  string
	token string
}

// Anonymize returns a copy of the member context with direct identifiers
// replaced by stable tokens, plus the TokenMap needed to scrub prompts and
// restore the final answer. The original context is not modified.
func Anonymize(mc *member.Context) (*member.Context, *TokenMap) {
	tm := &TokenMap{}
	anon := *mc

	if mc.Name != "" {
		anon.Name = token("NAME", mc.Name)
		tm.add(mc.Name, anon.Name)
	}
	if mc.MemberID != "" {
		anon.MemberID = token("MEMBER", mc.MemberID)
		tm.add(mc.MemberID, anon.MemberID)
	}
	return &anon, tm
}

// token derives a stable placeholder for an identifier. The digest prefix
// keeps tokens distinct across members without leaking the original value.
func token(kind, real string) string {
	sum := sha256.Sum256([]byte(real))
	return fmt.Sprintf("[%s_%s]", kind, strings.ToUpper(hex.EncodeToString(sum[:])[:8]))
}

func (tm *TokenMap) add(real, tok string) {
	// Longer identifiers substitute first.
	for i, p := range tm.pairs {
		if len(real) > len(p.real) {
			tm.pairs = append(tm.pairs[:i], append([]pair{{real, tok}}, tm.pairs[i:]...)...)
			return
		}
	}
	tm.pairs = append(tm.pairs, pair{real, tok})
}

// Scrub replaces any raw identifier occurrences in s with their tokens.
// Applied to every string headed for a model prompt or the tracing store.
func (tm *TokenMap) Scrub(s string) string {
	for _, p := range tm.pairs {
		s = strings.ReplaceAll(s, p.real, p.token)
	}
	return s
}

// Restore replaces tokens in s with the real identifiers. Applied only to the
// final caller-facing answer text.
func (tm *TokenMap) Restore(s string) string {
	for _, p := range tm.pairs {
		s = strings.ReplaceAll(s, p.token, p.real)
	}
	return s
}

// Clean reports whether s contains none of the real identifiers.
func (tm *TokenMap) Clean(s string) bool {
	for _, p := range tm.pairs {
		if strings.Contains(s, p.real) {
			return false
		}
	}
	return true
}
