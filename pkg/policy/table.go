// Package policy implements the prohibited-action filter and the goal
// constraint evaluator that gate every proposed action.
//
// The filter table is compile-time data: it is baked into the binary,
// versioned, and exposes no mutator. Immutability is enforced by
// construction — nothing outside this package can reach the underlying
// sets.
package policy

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"strings"

	"github.com/Masterminds/semver/v3"
)

// TableVersion is the semver of the baked filter table. Readers that
// persist filter verdicts record this version alongside them.
const TableVersion = "1.3.0"

// supportedTable is the table major this build understands.
const supportedTable = "^1"

// exactDenied lists action texts rejected by digest comparison. The
// filter stores only their SHA-256 digests; matching is by digest of
// the lowercased action, so a byte-exact denylisted action is caught
// even if the keyword lists change.
var exactDenied = []string{
	"donate_to_campaign",
	"fund_political_party",
	"purchase_campaign_ads",
	"endorse_candidate",
}

// deniedKeywords are case-insensitive substring matches.
var deniedKeywords = []string{
	"electoral",
	"election",
	"campaign",
	"ballot",
	"candidate",
	"lobbying",
	"political",
	"referendum",
	"partisan",
}

// deniedMisspellings cover known evasive variants of the keywords.
var deniedMisspellings = []string{
	"campain",
	"compaign",
	"electorial",
	"eleciton",
	"balot",
	"poltical",
	"politcal",
	"lobying",
	"candidat",
}

// deniedPhrases are multi-word patterns matched after whitespace
// normalization.
var deniedPhrases = []string{
	"super pac",
	"political action committee",
	"voter outreach",
	"get out the vote",
	"attack ad",
	"dark money",
}

// buildTable compiles the baked lists into the immutable runtime form
// and validates the table version against the supported major.
func buildTable() (*Filter, error) {
	v, err := semver.NewVersion(TableVersion)
	if err != nil {
		return nil, fmt.Errorf("policy: bad table version %q: %w", TableVersion, err)
	}
	c, err := semver.NewConstraint(supportedTable)
	if err != nil {
		return nil, fmt.Errorf("policy: bad table constraint: %w", err)
	}
	if !c.Check(v) {
		return nil, fmt.Errorf("policy: table version %s outside supported range %s", TableVersion, supportedTable)
	}

	exact := make(map[string]struct{}, len(exactDenied))
	for _, s := range exactDenied {
		exact[textDigest(s)] = struct{}{}
	}
	return &Filter{
		version:      v,
		exactDigests: exact,
		keywords:     append([]string(nil), deniedKeywords...),
		misspellings: append([]string(nil), deniedMisspellings...),
		phrases:      append([]string(nil), deniedPhrases...),
	}, nil
}

// textDigest is the hex SHA-256 of the lowercased text.
func textDigest(s string) string {
	sum := sha256.Sum256([]byte(strings.ToLower(s)))
	return hex.EncodeToString(sum[:])
}
