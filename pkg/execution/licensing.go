package execution

import (
	"context"
	"time"

	"github.com/covenantlabs/covenant/pkg/audit"
	"github.com/covenantlabs/covenant/pkg/fault"
)

// License is one issued license on a captured asset.
type License struct {
	ID         string    `json:"id"`
	Licensee   string    `json:"licensee"`
	AssetRef   string    `json:"asset_ref"`
	Terms      string    `json:"terms"`
	RoyaltyBps int       `json:"royalty_bps"`
	Fee        int64     `json:"fee"`
	Citation   string    `json:"citation"`
	IssuedAt   time.Time `json:"issued_at"`
	ExpiresAt  time.Time `json:"expires_at"`
}

// licenseCatalog is the fixed set of terms the engine can issue under.
// License selection intelligence lives outside the core; the engine
// only refuses terms it does not know.
var licenseCatalog = map[string]string{
	"MIT":          "MIT License",
	"Apache-2.0":   "Apache License 2.0",
	"BSD-3-Clause": "BSD 3-Clause License",
	"GPL-3.0":      "GNU General Public License v3.0",
	"CC-BY-4.0":    "Creative Commons Attribution 4.0",
	"CC-BY-SA-4.0": "Creative Commons Attribution-ShareAlike 4.0",
	"CC0-1.0":      "Creative Commons Zero 1.0 (public domain dedication)",
	"PROPRIETARY":  "All rights reserved",
}

// LicenseTerms returns the catalog description for a terms key.
func LicenseTerms(key string) (string, bool) {
	terms, ok := licenseCatalog[key]
	return terms, ok
}

// IssueLicense issues a license on one of the principal's captured
// assets, subject to the full gate. The license fee, if any, is
// credited to the treasury — additive, no external call follows. Every
// license expires no later than the asset's public-domain transition,
// twenty years after activation.
func (e *Engine) IssueLicense(ctx context.Context, principal, licensee, assetRef, termsKey string, fee int64, royaltyBps int, query, expectedCorpusDigest string) (License, Decision, error) {
	const op = "execution.IssueLicense"

	if licensee == "" {
		return License{}, Decision{}, fault.Preconditionf(op, "empty licensee")
	}
	if fee < 0 {
		return License{}, Decision{}, fault.Preconditionf(op, "fee %d must not be negative", fee)
	}
	if royaltyBps < 0 || royaltyBps > 10_000 {
		return License{}, Decision{}, fault.Preconditionf(op, "royalty bps %d outside [0, 10000]", royaltyBps)
	}
	terms, known := licenseCatalog[termsKey]
	if !known {
		return License{}, Decision{}, fault.Preconditionf(op, "unknown license terms %q", termsKey)
	}

	rec, err := e.intents.Get(principal)
	if err != nil {
		return License{}, Decision{}, err
	}
	if !containsRef(rec.AssetRefs, assetRef) {
		return License{}, Decision{}, fault.Preconditionf(op, "asset %q is not in the captured asset list", assetRef)
	}

	hit, dec, err := e.gate(ctx, op, principal, assetRef, query, expectedCorpusDigest)
	if err != nil {
		return License{}, Decision{}, err
	}
	if dec.Outcome == OutcomeInaction {
		return License{}, dec, nil
	}

	e.mu.Lock()
	st := e.state(principal)
	transition := st.activatedAt.Add(PublicDomainAfter)
	now := e.clock.Now()
	if !now.Before(transition) {
		e.mu.Unlock()
		return License{}, Decision{}, fault.Preconditionf(op, "asset %q has transitioned to the public domain", assetRef)
	}
	lic := License{
		ID:         dec.DecisionDigest[:16],
		Licensee:   licensee,
		AssetRef:   assetRef,
		Terms:      terms,
		RoyaltyBps: royaltyBps,
		Fee:        fee,
		Citation:   hit.Citation,
		IssuedAt:   now,
		ExpiresAt:  transition,
	}
	st.licenses = append(st.licenses, lic)
	st.log = append(st.log, LogEntry{
		Action:         "issue_license:" + assetRef,
		Citation:       hit.Citation,
		Confidence:     hit.Confidence,
		Timestamp:      now,
		DecisionDigest: dec.DecisionDigest,
	})
	e.mu.Unlock()

	if fee > 0 {
		if _, err := e.treasury.Deposit(principal, fee); err != nil {
			return License{}, Decision{}, err
		}
	}

	if _, err := e.log.Append(ctx, audit.EventLicenseIssued, principal, dec.DecisionDigest, fee, map[string]any{
		"licensee": licensee,
		"asset":    assetRef,
		"terms":    termsKey,
		"expires":  lic.ExpiresAt.Format(time.RFC3339),
	}); err != nil {
		return License{}, Decision{}, err
	}
	return lic, dec, nil
}

func containsRef(refs []string, ref string) bool {
	for _, r := range refs {
		if r == ref {
			return true
		}
	}
	return false
}
