package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"gopkg.in/yaml.v3"
)

// DeploymentProfile is a named operating profile for an executor
// deployment. Profiles tune trigger defaults and oracle acceptance
// without code changes; the hard gates (confidence threshold, sunset
// duration) are compile-time constants and are not configurable.
type DeploymentProfile struct {
	Name       string           `yaml:"name" json:"name"`
	Code       string           `yaml:"code" json:"code"`
	Trigger    TriggerDefaults  `yaml:"trigger" json:"trigger"`
	Oracle     OracleAcceptance `yaml:"oracle" json:"oracle"`
	Treasury   TreasuryLimits   `yaml:"treasury" json:"treasury"`
	Resolution ResolutionTuning `yaml:"resolution" json:"resolution"`
}

// TriggerDefaults seeds trigger configuration for new principals.
type TriggerDefaults struct {
	DeadmanIntervalDays int `yaml:"deadman_interval_days" json:"deadman_interval_days"`
	QuorumRequired      int `yaml:"quorum_required" json:"quorum_required"`
	RequiredOracles     int `yaml:"required_oracles" json:"required_oracles"`
}

// OracleAcceptance lists the attestation issuers a deployment trusts.
type OracleAcceptance struct {
	Issuers []string `yaml:"issuers" json:"issuers"`
}

// TreasuryLimits bounds per-operation spend in minor units.
type TreasuryLimits struct {
	MaxSingleTransfer int64 `yaml:"max_single_transfer,omitempty" json:"max_single_transfer,omitempty"`
	MaxDailySpend     int64 `yaml:"max_daily_spend,omitempty" json:"max_daily_spend,omitempty"`
}

// ResolutionTuning controls cache behavior for the resolution engine.
type ResolutionTuning struct {
	CacheBackend string `yaml:"cache_backend" json:"cache_backend"` // "memory" | "redis"
	CacheTTLMins int    `yaml:"cache_ttl_mins,omitempty" json:"cache_ttl_mins,omitempty"`
}

// LoadProfile loads a deployment profile YAML by code. It searches the
// profiles directory for profile_<code>.yaml.
func LoadProfile(profilesDir, code string) (*DeploymentProfile, error) {
	code = strings.ToLower(code)
	path := filepath.Join(profilesDir, fmt.Sprintf("profile_%s.yaml", code))

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("load profile %q: %w", code, err)
	}

	var profile DeploymentProfile
	if err := yaml.Unmarshal(data, &profile); err != nil {
		return nil, fmt.Errorf("parse profile %q: %w", code, err)
	}

	if profile.Code == "" {
		profile.Code = code
	}

	return &profile, nil
}

// LoadAllProfiles loads all profile_*.yaml files from the profiles
// directory, keyed by code.
func LoadAllProfiles(profilesDir string) (map[string]*DeploymentProfile, error) {
	matches, err := filepath.Glob(filepath.Join(profilesDir, "profile_*.yaml"))
	if err != nil {
		return nil, err
	}

	profiles := make(map[string]*DeploymentProfile, len(matches))
	for _, path := range matches {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("read %s: %w", path, err)
		}

		var profile DeploymentProfile
		if err := yaml.Unmarshal(data, &profile); err != nil {
			return nil, fmt.Errorf("parse %s: %w", path, err)
		}

		if profile.Code == "" {
			base := filepath.Base(path)
			profile.Code = strings.TrimSuffix(strings.TrimPrefix(base, "profile_"), ".yaml")
		}

		profiles[profile.Code] = &profile
	}

	return profiles, nil
}

// TrustsIssuer reports whether the profile accepts attestations from
// the given issuer.
func (p *DeploymentProfile) TrustsIssuer(issuer string) bool {
	for _, iss := range p.Oracle.Issuers {
		if iss == issuer {
			return true
		}
	}
	return false
}
