package config

import "fmt"

// CachingConfig controls the similarity cache pre-filter. Threshold is the
// minimum similarity score for a cache hit and must lie in [0,1].
type CachingConfig struct {
	Enabled      bool    `json:"enabled"`
	Threshold    float64 `json:"threshold"`
	MaxAgeHours  int     `json:"max_cache_age_hours"`
	MaxResponses int     `json:"max_responses"`
}

func DefaultCaching() CachingConfig {
	return CachingConfig{
		Enabled:      true,
		Threshold:    0.75,
		MaxAgeHours:  24 * 7,
		MaxResponses: 1000,
	}
}

func (c CachingConfig) Validate() error {
	if c.Threshold < 0 || c.Threshold > 1 {
		return fmt.Errorf("caching threshold %v out of range [0,1]", c.Threshold)
	}
	if c.MaxAgeHours < 0 {
		return fmt.Errorf("max_cache_age_hours must not be negative")
	}
	if c.MaxResponses < 0 {
		return fmt.Errorf("max_responses must not be negative")
	}
	return nil
}

// CachingOverride is a partial CachingConfig. Only fields present in the
// JSON replace the parent's value; absent fields keep it. Applied in the
// fixed order global → provider → model.
type CachingOverride struct {
	Enabled      *bool    `json:"enabled,omitempty"`
	Threshold    *float64 `json:"threshold,omitempty"`
	MaxAgeHours  *int     `json:"max_cache_age_hours,omitempty"`
	MaxResponses *int     `json:"max_responses,omitempty"`
}

func (o *CachingOverride) Apply(base CachingConfig) CachingConfig {
	if o == nil {
		return base
	}
	if o.Enabled != nil {
		base.Enabled = *o.Enabled
	}
	if o.Threshold != nil {
		base.Threshold = *o.Threshold
	}
	if o.MaxAgeHours != nil {
		base.MaxAgeHours = *o.MaxAgeHours
	}
	if o.MaxResponses != nil {
		base.MaxResponses = *o.MaxResponses
	}
	return base
}

func (o *CachingOverride) validate() error {
	if o == nil {
		return nil
	}
	if o.Threshold != nil && (*o.Threshold < 0 || *o.Threshold > 1) {
		return fmt.Errorf("caching threshold %v out of range [0,1]", *o.Threshold)
	}
	return nil
}
