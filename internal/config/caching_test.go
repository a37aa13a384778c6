package config

import "testing"

func TestCachingValidate_ThresholdRange(t *testing.T) {
	tests := []struct {
		threshold float64
		valid     bool
	}{
		{0, true},
		{0.75, true},
		{1, true},
		{-0.01, false},
		{1.5, false},
	}
	for _, tt := range tests {
		c := DefaultCaching()
		c.Threshold = tt.threshold
		err := c.Validate()
		if tt.valid && err != nil {
			t.Errorf("threshold %v: unexpected error %v", tt.threshold, err)
		}
		if !tt.valid && err == nil {
			t.Errorf("threshold %v: expected validation error", tt.threshold)
		}
	}
}

func TestCachingValidate_NegativeLimits(t *testing.T) {
	c := DefaultCaching()
	c.MaxAgeHours = -1
	if c.Validate() == nil {
		t.Error("negative max age must be rejected")
	}

	c = DefaultCaching()
	c.MaxResponses = -1
	if c.Validate() == nil {
		t.Error("negative max responses must be rejected")
	}
}

func TestCachingOverride_NilKeepsBase(t *testing.T) {
	base := DefaultCaching()
	var o *CachingOverride
	if got := o.Apply(base); got != base {
		t.Errorf("nil override must return base unchanged, got %+v", got)
	}
}

func TestCachingOverride_PartialFields(t *testing.T) {
	base := DefaultCaching()
	enabled := false
	threshold := 0.9
	o := &CachingOverride{Enabled: &enabled, Threshold: &threshold}

	got := o.Apply(base)
	if got.Enabled {
		t.Error("enabled should be overridden to false")
	}
	if got.Threshold != 0.9 {
		t.Errorf("threshold should be 0.9, got %v", got.Threshold)
	}
	if got.MaxAgeHours != base.MaxAgeHours || got.MaxResponses != base.MaxResponses {
		t.Error("absent override fields must keep base values")
	}
}

func TestCachingOverride_ValidateThreshold(t *testing.T) {
	bad := 1.2
	o := &CachingOverride{Threshold: &bad}
	if o.validate() == nil {
		t.Error("out-of-range override threshold must be rejected")
	}
}

func TestSystemValidate_UnknownFallback(t *testing.T) {
	s := DefaultSystemConfig()
	p := s.Providers[ProviderOllama]
	p.Fallback = "nonexistent"
	s.Providers[ProviderOllama] = p

	if s.Validate() == nil {
		t.Error("fallback to an unknown provider must be rejected")
	}
}

func TestSystemValidate_UnknownDefaultProvider(t *testing.T) {
	s := DefaultSystemConfig()
	s.DefaultProvider = "nonexistent"
	if s.Validate() == nil {
		t.Error("unknown default provider must be rejected")
	}
}
