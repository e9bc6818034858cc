package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

const day = 24 * time.Hour

// Policy controls the reconciliation engine. Zero values are replaced by
// defaults in Normalize.
type Policy struct {
	// PastWindow and FutureWindow bound the start times the engine may touch.
	PastWindow   time.Duration `yaml:"past_window"`
	FutureWindow time.Duration `yaml:"future_window"`

	// Events starting before now-PreservationAge are never deleted.
	PreservationAge time.Duration `yaml:"preservation_age"`

	DefaultColor string        `yaml:"default_color"`
	LeaseTTL     time.Duration `yaml:"lease_ttl"`

	Fetch      FetchPolicy     `yaml:"fetch"`
	Duplicates DuplicatePolicy `yaml:"duplicates"`
}

// FetchPolicy is the retry budget of the remote fetcher.
type FetchPolicy struct {
	Timeout          time.Duration `yaml:"timeout"`
	MaxAttempts      int           `yaml:"max_attempts"`
	RateLimitInitial time.Duration `yaml:"rate_limit_initial"`
	RateLimitMax     time.Duration `yaml:"rate_limit_max"`
	TransientStep    time.Duration `yaml:"transient_step"`
}

// DuplicatePolicy tunes the advisory similarity scan.
type DuplicatePolicy struct {
	SimilarityThreshold float64       `yaml:"similarity_threshold"`
	MaxStartDelta       time.Duration `yaml:"max_start_delta"`
}

// DefaultPolicy returns the built-in sync policy.
func DefaultPolicy() *Policy {
	return &Policy{
		PastWindow:      30 * day,
		FutureWindow:    360 * day,
		PreservationAge: 3 * 365 * day,
		DefaultColor:    "#3b82f6",
		LeaseTTL:        10 * time.Minute,
		Fetch: FetchPolicy{
			Timeout:          30 * time.Second,
			MaxAttempts:      3,
			RateLimitInitial: 2 * time.Minute,
			RateLimitMax:     5 * time.Minute,
			TransientStep:    time.Second,
		},
		Duplicates: DuplicatePolicy{
			SimilarityThreshold: 0.85,
			MaxStartDelta:       day,
		},
	}
}

// Normalize replaces missing or invalid values with defaults.
func (p *Policy) Normalize() {
	def := DefaultPolicy()

	if p.PastWindow <= 0 {
		p.PastWindow = def.PastWindow
	}
	if p.FutureWindow <= 0 {
		p.FutureWindow = def.FutureWindow
	}
	if p.PreservationAge <= 0 {
		p.PreservationAge = def.PreservationAge
	}
	if p.DefaultColor == "" {
		p.DefaultColor = def.DefaultColor
	}
	if p.LeaseTTL <= 0 {
		p.LeaseTTL = def.LeaseTTL
	}

	if p.Fetch.Timeout <= 0 {
		p.Fetch.Timeout = def.Fetch.Timeout
	}
	if p.Fetch.MaxAttempts <= 0 {
		p.Fetch.MaxAttempts = def.Fetch.MaxAttempts
	}
	if p.Fetch.RateLimitInitial <= 0 {
		p.Fetch.RateLimitInitial = def.Fetch.RateLimitInitial
	}
	if p.Fetch.RateLimitMax < p.Fetch.RateLimitInitial {
		p.Fetch.RateLimitMax = max(def.Fetch.RateLimitMax, p.Fetch.RateLimitInitial)
	}
	if p.Fetch.TransientStep <= 0 {
		p.Fetch.TransientStep = def.Fetch.TransientStep
	}

	if p.Duplicates.SimilarityThreshold <= 0 || p.Duplicates.SimilarityThreshold > 1 {
		p.Duplicates.SimilarityThreshold = def.Duplicates.SimilarityThreshold
	}
	if p.Duplicates.MaxStartDelta <= 0 {
		p.Duplicates.MaxStartDelta = def.Duplicates.MaxStartDelta
	}
}

// LoadPolicy reads a YAML policy file on top of the defaults. An empty path
// yields the defaults.
func LoadPolicy(path string) (*Policy, error) {
	p := DefaultPolicy()
	if path == "" {
		return p, nil
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading sync policy: %w", err)
	}
	if err := yaml.Unmarshal(data, p); err != nil {
		return nil, fmt.Errorf("decoding sync policy %s: %w", path, err)
	}
	p.Normalize()

	return p, nil
}
