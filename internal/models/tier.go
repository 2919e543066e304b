package models

import "time"

// Named rate limit tier: at most Limit requests per Window for one subject
type RateLimitTier struct {
	Name   string        `yaml:"name" json:"name"`
	Limit  int           `yaml:"limit" json:"limit"`
	Window time.Duration `yaml:"window" json:"window"`
}

// Maps a path prefix to a tier name. A route listing methods only applies to
// requests using one of them; other methods fall through to shorter prefixes.
type RouteTier struct {
	Prefix  string   `yaml:"prefix" json:"prefix"`
	Tier    string   `yaml:"tier" json:"tier"`
	Methods []string `yaml:"methods,omitempty" json:"methods,omitempty"`
}
