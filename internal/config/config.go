package config

import "fmt"

// Config is the complete whatif configuration
type Config struct {
	Version   string          `yaml:"version"`
	Settings  Settings        `yaml:"settings"`
	Explainer ExplainerConfig `yaml:"explainer"`
	Storage   StorageConfig   `yaml:"storage"`
}

// Settings contains global configuration settings
type Settings struct {
	LogLevel string `yaml:"log_level"`
	LogFile  string `yaml:"log_file,omitempty"`
}

// ExplainerConfig configures the counterfactual search
type ExplainerConfig struct {
	// Strategy selects the search: greedy, batch or cody
	Strategy string `yaml:"strategy"`
	// Selection selects the candidate ranking: random, recent, closest,
	// scored or local
	Selection string `yaml:"selection"`
	// CandidatesSize bounds the candidate pool around the explained event
	CandidatesSize int `yaml:"candidates_size"`
	// SampleSize bounds oracle calls per search iteration
	SampleSize int `yaml:"sample_size"`
	// MaxSteps bounds search iterations per explanation
	MaxSteps int `yaml:"max_steps"`
	// Seed makes the random selection strategy reproducible
	Seed int64 `yaml:"seed,omitempty"`
}

// StorageConfig configures the evaluation run store
type StorageConfig struct {
	Enabled bool   `yaml:"enabled"`
	Path    string `yaml:"path,omitempty"`
}

// DefaultConfig returns the built-in defaults
func DefaultConfig() *Config {
	return &Config{
		Version: "1",
		Settings: Settings{
			LogLevel: "info",
		},
		Explainer: ExplainerConfig{
			Strategy:       "cody",
			Selection:      "recent",
			CandidatesSize: 75,
			SampleSize:     10,
			MaxSteps:       50,
		},
	}
}

// Validate checks the configuration for values the explainer cannot run with
func (c *Config) Validate() error {
	switch c.Explainer.Strategy {
	case "greedy", "batch", "cody":
	default:
		return fmt.Errorf("unknown search strategy %q", c.Explainer.Strategy)
	}
	switch c.Explainer.Selection {
	case "random", "recent", "closest", "scored", "local":
	default:
		return fmt.Errorf("unknown selection strategy %q", c.Explainer.Selection)
	}
	if c.Explainer.CandidatesSize <= 0 {
		return fmt.Errorf("candidates_size must be positive, got %d", c.Explainer.CandidatesSize)
	}
	if c.Explainer.SampleSize <= 0 {
		return fmt.Errorf("sample_size must be positive, got %d", c.Explainer.SampleSize)
	}
	if c.Explainer.MaxSteps <= 0 {
		return fmt.Errorf("max_steps must be positive, got %d", c.Explainer.MaxSteps)
	}
	return nil
}
