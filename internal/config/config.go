// Package config loads the scheduler's tunables from defaults, an optional
// TOML file, then environment variables, mirroring the layered precedence
// the teacher's services use for their own settings.
package config

import (
	"fmt"
	"os"
	"strconv"

	"github.com/BurntSushi/toml"

	"github.com/dpushkaran/Pyrrhus/internal/tier"
)

// Config collects every tunable the design notes call out as a
// configuration struct so invariant properties can be exercised against
// varied values in tests, instead of compile-time constants.
type Config struct {
	TierCatalog          tier.Catalog              `toml:"-"`
	QualityThreshold     float64                   `toml:"quality_threshold"`
	MinROI               float64                   `toml:"min_roi"`
	SynthesisReserveFrac float64                   `toml:"synthesis_reserve_fraction"`
	MaxTokenFloor        int                       `toml:"max_token_floor"`
	ExpectedLift         map[string]float64        `toml:"expected_lift"`
	DefaultPlannerModel  string                    `toml:"planner_model"`
	DefaultJudgeModel    string                    `toml:"judge_model"`
	BudgetDollars        float64                   `toml:"-"`
	ModelEndpoint        string                    `toml:"model_endpoint"`
	APIKeyEnvVar         string                    `toml:"-"`
}

// ExpectedLift keys are "fast>verify" style pairs in the TOML file; Lift
// resolves one at runtime using the same Pair the dynamic executor computes
// ROI against.
func (c Config) Lift(p tier.Pair) (float64, bool) {
	v, ok := c.ExpectedLift[p.From.String()+">"+p.To.String()]
	return v, ok
}

// Default returns the reference configuration: quality threshold 6.0,
// minimum ROI 50.0, synthesis reserve 0.35, token floor 128, and the lift
// table from spec section 4.5.
func Default() Config {
	return Config{
		TierCatalog:          tier.DefaultCatalog(),
		QualityThreshold:     6.0,
		MinROI:               50.0,
		SynthesisReserveFrac: 0.35,
		MaxTokenFloor:        128,
		ExpectedLift: map[string]float64{
			"fast>verify":  2.0,
			"verify>deep":  1.5,
			"fast>deep":    3.0,
		},
		DefaultPlannerModel: tier.DefaultCatalog().Spec(tier.Verify).ModelID,
		DefaultJudgeModel:   tier.DefaultCatalog().Spec(tier.Fast).ModelID,
		ModelEndpoint:       "http://localhost:8090",
		APIKeyEnvVar:        "GOOGLE_API_KEY",
	}
}

// Load builds a Config starting from Default, layering a TOML file at path
// (if non-empty and present) and then environment variable overrides. path
// may be empty, in which case only defaults and env vars apply.
func Load(path string) (Config, error) {
	cfg := Default()
	if path != "" {
		if _, err := os.Stat(path); err == nil {
			if _, err := toml.DecodeFile(path, &cfg); err != nil {
				return Config{}, fmt.Errorf("config: parse %s: %w", path, err)
			}
		}
	}
	applyEnvOverrides(&cfg)
	if cfg.BudgetDollars <= 0 {
		return cfg, fmt.Errorf("config: BUDGET_DOLLARS must be set to a positive value")
	}
	if os.Getenv(cfg.APIKeyEnvVar) == "" {
		return cfg, fmt.Errorf("config: credential env var %s is not set", cfg.APIKeyEnvVar)
	}
	return cfg, nil
}

func applyEnvOverrides(cfg *Config) {
	if v := os.Getenv("BUDGET_DOLLARS"); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			cfg.BudgetDollars = f
		}
	}
	if v := os.Getenv("PYRRHUS_QUALITY_THRESHOLD"); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			cfg.QualityThreshold = f
		}
	}
	if v := os.Getenv("PYRRHUS_MIN_ROI"); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			cfg.MinROI = f
		}
	}
	if v := os.Getenv("PYRRHUS_SYNTHESIS_RESERVE_FRACTION"); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			cfg.SynthesisReserveFrac = f
		}
	}
	if v := os.Getenv("PYRRHUS_MODEL_ENDPOINT"); v != "" {
		cfg.ModelEndpoint = v
	}
}
