package config

import (
	"bytes"
	_ "embed"
	"fmt"
	"os"

	"cuelang.org/go/cue"
	"cuelang.org/go/cue/cuecontext"
	cueerrors "cuelang.org/go/cue/errors"
	cueyaml "cuelang.org/go/encoding/yaml"
	"gopkg.in/yaml.v3"

	"github.com/mgadaphy/CNI-Digital-Queue-Management-System/internal/domain"
)

//go:embed schema.cue
var schemaCUE string

// Load reads, validates and decodes the configuration file at path.
func Load(path string) (Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return Config{}, fmt.Errorf("load config: %w", err)
	}
	return Parse(path, data)
}

// Parse validates data against the schema and decodes it over Default.
// The name is used for error positions only.
func Parse(name string, data []byte) (Config, error) {
	if err := ValidateBytes(name, data); err != nil {
		return Config{}, err
	}

	cfg := Default()
	if len(bytes.TrimSpace(data)) == 0 {
		return cfg, nil
	}

	// Maps replace the defaults instead of merging into them, so a file that
	// lists its own categories does not inherit the built-in ones.
	defaults := cfg.Scoring
	cfg.Scoring.CategoryBase = nil
	cfg.Scoring.SpecialFactorBonus = nil

	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return Config{}, domain.NewConfigurationError("decode %s: %v", name, err)
	}
	if cfg.Scoring.CategoryBase == nil {
		cfg.Scoring.CategoryBase = defaults.CategoryBase
	}
	if cfg.Scoring.SpecialFactorBonus == nil {
		cfg.Scoring.SpecialFactorBonus = defaults.SpecialFactorBonus
	}

	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// ValidateBytes checks a YAML document against the embedded CUE schema.
func ValidateBytes(name string, data []byte) error {
	if len(bytes.TrimSpace(data)) == 0 {
		return nil
	}

	ctx := cuecontext.New()
	schema := ctx.CompileString(schemaCUE, cue.Filename("schema.cue"))
	if err := schema.Err(); err != nil {
		return fmt.Errorf("compile config schema: %w", err)
	}

	file, err := cueyaml.Extract(name, data)
	if err != nil {
		return domain.NewConfigurationError("parse %s: %v", name, err)
	}
	doc := ctx.BuildFile(file)
	if err := doc.Err(); err != nil {
		return formatSchemaError(err)
	}

	unified := schema.LookupPath(cue.ParsePath("#Config")).Unify(doc)
	if err := unified.Validate(); err != nil {
		return formatSchemaError(err)
	}
	return nil
}

// formatSchemaError reports the first CUE error with its file position.
func formatSchemaError(err error) error {
	errs := cueerrors.Errors(err)
	if len(errs) == 0 {
		return domain.NewConfigurationError("%v", err)
	}
	first := errs[0]
	if positions := cueerrors.Positions(first); len(positions) > 0 {
		return domain.NewConfigurationError("%s: %v", positions[0], first)
	}
	return domain.NewConfigurationError("%v", first)
}

// Validate checks invariants the schema cannot express on a decoded value,
// including configs built in code rather than loaded from a file.
func (c Config) Validate() error {
	if len(c.Scoring.CategoryBase) == 0 {
		return domain.NewConfigurationError("scoring.category_base is empty")
	}
	if c.Scoring.WaitBonusPerMinute < 0 || c.Scoring.WaitBonusCap < 0 {
		return domain.NewConfigurationError("wait bonus rate and cap must be non-negative")
	}
	seen := make(map[domain.Category]string, len(c.Scoring.CategoryBase))
	for name := range c.Scoring.CategoryBase {
		norm := domain.NormalizeCategory(name)
		if prev, ok := seen[norm]; ok {
			return domain.NewConfigurationError("categories %q and %q collide after case folding", prev, name)
		}
		seen[norm] = name
	}
	for _, name := range c.Scoring.CriticalCategories {
		if _, ok := seen[domain.NormalizeCategory(name)]; !ok {
			return domain.NewConfigurationError("critical category %q has no base score", name)
		}
	}
	if c.Optimizer.ScanCap <= 0 {
		return domain.NewConfigurationError("optimizer.scan_cap must be positive")
	}
	if c.Guard.MaxRetries < 0 {
		return domain.NewConfigurationError("guard.max_retries must be non-negative")
	}
	if c.Events.RetentionSize <= 0 {
		return domain.NewConfigurationError("events.retention_size must be positive")
	}
	if c.Events.AckMaxAttempts <= 0 {
		return domain.NewConfigurationError("events.ack_max_attempts must be positive")
	}
	switch c.Cache.Backend {
	case BackendMemory:
	case BackendRedis:
		if c.Cache.Redis.Addr == "" {
			return domain.NewConfigurationError("cache.redis.addr is required for the redis backend")
		}
	default:
		return domain.NewConfigurationError("unknown cache backend %q", c.Cache.Backend)
	}
	return nil
}
