// Package config loads engine tuning knobs through spf13/viper, the way
// viper-backed config packages layer a typed accessor set
// over a package-level viper singleton (SetDefault calls establishing
// defaults, environment variables and a config file overriding them).
package config

import (
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Viper keys for every knob EngineConfig projects. Grouped the way the
// teacher groups its own Key* constants by concern.
const (
	KeyCompilationCacheSize      = "calculator.compilation-cache-size"
	KeyResultCacheSize           = "calculator.result-cache-size"
	KeyScratchBufferCacheSize    = "engine.scratch-buffer-cache-size"
	KeyMemoryPressureThreshold   = "engine.memory-pressure-threshold-bytes"
	KeyStreamMaxLateness         = "stream.max-lateness"
	KeyStrictFloatEquality       = "rete.strict-float-equality"
	KeyExternalCalculatorRetries = "calculator.external-retry-max-attempts"
)

// v is the package-level viper singleton, the same
// pattern of a single shared instance threaded through every Get*
// accessor and RegisterDefaults call rather than passed explicitly.
var v *viper.Viper

// Initialize constructs the viper singleton, registers every default,
// enables RULESENGINE_-prefixed environment variable overrides (dots
// and dashes in keys become underscores), and — if
// configPath is non-empty — reads a YAML or TOML config file located at
// that path. A missing configPath is not an error: defaults and
// environment overrides alone are a valid configuration.
func Initialize(configPath string) error {
	v = viper.New()
	registerDefaults(v)

	v.SetEnvPrefix("RULESENGINE")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_", "-", "_"))
	v.AutomaticEnv()

	if configPath == "" {
		return nil
	}
	v.SetConfigFile(configPath)
	if err := v.ReadInConfig(); err != nil {
		return err
	}
	return nil
}

func registerDefaults(v *viper.Viper) {
	v.SetDefault(KeyCompilationCacheSize, 256)
	v.SetDefault(KeyResultCacheSize, 1024)
	v.SetDefault(KeyScratchBufferCacheSize, 64)
	v.SetDefault(KeyMemoryPressureThreshold, int64(0)) // 0 disables pressure checks
	v.SetDefault(KeyStreamMaxLateness, "0s")
	v.SetDefault(KeyStrictFloatEquality, true)
	v.SetDefault(KeyExternalCalculatorRetries, 3)
}

// EngineConfig is the typed projection of the viper store, mirroring
// internal/config/yaml_config.go's pattern of an untyped store plus a
// typed accessor layer: callers that want one struct to pass to
// Engine.ApplyConfig call Load once, rather than
// reading individual keys scattered through the codebase.
type EngineConfig struct {
	CompilationCacheSize      int
	ResultCacheSize           int
	ScratchBufferCacheSize    int
	MemoryPressureThreshold   int64
	StreamMaxLateness         time.Duration
	StrictFloatEquality       bool
	ExternalCalculatorRetries int
}

// Load projects the current viper store into an EngineConfig, falling
// back to registered defaults if Initialize was never called (so a
// caller embedding this package as a library, without its own CLI
// bootstrap, still gets sane values rather than a nil-viper panic).
func Load() EngineConfig {
	if v == nil {
		defaults := viper.New()
		registerDefaults(defaults)
		v = defaults
	}
	return EngineConfig{
		CompilationCacheSize:      v.GetInt(KeyCompilationCacheSize),
		ResultCacheSize:           v.GetInt(KeyResultCacheSize),
		ScratchBufferCacheSize:    v.GetInt(KeyScratchBufferCacheSize),
		MemoryPressureThreshold:   v.GetInt64(KeyMemoryPressureThreshold),
		StreamMaxLateness:         v.GetDuration(KeyStreamMaxLateness),
		StrictFloatEquality:       v.GetBool(KeyStrictFloatEquality),
		ExternalCalculatorRetries: v.GetInt(KeyExternalCalculatorRetries),
	}
}

// GetString reads key from the viper store, returning "" if Initialize
// was never called: the accessors stay nil-safe.
func GetString(key string) string {
	if v == nil {
		return ""
	}
	return v.GetString(key)
}

// GetBool reads key from the viper store, returning false if Initialize
// was never called.
func GetBool(key string) bool {
	if v == nil {
		return false
	}
	return v.GetBool(key)
}

// FloatEpsilon returns the tolerance internal/rete.Network.SetFloatEpsilon
// should be configured with: 0 for strict equality (the default), or a
// small fixed epsilon when StrictFloatEquality is disabled.
func (c EngineConfig) FloatEpsilon() float64 {
	if c.StrictFloatEquality {
		return 0
	}
	return 1e-9
}
