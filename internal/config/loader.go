package config

import (
	"fmt"
	"strconv"
	"time"

	"github.com/spf13/viper"
	"gopkg.in/yaml.v3"
)

// EnvVarMapping maps the recognized environment variables (spec.md §6) to
// viper config keys. CLI flags always take precedence over these.
var EnvVarMapping = map[string]string{
	"WORKFLOW_HOME":              "workflow_home",
	"WORKFLOW_TOOL_TIMEOUT_MS":   "tool_timeout_ms",
	"WORKFLOW_WORKERS":           "parallel.workers",
	"WORKFLOW_NONINTERACTIVE":    "non_interactive",
}

// Load builds an EngineConfig by layering, lowest to highest precedence:
// built-in defaults, an optional YAML config file, recognized environment
// variables, then explicit overrides (CLI flags, applied by the caller
// after Load returns).
func Load(configFile string) (*EngineConfig, error) {
	cfg := Default()

	v := viper.New()
	v.SetConfigType("yaml")
	for envVar, key := range EnvVarMapping {
		if err := v.BindEnv(key, envVar); err != nil {
			return nil, fmt.Errorf("bind env %s: %w", envVar, err)
		}
	}

	if configFile != "" {
		v.SetConfigFile(configFile)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("read config file %s: %w", configFile, err)
		}
		var fileCfg EngineConfig
		if raw, err := yamlOf(v); err == nil && len(raw) > 0 {
			if err := yaml.Unmarshal(raw, &fileCfg); err != nil {
				return nil, fmt.Errorf("parse config file %s: %w", configFile, err)
			}
			mergeNonZero(cfg, &fileCfg)
		}
	}

	if v.IsSet("workflow_home") {
		cfg.WorkflowHome = v.GetString("workflow_home")
	}
	if v.IsSet("tool_timeout_ms") {
		ms, err := strconv.Atoi(v.GetString("tool_timeout_ms"))
		if err != nil {
			return nil, fmt.Errorf("WORKFLOW_TOOL_TIMEOUT_MS: %w", err)
		}
		cfg.ToolTimeout = time.Duration(ms) * time.Millisecond
	}
	if v.IsSet("parallel.workers") {
		w, err := strconv.Atoi(v.GetString("parallel.workers"))
		if err != nil {
			return nil, fmt.Errorf("WORKFLOW_WORKERS: %w", err)
		}
		cfg.Parallel.Workers = w
	}
	if v.IsSet("non_interactive") {
		b, err := strconv.ParseBool(v.GetString("non_interactive"))
		if err != nil {
			return nil, fmt.Errorf("WORKFLOW_NONINTERACTIVE: %w", err)
		}
		cfg.NonInteractive = b
	}

	if cfg.LaneProfiles == nil {
		cfg.LaneProfiles = DefaultLaneProfiles()
	}
	cfg.Normalize()

	return cfg, nil
}

// yamlOf re-marshals viper's merged settings back to YAML so it can be
// unmarshaled onto a strongly typed EngineConfig (viper's own Unmarshal
// uses mapstructure tags; we'd rather keep one tag vocabulary, yaml, across
// config file and struct).
func yamlOf(v *viper.Viper) ([]byte, error) {
	return yaml.Marshal(v.AllSettings())
}

// mergeNonZero copies non-zero-value fields from src onto dst, used so a
// partial config file only overrides what it specifies.
func mergeNonZero(dst, src *EngineConfig) {
	if src.WorkflowHome != "" {
		dst.WorkflowHome = src.WorkflowHome
	}
	if src.NonInteractive {
		dst.NonInteractive = true
	}
	if src.ToolTimeout != 0 {
		dst.ToolTimeout = src.ToolTimeout
	}
	if src.Parallel.Workers != 0 {
		dst.Parallel.Workers = src.Parallel.Workers
	}
	if src.Parallel.PerTaskTimeout != 0 {
		dst.Parallel.PerTaskTimeout = src.Parallel.PerTaskTimeout
	}
	if src.MinRuntimeVersion != "" {
		dst.MinRuntimeVersion = src.MinRuntimeVersion
	}
	if len(src.RequiredTools) > 0 {
		dst.RequiredTools = src.RequiredTools
	}
}
