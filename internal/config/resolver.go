// Package config resolves settings from the config file, environment,
// and CLI flags, recording where each value came from so `practicepilot
// config` can show the user why a setting is what it is.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"gopkg.in/yaml.v3"
)

type ValueSource string

const (
	SourceUnknown ValueSource = "unknown"
	SourceConfig  ValueSource = "config"
	SourceEnv     ValueSource = "env"
	SourceCLI     ValueSource = "cli"
	SourceDefault ValueSource = "default"
)

type ResolvedValue struct {
	Value  string      `json:"value"`
	Source ValueSource `json:"source"`
	From   string      `json:"from,omitempty"`
}

// ResolveOptions carries flag overrides from the CLI layer. Empty fields
// mean "not set on the command line".
type ResolveOptions struct {
	ConfigPath  string
	CLIDBPath   string
	CLIEndpoint string
	CLIModel    string
}

type ResolvedConfig struct {
	ConfigPath string `json:"config_path"`

	DBPath ResolvedValue `json:"db_path"`

	ExtractEndpoint ResolvedValue `json:"extract_endpoint"`
	ExtractModel    ResolvedValue `json:"extract_model"`
	ExtractAPIKey   ResolvedValue `json:"extract_api_key"`
	ExtractTimeout  ResolvedValue `json:"extract_timeout_secs"`

	ExtractionCacheSize ResolvedValue `json:"extraction_cache_size"`
	ProfileCapacity     ResolvedValue `json:"profile_capacity"`
	ArtifactCapacity    ResolvedValue `json:"artifact_capacity"`
}

type fileConfig struct {
	DBPath  string `yaml:"db_path"`
	Extract struct {
		Endpoint    string `yaml:"endpoint"`
		Model       string `yaml:"model"`
		APIKey      string `yaml:"api_key"`
		TimeoutSecs int    `yaml:"timeout_secs"`
	} `yaml:"extract"`
	Cache struct {
		Extractions int `yaml:"extractions"`
		Profiles    int `yaml:"profiles"`
		Artifacts   int `yaml:"artifacts"`
	} `yaml:"cache"`
}

func DefaultConfigPath() string {
	home, _ := os.UserHomeDir()
	return filepath.Join(home, ".practicepilot", "config.yaml")
}

// ResolveConfig layers file, env, and CLI values, later layers winning.
// A missing config file is not an error; a malformed one is.
func ResolveConfig(opts ResolveOptions) (ResolvedConfig, error) {
	path := strings.TrimSpace(opts.ConfigPath)
	if path == "" {
		path = DefaultConfigPath()
	}

	out := ResolvedConfig{ConfigPath: path}

	cfg, err := loadConfig(path)
	if err != nil {
		return out, err
	}

	if cfg != nil {
		apply(&out.DBPath, cfg.DBPath, SourceConfig, path)
		apply(&out.ExtractEndpoint, cfg.Extract.Endpoint, SourceConfig, path)
		apply(&out.ExtractModel, cfg.Extract.Model, SourceConfig, path)
		apply(&out.ExtractAPIKey, cfg.Extract.APIKey, SourceConfig, path)
		applyInt(&out.ExtractTimeout, cfg.Extract.TimeoutSecs, SourceConfig, path)
		applyInt(&out.ExtractionCacheSize, cfg.Cache.Extractions, SourceConfig, path)
		applyInt(&out.ProfileCapacity, cfg.Cache.Profiles, SourceConfig, path)
		applyInt(&out.ArtifactCapacity, cfg.Cache.Artifacts, SourceConfig, path)
	}

	applyEnv(&out.DBPath, "PRACTICEPILOT_DB")
	applyEnv(&out.DBPath, "PRACTICEPILOT_DB_PATH")
	applyEnv(&out.ExtractEndpoint, "PRACTICEPILOT_ENDPOINT")
	applyEnv(&out.ExtractModel, "PRACTICEPILOT_MODEL")
	applyEnv(&out.ExtractAPIKey, "OPENAI_API_KEY")
	applyEnv(&out.ExtractAPIKey, "PRACTICEPILOT_API_KEY")
	applyEnv(&out.ExtractTimeout, "PRACTICEPILOT_TIMEOUT_SECS")
	applyEnv(&out.ExtractionCacheSize, "PRACTICEPILOT_CACHE_EXTRACTIONS")
	applyEnv(&out.ProfileCapacity, "PRACTICEPILOT_CACHE_PROFILES")
	applyEnv(&out.ArtifactCapacity, "PRACTICEPILOT_CACHE_ARTIFACTS")

	apply(&out.DBPath, opts.CLIDBPath, SourceCLI, "--db")
	apply(&out.ExtractEndpoint, opts.CLIEndpoint, SourceCLI, "--endpoint")
	apply(&out.ExtractModel, opts.CLIModel, SourceCLI, "--model")

	if out.DBPath.Value != "" {
		out.DBPath.Value = expandUserPath(out.DBPath.Value)
	}

	return out, nil
}

// IntValue parses a resolved value as an int, falling back when the value
// is absent or malformed.
func (v ResolvedValue) IntValue(fallback int) int {
	s := strings.TrimSpace(v.Value)
	if s == "" {
		return fallback
	}
	n, err := strconv.Atoi(s)
	if err != nil || n <= 0 {
		return fallback
	}
	return n
}

// OrDefault returns the value, or the fallback tagged as a built-in
// default when nothing resolved.
func (v ResolvedValue) OrDefault(fallback string) ResolvedValue {
	if strings.TrimSpace(v.Value) != "" {
		return v
	}
	return ResolvedValue{Value: fallback, Source: SourceDefault, From: "built-in default"}
}

func apply(dst *ResolvedValue, raw string, source ValueSource, from string) {
	v := strings.TrimSpace(raw)
	if v == "" {
		return
	}
	*dst = ResolvedValue{Value: v, Source: source, From: from}
}

func applyInt(dst *ResolvedValue, raw int, source ValueSource, from string) {
	if raw <= 0 {
		return
	}
	*dst = ResolvedValue{Value: strconv.Itoa(raw), Source: source, From: from}
}

func applyEnv(dst *ResolvedValue, envKey string) {
	if v := strings.TrimSpace(os.Getenv(envKey)); v != "" {
		*dst = ResolvedValue{Value: v, Source: SourceEnv, From: envKey}
	}
}

func loadConfig(path string) (*fileConfig, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("reading %s: %w", path, err)
	}
	var cfg fileConfig
	if err := yaml.Unmarshal(b, &cfg); err != nil {
		return nil, fmt.Errorf("parsing %s: %w", path, err)
	}
	return &cfg, nil
}

func expandUserPath(path string) string {
	if strings.HasPrefix(path, "~/") {
		home, err := os.UserHomeDir()
		if err == nil {
			return filepath.Join(home, path[2:])
		}
	}
	return path
}
