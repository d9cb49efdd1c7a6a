// Package config provides layered configuration for gitstatusd.
// Precedence: defaults < YAML file < environment variables.
package config

import (
	"errors"
	"os"
	"runtime"
	"strconv"
	"time"

	"gopkg.in/yaml.v3"
)

// Config holds all process-lifetime tunables for gitstatusd.
type Config struct {
	Workers int `yaml:"workers"`

	MaxNumStaged     int `yaml:"max_num_staged"`
	MaxNumUnstaged   int `yaml:"max_num_unstaged"`
	MaxNumConflicted int `yaml:"max_num_conflicted"`
	MaxNumUntracked  int `yaml:"max_num_untracked"`
	MaxAhead         int `yaml:"max_ahead"`
	MaxBehind        int `yaml:"max_behind"`

	IndexTooLarge       int   `yaml:"index_too_large"`
	DirtyMaxFileSize    int64 `yaml:"dirty_max_file_size"`
	IndexChecksumVerify bool  `yaml:"index_checksum_verify"`

	CacheTTL time.Duration `yaml:"cache_ttl"`
	CacheCap int           `yaml:"cache_cap"`

	ExcludesFile     string `yaml:"excludes_file"`
	VisitIgnoredDirs bool   `yaml:"visit_ignored_dirs"`

	LogLevel  string `yaml:"log_level"`
	LogFormat string `yaml:"log_format"`
}

// Defaults returns a Config with the values documented in SPEC_FULL.md §6.1.
func Defaults() Config {
	return Config{
		Workers: defaultWorkers(),

		MaxNumStaged:     1,
		MaxNumUnstaged:   1,
		MaxNumConflicted: 1,
		MaxNumUntracked:  1,
		MaxAhead:         1000,
		MaxBehind:        1000,

		IndexTooLarge:       10000,
		DirtyMaxFileSize:    4 << 20,
		IndexChecksumVerify: false,

		CacheTTL: 5 * time.Minute,
		CacheCap: 64,

		ExcludesFile:     "",
		VisitIgnoredDirs: false,

		LogLevel:  "info",
		LogFormat: "json",
	}
}

// Load returns a Config built from defaults, optionally overridden by a
// YAML file at yamlPath (missing file is not an error), then by
// environment variables.
func Load(yamlPath string) (*Config, error) {
	cfg := Defaults()

	if yamlPath != "" {
		if err := loadYAML(&cfg, yamlPath); err != nil {
			return nil, err
		}
	}

	loadEnv(&cfg)

	if err := validate(&cfg); err != nil {
		return nil, err
	}

	return &cfg, nil
}

func loadYAML(cfg *Config, path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil
		}
		return err
	}
	return yaml.Unmarshal(data, cfg)
}

func loadEnv(cfg *Config) {
	setInt(&cfg.Workers, "GITSTATUSD_WORKERS")
	setInt(&cfg.MaxNumStaged, "GITSTATUSD_MAX_NUM_STAGED")
	setInt(&cfg.MaxNumUnstaged, "GITSTATUSD_MAX_NUM_UNSTAGED")
	setInt(&cfg.MaxNumConflicted, "GITSTATUSD_MAX_NUM_CONFLICTED")
	setInt(&cfg.MaxNumUntracked, "GITSTATUSD_MAX_NUM_UNTRACKED")
	setInt(&cfg.MaxAhead, "GITSTATUSD_MAX_AHEAD")
	setInt(&cfg.MaxBehind, "GITSTATUSD_MAX_BEHIND")
	setInt(&cfg.IndexTooLarge, "GITSTATUSD_INDEX_TOO_LARGE")
	setInt64(&cfg.DirtyMaxFileSize, "GITSTATUSD_DIRTY_MAX_FILE_SIZE")
	setBool(&cfg.IndexChecksumVerify, "GITSTATUSD_INDEX_CHECKSUM_VERIFY")
	setDuration(&cfg.CacheTTL, "GITSTATUSD_CACHE_TTL")
	setInt(&cfg.CacheCap, "GITSTATUSD_CACHE_CAP")
	setString(&cfg.ExcludesFile, "GITSTATUSD_EXCLUDES_FILE")
	setBool(&cfg.VisitIgnoredDirs, "GITSTATUSD_VISIT_IGNORED_DIRS")
	setString(&cfg.LogLevel, "GITSTATUSD_LOG_LEVEL")
	setString(&cfg.LogFormat, "GITSTATUSD_LOG_FORMAT")
}

func validate(cfg *Config) error {
	if cfg.Workers < 1 {
		return errors.New("workers must be >= 1")
	}
	if cfg.MaxNumStaged < 0 || cfg.MaxNumUnstaged < 0 || cfg.MaxNumConflicted < 0 || cfg.MaxNumUntracked < 0 {
		return errors.New("max_num_* bounds must be >= 0")
	}
	if cfg.IndexTooLarge < 0 {
		return errors.New("index_too_large must be >= 0")
	}
	if cfg.CacheCap < 1 {
		return errors.New("cache_cap must be >= 1")
	}
	return nil
}

func defaultWorkers() int {
	n := runtime.NumCPU()
	if n < 1 {
		return 1
	}
	return n
}

func setString(dst *string, key string) {
	if v := os.Getenv(key); v != "" {
		*dst = v
	}
}

func setInt(dst *int, key string) {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			*dst = n
		}
	}
}

func setInt64(dst *int64, key string) {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.ParseInt(v, 10, 64); err == nil {
			*dst = n
		}
	}
}

func setBool(dst *bool, key string) {
	if v := os.Getenv(key); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			*dst = b
		}
	}
}

func setDuration(dst *time.Duration, key string) {
	if v := os.Getenv(key); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			*dst = d
		}
	}
}
