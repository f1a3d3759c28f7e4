package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/dmitrijs2005/tierstore/internal/flagx"
	"github.com/dmitrijs2005/tierstore/internal/timex"
)

// FileConfig is the on-disk shape of the configuration. Durations accept
// "10s" style strings or integer nanoseconds. Fields left out of the file
// keep their current value.
type FileConfig struct {
	DatabaseDSN      *string         `json:"database_dsn" yaml:"database_dsn"`
	DataDir          *string         `json:"data_dir" yaml:"data_dir"`
	Storage          *string         `json:"storage" yaml:"storage"`
	Stage            *string         `json:"stage" yaml:"stage"`
	HealthAddr       *string         `json:"health_addr" yaml:"health_addr"`
	MetricsAddr      *string         `json:"metrics_addr" yaml:"metrics_addr"`
	LocalGCInterval  *timex.Duration `json:"local_gc_interval" yaml:"local_gc_interval"`
	RemoteGCInterval *timex.Duration `json:"remote_gc_interval" yaml:"remote_gc_interval"`
	UploadInterval   *timex.Duration `json:"upload_interval" yaml:"upload_interval"`
	LockTimeout      *timex.Duration `json:"lock_timeout" yaml:"lock_timeout"`
	RedisURL         *string         `json:"redis_url" yaml:"redis_url"`
	LeaseTTL         *timex.Duration `json:"lease_ttl" yaml:"lease_ttl"`
	LogFormat        *string         `json:"log_format" yaml:"log_format"`
	LogLevel         *string         `json:"log_level" yaml:"log_level"`
}

// parseFile overlays the file named by -c/-config in args, if any. Files
// ending in .yaml or .yml are decoded as YAML, anything else as JSON.
func parseFile(config *Config, args []string) error {
	path := flagx.ConfigFileFlagFrom(args)
	if path == "" {
		return nil
	}

	b, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("read config %s: %w", path, err)
	}

	var fc FileConfig
	switch strings.ToLower(filepath.Ext(path)) {
	case ".yaml", ".yml":
		err = yaml.Unmarshal(b, &fc)
	default:
		err = json.Unmarshal(b, &fc)
	}
	if err != nil {
		return fmt.Errorf("decode config %s: %w", path, err)
	}

	fc.apply(config)
	return nil
}

func (fc *FileConfig) apply(c *Config) {
	setString(&c.DatabaseDSN, fc.DatabaseDSN)
	setString(&c.DataDir, fc.DataDir)
	setString(&c.Storage, fc.Storage)
	setString(&c.Stage, fc.Stage)
	setString(&c.HealthAddr, fc.HealthAddr)
	setString(&c.MetricsAddr, fc.MetricsAddr)
	setString(&c.RedisURL, fc.RedisURL)
	setString(&c.LogFormat, fc.LogFormat)
	setString(&c.LogLevel, fc.LogLevel)

	for _, d := range []struct {
		dst *time.Duration
		src *timex.Duration
	}{
		{&c.LocalGCInterval, fc.LocalGCInterval},
		{&c.RemoteGCInterval, fc.RemoteGCInterval},
		{&c.UploadInterval, fc.UploadInterval},
		{&c.LockTimeout, fc.LockTimeout},
		{&c.LeaseTTL, fc.LeaseTTL},
	} {
		if d.src != nil {
			*d.dst = d.src.Duration
		}
	}
}

func setString(dst *string, src *string) {
	if src != nil {
		*dst = *src
	}
}
