package config

import (
	"flag"
	"io"

	"github.com/dmitrijs2005/tierstore/internal/flagx"
)

var knownFlags = []string{
	"-d", "-data-dir", "-storage", "-stage", "-a", "-m",
	"-local-gc", "-remote-gc", "-upload",
	"-lock-timeout", "-redis", "-lease-ttl", "-log-format", "-log-level",
}

// parseFlags populates Config fields from command-line flags.
//
// Supported flags:
//
//	-d string            PostgreSQL DSN
//	-data-dir string     filestore and checklist root
//	-storage string      storage mode ("file")
//	-stage string        process stage
//	-a string            gRPC health address
//	-m string            Prometheus metrics address
//	-local-gc duration   local GC interval
//	-remote-gc duration  remote GC interval
//	-upload duration     upload sweep interval
//	-lock-timeout dur    attachments lock timeout
//	-redis string        redis:// URL for job leases
//	-lease-ttl duration  job lease TTL
//	-log-format string   json, text or auto
//	-log-level string    debug, info, warn or error
//
// args is filtered through flagx.FilterArgs first so subcommands and their
// own flags pass through untouched.
func parseFlags(config *Config, args []string) error {
	args = flagx.FilterArgs(args, knownFlags)

	fs := flag.NewFlagSet("tierstore", flag.ContinueOnError)
	fs.SetOutput(io.Discard)

	fs.StringVar(&config.DatabaseDSN, "d", config.DatabaseDSN, "database DSN")
	fs.StringVar(&config.DataDir, "data-dir", config.DataDir, "data directory")
	fs.StringVar(&config.Storage, "storage", config.Storage, "attachment storage mode")
	fs.StringVar(&config.Stage, "stage", config.Stage, "process stage")
	fs.StringVar(&config.HealthAddr, "a", config.HealthAddr, "gRPC health address")
	fs.StringVar(&config.MetricsAddr, "m", config.MetricsAddr, "metrics address")
	fs.DurationVar(&config.LocalGCInterval, "local-gc", config.LocalGCInterval, "local GC interval")
	fs.DurationVar(&config.RemoteGCInterval, "remote-gc", config.RemoteGCInterval, "remote GC interval")
	fs.DurationVar(&config.UploadInterval, "upload", config.UploadInterval, "upload sweep interval")
	fs.DurationVar(&config.LockTimeout, "lock-timeout", config.LockTimeout, "attachments lock timeout")
	fs.StringVar(&config.RedisURL, "redis", config.RedisURL, "redis URL for job leases")
	fs.DurationVar(&config.LeaseTTL, "lease-ttl", config.LeaseTTL, "job lease TTL")
	fs.StringVar(&config.LogFormat, "log-format", config.LogFormat, "log format")
	fs.StringVar(&config.LogLevel, "log-level", config.LogLevel, "log level")

	return fs.Parse(args)
}
