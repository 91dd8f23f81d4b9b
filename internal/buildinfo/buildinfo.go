package buildinfo

import "time"

// Set via -ldflags at build time
var (
	Version    = "dev"
	BuildTime  string // when the binary was compiled
	CommitHash string // short git commit hash
)

// StartTime is recorded when the process starts
var StartTime = time.Now().UTC().Format(time.RFC3339)

// Fields returns the build metadata reported by the health endpoint.
func Fields() map[string]string {
	return map[string]string{
		"version":    Version,
		"build_time": BuildTime,
		"commit":     CommitHash,
		"started":    StartTime,
	}
}
