// Package buildinfo carries version metadata stamped at build time.
package buildinfo

import "time"

// Set via -ldflags at build time
var (
	Version    = "dev"
	BuildTime  string // when the binary was compiled
	CommitHash string // short git commit hash
)

// StartTime is recorded when the process starts
var StartTime = time.Now().UTC()

// Info is the build metadata reported by the health endpoint
type Info struct {
	Version    string    `json:"version"`
	BuildTime  string    `json:"buildTime,omitempty"`
	CommitHash string    `json:"commit,omitempty"`
	StartedAt  time.Time `json:"startedAt"`
	Uptime     string    `json:"uptime"`
}

// Current returns the metadata of the running binary
func Current() Info {
	return Info{
		Version:    Version,
		BuildTime:  BuildTime,
		CommitHash: CommitHash,
		StartedAt:  StartTime,
		Uptime:     time.Since(StartTime).Round(time.Second).String(),
	}
}
