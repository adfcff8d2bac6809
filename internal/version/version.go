// Package version exposes build metadata stamped into the softhub binaries
// through -ldflags, plus a few runtime facts about the running instance.
package version

import (
	"fmt"
	"os"
	"sync"

	"github.com/google/uuid"
)

var (
	// Version is the release tag or short commit hash.
	// Set via: -ldflags "-X softhub/internal/version.Version=..."
	Version = "unknown"

	// BuildDate is the ISO 8601 UTC build timestamp.
	// Set via: -ldflags "-X softhub/internal/version.BuildDate=..."
	BuildDate = "unknown"

	// GitCommit is the full commit SHA the binary was built from.
	// Set via: -ldflags "-X softhub/internal/version.GitCommit=..."
	GitCommit = "unknown"
)

// Info holds build metadata and per-process identity.
type Info struct {
	Version    string `json:"version"`
	GitCommit  string `json:"git_commit"`
	BuildDate  string `json:"build_date"`
	InstanceID string `json:"instance_id"`
	Hostname   string `json:"hostname"`
}

var (
	once sync.Once
	info Info
)

// GetInfo returns the build metadata. Instance ID and hostname are resolved
// once per process.
func GetInfo() Info {
	once.Do(func() {
		info = Info{
			Version:    Version,
			GitCommit:  GitCommit,
			BuildDate:  BuildDate,
			InstanceID: uuid.New().String(),
			Hostname:   getHostname(),
		}
	})
	return info
}

func getHostname() string {
	hostname, err := os.Hostname()
	if err != nil {
		return "unknown"
	}
	return hostname
}

// String formats version info for CLI display.
func (i Info) String() string {
	return fmt.Sprintf("softhub version %s (commit: %s, built: %s)", i.Version, i.GitCommit, i.BuildDate)
}

// UserAgent is sent on outbound calls to the content origin, the mirror
// store and the CAPTCHA provider.
func (i Info) UserAgent() string {
	v := i.Version
	if v == "" {
		v = "unknown"
	}
	return "softhub/" + v
}
