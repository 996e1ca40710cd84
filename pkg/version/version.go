// Package version carries build metadata stamped in with -ldflags -X.
package version

import (
	"runtime"
	"runtime/debug"
	"time"
)

// Stamped at build time; GoVersion and Platform come from the running binary.
var (
	Version   = "dev"
	GitCommit = "unknown"
	BuildDate = "unknown"
	GoVersion = runtime.Version()
	Platform  = runtime.GOOS + "/" + runtime.GOARCH
)

// BuildInfo is served by GET /api/version and printed by slactl version.
type BuildInfo struct {
	Version   string    `json:"version"`
	GitCommit string    `json:"gitCommit"`
	BuildDate string    `json:"buildDate"`
	GoVersion string    `json:"goVersion"`
	Platform  string    `json:"platform"`
	BuildTime time.Time `json:"buildTime,omitempty"`
}

// GetBuildInfo reports the stamped metadata. An unstamped commit falls back
// to the vcs.revision the go tool embeds; BuildTime is set only when
// BuildDate is RFC3339.
func GetBuildInfo() BuildInfo {
	info := BuildInfo{
		Version:   Version,
		GitCommit: GitCommit,
		BuildDate: BuildDate,
		GoVersion: GoVersion,
		Platform:  Platform,
	}
	if info.GitCommit == "unknown" {
		if rev := vcsRevision(); rev != "" {
			info.GitCommit = rev
		}
	}
	if t, err := time.Parse(time.RFC3339, BuildDate); err == nil {
		info.BuildTime = t
	}
	return info
}

func vcsRevision() string {
	bi, ok := debug.ReadBuildInfo()
	if !ok {
		return ""
	}
	for _, s := range bi.Settings {
		if s.Key == "vcs.revision" {
			return s.Value
		}
	}
	return ""
}

// UserAgent returns the User-Agent sent by outbound HTTP clients of component.
func UserAgent(component string) string {
	return component + "/" + Version + " (" + Platform + ")"
}
