package version

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func stamp(t *testing.T, version, commit, date string) {
	t.Helper()
	v, c, d := Version, GitCommit, BuildDate
	t.Cleanup(func() { Version, GitCommit, BuildDate = v, c, d })
	Version, GitCommit, BuildDate = version, commit, date
}

func TestGetBuildInfoStamped(t *testing.T) {
	stamp(t, "v1.4.0", "0a1b2c3", "2026-01-13T20:00:00Z")

	info := GetBuildInfo()
	assert.Equal(t, "v1.4.0", info.Version)
	assert.Equal(t, "0a1b2c3", info.GitCommit)
	assert.Equal(t, time.Date(2026, 1, 13, 20, 0, 0, 0, time.UTC), info.BuildTime.UTC())
	assert.NotEmpty(t, info.GoVersion)
	assert.Contains(t, info.Platform, "/")
}

func TestGetBuildInfoUnstamped(t *testing.T) {
	stamp(t, "dev", "unknown", "unknown")

	info := GetBuildInfo()
	assert.Equal(t, "dev", info.Version)
	assert.NotEmpty(t, info.GitCommit)
	assert.True(t, info.BuildTime.IsZero())
}

func TestUserAgent(t *testing.T) {
	stamp(t, "v1.2.3", GitCommit, BuildDate)
	assert.Equal(t, "slactl/v1.2.3 ("+Platform+")", UserAgent("slactl"))
}
