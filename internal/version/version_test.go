package version

import (
	"runtime/debug"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func withBuild(t *testing.T, version, commit, built string, info *debug.BuildInfo) {
	t.Helper()

	oldVersion, oldCommit, oldTime, oldRead := Version, GitCommit, BuildTime, readBuildInfo
	t.Cleanup(func() {
		Version, GitCommit, BuildTime, readBuildInfo = oldVersion, oldCommit, oldTime, oldRead
	})

	Version, GitCommit, BuildTime = version, commit, built
	readBuildInfo = func() (*debug.BuildInfo, bool) {
		return info, info != nil
	}
}

func vcs(revision string, modified bool) *debug.BuildInfo {
	m := "false"
	if modified {
		m = "true"
	}

	return &debug.BuildInfo{
		Main: debug.Module{Version: "(devel)"},
		Settings: []debug.BuildSetting{
			{Key: "vcs.revision", Value: revision},
			{Key: "vcs.modified", Value: m},
		},
	}
}

func TestLdflagsWin(t *testing.T) {
	withBuild(t, "v1.2.0", "0123456789abcdef", "2024-01-02T03:04:05Z", vcs("fedcba9876543210", true))

	info := GetBuildInfo()
	assert.Equal(t, "v1.2.0", info.Version)
	assert.Equal(t, "0123456789abcdef", info.GitCommit)
	assert.Equal(t, time.Date(2024, 1, 2, 3, 4, 5, 0, time.UTC), info.BuildTime)
	assert.True(t, info.Release)
	assert.True(t, info.Dirty)
	assert.Equal(t, "v1.2.0 (0123456)", GetShortVersion())
}

func TestVersionFromVCS(t *testing.T) {
	withBuild(t, "dev", "unknown", "unknown", vcs("fedcba9876543210", false))

	assert.Equal(t, "dev-fedcba9", GetVersion())
	assert.Equal(t, "fedcba9876543210", GetGitCommit())
	assert.Equal(t, "dev-fedcba9", GetShortVersion())

	info := GetBuildInfo()
	assert.False(t, info.Release)
	assert.False(t, info.Dirty)
	assert.True(t, info.BuildTime.IsZero())
}

func TestVersionFromModule(t *testing.T) {
	withBuild(t, "", "", "", &debug.BuildInfo{Main: debug.Module{Version: "v0.3.1"}})

	assert.Equal(t, "v0.3.1", GetVersion())
	assert.Equal(t, "unknown", GetGitCommit())
	assert.Equal(t, "v0.3.1", GetShortVersion())
}

func TestVersionWithoutBuildInfo(t *testing.T) {
	withBuild(t, "dev", "unknown", "unknown", nil)

	assert.Equal(t, "dev", GetVersion())
	assert.Equal(t, "unknown", GetGitCommit())
	assert.Equal(t, "dev", GetShortVersion())
}

func TestBuildInfoString(t *testing.T) {
	info := &BuildInfo{
		Version:   "v1.0.0",
		GitCommit: "abc",
		BuildTime: time.Date(2024, 1, 2, 3, 4, 5, 0, time.UTC),
		GoVersion: "go1.25.6",
		Platform:  "linux/amd64",
		Dirty:     true,
	}

	assert.Equal(t, "Version: v1.0.0\nCommit: abc\nBuilt: 2024-01-02T03:04:05Z\nGo: go1.25.6\nPlatform: linux/amd64\nWorking directory: dirty", info.String())

	info = &BuildInfo{Version: "dev", GitCommit: "unknown", GoVersion: "go1.25.6", Platform: "linux/amd64"}
	assert.Equal(t, "Version: dev\nGo: go1.25.6\nPlatform: linux/amd64", info.String())
}

func TestParseTime(t *testing.T) {
	assert.True(t, parseTime("").IsZero())
	assert.True(t, parseTime("unknown").IsZero())
	assert.True(t, parseTime("yesterday").IsZero())
	assert.Equal(t, 2024, parseTime("2024-01-02 03:04:05").Year())
	assert.Equal(t, 2024, parseTime("2024-01-02T03:04:05").Year())
}
