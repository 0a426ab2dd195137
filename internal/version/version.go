// Package version reports build metadata. Release builds set the
// variables below with -ldflags; other builds fall back to the VCS
// settings the Go toolchain embeds.
package version

import (
	"fmt"
	"runtime"
	"runtime/debug"
	"strings"
	"sync"
	"time"
)

// Set at build time with -ldflags "-X".
var (
	Version   = "dev"
	GitCommit = "unknown"
	BuildTime = "unknown"
)

// BuildInfo contains version and build information
type BuildInfo struct {
	Version   string    `json:"version" yaml:"version"`
	GitCommit string    `json:"git_commit" yaml:"git_commit"`
	BuildTime time.Time `json:"build_time" yaml:"build_time"`
	GoVersion string    `json:"go_version" yaml:"go_version"`
	Platform  string    `json:"platform" yaml:"platform"`
	Module    string    `json:"module,omitempty" yaml:"module,omitempty"`
}

type vcsInfo struct {
	module   string
	modVer   string
	revision string
	modified bool
	time     time.Time
}

var readVCS = sync.OnceValue(func() vcsInfo {
	var v vcsInfo
	info, ok := debug.ReadBuildInfo()
	if !ok {
		return v
	}
	v.module = info.Main.Path
	if info.Main.Version != "(devel)" {
		v.modVer = info.Main.Version
	}
	for _, s := range info.Settings {
		switch s.Key {
		case "vcs.revision":
			v.revision = s.Value
		case "vcs.modified":
			v.modified = s.Value == "true"
		case "vcs.time":
			v.time, _ = time.Parse(time.RFC3339, s.Value)
		}
	}
	return v
})

// Get returns the build information of the running binary.
func Get() BuildInfo {
	vcs := readVCS()
	built := parseTime(BuildTime)
	if built.IsZero() {
		built = vcs.time
	}
	return BuildInfo{
		Version:   versionString(vcs),
		GitCommit: commit(vcs),
		BuildTime: built,
		GoVersion: runtime.Version(),
		Platform:  runtime.GOOS + "/" + runtime.GOARCH,
		Module:    vcs.module,
	}
}

func versionString(vcs vcsInfo) string {
	switch {
	case Version != "" && Version != "dev":
		return Version
	case vcs.modVer != "":
		return vcs.modVer
	case len(vcs.revision) >= 7:
		return "dev-" + vcs.revision[:7]
	default:
		return "dev"
	}
}

func commit(vcs vcsInfo) string {
	if GitCommit != "" && GitCommit != "unknown" {
		return GitCommit
	}
	if vcs.revision != "" {
		return vcs.revision
	}
	return "unknown"
}

// Short returns the version with an abbreviated commit, e.g. "v1.2.0 (abc1234)".
func Short() string {
	info := Get()
	if len(info.GitCommit) < 7 || strings.HasPrefix(info.Version, "dev-") {
		return info.Version
	}
	if info.Version == "dev" {
		return "dev-" + info.GitCommit[:7]
	}
	return fmt.Sprintf("%s (%s)", info.Version, info.GitCommit[:7])
}

// IsRelease reports whether the version came from a release build.
func IsRelease() bool {
	v := Get().Version
	return v != "dev" && !strings.HasPrefix(v, "dev-")
}

// IsDirty reports whether the working tree had uncommitted changes.
func IsDirty() bool {
	return readVCS().modified
}

func parseTime(s string) time.Time {
	if s == "" || s == "unknown" {
		return time.Time{}
	}
	for _, layout := range []string{time.RFC3339, "2006-01-02T15:04:05", "2006-01-02 15:04:05"} {
		if t, err := time.Parse(layout, s); err == nil {
			return t
		}
	}
	return time.Time{}
}
