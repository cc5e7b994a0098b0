package version

import (
	"fmt"
	"runtime"
	"runtime/debug"
	"time"
)

var (
	// Version is the semantic version, injected at build time via -ldflags
	Version = "dev"
	// GitCommit is the git commit hash, injected at build time
	GitCommit = "unknown"
	// BuildDate is the build timestamp, injected at build time
	BuildDate = "unknown"
	// GoVersion is the Go compiler version
	GoVersion = runtime.Version()
	// Platform is the OS/Arch
	Platform = runtime.GOOS + "/" + runtime.GOARCH
)

// BuildInfo contains metadata about the build
type BuildInfo struct {
	Version   string    `json:"version" yaml:"version"`
	GitCommit string    `json:"gitCommit" yaml:"gitCommit"`
	BuildDate string    `json:"buildDate" yaml:"buildDate"`
	GoVersion string    `json:"goVersion" yaml:"goVersion"`
	Platform  string    `json:"platform" yaml:"platform"`
	BuildTime time.Time `json:"buildTime,omitzero" yaml:"buildTime,omitempty"`
}

// GetBuildInfo returns build metadata. A "dev" build installed with go install
// reports the module version recorded by the toolchain instead.
func GetBuildInfo() BuildInfo {
	info := BuildInfo{
		Version:   Version,
		GitCommit: GitCommit,
		BuildDate: BuildDate,
		GoVersion: GoVersion,
		Platform:  Platform,
	}
	if info.Version == "dev" {
		if bi, ok := debug.ReadBuildInfo(); ok && bi.Main.Version != "" && bi.Main.Version != "(devel)" {
			info.Version = bi.Main.Version
		}
	}

	// Try to parse BuildDate as RFC3339
	if t, err := time.Parse(time.RFC3339, BuildDate); err == nil {
		info.BuildTime = t
	}

	return info
}

func (b BuildInfo) String() string {
	return fmt.Sprintf("tokenctl %s (commit %s, built %s, %s %s)", b.Version, b.GitCommit, b.BuildDate, b.GoVersion, b.Platform)
}

// UserAgent is sent with every request to the identity provider.
func UserAgent() string {
	return fmt.Sprintf("tokenctl/%s (%s)", GetBuildInfo().Version, Platform)
}
