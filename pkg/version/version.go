// Package version reports build information for searchview.
package version

import (
	"fmt"
	"runtime"
	"runtime/debug"
)

// Version is set at build time:
//
//	-X github.com/Aman-CERP/searchview/pkg/version.Version=$(VERSION)
var Version = "dev"

var (
	// Commit is the short git commit. Falls back to the VCS stamp in the
	// binary's build info.
	Commit = "unknown"

	// Date is the build date in RFC3339 format.
	Date = "unknown"

	// GoVersion is the toolchain that built the binary.
	GoVersion = runtime.Version()
)

// BuildInfo is version information for JSON output.
type BuildInfo struct {
	Version   string `json:"version"`
	Commit    string `json:"commit"`
	Date      string `json:"date"`
	GoVersion string `json:"go_version"`
	OS        string `json:"os"`
	Arch      string `json:"arch"`
	Modified  bool   `json:"modified,omitempty"`
}

// String returns a one-line version string.
func String() string {
	info := GetInfo()
	dirty := ""
	if info.Modified {
		dirty = "+dirty"
	}
	return fmt.Sprintf("searchview %s (commit: %s%s, built: %s, go: %s)",
		info.Version, info.Commit, dirty, info.Date, info.GoVersion)
}

// Short returns just the version.
func Short() string {
	return Version
}

// GetInfo returns the build information, filling unset ldflags from the
// VCS settings embedded by the go tool.
func GetInfo() BuildInfo {
	info := BuildInfo{
		Version:   Version,
		Commit:    Commit,
		Date:      Date,
		GoVersion: GoVersion,
		OS:        runtime.GOOS,
		Arch:      runtime.GOARCH,
	}
	bi, ok := debug.ReadBuildInfo()
	if !ok {
		return info
	}
	for _, s := range bi.Settings {
		switch s.Key {
		case "vcs.revision":
			if info.Commit == "unknown" && s.Value != "" {
				info.Commit = s.Value[:min(len(s.Value), 7)]
			}
		case "vcs.time":
			if info.Date == "unknown" && s.Value != "" {
				info.Date = s.Value
			}
		case "vcs.modified":
			info.Modified = s.Value == "true"
		}
	}
	return info
}
