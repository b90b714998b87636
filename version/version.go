// Package version exposes build information for the circuitpipe binary.
// Version and Commit are set at build time via -ldflags:
//
//	go build -ldflags "-X github.com/inferq/circuitpipe/version.Version=1.2.0"
package version

import (
	"fmt"
	"runtime/debug"
	"time"
)

var (
	// Version is the release version, "dev" for untagged builds.
	Version = "dev"
	// Commit is the VCS revision the binary was built from.
	Commit = ""
	// BuildTime is the build timestamp in RFC 3339 form.
	BuildTime = ""
)

// Info is the resolved build information.
type Info struct {
	Version   string `json:"version"`
	Commit    string `json:"commit"`
	GoVersion string `json:"go_version"`
	BuildTime string `json:"build_time"`
	Dirty     bool   `json:"dirty"`
}

// Get resolves build information, filling gaps from the embedded module
// build info when ldflags were not set.
func Get() Info {
	info := Info{
		Version:   Version,
		Commit:    Commit,
		BuildTime: BuildTime,
	}

	bi, ok := debug.ReadBuildInfo()
	if !ok {
		return info
	}
	info.GoVersion = bi.GoVersion
	for _, s := range bi.Settings {
		switch s.Key {
		case "vcs.revision":
			if info.Commit == "" {
				info.Commit = s.Value
			}
		case "vcs.modified":
			info.Dirty = s.Value == "true"
		case "vcs.time":
			if info.BuildTime == "" {
				if t, err := time.Parse(time.RFC3339, s.Value); err == nil {
					info.BuildTime = t.Format(time.RFC3339)
				}
			}
		}
	}
	return info
}

// Short returns "version-commit", with a -dirty suffix for modified trees.
func (i Info) Short() string {
	out := i.Version
	if c := i.shortCommit(); c != "" {
		out += "-" + c
	}
	if i.Dirty {
		out += "-dirty"
	}
	return out
}

// String returns the full human-readable version line.
func (i Info) String() string {
	out := i.Short()
	if i.BuildTime != "" {
		out += fmt.Sprintf(" (built %s)", i.BuildTime)
	}
	if i.GoVersion != "" {
		out += " " + i.GoVersion
	}
	return out
}

func (i Info) shortCommit() string {
	if len(i.Commit) > 7 {
		return i.Commit[:7]
	}
	return i.Commit
}
