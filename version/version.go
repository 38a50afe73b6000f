package version

import (
	"fmt"
	"runtime/debug"
)

var (
	// Version is the release tag, "dev" for local builds.
	Version = "dev"
	// Commit is the short git revision.
	Commit = ""
)

// Info describes the running binary.
type Info struct {
	Version   string `json:"version"`
	Commit    string `json:"commit,omitempty"`
	GoVersion string `json:"go_version"`
	Dirty     bool   `json:"dirty"`
}

// Get collects build information, preferring link-time values.
func Get() Info {
	info := Info{Version: Version, Commit: Commit}
	bi, ok := debug.ReadBuildInfo()
	if !ok {
		return info
	}
	info.GoVersion = bi.GoVersion
	for _, s := range bi.Settings {
		switch s.Key {
		case "vcs.revision":
			if info.Commit == "" {
				info.Commit = shorten(s.Value)
			}
		case "vcs.modified":
			info.Dirty = s.Value == "true"
		}
	}
	return info
}

// String renders info as "version-commit[-dirty] (go version)".
func (i Info) String() string {
	s := i.Version
	if i.Commit != "" {
		s += "-" + i.Commit
	}
	if i.Dirty {
		s += "-dirty"
	}
	if i.GoVersion != "" {
		s = fmt.Sprintf("%s (%s)", s, i.GoVersion)
	}
	return s
}

func shorten(rev string) string {
	if len(rev) > 7 {
		return rev[:7]
	}
	return rev
}
