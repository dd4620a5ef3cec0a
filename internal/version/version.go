// Package version carries build metadata, set with -ldflags "-X ..." at
// release time and filled from the embedded VCS stamp otherwise.
package version

import (
	"runtime"
	"runtime/debug"
)

var (
	Version   = "dev"
	Commit    = ""
	BuildDate = ""
	GoVersion = runtime.Version()
)

func init() {
	info, ok := debug.ReadBuildInfo()
	if !ok {
		return
	}
	fromBuildInfo(info.Settings)
}

func fromBuildInfo(settings []debug.BuildSetting) {
	dirty := false
	for _, s := range settings {
		switch s.Key {
		case "vcs.revision":
			if Commit == "" {
				Commit = s.Value
				if len(Commit) > 12 {
					Commit = Commit[:12]
				}
			}
		case "vcs.time":
			if BuildDate == "" {
				BuildDate = s.Value
			}
		case "vcs.modified":
			dirty = s.Value == "true"
		}
	}
	if dirty && Commit != "" {
		Commit += "-dirty"
	}
	if Commit == "" {
		Commit = "none"
	}
	if BuildDate == "" {
		BuildDate = "unknown"
	}
}

// UserAgent identifies outbound requests made by component.
func UserAgent(component string) string {
	return "komandorr-" + component + "/" + Version
}
