// Package buildinfo exposes version metadata stamped at build time.
package buildinfo

import (
	"encoding/json"
	"net/http"
	"runtime"
	"runtime/debug"
)

// Set at build time via ldflags:
// -X github.com/otherjamesbrown/calinsight/pkg/buildinfo.Version=v0.3.0
// -X github.com/otherjamesbrown/calinsight/pkg/buildinfo.Commit=1f2e3d4
// -X github.com/otherjamesbrown/calinsight/pkg/buildinfo.BuildTime=2026-10-01T08:00:00Z
var (
	Version   = "dev"
	Commit    = "unknown"
	BuildTime = "unknown"
)

// Info holds build information.
type Info struct {
	Version   string `json:"version" yaml:"version"`
	Commit    string `json:"commit" yaml:"commit"`
	BuildTime string `json:"build_time" yaml:"build_time"`
	GoVersion string `json:"go_version" yaml:"go_version"`
}

// Get returns build info, falling back to the VCS stamp embedded by the Go
// toolchain when ldflags were not set.
func Get() Info {
	info := Info{
		Version:   Version,
		Commit:    Commit,
		BuildTime: BuildTime,
		GoVersion: runtime.Version(),
	}
	if info.Commit != "unknown" {
		return info
	}
	if bi, ok := debug.ReadBuildInfo(); ok {
		for _, s := range bi.Settings {
			switch s.Key {
			case "vcs.revision":
				if len(s.Value) > 7 {
					info.Commit = s.Value[:7]
				} else {
					info.Commit = s.Value
				}
			case "vcs.time":
				if info.BuildTime == "unknown" {
					info.BuildTime = s.Value
				}
			}
		}
	}
	return info
}

// String returns a one-liner like "v0.3.0 (1f2e3d4, 2026-10-01T08:00:00Z)".
func String() string {
	i := Get()
	return i.Version + " (" + i.Commit + ", " + i.BuildTime + ")"
}

// Handler responds with build info JSON.
func Handler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(Get())
	}
}
