package version

import (
	"fmt"
	"runtime"
	"runtime/debug"
	"strings"
)

// Set with -ldflags "-X". Commit and BuildTime fall back to the VCS stamp
// the go command embeds.
var (
	Version   = "dev"
	Commit    = ""
	BuildTime = ""
)

// readBuildInfo is replaced in tests.
var readBuildInfo = debug.ReadBuildInfo

// Build describes the running e2ekit binary. The control plane reports it
// on /health and `e2ekit up` prints it in the startup summary.
type Build struct {
	Version   string `json:"version"`
	Commit    string `json:"commit,omitempty"`
	Dirty     bool   `json:"dirty,omitempty"`
	BuiltAt   string `json:"builtAt,omitempty"`
	GoVersion string `json:"goVersion"`
	Platform  string `json:"platform"`
}

// Get returns the build description.
func Get() Build {
	b := Build{
		Version:   Version,
		Commit:    Commit,
		BuiltAt:   BuildTime,
		GoVersion: runtime.Version(),
		Platform:  runtime.GOOS + "/" + runtime.GOARCH,
	}
	info, ok := readBuildInfo()
	if !ok {
		return b
	}
	if info.GoVersion != "" {
		b.GoVersion = info.GoVersion
	}
	// go install module@v1.2.3 stamps the module version.
	if b.Version == "dev" && info.Main.Version != "" && info.Main.Version != "(devel)" {
		b.Version = strings.TrimPrefix(info.Main.Version, "v")
	}
	for _, s := range info.Settings {
		switch s.Key {
		case "vcs.revision":
			if b.Commit == "" {
				b.Commit = s.Value
			}
		case "vcs.modified":
			b.Dirty = s.Value == "true"
		case "vcs.time":
			if b.BuiltAt == "" {
				b.BuiltAt = s.Value
			}
		}
	}
	if len(b.Commit) > 7 {
		b.Commit = b.Commit[:7]
	}
	return b
}

// Short is the version with the commit appended for development builds,
// e.g. "1.4.0" or "dev+3f9c2ab.dirty".
func (b Build) Short() string {
	if b.Version != "dev" || b.Commit == "" {
		return b.Version
	}
	s := b.Version + "+" + b.Commit
	if b.Dirty {
		s += ".dirty"
	}
	return s
}

// String is the line printed by `e2ekit version`.
func (b Build) String() string {
	var parts []string
	if b.Commit != "" {
		c := b.Commit
		if b.Dirty {
			c += ", modified"
		}
		parts = append(parts, c)
	}
	parts = append(parts, b.GoVersion+" "+b.Platform)
	if b.BuiltAt != "" {
		parts = append(parts, "built "+b.BuiltAt)
	}
	return fmt.Sprintf("e2ekit %s (%s)", b.Version, strings.Join(parts, "; "))
}

// UserAgent is sent by e2ekit's HTTP clients.
func UserAgent() string {
	return "e2ekit/" + Get().Short()
}
