package resolver

import (
	"path/filepath"
	"strings"

	"github.com/kbukum/e2ekit/handoff"
)

// Resolution methods, in default priority order.
const (
	MethodPath     = "path"
	MethodProject  = "project"
	MethodBaseURL  = "base_url"
	MethodFallback = "fallback"
)

// DefaultFallback is the suite with the richest fixture set.
const DefaultFallback = "interview"

// TestInfo describes the running test.
type TestInfo struct {
	FilePath    string `json:"filePath,omitempty"`
	ProjectName string `json:"projectName,omitempty"`
	BaseURL     string `json:"baseUrl,omitempty"`
}

// MatchFunc maps a test onto one of the known suites. It must not have side
// effects.
type MatchFunc func(info TestInfo, known []handoff.Suite) (handoff.Suite, bool)

// Strategy is a named MatchFunc.
type Strategy struct {
	Method string
	// Input renders the part of TestInfo the strategy looks at, for diagnostics.
	Input func(info TestInfo) string
	Match MatchFunc
}

func find(known []handoff.Suite, suiteID string) (handoff.Suite, bool) {
	for _, s := range known {
		if s.SuiteID == suiteID {
			return s, true
		}
	}
	return handoff.Suite{}, false
}

// lookup maps name through table. A nil table maps names onto themselves.
func lookup(table map[string]string, name string) (string, bool) {
	if name == "" {
		return "", false
	}
	if table == nil {
		return name, true
	}
	key, ok := table[name]
	return key, ok
}

// SuiteFromPath returns the path segment that follows a "suites" directory.
func SuiteFromPath(path string) string {
	parts := strings.Split(filepath.ToSlash(path), "/")
	for i := 0; i < len(parts)-1; i++ {
		if parts[i] == "suites" && parts[i+1] != "" {
			if i+1 == len(parts)-1 && strings.Contains(parts[i+1], ".") {
				// suites/login_test.go: a file, not a suite directory
				return ""
			}
			return parts[i+1]
		}
	}
	return ""
}

// ByPath matches the directory after suites/ through table.
func ByPath(table map[string]string) Strategy {
	return Strategy{
		Method: MethodPath,
		Input:  func(info TestInfo) string { return info.FilePath },
		Match: func(info TestInfo, known []handoff.Suite) (handoff.Suite, bool) {
			key, ok := lookup(table, SuiteFromPath(info.FilePath))
			if !ok {
				return handoff.Suite{}, false
			}
			return find(known, key)
		},
	}
}

// ByProject matches the runner project name through table.
func ByProject(table map[string]string) Strategy {
	return Strategy{
		Method: MethodProject,
		Input:  func(info TestInfo) string { return info.ProjectName },
		Match: func(info TestInfo, known []handoff.Suite) (handoff.Suite, bool) {
			key, ok := lookup(table, info.ProjectName)
			if !ok {
				return handoff.Suite{}, false
			}
			return find(known, key)
		},
	}
}

// ByBaseURL matches the base URL exactly against each suite's app URL,
// ignoring a trailing slash.
func ByBaseURL() Strategy {
	return Strategy{
		Method: MethodBaseURL,
		Input:  func(info TestInfo) string { return info.BaseURL },
		Match: func(info TestInfo, known []handoff.Suite) (handoff.Suite, bool) {
			want := strings.TrimRight(info.BaseURL, "/")
			if want == "" {
				return handoff.Suite{}, false
			}
			for _, s := range known {
				if s.AppURL != "" && strings.TrimRight(s.AppURL, "/") == want {
					return s, true
				}
			}
			return handoff.Suite{}, false
		},
	}
}

// Fallback always selects suiteID when it is known.
func Fallback(suiteID string) Strategy {
	return Strategy{
		Method: MethodFallback,
		Input:  func(TestInfo) string { return suiteID },
		Match: func(_ TestInfo, known []handoff.Suite) (handoff.Suite, bool) {
			return find(known, suiteID)
		},
	}
}

// DefaultStrategies returns path, project, base URL and fallback, in that
// order.
func DefaultStrategies(paths, projects map[string]string, fallback string) []Strategy {
	if fallback == "" {
		fallback = DefaultFallback
	}
	return []Strategy{ByPath(paths), ByProject(projects), ByBaseURL(), Fallback(fallback)}
}

// Config holds the lookup tables shared by setup and workers, usually the
// resolve section of e2ekit.yml.
type Config struct {
	// Paths maps the directory under suites/ to a suite id.
	Paths map[string]string `yaml:"paths" mapstructure:"paths"`
	// Projects maps the runner project (E2E_PROJECT) to a suite id.
	Projects map[string]string `yaml:"projects" mapstructure:"projects"`
	// Fallback defaults to DefaultFallback.
	Fallback string `yaml:"fallback" mapstructure:"fallback"`
}

// Strategies returns DefaultStrategies for the configured tables.
func (c Config) Strategies() []Strategy {
	return DefaultStrategies(c.Paths, c.Projects, c.Fallback)
}
