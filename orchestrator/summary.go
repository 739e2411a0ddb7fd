package orchestrator

import (
	"context"
	"fmt"
	"io"
	"sort"
	"strings"
	"time"

	"github.com/kbukum/e2ekit/component"
	"github.com/kbukum/e2ekit/connpool"
	"github.com/kbukum/e2ekit/environment"
	"github.com/kbukum/e2ekit/version"
)

// Summary renders the startup report printed by `e2ekit up`.
type Summary struct {
	serviceName     string
	build           version.Build
	startupDuration time.Duration
}

// NewSummary creates a summary for the named run.
func NewSummary(serviceName string, build version.Build) *Summary {
	return &Summary{serviceName: serviceName, build: build}
}

// SetStartupDuration records the total setup time.
func (s *Summary) SetStartupDuration(d time.Duration) {
	s.startupDuration = d
}

// Display writes the report for r, including live health.
func (s *Summary) Display(w io.Writer, r *Run) {
	fmt.Fprintf(w, "\n🚀 %s ready in %.2fs (run %s)\n",
		s.serviceName, s.startupDuration.Seconds(), r.ID())
	fmt.Fprintf(w, "   %s\n\n", s.build)

	fmt.Fprintf(w, "🌐 Control plane\n")
	fmt.Fprintf(w, "   ├── %s\n", r.URL())
	fmt.Fprintf(w, "   └── hand-off: %s\n\n", r.HandoffPath())

	writeSuites(w, r.Suites())
	writeHealth(w, r.Health(context.Background()))
	fmt.Fprintf(w, "\n")
}

func writeSuites(w io.Writer, suites []environment.Suite) {
	fmt.Fprintf(w, "📦 Suites (%d)\n", len(suites))
	if len(suites) == 0 {
		fmt.Fprintf(w, "   └── none\n")
		return
	}
	for i, su := range suites {
		prefix, indent := "├──", "│  "
		if i == len(suites)-1 {
			prefix, indent = "└──", "   "
		}
		fmt.Fprintf(w, "   %s %s\n", prefix, su.SuiteID)
		app := su.AppURL
		if app == "" {
			app = "(no app)"
		}
		fmt.Fprintf(w, "   %s ├── app: %s\n", indent, app)
		if len(su.TestData) == 0 {
			fmt.Fprintf(w, "   %s └── db:  %s\n", indent, connpool.Redact(su.DatabaseURL))
			continue
		}
		fmt.Fprintf(w, "   %s ├── db:  %s\n", indent, connpool.Redact(su.DatabaseURL))
		fmt.Fprintf(w, "   %s └── test data: %s\n", indent, strings.Join(testDataKeys(su.TestData), ", "))
	}
}

func writeHealth(w io.Writer, results []component.Health) {
	if len(results) == 0 {
		return
	}
	fmt.Fprintf(w, "\n🏥 Health Check\n")
	for i, h := range results {
		prefix := "├──"
		if i == len(results)-1 {
			prefix = "└──"
		}
		msg := ""
		if h.Message != "" {
			msg = " (" + h.Message + ")"
		}
		fmt.Fprintf(w, "   %s %s %s: %s%s\n", prefix, healthStatusIcon(h.Status), h.Name, strings.ToLower(string(h.Status)), msg)
	}
}

func testDataKeys(m map[string]interface{}) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

func healthStatusIcon(status component.HealthStatus) string {
	switch status {
	case component.StatusHealthy:
		return "✅"
	case component.StatusDegraded:
		return "⚠️"
	case component.StatusUnhealthy:
		return "❌"
	default:
		return "❓"
	}
}
