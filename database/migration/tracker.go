package migration

import (
	"sort"
	"sync"

	"golang.org/x/sync/singleflight"
)

// Tracker records which database URLs have been migrated by this process.
// It replaces a package-level map so that tests and separate runs do not
// share state.
type Tracker struct {
	mu       sync.Mutex
	versions map[string]uint
	flight   singleflight.Group
}

// NewTracker creates an empty Tracker.
func NewTracker() *Tracker {
	return &Tracker{versions: make(map[string]uint)}
}

// Done reports whether databaseURL was migrated, and to which version.
func (t *Tracker) Done(databaseURL string) (uint, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	v, ok := t.versions[databaseURL]
	return v, ok
}

// Mark records databaseURL as migrated.
func (t *Tracker) Mark(databaseURL string, version uint) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.versions[databaseURL] = version
}

// Forget removes databaseURL, so the next Up runs again.
func (t *Tracker) Forget(databaseURL string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	delete(t.versions, databaseURL)
}

// URLs returns the tracked URLs in sorted order.
func (t *Tracker) URLs() []string {
	t.mu.Lock()
	defer t.mu.Unlock()
	out := make([]string, 0, len(t.versions))
	for u := range t.versions {
		out = append(out, u)
	}
	sort.Strings(out)
	return out
}
