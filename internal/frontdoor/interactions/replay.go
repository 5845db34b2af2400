package interactions

import (
	"time"

	"github.com/puzpuzpuz/xsync/v3"
)

// DefaultReplayWindow is how long an accepted interaction id is remembered.
const DefaultReplayWindow = 5 * time.Minute

// ReplayGuard remembers recently accepted interaction ids so a signed
// request delivered twice is handed to the worker pool only once.
// A nil guard admits everything.
type ReplayGuard struct {
	window time.Duration
	seen   *xsync.MapOf[string, time.Time]
	now    func() time.Time
}

// NewReplayGuard creates a guard. A non-positive window disables it.
func NewReplayGuard(window time.Duration) *ReplayGuard {
	return &ReplayGuard{
		window: window,
		seen:   xsync.NewMapOf[string, time.Time](),
		now:    time.Now,
	}
}

// Admit reports whether id has not been seen within the window, and records
// it if so. Empty ids are always admitted.
func (g *ReplayGuard) Admit(id string) bool {
	if g == nil || g.window <= 0 || id == "" {
		return true
	}
	now := g.now()
	admitted := false
	g.seen.Compute(id, func(seenAt time.Time, loaded bool) (time.Time, bool) {
		if loaded && now.Sub(seenAt) < g.window {
			return seenAt, false
		}
		admitted = true
		return now, false
	})
	return admitted
}

// Forget drops id so a later delivery is admitted again.
func (g *ReplayGuard) Forget(id string) {
	if g == nil || id == "" {
		return
	}
	g.seen.Delete(id)
}

// Sweep removes ids older than the window and returns how many were removed.
func (g *ReplayGuard) Sweep() int {
	if g == nil {
		return 0
	}
	now := g.now()
	removed := 0
	g.seen.Range(func(id string, seenAt time.Time) bool {
		if now.Sub(seenAt) >= g.window {
			g.seen.Delete(id)
			removed++
		}
		return true
	})
	return removed
}

// Size returns the number of remembered ids.
func (g *ReplayGuard) Size() int {
	if g == nil {
		return 0
	}
	return g.seen.Size()
}
