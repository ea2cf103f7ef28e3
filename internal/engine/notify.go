package engine

import (
	"context"
	"strings"

	"github.com/siddharthshah87/PracticePilot/internal/artifact"
)

// Change is one screen-change notification from a capture source.
type Change struct {
	Text   string
	Origin string // window or process identifier of the source
	Hint   *artifact.Artifact
}

// selfOriginMarkers identify our own presentation surfaces. Changes they
// produce must never feed back into the pipeline.
var selfOriginMarkers = []string{"practicepilot", "pp-overlay"}

// SelfOriginated reports whether a change came from one of our own
// windows rather than the practice system under observation.
func SelfOriginated(c Change) bool {
	origin := strings.ToLower(c.Origin)
	for _, marker := range selfOriginMarkers {
		if strings.Contains(origin, marker) {
			return true
		}
	}
	return false
}

// Observe feeds a change notification into the engine.
//
// Notifications arriving while a merge is running do not pile up: the
// engine holds at most one pending change and a newer arrival replaces
// it, so after a burst only the latest screen state is processed. The
// caller that finds the engine idle becomes the worker and drains the
// pending slot before returning, which keeps merges strictly serialized
// without a background goroutine.
func (e *Engine) Observe(ctx context.Context, c Change) {
	if SelfOriginated(c) {
		e.log.WithField("origin", c.Origin).Debug("ignoring self-originated change")
		return
	}

	e.mu.Lock()
	if e.inFlight {
		e.pending = &c
		e.mu.Unlock()
		return
	}
	e.inFlight = true
	e.mu.Unlock()

	for {
		res, err := e.ScanAndMerge(ctx, c.Text, c.Hint)
		if err != nil {
			e.logScanError(err)
		} else if res != nil && e.onResult != nil {
			e.onResult(res)
		}

		e.mu.Lock()
		if e.pending == nil {
			e.inFlight = false
			e.mu.Unlock()
			return
		}
		c = *e.pending
		e.pending = nil
		e.mu.Unlock()
	}
}
