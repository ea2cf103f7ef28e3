// Package engine orchestrates the scan pipeline: identity extraction,
// change detection, cached or external structured extraction with a
// heuristic fallback, the monotonic profile merge, persistence, and action
// generation.
//
// All session state (tracked subject, extraction cache, in-flight
// bookkeeping) lives on the Engine value; there are no package globals.
// Merges are strictly serialized: Observe coalesces overlapping change
// notifications into a single-slot pending queue, and a subject switch
// recorded while an extraction call is outstanding causes that call's
// result to be discarded rather than merged.
package engine

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"github.com/siddharthshah87/PracticePilot/internal/actions"
	"github.com/siddharthshah87/PracticePilot/internal/artifact"
	"github.com/siddharthshah87/PracticePilot/internal/extract"
	"github.com/siddharthshah87/PracticePilot/internal/hashgate"
	"github.com/siddharthshah87/PracticePilot/internal/identity"
	"github.com/siddharthshah87/PracticePilot/internal/profile"
	"github.com/siddharthshah87/PracticePilot/internal/redact"
	"github.com/siddharthshah87/PracticePilot/internal/store"
)

// Config wires the engine's collaborators.
type Config struct {
	Profiles  *store.ProfileStore
	Artifacts *store.ArtifactStore
	Service   extract.Service // nil disables the model tier entirely
	CacheSize int             // extraction cache bound, 0 = default
	Logger    *logrus.Logger
	// OnResult is invoked for every completed merge from Observe.
	OnResult func(*ScanResult)
}

// ScanResult is what one successful scan produces.
type ScanResult struct {
	Profile    *profile.Profile
	Artifact   *artifact.Artifact
	Actions    []actions.Action
	Provenance extract.Provenance
	FromCache  bool
	Redactions int
}

// Engine owns the per-subject working state for one session.
type Engine struct {
	profiles  *store.ProfileStore
	artifacts *store.ArtifactStore
	service   extract.Service
	fallback  *extract.Heuristic
	cache     *extract.Cache
	log       *logrus.Entry
	onResult  func(*ScanResult)

	mu             sync.Mutex
	currentSubject string // lower-cased tracking key, "" before first scan
	epoch          int    // bumped on every subject switch
	inFlight       bool
	pending        *Change // single slot, latest wins
}

// New creates an engine. Profiles and Artifacts are required; Service may
// be nil, in which case every extraction uses the heuristic tier.
func New(cfg Config) *Engine {
	logger := cfg.Logger
	if logger == nil {
		logger = logrus.New()
	}
	return &Engine{
		profiles:  cfg.Profiles,
		artifacts: cfg.Artifacts,
		service:   cfg.Service,
		fallback:  extract.NewHeuristic(),
		cache:     extract.NewCache(cfg.CacheSize),
		log:       logger.WithField("session", uuid.NewString()[:8]),
		onResult:  cfg.OnResult,
	}
}

// CurrentSubject returns the tracking key of the subject last merged, or
// "" before the first successful scan.
func (e *Engine) CurrentSubject() string {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.currentSubject
}

// ScanAndMerge runs one full observation through the pipeline.
//
// Returns (nil, nil) when there is nothing to do: no identity in the text,
// or the result arrived for a subject that was switched away from while
// the extraction call was outstanding. Persistence failures propagate
// wrapped in store.ErrPersistence; extraction failures never do, they
// degrade to the heuristic tier instead.
func (e *Engine) ScanAndMerge(ctx context.Context, rawText string, hint *artifact.Artifact) (*ScanResult, error) {
	id := identity.Extract(rawText)
	if id == nil {
		return nil, nil
	}
	subjectKey := profile.Key(id.Name)

	e.mu.Lock()
	if e.currentSubject != "" && e.currentSubject != subjectKey {
		// Subject switch: drop working state and hash-keyed results so
		// nothing from the previous subject can contaminate this one.
		e.log.WithFields(logrus.Fields{
			"from": e.currentSubject,
			"to":   subjectKey,
		}).Info("subject switch")
		e.cache.Clear()
		e.epoch++
	}
	e.currentSubject = subjectKey
	epoch := e.epoch
	e.mu.Unlock()

	prof, err := e.profiles.Load(ctx, subjectKey)
	if err != nil {
		return nil, err
	}
	if prof == nil {
		prof = profile.New(id.Name)
	}

	result, hash, redactions := e.extractObservation(ctx, rawText, hint)

	// The extraction call above is the only await point. If a switch was
	// recorded while it was outstanding, this result belongs to the
	// previous subject and must not be merged or cached.
	e.mu.Lock()
	if e.epoch != epoch {
		e.mu.Unlock()
		e.log.WithField("subject", subjectKey).Info("discarding stale result after subject switch")
		return nil, nil
	}
	if !result.FromCache {
		e.cache.Put(hash, result)
	}
	e.mu.Unlock()

	prof.Merge(result.Observation())
	prof.Merge(localIdentityObservation(id))

	if err := e.profiles.Save(ctx, prof); err != nil {
		return nil, err
	}

	card := hint
	if card != nil {
		if err := e.artifacts.Save(ctx, card); err != nil {
			return nil, err
		}
	} else {
		card, err = e.artifacts.FindForSubject(ctx, id.Name, id.DateOfBirth, id.MemberID)
		if err != nil {
			return nil, err
		}
	}

	acts := actions.Generate(prof, card, time.Now().UTC())

	e.log.WithFields(logrus.Fields{
		"subject":    subjectKey,
		"provenance": result.Provenance,
		"from_cache": result.FromCache,
		"sections":   len(result.Sections),
		"actions":    len(acts),
		"redactions": redactions,
	}).Info("merged observation")

	return &ScanResult{
		Profile:    prof,
		Artifact:   card,
		Actions:    acts,
		Provenance: result.Provenance,
		FromCache:  result.FromCache,
		Redactions: redactions,
	}, nil
}

// extractObservation consults the content-hash gate, then the cache, then
// the external service, then the heuristic fallback, in that order. The
// caller caches the result once it knows the subject did not switch away
// mid-extraction.
func (e *Engine) extractObservation(ctx context.Context, rawText string, hint *artifact.Artifact) (result *extract.Result, hash string, redactions int) {
	hash = hashgate.Hash(rawText)

	e.mu.Lock()
	cached, ok := e.cache.Get(hash)
	e.mu.Unlock()
	if ok {
		e.log.WithField("hash", hash[:8]).Debug("extraction cache hit")
		return cached, hash, 0
	}

	cleaned := redact.Redact(rawText)

	if e.service != nil {
		res, err := e.service.Extract(ctx, cleaned.CleanedText, hint)
		if err != nil {
			e.log.WithField("error", err.Error()).Warn("extraction service failed, falling back to heuristic parser")
		} else {
			result = res
		}
	}
	if result == nil {
		result = e.fallback.Parse(rawText)
	}
	return result, hash, cleaned.RedactionCount
}

// localIdentityObservation turns locally derived identity fields into a
// final merge pass so they always override what the extraction service
// guessed.
func localIdentityObservation(id *identity.Identity) profile.Observation {
	fields := map[string]any{"name": id.Name}
	if id.DateOfBirth != "" {
		fields["dob"] = id.DateOfBirth
	}
	if id.ChartNumber != "" {
		fields["chart_number"] = id.ChartNumber
	}
	obs := profile.Observation{
		Sections: map[profile.SectionName]map[string]any{
			profile.SectionProfile: fields,
		},
	}
	if id.MemberID != "" {
		obs.Sections[profile.SectionInsurance] = map[string]any{"member_id": id.MemberID}
	}
	return obs
}

// ActionsFor regenerates the action list for a stored profile without a
// new scan. The profile return is nil when no profile exists for the
// subject.
func (e *Engine) ActionsFor(ctx context.Context, subject string) ([]actions.Action, *profile.Profile, error) {
	prof, err := e.profiles.Load(ctx, subject)
	if err != nil {
		return nil, nil, err
	}
	if prof == nil {
		return nil, nil, nil
	}

	dob, _ := prof.StringField(profile.SectionProfile, "dob")
	memberID, _ := prof.StringField(profile.SectionInsurance, "member_id")
	card, err := e.artifacts.FindForSubject(ctx, prof.SubjectID, dob, memberID)
	if err != nil {
		return nil, nil, err
	}

	return actions.Generate(prof, card, time.Now().UTC()), prof, nil
}

// ClearAll empties both persistent stores and the session extraction
// cache, and forgets the tracked subject.
func (e *Engine) ClearAll(ctx context.Context) error {
	if err := e.profiles.ClearAll(ctx); err != nil {
		return err
	}
	if err := e.artifacts.ClearAll(ctx); err != nil {
		return err
	}
	e.mu.Lock()
	e.cache.Clear()
	e.currentSubject = ""
	e.epoch++
	e.mu.Unlock()
	return nil
}

// CacheLen exposes the extraction cache size for observability.
func (e *Engine) CacheLen() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.cache.Len()
}

// logScanError reports a scan failure; persistence failures are surfaced
// loudly because they break the no-data-loss guarantee.
func (e *Engine) logScanError(err error) {
	entry := e.log.WithField("error", err.Error())
	if errors.Is(err, store.ErrPersistence) {
		entry.Error("persistence failure: session findings may not survive a reload")
		return
	}
	entry.Warn("scan failed")
}
