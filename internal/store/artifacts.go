package store

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"time"

	"github.com/siddharthshah87/PracticePilot/internal/artifact"
)

// DefaultArtifactCapacity bounds the benefits-card store.
const DefaultArtifactCapacity = 200

const artifactPrefix = "artifact:"

// ArtifactStore persists benefits cards keyed by the artifact identity
// chain, bounded by capacity with oldest-by-CachedAt eviction.
type ArtifactStore struct {
	kv       KV
	capacity int
}

// NewArtifactStore creates an artifact store over the KV primitive.
func NewArtifactStore(kv KV, capacity int) *ArtifactStore {
	if capacity <= 0 {
		capacity = DefaultArtifactCapacity
	}
	return &ArtifactStore{kv: kv, capacity: capacity}
}

// Save persists the artifact under its derived identity key. Artifacts
// with no identifiers are not cacheable: Save silently no-ops.
func (s *ArtifactStore) Save(ctx context.Context, a *artifact.Artifact) error {
	if a == nil {
		return nil
	}
	key := a.Key()
	if key == "" {
		return nil
	}
	if a.CachedAt.IsZero() {
		a.CachedAt = time.Now().UTC()
	}
	b, err := json.Marshal(a)
	if err != nil {
		return fmt.Errorf("marshaling artifact %q: %w", key, err)
	}
	if err := s.kv.Set(ctx, artifactPrefix+key, b); err != nil {
		return err
	}
	return evictOldest(ctx, s.kv, artifactPrefix, s.capacity, func(raw []byte) time.Time {
		var rec struct {
			CachedAt time.Time `json:"cached_at"`
		}
		json.Unmarshal(raw, &rec)
		return rec.CachedAt
	})
}

// Load returns the artifact stored under the given identity key, or nil.
func (s *ArtifactStore) Load(ctx context.Context, key string) (*artifact.Artifact, error) {
	if key == "" {
		return nil, nil
	}
	raw, err := s.kv.Get(ctx, artifactPrefix+key)
	if err != nil {
		return nil, err
	}
	if raw == nil {
		return nil, nil
	}
	var a artifact.Artifact
	if err := json.Unmarshal(raw, &a); err != nil {
		return nil, fmt.Errorf("unmarshaling artifact %q: %w", key, err)
	}
	return &a, nil
}

// FindForSubject looks up the newest artifact matching a subject's
// identity, trying the same priority chain used for cache keys.
func (s *ArtifactStore) FindForSubject(ctx context.Context, name, dob, memberID string) (*artifact.Artifact, error) {
	probe := artifact.Artifact{SubscriberName: name, DateOfBirth: dob, MemberID: memberID}
	for _, candidate := range []artifact.Artifact{
		probe,
		{SubscriberName: name, MemberID: memberID},
		{MemberID: memberID},
		{SubscriberName: name},
	} {
		key := candidate.Key()
		if key == "" {
			continue
		}
		a, err := s.Load(ctx, key)
		if err != nil {
			return nil, err
		}
		if a != nil {
			return a, nil
		}
	}
	return nil, nil
}

// List returns every cached artifact, most recently cached first.
func (s *ArtifactStore) List(ctx context.Context) ([]*artifact.Artifact, error) {
	keys, err := s.kv.Keys(ctx, artifactPrefix)
	if err != nil {
		return nil, err
	}
	out := make([]*artifact.Artifact, 0, len(keys))
	for _, k := range keys {
		raw, err := s.kv.Get(ctx, k)
		if err != nil {
			return nil, err
		}
		if raw == nil {
			continue
		}
		var a artifact.Artifact
		if err := json.Unmarshal(raw, &a); err != nil {
			continue
		}
		out = append(out, &a)
	}
	sort.SliceStable(out, func(i, j int) bool {
		return out[i].CachedAt.After(out[j].CachedAt)
	})
	return out, nil
}

// Count returns the number of cached artifacts.
func (s *ArtifactStore) Count(ctx context.Context) (int, error) {
	keys, err := s.kv.Keys(ctx, artifactPrefix)
	if err != nil {
		return 0, err
	}
	return len(keys), nil
}

// ClearAll removes every cached artifact.
func (s *ArtifactStore) ClearAll(ctx context.Context) error {
	return clearPrefix(ctx, s.kv, artifactPrefix)
}
