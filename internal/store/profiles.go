package store

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"time"

	"github.com/siddharthshah87/PracticePilot/internal/profile"
)

// DefaultProfileCapacity bounds the profile store.
const DefaultProfileCapacity = 100

const profilePrefix = "profile:"

// ProfileStore persists patient profiles keyed by the lower-cased subject
// identifier, bounded by capacity with oldest-by-LastUpdatedAt eviction.
type ProfileStore struct {
	kv       KV
	capacity int
}

// NewProfileStore creates a profile store over the KV primitive.
// Non-positive capacities fall back to DefaultProfileCapacity.
func NewProfileStore(kv KV, capacity int) *ProfileStore {
	if capacity <= 0 {
		capacity = DefaultProfileCapacity
	}
	return &ProfileStore{kv: kv, capacity: capacity}
}

// Save persists the profile and enforces capacity: if the store now holds
// more than capacity entries, the surplus oldest (by LastUpdatedAt) are
// deleted until exactly at capacity.
func (s *ProfileStore) Save(ctx context.Context, p *profile.Profile) error {
	if p == nil || profile.Key(p.SubjectID) == "" {
		return nil
	}
	b, err := json.Marshal(p)
	if err != nil {
		return fmt.Errorf("marshaling profile %q: %w", p.SubjectID, err)
	}
	if err := s.kv.Set(ctx, profilePrefix+profile.Key(p.SubjectID), b); err != nil {
		return err
	}
	return evictOldest(ctx, s.kv, profilePrefix, s.capacity, func(raw []byte) time.Time {
		var rec struct {
			LastUpdatedAt time.Time `json:"last_updated_at"`
		}
		json.Unmarshal(raw, &rec)
		return rec.LastUpdatedAt
	})
}

// Load returns the persisted profile for the subject, or nil when unknown.
func (s *ProfileStore) Load(ctx context.Context, subjectID string) (*profile.Profile, error) {
	raw, err := s.kv.Get(ctx, profilePrefix+profile.Key(subjectID))
	if err != nil {
		return nil, err
	}
	if raw == nil {
		return nil, nil
	}
	var p profile.Profile
	if err := json.Unmarshal(raw, &p); err != nil {
		return nil, fmt.Errorf("unmarshaling profile %q: %w", subjectID, err)
	}
	return &p, nil
}

// List returns every cached profile, most recently updated first.
func (s *ProfileStore) List(ctx context.Context) ([]*profile.Profile, error) {
	keys, err := s.kv.Keys(ctx, profilePrefix)
	if err != nil {
		return nil, err
	}
	out := make([]*profile.Profile, 0, len(keys))
	for _, k := range keys {
		raw, err := s.kv.Get(ctx, k)
		if err != nil {
			return nil, err
		}
		if raw == nil {
			continue
		}
		var p profile.Profile
		if err := json.Unmarshal(raw, &p); err != nil {
			continue // skip corrupt records rather than failing the listing
		}
		out = append(out, &p)
	}
	sort.SliceStable(out, func(i, j int) bool {
		return out[i].LastUpdatedAt.After(out[j].LastUpdatedAt)
	})
	return out, nil
}

// Count returns the number of cached profiles.
func (s *ProfileStore) Count(ctx context.Context) (int, error) {
	keys, err := s.kv.Keys(ctx, profilePrefix)
	if err != nil {
		return 0, err
	}
	return len(keys), nil
}

// ClearAll removes every cached profile.
func (s *ProfileStore) ClearAll(ctx context.Context) error {
	return clearPrefix(ctx, s.kv, profilePrefix)
}

// evictOldest enforces a capacity bound under a key prefix: entries are
// sorted by the staleness timestamp extracted from their raw value and the
// surplus oldest entries are deleted until exactly at capacity.
func evictOldest(ctx context.Context, kv KV, prefix string, capacity int, stalenessOf func([]byte) time.Time) error {
	keys, err := kv.Keys(ctx, prefix)
	if err != nil {
		return err
	}
	if len(keys) <= capacity {
		return nil
	}

	type aged struct {
		key string
		at  time.Time
	}
	entries := make([]aged, 0, len(keys))
	for _, k := range keys {
		raw, err := kv.Get(ctx, k)
		if err != nil {
			return err
		}
		entries = append(entries, aged{key: k, at: stalenessOf(raw)})
	}
	sort.SliceStable(entries, func(i, j int) bool {
		return entries[i].at.Before(entries[j].at)
	})

	for _, e := range entries[:len(entries)-capacity] {
		if err := kv.Delete(ctx, e.key); err != nil {
			return err
		}
	}
	return nil
}

func clearPrefix(ctx context.Context, kv KV, prefix string) error {
	keys, err := kv.Keys(ctx, prefix)
	if err != nil {
		return err
	}
	for _, k := range keys {
		if err := kv.Delete(ctx, k); err != nil {
			return err
		}
	}
	return nil
}
