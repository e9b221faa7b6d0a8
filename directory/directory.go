// Package directory tracks the resolver population: which resolvers exist,
// which groups they serve, and their current availability and historical
// success rate. The escalation coordinator reads candidate pools from here.
package directory

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	gocache "github.com/patrickmn/go-cache"

	"github.com/industriverse/trustcore/trust"
	"github.com/industriverse/trustcore/types"
)

// ErrResolverNotFound is returned for lookups of unregistered resolvers.
var ErrResolverNotFound = errors.New("resolver not found")

// Source is anything that can produce the candidate pool for a resolver
// group.
type Source interface {
	ResolversForGroup(ctx context.Context, group string) ([]types.ResolverProfile, error)
}

// ─── Static registry ─────────────────────────────────────────────────────────

// Static is an in-memory resolver registry with explicit group membership.
// Safe for concurrent use.
type Static struct {
	mu        sync.RWMutex
	profiles  map[string]types.ResolverProfile
	groups    map[string]map[string]bool // group -> resolver ids
	histories map[string][]types.OutcomeRecord
}

// NewStatic builds an empty registry.
func NewStatic() *Static {
	return &Static{
		profiles:  make(map[string]types.ResolverProfile),
		groups:    make(map[string]map[string]bool),
		histories: make(map[string][]types.OutcomeRecord),
	}
}

// Register adds or replaces a resolver profile and its group memberships.
func (s *Static) Register(profile types.ResolverProfile, groups ...string) error {
	if profile.ResolverID == "" {
		return errors.New("resolver profile requires a resolver_id")
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	s.removeFromGroupsLocked(profile.ResolverID)
	s.profiles[profile.ResolverID] = profile
	for _, g := range groups {
		if s.groups[g] == nil {
			s.groups[g] = make(map[string]bool)
		}
		s.groups[g][profile.ResolverID] = true
	}
	return nil
}

// Remove deletes a resolver and its group memberships.
func (s *Static) Remove(resolverID string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.removeFromGroupsLocked(resolverID)
	delete(s.profiles, resolverID)
	delete(s.histories, resolverID)
}

func (s *Static) removeFromGroupsLocked(resolverID string) {
	for _, members := range s.groups {
		delete(members, resolverID)
	}
}

// Get returns one resolver's profile.
func (s *Static) Get(resolverID string) (types.ResolverProfile, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	p, ok := s.profiles[resolverID]
	if !ok {
		return types.ResolverProfile{}, fmt.Errorf("%w: %s", ErrResolverNotFound, resolverID)
	}
	return p, nil
}

// ResolversForGroup returns the group's members sorted by resolver id, so
// candidate pools (and therefore broadcast invitations) are deterministic.
// An empty group name returns every registered resolver.
func (s *Static) ResolversForGroup(_ context.Context, group string) ([]types.ResolverProfile, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []types.ResolverProfile
	if group == "" {
		for _, p := range s.profiles {
			out = append(out, p)
		}
	} else {
		for id := range s.groups[group] {
			if p, ok := s.profiles[id]; ok {
				out = append(out, p)
			}
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ResolverID < out[j].ResolverID })
	return out, nil
}

// RecordOutcome appends an outcome to the resolver's history and refreshes
// its recency-weighted historical success rate.
func (s *Static) RecordOutcome(record types.OutcomeRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	p, ok := s.profiles[record.ResolverID]
	if !ok {
		return fmt.Errorf("%w: %s", ErrResolverNotFound, record.ResolverID)
	}
	s.histories[record.ResolverID] = append(s.histories[record.ResolverID], record)
	p.HistoricalSuccessRate = trust.AggregateSuccessRate(s.histories[record.ResolverID], time.Now())
	s.profiles[record.ResolverID] = p
	return nil
}

// Outcomes returns a copy of the resolver's outcome history.
func (s *Static) Outcomes(resolverID string) []types.OutcomeRecord {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return append([]types.OutcomeRecord(nil), s.histories[resolverID]...)
}

// ─── Cached directory ────────────────────────────────────────────────────────

// Cached wraps a slower Source (a remote registry, typically) with a TTL
// cache of per-group candidate pools. A cache miss falls through to the
// source; source errors are never cached.
type Cached struct {
	source Source
	cache  *gocache.Cache
}

// NewCached builds a caching wrapper with the given entry TTL.
func NewCached(source Source, ttl time.Duration) *Cached {
	return &Cached{
		source: source,
		cache:  gocache.New(ttl, 2*ttl),
	}
}

// ResolversForGroup serves the group's pool from cache when fresh.
func (c *Cached) ResolversForGroup(ctx context.Context, group string) ([]types.ResolverProfile, error) {
	if cached, ok := c.cache.Get(group); ok {
		return cached.([]types.ResolverProfile), nil
	}
	profiles, err := c.source.ResolversForGroup(ctx, group)
	if err != nil {
		return nil, err
	}
	c.cache.Set(group, profiles, gocache.DefaultExpiration)
	return profiles, nil
}

// Invalidate drops one group's cache entry, forcing the next read through to
// the source.
func (c *Cached) Invalidate(group string) {
	c.cache.Delete(group)
}

// Flush drops every cached pool.
func (c *Cached) Flush() {
	c.cache.Flush()
}
