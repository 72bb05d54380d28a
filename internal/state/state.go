// Package state ties the policy snapshot and runtime state together behind a
// concurrency-safe container. The DNS hot path only reads; all mutation goes
// through here so a Success returned on the control channel is visible to
// every later query.
package state

import (
	"sync"
	"sync/atomic"
	"time"

	"github.com/sirupsen/logrus"

	"blockandfocus/internal/blocker"
	"blockandfocus/internal/config"
	"blockandfocus/internal/quiz"
	"blockandfocus/internal/schedule"
)

// State is the single shared container for the resolver process. Counters
// are atomics so the query path never contends with policy writers; the
// bypass window sits behind a short mutex.
type State struct {
	store   *config.Store
	matcher *blocker.Blocker
	quiz    *quiz.Engine

	now       func() time.Time
	startedAt time.Time

	queriesBlocked   atomic.Uint64
	queriesForwarded atomic.Uint64

	mu          sync.Mutex
	bypassUntil time.Time // zero means no bypass
}

// New builds the runtime state over an opened store.
func New(store *config.Store) *State {
	cfg := store.Snapshot()
	return &State{
		store:     store,
		matcher:   blocker.New(cfg.Blocking.Domains),
		quiz:      quiz.NewEngine(),
		now:       time.Now,
		startedAt: time.Now(),
	}
}

// Store exposes the policy store for control-channel mutation.
func (s *State) Store() *config.Store { return s.store }

// Matcher exposes the live domain matcher.
func (s *State) Matcher() *blocker.Blocker { return s.matcher }

// Quiz exposes the bypass challenge engine.
func (s *State) Quiz() *quiz.Engine { return s.quiz }

// BlockingActiveNow evaluates the decision predicate at the current instant:
// blocking enabled, no active bypass, and either the schedule is disabled or
// a rule covers now.
func (s *State) BlockingActiveNow() bool {
	return s.blockingActiveAt(s.now(), s.store.Snapshot())
}

func (s *State) blockingActiveAt(now time.Time, cfg *config.Config) bool {
	if !cfg.Blocking.Enabled {
		return false
	}
	if until, ok := s.BypassUntil(); ok && now.Before(until) {
		return false
	}
	if cfg.Schedule.Enabled && !schedule.IsActiveAt(now, cfg.Schedule) {
		return false
	}
	return true
}

// ShouldBlockQuery is the per-query decision: blocking active now and the
// name covered by the blocklist.
func (s *State) ShouldBlockQuery(name string) bool {
	if !s.blockingActiveAt(s.now(), s.store.Snapshot()) {
		return false
	}
	return s.matcher.Match(name)
}

// UpdatePolicy runs a validated, persisted policy mutation and rebuilds the
// matcher from the new snapshot.
func (s *State) UpdatePolicy(f func(*config.Config) error) error {
	if err := s.store.Mutate(f); err != nil {
		return err
	}
	s.RefreshMatcher()
	return nil
}

// RefreshMatcher rebuilds the matcher from the current snapshot, for use
// after an external config reload.
func (s *State) RefreshMatcher() {
	s.matcher.Replace(s.store.Snapshot().Blocking.Domains)
}

// ActivateBypass suspends blocking until now + d and returns the instant the
// window ends.
func (s *State) ActivateBypass(d time.Duration) time.Time {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.bypassUntil = s.now().Add(d)
	logrus.WithField("until", s.bypassUntil.Format(time.RFC3339)).Info("Bypass activated")
	return s.bypassUntil
}

// CancelBypass clears any bypass window. Cancelling when none is active is
// not an error.
func (s *State) CancelBypass() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.bypassUntil.IsZero() {
		logrus.Info("Bypass cancelled")
	}
	s.bypassUntil = time.Time{}
}

// BypassUntil returns the end of the bypass window if one is currently
// active. An elapsed window reads as inactive; it is never cleared by time
// itself.
func (s *State) BypassUntil() (time.Time, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.bypassUntil.IsZero() || !s.now().Before(s.bypassUntil) {
		return time.Time{}, false
	}
	return s.bypassUntil, true
}

// NoteBlocked records a query answered with the sinkhole address.
func (s *State) NoteBlocked() { s.queriesBlocked.Add(1) }

// NoteForwarded records a query successfully relayed from the upstream.
func (s *State) NoteForwarded() { s.queriesForwarded.Add(1) }

// Counts returns the blocked and forwarded query counters.
func (s *State) Counts() (blocked, forwarded uint64) {
	return s.queriesBlocked.Load(), s.queriesForwarded.Load()
}

// Uptime reports how long the process has been running.
func (s *State) Uptime() time.Duration {
	return s.now().Sub(s.startedAt)
}
