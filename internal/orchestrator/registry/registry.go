// Package registry is the exclusive source of truth for which sessions
// exist. It enforces admission control on create, tracks busy/idle state,
// and provides the two-phase eviction primitive used by the cleanup
// scheduler: extract the single oldest eligible entry under the map lock,
// tear it down outside any lock.
package registry

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog/log"
	"golang.org/x/sync/semaphore"

	"github.com/charterhq/charter/internal/common/uuid"
	"github.com/charterhq/charter/internal/orchestrator/action"
	"github.com/charterhq/charter/internal/orchestrator/backend"
)

// Options configures a Registry.
type Options struct {
	MaxSessions int // hard limit on live sessions; 0 means 1
	// MemoryBudgetBytes is the fixed per-session estimate used for
	// admission until reconciliation reports a measured figure.
	MemoryBudgetBytes int64
	// MemoryCeilingBytes caps total estimated usage; 0 disables the check.
	MemoryCeilingBytes int64
	// DefaultVerification is applied to sessions created without an
	// explicit level.
	DefaultVerification action.VerificationLevel
}

// Registry owns the session map. The RWMutex guards map structure only;
// it is never held across backend calls or session teardown.
type Registry struct {
	mu       sync.RWMutex
	sessions map[string]*Session

	slots   *semaphore.Weighted
	opts    Options
	factory backend.Factory

	// measured is the reconciled process memory figure maintained by the
	// cleanup scheduler. Admission uses the stricter of estimate and
	// measurement.
	measured atomic.Int64
}

// New creates a Registry backed by the given session factory.
func New(factory backend.Factory, opts Options) *Registry {
	if opts.MaxSessions <= 0 {
		opts.MaxSessions = 1
	}
	return &Registry{
		sessions: make(map[string]*Session),
		slots:    semaphore.NewWeighted(int64(opts.MaxSessions)),
		opts:     opts,
		factory:  factory,
	}
}

// CreateParams carries the caller-supplied session configuration.
type CreateParams struct {
	Profile      backend.Profile
	Verification action.VerificationLevel
	HasLevel     bool // false selects the registry default
}

// Create admits and registers a new session. Admission is checked before
// any session object is constructed: the live-session slot and the memory
// ceiling must both allow one more session. The new session starts in-use.
func (r *Registry) Create(ctx context.Context, params CreateParams) (*Session, error) {
	if !r.slots.TryAcquire(1) {
		return nil, ErrResourceExhausted.Msg("session limit reached")
	}
	if !r.admitMemory() {
		r.slots.Release(1)
		return nil, ErrResourceExhausted.Msg("memory ceiling reached")
	}

	be, err := r.factory.New(ctx, params.Profile)
	if err != nil {
		r.slots.Release(1)
		return nil, ErrBackendFailure.MsgErr("creating session backend", err)
	}

	level := r.opts.DefaultVerification
	if params.HasLevel {
		level = params.Verification
	}
	session := newSession(uuid.New().String(), be, params.Profile, level)

	r.mu.Lock()
	r.sessions[session.id] = session
	r.mu.Unlock()

	log.Ctx(ctx).Info().Str("session_id", session.id).Msg("session created")
	return session, nil
}

// admitMemory reports whether one more session fits under the ceiling. The
// estimate is live-count times the per-session budget; the measured figure
// can only make admission stricter, never looser.
func (r *Registry) admitMemory() bool {
	if r.opts.MemoryCeilingBytes <= 0 {
		return true
	}
	estimated := int64(r.Count()) * r.opts.MemoryBudgetBytes
	if measured := r.measured.Load(); measured > estimated {
		estimated = measured
	}
	return estimated+r.opts.MemoryBudgetBytes <= r.opts.MemoryCeilingBytes
}

// Get returns the session for id, refreshing its last-used timestamp.
func (r *Registry) Get(id string) (*Session, error) {
	r.mu.RLock()
	session, ok := r.sessions[id]
	r.mu.RUnlock()
	if !ok {
		return nil, ErrSessionNotFound.Msg("no session with id " + id)
	}
	session.Touch()
	return session, nil
}

// Release clears the in-use flag so the session can be reused or reclaimed.
// Calling Release twice is safe and leaves state unchanged after the first
// call.
func (r *Registry) Release(id string) error {
	r.mu.RLock()
	session, ok := r.sessions[id]
	r.mu.RUnlock()
	if !ok {
		return ErrSessionNotFound.Msg("no session with id " + id)
	}
	session.Touch()
	session.SetInUse(false)
	return nil
}

// Close destroys the session if it exists and has no in-flight operations.
// Returns false with a nil error if the session does not exist. Teardown
// runs outside the map lock.
func (r *Registry) Close(ctx context.Context, id string) (bool, error) {
	r.mu.Lock()
	session, ok := r.sessions[id]
	if !ok {
		r.mu.Unlock()
		return false, nil
	}
	if session.ActiveOps() != 0 {
		r.mu.Unlock()
		return false, ErrSessionBusy.Msg("session " + id + " has in-flight operations")
	}
	delete(r.sessions, id)
	r.mu.Unlock()

	r.teardown(ctx, session)
	return true, nil
}

// List returns a point-in-time snapshot of live session ids.
func (r *Registry) List() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	ids := make([]string, 0, len(r.sessions))
	for id := range r.sessions {
		ids = append(ids, id)
	}
	return ids
}

// PumpAll gives every live backend one progress tick. Pumping does not
// refresh last-used timestamps, so an otherwise idle session still ages
// toward reclamation.
func (r *Registry) PumpAll() {
	r.mu.RLock()
	sessions := make([]*Session, 0, len(r.sessions))
	for _, session := range r.sessions {
		sessions = append(sessions, session)
	}
	r.mu.RUnlock()
	for _, session := range sessions {
		session.Backend().PumpPendingWork()
	}
}

// Count returns the number of live sessions.
func (r *Registry) Count() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.sessions)
}

// ExtractIdle is phase one of two-phase eviction. Under the exclusive map
// lock it picks the single oldest entry that is not in use, has no in-flight
// operations, and has been idle at least idleFor, removes it from the map,
// and returns it. The caller performs teardown with no lock held. Returns
// nil when no entry is eligible.
func (r *Registry) ExtractIdle(idleFor time.Duration) *Session {
	cutoff := time.Now().Add(-idleFor)

	r.mu.Lock()
	defer r.mu.Unlock()

	var oldest *Session
	for _, s := range r.sessions {
		if s.InUse() || s.ActiveOps() != 0 {
			continue
		}
		if s.LastUsed().After(cutoff) {
			continue
		}
		if oldest == nil || s.LastUsed().Before(oldest.LastUsed()) {
			oldest = s
		}
	}
	if oldest == nil {
		return nil
	}
	delete(r.sessions, oldest.id)
	return oldest
}

// Teardown is phase two of two-phase eviction: destroy a session already
// removed from the map. Never called under the map lock.
func (r *Registry) Teardown(ctx context.Context, s *Session) {
	r.teardown(ctx, s)
}

func (r *Registry) teardown(ctx context.Context, s *Session) {
	if err := s.be.Close(ctx); err != nil {
		log.Ctx(ctx).Warn().Err(err).Str("session_id", s.id).Msg("backend close failed")
	}
	r.slots.Release(1)
	log.Ctx(ctx).Info().Str("session_id", s.id).Msg("session destroyed")
}

// SetMeasuredMemory updates the reconciled memory figure used by admission.
// Called periodically by the cleanup scheduler.
func (r *Registry) SetMeasuredMemory(bytes int64) {
	r.measured.Store(bytes)
}

// EstimatedMemory returns the current admission estimate: the stricter of
// count-times-budget and the last measured figure.
func (r *Registry) EstimatedMemory() int64 {
	estimated := int64(r.Count()) * r.opts.MemoryBudgetBytes
	if measured := r.measured.Load(); measured > estimated {
		return measured
	}
	return estimated
}

// CloseAll destroys every session regardless of idle state, waiting for
// in-flight operations to drain first. Used during shutdown.
func (r *Registry) CloseAll(ctx context.Context) {
	r.mu.Lock()
	sessions := make([]*Session, 0, len(r.sessions))
	for id, s := range r.sessions {
		sessions = append(sessions, s)
		delete(r.sessions, id)
	}
	r.mu.Unlock()

	for _, s := range sessions {
		for s.ActiveOps() != 0 && ctx.Err() == nil {
			time.Sleep(10 * time.Millisecond)
		}
		if s.ActiveOps() != 0 {
			log.Ctx(ctx).Warn().Str("session_id", s.id).Msg("shutdown abandoned in-flight operations")
		}
		r.teardown(ctx, s)
	}
}
