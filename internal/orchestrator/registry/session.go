package registry

import (
	"sync/atomic"
	"time"

	"github.com/charterhq/charter/internal/orchestrator/action"
	"github.com/charterhq/charter/internal/orchestrator/backend"
)

// Session is one live browsing context. The registry owns the backend handle
// exclusively; nothing else closes it. Mutable fields are independently
// synchronized so two unrelated sessions never contend on a shared lock.
type Session struct {
	id        string
	createdAt time.Time
	profile   backend.Profile
	be        backend.Backend

	defaultLevel action.VerificationLevel

	lastUsed  atomic.Int64 // unix nanos, monotonically non-decreasing
	activeOps atomic.Int32
	inUse     atomic.Bool
}

func newSession(id string, be backend.Backend, profile backend.Profile, level action.VerificationLevel) *Session {
	s := &Session{
		id:           id,
		createdAt:    time.Now(),
		profile:      profile,
		be:           be,
		defaultLevel: level,
	}
	s.lastUsed.Store(s.createdAt.UnixNano())
	s.inUse.Store(true)
	return s
}

// ID returns the opaque session identifier.
func (s *Session) ID() string {
	return s.id
}

// CreatedAt returns the creation timestamp.
func (s *Session) CreatedAt() time.Time {
	return s.createdAt
}

// Backend returns the render backend handle for this session.
func (s *Session) Backend() backend.Backend {
	return s.be
}

// Profile returns the opaque profile the session was created with.
func (s *Session) Profile() backend.Profile {
	return s.profile
}

// DefaultVerification returns the session-level default verification level.
func (s *Session) DefaultVerification() action.VerificationLevel {
	return s.defaultLevel
}

// Touch refreshes the last-used timestamp. The CAS loop keeps the value
// monotonically non-decreasing under concurrent touches.
func (s *Session) Touch() {
	now := time.Now().UnixNano()
	for {
		prev := s.lastUsed.Load()
		if prev >= now {
			return
		}
		if s.lastUsed.CompareAndSwap(prev, now) {
			return
		}
	}
}

// LastUsed returns the last-used timestamp.
func (s *Session) LastUsed() time.Time {
	return time.Unix(0, s.lastUsed.Load())
}

// IdleFor returns how long the session has been untouched.
func (s *Session) IdleFor() time.Duration {
	return time.Since(s.LastUsed())
}

// BeginOp marks the start of an in-flight operation. A session is never
// destroyed while its operation count is non-zero.
func (s *Session) BeginOp() {
	s.activeOps.Add(1)
	s.Touch()
}

// EndOp marks the end of an in-flight operation.
func (s *Session) EndOp() {
	s.activeOps.Add(-1)
	s.Touch()
}

// ActiveOps returns the in-flight operation count.
func (s *Session) ActiveOps() int {
	return int(s.activeOps.Load())
}

// SetInUse marks the session as held or released by a command issuer.
func (s *Session) SetInUse(inUse bool) {
	s.inUse.Store(inUse)
}

// InUse reports whether a command issuer currently holds the session.
func (s *Session) InUse() bool {
	return s.inUse.Load()
}
