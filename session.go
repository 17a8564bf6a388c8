package toolgate

import (
	"sync"
	"time"

	"github.com/google/uuid"
)

const (
	defaultSessionIdleTimeout = time.Hour
	defaultSweepInterval      = 5 * time.Minute
)

// Session is one logical client connection lifetime, independent of any
// single HTTP connection. All fields are guarded by the owning store's lock;
// the exported ID and CreatedAt are immutable after creation.
type Session struct {
	ID        string
	CreatedAt time.Time

	lastActivity time.Time
	streamIDs    map[string]struct{}
	// nextEventID is the next SSE event id to assign. It is shared across
	// all streams of the session so that Last-Event-ID resumption is well
	// defined per session.
	nextEventID uint64
}

// SessionStore creates, looks up, expires and tears down sessions keyed by an
// opaque server-generated id. It is safe for concurrent use.
type SessionStore struct {
	mu          sync.Mutex
	sessions    map[string]*Session
	idleTimeout time.Duration
	logger      Logger
	now         func() time.Time
}

// NewSessionStore creates a SessionStore. A zero idleTimeout falls back to
// one hour; a nil logger degrades to a no-op.
func NewSessionStore(logger Logger, idleTimeout time.Duration) *SessionStore {
	if logger == nil {
		logger = NewNullLogger()
	}
	if idleTimeout <= 0 {
		idleTimeout = defaultSessionIdleTimeout
	}
	return &SessionStore{
		sessions:    make(map[string]*Session),
		idleTimeout: idleTimeout,
		logger:      logger,
		now:         time.Now,
	}
}

// ResolveOrCreate returns the session with the given id, refreshing its
// activity timestamp, or allocates a fresh session when the id is empty or
// unknown. It never fails; session ids are random UUIDs and carry no request
// data.
func (st *SessionStore) ResolveOrCreate(sessionID string) (*Session, bool) {
	st.mu.Lock()
	defer st.mu.Unlock()

	if sessionID != "" {
		if ses, ok := st.sessions[sessionID]; ok {
			ses.lastActivity = st.now()
			return ses, false
		}
	}

	now := st.now()
	ses := &Session{
		ID:           uuid.NewString(),
		CreatedAt:    now,
		lastActivity: now,
		streamIDs:    make(map[string]struct{}),
		nextEventID:  1,
	}
	st.sessions[ses.ID] = ses

	st.logger.WithFields(map[string]interface{}{
		"sessionID": ses.ID,
	}).Info("Session created")
	return ses, true
}

// Destroy removes the session and returns the ids of its open streams so the
// caller can close them. Destroying an unknown id is a no-op.
func (st *SessionStore) Destroy(sessionID string) []string {
	st.mu.Lock()
	defer st.mu.Unlock()
	return st.destroyLocked(sessionID)
}

func (st *SessionStore) destroyLocked(sessionID string) []string {
	ses, ok := st.sessions[sessionID]
	if !ok {
		return nil
	}

	streamIDs := make([]string, 0, len(ses.streamIDs))
	for id := range ses.streamIDs {
		streamIDs = append(streamIDs, id)
	}
	delete(st.sessions, sessionID)

	st.logger.WithFields(map[string]interface{}{
		"sessionID":   sessionID,
		"openStreams": len(streamIDs),
	}).Info("Session destroyed")
	return streamIDs
}

// Sweep destroys every session idle for longer than the configured timeout.
// It returns the destroyed session ids and the stream ids that must be
// closed, so the caller can release everything keyed by session. It runs from
// a background timer, never synchronously from request handling.
func (st *SessionStore) Sweep(now time.Time) (sessionIDs, streamIDs []string) {
	st.mu.Lock()
	defer st.mu.Unlock()

	for id, ses := range st.sessions {
		if now.Sub(ses.lastActivity) > st.idleTimeout {
			sessionIDs = append(sessionIDs, id)
		}
	}

	for _, id := range sessionIDs {
		st.logger.WithFields(map[string]interface{}{
			"sessionID": id,
		}).Info("Session expired")
		streamIDs = append(streamIDs, st.destroyLocked(id)...)
	}
	return sessionIDs, streamIDs
}

// DestroyAll tears down every session, returning the destroyed session ids
// and all stream ids to close. Used during server shutdown.
func (st *SessionStore) DestroyAll() (sessionIDs, streamIDs []string) {
	st.mu.Lock()
	defer st.mu.Unlock()

	for id := range st.sessions {
		sessionIDs = append(sessionIDs, id)
		streamIDs = append(streamIDs, st.destroyLocked(id)...)
	}
	return sessionIDs, streamIDs
}

// NextEventID hands out the session's next SSE event id. Ids are strictly
// increasing and never reused within a session.
func (st *SessionStore) NextEventID(sessionID string) (uint64, bool) {
	st.mu.Lock()
	defer st.mu.Unlock()

	ses, ok := st.sessions[sessionID]
	if !ok {
		return 0, false
	}
	id := ses.nextEventID
	ses.nextEventID++
	return id, true
}

// ResumeEventID advances the session's event counter past the last event id a
// reconnecting client acknowledged, so the id sequence continues gap-free.
// No historical events are replayed; the contract is "resume the sequence",
// not "replay missed messages".
func (st *SessionStore) ResumeEventID(sessionID string, lastSeen uint64) {
	st.mu.Lock()
	defer st.mu.Unlock()

	if ses, ok := st.sessions[sessionID]; ok && lastSeen+1 > ses.nextEventID {
		ses.nextEventID = lastSeen + 1
	}
}

// AttachStream records an open stream against the session.
func (st *SessionStore) AttachStream(sessionID, streamID string) bool {
	st.mu.Lock()
	defer st.mu.Unlock()

	ses, ok := st.sessions[sessionID]
	if !ok {
		return false
	}
	ses.streamIDs[streamID] = struct{}{}
	return true
}

// DetachStream removes a closed stream from the session. The session itself
// stays valid until it expires; closing all streams does not destroy it.
func (st *SessionStore) DetachStream(sessionID, streamID string) {
	st.mu.Lock()
	defer st.mu.Unlock()

	if ses, ok := st.sessions[sessionID]; ok {
		delete(ses.streamIDs, streamID)
	}
}

// Contains reports whether a session id is currently known.
func (st *SessionStore) Contains(sessionID string) bool {
	st.mu.Lock()
	defer st.mu.Unlock()
	_, ok := st.sessions[sessionID]
	return ok
}

// Len returns the number of live sessions.
func (st *SessionStore) Len() int {
	st.mu.Lock()
	defer st.mu.Unlock()
	return len(st.sessions)
}

// lastActivityOf is a test hook.
func (st *SessionStore) lastActivityOf(sessionID string) (time.Time, bool) {
	st.mu.Lock()
	defer st.mu.Unlock()
	ses, ok := st.sessions[sessionID]
	if !ok {
		return time.Time{}, false
	}
	return ses.lastActivity, true
}

// streamCountOf is a test hook.
func (st *SessionStore) streamCountOf(sessionID string) int {
	st.mu.Lock()
	defer st.mu.Unlock()
	if ses, ok := st.sessions[sessionID]; ok {
		return len(ses.streamIDs)
	}
	return 0
}
