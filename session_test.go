package toolgate

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSessionResolveOrCreate(t *testing.T) {
	store := NewSessionStore(NewNullLogger(), time.Hour)

	ses, created := store.ResolveOrCreate("")
	assert.True(t, created)
	assert.NotEmpty(t, ses.ID)

	resolved, created := store.ResolveOrCreate(ses.ID)
	assert.False(t, created)
	assert.Equal(t, ses.ID, resolved.ID)

	// An unknown id yields a brand-new session, never an error.
	fresh, created := store.ResolveOrCreate("no-such-session")
	assert.True(t, created)
	assert.NotEqual(t, "no-such-session", fresh.ID)
}

func TestSessionLastActivityIncreases(t *testing.T) {
	store := NewSessionStore(NewNullLogger(), time.Hour)

	now := time.Unix(1000, 0)
	store.now = func() time.Time { return now }

	ses, _ := store.ResolveOrCreate("")
	first, ok := store.lastActivityOf(ses.ID)
	require.True(t, ok)

	now = now.Add(time.Minute)
	store.ResolveOrCreate(ses.ID)
	second, ok := store.lastActivityOf(ses.ID)
	require.True(t, ok)
	assert.True(t, second.After(first))
}

func TestSessionSweepExpiresIdleSessions(t *testing.T) {
	store := NewSessionStore(NewNullLogger(), time.Hour)

	now := time.Unix(1000, 0)
	store.now = func() time.Time { return now }

	stale, _ := store.ResolveOrCreate("")
	store.AttachStream(stale.ID, "stream-1")

	now = now.Add(30 * time.Minute)
	fresh, _ := store.ResolveOrCreate("")

	expired, closed := store.Sweep(now.Add(45 * time.Minute))
	assert.Equal(t, []string{stale.ID}, expired)
	assert.Equal(t, []string{"stream-1"}, closed)
	assert.False(t, store.Contains(stale.ID))
	assert.True(t, store.Contains(fresh.ID))
}

func TestSessionDestroyIsIdempotent(t *testing.T) {
	store := NewSessionStore(NewNullLogger(), time.Hour)

	ses, _ := store.ResolveOrCreate("")
	store.AttachStream(ses.ID, "stream-a")
	store.AttachStream(ses.ID, "stream-b")

	closed := store.Destroy(ses.ID)
	assert.Len(t, closed, 2)
	assert.False(t, store.Contains(ses.ID))

	assert.Nil(t, store.Destroy(ses.ID))
	assert.Nil(t, store.Destroy("never-existed"))
}

func TestSessionEventIDMonotonicity(t *testing.T) {
	store := NewSessionStore(NewNullLogger(), time.Hour)
	ses, _ := store.ResolveOrCreate("")

	var last uint64
	for i := 0; i < 10; i++ {
		id, ok := store.NextEventID(ses.ID)
		require.True(t, ok)
		assert.Greater(t, id, last)
		last = id
	}
}

func TestSessionResumeEventID(t *testing.T) {
	store := NewSessionStore(NewNullLogger(), time.Hour)
	ses, _ := store.ResolveOrCreate("")

	store.ResumeEventID(ses.ID, 41)
	id, ok := store.NextEventID(ses.ID)
	require.True(t, ok)
	assert.Equal(t, uint64(42), id)

	// Resuming backwards never rewinds the counter.
	store.ResumeEventID(ses.ID, 5)
	id, _ = store.NextEventID(ses.ID)
	assert.Equal(t, uint64(43), id)
}

func TestSessionSurvivesStreamDetach(t *testing.T) {
	store := NewSessionStore(NewNullLogger(), time.Hour)
	ses, _ := store.ResolveOrCreate("")

	store.AttachStream(ses.ID, "stream-1")
	store.DetachStream(ses.ID, "stream-1")

	assert.Equal(t, 0, store.streamCountOf(ses.ID))
	assert.True(t, store.Contains(ses.ID))
}

func TestSessionDestroyAll(t *testing.T) {
	store := NewSessionStore(NewNullLogger(), time.Hour)
	a, _ := store.ResolveOrCreate("")
	store.AttachStream(a.ID, "s1")
	b, _ := store.ResolveOrCreate("")
	store.AttachStream(b.ID, "s2")

	destroyed, closed := store.DestroyAll()
	assert.ElementsMatch(t, []string{a.ID, b.ID}, destroyed)
	assert.Len(t, closed, 2)
	assert.Equal(t, 0, store.Len())
}
