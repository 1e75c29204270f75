package app

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dkeye/mentor/internal/domain"
)

func TestRoster_KeepsInsertionOrder(t *testing.T) {
	r := NewRoster()
	r.Add(domain.Participant{ID: "b", Name: "Bo"})
	r.Add(domain.Participant{ID: "a", Name: "Ann"})
	r.Add(domain.Participant{ID: "c", Name: "Cy"})
	r.Add(domain.Participant{ID: "b", Name: "Bob"})

	snap := r.Snapshot()
	require.Len(t, snap, 3)
	assert.Equal(t, []domain.ParticipantID{"b", "a", "c"}, []domain.ParticipantID{snap[0].ID, snap[1].ID, snap[2].ID})
	assert.Equal(t, "Bob", snap[0].Name)

	assert.True(t, r.Remove("a"))
	assert.False(t, r.Remove("a"))
	assert.Equal(t, 2, r.Count())

	r.Reset()
	assert.Empty(t, r.Snapshot())
}

func TestChatLog_AppendOnlyCopies(t *testing.T) {
	l := NewChatLog()
	now := time.Unix(0, 0)
	l.Append(domain.NewStudentMessage("Student", "hi", false, now))
	l.Append(domain.NewMentorMessage("hello", now))

	got := l.Entries()
	require.Len(t, got, 2)
	got[0].Text = "edited"

	assert.Equal(t, "hi", l.Entries()[0].Text)
	assert.True(t, l.Entries()[1].FromMentor)
	assert.Equal(t, 2, l.Len())
}

func TestRateLimiter_SlidingWindow(t *testing.T) {
	rl := NewRateLimiter(2, time.Second)
	clock := time.Unix(100, 0)
	rl.now = func() time.Time { return clock }

	assert.True(t, rl.Allow("u1"))
	assert.True(t, rl.Allow("u1"))
	assert.False(t, rl.Allow("u1"))
	assert.True(t, rl.Allow("u2"), "limits are per user")

	clock = clock.Add(1500 * time.Millisecond)
	assert.True(t, rl.Allow("u1"))
}

func TestRateLimiter_Disabled(t *testing.T) {
	rl := NewRateLimiter(0, time.Second)
	for i := 0; i < 10; i++ {
		assert.True(t, rl.Allow("u"))
	}
	var nilLimiter *RateLimiter
	assert.True(t, nilLimiter.Allow("u"))
}

func TestRegistry_Users(t *testing.T) {
	r := NewRegistry()
	u := r.GetOrCreateUser("tok")
	assert.Equal(t, DefaultUsername, u.Name)
	assert.Equal(t, domain.UserID("tok"), u.ID)

	require.NoError(t, r.UpdateUsername("tok", "Ada"))
	assert.Equal(t, "Ada", r.GetOrCreateUser("tok").Name)
	assert.ErrorIs(t, r.UpdateUsername("tok", ""), domain.ErrUsernameEmpty)
	assert.Equal(t, 1, r.Len())
}

func TestHub_FanOutAndDropSlow(t *testing.T) {
	h := NewHub(1)
	fast, cancelFast := h.Subscribe()
	slow, cancelSlow := h.Subscribe()
	defer cancelSlow()

	h.Notify(Event{Kind: EventChat})
	assert.Equal(t, EventChat, (<-fast).Kind)

	h.Notify(Event{Kind: EventStream})
	assert.Equal(t, EventStream, (<-fast).Kind)
	assert.Equal(t, EventChat, (<-slow).Kind, "second event was dropped for the slow subscriber")
	select {
	case e := <-slow:
		t.Fatalf("unexpected event %v", e)
	default:
	}

	cancelFast()
	cancelFast()
	_, ok := <-fast
	assert.False(t, ok)
	h.Notify(Event{Kind: EventState})
}
