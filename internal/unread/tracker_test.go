package unread

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"ridechat/internal/models"
)

func TestTracker_NotificationThenRead(t *testing.T) {
	tr := NewTracker(nil)
	assert.False(t, tr.HasUnread())

	require.NoError(t, tr.HandleNotification(models.UnreadNotification{ConversationID: "c1", RideID: "42"}))
	require.NoError(t, tr.HandleNotification(models.UnreadNotification{ConversationID: "c1", RideID: "42"}))
	require.NoError(t, tr.HandleNotification(models.UnreadNotification{ConversationID: "c2"}))

	assert.True(t, tr.HasUnread())
	assert.True(t, tr.IsUnread("c1"))
	assert.Equal(t, 2, tr.Count("c1"))

	assert.True(t, tr.MarkRead("c1", "42"))
	assert.False(t, tr.IsUnread("c1"))
	assert.True(t, tr.HasUnread(), "c2 is still unread")

	assert.True(t, tr.MarkRead("c2", ""))
	assert.False(t, tr.HasUnread())

	assert.False(t, tr.MarkRead("c2", ""), "already read")
}

func TestTracker_RideOnlyNotificationResolvedByHydrate(t *testing.T) {
	tr := NewTracker(nil)

	require.NoError(t, tr.HandleNotification(models.UnreadNotification{RideID: "42"}))
	assert.True(t, tr.HasUnread())
	assert.Empty(t, tr.Snapshot().Conversations)
	assert.Equal(t, []string{"42"}, tr.Snapshot().Rides)

	tr.Hydrate([]models.Conversation{
		{ID: "42", Ride: models.Ride{ID: "42"}, HasUnreadMessages: true},
		{ID: "7", Ride: models.Ride{ID: "7"}},
	})

	snap := tr.Snapshot()
	assert.True(t, snap.HasUnread)
	assert.Empty(t, snap.Rides)
	assert.Equal(t, map[string]int{"42": 1}, snap.Conversations)
	assert.True(t, tr.IsUnread("42"))
	assert.False(t, tr.IsUnread("7"))
}

func TestTracker_HydrateServerWins(t *testing.T) {
	tr := NewTracker(nil)
	tr.Add("stale")

	tr.Hydrate([]models.Conversation{{ID: "stale"}, {ID: "fresh", HasUnreadMessages: true, UnreadCount: 3}})

	assert.False(t, tr.IsUnread("stale"))
	assert.Equal(t, 3, tr.Count("fresh"))
}

func TestTracker_RejectsEmptyNotification(t *testing.T) {
	tr := NewTracker(nil)
	err := tr.HandleNotification(models.UnreadNotification{})
	assert.ErrorIs(t, err, models.ErrEmptyNotification)
	assert.False(t, tr.HasUnread())
}

func TestTracker_ResetAndListeners(t *testing.T) {
	tr := NewTracker(nil)

	var seen []bool
	remove := tr.OnChange(func(s Snapshot) { seen = append(seen, s.HasUnread) })

	tr.Add("c1")
	tr.Reset()
	assert.Equal(t, []bool{true, false}, seen)

	remove()
	tr.Add("c1")
	assert.Len(t, seen, 2)
	assert.True(t, tr.HasUnread())
}
