package chat

import (
	"testing"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"ridechat/internal/models"
)

var epoch = time.Date(2025, 3, 1, 10, 0, 0, 0, time.UTC)

func newTestReconciler(self, ride string) (*Reconciler, *clockwork.FakeClock) {
	clock := clockwork.NewFakeClockAt(epoch)
	r := NewReconciler(ReconcilerConfig{SelfID: self, Clock: clock})
	r.SetRide(ride)
	return r, clock
}

func chatMsg(id, sender, content, ride string, ts time.Time) models.Message {
	return models.Message{
		ID:        id,
		Type:      models.MessageTypeChat,
		SenderID:  sender,
		Content:   content,
		RideID:    ride,
		Timestamp: ts,
	}
}

func TestReconciler_OptimisticEchoAppearsOnce(t *testing.T) {
	r, clock := newTestReconciler("1", "42")

	r.AddOptimistic("hello", "2", "42")
	require.Equal(t, 1, r.Len())
	assert.True(t, r.Messages()[0].Optimistic)

	clock.Advance(300 * time.Millisecond)

	// Topic echo with a server id.
	out := r.Ingest(chatMsg("100", "1", "hello", "42", clock.Now()))
	assert.True(t, out.Appended)
	assert.Equal(t, 1, out.Replaced)
	assert.True(t, out.UpdatesConversation)

	// Private queue echo of the same message without an id.
	out = r.Ingest(chatMsg("", "1", "hello", "42", clock.Now().Add(100*time.Millisecond)))
	assert.True(t, out.Duplicate)
	assert.False(t, out.Appended)

	// Same id again.
	out = r.Ingest(chatMsg("100", "1", "hello", "42", clock.Now().Add(time.Minute)))
	assert.True(t, out.Duplicate)

	msgs := r.Messages()
	require.Len(t, msgs, 1)
	assert.Equal(t, "100", msgs[0].ID)
	assert.False(t, msgs[0].Optimistic)
}

func TestReconciler_PreservesArrivalOrder(t *testing.T) {
	r, _ := newTestReconciler("1", "42")

	r.Ingest(chatMsg("a", "2", "first", "42", epoch.Add(time.Minute)))
	r.Ingest(chatMsg("b", "3", "second", "42", epoch))

	msgs := r.Messages()
	require.Len(t, msgs, 2)
	assert.Equal(t, "first", msgs[0].Content)
	assert.Equal(t, "second", msgs[1].Content)
}

func TestReconciler_ContentWindow(t *testing.T) {
	r, _ := newTestReconciler("1", "42")

	r.Ingest(chatMsg("", "2", "ok", "42", epoch))

	out := r.Ingest(chatMsg("", "2", "ok", "42", epoch.Add(1999*time.Millisecond)))
	assert.True(t, out.Duplicate, "inside the window")

	out = r.Ingest(chatMsg("", "2", "ok", "42", epoch.Add(2*time.Second)))
	assert.True(t, out.Appended, "window is exclusive")

	out = r.Ingest(chatMsg("", "3", "ok", "42", epoch))
	assert.True(t, out.Appended, "different sender")

	assert.Equal(t, 3, r.Len())
}

func TestReconciler_ConversationUpdateOnlyForOpenRide(t *testing.T) {
	r, _ := newTestReconciler("1", "42")

	out := r.Ingest(chatMsg("x", "2", "elsewhere", "7", epoch))
	assert.True(t, out.Appended)
	assert.False(t, out.UpdatesConversation)

	r.SetRide("")
	out = r.Ingest(chatMsg("y", "2", "no ride open", "42", epoch))
	assert.False(t, out.UpdatesConversation)
}

func TestReconciler_IgnoresPresenceAndEmpty(t *testing.T) {
	r, _ := newTestReconciler("1", "42")

	join := chatMsg("", "2", "", "42", epoch)
	join.Type = models.MessageTypeJoin
	assert.False(t, r.Ingest(join).Appended)

	assert.False(t, r.Ingest(chatMsg("", "2", "   ", "42", epoch)).Appended)
	assert.Zero(t, r.Len())
}

func TestReconciler_DefaultsTimestampToNow(t *testing.T) {
	r, clock := newTestReconciler("1", "42")

	out := r.Ingest(chatMsg("", "2", "no time", "42", time.Time{}))
	require.True(t, out.Appended)
	assert.True(t, clock.Now().Equal(out.Message.Timestamp))
}

func TestReconciler_OptimisticFromOthersUntouched(t *testing.T) {
	r, clock := newTestReconciler("1", "42")

	r.AddOptimistic("same words", "2", "42")
	clock.Advance(10 * time.Second)

	out := r.Ingest(chatMsg("9", "2", "same words", "42", clock.Now()))
	assert.True(t, out.Appended)
	assert.Zero(t, out.Replaced)

	msgs := r.Messages()
	require.Len(t, msgs, 2)
	assert.True(t, msgs[0].Optimistic)
}

func TestReconciler_ReplaceAndReset(t *testing.T) {
	r, _ := newTestReconciler("1", "42")
	r.AddOptimistic("pending", "2", "42")

	r.Replace([]models.Message{
		chatMsg("1", "2", "old", "42", epoch),
		{ID: "2", SenderID: "1", Content: "untyped history", RideID: "42", Timestamp: epoch},
	})

	msgs := r.Messages()
	require.Len(t, msgs, 2)
	assert.Equal(t, "old", msgs[0].Content)
	assert.Equal(t, models.MessageTypeChat, msgs[1].Type)

	// The returned slice is a copy.
	msgs[0].Content = "mutated"
	assert.Equal(t, "old", r.Messages()[0].Content)

	r.Reset()
	assert.Zero(t, r.Len())
	assert.Empty(t, r.RideID())
}
