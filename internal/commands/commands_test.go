package commands

import (
	"bytes"
	"context"
	"errors"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"ridechat/internal/chatview"
	"ridechat/internal/models"
	"ridechat/internal/storage"
	"ridechat/internal/unread"
)

type fakeChat struct {
	calls []string
	view  chatview.View
	err   error
}

func (f *fakeChat) record(call string) error {
	f.calls = append(f.calls, call)
	return f.err
}

func (f *fakeChat) Send(text string) error { return f.record("send " + text) }
func (f *fakeChat) SendPrivate(receiverID, text string) error {
	return f.record("dm " + receiverID + " " + text)
}
func (f *fakeChat) SelectByID(id string) error { return f.record("open " + id) }
func (f *fakeChat) OpenRide(rideID string, owner models.User) error {
	return f.record("ride " + rideID + " " + owner.ID.String())
}
func (f *fakeChat) LoadConversations() error     { return f.record("refresh") }
func (f *fakeChat) MarkRead(id string) error     { return f.record("read " + id) }
func (f *fakeChat) View() (chatview.View, error) { return f.view, f.err }

func TestPrompt(t *testing.T) {
	chat := &fakeChat{view: chatview.View{
		Conversations: []models.Conversation{
			{ID: "1", Ride: models.Ride{Pickup: "Campus", Destination: "Airport"}, User: models.User{ID: "2", Name: "Bob"}, LastMessage: "see you"},
			{ID: "2", Ride: models.Ride{Pickup: "Station", Destination: "Campus"}, User: models.User{ID: "3"}, HasUnreadMessages: true},
		},
	}}
	var out bytes.Buffer
	term := NewTerminal(&out, "1")

	input := strings.Join([]string{
		"hello there",
		"",
		"/open 1",
		"/ride 42 7",
		"/ride 43",
		"/dm 3 hi  you",
		"/read 2",
		"/refresh",
		"/list",
		"/open",
		"/bogus",
		"/quit",
		"never read",
	}, "\n")

	err := Prompt(context.Background(), strings.NewReader(input), chat, term)
	require.ErrorIs(t, err, ErrQuit)

	assert.Equal(t, []string{
		"send hello there",
		"open 1",
		"ride 42 7",
		"ride 43 ",
		"dm 3 hi  you",
		"read 2",
		"refresh",
	}, chat.calls)

	printed := out.String()
	assert.Contains(t, printed, "Campus -> Airport with Bob: see you")
	assert.Contains(t, printed, "* 2      Station -> Campus with user 3")
	assert.Contains(t, printed, "usage: /open <conversation>")
	assert.Contains(t, printed, "unknown command /bogus")
}

func TestPrompt_EndsOnEOFAndCancel(t *testing.T) {
	term := NewTerminal(&bytes.Buffer{}, "1")

	err := Prompt(context.Background(), strings.NewReader(""), &fakeChat{}, term)
	assert.ErrorIs(t, err, ErrQuit)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	err = Prompt(ctx, neverReader{}, &fakeChat{}, term)
	assert.ErrorIs(t, err, context.Canceled)
}

type neverReader struct{}

func (neverReader) Read([]byte) (int, error) {
	select {}
}

func TestPrompt_Errors(t *testing.T) {
	var out bytes.Buffer
	term := NewTerminal(&out, "1")

	chat := &fakeChat{err: chatview.ErrSelfChat}
	err := Prompt(context.Background(), strings.NewReader("hi\n"), chat, term)
	assert.ErrorIs(t, err, ErrQuit)
	assert.Empty(t, out.String(), "the chat view announces send failures itself")

	chat = &fakeChat{err: errors.New("boom")}
	err = Prompt(context.Background(), strings.NewReader("/refresh\n"), chat, term)
	assert.ErrorIs(t, err, ErrQuit)
	assert.Contains(t, out.String(), "! boom")

	chat = &fakeChat{err: chatview.ErrClosed}
	err = Prompt(context.Background(), strings.NewReader("hi\n/refresh\n"), chat, term)
	assert.ErrorIs(t, err, chatview.ErrClosed)
	assert.Len(t, chat.calls, 1)
}

func TestTerminal(t *testing.T) {
	var out bytes.Buffer
	term := NewTerminal(&out, "1")
	ts := time.Date(2025, 3, 1, 10, 5, 0, 0, time.Local)

	term.Message(models.Message{SenderID: "1", Content: "pending", Optimistic: true, Timestamp: ts})
	term.Message(models.Message{SenderID: "1", Content: "mine", Timestamp: ts})
	term.Message(models.Message{SenderID: "2", SenderName: "<b>Bob</b>", Content: "<script>x</script>hi &amp; bye", Timestamp: ts})
	term.Message(models.Message{SenderID: "3", Content: "anon", Timestamp: ts})
	term.Notice(chatview.Notice{Level: chatview.NoticeError, Text: "failed"})
	term.Notice(chatview.Notice{Level: chatview.NoticeInfo, Text: "fine"})
	term.Unread(unread.Snapshot{HasUnread: true})
	term.Unread(unread.Snapshot{HasUnread: true})
	term.Unread(unread.Snapshot{})

	assert.Equal(t, strings.Join([]string{
		"[10:05] you: mine",
		"[10:05] Bob: hi & bye",
		"[10:05] user 3: anon",
		"! failed",
		"* fine",
		"* unread messages",
		"* all caught up",
		"",
	}, "\n"), out.String())
}

func TestPrintArchive(t *testing.T) {
	store, err := storage.NewBboltStorage(filepath.Join(t.TempDir(), "archive.db"))
	require.NoError(t, err)
	defer func() { _ = store.Close() }()

	var out bytes.Buffer
	err = PrintArchive(store, "", 0, NewTerminal(&out, ""))
	require.ErrorContains(t, err, "archive is empty")

	_, err = store.ClaimOwner("1")
	require.NoError(t, err)
	ts := time.Date(2025, 3, 1, 10, 0, 0, 0, time.Local)
	require.NoError(t, store.UpsertConversations([]models.Conversation{
		{ID: "42", Ride: models.Ride{ID: "42", Pickup: "Campus", Destination: "Airport"}, User: models.User{ID: "2", Name: "Bob"}, LastMessage: "bye"},
	}))
	require.NoError(t, store.ReplaceMessages("42", []models.Message{
		{ID: "1", SenderID: "2", SenderName: "Bob", Content: "hi", Timestamp: ts},
		{ID: "2", SenderID: "1", Content: "bye", Timestamp: ts.Add(time.Minute)},
	}))

	out.Reset()
	require.NoError(t, PrintArchive(store, "", 0, NewTerminal(&out, "")))
	assert.Contains(t, out.String(), "42     Campus -> Airport with Bob: bye")

	out.Reset()
	require.NoError(t, PrintArchive(store, "42", 1, NewTerminal(&out, "")))
	assert.Equal(t, "[10:01] you: bye\n", out.String())

	out.Reset()
	require.NoError(t, PrintArchive(store, "7", 0, NewTerminal(&out, "")))
	assert.Equal(t, "no archived messages for ride 7\n", out.String())

	assert.Error(t, PrintArchive(store, "../x", 0, NewTerminal(&out, "")))
}
