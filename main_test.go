package main

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/require"

	"ridechat/internal/auth"
	"ridechat/internal/chat"
	"ridechat/internal/models"
	"ridechat/internal/unread"
	"ridechat/internal/ws/wstest"
)

type syncBuffer struct {
	mu  sync.Mutex
	buf bytes.Buffer
}

func (b *syncBuffer) Write(p []byte) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.Write(p)
}

func (b *syncBuffer) String() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.String()
}

// lastBadge returns the most recent unread badge line.
func (b *syncBuffer) lastBadge() string {
	badge := ""
	for _, line := range strings.Split(b.String(), "\n") {
		if line == "* unread messages" || line == "* all caught up" {
			badge = line
		}
	}
	return badge
}

func signToken(t *testing.T, userID string) string {
	t.Helper()
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, auth.Claims{
		UserID: models.ID(userID),
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   "rider@example.com",
			ExpiresAt: jwt.NewNumericDate(time.Now().Add(time.Hour)),
		},
	})
	signed, err := token.SignedString([]byte("test-secret"))
	require.NoError(t, err)
	return signed
}

func startServer(t *testing.T, token string) (*wstest.Broker, string) {
	t.Helper()

	broker := wstest.NewBroker()
	broker.Token = token
	broker.OnSend = func(b *wstest.Broker, s wstest.Sent) {
		if s.Destination != chat.DestSendMessage {
			return
		}
		var msg map[string]any
		if err := json.Unmarshal(s.Body, &msg); err != nil {
			return
		}
		rideID, _ := msg["rideId"].(string)
		msg["id"] = 500
		withID, _ := json.Marshal(msg)
		b.Publish(chat.RideTopic(rideID), withID)
		delete(msg, "id")
		withoutID, _ := json.Marshal(msg)
		b.Publish(chat.QueuePrivate, withoutID)
	}

	r := chi.NewRouter()
	r.Handle("/ws", broker)
	r.Route("/api", func(r chi.Router) {
		r.Use(func(next http.Handler) http.Handler {
			return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				if r.Header.Get("Authorization") != "Bearer "+token {
					http.Error(w, "unauthorized", http.StatusUnauthorized)
					return
				}
				next.ServeHTTP(w, r)
			})
		})
		r.Get("/chat/conversations", func(w http.ResponseWriter, r *http.Request) {
			_, _ = w.Write([]byte(`[{"id": 42, "ride": {"id": 42, "pickup": "Campus", "destination": "Airport"},
				"user": {"id": 2, "name": "Bob"}, "lastMessage": "welcome", "hasUnreadMessages": true}]`))
		})
		r.Get("/chat/ride/{rideID}", func(w http.ResponseWriter, r *http.Request) {
			if chi.URLParam(r, "rideID") != "42" {
				_, _ = w.Write([]byte(`[]`))
				return
			}
			_, _ = w.Write([]byte(`[{"id": 1, "content": "welcome", "senderId": 2, "senderName": "Bob",
				"rideId": 42, "createdAt": "2025-03-01T10:00:00"}]`))
		})
		r.Post("/chat/mark-read/{rideID}", func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(http.StatusOK)
		})
	})

	srv := httptest.NewServer(r)
	t.Cleanup(srv.Close)
	return broker, srv.URL
}

func TestIntegration(t *testing.T) {
	token := signToken(t, "1")
	broker, serverURL := startServer(t, token)

	tmpDir := t.TempDir()
	envFile := filepath.Join(tmpDir, "missing.env")
	t.Setenv("RIDECHAT_SERVER", serverURL)
	t.Setenv("RIDECHAT_TOKEN", token)
	t.Setenv("RIDECHAT_DB", filepath.Join(tmpDir, "ridechat.db"))
	t.Setenv("CHAT_RETRY_DELAY", "50ms")
	t.Setenv("UNREAD_RECONNECT_DELAY", "50ms")

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Second)
	defer cancel()

	stdin, typing := io.Pipe()
	defer func() { _ = typing.Close() }()
	out := &syncBuffer{}

	done := make(chan error, 1)
	go func() { done <- run(ctx, []string{"-env", envFile}, stdin, out) }()

	say := func(line string) {
		t.Helper()
		_, err := io.WriteString(typing, line+"\n")
		require.NoError(t, err)
	}
	eventually := func(cond func() bool, msg string) {
		t.Helper()
		require.Eventually(t, cond, 5*time.Second, 10*time.Millisecond, msg+"\noutput:\n"+out.String())
	}

	require.NoError(t, broker.WaitSubscribed(ctx, chat.QueuePrivate))
	require.NoError(t, broker.WaitSubscribed(ctx, unread.QueueUnread))
	eventually(func() bool { return strings.Contains(out.String(), "* Connected") }, "status line")
	eventually(func() bool { return strings.Contains(out.String(), "* unread messages") }, "conversations loaded")

	// Step 1: the conversation list carries the server's unread flag.
	say("/list")
	eventually(func() bool {
		return strings.Contains(out.String(), "* 42     Campus -> Airport with Bob: welcome")
	}, "conversation list")

	// Step 2: opening it subscribes to the ride and clears the badge.
	say("/open 42")
	require.NoError(t, broker.WaitSubscribed(ctx, chat.RideTopic("42")))
	eventually(func() bool { return out.lastBadge() == "* all caught up" }, "badge cleared")

	say("/history")
	eventually(func() bool { return strings.Contains(out.String(), "] Bob: welcome") }, "history")

	// Step 3: a sent message is echoed twice by the server but shown once.
	say("hello")
	eventually(func() bool { return strings.Contains(out.String(), "you: hello") }, "echo")
	broker.Publish(chat.RideTopic("42"), []byte(`{"id": 501, "type": "CHAT", "content": "see you", "senderId": 2, "senderName": "Bob", "rideId": 42}`))
	eventually(func() bool { return strings.Contains(out.String(), "Bob: see you") }, "reply")
	require.Equal(t, 1, strings.Count(out.String(), "you: hello"))

	// Step 4: a notification about another conversation raises the badge.
	broker.Publish(unread.QueueUnread, []byte(`{"conversationId": 43, "rideId": 43}`))
	eventually(func() bool { return out.lastBadge() == "* unread messages" }, "badge raised")

	// Step 5: the self-chat guard and quitting.
	say("/dm 1 talking to myself")
	eventually(func() bool { return strings.Contains(out.String(), "! You cannot message yourself") }, "self chat")

	say("/quit")
	select {
	case err := <-done:
		require.NoError(t, err)
	case <-ctx.Done():
		t.Fatal("run did not return after /quit")
	}
	require.NoError(t, broker.WaitClients(ctx, 0))

	// Step 6: the archive is readable offline.
	t.Setenv("RIDECHAT_TOKEN", "")
	offline := &syncBuffer{}
	err := run(ctx, []string{"-offline", "-ride", "42", "-env", envFile}, strings.NewReader(""), offline)
	require.NoError(t, err)
	printed := offline.String()
	require.Contains(t, printed, "Bob: welcome")
	require.Contains(t, printed, "you: hello")
	require.Contains(t, printed, "Bob: see you")
	require.Equal(t, 1, strings.Count(printed, "you: hello"))
}

func TestRun_RequiresToken(t *testing.T) {
	tmpDir := t.TempDir()
	t.Setenv("RIDECHAT_TOKEN", "")
	t.Setenv("RIDECHAT_DB", filepath.Join(tmpDir, "ridechat.db"))

	err := run(context.Background(), []string{"-env", filepath.Join(tmpDir, "missing.env")}, strings.NewReader(""), io.Discard)
	require.ErrorContains(t, err, "RIDECHAT_TOKEN is required")

	t.Setenv("RIDECHAT_TOKEN", "not-a-jwt")
	err = run(context.Background(), []string{"-env", filepath.Join(tmpDir, "missing.env")}, strings.NewReader(""), io.Discard)
	require.ErrorIs(t, err, auth.ErrInvalidToken)
}
