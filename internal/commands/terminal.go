package commands

import (
	"fmt"
	"io"
	"sync"

	"ridechat/internal/chatview"
	"ridechat/internal/content"
	"ridechat/internal/models"
	"ridechat/internal/unread"
)

const timeFormat = "15:04"

// Terminal prints chat events as lines of text. It is safe for
// concurrent use.
type Terminal struct {
	out    io.Writer
	selfID string

	mu         sync.Mutex
	lastUnread bool
}

func NewTerminal(out io.Writer, selfID string) *Terminal {
	return &Terminal{out: out, selfID: selfID}
}

// Message prints a confirmed message. Pending local copies are skipped;
// the server's copy is printed when it arrives.
func (t *Terminal) Message(m models.Message) {
	if m.Optimistic {
		return
	}
	t.printf("[%s] %s: %s\n", m.Timestamp.Local().Format(timeFormat), t.sender(m), content.Sanitize(m.Content))
}

func (t *Terminal) Notice(n chatview.Notice) {
	if n.Level == chatview.NoticeError {
		t.printf("! %s\n", n.Text)
		return
	}
	t.printf("* %s\n", n.Text)
}

func (t *Terminal) Status(s chatview.Status) {
	t.printf("* %s\n", s)
}

// Unread prints the badge when it flips.
func (t *Terminal) Unread(s unread.Snapshot) {
	t.mu.Lock()
	changed := s.HasUnread != t.lastUnread
	t.lastUnread = s.HasUnread
	t.mu.Unlock()
	if !changed {
		return
	}
	if s.HasUnread {
		t.printf("* unread messages\n")
	} else {
		t.printf("* all caught up\n")
	}
}

// Conversations prints the list with its unread markers.
func (t *Terminal) Conversations(v chatview.View) {
	if len(v.Conversations) == 0 {
		t.printf("no conversations\n")
		return
	}
	for _, c := range v.Conversations {
		marker := " "
		if c.HasUnreadMessages {
			marker = "*"
		}
		if v.Selected != nil && v.Selected.ID == c.ID {
			marker = ">"
		}
		t.printf("%s %-6s %s -> %s with %s: %s\n",
			marker, c.ID, content.Sanitize(c.Ride.Pickup), content.Sanitize(c.Ride.Destination),
			t.name(c.User), content.Preview(c.LastMessage, 40))
	}
}

// History prints the open conversation's messages.
func (t *Terminal) History(v chatview.View) {
	if v.Selected == nil {
		t.printf("no conversation selected\n")
		return
	}
	for _, m := range v.Messages {
		t.Message(m)
	}
}

func (t *Terminal) sender(m models.Message) string {
	if m.SenderID == t.selfID {
		return "you"
	}
	if m.SenderName != "" {
		return content.Sanitize(m.SenderName)
	}
	return "user " + m.SenderID
}

func (t *Terminal) name(u models.User) string {
	if u.Name != "" {
		return content.Sanitize(u.Name)
	}
	return "user " + u.ID.String()
}

func (t *Terminal) printf(format string, args ...any) {
	t.mu.Lock()
	defer t.mu.Unlock()
	_, _ = fmt.Fprintf(t.out, format, args...)
}
