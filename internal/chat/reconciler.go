package chat

import (
	"slices"
	"strings"
	"time"

	"github.com/jonboulle/clockwork"

	"ridechat/internal/models"
)

const DefaultDuplicateWindow = 2 * time.Second

type ReconcilerConfig struct {
	SelfID string
	// Window is how close two timestamps must be for equal content from
	// the same sender to count as one message.
	Window time.Duration
	Clock  clockwork.Clock
}

// Outcome describes what Ingest did with one inbound message.
type Outcome struct {
	Appended  bool
	Duplicate bool
	// Replaced counts optimistic entries dropped in favour of the
	// server copy.
	Replaced int
	Message  models.Message
	// UpdatesConversation is set when the message belongs to the open
	// conversation's ride, so its last message preview must change.
	UpdatesConversation bool
}

// Reconciler merges live events, history and optimistic local echoes
// into one display list. Arrival order is display order.
//
// A Reconciler is not safe for concurrent use.
type Reconciler struct {
	selfID string
	window time.Duration
	clock  clockwork.Clock

	rideID   string
	messages []models.Message
}

func NewReconciler(cfg ReconcilerConfig) *Reconciler {
	if cfg.Window <= 0 {
		cfg.Window = DefaultDuplicateWindow
	}
	if cfg.Clock == nil {
		cfg.Clock = clockwork.NewRealClock()
	}
	return &Reconciler{
		selfID: cfg.SelfID,
		window: cfg.Window,
		clock:  cfg.Clock,
	}
}

// SetRide sets the ride of the open conversation.
func (r *Reconciler) SetRide(rideID string) {
	r.rideID = rideID
}

func (r *Reconciler) RideID() string {
	return r.rideID
}

// Ingest applies one inbound message.
func (r *Reconciler) Ingest(m models.Message) Outcome {
	if m.Type == "" {
		m.Type = models.MessageTypeChat
	}
	if m.Type != models.MessageTypeChat || strings.TrimSpace(m.Content) == "" {
		return Outcome{Message: m}
	}
	if m.Timestamp.IsZero() {
		m.Timestamp = r.clock.Now()
	}
	m.Optimistic = false

	out := Outcome{Message: m}
	if r.selfID != "" && m.SenderID == r.selfID {
		before := len(r.messages)
		r.messages = slices.DeleteFunc(r.messages, func(e models.Message) bool {
			return e.Optimistic && e.Content == m.Content
		})
		out.Replaced = before - len(r.messages)
	}

	if r.isDuplicate(m) {
		out.Duplicate = true
		return out
	}

	r.messages = append(r.messages, m)
	out.Appended = true
	out.UpdatesConversation = r.rideID != "" && m.RideID == r.rideID
	return out
}

func (r *Reconciler) isDuplicate(m models.Message) bool {
	for _, e := range r.messages {
		if m.ID != "" && m.ID == e.ID {
			return true
		}
		if e.Content == m.Content && e.SenderID == m.SenderID && absDuration(e.Timestamp.Sub(m.Timestamp)) < r.window {
			return true
		}
	}
	return false
}

// Replace discards the list and loads a fetched history in its order.
func (r *Reconciler) Replace(history []models.Message) {
	r.messages = r.messages[:0]
	for _, m := range history {
		if m.Type == "" {
			m.Type = models.MessageTypeChat
		}
		if m.Type != models.MessageTypeChat {
			continue
		}
		m.Optimistic = false
		r.messages = append(r.messages, m)
	}
}

// AddOptimistic appends a local echo of a message just published by
// self. It carries no server id and is replaced when the server copy
// arrives.
func (r *Reconciler) AddOptimistic(content, receiverID, rideID string) models.Message {
	m := models.Message{
		Type:       models.MessageTypeChat,
		Content:    content,
		SenderID:   r.selfID,
		ReceiverID: receiverID,
		RideID:     rideID,
		Timestamp:  r.clock.Now(),
		Optimistic: true,
	}
	r.messages = append(r.messages, m)
	return m
}

func (r *Reconciler) Messages() []models.Message {
	return slices.Clone(r.messages)
}

func (r *Reconciler) Len() int {
	return len(r.messages)
}

// Reset clears the list and the open ride.
func (r *Reconciler) Reset() {
	r.messages = nil
	r.rideID = ""
}

func absDuration(d time.Duration) time.Duration {
	if d < 0 {
		return -d
	}
	return d
}
