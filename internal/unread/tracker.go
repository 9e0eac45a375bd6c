package unread

import (
	"log/slog"
	"maps"
	"slices"
	"sync"

	"github.com/c-pro/geche"

	"ridechat/internal/models"
)

// Snapshot is a point-in-time copy of the unread state.
type Snapshot struct {
	HasUnread bool
	// Conversations maps conversation id to its unread count.
	Conversations map[string]int
	// Rides lists rides reported unread before their conversation is known.
	Rides []string
}

// Tracker is the process-wide set of conversations with unread messages.
// Counts are kept per conversation; callers that only need presence use
// IsUnread and HasUnread.
type Tracker struct {
	logger *slog.Logger

	mu         sync.Mutex
	counts     geche.Geche[string, int]
	unresolved map[string]struct{}
	listeners  map[int]func(Snapshot)
	nextID     int
}

func NewTracker(logger *slog.Logger) *Tracker {
	if logger == nil {
		logger = slog.Default()
	}
	return &Tracker{
		logger:     logger,
		counts:     geche.NewMapCache[string, int](),
		unresolved: make(map[string]struct{}),
		listeners:  make(map[int]func(Snapshot)),
	}
}

// HandleNotification applies one unread notification. A notification
// with only a ride id raises the global flag until the next Hydrate.
func (t *Tracker) HandleNotification(n models.UnreadNotification) error {
	if err := n.Validate(); err != nil {
		return err
	}
	if n.ConversationID != "" {
		t.Add(n.ConversationID.String())
		return nil
	}

	t.mu.Lock()
	t.unresolved[n.RideID.String()] = struct{}{}
	snap := t.snapshotLocked()
	t.mu.Unlock()

	t.logger.Debug("unread ride without conversation", "ride", n.RideID)
	t.emit(snap)
	return nil
}

// Add records one more unread message for conversationID.
func (t *Tracker) Add(conversationID string) {
	t.mu.Lock()
	n, _ := t.counts.Get(conversationID)
	t.counts.Set(conversationID, n+1)
	snap := t.snapshotLocked()
	t.mu.Unlock()

	t.emit(snap)
}

// MarkRead clears the conversation and any pending ride-only flag for
// rideID. It returns false when there was nothing to clear.
func (t *Tracker) MarkRead(conversationID, rideID string) bool {
	t.mu.Lock()
	changed := false
	if _, err := t.counts.Get(conversationID); err == nil {
		_ = t.counts.Del(conversationID)
		changed = true
	}
	if _, ok := t.unresolved[rideID]; ok && rideID != "" {
		delete(t.unresolved, rideID)
		changed = true
	}
	snap := t.snapshotLocked()
	t.mu.Unlock()

	if changed {
		t.emit(snap)
	}
	return changed
}

func (t *Tracker) IsUnread(conversationID string) bool {
	return t.Count(conversationID) > 0
}

func (t *Tracker) Count(conversationID string) int {
	n, err := t.counts.Get(conversationID)
	if err != nil {
		return 0
	}
	return n
}

func (t *Tracker) HasUnread() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.hasUnreadLocked()
}

func (t *Tracker) Snapshot() Snapshot {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.snapshotLocked()
}

// Hydrate replaces the state with the server's per-conversation flags.
// Pending ride-only flags are resolved by it.
func (t *Tracker) Hydrate(conversations []models.Conversation) {
	t.mu.Lock()
	t.clearLocked()
	for _, c := range conversations {
		if !c.HasUnreadMessages {
			continue
		}
		t.counts.Set(c.ID.String(), max(c.UnreadCount, 1))
	}
	snap := t.snapshotLocked()
	t.mu.Unlock()

	t.logger.Debug("unread state hydrated", "conversations", len(conversations), "unread", len(snap.Conversations))
	t.emit(snap)
}

// Reset forgets everything. Used when the user or session changes.
func (t *Tracker) Reset() {
	t.mu.Lock()
	t.clearLocked()
	snap := t.snapshotLocked()
	t.mu.Unlock()

	t.emit(snap)
}

// OnChange registers fn to receive a snapshot after every change.
// It returns a function removing the listener.
func (t *Tracker) OnChange(fn func(Snapshot)) func() {
	t.mu.Lock()
	defer t.mu.Unlock()

	id := t.nextID
	t.nextID++
	t.listeners[id] = fn

	return func() {
		t.mu.Lock()
		defer t.mu.Unlock()
		delete(t.listeners, id)
	}
}

func (t *Tracker) clearLocked() {
	for id := range t.counts.Snapshot() {
		_ = t.counts.Del(id)
	}
	clear(t.unresolved)
}

func (t *Tracker) hasUnreadLocked() bool {
	if len(t.unresolved) > 0 {
		return true
	}
	for _, n := range t.counts.Snapshot() {
		if n > 0 {
			return true
		}
	}
	return false
}

func (t *Tracker) snapshotLocked() Snapshot {
	return Snapshot{
		HasUnread:     t.hasUnreadLocked(),
		Conversations: maps.Clone(t.counts.Snapshot()),
		Rides:         slices.Sorted(maps.Keys(t.unresolved)),
	}
}

func (t *Tracker) emit(snap Snapshot) {
	t.mu.Lock()
	listeners := slices.Collect(maps.Values(t.listeners))
	t.mu.Unlock()

	for _, fn := range listeners {
		fn(snap)
	}
}
