package chatview

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"slices"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/jonboulle/clockwork"
	"github.com/sethvargo/go-retry"

	"ridechat/internal/api"
	"ridechat/internal/auth"
	"ridechat/internal/chat"
	"ridechat/internal/content"
	"ridechat/internal/models"
	"ridechat/internal/unread"
	"ridechat/internal/ws"
)

const (
	DefaultRetryDelay = 3 * time.Second
	DefaultMaxRetries = 5

	eventBuffer = 64
)

var (
	ErrEmptyMessage   = errors.New("message is empty")
	ErrNoConversation = errors.New("no conversation selected")
	ErrNotConnected   = errors.New("not connected to chat")
	ErrSelfChat       = errors.New("cannot send a message to yourself")
	ErrClosed         = errors.New("chat view closed")
)

// Session is the transport the controller drives; *ws.Session implements it.
type Session interface {
	chat.Transport
	Connect(ctx context.Context) error
	Disconnect()
	State() ws.State
	LastError() error
	OnStateChange(l ws.StateListener) func()
}

// API is the REST collaborator; *api.Client implements it.
type API interface {
	Conversations(ctx context.Context) ([]models.Conversation, error)
	RideHistory(ctx context.Context, rideID string) ([]models.Message, error)
	MarkRead(ctx context.Context, rideID string) error
	Ride(ctx context.Context, rideID string) (models.Ride, error)
}

// Archive keeps what was fetched for offline reading; *storage.BboltStorage
// implements it.
type Archive interface {
	UpsertConversations(conversations []models.Conversation) error
	ReplaceMessages(rideID string, messages []models.Message) error
	AppendMessage(message models.Message) error
}

type Config struct {
	Identity auth.Identity
	Session  Session
	API      API
	Tracker  *unread.Tracker
	Archive  Archive

	RetryDelay time.Duration
	MaxRetries int

	// RefreshInterval reloads the conversation list periodically so
	// unread flags converge with the server. Zero disables it.
	RefreshInterval time.Duration

	Clock  clockwork.Clock
	Logger *slog.Logger

	// Callbacks run on the controller goroutine and must not block.
	OnMessage func(models.Message)
	OnNotice  func(Notice)
	OnStatus  func(Status)
}

// Controller owns the state of one chat screen. All of it is confined to
// the goroutine running Run; public methods post work onto it.
type Controller struct {
	cfg     Config
	self    string
	session Session
	api     API
	tracker *unread.Tracker
	archive Archive
	channel *chat.Channel
	clock   clockwork.Clock
	logger  *slog.Logger

	events       chan func()
	stateChanged chan struct{}
	quit         chan struct{}
	quitOnce     sync.Once
	done         chan struct{}
	wg           sync.WaitGroup

	// Owned by the loop goroutine.
	ctx            context.Context
	conversations  []models.Conversation
	selected       *models.Conversation
	reconciler     *chat.Reconciler
	historyReady   bool
	rideContext    bool
	selectionGen   uint64
	channelGen     uint64
	listGen        uint64
	connected      bool
	channelStop    chan struct{}
	privateSub     ws.Subscription
	privateStop    chan struct{}
	refresh        clockwork.Ticker
	stopReconnect  context.CancelFunc
	reconnectToken uint64
	status         Status
}

func New(cfg Config) *Controller {
	if cfg.RetryDelay <= 0 {
		cfg.RetryDelay = DefaultRetryDelay
	}
	if cfg.MaxRetries < 0 {
		cfg.MaxRetries = 0
	}
	if cfg.RefreshInterval < 0 {
		cfg.RefreshInterval = 0
	}
	if cfg.Clock == nil {
		cfg.Clock = clockwork.NewRealClock()
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	if cfg.Tracker == nil {
		cfg.Tracker = unread.NewTracker(cfg.Logger)
	}
	logger := cfg.Logger.With("component", "chatview")

	return &Controller{
		cfg:          cfg,
		self:         cfg.Identity.UserID,
		session:      cfg.Session,
		api:          cfg.API,
		tracker:      cfg.Tracker,
		archive:      cfg.Archive,
		channel:      chat.NewChannel(cfg.Session, logger),
		clock:        cfg.Clock,
		logger:       logger,
		events:       make(chan func(), eventBuffer),
		stateChanged: make(chan struct{}, 1),
		quit:         make(chan struct{}),
		done:         make(chan struct{}),
		reconciler:   chat.NewReconciler(chat.ReconcilerConfig{SelfID: cfg.Identity.UserID, Clock: cfg.Clock}),
	}
}

// Run connects and processes events until ctx is done or Close is called.
// It returns an error only when the credentials are unusable.
func (c *Controller) Run(ctx context.Context) error {
	ctx, cancel := context.WithCancel(ctx)
	c.ctx = ctx
	defer func() {
		cancel()
		c.wg.Wait()
	}()
	defer close(c.done)

	if err := c.cfg.Identity.Valid(c.clock.Now()); err != nil {
		c.notice(NoticeError, "Please sign in again", err)
		return err
	}

	removeListener := c.session.OnStateChange(func(ws.State, error) {
		select {
		case c.stateChanged <- struct{}{}:
		default:
		}
	})
	defer removeListener()

	var refresh <-chan time.Time
	if c.cfg.RefreshInterval > 0 {
		c.refresh = c.clock.NewTicker(c.cfg.RefreshInterval)
		refresh = c.refresh.Chan()
	}

	c.connect()

	for {
		select {
		case <-ctx.Done():
			c.teardown()
			return nil
		case <-c.quit:
			c.teardown()
			return nil
		case fn := <-c.events:
			fn()
		case <-c.stateChanged:
			c.onStateChanged()
		case <-refresh:
			c.resync()
		}
	}
}

// Close stops Run. It is safe to call more than once.
func (c *Controller) Close() {
	c.quitOnce.Do(func() { close(c.quit) })
}

// Done is closed once Run has returned.
func (c *Controller) Done() <-chan struct{} {
	return c.done
}

// Select opens conversation: it is marked read, its history replaces the
// message list and its ride channel is subscribed.
func (c *Controller) Select(conversation models.Conversation) error {
	return c.post(func() { c.selectConversation(conversation) })
}

// SelectByID selects a conversation from the loaded list.
func (c *Controller) SelectByID(conversationID string) error {
	return c.call(func() error {
		i := c.indexOf(conversationID)
		if i < 0 {
			return fmt.Errorf("conversation %s: %w", conversationID, models.ErrNotFound)
		}
		c.selectConversation(c.conversations[i])
		return nil
	})
}

// OpenRide starts a chat about rideID with its owner, bypassing the
// conversation list. Ride details are filled in when they arrive.
func (c *Controller) OpenRide(rideID string, owner models.User) error {
	if err := content.ValidateID(rideID); err != nil {
		return fmt.Errorf("ride %q: %w", rideID, err)
	}
	return c.post(func() { c.openRide(rideID, owner) })
}

// Send publishes content to the selected conversation and shows it at
// once as a pending message.
func (c *Controller) Send(text string) error {
	return c.call(func() error {
		err := c.send(text)
		if err != nil {
			c.notice(NoticeError, sendFailureText(err), err)
		}
		return err
	})
}

// SendPrivate sends a direct message outside any ride.
func (c *Controller) SendPrivate(receiverID, text string) error {
	return c.call(func() error {
		err := c.sendPrivate(receiverID, text)
		if err != nil {
			c.notice(NoticeError, sendFailureText(err), err)
		}
		return err
	})
}

// LoadConversations refreshes the conversation list and leaves ride
// context navigation.
func (c *Controller) LoadConversations() error {
	return c.post(func() {
		c.rideContext = false
		c.loadConversations()
	})
}

// Resync reloads the conversation list to rebuild the unread state, unless
// a ride context conversation is open.
func (c *Controller) Resync() error {
	return c.post(c.resync)
}

func (c *Controller) MarkRead(conversationID string) error {
	return c.call(func() error {
		i := c.indexOf(conversationID)
		if i < 0 {
			return fmt.Errorf("conversation %s: %w", conversationID, models.ErrNotFound)
		}
		c.markRead(c.conversations[i])
		return nil
	})
}

// HandleUnread reacts to an unread notification already applied to the
// tracker. Notifications about the open conversation are read at once.
func (c *Controller) HandleUnread(n models.UnreadNotification) {
	_ = c.post(func() { c.onUnread(n) })
}

// View returns a snapshot of the screen state.
func (c *Controller) View() (View, error) {
	var v View
	err := c.call(func() error {
		v = c.snapshot()
		return nil
	})
	return v, err
}

func (c *Controller) post(fn func()) error {
	select {
	case <-c.done:
		return ErrClosed
	default:
	}
	select {
	case c.events <- fn:
		return nil
	case <-c.done:
		return ErrClosed
	}
}

func (c *Controller) call(fn func() error) error {
	result := make(chan error, 1)
	if err := c.post(func() { result <- fn() }); err != nil {
		return err
	}
	select {
	case err := <-result:
		return err
	case <-c.done:
		return ErrClosed
	}
}

// postUntil posts fn from a subscription handler, giving up once stop is
// closed so an Unsubscribe on the loop cannot wait on a full queue.
func (c *Controller) postUntil(stop <-chan struct{}, fn func()) {
	select {
	case c.events <- fn:
	case <-stop:
	case <-c.done:
	}
}

// async runs fn off the loop and posts its completion back.
func (c *Controller) async(fn func(ctx context.Context) func()) {
	ctx := c.ctx
	c.wg.Add(1)
	go func() {
		defer c.wg.Done()
		if then := fn(ctx); then != nil {
			_ = c.post(then)
		}
	}()
}

func (c *Controller) connect() {
	c.setStatus(ws.StateConnecting, false, nil)
	c.async(func(ctx context.Context) func() {
		err := c.session.Connect(ctx)
		return func() { c.connectFinished(err) }
	})
}

func (c *Controller) connectFinished(err error) {
	if err != nil {
		c.logger.Warn("chat connect failed", "error", err)
		c.setStatus(ws.StateDisconnected, c.cfg.MaxRetries > 0, err)
		c.scheduleReconnect()
		return
	}
	c.onConnected()
}

func (c *Controller) onConnected() {
	if c.session.State() != ws.StateConnected {
		c.connectionLost(c.session.LastError())
		return
	}
	c.cancelReconnect()
	c.connected = true
	c.setStatus(ws.StateConnected, false, nil)
	c.logger.Info("chat connected", "user", c.self)

	c.closePrivate()
	stop := make(chan struct{})
	sub, err := c.channel.SubscribePrivate(func(m models.Message) {
		c.postUntil(stop, func() { c.onPrivate(m) })
	})
	if err != nil {
		c.logger.Error("private queue subscription failed", "error", err)
		close(stop)
	} else {
		c.privateSub = sub
		c.privateStop = stop
	}

	if !c.rideContext {
		c.loadConversations()
	}
	if c.selected != nil && c.historyReady {
		c.openChannel()
	}
}

func (c *Controller) onStateChanged() {
	state := c.session.State()
	if c.connected && state == ws.StateDisconnected {
		c.connectionLost(c.session.LastError())
	}
}

func (c *Controller) connectionLost(cause error) {
	c.connected = false
	c.closePrivate()
	c.closeChannel()
	c.logger.Warn("chat connection lost", "error", cause)
	c.setStatus(ws.StateDisconnected, c.cfg.MaxRetries > 0, cause)
	c.scheduleReconnect()
}

// scheduleReconnect waits RetryDelay, then tries up to MaxRetries times
// with the same delay in between.
func (c *Controller) scheduleReconnect() {
	if c.stopReconnect != nil || c.cfg.MaxRetries == 0 {
		return
	}
	ctx, cancel := context.WithCancel(c.ctx)
	c.stopReconnect = cancel
	c.reconnectToken++
	token := c.reconnectToken

	delay, attempts := c.cfg.RetryDelay, c.cfg.MaxRetries
	c.async(func(_ context.Context) func() {
		select {
		case <-ctx.Done():
			return nil
		case <-c.clock.After(delay):
		}

		attempt := 0
		backoff := retry.WithMaxRetries(uint64(attempts-1), retry.NewConstant(delay))
		err := retry.Do(ctx, backoff, func(ctx context.Context) error {
			attempt++
			c.logger.Info("reconnecting chat", "attempt", attempt, "max", attempts)
			if err := c.session.Connect(ctx); err != nil {
				return retry.RetryableError(err)
			}
			return nil
		})
		if ctx.Err() != nil {
			return nil
		}
		return func() { c.reconnectFinished(token, err) }
	})
}

func (c *Controller) reconnectFinished(token uint64, err error) {
	if token != c.reconnectToken {
		return
	}
	c.cancelReconnect()
	if err != nil {
		c.setStatus(ws.StateDisconnected, false, err)
		c.notice(NoticeError, "Could not reconnect to chat", err)
		return
	}
	c.onConnected()
}

func (c *Controller) cancelReconnect() {
	if c.stopReconnect != nil {
		c.stopReconnect()
		c.stopReconnect = nil
	}
}

func (c *Controller) teardown() {
	c.cancelReconnect()
	if c.refresh != nil {
		c.refresh.Stop()
	}
	c.closeChannel()
	c.closePrivate()
	c.session.Disconnect()
	c.connected = false
	c.logger.Info("chat view closed")
}

func (c *Controller) selectConversation(conv models.Conversation) {
	if c.selected != nil && c.selected.ID == conv.ID && c.historyReady {
		return
	}
	if i := c.indexOf(conv.ID.String()); i >= 0 {
		conv = c.conversations[i]
	}

	c.closeChannel()
	c.selectionGen++
	gen := c.selectionGen
	rideID := conv.Ride.ID.String()

	c.selected = &conv
	c.historyReady = false
	c.reconciler.Reset()
	c.reconciler.SetRide(rideID)
	c.logger.Debug("conversation selected", "conversation", conv.ID, "ride", rideID)

	c.markRead(conv)

	c.async(func(ctx context.Context) func() {
		history, err := c.api.RideHistory(ctx, rideID)
		return func() { c.historyLoaded(gen, rideID, history, err) }
	})
}

func (c *Controller) historyLoaded(gen uint64, rideID string, history []models.Message, err error) {
	if gen != c.selectionGen {
		c.logger.Debug("discarding stale history", "ride", rideID)
		return
	}
	if err != nil {
		c.requestFailed("Could not load messages", err)
		history = nil
	}
	c.reconciler.Replace(history)
	c.historyReady = true

	if err == nil && c.archive != nil {
		if aerr := c.archive.ReplaceMessages(rideID, c.reconciler.Messages()); aerr != nil {
			c.logger.Warn("archiving history failed", "ride", rideID, "error", aerr)
		}
	}
	if c.connected {
		c.openChannel()
	}
}

func (c *Controller) openChannel() {
	if c.selected == nil {
		return
	}
	c.closeChannel()
	gen := c.channelGen
	stop := make(chan struct{})
	c.channelStop = stop
	rideID := c.selected.Ride.ID.String()

	err := c.channel.Open(rideID, c.self, func(m models.Message) {
		if m.RideID == "" {
			m.RideID = rideID
		}
		c.postUntil(stop, func() {
			if gen != c.channelGen || m.RideID != c.reconciler.RideID() {
				c.logger.Debug("discarding message for a closed ride channel", "ride", m.RideID)
				return
			}
			c.ingest(m)
		})
	})
	if err != nil {
		c.logger.Error("opening ride channel failed", "ride", rideID, "error", err)
	}
}

// closeChannel drops the ride subscription. Events it already queued
// carry an older generation and are discarded.
func (c *Controller) closeChannel() {
	c.channelGen++
	if c.channelStop != nil {
		close(c.channelStop)
		c.channelStop = nil
	}
	c.channel.Close()
}

func (c *Controller) closePrivate() {
	if c.privateStop != nil {
		close(c.privateStop)
		c.privateStop = nil
	}
	if c.privateSub != nil {
		c.privateSub.Unsubscribe()
		c.privateSub = nil
	}
}

func (c *Controller) openRide(rideID string, owner models.User) {
	c.rideContext = true
	conv := models.Conversation{
		ID:      models.ID(uuid.NewString()),
		Ride:    models.Ride{ID: models.ID(rideID)},
		User:    owner,
		IsOwner: owner.ID.String() == c.self,
	}
	c.listGen++
	c.conversations = []models.Conversation{conv}
	c.selectConversation(conv)

	gen := c.selectionGen
	c.async(func(ctx context.Context) func() {
		ride, err := c.api.Ride(ctx, rideID)
		return func() { c.rideLoaded(gen, ride, err) }
	})
}

func (c *Controller) rideLoaded(gen uint64, ride models.Ride, err error) {
	if gen != c.selectionGen || c.selected == nil {
		return
	}
	if err != nil {
		c.logger.Warn("ride details unavailable", "ride", c.selected.Ride.ID, "error", err)
		return
	}
	c.selected.Ride.Pickup = ride.Pickup
	c.selected.Ride.Destination = ride.Destination
	c.selected.Ride.RideTime = ride.RideTime
	if c.selected.User.ID == "" && ride.Owner != nil {
		c.selected.User = *ride.Owner
		c.selected.IsOwner = ride.Owner.ID.String() == c.self
	}
	if c.selected.User.Name == "" && ride.Owner != nil && ride.Owner.ID == c.selected.User.ID {
		c.selected.User.Name = ride.Owner.Name
	}
	c.syncSelected()
}

func (c *Controller) send(text string) error {
	text = strings.TrimSpace(text)
	if text == "" {
		return ErrEmptyMessage
	}
	if c.selected == nil {
		return ErrNoConversation
	}
	receiver := c.selected.User.ID.String()
	if receiver == c.self {
		return ErrSelfChat
	}
	if !c.connected || c.session.State() != ws.StateConnected {
		return ErrNotConnected
	}

	rideID := c.selected.Ride.ID.String()
	msg := models.Message{
		Type:       models.MessageTypeChat,
		Content:    text,
		SenderID:   c.self,
		ReceiverID: receiver,
		RideID:     rideID,
		Timestamp:  c.clock.Now(),
	}
	if !c.channel.SendMessage(msg) {
		return ErrNotConnected
	}

	pending := c.reconciler.AddOptimistic(text, receiver, rideID)
	if c.cfg.OnMessage != nil {
		c.cfg.OnMessage(pending)
	}
	return nil
}

func (c *Controller) sendPrivate(receiverID, text string) error {
	text = strings.TrimSpace(text)
	if text == "" {
		return ErrEmptyMessage
	}
	if receiverID == "" {
		return ErrNoConversation
	}
	if receiverID == c.self {
		return ErrSelfChat
	}
	if !c.connected || c.session.State() != ws.StateConnected {
		return ErrNotConnected
	}
	msg := models.Message{
		Type:       models.MessageTypeChat,
		Content:    text,
		SenderID:   c.self,
		ReceiverID: receiverID,
		Timestamp:  c.clock.Now(),
	}
	if !c.channel.SendPrivate(msg) {
		return ErrNotConnected
	}
	c.notice(NoticeInfo, "Direct message sent", nil)
	return nil
}

// ingest applies a message for the open ride.
func (c *Controller) ingest(m models.Message) {
	out := c.reconciler.Ingest(m)
	if !out.Appended {
		return
	}
	msg := out.Message

	if c.archive != nil && msg.RideID != "" {
		if err := c.archive.AppendMessage(msg); err != nil {
			c.logger.Warn("archiving message failed", "ride", msg.RideID, "error", err)
		}
	}
	if out.UpdatesConversation && c.selected != nil {
		c.selected.LastMessage = msg.Content
		c.selected.LastMessageTime = models.Time{Time: msg.Timestamp}
		c.syncSelected()
	}
	if c.cfg.OnMessage != nil {
		c.cfg.OnMessage(msg)
	}
}

// onPrivate handles the private queue, which carries direct messages and
// copies of ride messages addressed to the user.
func (c *Controller) onPrivate(m models.Message) {
	if c.selected != nil && m.RideID != "" && m.RideID == c.selected.Ride.ID.String() {
		c.ingest(m)
		return
	}
	if m.Type != "" && m.Type != models.MessageTypeChat {
		return
	}

	for i := range c.conversations {
		conv := &c.conversations[i]
		if m.RideID == "" || conv.Ride.ID.String() != m.RideID {
			continue
		}
		conv.LastMessage = m.Content
		if !m.Timestamp.IsZero() {
			conv.LastMessageTime = models.Time{Time: m.Timestamp}
		}
	}
	if m.SenderID != c.self {
		from := m.SenderName
		if from == "" {
			from = "user " + m.SenderID
		}
		c.notice(NoticeInfo, "New message from "+content.Sanitize(from), nil)
	}
}

func (c *Controller) onUnread(n models.UnreadNotification) {
	if sel := c.selected; sel != nil {
		if n.ConversationID == sel.ID || (n.ConversationID == "" && n.RideID == sel.Ride.ID) {
			c.markRead(*sel)
			return
		}
	}
	for i := range c.conversations {
		conv := &c.conversations[i]
		if conv.ID == n.ConversationID || (n.ConversationID == "" && conv.Ride.ID == n.RideID) {
			conv.HasUnreadMessages = true
			conv.UnreadCount = c.tracker.Count(conv.ID.String())
		}
	}
}

// markRead clears the flag locally and tells the server. A server failure
// is only logged; the local flag stays cleared.
func (c *Controller) markRead(conv models.Conversation) {
	rideID := conv.Ride.ID.String()
	c.tracker.MarkRead(conv.ID.String(), rideID)
	if i := c.indexOf(conv.ID.String()); i >= 0 {
		c.conversations[i].HasUnreadMessages = false
		c.conversations[i].UnreadCount = 0
	}
	if c.selected != nil && c.selected.ID == conv.ID {
		c.selected.HasUnreadMessages = false
		c.selected.UnreadCount = 0
	}
	if rideID == "" {
		return
	}
	c.async(func(ctx context.Context) func() {
		if err := c.api.MarkRead(ctx, rideID); err != nil && ctx.Err() == nil {
			c.logger.Warn("mark read failed", "ride", rideID, "error", err)
		}
		return nil
	})
}

func (c *Controller) resync() {
	if !c.rideContext {
		c.loadConversations()
	}
}

func (c *Controller) loadConversations() {
	c.listGen++
	gen := c.listGen
	c.async(func(ctx context.Context) func() {
		conversations, err := c.api.Conversations(ctx)
		return func() { c.conversationsLoaded(gen, conversations, err) }
	})
}

func (c *Controller) conversationsLoaded(gen uint64, conversations []models.Conversation, err error) {
	if gen != c.listGen || c.rideContext {
		c.logger.Debug("discarding stale conversation list")
		return
	}
	if err != nil {
		c.requestFailed("Could not load conversations", err)
		return
	}

	c.tracker.Hydrate(conversations)
	c.conversations = conversations
	for i := range c.conversations {
		c.conversations[i].UnreadCount = c.tracker.Count(c.conversations[i].ID.String())
	}

	if c.selected != nil {
		if i := c.indexOf(c.selected.ID.String()); i >= 0 {
			fresh := c.conversations[i]
			if fresh.HasUnreadMessages {
				c.markRead(fresh)
				fresh = c.conversations[i]
			}
			c.selected = &fresh
		}
	}

	if c.archive != nil {
		if aerr := c.archive.UpsertConversations(conversations); aerr != nil {
			c.logger.Warn("archiving conversations failed", "error", aerr)
		}
	}
	c.logger.Debug("conversations loaded", "count", len(conversations))
}

// syncSelected copies the selected conversation back into the list.
func (c *Controller) syncSelected() {
	if c.selected == nil {
		return
	}
	if i := c.indexOf(c.selected.ID.String()); i >= 0 {
		c.conversations[i] = *c.selected
	}
}

func (c *Controller) indexOf(conversationID string) int {
	return slices.IndexFunc(c.conversations, func(conv models.Conversation) bool {
		return conv.ID.String() == conversationID
	})
}

func (c *Controller) snapshot() View {
	v := View{
		Status:        c.status,
		Conversations: slices.Clone(c.conversations),
		Messages:      c.reconciler.Messages(),
		HasUnread:     c.tracker.HasUnread(),
		RideContext:   c.rideContext,
	}
	if c.selected != nil {
		sel := *c.selected
		v.Selected = &sel
	}
	return v
}

func (c *Controller) setStatus(state ws.State, reconnecting bool, err error) {
	next := Status{State: state, Reconnecting: reconnecting, Err: err}
	if next.State == c.status.State && next.Reconnecting == c.status.Reconnecting && next.Err == c.status.Err {
		return
	}
	c.status = next
	if c.cfg.OnStatus != nil {
		c.cfg.OnStatus(next)
	}
}

func (c *Controller) notice(level NoticeLevel, text string, err error) {
	n := Notice{Level: level, Text: text, Err: err, Time: c.clock.Now()}
	if level == NoticeError {
		c.logger.Warn(text, "error", err)
	}
	if c.cfg.OnNotice != nil {
		c.cfg.OnNotice(n)
	}
}

// requestFailed reports a failed REST call. A rejected token asks the user
// to sign in again instead.
func (c *Controller) requestFailed(text string, err error) {
	if api.IsStatus(err, http.StatusUnauthorized) {
		text = "Please sign in again"
	}
	c.notice(NoticeError, text, err)
}

func sendFailureText(err error) string {
	switch {
	case errors.Is(err, ErrEmptyMessage):
		return "Type a message first"
	case errors.Is(err, ErrNoConversation):
		return "Pick a conversation first"
	case errors.Is(err, ErrSelfChat):
		return "You cannot message yourself"
	case errors.Is(err, ErrNotConnected):
		return "Not connected to chat. Please wait for the connection"
	}
	return "Message not sent"
}
