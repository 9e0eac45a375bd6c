package unread

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"maps"
	"slices"
	"sync"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/sethvargo/go-retry"

	"ridechat/internal/models"
	"ridechat/internal/ws"
)

const (
	QueueUnread = "/user/queue/unread"

	DefaultReconnectDelay       = 5 * time.Second
	DefaultMaxReconnectAttempts = 5
)

var ErrNoToken = errors.New("no access token")

type WatcherConfig struct {
	URL                  string
	Path                 string
	HandshakeTimeout     time.Duration
	ReconnectDelay       time.Duration
	MaxReconnectAttempts int

	Dialer ws.Dialer
	Clock  clockwork.Clock
	Logger *slog.Logger
}

// Watcher owns the long-lived private session that feeds the tracker.
// It is independent of whichever ride channel is open.
type Watcher struct {
	cfg     WatcherConfig
	tracker *Tracker
	logger  *slog.Logger

	mu       sync.Mutex
	session  *ws.Session
	sub      ws.Subscription
	handlers map[int]func(models.UnreadNotification)
	nextID   int
}

func NewWatcher(tracker *Tracker, cfg WatcherConfig) *Watcher {
	if cfg.ReconnectDelay <= 0 {
		cfg.ReconnectDelay = DefaultReconnectDelay
	}
	if cfg.MaxReconnectAttempts <= 0 {
		cfg.MaxReconnectAttempts = DefaultMaxReconnectAttempts
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	return &Watcher{
		cfg:      cfg,
		tracker:  tracker,
		logger:   cfg.Logger.With("component", "unread"),
		handlers: make(map[int]func(models.UnreadNotification)),
	}
}

// Start resets the tracker, tears down any previous session and
// subscribes to the unread queue with token. The first connection is
// retried with the configured delay and attempt limit; later losses are
// handled by the session's own reconnection.
func (w *Watcher) Start(ctx context.Context, token string) error {
	if token == "" {
		return ErrNoToken
	}
	w.Stop()
	w.tracker.Reset()

	session := ws.NewSession(ws.Config{
		URL:                  w.cfg.URL,
		Path:                 w.cfg.Path,
		Token:                token,
		HandshakeTimeout:     w.cfg.HandshakeTimeout,
		ReconnectDelay:       w.cfg.ReconnectDelay,
		MaxReconnectAttempts: w.cfg.MaxReconnectAttempts,
		Dialer:               w.cfg.Dialer,
		Clock:                w.cfg.Clock,
		Logger:               w.logger,
	})
	session.OnStateChange(func(state ws.State, err error) {
		if err != nil {
			w.logger.Warn("unread session state", "state", state, "error", err)
			return
		}
		w.logger.Debug("unread session state", "state", state)
	})

	w.mu.Lock()
	w.session = session
	w.mu.Unlock()

	backoff := retry.WithMaxRetries(uint64(w.cfg.MaxReconnectAttempts), retry.NewConstant(w.cfg.ReconnectDelay))
	err := retry.Do(ctx, backoff, func(ctx context.Context) error {
		if err := session.Connect(ctx); err != nil {
			if errors.Is(err, ws.ErrClosed) {
				return err
			}
			w.logger.Warn("unread session connect failed", "error", err)
			return retry.RetryableError(err)
		}
		return nil
	})
	if err != nil {
		session.Disconnect()
		return fmt.Errorf("connect unread session: %w", err)
	}

	sub, err := ws.SubscribeJSON(session, w.logger, QueueUnread, w.handle)
	if err != nil {
		session.Disconnect()
		return err
	}

	w.mu.Lock()
	if w.session != session {
		// Stopped while connecting.
		w.mu.Unlock()
		sub.Unsubscribe()
		session.Disconnect()
		return ws.ErrClosed
	}
	w.sub = sub
	w.mu.Unlock()

	w.logger.Info("watching unread notifications")
	return nil
}

// Stop tears the private session down. It is safe to call repeatedly.
func (w *Watcher) Stop() {
	w.mu.Lock()
	session, sub := w.session, w.sub
	w.session, w.sub = nil, nil
	w.mu.Unlock()

	if sub != nil {
		sub.Unsubscribe()
	}
	if session != nil {
		session.Disconnect()
	}
}

func (w *Watcher) State() ws.State {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.session == nil {
		return ws.StateDisconnected
	}
	return w.session.State()
}

// OnNotification registers an extra consumer of raw notifications. It is
// called after the tracker has been updated.
func (w *Watcher) OnNotification(fn func(models.UnreadNotification)) func() {
	w.mu.Lock()
	defer w.mu.Unlock()

	id := w.nextID
	w.nextID++
	w.handlers[id] = fn

	return func() {
		w.mu.Lock()
		defer w.mu.Unlock()
		delete(w.handlers, id)
	}
}

func (w *Watcher) handle(n models.UnreadNotification) {
	if err := w.tracker.HandleNotification(n); err != nil {
		w.logger.Warn("dropping unread notification", "error", err)
		return
	}

	w.mu.Lock()
	handlers := slices.Collect(maps.Values(w.handlers))
	w.mu.Unlock()

	for _, fn := range handlers {
		fn(n)
	}
}
