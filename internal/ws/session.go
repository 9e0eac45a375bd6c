package ws

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/go-stomp/stomp/v3/frame"
	"github.com/gorilla/websocket"
	"github.com/jonboulle/clockwork"
)

const (
	DefaultPath             = "/ws"
	DefaultHandshakeTimeout = 10 * time.Second
)

var (
	ErrNotConnected = errors.New("not connected")
	ErrClosed       = errors.New("session closed")
	ErrHandshake    = errors.New("stomp handshake rejected")
)

type State int

const (
	StateDisconnected State = iota
	StateConnecting
	StateConnected
)

func (s State) String() string {
	switch s {
	case StateDisconnected:
		return "disconnected"
	case StateConnecting:
		return "connecting"
	case StateConnected:
		return "connected"
	}
	return fmt.Sprintf("state(%d)", int(s))
}

// StateListener is called after every state transition. It runs on the
// goroutine that caused the transition and must not block.
type StateListener func(state State, err error)

type Config struct {
	// URL is the server base URL; http(s) is rewritten to ws(s).
	URL   string
	Path  string
	Token string

	HandshakeTimeout time.Duration

	// MaxReconnectAttempts > 0 enables automatic reconnection with a
	// fixed ReconnectDelay between attempts.
	MaxReconnectAttempts int
	ReconnectDelay       time.Duration

	Dialer Dialer
	Clock  clockwork.Clock
	Logger *slog.Logger
}

// Session owns one STOMP connection to the messaging endpoint.
type Session struct {
	cfg    Config
	dialer Dialer
	clock  clockwork.Clock
	logger *slog.Logger

	mu            sync.RWMutex
	state         State
	lastErr       error
	conn          Conn
	pending       *attempt
	subs          map[string]*subscription
	stopReconnect context.CancelFunc
	listeners     map[int]StateListener
	nextListener  int

	// gorilla/websocket allows a single concurrent writer.
	writeMu sync.Mutex
}

type attempt struct {
	ctx     context.Context
	cancel  context.CancelFunc
	done    chan struct{}
	err     error
	aborted bool
}

func (a *attempt) wait(ctx context.Context) error {
	select {
	case <-a.done:
		return a.err
	case <-ctx.Done():
		return ctx.Err()
	}
}

func NewSession(cfg Config) *Session {
	if cfg.Path == "" {
		cfg.Path = DefaultPath
	}
	if cfg.HandshakeTimeout <= 0 {
		cfg.HandshakeTimeout = DefaultHandshakeTimeout
	}
	if cfg.Dialer == nil {
		cfg.Dialer = NewWebsocketDialer(cfg.HandshakeTimeout)
	}
	if cfg.Clock == nil {
		cfg.Clock = clockwork.NewRealClock()
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}

	return &Session{
		cfg:       cfg,
		dialer:    cfg.Dialer,
		clock:     cfg.Clock,
		logger:    cfg.Logger,
		subs:      make(map[string]*subscription),
		listeners: make(map[int]StateListener),
	}
}

func (s *Session) State() State {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.state
}

func (s *Session) LastError() error {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.lastErr
}

// OnStateChange registers a listener and returns a function removing it.
func (s *Session) OnStateChange(l StateListener) func() {
	s.mu.Lock()
	defer s.mu.Unlock()

	id := s.nextListener
	s.nextListener++
	s.listeners[id] = l

	return func() {
		s.mu.Lock()
		defer s.mu.Unlock()
		delete(s.listeners, id)
	}
}

// Connect establishes the connection. While connected it is a no-op;
// while an attempt is in flight it waits for that attempt instead of
// dialing again.
func (s *Session) Connect(ctx context.Context) error {
	s.mu.Lock()
	if s.state == StateConnected {
		s.mu.Unlock()
		s.logger.Debug("session already connected")
		return nil
	}
	if p := s.pending; p != nil {
		s.mu.Unlock()
		s.logger.Debug("session connect already in progress")
		return p.wait(ctx)
	}
	s.cancelReconnectLocked()
	p := s.beginAttemptLocked(ctx)
	s.mu.Unlock()

	s.notify(StateConnecting, nil)
	conn, err := s.establish(p.ctx)
	return s.finishAttempt(p, conn, err)
}

// Disconnect tears the connection down, aborts a pending attempt and
// cancels automatic reconnection. It is safe to call at any time.
func (s *Session) Disconnect() {
	s.mu.Lock()
	s.cancelReconnectLocked()
	if p := s.pending; p != nil {
		p.aborted = true
		p.cancel()
		s.pending = nil
	}
	conn := s.conn
	s.conn = nil
	changed := s.state != StateDisconnected
	s.state = StateDisconnected
	s.dropSubscriptionsLocked()
	s.mu.Unlock()

	if conn != nil {
		if err := s.write(conn, frame.New(frame.DISCONNECT)); err != nil {
			s.logger.Debug("disconnect frame not sent", "error", err)
		}
		_ = conn.Close()
	}
	if changed {
		s.logger.Info("session disconnected")
		s.notify(StateDisconnected, nil)
	}
}

// Publish sends payload as JSON to destination. It returns false without
// sending anything when the session is not connected.
func (s *Session) Publish(destination string, payload any) bool {
	body, err := json.Marshal(payload)
	if err != nil {
		s.logger.Error("cannot encode payload", "destination", destination, "error", err)
		return false
	}
	if err := s.send(sendFrame(destination, body)); err != nil {
		s.logger.Warn("publish failed", "destination", destination, "error", err)
		return false
	}
	return true
}

// Subscribe registers handler for destination. Messages are delivered
// one at a time, in arrival order, on the session's read goroutine.
func (s *Session) Subscribe(destination string, handler func(body []byte)) (Subscription, error) {
	s.mu.Lock()
	if s.state != StateConnected {
		s.mu.Unlock()
		s.logger.Error("cannot subscribe while not connected", "destination", destination)
		return nil, ErrNotConnected
	}
	sub := newSubscription(s, destination, handler)
	s.subs[sub.id] = sub
	s.mu.Unlock()

	if err := s.send(subscribeFrame(sub.id, destination)); err != nil {
		s.forget(sub)
		s.logger.Error("subscribe failed", "destination", destination, "error", err)
		return nil, err
	}
	s.logger.Debug("subscribed", "destination", destination, "subscription", sub.id)
	return sub, nil
}

func (s *Session) beginAttemptLocked(parent context.Context) *attempt {
	ctx, cancel := context.WithCancel(parent)
	p := &attempt{
		ctx:    ctx,
		cancel: cancel,
		done:   make(chan struct{}),
	}
	s.pending = p
	s.state = StateConnecting
	return p
}

func (s *Session) finishAttempt(p *attempt, conn Conn, err error) error {
	s.mu.Lock()
	if s.pending == p {
		s.pending = nil
	}
	if p.aborted {
		err = ErrClosed
	}

	var resubscribe []*subscription
	if err != nil {
		if conn != nil {
			_ = conn.Close()
		}
		if !p.aborted {
			s.state = StateDisconnected
			s.lastErr = err
		}
	} else {
		s.state = StateConnected
		s.lastErr = nil
		s.conn = conn
		for _, sub := range s.subs {
			resubscribe = append(resubscribe, sub)
		}
		go s.readLoop(conn)
	}
	state, lastErr := s.state, s.lastErr
	p.err = err
	p.cancel()
	close(p.done)
	s.mu.Unlock()

	for _, sub := range resubscribe {
		if werr := s.write(conn, subscribeFrame(sub.id, sub.destination)); werr != nil {
			s.logger.Warn("resubscribe failed", "destination", sub.destination, "error", werr)
		}
	}

	if p.aborted {
		return err
	}
	if err != nil {
		s.logger.Warn("connect failed", "error", err)
	} else {
		s.logger.Info("session connected", "resubscribed", len(resubscribe))
	}
	s.notify(state, lastErr)
	return err
}

func (s *Session) establish(ctx context.Context) (Conn, error) {
	endpoint, err := s.endpoint()
	if err != nil {
		return nil, err
	}

	ctx, cancel := context.WithTimeout(ctx, s.cfg.HandshakeTimeout)
	defer cancel()

	header := http.Header{}
	header.Set(headerAuthorization, "Bearer "+s.cfg.Token)

	conn, err := s.dialer.Dial(ctx, endpoint.String(), header)
	if err != nil {
		return nil, fmt.Errorf("dial messaging endpoint: %w", err)
	}

	// Reads are not context aware; closing the socket unblocks them.
	stop := context.AfterFunc(ctx, func() { _ = conn.Close() })
	err = s.handshake(conn, endpoint.Hostname())
	if !stop() {
		return nil, fmt.Errorf("stomp handshake: %w", ctx.Err())
	}
	if err != nil {
		_ = conn.Close()
		return nil, err
	}
	return conn, nil
}

func (s *Session) handshake(conn Conn, host string) error {
	if err := s.write(conn, connectFrame(host, s.cfg.Token)); err != nil {
		return fmt.Errorf("send connect frame: %w", err)
	}

	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			return fmt.Errorf("read connected frame: %w", err)
		}
		frames, err := decodeFrames(data)
		if err != nil {
			return err
		}
		for _, f := range frames {
			switch f.Command {
			case frame.CONNECTED:
				s.logger.Debug("stomp connected", "version", f.Header.Get(headerVersion))
				return nil
			case frame.ERROR:
				return fmt.Errorf("%w: %s", ErrHandshake, errorDetail(f))
			}
		}
	}
}

func (s *Session) endpoint() (*url.URL, error) {
	u, err := url.Parse(s.cfg.URL)
	if err != nil {
		return nil, fmt.Errorf("invalid server url: %w", err)
	}
	switch u.Scheme {
	case "http", "ws":
		u.Scheme = "ws"
	case "https", "wss":
		u.Scheme = "wss"
	default:
		return nil, fmt.Errorf("unsupported server url scheme %q", u.Scheme)
	}
	u.Path = strings.TrimSuffix(u.Path, "/") + s.cfg.Path

	q := u.Query()
	q.Set("token", s.cfg.Token)
	u.RawQuery = q.Encode()
	return u, nil
}

func (s *Session) readLoop(conn Conn) {
	gid := goroutineID()
	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			s.connectionLost(conn, err)
			return
		}

		frames, err := decodeFrames(data)
		if err != nil {
			s.logger.Warn("malformed frame", "error", err)
		}
		for _, f := range frames {
			switch f.Command {
			case frame.MESSAGE:
				s.dispatch(f, gid)
			case frame.ERROR:
				s.logger.Error("broker error", "detail", errorDetail(f))
			case frame.RECEIPT:
			default:
				s.logger.Debug("ignoring frame", "command", f.Command)
			}
		}
	}
}

func (s *Session) dispatch(f *frame.Frame, gid uint64) {
	id := f.Header.Get(frame.Subscription)

	s.mu.RLock()
	sub := s.subs[id]
	s.mu.RUnlock()

	if sub == nil {
		s.logger.Debug("message for unknown subscription",
			"subscription", id, "destination", f.Header.Get(frame.Destination))
		return
	}
	sub.deliver(f.Body, gid)
}

func (s *Session) connectionLost(conn Conn, cause error) {
	s.mu.Lock()
	if s.conn != conn {
		// Deliberate disconnect.
		s.mu.Unlock()
		return
	}
	s.conn = nil
	s.state = StateDisconnected
	s.lastErr = cause

	s.cancelReconnectLocked()
	reconnect := s.cfg.MaxReconnectAttempts > 0
	if reconnect {
		ctx, cancel := context.WithCancel(context.Background())
		s.stopReconnect = cancel
		go s.reconnectLoop(ctx)
	} else {
		s.dropSubscriptionsLocked()
	}
	s.mu.Unlock()

	_ = conn.Close()
	s.logger.Warn("connection lost", "error", cause, "reconnect", reconnect)
	s.notify(StateDisconnected, cause)
}

func (s *Session) reconnectLoop(ctx context.Context) {
	for n := 1; n <= s.cfg.MaxReconnectAttempts; n++ {
		timer := s.clock.NewTimer(s.cfg.ReconnectDelay)
		select {
		case <-ctx.Done():
			timer.Stop()
			return
		case <-timer.Chan():
		}

		s.mu.Lock()
		if ctx.Err() != nil || s.state != StateDisconnected || s.pending != nil {
			s.mu.Unlock()
			return
		}
		p := s.beginAttemptLocked(ctx)
		s.mu.Unlock()

		s.notify(StateConnecting, nil)
		conn, err := s.establish(p.ctx)
		if err = s.finishAttempt(p, conn, err); err == nil {
			s.logger.Info("reconnected", "attempt", n)
			return
		}
		if ctx.Err() != nil {
			return
		}
		s.logger.Warn("reconnect attempt failed", "attempt", n, "max", s.cfg.MaxReconnectAttempts, "error", err)
	}

	s.mu.Lock()
	if ctx.Err() == nil {
		s.stopReconnect = nil
		s.dropSubscriptionsLocked()
	}
	s.mu.Unlock()
	s.logger.Error("giving up reconnecting", "attempts", s.cfg.MaxReconnectAttempts)
}

func (s *Session) cancelReconnectLocked() {
	if s.stopReconnect != nil {
		s.stopReconnect()
		s.stopReconnect = nil
	}
}

func (s *Session) dropSubscriptionsLocked() {
	for id, sub := range s.subs {
		sub.closed.Store(true)
		delete(s.subs, id)
	}
}

func (s *Session) forget(sub *subscription) {
	sub.closed.Store(true)
	s.mu.Lock()
	delete(s.subs, sub.id)
	s.mu.Unlock()
}

func (s *Session) send(f *frame.Frame) error {
	s.mu.RLock()
	conn, state := s.conn, s.state
	s.mu.RUnlock()

	if conn == nil || state != StateConnected {
		return ErrNotConnected
	}
	return s.write(conn, f)
}

func (s *Session) write(conn Conn, f *frame.Frame) error {
	data, err := encodeFrame(f)
	if err != nil {
		return err
	}
	s.writeMu.Lock()
	defer s.writeMu.Unlock()
	return conn.WriteMessage(websocket.TextMessage, data)
}

func (s *Session) notify(state State, err error) {
	s.mu.RLock()
	listeners := make([]StateListener, 0, len(s.listeners))
	for _, l := range s.listeners {
		listeners = append(listeners, l)
	}
	s.mu.RUnlock()

	for _, l := range listeners {
		l(state, err)
	}
}
