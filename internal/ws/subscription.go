package ws

import (
	"bytes"
	"log/slog"
	"runtime"
	"strconv"
	"sync"
	"sync/atomic"

	"github.com/google/uuid"
)

// Subscription is a live registration on one destination.
type Subscription interface {
	ID() string
	Destination() string
	// Unsubscribe detaches the handler. A delivery already running on
	// another goroutine finishes before it returns and none starts after.
	// It may be called from the subscription's own handler. Calling it
	// more than once is harmless.
	Unsubscribe()
}

type subscription struct {
	id          string
	destination string
	handler     func([]byte)
	session     *Session
	closed      atomic.Bool

	// mu is held across the closed check and the handler call.
	mu sync.Mutex

	// deliverer is the goroutine running the handler, zero when idle.
	deliverer atomic.Uint64
}

func newSubscription(s *Session, destination string, handler func([]byte)) *subscription {
	return &subscription{
		id:          "sub-" + uuid.NewString(),
		destination: destination,
		handler:     handler,
		session:     s,
	}
}

func (sub *subscription) ID() string          { return sub.id }
func (sub *subscription) Destination() string { return sub.destination }

// deliver runs the handler on the read goroutine gid.
func (sub *subscription) deliver(body []byte, gid uint64) {
	sub.mu.Lock()
	defer sub.mu.Unlock()
	if sub.closed.Load() || sub.handler == nil {
		return
	}
	sub.deliverer.Store(gid)
	defer sub.deliverer.Store(0)
	sub.handler(body)
}

// waitIdle blocks until a delivery in flight on another goroutine is done.
func (sub *subscription) waitIdle() {
	if sub.mu.TryLock() {
		sub.mu.Unlock()
		return
	}
	if gid := sub.deliverer.Load(); gid != 0 && gid == goroutineID() {
		return
	}
	sub.mu.Lock()
	sub.mu.Unlock()
}

func (sub *subscription) Unsubscribe() {
	if sub.closed.Swap(true) {
		return
	}
	sub.waitIdle()

	s := sub.session
	s.mu.Lock()
	_, registered := s.subs[sub.id]
	delete(s.subs, sub.id)
	s.mu.Unlock()

	if !registered {
		return
	}
	if err := s.send(unsubscribeFrame(sub.id)); err != nil {
		s.logger.Debug("unsubscribe frame not sent", "destination", sub.destination, "error", err)
	}
}

// goroutineID reads the current goroutine's id from its stack header,
// "goroutine 17 [running]:".
func goroutineID() uint64 {
	var buf [64]byte
	n := runtime.Stack(buf[:], false)
	field := bytes.TrimPrefix(buf[:n], []byte("goroutine "))
	if i := bytes.IndexByte(field, ' '); i >= 0 {
		field = field[:i]
	}
	id, _ := strconv.ParseUint(string(field), 10, 64)
	return id
}

// Subscriber is the subscribing half of a Session.
type Subscriber interface {
	Subscribe(destination string, handler func(body []byte)) (Subscription, error)
}

// SubscribeJSON subscribes with a typed handler. Payloads that do not
// decode into T are logged and dropped.
func SubscribeJSON[T any](s Subscriber, logger *slog.Logger, destination string, handler func(T)) (Subscription, error) {
	return s.Subscribe(destination, Decoded(logger, destination, JSON[T], handler))
}
