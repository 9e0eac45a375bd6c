// Package wstest runs an in-process STOMP-over-WebSocket broker for tests.
package wstest

import (
	"bytes"
	"context"
	"errors"
	"io"
	"net/http"
	"net/url"
	"sync"
	"time"

	"github.com/go-stomp/stomp/v3/frame"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"
)

// Handshake records what a client presented when connecting.
type Handshake struct {
	Header        http.Header
	Query         url.Values
	Authorization string // from the STOMP CONNECT frame
}

// Sent is a SEND frame received from a client.
type Sent struct {
	Destination string
	Body        []byte
}

// Broker accepts STOMP clients on ServeHTTP. Token, when set, must match
// the bearer presented in the CONNECT frame.
type Broker struct {
	Token string
	// OnSend is called for every SEND frame after it is recorded.
	OnSend func(b *Broker, s Sent)

	upgrader websocket.Upgrader

	mu         sync.Mutex
	clients    map[*client]struct{}
	handshakes []Handshake
	sent       chan Sent
}

type client struct {
	conn    *websocket.Conn
	writeMu sync.Mutex
	mu      sync.Mutex
	subs    map[string]string // subscription id -> destination
}

func NewBroker() *Broker {
	return &Broker{
		clients: make(map[*client]struct{}),
		sent:    make(chan Sent, 64),
	}
}

// Sent returns the stream of SEND frames.
func (b *Broker) Sent() <-chan Sent {
	return b.sent
}

func (b *Broker) Handshakes() []Handshake {
	b.mu.Lock()
	defer b.mu.Unlock()
	return append([]Handshake(nil), b.handshakes...)
}

func (b *Broker) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	conn, err := b.upgrader.Upgrade(w, r, nil)
	if err != nil {
		return
	}
	c := &client{conn: conn, subs: make(map[string]string)}
	defer func() {
		b.mu.Lock()
		delete(b.clients, c)
		b.mu.Unlock()
		_ = conn.Close()
	}()

	hs := Handshake{Header: r.Header.Clone(), Query: r.URL.Query()}
	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			return
		}
		frames, err := decode(data)
		if err != nil {
			return
		}
		for _, f := range frames {
			if !b.handle(c, &hs, f) {
				return
			}
		}
	}
}

func (b *Broker) handle(c *client, hs *Handshake, f *frame.Frame) bool {
	switch f.Command {
	case frame.CONNECT, frame.STOMP:
		hs.Authorization = f.Header.Get("Authorization")
		b.mu.Lock()
		b.handshakes = append(b.handshakes, *hs)
		b.mu.Unlock()

		if b.Token != "" && hs.Authorization != "Bearer "+b.Token {
			_ = c.write(frame.New(frame.ERROR, frame.Message, "invalid token"))
			return false
		}
		b.mu.Lock()
		b.clients[c] = struct{}{}
		b.mu.Unlock()
		return c.write(frame.New(frame.CONNECTED, frame.Version, "1.2")) == nil
	case frame.SUBSCRIBE:
		c.mu.Lock()
		c.subs[f.Header.Get(frame.Id)] = f.Header.Get(frame.Destination)
		c.mu.Unlock()
	case frame.UNSUBSCRIBE:
		c.mu.Lock()
		delete(c.subs, f.Header.Get(frame.Id))
		c.mu.Unlock()
	case frame.SEND:
		s := Sent{Destination: f.Header.Get(frame.Destination), Body: f.Body}
		select {
		case b.sent <- s:
		default:
		}
		if b.OnSend != nil {
			b.OnSend(b, s)
		}
	case frame.DISCONNECT:
		return false
	}
	return true
}

// Publish delivers body to every subscription on destination and returns
// the number of deliveries.
func (b *Broker) Publish(destination string, body []byte) int {
	n := 0
	for _, c := range b.snapshot() {
		c.mu.Lock()
		var ids []string
		for id, dest := range c.subs {
			if dest == destination {
				ids = append(ids, id)
			}
		}
		c.mu.Unlock()

		for _, id := range ids {
			f := frame.New(frame.MESSAGE,
				frame.Subscription, id,
				frame.Destination, destination,
				frame.MessageId, uuid.NewString(),
				frame.ContentType, "application/json",
			)
			f.Body = body
			if c.write(f) == nil {
				n++
			}
		}
	}
	return n
}

// Subscribed reports whether any client subscribes to destination.
func (b *Broker) Subscribed(destination string) bool {
	for _, c := range b.snapshot() {
		c.mu.Lock()
		for _, dest := range c.subs {
			if dest == destination {
				c.mu.Unlock()
				return true
			}
		}
		c.mu.Unlock()
	}
	return false
}

// WaitSubscribed blocks until a client subscribes to destination.
func (b *Broker) WaitSubscribed(ctx context.Context, destination string) error {
	return poll(ctx, func() bool { return b.Subscribed(destination) })
}

// WaitUnsubscribed blocks until no client subscribes to destination.
func (b *Broker) WaitUnsubscribed(ctx context.Context, destination string) error {
	return poll(ctx, func() bool { return !b.Subscribed(destination) })
}

// WaitClients blocks until exactly n clients are connected.
func (b *Broker) WaitClients(ctx context.Context, n int) error {
	return poll(ctx, func() bool { return len(b.snapshot()) == n })
}

// DropAll closes every client socket without a DISCONNECT.
func (b *Broker) DropAll() {
	for _, c := range b.snapshot() {
		_ = c.conn.Close()
	}
}

func (b *Broker) snapshot() []*client {
	b.mu.Lock()
	defer b.mu.Unlock()
	clients := make([]*client, 0, len(b.clients))
	for c := range b.clients {
		clients = append(clients, c)
	}
	return clients
}

func (c *client) write(f *frame.Frame) error {
	var buf bytes.Buffer
	if err := frame.NewWriter(&buf).Write(f); err != nil {
		return err
	}
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	return c.conn.WriteMessage(websocket.TextMessage, buf.Bytes())
}

func decode(data []byte) ([]*frame.Frame, error) {
	r := frame.NewReader(bytes.NewReader(data))
	var frames []*frame.Frame
	for {
		f, err := r.Read()
		if errors.Is(err, io.EOF) {
			return frames, nil
		}
		if err != nil {
			return frames, err
		}
		if f != nil {
			frames = append(frames, f)
		}
	}
}

func poll(ctx context.Context, cond func() bool) error {
	ticker := time.NewTicker(5 * time.Millisecond)
	defer ticker.Stop()
	for !cond() {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
		}
	}
	return nil
}
