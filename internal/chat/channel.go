package chat

import (
	"fmt"
	"log/slog"
	"sync"
	"time"

	"ridechat/internal/models"
	"ridechat/internal/ws"
)

const (
	DestSendMessage = "/app/chat.sendMessage"
	DestJoinRide    = "/app/chat.joinRide"
	DestPrivate     = "/app/chat.private"

	QueuePrivate = "/user/queue/private"
)

// RideTopic is the broadcast destination of one ride's chat.
func RideTopic(rideID string) string {
	return "/topic/ride." + rideID
}

// Transport is the part of ws.Session the channel needs.
type Transport interface {
	Subscribe(destination string, handler func(body []byte)) (ws.Subscription, error)
	Publish(destination string, payload any) bool
}

// Channel keeps at most one ride topic subscription alive and composes
// the outbound chat destinations.
type Channel struct {
	transport Transport
	logger    *slog.Logger
	now       func() time.Time

	mu     sync.Mutex
	rideID string
	sub    ws.Subscription
}

func NewChannel(transport Transport, logger *slog.Logger) *Channel {
	if logger == nil {
		logger = slog.Default()
	}
	return &Channel{
		transport: transport,
		logger:    logger,
		now:       time.Now,
	}
}

// Open replaces the current ride subscription with one for rideID and
// announces selfID on the ride with a JOIN event.
func (c *Channel) Open(rideID, selfID string, handler func(models.Message)) error {
	if rideID == "" {
		return fmt.Errorf("open ride channel: %w", models.ErrNotFound)
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	c.closeLocked()

	topic := RideTopic(rideID)
	sub, err := c.transport.Subscribe(topic, ws.Decoded(c.logger, topic, models.DecodeMessage, func(m models.Message) {
		if m.Type == models.MessageTypeJoin || m.Type == models.MessageTypeLeave {
			return
		}
		handler(m)
	}))
	if err != nil {
		return fmt.Errorf("subscribe %s: %w", topic, err)
	}
	c.rideID = rideID
	c.sub = sub

	if !c.join(rideID, selfID) {
		c.logger.Warn("join announcement not sent", "ride", rideID)
	}
	c.logger.Debug("ride channel open", "ride", rideID)
	return nil
}

// RideID returns the ride whose topic is currently subscribed, if any.
func (c *Channel) RideID() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.rideID
}

func (c *Channel) Close() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.closeLocked()
}

// Unsubscribe detaches the subscription only if it belongs to rideID.
func (c *Channel) Unsubscribe(rideID string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.rideID == rideID {
		c.closeLocked()
	}
}

func (c *Channel) closeLocked() {
	if c.sub != nil {
		c.sub.Unsubscribe()
		c.logger.Debug("ride channel closed", "ride", c.rideID)
	}
	c.sub = nil
	c.rideID = ""
}

// SubscribePrivate subscribes to the user's private queue. The server
// echoes ride messages there as well as direct messages.
func (c *Channel) SubscribePrivate(handler func(models.Message)) (ws.Subscription, error) {
	sub, err := c.transport.Subscribe(QueuePrivate, ws.Decoded(c.logger, QueuePrivate, models.DecodeMessage, handler))
	if err != nil {
		return nil, fmt.Errorf("subscribe %s: %w", QueuePrivate, err)
	}
	return sub, nil
}

func (c *Channel) SendMessage(m models.Message) bool {
	return c.transport.Publish(DestSendMessage, m.Wire())
}

func (c *Channel) SendPrivate(m models.Message) bool {
	return c.transport.Publish(DestPrivate, m.Wire())
}

func (c *Channel) Join(rideID, selfID string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.join(rideID, selfID)
}

func (c *Channel) join(rideID, selfID string) bool {
	return c.transport.Publish(DestJoinRide, models.Message{
		Type:      models.MessageTypeJoin,
		SenderID:  selfID,
		RideID:    rideID,
		Timestamp: c.now(),
	}.Wire())
}
