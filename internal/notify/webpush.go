package notify

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"

	"github.com/SherClockHolmes/webpush-go"

	"ridechat/internal/models"
)

const (
	defaultTTL   = 60
	defaultQueue = 16
)

type Config struct {
	Endpoint        string
	P256dh          string
	Auth            string
	VAPIDPublicKey  string
	VAPIDPrivateKey string
	Subscriber      string

	HTTPClient *http.Client
	Logger     *slog.Logger
}

// Payload is the JSON body delivered to the push endpoint.
type Payload struct {
	Title          string `json:"title"`
	Body           string `json:"body"`
	ConversationID string `json:"conversationId,omitempty"`
	RideID         string `json:"rideId,omitempty"`
}

// Forwarder relays unread notifications to one web push subscription so
// a browser or phone learns about messages while the terminal is idle.
type Forwarder struct {
	subscription *webpush.Subscription
	options      *webpush.Options
	queue        chan models.UnreadNotification
	logger       *slog.Logger
}

func NewForwarder(cfg Config) *Forwarder {
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	opts := &webpush.Options{
		Subscriber:      cfg.Subscriber,
		VAPIDPublicKey:  cfg.VAPIDPublicKey,
		VAPIDPrivateKey: cfg.VAPIDPrivateKey,
		TTL:             defaultTTL,
		Urgency:         webpush.UrgencyNormal,
		Topic:           "unread",
	}
	if cfg.HTTPClient != nil {
		opts.HTTPClient = cfg.HTTPClient
	}
	return &Forwarder{
		subscription: &webpush.Subscription{
			Endpoint: cfg.Endpoint,
			Keys: webpush.Keys{
				Auth:   cfg.Auth,
				P256dh: cfg.P256dh,
			},
		},
		options: opts,
		queue:   make(chan models.UnreadNotification, defaultQueue),
		logger:  cfg.Logger.With("component", "webpush"),
	}
}

// Enqueue schedules n for delivery without blocking. When the queue is
// full the notification is dropped; the next one carries the same news.
func (f *Forwarder) Enqueue(n models.UnreadNotification) {
	select {
	case f.queue <- n:
	default:
		f.logger.Warn("push queue full, dropping notification", "conversation", n.ConversationID, "ride", n.RideID)
	}
}

// Run delivers queued notifications until ctx is done.
func (f *Forwarder) Run(ctx context.Context) error {
	for {
		select {
		case <-ctx.Done():
			return nil
		case n := <-f.queue:
			if err := f.Send(ctx, n); err != nil {
				f.logger.Error("push delivery failed", "error", err)
			}
		}
	}
}

// Send delivers one notification synchronously.
func (f *Forwarder) Send(ctx context.Context, n models.UnreadNotification) error {
	payload := Payload{
		Title:          "New ride chat message",
		Body:           "You have unread messages",
		ConversationID: n.ConversationID.String(),
		RideID:         n.RideID.String(),
	}
	if n.RideID != "" {
		payload.Body = fmt.Sprintf("You have unread messages about ride %s", n.RideID)
	}
	body, err := json.Marshal(payload)
	if err != nil {
		return err
	}

	resp, err := webpush.SendNotificationWithContext(ctx, body, f.subscription, f.options)
	if err != nil {
		return fmt.Errorf("send push: %w", err)
	}
	defer resp.Body.Close()
	_, _ = io.Copy(io.Discard, resp.Body)

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return fmt.Errorf("push endpoint returned status %d", resp.StatusCode)
	}
	f.logger.Debug("push delivered", "conversation", n.ConversationID, "ride", n.RideID)
	return nil
}
