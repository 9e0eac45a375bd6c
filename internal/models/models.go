package models

import (
	"errors"
	"time"
)

var (
	ErrNotFound            = errors.New("not found")
	ErrEmptyNotification   = errors.New("unread notification carries neither conversationId nor rideId")
	ErrUnsupportedIDFormat = errors.New("id must be a JSON string or number")
)

type MessageType string

const (
	MessageTypeChat  MessageType = "CHAT"
	MessageTypeJoin  MessageType = "JOIN"
	MessageTypeLeave MessageType = "LEAVE"
)

// User is a chat participant as the backend describes it.
type User struct {
	ID       ID     `json:"id"`
	Name     string `json:"name,omitempty"`
	Email    string `json:"email,omitempty"`
	PhotoURL string `json:"photoUrl,omitempty"`
}

// Ride is the subset of ride details the chat needs.
type Ride struct {
	ID          ID     `json:"id"`
	Pickup      string `json:"pickup"`
	Destination string `json:"destination"`
	RideTime    Time   `json:"rideTime,omitempty"`
	Owner       *User  `json:"owner,omitempty"`
}

// ChatMessage is the outbound wire event published to /app destinations.
type ChatMessage struct {
	Type       MessageType `json:"type"`
	Content    string      `json:"content,omitempty"`
	SenderID   string      `json:"senderId"`
	ReceiverID string      `json:"receiverId,omitempty"`
	RideID     string      `json:"rideId,omitempty"`
	Timestamp  string      `json:"timestamp"`
}

// Message is the canonical form of a chat message once it has been
// received, fetched from history, or created locally.
type Message struct {
	ID         string      `json:"id,omitempty"`
	Type       MessageType `json:"type"`
	Content    string      `json:"content"`
	SenderID   string      `json:"senderId"`
	SenderName string      `json:"senderName,omitempty"`
	ReceiverID string      `json:"receiverId,omitempty"`
	RideID     string      `json:"rideId,omitempty"`
	Timestamp  time.Time   `json:"timestamp"`
	Optimistic bool        `json:"isOptimistic,omitempty"`
}

// Wire converts the message into the outbound event shape.
func (m Message) Wire() ChatMessage {
	ts := m.Timestamp
	if ts.IsZero() {
		ts = time.Now()
	}
	return ChatMessage{
		Type:       m.Type,
		Content:    m.Content,
		SenderID:   m.SenderID,
		ReceiverID: m.ReceiverID,
		RideID:     m.RideID,
		Timestamp:  ts.UTC().Format(time.RFC3339Nano),
	}
}

// Conversation pairs a ride with the counterpart user.
// It is a client-side aggregate; hasUnreadMessages is the only field
// the server is authoritative for.
type Conversation struct {
	ID                ID     `json:"id"`
	Ride              Ride   `json:"ride"`
	User              User   `json:"user"`
	LastMessage       string `json:"lastMessage"`
	LastMessageTime   Time   `json:"lastMessageTime"`
	HasUnreadMessages bool   `json:"hasUnreadMessages"`
	UnreadCount       int    `json:"unreadCount,omitempty"`
	IsOwner           bool   `json:"isOwner,omitempty"`
}

// UnreadNotification arrives on /user/queue/unread.
type UnreadNotification struct {
	ConversationID ID `json:"conversationId,omitempty"`
	RideID         ID `json:"rideId,omitempty"`
}

func (n UnreadNotification) Validate() error {
	if n.ConversationID == "" && n.RideID == "" {
		return ErrEmptyNotification
	}
	return nil
}
