package models

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strconv"
	"time"
)

// ID is an opaque identifier. The backend emits numeric ids for rides,
// users and messages while clients send strings, so both are accepted.
type ID string

func (id ID) String() string {
	return string(id)
}

func (id *ID) UnmarshalJSON(data []byte) error {
	data = bytes.TrimSpace(data)
	switch {
	case len(data) == 0 || bytes.Equal(data, []byte("null")):
		*id = ""
		return nil
	case data[0] == '"':
		var s string
		if err := json.Unmarshal(data, &s); err != nil {
			return err
		}
		*id = ID(s)
		return nil
	}

	var n json.Number
	if err := json.Unmarshal(data, &n); err != nil {
		return fmt.Errorf("%w: %s", ErrUnsupportedIDFormat, data)
	}
	*id = ID(n.String())
	return nil
}

// Time accepts RFC 3339 timestamps, zone-less local date-times and
// epoch milliseconds.
type Time struct {
	time.Time
}

var timeLayouts = []string{
	time.RFC3339Nano,
	"2006-01-02T15:04:05.999999999",
	"2006-01-02 15:04:05",
}

// ParseTime parses a timestamp in any of the formats the backend and
// the clients emit. Zone-less values are taken as local time.
func ParseTime(s string) (time.Time, error) {
	var lastErr error
	for _, layout := range timeLayouts {
		t, err := time.ParseInLocation(layout, s, time.Local)
		if err == nil {
			return t, nil
		}
		lastErr = err
	}
	return time.Time{}, lastErr
}

func (t *Time) UnmarshalJSON(data []byte) error {
	data = bytes.TrimSpace(data)
	if len(data) == 0 || bytes.Equal(data, []byte("null")) {
		t.Time = time.Time{}
		return nil
	}

	if data[0] == '"' {
		var s string
		if err := json.Unmarshal(data, &s); err != nil {
			return err
		}
		if s == "" {
			t.Time = time.Time{}
			return nil
		}
		parsed, err := ParseTime(s)
		if err != nil {
			return fmt.Errorf("invalid timestamp %q: %w", s, err)
		}
		t.Time = parsed
		return nil
	}

	millis, err := strconv.ParseInt(string(data), 10, 64)
	if err != nil {
		return fmt.Errorf("invalid timestamp %s: %w", data, err)
	}
	t.Time = time.UnixMilli(millis)
	return nil
}

func (t Time) MarshalJSON() ([]byte, error) {
	if t.IsZero() {
		return []byte("null"), nil
	}
	return json.Marshal(t.UTC().Format(time.RFC3339Nano))
}

// SenderRef is the sender of a message in whichever shape it was
// delivered: live events carry a flat senderId, history carries a nested
// sender object.
type SenderRef interface {
	SenderID() string
	SenderName() string
}

// FlatSender is the live-event shape: senderId + senderName.
type FlatSender struct {
	ID   string
	Name string
}

func (s FlatSender) SenderID() string   { return s.ID }
func (s FlatSender) SenderName() string { return s.Name }

// NestedSender is the history shape: sender{id,name,...}.
type NestedSender User

func (s NestedSender) SenderID() string   { return string(s.ID) }
func (s NestedSender) SenderName() string { return s.Name }

type inboundMessage struct {
	ID         ID          `json:"id"`
	Type       MessageType `json:"type"`
	Content    string      `json:"content"`
	SenderID   ID          `json:"senderId"`
	SenderName string      `json:"senderName"`
	Sender     *User       `json:"sender"`
	ReceiverID ID          `json:"receiverId"`
	Receiver   *User       `json:"receiver"`
	RideID     ID          `json:"rideId"`
	Timestamp  Time        `json:"timestamp"`
	CreatedAt  Time        `json:"createdAt"`
}

func (m inboundMessage) sender() SenderRef {
	if m.Sender != nil && m.Sender.ID != "" {
		return NestedSender(*m.Sender)
	}
	return FlatSender{ID: string(m.SenderID), Name: m.SenderName}
}

func (m inboundMessage) receiverID() string {
	if m.Receiver != nil && m.Receiver.ID != "" {
		return string(m.Receiver.ID)
	}
	return string(m.ReceiverID)
}

func (m inboundMessage) normalize() Message {
	sender := m.sender()

	ts := m.Timestamp.Time
	if ts.IsZero() {
		ts = m.CreatedAt.Time
	}

	msgType := m.Type
	if msgType == "" {
		// History records have no type; they are always chat lines.
		msgType = MessageTypeChat
	}

	return Message{
		ID:         string(m.ID),
		Type:       msgType,
		Content:    m.Content,
		SenderID:   sender.SenderID(),
		SenderName: sender.SenderName(),
		ReceiverID: m.receiverID(),
		RideID:     string(m.RideID),
		Timestamp:  ts,
	}
}

// DecodeMessage decodes one inbound message in either sender shape and
// normalizes it.
func DecodeMessage(data []byte) (Message, error) {
	var in inboundMessage
	if err := json.Unmarshal(data, &in); err != nil {
		return Message{}, fmt.Errorf("decode chat message: %w", err)
	}
	return in.normalize(), nil
}

// DecodeMessages decodes a history list.
func DecodeMessages(data []byte) ([]Message, error) {
	var in []inboundMessage
	if err := json.Unmarshal(data, &in); err != nil {
		return nil, fmt.Errorf("decode chat history: %w", err)
	}
	messages := make([]Message, 0, len(in))
	for _, m := range in {
		messages = append(messages, m.normalize())
	}
	return messages, nil
}
