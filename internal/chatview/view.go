package chatview

import (
	"time"

	"ridechat/internal/models"
	"ridechat/internal/ws"
)

type NoticeLevel int

const (
	NoticeInfo NoticeLevel = iota
	NoticeError
)

func (l NoticeLevel) String() string {
	if l == NoticeError {
		return "error"
	}
	return "info"
}

// Notice is a transient message for the user, shown as a toast.
type Notice struct {
	Level NoticeLevel
	Text  string
	Err   error
	Time  time.Time
}

// Status is the connection indicator.
type Status struct {
	State        ws.State
	Reconnecting bool
	Err          error
}

func (s Status) String() string {
	switch s.State {
	case ws.StateConnected:
		return "Connected"
	case ws.StateConnecting:
		return "Connecting..."
	}
	if s.Reconnecting {
		return "Disconnected, reconnecting"
	}
	return "Disconnected"
}

// View is a copy of the controller state at one point in time.
type View struct {
	Status        Status
	Conversations []models.Conversation
	Selected      *models.Conversation
	Messages      []models.Message
	HasUnread     bool
	RideContext   bool
}
