package commands

import (
	"errors"
	"fmt"

	"ridechat/internal/chatview"
	"ridechat/internal/content"
	"ridechat/internal/models"
)

// Archive is the read side of the local store.
type Archive interface {
	Owner() (string, error)
	ListConversations() ([]models.Conversation, error)
	ListMessages(rideID string, limit int) ([]models.Message, error)
}

// PrintArchive prints what was stored during earlier sessions: the
// conversation list, or the last limit messages of rideID when given.
func PrintArchive(archive Archive, rideID string, limit int, term *Terminal) error {
	owner, err := archive.Owner()
	if err != nil {
		return fmt.Errorf("failed to read archive: %w", err)
	}
	if owner == "" {
		return errors.New("archive is empty, run online once first")
	}
	term.selfID = owner

	if rideID != "" {
		if err := content.ValidateID(rideID); err != nil {
			return fmt.Errorf("ride %q: %w", rideID, err)
		}
		messages, err := archive.ListMessages(rideID, limit)
		if err != nil {
			return fmt.Errorf("failed to read messages: %w", err)
		}
		if len(messages) == 0 {
			term.printf("no archived messages for ride %s\n", rideID)
			return nil
		}
		for _, m := range messages {
			term.Message(m)
		}
		return nil
	}

	conversations, err := archive.ListConversations()
	if err != nil {
		return fmt.Errorf("failed to read conversations: %w", err)
	}
	term.Conversations(chatview.View{Conversations: conversations})
	return nil
}
