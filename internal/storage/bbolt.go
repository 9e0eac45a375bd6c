package storage

import (
	"cmp"
	"errors"
	"fmt"
	"slices"
	"time"

	"go.etcd.io/bbolt"

	"ridechat/internal/models"
)

var (
	bucketMeta          = []byte("meta")
	bucketConversations = []byte("conversations")
	bucketMessages      = []byte("messages")

	keyOwner = []byte("owner")
)

var ErrMissingRide = errors.New("message missing rideId")

// BboltStorage is the local archive of the last fetched conversations and
// ride histories, readable without a connection.
type BboltStorage struct {
	db *bbolt.DB
}

func NewBboltStorage(path string) (*BboltStorage, error) {
	db, err := bbolt.Open(path, 0600, &bbolt.Options{Timeout: 1 * time.Second})
	if err != nil {
		return nil, fmt.Errorf("failed to open bbolt db: %w", err)
	}

	err = db.Update(func(tx *bbolt.Tx) error {
		for _, name := range [][]byte{bucketMeta, bucketConversations, bucketMessages} {
			if _, err := tx.CreateBucketIfNotExists(name); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to create buckets: %w", err)
	}

	return &BboltStorage{db: db}, nil
}

func (s *BboltStorage) Close() error {
	return s.db.Close()
}

// ClaimOwner binds the archive to userID. When it belonged to another
// user everything is wiped first and true is returned.
func (s *BboltStorage) ClaimOwner(userID string) (bool, error) {
	wiped := false
	err := s.db.Update(func(tx *bbolt.Tx) error {
		meta := tx.Bucket(bucketMeta)
		owner := meta.Get(keyOwner)
		if owner != nil && string(owner) == userID {
			return nil
		}
		if owner != nil {
			wiped = true
			for _, name := range [][]byte{bucketConversations, bucketMessages} {
				if err := tx.DeleteBucket(name); err != nil {
					return err
				}
				if _, err := tx.CreateBucket(name); err != nil {
					return err
				}
			}
		}
		return meta.Put(keyOwner, []byte(userID))
	})
	return wiped, err
}

// Owner returns the user the archive belongs to, or "" if unclaimed.
func (s *BboltStorage) Owner() (string, error) {
	var owner string
	err := s.db.View(func(tx *bbolt.Tx) error {
		owner = string(tx.Bucket(bucketMeta).Get(keyOwner))
		return nil
	})
	return owner, err
}

// UpsertConversations saves conversations to the database.
func (s *BboltStorage) UpsertConversations(conversations []models.Conversation) error {
	return s.db.Update(func(tx *bbolt.Tx) error {
		b := tx.Bucket(bucketConversations)
		for _, c := range conversations {
			dbConv := &DBConversation{
				ID:          c.ID.String(),
				RideID:      c.Ride.ID.String(),
				Pickup:      c.Ride.Pickup,
				Destination: c.Ride.Destination,
				UserID:      c.User.ID.String(),
				UserName:    c.User.Name,
				LastMessage: c.LastMessage,
				HasUnread:   c.HasUnreadMessages,
				IsOwner:     c.IsOwner,
			}
			if !c.LastMessageTime.IsZero() {
				dbConv.LastMessageTime = c.LastMessageTime.UnixMilli()
			}
			if dbConv.ID == "" {
				return errors.New("conversation missing id")
			}
			if err := put(b, dbConv); err != nil {
				return fmt.Errorf("failed to put conversation %s: %w", dbConv.ID, err)
			}
		}
		return nil
	})
}

// ListConversations returns archived conversations, most recent first.
func (s *BboltStorage) ListConversations() ([]models.Conversation, error) {
	var conversations []models.Conversation
	err := s.db.View(func(tx *bbolt.Tx) error {
		b := tx.Bucket(bucketConversations)
		return b.ForEach(func(k, v []byte) error {
			var c DBConversation
			if err := c.UnmarshalBinary(v); err != nil {
				return err
			}
			conv := models.Conversation{
				ID: models.ID(c.ID),
				Ride: models.Ride{
					ID:          models.ID(c.RideID),
					Pickup:      c.Pickup,
					Destination: c.Destination,
				},
				User: models.User{
					ID:   models.ID(c.UserID),
					Name: c.UserName,
				},
				LastMessage:       c.LastMessage,
				HasUnreadMessages: c.HasUnread,
				IsOwner:           c.IsOwner,
			}
			if c.LastMessageTime != 0 {
				conv.LastMessageTime = models.Time{Time: time.UnixMilli(c.LastMessageTime)}
			}
			conversations = append(conversations, conv)
			return nil
		})
	})
	slices.SortStableFunc(conversations, func(a, b models.Conversation) int {
		return b.LastMessageTime.Compare(a.LastMessageTime.Time)
	})
	return conversations, err
}

// ReplaceMessages stores a fetched history as the ride's archive.
func (s *BboltStorage) ReplaceMessages(rideID string, messages []models.Message) error {
	if rideID == "" {
		return ErrMissingRide
	}
	return s.db.Update(func(tx *bbolt.Tx) error {
		all := tx.Bucket(bucketMessages)
		if all.Bucket([]byte(rideID)) != nil {
			if err := all.DeleteBucket([]byte(rideID)); err != nil {
				return fmt.Errorf("failed to drop ride bucket: %w", err)
			}
		}
		rideBucket, err := all.CreateBucket([]byte(rideID))
		if err != nil {
			return fmt.Errorf("failed to create ride bucket: %w", err)
		}
		for _, m := range messages {
			if err := appendMessage(rideBucket, rideID, m); err != nil {
				return err
			}
		}
		return nil
	})
}

// AppendMessage adds a live message to the ride's archive. Optimistic
// local echoes are not archived.
func (s *BboltStorage) AppendMessage(message models.Message) error {
	if message.Optimistic {
		return nil
	}
	if message.RideID == "" {
		return ErrMissingRide
	}
	return s.db.Update(func(tx *bbolt.Tx) error {
		rideBucket, err := tx.Bucket(bucketMessages).CreateBucketIfNotExists([]byte(message.RideID))
		if err != nil {
			return fmt.Errorf("failed to create ride bucket: %w", err)
		}
		return appendMessage(rideBucket, message.RideID, message)
	})
}

// ListMessages returns the last limit messages of a ride in archive
// order; limit <= 0 returns all of them.
func (s *BboltStorage) ListMessages(rideID string, limit int) ([]models.Message, error) {
	var messages []models.Message
	err := s.db.View(func(tx *bbolt.Tx) error {
		rideBucket := tx.Bucket(bucketMessages).Bucket([]byte(rideID))
		if rideBucket == nil {
			return nil // Nothing archived for this ride
		}

		c := rideBucket.Cursor()
		for k, v := c.Last(); k != nil; k, v = c.Prev() {
			if limit > 0 && len(messages) == limit {
				break
			}
			var dbMsg DBMessage
			if err := dbMsg.UnmarshalBinary(v); err != nil {
				return err
			}
			messages = append(messages, models.Message{
				ID:         dbMsg.ID,
				Type:       models.MessageTypeChat,
				Content:    dbMsg.Content,
				SenderID:   dbMsg.SenderID,
				SenderName: dbMsg.SenderName,
				ReceiverID: dbMsg.ReceiverID,
				RideID:     dbMsg.RideID,
				Timestamp:  time.UnixMilli(dbMsg.Timestamp),
			})
		}
		return nil
	})
	slices.Reverse(messages)
	return messages, err
}

func appendMessage(b *bbolt.Bucket, rideID string, m models.Message) error {
	seq, err := b.NextSequence()
	if err != nil {
		return err
	}
	dbMsg := &DBMessage{
		Seq:        seq,
		ID:         m.ID,
		RideID:     cmp.Or(m.RideID, rideID),
		SenderID:   m.SenderID,
		SenderName: m.SenderName,
		ReceiverID: m.ReceiverID,
		Content:    m.Content,
		Timestamp:  m.Timestamp.UnixMilli(),
	}
	if err := put(b, dbMsg); err != nil {
		return fmt.Errorf("failed to put message: %w", err)
	}
	return nil
}

func put(b *bbolt.Bucket, v Storeable) error {
	data, err := v.MarshalBinary()
	if err != nil {
		return err
	}
	return b.Put(v.Key(), data)
}
