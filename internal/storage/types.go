package storage

import (
	"encoding"
	"encoding/binary"

	"github.com/vmihailenco/msgpack/v5"
)

type Storeable interface {
	Key() []byte
	encoding.BinaryMarshaler
	encoding.BinaryUnmarshaler
}

type DBConversation struct {
	ID              string `msgpack:"id"`
	RideID          string `msgpack:"rideId"`
	Pickup          string `msgpack:"pickup"`
	Destination     string `msgpack:"destination"`
	UserID          string `msgpack:"userId"`
	UserName        string `msgpack:"userName"`
	LastMessage     string `msgpack:"lastMessage"`
	LastMessageTime int64  `msgpack:"lastMessageTime"`
	HasUnread       bool   `msgpack:"hasUnread"`
	IsOwner         bool   `msgpack:"isOwner"`
}

func (c *DBConversation) Key() []byte {
	return []byte(c.ID)
}

func (c *DBConversation) MarshalBinary() (data []byte, err error) {
	type alias DBConversation
	return msgpack.Marshal((*alias)(c))
}

func (c *DBConversation) UnmarshalBinary(data []byte) error {
	type alias DBConversation
	return msgpack.Unmarshal(data, (*alias)(c))
}

type DBMessage struct {
	Seq        uint64 `msgpack:"seq"`
	ID         string `msgpack:"id"`
	RideID     string `msgpack:"rideId"`
	SenderID   string `msgpack:"senderId"`
	SenderName string `msgpack:"senderName"`
	ReceiverID string `msgpack:"receiverId"`
	Content    string `msgpack:"content"`
	Timestamp  int64  `msgpack:"timestamp"`
}

func (m *DBMessage) Key() []byte {
	key := make([]byte, 8)
	binary.BigEndian.PutUint64(key, m.Seq)
	return key
}

func (m *DBMessage) MarshalBinary() (data []byte, err error) {
	type alias DBMessage
	return msgpack.Marshal((*alias)(m))
}

func (m *DBMessage) UnmarshalBinary(data []byte) error {
	type alias DBMessage
	return msgpack.Unmarshal(data, (*alias)(m))
}
