package storage

import (
	"encoding"
	"encoding/binary"

	"palaver/internal/models"

	"github.com/vmihailenco/msgpack/v5"
)

type Storeable interface {
	Key() []byte
	encoding.BinaryMarshaler
	encoding.BinaryUnmarshaler
}

type DBMessage struct {
	ID        string `msgpack:"id"`
	Seq       int64  `msgpack:"seq"`
	Room      string `msgpack:"room"`
	Author    string `msgpack:"author"`
	Text      string `msgpack:"text"`
	HTML      string `msgpack:"html"`
	Timestamp int64  `msgpack:"ts"`
}

func (m *DBMessage) Key() []byte {
	key := make([]byte, 8)
	binary.BigEndian.PutUint64(key, uint64(m.Seq))
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

func toDBMessage(msg models.Message) *DBMessage {
	return &DBMessage{
		ID:        msg.ID,
		Seq:       msg.Seq,
		Room:      msg.Room,
		Author:    msg.Author,
		Text:      msg.Text,
		HTML:      msg.HTML,
		Timestamp: msg.Timestamp,
	}
}

func (m *DBMessage) toModel() models.Message {
	return models.Message{
		ID:        m.ID,
		Seq:       m.Seq,
		Room:      m.Room,
		Author:    m.Author,
		Text:      m.Text,
		HTML:      m.HTML,
		Timestamp: m.Timestamp,
	}
}
