package models

import (
	"bytes"
	"encoding/json"
	"strings"
	"time"
)

type MessageType string

const (
	MessageTypeText  MessageType = "text"
	MessageTypeFile  MessageType = "file"
	MessageTypeEmoji MessageType = "emoji"
)

func (t MessageType) Valid() bool {
	switch t {
	case MessageTypeText, MessageTypeFile, MessageTypeEmoji:
		return true
	}
	return false
}

// Author is the identity reference attached to a connection and to every
// message it submits. It is resolved outside the chat core.
type Author struct {
	ID     string `json:"id"`
	Name   string `json:"name"`
	Avatar string `json:"avatar,omitempty"`
}

type FileMeta struct {
	URL      string `json:"fileUrl"`
	Name     string `json:"fileName,omitempty"`
	MimeType string `json:"fileType,omitempty"`
	Size     int64  `json:"fileSize,omitempty"`
}

// Message is a persisted record. ID and CreatedAt are assigned by the store.
type Message struct {
	ID      string      `json:"id"`
	RoomID  string      `json:"roomId"`
	Author  Author      `json:"author"`
	Content string      `json:"content"`
	Type    MessageType `json:"type"`
	*FileMeta
	CreatedAt time.Time `json:"createdAt"`
}

// Draft is what gets handed to a store for appending.
type Draft struct {
	RoomID   string
	Author   Author
	Content  string
	Type     MessageType
	FileMeta *FileMeta
}

// Submission is the client payload of a sendMessage event.
type Submission struct {
	RoomID   string      `json:"roomId"`
	Content  string      `json:"content"`
	Type     MessageType `json:"type"`
	FileMeta *FileMeta   `json:"fileMeta,omitempty"`
}

func (s *Submission) UnmarshalJSON(data []byte) error {
	type plain Submission
	var raw struct {
		plain
		RoomID json.RawMessage `json:"roomId"`
	}
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	roomID, err := DecodeRoomID(raw.RoomID)
	if err != nil {
		return err
	}
	*s = Submission(raw.plain)
	s.RoomID = roomID
	return nil
}

// DecodeRoomID accepts a bare string, a number or {"roomId": ...}. Numbers
// keep their decimal text. A missing or null id decodes to "".
func DecodeRoomID(data json.RawMessage) (string, error) {
	data = bytes.TrimSpace(data)
	if len(data) > 0 && data[0] == '{' {
		var obj struct {
			RoomID json.RawMessage `json:"roomId"`
		}
		if err := json.Unmarshal(data, &obj); err != nil {
			return "", err
		}
		data = bytes.TrimSpace(obj.RoomID)
	}
	if len(data) == 0 || bytes.Equal(data, []byte("null")) {
		return "", nil
	}

	var s string
	if err := json.Unmarshal(data, &s); err == nil {
		return strings.TrimSpace(s), nil
	}
	var n json.Number
	if err := json.Unmarshal(data, &n); err != nil {
		return "", err
	}
	return n.String(), nil
}
