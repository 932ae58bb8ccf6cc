package models

import "encoding/json"

// Client to server events.
const (
	EventJoinRoom    = "join-room"
	EventLeaveRoom   = "leave-room"
	EventSendMessage = "sendMessage"
)

// Server to client events.
const (
	EventNewMessage   = "newMessage"
	EventOnlineUsers  = "onlineUsers"
	EventMessageError = "messageError"
	EventRoomHistory  = "roomHistory"
)

// InboundEvent is a decoded frame read from a client. Data is kept raw
// until the event name tells how to decode it.
type InboundEvent struct {
	Event string          `json:"event"`
	Data  json.RawMessage `json:"data"`
}

type OutboundEvent struct {
	Event string `json:"event"`
	Data  any    `json:"data"`
}

type ErrorPayload struct {
	Error string `json:"error"`
}

type HistoryPayload struct {
	RoomID   string     `json:"roomId"`
	Messages []*Message `json:"messages"`
}

// EncodeEvent marshals an outbound frame once so a broadcast can reuse the
// same bytes for every recipient.
func EncodeEvent(event string, payload any) ([]byte, error) {
	return json.Marshal(OutboundEvent{Event: event, Data: payload})
}
