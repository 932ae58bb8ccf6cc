package services

import (
	ws "resource-chat/internal/websocket"
)

type RoomDirectory interface {
	Size(roomID string) int
	Rooms() map[string]int
}

type RoomPresence struct {
	RoomID string       `json:"roomId"`
	Online int          `json:"online"`
	State  ws.RoomState `json:"state"`
}

// RoomService exposes read-only room state for the HTTP surface.
type RoomService struct {
	rooms RoomDirectory
}

func NewRoomService(rooms RoomDirectory) *RoomService {
	return &RoomService{rooms: rooms}
}

func (s *RoomService) Presence(roomID string) RoomPresence {
	size := s.rooms.Size(roomID)
	state := ws.RoomAbsent
	if size > 0 {
		state = ws.RoomActive
	}
	return RoomPresence{RoomID: roomID, Online: size, State: state}
}

func (s *RoomService) ActiveRooms() map[string]int {
	return s.rooms.Rooms()
}
