package roomhub

import (
	"encoding/json"

	"github.com/Rrens/classroom-live/internal/domain"
)

// MessageType identifies a signaling frame
type MessageType string

// Server to client frames
const (
	TypeJoined             MessageType = "joined"
	TypeParticipantJoined  MessageType = "participant_joined"
	TypeParticipantLeft    MessageType = "participant_left"
	TypeParticipantUpdated MessageType = "participant_updated"
	TypeRemoved            MessageType = "removed"
	TypeRoomClosed         MessageType = "room_closed"
	TypeError              MessageType = "error"
	TypeData               MessageType = "data"
	TypeState              MessageType = "state"
	TypeRemoveParticipant  MessageType = "remove_participant"
	TypeEndRoom            MessageType = "end_room"
)

// Frame is the JSON envelope exchanged over the signaling socket. Data
// frames are lossy: a slow receiver drops them instead of blocking the room.
type Frame struct {
	Type         MessageType          `json:"type"`
	Room         string               `json:"room,omitempty"`
	Identity     string               `json:"identity,omitempty"`
	Participant  *domain.Participant  `json:"participant,omitempty"`
	Participants []domain.Participant `json:"participants,omitempty"`
	From         string               `json:"from,omitempty"`
	Topic        string               `json:"topic,omitempty"`
	Payload      json.RawMessage      `json:"payload,omitempty"`
	Microphone   *bool                `json:"microphone,omitempty"`
	Camera       *bool                `json:"camera,omitempty"`
	Speaking     *bool                `json:"speaking,omitempty"`
	Reason       string               `json:"reason,omitempty"`
	Code         string               `json:"code,omitempty"`
	Message      string               `json:"message,omitempty"`
}

// Close reasons carried by removed and room_closed frames
const (
	ReasonRemoved    = "removed_by_host"
	ReasonRoomClosed = "room_closed_by_host"
	ReasonReplaced   = "duplicate_identity"
)
