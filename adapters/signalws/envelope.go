// Package signalws is the websocket signaling client used by the default
// transport binding. It only moves typed JSON envelopes; session semantics
// live above it.
package signalws

import (
	"encoding/json"
	"fmt"

	"github.com/avchat/roomkit/domain"
)

type MessageType string

const (
	MsgJoin      MessageType = "join"
	MsgLeave     MessageType = "leave"
	MsgPing      MessageType = "ping"
	MsgPong      MessageType = "pong"
	MsgRoomState MessageType = "room_state"
	MsgJoined    MessageType = "joined"
	MsgLeft      MessageType = "left"

	MsgPublished   MessageType = "published"
	MsgUnpublished MessageType = "unpublished"

	MsgOffer     MessageType = "offer"
	MsgAnswer    MessageType = "answer"
	MsgCandidate MessageType = "candidate"

	MsgError MessageType = "error"
)

// Envelope carries just the discriminator; payloads are decoded per type.
type Envelope struct {
	Type MessageType `json:"type"`
}

type JoinMessage struct {
	Type     MessageType `json:"type"`
	Room     string      `json:"room"`
	Identity string      `json:"identity"`
	Name     string      `json:"name,omitempty"`
	Password string      `json:"password,omitempty"`
}

type MemberInfo struct {
	Identity string `json:"identity"`
	Name     string `json:"name"`
}

type RoomStateMessage struct {
	Type    MessageType  `json:"type"`
	Room    string       `json:"room"`
	Members []MemberInfo `json:"members"`
}

// PresenceMessage announces a remote join or leave.
type PresenceMessage struct {
	Type     MessageType `json:"type"`
	Identity string      `json:"identity"`
	Name     string      `json:"name,omitempty"`
}

// TrackMessage announces a remote publish or unpublish.
type TrackMessage struct {
	Type     MessageType      `json:"type"`
	Identity string           `json:"identity"`
	Kind     domain.TrackKind `json:"kind"`
	TrackID  string           `json:"track_id,omitempty"`
	StreamID string           `json:"stream_id,omitempty"`
}

type SDPMessage struct {
	Type MessageType `json:"type"`
	SDP  string      `json:"sdp"`
}

type CandidateMessage struct {
	Type          MessageType `json:"type"`
	Candidate     string      `json:"candidate"`
	SDPMid        string      `json:"sdpMid,omitempty"`
	SDPMLineIndex uint16      `json:"sdpMLineIndex,omitempty"`
}

type ErrorMessage struct {
	Type  MessageType `json:"type"`
	Error string      `json:"error"`
}

// DecodeType peeks at the envelope discriminator.
func DecodeType(data []byte) (MessageType, error) {
	var env Envelope
	if err := json.Unmarshal(data, &env); err != nil {
		return "", fmt.Errorf("bad envelope: %w", err)
	}
	return env.Type, nil
}

// DecodeAs decodes the full payload for a known type.
func DecodeAs[T any](data []byte) (T, error) {
	var msg T
	if err := json.Unmarshal(data, &msg); err != nil {
		return msg, fmt.Errorf("bad payload: %w", err)
	}
	return msg, nil
}
