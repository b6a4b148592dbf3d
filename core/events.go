package core

import "github.com/avchat/roomkit/domain"

// EventType is the normalized event vocabulary consumed by UI components.
type EventType string

const (
	EventParticipantJoined      EventType = "participantJoined"
	EventParticipantLeft        EventType = "participantLeft"
	EventTrackAdded             EventType = "trackAdded"
	EventTrackRemoved           EventType = "trackRemoved"
	EventConnectionStateChanged EventType = "connectionStateChanged"
)

// Event is an immutable payload delivered to listeners. Only the fields
// relevant to the event type are set.
type Event struct {
	Type        EventType
	Participant domain.Identity
	Track       *TrackPublication
	State       ConnectionState
	Err         error
}
