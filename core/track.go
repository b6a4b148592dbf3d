package core

import "github.com/avchat/roomkit/domain"

// TrackHandle is a non-owning reference to the underlying media stream.
// Concrete values come from the media layer (e.g. *webrtc.TrackRemote or
// *webrtc.TrackLocalStaticRTP); the session layer never closes them.
type TrackHandle interface {
	ID() string
	StreamID() string
}

// TrackPublication represents one published media track of a participant.
type TrackPublication struct {
	SID         string           `json:"sid"`
	Kind        domain.TrackKind `json:"kind"`
	Participant domain.Identity  `json:"participant"`
	Muted       bool             `json:"muted"`
	Subscribed  bool             `json:"subscribed"`
	Handle      TrackHandle      `json:"-"`
}
