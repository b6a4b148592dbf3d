package session

import (
	"sync"

	"github.com/rs/zerolog/log"

	"github.com/avchat/roomkit/core"
	"github.com/avchat/roomkit/domain"
)

// trackSlots holds at most one active publication per kind for a participant.
type trackSlots struct {
	audio *core.TrackPublication
	video *core.TrackPublication
}

func (s *trackSlots) get(kind domain.TrackKind) *core.TrackPublication {
	if kind == domain.TrackKindAudio {
		return s.audio
	}
	return s.video
}

func (s *trackSlots) set(kind domain.TrackKind, pub *core.TrackPublication) {
	if kind == domain.TrackKindAudio {
		s.audio = pub
	} else {
		s.video = pub
	}
}

func (s *trackSlots) empty() bool { return s.audio == nil && s.video == nil }

// TrackRegistry maps participant identity to its published tracks.
// Track and participant events can race and arrive out of order, so every
// operation on an unknown participant is a no-op or an empty result,
// never an error.
type TrackRegistry struct {
	mu    sync.RWMutex
	slots map[domain.Identity]*trackSlots
}

func NewTrackRegistry() *TrackRegistry {
	return &TrackRegistry{slots: make(map[domain.Identity]*trackSlots)}
}

// UpsertTrack inserts or replaces the slot for the publication's kind.
// It returns the superseded publication, if any. The registry does not own
// the media handle; releasing the superseded resource is the caller's job.
func (r *TrackRegistry) UpsertTrack(id domain.Identity, pub core.TrackPublication) *core.TrackPublication {
	if !pub.Kind.Valid() {
		log.Warn().Str("module", "session.registry").Str("kind", string(pub.Kind)).Msg("upsert with unknown track kind dropped")
		return nil
	}
	pub.Participant = id
	r.mu.Lock()
	defer r.mu.Unlock()
	slots, ok := r.slots[id]
	if !ok {
		slots = &trackSlots{}
		r.slots[id] = slots
	}
	old := slots.get(pub.Kind)
	slots.set(pub.Kind, &pub)
	log.Debug().Str("module", "session.registry").Str("participant", string(id)).Str("kind", string(pub.Kind)).Bool("replaced", old != nil).Msg("track upserted")
	return old
}

// RemoveTrack removes the slot if present. No-op otherwise.
func (r *TrackRegistry) RemoveTrack(id domain.Identity, kind domain.TrackKind) (*core.TrackPublication, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	slots, ok := r.slots[id]
	if !ok {
		return nil, false
	}
	old := slots.get(kind)
	if old == nil {
		return nil, false
	}
	slots.set(kind, nil)
	if slots.empty() {
		delete(r.slots, id)
	}
	log.Debug().Str("module", "session.registry").Str("participant", string(id)).Str("kind", string(kind)).Msg("track removed")
	return old, true
}

// RemoveParticipant drops all slots for the participant. Idempotent.
func (r *TrackRegistry) RemoveParticipant(id domain.Identity) []core.TrackPublication {
	r.mu.Lock()
	defer r.mu.Unlock()
	slots, ok := r.slots[id]
	if !ok {
		return nil
	}
	removed := collectTracks(slots)
	delete(r.slots, id)
	log.Debug().Str("module", "session.registry").Str("participant", string(id)).Int("tracks", len(removed)).Msg("participant removed")
	return removed
}

// HasTrack reports whether the participant has an active publication of the
// given kind.
func (r *TrackRegistry) HasTrack(id domain.Identity, kind domain.TrackKind) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	slots, ok := r.slots[id]
	return ok && slots.get(kind) != nil
}

// ListTracks returns a read-only snapshot. Unknown participants yield an
// empty result.
func (r *TrackRegistry) ListTracks(id domain.Identity) []core.TrackPublication {
	r.mu.RLock()
	defer r.mu.RUnlock()
	slots, ok := r.slots[id]
	if !ok {
		return nil
	}
	return collectTracks(slots)
}

// Clear drops every participant and track. Used on full disconnect; the
// adapter does not try to recover stale track references across sessions.
func (r *TrackRegistry) Clear() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.slots = make(map[domain.Identity]*trackSlots)
}

func collectTracks(slots *trackSlots) []core.TrackPublication {
	out := make([]core.TrackPublication, 0, 2)
	if slots.audio != nil {
		out = append(out, *slots.audio)
	}
	if slots.video != nil {
		out = append(out, *slots.video)
	}
	return out
}
