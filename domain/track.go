package domain

// TrackKind is the media kind of a published track.
type TrackKind string

const (
	TrackKindAudio TrackKind = "audio"
	TrackKindVideo TrackKind = "video"
)

func (k TrackKind) Valid() bool {
	return k == TrackKindAudio || k == TrackKindVideo
}
