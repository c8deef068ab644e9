// Package call drives one call end-to-end on the client: media acquisition,
// description exchange, candidate exchange, and cleanup on every exit path.
// Coupling to the transport is via the Signaler interface only.
package call

import "context"

// TrackKind distinguishes local media tracks
type TrackKind string

const (
	TrackKindAudio TrackKind = "audio"
	TrackKindVideo TrackKind = "video"
)

// Track is one local media track owned by the engine for the lifetime of a
// call. Stop releases the underlying device and must be called on every exit
// path. SetEnabled is the mute/camera toggle: a local optimistic flag, not a
// transport-level pause.
type Track interface {
	Kind() TrackKind
	SetEnabled(enabled bool)
	Enabled() bool
	Stop() error
}

// MediaProvider acquires local media. Audio is always requested; video is
// added when video is true. A provider that can satisfy neither returns an
// error and the engine aborts the transition.
type MediaProvider interface {
	Acquire(ctx context.Context, video bool) ([]Track, error)
}
