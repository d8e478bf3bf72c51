// Package syncagent keeps a local media player in step with a watch-party
// room. It turns local player events into protocol messages and applies
// messages from the room to the player without echoing them back.
package syncagent

import (
	"context"
	"errors"
)

var (
	// ErrAutoplayBlocked is returned by Player.Play when the platform refuses
	// to start playback without a user gesture.
	ErrAutoplayBlocked = errors.New("autoplay blocked")

	// ErrSourceUnavailable means the room's media cannot be played here.
	// It is terminal for the agent's playback side.
	ErrSourceUnavailable = errors.New("playback source unavailable")
)

// Player is the local media player the agent drives.
type Player interface {
	Play(ctx context.Context) error
	Pause() error
	Seek(seconds float64) error
	CurrentTime() float64
	Paused() bool
}

// Source is a resolved playable stream for a room's subject.
type Source struct {
	URL      string
	MimeType string
}

// SourceResolver maps a room's subject to something the player can load.
type SourceResolver interface {
	Resolve(ctx context.Context, subjectID, episodeRef string) (Source, error)
}

// Loader is implemented by players that can switch sources.
type Loader interface {
	Load(ctx context.Context, src Source) error
}
