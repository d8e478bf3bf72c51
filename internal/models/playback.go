package models

import "time"

// PlaybackState is the shared timeline of a room. CurrentPosition is only
// accurate as of Timestamp (unix milliseconds).
type PlaybackState struct {
	CurrentPosition float64 `json:"currentPosition"`
	IsPlaying       bool    `json:"isPlaying"`
	IsBuffering     bool    `json:"isBuffering"`
	LastActionBy    string  `json:"lastActionBy,omitempty"`
	Timestamp       int64   `json:"timestamp"`
}

// PositionAt extrapolates the playback position to now. A paused timeline
// does not move; a playing one advances one second per wall-clock second.
func (p PlaybackState) PositionAt(now time.Time) float64 {
	pos := p.CurrentPosition
	if p.IsPlaying {
		pos += float64(now.UnixMilli()-p.Timestamp) / 1000
	}
	if pos < 0 {
		return 0
	}
	return pos
}
