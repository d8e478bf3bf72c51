package services

import (
	"math"

	"go.uber.org/zap"

	"watchparty-backend/internal/metrics"
	"watchparty-backend/internal/models"
	"watchparty-backend/internal/room"
)

// PlaybackService applies play, pause, seek, sync-position and buffering to
// a room's PlaybackState. Conflicting writes are not arbitrated: whichever
// transition takes the room lock last wins.
type PlaybackService struct {
	deps     Deps
	hostOnly bool
}

// NewPlaybackService returns a coordinator. With hostOnly set, play, pause
// and seek from anyone but the host are rejected with ErrNotHost.
func NewPlaybackService(d Deps, hostOnly bool) *PlaybackService {
	return &PlaybackService{deps: d.normalized(), hostOnly: hostOnly}
}

func (s *PlaybackService) Play(code, connID string, t float64) error {
	return s.transition(models.EventPlay, code, connID, t, func(p *models.PlaybackState) {
		p.IsPlaying = true
		p.IsBuffering = false
	})
}

func (s *PlaybackService) Pause(code, connID string, t float64) error {
	return s.transition(models.EventPause, code, connID, t, func(p *models.PlaybackState) {
		p.IsPlaying = false
		p.IsBuffering = false
	})
}

// Seek moves the position and leaves IsPlaying as it was.
func (s *PlaybackService) Seek(code, connID string, t float64) error {
	return s.transition(models.EventSeek, code, connID, t, func(p *models.PlaybackState) {})
}

func (s *PlaybackService) transition(event, code, connID string, t float64, mutate func(p *models.PlaybackState)) error {
	t, err := normalizeTime(t)
	if err != nil {
		return err
	}
	err = withSeat(s.deps.Registry, code, connID, func(st *room.State, p models.Participant) error {
		if s.hostOnly && !p.IsHost {
			return ErrNotHost
		}
		state := st.Playback()
		state.CurrentPosition = t
		state.LastActionBy = connID
		state.Timestamp = s.deps.Now().UnixMilli()
		mutate(&state)
		st.SetPlayback(state)

		dropped, err := st.Broadcast(event, models.PlaybackEventPayload{
			Time:         t,
			UserID:       p.UserID,
			ConnectionID: connID,
			DisplayName:  p.DisplayName,
		}, connID)
		s.deps.Metrics.AddDropped(metrics.DropBufferFull, dropped)
		return err
	})
	if err != nil {
		return err
	}
	s.deps.Metrics.IncEvent(event)
	s.deps.Logger.Debug("playback updated",
		zap.String("event", event),
		zap.String("room_code", room.NormalizeCode(code)),
		zap.String("connection_id", connID),
		zap.Float64("time", t))
	return nil
}

// SyncPosition refreshes the stored position from a heartbeat. Nothing is
// broadcast.
func (s *PlaybackService) SyncPosition(code, connID string, t float64, isPlaying bool) error {
	t, err := normalizeTime(t)
	if err != nil {
		return err
	}
	err = withSeat(s.deps.Registry, code, connID, func(st *room.State, p models.Participant) error {
		if s.hostOnly && !p.IsHost {
			return ErrNotHost
		}
		state := st.Playback()
		state.CurrentPosition = t
		state.IsPlaying = isPlaying
		state.LastActionBy = connID
		state.Timestamp = s.deps.Now().UnixMilli()
		st.SetPlayback(state)
		return nil
	})
	if err == nil {
		s.deps.Metrics.IncEvent(models.EventSyncPosition)
	}
	return err
}

// SetBuffering records the informational buffering flag and tells the others.
// It never touches IsPlaying.
func (s *PlaybackService) SetBuffering(code, connID string, buffering bool) error {
	err := withSeat(s.deps.Registry, code, connID, func(st *room.State, p models.Participant) error {
		state := st.Playback()
		state.IsBuffering = buffering
		st.SetPlayback(state)

		dropped, err := st.Broadcast(models.EventBuffering, models.BufferingEventPayload{
			UserID:      p.UserID,
			IsBuffering: buffering,
		}, connID)
		s.deps.Metrics.AddDropped(metrics.DropBufferFull, dropped)
		return err
	})
	if err == nil {
		s.deps.Metrics.IncEvent(models.EventBuffering)
	}
	return err
}

// State returns the stored playback state of a live room.
func (s *PlaybackService) State(code string) (models.PlaybackState, bool) {
	rm, ok := s.deps.Registry.Get(room.NormalizeCode(code))
	if !ok {
		return models.PlaybackState{}, false
	}
	var state models.PlaybackState
	err := rm.Apply(func(st *room.State) error {
		state = st.Playback()
		return nil
	})
	return state, err == nil
}

// CurrentPosition is the stored position extrapolated to now.
func (s *PlaybackService) CurrentPosition(code string) (float64, bool) {
	state, ok := s.State(code)
	if !ok {
		return 0, false
	}
	return state.PositionAt(s.deps.Now()), true
}

func normalizeTime(t float64) (float64, error) {
	if math.IsNaN(t) || math.IsInf(t, 0) {
		return 0, ErrInvalidTime
	}
	if t < 0 {
		return 0, nil
	}
	return t, nil
}
