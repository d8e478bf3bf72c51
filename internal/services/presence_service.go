package services

import (
	"errors"

	"go.uber.org/zap"

	"watchparty-backend/internal/metrics"
	"watchparty-backend/internal/models"
	"watchparty-backend/internal/room"
	"watchparty-backend/internal/utils"
)

const maxDisplayNameLength = 50

// PresenceService seats and unseats connections and keeps the host pointer
// consistent with joins and leaves.
type PresenceService struct {
	deps Deps
}

func NewPresenceService(d Deps) *PresenceService {
	return &PresenceService{deps: d.normalized()}
}

// Join seats the connection behind peer in the room named code, creating the
// room if needed. The joiner alone receives room-state; everyone else receives
// user-joined. meta, when known, labels a freshly created room.
func (s *PresenceService) Join(code string, id models.Identity, peer room.Peer, meta *models.RoomMeta) (models.Participant, error) {
	code = room.NormalizeCode(code)
	if code == "" || len(code) > MaxRoomCodeLength {
		return models.Participant{}, ErrInvalidRoomCode
	}

	name := utils.SanitizeString(id.DisplayName, maxDisplayNameLength)
	if name == "" {
		name = "Guest"
	}

	for {
		rm := s.deps.Registry.GetOrCreate(code)
		var joined models.Participant
		err := rm.Apply(func(st *room.State) error {
			if _, exists := st.Participant(peer.ID()); exists {
				return ErrAlreadyJoined
			}
			st.AttachMeta(meta)
			now := s.deps.Now()
			st.AddParticipant(models.Participant{
				ConnectionID: peer.ID(),
				UserID:       id.ID,
				DisplayName:  name,
				AvatarURL:    id.AvatarURL,
				JoinedAt:     now.UnixMilli(),
			}, peer)
			joined, _ = st.Participant(peer.ID())

			snap := st.Snapshot(now)
			snap.ConnectionID = peer.ID()
			if err := st.SendTo(peer.ID(), models.EventRoomState, snap); err != nil {
				return err
			}
			dropped, err := st.Broadcast(models.EventUserJoined, joined, peer.ID())
			s.deps.Metrics.AddDropped(metrics.DropBufferFull, dropped)
			return err
		})
		if errors.Is(err, room.ErrRoomClosed) {
			// emptied and removed between lookup and lock; use a fresh room
			continue
		}
		if err != nil {
			return models.Participant{}, err
		}

		s.deps.Metrics.IncEvent(models.EventJoinRoom)
		s.deps.Logger.Info("participant joined",
			zap.String("room_code", code),
			zap.String("connection_id", joined.ConnectionID),
			zap.String("user_id", joined.UserID),
			zap.Bool("is_host", joined.IsHost))
		return joined, nil
	}
}

// Leave unseats connID. Remaining members get user-left and, if the host
// left, exactly one host-transferred. An emptied room is destroyed.
func (s *PresenceService) Leave(code, connID string) bool {
	code = room.NormalizeCode(code)
	rm, ok := s.deps.Registry.Get(code)
	if !ok {
		return false
	}

	var (
		removed models.Participant
		newHost *models.Participant
	)
	err := rm.Apply(func(st *room.State) error {
		var ok bool
		removed, newHost, ok = st.RemoveParticipant(connID)
		if !ok {
			return ErrNotInRoom
		}
		dropped, err := st.Broadcast(models.EventUserLeft, models.UserLeftPayload{
			UserID:       removed.UserID,
			ConnectionID: removed.ConnectionID,
		}, "")
		s.deps.Metrics.AddDropped(metrics.DropBufferFull, dropped)
		if err != nil {
			return err
		}
		if newHost != nil {
			dropped, err = st.Broadcast(models.EventHostTransferred, models.HostTransferredPayload{
				NewHostID:    newHost.UserID,
				ConnectionID: newHost.ConnectionID,
			}, "")
			s.deps.Metrics.AddDropped(metrics.DropBufferFull, dropped)
			s.deps.Metrics.IncHostTransfers()
		}
		return err
	})
	if errors.Is(err, ErrNotInRoom) || errors.Is(err, room.ErrRoomClosed) {
		return false
	}
	if err != nil {
		utils.LogError(s.deps.Logger, err, "leave broadcast")
	}

	fields := []zap.Field{
		zap.String("room_code", code),
		zap.String("connection_id", connID),
		zap.String("user_id", removed.UserID),
		zap.Bool("was_host", removed.IsHost),
	}
	if newHost != nil {
		fields = append(fields, zap.String("new_host_connection_id", newHost.ConnectionID))
	}
	s.deps.Logger.Info("participant left", fields...)

	if s.deps.Registry.RemoveIfEmpty(code) {
		s.deps.Logger.Info("room deleted (empty)", zap.String("room_code", code))
	}
	return true
}

// Participants lists the room's seats in join order.
func (s *PresenceService) Participants(code string) ([]models.Participant, bool) {
	rm, ok := s.deps.Registry.Get(room.NormalizeCode(code))
	if !ok {
		return nil, false
	}
	var out []models.Participant
	err := rm.Apply(func(st *room.State) error {
		out = st.Participants()
		return nil
	})
	return out, err == nil
}

// Host returns the participant currently marked as host.
func (s *PresenceService) Host(code string) (models.Participant, bool) {
	rm, ok := s.deps.Registry.Get(room.NormalizeCode(code))
	if !ok {
		return models.Participant{}, false
	}
	var (
		host  models.Participant
		found bool
	)
	_ = rm.Apply(func(st *room.State) error {
		host, found = st.Participant(st.HostConnectionID())
		return nil
	})
	return host, found
}
