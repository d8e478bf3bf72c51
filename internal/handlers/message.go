package handlers

import (
	"context"
	"encoding/json"
	"errors"

	"github.com/gofiber/websocket/v2"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"watchparty-backend/internal/metrics"
	"watchparty-backend/internal/models"
	"watchparty-backend/internal/room"
	"watchparty-backend/internal/services"
	"watchparty-backend/internal/utils"
)

// Join error codes sent with join-error.
const (
	JoinErrWrongPasscode = "wrong_passcode"
	JoinErrUnavailable   = "unavailable"
)

// HandleMessage decodes one inbound frame and routes it. Frames that do not
// fit the protocol are dropped without a reply.
func (g *Gateway) HandleMessage(c *Client, msgType int, msg []byte) {
	if msgType != websocket.TextMessage {
		g.drop(c, "", "non-text frame", metrics.DropProtocol)
		return
	}

	var wsMsg models.WSMessage
	if err := utils.SafeJSONParse(msg, &wsMsg); err != nil {
		g.drop(c, "", "malformed envelope", metrics.DropProtocol)
		return
	}

	switch wsMsg.Event {
	case models.EventJoinRoom:
		g.handleJoin(c, wsMsg.Payload)
	case models.EventPlay, models.EventPause, models.EventSeek:
		g.handlePlayback(c, wsMsg.Event, wsMsg.Payload)
	case models.EventSyncPosition:
		g.handleSyncPosition(c, wsMsg.Payload)
	case models.EventBuffering:
		g.handleBuffering(c, wsMsg.Payload)
	case models.EventChatMessage:
		g.handleChat(c, wsMsg.Payload)
	case models.EventUserAction:
		g.handleUserAction(c, wsMsg.Payload)
	default:
		g.drop(c, wsMsg.Event, "unknown event", metrics.DropProtocol)
	}
}

func (g *Gateway) drop(c *Client, event, reason, metric string) {
	g.Metrics.IncDropped(metric)
	g.Logger.Debug("dropped message",
		zap.String("connection_id", c.id),
		zap.String("event", event),
		zap.String("reason", reason))
}

// dropErr classifies a service error as a silent drop.
func (g *Gateway) dropErr(c *Client, event string, err error) {
	switch {
	case errors.Is(err, services.ErrNotHost):
		g.drop(c, event, err.Error(), metrics.DropForbidden)
	case errors.Is(err, services.ErrNotInRoom),
		errors.Is(err, services.ErrAlreadyJoined),
		errors.Is(err, services.ErrInvalidRoomCode),
		errors.Is(err, services.ErrInvalidTime),
		errors.Is(err, services.ErrEmptyMessage):
		g.drop(c, event, err.Error(), metrics.DropProtocol)
	default:
		utils.LogError(g.Logger, err, event)
	}
}

// boundRoom checks that a room-scoped message names the connection's room.
func (g *Gateway) boundRoom(c *Client, event, roomCode string) (string, bool) {
	bound := c.RoomCode()
	if bound == "" || room.NormalizeCode(roomCode) != bound {
		g.drop(c, event, "not joined to room", metrics.DropProtocol)
		return "", false
	}
	return bound, true
}

func decodePayload(raw json.RawMessage, v interface{}) error {
	return utils.SafeJSONParse(raw, v)
}

func (g *Gateway) handleJoin(c *Client, raw json.RawMessage) {
	var p models.JoinRoomPayload
	if err := decodePayload(raw, &p); err != nil {
		g.drop(c, models.EventJoinRoom, "malformed payload", metrics.DropProtocol)
		return
	}
	if c.RoomCode() != "" {
		g.drop(c, models.EventJoinRoom, services.ErrAlreadyJoined.Error(), metrics.DropProtocol)
		return
	}
	code := room.NormalizeCode(p.RoomCode)
	if code == "" || len(code) > services.MaxRoomCodeLength {
		g.drop(c, models.EventJoinRoom, services.ErrInvalidRoomCode.Error(), metrics.DropProtocol)
		return
	}

	id := g.joinIdentity(c, p.User)

	meta, err := g.lookupMeta(code)
	if err != nil {
		utils.LogError(g.Logger, err, "room metadata lookup")
		c.sendEvent(models.EventJoinError, models.JoinErrorPayload{
			Code:    JoinErrUnavailable,
			Message: "room lookup failed, try again",
		})
		return
	}
	if g.Rooms != nil {
		if err := g.Rooms.CheckPasscode(meta, p.Passcode); err != nil {
			g.Metrics.IncDropped(metrics.DropForbidden)
			c.sendEvent(models.EventJoinError, models.JoinErrorPayload{
				Code:    JoinErrWrongPasscode,
				Message: err.Error(),
			})
			return
		}
	}

	if _, err := g.Presence.Join(code, id, c, meta); err != nil {
		g.dropErr(c, models.EventJoinRoom, err)
		return
	}
	// frames and the leave path run on the read goroutine, so nothing can
	// observe the seat before the binding
	c.bind(code)
}

// joinIdentity prefers the token identity over what the client claims.
func (g *Gateway) joinIdentity(c *Client, claimed *models.Identity) models.Identity {
	if c.authed {
		return c.identity
	}
	var id models.Identity
	if claimed != nil {
		id = *claimed
	}
	if id.ID == "" {
		id.ID = uuid.NewString()
	}
	return id
}

// lookupMeta fetches stored metadata for code. Unknown codes are not an
// error: the live room is created without metadata.
func (g *Gateway) lookupMeta(code string) (*models.RoomMeta, error) {
	if g.Rooms == nil {
		return nil, nil
	}
	timeout := g.MetaTimeout
	if timeout <= 0 {
		timeout = DefaultMetaTimeout
	}
	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()

	meta, err := g.Rooms.Lookup(ctx, code)
	if errors.Is(err, services.ErrRoomNotFound) {
		return nil, nil
	}
	return meta, err
}

func (g *Gateway) handlePlayback(c *Client, event string, raw json.RawMessage) {
	var p models.PlaybackPayload
	if err := decodePayload(raw, &p); err != nil {
		g.drop(c, event, "malformed payload", metrics.DropProtocol)
		return
	}
	code, ok := g.boundRoom(c, event, p.RoomCode)
	if !ok {
		return
	}

	var err error
	switch event {
	case models.EventPlay:
		err = g.Playback.Play(code, c.id, p.Time)
	case models.EventPause:
		err = g.Playback.Pause(code, c.id, p.Time)
	case models.EventSeek:
		err = g.Playback.Seek(code, c.id, p.Time)
	}
	if err != nil {
		g.dropErr(c, event, err)
	}
}

func (g *Gateway) handleSyncPosition(c *Client, raw json.RawMessage) {
	var p models.SyncPositionPayload
	if err := decodePayload(raw, &p); err != nil {
		g.drop(c, models.EventSyncPosition, "malformed payload", metrics.DropProtocol)
		return
	}
	code, ok := g.boundRoom(c, models.EventSyncPosition, p.RoomCode)
	if !ok {
		return
	}
	if err := g.Playback.SyncPosition(code, c.id, p.Time, p.IsPlaying); err != nil {
		g.dropErr(c, models.EventSyncPosition, err)
	}
}

func (g *Gateway) handleBuffering(c *Client, raw json.RawMessage) {
	var p models.BufferingPayload
	if err := decodePayload(raw, &p); err != nil {
		g.drop(c, models.EventBuffering, "malformed payload", metrics.DropProtocol)
		return
	}
	code, ok := g.boundRoom(c, models.EventBuffering, p.RoomCode)
	if !ok {
		return
	}
	if err := g.Playback.SetBuffering(code, c.id, p.IsBuffering); err != nil {
		g.dropErr(c, models.EventBuffering, err)
	}
}

func (g *Gateway) handleChat(c *Client, raw json.RawMessage) {
	var p models.ChatPayload
	if err := decodePayload(raw, &p); err != nil {
		g.drop(c, models.EventChatMessage, "malformed payload", metrics.DropProtocol)
		return
	}
	code, ok := g.boundRoom(c, models.EventChatMessage, p.RoomCode)
	if !ok {
		return
	}
	if _, err := g.Chat.PostMessage(code, c.id, p.Message); err != nil {
		g.dropErr(c, models.EventChatMessage, err)
	}
}

func (g *Gateway) handleUserAction(c *Client, raw json.RawMessage) {
	var p models.UserActionPayload
	if err := decodePayload(raw, &p); err != nil {
		g.drop(c, models.EventUserAction, "malformed payload", metrics.DropProtocol)
		return
	}
	code, ok := g.boundRoom(c, models.EventUserAction, p.RoomCode)
	if !ok {
		return
	}
	if _, err := g.Chat.PostUserAction(code, c.id, p.Action, p.Message); err != nil {
		g.dropErr(c, models.EventUserAction, err)
	}
}
