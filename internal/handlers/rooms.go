package handlers

import (
	"errors"

	"github.com/gofiber/fiber/v2"

	"watchparty-backend/internal/models"
	"watchparty-backend/internal/room"
	"watchparty-backend/internal/services"
)

type guestRequest struct {
	DisplayName string `json:"displayName"`
	AvatarURL   string `json:"avatarUrl"`
}

type authResponse struct {
	Token string          `json:"token"`
	User  models.Identity `json:"user"`
}

// GuestAuthHandler mints a token for a fresh identity.
func GuestAuthHandler(auth *services.AuthService) fiber.Handler {
	return func(c *fiber.Ctx) error {
		var req guestRequest
		if len(c.Body()) > 0 {
			if err := c.BodyParser(&req); err != nil {
				return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "Invalid request"})
			}
		}
		id := auth.NewGuest(req.DisplayName, req.AvatarURL)
		token, err := auth.GenerateJWT(id)
		if err != nil {
			return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{"error": "failed to generate token"})
		}
		return c.Status(fiber.StatusCreated).JSON(authResponse{Token: token, User: id})
	}
}

// CreateRoomHandler stores metadata for a new room hosted by the caller.
func CreateRoomHandler(rooms *services.RoomService) fiber.Handler {
	return func(c *fiber.Ctx) error {
		host, ok := identityFrom(c)
		if !ok {
			return c.Status(fiber.StatusUnauthorized).JSON(fiber.Map{"error": "Missing token"})
		}

		var req models.CreateRoomRequest
		if err := c.BodyParser(&req); err != nil {
			return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "Invalid request"})
		}
		if req.SubjectID == "" {
			return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "subjectId required"})
		}

		meta, err := rooms.CreateRoom(c.UserContext(), host, req)
		if err != nil {
			return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{"error": err.Error()})
		}
		return c.Status(fiber.StatusCreated).JSON(meta)
	}
}

// GetRoomHandler returns stored metadata for a code together with the live
// room, when either exists.
func GetRoomHandler(rooms *services.RoomService, presence *services.PresenceService, playback *services.PlaybackService) fiber.Handler {
	return func(c *fiber.Ctx) error {
		code := room.NormalizeCode(c.Params("code"))

		meta, err := rooms.Lookup(c.UserContext(), code)
		switch {
		case errors.Is(err, services.ErrInvalidRoomCode):
			return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": err.Error()})
		case errors.Is(err, services.ErrRoomNotFound):
			meta = nil
		case err != nil:
			return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{"error": err.Error()})
		}

		resp := models.RoomResponse{Room: meta, Participants: []models.Participant{}}
		if participants, ok := presence.Participants(code); ok {
			resp.Live = true
			resp.Participants = participants
			if state, ok := playback.State(code); ok {
				resp.Playback = &state
			}
		}

		if resp.Room == nil && !resp.Live {
			return c.Status(fiber.StatusNotFound).JSON(fiber.Map{"error": services.ErrRoomNotFound.Error()})
		}
		return c.JSON(resp)
	}
}
