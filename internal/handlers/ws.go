package handlers

import (
	"strings"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/websocket/v2"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"watchparty-backend/internal/metrics"
	"watchparty-backend/internal/models"
	"watchparty-backend/internal/services"
)

const localsIdentity = "identity"

// DefaultMetaTimeout bounds the room metadata lookup made on join.
const DefaultMetaTimeout = 2 * time.Second

// Gateway owns the websocket side of the server: it binds connections to
// rooms and routes their frames to the room services.
type Gateway struct {
	Presence *services.PresenceService
	Playback *services.PlaybackService
	Chat     *services.ChatService
	Rooms    *services.RoomService
	Clients  *ClientManager
	Metrics  *metrics.Metrics
	Logger   *zap.Logger

	SendBuffer  int
	MetaTimeout time.Duration
}

// WebSocketHandler handles the websocket connection
func WebSocketHandler(g *Gateway) fiber.Handler {
	return websocket.New(func(c *websocket.Conn) {
		client := newClient(uuid.New().String(), c, g.SendBuffer, g.Metrics)
		if id, ok := c.Locals(localsIdentity).(models.Identity); ok {
			client.identity = id
			client.authed = true
		}

		g.Clients.Register(client)
		g.Metrics.ConnectionOpened()
		g.Logger.Debug("connection opened", zap.String("connection_id", client.id))

		go client.writePump(g.Logger)

		defer func() {
			if code := client.RoomCode(); code != "" {
				g.Presence.Leave(code, client.id)
			}
			client.close()
			<-client.done
			g.Clients.Unregister(client.id)
			g.Metrics.ConnectionClosed()
			g.Logger.Debug("connection closed", zap.String("connection_id", client.id))
		}()

		c.SetReadLimit(maxFrameSize)
		c.SetReadDeadline(time.Now().Add(readTimeout))
		c.SetPongHandler(func(string) error {
			c.SetReadDeadline(time.Now().Add(readTimeout))
			return nil
		})

		for {
			msgType, msg, err := c.ReadMessage()
			if err != nil {
				if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure, websocket.CloseNormalClosure) {
					g.Logger.Debug("read error", zap.String("connection_id", client.id), zap.Error(err))
				}
				break
			}
			// any inbound frame counts as liveness
			c.SetReadDeadline(time.Now().Add(readTimeout))

			g.HandleMessage(client, msgType, msg)
		}
	})
}

// WSUpgradeMiddleware upgrades the connection to WebSocket
func WSUpgradeMiddleware(c *fiber.Ctx) error {
	if websocket.IsWebSocketUpgrade(c) {
		c.Locals("allowed", true)
		return c.Next()
	}
	return fiber.ErrUpgradeRequired
}

func bearerToken(c *fiber.Ctx) string {
	// Get token from query param `access_token` or Authorization header
	token := c.Query("access_token")
	if token == "" {
		authHeader := c.Get("Authorization")
		if len(authHeader) > 7 && strings.EqualFold(authHeader[:7], "Bearer ") {
			token = authHeader[7:]
		}
	}
	return token
}

// AuthMiddleware verifies the JWT and stores the identity in locals. With
// required unset, a request without a token passes through anonymously; a
// token that is present must still be valid.
func AuthMiddleware(auth *services.AuthService, required bool) fiber.Handler {
	return func(c *fiber.Ctx) error {
		token := bearerToken(c)
		if token == "" {
			if required {
				return fiber.NewError(fiber.StatusUnauthorized, "Missing token")
			}
			return c.Next()
		}

		id, err := auth.ValidateToken(token)
		if err != nil {
			return fiber.NewError(fiber.StatusUnauthorized, "Invalid token")
		}
		c.Locals(localsIdentity, id)
		return c.Next()
	}
}

// identityFrom returns the identity set by AuthMiddleware.
func identityFrom(c *fiber.Ctx) (models.Identity, bool) {
	id, ok := c.Locals(localsIdentity).(models.Identity)
	return id, ok
}
