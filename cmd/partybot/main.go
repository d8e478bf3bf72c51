// Command partybot joins a watch-party room with a simulated player. It is
// used for demos and for soaking a server with scripted viewers.
package main

import (
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"math/rand"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/gofiber/fiber/v2"
	"go.uber.org/zap"

	"watchparty-backend/internal/models"
	"watchparty-backend/internal/syncagent"
	"watchparty-backend/internal/utils"
)

type guestResponse struct {
	Token string          `json:"token"`
	User  models.Identity `json:"user"`
}

func main() {
	server := flag.String("server", utils.GetEnv("PARTYBOT_SERVER", "http://localhost:3001"), "server base URL")
	roomCode := flag.String("room", "", "room code to join")
	name := flag.String("name", "partybot", "display name")
	passcode := flag.String("passcode", "", "room passcode")
	say := flag.String("say", "", "chat message to post after joining")
	drive := flag.Duration("drive", 0, "when host, act on the player at this interval")
	logLevel := flag.String("log-level", utils.GetEnv("LOG_LEVEL", "info"), "log level")
	flag.Parse()

	log, err := utils.NewLogger(*logLevel, "console")
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
	defer log.Sync()

	if *roomCode == "" {
		log.Fatal("-room is required")
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, log, *server, *roomCode, *name, *passcode, *say, *drive); err != nil && !errors.Is(err, context.Canceled) {
		log.Fatal("partybot stopped", zap.Error(err))
	}
}

func run(ctx context.Context, log *zap.Logger, server, roomCode, name, passcode, say string, drive time.Duration) error {
	guest, err := fetchGuest(server, name)
	if err != nil {
		return fmt.Errorf("guest auth: %w", err)
	}
	log.Info("authenticated", zap.String("user_id", guest.User.ID))

	player := syncagent.NewSimulatedPlayer(nil)
	var agent *syncagent.Agent
	agent = syncagent.New(player, syncagent.Config{
		RoomCode: roomCode,
		User:     guest.User,
		Passcode: passcode,
		Logger:   log,
	}, syncagent.Hooks{
		OnRoomState: func(p models.RoomStatePayload) {
			log.Info("joined room",
				zap.String("room_code", p.Room.Code),
				zap.Int("participants", len(p.Participants)),
				zap.Float64("position", p.Playback.CurrentPosition),
				zap.Bool("playing", p.Playback.IsPlaying))
			if say != "" {
				agent.SendChat(say)
			}
		},
		OnHostChanged: func(isHost bool) {
			log.Info("host status", zap.Bool("is_host", isHost))
		},
		OnChat: func(m models.ChatMessage) {
			log.Info("chat", zap.String("from", m.DisplayName), zap.String("message", m.Message))
		},
		OnUserAction: func(p models.UserActionEventPayload) {
			log.Info("notice", zap.String("from", p.DisplayName), zap.String("action", p.Action))
		},
		OnTapToSync: func() {
			log.Warn("autoplay blocked, retrying as a gesture")
			go agent.UserGesture(ctx)
		},
		OnJoinError: func(p models.JoinErrorPayload) {
			log.Error("join rejected", zap.String("code", p.Code), zap.String("message", p.Message))
		},
	})

	player.OnPlay = func() { agent.LocalPlay() }
	player.OnPause = func() { agent.LocalPause() }
	player.OnSeek = func(seconds float64) { agent.LocalSeek(seconds) }

	transport, err := syncagent.Dial(ctx, wsURL(server), guest.Token)
	if err != nil {
		return fmt.Errorf("dial: %w", err)
	}

	if drive > 0 {
		go driveWhileHost(ctx, log, agent, player, drive)
	}
	return agent.Run(ctx, transport)
}

// driveWhileHost plays, pauses and seeks at random while this bot is host.
func driveWhileHost(ctx context.Context, log *zap.Logger, agent *syncagent.Agent, player *syncagent.SimulatedPlayer, every time.Duration) {
	ticker := time.NewTicker(every)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
		if !agent.IsHost() {
			continue
		}
		switch rand.Intn(3) {
		case 0:
			if player.Paused() {
				_ = player.Play(ctx)
			} else {
				_ = player.Pause()
			}
		case 1:
			_ = player.Seek(player.CurrentTime() + float64(rand.Intn(60)-20))
		case 2:
			agent.SendUserAction("skip", "skipped around")
		}
		log.Debug("drove player", zap.Float64("position", player.CurrentTime()), zap.Bool("paused", player.Paused()))
	}
}

func fetchGuest(server, name string) (guestResponse, error) {
	var out guestResponse
	a := fiber.Post(strings.TrimRight(server, "/") + "/api/auth/guest")
	a.JSON(fiber.Map{"displayName": name})
	code, body, errs := a.Bytes()
	if len(errs) > 0 {
		return out, errs[0]
	}
	if code != fiber.StatusCreated {
		return out, fmt.Errorf("unexpected status %d: %s", code, body)
	}
	if err := json.Unmarshal(body, &out); err != nil {
		return out, err
	}
	return out, nil
}

func wsURL(server string) string {
	server = strings.TrimRight(server, "/")
	switch {
	case strings.HasPrefix(server, "https://"):
		server = "wss://" + strings.TrimPrefix(server, "https://")
	case strings.HasPrefix(server, "http://"):
		server = "ws://" + strings.TrimPrefix(server, "http://")
	}
	return server + "/ws"
}
