package syncagent

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"watchparty-backend/internal/models"
	"watchparty-backend/internal/utils"
)

// ErrJoinRejected is returned by Run when the server answers join-room
// with join-error.
var ErrJoinRejected = errors.New("join rejected")

const (
	DefaultSuppressWindow    = time.Second
	DefaultHeartbeatInterval = 5 * time.Second
	DefaultQueueSize         = 32
)

// Config describes the room an Agent joins and how it behaves.
type Config struct {
	RoomCode string
	User     models.Identity
	Passcode string

	// EpisodeRef is passed to Resolver together with the room's subject.
	EpisodeRef string
	Resolver   SourceResolver

	SuppressWindow    time.Duration
	HeartbeatInterval time.Duration
	QueueSize         int

	Logger *zap.Logger
	Now    func() time.Time
}

// Hooks are UI callbacks. Any of them may be nil. They run on the agent's
// read goroutine and must not block.
type Hooks struct {
	OnRoomState         func(models.RoomStatePayload)
	OnParticipants      func([]models.Participant)
	OnHostChanged       func(isHost bool)
	OnChat              func(models.ChatMessage)
	OnUserAction        func(models.UserActionEventPayload)
	OnBuffering         func(models.BufferingEventPayload)
	OnTapToSync         func()
	OnJoinError         func(models.JoinErrorPayload)
	OnSourceUnavailable func(error)
}

// Agent bridges one local Player and one room connection.
type Agent struct {
	player Player
	cfg    Config
	hooks  Hooks
	log    *zap.Logger
	now    func() time.Time

	mu           sync.Mutex
	transport    Transport
	// synced latches on the first room-state of a Run; joined follows once
	// the pre-join queue is drained
	synced       bool
	joined       bool
	remoteUntil  time.Time
	queue        [][]byte
	connID       string
	hostConnID   string
	participants []models.Participant
	// room playback as last known, with Timestamp on the local clock
	roomState    models.PlaybackState
	needsGesture bool
	sourceFailed bool
}

func New(player Player, cfg Config, hooks Hooks) *Agent {
	if cfg.SuppressWindow <= 0 {
		cfg.SuppressWindow = DefaultSuppressWindow
	}
	if cfg.HeartbeatInterval <= 0 {
		cfg.HeartbeatInterval = DefaultHeartbeatInterval
	}
	if cfg.QueueSize <= 0 {
		cfg.QueueSize = DefaultQueueSize
	}
	log := cfg.Logger
	if log == nil {
		log = zap.NewNop()
	}
	now := cfg.Now
	if now == nil {
		now = time.Now
	}
	return &Agent{player: player, cfg: cfg, hooks: hooks, log: log, now: now}
}

// Run joins the room over t and processes traffic until ctx ends or the
// connection fails. Each Run is a fresh join: the server sees a new
// participant, and the initial-sync latch, a pending tap-to-sync prompt and
// an earlier source failure are reset. Queued chat survives into the next Run.
func (a *Agent) Run(ctx context.Context, t Transport) error {
	a.mu.Lock()
	a.transport = t
	a.synced = false
	a.joined = false
	a.connID = ""
	a.hostConnID = ""
	a.participants = nil
	a.needsGesture = false
	a.sourceFailed = false
	a.mu.Unlock()

	defer func() {
		a.mu.Lock()
		a.transport = nil
		a.synced = false
		a.joined = false
		a.mu.Unlock()
	}()

	user := a.cfg.User
	join, err := models.EncodeMessage(models.EventJoinRoom, models.JoinRoomPayload{
		RoomCode: a.cfg.RoomCode,
		User:     &user,
		Passcode: a.cfg.Passcode,
	})
	if err != nil {
		return err
	}
	if err := t.Send(join); err != nil {
		return fmt.Errorf("send join: %w", err)
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		<-gctx.Done()
		return t.Close()
	})
	g.Go(func() error {
		return a.readLoop(gctx, t)
	})
	g.Go(func() error {
		return a.heartbeat(gctx)
	})

	err = g.Wait()
	if ctx.Err() != nil {
		return ctx.Err()
	}
	return err
}

func (a *Agent) readLoop(ctx context.Context, t Transport) error {
	for {
		frame, err := t.Receive()
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			return fmt.Errorf("receive: %w", err)
		}
		if err := a.handleFrame(ctx, frame); err != nil {
			return err
		}
	}
}

func (a *Agent) heartbeat(ctx context.Context) error {
	ticker := time.NewTicker(a.cfg.HeartbeatInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			a.SendHeartbeat()
		}
	}
}

// SendHeartbeat reports the player position with sync-position when this
// client is host. It reports whether anything was sent.
func (a *Agent) SendHeartbeat() bool {
	a.mu.Lock()
	ok := a.joined && a.connID != "" && a.connID == a.hostConnID && !a.sourceFailed
	a.mu.Unlock()
	if !ok {
		return false
	}
	a.send(models.EventSyncPosition, models.SyncPositionPayload{
		RoomCode:  a.cfg.RoomCode,
		Time:      a.player.CurrentTime(),
		IsPlaying: !a.player.Paused(),
	})
	return true
}

// LocalPlay reports a play started on the local player. It returns false
// when the event was caused by the room and therefore not sent.
func (a *Agent) LocalPlay() bool {
	return a.emitPlayback(models.EventPlay, a.player.CurrentTime())
}

func (a *Agent) LocalPause() bool {
	return a.emitPlayback(models.EventPause, a.player.CurrentTime())
}

func (a *Agent) LocalSeek(seconds float64) bool {
	return a.emitPlayback(models.EventSeek, seconds)
}

func (a *Agent) emitPlayback(event string, seconds float64) bool {
	if a.isRemote() {
		a.log.Debug("suppressed echo", zap.String("event", event))
		return false
	}
	a.mu.Lock()
	now := a.now()
	switch event {
	case models.EventPlay:
		a.roomState = models.PlaybackState{CurrentPosition: seconds, IsPlaying: true, Timestamp: now.UnixMilli()}
	case models.EventPause:
		a.roomState = models.PlaybackState{CurrentPosition: seconds, IsPlaying: false, Timestamp: now.UnixMilli()}
	case models.EventSeek:
		a.roomState.CurrentPosition = seconds
		a.roomState.Timestamp = now.UnixMilli()
	}
	a.mu.Unlock()

	a.send(event, models.PlaybackPayload{RoomCode: a.cfg.RoomCode, Time: seconds})
	return true
}

// LocalBuffering reports the local player stalling or recovering.
func (a *Agent) LocalBuffering(buffering bool) {
	a.send(models.EventBuffering, models.BufferingPayload{RoomCode: a.cfg.RoomCode, IsBuffering: buffering})
}

func (a *Agent) SendChat(text string) {
	a.send(models.EventChatMessage, models.ChatPayload{RoomCode: a.cfg.RoomCode, Message: text})
}

func (a *Agent) SendUserAction(action, text string) {
	a.send(models.EventUserAction, models.UserActionPayload{RoomCode: a.cfg.RoomCode, Action: action, Message: text})
}

// UserGesture retries playback after the platform blocked autoplay. It is a
// no-op unless a tap-to-sync prompt is pending.
func (a *Agent) UserGesture(ctx context.Context) error {
	a.mu.Lock()
	if !a.needsGesture {
		a.mu.Unlock()
		return nil
	}
	a.needsGesture = false
	state := a.roomState
	a.mu.Unlock()

	a.markRemote()
	if err := a.player.Seek(state.PositionAt(a.now())); err != nil {
		return err
	}
	if !state.IsPlaying {
		return nil
	}
	return a.play(ctx)
}

// send delivers an envelope now, or queues it until the join completes.
// When the queue is full the oldest entry is dropped. Playback events from
// before the initial sync are discarded: the room's state replaces them.
func (a *Agent) send(event string, payload interface{}) {
	frame, err := models.EncodeMessage(event, payload)
	if err != nil {
		utils.LogError(a.log, err, "encode "+event)
		return
	}

	a.mu.Lock()
	t := a.transport
	if t == nil || !a.joined {
		if !a.synced && isPlaybackEvent(event) {
			a.mu.Unlock()
			a.log.Debug("discarded pre-join playback event", zap.String("event", event))
			return
		}
		if len(a.queue) >= a.cfg.QueueSize {
			a.queue = a.queue[1:]
		}
		a.queue = append(a.queue, frame)
		a.mu.Unlock()
		return
	}
	a.mu.Unlock()

	if err := t.Send(frame); err != nil {
		a.log.Debug("send failed", zap.String("event", event), zap.Error(err))
	}
}

// flushQueue drains the queue and only then marks the agent joined. Sends
// racing with the drain keep queuing behind it, so order is preserved.
func (a *Agent) flushQueue() {
	for {
		a.mu.Lock()
		t := a.transport
		if t == nil {
			a.mu.Unlock()
			return
		}
		queued := a.queue
		a.queue = nil
		if len(queued) == 0 {
			a.joined = true
			a.mu.Unlock()
			return
		}
		a.mu.Unlock()

		for _, frame := range queued {
			if err := t.Send(frame); err != nil {
				a.log.Debug("flush failed", zap.Error(err))
				break
			}
		}
	}
}

func isPlaybackEvent(event string) bool {
	switch event {
	case models.EventPlay, models.EventPause, models.EventSeek, models.EventSyncPosition:
		return true
	}
	return false
}

func (a *Agent) isRemote() bool {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.now().Before(a.remoteUntil)
}

// markRemote opens the suppression window. It closes on its own after
// SuppressWindow whether or not the player finished reacting.
func (a *Agent) markRemote() {
	a.mu.Lock()
	a.remoteUntil = a.now().Add(a.cfg.SuppressWindow)
	a.mu.Unlock()
}

func (a *Agent) play(ctx context.Context) error {
	err := a.player.Play(ctx)
	if errors.Is(err, ErrAutoplayBlocked) {
		a.mu.Lock()
		a.needsGesture = true
		a.mu.Unlock()
		if a.hooks.OnTapToSync != nil {
			a.hooks.OnTapToSync()
		}
		return nil
	}
	return err
}

func (a *Agent) handleFrame(ctx context.Context, frame []byte) error {
	var msg models.WSMessage
	if err := utils.SafeJSONParse(frame, &msg); err != nil {
		a.log.Debug("malformed frame", zap.Error(err))
		return nil
	}

	switch msg.Event {
	case models.EventRoomState:
		var p models.RoomStatePayload
		if err := utils.SafeJSONParse(msg.Payload, &p); err != nil {
			return nil
		}
		a.handleRoomState(ctx, p)
	case models.EventPlay, models.EventPause, models.EventSeek:
		var p models.PlaybackEventPayload
		if err := utils.SafeJSONParse(msg.Payload, &p); err != nil {
			return nil
		}
		a.handleRemotePlayback(ctx, msg.Event, p)
	case models.EventUserJoined:
		var p models.Participant
		if err := utils.SafeJSONParse(msg.Payload, &p); err != nil {
			return nil
		}
		a.updateParticipants(func(list []models.Participant) []models.Participant {
			return append(list, p)
		})
	case models.EventUserLeft:
		var p models.UserLeftPayload
		if err := utils.SafeJSONParse(msg.Payload, &p); err != nil {
			return nil
		}
		a.updateParticipants(func(list []models.Participant) []models.Participant {
			out := list[:0]
			for _, q := range list {
				if q.ConnectionID != p.ConnectionID {
					out = append(out, q)
				}
			}
			return out
		})
	case models.EventHostTransferred:
		var p models.HostTransferredPayload
		if err := utils.SafeJSONParse(msg.Payload, &p); err != nil {
			return nil
		}
		a.setHost(p.ConnectionID)
	case models.EventChatMessage:
		var p models.ChatMessage
		if err := utils.SafeJSONParse(msg.Payload, &p); err == nil && a.hooks.OnChat != nil {
			a.hooks.OnChat(p)
		}
	case models.EventUserAction:
		var p models.UserActionEventPayload
		if err := utils.SafeJSONParse(msg.Payload, &p); err == nil && a.hooks.OnUserAction != nil {
			a.hooks.OnUserAction(p)
		}
	case models.EventBuffering:
		var p models.BufferingEventPayload
		if err := utils.SafeJSONParse(msg.Payload, &p); err == nil && a.hooks.OnBuffering != nil {
			a.hooks.OnBuffering(p)
		}
	case models.EventJoinError:
		var p models.JoinErrorPayload
		_ = utils.SafeJSONParse(msg.Payload, &p)
		if a.hooks.OnJoinError != nil {
			a.hooks.OnJoinError(p)
		}
		return fmt.Errorf("%w: %s", ErrJoinRejected, p.Code)
	default:
		a.log.Debug("unhandled event", zap.String("event", msg.Event))
	}
	return nil
}

func (a *Agent) handleRoomState(ctx context.Context, p models.RoomStatePayload) {
	now := a.now()
	state := p.Playback
	if p.ServerTime > 0 {
		// move the server timestamp onto the local clock
		state.Timestamp += now.UnixMilli() - p.ServerTime
	}

	a.mu.Lock()
	first := !a.synced
	a.synced = true
	if p.ConnectionID != "" {
		a.connID = p.ConnectionID
	}
	a.participants = append([]models.Participant(nil), p.Participants...)
	a.hostConnID = ""
	for _, q := range p.Participants {
		if q.IsHost {
			a.hostConnID = q.ConnectionID
		}
	}
	isHost := a.connID != "" && a.connID == a.hostConnID
	if first {
		a.roomState = state
	}
	a.mu.Unlock()

	if a.hooks.OnRoomState != nil {
		a.hooks.OnRoomState(p)
	}
	if a.hooks.OnParticipants != nil {
		a.hooks.OnParticipants(a.Participants())
	}
	if !first {
		// the player has moved on since the join; never re-seek
		return
	}
	if a.hooks.OnHostChanged != nil {
		a.hooks.OnHostChanged(isHost)
	}

	if err := a.loadSource(ctx, p.Room); err != nil {
		a.mu.Lock()
		a.sourceFailed = true
		a.mu.Unlock()
		a.log.Warn("playback source unavailable", zap.String("subject_id", p.Room.SubjectID), zap.Error(err))
		if a.hooks.OnSourceUnavailable != nil {
			a.hooks.OnSourceUnavailable(err)
		}
	} else {
		a.applyInitialSync(ctx, state)
	}
	a.flushQueue()
}

func (a *Agent) loadSource(ctx context.Context, info models.RoomInfo) error {
	if a.cfg.Resolver == nil || info.SubjectID == "" {
		return nil
	}
	src, err := a.cfg.Resolver.Resolve(ctx, info.SubjectID, a.cfg.EpisodeRef)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrSourceUnavailable, err)
	}
	if loader, ok := a.player.(Loader); ok {
		if err := loader.Load(ctx, src); err != nil {
			return fmt.Errorf("%w: %v", ErrSourceUnavailable, err)
		}
	}
	return nil
}

func (a *Agent) applyInitialSync(ctx context.Context, state models.PlaybackState) {
	pos := state.PositionAt(a.now())
	a.markRemote()
	if err := a.player.Seek(pos); err != nil {
		utils.LogError(a.log, err, "initial seek")
		return
	}
	if state.IsPlaying {
		if err := a.play(ctx); err != nil {
			utils.LogError(a.log, err, "initial play")
		}
		return
	}
	if err := a.player.Pause(); err != nil {
		utils.LogError(a.log, err, "initial pause")
	}
}

func (a *Agent) handleRemotePlayback(ctx context.Context, event string, p models.PlaybackEventPayload) {
	a.mu.Lock()
	if a.sourceFailed {
		a.mu.Unlock()
		return
	}
	now := a.now().UnixMilli()
	switch event {
	case models.EventPlay:
		a.roomState = models.PlaybackState{CurrentPosition: p.Time, IsPlaying: true, Timestamp: now, LastActionBy: p.ConnectionID}
	case models.EventPause:
		a.roomState = models.PlaybackState{CurrentPosition: p.Time, IsPlaying: false, Timestamp: now, LastActionBy: p.ConnectionID}
	case models.EventSeek:
		a.roomState.CurrentPosition = p.Time
		a.roomState.Timestamp = now
		a.roomState.LastActionBy = p.ConnectionID
	}
	a.mu.Unlock()

	// set before touching the player so its own events are swallowed
	a.markRemote()

	var err error
	switch event {
	case models.EventPlay:
		if err = a.player.Seek(p.Time); err == nil {
			err = a.play(ctx)
		}
	case models.EventPause:
		if err = a.player.Pause(); err == nil {
			err = a.player.Seek(p.Time)
		}
	case models.EventSeek:
		err = a.player.Seek(p.Time)
	}
	if err != nil {
		utils.LogError(a.log, err, "apply remote "+event)
	}
}

func (a *Agent) updateParticipants(fn func([]models.Participant) []models.Participant) {
	a.mu.Lock()
	a.participants = fn(a.participants)
	a.mu.Unlock()
	if a.hooks.OnParticipants != nil {
		a.hooks.OnParticipants(a.Participants())
	}
}

func (a *Agent) setHost(connID string) {
	a.mu.Lock()
	wasHost := a.connID != "" && a.connID == a.hostConnID
	a.hostConnID = connID
	for i := range a.participants {
		a.participants[i].IsHost = a.participants[i].ConnectionID == connID
	}
	isHost := a.connID != "" && a.connID == connID
	a.mu.Unlock()

	if a.hooks.OnParticipants != nil {
		a.hooks.OnParticipants(a.Participants())
	}
	if wasHost != isHost && a.hooks.OnHostChanged != nil {
		a.hooks.OnHostChanged(isHost)
	}
}

// Participants returns the agent's view of the room, in join order.
func (a *Agent) Participants() []models.Participant {
	a.mu.Lock()
	defer a.mu.Unlock()
	return append([]models.Participant(nil), a.participants...)
}

// IsHost reports whether this connection is the room's host.
func (a *Agent) IsHost() bool {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.connID != "" && a.connID == a.hostConnID
}

// ConnectionID is the id the server assigned to this connection.
func (a *Agent) ConnectionID() string {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.connID
}

// Joined reports whether the initial room-state has been applied.
func (a *Agent) Joined() bool {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.joined
}

// NeedsGesture reports whether a tap-to-sync prompt is pending.
func (a *Agent) NeedsGesture() bool {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.needsGesture
}

// QueueLen is the number of envelopes waiting for the join to complete.
func (a *Agent) QueueLen() int {
	a.mu.Lock()
	defer a.mu.Unlock()
	return len(a.queue)
}
