package services

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	nanoid "github.com/jaevor/go-nanoid"
	"golang.org/x/crypto/bcrypt"

	"watchparty-backend/internal/models"
	"watchparty-backend/internal/room"
	"watchparty-backend/internal/utils"
)

var (
	ErrRoomExists    = errors.New("room code already taken")
	ErrRoomNotFound  = errors.New("room not found")
	ErrWrongPasscode = errors.New("wrong passcode")
)

const (
	// RoomCodeAlphabet leaves out 0/O and 1/I so codes can be read aloud.
	RoomCodeAlphabet = "ABCDEFGHJKLMNPQRSTUVWXYZ23456789"
	RoomCodeLength   = 6

	maxCodeAttempts = 5
	maxTitleLength  = 200
	maxSubjectLen   = 128
)

// RoomStore keeps room metadata. Live state is never stored here.
type RoomStore interface {
	Create(ctx context.Context, meta *models.RoomMeta) error
	GetByCode(ctx context.Context, code string) (*models.RoomMeta, error)
}

// MemoryRoomStore is the RoomStore used when no database is configured.
type MemoryRoomStore struct {
	mu    sync.RWMutex
	rooms map[string]models.RoomMeta
}

func NewMemoryRoomStore() *MemoryRoomStore {
	return &MemoryRoomStore{rooms: make(map[string]models.RoomMeta)}
}

func (s *MemoryRoomStore) Create(ctx context.Context, meta *models.RoomMeta) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.rooms[meta.Code]; ok {
		return ErrRoomExists
	}
	s.rooms[meta.Code] = *meta
	return nil
}

func (s *MemoryRoomStore) GetByCode(ctx context.Context, code string) (*models.RoomMeta, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	meta, ok := s.rooms[code]
	if !ok {
		return nil, ErrRoomNotFound
	}
	return &meta, nil
}

// PgRoomStore keeps room metadata in the rooms table.
type PgRoomStore struct {
	pool *pgxpool.Pool
}

func NewPgRoomStore(pool *pgxpool.Pool) *PgRoomStore {
	return &PgRoomStore{pool: pool}
}

func (s *PgRoomStore) Create(ctx context.Context, meta *models.RoomMeta) error {
	query := `INSERT INTO rooms (room_code, host_id, subject_id, subject_type, title, passcode_hash)
		VALUES ($1, $2, $3, $4, $5, $6) RETURNING created_at`
	err := s.pool.QueryRow(ctx, query,
		meta.Code, meta.HostID, meta.SubjectID, meta.SubjectType, meta.Title, meta.PasscodeHash,
	).Scan(&meta.CreatedAt)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == "23505" {
			return ErrRoomExists
		}
		return fmt.Errorf("insert room: %w", err)
	}
	return nil
}

func (s *PgRoomStore) GetByCode(ctx context.Context, code string) (*models.RoomMeta, error) {
	var meta models.RoomMeta
	query := `SELECT room_code, host_id, subject_id, subject_type, title, passcode_hash, created_at
		FROM rooms WHERE room_code = $1`
	err := s.pool.QueryRow(ctx, query, code).Scan(
		&meta.Code, &meta.HostID, &meta.SubjectID, &meta.SubjectType,
		&meta.Title, &meta.PasscodeHash, &meta.CreatedAt,
	)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrRoomNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("select room: %w", err)
	}
	meta.HasPasscode = meta.PasscodeHash != ""
	return &meta, nil
}

// RoomService creates shareable rooms and answers metadata lookups for the
// gateway. It does not touch live rooms.
type RoomService struct {
	store   RoomStore
	newCode func() string
	now     func() time.Time
}

func NewRoomService(store RoomStore) (*RoomService, error) {
	gen, err := nanoid.CustomASCII(RoomCodeAlphabet, RoomCodeLength)
	if err != nil {
		return nil, fmt.Errorf("room code generator: %w", err)
	}
	return &RoomService{store: store, newCode: gen, now: time.Now}, nil
}

// CreateRoom stores metadata for a new room hosted by host. Code collisions
// are retried a few times before giving up.
func (s *RoomService) CreateRoom(ctx context.Context, host models.Identity, req models.CreateRoomRequest) (*models.RoomMeta, error) {
	meta := &models.RoomMeta{
		HostID:      host.ID,
		SubjectID:   utils.SanitizeString(req.SubjectID, maxSubjectLen),
		SubjectType: utils.SanitizeString(req.SubjectType, maxSubjectLen),
		Title:       utils.SanitizeString(req.Title, maxTitleLength),
		CreatedAt:   s.now().UTC(),
	}
	if passcode := strings.TrimSpace(req.Passcode); passcode != "" {
		hash, err := bcrypt.GenerateFromPassword([]byte(passcode), bcrypt.DefaultCost)
		if err != nil {
			return nil, err
		}
		meta.PasscodeHash = string(hash)
		meta.HasPasscode = true
	}

	for attempt := 0; attempt < maxCodeAttempts; attempt++ {
		meta.Code = s.newCode()
		err := s.store.Create(ctx, meta)
		if errors.Is(err, ErrRoomExists) {
			continue
		}
		if err != nil {
			return nil, err
		}
		return meta, nil
	}
	return nil, fmt.Errorf("create room after %d attempts: %w", maxCodeAttempts, ErrRoomExists)
}

// Lookup returns the metadata stored for code, if any.
func (s *RoomService) Lookup(ctx context.Context, code string) (*models.RoomMeta, error) {
	code = room.NormalizeCode(code)
	if code == "" || len(code) > MaxRoomCodeLength {
		return nil, ErrInvalidRoomCode
	}
	return s.store.GetByCode(ctx, code)
}

// CheckPasscode reports ErrWrongPasscode unless passcode opens meta. Rooms
// without a passcode admit everyone.
func (s *RoomService) CheckPasscode(meta *models.RoomMeta, passcode string) error {
	if meta == nil || meta.PasscodeHash == "" {
		return nil
	}
	if err := bcrypt.CompareHashAndPassword([]byte(meta.PasscodeHash), []byte(strings.TrimSpace(passcode))); err != nil {
		return ErrWrongPasscode
	}
	return nil
}
