package room

import (
	"sort"
	"strings"
	"sync"
	"time"
)

// Registry owns every live room in the process. Rooms are created on first
// join and destroyed as soon as they are empty.
type Registry struct {
	mu          sync.Mutex
	rooms       map[string]*Room
	historySize int
	now         func() time.Time
}

// NewRegistry returns an empty registry whose rooms keep historySize chat
// messages. If historySize <= 0, DefaultHistorySize is used.
func NewRegistry(historySize int) *Registry {
	return NewRegistryWithClock(historySize, time.Now)
}

// NewRegistryWithClock is NewRegistry with an injectable clock for tests.
func NewRegistryWithClock(historySize int, now func() time.Time) *Registry {
	if historySize <= 0 {
		historySize = DefaultHistorySize
	}
	return &Registry{
		rooms:       make(map[string]*Room),
		historySize: historySize,
		now:         now,
	}
}

// NormalizeCode canonicalizes a user-typed room code.
func NormalizeCode(code string) string {
	return strings.ToUpper(strings.TrimSpace(code))
}

// GetOrCreate returns the live room for code, creating it if absent.
func (r *Registry) GetOrCreate(code string) *Room {
	r.mu.Lock()
	defer r.mu.Unlock()

	if rm, ok := r.rooms[code]; ok {
		return rm
	}
	rm := newRoom(code, r.now(), r.historySize)
	r.rooms[code] = rm
	return rm
}

// Get returns the live room for code.
func (r *Registry) Get(code string) (*Room, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	rm, ok := r.rooms[code]
	return rm, ok
}

// RemoveIfEmpty destroys the room for code when nobody is seated in it. The
// removed room is closed so that callers already holding it see
// ErrRoomClosed instead of mutating an orphan.
func (r *Registry) RemoveIfEmpty(code string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	rm, ok := r.rooms[code]
	if !ok {
		return false
	}
	rm.mu.Lock()
	defer rm.mu.Unlock()
	if rm.state.Len() > 0 {
		return false
	}
	rm.closed = true
	delete(r.rooms, code)
	return true
}

// Len returns the number of live rooms.
func (r *Registry) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.rooms)
}

// Codes lists live room codes in sorted order.
func (r *Registry) Codes() []string {
	r.mu.Lock()
	defer r.mu.Unlock()

	codes := make([]string, 0, len(r.rooms))
	for code := range r.rooms {
		codes = append(codes, code)
	}
	sort.Strings(codes)
	return codes
}
