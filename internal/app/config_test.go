package app

import (
	"os"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"watchparty-backend/internal/handlers"
	"watchparty-backend/internal/room"
	"watchparty-backend/internal/services"
)

func TestLoadConfig_Defaults(t *testing.T) {
	for _, k := range []string{"HOST", "PORT", "REQUIRE_AUTH", "HOST_ONLY_CONTROL", "CHAT_HISTORY_SIZE", "CHAT_MAX_LENGTH", "SEND_BUFFER", "GUEST_AUTH", "TOKEN_TTL", "META_TIMEOUT", "DATABASE_URL"} {
		t.Setenv(k, "")
		os.Unsetenv(k)
	}
	cfg := LoadConfig()

	assert.Equal(t, ":3001", cfg.Addr())
	assert.False(t, cfg.RequireAuth)
	assert.True(t, cfg.GuestAuth)
	assert.False(t, cfg.HostOnlyControl)
	assert.Equal(t, room.DefaultHistorySize, cfg.ChatHistorySize)
	assert.Equal(t, services.DefaultMaxMessageLength, cfg.ChatMaxLength)
	assert.Equal(t, handlers.DefaultSendBuffer, cfg.SendBuffer)
	assert.Equal(t, services.DefaultTokenTTL, cfg.TokenTTL)
	assert.Equal(t, handlers.DefaultMetaTimeout, cfg.MetaTimeout)
}

func TestLoadConfig_Overrides(t *testing.T) {
	t.Setenv("HOST", "127.0.0.1")
	t.Setenv("PORT", "8080")
	t.Setenv("REQUIRE_AUTH", "true")
	t.Setenv("HOST_ONLY_CONTROL", "1")
	t.Setenv("CHAT_HISTORY_SIZE", "20")
	t.Setenv("TOKEN_TTL", "30m")
	t.Setenv("META_TIMEOUT", "bogus")

	cfg := LoadConfig()

	assert.Equal(t, "127.0.0.1:8080", cfg.Addr())
	assert.True(t, cfg.RequireAuth)
	assert.True(t, cfg.HostOnlyControl)
	assert.Equal(t, 20, cfg.ChatHistorySize)
	assert.Equal(t, 30*time.Minute, cfg.TokenTTL)
	assert.Equal(t, handlers.DefaultMetaTimeout, cfg.MetaTimeout, "unparsable values fall back")
}
