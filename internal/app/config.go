package app

import (
	"time"

	"watchparty-backend/internal/handlers"
	"watchparty-backend/internal/room"
	"watchparty-backend/internal/services"
	"watchparty-backend/internal/utils"
)

// Config is read from the environment once at startup.
type Config struct {
	Host            string
	Port            string
	AllowedOrigins  string
	DatabaseURL     string
	JWTSecret       string
	TokenTTL        time.Duration
	RequireAuth     bool
	GuestAuth       bool
	HostOnlyControl bool
	ChatHistorySize int
	ChatMaxLength   int
	SendBuffer      int
	MetaTimeout     time.Duration
	ShutdownTimeout time.Duration
	LogLevel        string
	LogFormat       string
}

// LoadConfig reads Config from the environment, falling back to defaults.
func LoadConfig() Config {
	return Config{
		Host:            utils.GetEnv("HOST", ""),
		Port:            utils.GetEnv("PORT", "3001"),
		AllowedOrigins:  utils.GetEnv("ALLOWED_ORIGINS", "*"),
		DatabaseURL:     utils.GetEnv("DATABASE_URL", ""),
		JWTSecret:       utils.GetEnv("JWT_SECRET", "secret"),
		TokenTTL:        utils.GetEnvDuration("TOKEN_TTL", services.DefaultTokenTTL),
		RequireAuth:     utils.GetEnvBool("REQUIRE_AUTH", false),
		GuestAuth:       utils.GetEnvBool("GUEST_AUTH", true),
		HostOnlyControl: utils.GetEnvBool("HOST_ONLY_CONTROL", false),
		ChatHistorySize: utils.GetEnvInt("CHAT_HISTORY_SIZE", room.DefaultHistorySize),
		ChatMaxLength:   utils.GetEnvInt("CHAT_MAX_LENGTH", services.DefaultMaxMessageLength),
		SendBuffer:      utils.GetEnvInt("SEND_BUFFER", handlers.DefaultSendBuffer),
		MetaTimeout:     utils.GetEnvDuration("META_TIMEOUT", handlers.DefaultMetaTimeout),
		ShutdownTimeout: utils.GetEnvDuration("SHUTDOWN_TIMEOUT", 10*time.Second),
		LogLevel:        utils.GetEnv("LOG_LEVEL", "info"),
		LogFormat:       utils.GetEnv("LOG_FORMAT", "json"),
	}
}

// Addr is the listen address.
func (c Config) Addr() string {
	return c.Host + ":" + c.Port
}
