package config

import "time"

type Config struct {
	Server    ServerConfig
	Transport TransportConfig
	Presence  PresenceConfig
	Relay     RelayConfig
	Persist   PersistConfig
	Rooms     map[string]RoomConfig `mapstructure:"rooms"`
}

type ServerConfig struct {
	Address         string
	Auth            AuthConfig
	ConnectionLimit ConnectionLimitConfig `mapstructure:"connectionLimit"`
}

type AuthConfig struct {
	JWTSecret string `mapstructure:"jwtSecret"`
}

type ConnectionLimitConfig struct {
	MaxPerUser int    `mapstructure:"maxPerUser"`
	Mode       string `mapstructure:"mode"` // "reject" or "cycle"
}

type TransportConfig struct {
	ReadTimeout time.Duration `mapstructure:"readTimeout"`
}

type PresenceConfig struct {
	// How long a departure is held back after the last connection of an
	// identity drops, so page navigation doesn't flash "left"/"joined".
	GraceWindow time.Duration `mapstructure:"graceWindow"`
}

type RelayConfig struct {
	// Minimum interval between cursor broadcasts per connection. Excess
	// updates are dropped, not queued.
	CursorInterval time.Duration `mapstructure:"cursorInterval"`
}

type PersistConfig struct {
	RedisAddr string        `mapstructure:"redisAddr"`
	Channel   string        `mapstructure:"channel"`
	Debounce  time.Duration `mapstructure:"debounce"`
}

// RoomConfig is one entry of the static access table: who may join a
// workspace and with which role.
type RoomConfig struct {
	Public  bool              `mapstructure:"public"`
	Members map[string]string `mapstructure:"members"` // userID -> role name
}
