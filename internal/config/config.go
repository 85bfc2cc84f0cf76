package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"
	"github.com/spf13/viper"
)

const EnvPrefix = "LIVECORE"

type Config struct {
	Mode     string `mapstructure:"mode"`
	Port     int    `mapstructure:"port"`
	Secret   string `mapstructure:"secret"`
	LogLevel string `mapstructure:"log_level"`
	// Device is the capture profile: desktop or mobile.
	Device string `mapstructure:"device"`

	User    UserConfig    `mapstructure:"user"`
	Capture CaptureConfig `mapstructure:"capture"`
	Signal  SignalConfig  `mapstructure:"signal"`
	REST    RESTConfig    `mapstructure:"rest"`
	Redis   RedisConfig   `mapstructure:"redis"`
	ICE     ICEConfig     `mapstructure:"ice"`
	Session SessionConfig `mapstructure:"session"`
	PK      PKConfig      `mapstructure:"pk"`
	Overlay OverlayConfig `mapstructure:"overlay"`
}

type UserConfig struct {
	ID   string `mapstructure:"id"`
	Name string `mapstructure:"name"`
}

type CaptureConfig struct {
	Deny     string `mapstructure:"deny"`
	NoCamera bool   `mapstructure:"no_camera"`
}

type SignalConfig struct {
	URL               string        `mapstructure:"url"`
	ReconnectDelay    time.Duration `mapstructure:"reconnect_delay"`
	ReconnectMaxDelay time.Duration `mapstructure:"reconnect_max_delay"`
	ReconnectAttempts int           `mapstructure:"reconnect_attempts"`
	SendBuffer        int           `mapstructure:"send_buffer"`
	PingPeriod        time.Duration `mapstructure:"ping_period"`
}

type RESTConfig struct {
	BaseURL string        `mapstructure:"base_url"`
	Token   string        `mapstructure:"token"`
	Timeout time.Duration `mapstructure:"timeout"`
}

// RedisConfig: an empty Addr disables the metadata cache.
type RedisConfig struct {
	Addr string        `mapstructure:"addr"`
	TTL  time.Duration `mapstructure:"ttl"`
}

type ICEConfig struct {
	Mode         string   `mapstructure:"mode"`
	STUNURLs     []string `mapstructure:"stun_urls"`
	TURNURLs     []string `mapstructure:"turn_urls"`
	TURNUsername string   `mapstructure:"turn_username"`
	TURNPassword string   `mapstructure:"turn_password"`
}

type SessionConfig struct {
	ConnectTimeout     time.Duration `mapstructure:"connect_timeout"`
	EndAckTimeout      time.Duration `mapstructure:"end_ack_timeout"`
	AcquireTimeout     time.Duration `mapstructure:"acquire_timeout"`
	SeatRequestTimeout time.Duration `mapstructure:"seat_request_timeout"`
	MaxReconnects      int           `mapstructure:"max_reconnects"`
}

type PKConfig struct {
	AcceptWindow time.Duration `mapstructure:"accept_window"`
	Tick         time.Duration `mapstructure:"tick"`
}

type OverlayConfig struct {
	ChatCap    int           `mapstructure:"chat_cap"`
	GiftCap    int           `mapstructure:"gift_cap"`
	ChatRate   int           `mapstructure:"chat_rate"`
	ChatWindow time.Duration `mapstructure:"chat_window"`
}

// SetDefaults registers every key, which also makes each one reachable
// through LIVECORE_* environment variables.
func SetDefaults(v *viper.Viper) {
	v.SetDefault("mode", "release")
	v.SetDefault("port", 8080)
	v.SetDefault("secret", "")
	v.SetDefault("log_level", "info")
	v.SetDefault("device", "desktop")

	v.SetDefault("user.id", "")
	v.SetDefault("user.name", "guest")
	v.SetDefault("capture.deny", "")
	v.SetDefault("capture.no_camera", false)

	v.SetDefault("signal.url", "ws://localhost:3000/ws")
	v.SetDefault("signal.reconnect_delay", "500ms")
	v.SetDefault("signal.reconnect_max_delay", "10s")
	v.SetDefault("signal.reconnect_attempts", 10)
	v.SetDefault("signal.send_buffer", 64)
	v.SetDefault("signal.ping_period", "20s")

	v.SetDefault("rest.base_url", "http://localhost:3000/api")
	v.SetDefault("rest.token", "")
	v.SetDefault("rest.timeout", "5s")

	v.SetDefault("redis.addr", "")
	v.SetDefault("redis.ttl", "2m")

	v.SetDefault("ice.mode", "stun")
	v.SetDefault("ice.stun_urls", []string{"stun:stun.l.google.com:19302"})
	v.SetDefault("ice.turn_urls", []string{})
	v.SetDefault("ice.turn_username", "")
	v.SetDefault("ice.turn_password", "")

	v.SetDefault("session.connect_timeout", "15s")
	v.SetDefault("session.end_ack_timeout", "3s")
	v.SetDefault("session.acquire_timeout", "10s")
	v.SetDefault("session.seat_request_timeout", "60s")
	v.SetDefault("session.max_reconnects", 3)

	v.SetDefault("pk.accept_window", "30s")
	v.SetDefault("pk.tick", "1s")

	v.SetDefault("overlay.chat_cap", 100)
	v.SetDefault("overlay.gift_cap", 20)
	v.SetDefault("overlay.chat_rate", 5)
	v.SetDefault("overlay.chat_window", "10s")
}

// Load reads config/config.<CONFIG_ENV>.yaml (dev by default) on top of the
// defaults; environment variables win over the file. Flags bound into v win
// over both.
func Load(v *viper.Viper) (*Config, error) {
	v.SetConfigType("yaml")

	env := os.Getenv("CONFIG_ENV")
	if env == "" {
		env = "dev"
	}
	fileName := fmt.Sprintf("config/config.%s.yaml", env)
	if v.ConfigFileUsed() == "" {
		v.SetConfigFile(fileName)
	}

	SetDefaults(v)
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if err := v.ReadInConfig(); err != nil {
		log.Warn().Str("module", "config").Str("file", v.ConfigFileUsed()).Msg("config file not found, using defaults")
	} else {
		log.Info().Str("module", "config").Str("file", v.ConfigFileUsed()).Msg("loaded config")
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}
	if cfg.User.ID == "" {
		cfg.User.ID = uuid.NewString()
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	log.Info().Str("module", "config").Str("mode", cfg.Mode).Int("port", cfg.Port).
		Str("signal", cfg.Signal.URL).Str("user", cfg.User.ID).Msg("config ready")
	return &cfg, nil
}

func (c *Config) Validate() error {
	if c.Port <= 0 || c.Port > 65535 {
		return fmt.Errorf("port %d out of range", c.Port)
	}
	switch c.Device {
	case "desktop", "mobile":
	default:
		return fmt.Errorf("device must be desktop or mobile, got %q", c.Device)
	}
	switch strings.ToLower(c.ICE.Mode) {
	case "stun", "none":
	case "turn":
		if len(c.ICE.TURNURLs) == 0 {
			return fmt.Errorf("ice.mode turn needs ice.turn_urls")
		}
	default:
		return fmt.Errorf("unknown ice.mode %q", c.ICE.Mode)
	}
	if c.Signal.URL == "" {
		return fmt.Errorf("signal.url is required")
	}
	if c.Overlay.ChatRate <= 0 || c.Overlay.ChatWindow <= 0 {
		return fmt.Errorf("overlay.chat_rate and overlay.chat_window must be positive")
	}
	return nil
}
