package config

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/rs/zerolog/log"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"

	"github.com/dkeye/mentor/internal/domain"
)

type Config struct {
	Mode       string           `mapstructure:"mode"`
	Port       int              `mapstructure:"port"`
	Secret     string           `mapstructure:"secret"`
	AutoCreate bool             `mapstructure:"auto_create"`
	Log        LogConfig        `mapstructure:"log"`
	Service    ServiceConfig    `mapstructure:"service"`
	Signal     SignalConfig     `mapstructure:"signal"`
	Audio      AudioConfig      `mapstructure:"audio"`
	Session    SessionConfig    `mapstructure:"session"`
	User       UserConfig       `mapstructure:"user"`
	Chat       ChatConfig       `mapstructure:"chat"`
	Whiteboard WhiteboardConfig `mapstructure:"whiteboard"`
	Retry      RetryConfig      `mapstructure:"retry"`
	WebRTC     WebRTCConfig     `mapstructure:"webrtc"`
}

type LogConfig struct {
	Level string `mapstructure:"level"`
}

// ServiceConfig points at the hosted mentor backend.
type ServiceConfig struct {
	FunctionsURL string `mapstructure:"functions_url"`
	WSURL        string `mapstructure:"ws_url"`
	AnonKey      string `mapstructure:"anon_key"`
}

type SignalConfig struct {
	ReadLimit    int64         `mapstructure:"read_limit"`
	PingPeriod   time.Duration `mapstructure:"ping_period"`
	WriteTimeout time.Duration `mapstructure:"write_timeout"`
	SendBuffer   int           `mapstructure:"send_buffer"`
}

type AudioConfig struct {
	// Output is "device" or "clock".
	Output                 string  `mapstructure:"output"`
	Volume                 float64 `mapstructure:"volume"`
	Muted                  bool    `mapstructure:"muted"`
	DecodeFailureThreshold int     `mapstructure:"decode_failure_threshold"`
}

type SessionConfig struct {
	Type              string `mapstructure:"type"`
	ContextPage       string `mapstructure:"context_page"`
	VoiceEnabled      bool   `mapstructure:"voice_enabled"`
	AvatarEnabled     bool   `mapstructure:"avatar_enabled"`
	WhiteboardEnabled bool   `mapstructure:"whiteboard_enabled"`
	RecordingEnabled  bool   `mapstructure:"recording_enabled"`
}

type UserConfig struct {
	ID   string `mapstructure:"id"`
	Name string `mapstructure:"name"`
}

type ChatConfig struct {
	RateLimit    int           `mapstructure:"rate_limit"`
	RateInterval time.Duration `mapstructure:"rate_interval"`
}

type WhiteboardConfig struct {
	Width  int `mapstructure:"width"`
	Height int `mapstructure:"height"`
}

type RetryConfig struct {
	MaxAttempts int           `mapstructure:"max_attempts"`
	BaseDelay   time.Duration `mapstructure:"base_delay"`
}

type WebRTCConfig struct {
	ICEServers   []string `mapstructure:"ice_servers"`
	ViewerBuffer int      `mapstructure:"viewer_buffer"`
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("mode", "release")
	v.SetDefault("port", 8080)
	v.SetDefault("secret", "change-me")
	v.SetDefault("auto_create", false)
	v.SetDefault("log.level", "info")

	v.SetDefault("service.functions_url", "")
	v.SetDefault("service.ws_url", "")
	v.SetDefault("service.anon_key", "")

	v.SetDefault("signal.read_limit", 1<<20)
	v.SetDefault("signal.ping_period", "30s")
	v.SetDefault("signal.write_timeout", "5s")
	v.SetDefault("signal.send_buffer", 32)

	v.SetDefault("audio.output", "device")
	v.SetDefault("audio.volume", 1.0)
	v.SetDefault("audio.muted", false)
	v.SetDefault("audio.decode_failure_threshold", 3)

	v.SetDefault("session.type", "private")
	v.SetDefault("session.context_page", "/")
	v.SetDefault("session.voice_enabled", true)
	v.SetDefault("session.avatar_enabled", true)
	v.SetDefault("session.whiteboard_enabled", true)
	v.SetDefault("session.recording_enabled", true)

	v.SetDefault("user.id", "")
	v.SetDefault("user.name", "Student")

	v.SetDefault("chat.rate_limit", 5)
	v.SetDefault("chat.rate_interval", "10s")

	v.SetDefault("whiteboard.width", 1280)
	v.SetDefault("whiteboard.height", 720)

	v.SetDefault("retry.max_attempts", 3)
	v.SetDefault("retry.base_delay", "200ms")

	v.SetDefault("webrtc.ice_servers", []string{"stun:stun.l.google.com:19302"})
	v.SetDefault("webrtc.viewer_buffer", 16)
}

// Flags registers the command line overrides on fs.
func Flags(fs *pflag.FlagSet) {
	fs.String("config-env", "", "config file suffix (config/config.<env>.yaml)")
	fs.Int("port", 0, "HTTP control port")
	fs.String("mode", "", "gin mode: debug or release")
	fs.String("log-level", "", "log level")
	fs.String("session-type", "", "private or group")
	fs.Bool("auto-create", false, "create a session on startup")
	fs.String("audio-output", "", "device or clock")
}

// Load reads config/config.<env>.yaml, an optional .env file, MENTOR_*
// environment variables and finally the flags in fs (which may be nil).
func Load(fs *pflag.FlagSet) (*Config, error) {
	v := viper.New()
	v.SetConfigType("yaml")
	setDefaults(v)

	if err := godotenv.Load(); err != nil && !errors.Is(err, os.ErrNotExist) {
		return nil, fmt.Errorf("failed to load .env: %w", err)
	}

	v.SetEnvPrefix("MENTOR")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if fs != nil {
		bind := map[string]string{
			"port":         "port",
			"mode":         "mode",
			"log.level":    "log-level",
			"session.type": "session-type",
			"auto_create":  "auto-create",
			"audio.output": "audio-output",
		}
		for key, name := range bind {
			if f := fs.Lookup(name); f != nil {
				if err := v.BindPFlag(key, f); err != nil {
					return nil, fmt.Errorf("bind flag %s: %w", name, err)
				}
			}
		}
	}

	env := os.Getenv("CONFIG_ENV")
	if fs != nil {
		if f := fs.Lookup("config-env"); f != nil && f.Changed {
			env = f.Value.String()
		}
	}
	if env == "" {
		env = "dev"
	}
	fileName := fmt.Sprintf("config/config.%s.yaml", env)
	v.SetConfigFile(fileName)

	if err := v.ReadInConfig(); err != nil {
		log.Warn().Str("module", "config").Str("file", fileName).Msg("config file not found, using defaults")
	} else {
		log.Info().Str("module", "config").Str("file", fileName).Msg("loaded config")
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	log.Info().Str("module", "config").Str("mode", cfg.Mode).Int("port", cfg.Port).
		Str("session", cfg.Session.Type).Str("audio", cfg.Audio.Output).Msg("config ready")
	return &cfg, nil
}

func (c *Config) Validate() error {
	switch c.Session.Type {
	case "private", "group":
	default:
		return fmt.Errorf("invalid session.type %q", c.Session.Type)
	}
	switch c.Audio.Output {
	case "device", "clock":
	default:
		return fmt.Errorf("invalid audio.output %q", c.Audio.Output)
	}
	if c.Audio.Volume < 0 || c.Audio.Volume > 1 {
		return fmt.Errorf("audio.volume %v out of range [0,1]", c.Audio.Volume)
	}
	if c.Whiteboard.Width <= 0 || c.Whiteboard.Height <= 0 {
		return errors.New("whiteboard size must be positive")
	}
	return nil
}

// SessionDefaults is the feature set a new session starts with.
func (c *Config) SessionDefaults() domain.SessionConfig {
	return domain.SessionConfig{
		SessionType:       domain.SessionType(c.Session.Type),
		VoiceEnabled:      c.Session.VoiceEnabled,
		AvatarEnabled:     c.Session.AvatarEnabled,
		WhiteboardEnabled: c.Session.WhiteboardEnabled,
		RecordingEnabled:  c.Session.RecordingEnabled,
	}
}
