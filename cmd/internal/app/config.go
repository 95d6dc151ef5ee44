package app

import (
	"fmt"
	"os"
	"strings"
	"time"

	"campus/cmd/internal/realtime"

	"gopkg.in/yaml.v3"
)

// Config contains all runtime configuration.
//
// Values come from three layers: built-in defaults, an optional YAML file, then CAMPUS_*
// environment variables, each overriding the previous one.
type Config struct {
	HTTPAddr  string `yaml:"http_addr"`
	LogLevel  string `yaml:"log_level"`
	LogFormat string `yaml:"log_format"`
	LogColor  bool   `yaml:"log_color"`

	ReadHeaderTimeout time.Duration `yaml:"read_header_timeout"`
	ReadTimeout       time.Duration `yaml:"read_timeout"`
	WriteTimeout      time.Duration `yaml:"write_timeout"`
	IdleTimeout       time.Duration `yaml:"idle_timeout"`
	MaxHeaderBytes    int           `yaml:"max_header_bytes"`

	CORSAllowedOrigins   []string `yaml:"cors_allowed_origins"`
	CORSAllowCredentials bool     `yaml:"cors_allow_credentials"`
	CORSMaxAgeSeconds    int      `yaml:"cors_max_age_seconds"`

	// Directory backing. Empty DatabaseURL selects the open in-memory directory.
	DatabaseURL string `yaml:"database_url"`
	DBSchema    string `yaml:"db_schema"`
	DBMaxConns  int32  `yaml:"db_max_conns"`
	DBMinConns  int32  `yaml:"db_min_conns"`

	// If true, /readyz returns 503 unless the DB is configured and reachable.
	ReadinessRequireDB bool `yaml:"readiness_require_db"`

	AuthIssuer       string        `yaml:"auth_issuer"`
	AuthPublicKeyHex string        `yaml:"auth_public_key_hex"`
	AuthClockSkew    time.Duration `yaml:"auth_clock_skew"`

	MediaMaxBytes int64  `yaml:"media_max_bytes"`
	MediaMIMEType string `yaml:"media_mime_type"`

	CaptureMinSeconds int `yaml:"capture_min_seconds"`
	CaptureMaxSeconds int `yaml:"capture_max_seconds"`

	PlaybackExclusive      bool          `yaml:"playback_exclusive"`
	PlaybackSampleInterval time.Duration `yaml:"playback_sample_interval"`

	WSDevInsecure       bool          `yaml:"ws_dev_insecure"`
	WSOriginRequired    bool          `yaml:"ws_origin_required"`
	WSAllowedOrigins    []string      `yaml:"ws_allowed_origins"`
	WSRequireAuth       bool          `yaml:"ws_require_auth"`
	WSWriteTimeout      time.Duration `yaml:"ws_write_timeout"`
	WSReadIdleTimeout   time.Duration `yaml:"ws_read_idle_timeout"`
	WSSendQueueSize     int           `yaml:"ws_send_queue_size"`
	WSHeartbeatInterval time.Duration `yaml:"ws_heartbeat_interval"`
	WSHeartbeatTimeout  time.Duration `yaml:"ws_heartbeat_timeout"`
	WSRateEvents        int           `yaml:"ws_rate_events"`
	WSRateWindow        time.Duration `yaml:"ws_rate_window"`
}

// DefaultConfig returns the built-in defaults.
func DefaultConfig() Config {
	ws := realtime.DefaultConfig()
	return Config{
		HTTPAddr:  "0.0.0.0:8080",
		LogLevel:  "info",
		LogFormat: "json",

		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       15 * time.Second,
		WriteTimeout:      15 * time.Second,
		IdleTimeout:       60 * time.Second,
		MaxHeaderBytes:    1 << 20,

		CORSMaxAgeSeconds: 600,

		DBSchema:   "campus",
		DBMaxConns: 10,

		AuthIssuer:    "campus",
		AuthClockSkew: 30 * time.Second,

		MediaMaxBytes: 25 << 20,

		PlaybackExclusive:      ws.PlaybackExclusive,
		PlaybackSampleInterval: ws.PlaybackSampleInterval,

		WSOriginRequired:    ws.OriginRequired,
		WSAllowedOrigins:    ws.AllowedOrigins,
		WSWriteTimeout:      ws.WriteTimeout,
		WSReadIdleTimeout:   ws.ReadIdleTimeout,
		WSSendQueueSize:     ws.SendQueueSize,
		WSHeartbeatInterval: ws.HeartbeatInterval,
		WSHeartbeatTimeout:  ws.HeartbeatTimeout,
		WSRateEvents:        ws.RateEvents,
		WSRateWindow:        ws.RateWindow,
	}
}

// LoadConfig builds a Config from defaults, the YAML file at path (optional; CAMPUS_CONFIG_FILE
// when path is empty), and the environment.
func LoadConfig(path string) (Config, error) {
	cfg := DefaultConfig()

	if path == "" {
		path = EnvString("CAMPUS_CONFIG_FILE", "")
	}
	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return Config{}, fmt.Errorf("config: read %s: %w", path, err)
		}
		if err := cfg.parseYAML(data); err != nil {
			return Config{}, err
		}
	}

	cfg.applyEnv()
	cfg.applyDefaults()
	if err := cfg.validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// parseYAML overlays YAML onto the current values; keys absent from data keep them.
func (c *Config) parseYAML(data []byte) error {
	if err := yaml.Unmarshal(data, c); err != nil {
		return fmt.Errorf("config: parse: %w", err)
	}
	return nil
}

func (c *Config) applyEnv() {
	c.HTTPAddr = EnvString("CAMPUS_HTTP_ADDR", c.HTTPAddr)
	c.LogLevel = EnvString("CAMPUS_LOG_LEVEL", c.LogLevel)
	c.LogFormat = EnvString("CAMPUS_LOG_FORMAT", c.LogFormat)
	c.LogColor = EnvBool("CAMPUS_LOG_COLOR", c.LogColor)

	c.ReadHeaderTimeout = EnvDuration("CAMPUS_HTTP_READ_HEADER_TIMEOUT", c.ReadHeaderTimeout)
	c.ReadTimeout = EnvDuration("CAMPUS_HTTP_READ_TIMEOUT", c.ReadTimeout)
	c.WriteTimeout = EnvDuration("CAMPUS_HTTP_WRITE_TIMEOUT", c.WriteTimeout)
	c.IdleTimeout = EnvDuration("CAMPUS_HTTP_IDLE_TIMEOUT", c.IdleTimeout)
	c.MaxHeaderBytes = EnvInt("CAMPUS_HTTP_MAX_HEADER_BYTES", c.MaxHeaderBytes)

	c.CORSAllowedOrigins = EnvList("CAMPUS_CORS_ALLOWED_ORIGINS", c.CORSAllowedOrigins)
	c.CORSAllowCredentials = EnvBool("CAMPUS_CORS_ALLOW_CREDENTIALS", c.CORSAllowCredentials)
	c.CORSMaxAgeSeconds = EnvInt("CAMPUS_CORS_MAX_AGE_SECONDS", c.CORSMaxAgeSeconds)

	c.DatabaseURL = EnvString("CAMPUS_DATABASE_URL", c.DatabaseURL)
	c.DBSchema = EnvString("CAMPUS_DB_SCHEMA", c.DBSchema)
	c.DBMaxConns = EnvInt32("CAMPUS_DB_MAX_CONNS", c.DBMaxConns)
	c.DBMinConns = EnvInt32("CAMPUS_DB_MIN_CONNS", c.DBMinConns)
	c.ReadinessRequireDB = EnvBool("CAMPUS_READINESS_REQUIRE_DB", c.ReadinessRequireDB)

	c.AuthIssuer = EnvString("CAMPUS_AUTH_ISSUER", c.AuthIssuer)
	c.AuthPublicKeyHex = EnvString("CAMPUS_PASETO_V4_PUBLIC_KEY_HEX", c.AuthPublicKeyHex)
	c.AuthClockSkew = EnvDuration("CAMPUS_AUTH_CLOCK_SKEW", c.AuthClockSkew)

	c.MediaMaxBytes = EnvInt64("CAMPUS_MEDIA_MAX_BYTES", c.MediaMaxBytes)
	c.MediaMIMEType = EnvString("CAMPUS_MEDIA_MIME_TYPE", c.MediaMIMEType)

	c.CaptureMinSeconds = EnvNonNegInt("CAMPUS_CAPTURE_MIN_SECONDS", c.CaptureMinSeconds)
	c.CaptureMaxSeconds = EnvNonNegInt("CAMPUS_CAPTURE_MAX_SECONDS", c.CaptureMaxSeconds)

	c.PlaybackExclusive = EnvBool("CAMPUS_PLAYBACK_EXCLUSIVE", c.PlaybackExclusive)
	c.PlaybackSampleInterval = EnvDuration("CAMPUS_PLAYBACK_SAMPLE_INTERVAL", c.PlaybackSampleInterval)

	c.WSDevInsecure = EnvBool("CAMPUS_WS_DEV_INSECURE", c.WSDevInsecure)
	c.WSOriginRequired = EnvBool("CAMPUS_WS_ORIGIN_REQUIRED", c.WSOriginRequired)
	c.WSAllowedOrigins = EnvList("CAMPUS_WS_ALLOWED_ORIGINS", c.WSAllowedOrigins)
	c.WSRequireAuth = EnvBool("CAMPUS_WS_REQUIRE_AUTH", c.WSRequireAuth)
	c.WSWriteTimeout = EnvDuration("CAMPUS_WS_WRITE_TIMEOUT", c.WSWriteTimeout)
	c.WSReadIdleTimeout = EnvDuration("CAMPUS_WS_READ_IDLE_TIMEOUT", c.WSReadIdleTimeout)
	c.WSSendQueueSize = EnvInt("CAMPUS_WS_SEND_QUEUE", c.WSSendQueueSize)
	c.WSHeartbeatInterval = EnvDuration("CAMPUS_WS_HEARTBEAT_INTERVAL", c.WSHeartbeatInterval)
	c.WSHeartbeatTimeout = EnvDuration("CAMPUS_WS_HEARTBEAT_TIMEOUT", c.WSHeartbeatTimeout)
	c.WSRateEvents = EnvInt("CAMPUS_WS_RATE_EVENTS", c.WSRateEvents)
	c.WSRateWindow = EnvDuration("CAMPUS_WS_RATE_WINDOW", c.WSRateWindow)
}

// applyDefaults normalizes derived values.
func (c *Config) applyDefaults() {
	c.LogFormat = strings.ToLower(strings.TrimSpace(c.LogFormat))
	if c.LogFormat == "" {
		c.LogFormat = "json"
	}
	if c.DBSchema == "" {
		c.DBSchema = "campus"
	}
	if c.AuthIssuer == "" {
		c.AuthIssuer = "campus"
	}
}

func (c *Config) validate() error {
	var errs []string
	if strings.TrimSpace(c.HTTPAddr) == "" {
		errs = append(errs, "http_addr is required")
	}
	if c.LogFormat != "json" && c.LogFormat != "pretty" {
		errs = append(errs, fmt.Sprintf("log_format must be json or pretty, got %q", c.LogFormat))
	}
	if c.DBMaxConns > 0 && c.DBMinConns > c.DBMaxConns {
		errs = append(errs, "db_min_conns exceeds db_max_conns")
	}
	if c.ReadinessRequireDB && c.DatabaseURL == "" {
		errs = append(errs, "readiness_require_db needs database_url")
	}
	if c.CaptureMinSeconds < 0 || c.CaptureMaxSeconds < 0 {
		errs = append(errs, "capture bounds must not be negative")
	}
	if c.CaptureMaxSeconds > 0 && c.CaptureMinSeconds > c.CaptureMaxSeconds {
		errs = append(errs, "capture_min_seconds exceeds capture_max_seconds")
	}
	if c.MediaMaxBytes < 0 {
		errs = append(errs, "media_max_bytes must not be negative")
	}
	if c.WSRequireAuth && strings.TrimSpace(c.AuthPublicKeyHex) == "" {
		errs = append(errs, "ws_require_auth needs auth_public_key_hex")
	}
	if len(errs) > 0 {
		return fmt.Errorf("config: validation failed: %s", strings.Join(errs, "; "))
	}
	return nil
}

// Realtime returns the gateway policy derived from c.
func (c Config) Realtime() realtime.Config {
	return realtime.Config{
		DevInsecure:            c.WSDevInsecure,
		OriginRequired:         c.WSOriginRequired,
		AllowedOrigins:         c.WSAllowedOrigins,
		RequireAuth:            c.WSRequireAuth,
		WriteTimeout:           c.WSWriteTimeout,
		ReadIdleTimeout:        c.WSReadIdleTimeout,
		SendQueueSize:          c.WSSendQueueSize,
		HeartbeatInterval:      c.WSHeartbeatInterval,
		HeartbeatTimeout:       c.WSHeartbeatTimeout,
		RateEvents:             c.WSRateEvents,
		RateWindow:             c.WSRateWindow,
		MediaPath:              mediaPath,
		CaptureMinSeconds:      c.CaptureMinSeconds,
		CaptureMaxSeconds:      c.CaptureMaxSeconds,
		CaptureMaxBytes:        c.MediaMaxBytes,
		PlaybackExclusive:      c.PlaybackExclusive,
		PlaybackSampleInterval: c.PlaybackSampleInterval,
	}
}
