package config

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v2"
)

type ICEServer struct {
	URLs       []string `yaml:"urls"`
	Username   string   `yaml:"username,omitempty"`
	Credential string   `yaml:"credential,omitempty"`
}

type Config struct {
	Node struct {
		// Mesh addresses of this node; at least one is required.
		IPv4           string `yaml:"ipv4"`
		IPv6           string `yaml:"ipv6"`
		PresetChannels bool   `yaml:"preset_channels"`
	} `yaml:"node"`

	Server struct {
		Address         string        `yaml:"address"`
		ReadTimeout     time.Duration `yaml:"read_timeout"`
		WriteTimeout    time.Duration `yaml:"write_timeout"`
		ShutdownTimeout time.Duration `yaml:"shutdown_timeout"`
	} `yaml:"server"`

	Relay struct {
		Kind            string        `yaml:"kind"` // http | redis
		Port            int           `yaml:"port"`
		Path            string        `yaml:"path"`
		SendTimeout     time.Duration `yaml:"send_timeout"`
		SendAttempts    int           `yaml:"send_attempts"`
		Secret          string        `yaml:"secret"`
		TokenTTL        time.Duration `yaml:"token_ttl"`
		BreakerFailures int           `yaml:"breaker_failures"`
		BreakerReset    time.Duration `yaml:"breaker_reset"`
	} `yaml:"relay"`

	WebRTC struct {
		ICEServers []ICEServer `yaml:"ice_servers"`
		PortRange  struct {
			Min uint16 `yaml:"min"`
			Max uint16 `yaml:"max"`
		} `yaml:"port_range"`
		DataChannelLabel string `yaml:"data_channel_label"`
		LogLevel         string `yaml:"log_level"`
	} `yaml:"webrtc"`

	Session struct {
		HeartbeatInterval time.Duration `yaml:"heartbeat_interval"`
		HeartbeatTimeout  time.Duration `yaml:"heartbeat_timeout"`
		OfferRetry        struct {
			Interval    time.Duration `yaml:"interval"`
			Multiplier  float64       `yaml:"multiplier"`
			MaxDelay    time.Duration `yaml:"max_delay"`
			MaxAttempts int           `yaml:"max_attempts"` // 0 = unbounded
		} `yaml:"offer_retry"`
		ResyncInterval time.Duration `yaml:"resync_interval"` // 0 disables
	} `yaml:"session"`

	Membership struct {
		Backend string `yaml:"backend"` // memory | redis
	} `yaml:"membership"`

	MirrorFile string `yaml:"mirror_file"`

	// Media lists optional UDP addresses that receive RTP from an external
	// capture pipeline. Empty addresses keep the placeholders.
	Media struct {
		VoiceRTP       string `yaml:"voice_rtp"`
		ScreenVideoRTP string `yaml:"screen_video_rtp"`
		ScreenAudioRTP string `yaml:"screen_audio_rtp"`
	} `yaml:"media"`

	Monitoring struct {
		PrometheusEnabled bool `yaml:"prometheus_enabled"`
	} `yaml:"monitoring"`

	Tracing struct {
		Enabled        bool    `yaml:"enabled"`
		JaegerEndpoint string  `yaml:"jaeger_endpoint"`
		SampleRate     float64 `yaml:"sample_rate"`
		Environment    string  `yaml:"environment"`
	} `yaml:"tracing"`

	Logging struct {
		Level  string `yaml:"level"`
		Format string `yaml:"format"`
	} `yaml:"logging"`

	Redis struct {
		Enabled  bool   `yaml:"enabled"`
		Address  string `yaml:"address"`
		Password string `yaml:"password"`
		DB       int    `yaml:"db"`
		PoolSize int    `yaml:"pool_size"`
	} `yaml:"redis"`

	RateLimiting struct {
		Enabled           bool    `yaml:"enabled"`
		MessagesPerSecond float64 `yaml:"messages_per_second"`
		Burst             int     `yaml:"burst"`
	} `yaml:"rate_limiting"`
}

// Validate checks that configuration values are within acceptable ranges.
func (c *Config) Validate() error {
	// Node
	if c.Node.IPv4 == "" && c.Node.IPv6 == "" {
		return fmt.Errorf("node.ipv4 or node.ipv6 must be set")
	}

	// Server
	if c.Server.Address == "" {
		return fmt.Errorf("server.address must not be empty")
	}
	if c.Server.ReadTimeout <= 0 {
		return fmt.Errorf("server.read_timeout must be > 0")
	}
	if c.Server.WriteTimeout <= 0 {
		return fmt.Errorf("server.write_timeout must be > 0")
	}
	if c.Server.ShutdownTimeout <= 0 {
		return fmt.Errorf("server.shutdown_timeout must be > 0")
	}

	// Relay
	switch c.Relay.Kind {
	case "http":
		if c.Relay.Port <= 0 || c.Relay.Port > 65535 {
			return fmt.Errorf("relay.port must be in 1..65535")
		}
		if c.Relay.Path == "" {
			return fmt.Errorf("relay.path must not be empty")
		}
	case "redis":
		if !c.Redis.Enabled {
			return fmt.Errorf("relay.kind=redis requires redis.enabled=true")
		}
	default:
		return fmt.Errorf("relay.kind must be one of http, redis (got %q)", c.Relay.Kind)
	}
	if c.Relay.SendTimeout <= 0 {
		return fmt.Errorf("relay.send_timeout must be > 0")
	}
	if c.Relay.SendAttempts <= 0 {
		return fmt.Errorf("relay.send_attempts must be > 0")
	}
	if c.Relay.Secret != "" && c.Relay.TokenTTL <= 0 {
		return fmt.Errorf("relay.token_ttl must be > 0 when relay.secret is set")
	}
	if c.Relay.BreakerFailures < 0 {
		return fmt.Errorf("relay.breaker_failures must be >= 0")
	}

	// WebRTC
	if c.WebRTC.PortRange.Min > 0 || c.WebRTC.PortRange.Max > 0 {
		if c.WebRTC.PortRange.Min == 0 || c.WebRTC.PortRange.Max == 0 {
			return fmt.Errorf("webrtc.port_range.min and max must both be set when one is set")
		}
		if c.WebRTC.PortRange.Min >= c.WebRTC.PortRange.Max {
			return fmt.Errorf("webrtc.port_range.min must be < max")
		}
	}
	if c.WebRTC.DataChannelLabel == "" {
		return fmt.Errorf("webrtc.data_channel_label must not be empty")
	}

	// Session
	if c.Session.HeartbeatInterval <= 0 {
		return fmt.Errorf("session.heartbeat_interval must be > 0")
	}
	if c.Session.HeartbeatTimeout <= c.Session.HeartbeatInterval {
		return fmt.Errorf("session.heartbeat_timeout must be greater than heartbeat_interval")
	}
	if c.Session.OfferRetry.Interval <= 0 {
		return fmt.Errorf("session.offer_retry.interval must be > 0")
	}
	if c.Session.OfferRetry.Multiplier != 0 && c.Session.OfferRetry.Multiplier < 1 {
		return fmt.Errorf("session.offer_retry.multiplier must be >= 1")
	}
	if c.Session.OfferRetry.MaxAttempts < 0 {
		return fmt.Errorf("session.offer_retry.max_attempts must be >= 0")
	}
	if c.Session.ResyncInterval < 0 {
		return fmt.Errorf("session.resync_interval must be >= 0")
	}

	// Membership
	if c.Membership.Backend != "memory" && c.Membership.Backend != "redis" {
		return fmt.Errorf("membership.backend must be one of memory, redis (got %q)", c.Membership.Backend)
	}

	// Media
	if c.Media.ScreenAudioRTP != "" && c.Media.ScreenVideoRTP == "" {
		return fmt.Errorf("media.screen_audio_rtp requires media.screen_video_rtp")
	}

	// Tracing
	if c.Tracing.Enabled {
		if c.Tracing.JaegerEndpoint == "" {
			return fmt.Errorf("tracing.jaeger_endpoint must not be empty when tracing.enabled=true")
		}
		if c.Tracing.SampleRate < 0 || c.Tracing.SampleRate > 1 {
			return fmt.Errorf("tracing.sample_rate must be in [0, 1]")
		}
	}

	// Logging
	if c.Logging.Level == "" {
		return fmt.Errorf("logging.level must not be empty")
	}

	// Redis
	if c.Redis.Enabled {
		if c.Redis.Address == "" {
			return fmt.Errorf("redis.address must not be empty when redis.enabled=true")
		}
		if c.Redis.PoolSize <= 0 {
			return fmt.Errorf("redis.pool_size must be > 0 when redis.enabled=true")
		}
	}

	// Rate limiting
	if c.RateLimiting.Enabled {
		if c.RateLimiting.MessagesPerSecond <= 0 {
			return fmt.Errorf("rate_limiting.messages_per_second must be > 0 when rate limiting is enabled")
		}
		if c.RateLimiting.Burst <= 0 {
			return fmt.Errorf("rate_limiting.burst must be > 0 when rate limiting is enabled")
		}
	}

	return nil
}

// Load reads configuration from YAML file, applies defaults and env overrides.
// A .env file next to the working directory is loaded first when present.
func Load(configPath string) (*Config, error) {
	_ = godotenv.Load()

	cfg := DefaultConfig()

	if _, err := os.Stat(configPath); err == nil {
		data, err := os.ReadFile(configPath)
		if err != nil {
			return nil, fmt.Errorf("failed to read config file %s: %w", configPath, err)
		}
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("failed to unmarshal config yaml: %w", err)
		}
	} else if !os.IsNotExist(err) {
		return nil, fmt.Errorf("failed to stat config file %s: %w", configPath, err)
	}

	if err := cfg.applyEnvOverrides(); err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return cfg, nil
}

// DefaultConfig returns configuration with sane defaults.
func DefaultConfig() *Config {
	cfg := &Config{}

	cfg.Server.Address = ":7480"
	cfg.Server.ReadTimeout = 15 * time.Second
	cfg.Server.WriteTimeout = 15 * time.Second
	cfg.Server.ShutdownTimeout = 10 * time.Second

	cfg.Relay.Kind = "http"
	cfg.Relay.Port = 7480
	cfg.Relay.Path = "/api/v1/signal"
	cfg.Relay.SendTimeout = 5 * time.Second
	cfg.Relay.SendAttempts = 3
	cfg.Relay.TokenTTL = time.Minute
	cfg.Relay.BreakerFailures = 5
	cfg.Relay.BreakerReset = 30 * time.Second

	cfg.WebRTC.DataChannelLabel = "data"
	cfg.WebRTC.LogLevel = "warn"

	cfg.Session.HeartbeatInterval = time.Second
	cfg.Session.HeartbeatTimeout = 5 * time.Second
	cfg.Session.OfferRetry.Interval = 6 * time.Second
	cfg.Session.OfferRetry.Multiplier = 1
	cfg.Session.OfferRetry.MaxAttempts = 0
	cfg.Session.ResyncInterval = 30 * time.Second

	cfg.Membership.Backend = "memory"

	cfg.Monitoring.PrometheusEnabled = true

	cfg.Tracing.Enabled = false
	cfg.Tracing.JaegerEndpoint = "http://localhost:14268/api/traces"
	cfg.Tracing.SampleRate = 0.1
	cfg.Tracing.Environment = "development"

	cfg.Logging.Level = "info"
	cfg.Logging.Format = "json"

	cfg.Redis.Enabled = false
	cfg.Redis.Address = "localhost:6379"
	cfg.Redis.PoolSize = 10

	cfg.RateLimiting.Enabled = true
	cfg.RateLimiting.MessagesPerSecond = 20
	cfg.RateLimiting.Burst = 40

	return cfg
}

func (c *Config) applyEnvOverrides() error {
	if v := os.Getenv("MESHVOICE_IPV4"); v != "" {
		c.Node.IPv4 = v
	}
	if v := os.Getenv("MESHVOICE_IPV6"); v != "" {
		c.Node.IPv6 = v
	}
	if v := os.Getenv("MESHVOICE_PRESET_CHANNELS"); v != "" {
		b, err := strconv.ParseBool(v)
		if err != nil {
			return fmt.Errorf("MESHVOICE_PRESET_CHANNELS: %w", err)
		}
		c.Node.PresetChannels = b
	}
	if v := os.Getenv("MESHVOICE_SERVER_ADDRESS"); v != "" {
		c.Server.Address = v
	}
	if v := os.Getenv("MESHVOICE_RELAY_KIND"); v != "" {
		c.Relay.Kind = v
	}
	if v := os.Getenv("MESHVOICE_RELAY_SECRET"); v != "" {
		c.Relay.Secret = v
	}
	if v := os.Getenv("MESHVOICE_REDIS_ADDRESS"); v != "" {
		c.Redis.Address = v
		c.Redis.Enabled = true
	}
	if v := os.Getenv("MESHVOICE_LOG_LEVEL"); v != "" {
		c.Logging.Level = v
	}
	if v := os.Getenv("MESHVOICE_MIRROR_FILE"); v != "" {
		c.MirrorFile = v
	}
	return nil
}
