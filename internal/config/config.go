package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

// Bus transport identifiers accepted by bus.transport.
const (
	BusTransportMemory = "memory"
	BusTransportRedis  = "redis"
	BusTransportNATS   = "nats"
)

// Config holds runtime configuration values for the API service.
type Config struct {
	AppName                string
	AppEnv                 string
	AppPort                string
	DatabaseDriver         string
	DatabaseURL            string
	RedisURL               string
	NATSURL                string
	BusTransport           string
	BusSubscriberBuffer    int
	BusReconnectBase       time.Duration
	BusReconnectMax        time.Duration
	BusReconnectAttempts   int
	JWTSecret              string
	ReactionThrottleWindow time.Duration
	ChatRateLimitMax       int
	ChatRateLimitWindow    time.Duration
	ChatHistoryLimit       int
	WebsocketKeepAlive     time.Duration
	ShutdownTimeout        time.Duration
	// CORSAllowOrigins is the comma separated origin list for the portal frontends.
	CORSAllowOrigins       string
}

// HTTPAddress returns the address the HTTP server should listen on.
func (c Config) HTTPAddress() string {
	if strings.HasPrefix(c.AppPort, ":") {
		return c.AppPort
	}

	return fmt.Sprintf(":%s", c.AppPort)
}

// Load reads configuration values from environment variables and optional .env file.
func Load() (Config, error) {
	_ = godotenv.Load()

	v := viper.New()
	v.SetEnvPrefix("CIVIC")
	v.AutomaticEnv()
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))

	return FromViper(v)
}

// FromViper builds a Config from an already populated viper instance.
func FromViper(v *viper.Viper) (Config, error) {
	v.SetDefault("app.name", "Civic Stream API")
	v.SetDefault("app.env", "development")
	v.SetDefault("app.port", "8080")
	v.SetDefault("database.driver", "postgres")
	v.SetDefault("bus.transport", BusTransportMemory)
	v.SetDefault("bus.subscriber_buffer", 64)
	v.SetDefault("bus.reconnect_base", "500ms")
	v.SetDefault("bus.reconnect_max", "30s")
	v.SetDefault("bus.reconnect_attempts", 10)
	v.SetDefault("reaction.throttle_window", "2s")
	v.SetDefault("chat.rate_limit_max", 20)
	v.SetDefault("chat.rate_limit_window", "10s")
	v.SetDefault("chat.history_limit", 50)
	v.SetDefault("ws.keepalive", "30s")
	v.SetDefault("shutdown.timeout", "5s")
	v.SetDefault("cors.allow_origins", "*")

	durations := map[string]*time.Duration{}
	cfg := Config{
		AppName:              v.GetString("app.name"),
		AppEnv:               v.GetString("app.env"),
		AppPort:              v.GetString("app.port"),
		DatabaseDriver:       strings.ToLower(v.GetString("database.driver")),
		DatabaseURL:          v.GetString("database.url"),
		RedisURL:             v.GetString("redis.url"),
		NATSURL:              v.GetString("nats.url"),
		BusTransport:         strings.ToLower(v.GetString("bus.transport")),
		BusSubscriberBuffer:  v.GetInt("bus.subscriber_buffer"),
		BusReconnectAttempts: v.GetInt("bus.reconnect_attempts"),
		JWTSecret:            v.GetString("jwt.secret"),
		ChatRateLimitMax:     v.GetInt("chat.rate_limit_max"),
		ChatHistoryLimit:     v.GetInt("chat.history_limit"),
		CORSAllowOrigins:     normalizeOrigins(v.GetString("cors.allow_origins")),
	}
	durations["bus.reconnect_base"] = &cfg.BusReconnectBase
	durations["bus.reconnect_max"] = &cfg.BusReconnectMax
	durations["reaction.throttle_window"] = &cfg.ReactionThrottleWindow
	durations["chat.rate_limit_window"] = &cfg.ChatRateLimitWindow
	durations["ws.keepalive"] = &cfg.WebsocketKeepAlive
	durations["shutdown.timeout"] = &cfg.ShutdownTimeout

	for key, target := range durations {
		parsed, err := time.ParseDuration(v.GetString(key))
		if err != nil {
			return Config{}, fmt.Errorf("invalid %s: %w", key, err)
		}
		*target = parsed
	}

	if cfg.CORSAllowOrigins == "" {
		return Config{}, fmt.Errorf("cors.allow_origins must not be empty")
	}

	if cfg.JWTSecret == "" {
		return Config{}, fmt.Errorf("jwt secret must be provided")
	}

	switch cfg.DatabaseDriver {
	case "postgres", "sqlite":
	default:
		return Config{}, fmt.Errorf("unsupported database driver %q", cfg.DatabaseDriver)
	}

	switch cfg.BusTransport {
	case BusTransportMemory:
	case BusTransportRedis:
		if cfg.RedisURL == "" {
			return Config{}, fmt.Errorf("redis bus transport requires redis.url")
		}
	case BusTransportNATS:
		if cfg.NATSURL == "" {
			return Config{}, fmt.Errorf("nats bus transport requires nats.url")
		}
	default:
		return Config{}, fmt.Errorf("unsupported bus transport %q", cfg.BusTransport)
	}

	if cfg.BusSubscriberBuffer <= 0 {
		cfg.BusSubscriberBuffer = 64
	}
	if cfg.BusReconnectAttempts <= 0 {
		cfg.BusReconnectAttempts = 10
	}
	if cfg.ChatHistoryLimit <= 0 || cfg.ChatHistoryLimit > 100 {
		cfg.ChatHistoryLimit = 50
	}
	if cfg.ReactionThrottleWindow < 0 {
		cfg.ReactionThrottleWindow = 0
	}

	return cfg, nil
}

func normalizeOrigins(raw string) string {
	var origins []string
	for _, origin := range strings.Split(raw, ",") {
		if origin = strings.TrimRight(strings.TrimSpace(origin), "/"); origin != "" {
			origins = append(origins, origin)
		}
	}
	return strings.Join(origins, ",")
}
