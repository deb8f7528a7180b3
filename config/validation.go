package config

import (
	"errors"
	"fmt"
	"strings"

	"github.com/spf13/viper"
)

func (c *AppConfig) Validate() error {
	if c.Server.Port < 1 || c.Server.Port > 65535 {
		return errors.New("invalid server port")
	}

	// Validate auth config
	if c.Auth.Enabled {
		if c.Auth.JWTSecret == "" || c.Auth.JWTSecret == "default-secret" {
			return errors.New("auth.jwtSecret must be set to a strong secret when auth is enabled")
		}
		if c.Auth.TokenQueryParam == "" {
			return errors.New("auth.tokenQueryParam must be configured when auth is enabled")
		}
	}

	// Validate relay broker configuration
	switch strings.ToLower(c.Broker.Type) {
	case "none":
		// Single-instance deployment; no relay.
	case "redis":
		if c.Redis.Address == "" {
			return errors.New("redis address must be specified for redis broker")
		}
	case "kafka":
		if len(c.Broker.Kafka.Brokers) == 0 {
			return errors.New("kafka brokers must be specified for kafka broker")
		}
		if c.Broker.Kafka.GroupID == "" {
			return errors.New("kafka groupID must be specified for kafka broker")
		}
	default:
		return fmt.Errorf("invalid broker type: %s. Must be 'none', 'redis' or 'kafka'", c.Broker.Type)
	}

	if c.Archive.Enabled {
		if c.Redis.Address == "" {
			return errors.New("redis address must be specified when the archive is enabled")
		}
		if c.Archive.TTL < 1 {
			return errors.New("archive TTL must be positive")
		}
	}

	if c.Assist.Enabled {
		if c.Assist.Endpoint == "" {
			return errors.New("assist.endpoint must be configured when the assistant is enabled")
		}
		if c.Assist.ModelID == "" {
			return errors.New("assist.modelID must be configured when the assistant is enabled")
		}
	}

	if c.WebSocket.MaxConnections < 1 {
		return errors.New("max connections must be positive")
	}

	if c.WebSocket.HandshakeTimeout < 1 {
		return errors.New("handshake timeout must be at least 1 second")
	}

	if c.WebSocket.PingInterval >= c.WebSocket.ActivityTimeout {
		return errors.New("ping interval should be less than activity timeout")
	}

	return nil
}

func bindEnvVars() {
	// Server
	viper.BindEnv("server.port", "WHISPERD_PORT")

	// Auth
	viper.BindEnv("auth.enabled", "WHISPERD_AUTH_ENABLED")
	viper.BindEnv("auth.jwtSecret", "WHISPERD_AUTH_JWT_SECRET")
	viper.BindEnv("auth.tokenQueryParam", "WHISPERD_AUTH_TOKEN_PARAM")
	viper.BindEnv("auth.revocationListKey", "WHISPERD_AUTH_REVOCATION_KEY")

	// Redis / relay broker
	viper.BindEnv("redis.address", "WHISPERD_REDIS_ADDRESS")
	viper.BindEnv("redis.password", "WHISPERD_REDIS_PASSWORD")
	viper.BindEnv("broker.type", "WHISPERD_BROKER_TYPE")
	viper.BindEnv("broker.kafka.brokers", "WHISPERD_KAFKA_BROKERS")
	viper.BindEnv("broker.kafka.groupID", "WHISPERD_KAFKA_GROUPID")

	// Archive
	viper.BindEnv("archive.enabled", "WHISPERD_ARCHIVE_ENABLED")
	viper.BindEnv("archive.ttl", "WHISPERD_ARCHIVE_TTL")

	// Assistant
	viper.BindEnv("assist.enabled", "WHISPERD_ASSIST_ENABLED")
	viper.BindEnv("assist.endpoint", "WHISPERD_ASSIST_ENDPOINT")
	viper.BindEnv("assist.apiKey", "WHISPERD_ASSIST_API_KEY")
	viper.BindEnv("assist.modelID", "WHISPERD_ASSIST_MODEL_ID")
	viper.BindEnv("assist.projectID", "WHISPERD_ASSIST_PROJECT_ID")
	viper.BindEnv("assist.embeddings.endpoint", "WHISPERD_EMBEDDINGS_ENDPOINT")
	viper.BindEnv("assist.qdrant.url", "WHISPERD_QDRANT_URL")
	viper.BindEnv("assist.qdrant.apiKey", "WHISPERD_QDRANT_API_KEY")

	// WebSocket
	viper.BindEnv("websocket.maxConnections", "WHISPERD_MAX_CONNECTIONS")
	viper.BindEnv("websocket.handshakeTimeout", "WHISPERD_HANDSHAKE_TIMEOUT")
	viper.BindEnv("websocket.pingInterval", "WHISPERD_PING_INTERVAL")
	viper.BindEnv("websocket.pongTimeout", "WHISPERD_PONG_TIMEOUT")
	viper.BindEnv("websocket.activityTimeout", "WHISPERD_ACTIVITY_TIMEOUT")
	viper.BindEnv("websocket.writeTimeout", "WHISPERD_WRITE_TIMEOUT")

	// Logging
	viper.BindEnv("log.format", "WHISPERD_LOG_FORMAT")
	viper.BindEnv("log.level", "WHISPERD_LOG_LEVEL")
}
