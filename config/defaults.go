package config

import "github.com/spf13/viper"

func setDefaults() {
	// Server
	viper.SetDefault("server.port", 8080)
	viper.SetDefault("server.readTimeout", 15)
	viper.SetDefault("server.writeTimeout", 15)

	// WebSocket
	viper.SetDefault("websocket.maxConnections", 10000)
	viper.SetDefault("websocket.messageSizeLimit", 4096)
	viper.SetDefault("websocket.handshakeTimeout", 10)
	viper.SetDefault("websocket.pingInterval", 25)
	viper.SetDefault("websocket.pongTimeout", 30)
	viper.SetDefault("websocket.activityTimeout", 300)
	viper.SetDefault("websocket.writeTimeout", 10)
	viper.SetDefault("websocket.keepAlive", true)

	// Redis
	viper.SetDefault("redis.address", "localhost:6379")
	viper.SetDefault("redis.db", 0)
	viper.SetDefault("redis.poolSize", 100)
	viper.SetDefault("redis.poolTimeout", 5)

	// Relay broker
	viper.SetDefault("broker.type", "none")
	viper.SetDefault("broker.kafka.groupID", "whisperd")

	// Transcript archive
	viper.SetDefault("archive.enabled", false)
	viper.SetDefault("archive.ttl", 86400)

	// Auth
	viper.SetDefault("auth.enabled", false) // Default to off for security
	viper.SetDefault("auth.jwtSecret", "default-secret")
	viper.SetDefault("auth.tokenQueryParam", "token")
	viper.SetDefault("auth.revocationListKey", "jwt:revoked")

	// Assistant
	viper.SetDefault("assist.enabled", false)
	viper.SetDefault("assist.modelID", "meta-llama/llama-2-70b-chat")
	viper.SetDefault("assist.decodingMethod", "greedy")
	viper.SetDefault("assist.maxNewTokens", 200)
	viper.SetDefault("assist.timeout", 60)
	viper.SetDefault("assist.streaming", false)
	viper.SetDefault("assist.embeddings.modelID", "thenlper/gte-small")
	viper.SetDefault("assist.qdrant.collection", "whisperd")
	viper.SetDefault("assist.qdrant.topK", 3)

	// Metrics
	viper.SetDefault("metrics.enabled", true)
	viper.SetDefault("metrics.port", 9090)
	viper.SetDefault("metrics.path", "/metrics")

	// Logging
	viper.SetDefault("log.format", "console")
	viper.SetDefault("log.level", "info")
}
