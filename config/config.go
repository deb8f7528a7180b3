package config

import (
	"fmt"
	"sync"

	"github.com/spf13/viper"
)

type AppConfig struct {
	Server    ServerConfig
	WebSocket WebSocketConfig
	Redis     RedisConfig
	Broker    BrokerConfig
	Archive   ArchiveConfig
	Auth      AuthConfig
	Assist    AssistConfig
	Metrics   MetricsConfig
	Log       LogConfig
}

type ServerConfig struct {
	Port         int
	ReadTimeout  int
	WriteTimeout int
}

type WebSocketConfig struct {
	MaxConnections   int
	MessageSizeLimit int
	HandshakeTimeout int
	PingInterval     int // Seconds
	PongTimeout      int // Seconds
	ActivityTimeout  int // Seconds
	WriteTimeout     int // Seconds
	KeepAlive        bool
}

// RedisConfig is the shared client used by the transcript archive and the
// redis relay broker.
type RedisConfig struct {
	Address     string
	Password    string
	DB          int
	PoolSize    int
	PoolTimeout int
}

type BrokerConfig struct {
	Type  string // "none", "redis" or "kafka"
	Kafka KafkaConfig
}

type KafkaConfig struct {
	Brokers []string
	GroupID string
}

type ArchiveConfig struct {
	Enabled bool
	TTL     int // Seconds
}

type AuthConfig struct {
	Enabled           bool
	JWTSecret         string
	TokenQueryParam   string
	RevocationListKey string
}

type AssistConfig struct {
	Enabled        bool
	Endpoint       string
	APIKey         string
	ModelID        string
	ProjectID      string
	DecodingMethod string
	MaxNewTokens   int
	Timeout        int // Seconds
	Streaming      bool
	Embeddings     EmbeddingsConfig
	Qdrant         QdrantConfig
}

type EmbeddingsConfig struct {
	Endpoint string
	ModelID  string
}

type QdrantConfig struct {
	URL        string
	Collection string
	APIKey     string
	TopK       int
}

type MetricsConfig struct {
	Enabled bool
	Port    int
	Path    string
}

type LogConfig struct {
	Format string // "console" or "json"
	Level  string
}

var (
	instance *AppConfig
	once     sync.Once
)

func Initialize(env string) error {
	var initErr error
	once.Do(func() {
		viper.SetConfigName(fmt.Sprintf("config.%s", env))
		viper.SetConfigType("yaml")
		viper.AddConfigPath("./configs")
		viper.AddConfigPath(".")

		viper.AutomaticEnv()
		viper.SetEnvPrefix("WHISPERD")

		setDefaults()
		bindEnvVars()

		if err := viper.ReadInConfig(); err != nil {
			initErr = fmt.Errorf("config file error: %w", err)
			return
		}

		if err := viper.Unmarshal(&instance); err != nil {
			initErr = fmt.Errorf("config unmarshal error: %w", err)
			return
		}

		if err := instance.Validate(); err != nil {
			initErr = fmt.Errorf("config validation failed: %w", err)
			return
		}
	})
	return initErr
}

func Get() *AppConfig {
	return instance
}
