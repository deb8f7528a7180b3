package main

import (
	"context"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"syscall"
	"time"

	"github.com/go-redis/redis/v8"
	"github.com/google/uuid"

	"github.com/nicknochnack/whisperd/assist"
	"github.com/nicknochnack/whisperd/broker"
	"github.com/nicknochnack/whisperd/config"
	"github.com/nicknochnack/whisperd/fanout"
	"github.com/nicknochnack/whisperd/group"
	"github.com/nicknochnack/whisperd/lifecycle"
	"github.com/nicknochnack/whisperd/logger"
	"github.com/nicknochnack/whisperd/metrics"
	"github.com/nicknochnack/whisperd/registry"
	"github.com/nicknochnack/whisperd/server"
	"github.com/nicknochnack/whisperd/services"
	"github.com/nicknochnack/whisperd/session"
	"github.com/nicknochnack/whisperd/websocket"
)

func main() {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	env := os.Getenv("ENVIRONMENT")
	if env == "" {
		env = "dev"
	}
	if err := config.Initialize(env); err != nil {
		logger.Fatal("failed to initialize config", "error", err)
	}
	cfg := config.Get()

	logger.Init(cfg.Log.Format, cfg.Log.Level)

	// Each instance gets a unique ID so relayed updates can skip their origin.
	serverID := uuid.New().String()
	logger.Info("starting instance", "server", serverID)

	// The transcript archive, the redis relay and the token revocation list
	// share one Redis client. Skip it entirely when none of them is on.
	var redisClient *redis.Client
	if cfg.Archive.Enabled || strings.EqualFold(cfg.Broker.Type, "redis") || cfg.Auth.Enabled {
		var err error
		redisClient, err = services.NewRedisClient(&cfg.Redis)
		if err != nil {
			logger.Fatal("failed to connect to redis", "error", err)
		}
		defer services.CloseRedisClient(redisClient)
	}

	sessions := session.NewStore()
	groups := group.NewTable()
	reg := registry.New()
	engine := fanout.NewEngine(groups, sessions, serverID)

	// --- Relay Initialization ---
	var relay broker.MessageBroker
	switch strings.ToLower(cfg.Broker.Type) {
	case "none", "":
		logger.Info("cross-instance relay disabled")
	case "redis":
		relay = broker.NewRedisBroker(redisClient)
	case "kafka":
		var err error
		relay, err = broker.NewKafkaBroker(cfg.Broker.Kafka.Brokers, cfg.Broker.Kafka.GroupID)
		if err != nil {
			logger.Fatal("failed to create kafka broker", "error", err)
		}
	default:
		// Caught by config validation, checked again as a safeguard.
		logger.Fatal("invalid broker type", "type", cfg.Broker.Type)
	}
	if relay != nil {
		engine.SetRelay(relay)
		logger.Info("cross-instance relay enabled", "type", relay.Type())
	}
	// --- End of Relay Initialization ---

	if cfg.Archive.Enabled {
		engine.SetArchive(session.NewArchive(redisClient, time.Duration(cfg.Archive.TTL)*time.Second))
		logger.Info("transcript archive enabled", "ttl_seconds", cfg.Archive.TTL)
	}

	var jwtValidator *websocket.JWTValidator
	if cfg.Auth.Enabled {
		jwtValidator = websocket.NewJWTValidator(&cfg.Auth, redisClient)
		logger.Info("jwt authentication enabled")
	} else {
		logger.Info("jwt authentication disabled")
	}

	manager := websocket.NewClientManager(serverID)
	engine.SetNotifier(manager)
	lc := lifecycle.NewManager(reg, groups, sessions, engine)

	// --- Assistant Initialization ---
	var assistant *assist.Service
	if cfg.Assist.Enabled {
		timeout := time.Duration(cfg.Assist.Timeout) * time.Second
		gen := assist.NewHTTPGenerator(
			cfg.Assist.Endpoint,
			cfg.Assist.APIKey,
			cfg.Assist.ModelID,
			cfg.Assist.ProjectID,
			assist.GenerationParams{
				DecodingMethod: cfg.Assist.DecodingMethod,
				MaxNewTokens:   cfg.Assist.MaxNewTokens,
			},
			timeout,
		)

		var retriever assist.Retriever
		if cfg.Assist.Qdrant.URL != "" {
			embedder := assist.NewHTTPEmbedder(
				cfg.Assist.Embeddings.Endpoint,
				cfg.Assist.APIKey,
				cfg.Assist.Embeddings.ModelID,
				timeout,
			)
			var err error
			retriever, err = assist.NewQdrantRetriever(assist.QdrantConfig{
				URL:            cfg.Assist.Qdrant.URL,
				CollectionName: cfg.Assist.Qdrant.Collection,
				APIKey:         cfg.Assist.Qdrant.APIKey,
				TopK:           cfg.Assist.Qdrant.TopK,
			}, embedder)
			if err != nil {
				logger.Fatal("failed to create qdrant retriever", "error", err)
			}
		}

		assistant = assist.NewService(gen, retriever, sessions)
		assistant.SetNotifier(manager)
		assistant.SetStreaming(cfg.Assist.Streaming)
		logger.Info("assistant enabled", "model", cfg.Assist.ModelID, "streaming", cfg.Assist.Streaming)
	}
	// --- End of Assistant Initialization ---

	handler := websocket.NewHandler(manager, lc, engine, sessions, assistant,
		jwtValidator, &cfg.Auth, &cfg.WebSocket)

	if relay != nil {
		go func() {
			if err := engine.Run(ctx); err != nil {
				logger.Error("relay listener stopped", "error", err)
			}
		}()
	}

	if cfg.Metrics.Enabled {
		metrics.StartServer(cfg.Metrics.Port, cfg.Metrics.Path)
	}

	addr := ":" + strconv.Itoa(cfg.Server.Port)
	srv := server.NewServer(addr, handler.HandleWebSocket)
	go srv.Start()
	logger.Info("listening", "addr", addr)

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	<-sigChan
	logger.Info("shutdown signal received")

	srv.Shutdown(ctx, manager, relay)
}
