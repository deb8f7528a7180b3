package websocket

import (
	"context"
	"encoding/json"
	"errors"
	"net"
	"net/http"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"github.com/nicknochnack/whisperd/assist"
	"github.com/nicknochnack/whisperd/chat"
	"github.com/nicknochnack/whisperd/config"
	"github.com/nicknochnack/whisperd/fanout"
	"github.com/nicknochnack/whisperd/lifecycle"
	"github.com/nicknochnack/whisperd/logger"
	"github.com/nicknochnack/whisperd/metrics"
	"github.com/nicknochnack/whisperd/session"
)

// Upgrader for websocket connections
var upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool { return true },
}

// Handler accepts websocket connections and routes their typed actions into
// the lifecycle manager and the synchronization engine.
type Handler struct {
	manager      *ClientManager
	lifecycle    *lifecycle.Manager
	engine       *fanout.Engine
	sessions     *session.Store
	assistant    *assist.Service // nil when the assistant is not configured
	jwtValidator *JWTValidator
	authConfig   *config.AuthConfig
	wsConfig     *config.WebSocketConfig
}

// NewHandler creates a new websocket handler.
func NewHandler(
	manager *ClientManager,
	lc *lifecycle.Manager,
	engine *fanout.Engine,
	sessions *session.Store,
	assistant *assist.Service,
	jwtValidator *JWTValidator,
	authConfig *config.AuthConfig,
	wsConfig *config.WebSocketConfig,
) *Handler {
	return &Handler{
		manager:      manager,
		lifecycle:    lc,
		engine:       engine,
		sessions:     sessions,
		assistant:    assistant,
		jwtValidator: jwtValidator,
		authConfig:   authConfig,
		wsConfig:     wsConfig,
	}
}

// HandleWebSocket handles incoming websocket connections.
func (h *Handler) HandleWebSocket(w http.ResponseWriter, r *http.Request) {
	var claims *CustomClaims
	var err error

	// --- Handshake Authentication ---
	if h.authConfig.Enabled {
		if h.jwtValidator == nil {
			logger.Error("auth is enabled but JWT validator is not initialized")
			http.Error(w, "Internal server configuration error", http.StatusInternalServerError)
			return
		}

		tokenString := r.URL.Query().Get(h.authConfig.TokenQueryParam)
		if tokenString == "" {
			metrics.AuthFailures.WithLabelValues("missing_token").Inc()
			logger.Warn("missing auth token", "remote", r.RemoteAddr)
			http.Error(w, "Missing authentication token", http.StatusUnauthorized)
			return
		}

		claims, err = h.jwtValidator.ValidateToken(r.Context(), tokenString)
		if err != nil {
			metrics.AuthFailures.WithLabelValues("invalid_token").Inc()
			logger.Warn("invalid auth token", "remote", r.RemoteAddr, "error", err)
			http.Error(w, "Invalid authentication token", http.StatusUnauthorized)
			return
		}
		metrics.AuthSuccess.Inc()
	}
	// --- End Handshake Authentication ---

	ws, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		logger.Error("websocket upgrade failed", "error", err)
		return
	}

	connID := uuid.New().String()
	conn := NewConn(connID, ws, h.wsConfig, claims)
	conn.StartTimers()

	h.manager.AddClient(conn)
	defer func() {
		// Disconnect is idempotent; a connection that never loaded is a no-op.
		h.lifecycle.Disconnect(connID)
		h.manager.RemoveClient(conn)
	}()

	ws.SetReadLimit(int64(h.wsConfig.MessageSizeLimit))
	ws.SetPongHandler(conn.GetPongHandler())

	// Send the connection ID to the client for reference.
	if err := conn.SafeWriteJSON(Event{Type: "welcome", ConnectionID: connID}); err != nil {
		logger.Warn("failed to send welcome", "conn", connID, "error", err)
		return // defer handles cleanup
	}

	for {
		_, msg, err := ws.ReadMessage()
		if err != nil {
			if !websocket.IsCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) &&
				!errors.Is(err, net.ErrClosed) {
				logger.Warn("read error", "conn", connID, "error", err)
			}
			conn.Close(websocket.CloseNormalClosure, "Client disconnected")
			return
		}
		metrics.MessagesReceived.Inc()
		conn.UpdateActivity()

		var action Action
		if err := json.Unmarshal(msg, &action); err != nil {
			conn.SafeWriteJSON(Event{Type: "error", Error: "malformed action"})
			continue
		}

		h.dispatch(r.Context(), conn, action)
	}
}

func (h *Handler) dispatch(ctx context.Context, conn *Conn, action Action) {
	if action.Type == "load" {
		h.handleLoad(ctx, conn, action)
		return
	}

	groupID, sessionID := conn.Binding()
	if sessionID == "" {
		conn.SafeWriteJSON(Event{Type: "error", Error: "not loaded"})
		return
	}

	switch action.Type {
	case "message":
		msg := chat.Message{Role: chat.Role(action.Role), Text: action.Text}
		if err := h.engine.Append(ctx, groupID, sessionID, msg); err != nil {
			conn.SafeWriteJSON(Event{Type: "error", Error: err.Error()})
		}

	case "draft":
		// Transient, never synchronized and never echoed back.
		h.sessions.Update(sessionID, func(st *session.State) {
			st.Draft = action.Text
		})

	case "seed_demo":
		if err := h.engine.Replace(ctx, groupID, sessionID, chat.DemoConversation()); err != nil {
			conn.SafeWriteJSON(Event{Type: "error", Error: err.Error()})
		}

	case "clear":
		if err := h.engine.Clear(ctx, groupID, sessionID); err != nil {
			conn.SafeWriteJSON(Event{Type: "error", Error: err.Error()})
		}

	case "assist":
		if h.assistant == nil {
			conn.SafeWriteJSON(Event{Type: "error", Error: "assistant not configured"})
			return
		}
		mode, err := assist.ParseMode(action.Mode)
		if err != nil {
			conn.SafeWriteJSON(Event{Type: "error", Error: err.Error()})
			return
		}
		// Model invocation is long-latency and runs outside the read loop;
		// the result re-enters the synchronized path on completion.
		h.manager.IncreaseWaitGroup()
		go func() {
			defer h.manager.DecreaseWaitGroup()
			h.assistant.Run(context.Background(), sessionID, mode)
		}()

	default:
		conn.SafeWriteJSON(Event{Type: "error", Error: "unknown action type"})
	}
}

func (h *Handler) handleLoad(ctx context.Context, conn *Conn, action Action) {
	if _, sessionID := conn.Binding(); sessionID != "" {
		conn.SafeWriteJSON(Event{Type: "error", Error: "already loaded"})
		return
	}

	// An authenticated caller's group identity comes from its claims; the
	// client-supplied cookie token is only trusted when auth is off.
	token := action.Token
	if identity := conn.claims.GroupIdentity(); identity != "" {
		token = identity
	}

	perspective := chat.RoleClient
	if chat.Role(action.Perspective).Valid() {
		perspective = chat.Role(action.Perspective)
	}

	binding := h.lifecycle.Connect(ctx, conn.ID, token)
	conn.Bind(binding.GroupID, binding.SessionID, perspective)
	h.manager.BindSession(binding.SessionID, conn)

	conn.SafeWriteJSON(Event{
		Type:      "bound",
		Token:     binding.GroupID,
		SessionID: binding.SessionID,
	})

	// Seeding happened before the session index existed, so push the first
	// snapshot explicitly.
	if st, ok := h.sessions.Get(binding.SessionID); ok {
		h.manager.StateChanged(binding.SessionID, st)
	}
}
