package http

import (
	"net/http"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"quiz-battle-service/internal/app"
	"quiz-battle-service/internal/auth"
	"quiz-battle-service/internal/domain"
)

const defaultWatchInterval = 2 * time.Second

// WatchHandler streams battle state snapshots to a participant over a
// websocket. The core subsystem pushes nothing; this is a transport-level
// poller so clients don't have to re-request state themselves.
type WatchHandler struct {
	service  *app.BattleService
	jwt      *auth.Service
	logger   *zap.Logger
	interval time.Duration
	upgrader websocket.Upgrader
}

func NewWatchHandler(service *app.BattleService, jwtService *auth.Service, logger *zap.Logger, interval time.Duration) *WatchHandler {
	if interval <= 0 {
		interval = defaultWatchInterval
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &WatchHandler{
		service:  service,
		jwt:      jwtService,
		logger:   logger,
		interval: interval,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin:     func(r *http.Request) bool { return true },
		},
	}
}

type watchMessage struct {
	Type    string          `json:"type"`
	Payload app.BattleState `json:"payload"`
}

type watchError struct {
	Type    string `json:"type"`
	Message string `json:"message"`
}

// ServeWS upgrades the request and pushes a state snapshot immediately, then
// on every tick, until the battle completes or the client goes away.
// Browsers cannot set headers on websocket dials, so the token rides in the
// query string.
func (h *WatchHandler) ServeWS(w http.ResponseWriter, r *http.Request) {
	claims, err := h.jwt.Validate(r.URL.Query().Get("token"))
	if err != nil {
		writeErrorMessage(w, http.StatusUnauthorized, "invalid or missing token")
		return
	}
	battleID := r.PathValue("id")

	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.logger.Warn("ws upgrade failed", zap.Error(err))
		return
	}
	defer conn.Close()

	ctx := withUserID(r.Context(), claims.UserID)

	// Reader goroutine only detects the client closing the connection.
	closed := make(chan struct{})
	go func() {
		defer close(closed)
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()

	ticker := time.NewTicker(h.interval)
	defer ticker.Stop()

	for {
		state, err := h.service.State(ctx, battleID, claims.UserID)
		if err != nil {
			_ = conn.WriteJSON(watchError{Type: "error", Message: err.Error()})
			return
		}
		if err := conn.WriteJSON(watchMessage{Type: "state", Payload: state}); err != nil {
			return
		}
		if state.Status == domain.StatusCompleted {
			return
		}

		select {
		case <-ticker.C:
		case <-closed:
			return
		case <-ctx.Done():
			return
		}
	}
}
