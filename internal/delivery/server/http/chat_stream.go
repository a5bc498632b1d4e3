package http

import (
	"context"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/gorilla/websocket"

	chatapp "nexus/internal/chat/app"
	chatdomain "nexus/internal/chat/domain"
	"nexus/internal/infra/observability"
	"nexus/internal/shared/logging"
)

const (
	streamWriteWait       = 10 * time.Second
	streamPongWait        = 60 * time.Second
	streamPingPeriod      = streamPongWait * 9 / 10
	maxStreamMessageBytes = 256 << 10
)

// streamFrame is one server-to-client websocket message.
type streamFrame struct {
	Type        string              `json:"type"`
	Content     string              `json:"content,omitempty"`
	Message     *chatdomain.Message `json:"message,omitempty"`
	UserMessage *chatdomain.Message `json:"user_message,omitempty"`
	CreditsUsed int64               `json:"credits_used,omitempty"`
	BYOK        bool                `json:"byok,omitempty"`
	Error       string              `json:"error,omitempty"`
	Status      int                 `json:"status,omitempty"`
}

// StreamHandler runs chat turns over a websocket, pushing chunks as they arrive.
type StreamHandler struct {
	service  *chatapp.Service
	metrics  *observability.MetricsCollector
	upgrader websocket.Upgrader
	logger   logging.Logger
}

// NewStreamHandler builds the websocket handler. Cross-origin upgrades are
// accepted outside production and, in production, only from allowedOrigins.
func NewStreamHandler(service *chatapp.Service, metrics *observability.MetricsCollector, environment string, allowedOrigins []string) *StreamHandler {
	env := strings.ToLower(strings.TrimSpace(environment))
	isDev := env != "production" && env != "prod"
	allowed := make(map[string]struct{}, len(allowedOrigins))
	for _, origin := range allowedOrigins {
		allowed[strings.TrimRight(strings.TrimSpace(origin), "/")] = struct{}{}
	}
	return &StreamHandler{
		service: service,
		metrics: metrics,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  4096,
			WriteBufferSize: 4096,
			CheckOrigin: func(r *http.Request) bool {
				origin := r.Header.Get("Origin")
				if origin == "" || isDev {
					return true
				}
				if _, ok := allowed[origin]; ok {
					return true
				}
				parsed, err := url.Parse(origin)
				return err == nil && strings.EqualFold(parsed.Host, r.Host)
			},
		},
		logger: logging.NewComponentLogger("ChatStream"),
	}
}

// HandleStream processes GET /api/chats/{chat_id}/stream.
func (h *StreamHandler) HandleStream(w http.ResponseWriter, r *http.Request) {
	uid := userID(r)
	chat, err := h.service.GetChat(r.Context(), uid, r.PathValue("chat_id"))
	if err != nil {
		writeError(w, r, h.logger, err)
		return
	}
	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		return
	}
	defer conn.Close()

	ctx, cancel := context.WithCancel(r.Context())
	defer cancel()
	logger := logging.FromContext(ctx, h.logger)

	h.metrics.IncrementStreamConnections(ctx)
	defer h.metrics.DecrementStreamConnections(context.WithoutCancel(ctx))

	conn.SetReadLimit(maxStreamMessageBytes)
	conn.SetPongHandler(func(string) error {
		return conn.SetReadDeadline(time.Now().Add(streamPongWait))
	})
	go keepAlive(ctx, conn)

	for {
		_ = conn.SetReadDeadline(time.Now().Add(streamPongWait))
		var input chatdomain.SendInput
		if err := conn.ReadJSON(&input); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				logger.Debug("Stream for chat %s closed: %v", chat.ID, err)
			}
			return
		}

		exchange, err := h.service.StreamMessage(ctx, uid, chat.ID, input, func(chunk string) error {
			return writeFrame(conn, streamFrame{Type: "chunk", Content: chunk})
		})
		if err != nil {
			status, message, _ := mapDomainError(err)
			if status == 0 {
				logger.Error("Stream turn for chat %s failed: %v", chat.ID, err)
				status, message = http.StatusInternalServerError, "internal server error"
			}
			if writeErr := writeFrame(conn, streamFrame{Type: "error", Error: message, Status: status}); writeErr != nil {
				return
			}
			continue
		}
		done := streamFrame{
			Type:        "done",
			Message:     &exchange.AssistantMessage,
			UserMessage: &exchange.UserMessage,
			CreditsUsed: exchange.CreditsUsed,
			BYOK:        exchange.BYOK,
		}
		if err := writeFrame(conn, done); err != nil {
			return
		}
	}
}

func writeFrame(conn *websocket.Conn, frame streamFrame) error {
	_ = conn.SetWriteDeadline(time.Now().Add(streamWriteWait))
	return conn.WriteJSON(frame)
}

func keepAlive(ctx context.Context, conn *websocket.Conn) {
	ticker := time.NewTicker(streamPingPeriod)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(streamWriteWait)); err != nil {
				return
			}
		}
	}
}
