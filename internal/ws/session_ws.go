package ws

import (
	"context"
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"go.opentelemetry.io/otel"
	"go.uber.org/zap"

	"carechat-service/internal/identity"
	"carechat-service/internal/observability"
	"carechat-service/internal/session"
)

// SessionWebSocketHandler streams session snapshots to the UI.
type SessionWebSocketHandler struct {
	registry *session.Registry
	provider identity.Provider
	log      *zap.Logger
}

// NewSessionWebSocketHandler constructs a SessionWebSocketHandler.
func NewSessionWebSocketHandler(registry *session.Registry, provider identity.Provider, log *zap.Logger) *SessionWebSocketHandler {
	return &SessionWebSocketHandler{registry: registry, provider: provider, log: log}
}

var upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool { return true },
}

// Handle upgrades the connection and pushes a snapshot on every session change.
func (h *SessionWebSocketHandler) Handle(c *gin.Context) {
	ctx, span := otel.Tracer("carechat-service/ws").Start(c.Request.Context(), "ws.handshake")
	defer span.End()
	c.Request = c.Request.WithContext(ctx)

	token := bearerToken(c)
	if token == "" {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "missing token"})
		return
	}
	participantID, _, err := h.provider.Resolve(ctx, token)
	if err != nil {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "invalid token"})
		return
	}

	sess, ok := h.registry.Lookup(participantID)
	if !ok {
		c.JSON(http.StatusNotFound, gin.H{"error": "no session"})
		return
	}

	conn, err := upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		return
	}

	info := ConnInfo{
		ConnID:        uuid.NewString(),
		ParticipantID: participantID,
		DeviceID:      observability.DeviceIDFromRequest(c.Request),
		IP:            observability.IPFromRequest(c.Request),
		RequestID:     observability.RequestIDFromRequest(c.Request),
		TraceID:       span.SpanContext().TraceID().String(),
		ConnectedAt:   time.Now(),
	}

	observability.IncWSActive()
	observability.IncWSEvent("ws_connect")
	publishWSEvent(ctx, "ws_connect", info, 0, "")

	pump := newSnapshotPump(conn, func(err error) {
		h.log.Warn("websocket write error", zap.String("conn_id", info.ConnID), zap.Error(err))
		observability.IncWSEvent("ws_error")
		publishWSEvent(ctx, "ws_error", info, time.Since(info.ConnectedAt).Milliseconds(), err.Error())
	})
	pump.Start()

	// Initial state, then one push per change.
	pump.Push(sess.Snapshot())
	remove := sess.AddObserver(pump.Push)

	go func() {
		var closeReason string
		defer func() {
			remove()
			pump.Stop()
			observability.DecWSActive()
			observability.IncWSEvent("ws_disconnect")
			publishWSEvent(ctx, "ws_disconnect", info, time.Since(info.ConnectedAt).Milliseconds(), closeReason)
		}()
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				closeReason = err.Error()
				if !websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
					observability.IncWSEvent("ws_error")
				}
				return
			}
		}
	}()
}

func bearerToken(c *gin.Context) string {
	header := c.GetHeader("Authorization")
	if header == "" {
		return c.Query("token")
	}
	parts := strings.SplitN(header, " ", 2)
	if len(parts) != 2 || !strings.EqualFold(parts[0], "bearer") {
		return ""
	}
	return parts[1]
}

func publishWSEvent(ctx context.Context, event string, info ConnInfo, durationMS int64, reason string) {
	payload := map[string]interface{}{
		"ws": map[string]interface{}{
			"event":       event,
			"conn_id":     info.ConnID,
			"duration_ms": durationMS,
			"reason":      reason,
		},
		"identity": map[string]interface{}{
			"participant_id": info.ParticipantID,
			"device_id":      info.DeviceID,
			"ip":             info.IP,
		},
	}
	_ = observability.PublishEvent(ctx, "ws_events.sessions", observability.EventEnvelope{
		EventType: "ws_events",
		EventName: event,
		Payload:   payload,
	}, observability.BuildHeaders(info.RequestID, info.TraceID))
}
