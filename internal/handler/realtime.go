package handler

import (
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"

	"dispatch/internal/domain"
	"dispatch/internal/logger"
	"dispatch/internal/realtime"
	"dispatch/internal/service"
)

const (
	writeWait           = 10 * time.Second
	defaultPingInterval = 30 * time.Second
	defaultMaxMessage   = 4096
)

// Message types sent to websocket clients.
const (
	MessageHello  = "hello"
	MessageEvent  = "event"
	MessageResync = "resync"
)

// StreamMessage is one frame on the realtime websocket.
type StreamMessage struct {
	Type   string          `json:"type"`
	Offset uint64          `json:"offset,omitempty"`
	Event  *realtime.Event `json:"event,omitempty"`
}

// RealtimeOptions tunes the websocket transport.
type RealtimeOptions struct {
	PingInterval   time.Duration
	MaxMessageSize int64
	CheckOrigin    func(r *http.Request) bool
}

// RealtimeHandler streams tenant events over websockets.
type RealtimeHandler struct {
	hub          *realtime.Hub
	upgrader     websocket.Upgrader
	pingInterval time.Duration
	pongWait     time.Duration
	maxMessage   int64
	log          *logger.Logger
}

// NewRealtimeHandler creates a new RealtimeHandler.
func NewRealtimeHandler(hub *realtime.Hub, opts RealtimeOptions, log *logger.Logger) *RealtimeHandler {
	if opts.PingInterval <= 0 {
		opts.PingInterval = defaultPingInterval
	}
	if opts.MaxMessageSize <= 0 {
		opts.MaxMessageSize = defaultMaxMessage
	}
	return &RealtimeHandler{
		hub: hub,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin:     opts.CheckOrigin,
		},
		pingInterval: opts.PingInterval,
		pongWait:     2 * opts.PingInterval,
		maxMessage:   opts.MaxMessageSize,
		log:          log,
	}
}

// audienceFor scopes a subscription to what the actor may see.
func audienceFor(actor domain.Actor) realtime.Audience {
	switch actor.Role {
	case domain.RoleDriver:
		return realtime.Audience{DriverID: actor.ID}
	case domain.RoleClient:
		return realtime.Audience{ClientID: actor.ID}
	default:
		return realtime.Audience{}
	}
}

func parseSince(c *gin.Context) (uint64, error) {
	raw := c.Query("since")
	if raw == "" {
		return 0, nil
	}
	since, err := strconv.ParseUint(raw, 10, 64)
	if err != nil {
		return 0, &service.ValidationError{Field: "since", Reason: "must be a non-negative integer"}
	}
	return since, nil
}

// Snapshot handles GET /v1/realtime/snapshot
func (h *RealtimeHandler) Snapshot(c *gin.Context) {
	actor, ok := actorOrAbort(c, h.log)
	if !ok {
		return
	}

	p := h.hub.Snapshot(actor.TenantID, audienceFor(actor))
	entities := p.Snapshot()
	events := make([]realtime.Event, 0, len(entities))
	for _, ev := range entities {
		events = append(events, ev)
	}
	respondJSON(c, http.StatusOK, gin.H{"offset": p.Cursor(), "events": events})
}

// Stream handles GET /v1/realtime/ws
//
// On connect the server sends a hello frame with the current offset. If since
// is ahead of the offset this instance knows about, a resync frame tells the
// client to reload state and continue from the new offset. A subscriber that
// falls behind is closed with CloseTryAgainLater and should reconnect with
// the offset of the last event it applied.
func (h *RealtimeHandler) Stream(c *gin.Context) {
	actor, ok := actorOrAbort(c, h.log)
	if !ok {
		return
	}
	since, err := parseSince(c)
	if err != nil {
		respondError(c, h.log, err)
		return
	}

	sub, err := h.hub.Subscribe(actor.TenantID, audienceFor(actor), since)
	if err != nil {
		respondError(c, h.log, err)
		return
	}

	conn, err := h.upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		sub.Close()
		// Upgrade has already written the HTTP error.
		h.log.Warn(h.log.WithField(c.Request.Context(), "error", err.Error()), "websocket upgrade failed")
		return
	}

	ctx := h.log.WithField(c.Request.Context(), "subscription_id", sub.ID)
	h.log.Debug(ctx, "realtime stream opened")

	first := StreamMessage{Type: MessageHello, Offset: sub.Offset}
	if sub.Resync {
		first.Type = MessageResync
	}

	go h.readPump(conn, sub)
	h.writePump(conn, sub, first)
	h.log.Debug(ctx, "realtime stream closed")
}

// readPump drains client frames so control messages are processed and
// detects disconnects.
func (h *RealtimeHandler) readPump(conn *websocket.Conn, sub *realtime.Subscription) {
	defer sub.Close()

	conn.SetReadLimit(h.maxMessage)
	_ = conn.SetReadDeadline(time.Now().Add(h.pongWait))
	conn.SetPongHandler(func(string) error {
		return conn.SetReadDeadline(time.Now().Add(h.pongWait))
	})
	for {
		if _, _, err := conn.ReadMessage(); err != nil {
			return
		}
	}
}

func (h *RealtimeHandler) writePump(conn *websocket.Conn, sub *realtime.Subscription, first StreamMessage) {
	ticker := time.NewTicker(h.pingInterval)
	defer func() {
		ticker.Stop()
		sub.Close()
		_ = conn.Close()
	}()

	if err := h.write(conn, first); err != nil {
		return
	}

	for {
		select {
		case ev, ok := <-sub.Events():
			if !ok {
				code, text := websocket.CloseNormalClosure, "closed"
				if sub.Lagged() {
					code, text = websocket.CloseTryAgainLater, "lagged"
				}
				_ = conn.WriteControl(websocket.CloseMessage,
					websocket.FormatCloseMessage(code, text), time.Now().Add(writeWait))
				return
			}
			if err := h.write(conn, StreamMessage{Type: MessageEvent, Offset: ev.Offset, Event: &ev}); err != nil {
				return
			}
		case <-ticker.C:
			_ = conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

func (h *RealtimeHandler) write(conn *websocket.Conn, msg StreamMessage) error {
	_ = conn.SetWriteDeadline(time.Now().Add(writeWait))
	return conn.WriteJSON(msg)
}
