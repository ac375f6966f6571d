package handler

import (
	"context"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/cuongbtq/primitive-orchestrator/internal/domain"
	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
)

const (
	// Time allowed to write a message to the peer
	writeWait = 10 * time.Second

	// Time allowed to read the next pong message from the peer
	pongWait = 60 * time.Second

	// Send pings to peer with this period (must be less than pongWait)
	pingPeriod = 54 * time.Second

	// Clients only send keepalive traffic
	maxMessageSize = 4096
)

// wsSubscriber delivers job events to one websocket connection
type wsSubscriber struct {
	conn *websocket.Conn
	mu   sync.Mutex
}

// Send writes event as a JSON text frame. The write deadline is the
// earlier of ctx's deadline and writeWait.
func (s *wsSubscriber) Send(ctx context.Context, event domain.Event) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	deadline := time.Now().Add(writeWait)
	if d, ok := ctx.Deadline(); ok && d.Before(deadline) {
		deadline = d
	}
	if err := s.conn.SetWriteDeadline(deadline); err != nil {
		return err
	}
	return s.conn.WriteJSON(event)
}

// JobEvents handles GET /ws/jobs/:job_id
// Streams the job's events until the client disconnects.
func (h *JobHandler) JobEvents(c *gin.Context) {
	jobID := c.Param("job_id")

	conn, err := h.upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		// Upgrade has already replied to the client.
		h.logger.Warn("WebSocket upgrade failed",
			slog.String("job_id", jobID),
			slog.String("error", err.Error()),
		)
		return
	}

	sub := &wsSubscriber{conn: conn}
	h.notifier.Subscribe(jobID, sub)
	h.logger.Debug("WebSocket subscribed", slog.String("job_id", jobID))

	done := make(chan struct{})
	defer func() {
		close(done)
		h.notifier.Unsubscribe(jobID, sub)
		conn.Close()
		h.logger.Debug("WebSocket unsubscribed", slog.String("job_id", jobID))
	}()

	go keepAlive(conn, done)

	conn.SetReadLimit(maxMessageSize)
	conn.SetReadDeadline(time.Now().Add(pongWait))
	conn.SetPongHandler(func(string) error {
		return conn.SetReadDeadline(time.Now().Add(pongWait))
	})

	for {
		if _, _, err := conn.ReadMessage(); err != nil {
			if websocket.IsUnexpectedCloseError(err,
				websocket.CloseGoingAway,
				websocket.CloseNormalClosure,
				websocket.CloseNoStatusReceived,
			) {
				h.logger.Debug("WebSocket closed unexpectedly",
					slog.String("job_id", jobID),
					slog.String("error", err.Error()),
				)
			}
			return
		}
	}
}

// keepAlive pings the peer until done is closed or a ping fails
func keepAlive(conn *websocket.Conn, done <-chan struct{}) {
	ticker := time.NewTicker(pingPeriod)
	defer ticker.Stop()

	for {
		select {
		case <-done:
			return
		case <-ticker.C:
			// WriteControl may run concurrently with WriteJSON.
			if err := conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(writeWait)); err != nil {
				return
			}
		}
	}
}

// originChecker accepts requests without an Origin header, same-host
// origins and the configured CORS origins ("*" allows all).
func originChecker(allowed []string) func(r *http.Request) bool {
	set := make(map[string]bool, len(allowed))
	for _, o := range allowed {
		set[strings.TrimRight(strings.TrimSpace(o), "/")] = true
	}

	return func(r *http.Request) bool {
		origin := r.Header.Get("Origin")
		if origin == "" || set["*"] || set[origin] {
			return true
		}
		u, err := url.Parse(origin)
		if err != nil {
			return false
		}
		return strings.EqualFold(u.Host, r.Host)
	}
}
