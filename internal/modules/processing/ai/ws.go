package ai

import (
	"context"
	"net/http"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"
)

const (
	wsReadTimeout  = 60 * time.Second
	wsWriteTimeout = 10 * time.Second
	wsPingInterval = 50 * time.Second
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  4096,
	WriteBufferSize: 4096,
	// Origin checks are done by the CORS middleware in front of this route.
	CheckOrigin: func(r *http.Request) bool { return true },
}

// wsRequest is one client frame. Type "cancel" aborts the reply in flight;
// anything else starts a chat. DocumentID selects a stored conversation,
// otherwise Segments and History are used as is.
type wsRequest struct {
	Type string `json:"type"`
	chatUnboundDTO
	DocumentID string `json:"document_id"`
}

type wsConn struct {
	conn *websocket.Conn
	mu   sync.Mutex
}

func (w *wsConn) write(v any) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	_ = w.conn.SetWriteDeadline(time.Now().Add(wsWriteTimeout))
	return w.conn.WriteJSON(v)
}

func (w *wsConn) ping() error {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(wsWriteTimeout))
}

// GET /chat/ws
func (h *Handler) chatSocket(c *gin.Context) {
	conn, err := upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		h.logger.Debug("websocket upgrade failed", zap.Error(err))
		return
	}
	ws := &wsConn{conn: conn}
	defer conn.Close()

	ctx, cancel := context.WithCancel(c.Request.Context())
	defer cancel()

	// At most one request is queued or streaming. Extra chat frames get a busy
	// error and the reader keeps going.
	requests := make(chan wsRequest, 1)
	var (
		mu          sync.Mutex
		busy        bool
		cancelReply context.CancelFunc
	)
	go func() {
		defer cancel()
		_ = conn.SetReadDeadline(time.Now().Add(wsReadTimeout))
		conn.SetPongHandler(func(string) error {
			return conn.SetReadDeadline(time.Now().Add(wsReadTimeout))
		})
		for {
			var req wsRequest
			if err := conn.ReadJSON(&req); err != nil {
				if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
					h.logger.Debug("websocket read failed", zap.Error(err))
				}
				return
			}
			_ = conn.SetReadDeadline(time.Now().Add(wsReadTimeout))
			if req.Type == "cancel" {
				mu.Lock()
				if cancelReply != nil {
					cancelReply()
				}
				mu.Unlock()
				continue
			}
			mu.Lock()
			rejected := busy
			busy = true
			mu.Unlock()
			if rejected {
				if err := ws.write(busyEvent()); err != nil {
					return
				}
				continue
			}
			requests <- req
		}
	}()

	go func() {
		ticker := time.NewTicker(wsPingInterval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				if err := ws.ping(); err != nil {
					cancel()
					return
				}
			}
		}
	}()

	for {
		select {
		case <-ctx.Done():
			return
		case req := <-requests:
			replyCtx, stop := context.WithCancel(ctx)
			mu.Lock()
			cancelReply = stop
			mu.Unlock()

			err := h.serveSocketRequest(replyCtx, ws, req)
			stop()
			mu.Lock()
			cancelReply = nil
			busy = false
			mu.Unlock()
			if err != nil {
				return
			}
		}
	}
}

const replyBusyText = "A reply is already streaming on this connection."

func busyEvent() replyEvent {
	return replyEvent{Type: eventError, Data: replyDone{Status: StateFailed.String(), Error: replyBusyText}}
}

// serveSocketRequest streams one reply. A non-nil error means the connection is unusable.
func (h *Handler) serveSocketRequest(ctx context.Context, ws *wsConn, req wsRequest) error {
	cfg := h.svc.Config(req.Config)
	var (
		reply *Reply
		err   error
	)
	if req.DocumentID != "" {
		reply, err = h.svc.Chat().Send(ctx, req.DocumentID, req.Message, cfg)
	} else {
		reply, err = h.svc.Chat().Stream(ctx, ChatRequest{
			Segments: req.Segments,
			History:  req.History,
			Message:  req.Message,
			Config:   cfg,
		})
	}
	if err != nil {
		return ws.write(replyEvent{Type: eventError, Data: replyDone{Status: StateFailed.String(), Error: err.Error()}})
	}
	return drainReply(reply, func(ev replyEvent) error { return ws.write(ev) })
}
