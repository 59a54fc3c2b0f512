package ws

import (
	"context"
	"errors"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/park285/cheese-arena/internal/obslog"
	"github.com/park285/cheese-arena/pkg/arenadto"
	"go.uber.org/zap"
	"nhooyr.io/websocket"
	"nhooyr.io/websocket/wsjson"
)

// Dispatcher handles one decoded client event.
type Dispatcher interface {
	Handle(ctx context.Context, connID string, env arenadto.Envelope)
}

type Options struct {
	PingInterval   time.Duration
	AllowedOrigins []string
	// OnConnect and OnDisconnect run once per connection with a fresh context.
	OnConnect    func(ctx context.Context, connID, clientID string)
	OnDisconnect func(ctx context.Context, connID, clientID string)
}

type Handler struct {
	hub    *Hub
	router Dispatcher
	opts   Options
}

func NewHandler(hub *Hub, router Dispatcher, opts Options) *Handler {
	if opts.PingInterval <= 0 {
		opts.PingInterval = 30 * time.Second
	}
	return &Handler{hub: hub, router: router, opts: opts}
}

func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	accept := &websocket.AcceptOptions{OriginPatterns: h.opts.AllowedOrigins}
	if len(h.opts.AllowedOrigins) == 0 {
		accept.InsecureSkipVerify = true
	}
	conn, err := websocket.Accept(w, r, accept)
	if err != nil {
		obslog.L().Warn("ws_accept_failed", zap.Error(err))
		return
	}
	defer conn.Close(websocket.StatusInternalError, "internal error")

	connID := uuid.NewString()
	clientID := strings.TrimSpace(r.URL.Query().Get("uuid"))
	if clientID == "" {
		clientID = uuid.NewString()
	}
	c := h.hub.register(connID, clientID)
	obslog.L().Info("ws_connect", zap.String("conn", connID), zap.String("client", clientID))
	h.lifecycle(h.opts.OnConnect, connID, clientID)
	defer func() {
		h.hub.unregister(connID)
		h.lifecycle(h.opts.OnDisconnect, connID, clientID)
	}()

	ctx, cancel := context.WithCancel(r.Context())
	defer cancel()

	errCh := make(chan error, 3)
	go func() { errCh <- h.readLoop(ctx, conn, c) }()
	go func() { errCh <- h.writeLoop(ctx, conn, c) }()
	go func() { errCh <- h.pingLoop(ctx, conn) }()

	err = <-errCh
	cancel()
	<-errCh
	<-errCh

	status := websocket.StatusNormalClosure
	reason := "closing"
	if err != nil && !errors.Is(err, context.Canceled) && !errors.Is(err, io.EOF) {
		if s := websocket.CloseStatus(err); s != -1 {
			status = s
		}
		if status != websocket.StatusNormalClosure && status != websocket.StatusGoingAway {
			obslog.L().Warn("ws_closed_with_error", zap.String("conn", connID), zap.Error(err))
		}
	}
	obslog.L().Info("ws_disconnect", zap.String("conn", connID), zap.String("client", clientID))
	conn.Close(status, reason)
}

func (h *Handler) lifecycle(fn func(ctx context.Context, connID, clientID string), connID, clientID string) {
	if fn == nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	fn(ctx, connID, clientID)
}

func (h *Handler) readLoop(ctx context.Context, conn *websocket.Conn, c *client) error {
	for {
		var env arenadto.Envelope
		if err := wsjson.Read(ctx, conn, &env); err != nil {
			return err
		}
		if strings.TrimSpace(env.Event) == "" {
			h.hub.Send(c.id, arenadto.EvError, arenadto.Message{Message: "Malformed request"})
			continue
		}
		h.router.Handle(ctx, c.id, env)
	}
}

func (h *Handler) writeLoop(ctx context.Context, conn *websocket.Conn, c *client) error {
	for {
		select {
		case msg := <-c.send:
			wctx, cancel := context.WithTimeout(ctx, 5*time.Second)
			err := conn.Write(wctx, websocket.MessageText, msg)
			cancel()
			if err != nil {
				return err
			}
		case <-ctx.Done():
			return ctx.Err()
		}
	}
}

func (h *Handler) pingLoop(ctx context.Context, conn *websocket.Conn) error {
	t := time.NewTicker(h.opts.PingInterval)
	defer t.Stop()
	failures := 0
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-t.C:
			pctx, cancel := context.WithTimeout(ctx, 3*time.Second)
			err := conn.Ping(pctx)
			cancel()
			if err == nil {
				failures = 0
				continue
			}
			failures++
			if failures >= 2 {
				return err
			}
		}
	}
}
