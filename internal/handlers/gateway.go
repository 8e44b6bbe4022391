// internal/handlers/gateway.go
package handlers

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/coder/websocket"
	"github.com/google/uuid"
	"github.com/jason-s-yu/tablestakes/internal/game"
	"github.com/jason-s-yu/tablestakes/internal/middleware"
	"github.com/jason-s-yu/tablestakes/internal/registry"
	"github.com/julienschmidt/httprouter"
	"github.com/sirupsen/logrus"
	"golang.org/x/time/rate"
)

// Subprotocol is the WebSocket subprotocol clients must request.
const Subprotocol = "trivia"

const (
	writeTimeout = 10 * time.Second
	readLimit    = 1 << 16 // custom question lists can be long
)

// GatewayConfig tunes the WebSocket endpoint.
type GatewayConfig struct {
	// OriginPatterns are passed to websocket.Accept. Empty means same-origin only.
	OriginPatterns []string
	// RateLimit is the sustained inbound messages per second per connection.
	// Zero or less disables limiting.
	RateLimit float64
	RateBurst int
}

// Gateway accepts WebSocket clients, registers their outbound queue and
// routes their commands to the session manager.
type Gateway struct {
	logger   *logrus.Logger
	manager  *game.Manager
	registry *registry.Registry
	cfg      GatewayConfig
}

func NewGateway(logger *logrus.Logger, manager *game.Manager, reg *registry.Registry, cfg GatewayConfig) *Gateway {
	if cfg.RateBurst <= 0 {
		cfg.RateBurst = 10
	}
	return &Gateway{
		logger:   logger,
		manager:  manager,
		registry: reg,
		cfg:      cfg,
	}
}

// ServeWS upgrades the request and runs the connection until either side
// closes it.
func (g *Gateway) ServeWS(w http.ResponseWriter, r *http.Request, _ httprouter.Params) {
	c, err := websocket.Accept(w, r, &websocket.AcceptOptions{
		Subprotocols:   []string{Subprotocol},
		OriginPatterns: g.cfg.OriginPatterns,
	})
	if err != nil {
		g.logger.Warnf("websocket accept error: %v", err)
		return
	}
	defer c.CloseNow()

	if c.Subprotocol() != Subprotocol {
		c.Close(BadSubprotocolError, "client must speak the trivia subprotocol")
		return
	}
	c.SetReadLimit(readLimit)

	connID := uuid.NewString()
	ctx, cancel := context.WithCancel(r.Context())
	defer cancel()

	conn := g.registry.Register(connID, cancel)
	middleware.LogWebSocketConnect(g.logger, connID, r.RemoteAddr)

	writerDone := make(chan struct{})
	go func() {
		writePump(ctx, c, conn, g.logger)
		close(writerDone)
	}()

	readErr := g.readPump(ctx, c, connID)

	// Forget the connection before the manager so nothing is queued for it
	// while the session marks the player disconnected.
	g.registry.Unregister(connID)
	g.manager.HandleDisconnect(connID)
	cancel()
	<-writerDone

	if conn.Evicted() {
		c.Close(SlowConsumerError, "too many pending messages")
	} else {
		c.Close(websocket.StatusNormalClosure, "")
	}
	middleware.LogWebSocketDisconnect(g.logger, connID, r.RemoteAddr, quietCloseError(readErr))
}

// readPump reads commands until the connection fails or ctx is cancelled.
func (g *Gateway) readPump(ctx context.Context, c *websocket.Conn, connID string) error {
	var limiter *rate.Limiter
	if g.cfg.RateLimit > 0 {
		limiter = rate.NewLimiter(rate.Limit(g.cfg.RateLimit), g.cfg.RateBurst)
	}

	for {
		typ, msg, err := c.Read(ctx)
		if err != nil {
			return err
		}
		if limiter != nil {
			if err := limiter.Wait(ctx); err != nil {
				return err
			}
		}
		if typ != websocket.MessageText {
			g.reply(connID, errBinaryFrame)
			continue
		}
		g.dispatch(connID, msg)
	}
}

// writePump drains the registry queue onto the socket until the queue is
// closed or the connection context ends.
func writePump(ctx context.Context, c *websocket.Conn, conn *registry.Connection, logger *logrus.Logger) {
	for {
		select {
		case <-ctx.Done():
			return
		case msg, ok := <-conn.OutChan:
			if !ok {
				return
			}
			wctx, cancel := context.WithTimeout(ctx, writeTimeout)
			err := c.Write(wctx, websocket.MessageText, msg)
			cancel()
			if err != nil {
				if ctx.Err() == nil {
					logger.WithError(err).WithField("conn", conn.ID).Warn("websocket write failed")
				}
				if conn.Cancel != nil {
					conn.Cancel()
				}
				return
			}
		}
	}
}

// quietCloseError hides the errors every connection ends with.
func quietCloseError(err error) error {
	switch websocket.CloseStatus(err) {
	case websocket.StatusNormalClosure, websocket.StatusGoingAway:
		return nil
	}
	if errors.Is(err, context.Canceled) {
		return nil
	}
	return err
}
