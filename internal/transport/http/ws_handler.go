package http

import (
	"context"
	"errors"
	"io"

	"github.com/coder/websocket"
	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog"

	"github.com/deskchat/deskchat-server/internal/relay"
)

// NewWSHandler upgrades HTTP connections and bridges them to relay sessions.
// GET /ws/chats
func NewWSHandler(
	registry *relay.Registry,
	router *relay.Router,
	resolver relay.IdentityResolver,
	logger *zerolog.Logger,
) gin.HandlerFunc {
	return func(c *gin.Context) {
		conn, err := websocket.Accept(c.Writer, c.Request, &websocket.AcceptOptions{
			InsecureSkipVerify: true,
		})
		if err != nil {
			logger.Error().Err(err).Msg("ws accept error")
			return
		}
		defer conn.Close(websocket.StatusInternalError, "internal error")

		session := relay.NewSession(&wsWire{conn: conn}, registry, router, resolver, logger)
		err = session.Run(c.Request.Context())

		status := websocket.StatusNormalClosure
		reason := "closing"
		if err != nil && !errors.Is(err, context.Canceled) {
			if errors.Is(err, io.EOF) {
				err = nil
			}
			if s := websocket.CloseStatus(err); s != 0 {
				status = s
			}
			if status == websocket.StatusNormalClosure || status == websocket.StatusGoingAway {
				err = nil
			}
			if err != nil {
				if status == websocket.StatusNormalClosure {
					status = websocket.StatusInternalError
				}
				reason = err.Error()
				logger.Warn().Err(err).Msg("ws connection closed with error")
			}
		}

		conn.Close(status, reason)
	}
}

// wsWire adapts a websocket connection to the relay.Wire interface.
type wsWire struct {
	conn *websocket.Conn
}

func (w *wsWire) ReadFrame(ctx context.Context) ([]byte, error) {
	_, data, err := w.conn.Read(ctx)
	return data, err
}

func (w *wsWire) WriteFrame(ctx context.Context, payload []byte) error {
	return w.conn.Write(ctx, websocket.MessageText, payload)
}

func (w *wsWire) Close(reason string) {
	_ = w.conn.Close(websocket.StatusNormalClosure, reason)
}
