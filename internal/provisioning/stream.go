package provisioning

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"
)

const (
	streamWriteWait    = 10 * time.Second
	streamPingInterval = 30 * time.Second
	streamPollInterval = 2 * time.Second
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin: func(r *http.Request) bool {
		return true // admin panel is served from a different origin; auth is by token
	},
}

// Subscriber delivers encoded progress records for a key as the tracker publishes them.
type Subscriber interface {
	SubscribeProgress(ctx context.Context, key string, handler func(payload []byte)) (cancel func(), err error)
}

// TokenValidator checks the bearer token passed as a query parameter and returns the role.
type TokenValidator func(token string) (role string, err error)

// Stream pushes progress records over a websocket until the run is terminal.
type Stream struct {
	reporter *Reporter
	sub      Subscriber
	validate TokenValidator
	logger   *zap.Logger
}

// NewStream creates a progress stream. sub may be nil, in which case the store is polled.
func NewStream(reporter *Reporter, sub Subscriber, validate TokenValidator, logger *zap.Logger) *Stream {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Stream{reporter: reporter, sub: sub, validate: validate, logger: logger}
}

// ServeWs handles GET /admin/tenants/provision/progress/ws?progress_key=&token=.
func (s *Stream) ServeWs(requiredRole string) gin.HandlerFunc {
	return func(c *gin.Context) {
		key := c.Query("progress_key")
		token := c.Query("token")
		if key == "" || token == "" {
			c.JSON(http.StatusBadRequest, gin.H{"success": false, "error": "progress_key and token required"})
			return
		}
		role, err := s.validate(token)
		if err != nil {
			c.JSON(http.StatusUnauthorized, gin.H{"success": false, "error": "invalid token"})
			return
		}
		if requiredRole != "" && role != requiredRole {
			c.JSON(http.StatusForbidden, gin.H{"success": false, "error": "insufficient permissions"})
			return
		}

		conn, err := upgrader.Upgrade(c.Writer, c.Request, nil)
		if err != nil {
			s.logger.Warn("websocket upgrade failed", zap.Error(err))
			return
		}
		defer conn.Close()
		s.pump(c.Request.Context(), conn, key)
	}
}

// pump subscribes before the first read so no update between snapshot and
// subscription is lost; a slow poll covers a missing or lagging subscriber.
func (s *Stream) pump(ctx context.Context, conn *websocket.Conn, key string) {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	updates := make(chan []byte, 16)
	if s.sub != nil {
		stop, err := s.sub.SubscribeProgress(ctx, key, func(payload []byte) {
			select {
			case updates <- payload:
			default:
			}
		})
		if err != nil {
			s.logger.Warn("progress subscribe failed, polling", zap.String("progress_key", key), zap.Error(err))
		} else {
			defer stop()
		}
	}
	go func() {
		// drain client frames so close and pong are processed
		defer cancel()
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()

	var last *ProgressRecord
	send := func(rec *ProgressRecord) (bool, error) {
		if !newerFrame(last, rec) {
			return false, nil
		}
		last = rec
		_ = conn.SetWriteDeadline(time.Now().Add(streamWriteWait))
		if err := conn.WriteJSON(rec); err != nil {
			return true, err
		}
		return rec.Status.Terminal(), nil
	}
	poll := func() bool {
		rec, err := s.reporter.Get(ctx, key)
		if errors.Is(err, ErrProgressNotFound) {
			_ = conn.SetWriteDeadline(time.Now().Add(streamWriteWait))
			_ = conn.WriteJSON(gin.H{"progress_key": key, "status": "unknown"})
			return true
		}
		if err != nil {
			s.logger.Warn("progress read failed", zap.String("progress_key", key), zap.Error(err))
			return false
		}
		done, err := send(rec)
		return done || err != nil
	}

	if poll() {
		s.closeNormal(conn)
		return
	}
	pollTicker := time.NewTicker(streamPollInterval)
	defer pollTicker.Stop()
	pingTicker := time.NewTicker(streamPingInterval)
	defer pingTicker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case payload := <-updates:
			var rec ProgressRecord
			if err := json.Unmarshal(payload, &rec); err != nil {
				continue
			}
			done, err := send(&rec)
			if err != nil {
				return
			}
			if done {
				s.closeNormal(conn)
				return
			}
		case <-pollTicker.C:
			if poll() {
				s.closeNormal(conn)
				return
			}
		case <-pingTicker.C:
			_ = conn.SetWriteDeadline(time.Now().Add(streamWriteWait))
			if err := conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

func (s *Stream) closeNormal(conn *websocket.Conn) {
	msg := websocket.FormatCloseMessage(websocket.CloseNormalClosure, "done")
	_ = conn.WriteControl(websocket.CloseMessage, msg, time.Now().Add(streamWriteWait))
}

// newerFrame reports whether rec should be pushed after last. Timestamps can
// tie across writes, so a change of status or step count also counts, and a
// terminal record is always sent.
func newerFrame(last, rec *ProgressRecord) bool {
	switch {
	case last == nil, rec.Status.Terminal():
		return true
	case rec.UpdatedAt.After(last.UpdatedAt):
		return true
	case rec.UpdatedAt.Before(last.UpdatedAt):
		return false
	}
	return rec.Status != last.Status || len(rec.Steps) > len(last.Steps) || rec.CurrentStep > last.CurrentStep
}
