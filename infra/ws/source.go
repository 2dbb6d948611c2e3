package ws

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"bookbuilder/domain/event"
	"bookbuilder/infra/codec"
)

// Source reads book events from a websocket feed. Every data message is
// one event in Codec's format.
type Source struct {
	URL string
	// Subscribe, when set, is sent as a text frame right after connecting.
	Subscribe    []byte
	Codec        codec.Codec
	Logger       *zap.Logger
	ReadTimeout  time.Duration
	PingInterval time.Duration
}

func (s *Source) Run(ctx context.Context, emit func(event.Event) error) error {
	log := s.Logger.With(zap.String("component", "ws-source"), zap.String("url", s.URL))

	conn, _, err := websocket.DefaultDialer.DialContext(ctx, s.URL, nil)
	if err != nil {
		return fmt.Errorf("ws dial: %w", err)
	}
	defer conn.Close()
	log.Info("connected")

	if len(s.Subscribe) > 0 {
		if err := conn.WriteMessage(websocket.TextMessage, s.Subscribe); err != nil {
			return fmt.Errorf("ws subscribe: %w", err)
		}
	}

	conn.SetReadLimit(5 << 20)
	if s.ReadTimeout > 0 {
		_ = conn.SetReadDeadline(time.Now().Add(s.ReadTimeout))
		conn.SetPongHandler(func(string) error {
			return conn.SetReadDeadline(time.Now().Add(s.ReadTimeout))
		})
	}

	done := make(chan struct{})
	defer close(done)
	go s.keepalive(ctx, conn, done)

	for {
		typ, msg, err := conn.ReadMessage()
		if err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			if websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				log.Info("feed closed by peer")
				return nil
			}
			return fmt.Errorf("ws read: %w", err)
		}
		if typ != websocket.TextMessage && typ != websocket.BinaryMessage {
			continue
		}
		if s.ReadTimeout > 0 {
			_ = conn.SetReadDeadline(time.Now().Add(s.ReadTimeout))
		}

		e, err := s.Codec.Decode(msg)
		if err != nil {
			log.Debug("skipping message", zap.Error(err), zap.ByteString("raw", msg))
			continue
		}
		if err := emit(e); err != nil {
			return err
		}
	}
}

// keepalive pings the peer and, on cancellation, closes the connection
// so the blocked read returns.
func (s *Source) keepalive(ctx context.Context, conn *websocket.Conn, done <-chan struct{}) {
	var tick <-chan time.Time
	if s.PingInterval > 0 {
		t := time.NewTicker(s.PingInterval)
		defer t.Stop()
		tick = t.C
	}
	for {
		select {
		case <-done:
			return
		case <-ctx.Done():
			_ = conn.WriteControl(websocket.CloseMessage,
				websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
				time.Now().Add(time.Second))
			_ = conn.Close()
			return
		case <-tick:
			err := conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(5*time.Second))
			if err != nil && !errors.Is(err, websocket.ErrCloseSent) {
				s.Logger.Debug("ping failed", zap.Error(err))
			}
		}
	}
}
