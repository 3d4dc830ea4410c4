package ws

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/coder/websocket"
	"github.com/google/uuid"
	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/DoyleJ11/snake-relay/internal/protocol"
	"github.com/DoyleJ11/snake-relay/internal/relay"
	"github.com/DoyleJ11/snake-relay/internal/types"
)

// Inbox is the part of the relay a connection talks to.
type Inbox interface {
	Send(ctx context.Context, m relay.Msg) bool
	Stopping() <-chan struct{}
}

type Options struct {
	OutboxSize     int
	ReadLimit      int64
	WriteTimeout   time.Duration
	PingInterval   time.Duration
	ControlRate    rate.Limit
	ControlBurst   int
	AllowedOrigins []string
}

func (o *Options) defaults() {
	if o.OutboxSize <= 0 {
		o.OutboxSize = 16
	}
	if o.ReadLimit <= 0 {
		o.ReadLimit = 4096
	}
	if o.WriteTimeout <= 0 {
		o.WriteTimeout = 3 * time.Second
	}
	if o.PingInterval <= 0 {
		o.PingInterval = 25 * time.Second
	}
	if o.ControlRate <= 0 {
		o.ControlRate = 5
	}
	if o.ControlBurst <= 0 {
		o.ControlBurst = 10
	}
}

func Handler(inbox Inbox, logger *zap.Logger, opts Options) http.HandlerFunc {
	opts.defaults()
	logger = logger.Named("ws")

	return func(w http.ResponseWriter, r *http.Request) {
		format, err := protocol.ParseFormat(r.URL.Query().Get("format"))
		if err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}

		conn, err := websocket.Accept(w, r, &websocket.AcceptOptions{
			OriginPatterns: opts.AllowedOrigins,
		})
		if err != nil {
			logger.Debug("accept failed", zap.Error(err))
			return
		}
		defer conn.Close(websocket.StatusNormalClosure, "bye")
		conn.SetReadLimit(opts.ReadLimit)

		id := uuid.NewString()
		log := logger.With(zap.String("subscriber", id), zap.Stringer("format", format))

		out := make(chan relay.Delivery, opts.OutboxSize)
		if !inbox.Send(r.Context(), relay.Join{ID: id, Format: format, Outbox: out}) {
			conn.Close(websocket.StatusGoingAway, "relay stopped")
			return
		}
		defer inbox.Send(context.Background(), relay.Leave{ID: id})
		log.Info("subscriber connected", zap.String("remote", r.RemoteAddr))

		// Writer goroutine
		writeCtx, writeCancel := context.WithCancel(r.Context())
		writerDone := make(chan struct{})
		defer func() {
			writeCancel()
			<-writerDone
		}()
		go func() {
			defer close(writerDone)
			writeLoop(writeCtx, conn, out, inbox.Stopping(), log, opts)
		}()

		readLoop(r.Context(), conn, inbox, id, log, opts)
	}
}

func writeLoop(ctx context.Context, conn *websocket.Conn, out <-chan relay.Delivery, stopping <-chan struct{}, log *zap.Logger, opts Options) {
	ping := time.NewTicker(opts.PingInterval)
	defer ping.Stop()

	for {
		select {
		case <-ctx.Done():
			return

		case <-ping.C:
			pctx, cancel := context.WithTimeout(ctx, opts.WriteTimeout)
			err := conn.Ping(pctx)
			cancel()
			if err != nil {
				log.Debug("ping failed", zap.Error(err))
				conn.Close(websocket.StatusGoingAway, "ping timeout")
				return
			}

		case d, ok := <-out:
			if !ok {
				select {
				case <-stopping:
					conn.Close(websocket.StatusGoingAway, "relay shutting down")
				default:
					// dropped by the relay
					conn.Close(websocket.StatusTryAgainLater, "subscriber dropped")
				}
				return
			}
			for _, f := range d.Frames {
				typ := websocket.MessageText
				if f.Binary {
					typ = websocket.MessageBinary
				}
				wctx, cancel := context.WithTimeout(ctx, opts.WriteTimeout)
				err := conn.Write(wctx, typ, f.Data)
				cancel()
				if err != nil {
					log.Warn("write failed", zap.Uint64("frame", d.FrameID), zap.Error(err))
					conn.Close(websocket.StatusInternalError, "write failed")
					return
				}
			}
		}
	}
}

func readLoop(ctx context.Context, conn *websocket.Conn, inbox Inbox, id string, log *zap.Logger, opts Options) {
	limiter := rate.NewLimiter(opts.ControlRate, opts.ControlBurst)

	for {
		typ, data, err := conn.Read(ctx)
		if err != nil {
			switch websocket.CloseStatus(err) {
			case websocket.StatusNormalClosure, websocket.StatusGoingAway:
				log.Info("subscriber disconnected")
			default:
				log.Debug("read ended", zap.Error(err))
			}
			return
		}

		if !limiter.Allow() {
			log.Warn("control message rate exceeded")
			conn.Close(websocket.StatusPolicyViolation, "too many control messages")
			return
		}

		key, err := parseControl(typ, data)
		if err != nil {
			log.Warn("bad control message", zap.Error(err))
			conn.Close(websocket.StatusProtocolError, "malformed control message")
			return
		}

		if !inbox.Send(ctx, relay.SetViewerKey{ID: id, Key: key}) {
			conn.Close(websocket.StatusGoingAway, "relay stopped")
			return
		}
		log.Debug("viewer key registered", zap.Uint64("viewer_key", key))
	}
}

var errBinaryControl = errors.New("control messages must be text")

func parseControl(typ websocket.MessageType, data []byte) (uint64, error) {
	if typ != websocket.MessageText {
		return 0, errBinaryControl
	}
	var cm types.ClientMessage
	if err := json.Unmarshal(data, &cm); err != nil {
		return 0, err
	}
	return cm.ParseViewerKey()
}
