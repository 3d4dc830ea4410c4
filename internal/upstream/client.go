// Package upstream reads the simulation's framed message stream and feeds
// it, decoded and in order, to the relay.
package upstream

import (
	"context"
	"errors"
	"fmt"
	"net"
	"time"

	"github.com/cenkalti/backoff/v4"
	"go.uber.org/zap"

	"github.com/DoyleJ11/snake-relay/internal/framing"
	"github.com/DoyleJ11/snake-relay/internal/protocol"
	"github.com/DoyleJ11/snake-relay/internal/relay"
)

// ErrUpstreamLost is returned by Run once the connection is gone and the
// reconnect budget is spent.
var ErrUpstreamLost = errors.New("upstream connection lost")

var errSinkClosed = errors.New("relay stopped")

const readChunk = 64 << 10

// Sink receives decoded messages. *relay.Relay implements it.
type Sink interface {
	Send(ctx context.Context, m relay.Msg) bool
}

type Options struct {
	Addr            string
	FrameBufferSize int
	// ReconnectAttempts bounds the dials made after a loss. Zero makes the
	// first loss final.
	ReconnectAttempts int
	DialTimeout       time.Duration
	InitialBackoff    time.Duration
	MaxBackoff        time.Duration
}

type Client struct {
	log  *zap.Logger
	sink Sink
	opts Options
	dial func(ctx context.Context, network, addr string) (net.Conn, error)
}

func New(logger *zap.Logger, sink Sink, opts Options) *Client {
	if opts.FrameBufferSize <= 0 {
		opts.FrameBufferSize = framing.DefaultCapacity
	}
	if opts.DialTimeout <= 0 {
		opts.DialTimeout = 5 * time.Second
	}
	if opts.InitialBackoff <= 0 {
		opts.InitialBackoff = 250 * time.Millisecond
	}
	if opts.MaxBackoff <= 0 {
		opts.MaxBackoff = 10 * time.Second
	}
	d := &net.Dialer{Timeout: opts.DialTimeout}
	return &Client{
		log:  logger.Named("upstream").With(zap.String("addr", opts.Addr)),
		sink: sink,
		opts: opts,
		dial: d.DialContext,
	}
}

// Run connects and streams until ctx is cancelled (nil), the relay stops
// (nil) or the upstream is lost for good (ErrUpstreamLost).
func (c *Client) Run(ctx context.Context) error {
	for sessions := 0; ; sessions++ {
		conn, err := c.connect(ctx)
		if ctx.Err() != nil {
			return nil
		}
		if err != nil {
			return fmt.Errorf("%w: %w", ErrUpstreamLost, err)
		}
		c.log.Info("connected", zap.Int("session", sessions))

		if sessions > 0 && !c.sink.Send(ctx, relay.UpstreamReset{}) {
			conn.Close()
			return nil
		}

		err = c.stream(ctx, conn)
		switch {
		case ctx.Err() != nil, errors.Is(err, errSinkClosed):
			return nil
		case c.opts.ReconnectAttempts <= 0:
			return fmt.Errorf("%w: %w", ErrUpstreamLost, err)
		}
		c.log.Warn("upstream connection ended", zap.Error(err))
	}
}

// connect dials once, or up to ReconnectAttempts times with exponential
// backoff between tries.
func (c *Client) connect(ctx context.Context) (net.Conn, error) {
	if c.opts.ReconnectAttempts <= 0 {
		return c.dial(ctx, "tcp", c.opts.Addr)
	}

	exp := backoff.NewExponentialBackOff()
	exp.InitialInterval = c.opts.InitialBackoff
	exp.MaxInterval = c.opts.MaxBackoff
	exp.MaxElapsedTime = 0
	b := backoff.WithContext(backoff.WithMaxRetries(exp, uint64(c.opts.ReconnectAttempts-1)), ctx)

	var conn net.Conn
	op := func() error {
		var err error
		conn, err = c.dial(ctx, "tcp", c.opts.Addr)
		return err
	}
	notify := func(err error, wait time.Duration) {
		c.log.Warn("reconnect failed", zap.Error(err), zap.Duration("retry_in", wait))
	}
	if err := backoff.RetryNotify(op, b, notify); err != nil {
		return nil, err
	}
	return conn, nil
}

// stream owns conn until it fails. Decode errors drop one message; a framing
// error ends the session.
func (c *Client) stream(ctx context.Context, conn net.Conn) error {
	defer conn.Close()
	stop := context.AfterFunc(ctx, func() { conn.Close() })
	defer stop()

	framer := framing.New(c.opts.FrameBufferSize)
	buf := make([]byte, readChunk)
	for {
		n, err := conn.Read(buf)
		if n > 0 {
			payloads, ferr := framer.Feed(buf[:n])
			for _, p := range payloads {
				if !c.deliver(ctx, p) {
					return errSinkClosed
				}
			}
			if ferr != nil {
				return ferr
			}
		}
		if err != nil {
			return err
		}
	}
}

func (c *Client) deliver(ctx context.Context, payload []byte) bool {
	msg, err := protocol.DecodeBinary(payload)
	switch {
	case errors.Is(err, protocol.ErrUnknownKind):
		c.log.Debug("skipping message", zap.Error(err))
		return true
	case err != nil:
		c.log.Warn("dropping malformed message", zap.Error(err), zap.Int("bytes", len(payload)))
		return true
	}
	return c.sink.Send(ctx, relay.Upstream{Message: msg})
}
