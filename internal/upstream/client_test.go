package upstream

import (
	"context"
	"encoding/binary"
	"net"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/vmihailenco/msgpack/v5"
	"go.uber.org/zap"

	"github.com/DoyleJ11/snake-relay/internal/framing"
	"github.com/DoyleJ11/snake-relay/internal/protocol"
	"github.com/DoyleJ11/snake-relay/internal/relay"
)

type chanSink chan relay.Msg

func (s chanSink) Send(ctx context.Context, m relay.Msg) bool {
	select {
	case s <- m:
		return true
	case <-ctx.Done():
		return false
	}
}

func recvMsg(t *testing.T, ch <-chan relay.Msg, within time.Duration) relay.Msg {
	t.Helper()
	select {
	case m := <-ch:
		return m
	case <-time.After(within):
		t.Fatalf("timed out waiting for relay message")
		return nil // unreachable
	}
}

func framed(payload []byte) []byte {
	out := make([]byte, framing.HeaderSize+len(payload))
	binary.BigEndian.PutUint32(out, uint32(len(payload)))
	copy(out[framing.HeaderSize:], payload)
	return out
}

func encoded(t *testing.T, m protocol.Message) []byte {
	t.Helper()
	data, err := protocol.EncodeBinary(m)
	require.NoError(t, err)
	return framed(data)
}

func raw(t *testing.T, v any) []byte {
	t.Helper()
	data, err := msgpack.Marshal(v)
	require.NoError(t, err)
	return framed(data)
}

// serve accepts one connection per handler, in order.
func serve(t *testing.T, handlers ...func(net.Conn)) string {
	t.Helper()
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	t.Cleanup(func() { ln.Close() })

	go func() {
		for _, h := range handlers {
			conn, err := ln.Accept()
			if err != nil {
				return
			}
			h(conn)
		}
	}()
	return ln.Addr().String()
}

func runClient(t *testing.T, opts Options, sink Sink) (context.CancelFunc, <-chan error) {
	t.Helper()
	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)

	done := make(chan error, 1)
	c := New(zap.NewNop(), sink, opts)
	go func() { done <- c.Run(ctx) }()
	return cancel, done
}

func waitErr(t *testing.T, done <-chan error) error {
	t.Helper()
	select {
	case err := <-done:
		return err
	case <-time.After(2 * time.Second):
		t.Fatalf("client did not return")
		return nil // unreachable
	}
}

func TestClient_StreamsDecodedMessagesInOrder(t *testing.T) {
	hold := make(chan struct{})
	t.Cleanup(func() { close(hold) })

	info := protocol.GameInfo{WorldSizeX: 100, WorldSizeY: 100, FoodDecayPerFrame: 0.1}
	var stream []byte
	stream = append(stream, encoded(t, info)...)
	stream = append(stream, raw(t, []any{1, 0x99, "from a newer server"})...)
	stream = append(stream, raw(t, []any{1, 0x10})...) // tick without frame id
	stream = append(stream, encoded(t, protocol.Tick{FrameID: 1})...)

	addr := serve(t, func(conn net.Conn) {
		// split mid-frame to exercise reassembly
		_, _ = conn.Write(stream[:7])
		time.Sleep(10 * time.Millisecond)
		_, _ = conn.Write(stream[7:])
		<-hold
		conn.Close()
	})

	sink := make(chanSink, 8)
	cancel, done := runClient(t, Options{Addr: addr}, sink)

	assert.Equal(t, relay.Upstream{Message: info}, recvMsg(t, sink, time.Second))
	assert.Equal(t, relay.Upstream{Message: protocol.Tick{FrameID: 1}}, recvMsg(t, sink, time.Second))

	cancel()
	assert.NoError(t, waitErr(t, done))
}

func TestClient_LossIsFatalWithoutReconnects(t *testing.T) {
	tick := encoded(t, protocol.Tick{FrameID: 1})
	addr := serve(t, func(conn net.Conn) {
		_, _ = conn.Write(tick)
		conn.Close()
	})

	sink := make(chanSink, 8)
	_, done := runClient(t, Options{Addr: addr}, sink)

	assert.Equal(t, relay.Upstream{Message: protocol.Tick{FrameID: 1}}, recvMsg(t, sink, time.Second))
	assert.ErrorIs(t, waitErr(t, done), ErrUpstreamLost)
}

func TestClient_ReconnectResetsRelay(t *testing.T) {
	hold := make(chan struct{})
	t.Cleanup(func() { close(hold) })

	first := encoded(t, protocol.Tick{FrameID: 1})
	second := encoded(t, protocol.Tick{FrameID: 2})
	addr := serve(t,
		func(conn net.Conn) {
			_, _ = conn.Write(first)
			conn.Close()
		},
		func(conn net.Conn) {
			_, _ = conn.Write(second)
			<-hold
			conn.Close()
		},
	)

	sink := make(chanSink, 8)
	cancel, done := runClient(t, Options{Addr: addr, ReconnectAttempts: 3, InitialBackoff: 10 * time.Millisecond}, sink)

	assert.Equal(t, relay.Upstream{Message: protocol.Tick{FrameID: 1}}, recvMsg(t, sink, time.Second))
	assert.Equal(t, relay.UpstreamReset{}, recvMsg(t, sink, time.Second))
	assert.Equal(t, relay.Upstream{Message: protocol.Tick{FrameID: 2}}, recvMsg(t, sink, time.Second))

	cancel()
	assert.NoError(t, waitErr(t, done))
}

func TestClient_OversizedFrameTearsDown(t *testing.T) {
	hold := make(chan struct{})
	t.Cleanup(func() { close(hold) })

	header := make([]byte, framing.HeaderSize)
	binary.BigEndian.PutUint32(header, 1000)
	stream := append(encoded(t, protocol.Tick{FrameID: 1}), header...)

	addr := serve(t, func(conn net.Conn) {
		_, _ = conn.Write(stream)
		<-hold
		conn.Close()
	})

	sink := make(chanSink, 8)
	_, done := runClient(t, Options{Addr: addr, FrameBufferSize: 64}, sink)

	assert.Equal(t, relay.Upstream{Message: protocol.Tick{FrameID: 1}}, recvMsg(t, sink, time.Second))
	err := waitErr(t, done)
	assert.ErrorIs(t, err, ErrUpstreamLost)
	assert.ErrorIs(t, err, framing.ErrFrameTooLarge)
}

func TestClient_DialFailureExhaustsBudget(t *testing.T) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	addr := ln.Addr().String()
	require.NoError(t, ln.Close())

	sink := make(chanSink, 1)
	_, done := runClient(t, Options{Addr: addr, ReconnectAttempts: 2, InitialBackoff: time.Millisecond, MaxBackoff: time.Millisecond}, sink)

	assert.ErrorIs(t, waitErr(t, done), ErrUpstreamLost)
}
