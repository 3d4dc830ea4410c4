package ws

import (
	"context"
	"math"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/coder/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/DoyleJ11/snake-relay/internal/protocol"
	"github.com/DoyleJ11/snake-relay/internal/relay"
)

type harness struct {
	relay *relay.Relay
	url   string
}

func newHarness(t *testing.T, opts Options) *harness {
	t.Helper()
	ctx, cancel := context.WithCancel(context.Background())
	rl := relay.New(ctx, zap.NewNop(), relay.Options{})

	srv := httptest.NewServer(Handler(rl, zap.NewNop(), opts))
	t.Cleanup(func() {
		cancel()
		<-rl.Done()
		srv.Close()
	})
	return &harness{relay: rl, url: "ws" + strings.TrimPrefix(srv.URL, "http")}
}

func (h *harness) view(t *testing.T) relay.View {
	t.Helper()
	reply := make(chan relay.View, 1)
	require.True(t, h.relay.Send(context.Background(), relay.GetState{Reply: reply}))
	return <-reply
}

func (h *harness) dial(t *testing.T, query string) *websocket.Conn {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	conn, _, err := websocket.Dial(ctx, h.url+query, nil)
	require.NoError(t, err)
	t.Cleanup(func() { conn.Close(websocket.StatusNormalClosure, "") })

	require.Eventually(t, func() bool { return h.view(t).NumSubscribers > 0 }, time.Second, 5*time.Millisecond)
	return conn
}

func (h *harness) upstream(t *testing.T, msgs ...protocol.Message) {
	t.Helper()
	for _, m := range msgs {
		require.True(t, h.relay.Send(context.Background(), relay.Upstream{Message: m}))
	}
}

func read(t *testing.T, conn *websocket.Conn) (websocket.MessageType, []byte) {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	typ, data, err := conn.Read(ctx)
	require.NoError(t, err)
	return typ, data
}

func closeStatus(t *testing.T, conn *websocket.Conn) websocket.StatusCode {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	for {
		_, _, err := conn.Read(ctx)
		if err != nil {
			return websocket.CloseStatus(err)
		}
	}
}

func TestHandler_JSONSubscriberGetsSnapshotThenTick(t *testing.T) {
	h := newHarness(t, Options{})
	conn := h.dial(t, "")

	info := protocol.GameInfo{WorldSizeX: 100, WorldSizeY: 100, FoodDecayPerFrame: 0.1}
	h.upstream(t, info, protocol.Tick{FrameID: 1})

	typ, data := read(t, conn)
	assert.Equal(t, websocket.MessageText, typ)
	msg, err := protocol.DecodeText(data)
	require.NoError(t, err)
	assert.Equal(t, info, msg)

	_, data = read(t, conn)
	msg, err = protocol.DecodeText(data)
	require.NoError(t, err)
	assert.Equal(t, protocol.WorldUpdate{}, msg)

	_, data = read(t, conn)
	assert.JSONEq(t, `{"t":"Tick","frame_id":1}`, string(data))
}

func TestHandler_MsgpackSubscriber(t *testing.T) {
	h := newHarness(t, Options{})
	conn := h.dial(t, "?format=msgpack")

	h.upstream(t, protocol.Tick{FrameID: 3})

	for _, want := range []protocol.Message{protocol.WorldUpdate{}, protocol.Tick{FrameID: 3}} {
		typ, data := read(t, conn)
		assert.Equal(t, websocket.MessageBinary, typ)
		msg, err := protocol.DecodeBinary(data)
		require.NoError(t, err)
		assert.Equal(t, want, msg)
	}
}

func TestHandler_ViewerKeyRoutesLogs(t *testing.T) {
	h := newHarness(t, Options{})
	conn := h.dial(t, "?format=msgpack")

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	require.NoError(t, conn.Write(ctx, websocket.MessageText, []byte(`{"viewer_key":"42"}`)))
	require.Eventually(t, func() bool { return h.view(t).NumKeyed == 1 }, time.Second, 5*time.Millisecond)

	h.upstream(t,
		protocol.BotLog{Items: []protocol.BotLogItem{{ViewerKey: 42, Text: "turning left"}}},
		protocol.Tick{FrameID: 8},
	)

	read(t, conn) // snapshot
	read(t, conn) // tick
	typ, data := read(t, conn)
	assert.Equal(t, websocket.MessageText, typ)
	assert.JSONEq(t, `{"t":"Log","frame_id":8,"text":"turning left"}`, string(data))
}

func TestHandler_ClosesOnBadControlMessages(t *testing.T) {
	cases := []struct {
		name string
		typ  websocket.MessageType
		data string
		opts Options
		want websocket.StatusCode
	}{
		{name: "malformed json", typ: websocket.MessageText, data: `{"viewer_key":`, want: websocket.StatusProtocolError},
		{name: "non decimal key", typ: websocket.MessageText, data: `{"viewer_key":"abc"}`, want: websocket.StatusProtocolError},
		{name: "binary control", typ: websocket.MessageBinary, data: `{"viewer_key":"1"}`, want: websocket.StatusProtocolError},
		{
			name: "oversized",
			typ:  websocket.MessageText,
			data: `{"viewer_key":"` + strings.Repeat("1", 200) + `"}`,
			opts: Options{ReadLimit: 64},
			want: websocket.StatusMessageTooBig,
		},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			h := newHarness(t, tc.opts)
			conn := h.dial(t, "")

			ctx, cancel := context.WithTimeout(context.Background(), time.Second)
			defer cancel()
			require.NoError(t, conn.Write(ctx, tc.typ, []byte(tc.data)))

			assert.Equal(t, tc.want, closeStatus(t, conn))
			require.Eventually(t, func() bool { return h.view(t).NumSubscribers == 0 }, time.Second, 5*time.Millisecond)
		})
	}
}

func TestHandler_ControlRateLimit(t *testing.T) {
	h := newHarness(t, Options{ControlRate: rate.Every(time.Hour), ControlBurst: 1})
	conn := h.dial(t, "")

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	require.NoError(t, conn.Write(ctx, websocket.MessageText, []byte(`{"viewer_key":"1"}`)))
	require.NoError(t, conn.Write(ctx, websocket.MessageText, []byte(`{"viewer_key":"2"}`)))

	assert.Equal(t, websocket.StatusPolicyViolation, closeStatus(t, conn))
}

func TestHandler_RelayShutdownClosesGoingAway(t *testing.T) {
	h := newHarness(t, Options{})
	conn := h.dial(t, "")

	require.True(t, h.relay.Send(context.Background(), relay.Shutdown{}))

	assert.Equal(t, websocket.StatusGoingAway, closeStatus(t, conn))
}

func TestHandler_DroppedSubscriberClosesTryAgainLater(t *testing.T) {
	h := newHarness(t, Options{})
	conn := h.dial(t, "")

	// encodes as msgpack but not as JSON, so the text snapshot is incomplete
	h.upstream(t,
		protocol.BotSpawn{Bot: protocol.Bot{GUID: 7, SegmentRadius: math.NaN()}},
		protocol.Tick{FrameID: 1},
	)

	assert.Equal(t, websocket.StatusTryAgainLater, closeStatus(t, conn))
	require.Eventually(t, func() bool { return h.view(t).NumSubscribers == 0 }, time.Second, 5*time.Millisecond)
}

func TestHandler_UnknownFormat(t *testing.T) {
	rl := relay.New(context.Background(), zap.NewNop(), relay.Options{})
	defer rl.Send(context.Background(), relay.Shutdown{})

	req := httptest.NewRequest(http.MethodGet, "/ws?format=xml", nil)
	rec := httptest.NewRecorder()
	Handler(rl, zap.NewNop(), Options{})(rec, req)

	assert.Equal(t, http.StatusBadRequest, rec.Code)
}
