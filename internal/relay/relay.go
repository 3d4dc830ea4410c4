// Package relay owns the world replica and the subscriber set. A single
// goroutine applies upstream messages, batches them until the next Tick and
// fans the batch out to every subscriber.
package relay

import (
	"context"

	"go.uber.org/zap"

	"github.com/DoyleJ11/snake-relay/internal/protocol"
	"github.com/DoyleJ11/snake-relay/internal/world"
)

type Msg interface{ isRelayMsg() }

// Upstream carries one decoded message from the simulation.
type Upstream struct {
	Message protocol.Message
}

func (Upstream) isRelayMsg() {}

// UpstreamReset marks the start of a new upstream session. The replica is
// discarded and every subscriber is resynced on the next Tick.
type UpstreamReset struct{}

func (UpstreamReset) isRelayMsg() {}

type Join struct {
	ID     string
	Format protocol.Format
	Outbox chan Delivery // closed by the relay when the subscriber is dropped
}

func (Join) isRelayMsg() {}

type Leave struct{ ID string }

func (Leave) isRelayMsg() {}

// SetViewerKey routes BotLog lines for Key to the subscriber.
type SetViewerKey struct {
	ID  string
	Key uint64
}

func (SetViewerKey) isRelayMsg() {}

// GetStats replies with the last BotStats as a text document.
type GetStats struct {
	Reply chan []byte
}

func (GetStats) isRelayMsg() {}

type GetState struct {
	Reply chan View
}

func (GetState) isRelayMsg() {}

type Shutdown struct{}

func (Shutdown) isRelayMsg() {}

// Frame is one downstream websocket message.
type Frame struct {
	Binary bool
	Data   []byte
}

// Delivery is everything a subscriber receives for one tick.
type Delivery struct {
	FrameID uint64
	Frames  []Frame
}

type View struct {
	FrameID        uint64
	NumSubscribers int
	NumSynced      int
	NumKeyed       int
	NumBots        int
	NumFood        int
	BatchLen       int
	HasGameInfo    bool
}

type Options struct {
	InboxSize int
}

const defaultInboxSize = 256

type subscriber struct {
	outbox    chan Delivery
	format    protocol.Format
	synced    bool
	viewerKey uint64
	hasKey    bool
}

type Relay struct {
	log     *zap.Logger
	inbox   chan Msg
	state   *world.State
	batch   []protocol.Message
	logs    map[uint64][]string
	subs    map[string]*subscriber
	frameID uint64
	ctx     context.Context
	cancel  context.CancelFunc
	done    chan struct{}
}

func New(parent context.Context, logger *zap.Logger, opts Options) *Relay {
	if opts.InboxSize <= 0 {
		opts.InboxSize = defaultInboxSize
	}
	ctx, cancel := context.WithCancel(parent)

	r := &Relay{
		log:    logger.Named("relay"),
		inbox:  make(chan Msg, opts.InboxSize),
		state:  world.New(),
		logs:   make(map[uint64][]string),
		subs:   make(map[string]*subscriber),
		ctx:    ctx,
		cancel: cancel,
		done:   make(chan struct{}),
	}

	go r.loop()
	return r
}

// Send queues m for the relay goroutine. It reports false once the relay has
// stopped or ctx is done.
func (r *Relay) Send(ctx context.Context, m Msg) bool {
	select {
	case <-r.done:
		return false
	default:
	}
	select {
	case r.inbox <- m:
		return true
	case <-r.done:
		return false
	case <-ctx.Done():
		return false
	}
}

// Done is closed after the relay goroutine has exited.
func (r *Relay) Done() <-chan struct{} { return r.done }

// Stopping is closed once shutdown has begun, before any outbox is closed.
// A subscriber whose outbox closes can use it to tell shutdown from a drop.
func (r *Relay) Stopping() <-chan struct{} { return r.ctx.Done() }

func (r *Relay) loop() {
	defer close(r.done)
	for {
		select {
		case <-r.ctx.Done():
			r.shutdown()
			return

		case m := <-r.inbox:
			switch msg := m.(type) {
			case Upstream:
				r.handleUpstream(msg.Message)

			case UpstreamReset:
				r.state.Reset()
				r.batch = r.batch[:0]
				clear(r.logs)
				for _, sub := range r.subs {
					sub.synced = false
				}
				r.log.Info("upstream session reset", zap.Int("subscribers", len(r.subs)))

			case Join:
				if old, ok := r.subs[msg.ID]; ok {
					r.drop(msg.ID, old, "replaced")
				}
				r.subs[msg.ID] = &subscriber{outbox: msg.Outbox, format: msg.Format}
				r.log.Debug("subscriber joined", zap.String("subscriber", msg.ID), zap.Stringer("format", msg.Format))

			case Leave:
				if _, ok := r.subs[msg.ID]; ok {
					delete(r.subs, msg.ID)
					r.log.Debug("subscriber left", zap.String("subscriber", msg.ID))
				}

			case SetViewerKey:
				if sub, ok := r.subs[msg.ID]; ok {
					sub.viewerKey = msg.Key
					sub.hasKey = true
				}

			case GetStats:
				msg.Reply <- r.statsDocument()

			case GetState:
				msg.Reply <- r.view()

			case Shutdown:
				r.shutdown()
				return
			}
		}
	}
}

func (r *Relay) handleUpstream(m protocol.Message) {
	r.state.Apply(m)

	switch msg := m.(type) {
	case protocol.Tick:
		r.flush(msg.FrameID)

	case protocol.BotLog:
		for _, it := range msg.Items {
			r.logs[it.ViewerKey] = append(r.logs[it.ViewerKey], it.Text)
		}

	case protocol.BotStats, protocol.PlayerInfo:
		// polled or unused downstream

	case protocol.GameInfo, protocol.WorldUpdate, protocol.BotSpawn, protocol.BotKill,
		protocol.BotMove, protocol.BotMoveHead, protocol.FoodSpawn, protocol.FoodConsume,
		protocol.FoodDecay:
		r.batch = append(r.batch, m)
	}
}

func (r *Relay) statsDocument() []byte {
	stats, _ := r.state.Stats()
	doc, err := protocol.EncodeText(stats)
	if err != nil {
		r.log.Error("encode stats", zap.Error(err))
		return nil
	}
	return doc
}

func (r *Relay) view() View {
	v := View{
		FrameID:        r.frameID,
		NumSubscribers: len(r.subs),
		NumBots:        r.state.NumBots(),
		NumFood:        r.state.NumFood(),
		BatchLen:       len(r.batch),
	}
	_, v.HasGameInfo = r.state.GameInfo()
	for _, sub := range r.subs {
		if sub.synced {
			v.NumSynced++
		}
		if sub.hasKey {
			v.NumKeyed++
		}
	}
	return v
}

func (r *Relay) drop(id string, sub *subscriber, reason string) {
	close(sub.outbox)
	delete(r.subs, id)
	r.log.Warn("dropping subscriber", zap.String("subscriber", id), zap.String("reason", reason))
}

func (r *Relay) shutdown() {
	r.cancel()
	for id, sub := range r.subs {
		close(sub.outbox)
		delete(r.subs, id)
	}
}
