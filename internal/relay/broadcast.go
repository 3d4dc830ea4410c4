package relay

import (
	"go.uber.org/zap"

	"github.com/DoyleJ11/snake-relay/internal/protocol"
)

// encodedSet memoises the encoding of a message list per format, so a flush
// encodes each message at most once per format however many subscribers
// share it.
type encodedSet struct {
	log     *zap.Logger
	msgs    func() []protocol.Message
	frames  map[protocol.Format][]Frame
	partial map[protocol.Format]bool
}

func newEncodedSet(log *zap.Logger, msgs func() []protocol.Message) *encodedSet {
	return &encodedSet{
		log:     log,
		msgs:    msgs,
		frames:  make(map[protocol.Format][]Frame, 2),
		partial: make(map[protocol.Format]bool, 2),
	}
}

// get returns the frames for f. complete is false when any message failed to
// encode and was left out.
func (e *encodedSet) get(f protocol.Format) (frames []Frame, complete bool) {
	if frames, ok := e.frames[f]; ok {
		return frames, !e.partial[f]
	}
	msgs := e.msgs()
	frames = make([]Frame, 0, len(msgs))
	for _, m := range msgs {
		data, err := f.Encode(m)
		if err != nil {
			e.log.Error("encode message", zap.Stringer("kind", m.Kind()), zap.Stringer("format", f), zap.Error(err))
			e.partial[f] = true
			continue
		}
		frames = append(frames, Frame{Binary: f == protocol.FormatBinary, Data: data})
	}
	e.frames[f] = frames
	return frames, !e.partial[f]
}

// flush hands the current batch to every subscriber. Subscribers that have
// not been synced yet get GameInfo and a snapshot instead. A subscriber whose
// frames cannot all be encoded in its format is dropped. The batch and the
// log queue are cleared whatever happens to the deliveries.
func (r *Relay) flush(frameID uint64) {
	r.frameID = frameID
	tick := protocol.Tick{FrameID: frameID}

	batch := newEncodedSet(r.log, func() []protocol.Message { return r.batch })
	snapshot := newEncodedSet(r.log, r.syncMessages)
	ticks := newEncodedSet(r.log, func() []protocol.Message { return []protocol.Message{tick} })
	logs := make(map[uint64][]Frame)

	for id, sub := range r.subs {
		set := batch
		if !sub.synced {
			set = snapshot
		}
		body, complete := set.get(sub.format)
		if !complete {
			r.drop(id, sub, "encoding failed")
			continue
		}
		tf, _ := ticks.get(sub.format)

		var lf []Frame
		if sub.hasKey {
			lf = r.logFrames(logs, frameID, sub.viewerKey)
		}

		frames := make([]Frame, 0, len(body)+len(tf)+len(lf))
		frames = append(frames, body...)
		frames = append(frames, tf...)
		frames = append(frames, lf...)

		select {
		case sub.outbox <- Delivery{FrameID: frameID, Frames: frames}:
			sub.synced = true
		default:
			r.drop(id, sub, "outbox full")
		}
	}

	r.log.Debug("flushed tick",
		zap.Uint64("frame", frameID),
		zap.Int("messages", len(r.batch)),
		zap.Int("subscribers", len(r.subs)),
	)
	r.batch = r.batch[:0]
	clear(r.logs)
}

// syncMessages is what a subscriber gets on first contact: the game info, if
// any arrived, and the world rebuilt from the replica.
func (r *Relay) syncMessages() []protocol.Message {
	msgs := make([]protocol.Message, 0, 2)
	if info, ok := r.state.GameInfo(); ok {
		msgs = append(msgs, info)
	}
	return append(msgs, r.state.Snapshot())
}

// logFrames encodes the queued lines for key once per flush. Log frames are
// always text.
func (r *Relay) logFrames(cache map[uint64][]Frame, frameID, key uint64) []Frame {
	if frames, ok := cache[key]; ok {
		return frames
	}
	lines := r.logs[key]
	frames := make([]Frame, 0, len(lines))
	for _, text := range lines {
		data, err := protocol.EncodeLog(frameID, text)
		if err != nil {
			r.log.Error("encode log", zap.Uint64("viewer_key", key), zap.Error(err))
			continue
		}
		frames = append(frames, Frame{Data: data})
	}
	cache[key] = frames
	return frames
}
