package world

import (
	"cmp"
	"slices"

	"github.com/DoyleJ11/snake-relay/internal/protocol"
)

// State mirrors the simulation. It is mutated only through Apply and is not
// safe for concurrent use; the relay loop owns it.
type State struct {
	info  *protocol.GameInfo
	bots  map[uint64]*protocol.Bot
	food  map[uint64]protocol.Food
	stats *protocol.BotStats
}

func New() *State {
	return &State{
		bots: make(map[uint64]*protocol.Bot),
		food: make(map[uint64]protocol.Food),
	}
}

// Reset forgets everything, including game info and stats.
func (s *State) Reset() {
	s.info = nil
	s.stats = nil
	clear(s.bots)
	clear(s.food)
}

// Apply folds one decoded message into the state. Messages that address
// entities the state does not know are no-ops.
func (s *State) Apply(m protocol.Message) {
	switch msg := m.(type) {
	case protocol.GameInfo:
		s.applyGameInfo(msg)

	case protocol.WorldUpdate:
		clear(s.bots)
		clear(s.food)
		for _, b := range msg.Bots {
			s.putBot(b)
		}
		for _, f := range msg.Food {
			s.food[f.GUID] = f
		}

	case protocol.BotSpawn:
		s.putBot(msg.Bot)

	case protocol.BotKill:
		delete(s.bots, msg.VictimID)

	case protocol.BotMove:
		for _, it := range msg.Items {
			bot, ok := s.bots[it.BotID]
			if !ok {
				continue
			}
			bot.Segments = advance(bot.Segments, it.NewSegments, it.CurrentLength)
			bot.SegmentRadius = it.SegmentRadius
		}

	case protocol.BotMoveHead:
		for _, it := range msg.Items {
			bot, ok := s.bots[it.BotID]
			if !ok {
				continue
			}
			bot.Segments = advance(bot.Segments, it.NewHeadPositions, it.CurrentLength)
			bot.SegmentRadius = it.SegmentRadius
			bot.Mass = it.Mass
		}

	case protocol.FoodSpawn:
		for _, f := range msg.Items {
			s.food[f.GUID] = f
		}

	case protocol.FoodConsume:
		for _, it := range msg.Items {
			delete(s.food, it.FoodID)
		}

	case protocol.FoodDecay:
		for _, id := range msg.FoodIDs {
			delete(s.food, id)
		}

	case protocol.BotStats:
		stats := protocol.BotStats{Items: slices.Clone(msg.Items)}
		s.stats = &stats

	case protocol.BotLog, protocol.Tick, protocol.PlayerInfo:
		// not world state
	}
}

// applyGameInfo keeps the previous tuning when a legacy frame omits it.
func (s *State) applyGameInfo(msg protocol.GameInfo) {
	info := msg
	switch {
	case msg.Tuning != nil:
		t := *msg.Tuning
		info.Tuning = &t
	case s.info != nil && s.info.Tuning != nil:
		t := *s.info.Tuning
		info.Tuning = &t
	}
	s.info = &info
}

func (s *State) putBot(b protocol.Bot) {
	b = cloneBot(b)
	s.bots[b.GUID] = &b
}

// advance prepends the new segments (closest to the head first) and cuts the
// result to length. A shorter list is left as is.
func advance(segments, added []protocol.Vec2, length uint64) []protocol.Vec2 {
	next := make([]protocol.Vec2, 0, len(added)+len(segments))
	next = append(next, added...)
	next = append(next, segments...)
	if uint64(len(next)) > length {
		next = next[:length]
	}
	return next
}

func cloneBot(b protocol.Bot) protocol.Bot {
	b.Segments = slices.Clone(b.Segments)
	b.Color = slices.Clone(b.Color)
	return b
}

func (s *State) GameInfo() (protocol.GameInfo, bool) {
	if s.info == nil {
		return protocol.GameInfo{}, false
	}
	info := *s.info
	if info.Tuning != nil {
		t := *info.Tuning
		info.Tuning = &t
	}
	return info, true
}

// Snapshot rebuilds a full WorldUpdate from current state. Entities are
// sorted by guid and share no memory with the state.
func (s *State) Snapshot() protocol.WorldUpdate {
	var snap protocol.WorldUpdate
	if len(s.bots) > 0 {
		snap.Bots = make([]protocol.Bot, 0, len(s.bots))
		for _, b := range s.bots {
			snap.Bots = append(snap.Bots, cloneBot(*b))
		}
		slices.SortFunc(snap.Bots, func(a, b protocol.Bot) int { return cmp.Compare(a.GUID, b.GUID) })
	}
	if len(s.food) > 0 {
		snap.Food = make([]protocol.Food, 0, len(s.food))
		for _, f := range s.food {
			snap.Food = append(snap.Food, f)
		}
		slices.SortFunc(snap.Food, func(a, b protocol.Food) int { return cmp.Compare(a.GUID, b.GUID) })
	}
	return snap
}

func (s *State) Bot(guid uint64) (protocol.Bot, bool) {
	b, ok := s.bots[guid]
	if !ok {
		return protocol.Bot{}, false
	}
	return cloneBot(*b), true
}

func (s *State) Food(guid uint64) (protocol.Food, bool) {
	f, ok := s.food[guid]
	return f, ok
}

func (s *State) NumBots() int { return len(s.bots) }
func (s *State) NumFood() int { return len(s.food) }

// Stats returns the most recent BotStats, if any arrived.
func (s *State) Stats() (protocol.BotStats, bool) {
	if s.stats == nil {
		return protocol.BotStats{}, false
	}
	return protocol.BotStats{Items: slices.Clone(s.stats.Items)}, true
}
