package protocol

import (
	"bytes"
	"fmt"
	"math"

	"github.com/vmihailenco/msgpack/v5"
)

// EncodeBinary renders m as a MessagePack array [version, kind, fields...].
func EncodeBinary(m Message) ([]byte, error) {
	fields, err := binaryFields(m)
	if err != nil {
		return nil, err
	}

	var buf bytes.Buffer
	enc := msgpack.NewEncoder(&buf)
	enc.UseCompactInts(true)
	if err := enc.Encode(fields); err != nil {
		return nil, fmt.Errorf("encode %s: %w", m.Kind(), err)
	}
	return buf.Bytes(), nil
}

func binaryFields(m Message) ([]any, error) {
	out := []any{Version, uint64(m.Kind())}

	switch v := m.(type) {
	case GameInfo:
		out = append(out, v.WorldSizeX, v.WorldSizeY, v.FoodDecayPerFrame)
		if v.Tuning != nil {
			out = append(out,
				v.Tuning.SnakeDistancePerStep,
				v.Tuning.SnakeSegmentDistanceFactor,
				v.Tuning.SnakeSegmentDistanceExponent,
				v.Tuning.SnakePullFactor,
			)
		}
	case WorldUpdate:
		bots := make([]any, 0, len(v.Bots))
		for _, b := range v.Bots {
			bots = append(bots, packBot(b))
		}
		food := make([]any, 0, len(v.Food))
		for _, f := range v.Food {
			food = append(food, packFood(f))
		}
		out = append(out, bots, food)
	case Tick:
		out = append(out, v.FrameID)
	case BotSpawn:
		out = append(out, packBot(v.Bot))
	case BotKill:
		out = append(out, v.KillerID, v.VictimID)
	case BotMove:
		items := make([]any, 0, len(v.Items))
		for _, it := range v.Items {
			items = append(items, []any{it.BotID, packVecs(it.NewSegments), it.CurrentLength, it.SegmentRadius})
		}
		out = append(out, items)
	case BotLog:
		items := make([]any, 0, len(v.Items))
		for _, it := range v.Items {
			items = append(items, []any{it.ViewerKey, it.Text})
		}
		out = append(out, items)
	case BotStats:
		items := make([]any, 0, len(v.Items))
		for _, it := range v.Items {
			items = append(items, []any{it.BotID, it.Mass, it.NaturalFoodConsumed, it.CarrionFoodConsumed, it.HuntedFoodConsumed})
		}
		out = append(out, items)
	case BotMoveHead:
		items := make([]any, 0, len(v.Items))
		for _, it := range v.Items {
			items = append(items, []any{it.BotID, it.Mass, packVecs(it.NewHeadPositions), it.CurrentLength, it.SegmentRadius})
		}
		out = append(out, items)
	case FoodSpawn:
		items := make([]any, 0, len(v.Items))
		for _, f := range v.Items {
			items = append(items, packFood(f))
		}
		out = append(out, items)
	case FoodConsume:
		items := make([]any, 0, len(v.Items))
		for _, it := range v.Items {
			items = append(items, []any{it.FoodID, it.BotID})
		}
		out = append(out, items)
	case FoodDecay:
		ids := make([]any, 0, len(v.FoodIDs))
		for _, id := range v.FoodIDs {
			ids = append(ids, id)
		}
		out = append(out, ids)
	case PlayerInfo:
		out = append(out, v.PlayerID)
	default:
		return nil, fmt.Errorf("encode: unsupported message type %T", m)
	}
	return out, nil
}

func packVecs(vs []Vec2) []any {
	out := make([]any, 0, len(vs))
	for _, v := range vs {
		out = append(out, []any{v.X, v.Y})
	}
	return out
}

func packFood(f Food) []any {
	return []any{f.GUID, f.Position.X, f.Position.Y, f.Value}
}

func packBot(b Bot) []any {
	colors := make([]any, 0, len(b.Color))
	for _, c := range b.Color {
		colors = append(colors, uint64(c))
	}
	return []any{
		b.GUID,
		b.Name,
		b.SegmentRadius,
		packVecs(b.Segments),
		colors,
		b.Mass,
		b.DatabaseID,
		b.FaceID,
		b.DogTagID,
	}
}

// DecodeBinary parses one framed payload. Malformed payloads yield ErrFormat;
// unknown kind tags yield ErrUnknownKind.
func DecodeBinary(b []byte) (Message, error) {
	rd := bytes.NewReader(b)
	dec := msgpack.NewDecoder(rd)
	dec.UseLooseInterfaceDecoding(true)
	raw, err := dec.DecodeInterfaceLoose()
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrFormat, err)
	}
	if n := rd.Len(); n > 0 {
		return nil, fmt.Errorf("%w: %d trailing bytes", ErrFormat, n)
	}

	arr, ok := raw.([]any)
	if !ok {
		return nil, fmt.Errorf("%w: expected array, got %T", ErrFormat, raw)
	}
	if len(arr) < headerFields {
		return nil, fmt.Errorf("%w: header has %d fields", ErrFormat, len(arr))
	}

	r := &reader{}
	r.uint(arr[0], "version")
	tag := r.uint(arr[1], "kind")
	if r.err != nil {
		return nil, r.err
	}
	if tag > math.MaxUint8 || !Kind(tag).Known() {
		return nil, fmt.Errorf("%w: 0x%02x", ErrUnknownKind, tag)
	}

	kind := Kind(tag)
	r.kind = kind
	if need := kindTable[kind].minFields; len(arr) < need {
		return nil, formatErr(kind, "got %d fields, need at least %d", len(arr), need)
	}

	msg := r.decode(kind, arr[headerFields:])
	if r.err != nil {
		return nil, r.err
	}
	return msg, nil
}

func (r *reader) decode(kind Kind, f []any) Message {
	switch kind {
	case KindGameInfo:
		if n := len(f) + headerFields; n > kindTable[kind].minFields && n < gameInfoExtendedFields {
			r.fail("got %d fields, want %d or %d", n, kindTable[kind].minFields, gameInfoExtendedFields)
			return nil
		}
		m := GameInfo{
			WorldSizeX:        r.float(f[0], "world_size_x"),
			WorldSizeY:        r.float(f[1], "world_size_y"),
			FoodDecayPerFrame: r.float(f[2], "food_decay_per_frame"),
		}
		if len(f)+headerFields >= gameInfoExtendedFields {
			m.Tuning = &Tuning{
				SnakeDistancePerStep:         r.float(f[3], "snake_distance_per_step"),
				SnakeSegmentDistanceFactor:   r.float(f[4], "snake_segment_distance_factor"),
				SnakeSegmentDistanceExponent: r.float(f[5], "snake_segment_distance_exponent"),
				SnakePullFactor:              r.float(f[6], "snake_pull_factor"),
			}
		}
		return m

	case KindWorldUpdate:
		var m WorldUpdate
		for _, b := range r.list(f[0], "bots") {
			m.Bots = append(m.Bots, r.bot(b))
		}
		for _, fd := range r.list(f[1], "food") {
			m.Food = append(m.Food, r.food(fd))
		}
		return m

	case KindTick:
		return Tick{FrameID: r.uint(f[0], "frame_id")}

	case KindBotSpawn:
		return BotSpawn{Bot: r.bot(f[0])}

	case KindBotKill:
		return BotKill{KillerID: r.uint(f[0], "killer_id"), VictimID: r.uint(f[1], "victim_id")}

	case KindBotMove:
		var m BotMove
		for _, it := range r.list(f[0], "items") {
			a := r.array(it, 4, "bot move item")
			if a == nil {
				break
			}
			m.Items = append(m.Items, BotMoveItem{
				BotID:         r.uint(a[0], "bot_id"),
				NewSegments:   r.vecs(a[1], "new_segments"),
				CurrentLength: r.uint(a[2], "current_length"),
				SegmentRadius: r.float(a[3], "segment_radius"),
			})
		}
		return m

	case KindBotLog:
		var m BotLog
		for _, it := range r.list(f[0], "items") {
			a := r.array(it, 2, "bot log item")
			if a == nil {
				break
			}
			m.Items = append(m.Items, BotLogItem{
				ViewerKey: r.uint(a[0], "viewer_key"),
				Text:      r.str(a[1], "text"),
			})
		}
		return m

	case KindBotStats:
		var m BotStats
		for _, it := range r.list(f[0], "items") {
			a := r.array(it, 5, "bot stats item")
			if a == nil {
				break
			}
			m.Items = append(m.Items, BotStatsItem{
				BotID:               r.uint(a[0], "bot_id"),
				Mass:                r.float(a[1], "mass"),
				NaturalFoodConsumed: r.float(a[2], "natural_food_consumed"),
				CarrionFoodConsumed: r.float(a[3], "carrion_food_consumed"),
				HuntedFoodConsumed:  r.float(a[4], "hunted_food_consumed"),
			})
		}
		return m

	case KindBotMoveHead:
		var m BotMoveHead
		for _, it := range r.list(f[0], "items") {
			a := r.array(it, 5, "bot move head item")
			if a == nil {
				break
			}
			m.Items = append(m.Items, BotMoveHeadItem{
				BotID:            r.uint(a[0], "bot_id"),
				Mass:             r.float(a[1], "mass"),
				NewHeadPositions: r.vecs(a[2], "new_head_positions"),
				CurrentLength:    r.uint(a[3], "current_length"),
				SegmentRadius:    r.float(a[4], "segment_radius"),
			})
		}
		return m

	case KindFoodSpawn:
		var m FoodSpawn
		for _, fd := range r.list(f[0], "items") {
			m.Items = append(m.Items, r.food(fd))
		}
		return m

	case KindFoodConsume:
		var m FoodConsume
		for _, it := range r.list(f[0], "items") {
			a := r.array(it, 2, "food consume item")
			if a == nil {
				break
			}
			m.Items = append(m.Items, FoodConsumeItem{
				FoodID: r.uint(a[0], "food_id"),
				BotID:  r.uint(a[1], "bot_id"),
			})
		}
		return m

	case KindFoodDecay:
		var m FoodDecay
		for _, id := range r.list(f[0], "food_ids") {
			m.FoodIDs = append(m.FoodIDs, r.uint(id, "food_id"))
		}
		return m

	case KindPlayerInfo:
		return PlayerInfo{PlayerID: r.uint(f[0], "player_id")}
	}

	r.fail("no decoder")
	return nil
}

// reader converts loosely decoded MessagePack values into typed fields. The
// first failure sticks; later calls return zero values.
type reader struct {
	kind Kind
	err  error
}

func (r *reader) fail(format string, args ...any) {
	if r.err == nil {
		r.err = formatErr(r.kind, format, args...)
	}
}

func (r *reader) array(v any, need int, what string) []any {
	if r.err != nil {
		return nil
	}
	a, ok := v.([]any)
	if !ok {
		r.fail("%s: expected array, got %T", what, v)
		return nil
	}
	if len(a) < need {
		r.fail("%s: got %d fields, need at least %d", what, len(a), need)
		return nil
	}
	return a
}

// list accepts nil as an empty list.
func (r *reader) list(v any, what string) []any {
	if v == nil || r.err != nil {
		return nil
	}
	return r.array(v, 0, what)
}

func (r *reader) uint(v any, what string) uint64 {
	if r.err != nil {
		return 0
	}
	switch n := v.(type) {
	case uint64:
		return n
	case uint32:
		return uint64(n)
	case uint16:
		return uint64(n)
	case uint8:
		return uint64(n)
	case int64:
		if n >= 0 {
			return uint64(n)
		}
	case int32:
		if n >= 0 {
			return uint64(n)
		}
	case int16:
		if n >= 0 {
			return uint64(n)
		}
	case int8:
		if n >= 0 {
			return uint64(n)
		}
	}
	r.fail("%s: expected unsigned integer, got %T(%v)", what, v, v)
	return 0
}

// float also accepts integers; producers pack whole numbers compactly.
func (r *reader) float(v any, what string) float64 {
	if r.err != nil {
		return 0
	}
	switch n := v.(type) {
	case float64:
		return r.finite(n, what)
	case float32:
		return r.finite(float64(n), what)
	case int64:
		return float64(n)
	case uint64:
		return float64(n)
	case int32:
		return float64(n)
	case uint32:
		return float64(n)
	case int16:
		return float64(n)
	case uint16:
		return float64(n)
	case int8:
		return float64(n)
	case uint8:
		return float64(n)
	}
	r.fail("%s: expected float, got %T(%v)", what, v, v)
	return 0
}

func (r *reader) finite(n float64, what string) float64 {
	if math.IsNaN(n) || math.IsInf(n, 0) {
		r.fail("%s: non-finite value %v", what, n)
		return 0
	}
	return n
}

func (r *reader) str(v any, what string) string {
	if r.err != nil {
		return ""
	}
	switch s := v.(type) {
	case string:
		return s
	case []byte:
		return string(s)
	}
	r.fail("%s: expected string, got %T", what, v)
	return ""
}

func (r *reader) vec(v any, what string) Vec2 {
	a := r.array(v, 2, what)
	if a == nil {
		return Vec2{}
	}
	return Vec2{X: r.float(a[0], what+".x"), Y: r.float(a[1], what+".y")}
}

func (r *reader) vecs(v any, what string) []Vec2 {
	var out []Vec2
	for _, p := range r.list(v, what) {
		out = append(out, r.vec(p, what))
	}
	return out
}

func (r *reader) food(v any) Food {
	a := r.array(v, 4, "food item")
	if a == nil {
		return Food{}
	}
	return Food{
		GUID:     r.uint(a[0], "food.guid"),
		Position: Vec2{X: r.float(a[1], "food.x"), Y: r.float(a[2], "food.y")},
		Value:    r.float(a[3], "food.value"),
	}
}

// bot accepts the legacy five-field item; mass and identity fields are
// trailing and optional.
func (r *reader) bot(v any) Bot {
	a := r.array(v, 5, "bot item")
	if a == nil {
		return Bot{}
	}
	b := Bot{
		GUID:          r.uint(a[0], "bot.guid"),
		Name:          r.str(a[1], "bot.name"),
		SegmentRadius: r.float(a[2], "bot.segment_radius"),
		Segments:      r.vecs(a[3], "bot.segments"),
	}
	for _, c := range r.list(a[4], "bot.color") {
		n := r.uint(c, "bot.color")
		if n > math.MaxUint32 {
			r.fail("bot.color: %d overflows uint32", n)
		}
		b.Color = append(b.Color, uint32(n))
	}
	if len(a) > 5 {
		b.Mass = r.float(a[5], "bot.mass")
	}
	if len(a) > 6 {
		b.DatabaseID = r.uint(a[6], "bot.db_id")
	}
	if len(a) > 7 {
		b.FaceID = r.uint(a[7], "bot.face_id")
	}
	if len(a) > 8 {
		b.DogTagID = r.uint(a[8], "bot.dog_tag_id")
	}
	return b
}
