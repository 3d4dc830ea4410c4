package protocol

import (
	"cmp"
	"encoding/json"
	"fmt"
	"slices"
	"strconv"
)

// LogKindName is the "t" value of the per-viewer log side message. Log lines
// are a downstream-only message and have no binary kind tag.
const LogKindName = "Log"

type vecDoc struct {
	PosX float64 `json:"pos_x"`
	PosY float64 `json:"pos_y"`
}

type botDoc struct {
	ID            uint64   `json:"id"`
	Name          string   `json:"name"`
	DatabaseID    uint64   `json:"db_id"`
	Face          uint64   `json:"face"`
	DogTag        uint64   `json:"dog_tag"`
	Color         []uint32 `json:"color"`
	Mass          float64  `json:"mass"`
	SegmentRadius float64  `json:"segment_radius"`
	Segments      []vecDoc `json:"snake_segments"`
	// Heading is always 0; the simulation does not send one.
	Heading float64 `json:"heading"`
}

type foodDoc struct {
	ID    uint64  `json:"id"`
	PosX  float64 `json:"pos_x"`
	PosY  float64 `json:"pos_y"`
	Value float64 `json:"value"`
}

type gameInfoDoc struct {
	T                            string   `json:"t"`
	WorldSizeX                   float64  `json:"world_size_x"`
	WorldSizeY                   float64  `json:"world_size_y"`
	FoodDecayPerFrame            float64  `json:"food_decay_per_frame"`
	SnakeDistancePerStep         *float64 `json:"snake_distance_per_step,omitempty"`
	SnakeSegmentDistanceFactor   *float64 `json:"snake_segment_distance_factor,omitempty"`
	SnakeSegmentDistanceExponent *float64 `json:"snake_segment_distance_exponent,omitempty"`
	SnakePullFactor              *float64 `json:"snake_pull_factor,omitempty"`
}

type worldUpdateDoc struct {
	T    string             `json:"t"`
	Bots map[string]botDoc  `json:"bots"`
	Food map[string]foodDoc `json:"food"`
}

type tickDoc struct {
	T       string `json:"t"`
	FrameID uint64 `json:"frame_id"`
}

type botSpawnDoc struct {
	T   string `json:"t"`
	Bot botDoc `json:"bot"`
}

type botKillDoc struct {
	T        string `json:"t"`
	KillerID uint64 `json:"killer_id"`
	VictimID uint64 `json:"victim_id"`
}

type botMoveItemDoc struct {
	BotID         uint64   `json:"bot_id"`
	SegmentData   []vecDoc `json:"segment_data"`
	Length        uint64   `json:"length"`
	SegmentRadius float64  `json:"segment_radius"`
}

type botMoveDoc struct {
	T     string           `json:"t"`
	Items []botMoveItemDoc `json:"items"`
}

type botMoveHeadItemDoc struct {
	BotID         uint64       `json:"bot_id"`
	Mass          float64      `json:"m"`
	Positions     [][2]float64 `json:"p"`
	Length        uint64       `json:"length"`
	SegmentRadius float64      `json:"segment_radius"`
}

type botMoveHeadDoc struct {
	T     string               `json:"t"`
	Items []botMoveHeadItemDoc `json:"items"`
}

type botLogItemDoc struct {
	ViewerKey uint64 `json:"viewer_key"`
	Text      string `json:"text"`
}

type botLogDoc struct {
	T     string          `json:"t"`
	Items []botLogItemDoc `json:"items"`
}

type botStatsEntryDoc struct {
	Mass    float64 `json:"m"`
	Natural float64 `json:"n"`
	Carrion float64 `json:"c"`
	Hunted  float64 `json:"h"`
}

type botStatsDoc struct {
	T    string                      `json:"t"`
	Data map[string]botStatsEntryDoc `json:"data"`
}

type foodSpawnDoc struct {
	T     string    `json:"t"`
	Items []foodDoc `json:"items"`
}

type foodConsumeItemDoc struct {
	FoodID uint64 `json:"food_id"`
	BotID  uint64 `json:"bot_id"`
}

type foodConsumeDoc struct {
	T     string               `json:"t"`
	Items []foodConsumeItemDoc `json:"items"`
}

type foodDecayDoc struct {
	T     string   `json:"t"`
	Items []uint64 `json:"items"`
}

type playerInfoDoc struct {
	T        string `json:"t"`
	PlayerID uint64 `json:"player_id"`
}

type logDoc struct {
	T       string `json:"t"`
	FrameID uint64 `json:"frame_id"`
	Text    string `json:"text"`
}

// TextDocuments returns a zero document for every "t" value of the text
// protocol, keyed by that value.
func TextDocuments() map[string]any {
	docs := map[string]any{LogKindName: logDoc{}}
	for k := range kindTable {
		docs[k.String()] = docFor(k)
	}
	return docs
}

func docFor(k Kind) any {
	switch k {
	case KindGameInfo:
		return &gameInfoDoc{}
	case KindWorldUpdate:
		return &worldUpdateDoc{}
	case KindTick:
		return &tickDoc{}
	case KindBotSpawn:
		return &botSpawnDoc{}
	case KindBotKill:
		return &botKillDoc{}
	case KindBotMove:
		return &botMoveDoc{}
	case KindBotLog:
		return &botLogDoc{}
	case KindBotStats:
		return &botStatsDoc{}
	case KindBotMoveHead:
		return &botMoveHeadDoc{}
	case KindFoodSpawn:
		return &foodSpawnDoc{}
	case KindFoodConsume:
		return &foodConsumeDoc{}
	case KindFoodDecay:
		return &foodDecayDoc{}
	case KindPlayerInfo:
		return &playerInfoDoc{}
	}
	return nil
}

// EncodeText renders m as a JSON object tagged with its "t" name.
func EncodeText(m Message) ([]byte, error) {
	doc, err := textDoc(m)
	if err != nil {
		return nil, err
	}
	data, err := json.Marshal(doc)
	if err != nil {
		return nil, fmt.Errorf("encode %s: %w", m.Kind(), err)
	}
	return data, nil
}

// EncodeLog renders a viewer log line for the given frame.
func EncodeLog(frameID uint64, text string) ([]byte, error) {
	return json.Marshal(logDoc{T: LogKindName, FrameID: frameID, Text: text})
}

func textDoc(m Message) (any, error) {
	name := m.Kind().String()

	switch v := m.(type) {
	case GameInfo:
		doc := gameInfoDoc{
			T:                 name,
			WorldSizeX:        v.WorldSizeX,
			WorldSizeY:        v.WorldSizeY,
			FoodDecayPerFrame: v.FoodDecayPerFrame,
		}
		if t := v.Tuning; t != nil {
			doc.SnakeDistancePerStep = &t.SnakeDistancePerStep
			doc.SnakeSegmentDistanceFactor = &t.SnakeSegmentDistanceFactor
			doc.SnakeSegmentDistanceExponent = &t.SnakeSegmentDistanceExponent
			doc.SnakePullFactor = &t.SnakePullFactor
		}
		return doc, nil
	case WorldUpdate:
		doc := worldUpdateDoc{
			T:    name,
			Bots: make(map[string]botDoc, len(v.Bots)),
			Food: make(map[string]foodDoc, len(v.Food)),
		}
		for _, b := range v.Bots {
			doc.Bots[strconv.FormatUint(b.GUID, 10)] = toBotDoc(b)
		}
		for _, f := range v.Food {
			doc.Food[strconv.FormatUint(f.GUID, 10)] = toFoodDoc(f)
		}
		return doc, nil
	case Tick:
		return tickDoc{T: name, FrameID: v.FrameID}, nil
	case BotSpawn:
		return botSpawnDoc{T: name, Bot: toBotDoc(v.Bot)}, nil
	case BotKill:
		return botKillDoc{T: name, KillerID: v.KillerID, VictimID: v.VictimID}, nil
	case BotMove:
		doc := botMoveDoc{T: name, Items: make([]botMoveItemDoc, 0, len(v.Items))}
		for _, it := range v.Items {
			doc.Items = append(doc.Items, botMoveItemDoc{
				BotID:         it.BotID,
				SegmentData:   toVecDocs(it.NewSegments),
				Length:        it.CurrentLength,
				SegmentRadius: it.SegmentRadius,
			})
		}
		return doc, nil
	case BotLog:
		doc := botLogDoc{T: name, Items: make([]botLogItemDoc, 0, len(v.Items))}
		for _, it := range v.Items {
			doc.Items = append(doc.Items, botLogItemDoc{ViewerKey: it.ViewerKey, Text: it.Text})
		}
		return doc, nil
	case BotStats:
		doc := botStatsDoc{T: name, Data: make(map[string]botStatsEntryDoc, len(v.Items))}
		for _, it := range v.Items {
			doc.Data[strconv.FormatUint(it.BotID, 10)] = botStatsEntryDoc{
				Mass:    it.Mass,
				Natural: it.NaturalFoodConsumed,
				Carrion: it.CarrionFoodConsumed,
				Hunted:  it.HuntedFoodConsumed,
			}
		}
		return doc, nil
	case BotMoveHead:
		doc := botMoveHeadDoc{T: name, Items: make([]botMoveHeadItemDoc, 0, len(v.Items))}
		for _, it := range v.Items {
			positions := make([][2]float64, 0, len(it.NewHeadPositions))
			for _, p := range it.NewHeadPositions {
				positions = append(positions, [2]float64{p.X, p.Y})
			}
			doc.Items = append(doc.Items, botMoveHeadItemDoc{
				BotID:         it.BotID,
				Mass:          it.Mass,
				Positions:     positions,
				Length:        it.CurrentLength,
				SegmentRadius: it.SegmentRadius,
			})
		}
		return doc, nil
	case FoodSpawn:
		doc := foodSpawnDoc{T: name, Items: make([]foodDoc, 0, len(v.Items))}
		for _, f := range v.Items {
			doc.Items = append(doc.Items, toFoodDoc(f))
		}
		return doc, nil
	case FoodConsume:
		doc := foodConsumeDoc{T: name, Items: make([]foodConsumeItemDoc, 0, len(v.Items))}
		for _, it := range v.Items {
			doc.Items = append(doc.Items, foodConsumeItemDoc{FoodID: it.FoodID, BotID: it.BotID})
		}
		return doc, nil
	case FoodDecay:
		return foodDecayDoc{T: name, Items: append(make([]uint64, 0, len(v.FoodIDs)), v.FoodIDs...)}, nil
	case PlayerInfo:
		return playerInfoDoc{T: name, PlayerID: v.PlayerID}, nil
	}
	return nil, fmt.Errorf("encode: unsupported message type %T", m)
}

func toVecDocs(vs []Vec2) []vecDoc {
	out := make([]vecDoc, 0, len(vs))
	for _, v := range vs {
		out = append(out, vecDoc{PosX: v.X, PosY: v.Y})
	}
	return out
}

func toFoodDoc(f Food) foodDoc {
	return foodDoc{ID: f.GUID, PosX: f.Position.X, PosY: f.Position.Y, Value: f.Value}
}

func toBotDoc(b Bot) botDoc {
	return botDoc{
		ID:            b.GUID,
		Name:          b.Name,
		DatabaseID:    b.DatabaseID,
		Face:          b.FaceID,
		DogTag:        b.DogTagID,
		Color:         append(make([]uint32, 0, len(b.Color)), b.Color...),
		Mass:          b.Mass,
		SegmentRadius: b.SegmentRadius,
		Segments:      toVecDocs(b.Segments),
	}
}

// DecodeText parses a JSON message produced by EncodeText. Entity maps come
// back as lists sorted by guid.
func DecodeText(data []byte) (Message, error) {
	var head struct {
		T string `json:"t"`
	}
	if err := json.Unmarshal(data, &head); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrFormat, err)
	}
	kind, ok := kindByName(head.T)
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrUnknownKind, head.T)
	}

	doc := docFor(kind)
	if err := json.Unmarshal(data, doc); err != nil {
		return nil, formatErr(kind, "%v", err)
	}

	switch d := doc.(type) {
	case *gameInfoDoc:
		m := GameInfo{WorldSizeX: d.WorldSizeX, WorldSizeY: d.WorldSizeY, FoodDecayPerFrame: d.FoodDecayPerFrame}
		tuning := []*float64{d.SnakeDistancePerStep, d.SnakeSegmentDistanceFactor, d.SnakeSegmentDistanceExponent, d.SnakePullFactor}
		present := 0
		for _, p := range tuning {
			if p != nil {
				present++
			}
		}
		switch present {
		case 0:
		case len(tuning):
			m.Tuning = &Tuning{
				SnakeDistancePerStep:         *d.SnakeDistancePerStep,
				SnakeSegmentDistanceFactor:   *d.SnakeSegmentDistanceFactor,
				SnakeSegmentDistanceExponent: *d.SnakeSegmentDistanceExponent,
				SnakePullFactor:              *d.SnakePullFactor,
			}
		default:
			return nil, formatErr(kind, "partial tuning constants (%d of %d)", present, len(tuning))
		}
		return m, nil
	case *worldUpdateDoc:
		var m WorldUpdate
		for _, b := range d.Bots {
			m.Bots = append(m.Bots, fromBotDoc(b))
		}
		for _, f := range d.Food {
			m.Food = append(m.Food, fromFoodDoc(f))
		}
		slices.SortFunc(m.Bots, func(a, b Bot) int { return cmp.Compare(a.GUID, b.GUID) })
		slices.SortFunc(m.Food, func(a, b Food) int { return cmp.Compare(a.GUID, b.GUID) })
		return m, nil
	case *tickDoc:
		return Tick{FrameID: d.FrameID}, nil
	case *botSpawnDoc:
		return BotSpawn{Bot: fromBotDoc(d.Bot)}, nil
	case *botKillDoc:
		return BotKill{KillerID: d.KillerID, VictimID: d.VictimID}, nil
	case *botMoveDoc:
		var m BotMove
		for _, it := range d.Items {
			m.Items = append(m.Items, BotMoveItem{
				BotID:         it.BotID,
				NewSegments:   fromVecDocs(it.SegmentData),
				CurrentLength: it.Length,
				SegmentRadius: it.SegmentRadius,
			})
		}
		return m, nil
	case *botLogDoc:
		var m BotLog
		for _, it := range d.Items {
			m.Items = append(m.Items, BotLogItem{ViewerKey: it.ViewerKey, Text: it.Text})
		}
		return m, nil
	case *botStatsDoc:
		var m BotStats
		for key, e := range d.Data {
			id, err := strconv.ParseUint(key, 10, 64)
			if err != nil {
				return nil, formatErr(kind, "data key %q is not a guid", key)
			}
			m.Items = append(m.Items, BotStatsItem{
				BotID:               id,
				Mass:                e.Mass,
				NaturalFoodConsumed: e.Natural,
				CarrionFoodConsumed: e.Carrion,
				HuntedFoodConsumed:  e.Hunted,
			})
		}
		slices.SortFunc(m.Items, func(a, b BotStatsItem) int { return cmp.Compare(a.BotID, b.BotID) })
		return m, nil
	case *botMoveHeadDoc:
		var m BotMoveHead
		for _, it := range d.Items {
			var positions []Vec2
			for _, p := range it.Positions {
				positions = append(positions, Vec2{X: p[0], Y: p[1]})
			}
			m.Items = append(m.Items, BotMoveHeadItem{
				BotID:            it.BotID,
				Mass:             it.Mass,
				NewHeadPositions: positions,
				CurrentLength:    it.Length,
				SegmentRadius:    it.SegmentRadius,
			})
		}
		return m, nil
	case *foodSpawnDoc:
		var m FoodSpawn
		for _, f := range d.Items {
			m.Items = append(m.Items, fromFoodDoc(f))
		}
		return m, nil
	case *foodConsumeDoc:
		var m FoodConsume
		for _, it := range d.Items {
			m.Items = append(m.Items, FoodConsumeItem{FoodID: it.FoodID, BotID: it.BotID})
		}
		return m, nil
	case *foodDecayDoc:
		var m FoodDecay
		if len(d.Items) > 0 {
			m.FoodIDs = d.Items
		}
		return m, nil
	case *playerInfoDoc:
		return PlayerInfo{PlayerID: d.PlayerID}, nil
	}
	return nil, formatErr(kind, "no text decoder")
}

func fromVecDocs(docs []vecDoc) []Vec2 {
	var out []Vec2
	for _, d := range docs {
		out = append(out, Vec2{X: d.PosX, Y: d.PosY})
	}
	return out
}

func fromFoodDoc(d foodDoc) Food {
	return Food{GUID: d.ID, Position: Vec2{X: d.PosX, Y: d.PosY}, Value: d.Value}
}

func fromBotDoc(d botDoc) Bot {
	b := Bot{
		GUID:          d.ID,
		Name:          d.Name,
		SegmentRadius: d.SegmentRadius,
		Segments:      fromVecDocs(d.Segments),
		Mass:          d.Mass,
		DatabaseID:    d.DatabaseID,
		FaceID:        d.Face,
		DogTagID:      d.DogTag,
	}
	if len(d.Color) > 0 {
		b.Color = d.Color
	}
	return b
}
