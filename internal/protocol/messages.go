package protocol

// Version is written as the first field of every encoded message.
const Version uint8 = 1

type Kind uint8

const (
	KindGameInfo    Kind = 0x00
	KindWorldUpdate Kind = 0x01

	KindTick Kind = 0x10

	KindBotSpawn    Kind = 0x20
	KindBotKill     Kind = 0x21
	KindBotMove     Kind = 0x22
	KindBotLog      Kind = 0x23
	KindBotStats    Kind = 0x24
	KindBotMoveHead Kind = 0x25

	KindFoodSpawn   Kind = 0x30
	KindFoodConsume Kind = 0x31
	KindFoodDecay   Kind = 0x32

	KindPlayerInfo Kind = 0xF0
)

// Message is the closed set of wire messages. Only types in this package
// implement it.
type Message interface {
	Kind() Kind
	isMessage()
}

type Vec2 struct {
	X float64
	Y float64
}

type Tuning struct {
	SnakeDistancePerStep         float64
	SnakeSegmentDistanceFactor   float64
	SnakeSegmentDistanceExponent float64
	SnakePullFactor              float64
}

// GameInfo carries the session constants. Tuning is nil when the producer
// sent the legacy five-field layout.
type GameInfo struct {
	WorldSizeX        float64
	WorldSizeY        float64
	FoodDecayPerFrame float64
	Tuning            *Tuning
}

type Food struct {
	GUID     uint64
	Position Vec2
	Value    float64
}

// Bot segments are ordered head to tail.
type Bot struct {
	GUID          uint64
	Name          string
	SegmentRadius float64
	Segments      []Vec2
	Color         []uint32
	Mass          float64
	DatabaseID    uint64
	FaceID        uint64
	DogTagID      uint64
}

type WorldUpdate struct {
	Bots []Bot
	Food []Food
}

type Tick struct {
	FrameID uint64
}

type BotSpawn struct {
	Bot Bot
}

// BotKill removes VictimID. KillerID is informational.
type BotKill struct {
	KillerID uint64
	VictimID uint64
}

type BotMoveItem struct {
	BotID         uint64
	NewSegments   []Vec2
	CurrentLength uint64
	SegmentRadius float64
}

type BotMove struct {
	Items []BotMoveItem
}

type BotMoveHeadItem struct {
	BotID            uint64
	Mass             float64
	NewHeadPositions []Vec2
	CurrentLength    uint64
	SegmentRadius    float64
}

type BotMoveHead struct {
	Items []BotMoveHeadItem
}

type BotLogItem struct {
	ViewerKey uint64
	Text      string
}

type BotLog struct {
	Items []BotLogItem
}

type BotStatsItem struct {
	BotID               uint64
	Mass                float64
	NaturalFoodConsumed float64
	CarrionFoodConsumed float64
	HuntedFoodConsumed  float64
}

type BotStats struct {
	Items []BotStatsItem
}

type FoodSpawn struct {
	Items []Food
}

type FoodConsumeItem struct {
	FoodID uint64
	BotID  uint64
}

type FoodConsume struct {
	Items []FoodConsumeItem
}

type FoodDecay struct {
	FoodIDs []uint64
}

type PlayerInfo struct {
	PlayerID uint64
}

func (GameInfo) Kind() Kind    { return KindGameInfo }
func (WorldUpdate) Kind() Kind { return KindWorldUpdate }
func (Tick) Kind() Kind        { return KindTick }
func (BotSpawn) Kind() Kind    { return KindBotSpawn }
func (BotKill) Kind() Kind     { return KindBotKill }
func (BotMove) Kind() Kind     { return KindBotMove }
func (BotLog) Kind() Kind      { return KindBotLog }
func (BotStats) Kind() Kind    { return KindBotStats }
func (BotMoveHead) Kind() Kind { return KindBotMoveHead }
func (FoodSpawn) Kind() Kind   { return KindFoodSpawn }
func (FoodConsume) Kind() Kind { return KindFoodConsume }
func (FoodDecay) Kind() Kind   { return KindFoodDecay }
func (PlayerInfo) Kind() Kind  { return KindPlayerInfo }

func (GameInfo) isMessage()    {}
func (WorldUpdate) isMessage() {}
func (Tick) isMessage()        {}
func (BotSpawn) isMessage()    {}
func (BotKill) isMessage()     {}
func (BotMove) isMessage()     {}
func (BotLog) isMessage()      {}
func (BotStats) isMessage()    {}
func (BotMoveHead) isMessage() {}
func (FoodSpawn) isMessage()   {}
func (FoodConsume) isMessage() {}
func (FoodDecay) isMessage()   {}
func (PlayerInfo) isMessage()  {}
