package protocol

import (
	"errors"
	"fmt"
)

var ErrFormat = errors.New("malformed message")

// ErrUnknownKind is returned for kind tags this relay does not know. Callers
// drop such messages without treating them as failures.
var ErrUnknownKind = errors.New("unknown message kind")

// headerFields is the version and kind prefix shared by every message.
const headerFields = 2

type kindInfo struct {
	name string
	// minFields counts the header.
	minFields int
}

var kindTable = map[Kind]kindInfo{
	KindGameInfo:    {name: "GameInfo", minFields: 5},
	KindWorldUpdate: {name: "WorldUpdate", minFields: 4},
	KindTick:        {name: "Tick", minFields: 3},
	KindBotSpawn:    {name: "BotSpawn", minFields: 3},
	KindBotKill:     {name: "BotKill", minFields: 4},
	KindBotMove:     {name: "BotMove", minFields: 3},
	KindBotLog:      {name: "BotLog", minFields: 3},
	KindBotStats:    {name: "BotStats", minFields: 3},
	KindBotMoveHead: {name: "BotMoveHead", minFields: 3},
	KindFoodSpawn:   {name: "FoodSpawn", minFields: 3},
	KindFoodConsume: {name: "FoodConsume", minFields: 3},
	KindFoodDecay:   {name: "FoodDecay", minFields: 3},
	KindPlayerInfo:  {name: "PlayerInfo", minFields: 3},
}

// gameInfoExtendedFields is the arity of a GameInfo that carries tuning.
const gameInfoExtendedFields = 9

func (k Kind) String() string {
	if info, ok := kindTable[k]; ok {
		return info.name
	}
	return fmt.Sprintf("Kind(0x%02x)", uint8(k))
}

// Known reports whether k is part of the enumeration.
func (k Kind) Known() bool {
	_, ok := kindTable[k]
	return ok
}

func kindByName(name string) (Kind, bool) {
	for k, info := range kindTable {
		if info.name == name {
			return k, true
		}
	}
	return 0, false
}

func formatErr(kind Kind, format string, args ...any) error {
	return fmt.Errorf("%w: %s: %s", ErrFormat, kind, fmt.Sprintf(format, args...))
}
