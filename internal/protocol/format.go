package protocol

import (
	"fmt"
	"strings"
)

// Format selects the downstream representation of a subscriber.
type Format int

const (
	FormatText Format = iota
	FormatBinary
)

func ParseFormat(s string) (Format, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "json", "text":
		return FormatText, nil
	case "msgpack", "binary":
		return FormatBinary, nil
	}
	return FormatText, fmt.Errorf("unknown format %q", s)
}

func (f Format) String() string {
	if f == FormatBinary {
		return "msgpack"
	}
	return "json"
}

func (f Format) Encode(m Message) ([]byte, error) {
	if f == FormatBinary {
		return EncodeBinary(m)
	}
	return EncodeText(m)
}
