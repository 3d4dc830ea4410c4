package types

import (
	"errors"
	"fmt"
	"strconv"
)

var ErrBadViewerKey = errors.New("viewer_key must be a decimal string")

// ClientMessage is the only message a viewer sends.
type ClientMessage struct {
	ViewerKey string `json:"viewer_key"`
}

// ParseViewerKey returns the key as the relay routes it.
func (m ClientMessage) ParseViewerKey() (uint64, error) {
	if m.ViewerKey == "" {
		return 0, fmt.Errorf("%w: empty", ErrBadViewerKey)
	}
	key, err := strconv.ParseUint(m.ViewerKey, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("%w: %q", ErrBadViewerKey, m.ViewerKey)
	}
	return key, nil
}

// StatusResponse is served by /healthz.
type StatusResponse struct {
	Status      string `json:"status"`
	Subscribers int    `json:"subscribers"`
	FrameID     uint64 `json:"frame_id"`
	Bots        int    `json:"bots"`
	Food        int    `json:"food"`
}
