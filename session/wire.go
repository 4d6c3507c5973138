// Copyright 2025 The connectd Authors
// SPDX-License-Identifier: GPL-3.0-only

package session

import (
	"encoding/json"
	"fmt"
	"time"
)

// Text frames on the session socket carry one JSON message each. Binary
// frames carry raw PCM and never reach this codec.

type wireTrack struct {
	ID         string `json:"id"`
	Title      string `json:"title"`
	Artist     string `json:"artist"`
	Album      string `json:"album"`
	DurationMs int64  `json:"duration_ms"`
}

type wireMessage struct {
	Type       string     `json:"type"`
	Device     string     `json:"device,omitempty"`
	Track      *wireTrack `json:"track,omitempty"`
	PositionMs int64      `json:"position_ms,omitempty"`
	Volume     float64    `json:"volume,omitempty"`
}

func parseEvent(data []byte) (Event, error) {
	var msg wireMessage
	if err := json.Unmarshal(data, &msg); err != nil {
		return Event{}, fmt.Errorf("session: bad frame: %w", err)
	}

	switch msg.Type {
	case "track_changed":
		if msg.Track == nil {
			return Event{}, fmt.Errorf("session: track_changed without track")
		}
		return Event{Type: EventTrackChanged, Track: &TrackMetadata{
			ID:       msg.Track.ID,
			Title:    msg.Track.Title,
			Artist:   msg.Track.Artist,
			Album:    msg.Track.Album,
			Duration: time.Duration(msg.Track.DurationMs) * time.Millisecond,
		}}, nil
	case "play":
		return Event{Type: EventPlay}, nil
	case "pause":
		return Event{Type: EventPause}, nil
	case "next":
		return Event{Type: EventNext}, nil
	case "previous":
		return Event{Type: EventPrevious}, nil
	case "seek":
		return Event{Type: EventSeek, Position: time.Duration(msg.PositionMs) * time.Millisecond}, nil
	case "volume":
		return Event{Type: EventSetVolume, Volume: msg.Volume}, nil
	case "stop":
		return Event{Type: EventStop}, nil
	case "auth_expired":
		return Event{Type: EventAuthExpired}, nil
	default:
		return Event{}, fmt.Errorf("session: unknown message type %q", msg.Type)
	}
}

func encodeCommand(typ string, pos time.Duration, vol float64) ([]byte, error) {
	return json.Marshal(wireMessage{
		Type:       typ,
		PositionMs: pos.Milliseconds(),
		Volume:     vol,
	})
}
