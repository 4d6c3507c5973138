// Copyright 2025 The connectd Authors
// SPDX-License-Identifier: GPL-3.0-only

package session

import "time"

// TrackMetadata describes the track the Connect session selected. It is
// immutable once received and lives until the next track change or stop.
type TrackMetadata struct {
	ID       string
	Title    string
	Artist   string
	Album    string
	Duration time.Duration
}

type EventType int

const (
	// new track selected, data: Track
	EventTrackChanged EventType = iota
	EventPlay
	EventPause
	EventNext
	EventPrevious
	// data: Position
	EventSeek
	// data: Volume
	EventSetVolume
	EventStop
	// access token expired; the session refreshes it on its own
	EventAuthExpired
	// transport gone and the retry budget is spent
	EventDisconnected
)

func (e EventType) String() string {
	switch e {
	case EventTrackChanged:
		return "track_changed"
	case EventPlay:
		return "play"
	case EventPause:
		return "pause"
	case EventNext:
		return "next"
	case EventPrevious:
		return "previous"
	case EventSeek:
		return "seek"
	case EventSetVolume:
		return "set_volume"
	case EventStop:
		return "stop"
	case EventAuthExpired:
		return "auth_expired"
	case EventDisconnected:
		return "disconnected"
	default:
		return "unknown"
	}
}

// Event is one element of the unbounded event sequence the remote session
// produces.
type Event struct {
	Type     EventType
	Track    *TrackMetadata
	Position time.Duration
	Volume   float64
}
