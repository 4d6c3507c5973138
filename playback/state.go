// Copyright 2025 The connectd Authors
// SPDX-License-Identifier: GPL-3.0-only

package playback

import (
	"time"

	"connectd/session"
)

// State is the daemon's playback state. Exactly one is active at a time and
// transitions happen only inside Machine.Handle.
type State int

const (
	StateStopped State = iota
	StateLoading
	StatePlaying
	StatePaused
	StateShuttingDown
)

func (s State) String() string {
	switch s {
	case StateStopped:
		return "Stopped"
	case StateLoading:
		return "Loading"
	case StatePlaying:
		return "Playing"
	case StatePaused:
		return "Paused"
	case StateShuttingDown:
		return "ShuttingDown"
	default:
		return "Unknown"
	}
}

// Active reports whether a backend handle is expected to exist.
func (s State) Active() bool {
	return s == StateLoading || s == StatePlaying || s == StatePaused
}

// Snapshot is the read-only view of the machine's state handed to the
// control-surface bridge.
type Snapshot struct {
	State    State
	Track    *session.TrackMetadata
	Volume   float64
	Position time.Duration
}
