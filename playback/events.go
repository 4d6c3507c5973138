// Copyright 2025 The connectd Authors
// SPDX-License-Identifier: GPL-3.0-only

package playback

import (
	"time"

	"github.com/google/uuid"

	"connectd/backend"
	"connectd/session"
)

// Source tags which collaborator an event came from.
type Source int

const (
	SourceSession Source = iota
	SourceBridge
	SourceBackend
	SourceInternal
)

func (s Source) String() string {
	switch s {
	case SourceSession:
		return "session"
	case SourceBridge:
		return "bridge"
	case SourceBackend:
		return "backend"
	case SourceInternal:
		return "internal"
	default:
		return "unknown"
	}
}

type Kind int

const (
	KindTrackChanged Kind = iota
	KindPlay
	KindPause
	KindNext
	KindPrevious
	KindSeek
	KindSetVolume
	KindStop
	KindAuthExpired
	KindSessionLost
	KindBackendReady
	KindLoadFailed
	KindBackendExited
	KindShutdown
)

func (k Kind) String() string {
	switch k {
	case KindTrackChanged:
		return "track_changed"
	case KindPlay:
		return "play"
	case KindPause:
		return "pause"
	case KindNext:
		return "next"
	case KindPrevious:
		return "previous"
	case KindSeek:
		return "seek"
	case KindSetVolume:
		return "set_volume"
	case KindStop:
		return "stop"
	case KindAuthExpired:
		return "auth_expired"
	case KindSessionLost:
		return "session_lost"
	case KindBackendReady:
		return "backend_ready"
	case KindLoadFailed:
		return "load_failed"
	case KindBackendExited:
		return "backend_exited"
	case KindShutdown:
		return "shutdown"
	default:
		return "unknown"
	}
}

// Event is one element of the merged stream the reactor feeds to the
// machine, one at a time.
type Event struct {
	Kind   Kind
	Source Source

	// ID correlates bridge-originated commands across log lines; zero for
	// other sources.
	ID uuid.UUID

	Track    *session.TrackMetadata
	Position time.Duration
	Volume   float64
	Err      error
}

// Effects are computed by the machine after a transition and applied by the
// reactor, never interleaved with handling the next event.
type Effect interface{ effect() }

type SpawnBackend struct{ Format backend.AudioFormat }
type StartFeed struct{ Offset time.Duration }
type SuspendFeed struct{}
type ResumeFeed struct{ Offset time.Duration }
type StopFeed struct{}
type StopBackend struct{}
type RequestNext struct{}
type RequestPrevious struct{}
type ForwardSeek struct{ Position time.Duration }
type ApplyVolume struct{ Volume float64 }
type ReportVolume struct{ Volume float64 }
type PublishSnapshot struct{ Snapshot Snapshot }

func (SpawnBackend) effect()    {}
func (StartFeed) effect()       {}
func (SuspendFeed) effect()     {}
func (ResumeFeed) effect()      {}
func (StopFeed) effect()        {}
func (StopBackend) effect()     {}
func (RequestNext) effect()     {}
func (RequestPrevious) effect() {}
func (ForwardSeek) effect()     {}
func (ApplyVolume) effect()     {}
func (ReportVolume) effect()    {}
func (PublishSnapshot) effect() {}
