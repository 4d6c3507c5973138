// Copyright 2025 The connectd Authors
// SPDX-License-Identifier: GPL-3.0-only

package playback

import (
	"time"

	"connectd/backend"
	"connectd/logger"
	"connectd/session"
)

// ResumePolicy selects what happens after an unexpected backend exit.
type ResumePolicy int

const (
	// respawn and continue at the last known position
	ResumeAtPosition ResumePolicy = iota
	// respawn and restart the current track from the beginning
	RestartTrack
)

type Config struct {
	Format        backend.AudioFormat
	Resume        ResumePolicy
	InitialVolume float64
}

// Machine owns all mutable playback state. Handle is called with one event
// at a time and returns the effects for the reactor to apply; it never
// blocks and never touches collaborators itself.
type Machine struct {
	logger logger.LoggerInterface
	format backend.AudioFormat
	resume ResumePolicy

	state    State
	track    *session.TrackMetadata
	volume   float64
	position time.Duration

	// commands that arrived during Loading, applied in order on ready
	pending []Event

	stopInFlight bool
	resumeFrom   time.Duration
	resumePaused bool
}

func NewMachine(cfg Config, log logger.LoggerInterface) *Machine {
	return &Machine{
		logger: log,
		format: cfg.Format,
		resume: cfg.Resume,
		state:  StateStopped,
		volume: clamp01(cfg.InitialVolume),
	}
}

func (m *Machine) State() State { return m.state }

func (m *Machine) Snapshot() Snapshot {
	return Snapshot{
		State:    m.state,
		Track:    m.track,
		Volume:   m.volume,
		Position: m.position,
	}
}

func (m *Machine) Handle(ev Event) []Effect {
	switch ev.Kind {
	case KindTrackChanged:
		return m.onTrackChanged(ev)
	case KindBackendReady:
		return m.onBackendReady(ev)
	case KindLoadFailed:
		return m.onLoadFailed(ev)
	case KindPlay:
		return m.onPlay(ev)
	case KindPause:
		return m.onPause(ev)
	case KindNext, KindPrevious:
		return m.onSkip(ev)
	case KindSeek:
		return m.onSeek(ev)
	case KindSetVolume:
		return m.onSetVolume(ev)
	case KindStop, KindSessionLost, KindShutdown:
		return m.onStop(ev)
	case KindBackendExited:
		return m.onBackendExited(ev)
	case KindAuthExpired:
		m.logger.Print("machine: session auth expired, collaborator is refreshing")
		return nil
	default:
		return m.noop(ev)
	}
}

func (m *Machine) onTrackChanged(ev Event) []Effect {
	switch m.state {
	case StateStopped, StateLoading, StatePlaying, StatePaused:
		var fx []Effect
		if m.state == StatePlaying || m.state == StatePaused {
			fx = append(fx, StopFeed{})
		}
		m.track = ev.Track
		m.position = 0
		m.resumeFrom = 0
		m.resumePaused = false
		m.pending = nil
		m.state = StateLoading
		fx = append(fx, SpawnBackend{Format: m.format})
		return append(fx, m.publish())
	default:
		return m.noop(ev)
	}
}

func (m *Machine) onBackendReady(ev Event) []Effect {
	if m.state != StateLoading {
		return m.noop(ev)
	}

	next := StatePlaying
	if m.resumePaused {
		next = StatePaused
	}
	offset := m.resumeFrom

	var fx []Effect
	for _, cmd := range m.pending {
		switch cmd.Kind {
		case KindPause:
			next = StatePaused
		case KindPlay:
			next = StatePlaying
		case KindSeek:
			offset = m.clampSeek(cmd.Position)
			fx = append(fx, ForwardSeek{Position: offset})
		default:
			m.logger.Verbosef("machine: dropping deferred %s", cmd.Kind)
		}
	}
	m.pending = nil
	m.resumeFrom = 0
	m.resumePaused = false
	m.position = offset
	m.state = next

	if next == StatePlaying {
		fx = append(fx, StartFeed{Offset: offset})
	}
	return append(fx, m.publish())
}

func (m *Machine) onLoadFailed(ev Event) []Effect {
	if m.state != StateLoading {
		return m.noop(ev)
	}
	m.logger.PrintError("machine: track load failed", ev.Err)
	m.state = StateStopped
	m.track = nil
	m.position = 0
	m.pending = nil
	m.stopInFlight = true
	return []Effect{StopBackend{}, m.publish()}
}

func (m *Machine) onPlay(ev Event) []Effect {
	switch m.state {
	case StatePaused:
		m.state = StatePlaying
		return []Effect{ResumeFeed{Offset: m.position}, m.publish()}
	case StateLoading:
		return m.deferUntilReady(ev)
	default:
		return m.noop(ev)
	}
}

func (m *Machine) onPause(ev Event) []Effect {
	switch m.state {
	case StatePlaying:
		m.state = StatePaused
		return []Effect{SuspendFeed{}, m.publish()}
	case StateLoading:
		return m.deferUntilReady(ev)
	default:
		return m.noop(ev)
	}
}

func (m *Machine) onSkip(ev Event) []Effect {
	if m.state != StatePlaying && m.state != StatePaused {
		return m.noop(ev)
	}
	m.state = StateLoading
	m.position = 0
	var req Effect = RequestNext{}
	if ev.Kind == KindPrevious {
		req = RequestPrevious{}
	}
	return []Effect{StopFeed{}, req, m.publish()}
}

func (m *Machine) onSeek(ev Event) []Effect {
	switch m.state {
	case StatePlaying, StatePaused:
		pos := m.clampSeek(ev.Position)
		m.position = pos
		return []Effect{ForwardSeek{Position: pos}, m.publish()}
	case StateLoading:
		return m.deferUntilReady(ev)
	default:
		return m.noop(ev)
	}
}

func (m *Machine) onSetVolume(ev Event) []Effect {
	if m.state == StateShuttingDown {
		return m.noop(ev)
	}
	m.volume = clamp01(ev.Volume)
	fx := []Effect{ApplyVolume{Volume: m.volume}}
	if ev.Source == SourceBridge {
		// session-originated volume is already the session's value, only
		// bridge changes get reported back
		fx = append(fx, ReportVolume{Volume: m.volume})
	}
	return append(fx, m.publish())
}

func (m *Machine) onStop(ev Event) []Effect {
	switch m.state {
	case StateLoading, StatePlaying, StatePaused:
		if ev.Kind == KindSessionLost {
			m.logger.Print("machine: session lost for good, stopping playback")
		}
		m.state = StateShuttingDown
		m.stopInFlight = true
		return []Effect{StopFeed{}, StopBackend{}, m.publish()}
	case StateStopped:
		if ev.Kind == KindShutdown {
			// nothing live, shutdown is immediate
			return []Effect{m.publish()}
		}
		return m.noop(ev)
	default:
		return m.noop(ev)
	}
}

func (m *Machine) onBackendExited(ev Event) []Effect {
	if m.stopInFlight {
		m.stopInFlight = false
		if m.state == StateShuttingDown {
			m.state = StateStopped
			m.track = nil
			m.position = 0
			return []Effect{m.publish()}
		}
		m.logger.Verbosef("machine: backend stop acknowledged in state %s", m.state)
		return nil
	}

	switch m.state {
	case StatePlaying, StatePaused:
		m.logger.Printf("machine: backend died in state %s, respawning", m.state)
		m.resumePaused = m.state == StatePaused
		if m.resume == ResumeAtPosition {
			m.resumeFrom = ev.Position
		} else {
			m.resumeFrom = 0
		}
		m.state = StateLoading
		return []Effect{StopFeed{}, SpawnBackend{Format: m.format}, m.publish()}
	default:
		return m.noop(ev)
	}
}

func (m *Machine) deferUntilReady(ev Event) []Effect {
	m.logger.Verbosef("machine: deferring %s from %s until backend is ready", ev.Kind, ev.Source)
	m.pending = append(m.pending, ev)
	return nil
}

func (m *Machine) noop(ev Event) []Effect {
	m.logger.Verbosef("machine: ignoring %s from %s in state %s", ev.Kind, ev.Source, m.state)
	return nil
}

func (m *Machine) publish() Effect {
	return PublishSnapshot{Snapshot: m.Snapshot()}
}

func (m *Machine) clampSeek(pos time.Duration) time.Duration {
	if pos < 0 {
		return 0
	}
	if m.track != nil && pos > m.track.Duration {
		return m.track.Duration
	}
	return pos
}

func clamp01(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}
