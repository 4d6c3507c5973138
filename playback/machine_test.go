// Copyright 2025 The connectd Authors
// SPDX-License-Identifier: GPL-3.0-only

package playback

import (
	"io"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"connectd/backend"
	"connectd/logger"
	"connectd/session"
)

var testFormat = backend.AudioFormat{SampleRate: 44100, Channels: 2}

func newTestMachine(t *testing.T) *Machine {
	t.Helper()
	return NewMachine(Config{
		Format:        testFormat,
		Resume:        ResumeAtPosition,
		InitialVolume: 1.0,
	}, logger.Init(io.Discard, false))
}

func testTrack() *session.TrackMetadata {
	return &session.TrackMetadata{
		ID:       "track-1",
		Title:    "Song",
		Artist:   "Artist",
		Album:    "Album",
		Duration: 180 * time.Second,
	}
}

// drive applies events in order, ignoring effects.
func drive(m *Machine, evs ...Event) {
	for _, ev := range evs {
		m.Handle(ev)
	}
}

func toPlaying(t *testing.T, m *Machine) {
	t.Helper()
	drive(m,
		Event{Kind: KindTrackChanged, Source: SourceSession, Track: testTrack()},
		Event{Kind: KindBackendReady, Source: SourceBackend},
	)
	require.Equal(t, StatePlaying, m.State())
}

func hasEffect[T Effect](fx []Effect) bool {
	for _, f := range fx {
		if _, ok := f.(T); ok {
			return true
		}
	}
	return false
}

func lastSnapshot(t *testing.T, fx []Effect) Snapshot {
	t.Helper()
	for i := len(fx) - 1; i >= 0; i-- {
		if p, ok := fx[i].(PublishSnapshot); ok {
			return p.Snapshot
		}
	}
	t.Fatal("no snapshot published")
	return Snapshot{}
}

func TestUnlistedEventsAreNoOps(t *testing.T) {
	allStates := []State{StateStopped, StateLoading, StatePlaying, StatePaused, StateShuttingDown}
	allKinds := []Kind{
		KindTrackChanged, KindPlay, KindPause, KindNext, KindPrevious,
		KindSeek, KindSetVolume, KindStop, KindAuthExpired, KindSessionLost,
		KindBackendReady, KindLoadFailed, KindBackendExited, KindShutdown,
	}

	// pairs where the table says the state changes; everything else must
	// leave the state exactly as it was
	transitions := map[State]map[Kind]State{
		StateStopped: {
			KindTrackChanged: StateLoading,
		},
		StateLoading: {
			KindTrackChanged: StateLoading,
			KindBackendReady: StatePlaying,
			KindLoadFailed:   StateStopped,
			KindStop:         StateShuttingDown,
			KindSessionLost:  StateShuttingDown,
			KindShutdown:     StateShuttingDown,
		},
		StatePlaying: {
			KindTrackChanged:  StateLoading,
			KindPause:         StatePaused,
			KindNext:          StateLoading,
			KindPrevious:      StateLoading,
			KindBackendExited: StateLoading,
			KindStop:          StateShuttingDown,
			KindSessionLost:   StateShuttingDown,
			KindShutdown:      StateShuttingDown,
		},
		StatePaused: {
			KindTrackChanged:  StateLoading,
			KindPlay:          StatePlaying,
			KindNext:          StateLoading,
			KindPrevious:      StateLoading,
			KindBackendExited: StateLoading,
			KindStop:          StateShuttingDown,
			KindSessionLost:   StateShuttingDown,
			KindShutdown:      StateShuttingDown,
		},
		StateShuttingDown: {},
	}

	for _, state := range allStates {
		for _, kind := range allKinds {
			m := newTestMachine(t)
			m.state = state
			m.track = testTrack()

			ev := Event{Kind: kind, Source: SourceSession}
			if kind == KindTrackChanged {
				ev.Track = testTrack()
			}
			m.Handle(ev)

			expected := state
			if next, ok := transitions[state][kind]; ok {
				expected = next
			}
			assert.Equalf(t, expected, m.State(), "state %s, event %s", state, kind)
		}
	}
}

func TestDeterministicSequence(t *testing.T) {
	m := newTestMachine(t)

	steps := []struct {
		ev   Event
		want State
	}{
		{Event{Kind: KindTrackChanged, Source: SourceSession, Track: testTrack()}, StateLoading},
		{Event{Kind: KindBackendReady, Source: SourceBackend}, StatePlaying},
		{Event{Kind: KindPause, Source: SourceBridge}, StatePaused},
		{Event{Kind: KindPlay, Source: SourceBridge}, StatePlaying},
		{Event{Kind: KindNext, Source: SourceSession}, StateLoading},
	}
	for i, step := range steps {
		m.Handle(step.ev)
		require.Equalf(t, step.want, m.State(), "step %d (%s)", i, step.ev.Kind)
	}
}

func TestCrashWhilePlayingRespawns(t *testing.T) {
	m := newTestMachine(t)
	toPlaying(t, m)

	fx := m.Handle(Event{Kind: KindBackendExited, Source: SourceBackend, Position: 42 * time.Second})
	assert.Equal(t, StateLoading, m.State(), "crash must go to Loading, never Stopped")
	assert.True(t, hasEffect[SpawnBackend](fx), "crash must trigger a respawn attempt")

	// resume-at-position: the new feed starts at the crash position
	fx = m.Handle(Event{Kind: KindBackendReady, Source: SourceBackend})
	require.True(t, hasEffect[StartFeed](fx))
	for _, f := range fx {
		if sf, ok := f.(StartFeed); ok {
			assert.Equal(t, 42*time.Second, sf.Offset)
		}
	}
}

func TestCrashWithRestartPolicy(t *testing.T) {
	m := NewMachine(Config{Format: testFormat, Resume: RestartTrack, InitialVolume: 1.0},
		logger.Init(io.Discard, false))
	toPlaying(t, m)

	drive(m, Event{Kind: KindBackendExited, Source: SourceBackend, Position: 42 * time.Second})
	fx := m.Handle(Event{Kind: KindBackendReady, Source: SourceBackend})
	for _, f := range fx {
		if sf, ok := f.(StartFeed); ok {
			assert.Equal(t, time.Duration(0), sf.Offset, "restart policy starts the track over")
		}
	}
}

func TestCrashWhilePausedComesBackPaused(t *testing.T) {
	m := newTestMachine(t)
	toPlaying(t, m)
	drive(m, Event{Kind: KindPause, Source: SourceSession})
	require.Equal(t, StatePaused, m.State())

	drive(m, Event{Kind: KindBackendExited, Source: SourceBackend})
	require.Equal(t, StateLoading, m.State())

	fx := m.Handle(Event{Kind: KindBackendReady, Source: SourceBackend})
	assert.Equal(t, StatePaused, m.State())
	assert.False(t, hasEffect[StartFeed](fx), "paused resume must not start the feed")
}

func TestPauseBeforeReadyIsDeferredNotDropped(t *testing.T) {
	m := newTestMachine(t)

	fx := m.Handle(Event{Kind: KindTrackChanged, Source: SourceSession, Track: testTrack()})
	assert.True(t, hasEffect[SpawnBackend](fx))

	fx = m.Handle(Event{Kind: KindPause, Source: SourceSession})
	assert.Equal(t, StateLoading, m.State())
	assert.Empty(t, fx, "deferred command must produce no effects yet")

	fx = m.Handle(Event{Kind: KindBackendReady, Source: SourceBackend})
	assert.Equal(t, StatePaused, m.State())
	assert.False(t, hasEffect[StartFeed](fx), "no audio may ever be fed")
}

func TestSeekIsClampedToTrackDuration(t *testing.T) {
	m := newTestMachine(t)
	toPlaying(t, m)

	fx := m.Handle(Event{Kind: KindSeek, Source: SourceBridge, Position: 9999 * time.Second})
	assert.Equal(t, StatePlaying, m.State())
	found := false
	for _, f := range fx {
		if s, ok := f.(ForwardSeek); ok {
			found = true
			assert.Equal(t, 180*time.Second, s.Position)
		}
	}
	require.True(t, found, "seek must be forwarded, not rejected")
	assert.Equal(t, 180*time.Second, lastSnapshot(t, fx).Position)
}

func TestNegativeSeekClampsToZero(t *testing.T) {
	m := newTestMachine(t)
	toPlaying(t, m)

	fx := m.Handle(Event{Kind: KindSeek, Source: SourceBridge, Position: -5 * time.Second})
	assert.Equal(t, time.Duration(0), lastSnapshot(t, fx).Position)
}

func TestVolumeReflectedInNextSnapshot(t *testing.T) {
	m := newTestMachine(t)
	toPlaying(t, m)

	fx := m.Handle(Event{Kind: KindSetVolume, Source: SourceBridge, Volume: 0.37})
	assert.True(t, hasEffect[ReportVolume](fx), "bridge volume must be reported to the session")
	assert.Equal(t, 0.37, lastSnapshot(t, fx).Volume)
}

func TestVolumeIsForwardedToTheAudioPath(t *testing.T) {
	m := newTestMachine(t)
	toPlaying(t, m)

	fx := m.Handle(Event{Kind: KindSetVolume, Source: SourceBridge, Volume: 0.6})
	require.True(t, hasEffect[ApplyVolume](fx), "bridge volume must reach the backend")

	fx = m.Handle(Event{Kind: KindSetVolume, Source: SourceSession, Volume: 1.4})
	require.True(t, hasEffect[ApplyVolume](fx), "session volume must reach the backend")
	for _, f := range fx {
		if av, ok := f.(ApplyVolume); ok {
			assert.Equal(t, 1.0, av.Volume, "the forwarded value is the clamped one")
		}
	}
}

func TestSessionVolumeSyncIsNotEchoedBack(t *testing.T) {
	m := newTestMachine(t)

	fx := m.Handle(Event{Kind: KindSetVolume, Source: SourceSession, Volume: 0.5})
	assert.False(t, hasEffect[ReportVolume](fx))
	assert.Equal(t, 0.5, lastSnapshot(t, fx).Volume)
}

func TestVolumeIsClamped(t *testing.T) {
	m := newTestMachine(t)

	fx := m.Handle(Event{Kind: KindSetVolume, Source: SourceBridge, Volume: 1.7})
	assert.Equal(t, 1.0, lastSnapshot(t, fx).Volume)

	fx = m.Handle(Event{Kind: KindSetVolume, Source: SourceBridge, Volume: -0.2})
	assert.Equal(t, 0.0, lastSnapshot(t, fx).Volume)
}

func TestStopTearsDownAndClearsTrack(t *testing.T) {
	m := newTestMachine(t)
	toPlaying(t, m)

	fx := m.Handle(Event{Kind: KindStop, Source: SourceSession})
	assert.Equal(t, StateShuttingDown, m.State())
	assert.True(t, hasEffect[StopFeed](fx))
	assert.True(t, hasEffect[StopBackend](fx))

	// the exit notice for the stop we requested is the ack, not a crash
	fx = m.Handle(Event{Kind: KindBackendExited, Source: SourceBackend})
	assert.Equal(t, StateStopped, m.State())
	assert.Nil(t, lastSnapshot(t, fx).Track)
}

func TestLoadFailureReportsClearedTrack(t *testing.T) {
	m := newTestMachine(t)
	drive(m, Event{Kind: KindTrackChanged, Source: SourceSession, Track: testTrack()})

	fx := m.Handle(Event{Kind: KindLoadFailed, Source: SourceBackend, Err: assert.AnError})
	assert.Equal(t, StateStopped, m.State())
	assert.Nil(t, lastSnapshot(t, fx).Track)

	// the ack for the cleanup stop must not be mistaken for a crash
	drive(m, Event{Kind: KindBackendExited, Source: SourceBackend})
	assert.Equal(t, StateStopped, m.State())
}
