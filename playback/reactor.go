// Copyright 2025 The connectd Authors
// SPDX-License-Identifier: GPL-3.0-only

package playback

import (
	"context"
	"time"

	"github.com/google/uuid"

	"connectd/backend"
	"connectd/logger"
	"connectd/session"
)

// Publisher receives state snapshots; implemented by the MPRIS bridge.
// A nil publisher means the daemon runs headless.
type Publisher interface {
	Publish(Snapshot)
}

// Reactor merges the three event sources into one stream and dispatches
// each event to the machine, strictly one at a time. Effects the machine
// returns are applied before the next event is read; any events they
// produce (backend ready, load failure, immediate stop acks) go on an
// internal queue that drains ahead of the merged channel, so translation of
// errors into events never reorders around newer input.
type Reactor struct {
	machine *Machine
	session session.Client
	sup     *backend.Supervisor
	bridge  Publisher
	logger  logger.LoggerInterface

	events   chan Event
	internal []Event
	pump     *backend.Pump
	shutdown bool
}

func NewReactor(m *Machine, sess session.Client, sup *backend.Supervisor, log logger.LoggerInterface) *Reactor {
	return &Reactor{
		machine: m,
		session: sess,
		sup:     sup,
		logger:  log,
		events:  make(chan Event, 64),
	}
}

// SetBridge attaches the control-surface bridge. May be left unset.
func (r *Reactor) SetBridge(p Publisher) {
	r.bridge = p
}

// Submit enqueues an externally produced event. Bridge method handlers use
// this; it returns as soon as the event is queued, the actual transition is
// observed later through the next snapshot.
func (r *Reactor) Submit(ev Event) {
	r.events <- ev
}

// Run drives the loop until a shutdown event has been fully processed and
// the backend is gone. Context cancellation is translated into a shutdown
// event, it never tears the loop down mid-transition.
func (r *Reactor) Run(ctx context.Context) error {
	go r.forwardSession()
	go r.forwardExits()

	cancelled := ctx.Done()
	for {
		var ev Event
		if len(r.internal) > 0 {
			ev, r.internal = r.internal[0], r.internal[1:]
		} else {
			select {
			case <-cancelled:
				cancelled = nil // observe shutdown exactly once
				ev = Event{Kind: KindShutdown, Source: SourceInternal}
			case ev = <-r.events:
			}
		}

		if ev.Kind == KindShutdown {
			r.shutdown = true
		}
		if ev.Source == SourceBridge {
			r.logger.Verbosef("reactor: %s from %s in state %s (cmd %s)", ev.Kind, ev.Source, r.machine.State(), ev.ID)
		} else {
			r.logger.Verbosef("reactor: %s from %s in state %s", ev.Kind, ev.Source, r.machine.State())
		}

		r.apply(r.machine.Handle(ev))

		if r.shutdown && r.machine.State() == StateStopped && len(r.internal) == 0 {
			r.logger.Print("reactor: shutdown complete")
			return nil
		}
	}
}

func (r *Reactor) forwardSession() {
	for sev := range r.session.Events() {
		r.events <- translate(sev)
	}
}

func (r *Reactor) forwardExits() {
	for notice := range r.sup.Exits() {
		r.events <- Event{
			Kind:     KindBackendExited,
			Source:   SourceBackend,
			Position: notice.Position,
			Err:      notice.Status.Err,
		}
	}
}

func translate(sev session.Event) Event {
	ev := Event{Source: SourceSession, Track: sev.Track, Position: sev.Position, Volume: sev.Volume}
	switch sev.Type {
	case session.EventTrackChanged:
		ev.Kind = KindTrackChanged
	case session.EventPlay:
		ev.Kind = KindPlay
	case session.EventPause:
		ev.Kind = KindPause
	case session.EventNext:
		ev.Kind = KindNext
	case session.EventPrevious:
		ev.Kind = KindPrevious
	case session.EventSeek:
		ev.Kind = KindSeek
	case session.EventSetVolume:
		ev.Kind = KindSetVolume
	case session.EventStop:
		ev.Kind = KindStop
	case session.EventAuthExpired:
		ev.Kind = KindAuthExpired
	case session.EventDisconnected:
		ev.Kind = KindSessionLost
	}
	return ev
}

func (r *Reactor) apply(effects []Effect) {
	for _, fx := range effects {
		switch fx := fx.(type) {
		case SpawnBackend:
			if _, err := r.sup.Ensure(fx.Format); err != nil {
				r.logger.PrintError("reactor spawn", err)
				r.internal = append(r.internal, Event{Kind: KindLoadFailed, Source: SourceBackend, Err: err})
			} else {
				r.internal = append(r.internal, Event{Kind: KindBackendReady, Source: SourceBackend})
			}

		case StartFeed:
			r.startFeed(fx.Offset)

		case SuspendFeed:
			if r.pump != nil {
				r.pump.Pause()
			}
			// tell the session where we stopped so a handoff resumes there
			if h := r.sup.Handle(); h != nil {
				if err := r.session.ReportPosition(h.Position()); err != nil {
					r.logger.PrintError("reactor position", err)
				}
			}

		case ResumeFeed:
			if r.pump != nil {
				r.pump.Resume()
			} else {
				// feed was never started (pause deferred past ready)
				r.startFeed(fx.Offset)
			}

		case StopFeed:
			if r.pump != nil {
				r.pump.Stop()
				r.pump = nil
			}

		case StopBackend:
			if h := r.sup.Handle(); h != nil {
				r.sup.Stop(h)
			} else {
				// nothing to stop, ack right away so the machine settles
				r.internal = append(r.internal, Event{Kind: KindBackendExited, Source: SourceBackend})
			}

		case RequestNext:
			if err := r.session.Next(); err != nil {
				r.logger.PrintError("reactor next", err)
			}

		case RequestPrevious:
			if err := r.session.Previous(); err != nil {
				r.logger.PrintError("reactor previous", err)
			}

		case ForwardSeek:
			if err := r.session.SeekTo(fx.Position); err != nil {
				r.logger.PrintError("reactor seek", err)
			}
			// the byte-count estimate must track the seek, or the position
			// in the next exit notice would still be the pre-seek one
			if h := r.sup.Handle(); h != nil {
				h.Rebase(fx.Position)
			}

		case ApplyVolume:
			r.sup.SetGain(fx.Volume)

		case ReportVolume:
			if err := r.session.ReportVolume(fx.Volume); err != nil {
				r.logger.PrintError("reactor volume", err)
			}

		case PublishSnapshot:
			if r.bridge != nil {
				r.bridge.Publish(fx.Snapshot)
			}
		}
	}
}

func (r *Reactor) startFeed(offset time.Duration) {
	h := r.sup.Handle()
	if h == nil {
		r.logger.Print("reactor: no backend to feed")
		return
	}
	r.pump = r.sup.StartPump(h, r.session.Audio(), offset)
}

// The bridge-facing command surface. Every method is a fire-and-forget
// enqueue tagged with a fresh id for log correlation.

func (r *Reactor) Play() {
	r.Submit(Event{Kind: KindPlay, Source: SourceBridge, ID: uuid.New()})
}

func (r *Reactor) Pause() {
	r.Submit(Event{Kind: KindPause, Source: SourceBridge, ID: uuid.New()})
}

func (r *Reactor) Stop() {
	r.Submit(Event{Kind: KindStop, Source: SourceBridge, ID: uuid.New()})
}

func (r *Reactor) Next() {
	r.Submit(Event{Kind: KindNext, Source: SourceBridge, ID: uuid.New()})
}

func (r *Reactor) Previous() {
	r.Submit(Event{Kind: KindPrevious, Source: SourceBridge, ID: uuid.New()})
}

func (r *Reactor) SeekTo(pos time.Duration) {
	r.Submit(Event{Kind: KindSeek, Source: SourceBridge, Position: pos, ID: uuid.New()})
}

func (r *Reactor) SetVolume(v float64) {
	r.Submit(Event{Kind: KindSetVolume, Source: SourceBridge, Volume: v, ID: uuid.New()})
}
