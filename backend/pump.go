// Copyright 2025 The connectd Authors
// SPDX-License-Identifier: GPL-3.0-only

package backend

import (
	"encoding/binary"
	"io"
	"sync"
	"sync/atomic"
	"time"

	"connectd/logger"
)

// Pump copies decoded PCM from the session into the sink's input. Pause
// takes effect after the chunk in flight; while paused no reads happen, so
// backpressure propagates to the source.
type Pump struct {
	sup    *Supervisor
	h      *Handle
	src    io.Reader
	logger logger.LoggerInterface

	paused atomic.Bool
	kick   chan struct{}
	quit   chan struct{}
	done   chan struct{}
	once   sync.Once
}

// StartPump begins feeding src into h, with the position estimate rebased
// to offset.
func (s *Supervisor) StartPump(h *Handle, src io.Reader, offset time.Duration) *Pump {
	h.Rebase(offset)
	p := &Pump{
		sup:    s,
		h:      h,
		src:    src,
		logger: s.logger,
		kick:   make(chan struct{}, 1),
		quit:   make(chan struct{}),
		done:   make(chan struct{}),
	}
	go p.run()
	return p
}

func (p *Pump) run() {
	defer close(p.done)
	buf := make([]byte, 4096)

	for {
		select {
		case <-p.quit:
			return
		default:
		}

		if p.paused.Load() {
			select {
			case <-p.quit:
				return
			case <-p.kick:
			}
			continue
		}

		n, err := p.src.Read(buf)
		if n > 0 {
			if g := p.sup.gain(); g < 1.0 {
				scaleS16(buf[:n], g)
			}
			if ferr := p.sup.Feed(p.h, buf[:n]); ferr != nil {
				// broken pipe; the exit notice drives recovery
				p.logger.PrintError("pump feed", ferr)
				return
			}
		}
		if err != nil {
			if err != io.EOF {
				p.logger.PrintError("pump read", err)
			}
			return
		}
	}
}

func (p *Pump) Pause() {
	p.paused.Store(true)
}

func (p *Pump) Resume() {
	p.paused.Store(false)
	select {
	case p.kick <- struct{}{}:
	default:
	}
}

func (p *Pump) Stop() {
	p.once.Do(func() {
		close(p.quit)
		// unblock a paused pump
		select {
		case p.kick <- struct{}{}:
		default:
		}
	})
}

// Done is closed once the pump goroutine has finished.
func (p *Pump) Done() <-chan struct{} { return p.done }

// scaleS16 multiplies signed 16-bit little-endian samples in place by gain.
// Gain never exceeds 1.0, so no clipping can occur.
func scaleS16(buf []byte, gain float64) {
	for i := 0; i+1 < len(buf); i += 2 {
		s := int16(binary.LittleEndian.Uint16(buf[i:]))
		binary.LittleEndian.PutUint16(buf[i:], uint16(int16(float64(s)*gain)))
	}
}
