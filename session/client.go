// Copyright 2025 The connectd Authors
// SPDX-License-Identifier: GPL-3.0-only

package session

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"sync"
	"time"

	"github.com/coder/websocket"

	"connectd/logger"
)

// ErrSessionLost is returned by outbound commands after the transport is
// gone and the retry budget is spent.
var ErrSessionLost = errors.New("session lost")

type Config struct {
	URL        string
	DeviceName string
	MaxRetries int
	Backoff    time.Duration
}

// WSClient talks to the Connect session engine over one websocket: JSON
// text frames for events and commands, binary frames for decoded PCM.
// Reconnection with capped backoff is handled here, not by callers.
type WSClient struct {
	cfg    Config
	logger logger.LoggerInterface

	mu   sync.Mutex // guards conn for concurrent writers
	conn *websocket.Conn
	lost bool

	events chan Event
	audioR *io.PipeReader
	audioW *io.PipeWriter

	ctx    context.Context
	cancel context.CancelFunc
}

var _ Client = (*WSClient)(nil)

func Dial(ctx context.Context, cfg Config, log logger.LoggerInterface) (*WSClient, error) {
	if cfg.MaxRetries <= 0 {
		cfg.MaxRetries = 5
	}
	if cfg.Backoff <= 0 {
		cfg.Backoff = 2 * time.Second
	}

	conn, _, err := websocket.Dial(ctx, cfg.URL, nil)
	if err != nil {
		return nil, fmt.Errorf("session: dial %s: %w", cfg.URL, err)
	}

	cctx, cancel := context.WithCancel(context.Background())
	ar, aw := io.Pipe()
	c := &WSClient{
		cfg:    cfg,
		logger: log,
		conn:   conn,
		events: make(chan Event, 16),
		audioR: ar,
		audioW: aw,
		ctx:    cctx,
		cancel: cancel,
	}
	if err := c.hello(); err != nil {
		c.logger.PrintError("session hello", err)
	}
	go c.readLoop()
	return c, nil
}

// hello announces the device name this speaker registers under.
func (c *WSClient) hello() error {
	data, err := json.Marshal(wireMessage{Type: "hello", Device: c.cfg.DeviceName})
	if err != nil {
		return err
	}
	ctx, cancel := context.WithTimeout(c.ctx, 5*time.Second)
	defer cancel()
	return c.conn.Write(ctx, websocket.MessageText, data)
}

func (c *WSClient) Events() <-chan Event {
	return c.events
}

func (c *WSClient) Audio() io.Reader {
	return c.audioR
}

func (c *WSClient) readLoop() {
	defer close(c.events)
	defer c.audioW.Close()

	for {
		typ, data, err := c.conn.Read(c.ctx)
		if err != nil {
			if c.ctx.Err() != nil {
				return
			}
			if !c.reconnect() {
				c.events <- Event{Type: EventDisconnected}
				return
			}
			continue
		}

		switch typ {
		case websocket.MessageBinary:
			if _, err := c.audioW.Write(data); err != nil {
				// reader side closed, drop audio from here on
				c.logger.Verbosef("session: audio pipe closed: %v", err)
			}
		case websocket.MessageText:
			ev, err := parseEvent(data)
			if err != nil {
				c.logger.PrintError("session readLoop", err)
				continue
			}
			c.events <- ev
		}
	}
}

// reconnect re-dials with capped backoff per the session's own retry
// contract. Returns false when the budget is spent.
func (c *WSClient) reconnect() bool {
	backoff := c.cfg.Backoff
	for attempt := 1; attempt <= c.cfg.MaxRetries; attempt++ {
		c.logger.Printf("session: connection lost, reconnect attempt %d/%d", attempt, c.cfg.MaxRetries)

		select {
		case <-c.ctx.Done():
			return false
		case <-time.After(backoff):
		}
		if backoff < 30*time.Second {
			backoff *= 2
		}

		conn, _, err := websocket.Dial(c.ctx, c.cfg.URL, nil)
		if err != nil {
			c.logger.PrintError("session reconnect", err)
			continue
		}
		c.mu.Lock()
		c.conn = conn
		c.mu.Unlock()
		c.logger.Print("session: reconnected")
		return true
	}

	c.mu.Lock()
	c.lost = true
	c.mu.Unlock()
	c.logger.Print("session: retries exhausted, giving up on this session")
	return false
}

func (c *WSClient) send(typ string, pos time.Duration, vol float64) error {
	data, err := encodeCommand(typ, pos, vol)
	if err != nil {
		return err
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if c.lost {
		return ErrSessionLost
	}

	ctx, cancel := context.WithTimeout(c.ctx, 5*time.Second)
	defer cancel()
	return c.conn.Write(ctx, websocket.MessageText, data)
}

func (c *WSClient) Next() error {
	return c.send("next", 0, 0)
}

func (c *WSClient) Previous() error {
	return c.send("previous", 0, 0)
}

func (c *WSClient) SeekTo(pos time.Duration) error {
	return c.send("seek", pos, 0)
}

func (c *WSClient) ReportPosition(pos time.Duration) error {
	return c.send("position", pos, 0)
}

func (c *WSClient) ReportVolume(v float64) error {
	return c.send("volume", 0, v)
}

func (c *WSClient) Close() error {
	c.cancel()
	c.audioR.Close()
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.conn.Close(websocket.StatusNormalClosure, "shutting down")
}
