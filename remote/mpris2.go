// Copyright 2025 The connectd Authors
// SPDX-License-Identifier: GPL-3.0-only

package remote

import (
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/godbus/dbus/v5"
	"github.com/godbus/dbus/v5/introspect"
	"github.com/godbus/dbus/v5/prop"

	"connectd/logger"
	"connectd/playback"
	"connectd/session"
)

const mprisPath = "/org/mpris/MediaPlayer2"

// BridgeDisconnectedError means the control surface could not be set up or
// was lost; the daemon keeps playing headless.
type BridgeDisconnectedError struct {
	Err error
}

func (e *BridgeDisconnectedError) Error() string {
	return fmt.Sprintf("mpris: bridge disconnected: %v", e.Err)
}

func (e *BridgeDisconnectedError) Unwrap() error { return e.Err }

type MprisPlayer struct {
	dbus   *dbus.Conn
	player ControlledPlayer
	logger logger.LoggerInterface
	props  *prop.Properties

	mu   sync.Mutex
	last playback.Snapshot
}

var _ playback.Publisher = (*MprisPlayer)(nil)

func RegisterMprisPlayer(player ControlledPlayer, logger_ logger.LoggerInterface) (*MprisPlayer, error) {
	conn, err := dbus.ConnectSessionBus()
	if err != nil {
		return nil, &BridgeDisconnectedError{Err: err}
	}

	mpp := &MprisPlayer{
		dbus:   conn,
		player: player,
		logger: logger_,
	}

	if err := conn.ExportAll(mpp, mprisPath, "org.mpris.MediaPlayer2.Player"); err != nil {
		return nil, &BridgeDisconnectedError{Err: err}
	}

	playerProps := map[string]*prop.Prop{
		"CanControl":     {Value: true, Writable: false, Emit: prop.EmitFalse, Callback: nil},
		"CanGoNext":      {Value: true, Writable: false, Emit: prop.EmitFalse, Callback: nil},
		"CanGoPrevious":  {Value: true, Writable: false, Emit: prop.EmitFalse, Callback: nil},
		"CanPause":       {Value: true, Writable: false, Emit: prop.EmitFalse, Callback: nil},
		"CanPlay":        {Value: true, Writable: false, Emit: prop.EmitFalse, Callback: nil},
		"CanSeek":        {Value: true, Writable: false, Emit: prop.EmitFalse, Callback: nil},
		"Metadata":       {Value: metadataMap(nil), Writable: false, Emit: prop.EmitTrue, Callback: nil},
		"Volume":         {Value: float64(1.0), Writable: true, Emit: prop.EmitTrue, Callback: mpp.volumeChange},
		"PlaybackStatus": {Value: statusText(playback.StateStopped), Writable: false, Emit: prop.EmitTrue, Callback: nil},
		// position changes are polled, never emitted, per the MPRIS spec
		"Position": {Value: int64(0), Writable: false, Emit: prop.EmitFalse, Callback: nil},
	}

	mediaPlayer := map[string]*prop.Prop{
		"CanQuit":             {Value: false, Writable: false, Emit: prop.EmitFalse, Callback: nil},
		"CanRaise":            {Value: false, Writable: false, Emit: prop.EmitFalse, Callback: nil},
		"HasTrackList":        {Value: false, Writable: false, Emit: prop.EmitFalse, Callback: nil},
		"Identity":            {Value: "connectd", Writable: false, Emit: prop.EmitFalse, Callback: nil},
		"SupportedUriSchemes": {Value: []string{}, Writable: false, Emit: prop.EmitFalse, Callback: nil},
		"SupportedMimeTypes":  {Value: []string{}, Writable: false, Emit: prop.EmitFalse, Callback: nil},
	}

	props, err := prop.Export(
		conn,
		mprisPath,
		map[string]map[string]*prop.Prop{
			"org.mpris.MediaPlayer2":        mediaPlayer,
			"org.mpris.MediaPlayer2.Player": playerProps,
		},
	)
	if err != nil {
		return nil, &BridgeDisconnectedError{Err: err}
	}
	mpp.props = props

	n := &introspect.Node{
		Name: mprisPath,
		Interfaces: []introspect.Interface{
			introspect.IntrospectData,
			prop.IntrospectData,
			{
				Name:       "org.mpris.MediaPlayer2.Player",
				Methods:    introspect.Methods(mpp),
				Properties: props.Introspection("org.mpris.MediaPlayer2.Player"),
			},
		},
	}
	if err := conn.Export(introspect.NewIntrospectable(n), mprisPath, "org.freedesktop.DBus.Introspectable"); err != nil {
		return nil, &BridgeDisconnectedError{Err: err}
	}

	name := "org.mpris.MediaPlayer2.connectd"
	reply, err := conn.RequestName(name, dbus.NameFlagDoNotQueue)
	if err != nil {
		return nil, &BridgeDisconnectedError{Err: err}
	}
	if reply != dbus.RequestNameReplyPrimaryOwner {
		return nil, &BridgeDisconnectedError{Err: errors.New("name already owned")}
	}

	return mpp, nil
}

func (m *MprisPlayer) Close() {
	if err := m.dbus.Close(); err != nil {
		m.logger.PrintError("mpris Close", err)
	}
}

// Publish pushes a fresh state snapshot onto the bus. Property updates emit
// PropertiesChanged through the prop export.
func (m *MprisPlayer) Publish(snap playback.Snapshot) {
	m.mu.Lock()
	m.last = snap
	m.mu.Unlock()

	m.props.SetMust("org.mpris.MediaPlayer2.Player", "PlaybackStatus", statusText(snap.State))
	m.props.SetMust("org.mpris.MediaPlayer2.Player", "Metadata", metadataMap(snap.Track))
	m.props.SetMust("org.mpris.MediaPlayer2.Player", "Volume", snap.Volume)
	m.props.SetMust("org.mpris.MediaPlayer2.Player", "Position", snap.Position.Microseconds())
}

func (m *MprisPlayer) snapshot() playback.Snapshot {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.last
}

// Mandatory org.mpris.MediaPlayer2.Player methods.

func (m *MprisPlayer) Play() {
	m.player.Play()
}

func (m *MprisPlayer) Pause() {
	m.player.Pause()
}

func (m *MprisPlayer) PlayPause() {
	if m.snapshot().State == playback.StatePlaying {
		m.player.Pause()
	} else {
		m.player.Play()
	}
}

func (m *MprisPlayer) Stop() {
	m.player.Stop()
}

func (m *MprisPlayer) Next() {
	m.player.Next()
}

func (m *MprisPlayer) Previous() {
	m.player.Previous()
}

// Seek moves relative to the current position, offset in microseconds.
func (m *MprisPlayer) Seek(offset int64) {
	pos := m.snapshot().Position + time.Duration(offset)*time.Microsecond
	if pos < 0 {
		pos = 0
	}
	m.player.SeekTo(pos)
}

// SetPosition jumps to an absolute position in microseconds.
func (m *MprisPlayer) SetPosition(trackID dbus.ObjectPath, pos int64) {
	m.player.SeekTo(time.Duration(pos) * time.Microsecond)
}

func (m *MprisPlayer) OpenUri(string) {
	// track selection belongs to the Connect session
}

func (m *MprisPlayer) volumeChange(c *prop.Change) *dbus.Error {
	fVol, ok := c.Value.(float64)
	if !ok {
		return prop.ErrInvalidArg
	}
	m.player.SetVolume(fVol)
	m.logger.Verbosef("mpris: volume change requested: %f", fVol)
	return nil
}

func statusText(s playback.State) string {
	switch s {
	case playback.StatePlaying, playback.StateLoading:
		return "Playing"
	case playback.StatePaused:
		return "Paused"
	default:
		return "Stopped"
	}
}

func metadataMap(t *session.TrackMetadata) map[string]interface{} {
	if t == nil {
		return map[string]interface{}{
			"mpris:trackid": dbus.ObjectPath("/org/mpris/MediaPlayer2/TrackList/NoTrack"),
		}
	}
	return map[string]interface{}{
		"mpris:trackid": dbus.ObjectPath("/connectd/track/" + sanitizePathComponent(t.ID)),
		"mpris:length":  t.Duration.Microseconds(),
		"xesam:title":   t.Title,
		"xesam:artist":  []string{t.Artist},
		"xesam:album":   t.Album,
	}
}

// D-Bus object paths only allow [A-Za-z0-9_] per element.
func sanitizePathComponent(s string) string {
	out := make([]rune, 0, len(s))
	for _, r := range s {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9', r == '_':
			out = append(out, r)
		default:
			out = append(out, '_')
		}
	}
	if len(out) == 0 {
		return "unknown"
	}
	return string(out)
}
