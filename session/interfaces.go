package session

import (
	"io"
	"time"
)

// Client is the boundary to the Spotify Connect session engine. It produces
// events and accepts commands; protocol details, authentication and
// reconnection live behind this interface.
type Client interface {
	// Events returns the session's event stream. The channel is closed
	// once the session is lost for good (after EventDisconnected).
	Events() <-chan Event

	// Audio returns the decoded PCM stream for whatever track the session
	// is currently delivering. Reads block until data is available.
	Audio() io.Reader

	Next() error
	Previous() error
	SeekTo(pos time.Duration) error

	ReportPosition(pos time.Duration) error
	ReportVolume(v float64) error

	Close() error
}
