package remote

import "time"

// ControlledPlayer is what the bridge drives. Every call is fire-and-forget:
// it enqueues a command and returns, the effect shows up in a later
// snapshot.
type ControlledPlayer interface {
	Play()
	Pause()
	Stop()
	Next()
	Previous()
	SeekTo(pos time.Duration)
	SetVolume(v float64)
}
