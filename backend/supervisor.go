// Copyright 2025 The connectd Authors
// SPDX-License-Identifier: GPL-3.0-only

package backend

import (
	"io"
	"math"
	"os/exec"
	"strconv"
	"sync"
	"sync/atomic"
	"syscall"
	"time"

	"connectd/logger"
)

// AudioFormat is the sample format the sink is spawned with. Audio is
// always fed as signed 16-bit little-endian PCM.
type AudioFormat struct {
	SampleRate int
	Channels   int
}

func (f AudioFormat) bytesPerSecond() int64 {
	return int64(f.SampleRate) * int64(f.Channels) * 2
}

type Config struct {
	Command string
	Device  string   // passed through unchanged when set
	Args    []string // extra args appended unchanged
}

type ExitStatus struct {
	Code int
	Err  error
}

// ExitNotice is delivered whenever the sink process exits, requested or
// not. Correlating it with an in-flight stop is the state machine's job.
type ExitNotice struct {
	Pid      int
	Status   ExitStatus
	Position time.Duration // last known playback position estimate
}

// Handle represents one live sink subprocess.
type Handle struct {
	Pid    int
	cmd    *exec.Cmd
	stdin  io.WriteCloser
	format AudioFormat

	fed    atomic.Int64 // bytes written to stdin
	baseUs atomic.Int64 // feed start offset in microseconds
	done   chan struct{}
}

// Position estimates the playback position from bytes fed since the last
// feed start, plus the offset the feed started at.
func (h *Handle) Position() time.Duration {
	base := time.Duration(h.baseUs.Load()) * time.Microsecond
	bps := h.format.bytesPerSecond()
	if bps == 0 {
		return base
	}
	return base + time.Duration(h.fed.Load()*int64(time.Second)/bps)
}

// Rebase re-seeds the position estimate, as when the feed jumps to a new
// offset after a seek.
func (h *Handle) Rebase(offset time.Duration) {
	h.baseUs.Store(offset.Microseconds())
	h.fed.Store(0)
}

// Done is closed when the subprocess has exited.
func (h *Handle) Done() <-chan struct{} { return h.done }

// Supervisor owns at most one sink subprocess at a time.
type Supervisor struct {
	cfg    Config
	logger logger.LoggerInterface

	mu     sync.Mutex
	handle *Handle
	exits  chan ExitNotice

	gainBits atomic.Uint64 // float64 volume in [0,1], applied to fed PCM
}

func NewSupervisor(cfg Config, log logger.LoggerInterface) *Supervisor {
	s := &Supervisor{
		cfg:    cfg,
		logger: log,
		exits:  make(chan ExitNotice, 4),
	}
	s.SetGain(1.0)
	return s
}

// SetGain sets the volume factor the pump applies to the PCM it feeds. The
// sink itself never sees volume changes, only the scaled samples.
func (s *Supervisor) SetGain(v float64) {
	if v < 0 {
		v = 0
	}
	if v > 1 {
		v = 1
	}
	s.gainBits.Store(math.Float64bits(v))
}

func (s *Supervisor) gain() float64 {
	return math.Float64frombits(s.gainBits.Load())
}

// Exits delivers a notice for every subprocess exit, whether requested or
// a crash.
func (s *Supervisor) Exits() <-chan ExitNotice {
	return s.exits
}

// Handle returns the live handle, or nil.
func (s *Supervisor) Handle() *Handle {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.handle
}

// Ensure returns the live handle if there is one, spawning otherwise.
func (s *Supervisor) Ensure(format AudioFormat) (*Handle, error) {
	if h := s.Handle(); h != nil && h.format == format {
		return h, nil
	}
	return s.Spawn(format)
}

func (s *Supervisor) Spawn(format AudioFormat) (*Handle, error) {
	args := s.buildArgs(format)
	cmd := exec.Command(s.cfg.Command, args...)

	stdin, err := cmd.StdinPipe()
	if err != nil {
		return nil, &SpawnError{Command: s.cfg.Command, Err: err}
	}
	if err := cmd.Start(); err != nil {
		return nil, &SpawnError{Command: s.cfg.Command, Err: err}
	}

	h := &Handle{
		Pid:    cmd.Process.Pid,
		cmd:    cmd,
		stdin:  stdin,
		format: format,
		done:   make(chan struct{}),
	}
	s.logger.Printf("backend: started %s (pid %d) at %dHz/%dch",
		s.cfg.Command, h.Pid, format.SampleRate, format.Channels)

	s.mu.Lock()
	s.handle = h
	s.mu.Unlock()

	go s.watch(h)
	return h, nil
}

func (s *Supervisor) buildArgs(format AudioFormat) []string {
	// explicitly configured args are passed through unchanged
	if len(s.cfg.Args) > 0 {
		return s.cfg.Args
	}
	// default to aplay-style raw PCM arguments
	args := []string{
		"-t", "raw",
		"-f", "S16_LE",
		"-r", strconv.Itoa(format.SampleRate),
		"-c", strconv.Itoa(format.Channels),
	}
	if s.cfg.Device != "" {
		args = append(args, "-D", s.cfg.Device)
	}
	return args
}

func (s *Supervisor) watch(h *Handle) {
	err := h.cmd.Wait()
	status := ExitStatus{Err: err}
	if err == nil {
		status.Code = 0
	} else if ee, ok := err.(*exec.ExitError); ok {
		status.Code = ee.ExitCode()
	} else {
		status.Code = -1
	}

	s.mu.Lock()
	if s.handle == h {
		s.handle = nil
	}
	s.mu.Unlock()
	close(h.done)

	s.logger.Printf("backend: pid %d exited (code %d)", h.Pid, status.Code)
	s.exits <- ExitNotice{Pid: h.Pid, Status: status, Position: h.Position()}
}

// Feed writes audio data to the sink's input. A closed pipe is reported as
// a WriteError, equivalent to a process exit.
func (s *Supervisor) Feed(h *Handle, p []byte) error {
	n, err := h.stdin.Write(p)
	h.fed.Add(int64(n))
	if err != nil {
		return &WriteError{Err: err}
	}
	return nil
}

// Stop closes the sink's input, asks it to terminate and force-kills it if
// it does not exit within the grace period.
func (s *Supervisor) Stop(h *Handle) {
	h.stdin.Close()
	if err := h.cmd.Process.Signal(syscall.SIGTERM); err != nil {
		s.logger.Verbosef("backend: SIGTERM pid %d: %v", h.Pid, err)
	}

	select {
	case <-h.done:
	case <-time.After(3 * time.Second):
		s.logger.Printf("backend: pid %d unresponsive, killing", h.Pid)
		if err := h.cmd.Process.Kill(); err != nil {
			s.logger.Verbosef("backend: kill pid %d: %v", h.Pid, err)
		}
		<-h.done
	}
}
