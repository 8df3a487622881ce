package botstate

import (
	"sync"
	"sync/atomic"
	"time"
)

// State is the run/pause switch shared by the scheduling loop and the
// ledger. Start and Pause are safe to call from any goroutine; readers see
// the change at their next check.
type State struct {
	running atomic.Bool

	mu          sync.Mutex
	lastCommand string
	commandAt   time.Time
	heartbeat   time.Time
	cycles      int64
}

// Status is a point-in-time copy of State.
type Status struct {
	Running     bool
	LastCommand string
	CommandAt   time.Time
	Heartbeat   time.Time
	Cycles      int64
}

// New returns a state that starts running when running is true.
func New(running bool) *State {
	s := &State{}
	s.running.Store(running)
	return s
}

func (s *State) Start() { s.command(true, "start") }
func (s *State) Pause() { s.command(false, "pause") }

func (s *State) command(run bool, name string) {
	s.running.Store(run)
	s.mu.Lock()
	s.lastCommand = name
	s.commandAt = time.Now()
	s.mu.Unlock()
}

// Running reports the current flag. A nil State is always running.
func (s *State) Running() bool {
	if s == nil {
		return true
	}
	return s.running.Load()
}

// Beat records a completed scheduling cycle at t.
func (s *State) Beat(t time.Time) {
	s.mu.Lock()
	s.heartbeat = t
	s.cycles++
	s.mu.Unlock()
}

func (s *State) Status() Status {
	s.mu.Lock()
	defer s.mu.Unlock()
	return Status{
		Running:     s.running.Load(),
		LastCommand: s.lastCommand,
		CommandAt:   s.commandAt,
		Heartbeat:   s.heartbeat,
		Cycles:      s.cycles,
	}
}
