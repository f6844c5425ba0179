package service

import (
	"sync/atomic"
	"time"
)

// State is the liveness snapshot shared by the evaluators and the admin server.
type State struct {
	ready     atomic.Bool
	startedAt time.Time

	wsConnected  atomic.Bool
	lastSlowUnix atomic.Int64 // unix seconds
	lastFastUnix atomic.Int64
}

func NewState() *State {
	return &State{startedAt: time.Now()}
}

func (s *State) SetReady(v bool) { s.ready.Store(v) }
func (s *State) Ready() bool     { return s.ready.Load() }

func (s *State) SetWSConnected(v bool) { s.wsConnected.Store(v) }
func (s *State) WSConnected() bool     { return s.wsConnected.Load() }

// TouchTick records a finished tick of the named evaluator ("slow" or "fast").
func (s *State) TouchTick(evaluator string, t time.Time) {
	switch evaluator {
	case "slow":
		s.lastSlowUnix.Store(t.Unix())
	case "fast":
		s.lastFastUnix.Store(t.Unix())
	}
}

func (s *State) LastSlowTick() time.Time { return unixOrZero(s.lastSlowUnix.Load()) }
func (s *State) LastFastTick() time.Time { return unixOrZero(s.lastFastUnix.Load()) }

func (s *State) Uptime() time.Duration { return time.Since(s.startedAt) }

func unixOrZero(u int64) time.Time {
	if u == 0 {
		return time.Time{}
	}
	return time.Unix(u, 0)
}
