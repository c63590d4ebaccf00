package kmsgl

import (
	"sync/atomic"
	"time"

	"github.com/sirupsen/logrus"
)

// FrameStats counts presentation events. It is written by the scheduler and
// may be read from any goroutine.
type FrameStats struct {
	committed    atomic.Uint64
	presented    atomic.Uint64
	rejected     atomic.Uint64
	timeouts     atomic.Uint64
	missed       atomic.Uint64
	lastSequence atomic.Uint32
	lastFlip     atomic.Int64
}

// StatsSnapshot is a point-in-time copy of FrameStats.
type StatsSnapshot struct {
	// Committed counts mode-sets and accepted page flips.
	Committed uint64
	// Presented counts frames that reached the screen.
	Presented uint64
	Rejected  uint64
	Timeouts  uint64
	// Missed counts vblanks between two flips that showed no new frame.
	Missed       uint64
	LastSequence uint32
	LastFlip     time.Duration
}

// Snapshot returns the current counters.
func (f *FrameStats) Snapshot() StatsSnapshot {
	return StatsSnapshot{
		Committed:    f.committed.Load(),
		Presented:    f.presented.Load(),
		Rejected:     f.rejected.Load(),
		Timeouts:     f.timeouts.Load(),
		Missed:       f.missed.Load(),
		LastSequence: f.lastSequence.Load(),
		LastFlip:     time.Duration(f.lastFlip.Load()),
	}
}

// Committed returns the number of committed frames.
func (f *FrameStats) Committed() uint64 {
	return f.committed.Load()
}

// flipCompleted records ev and returns the number of vblanks missed since
// the previous flip.
func (f *FrameStats) flipCompleted(ev FlipEvent) uint64 {
	var missed uint64
	last := f.lastSequence.Swap(ev.Sequence)
	if last != 0 && ev.Sequence > last+1 {
		missed = uint64(ev.Sequence - last - 1)
		f.missed.Add(missed)
	}
	f.lastFlip.Store(int64(ev.Time))
	return missed
}

// Fields returns the snapshot as log fields.
func (s StatsSnapshot) Fields() logrus.Fields {
	return logrus.Fields{
		"committed": s.Committed,
		"presented": s.Presented,
		"rejected":  s.Rejected,
		"timeouts":  s.Timeouts,
		"missed":    s.Missed,
		"sequence":  s.LastSequence,
	}
}
