// Package tasks holds deferred work scheduled some ticks after the event that
// caused it. Tasks carry ids only; whoever runs one re-checks the world.
package tasks

import (
	"sort"

	"github.com/google/uuid"

	"github.com/Staticpast/ModeManager/internal/sim/host"
)

type Kind string

const (
	KindTrackFrame       Kind = "TRACK_FRAME"
	KindRestoreInventory Kind = "RESTORE_INVENTORY"
)

// TrackFrame records Frame as owned by Owner if it holds an item when run.
type TrackFrame struct {
	Frame uuid.UUID
	Owner uuid.UUID
}

func (TrackFrame) TaskName() string { return string(KindTrackFrame) }

// RestoreInventory puts the creative snapshot back after a respawn, provided
// the player is still online and in creative.
type RestoreInventory struct {
	Player uuid.UUID
}

func (RestoreInventory) TaskName() string { return string(KindRestoreInventory) }

type entry struct {
	due  uint64
	seq  uint64
	task host.Task
}

// Queue orders tasks by due tick, then by scheduling order. It is not safe
// for concurrent use.
type Queue struct {
	tick    uint64
	seq     uint64
	pending []entry
}

// RunAfter schedules t to run ticks ticks from now. Zero or negative means
// the next Advance.
func (q *Queue) RunAfter(ticks int, t host.Task) {
	if ticks < 1 {
		ticks = 1
	}
	q.seq++
	q.pending = append(q.pending, entry{due: q.tick + uint64(ticks), seq: q.seq, task: t})
}

// Advance moves to the next tick and returns the tasks now due.
func (q *Queue) Advance() []host.Task {
	q.tick++
	if len(q.pending) == 0 {
		return nil
	}
	sort.Slice(q.pending, func(i, j int) bool {
		if q.pending[i].due != q.pending[j].due {
			return q.pending[i].due < q.pending[j].due
		}
		return q.pending[i].seq < q.pending[j].seq
	})
	n := 0
	for n < len(q.pending) && q.pending[n].due <= q.tick {
		n++
	}
	if n == 0 {
		return nil
	}
	out := make([]host.Task, n)
	for i := range out {
		out[i] = q.pending[i].task
	}
	q.pending = append(q.pending[:0], q.pending[n:]...)
	return out
}

func (q *Queue) Tick() uint64 { return q.tick }

func (q *Queue) Len() int { return len(q.pending) }
