package model

import (
	"time"

	"github.com/google/uuid"
)

const (
	ReasonInitial  = "Initial mode"
	ReasonRestored = "Restored from storage"
)

// HistoryTimeLayout is the layout used when a record is shown to users.
const HistoryTimeLayout = "2006-01-02 15:04:05"

// Record is one entry of a user's mode history.
type Record struct {
	Mode      Mode
	Timestamp time.Time
	Reason    string
}

func (r Record) String() string {
	return r.Timestamp.Format(HistoryTimeLayout) + " - " + string(r.Mode) + " - " + r.Reason
}

// UserState is the per-user mode aggregate.
//
// The current mode and last switch time are read off the newest history
// entry, so they cannot drift from it. History is never empty.
type UserState struct {
	UserID    uuid.UUID
	history   []Record
	Snapshots map[Mode]*Snapshot
}

// NewUserState returns a fresh state seeded with an initial-mode record.
func NewUserState(id uuid.UUID, mode Mode, now time.Time) *UserState {
	if !mode.Valid() {
		mode = Survival
	}
	return &UserState{
		UserID:    id,
		history:   []Record{{Mode: mode, Timestamp: now, Reason: ReasonInitial}},
		Snapshots: map[Mode]*Snapshot{},
	}
}

// RestoreUserState rebuilds a state from persisted fields. A missing history is
// seeded from current/lastSwitch with a restored record, so the stored switch
// time still counts for cooldown; a history whose newest entry disagrees with
// current gets a reconciling record appended.
func RestoreUserState(id uuid.UUID, current Mode, lastSwitch time.Time, history []Record, snaps map[Mode]*Snapshot) *UserState {
	if !current.Valid() {
		current = Survival
		if n := len(history); n > 0 && history[n-1].Mode.Valid() {
			current = history[n-1].Mode
		}
	}
	kept := make([]Record, 0, len(history)+1)
	for _, r := range history {
		if !r.Mode.Valid() {
			continue
		}
		if n := len(kept); n > 0 && r.Timestamp.Before(kept[n-1].Timestamp) {
			r.Timestamp = kept[n-1].Timestamp
		}
		kept = append(kept, r)
	}
	if len(kept) == 0 {
		kept = append(kept, Record{Mode: current, Timestamp: lastSwitch, Reason: ReasonRestored})
	} else if last := kept[len(kept)-1]; last.Mode != current {
		ts := lastSwitch
		if ts.Before(last.Timestamp) {
			ts = last.Timestamp
		}
		kept = append(kept, Record{Mode: current, Timestamp: ts, Reason: ReasonRestored})
	}
	if snaps == nil {
		snaps = map[Mode]*Snapshot{}
	}
	return &UserState{UserID: id, history: kept, Snapshots: snaps}
}

func (s *UserState) CurrentMode() Mode { return s.history[len(s.history)-1].Mode }

func (s *UserState) LastSwitch() time.Time { return s.history[len(s.history)-1].Timestamp }

// History returns a copy, oldest first.
func (s *UserState) History() []Record {
	out := make([]Record, len(s.history))
	copy(out, s.history)
	return out
}

// Recent returns up to n newest records, oldest first.
func (s *UserState) Recent(n int) []Record {
	if n <= 0 || n >= len(s.history) {
		return s.History()
	}
	out := make([]Record, n)
	copy(out, s.history[len(s.history)-n:])
	return out
}

// Switch appends a history record for mode. Timestamps never go backwards.
func (s *UserState) Switch(mode Mode, now time.Time, reason string) {
	if last := s.LastSwitch(); now.Before(last) {
		now = last
	}
	s.history = append(s.history, Record{Mode: mode, Timestamp: now, Reason: reason})
}

// InCooldown reports whether cooldown has not yet elapsed since the last
// switch. The seed record of a fresh state does not start a cooldown.
func (s *UserState) InCooldown(now time.Time, cooldown time.Duration) bool {
	if s.fresh() {
		return false
	}
	return now.Before(s.LastSwitch().Add(cooldown))
}

// RemainingCooldown is measured in whole epoch seconds, never negative.
func (s *UserState) RemainingCooldown(now time.Time, cooldown time.Duration) int64 {
	if s.fresh() {
		return 0
	}
	end := s.LastSwitch().Add(cooldown).Unix()
	if rem := end - now.Unix(); rem > 0 {
		return rem
	}
	return 0
}

func (s *UserState) fresh() bool {
	return len(s.history) == 1 && s.history[0].Reason == ReasonInitial
}

func (s *UserState) Snapshot(m Mode) *Snapshot { return s.Snapshots[m] }

func (s *UserState) SetSnapshot(m Mode, snap *Snapshot) {
	if s.Snapshots == nil {
		s.Snapshots = map[Mode]*Snapshot{}
	}
	s.Snapshots[m] = snap
}

// Clone deep-copies the state so it can be handed to another goroutine.
func (s *UserState) Clone() *UserState {
	out := &UserState{
		UserID:    s.UserID,
		history:   s.History(),
		Snapshots: make(map[Mode]*Snapshot, len(s.Snapshots)),
	}
	for m, snap := range s.Snapshots {
		out.Snapshots[m] = snap.Clone()
	}
	return out
}
