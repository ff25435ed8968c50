package model

import (
	"testing"
	"time"

	"github.com/google/uuid"
)

func TestNewUserState_SeedsInitialRecord(t *testing.T) {
	t0 := time.Unix(1_700_000_000, 0)
	s := NewUserState(uuid.New(), Survival, t0)
	h := s.History()
	if len(h) != 1 {
		t.Fatalf("history len=%d want 1", len(h))
	}
	if h[0].Mode != Survival || !h[0].Timestamp.Equal(t0) || h[0].Reason != ReasonInitial {
		t.Fatalf("unexpected seed record: %+v", h[0])
	}
	if s.CurrentMode() != Survival || !s.LastSwitch().Equal(t0) {
		t.Fatalf("mode=%s last=%v", s.CurrentMode(), s.LastSwitch())
	}
}

func TestUserState_SwitchKeepsHistoryMonotonic(t *testing.T) {
	t0 := time.Unix(1_700_000_000, 0)
	s := NewUserState(uuid.New(), Survival, t0)
	s.Switch(Creative, t0.Add(10*time.Second), "Command")
	// clock stepped backwards
	s.Switch(Survival, t0.Add(5*time.Second), "Command")

	h := s.History()
	if len(h) != 3 {
		t.Fatalf("history len=%d want 3", len(h))
	}
	for i := 1; i < len(h); i++ {
		if h[i].Timestamp.Before(h[i-1].Timestamp) {
			t.Fatalf("history[%d] earlier than history[%d]", i, i-1)
		}
	}
	if s.CurrentMode() != Survival {
		t.Fatalf("mode=%s want SURVIVAL", s.CurrentMode())
	}
}

func TestUserState_RemainingCooldown(t *testing.T) {
	t0 := time.Unix(1_700_000_000, 0)
	s := NewUserState(uuid.New(), Survival, t0)
	cd := 30 * time.Second
	if s.InCooldown(t0, cd) || s.RemainingCooldown(t0, cd) != 0 {
		t.Fatalf("seed record should not start a cooldown")
	}
	s.Switch(Creative, t0, "Command")

	if !s.InCooldown(t0.Add(5*time.Second), cd) {
		t.Fatalf("expected cooldown at +5s")
	}
	if got := s.RemainingCooldown(t0.Add(5*time.Second), cd); got != 25 {
		t.Fatalf("remaining=%d want 25", got)
	}
	if s.InCooldown(t0.Add(30*time.Second), cd) {
		t.Fatalf("cooldown should end at +30s")
	}
	if got := s.RemainingCooldown(t0.Add(31*time.Second), cd); got != 0 {
		t.Fatalf("remaining=%d want 0", got)
	}
}

func TestRestoreUserState_Reconciles(t *testing.T) {
	id := uuid.New()
	t0 := time.Unix(1_700_000_000, 0)

	s := RestoreUserState(id, Creative, t0, nil, nil)
	if len(s.History()) != 1 || s.CurrentMode() != Creative || !s.LastSwitch().Equal(t0) {
		t.Fatalf("empty history not seeded: %+v", s.History())
	}
	// Only a brand-new user skips the cooldown; a stored switch still counts.
	if got := s.History()[0].Reason; got != ReasonRestored {
		t.Fatalf("seed reason=%q want %q", got, ReasonRestored)
	}
	if !s.InCooldown(t0.Add(5*time.Second), 30*time.Second) {
		t.Fatalf("restored user switched 5s ago should be in cooldown")
	}

	hist := []Record{{Mode: Survival, Timestamp: t0, Reason: ReasonInitial}}
	s = RestoreUserState(id, Creative, t0.Add(time.Minute), hist, nil)
	h := s.History()
	if len(h) != 2 || h[1].Reason != ReasonRestored || s.CurrentMode() != Creative {
		t.Fatalf("mismatched history not reconciled: %+v", h)
	}
	if !s.LastSwitch().Equal(t0.Add(time.Minute)) {
		t.Fatalf("last switch=%v", s.LastSwitch())
	}
}

func TestUserState_RecentAndFormat(t *testing.T) {
	t0 := time.Date(2024, 3, 9, 14, 5, 7, 0, time.UTC)
	s := NewUserState(uuid.New(), Survival, t0)
	for i := 0; i < 6; i++ {
		s.Switch(s.CurrentMode().Other(), t0.Add(time.Duration(i+1)*time.Minute), "Command")
	}
	r := s.Recent(5)
	if len(r) != 5 {
		t.Fatalf("recent len=%d want 5", len(r))
	}
	if r[4].Mode != s.CurrentMode() {
		t.Fatalf("recent not newest-last")
	}
	if got, want := s.History()[0].String(), "2024-03-09 14:05:07 - SURVIVAL - Initial mode"; got != want {
		t.Fatalf("got %q want %q", got, want)
	}
}

func TestDisplayName(t *testing.T) {
	cases := map[string]string{
		"LAVA_BUCKET": "Lava Bucket",
		"TNT":         "Tnt",
		"end_crystal": "End Crystal",
	}
	for in, want := range cases {
		if got := DisplayName(in); got != want {
			t.Fatalf("DisplayName(%q)=%q want %q", in, got, want)
		}
	}
}
