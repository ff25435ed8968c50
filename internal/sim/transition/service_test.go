package transition

import (
	"testing"
	"time"

	"github.com/google/uuid"

	"github.com/Staticpast/ModeManager/internal/protocol"
	"github.com/Staticpast/ModeManager/internal/sim/host"
	"github.com/Staticpast/ModeManager/internal/sim/model"
	"github.com/Staticpast/ModeManager/internal/sim/tuning"
)

var t0 = time.Unix(1_700_000_000, 0)

type memStore struct {
	def   model.Mode
	now   *time.Time
	users map[uuid.UUID]*model.UserState
	saves int
}

func (m *memStore) Get(id uuid.UUID) *model.UserState {
	if st, ok := m.users[id]; ok {
		return st
	}
	st := model.NewUserState(id, m.def, *m.now)
	m.users[id] = st
	return st
}

func (m *memStore) Save(uuid.UUID) { m.saves++ }

type recorder struct{ events []Event }

func (r *recorder) ObserveTransition(e Event) { r.events = append(r.events, e) }

type fixture struct {
	now   time.Time
	store *memStore
	out   *host.Outbox
	svc   *Service
	obs   *recorder
}

func newFixture(t *testing.T, mutate func(*tuning.Config)) *fixture {
	t.Helper()
	cfg := tuning.Defaults()
	if mutate != nil {
		mutate(&cfg)
	}
	f := &fixture{now: t0, out: &host.Outbox{}, obs: &recorder{}}
	f.store = &memStore{def: model.Survival, now: &f.now, users: map[uuid.UUID]*model.UserState{}}
	f.svc = NewService(f.store, cfg, f.out, func() time.Time { return f.now })
	f.svc.SetObserver(f.obs)
	return f
}

func newPlayer(name string, perms ...string) *host.PlayerState {
	p := host.NewPlayerState(uuid.New(), name, model.Survival)
	p.Grant(perms...)
	return p
}

func allEmpty(s model.Slots) bool {
	for _, it := range s {
		if !it.IsEmpty() {
			return false
		}
	}
	return true
}

func TestRequest_SameModeIsNoop(t *testing.T) {
	f := newFixture(t, nil)
	p := newPlayer("alex", model.PermUse, model.PermCreative)
	st := f.store.Get(p.ID())
	last := st.LastSwitch()

	res := f.svc.Request(p, model.Survival, "Command")
	if res.Outcome != AlreadyInMode || !res.OK() {
		t.Fatalf("outcome=%s want already_in_mode", res.Outcome)
	}
	if len(st.History()) != 1 || !st.LastSwitch().Equal(last) || st.Snapshot(model.Survival) != nil {
		t.Fatalf("no-op mutated state: %+v", st.History())
	}
	if f.store.saves != 0 {
		t.Fatalf("saves=%d want 0", f.store.saves)
	}
}

func TestRequest_ConcreteScenario(t *testing.T) {
	f := newFixture(t, nil)
	p := newPlayer("alex", model.PermUse, model.PermCreative)

	h := f.store.Get(p.ID()).History()
	if len(h) != 1 || h[0].Mode != model.Survival || h[0].Reason != model.ReasonInitial || !h[0].Timestamp.Equal(t0) {
		t.Fatalf("initial history=%+v", h)
	}

	if res := f.svc.Request(p, model.Creative, "Command"); res.Outcome != Success {
		t.Fatalf("first switch outcome=%s", res.Outcome)
	}
	st := f.store.Get(p.ID())
	if st.CurrentMode() != model.Creative || len(st.History()) != 2 || p.GameMode() != model.Creative {
		t.Fatalf("mode=%s history=%d live=%s", st.CurrentMode(), len(st.History()), p.GameMode())
	}

	f.now = t0.Add(5 * time.Second)
	res := f.svc.Request(p, model.Survival, "Command")
	if res.Outcome != OnCooldown || res.Remaining != 25 {
		t.Fatalf("outcome=%s remaining=%d want on_cooldown 25", res.Outcome, res.Remaining)
	}
	if st.CurrentMode() != model.Creative || len(st.History()) != 2 {
		t.Fatalf("cooldown mutated state")
	}

	f.now = t0.Add(31 * time.Second)
	if res := f.svc.Request(p, model.Survival, "Command"); res.Outcome != Success {
		t.Fatalf("third switch outcome=%s", res.Outcome)
	}
	if st.CurrentMode() != model.Survival || p.GameMode() != model.Survival {
		t.Fatalf("mode=%s live=%s", st.CurrentMode(), p.GameMode())
	}
	if f.store.saves != 2 {
		t.Fatalf("saves=%d want 2", f.store.saves)
	}
}

func TestRequest_CooldownDisabled(t *testing.T) {
	f := newFixture(t, func(c *tuning.Config) { c.ModeSwitching.CooldownSeconds = 0 })
	p := newPlayer("alex", model.PermUse, model.PermCreative)
	for i, m := range []model.Mode{model.Creative, model.Survival, model.Creative} {
		if res := f.svc.Request(p, m, "Command"); res.Outcome != Success {
			t.Fatalf("switch %d outcome=%s", i, res.Outcome)
		}
	}
}

func TestRequest_PermissionChecks(t *testing.T) {
	f := newFixture(t, nil)
	none := newPlayer("none")
	if res := f.svc.Request(none, model.Creative, "Command"); res.Outcome != Denied {
		t.Fatalf("no use permission: outcome=%s want denied", res.Outcome)
	}
	useOnly := newPlayer("use", model.PermUse)
	if res := f.svc.Request(useOnly, model.Creative, "Command"); res.Outcome != Denied {
		t.Fatalf("no creative permission: outcome=%s want denied", res.Outcome)
	}
	if res := f.svc.Request(useOnly, model.Mode("ADVENTURE"), "Command"); res.Outcome != Denied {
		t.Fatalf("invalid target: outcome=%s want denied", res.Outcome)
	}
	if len(f.store.Get(useOnly.ID()).History()) != 1 {
		t.Fatalf("denied request mutated history")
	}
	wild := newPlayer("wild", "modemanager.*")
	if res := f.svc.Request(wild, model.Creative, "Command"); res.Outcome != Success {
		t.Fatalf("wildcard grant: outcome=%s want success", res.Outcome)
	}
}

func TestSnapshot_RoundTripWithoutClearOnCreative(t *testing.T) {
	f := newFixture(t, func(c *tuning.Config) {
		c.ModeSwitching.CooldownSeconds = 0
		c.Inventories.ClearOnCreative = false
	})
	p := newPlayer("alex", model.PermUse, model.PermCreative)
	f.svc.Request(p, model.Creative, "Command")

	a := model.Slots{{Type: "DIAMOND_BLOCK", Amount: 64}, {}, {Type: "GLASS", Amount: 32}}
	armor := model.Slots{{Type: "DIAMOND_HELMET", Amount: 1}, {}, {}, {}}
	p.SetContents(a)
	p.SetArmor(armor)
	p.SetOffHand(model.ItemStack{Type: "TORCH", Amount: 16})

	f.svc.Request(p, model.Survival, "Command")
	if !allEmpty(p.Contents()) {
		t.Fatalf("survival (no snapshot) should start empty: %+v", p.Contents())
	}
	p.SetContents(model.Slots{{Type: "DIRT", Amount: 1}})

	f.svc.Request(p, model.Creative, "Command")
	if !p.Contents().Equal(a) || !p.Armor().Equal(armor) || p.OffHand().Type != "TORCH" {
		t.Fatalf("creative inventory not restored: contents=%+v armor=%+v offhand=%+v", p.Contents(), p.Armor(), p.OffHand())
	}
	f.svc.Request(p, model.Survival, "Command")
	if got := p.Contents(); !got.Equal(model.Slots{{Type: "DIRT", Amount: 1}}) {
		t.Fatalf("survival inventory=%+v want dirt", got)
	}
}

func TestSnapshot_ClearOnCreative(t *testing.T) {
	f := newFixture(t, func(c *tuning.Config) { c.ModeSwitching.CooldownSeconds = 0 })
	p := newPlayer("alex", model.PermUse, model.PermCreative)
	st := f.store.Get(p.ID())
	st.SetSnapshot(model.Creative, &model.Snapshot{Inventory: model.Slots{{Type: "BEDROCK", Amount: 1}}})
	p.SetContents(model.Slots{{Type: "BREAD", Amount: 5}})

	f.svc.Request(p, model.Creative, "Command")
	if !allEmpty(p.Contents()) {
		t.Fatalf("clear-on-creative should leave contents empty: %+v", p.Contents())
	}
	if snap := st.Snapshot(model.Survival); snap == nil || !snap.Inventory.Equal(model.Slots{{Type: "BREAD", Amount: 5}}) {
		t.Fatalf("survival snapshot=%+v", snap)
	}
}

func TestSnapshot_ArmorAndOffHandFlags(t *testing.T) {
	f := newFixture(t, func(c *tuning.Config) {
		c.ModeSwitching.CooldownSeconds = 0
		c.Inventories.SaveArmor = false
		c.Inventories.SaveOffHand = false
	})
	p := newPlayer("alex", model.PermUse, model.PermCreative)
	p.SetArmor(model.Slots{{Type: "IRON_HELMET", Amount: 1}})
	p.SetOffHand(model.ItemStack{Type: "SHIELD", Amount: 1})

	f.svc.Request(p, model.Creative, "Command")
	snap := f.store.Get(p.ID()).Snapshot(model.Survival)
	if snap.Armor != nil || snap.OffHand != nil {
		t.Fatalf("armor/offhand captured despite flags: %+v", snap)
	}
	f.svc.Request(p, model.Survival, "Command")
	if !p.Armor().Equal(model.EmptyArmor()) || !p.OffHand().IsEmpty() {
		t.Fatalf("armor/offhand restored despite flags")
	}
}

func TestSnapshot_SeparateEnderChest(t *testing.T) {
	f := newFixture(t, func(c *tuning.Config) { c.ModeSwitching.CooldownSeconds = 0 })
	p := newPlayer("alex", model.PermUse, model.PermCreative)
	survivalEnder := model.Slots{{Type: "EMERALD", Amount: 10}, {}}
	p.SetEnderChest(survivalEnder)

	f.svc.Request(p, model.Creative, "Command")
	if ender := p.EnderChest(); !allEmpty(ender) || len(ender) != 2 {
		t.Fatalf("creative ender=%+v want two empty slots", ender)
	}
	p.SetEnderChest(model.Slots{{Type: "STONE", Amount: 1}, {}})
	f.svc.Request(p, model.Survival, "Command")
	if !p.EnderChest().Equal(survivalEnder) {
		t.Fatalf("survival ender=%+v", p.EnderChest())
	}
}

func TestHistory_Monotonic(t *testing.T) {
	f := newFixture(t, func(c *tuning.Config) { c.ModeSwitching.CooldownSeconds = 0 })
	p := newPlayer("alex", model.PermUse, model.PermCreative)
	st := f.store.Get(p.ID())
	target := model.Creative
	for i := 0; i < 6; i++ {
		before := len(st.History())
		if i == 3 {
			f.now = f.now.Add(-time.Hour) // clock went backwards
		} else {
			f.now = f.now.Add(time.Second)
		}
		if res := f.svc.Request(p, target, "Command"); res.Outcome != Success {
			t.Fatalf("step %d outcome=%s", i, res.Outcome)
		}
		h := st.History()
		if len(h) != before+1 {
			t.Fatalf("step %d history %d want %d", i, len(h), before+1)
		}
		for j := 1; j < len(h); j++ {
			if h[j].Timestamp.Before(h[j-1].Timestamp) {
				t.Fatalf("history not monotonic at %d: %v < %v", j, h[j].Timestamp, h[j-1].Timestamp)
			}
		}
		if st.CurrentMode() != h[len(h)-1].Mode || !st.LastSwitch().Equal(h[len(h)-1].Timestamp) {
			t.Fatalf("current mode/last switch diverged from history")
		}
		target = target.Other()
	}
}

func TestForce_BypassesCooldownAndPermission(t *testing.T) {
	f := newFixture(t, nil)
	p := newPlayer("nobody")
	st := f.store.Get(p.ID())
	st.Switch(model.Survival, t0, "Command") // cooldown active from t0

	res := f.svc.Force(p, model.Creative, "event build", "Steve")
	if res.Outcome != Success || st.CurrentMode() != model.Creative {
		t.Fatalf("force outcome=%s mode=%s", res.Outcome, st.CurrentMode())
	}
	h := st.History()
	if got := h[len(h)-1].Reason; got != "Forced by Steve: event build" {
		t.Fatalf("reason=%q", got)
	}

	n := len(h)
	if res := f.svc.Force(p, model.Creative, "", ""); res.Outcome != AlreadyInMode {
		t.Fatalf("no-op force outcome=%s", res.Outcome)
	}
	if len(st.History()) != n {
		t.Fatalf("no-op force appended history")
	}
	f.svc.Force(p, model.Survival, "", "")
	if got := st.History()[n].Reason; got != "Forced by Console" {
		t.Fatalf("reason=%q want Forced by Console", got)
	}

	last := f.obs.events[len(f.obs.events)-1]
	if !last.Privileged || last.Admin != "Console" || last.Outcome != Success {
		t.Fatalf("observed %+v", last)
	}
}

func TestChange_Notices(t *testing.T) {
	f := newFixture(t, func(c *tuning.Config) { c.ModeSwitching.BroadcastChanges = true })
	p := newPlayer("alex", model.PermUse, model.PermCreative)

	if !f.svc.Change(p, model.Creative, "Command").OK() {
		t.Fatalf("change failed")
	}
	got := f.out.Drain()
	if len(got) != 2 || got[0].Key != protocol.NoticeModeChanged || got[0].Args["mode"] != "Creative" {
		t.Fatalf("notices=%+v", got)
	}
	if !got[1].Broadcast || got[1].Key != protocol.NoticeModeChangedBroadcast || got[1].Args["old_mode"] != "Survival" || got[1].Args["player"] != "alex" {
		t.Fatalf("broadcast=%+v", got[1])
	}

	f.now = t0.Add(10 * time.Second)
	if f.svc.Change(p, model.Survival, "Command").OK() {
		t.Fatalf("change during cooldown reported ok")
	}
	got = f.out.Drain()
	if len(got) != 1 || got[0].Key != protocol.NoticeCooldown || got[0].Args["time"] != "20" {
		t.Fatalf("cooldown notices=%+v", got)
	}

	if !f.svc.Change(p, model.Creative, "Command").OK() {
		t.Fatalf("already-in-mode should report ok")
	}
	if got = f.out.Drain(); len(got) != 1 || got[0].Key != protocol.NoticeAlreadyInMode {
		t.Fatalf("notices=%+v", got)
	}

	if f.svc.Change(newPlayer("bob"), model.Creative, "Command").OK() {
		t.Fatalf("denied change reported ok")
	}
	if got = f.out.Drain(); len(got) != 1 || got[0].Key != protocol.NoticeNoPermission {
		t.Fatalf("notices=%+v", got)
	}
}

func TestForceMode_NotifiesTarget(t *testing.T) {
	f := newFixture(t, nil)
	p := newPlayer("alex")
	if !f.svc.ForceMode(p, model.Creative, "", "Steve").OK() {
		t.Fatalf("force failed")
	}
	got := f.out.Drain()
	if len(got) != 1 || got[0].To != p.ID() || got[0].Key != protocol.NoticeModeForced || got[0].Args["admin"] != "Steve" {
		t.Fatalf("notices=%+v", got)
	}
}

func TestOutcome_Codes(t *testing.T) {
	for _, o := range []Outcome{AlreadyInMode, OnCooldown, Denied} {
		if !protocol.IsKnownCode(o.Code()) {
			t.Fatalf("%s code %q unknown", o, o.Code())
		}
	}
	if Success.Code() != "" {
		t.Fatalf("success code=%q", Success.Code())
	}
}
