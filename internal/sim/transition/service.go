// Package transition switches users between survival and creative and swaps
// their per-mode inventories.
package transition

import (
	"strconv"
	"time"

	"github.com/google/uuid"

	"github.com/Staticpast/ModeManager/internal/protocol"
	"github.com/Staticpast/ModeManager/internal/sim/host"
	"github.com/Staticpast/ModeManager/internal/sim/model"
	"github.com/Staticpast/ModeManager/internal/sim/tuning"
)

type Outcome int

const (
	Success Outcome = iota + 1
	AlreadyInMode
	OnCooldown
	Denied
)

func (o Outcome) String() string {
	switch o {
	case Success:
		return "success"
	case AlreadyInMode:
		return "already_in_mode"
	case OnCooldown:
		return "on_cooldown"
	case Denied:
		return "denied"
	}
	return "unknown"
}

// Code maps the outcome onto a wire error code ("" for success).
func (o Outcome) Code() string {
	switch o {
	case AlreadyInMode:
		return protocol.ErrAlreadyInMode
	case OnCooldown:
		return protocol.ErrCooldown
	case Denied:
		return protocol.ErrNoPermission
	}
	return ""
}

type Result struct {
	Outcome Outcome
	From    model.Mode
	To      model.Mode
	// Remaining is whole seconds of cooldown left; set for OnCooldown.
	Remaining int64
	State     *model.UserState
}

// OK reports outcomes that need no retry: Success and AlreadyInMode.
func (r Result) OK() bool { return r.Outcome == Success || r.Outcome == AlreadyInMode }

// Event describes one transition attempt, whatever its outcome.
type Event struct {
	At         time.Time
	UserID     uuid.UUID
	Name       string
	From       model.Mode
	To         model.Mode
	Reason     string
	Outcome    Outcome
	Remaining  int64
	Privileged bool
	Admin      string
}

type Observer interface {
	ObserveTransition(Event)
}

type Store interface {
	Get(id uuid.UUID) *model.UserState
	Save(id uuid.UUID)
}

// Service is not safe for concurrent use; the engine worker owns it.
type Service struct {
	store    Store
	cfg      tuning.Config
	now      func() time.Time
	notify   host.Notifier
	observer Observer
}

func NewService(store Store, cfg tuning.Config, notify host.Notifier, now func() time.Time) *Service {
	if now == nil {
		now = time.Now
	}
	return &Service{store: store, cfg: cfg, notify: notify, now: now}
}

func (s *Service) SetConfig(cfg tuning.Config) { s.cfg = cfg }

func (s *Service) SetObserver(o Observer) { s.observer = o }

// Request is the regular path: permission and cooldown checked.
func (s *Service) Request(p host.Player, target model.Mode, reason string) Result {
	return s.transition(p, target, reason, false, "")
}

// Force skips permission and cooldown checks. A no-op force is still
// AlreadyInMode and records nothing.
func (s *Service) Force(p host.Player, target model.Mode, reason, admin string) Result {
	if admin == "" {
		admin = "Console"
	}
	forced := "Forced by " + admin
	if reason != "" {
		forced += ": " + reason
	}
	return s.transition(p, target, forced, true, admin)
}

func (s *Service) transition(p host.Player, target model.Mode, reason string, privileged bool, admin string) Result {
	now := s.now()
	st := s.store.Get(p.ID())
	from := st.CurrentMode()
	res := Result{From: from, To: target, State: st}

	switch {
	case !target.Valid():
		res.Outcome = Denied
	case from == target:
		res.Outcome = AlreadyInMode
	case !privileged && !s.permitted(p, target):
		res.Outcome = Denied
	case !privileged && s.cfg.ModeSwitching.CooldownSeconds > 0 && st.InCooldown(now, s.cfg.Cooldown()):
		res.Outcome = OnCooldown
		res.Remaining = st.RemainingCooldown(now, s.cfg.Cooldown())
	default:
		inv := p.Inventory()
		st.SetSnapshot(from, s.capture(inv))
		st.Switch(target, now, reason)
		s.apply(inv, target, st.Snapshot(target))
		p.SetGameMode(target)
		s.store.Save(p.ID())
		res.Outcome = Success
	}

	if s.observer != nil {
		s.observer.ObserveTransition(Event{
			At:         now,
			UserID:     p.ID(),
			Name:       p.Name(),
			From:       from,
			To:         target,
			Reason:     reason,
			Outcome:    res.Outcome,
			Remaining:  res.Remaining,
			Privileged: privileged,
			Admin:      admin,
		})
	}
	return res
}

func (s *Service) permitted(p host.Player, target model.Mode) bool {
	if !p.HasPermission(model.PermUse) {
		return false
	}
	return !target.Elevated() || p.HasPermission(model.PermCreative)
}

func (s *Service) capture(inv host.Inventory) *model.Snapshot {
	flags := s.cfg.Inventories
	snap := &model.Snapshot{Inventory: inv.Contents()}
	if flags.SaveArmor {
		snap.Armor = inv.Armor()
	}
	if flags.SaveOffHand {
		oh := inv.OffHand()
		snap.OffHand = &oh
	}
	if flags.SeparateEnderChest {
		snap.EnderChest = inv.EnderChest()
	}
	return snap
}

// apply writes the target mode's snapshot to the live inventory. A target
// without a snapshot starts empty. Ender storage with no snapshot is
// emptied too, so one mode never sees the other's ender items.
func (s *Service) apply(inv host.Inventory, target model.Mode, snap *model.Snapshot) {
	flags := s.cfg.Inventories
	inv.Clear()
	clearOnly := target.Elevated() && flags.ClearOnCreative
	if !clearOnly && snap != nil {
		inv.SetContents(snap.Inventory)
		if flags.SaveArmor && snap.Armor != nil {
			inv.SetArmor(snap.Armor)
		}
		if flags.SaveOffHand && snap.OffHand != nil {
			inv.SetOffHand(*snap.OffHand)
		}
	}
	if flags.SeparateEnderChest {
		if snap != nil && snap.EnderChest != nil {
			inv.SetEnderChest(snap.EnderChest)
		} else {
			inv.SetEnderChest(make(model.Slots, len(inv.EnderChest())))
		}
	}
}

// Change runs Request and tells the user how it went.
func (s *Service) Change(p host.Player, target model.Mode, reason string) Result {
	res := s.Request(p, target, reason)
	switch res.Outcome {
	case AlreadyInMode:
		s.notify.Notify(p.ID(), protocol.NoticeAlreadyInMode, nil)
	case OnCooldown:
		s.notify.Notify(p.ID(), protocol.NoticeCooldown, map[string]string{"time": strconv.FormatInt(res.Remaining, 10)})
	case Denied:
		s.notify.Notify(p.ID(), protocol.NoticeNoPermission, nil)
	case Success:
		s.notify.Notify(p.ID(), protocol.NoticeModeChanged, map[string]string{"mode": displayMode(target)})
		s.broadcast(p, res)
	}
	return res
}

// ForceMode runs Force and tells the target user. The admin's
// acknowledgment is the caller's job.
func (s *Service) ForceMode(p host.Player, target model.Mode, reason, admin string) Result {
	res := s.Force(p, target, reason, admin)
	if res.Outcome == Success {
		if admin == "" {
			admin = "Console"
		}
		s.notify.Notify(p.ID(), protocol.NoticeModeForced, map[string]string{"mode": displayMode(target), "admin": admin})
		s.broadcast(p, res)
	}
	return res
}

func (s *Service) broadcast(p host.Player, res Result) {
	if !s.cfg.ModeSwitching.BroadcastChanges {
		return
	}
	s.notify.Broadcast(protocol.NoticeModeChangedBroadcast, map[string]string{
		"player":   p.Name(),
		"old_mode": displayMode(res.From),
		"mode":     displayMode(res.To),
	})
}

func displayMode(m model.Mode) string { return model.DisplayName(string(m)) }
