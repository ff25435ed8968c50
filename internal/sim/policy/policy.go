// Package policy evaluates the protective rules that apply while a user is in
// creative mode, and keeps the ownership index current as objects come and go.
//
// Every handler returns a Decision. Deny rules are evaluated before any
// tracking rule, so a denied event never touches the index.
package policy

import (
	"log"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/Staticpast/ModeManager/internal/protocol"
	"github.com/Staticpast/ModeManager/internal/sim/host"
	"github.com/Staticpast/ModeManager/internal/sim/model"
	"github.com/Staticpast/ModeManager/internal/sim/ownership"
	"github.com/Staticpast/ModeManager/internal/sim/tasks"
	"github.com/Staticpast/ModeManager/internal/sim/transition"
	"github.com/Staticpast/ModeManager/internal/sim/tuning"
)

// Rule names, used in denial records and metrics.
const (
	RuleRestrictedItem       = "restricted_item"
	RuleContainerPlacement   = "container_placement"
	RuleContainerInteraction = "container_interaction"
	RuleBlockProtected       = "block_protected"
	RuleFrameProtected       = "frame_protected"
	RuleMobSpawning          = "mob_spawning"
	RuleDrop                 = "drop"
	RuleModePermission       = "mode_permission"
)

type Decision struct {
	Allow bool
	Code  string
	// ClearDrops asks the host to discard the death drops.
	ClearDrops bool
	// Rule names the deny rule that fired.
	Rule string
}

func Allow() Decision { return Decision{Allow: true} }

// Denial is one fired deny rule.
type Denial struct {
	At      time.Time
	UserID  uuid.UUID
	Name    string
	Rule    string
	Subject string
}

type Observer interface {
	ObserveDenial(Denial)
}

type Store interface {
	Get(id uuid.UUID) *model.UserState
	Save(id uuid.UUID)
	Evict(id uuid.UUID)
}

// Scheduler is the part of host.Scheduler the handlers use.
type Scheduler interface {
	RunAfter(ticks int, t host.Task)
}

// Nearby is a player standing close to an unattributed spawn, nearest first.
type Nearby struct {
	Player host.Player
	Held   model.ItemStack
}

// Point is not safe for concurrent use; the engine worker owns it.
type Point struct {
	cfg      tuning.Config
	store    Store
	index    *ownership.Index
	modes    *transition.Service
	notify   host.Notifier
	sched    Scheduler
	logger   *log.Logger
	now      func() time.Time
	observer Observer

	deathModes map[uuid.UUID]model.Mode
}

type Options struct {
	Config      tuning.Config
	Store       Store
	Index       *ownership.Index
	Transitions *transition.Service
	Notifier    host.Notifier
	Scheduler   Scheduler
	Logger      *log.Logger
	Now         func() time.Time
}

func New(opts Options) *Point {
	if opts.Now == nil {
		opts.Now = time.Now
	}
	return &Point{
		cfg:        opts.Config,
		store:      opts.Store,
		index:      opts.Index,
		modes:      opts.Transitions,
		notify:     opts.Notifier,
		sched:      opts.Scheduler,
		logger:     opts.Logger,
		now:        opts.Now,
		deathModes: map[uuid.UUID]model.Mode{},
	}
}

func (pt *Point) SetConfig(cfg tuning.Config) { pt.cfg = cfg }

func (pt *Point) SetObserver(o Observer) { pt.observer = o }

// modeOf is the stored mode, not whatever the host reports.
func (pt *Point) modeOf(p host.Player) model.Mode {
	return pt.store.Get(p.ID()).CurrentMode()
}

func (pt *Point) creative(p host.Player) bool { return pt.modeOf(p).Elevated() }

func (pt *Point) debugf(format string, args ...any) {
	if pt.cfg.Debug && pt.logger != nil {
		pt.logger.Printf("policy: "+format, args...)
	}
}

func (pt *Point) deny(p host.Player, rule, subject, notice string, args map[string]string) Decision {
	if notice != "" {
		pt.notify.Notify(p.ID(), notice, args)
	}
	pt.debugf("deny %s for %s (%s)", rule, p.Name(), subject)
	if pt.observer != nil {
		pt.observer.ObserveDenial(Denial{At: pt.now(), UserID: p.ID(), Name: p.Name(), Rule: rule, Subject: subject})
	}
	return Decision{Allow: false, Code: protocol.ErrBlocked, Rule: rule}
}

// restrictedItem denies use of item by a creative player without the bypass.
func (pt *Point) restrictedItem(p host.Player, itemType string) (Decision, bool) {
	if itemType == "" || !pt.cfg.IsRestrictedItem(itemType) || p.HasPermission(model.PermBypassItemRestrictions) {
		return Decision{}, false
	}
	kind := tuning.NormalizeKind(itemType)
	return pt.deny(p, RuleRestrictedItem, kind, protocol.NoticeCreativeItemRestricted, map[string]string{"item": model.DisplayName(kind)}), true
}

func heldType(it model.ItemStack) string {
	if it.IsEmpty() {
		return ""
	}
	return it.Type
}

// OnBlockPlace checks a placement, then records creative placements.
func (pt *Point) OnBlockPlace(p host.Player, at ownership.BlockKey, blockType string, held model.ItemStack) Decision {
	if !pt.cfg.Enabled || !pt.creative(p) {
		return Allow()
	}
	if d, denied := pt.restrictedItem(p, heldType(held)); denied {
		return d
	}
	if pt.cfg.Protection.PreventContainerBlocks && pt.cfg.IsContainer(blockType) && !p.HasPermission(model.PermBypassContainerPlacement) {
		return pt.deny(p, RuleContainerPlacement, tuning.NormalizeKind(blockType), protocol.NoticeCreativeContainerPlacementBlocked, nil)
	}
	if pt.cfg.Protection.TrackBlocks {
		if err := pt.index.RecordBlock(at, p.ID()); err != nil {
			if pt.logger != nil {
				pt.logger.Printf("policy: not tracking block placed by %s: %v", p.Name(), err)
			}
			return Allow()
		}
		pt.debugf("tracked block %s placed by %s", at, p.Name())
	}
	return Allow()
}

// OnBlockBreak protects tracked blocks from survival players and clears
// tracking when a creative player removes one.
func (pt *Point) OnBlockBreak(p host.Player, at ownership.BlockKey) Decision {
	if !pt.cfg.Enabled || !pt.cfg.Protection.TrackBlocks || !pt.index.IsTrackedBlock(at) {
		return Allow()
	}
	if !pt.creative(p) {
		return pt.deny(p, RuleBlockProtected, at.String(), protocol.NoticeCreativeBlockProtected, nil)
	}
	pt.index.ClearBlock(at)
	pt.debugf("untracked block %s broken by %s", at, p.Name())
	return Allow()
}

// OnInteract covers item use and container opening. blockType is empty when
// no block was clicked.
func (pt *Point) OnInteract(p host.Player, action, blockType string, item model.ItemStack) Decision {
	if !pt.cfg.Enabled || !pt.creative(p) {
		return Allow()
	}
	if d, denied := pt.restrictedItem(p, heldType(item)); denied {
		return d
	}
	if action != protocol.ActionRightClickBlock || blockType == "" {
		return Allow()
	}
	if pt.cfg.Protection.PreventContainerInteraction && pt.cfg.IsContainer(blockType) && !p.HasPermission(model.PermBypassContainerInteraction) {
		return pt.deny(p, RuleContainerInteraction, tuning.NormalizeKind(blockType), protocol.NoticeCreativeContainerBlocked, nil)
	}
	return Allow()
}

// OnBucket checks emptying bucket, or filling an empty one when fill is set.
func (pt *Point) OnBucket(p host.Player, fill bool, bucket model.ItemStack) Decision {
	if !pt.cfg.Enabled || !pt.creative(p) {
		return Allow()
	}
	kind := heldType(bucket)
	if fill {
		kind = "BUCKET"
	}
	if d, denied := pt.restrictedItem(p, kind); denied {
		return d
	}
	return Allow()
}

// OnFrameInteract blocks creative players from using item frames, or, when
// allowed, schedules a check that records the frame once its content lands.
func (pt *Point) OnFrameInteract(p host.Player, frame uuid.UUID) Decision {
	if !pt.cfg.Enabled || !pt.creative(p) {
		return Allow()
	}
	if pt.cfg.Protection.PreventContainerInteraction && !p.HasPermission(model.PermBypassContainerInteraction) {
		return pt.deny(p, RuleContainerInteraction, "ITEM_FRAME", protocol.NoticeCreativeContainerBlocked, nil)
	}
	if pt.cfg.Protection.TrackItemFrames {
		pt.sched.RunAfter(pt.cfg.Engine.FrameCheckDelayTicks, tasks.TrackFrame{Frame: frame, Owner: p.ID()})
	}
	return Allow()
}

// OnFrameDamage is a hit on a frame, which pops its item. Survival players
// may not take items out of tracked frames; hitting an empty one is fine.
func (pt *Point) OnFrameDamage(p host.Player, frame uuid.UUID, content model.ItemStack) Decision {
	if !pt.cfg.Enabled || !pt.cfg.Protection.TrackItemFrames || !pt.index.IsTrackedObject(frame) {
		return Allow()
	}
	if !pt.creative(p) {
		if content.IsEmpty() {
			return Allow()
		}
		return pt.deny(p, RuleFrameProtected, frame.String(), protocol.NoticeCreativeFrameProtected, nil)
	}
	pt.index.ClearObject(frame)
	pt.debugf("untracked frame %s emptied by %s", frame, p.Name())
	return Allow()
}

// OnFrameBreak handles the frame itself being removed. p is nil when nothing
// player-driven broke it.
func (pt *Point) OnFrameBreak(p host.Player, frame uuid.UUID) Decision {
	if !pt.cfg.Enabled || !pt.cfg.Protection.TrackItemFrames || !pt.index.IsTrackedObject(frame) {
		return Allow()
	}
	if p != nil && !pt.creative(p) {
		return pt.deny(p, RuleFrameProtected, frame.String(), protocol.NoticeCreativeFrameProtected, nil)
	}
	pt.index.ClearObject(frame)
	return Allow()
}

// OnEntitySpawn blocks restricted spawns caused by a creative player. The
// responsible player is spawner when known, else the first creative player
// in nearby.
func (pt *Point) OnEntitySpawn(entityType string, spawner host.Player, nearby []Nearby) Decision {
	if !pt.cfg.Enabled || !pt.cfg.Protection.PreventMobSpawning || !pt.cfg.IsRestrictedEntity(entityType) {
		return Allow()
	}
	kind := tuning.NormalizeKind(entityType)
	if spawner != nil {
		if pt.creative(spawner) && !spawner.HasPermission(model.PermBypassMobSpawning) {
			return pt.deny(spawner, RuleMobSpawning, kind, protocol.NoticeCreativeMobSpawningBlocked, nil)
		}
		return Allow()
	}
	for _, n := range nearby {
		if n.Player == nil || !pt.creative(n.Player) || n.Player.HasPermission(model.PermBypassMobSpawning) {
			continue
		}
		if egg := tuning.NormalizeKind(heldType(n.Held)); strings.HasSuffix(egg, spawnEggSuffix) {
			name := model.DisplayName(strings.TrimSuffix(egg, spawnEggSuffix))
			return pt.deny(n.Player, RuleMobSpawning, kind, protocol.NoticeCreativeSpawnEggBlocked, map[string]string{"entity": name})
		}
		return pt.deny(n.Player, RuleMobSpawning, kind, protocol.NoticeCreativeMobSpawningBlocked, nil)
	}
	return Allow()
}

const spawnEggSuffix = "_SPAWN_EGG"

func (pt *Point) OnDrop(p host.Player, item model.ItemStack) Decision {
	if !pt.cfg.Enabled || !pt.cfg.Protection.PreventDrops || !pt.creative(p) {
		return Allow()
	}
	return pt.deny(p, RuleDrop, tuning.NormalizeKind(item.Type), protocol.NoticeCreativeDropBlocked, nil)
}

// OnDeath remembers the death mode for the respawn. Creative deaths drop
// nothing, and with preservation on the live inventory becomes the creative
// snapshot.
func (pt *Point) OnDeath(p host.Player) Decision {
	st := pt.store.Get(p.ID())
	mode := st.CurrentMode()
	pt.deathModes[p.ID()] = mode
	if !pt.cfg.Enabled || !mode.Elevated() {
		return Allow()
	}
	d := Decision{Allow: true, ClearDrops: true}
	if !pt.cfg.Protection.PreserveInventoryOnDeath {
		return d
	}
	inv := p.Inventory()
	snap := &model.Snapshot{Inventory: inv.Contents()}
	if prev := st.Snapshot(model.Creative); prev != nil {
		snap.EnderChest = prev.EnderChest.Clone()
	}
	if pt.cfg.Inventories.SaveArmor {
		snap.Armor = inv.Armor()
	}
	if pt.cfg.Inventories.SaveOffHand {
		oh := inv.OffHand()
		snap.OffHand = &oh
	}
	st.SetSnapshot(model.Creative, snap)
	pt.store.Save(p.ID())
	pt.debugf("preserved creative inventory of %s on death", p.Name())
	return d
}

// OnRespawn schedules the creative inventory restore for a creative death.
func (pt *Point) OnRespawn(p host.Player) {
	mode, ok := pt.deathModes[p.ID()]
	if !ok {
		return
	}
	delete(pt.deathModes, p.ID())
	if pt.cfg.Enabled && mode.Elevated() && pt.cfg.Protection.PreserveInventoryOnDeath {
		pt.sched.RunAfter(pt.cfg.Engine.RespawnRestoreDelayTicks, tasks.RestoreInventory{Player: p.ID()})
	}
}

// OnJoin loads the user and pushes the stored mode to the host.
func (pt *Point) OnJoin(p host.Player) {
	st := pt.store.Get(p.ID())
	if p.GameMode() != st.CurrentMode() {
		p.SetGameMode(st.CurrentMode())
		pt.debugf("join: set %s to stored mode %s", p.Name(), st.CurrentMode())
	}
}

func (pt *Point) OnQuit(p host.Player) {
	pt.store.Save(p.ID())
	pt.store.Evict(p.ID())
	delete(pt.deathModes, p.ID())
}

// OnModeChange intercepts a mode change the host is about to make on its own
// and routes it through the transition service instead.
func (pt *Point) OnModeChange(p host.Player, newMode string) Decision {
	if !pt.cfg.Enabled || !p.HasPermission(model.PermUse) {
		return Allow()
	}
	target, err := model.ParseMode(newMode)
	if err != nil {
		return Allow()
	}
	if target.Elevated() && !p.HasPermission(model.PermCreative) {
		return pt.deny(p, RuleModePermission, string(target), protocol.NoticeNoPermission, nil)
	}
	if pt.modeOf(p) == target {
		return Allow()
	}
	pt.modes.Change(p, target, ReasonExternal)
	return Decision{Allow: false}
}

const ReasonExternal = "External command"

// HasDeathRecord is for status output and tests.
func (pt *Point) HasDeathRecord(id uuid.UUID) bool {
	_, ok := pt.deathModes[id]
	return ok
}
