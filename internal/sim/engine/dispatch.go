package engine

import (
	"time"

	"github.com/google/uuid"

	"github.com/Staticpast/ModeManager/internal/protocol"
	"github.com/Staticpast/ModeManager/internal/sim/host"
	"github.com/Staticpast/ModeManager/internal/sim/model"
	"github.com/Staticpast/ModeManager/internal/sim/ownership"
	"github.com/Staticpast/ModeManager/internal/sim/policy"
)

// syncPlayer folds a host player view into the mirror.
func (e *Engine) syncPlayer(ref *protocol.PlayerRef) (*host.PlayerState, bool) {
	if ref == nil {
		return nil, false
	}
	id, err := uuid.Parse(ref.ID)
	if err != nil {
		return nil, false
	}
	s := host.PlayerSync{ID: id, Name: ref.Name, Permissions: ref.Permissions}
	// Modes the core does not manage (adventure, spectator) leave the
	// mirror's copy alone.
	if m, err := model.ParseMode(ref.Mode); err == nil {
		s.Mode = m
	}
	if ref.Inventory != nil {
		inv := host.InventoryData(*ref.Inventory)
		s.Inventory = &inv
	}
	_, known := e.mirror.Player(id)
	p := e.mirror.Sync(s)
	if !known {
		e.online.Store(int64(len(e.mirror.Online())))
	}
	return p, true
}

func blockKey(b *protocol.Block) ownership.BlockKey {
	return ownership.BlockKey{World: b.World, X: b.X, Y: b.Y, Z: b.Z}
}

func itemOf(it *model.ItemStack) model.ItemStack {
	if it == nil {
		return model.ItemStack{}
	}
	return *it
}

func (e *Engine) handleEvent(ev protocol.EventMsg) protocol.DecisionMsg {
	start := time.Now()
	d := e.decide(ev)
	out := protocol.DecisionMsg{
		Type:            protocol.TypeDecision,
		ProtocolVersion: protocol.Version,
		Seq:             ev.Seq,
		Allow:           d.Allow,
		Code:            d.Code,
		ClearDrops:      d.ClearDrops,
	}
	out.Notices, out.Updates = e.drain()
	e.obs.ObserveEvent(ev.Kind, d.Allow, time.Since(start))
	e.debugf("event seq=%d kind=%s allow=%v code=%s notices=%d updates=%d",
		ev.Seq, ev.Kind, out.Allow, out.Code, len(out.Notices), len(out.Updates))
	return out
}

func badEvent() policy.Decision {
	return policy.Decision{Allow: true, Code: protocol.ErrBadRequest}
}

func (e *Engine) decide(ev protocol.EventMsg) policy.Decision {
	// Entity spawns may have no player at all.
	if ev.Kind == protocol.KindEntitySpawn {
		return e.decideSpawn(ev)
	}
	if ev.Kind == protocol.KindFrameUpdate {
		return e.frameUpdate(ev)
	}

	p, ok := e.syncPlayer(ev.Player)
	if !ok {
		if ev.Kind == protocol.KindFrameBreak && ev.Frame != nil {
			return e.frameBreak(nil, ev.Frame)
		}
		e.logger.Printf("engine: event seq=%d kind=%s without a valid player", ev.Seq, ev.Kind)
		return badEvent()
	}

	switch ev.Kind {
	case protocol.KindJoin:
		e.point.OnJoin(p)
		return policy.Allow()
	case protocol.KindQuit:
		e.point.OnQuit(p)
		e.mirror.Remove(p.ID())
		e.online.Store(int64(len(e.mirror.Online())))
		return policy.Allow()
	case protocol.KindBlockPlace:
		if ev.Block == nil {
			return badEvent()
		}
		return e.point.OnBlockPlace(p, blockKey(ev.Block), ev.Block.Type, itemOf(ev.Item))
	case protocol.KindBlockBreak:
		if ev.Block == nil {
			return badEvent()
		}
		return e.point.OnBlockBreak(p, blockKey(ev.Block))
	case protocol.KindInteract:
		blockType := ""
		if ev.Block != nil {
			blockType = ev.Block.Type
		}
		return e.point.OnInteract(p, ev.Action, blockType, itemOf(ev.Item))
	case protocol.KindBucketEmpty, protocol.KindBucketFill:
		return e.point.OnBucket(p, ev.Kind == protocol.KindBucketFill, itemOf(ev.Item))
	case protocol.KindFrameInteract, protocol.KindFrameDamage:
		id, ok := e.syncFrame(ev.Frame)
		if !ok {
			return badEvent()
		}
		if ev.Kind == protocol.KindFrameInteract {
			return e.point.OnFrameInteract(p, id)
		}
		return e.point.OnFrameDamage(p, id, itemOf(ev.Frame.Item))
	case protocol.KindFrameBreak:
		if ev.Frame == nil {
			return badEvent()
		}
		return e.frameBreak(p, ev.Frame)
	case protocol.KindItemDrop:
		return e.point.OnDrop(p, itemOf(ev.Item))
	case protocol.KindDeath:
		return e.point.OnDeath(p)
	case protocol.KindRespawn:
		e.point.OnRespawn(p)
		return policy.Allow()
	case protocol.KindModeChange:
		return e.point.OnModeChange(p, ev.NewMode)
	case protocol.KindInventory:
		if ev.Player.Inventory == nil {
			return badEvent()
		}
		return policy.Allow()
	}
	e.logger.Printf("engine: unknown event kind %q", ev.Kind)
	return badEvent()
}

// syncFrame records the frame's reported content and returns its id.
func (e *Engine) syncFrame(f *protocol.Frame) (uuid.UUID, bool) {
	if f == nil {
		return uuid.Nil, false
	}
	id, err := uuid.Parse(f.ID)
	if err != nil {
		return uuid.Nil, false
	}
	if f.Item != nil {
		e.mirror.SetFrame(id, *f.Item)
	}
	return id, true
}

func (e *Engine) frameUpdate(ev protocol.EventMsg) policy.Decision {
	id, ok := e.syncFrame(ev.Frame)
	if !ok {
		return badEvent()
	}
	if ev.Frame.Item == nil {
		e.mirror.SetFrame(id, model.ItemStack{})
	}
	return policy.Allow()
}

// frameBreak handles a frame break; p is nil when no player caused it.
func (e *Engine) frameBreak(p host.Player, f *protocol.Frame) policy.Decision {
	id, ok := e.syncFrame(f)
	if !ok {
		return badEvent()
	}
	d := e.point.OnFrameBreak(p, id)
	if d.Allow {
		e.mirror.RemoveFrame(id)
	}
	return d
}

func (e *Engine) decideSpawn(ev protocol.EventMsg) policy.Decision {
	if ev.Entity == nil {
		return badEvent()
	}
	var spawner host.Player
	if ev.Player != nil {
		p, ok := e.syncPlayer(ev.Player)
		if !ok {
			return badEvent()
		}
		spawner = p
	}
	nearby := make([]policy.Nearby, 0, len(ev.Nearby))
	for i := range ev.Nearby {
		ref := &ev.Nearby[i]
		p, ok := e.syncPlayer(ref)
		if !ok {
			continue
		}
		nearby = append(nearby, policy.Nearby{Player: p, Held: itemOf(ref.Held)})
	}
	return e.point.OnEntitySpawn(ev.Entity.Type, spawner, nearby)
}
