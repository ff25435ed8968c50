package policy

import (
	"github.com/Staticpast/ModeManager/internal/protocol"
	"github.com/Staticpast/ModeManager/internal/sim/host"
	"github.com/Staticpast/ModeManager/internal/sim/model"
	"github.com/Staticpast/ModeManager/internal/sim/tasks"
)

// RunTask runs a deferred task scheduled by one of the handlers. Tasks
// whose subject has gone away do nothing.
func (pt *Point) RunTask(world host.World, t host.Task) {
	switch t := t.(type) {
	case tasks.TrackFrame:
		pt.trackFrame(world, t)
	case tasks.RestoreInventory:
		pt.restoreInventory(world, t)
	default:
		if pt.logger != nil {
			pt.logger.Printf("policy: unknown task %s", t.TaskName())
		}
	}
}

func (pt *Point) trackFrame(world host.World, t tasks.TrackFrame) {
	if !pt.cfg.Protection.TrackItemFrames {
		return
	}
	item, ok := world.FrameItem(t.Frame)
	if !ok || item.IsEmpty() {
		return
	}
	pt.index.RecordObject(t.Frame, t.Owner)
	pt.debugf("tracked frame %s holding %s for %s", t.Frame, item.Type, t.Owner)
}

func (pt *Point) restoreInventory(world host.World, t tasks.RestoreInventory) {
	p, ok := world.Player(t.Player)
	if !ok || p.GameMode() != model.Creative {
		return
	}
	snap := pt.store.Get(t.Player).Snapshot(model.Creative)
	if snap == nil {
		return
	}
	inv := p.Inventory()
	if snap.Inventory != nil {
		inv.SetContents(snap.Inventory)
	}
	if pt.cfg.Inventories.SaveArmor && snap.Armor != nil {
		inv.SetArmor(snap.Armor)
	}
	if pt.cfg.Inventories.SaveOffHand && snap.OffHand != nil {
		inv.SetOffHand(*snap.OffHand)
	}
	pt.notify.Notify(p.ID(), protocol.NoticeInventoryRestored, map[string]string{"mode": model.Creative.Key()})
	pt.debugf("restored creative inventory of %s after respawn", p.Name())
}
