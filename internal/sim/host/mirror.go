package host

import (
	"sort"
	"strings"

	"github.com/google/uuid"

	"github.com/Staticpast/ModeManager/internal/sim/model"
)

// InventoryData is a full copy of a live inventory.
type InventoryData struct {
	Contents   model.Slots     `json:"contents"`
	Armor      model.Slots     `json:"armor"`
	OffHand    model.ItemStack `json:"offhand"`
	EnderChest model.Slots     `json:"enderchest"`
}

func (d InventoryData) Clone() InventoryData {
	return InventoryData{
		Contents:   d.Contents.Clone(),
		Armor:      d.Armor.Clone(),
		OffHand:    d.OffHand.Clone(),
		EnderChest: d.EnderChest.Clone(),
	}
}

// PlayerState is the mirror's copy of one player. It implements Player and
// Inventory and remembers which fields the core wrote.
type PlayerState struct {
	id     uuid.UUID
	name   string
	mode   model.Mode
	perms  map[string]bool
	online bool
	inv    InventoryData

	modeDirty bool
	invDirty  bool
	// invFresh is set while the host's latest report for this player
	// included the inventory.
	invFresh bool
	refresh  bool
}

func NewPlayerState(id uuid.UUID, name string, mode model.Mode) *PlayerState {
	return &PlayerState{
		id:     id,
		name:   name,
		mode:   mode,
		perms:  map[string]bool{},
		online: true,
		inv:    InventoryData{Armor: model.EmptyArmor()},
	}
}

func (p *PlayerState) ID() uuid.UUID        { return p.id }
func (p *PlayerState) Name() string         { return p.name }
func (p *PlayerState) Online() bool         { return p.online }
func (p *PlayerState) GameMode() model.Mode { return p.mode }
func (p *PlayerState) Inventory() Inventory { return p }

// InventoryFresh reports whether inv is what the host last reported, plus
// the core's own writes since then. Only a fresh inventory may be snapshot.
func (p *PlayerState) InventoryFresh() bool { return p.invFresh }

// RequestRefresh asks the host, through the next update, to report the
// player's inventory.
func (p *PlayerState) RequestRefresh() { p.refresh = true }

func (p *PlayerState) HasPermission(key string) bool {
	if p.perms[key] {
		return true
	}
	// "modemanager.admin" style parents grant their children.
	for k := key; ; {
		i := strings.LastIndexByte(k, '.')
		if i <= 0 {
			return p.perms["*"]
		}
		k = k[:i]
		if p.perms[k+".*"] {
			return true
		}
	}
}

// Grant is mostly for tests; the bridge replaces permissions wholesale.
func (p *PlayerState) Grant(keys ...string) {
	for _, k := range keys {
		p.perms[k] = true
	}
}

func (p *PlayerState) SetPermissions(keys []string) {
	p.perms = make(map[string]bool, len(keys))
	p.Grant(keys...)
}

func (p *PlayerState) SetGameMode(m model.Mode) {
	if p.mode == m {
		return
	}
	p.mode = m
	p.modeDirty = true
}

func (p *PlayerState) Contents() model.Slots        { return p.inv.Contents.Clone() }
func (p *PlayerState) Armor() model.Slots           { return p.inv.Armor.Clone() }
func (p *PlayerState) OffHand() model.ItemStack     { return p.inv.OffHand.Clone() }
func (p *PlayerState) EnderChest() model.Slots      { return p.inv.EnderChest.Clone() }
func (p *PlayerState) InventoryData() InventoryData { return p.inv.Clone() }

func (p *PlayerState) SetContents(s model.Slots) {
	p.inv.Contents = s.Clone()
	p.invDirty = true
}

func (p *PlayerState) SetArmor(s model.Slots) {
	armor := model.EmptyArmor()
	copy(armor, s)
	p.inv.Armor = armor
	p.invDirty = true
}

func (p *PlayerState) SetOffHand(it model.ItemStack) {
	p.inv.OffHand = it.Clone()
	p.invDirty = true
}

func (p *PlayerState) SetEnderChest(s model.Slots) {
	p.inv.EnderChest = s.Clone()
	p.invDirty = true
}

func (p *PlayerState) Clear() {
	p.inv.Contents = make(model.Slots, len(p.inv.Contents))
	p.inv.Armor = model.EmptyArmor()
	p.inv.OffHand = model.ItemStack{}
	p.invDirty = true
}

// Update is what the core changed on one player since the last drain.
type Update struct {
	PlayerID  uuid.UUID      `json:"player_id"`
	Mode      model.Mode     `json:"mode,omitempty"`
	Inventory *InventoryData `json:"inventory,omitempty"`
	Refresh   bool           `json:"refresh,omitempty"`
}

func (p *PlayerState) takeUpdate() (Update, bool) {
	if !p.modeDirty && !p.invDirty && !p.refresh {
		return Update{}, false
	}
	u := Update{PlayerID: p.id, Refresh: p.refresh}
	if p.modeDirty {
		u.Mode = p.mode
	}
	if p.invDirty {
		inv := p.inv.Clone()
		u.Inventory = &inv
	}
	p.modeDirty, p.invDirty, p.refresh = false, false, false
	return u, true
}

// PlayerSync is a partial player view sent by the host. Nil fields are kept.
type PlayerSync struct {
	ID          uuid.UUID
	Name        string
	Mode        model.Mode
	Permissions []string
	Inventory   *InventoryData
}

// Mirror is the core's view of the host. It is owned by the engine worker.
type Mirror struct {
	players map[uuid.UUID]*PlayerState
	frames  map[uuid.UUID]model.ItemStack
}

func NewMirror() *Mirror {
	return &Mirror{
		players: map[uuid.UUID]*PlayerState{},
		frames:  map[uuid.UUID]model.ItemStack{},
	}
}

// Sync merges s into the mirror and returns the player. Host-reported
// fields overwrite anything the core wrote, so pending dirty bits reset.
// A report without inventory leaves the old copy in place but marks it
// stale: the host may have changed it since.
func (m *Mirror) Sync(s PlayerSync) *PlayerState {
	p, ok := m.players[s.ID]
	if !ok {
		p = NewPlayerState(s.ID, s.Name, s.Mode)
		m.players[s.ID] = p
	}
	p.online = true
	if s.Name != "" {
		p.name = s.Name
	}
	if s.Mode.Valid() {
		p.mode = s.Mode
		p.modeDirty = false
	}
	if s.Permissions != nil {
		p.SetPermissions(s.Permissions)
	}
	if s.Inventory != nil {
		p.inv = s.Inventory.Clone()
		if len(p.inv.Armor) != model.ArmorSlots {
			armor := model.EmptyArmor()
			copy(armor, p.inv.Armor)
			p.inv.Armor = armor
		}
		p.invDirty = false
		p.refresh = false
	}
	p.invFresh = s.Inventory != nil
	return p
}

func (m *Mirror) Put(p *PlayerState) { m.players[p.id] = p }

func (m *Mirror) Remove(id uuid.UUID) { delete(m.players, id) }

func (m *Mirror) Player(id uuid.UUID) (Player, bool) {
	p, ok := m.players[id]
	if !ok || !p.online {
		return nil, false
	}
	return p, true
}

func (m *Mirror) State(id uuid.UUID) (*PlayerState, bool) {
	p, ok := m.players[id]
	return p, ok
}

// Lookup finds an online player by id string or case-insensitive name.
func (m *Mirror) Lookup(ref string) (*PlayerState, bool) {
	if id, err := uuid.Parse(ref); err == nil {
		p, ok := m.players[id]
		return p, ok && p.online
	}
	for _, p := range m.players {
		if p.online && strings.EqualFold(p.name, ref) {
			return p, true
		}
	}
	return nil, false
}

// Online lists online players sorted by name.
func (m *Mirror) Online() []*PlayerState {
	out := make([]*PlayerState, 0, len(m.players))
	for _, p := range m.players {
		if p.online {
			out = append(out, p)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].name < out[j].name })
	return out
}

func (m *Mirror) FrameItem(id uuid.UUID) (model.ItemStack, bool) {
	it, ok := m.frames[id]
	return it, ok
}

func (m *Mirror) SetFrame(id uuid.UUID, it model.ItemStack) { m.frames[id] = it.Clone() }

func (m *Mirror) RemoveFrame(id uuid.UUID) { delete(m.frames, id) }

// TakeUpdates drains pending writes, sorted by player id.
func (m *Mirror) TakeUpdates() []Update {
	var out []Update
	for _, p := range m.players {
		if u, ok := p.takeUpdate(); ok {
			out = append(out, u)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].PlayerID.String() < out[j].PlayerID.String() })
	return out
}

// Notice is one message key addressed to a player, or to everyone.
type Notice struct {
	To        uuid.UUID         `json:"to,omitempty"`
	Broadcast bool              `json:"broadcast,omitempty"`
	Key       string            `json:"key"`
	Args      map[string]string `json:"args,omitempty"`
}

// Outbox is a Notifier that buffers notices until drained.
type Outbox struct {
	notices []Notice
}

func (o *Outbox) Notify(to uuid.UUID, key string, args map[string]string) {
	o.notices = append(o.notices, Notice{To: to, Key: key, Args: args})
}

func (o *Outbox) Broadcast(key string, args map[string]string) {
	o.notices = append(o.notices, Notice{Broadcast: true, Key: key, Args: args})
}

func (o *Outbox) Drain() []Notice {
	out := o.notices
	o.notices = nil
	return out
}
