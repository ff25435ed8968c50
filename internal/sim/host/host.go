// Package host describes what the core needs from the game server runtime.
//
// The bridge keeps a Mirror of the runtime's players and item frames current
// from inbound events; the core reads and writes the mirror on its worker and
// the bridge ships the resulting writes back as updates.
package host

import (
	"github.com/google/uuid"

	"github.com/Staticpast/ModeManager/internal/sim/model"
)

// Inventory is the live inventory of an online player.
type Inventory interface {
	Contents() model.Slots
	SetContents(model.Slots)
	Armor() model.Slots
	SetArmor(model.Slots)
	OffHand() model.ItemStack
	SetOffHand(model.ItemStack)
	EnderChest() model.Slots
	SetEnderChest(model.Slots)
	// Clear empties contents, armor and off-hand. Ender storage is untouched.
	Clear()
}

type Player interface {
	ID() uuid.UUID
	Name() string
	HasPermission(key string) bool
	GameMode() model.Mode
	SetGameMode(model.Mode)
	Inventory() Inventory
	Online() bool
}

// World answers lookups made when a deferred task runs.
type World interface {
	Player(id uuid.UUID) (Player, bool)
	FrameItem(id uuid.UUID) (model.ItemStack, bool)
}

type Notifier interface {
	Notify(to uuid.UUID, key string, args map[string]string)
	Broadcast(key string, args map[string]string)
}

// Task is a deferred unit of work. Tasks carry ids, never live references.
type Task interface {
	TaskName() string
}

type Scheduler interface {
	RunAfter(ticks int, task Task)
	RunAsync(fn func())
}
