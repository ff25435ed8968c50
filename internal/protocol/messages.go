package protocol

import "github.com/Staticpast/ModeManager/internal/sim/model"

// HELLO (host -> server)
type HelloMsg struct {
	Type            string     `json:"type"`
	ProtocolVersion string     `json:"protocol_version"`
	ServerName      string     `json:"server_name"`
	Auth            *HelloAuth `json:"auth,omitempty"`
}

type HelloAuth struct {
	Token string `json:"token,omitempty"`
}

// WELCOME (server -> host)
type WelcomeMsg struct {
	Type            string `json:"type"`
	ProtocolVersion string `json:"protocol_version"`
	SessionID       string `json:"session_id"`
	TickRateHz      int    `json:"tick_rate_hz"`
	CooldownSeconds int    `json:"cooldown_seconds"`
	DefaultMode     string `json:"default_mode"`
}

// Event kinds.
const (
	KindJoin          = "JOIN"
	KindQuit          = "QUIT"
	KindBlockPlace    = "BLOCK_PLACE"
	KindBlockBreak    = "BLOCK_BREAK"
	KindInteract      = "INTERACT"
	KindBucketEmpty   = "BUCKET_EMPTY"
	KindBucketFill    = "BUCKET_FILL"
	KindFrameInteract = "FRAME_INTERACT"
	KindFrameDamage   = "FRAME_DAMAGE"
	KindFrameBreak    = "FRAME_BREAK"
	KindFrameUpdate   = "FRAME_UPDATE"
	KindEntitySpawn   = "ENTITY_SPAWN"
	KindItemDrop      = "ITEM_DROP"
	KindDeath         = "DEATH"
	KindRespawn       = "RESPAWN"
	KindModeChange    = "MODE_CHANGE"
	// KindInventory only reports a player's inventory, usually in answer
	// to an Update with Refresh set.
	KindInventory = "INVENTORY"
)

// Interact actions.
const (
	ActionRightClickBlock = "RIGHT_CLICK_BLOCK"
	ActionRightClickAir   = "RIGHT_CLICK_AIR"
	ActionLeftClickBlock  = "LEFT_CLICK_BLOCK"
	ActionLeftClickAir    = "LEFT_CLICK_AIR"
)

// Inventory mirrors host.InventoryData field for field.
type Inventory struct {
	Contents   model.Slots     `json:"contents"`
	Armor      model.Slots     `json:"armor"`
	OffHand    model.ItemStack `json:"offhand"`
	EnderChest model.Slots     `json:"enderchest"`
}

// PlayerRef is the host's current view of a player. Absent permissions or
// inventory leave the server's copy untouched.
type PlayerRef struct {
	ID          string     `json:"id"`
	Name        string     `json:"name,omitempty"`
	Mode        string     `json:"mode,omitempty"`
	Permissions []string   `json:"permissions,omitempty"`
	Inventory   *Inventory `json:"inventory,omitempty"`
	// Held is the main-hand item, sent with ENTITY_SPAWN candidates.
	Held *model.ItemStack `json:"held,omitempty"`
}

type Block struct {
	World string `json:"world"`
	X     int    `json:"x"`
	Y     int    `json:"y"`
	Z     int    `json:"z"`
	Type  string `json:"type,omitempty"`
}

type Frame struct {
	ID   string           `json:"id"`
	Item *model.ItemStack `json:"item,omitempty"`
}

type Entity struct {
	ID   string `json:"id,omitempty"`
	Type string `json:"type"`
}

// EVENT (host -> server). The host holds the event until the DECISION arrives.
type EventMsg struct {
	Type            string           `json:"type"`
	ProtocolVersion string           `json:"protocol_version"`
	Seq             uint64           `json:"seq"`
	Kind            string           `json:"kind"`
	Player          *PlayerRef       `json:"player,omitempty"`
	Action          string           `json:"action,omitempty"`
	Block           *Block           `json:"block,omitempty"`
	Item            *model.ItemStack `json:"item,omitempty"`
	Frame           *Frame           `json:"frame,omitempty"`
	Entity          *Entity          `json:"entity,omitempty"`
	// Nearby lists players within spawn range of an unattributed spawn.
	Nearby  []PlayerRef `json:"nearby,omitempty"`
	NewMode string      `json:"new_mode,omitempty"`
}

type Notice struct {
	To        string            `json:"to,omitempty"`
	Broadcast bool              `json:"broadcast,omitempty"`
	Key       string            `json:"key"`
	Args      map[string]string `json:"args,omitempty"`
}

// Update is a write the server made to a player's live mode or inventory.
// Refresh asks the host to send an INVENTORY event for the player.
type Update struct {
	PlayerID  string     `json:"player_id"`
	Mode      string     `json:"mode,omitempty"`
	Inventory *Inventory `json:"inventory,omitempty"`
	Refresh   bool       `json:"refresh,omitempty"`
}

// DECISION (server -> host)
type DecisionMsg struct {
	Type            string   `json:"type"`
	ProtocolVersion string   `json:"protocol_version"`
	Seq             uint64   `json:"seq"`
	Allow           bool     `json:"allow"`
	Code            string   `json:"code,omitempty"`
	ClearDrops      bool     `json:"clear_drops,omitempty"`
	Notices         []Notice `json:"notices,omitempty"`
	Updates         []Update `json:"updates,omitempty"`
}

// Call operations.
const (
	OpChangeMode = "CHANGE_MODE"
	OpForceMode  = "FORCE_MODE"
	OpState      = "STATE"
	OpHistory    = "HISTORY"
	OpCooldown   = "COOLDOWN"
	OpBlockOwner = "BLOCK_OWNER"
	OpFrameOwner = "FRAME_OWNER"
	OpList       = "LIST"
)

// CALL (host -> server): the command layer's entry points.
type CallMsg struct {
	Type            string `json:"type"`
	ProtocolVersion string `json:"protocol_version"`
	Seq             uint64 `json:"seq"`
	Op              string `json:"op"`
	// Player is a uuid or an online player's name.
	Player  string `json:"player,omitempty"`
	Mode    string `json:"mode,omitempty"`
	Reason  string `json:"reason,omitempty"`
	Admin   string `json:"admin,omitempty"`
	Block   *Block `json:"block,omitempty"`
	FrameID string `json:"frame_id,omitempty"`
	// Target is the live view of the player a CHANGE_MODE or FORCE_MODE
	// switches, inventory included. The snapshot is taken from it.
	Target *PlayerRef `json:"target,omitempty"`
}

// RESULT (server -> host)
type ResultMsg struct {
	Type            string   `json:"type"`
	ProtocolVersion string   `json:"protocol_version"`
	Seq             uint64   `json:"seq"`
	OK              bool     `json:"ok"`
	Code            string   `json:"code,omitempty"`
	Message         string   `json:"message,omitempty"`
	Data            any      `json:"data,omitempty"`
	Notices         []Notice `json:"notices,omitempty"`
	Updates         []Update `json:"updates,omitempty"`
}

// APPLY (server -> host): output of deferred work not tied to an event.
type ApplyMsg struct {
	Type            string   `json:"type"`
	ProtocolVersion string   `json:"protocol_version"`
	Notices         []Notice `json:"notices,omitempty"`
	Updates         []Update `json:"updates,omitempty"`
}

// UserStateView is the Data of STATE and COOLDOWN results.
type UserStateView struct {
	UserID            string       `json:"user_id"`
	Name              string       `json:"name,omitempty"`
	Mode              string       `json:"mode"`
	LastSwitch        int64        `json:"last_switch"`
	InCooldown        bool         `json:"in_cooldown"`
	RemainingCooldown int64        `json:"remaining_cooldown"`
	History           []RecordView `json:"history,omitempty"`
}

type RecordView struct {
	Mode      string `json:"mode"`
	Timestamp int64  `json:"timestamp"`
	Reason    string `json:"reason"`
	Text      string `json:"text"`
}

// OwnerView is the Data of BLOCK_OWNER and FRAME_OWNER results.
type OwnerView struct {
	Tracked bool   `json:"tracked"`
	Owner   string `json:"owner,omitempty"`
}
