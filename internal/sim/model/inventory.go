package model

import "strings"

// ArmorSlots is the fixed size of the armor section of a snapshot.
const ArmorSlots = 4

// ItemStack is one inventory slot as the host reports it. The zero value is an empty slot.
type ItemStack struct {
	Type   string            `yaml:"type,omitempty" json:"type,omitempty"`
	Amount int               `yaml:"amount,omitempty" json:"amount,omitempty"`
	Meta   map[string]string `yaml:"meta,omitempty" json:"meta,omitempty"`
}

func (s ItemStack) IsEmpty() bool {
	return s.Type == "" || s.Type == "AIR" || s.Amount <= 0
}

func (s ItemStack) Clone() ItemStack {
	out := s
	if s.Meta != nil {
		out.Meta = make(map[string]string, len(s.Meta))
		for k, v := range s.Meta {
			out.Meta[k] = v
		}
	}
	return out
}

// Slots is an ordered slot sequence. Empty slots keep their position.
type Slots []ItemStack

func (s Slots) Clone() Slots {
	if s == nil {
		return nil
	}
	out := make(Slots, len(s))
	for i, it := range s {
		out[i] = it.Clone()
	}
	return out
}

// Equal compares slot contents, treating every empty slot alike.
func (s Slots) Equal(o Slots) bool {
	if len(s) != len(o) {
		return false
	}
	for i := range s {
		if !sameStack(s[i], o[i]) {
			return false
		}
	}
	return true
}

func sameStack(a, b ItemStack) bool {
	if a.IsEmpty() || b.IsEmpty() {
		return a.IsEmpty() == b.IsEmpty()
	}
	if a.Type != b.Type || a.Amount != b.Amount || len(a.Meta) != len(b.Meta) {
		return false
	}
	for k, v := range a.Meta {
		if b.Meta[k] != v {
			return false
		}
	}
	return true
}

// EmptyArmor returns four empty armor slots.
func EmptyArmor() Slots { return make(Slots, ArmorSlots) }

// Snapshot is a captured copy of a user's inventory for one mode.
// Nil sections were not captured (their config flag was off).
type Snapshot struct {
	Inventory  Slots      `yaml:"inventory,omitempty"`
	Armor      Slots      `yaml:"armor,omitempty"`
	EnderChest Slots      `yaml:"enderchest,omitempty"`
	OffHand    *ItemStack `yaml:"offhand,omitempty"`
}

func (s *Snapshot) Clone() *Snapshot {
	if s == nil {
		return nil
	}
	out := &Snapshot{
		Inventory:  s.Inventory.Clone(),
		Armor:      s.Armor.Clone(),
		EnderChest: s.EnderChest.Clone(),
	}
	if s.OffHand != nil {
		oh := s.OffHand.Clone()
		out.OffHand = &oh
	}
	return out
}

// DisplayName turns a material id such as LAVA_BUCKET into "Lava Bucket".
func DisplayName(material string) string {
	parts := strings.Split(strings.ToLower(strings.TrimSpace(material)), "_")
	out := parts[:0]
	for _, p := range parts {
		if p == "" {
			continue
		}
		out = append(out, strings.ToUpper(p[:1])+p[1:])
	}
	return strings.Join(out, " ")
}
