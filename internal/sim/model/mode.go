package model

import (
	"fmt"
	"strings"
)

// Mode is the per-user play mode. Creative is the elevated mode, Survival the restricted one.
type Mode string

const (
	Survival Mode = "SURVIVAL"
	Creative Mode = "CREATIVE"
)

// ParseMode accepts host spellings ("creative", "Survival", " CREATIVE ").
func ParseMode(s string) (Mode, error) {
	switch Mode(strings.ToUpper(strings.TrimSpace(s))) {
	case Survival:
		return Survival, nil
	case Creative:
		return Creative, nil
	}
	return "", fmt.Errorf("unknown mode %q", s)
}

func (m Mode) Valid() bool { return m == Survival || m == Creative }

// Elevated reports whether the mode grants unrestricted building.
func (m Mode) Elevated() bool { return m == Creative }

// Key is the lower-case section name used in persisted user documents.
func (m Mode) Key() string { return strings.ToLower(string(m)) }

func (m Mode) String() string { return string(m) }

// Other returns the opposite mode.
func (m Mode) Other() Mode {
	if m == Creative {
		return Survival
	}
	return Creative
}

// Permission keys checked against the host.
const (
	PermUse        = "modemanager.use"
	PermCreative   = "modemanager.creative"
	PermAdmin      = "modemanager.admin"
	PermAdminList  = "modemanager.admin.list"
	PermAdminCheck = "modemanager.admin.check"
	PermAdminForce = "modemanager.admin.force"

	PermBypassContainerPlacement   = "modemanager.bypass.containerplacement"
	PermBypassContainerInteraction = "modemanager.bypass.containerinteraction"
	PermBypassItemRestrictions     = "modemanager.bypass.itemrestrictions"
	PermBypassMobSpawning          = "modemanager.bypass.mobspawning"
)
