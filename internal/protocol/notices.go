package protocol

// Notice keys. The host owns the wording; placeholders are passed as args:
// cooldown takes time, mode-changed takes mode, mode-forced takes mode and
// admin, mode-changed-broadcast takes player, old_mode and mode,
// creative-item-restricted takes item and creative-spawn-egg-blocked takes entity.
const (
	NoticeAlreadyInMode                     = "already-in-mode"
	NoticeCooldown                          = "cooldown"
	NoticeModeChanged                       = "mode-changed"
	NoticeModeForced                        = "mode-forced"
	NoticeModeChangedBroadcast              = "mode-changed-broadcast"
	NoticeNoPermission                      = "no-permission"
	NoticeCreativeBlockProtected            = "creative-block-protected"
	NoticeCreativeFrameProtected            = "creative-item-frame-protected"
	NoticeCreativeContainerBlocked          = "creative-container-blocked"
	NoticeCreativeContainerPlacementBlocked = "creative-container-placement-blocked"
	NoticeCreativeItemRestricted            = "creative-item-restricted"
	NoticeCreativeDropBlocked               = "creative-drop-blocked"
	NoticeCreativeMobSpawningBlocked        = "creative-mob-spawning-blocked"
	NoticeCreativeSpawnEggBlocked           = "creative-spawn-egg-blocked"
	NoticeInventoryRestored                 = "inventory-restored"
	NoticePlayerNotFound                    = "player-not-found"
	NoticeInvalidMode                       = "invalid-mode"
)

var knownNotices = map[string]struct{}{
	NoticeAlreadyInMode:                     {},
	NoticeCooldown:                          {},
	NoticeModeChanged:                       {},
	NoticeModeForced:                        {},
	NoticeModeChangedBroadcast:              {},
	NoticeNoPermission:                      {},
	NoticeCreativeBlockProtected:            {},
	NoticeCreativeFrameProtected:            {},
	NoticeCreativeContainerBlocked:          {},
	NoticeCreativeContainerPlacementBlocked: {},
	NoticeCreativeItemRestricted:            {},
	NoticeCreativeDropBlocked:               {},
	NoticeCreativeMobSpawningBlocked:        {},
	NoticeCreativeSpawnEggBlocked:           {},
	NoticeInventoryRestored:                 {},
	NoticePlayerNotFound:                    {},
	NoticeInvalidMode:                       {},
}

func IsKnownNotice(key string) bool {
	_, ok := knownNotices[key]
	return ok
}
