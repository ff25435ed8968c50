package protocol

const (
	// Protocol/transport validation.
	ErrProtoBadRequest = "E_PROTO_BAD_REQUEST"

	// Call/rule layer.
	ErrBadRequest     = "E_BAD_REQUEST"
	ErrNoPermission   = "E_NO_PERMISSION"
	ErrCooldown       = "E_COOLDOWN"
	ErrAlreadyInMode  = "E_ALREADY_IN_MODE"
	ErrUnknownPlayer  = "E_UNKNOWN_PLAYER"
	ErrInvalidMode    = "E_INVALID_MODE"
	ErrBlocked        = "E_BLOCKED"
	ErrInternal       = "E_INTERNAL"
	ErrInventoryStale = "E_INVENTORY_STALE"
)

var knownCodes = map[string]struct{}{
	ErrProtoBadRequest: {},
	ErrBadRequest:      {},
	ErrNoPermission:    {},
	ErrCooldown:        {},
	ErrAlreadyInMode:   {},
	ErrUnknownPlayer:   {},
	ErrInvalidMode:     {},
	ErrBlocked:         {},
	ErrInternal:        {},
	ErrInventoryStale:  {},
}

func IsKnownCode(code string) bool {
	if code == "" {
		return true
	}
	_, ok := knownCodes[code]
	return ok
}
