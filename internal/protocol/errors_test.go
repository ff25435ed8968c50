package protocol

import "testing"

func TestIsKnownCode(t *testing.T) {
	cases := []string{
		"",
		ErrProtoBadRequest,
		ErrBadRequest,
		ErrNoPermission,
		ErrCooldown,
		ErrAlreadyInMode,
		ErrUnknownPlayer,
		ErrInvalidMode,
		ErrBlocked,
		ErrInternal,
		ErrInventoryStale,
	}
	for _, c := range cases {
		if !IsKnownCode(c) {
			t.Fatalf("expected known code: %q", c)
		}
	}
	if IsKnownCode("E_NOT_DEFINED") {
		t.Fatalf("expected unknown code rejected")
	}
}

func TestIsKnownNotice(t *testing.T) {
	for k := range knownNotices {
		if !IsKnownNotice(k) {
			t.Fatalf("expected known notice: %q", k)
		}
	}
	if IsKnownNotice("creative-flying-blocked") {
		t.Fatalf("expected unknown notice rejected")
	}
}
