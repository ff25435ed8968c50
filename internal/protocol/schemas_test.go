package protocol_test

import (
	"encoding/json"
	"testing"

	"github.com/Staticpast/ModeManager/internal/protocol"
)

const sampleUUID = "3f1c8f0a-2b7e-4a5d-9c61-0d8e7b6a5f40"

func TestValidate_AcceptsSamples(t *testing.T) {
	samples := []struct {
		typ string
		raw string
	}{
		{protocol.TypeHello, `{"type":"HELLO","protocol_version":"1.0","server_name":"lobby"}`},
		{protocol.TypeEvent, `{"type":"EVENT","seq":1,"kind":"JOIN","player":{"id":"` + sampleUUID + `","name":"Alex","mode":"SURVIVAL"}}`},
		{protocol.TypeEvent, `{"type":"EVENT","seq":2,"kind":"BLOCK_PLACE","player":{"id":"` + sampleUUID + `"},"block":{"world":"world","x":10,"y":64,"z":-3,"type":"STONE"}}`},
		{protocol.TypeEvent, `{"type":"EVENT","seq":3,"kind":"ENTITY_SPAWN","entity":{"type":"ZOMBIE"},"nearby":[{"id":"` + sampleUUID + `"}]}`},
		{protocol.TypeEvent, `{"type":"EVENT","seq":4,"kind":"FRAME_BREAK","frame":{"id":"` + sampleUUID + `"}}`},
		{protocol.TypeEvent, `{"type":"EVENT","seq":5,"kind":"DEATH","player":{"id":"` + sampleUUID + `","inventory":{"contents":[{"type":"DIRT","amount":3}],"armor":[{},{},{},{}]}}}`},
		{protocol.TypeEvent, `{"type":"EVENT","seq":6,"kind":"INVENTORY","player":{"id":"` + sampleUUID + `","inventory":{"contents":[]}}}`},
		{protocol.TypeCall, `{"type":"CALL","seq":9,"op":"CHANGE_MODE","player":"Alex","mode":"creative","target":{"id":"` + sampleUUID + `","inventory":{"contents":[{"type":"DIAMOND","amount":1}]}}}`},
		{protocol.TypeCall, `{"type":"CALL","seq":10,"op":"BLOCK_OWNER","block":{"world":"world","x":1,"y":2,"z":3}}`},
		{protocol.TypeCall, `{"type":"CALL","seq":11,"op":"LIST"}`},
	}
	for _, s := range samples {
		if err := protocol.Validate(s.typ, []byte(s.raw)); err != nil {
			t.Fatalf("validate %s: %v", s.raw, err)
		}
	}
}

func TestValidate_RejectsBadMessages(t *testing.T) {
	bad := []struct {
		typ string
		raw string
	}{
		{protocol.TypeHello, `{"type":"HELLO","protocol_version":"2.0","server_name":"lobby"}`},
		{protocol.TypeHello, `{"type":"HELLO","protocol_version":"1.0"}`},
		{protocol.TypeEvent, `{"type":"EVENT","seq":1,"kind":"TELEPORT","player":{"id":"` + sampleUUID + `"}}`},
		{protocol.TypeEvent, `{"type":"EVENT","seq":1,"kind":"BLOCK_PLACE","player":{"id":"` + sampleUUID + `"}}`},
		{protocol.TypeEvent, `{"type":"EVENT","seq":1,"kind":"JOIN","player":{"id":"not-a-uuid"}}`},
		{protocol.TypeEvent, `{"type":"EVENT","seq":1,"kind":"BLOCK_BREAK","player":{"id":"` + sampleUUID + `"},"block":{"world":"a,b","x":1,"y":2,"z":3}}`},
		{protocol.TypeCall, `{"type":"CALL","seq":1,"op":"FORCE_MODE","player":"Alex"}`},
		{protocol.TypeCall, `{"type":"CALL","seq":1,"op":"CHANGE_MODE","player":"Alex","mode":"CREATIVE"}`},
		{protocol.TypeCall, `{"type":"CALL","seq":1,"op":"FORCE_MODE","player":"Alex","mode":"CREATIVE","target":{"id":"` + sampleUUID + `"}}`},
		{protocol.TypeEvent, `{"type":"EVENT","seq":1,"kind":"INVENTORY","player":{"id":"` + sampleUUID + `"}}`},
		{protocol.TypeCall, `{"type":"CALL","seq":1,"op":"FRAME_OWNER"}`},
		{protocol.TypeCall, `{"type":"CALL","seq":-1,"op":"LIST"}`},
	}
	for _, b := range bad {
		if err := protocol.Validate(b.typ, []byte(b.raw)); err == nil {
			t.Fatalf("expected error for %s", b.raw)
		}
	}
}

func TestValidate_ServerMessagesUnchecked(t *testing.T) {
	b, _ := json.Marshal(protocol.DecisionMsg{Type: protocol.TypeDecision, Seq: 1, Allow: true})
	if err := protocol.Validate(protocol.TypeDecision, b); err != nil {
		t.Fatalf("decision: %v", err)
	}
}

func TestEventMsg_DecodesHostPayload(t *testing.T) {
	raw := `{"type":"EVENT","protocol_version":"1.0","seq":7,"kind":"INTERACT","action":"RIGHT_CLICK_BLOCK",
	  "player":{"id":"` + sampleUUID + `","permissions":["modemanager.use"]},
	  "block":{"world":"world","x":0,"y":70,"z":0,"type":"CHEST"},
	  "item":{"type":"LAVA_BUCKET","amount":1}}`
	var ev protocol.EventMsg
	if err := json.Unmarshal([]byte(raw), &ev); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if ev.Seq != 7 || ev.Kind != protocol.KindInteract || ev.Block == nil || ev.Block.Type != "CHEST" {
		t.Fatalf("got %+v", ev)
	}
	if ev.Item == nil || ev.Item.Type != "LAVA_BUCKET" || ev.Player.Inventory != nil {
		t.Fatalf("item=%+v inventory=%+v", ev.Item, ev.Player.Inventory)
	}
}
