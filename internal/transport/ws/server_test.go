package ws

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gorilla/websocket"

	"github.com/Staticpast/ModeManager/internal/protocol"
)

type fakeBridge struct {
	mu     sync.Mutex
	events []protocol.EventMsg
	calls  []protocol.CallMsg
	sinks  []chan<- protocol.ApplyMsg
	fail   bool
	drops  int
}

func (b *fakeBridge) Dispatch(_ context.Context, ev protocol.EventMsg) (protocol.DecisionMsg, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.fail {
		return protocol.DecisionMsg{}, errors.New("stopped")
	}
	b.events = append(b.events, ev)
	return protocol.DecisionMsg{Type: protocol.TypeDecision, ProtocolVersion: protocol.Version, Seq: ev.Seq, Allow: ev.Kind != protocol.KindItemDrop, Code: ""}, nil
}

func (b *fakeBridge) Call(_ context.Context, c protocol.CallMsg) (protocol.ResultMsg, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.calls = append(b.calls, c)
	return protocol.ResultMsg{Type: protocol.TypeResult, ProtocolVersion: protocol.Version, Seq: c.Seq, OK: true, Message: c.Op}, nil
}

func (b *fakeBridge) Attach(ch chan<- protocol.ApplyMsg) func() {
	b.mu.Lock()
	b.sinks = append(b.sinks, ch)
	b.mu.Unlock()
	return func() {}
}

func (b *fakeBridge) DropPlayers(context.Context) error {
	b.mu.Lock()
	b.drops++
	b.mu.Unlock()
	return nil
}

func (b *fakeBridge) dropCount() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.drops
}

func (b *fakeBridge) push(msg protocol.ApplyMsg) bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	for _, ch := range b.sinks {
		ch <- msg
	}
	return len(b.sinks) > 0
}

func startServer(t *testing.T, b Bridge, opts Options) string {
	t.Helper()
	srv := httptest.NewServer(NewServer(b, log.New(io.Discard, "", 0), opts).Handler())
	t.Cleanup(srv.Close)
	return "ws" + strings.TrimPrefix(srv.URL, "http")
}

func dial(t *testing.T, url string) *websocket.Conn {
	t.Helper()
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	t.Cleanup(func() { _ = conn.Close() })
	_ = conn.SetReadDeadline(time.Now().Add(5 * time.Second))
	return conn
}

func hello(t *testing.T, conn *websocket.Conn, token string) protocol.WelcomeMsg {
	t.Helper()
	h := protocol.HelloMsg{Type: protocol.TypeHello, ProtocolVersion: protocol.Version, ServerName: "lobby"}
	if token != "" {
		h.Auth = &protocol.HelloAuth{Token: token}
	}
	if err := conn.WriteJSON(h); err != nil {
		t.Fatalf("write hello: %v", err)
	}
	var w protocol.WelcomeMsg
	if err := conn.ReadJSON(&w); err != nil {
		t.Fatalf("read welcome: %v", err)
	}
	return w
}

func TestHandshake_Welcome(t *testing.T) {
	connected := make(chan string, 1)
	url := startServer(t, &fakeBridge{}, Options{
		Welcome: func() protocol.WelcomeMsg {
			return protocol.WelcomeMsg{TickRateHz: 20, CooldownSeconds: 30, DefaultMode: "SURVIVAL"}
		},
		OnConnect: func(name string) { connected <- name },
	})
	w := hello(t, dial(t, url), "")
	if w.Type != protocol.TypeWelcome || w.SessionID == "" || w.TickRateHz != 20 || w.CooldownSeconds != 30 || w.DefaultMode != "SURVIVAL" {
		t.Fatalf("welcome=%+v", w)
	}
	select {
	case name := <-connected:
		if name != "lobby" {
			t.Fatalf("connected name=%q want lobby", name)
		}
	case <-time.After(time.Second):
		t.Fatalf("OnConnect not called")
	}
}

func TestHandshake_Rejects(t *testing.T) {
	url := startServer(t, &fakeBridge{}, Options{Token: "s3cret"})

	for _, tc := range []struct {
		name string
		msg  any
	}{
		{"not hello", map[string]any{"type": "EVENT", "seq": 1, "kind": "JOIN"}},
		{"bad version", protocol.HelloMsg{Type: protocol.TypeHello, ProtocolVersion: "2.0", ServerName: "x"}},
		{"bad token", protocol.HelloMsg{Type: protocol.TypeHello, ProtocolVersion: protocol.Version, ServerName: "x", Auth: &protocol.HelloAuth{Token: "nope"}}},
	} {
		t.Run(tc.name, func(t *testing.T) {
			conn := dial(t, url)
			if err := conn.WriteJSON(tc.msg); err != nil {
				t.Fatalf("write: %v", err)
			}
			_, _, err := conn.ReadMessage()
			if !websocket.IsCloseError(err, websocket.ClosePolicyViolation) {
				t.Fatalf("read err=%v want policy violation close", err)
			}
		})
	}

	w := hello(t, dial(t, url), "s3cret")
	if w.SessionID == "" {
		t.Fatalf("good token refused")
	}
}

func TestEventAndCall_RoundTrip(t *testing.T) {
	b := &fakeBridge{}
	conn := dial(t, startServer(t, b, Options{}))
	hello(t, conn, "")

	ev := `{"type":"EVENT","protocol_version":"1.0","seq":7,"kind":"ITEM_DROP",` +
		`"player":{"id":"6f1c1f0e-3c55-4c39-9d53-4a3f3c0c9b11","name":"Steve","mode":"CREATIVE"},` +
		`"item":{"type":"DIAMOND","amount":1}}`
	if err := conn.WriteMessage(websocket.TextMessage, []byte(ev)); err != nil {
		t.Fatalf("write event: %v", err)
	}
	var d protocol.DecisionMsg
	if err := conn.ReadJSON(&d); err != nil {
		t.Fatalf("read decision: %v", err)
	}
	if d.Type != protocol.TypeDecision || d.Seq != 7 || d.Allow {
		t.Fatalf("decision=%+v", d)
	}

	call := `{"type":"CALL","protocol_version":"1.0","seq":8,"op":"STATE","player":"Steve"}`
	if err := conn.WriteMessage(websocket.TextMessage, []byte(call)); err != nil {
		t.Fatalf("write call: %v", err)
	}
	var r protocol.ResultMsg
	if err := conn.ReadJSON(&r); err != nil {
		t.Fatalf("read result: %v", err)
	}
	if r.Seq != 8 || !r.OK || r.Message != protocol.OpState {
		t.Fatalf("result=%+v", r)
	}

	b.mu.Lock()
	defer b.mu.Unlock()
	if len(b.events) != 1 || b.events[0].Player.Name != "Steve" || b.events[0].Item.Type != "DIAMOND" {
		t.Fatalf("bridge saw %+v", b.events)
	}
}

func TestInvalidMessages_AnsweredWithProtoBadRequest(t *testing.T) {
	b := &fakeBridge{}
	conn := dial(t, startServer(t, b, Options{}))
	hello(t, conn, "")

	// BLOCK_BREAK without a block fails the schema.
	if err := conn.WriteMessage(websocket.TextMessage, []byte(`{"type":"EVENT","seq":3,"kind":"BLOCK_BREAK","player":{"id":"6f1c1f0e-3c55-4c39-9d53-4a3f3c0c9b11"}}`)); err != nil {
		t.Fatalf("write: %v", err)
	}
	var d protocol.DecisionMsg
	if err := conn.ReadJSON(&d); err != nil {
		t.Fatalf("read: %v", err)
	}
	if d.Seq != 3 || !d.Allow || d.Code != protocol.ErrProtoBadRequest {
		t.Fatalf("decision=%+v want allow with %s", d, protocol.ErrProtoBadRequest)
	}

	if err := conn.WriteMessage(websocket.TextMessage, []byte(`{"type":"CALL","seq":4,"op":"CHANGE_MODE"}`)); err != nil {
		t.Fatalf("write: %v", err)
	}
	var r protocol.ResultMsg
	if err := conn.ReadJSON(&r); err != nil {
		t.Fatalf("read: %v", err)
	}
	if r.Seq != 4 || r.OK || r.Code != protocol.ErrProtoBadRequest {
		t.Fatalf("result=%+v", r)
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	if len(b.events) != 0 || len(b.calls) != 0 {
		t.Fatalf("invalid messages reached the bridge")
	}
}

func TestDispatchFailure_AllowsWithInternal(t *testing.T) {
	b := &fakeBridge{fail: true}
	conn := dial(t, startServer(t, b, Options{}))
	hello(t, conn, "")
	if err := conn.WriteMessage(websocket.TextMessage, []byte(`{"type":"EVENT","seq":1,"kind":"JOIN","player":{"id":"6f1c1f0e-3c55-4c39-9d53-4a3f3c0c9b11"}}`)); err != nil {
		t.Fatalf("write: %v", err)
	}
	var d protocol.DecisionMsg
	if err := conn.ReadJSON(&d); err != nil {
		t.Fatalf("read: %v", err)
	}
	if !d.Allow || d.Code != protocol.ErrInternal {
		t.Fatalf("decision=%+v want allow with %s", d, protocol.ErrInternal)
	}
}

func TestApply_Forwarded(t *testing.T) {
	b := &fakeBridge{}
	conn := dial(t, startServer(t, b, Options{}))
	hello(t, conn, "")

	deadline := time.Now().Add(2 * time.Second)
	msg := protocol.ApplyMsg{Type: protocol.TypeApply, ProtocolVersion: protocol.Version, Notices: []protocol.Notice{{To: "6f1c1f0e-3c55-4c39-9d53-4a3f3c0c9b11", Key: protocol.NoticeInventoryRestored}}}
	for !b.push(msg) {
		if time.Now().After(deadline) {
			t.Fatalf("server never attached")
		}
		time.Sleep(5 * time.Millisecond)
	}
	_, raw, err := conn.ReadMessage()
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	var got protocol.ApplyMsg
	if err := json.Unmarshal(raw, &got); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if got.Type != protocol.TypeApply || len(got.Notices) != 1 || got.Notices[0].Key != protocol.NoticeInventoryRestored {
		t.Fatalf("apply=%+v", got)
	}
}

func waitFor(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(3 * time.Second)
	for !cond() {
		if time.Now().After(deadline) {
			t.Fatalf("timed out waiting for %s", what)
		}
		time.Sleep(10 * time.Millisecond)
	}
}

func TestDisconnect_LastSessionDropsPlayers(t *testing.T) {
	b := &fakeBridge{}
	url := startServer(t, b, Options{})
	first, second := dial(t, url), dial(t, url)
	hello(t, first, "")
	hello(t, second, "")

	_ = first.Close()
	// The other host is still attached: nothing may be dropped.
	time.Sleep(100 * time.Millisecond)
	if n := b.dropCount(); n != 0 {
		t.Fatalf("drops=%d with a host still connected", n)
	}
	_ = second.Close()
	waitFor(t, "players dropped", func() bool { return b.dropCount() == 1 })
}
