// Package ws is the host bridge: one websocket per game server process.
package ws

import (
	"context"
	"crypto/subtle"
	"encoding/json"
	"log"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"github.com/Staticpast/ModeManager/internal/protocol"
)

// Bridge is what the transport needs from the engine.
type Bridge interface {
	Dispatch(ctx context.Context, ev protocol.EventMsg) (protocol.DecisionMsg, error)
	Call(ctx context.Context, c protocol.CallMsg) (protocol.ResultMsg, error)
	Attach(ch chan<- protocol.ApplyMsg) (detach func())
	// DropPlayers marks every player offline. It is called when the last
	// host session ends.
	DropPlayers(ctx context.Context) error
}

type Options struct {
	// Token, when set, must match HELLO auth.token.
	Token string
	// Welcome fills the server-side WELCOME fields for each new session.
	Welcome func() protocol.WelcomeMsg
	// OnConnect is called after each successful handshake.
	OnConnect func(serverName string)
}

type Server struct {
	bridge Bridge
	log    *log.Logger
	opts   Options

	upgrader websocket.Upgrader

	// sessionMu is held across DropPlayers so a host connecting meanwhile
	// cannot have its JOINs dropped.
	sessionMu sync.Mutex
	sessions  int
}

func NewServer(b Bridge, logger *log.Logger, opts Options) *Server {
	return &Server{
		bridge: b,
		log:    logger,
		opts:   opts,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  64 * 1024,
			WriteBufferSize: 64 * 1024,
			// The bridge is server-to-server; there is no browser origin to check.
			CheckOrigin: func(r *http.Request) bool { return true },
		},
	}
}

const (
	writeWait   = 5 * time.Second
	readWait    = 60 * time.Second
	callTimeout = 10 * time.Second
	outQueue    = 256
)

func (s *Server) Handler() http.HandlerFunc {
	return func(rw http.ResponseWriter, r *http.Request) {
		conn, err := s.upgrader.Upgrade(rw, r, nil)
		if err != nil {
			return
		}
		defer conn.Close()

		welcome, ok := s.handshake(conn)
		if !ok {
			return
		}
		s.log.Printf("ws: host connected session=%s remote=%s", welcome.SessionID, r.RemoteAddr)
		s.sessionStarted()
		defer s.sessionEnded()

		ctx, cancel := context.WithCancel(r.Context())
		defer cancel()

		out := make(chan []byte, outQueue)
		send := func(v any) {
			b, err := json.Marshal(v)
			if err != nil {
				s.log.Printf("ws: encode %T: %v", v, err)
				return
			}
			select {
			case out <- b:
			case <-ctx.Done():
			}
		}

		// Writer goroutine.
		go func() {
			for {
				select {
				case <-ctx.Done():
					return
				case b := <-out:
					_ = conn.SetWriteDeadline(time.Now().Add(writeWait))
					if err := conn.WriteMessage(websocket.TextMessage, b); err != nil {
						cancel()
						return
					}
				}
			}
		}()

		// Pushed APPLY messages.
		apply := make(chan protocol.ApplyMsg, 64)
		detach := s.bridge.Attach(apply)
		defer detach()
		go func() {
			for {
				select {
				case <-ctx.Done():
					return
				case msg := <-apply:
					send(msg)
				}
			}
		}()

		// Reader loop. Messages are handled in order.
		for {
			_ = conn.SetReadDeadline(time.Now().Add(readWait))
			_, msg, err := conn.ReadMessage()
			if err != nil {
				break
			}
			if reply := s.handle(ctx, msg); reply != nil {
				send(reply)
			}
		}
		s.log.Printf("ws: host disconnected session=%s", welcome.SessionID)
	}
}

func (s *Server) sessionStarted() {
	s.sessionMu.Lock()
	s.sessions++
	s.sessionMu.Unlock()
}

func (s *Server) sessionEnded() {
	s.sessionMu.Lock()
	defer s.sessionMu.Unlock()
	s.sessions--
	if s.sessions > 0 {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), callTimeout)
	defer cancel()
	if err := s.bridge.DropPlayers(ctx); err != nil {
		s.log.Printf("ws: drop players: %v", err)
	}
}

// seqOf recovers seq from a message that failed validation, for the reply.
func seqOf(msg []byte) uint64 {
	var v struct {
		Seq uint64 `json:"seq"`
	}
	_ = json.Unmarshal(msg, &v)
	return v.Seq
}

func (s *Server) handle(ctx context.Context, msg []byte) any {
	base, err := protocol.DecodeBase(msg)
	if err != nil {
		s.log.Printf("ws: undecodable message: %v", err)
		return nil
	}
	switch base.Type {
	case protocol.TypeEvent:
		if err := protocol.Validate(base.Type, msg); err != nil {
			s.log.Printf("ws: invalid EVENT: %v", err)
			return decisionFailure(seqOf(msg), protocol.ErrProtoBadRequest)
		}
		var ev protocol.EventMsg
		if err := json.Unmarshal(msg, &ev); err != nil {
			return decisionFailure(seqOf(msg), protocol.ErrProtoBadRequest)
		}
		cctx, cancel := context.WithTimeout(ctx, callTimeout)
		defer cancel()
		d, err := s.bridge.Dispatch(cctx, ev)
		if err != nil {
			s.log.Printf("ws: dispatch seq=%d: %v", ev.Seq, err)
			return decisionFailure(ev.Seq, protocol.ErrInternal)
		}
		return d

	case protocol.TypeCall:
		if err := protocol.Validate(base.Type, msg); err != nil {
			s.log.Printf("ws: invalid CALL: %v", err)
			return resultFailure(seqOf(msg), protocol.ErrProtoBadRequest, err.Error())
		}
		var c protocol.CallMsg
		if err := json.Unmarshal(msg, &c); err != nil {
			return resultFailure(seqOf(msg), protocol.ErrProtoBadRequest, err.Error())
		}
		cctx, cancel := context.WithTimeout(ctx, callTimeout)
		defer cancel()
		res, err := s.bridge.Call(cctx, c)
		if err != nil {
			s.log.Printf("ws: call seq=%d: %v", c.Seq, err)
			return resultFailure(c.Seq, protocol.ErrInternal, err.Error())
		}
		return res
	}
	s.log.Printf("ws: ignoring %q message", base.Type)
	return nil
}

// decisionFailure lets the host go ahead: a broken bridge must not freeze
// the game.
func decisionFailure(seq uint64, code string) protocol.DecisionMsg {
	return protocol.DecisionMsg{
		Type:            protocol.TypeDecision,
		ProtocolVersion: protocol.Version,
		Seq:             seq,
		Allow:           true,
		Code:            code,
	}
}

func resultFailure(seq uint64, code, message string) protocol.ResultMsg {
	return protocol.ResultMsg{
		Type:            protocol.TypeResult,
		ProtocolVersion: protocol.Version,
		Seq:             seq,
		Code:            code,
		Message:         message,
	}
}

func closeWith(conn *websocket.Conn, reason string) {
	_ = conn.WriteControl(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.ClosePolicyViolation, reason), time.Now().Add(time.Second))
}

func (s *Server) handshake(conn *websocket.Conn) (protocol.WelcomeMsg, bool) {
	_ = conn.SetReadDeadline(time.Now().Add(5 * time.Second))
	_, msg, err := conn.ReadMessage()
	if err != nil {
		return protocol.WelcomeMsg{}, false
	}

	base, err := protocol.DecodeBase(msg)
	if err != nil || base.Type != protocol.TypeHello {
		closeWith(conn, "expected HELLO")
		return protocol.WelcomeMsg{}, false
	}
	if err := protocol.Validate(protocol.TypeHello, msg); err != nil {
		s.log.Printf("ws: invalid HELLO: %v", err)
		closeWith(conn, "bad HELLO")
		return protocol.WelcomeMsg{}, false
	}
	var hello protocol.HelloMsg
	if err := json.Unmarshal(msg, &hello); err != nil {
		closeWith(conn, "bad HELLO")
		return protocol.WelcomeMsg{}, false
	}
	if s.opts.Token != "" {
		token := ""
		if hello.Auth != nil {
			token = strings.TrimSpace(hello.Auth.Token)
		}
		if subtle.ConstantTimeCompare([]byte(token), []byte(s.opts.Token)) != 1 {
			s.log.Printf("ws: rejected host %q: bad token", hello.ServerName)
			closeWith(conn, "unauthorized")
			return protocol.WelcomeMsg{}, false
		}
	}

	var w protocol.WelcomeMsg
	if s.opts.Welcome != nil {
		w = s.opts.Welcome()
	}
	w.Type = protocol.TypeWelcome
	w.ProtocolVersion = protocol.Version
	w.SessionID = uuid.NewString()
	if err := writeJSON(conn, w); err != nil {
		return protocol.WelcomeMsg{}, false
	}
	if s.opts.OnConnect != nil {
		s.opts.OnConnect(hello.ServerName)
	}
	return w, true
}

func writeJSON(conn *websocket.Conn, v any) error {
	b, err := json.Marshal(v)
	if err != nil {
		return err
	}
	_ = conn.SetWriteDeadline(time.Now().Add(writeWait))
	return conn.WriteMessage(websocket.TextMessage, b)
}
