package engine

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"

	"github.com/Staticpast/ModeManager/internal/protocol"
	"github.com/Staticpast/ModeManager/internal/sim/host"
	"github.com/Staticpast/ModeManager/internal/sim/model"
	"github.com/Staticpast/ModeManager/internal/sim/ownership"
	"github.com/Staticpast/ModeManager/internal/sim/transition"
)

// ReasonCommand is recorded for mode changes requested through a command.
const ReasonCommand = "Command"

// stateHistory is how many records a STATE result carries.
const stateHistory = 5

func (e *Engine) handleCall(c protocol.CallMsg) protocol.ResultMsg {
	res := e.call(c)
	res.Type = protocol.TypeResult
	res.ProtocolVersion = protocol.Version
	res.Seq = c.Seq
	res.Notices, res.Updates = e.drain()
	e.debugf("call seq=%d op=%s player=%s ok=%v code=%s", c.Seq, c.Op, c.Player, res.OK, res.Code)
	return res
}

func fail(code, format string, args ...any) protocol.ResultMsg {
	return protocol.ResultMsg{Code: code, Message: fmt.Sprintf(format, args...)}
}

func (e *Engine) call(c protocol.CallMsg) protocol.ResultMsg {
	switch c.Op {
	case protocol.OpChangeMode, protocol.OpForceMode:
		p, ok := e.mirror.Lookup(c.Player)
		if !ok {
			return fail(protocol.ErrUnknownPlayer, "player %q is not online", c.Player)
		}
		target, err := model.ParseMode(c.Mode)
		if err != nil {
			return fail(protocol.ErrInvalidMode, "invalid mode %q", c.Mode)
		}
		if c.Target != nil {
			if tid, err := uuid.Parse(c.Target.ID); err != nil || tid != p.ID() {
				return fail(protocol.ErrBadRequest, "target %q is not player %q", c.Target.ID, c.Player)
			}
			e.syncPlayer(c.Target)
		}
		if !p.InventoryFresh() {
			p.RequestRefresh()
			return fail(protocol.ErrInventoryStale, "no current inventory for %s", p.Name())
		}
		var r transition.Result
		if c.Op == protocol.OpForceMode {
			r = e.svc.ForceMode(p, target, c.Reason, c.Admin)
		} else {
			reason := c.Reason
			if reason == "" {
				reason = ReasonCommand
			}
			r = e.svc.Change(p, target, reason)
		}
		return transitionResult(p, r)

	case protocol.OpState, protocol.OpHistory, protocol.OpCooldown:
		view, ok := e.userView(c.Player, c.Op)
		if !ok {
			return fail(protocol.ErrUnknownPlayer, "unknown player %q", c.Player)
		}
		return protocol.ResultMsg{OK: true, Data: view}

	case protocol.OpBlockOwner:
		if c.Block == nil {
			return fail(protocol.ErrBadRequest, "missing block")
		}
		owner, ok := e.index.BlockOwner(blockKey(c.Block))
		return protocol.ResultMsg{OK: true, Data: ownerView(owner, ok)}

	case protocol.OpFrameOwner:
		id, err := uuid.Parse(c.FrameID)
		if err != nil {
			return fail(protocol.ErrBadRequest, "bad frame id %q", c.FrameID)
		}
		owner, ok := e.index.ObjectOwner(id)
		return protocol.ResultMsg{OK: true, Data: ownerView(owner, ok)}

	case protocol.OpList:
		online := e.mirror.Online()
		views := make([]protocol.UserStateView, 0, len(online))
		for _, p := range online {
			views = append(views, e.view(p.ID(), p.Name(), e.store.Get(p.ID()), 0))
		}
		return protocol.ResultMsg{OK: true, Data: views}
	}
	return fail(protocol.ErrBadRequest, "unknown op %q", c.Op)
}

func transitionResult(p host.Player, r transition.Result) protocol.ResultMsg {
	out := protocol.ResultMsg{OK: r.OK(), Code: r.Outcome.Code()}
	switch r.Outcome {
	case transition.Success:
		out.Message = fmt.Sprintf("%s is now in %s mode", p.Name(), r.To.Key())
	case transition.AlreadyInMode:
		out.Message = fmt.Sprintf("%s is already in %s mode", p.Name(), r.To.Key())
	case transition.OnCooldown:
		out.Message = fmt.Sprintf("%s must wait %d seconds", p.Name(), r.Remaining)
	case transition.Denied:
		out.Message = fmt.Sprintf("%s may not switch to %s", p.Name(), r.To)
	}
	return out
}

// userView resolves ref (an online name or any uuid) and renders it. Users
// that were not in memory are dropped again afterwards.
func (e *Engine) userView(ref, op string) (protocol.UserStateView, bool) {
	var id uuid.UUID
	name := ""
	if p, ok := e.mirror.Lookup(ref); ok {
		id, name = p.ID(), p.Name()
	} else if parsed, err := uuid.Parse(ref); err == nil {
		id = parsed
	} else {
		return protocol.UserStateView{}, false
	}
	if !e.store.IsLoaded(id) {
		defer e.store.Evict(id)
	}
	st := e.store.Get(id)
	n := 0
	switch op {
	case protocol.OpState:
		n = stateHistory
	case protocol.OpHistory:
		n = -1
	}
	return e.view(id, name, st, n), true
}

// view renders st. history < 0 means all records, 0 none.
func (e *Engine) view(id uuid.UUID, name string, st *model.UserState, history int) protocol.UserStateView {
	now := e.now()
	cd := e.cfg.Cooldown()
	v := protocol.UserStateView{
		UserID:            id.String(),
		Name:              name,
		Mode:              string(st.CurrentMode()),
		LastSwitch:        st.LastSwitch().Unix(),
		InCooldown:        cd > 0 && st.InCooldown(now, cd),
		RemainingCooldown: 0,
	}
	if v.InCooldown {
		v.RemainingCooldown = st.RemainingCooldown(now, cd)
	}
	var recs []model.Record
	switch {
	case history < 0:
		recs = st.History()
	case history > 0:
		recs = st.Recent(history)
	}
	for _, r := range recs {
		v.History = append(v.History, protocol.RecordView{
			Mode:      string(r.Mode),
			Timestamp: r.Timestamp.Unix(),
			Reason:    r.Reason,
			Text:      r.String(),
		})
	}
	return v
}

func ownerView(owner uuid.UUID, tracked bool) protocol.OwnerView {
	if !tracked {
		return protocol.OwnerView{}
	}
	return protocol.OwnerView{Tracked: true, Owner: owner.String()}
}

// The methods below are the in-process API for code that is not the host,
// such as the admin endpoints. Writes they cause are pushed as APPLY.

// ErrInventoryStale is returned by ChangeMode and ForceMode when the host
// has not reported the player's inventory since its last other report. A
// refresh request goes out with the error; retry after the host answers.
var ErrInventoryStale = errors.New("player inventory not current")

// ErrNotOnline is returned for switches of players the host has not reported.
var ErrNotOnline = errors.New("player is not online")

// ChangeMode runs a regular switch for an online player.
func (e *Engine) ChangeMode(ctx context.Context, id uuid.UUID, target model.Mode, reason string) (transition.Result, error) {
	if reason == "" {
		reason = ReasonCommand
	}
	return e.switchMode(ctx, id, func(p *host.PlayerState) transition.Result {
		return e.svc.Change(p, target, reason)
	})
}

// ForceMode switches an online player, skipping permission and cooldown.
func (e *Engine) ForceMode(ctx context.Context, id uuid.UUID, target model.Mode, reason, admin string) (transition.Result, error) {
	return e.switchMode(ctx, id, func(p *host.PlayerState) transition.Result {
		return e.svc.ForceMode(p, target, reason, admin)
	})
}

func (e *Engine) switchMode(ctx context.Context, id uuid.UUID, run func(*host.PlayerState) transition.Result) (transition.Result, error) {
	var r transition.Result
	var failure error
	err := e.do(ctx, func() {
		p, ok := e.mirror.State(id)
		if !ok || !p.Online() {
			failure = fmt.Errorf("%w: %s", ErrNotOnline, id)
			return
		}
		if !p.InventoryFresh() {
			p.RequestRefresh()
			failure = fmt.Errorf("%w: %s", ErrInventoryStale, id)
			return
		}
		r = run(p)
		r.State = r.State.Clone()
	})
	if err != nil {
		return r, err
	}
	return r, failure
}

// State returns a copy of the user's state, loading it if needed.
func (e *Engine) State(ctx context.Context, id uuid.UUID) (*model.UserState, error) {
	var st *model.UserState
	err := e.do(ctx, func() {
		if !e.store.IsLoaded(id) {
			defer e.store.Evict(id)
		}
		st = e.store.Get(id).Clone()
	})
	return st, err
}

func (e *Engine) History(ctx context.Context, id uuid.UUID) ([]model.Record, error) {
	st, err := e.State(ctx, id)
	if err != nil {
		return nil, err
	}
	return st.History(), nil
}

func (e *Engine) IsInCooldown(ctx context.Context, id uuid.UUID) (bool, error) {
	n, err := e.RemainingCooldown(ctx, id)
	return n > 0, err
}

// RemainingCooldown is whole seconds left; 0 when cooldowns are off.
func (e *Engine) RemainingCooldown(ctx context.Context, id uuid.UUID) (int64, error) {
	var n int64
	err := e.do(ctx, func() {
		cd := e.cfg.Cooldown()
		if cd <= 0 {
			return
		}
		if !e.store.IsLoaded(id) {
			defer e.store.Evict(id)
		}
		n = e.store.Get(id).RemainingCooldown(e.now(), cd)
	})
	return n, err
}

// View renders the user the way a STATE call would.
func (e *Engine) View(ctx context.Context, id uuid.UUID, history int) (protocol.UserStateView, error) {
	var v protocol.UserStateView
	err := e.do(ctx, func() {
		name := ""
		if p, ok := e.mirror.State(id); ok {
			name = p.Name()
		}
		if !e.store.IsLoaded(id) {
			defer e.store.Evict(id)
		}
		v = e.view(id, name, e.store.Get(id), history)
	})
	return v, err
}

// List renders every online player.
func (e *Engine) List(ctx context.Context) ([]protocol.UserStateView, error) {
	var out []protocol.UserStateView
	err := e.do(ctx, func() {
		for _, p := range e.mirror.Online() {
			out = append(out, e.view(p.ID(), p.Name(), e.store.Get(p.ID()), 0))
		}
	})
	return out, err
}

// The ownership index is safe for concurrent reads, so these skip the worker.

func (e *Engine) IsTrackedBlock(k ownership.BlockKey) bool { return e.index.IsTrackedBlock(k) }

func (e *Engine) BlockOwner(k ownership.BlockKey) (uuid.UUID, bool) { return e.index.BlockOwner(k) }

func (e *Engine) IsTrackedObject(id uuid.UUID) bool { return e.index.IsTrackedObject(id) }

func (e *Engine) ObjectOwner(id uuid.UUID) (uuid.UUID, bool) { return e.index.ObjectOwner(id) }
