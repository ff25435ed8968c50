// Package engine runs the single worker that owns all mode state. Host
// events, command calls, deferred tasks and config reloads are all applied
// on that worker, one at a time.
package engine

import (
	"context"
	"errors"
	"log"
	"sync"
	"sync/atomic"
	"time"

	"github.com/Staticpast/ModeManager/internal/protocol"
	"github.com/Staticpast/ModeManager/internal/sim/host"
	"github.com/Staticpast/ModeManager/internal/sim/ownership"
	"github.com/Staticpast/ModeManager/internal/sim/policy"
	"github.com/Staticpast/ModeManager/internal/sim/store"
	"github.com/Staticpast/ModeManager/internal/sim/tasks"
	"github.com/Staticpast/ModeManager/internal/sim/transition"
	"github.com/Staticpast/ModeManager/internal/sim/tuning"
)

var ErrStopped = errors.New("engine stopped")

type Options struct {
	Config    tuning.Config
	Store     *store.Store
	Index     *ownership.Index
	Logger    *log.Logger
	Now       func() time.Time
	Observers []Observer
}

type eventReq struct {
	ev   protocol.EventMsg
	resp chan protocol.DecisionMsg
}

type callReq struct {
	call protocol.CallMsg
	resp chan protocol.ResultMsg
}

type execReq struct {
	fn   func()
	done chan struct{}
}

type Engine struct {
	cfg    tuning.Config
	store  *store.Store
	index  *ownership.Index
	logger *log.Logger
	now    func() time.Time

	mirror *host.Mirror
	outbox *host.Outbox
	queue  *tasks.Queue
	svc    *transition.Service
	point  *policy.Point
	obs    fanout

	inbox  chan eventReq
	calls  chan callReq
	exec   chan execReq
	reload chan tuning.Config
	stop   chan struct{}
	done   chan struct{}

	async sync.WaitGroup

	sinkMu  sync.Mutex
	sinks   map[uint64]chan<- protocol.ApplyMsg
	sinkSeq uint64

	online       atomic.Int64
	lastAutosave time.Time
}

func New(opts Options) *Engine {
	if opts.Now == nil {
		opts.Now = time.Now
	}
	e := &Engine{
		cfg:    opts.Config,
		store:  opts.Store,
		index:  opts.Index,
		logger: opts.Logger,
		now:    opts.Now,
		mirror: host.NewMirror(),
		outbox: &host.Outbox{},
		queue:  &tasks.Queue{},
		obs:    fanout(opts.Observers),
		inbox:  make(chan eventReq, 256),
		calls:  make(chan callReq, 64),
		exec:   make(chan execReq, 16),
		reload: make(chan tuning.Config, 1),
		stop:   make(chan struct{}),
		done:   make(chan struct{}),
		sinks:  map[uint64]chan<- protocol.ApplyMsg{},
	}
	e.svc = transition.NewService(e.store, e.cfg, e.outbox, e.now)
	e.svc.SetObserver(e.obs)
	e.point = policy.New(policy.Options{
		Config:      e.cfg,
		Store:       e.store,
		Index:       e.index,
		Transitions: e.svc,
		Notifier:    e.outbox,
		Scheduler:   e.queue,
		Logger:      e.logger,
		Now:         e.now,
	})
	e.point.SetObserver(e.obs)
	return e
}

// Run processes requests until ctx is done or Stop is called, then saves
// everything. It returns nil on Stop.
func (e *Engine) Run(ctx context.Context) error {
	defer close(e.done)
	hz := e.cfg.Engine.TickRateHz
	if hz <= 0 {
		hz = 20
	}
	ticker := time.NewTicker(time.Second / time.Duration(hz))
	defer ticker.Stop()
	e.lastAutosave = e.now()

	var err error
loop:
	for {
		select {
		case <-ctx.Done():
			err = ctx.Err()
			break loop
		case <-e.stop:
			break loop
		case req := <-e.inbox:
			req.resp <- e.handleEvent(req.ev)
		case req := <-e.calls:
			req.resp <- e.handleCall(req.call)
		case req := <-e.exec:
			req.fn()
			e.publish()
			close(req.done)
		case cfg := <-e.reload:
			e.applyConfig(cfg)
		case <-ticker.C:
			e.tick()
		}
	}
	e.shutdown()
	return err
}

func (e *Engine) Stop() {
	select {
	case <-e.stop:
	default:
		close(e.stop)
	}
}

func (e *Engine) stopped() bool {
	select {
	case <-e.done:
		return true
	default:
		return false
	}
}

// Done is closed once Run has returned and state is saved.
func (e *Engine) Done() <-chan struct{} { return e.done }

// Reload swaps in cfg on the worker. A reload still pending is replaced.
func (e *Engine) Reload(cfg tuning.Config) {
	for {
		select {
		case e.reload <- cfg:
			return
		default:
		}
		select {
		case <-e.reload:
		default:
		}
	}
}

func (e *Engine) applyConfig(cfg tuning.Config) {
	if cfg.Engine.TickRateHz != e.cfg.Engine.TickRateHz {
		e.logger.Printf("engine: tick-rate-hz change takes effect on restart")
	}
	e.cfg = cfg
	e.svc.SetConfig(cfg)
	e.point.SetConfig(cfg)
	e.store.SetDefaultMode(cfg.DefaultMode)
	e.logger.Printf("engine: config reloaded")
}

func (e *Engine) tick() {
	for _, t := range e.queue.Advance() {
		e.point.RunTask(e.mirror, t)
	}
	e.publish()

	every := e.cfg.AutosaveInterval()
	if every > 0 && e.now().Sub(e.lastAutosave) >= every {
		e.lastAutosave = e.now()
		e.autosave()
	}
}

// autosave encodes the index on the worker and writes it off the worker.
func (e *Engine) autosave() {
	enc, err := e.index.Encode()
	if err != nil {
		e.logger.Printf("engine: encode ownership index: %v", err)
		return
	}
	e.RunAsync(func() {
		if err := e.index.Write(enc); err != nil {
			e.logger.Printf("engine: autosave ownership index: %v", err)
		}
	})
}

// RunAsync runs fn on its own goroutine. Shutdown waits for it.
func (e *Engine) RunAsync(fn func()) {
	e.async.Add(1)
	go func() {
		defer e.async.Done()
		fn()
	}()
}

func (e *Engine) shutdown() {
	e.store.SaveAll()
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := e.store.Flush(ctx); err != nil {
		e.logger.Printf("engine: flush user documents: %v", err)
	}
	e.async.Wait()
	if err := e.index.Persist(); err != nil {
		e.logger.Printf("engine: persist ownership index: %v", err)
	}
}

// Attach registers a channel for APPLY messages: output of deferred tasks
// and of calls that did not come from the host. Sends never block; a full
// channel drops the message.
func (e *Engine) Attach(ch chan<- protocol.ApplyMsg) (detach func()) {
	e.sinkMu.Lock()
	e.sinkSeq++
	id := e.sinkSeq
	e.sinks[id] = ch
	e.sinkMu.Unlock()
	return func() {
		e.sinkMu.Lock()
		delete(e.sinks, id)
		e.sinkMu.Unlock()
	}
}

// publish pushes any pending notices and updates to attached hosts.
func (e *Engine) publish() {
	notices, updates := e.drain()
	if len(notices) == 0 && len(updates) == 0 {
		return
	}
	msg := protocol.ApplyMsg{Type: protocol.TypeApply, ProtocolVersion: protocol.Version, Notices: notices, Updates: updates}
	e.sinkMu.Lock()
	defer e.sinkMu.Unlock()
	if len(e.sinks) == 0 {
		e.logger.Printf("engine: no host attached; dropped %d notices, %d updates", len(notices), len(updates))
		return
	}
	for _, ch := range e.sinks {
		select {
		case ch <- msg:
		default:
			e.logger.Printf("engine: host outbox full; dropped apply")
		}
	}
}

// drain collects what the worker produced since the last drain.
func (e *Engine) drain() ([]protocol.Notice, []protocol.Update) {
	var notices []protocol.Notice
	for _, n := range e.outbox.Drain() {
		w := protocol.Notice{Broadcast: n.Broadcast, Key: n.Key, Args: n.Args}
		if !n.Broadcast {
			w.To = n.To.String()
		}
		notices = append(notices, w)
	}
	var updates []protocol.Update
	for _, u := range e.mirror.TakeUpdates() {
		w := protocol.Update{PlayerID: u.PlayerID.String(), Mode: string(u.Mode), Refresh: u.Refresh}
		if u.Inventory != nil {
			inv := protocol.Inventory(*u.Inventory)
			w.Inventory = &inv
		}
		updates = append(updates, w)
	}
	return notices, updates
}

// do runs fn on the worker and waits for it.
func (e *Engine) do(ctx context.Context, fn func()) error {
	req := execReq{fn: fn, done: make(chan struct{})}
	if e.stopped() {
		return ErrStopped
	}
	select {
	case e.exec <- req:
	case <-e.done:
		return ErrStopped
	case <-ctx.Done():
		return ctx.Err()
	}
	select {
	case <-req.done:
		return nil
	case <-e.done:
		return ErrStopped
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Dispatch hands one host event to the worker and waits for the decision.
func (e *Engine) Dispatch(ctx context.Context, ev protocol.EventMsg) (protocol.DecisionMsg, error) {
	req := eventReq{ev: ev, resp: make(chan protocol.DecisionMsg, 1)}
	if e.stopped() {
		return protocol.DecisionMsg{}, ErrStopped
	}
	select {
	case e.inbox <- req:
	case <-e.done:
		return protocol.DecisionMsg{}, ErrStopped
	case <-ctx.Done():
		return protocol.DecisionMsg{}, ctx.Err()
	}
	select {
	case d := <-req.resp:
		return d, nil
	case <-e.done:
		return protocol.DecisionMsg{}, ErrStopped
	case <-ctx.Done():
		return protocol.DecisionMsg{}, ctx.Err()
	}
}

// Call runs one command-layer request from the host.
func (e *Engine) Call(ctx context.Context, c protocol.CallMsg) (protocol.ResultMsg, error) {
	req := callReq{call: c, resp: make(chan protocol.ResultMsg, 1)}
	if e.stopped() {
		return protocol.ResultMsg{}, ErrStopped
	}
	select {
	case e.calls <- req:
	case <-e.done:
		return protocol.ResultMsg{}, ErrStopped
	case <-ctx.Done():
		return protocol.ResultMsg{}, ctx.Err()
	}
	select {
	case r := <-req.resp:
		return r, nil
	case <-e.done:
		return protocol.ResultMsg{}, ErrStopped
	case <-ctx.Done():
		return protocol.ResultMsg{}, ctx.Err()
	}
}

// Online is the number of players the host has reported online.
func (e *Engine) Online() int { return int(e.online.Load()) }

// DropPlayers runs the quit path for every online player: their state is
// saved and evicted. The bridge calls it once no host is connected, since
// QUIT events for those players will never arrive.
func (e *Engine) DropPlayers(ctx context.Context) error {
	return e.do(ctx, func() {
		online := e.mirror.Online()
		for _, p := range online {
			e.point.OnQuit(p)
			e.mirror.Remove(p.ID())
		}
		e.online.Store(0)
		if len(online) > 0 {
			e.logger.Printf("engine: no host attached; dropped %d players", len(online))
		}
	})
}

func (e *Engine) debugf(format string, args ...any) {
	if e.cfg.Debug {
		e.logger.Printf("engine: "+format, args...)
	}
}
