package engine

import (
	"time"

	"github.com/Staticpast/ModeManager/internal/sim/policy"
	"github.com/Staticpast/ModeManager/internal/sim/transition"
)

// Observer sees every transition attempt and every denial. Observers run on
// the worker and must not block.
type Observer interface {
	transition.Observer
	policy.Observer
}

// EventObserver is optionally implemented by observers that also want a
// per-event timing.
type EventObserver interface {
	ObserveEvent(kind string, allow bool, took time.Duration)
}

type fanout []Observer

func (f fanout) ObserveTransition(ev transition.Event) {
	for _, o := range f {
		o.ObserveTransition(ev)
	}
}

func (f fanout) ObserveDenial(d policy.Denial) {
	for _, o := range f {
		o.ObserveDenial(d)
	}
}

func (f fanout) ObserveEvent(kind string, allow bool, took time.Duration) {
	for _, o := range f {
		if eo, ok := o.(EventObserver); ok {
			eo.ObserveEvent(kind, allow, took)
		}
	}
}
