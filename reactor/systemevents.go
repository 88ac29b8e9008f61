package reactor

import (
	"sort"
	"sync"

	"github.com/joeycumines/reactor/deferred"
)

// EventPhase names when, relative to the other registered triggers for the
// same event, a system event trigger runs.
type EventPhase int

const (
	PhaseBefore EventPhase = iota
	PhaseDuring
	PhaseAfter
)

// TriggerID identifies a registered system event trigger so it can be
// removed later.
type TriggerID uint64

type systemTrigger struct {
	id    TriggerID
	event string
	phase EventPhase
	fn    func(args ...any) *deferred.Deferred
}

// systemEvents implements the Reactor's named, phased trigger registry:
// the three fixed phases Twisted's reactor uses for its own
// startup/shutdown events ("before", "during", "after").
type systemEvents struct {
	mu       sync.Mutex
	triggers []systemTrigger
	nextID   TriggerID
}

// AddSystemEventTrigger registers fn to run when event fires, in the given
// phase. Triggers within the same phase for the same event run in
// registration order. A "before" trigger may return a *deferred.Deferred;
// the event does not proceed past the before phase until every before
// trigger's Deferred has fired (spec §4.3's gating behavior, e.g. letting a
// "before shutdown" hook drain connections before "during shutdown" closes
// them).
func (r *Reactor) AddSystemEventTrigger(phase EventPhase, event string, fn func(args ...any) *deferred.Deferred) TriggerID {
	r.events.mu.Lock()
	defer r.events.mu.Unlock()
	r.events.nextID++
	id := r.events.nextID
	r.events.triggers = append(r.events.triggers, systemTrigger{id: id, event: event, phase: phase, fn: fn})
	return id
}

// RemoveSystemEventTrigger unregisters a previously added trigger. It is a
// no-op if id is unknown.
func (r *Reactor) RemoveSystemEventTrigger(id TriggerID) {
	r.events.mu.Lock()
	defer r.events.mu.Unlock()
	for i, t := range r.events.triggers {
		if t.id == id {
			r.events.triggers = append(r.events.triggers[:i], r.events.triggers[i+1:]...)
			return
		}
	}
}

// FireSystemEvent runs every trigger registered for event, phase by phase
// (before, then during, then after), waiting for all "before" Deferreds to
// fire before moving on. It returns a Deferred that fires once every phase
// has completed.
func (r *Reactor) FireSystemEvent(event string, args ...any) *deferred.Deferred {
	result := deferred.New()

	r.events.mu.Lock()
	matching := make([]systemTrigger, 0, len(r.events.triggers))
	for _, t := range r.events.triggers {
		if t.event == event {
			matching = append(matching, t)
		}
	}
	r.events.mu.Unlock()

	sort.SliceStable(matching, func(i, j int) bool {
		return matching[i].phase < matching[j].phase
	})

	var before, during, after []systemTrigger
	for _, t := range matching {
		switch t.phase {
		case PhaseBefore:
			before = append(before, t)
		case PhaseDuring:
			during = append(during, t)
		case PhaseAfter:
			after = append(after, t)
		}
	}

	runPhase := func(triggers []systemTrigger) *deferred.Deferred {
		if len(triggers) == 0 {
			return deferred.Succeed(nil)
		}
		ds := make([]*deferred.Deferred, 0, len(triggers))
		for _, t := range triggers {
			d := deferred.MaybeDeferred(func() (any, error) {
				res := t.fn(args...)
				if res == nil {
					return nil, nil
				}
				return res, nil
			})
			ds = append(ds, d)
		}
		return deferred.DeferredList(ds, deferred.DeferredListOptions{ConsumeErrors: true})
	}

	runPhase(before).AddBoth(func(any) any {
		runPhase(during).AddBoth(func(any) any {
			runPhase(after).AddBoth(func(any) any {
				result.Callback(nil)
				return nil
			})
			return nil
		})
		return nil
	})

	return result
}
