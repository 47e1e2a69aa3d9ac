package agent

// State is a phase of a single turn.
type State string

const (
	StateComposing     State = "COMPOSING"
	StateAwaitingModel State = "AWAITING_MODEL"
	StateDispatching   State = "DISPATCHING"
	StateFinalizing    State = "FINALIZING"
	StateDone          State = "DONE"
)

// Terminal reports whether no further transitions are possible.
func (s State) Terminal() bool {
	return s == StateDone
}

// EventKind names what happened in the current state.
type EventKind string

const (
	EventComposed     EventKind = "composed"
	EventModelReplied EventKind = "modelReplied"
	EventDispatched   EventKind = "dispatched"
	EventFinalized    EventKind = "finalized"
	EventFailed       EventKind = "failed"
)

// Event drives the turn state machine. HasToolCalls is only meaningful for
// EventModelReplied.
type Event struct {
	Kind         EventKind
	HasToolCalls bool
}

// ModelReplied returns the event for a completed model call.
func ModelReplied(hasToolCalls bool) Event {
	return Event{Kind: EventModelReplied, HasToolCalls: hasToolCalls}
}

// Next is the pure transition function of a turn. Any pair not listed below
// is an *IllegalTransitionError:
//
//	COMPOSING      -composed->               AWAITING_MODEL
//	AWAITING_MODEL -modelReplied(tools)->    DISPATCHING
//	AWAITING_MODEL -modelReplied(no tools)-> DONE
//	DISPATCHING    -dispatched->             FINALIZING
//	FINALIZING     -finalized->              DONE
//	(non-terminal) -failed->                 DONE
func Next(state State, ev Event) (State, error) {
	if ev.Kind == EventFailed && isKnown(state) && !state.Terminal() {
		return StateDone, nil
	}

	switch {
	case state == StateComposing && ev.Kind == EventComposed:
		return StateAwaitingModel, nil
	case state == StateAwaitingModel && ev.Kind == EventModelReplied:
		if ev.HasToolCalls {
			return StateDispatching, nil
		}
		return StateDone, nil
	case state == StateDispatching && ev.Kind == EventDispatched:
		return StateFinalizing, nil
	case state == StateFinalizing && ev.Kind == EventFinalized:
		return StateDone, nil
	}

	return state, &IllegalTransitionError{From: state, Event: ev.Kind}
}

func isKnown(s State) bool {
	switch s {
	case StateComposing, StateAwaitingModel, StateDispatching, StateFinalizing, StateDone:
		return true
	}
	return false
}
