package risk

import (
	"fmt"
	"sync"
)

// State of the assessment pipeline for one patient.
type State int

const (
	Idle State = iota
	Loading
	Processing
	Done
	Failed
)

func (s State) String() string {
	switch s {
	case Idle:
		return "idle"
	case Loading:
		return "loading"
	case Processing:
		return "processing"
	case Done:
		return "done"
	case Failed:
		return "failed"
	}
	return fmt.Sprintf("state(%d)", int(s))
}

func (s State) inFlight() bool { return s == Loading || s == Processing }

var transitions = map[State][]State{
	Idle:       {Loading},
	Loading:    {Processing, Done, Failed},
	Processing: {Done, Failed},
	Done:       {Loading},
	Failed:     {Loading},
}

// tracker guards against re-entrant runs for the same patient. Only runs
// in flight are held; a finished run drops its entry.
type tracker struct {
	mu     sync.Mutex
	states map[string]State
}

func newTracker() *tracker {
	return &tracker{states: make(map[string]State)}
}

// begin moves id to Loading, or fails with ErrPipelineBusy.
func (t *tracker) begin(id string) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.states[id].inFlight() {
		return ErrPipelineBusy
	}
	t.states[id] = Loading
	return nil
}

// advance performs a guarded transition. Reaching Done or Failed ends the
// run and forgets id.
func (t *tracker) advance(id string, to State) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	from := t.states[id]
	for _, allowed := range transitions[from] {
		if allowed != to {
			continue
		}
		if to.inFlight() {
			t.states[id] = to
		} else {
			delete(t.states, id)
		}
		return nil
	}
	return fmt.Errorf("invalid pipeline transition %s -> %s for %s", from, to, id)
}

// state is Idle for any patient without a run in flight.
func (t *tracker) state(id string) State {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.states[id]
}

func (t *tracker) inFlight() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.states)
}
