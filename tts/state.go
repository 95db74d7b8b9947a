package tts

import "sync"

// StateType represents the state of the playback controller.
type StateType int

const (
	// StateIdle indicates nothing is being spoken.
	StateIdle StateType = iota
	// StateLoading indicates a provider and resource are being resolved.
	StateLoading
	// StatePlaying indicates audio or an utterance is playing.
	StatePlaying
	// StatePaused indicates playback is paused.
	StatePaused
	// StateCancelled indicates a stop is tearing the session down.
	StateCancelled
)

// String returns the string representation of the state.
func (s StateType) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateLoading:
		return "loading"
	case StatePlaying:
		return "playing"
	case StatePaused:
		return "paused"
	case StateCancelled:
		return "cancelled"
	default:
		return "unknown"
	}
}

// StateMachine manages state transitions for the playback controller.
// It is safe for concurrent use; callbacks run with the lock released.
type StateMachine struct {
	mu          sync.Mutex
	current     StateType
	transitions map[StateType][]StateType
	onChange    func(from, to StateType)
}

// NewStateMachine creates a new state machine with valid transitions.
func NewStateMachine() *StateMachine {
	return &StateMachine{
		current: StateIdle,
		transitions: map[StateType][]StateType{
			StateIdle:      {StateLoading},
			StateLoading:   {StatePlaying, StateIdle, StateCancelled},
			StatePlaying:   {StatePaused, StateIdle, StateCancelled, StateLoading},
			StatePaused:    {StatePlaying, StateIdle, StateCancelled},
			StateCancelled: {StateIdle},
		},
	}
}

// CanTransition reports whether to is reachable from the current state.
func (sm *StateMachine) CanTransition(to StateType) bool {
	sm.mu.Lock()
	defer sm.mu.Unlock()
	return sm.valid(to)
}

func (sm *StateMachine) valid(to StateType) bool {
	for _, state := range sm.transitions[sm.current] {
		if state == to {
			return true
		}
	}
	return false
}

// Transition attempts to transition to the specified state.
func (sm *StateMachine) Transition(to StateType) bool {
	sm.mu.Lock()
	if !sm.valid(to) {
		sm.mu.Unlock()
		return false
	}
	from := sm.current
	changeFn := sm.onChange
	sm.current = to
	sm.mu.Unlock()

	if changeFn != nil {
		changeFn(from, to)
	}
	return true
}

// Current returns the current state.
func (sm *StateMachine) Current() StateType {
	sm.mu.Lock()
	defer sm.mu.Unlock()
	return sm.current
}

// OnChange registers a callback for every successful transition.
func (sm *StateMachine) OnChange(fn func(from, to StateType)) {
	sm.mu.Lock()
	defer sm.mu.Unlock()
	sm.onChange = fn
}
