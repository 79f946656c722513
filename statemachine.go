package mta

// StateMachine tracks the outbound SMTP session's protocol state and
// enforces that commands are only issued, and transitions only made,
// in a sequence the peer can make sense of.
type StateMachine struct {
	state    State
	observer StateObserver
}

// StateObserver receives notifications of state transitions. Useful
// for tests asserting on the exact path taken through the table.
type StateObserver interface {
	OnStateChange(transition StateTransition)
}

// NullStateObserver is a no-op StateObserver.
type NullStateObserver struct{}

func (NullStateObserver) OnStateChange(_ StateTransition) {}

// NewStateMachine creates a new state machine in the Init state.
func NewStateMachine() *StateMachine {
	return &StateMachine{
		state:    StateInit,
		observer: NullStateObserver{},
	}
}

// NewStateMachineWithObserver creates a state machine with an observer.
func NewStateMachineWithObserver(observer StateObserver) *StateMachine {
	if observer == nil {
		observer = NullStateObserver{}
	}
	return &StateMachine{state: StateInit, observer: observer}
}

// State returns the current state.
func (sm *StateMachine) State() State {
	return sm.state
}

// SetObserver sets the state observer.
func (sm *StateMachine) SetObserver(observer StateObserver) {
	if observer == nil {
		observer = NullStateObserver{}
	}
	sm.observer = observer
}

// Transition attempts to move to newState, rejecting the move if it
// is not in the valid-transitions table for the current state.
func (sm *StateMachine) Transition(newState State) error {
	if !sm.canTransition(newState) {
		return &StateTransitionError{Current: sm.state, Attempted: newState}
	}

	t := StateTransition{From: sm.state, To: newState, Success: true}
	sm.state = newState
	sm.observer.OnStateChange(t)
	return nil
}

func (sm *StateMachine) canTransition(newState State) bool {
	for _, valid := range validTransitions[sm.state] {
		if valid == newState {
			return true
		}
	}
	return false
}

// Abort forces a transition to Aborted. Aborted is reachable from
// every non-terminal state, so this never fails once the session has
// started.
func (sm *StateMachine) Abort() error {
	if sm.state.IsTerminal() {
		return nil
	}
	t := StateTransition{From: sm.state, To: StateAborted, Success: true}
	sm.state = StateAborted
	sm.observer.OnStateChange(t)
	return nil
}

// Close forces a transition to Closed from Quit (the normal path).
func (sm *StateMachine) Close() error {
	return sm.Transition(StateClosed)
}

// validTransitions enumerates, for each state, the states the
// session may legally move to next. This is the outbound analogue of
// RFC 5321's command sequencing, read left to right: connect, greet,
// identify, optionally secure and authenticate, then cycle
// Mail/Rcpt/Data/Body/Eom once per envelope batch before quitting.
var validTransitions = map[State][]State{
	StateInit:     {StateBanner, StateAborted},
	StateBanner:   {StateEhlo, StateAborted},
	StateEhlo:     {StateHelo, StateStartTls, StateAuth, StateReady, StateAborted},
	StateHelo:     {StateReady, StateAborted},
	StateStartTls: {StateEhlo, StateAborted},
	StateAuth:     {StateReady, StateAborted},
	StateReady:    {StateMail, StateQuit, StateAborted},
	StateMail:     {StateRcpt, StateRset, StateAborted},
	StateRcpt:     {StateRcpt, StateData, StateRset, StateAborted},
	StateData:     {StateBody, StateRset, StateAborted},
	StateBody:     {StateEom, StateAborted},
	StateEom:      {StateReady, StateRset, StateQuit, StateAborted},
	StateRset:     {StateReady, StateAborted},
	StateQuit:     {StateClosed, StateAborted},
	StateClosed:   {},
	StateAborted:  {},
}

// CommandStateRequirements defines which states permit issuing each
// outbound command.
var CommandStateRequirements = map[CommandVerb][]State{
	CmdEHLO:     {StateBanner, StateStartTls},
	CmdHELO:     {StateEhlo},
	CmdSTARTTLS: {StateEhlo},
	CmdAUTH:     {StateEhlo},
	CmdMAIL:     {StateReady, StateRset},
	CmdRCPT:     {StateMail, StateRcpt},
	CmdDATA:     {StateRcpt},
	CmdRSET:     {StateMail, StateRcpt, StateData, StateEom, StateReady},
	CmdQUIT:     {StateReady, StateEom},
}

// IsCommandAllowed reports whether cmd may be issued from state.
func IsCommandAllowed(state State, cmd CommandVerb) bool {
	for _, s := range CommandStateRequirements[cmd] {
		if s == state {
			return true
		}
	}
	return false
}
