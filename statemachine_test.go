package mta

import "testing"

func TestStateMachineInitialState(t *testing.T) {
	sm := NewStateMachine()
	if sm.State() != StateInit {
		t.Errorf("expected initial state Init, got %v", sm.State())
	}
}

func TestStateMachineValidPath(t *testing.T) {
	sm := NewStateMachine()

	steps := []State{
		StateBanner, StateEhlo, StateReady, StateMail,
		StateRcpt, StateData, StateBody, StateEom, StateQuit, StateClosed,
	}
	for _, next := range steps {
		if err := sm.Transition(next); err != nil {
			t.Fatalf("transition to %v: %v", next, err)
		}
		if sm.State() != next {
			t.Errorf("expected state %v, got %v", next, sm.State())
		}
	}
}

func TestStateMachineRejectsInvalidTransition(t *testing.T) {
	sm := NewStateMachine()
	if err := sm.Transition(StateBanner); err != nil {
		t.Fatalf("Transition(Banner): %v", err)
	}

	err := sm.Transition(StateData)
	if err == nil {
		t.Fatal("expected error transitioning directly from Banner to Data")
	}
	if sm.State() != StateBanner {
		t.Errorf("rejected transition should not change state, got %v", sm.State())
	}
}

func TestStateMachineStartTlsLoopsBackToEhlo(t *testing.T) {
	sm := NewStateMachine()
	sm.Transition(StateBanner)
	sm.Transition(StateEhlo)
	sm.Transition(StateStartTls)

	if err := sm.Transition(StateEhlo); err != nil {
		t.Fatalf("STARTTLS must loop back to a fresh EHLO: %v", err)
	}
}

func TestStateMachineRcptSelfLoop(t *testing.T) {
	sm := NewStateMachine()
	sm.Transition(StateBanner)
	sm.Transition(StateEhlo)
	sm.Transition(StateReady)
	sm.Transition(StateMail)
	sm.Transition(StateRcpt)

	if err := sm.Transition(StateRcpt); err != nil {
		t.Fatalf("Rcpt should accept repeated recipients: %v", err)
	}
	if sm.State() != StateRcpt {
		t.Errorf("expected to remain in Rcpt, got %v", sm.State())
	}
}

func TestStateMachineEomFansOutToReadyRsetOrQuit(t *testing.T) {
	for _, next := range []State{StateReady, StateRset, StateQuit} {
		sm := NewStateMachine()
		sm.Transition(StateBanner)
		sm.Transition(StateEhlo)
		sm.Transition(StateReady)
		sm.Transition(StateMail)
		sm.Transition(StateRcpt)
		sm.Transition(StateData)
		sm.Transition(StateBody)
		sm.Transition(StateEom)

		if err := sm.Transition(next); err != nil {
			t.Fatalf("Eom -> %v: %v", next, err)
		}
	}
}

func TestStateMachineRsetReachableFromMailRcptData(t *testing.T) {
	for _, from := range []State{StateMail, StateRcpt, StateData} {
		sm := NewStateMachine()
		sm.Transition(StateBanner)
		sm.Transition(StateEhlo)
		sm.Transition(StateReady)
		sm.Transition(StateMail)
		if from != StateMail {
			sm.Transition(StateRcpt)
		}
		if from == StateData {
			sm.Transition(StateData)
		}

		if err := sm.Transition(StateRset); err != nil {
			t.Fatalf("%v -> Rset: %v", from, err)
		}
	}
}

func TestStateMachineAbortFromAnyNonTerminalState(t *testing.T) {
	nonTerminal := []State{
		StateInit, StateBanner, StateEhlo, StateHelo, StateStartTls,
		StateAuth, StateReady, StateMail, StateRcpt, StateData,
		StateBody, StateEom, StateRset, StateQuit,
	}

	for _, s := range nonTerminal {
		sm := &StateMachine{state: s, observer: NullStateObserver{}}
		if err := sm.Abort(); err != nil {
			t.Fatalf("Abort from %v: %v", s, err)
		}
		if sm.State() != StateAborted {
			t.Errorf("Abort from %v left state %v, want Aborted", s, sm.State())
		}
	}
}

func TestStateMachineAbortFromTerminalIsNoop(t *testing.T) {
	sm := &StateMachine{state: StateClosed, observer: NullStateObserver{}}
	if err := sm.Abort(); err != nil {
		t.Fatalf("Abort from terminal state should not error: %v", err)
	}
	if sm.State() != StateClosed {
		t.Errorf("Abort from a terminal state must not change it, got %v", sm.State())
	}
}

func TestStateMachineObserverReceivesTransitions(t *testing.T) {
	var got []StateTransition
	sm := NewStateMachineWithObserver(&testObserver{
		onStateChange: func(tr StateTransition) { got = append(got, tr) },
	})

	sm.Transition(StateBanner)
	sm.Transition(StateEhlo)

	if len(got) != 2 {
		t.Fatalf("expected 2 observed transitions, got %d", len(got))
	}
	if got[0].From != StateInit || got[0].To != StateBanner {
		t.Errorf("unexpected first transition: %+v", got[0])
	}
}

func TestStateString(t *testing.T) {
	tests := []struct {
		state    State
		expected string
	}{
		{StateInit, "Init"},
		{StateBanner, "Banner"},
		{StateEhlo, "Ehlo"},
		{StateHelo, "Helo"},
		{StateStartTls, "StartTls"},
		{StateAuth, "Auth"},
		{StateReady, "Ready"},
		{StateMail, "Mail"},
		{StateRcpt, "Rcpt"},
		{StateData, "Data"},
		{StateBody, "Body"},
		{StateEom, "Eom"},
		{StateRset, "Rset"},
		{StateQuit, "Quit"},
		{StateClosed, "Closed"},
		{StateAborted, "Aborted"},
		{State(999), "Unknown"},
	}

	for _, tt := range tests {
		if got := tt.state.String(); got != tt.expected {
			t.Errorf("State(%d).String() = %q, want %q", tt.state, got, tt.expected)
		}
	}
}

func TestStateIsTerminal(t *testing.T) {
	terminal := []State{StateClosed, StateAborted}
	nonTerminal := []State{StateInit, StateBanner, StateEhlo, StateReady, StateMail, StateRcpt, StateData}

	for _, s := range terminal {
		if !s.IsTerminal() {
			t.Errorf("%v.IsTerminal() = false, want true", s)
		}
	}
	for _, s := range nonTerminal {
		if s.IsTerminal() {
			t.Errorf("%v.IsTerminal() = true, want false", s)
		}
	}
}

func TestStateIsReady(t *testing.T) {
	ready := []State{StateReady, StateMail, StateRcpt, StateData, StateBody, StateEom, StateRset}
	notReady := []State{StateInit, StateBanner, StateEhlo, StateHelo, StateStartTls, StateAuth, StateQuit, StateClosed, StateAborted}

	for _, s := range ready {
		if !s.IsReady() {
			t.Errorf("%v.IsReady() = false, want true", s)
		}
	}
	for _, s := range notReady {
		if s.IsReady() {
			t.Errorf("%v.IsReady() = true, want false", s)
		}
	}
}

func TestIsCommandAllowed(t *testing.T) {
	tests := []struct {
		state   State
		cmd     CommandVerb
		allowed bool
	}{
		{StateBanner, CmdEHLO, true},
		{StateStartTls, CmdEHLO, true},
		{StateEhlo, CmdHELO, true},
		{StateEhlo, CmdSTARTTLS, true},
		{StateEhlo, CmdAUTH, true},
		{StateReady, CmdMAIL, true},
		{StateRset, CmdMAIL, true},
		{StateMail, CmdRCPT, true},
		{StateRcpt, CmdRCPT, true},
		{StateRcpt, CmdDATA, true},
		{StateEom, CmdRSET, true},
		{StateReady, CmdQUIT, true},
		{StateEom, CmdQUIT, true},

		{StateBanner, CmdMAIL, false},
		{StateReady, CmdRCPT, false},
		{StateMail, CmdDATA, false},
	}

	for _, tt := range tests {
		if got := IsCommandAllowed(tt.state, tt.cmd); got != tt.allowed {
			t.Errorf("IsCommandAllowed(%v, %v) = %v, want %v", tt.state, tt.cmd, got, tt.allowed)
		}
	}
}

type testObserver struct {
	onStateChange func(StateTransition)
}

func (o *testObserver) OnStateChange(tr StateTransition) {
	if o.onStateChange != nil {
		o.onStateChange(tr)
	}
}
