package session

import (
	"fmt"
	"strings"
)

// State is the lifecycle state of an analysis session.
type State string

const (
	StateReceived      State = "received"
	StateAnonymizing   State = "anonymizing"
	StateAnalyzing     State = "analyzing"
	StateDeserializing State = "deserializing"
	StateChatReady     State = "chat_ready"
	StateFailed        State = "failed"
)

var allStates = []State{
	StateReceived,
	StateAnonymizing,
	StateAnalyzing,
	StateDeserializing,
	StateChatReady,
	StateFailed,
}

var stateSet = func() map[State]struct{} {
	set := make(map[State]struct{}, len(allStates))
	for _, state := range allStates {
		set[state] = struct{}{}
	}
	return set
}()

// forward lists the single successor of each non-terminal state. Failed is
// reachable from every non-terminal state and is handled separately.
var forward = map[State]State{
	StateReceived:      StateAnonymizing,
	StateAnonymizing:   StateAnalyzing,
	StateAnalyzing:     StateDeserializing,
	StateDeserializing: StateChatReady,
}

// progress maps each state to the percentage reported when it is entered.
var progress = map[State]int{
	StateReceived:      5,
	StateAnonymizing:   30,
	StateAnalyzing:     40,
	StateDeserializing: 95,
	StateChatReady:     100,
}

// AllStates returns the ordered list of known states.
func AllStates() []State {
	out := make([]State, len(allStates))
	copy(out, allStates)
	return out
}

// ParseState converts a string into a State.
func ParseState(raw string) (State, bool) {
	normalized := State(strings.ToLower(strings.TrimSpace(raw)))
	_, ok := stateSet[normalized]
	return normalized, ok
}

// Terminal reports whether no further transitions are allowed from s.
func (s State) Terminal() bool {
	return s == StateChatReady || s == StateFailed
}

// Next returns the forward successor of s.
func (s State) Next() (State, bool) {
	next, ok := forward[s]
	return next, ok
}

// Progress returns the percentage associated with entering s.
func (s State) Progress() int {
	return progress[s]
}

func (s State) String() string { return string(s) }

// CanTransition reports whether moving from one state to another is allowed.
func CanTransition(from, to State) bool {
	if from.Terminal() {
		return false
	}
	if _, ok := stateSet[from]; !ok {
		return false
	}
	if to == StateFailed {
		return true
	}
	return forward[from] == to
}

// TransitionError reports a rejected state change.
type TransitionError struct {
	From State
	To   State
}

func (e *TransitionError) Error() string {
	return fmt.Sprintf("invalid session transition %s -> %s", e.From, e.To)
}
