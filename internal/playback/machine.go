// SPDX-License-Identifier: MIT

// Package playback runs the per-session continuity engine: it loads a
// stream through the relay, tracks the player lifecycle as a strict
// state machine and drives recovery when the engine reports faults.
package playback

import (
	"fmt"
	"sync"
)

// State is a playback lifecycle state.
type State string

const (
	StateIdle         State = "idle"
	StateInitializing State = "initializing"
	StatePlaying      State = "playing"
	StateRecovering   State = "recovering"
	StateFailed       State = "failed"
	StateTornDown     State = "torn_down"
)

// Terminal reports whether no further playback can happen in s.
func (s State) Terminal() bool {
	return s == StateFailed || s == StateTornDown
}

// Event drives a lifecycle transition.
type Event string

const (
	EventInitialize     Event = "initialize"
	EventManifestParsed Event = "manifest_parsed"
	EventLoadFailed     Event = "load_failed"
	EventFatalNetwork   Event = "fatal_network"
	EventFatalMedia     Event = "fatal_media"
	EventFatalOther     Event = "fatal_other"
	EventRecovered      Event = "recovered"
	EventRecoveryFailed Event = "recovery_failed"
	EventTeardown       Event = "teardown"
)

type edge struct {
	from  State
	event Event
	to    State
}

// transitionTable is the complete lifecycle. Anything not listed is an
// invalid transition and rejected by Fire.
var transitionTable = []edge{
	{StateIdle, EventInitialize, StateInitializing},
	{StateInitializing, EventManifestParsed, StatePlaying},
	{StateInitializing, EventLoadFailed, StateFailed},
	{StateInitializing, EventFatalOther, StateFailed},
	{StatePlaying, EventFatalNetwork, StateRecovering},
	{StatePlaying, EventFatalMedia, StateRecovering},
	{StatePlaying, EventFatalOther, StateFailed},
	{StateRecovering, EventRecovered, StatePlaying},
	{StateRecovering, EventRecoveryFailed, StateFailed},
	{StateRecovering, EventFatalOther, StateFailed},
	{StateIdle, EventTeardown, StateTornDown},
	{StateInitializing, EventTeardown, StateTornDown},
	{StatePlaying, EventTeardown, StateTornDown},
	{StateRecovering, EventTeardown, StateTornDown},
	{StateFailed, EventTeardown, StateTornDown},
}

// machine is a strict table-driven FSM. Unknown (state, event) pairs
// are errors, never silent no-ops.
type machine struct {
	mu           sync.Mutex
	state        State
	index        map[string]State
	onTransition func(from, to State, event Event)
}

func newMachine(onTransition func(from, to State, event Event)) *machine {
	idx := make(map[string]State, len(transitionTable))
	for _, e := range transitionTable {
		idx[transitionKey(e.from, e.event)] = e.to
	}
	return &machine{state: StateIdle, index: idx, onTransition: onTransition}
}

func (m *machine) State() State {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state
}

// Fire applies event atomically and returns the resulting state.
func (m *machine) Fire(event Event) (State, error) {
	m.mu.Lock()
	from := m.state
	to, ok := m.index[transitionKey(from, event)]
	if !ok {
		m.mu.Unlock()
		return from, fmt.Errorf("playback: invalid transition: state=%s event=%s", from, event)
	}
	m.state = to
	m.mu.Unlock()

	if m.onTransition != nil {
		m.onTransition(from, to, event)
	}
	return to, nil
}

func transitionKey(from State, event Event) string {
	return string(from) + "|" + string(event)
}
