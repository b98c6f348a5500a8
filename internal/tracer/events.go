package tracer

import (
	"context"
	"fmt"

	"github.com/google/uuid"
)

// MemState is the residency tag carried by a MappedRegion.
type MemState int

const (
	// NotResident marks a region that exists in the address space but has
	// not (yet) been touched — its pages have no backing in RAM.
	NotResident MemState = iota
	// Resident marks a region known to have live pages in RAM.
	Resident
)

func (s MemState) String() string {
	switch s {
	case NotResident:
		return "not-resident"
	case Resident:
		return "resident"
	default:
		return "unknown"
	}
}

// MappedRegion is a half-open [Start, End) range of tracee virtual
// addresses plus its residency tag.
type MappedRegion struct {
	Start uintptr
	End   uintptr
	State MemState
}

// Len reports the byte length of the region.
func (m MappedRegion) Len() uintptr {
	if m.End <= m.Start {
		return 0
	}
	return m.End - m.Start
}

// Valid rejects empty or inverted ranges, per the testable invariant in
// spec §8: "No Map event is emitted with an empty or inverted range."
func (m MappedRegion) Valid() bool {
	return m.End > m.Start
}

// EventKind discriminates the TraceeEvent union.
type EventKind int

const (
	EventMap EventKind = iota
	EventExecve
	EventExit
)

// CompletionToken is the one-shot backpressure handshake that rides along
// with a Map event. The synthesiser blocks on Wait() after sending the
// event; the consumer unblocks it by calling Drop() once it has durably
// recorded the mapping. The tracee is not resumed until Wait() returns.
type CompletionToken struct {
	done chan struct{}
}

// NewCompletionToken returns a token that has not yet been completed.
func NewCompletionToken() *CompletionToken {
	return &CompletionToken{done: make(chan struct{})}
}

// Drop signals that the consumer is finished with the event. Safe to call
// at most once; a second call would panic on the closed channel, matching
// the "single-shot" contract.
func (t *CompletionToken) Drop() {
	close(t.done)
}

// Wait blocks until Drop has been called, or ctx is cancelled.
func (t *CompletionToken) Wait(ctx context.Context) error {
	select {
	case <-t.done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// TraceeEvent is the outbound union described in spec §3: a grown mapping,
// an execve that replaced the address space, or the tracee's exit.
type TraceeEvent struct {
	Kind EventKind
	ID   TraceeID

	// Region and Token are set only for EventMap.
	Region MappedRegion
	Token  *CompletionToken

	// ExitCode and Signaled are set only for EventExit.
	ExitCode int
	Signaled bool

	// CorrelationID is a short debug id stamped on every event so an
	// operator reading interleaved log lines from multiple tracees can
	// group a Map event with its completion-token handshake.
	CorrelationID string
}

func newCorrelationID() string {
	return uuid.NewString()[:8]
}

// NewMapEvent builds an EventMap with a fresh completion token.
func NewMapEvent(id TraceeID, region MappedRegion) *TraceeEvent {
	return &TraceeEvent{
		Kind:          EventMap,
		ID:            id,
		Region:        region,
		Token:         NewCompletionToken(),
		CorrelationID: newCorrelationID(),
	}
}

// NewExecveEvent builds an EventExecve.
func NewExecveEvent(id TraceeID) *TraceeEvent {
	return &TraceeEvent{Kind: EventExecve, ID: id, CorrelationID: newCorrelationID()}
}

// NewExitEvent builds an EventExit.
func NewExitEvent(id TraceeID, exitCode int, signaled bool) *TraceeEvent {
	return &TraceeEvent{
		Kind:          EventExit,
		ID:            id,
		ExitCode:      exitCode,
		Signaled:      signaled,
		CorrelationID: newCorrelationID(),
	}
}

func (e *TraceeEvent) String() string {
	switch e.Kind {
	case EventMap:
		return fmt.Sprintf("map[%s] pid=%d [0x%x,0x%x) %s", e.CorrelationID, e.ID, e.Region.Start, e.Region.End, e.Region.State)
	case EventExecve:
		return fmt.Sprintf("execve[%s] pid=%d", e.CorrelationID, e.ID)
	case EventExit:
		return fmt.Sprintf("exit[%s] pid=%d code=%d signaled=%v", e.CorrelationID, e.ID, e.ExitCode, e.Signaled)
	default:
		return "unknown event"
	}
}

// Sink is the Map Event Synthesiser's connection to the external consumer:
// a bounded channel. If the consumer falls behind, sends block and the
// originating tracee is transparently paused — it remains ptrace-stopped,
// since Emit is only ever called from the tracer's single dispatch thread.
type Sink struct {
	events chan *TraceeEvent
}

// NewSink returns a sink with the given channel capacity.
func NewSink(capacity int) *Sink {
	return &Sink{events: make(chan *TraceeEvent, capacity)}
}

// Events exposes the receive side of the channel to the consumer.
func (s *Sink) Events() <-chan *TraceeEvent {
	return s.events
}

// Emit publishes ev. For EventMap, it then blocks until the consumer calls
// Drop on the event's token (or ctx is cancelled) — this is the
// synchronous backpressure handshake from spec §3/§4.3.
func (s *Sink) Emit(ctx context.Context, ev *TraceeEvent) error {
	select {
	case s.events <- ev:
	case <-ctx.Done():
		return ctx.Err()
	}
	if ev.Kind == EventMap && ev.Token != nil {
		return ev.Token.Wait(ctx)
	}
	return nil
}

// Close closes the event channel; callers must not Emit after calling
// Close.
func (s *Sink) Close() {
	close(s.events)
}
