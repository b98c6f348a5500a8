package tracer

import (
	"context"
	"testing"
	"time"
)

func TestMappedRegionValid(t *testing.T) {
	cases := []struct {
		r    MappedRegion
		want bool
	}{
		{MappedRegion{Start: 0x1000, End: 0x2000}, true},
		{MappedRegion{Start: 0x1000, End: 0x1000}, false},
		{MappedRegion{Start: 0x2000, End: 0x1000}, false},
	}
	for _, c := range cases {
		if got := c.r.Valid(); got != c.want {
			t.Errorf("Valid(%+v) = %v, want %v", c.r, got, c.want)
		}
	}
}

func TestMappedRegionLen(t *testing.T) {
	r := MappedRegion{Start: 0x1000, End: 0x1400}
	if r.Len() != 0x400 {
		t.Fatalf("Len() = 0x%x, want 0x400", r.Len())
	}
	inverted := MappedRegion{Start: 0x2000, End: 0x1000}
	if inverted.Len() != 0 {
		t.Fatalf("Len() of an inverted region must be 0, got 0x%x", inverted.Len())
	}
}

func TestCompletionTokenWaitBlocksUntilDrop(t *testing.T) {
	tok := NewCompletionToken()
	result := make(chan error, 1)
	go func() {
		result <- tok.Wait(context.Background())
	}()

	select {
	case <-result:
		t.Fatalf("Wait must not return before Drop is called")
	case <-time.After(20 * time.Millisecond):
	}

	tok.Drop()
	select {
	case err := <-result:
		if err != nil {
			t.Fatalf("Wait() after Drop = %v, want nil", err)
		}
	case <-time.After(time.Second):
		t.Fatalf("Wait did not return after Drop")
	}
}

func TestCompletionTokenWaitRespectsContext(t *testing.T) {
	tok := NewCompletionToken()
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	if err := tok.Wait(ctx); err == nil {
		t.Fatalf("Wait on a cancelled context must return an error")
	}
}

func TestSinkEmitMapBlocksUntilTokenDropped(t *testing.T) {
	sink := NewSink(1)
	ev := NewMapEvent(1, MappedRegion{Start: 0x1000, End: 0x2000})

	emitDone := make(chan error, 1)
	go func() {
		emitDone <- sink.Emit(context.Background(), ev)
	}()

	received := <-sink.Events()
	if received != ev {
		t.Fatalf("consumer must receive the same event that was emitted")
	}

	select {
	case <-emitDone:
		t.Fatalf("Emit must not return before the completion token is dropped")
	case <-time.After(20 * time.Millisecond):
	}

	received.Token.Drop()
	select {
	case err := <-emitDone:
		if err != nil {
			t.Fatalf("Emit() = %v, want nil", err)
		}
	case <-time.After(time.Second):
		t.Fatalf("Emit did not unblock after Drop")
	}
}

func TestSinkEmitNonMapDoesNotBlock(t *testing.T) {
	sink := NewSink(1)
	ev := NewExecveEvent(1)

	err := sink.Emit(context.Background(), ev)
	if err != nil {
		t.Fatalf("Emit() = %v, want nil", err)
	}
	if <-sink.Events() != ev {
		t.Fatalf("consumer must receive the emitted execve event")
	}
}

func TestNewCorrelationIDLength(t *testing.T) {
	id := newCorrelationID()
	if len(id) != 8 {
		t.Fatalf("correlation id length = %d, want 8", len(id))
	}
}
