package bus

import "testing"

func TestSendAndDrainReturnsQueuedMessages(t *testing.T) {
	b, err := New()
	if err != nil {
		t.Fatalf("unexpected error creating bus: %v", err)
	}
	defer b.Close()

	msg, err := NewMessage(MsgSuspend, []byte("device-1"))
	if err != nil {
		t.Fatalf("unexpected error building message: %v", err)
	}
	if err := b.Send(msg); err != nil {
		t.Fatalf("unexpected send error: %v", err)
	}

	got := b.Drain()
	if len(got) != 1 || got[0].Type != MsgSuspend {
		t.Fatalf("expected one MsgSuspend message, got %v", got)
	}
	if string(got[0].Payload[:got[0].PayloadLen]) != "device-1" {
		t.Fatalf("unexpected payload: %q", got[0].Payload[:got[0].PayloadLen])
	}
}

func TestDrainEmptiesQueue(t *testing.T) {
	b, _ := New()
	defer b.Close()

	msg, _ := NewMessage(MsgResume, nil)
	_ = b.Send(msg)
	_ = b.Drain()
	if got := b.Drain(); len(got) != 0 {
		t.Fatalf("expected empty queue on second drain, got %d messages", len(got))
	}
}

func TestNewMessageRejectsOversizedPayload(t *testing.T) {
	big := make([]byte, maxInlinePayload+1)
	if _, err := NewMessage(MsgReloadDSP, big); err == nil {
		t.Fatal("expected error for oversized inline payload")
	}
}

func TestDispatchOnOwnerThreadCallsHandlerDirectly(t *testing.T) {
	b, err := New()
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	defer b.Close()

	msg, _ := NewMessage(MsgReloadDSP, nil)
	called := false
	if err := b.Dispatch(msg, true, func(Message) { called = true }); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !called {
		t.Fatal("expected handler to be called directly on owner thread")
	}
	if got := b.Drain(); len(got) != 0 {
		t.Fatal("expected no queued message for an inline dispatch")
	}
}

func TestDispatchOffOwnerThreadEnqueues(t *testing.T) {
	b, err := New()
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	defer b.Close()

	msg, _ := NewMessage(MsgReloadDSP, nil)
	called := false
	if err := b.Dispatch(msg, false, func(Message) { called = true }); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if called {
		t.Fatal("expected handler not to run synchronously off the owner thread")
	}
	if got := b.Drain(); len(got) != 1 {
		t.Fatalf("expected the message to have been enqueued, got %d", len(got))
	}
}
