package session

import (
	"errors"
	"testing"
	"time"

	"clipsync/internal/protocol"
)

func TestSafeSendDeliversWithinBuffer(t *testing.T) {
	p := NewPeer(RolePC, "device", "conn-1", 2, nil, nil)
	if !p.SafeSend(protocol.Message{Type: protocol.TypeStatus}) {
		t.Fatalf("expected buffered send to succeed")
	}
	select {
	case msg := <-p.Send:
		if msg.Type != protocol.TypeStatus {
			t.Fatalf("unexpected message: %#v", msg)
		}
	default:
		t.Fatalf("expected message to be enqueued")
	}
}

func TestSafeSendDropsWhenFull(t *testing.T) {
	p := NewPeer(RolePC, "device", "conn-1", 1, nil, nil)
	if !p.SafeSend(protocol.Message{Type: protocol.TypeStatus}) {
		t.Fatalf("expected first send to succeed")
	}
	if p.SafeSend(protocol.Message{Type: protocol.TypeStatus}) {
		t.Fatalf("expected second send to drop once the buffer and timeout are exhausted")
	}
}

func TestTerminateInvokesHook(t *testing.T) {
	var gotReason string
	p := NewPeer(RolePC, "device", "conn-1", 1, func(reason string) { gotReason = reason }, nil)
	p.Terminate("replaced")
	if gotReason != "replaced" {
		t.Fatalf("expected terminate hook to receive reason, got %q", gotReason)
	}
}

func TestPingPropagatesHookError(t *testing.T) {
	wantErr := errors.New("boom")
	p := NewPeer(RolePC, "device", "conn-1", 1, nil, func() error { return wantErr })
	if err := p.Ping(); err != wantErr {
		t.Fatalf("expected ping to surface hook error, got %v", err)
	}

	noHook := NewPeer(RolePC, "device", "conn-1", 1, nil, nil)
	if err := noHook.Ping(); err != nil {
		t.Fatalf("expected nil ping hook to be a no-op, got %v", err)
	}
}

func TestAliveFlagRoundTrip(t *testing.T) {
	p := NewPeer(RolePC, "device", "conn-1", 1, nil, nil)
	if !p.IsAlive() {
		t.Fatalf("expected peer to start alive")
	}
	p.ClearAlive()
	if p.IsAlive() {
		t.Fatalf("expected alive flag cleared")
	}
	p.MarkAlive()
	if !p.IsAlive() {
		t.Fatalf("expected alive flag set")
	}
}

func TestSendTimeoutIsBounded(t *testing.T) {
	if sendTimeout > 2*time.Second {
		t.Fatalf("sendTimeout too large for responsive tests: %v", sendTimeout)
	}
}
