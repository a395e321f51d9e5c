package session

import "testing"

func TestMarkReceivedCompletesOnLastChunk(t *testing.T) {
	rec := NewFileRecord("f1", "a.txt", 3, nil, RolePC)

	if n, completed := rec.MarkReceived(0); completed || n != 1 {
		t.Fatalf("unexpected state after first chunk: n=%d completed=%v", n, completed)
	}
	if n, completed := rec.MarkReceived(1); completed || n != 2 {
		t.Fatalf("unexpected state after second chunk: n=%d completed=%v", n, completed)
	}
	n, completed := rec.MarkReceived(2)
	if !completed || n != 3 {
		t.Fatalf("expected completion on final chunk, got n=%d completed=%v", n, completed)
	}
	if rec.Status() != StatusCompleted {
		t.Fatalf("expected status completed, got %v", rec.Status())
	}
}

func TestMarkReceivedIsIdempotent(t *testing.T) {
	rec := NewFileRecord("f1", "a.txt", 2, nil, RolePC)
	rec.MarkReceived(0)
	n, _ := rec.MarkReceived(0)
	if n != 1 {
		t.Fatalf("expected duplicate mark to not grow receivedChunks, got %d", n)
	}
}

func TestMissingChunksComplement(t *testing.T) {
	rec := NewFileRecord("f1", "a.txt", 5, nil, RolePC)
	rec.MarkReceived(0)
	rec.MarkReceived(2)

	missing := rec.MissingChunks()
	want := []int{1, 3, 4}
	if len(missing) != len(want) {
		t.Fatalf("expected %v, got %v", want, missing)
	}
	for i, idx := range want {
		if missing[i] != idx {
			t.Fatalf("expected %v, got %v", want, missing)
		}
	}
}

func TestPauseAndResumeRespectCompletedTerminal(t *testing.T) {
	rec := NewFileRecord("f1", "a.txt", 1, nil, RolePC)
	rec.MarkReceived(0)

	if rec.Pause() {
		t.Fatalf("pause must be a no-op on a completed record")
	}
	if rec.Resume() {
		t.Fatalf("resume must be a no-op on a completed record")
	}
	if rec.Status() != StatusCompleted {
		t.Fatalf("expected status to remain completed")
	}
}

func TestPauseResumeTransitions(t *testing.T) {
	rec := NewFileRecord("f1", "a.txt", 4, nil, RolePC)

	if !rec.Pause() {
		t.Fatalf("expected pause from sending to report a transition")
	}
	if rec.Pause() {
		t.Fatalf("pausing an already-paused record must report no transition")
	}
	if !rec.Resume() {
		t.Fatalf("expected resume to succeed")
	}
	if rec.Status() != StatusSending {
		t.Fatalf("expected status sending after resume, got %v", rec.Status())
	}
}

func TestCloseIsSafeToCallTwice(t *testing.T) {
	rec := NewFileRecord("f1", "a.txt", 1, nil, RolePC)
	rec.Close()
	rec.Close()
}
