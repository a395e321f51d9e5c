package reaper

import (
	"testing"
	"time"

	"clipsync/internal/session"
)

func TestSweepEvictsEmptySessionPastPairTimeout(t *testing.T) {
	reg := session.NewRegistry()
	sess := session.New("pair1", "tok")
	reg.Insert(sess)

	time.Sleep(20 * time.Millisecond)

	Sweep(reg, time.Hour, 10*time.Millisecond)

	if reg.Has("pair1") {
		t.Fatalf("expected an idle, unbound session past its pair timeout to be reaped")
	}
}

func TestSweepKeepsEmptySessionBeforePairTimeout(t *testing.T) {
	reg := session.NewRegistry()
	sess := session.New("pair1", "tok")
	reg.Insert(sess)

	Sweep(reg, time.Hour, time.Hour)

	if !reg.Has("pair1") {
		t.Fatalf("expected a freshly created session not yet past its idle timeout to survive a sweep")
	}
}

func TestSweepNeverEvictsABoundSession(t *testing.T) {
	reg := session.NewRegistry()
	sess := session.New("pair1", "tok")
	reg.Insert(sess)
	sess.Bind(session.RolePC, session.NewPeer(session.RolePC, "d", "c1", 4, nil, nil))

	time.Sleep(20 * time.Millisecond)

	Sweep(reg, time.Hour, 10*time.Millisecond)

	if !reg.Has("pair1") {
		t.Fatalf("a session with a bound slot must never be reaped regardless of idle time")
	}
}

func TestSweepReapsFileRecordPastCleanupTimeout(t *testing.T) {
	reg := session.NewRegistry()
	sess := session.New("pair1", "tok")
	reg.Insert(sess)

	rec := session.NewFileRecord("f1", "photo.png", 4, nil, session.RolePC)
	sess.CreateFile(rec)

	time.Sleep(20 * time.Millisecond)

	Sweep(reg, 10*time.Millisecond, time.Hour)

	if _, ok := sess.File("f1"); ok {
		t.Fatalf("expected a file record idle past its cleanup timeout to be removed")
	}
}

func TestSweepKeepsFileRecordBeforeCleanupTimeout(t *testing.T) {
	reg := session.NewRegistry()
	sess := session.New("pair1", "tok")
	reg.Insert(sess)

	rec := session.NewFileRecord("f1", "photo.png", 4, nil, session.RolePC)
	sess.CreateFile(rec)

	Sweep(reg, time.Hour, time.Hour)

	if _, ok := sess.File("f1"); !ok {
		t.Fatalf("expected a freshly created file record not yet idle to survive a sweep")
	}
}

func TestSweepReapsCompletedFileRecordAfterTimeout(t *testing.T) {
	reg := session.NewRegistry()
	sess := session.New("pair1", "tok")
	reg.Insert(sess)

	rec := session.NewFileRecord("f1", "photo.png", 1, nil, session.RolePC)
	sess.CreateFile(rec)
	rec.MarkReceived(0)

	time.Sleep(20 * time.Millisecond)

	Sweep(reg, 10*time.Millisecond, time.Hour)

	if _, ok := sess.File("f1"); ok {
		t.Fatalf("expected a completed file record idle past its cleanup timeout to be reaped")
	}
}
