package sync

import (
	"context"
	"errors"
	"path/filepath"
	"testing"

	"go.uber.org/zap"

	"courier/internal/store"
)

type fakeRemoteCursor struct {
	ts    int64
	err   error
	calls int
}

func (f *fakeRemoteCursor) ServerCursor(_ context.Context, _ string) (int64, error) {
	f.calls++
	return f.ts, f.err
}

func cursorDB(t *testing.T) *store.DB {
	t.Helper()
	db, err := store.Open(filepath.Join(t.TempDir(), "test.db"))
	if err != nil {
		t.Fatal(err)
	}
	if _, err := db.Migrate(); err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { _ = db.Close() })
	return db
}

func TestCandidateUsesNewerOfCursorAndLocal(t *testing.T) {
	db := cursorDB(t)
	cm := NewCursorManager(db, nil, zap.NewNop())

	if err := db.SetCursor("c1", 500); err != nil {
		t.Fatal(err)
	}
	if err := db.UpsertMessage(&store.Message{ID: "m1", ChatID: "c1", Type: store.TypeText, Status: store.StatusSent, CreatedAt: 1000}); err != nil {
		t.Fatal(err)
	}
	// Pending rows must not contribute to the floor.
	if err := db.UpsertMessage(&store.Message{ID: "q1", ClientID: "q1", ChatID: "c1", Type: store.TypeText, Status: store.StatusQueued, CreatedAt: 9000}); err != nil {
		t.Fatal(err)
	}

	got, err := cm.Candidate(context.Background(), "c1")
	if err != nil {
		t.Fatal(err)
	}
	if got != 1000 {
		t.Errorf("candidate = %d, want 1000", got)
	}
}

func TestCandidateFallsBackToServerCursor(t *testing.T) {
	db := cursorDB(t)
	remote := &fakeRemoteCursor{ts: 1000}
	cm := NewCursorManager(db, remote, zap.NewNop())

	got, err := cm.Candidate(context.Background(), "c1")
	if err != nil {
		t.Fatal(err)
	}
	if got != 1000 {
		t.Errorf("candidate = %d, want 1000 from server cursor", got)
	}

	// Seeded locally: the second cycle must not hit the server again.
	if _, err := cm.Candidate(context.Background(), "c1"); err != nil {
		t.Fatal(err)
	}
	if remote.calls != 1 {
		t.Errorf("server cursor calls = %d, want 1", remote.calls)
	}
}

func TestCandidateServerCursorFailureTolerated(t *testing.T) {
	db := cursorDB(t)
	cm := NewCursorManager(db, &fakeRemoteCursor{err: errors.New("offline")}, zap.NewNop())

	got, err := cm.Candidate(context.Background(), "c1")
	if err != nil {
		t.Fatal(err)
	}
	if got != 0 {
		t.Errorf("candidate = %d, want 0", got)
	}
}

func TestSeedOnlyWhenMissing(t *testing.T) {
	db := cursorDB(t)
	cm := NewCursorManager(db, nil, zap.NewNop())

	if err := cm.Seed("c1", 1000); err != nil {
		t.Fatal(err)
	}
	if err := cm.Seed("c1", 5000); err != nil {
		t.Fatal(err)
	}

	ts, _ := db.Cursor("c1")
	if ts != 1000 {
		t.Errorf("cursor = %d, want first seed to stick", ts)
	}
}

func TestAdvanceEmptyBatchPersistsCandidate(t *testing.T) {
	db := cursorDB(t)
	cm := NewCursorManager(db, nil, zap.NewNop())

	if err := cm.Advance("c1", 1500, 0); err != nil {
		t.Fatal(err)
	}
	ts, _ := db.Cursor("c1")
	if ts != 1500 {
		t.Errorf("cursor = %d, want candidate floor 1500", ts)
	}
}

func TestAdvanceNeverBackward(t *testing.T) {
	db := cursorDB(t)
	cm := NewCursorManager(db, nil, zap.NewNop())

	if err := cm.Advance("c1", 0, 2000); err != nil {
		t.Fatal(err)
	}
	if err := cm.Advance("c1", 0, 1000); err != nil {
		t.Fatal(err)
	}
	ts, _ := db.Cursor("c1")
	if ts != 2000 {
		t.Errorf("cursor = %d, want 2000", ts)
	}
}
