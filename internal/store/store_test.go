package store

import (
	"path/filepath"
	"testing"
)

func testDB(t *testing.T) *DB {
	t.Helper()
	path := filepath.Join(t.TempDir(), "test.db")
	db, err := Open(path)
	if err != nil {
		t.Fatal(err)
	}
	if _, err := db.Migrate(); err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { _ = db.Close() })
	return db
}

func TestMigrateIdempotent(t *testing.T) {
	db := testDB(t)

	result, err := db.Migrate()
	if err != nil {
		t.Fatal(err)
	}
	if result.Changed {
		t.Error("second Migrate() should report Changed=false")
	}
	if result.Version != 1 {
		t.Errorf("version = %d, want 1", result.Version)
	}
}

func TestChatUpsertAndList(t *testing.T) {
	db := testDB(t)

	chat := &Chat{
		ID:                 "c1",
		Participants:       []Participant{{ID: "u1", Username: "alice"}, {ID: "u2", Username: "bob"}},
		LastMessagePreview: "hello",
		LastMessageAt:      1000,
		UpdatedAt:          1000,
	}
	if err := db.UpsertChat(chat); err != nil {
		t.Fatal(err)
	}

	chat.LastMessagePreview = "newer"
	chat.LastMessageAt = 2000
	chat.UpdatedAt = 2000
	if err := db.UpsertChat(chat); err != nil {
		t.Fatal(err)
	}

	chats, err := db.ListChats(10, 0)
	if err != nil {
		t.Fatal(err)
	}
	if len(chats) != 1 {
		t.Fatalf("got %d chats, want 1", len(chats))
	}
	if chats[0].LastMessagePreview != "newer" {
		t.Errorf("preview = %q, want newer", chats[0].LastMessagePreview)
	}
	if len(chats[0].Participants) != 2 || chats[0].Participants[1].Username != "bob" {
		t.Errorf("participants = %+v", chats[0].Participants)
	}
}

func TestChatUpsertStalePreviewIgnored(t *testing.T) {
	db := testDB(t)

	if err := db.UpsertChat(&Chat{ID: "c1", LastMessagePreview: "new", LastMessageAt: 2000, UpdatedAt: 2000}); err != nil {
		t.Fatal(err)
	}
	// A stale hydration must not clobber the newer preview.
	if err := db.UpsertChat(&Chat{ID: "c1", LastMessagePreview: "old", LastMessageAt: 1000, UpdatedAt: 1000}); err != nil {
		t.Fatal(err)
	}

	c, err := db.GetChat("c1")
	if err != nil {
		t.Fatal(err)
	}
	if c.LastMessagePreview != "new" || c.LastMessageAt != 2000 {
		t.Errorf("got preview=%q at=%d, want new/2000", c.LastMessagePreview, c.LastMessageAt)
	}
}

func TestGetChatMissing(t *testing.T) {
	db := testDB(t)
	c, err := db.GetChat("missing")
	if err != nil {
		t.Fatal(err)
	}
	if c != nil {
		t.Error("expected nil for missing chat")
	}
}

func TestMessageUpsertIdempotent(t *testing.T) {
	db := testDB(t)

	msg := &Message{ID: "m1", ChatID: "c1", SenderID: "u1", Text: "hello", Type: TypeText, Status: StatusSent, CreatedAt: 1000}
	if err := db.UpsertMessage(msg); err != nil {
		t.Fatal(err)
	}
	msg.Text = "hello updated"
	msg.Edited = true
	if err := db.UpsertMessage(msg); err != nil {
		t.Fatal(err)
	}

	msgs, err := db.ListMessages("c1", 0, 100)
	if err != nil {
		t.Fatal(err)
	}
	if len(msgs) != 1 {
		t.Fatalf("got %d messages, want 1 (idempotent upsert failed)", len(msgs))
	}
	if msgs[0].Text != "hello updated" || !msgs[0].Edited {
		t.Errorf("got %+v, want edited text", msgs[0])
	}
}

func TestListMessagesAscendingWindow(t *testing.T) {
	db := testDB(t)

	for i, ts := range []int64{3000, 1000, 2000} {
		m := &Message{ID: "m" + string(rune('a'+i)), ChatID: "c1", Text: "t", Type: TypeText, Status: StatusSent, CreatedAt: ts}
		if err := db.UpsertMessage(m); err != nil {
			t.Fatal(err)
		}
	}

	msgs, err := db.ListMessages("c1", 0, 2)
	if err != nil {
		t.Fatal(err)
	}
	if len(msgs) != 2 {
		t.Fatalf("got %d messages, want 2", len(msgs))
	}
	// Newest window of 2 is {2000, 3000}, ascending.
	if msgs[0].CreatedAt != 2000 || msgs[1].CreatedAt != 3000 {
		t.Errorf("got %d,%d want 2000,3000", msgs[0].CreatedAt, msgs[1].CreatedAt)
	}
}

func TestQueuedMessagesOrder(t *testing.T) {
	db := testDB(t)

	queued := []*Message{
		{ID: "q2", ClientID: "q2", ChatID: "c1", Status: StatusQueued, Type: TypeText, CreatedAt: 2000},
		{ID: "q1", ClientID: "q1", ChatID: "c2", Status: StatusQueued, Type: TypeText, CreatedAt: 1000},
		{ID: "s1", ClientID: "s1", ChatID: "c1", Status: StatusSent, Type: TypeText, CreatedAt: 500},
	}
	for _, m := range queued {
		if err := db.UpsertMessage(m); err != nil {
			t.Fatal(err)
		}
	}

	got, err := db.QueuedMessages()
	if err != nil {
		t.Fatal(err)
	}
	if len(got) != 2 {
		t.Fatalf("got %d queued, want 2", len(got))
	}
	if got[0].ID != "q1" || got[1].ID != "q2" {
		t.Errorf("order = %s,%s want q1,q2 (creation order across chats)", got[0].ID, got[1].ID)
	}
}

func TestReplaceOptimistic(t *testing.T) {
	db := testDB(t)

	optimistic := &Message{ID: "client-1", ClientID: "client-1", ChatID: "c1", SenderID: "me", Text: "hi", Type: TypeText, Status: StatusSending, CreatedAt: 1000}
	if err := db.UpsertMessage(optimistic); err != nil {
		t.Fatal(err)
	}

	server := &Message{ID: "srv-1", ClientID: "client-1", ChatID: "c1", SenderID: "me", Text: "hi", Type: TypeText, Status: StatusSent, CreatedAt: 1100}
	if err := db.ReplaceOptimistic("client-1", server); err != nil {
		t.Fatal(err)
	}

	msgs, err := db.ListMessages("c1", 0, 10)
	if err != nil {
		t.Fatal(err)
	}
	if len(msgs) != 1 {
		t.Fatalf("got %d rows, want exactly 1 after replace", len(msgs))
	}
	if msgs[0].ID != "srv-1" || msgs[0].ClientID != "client-1" || msgs[0].Status != StatusSent {
		t.Errorf("got %+v", msgs[0])
	}

	// Lookup by either identity resolves to the same row.
	byClient, err := db.GetMessageByClientID("client-1")
	if err != nil {
		t.Fatal(err)
	}
	if byClient == nil || byClient.ID != "srv-1" {
		t.Errorf("lookup by clientId = %+v", byClient)
	}
}

func TestTombstoneMessage(t *testing.T) {
	db := testDB(t)

	if err := db.UpsertMessage(&Message{ID: "m1", ChatID: "c1", Text: "secret", Type: TypeText, Status: StatusSent, Pinned: true, CreatedAt: 1000}); err != nil {
		t.Fatal(err)
	}
	if err := db.TombstoneMessage("m1"); err != nil {
		t.Fatal(err)
	}

	m, err := db.GetMessage("m1")
	if err != nil {
		t.Fatal(err)
	}
	if m == nil {
		t.Fatal("tombstoned row must be retained")
	}
	if m.Text != "" || !m.Deleted || m.Pinned {
		t.Errorf("got %+v, want cleared text, deleted, unpinned", m)
	}
}

func TestRequeueSending(t *testing.T) {
	db := testDB(t)

	rows := []*Message{
		{ID: "c-1", ClientID: "c-1", ChatID: "c1", Type: TypeText, Status: StatusSending, CreatedAt: 1000},
		{ID: "c-2", ClientID: "c-2", ChatID: "c1", Type: TypeText, Status: StatusQueued, CreatedAt: 2000},
		{ID: "m3", ChatID: "c1", Type: TypeText, Status: StatusSent, CreatedAt: 3000},
	}
	for _, m := range rows {
		if err := db.UpsertMessage(m); err != nil {
			t.Fatal(err)
		}
	}

	n, err := db.RequeueSending()
	if err != nil {
		t.Fatal(err)
	}
	if n != 1 {
		t.Errorf("requeued = %d, want 1", n)
	}

	queue, err := db.QueuedMessages()
	if err != nil {
		t.Fatal(err)
	}
	if len(queue) != 2 || queue[0].ID != "c-1" || queue[1].ID != "c-2" {
		t.Errorf("queue = %+v, want the stranded row back in creation order", queue)
	}
	if m, _ := db.GetMessage("m3"); m.Status != StatusSent {
		t.Errorf("acknowledged row touched: %+v", m)
	}
}

func TestLocalWritesKeepUpdatedAt(t *testing.T) {
	db := testDB(t)

	if err := db.UpsertMessage(&Message{ID: "m1", ChatID: "c1", Text: "x", Type: TypeText, Status: StatusSent, CreatedAt: 1000, UpdatedAt: 2000}); err != nil {
		t.Fatal(err)
	}

	if err := db.UpdateMessageStatus("m1", StatusRead); err != nil {
		t.Fatal(err)
	}
	if err := db.SetPinnedExclusive("c1", "m1", true); err != nil {
		t.Fatal(err)
	}
	if err := db.TombstoneMessage("m1"); err != nil {
		t.Fatal(err)
	}

	m, err := db.GetMessage("m1")
	if err != nil {
		t.Fatal(err)
	}
	// The local clock never overwrites a server-sourced updatedAt; a skewed
	// clock would suppress later genuine server updates.
	if m.UpdatedAt != 2000 {
		t.Errorf("updatedAt = %d, want 2000 untouched by local writes", m.UpdatedAt)
	}
}

func TestSetPinnedExclusive(t *testing.T) {
	db := testDB(t)

	for _, id := range []string{"m1", "m2", "m3"} {
		if err := db.UpsertMessage(&Message{ID: id, ChatID: "c1", Type: TypeText, Status: StatusSent, CreatedAt: 1000}); err != nil {
			t.Fatal(err)
		}
	}

	if err := db.SetPinnedExclusive("c1", "m1", true); err != nil {
		t.Fatal(err)
	}
	if err := db.SetPinnedExclusive("c1", "m2", true); err != nil {
		t.Fatal(err)
	}

	msgs, err := db.ListMessages("c1", 0, 10)
	if err != nil {
		t.Fatal(err)
	}
	pinned := 0
	for _, m := range msgs {
		if m.Pinned {
			pinned++
			if m.ID != "m2" {
				t.Errorf("pinned = %s, want m2 (last writer wins)", m.ID)
			}
		}
	}
	if pinned != 1 {
		t.Errorf("pinned count = %d, want 1", pinned)
	}
}

func TestLatestNonPendingCreatedAt(t *testing.T) {
	db := testDB(t)

	msgs := []*Message{
		{ID: "a", ChatID: "c1", Status: StatusSent, Type: TypeText, CreatedAt: 1000},
		{ID: "b", ClientID: "b", ChatID: "c1", Status: StatusQueued, Type: TypeText, CreatedAt: 9000},
		{ID: "c", ClientID: "c", ChatID: "c1", Status: StatusSending, Type: TypeText, CreatedAt: 8000},
	}
	for _, m := range msgs {
		if err := db.UpsertMessage(m); err != nil {
			t.Fatal(err)
		}
	}

	ts, err := db.LatestNonPendingCreatedAt("c1")
	if err != nil {
		t.Fatal(err)
	}
	if ts != 1000 {
		t.Errorf("ts = %d, want 1000 (pending rows must not mask server history)", ts)
	}
}

func TestCursorNeverMovesBackward(t *testing.T) {
	db := testDB(t)

	if err := db.SetCursor("c1", 2000); err != nil {
		t.Fatal(err)
	}
	if err := db.SetCursor("c1", 1000); err != nil {
		t.Fatal(err)
	}

	ts, err := db.Cursor("c1")
	if err != nil {
		t.Fatal(err)
	}
	if ts != 2000 {
		t.Errorf("cursor = %d, want 2000", ts)
	}
}

func TestChatTombstones(t *testing.T) {
	db := testDB(t)

	if err := db.AddChatTombstone("c1"); err != nil {
		t.Fatal(err)
	}

	ok, err := db.IsChatTombstoned("c1")
	if err != nil {
		t.Fatal(err)
	}
	if !ok {
		t.Error("c1 should be tombstoned")
	}

	ids, err := db.ChatTombstones()
	if err != nil {
		t.Fatal(err)
	}
	if len(ids) != 1 || ids[0] != "c1" {
		t.Errorf("tombstones = %v, want [c1]", ids)
	}

	if err := db.RemoveChatTombstone("c1"); err != nil {
		t.Fatal(err)
	}
	ok, err = db.IsChatTombstoned("c1")
	if err != nil {
		t.Fatal(err)
	}
	if ok {
		t.Error("c1 should be revived")
	}
}

func TestDeleteChatRemovesMessages(t *testing.T) {
	db := testDB(t)

	if err := db.UpsertChat(&Chat{ID: "c1", UpdatedAt: 1}); err != nil {
		t.Fatal(err)
	}
	if err := db.UpsertMessage(&Message{ID: "m1", ChatID: "c1", Type: TypeText, Status: StatusSent, CreatedAt: 1000}); err != nil {
		t.Fatal(err)
	}

	if err := db.DeleteChat("c1"); err != nil {
		t.Fatal(err)
	}

	c, _ := db.GetChat("c1")
	if c != nil {
		t.Error("chat row should be gone")
	}
	msgs, _ := db.ListMessages("c1", 0, 10)
	if len(msgs) != 0 {
		t.Errorf("got %d messages, want 0", len(msgs))
	}
}
