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

func row(sender, receiver, content string, createdAt int64) *Row {
	return &Row{
		SenderID:    sender,
		ReceiverID:  receiver,
		Content:     []byte(content),
		ContentType: "text",
		CreatedAt:   createdAt,
		Status:      "sending",
	}
}

func TestMigrateIdempotent(t *testing.T) {
	db := testDB(t)

	// testDB already ran Migrate; a second run must be a no-op.
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

func TestInsertRowsAssignsIDs(t *testing.T) {
	db := testDB(t)

	rows := []*Row{
		row("alice", "bob", "one", 1000),
		row("alice", "bob", "two", 2000),
	}
	if err := db.InsertRows(rows); err != nil {
		t.Fatal(err)
	}
	if rows[0].ID == 0 || rows[1].ID == 0 {
		t.Error("InsertRows did not assign ids")
	}
	if rows[0].ID == rows[1].ID {
		t.Error("duplicate ids assigned")
	}
}

func TestQueryConversationPairIsOrderIndependent(t *testing.T) {
	db := testDB(t)

	rows := []*Row{
		row("alice", "bob", "from alice", 1000),
		row("bob", "alice", "from bob", 2000),
		row("alice", "carol", "other conversation", 1500),
	}
	if err := db.InsertRows(rows); err != nil {
		t.Fatal(err)
	}

	got, err := db.QueryConversation("bob", "alice", 50)
	if err != nil {
		t.Fatal(err)
	}
	if len(got) != 2 {
		t.Fatalf("got %d rows, want 2", len(got))
	}
	if string(got[0].Content) != "from alice" || string(got[1].Content) != "from bob" {
		t.Error("rows not in ascending creation order")
	}
}

func TestQueryConversationLimitKeepsMostRecent(t *testing.T) {
	db := testDB(t)

	for i := int64(1); i <= 5; i++ {
		if err := db.InsertRows([]*Row{row("alice", "bob", "msg", i*1000)}); err != nil {
			t.Fatal(err)
		}
	}

	got, err := db.QueryConversation("alice", "bob", 3)
	if err != nil {
		t.Fatal(err)
	}
	if len(got) != 3 {
		t.Fatalf("got %d rows, want 3", len(got))
	}
	// Most recent three, still ascending.
	if got[0].CreatedAt != 3000 || got[2].CreatedAt != 5000 {
		t.Errorf("window = [%d..%d], want [3000..5000]", got[0].CreatedAt, got[2].CreatedAt)
	}
}

func TestChunkColumnsRoundTrip(t *testing.T) {
	db := testDB(t)

	frag := row("alice", "bob", "part", 1000)
	frag.ChunkGroupID = "group-1"
	frag.ChunkIndex = 0
	frag.ChunkTotal = 2
	plain := row("alice", "bob", "whole", 2000)
	if err := db.InsertRows([]*Row{frag, plain}); err != nil {
		t.Fatal(err)
	}

	got, err := db.QueryConversation("alice", "bob", 50)
	if err != nil {
		t.Fatal(err)
	}
	if !got[0].IsFragment() {
		t.Error("fragment row lost its chunk metadata")
	}
	if got[0].ChunkTotal != 2 {
		t.Errorf("ChunkTotal = %d, want 2", got[0].ChunkTotal)
	}
	if got[1].IsFragment() {
		t.Error("plain row gained chunk metadata")
	}
}

func TestGetRowMissing(t *testing.T) {
	db := testDB(t)
	r, err := db.GetRow(12345)
	if err != nil {
		t.Fatal(err)
	}
	if r != nil {
		t.Error("expected nil for missing row")
	}
}

func TestUpdateStatusBatchGuardsMonotonicity(t *testing.T) {
	db := testDB(t)

	sent := row("alice", "bob", "a", 1000)
	sent.Status = "sent"
	read := row("alice", "bob", "b", 2000)
	read.Status = "read"
	if err := db.InsertRows([]*Row{sent, read}); err != nil {
		t.Fatal(err)
	}

	n, err := db.UpdateStatusBatch([]int64{sent.ID, read.ID}, "sent", "delivered")
	if err != nil {
		t.Fatal(err)
	}
	if n != 1 {
		t.Errorf("changed %d rows, want 1", n)
	}

	gotRead, _ := db.GetRow(read.ID)
	if gotRead.Status != "read" {
		t.Errorf("read row regressed to %q", gotRead.Status)
	}
	gotSent, _ := db.GetRow(sent.ID)
	if gotSent.Status != "delivered" {
		t.Errorf("sent row = %q, want delivered", gotSent.Status)
	}
}

func TestApplyEditAppendsHistory(t *testing.T) {
	db := testDB(t)

	r := row("alice", "bob", "original", 1000)
	if err := db.InsertRows([]*Row{r}); err != nil {
		t.Fatal(err)
	}

	if err := db.ApplyEdit(r.ID, []byte("edited"), []byte("original"), 1000, 5000); err != nil {
		t.Fatal(err)
	}

	got, _ := db.GetRow(r.ID)
	if string(got.Content) != "edited" {
		t.Errorf("content = %q, want edited", got.Content)
	}
	if !got.IsEdited {
		t.Error("is_edited not set")
	}
	if got.EditedAt != 5000 {
		t.Errorf("edited_at = %d, want 5000", got.EditedAt)
	}

	history, err := db.EditHistory(r.ID)
	if err != nil {
		t.Fatal(err)
	}
	if len(history) != 1 {
		t.Fatalf("history length = %d, want 1", len(history))
	}
	if string(history[0].Content) != "original" {
		t.Errorf("history content = %q, want original", history[0].Content)
	}
	if history[0].EditedAt != 1000 {
		t.Errorf("history edited_at = %d, want 1000", history[0].EditedAt)
	}
}

func TestFindEventRows(t *testing.T) {
	db := testDB(t)

	a := row("alice", "bob", "ciphertext-1", 1000)
	b := row("alice", "bob", "ciphertext-2", 1000) // dual-copy sibling
	c := row("alice", "bob", "other", 2000)
	if err := db.InsertRows([]*Row{a, b, c}); err != nil {
		t.Fatal(err)
	}

	got, err := db.FindEventRows("alice", 1000, "text")
	if err != nil {
		t.Fatal(err)
	}
	if len(got) != 2 {
		t.Fatalf("got %d rows, want 2", len(got))
	}
}

func TestReadReceiptIdempotent(t *testing.T) {
	db := testDB(t)

	r := row("alice", "bob", "hi", 1000)
	if err := db.InsertRows([]*Row{r}); err != nil {
		t.Fatal(err)
	}

	inserted, err := db.InsertReadReceipt(r.ID, "bob", 2000)
	if err != nil {
		t.Fatal(err)
	}
	if !inserted {
		t.Error("first receipt not inserted")
	}

	inserted, err = db.InsertReadReceipt(r.ID, "bob", 3000)
	if err != nil {
		t.Fatal(err)
	}
	if inserted {
		t.Error("second receipt for same reader should be ignored")
	}

	receipts, err := db.ReadReceipts(r.ID)
	if err != nil {
		t.Fatal(err)
	}
	if len(receipts) != 1 {
		t.Fatalf("got %d receipts, want 1", len(receipts))
	}
	if receipts[0].ReadAt != 2000 {
		t.Errorf("read_at = %d, want 2000 (first receipt wins)", receipts[0].ReadAt)
	}
}

func TestCountUnread(t *testing.T) {
	db := testDB(t)

	a := row("alice", "bob", "a", 1000)
	a.Status = "delivered"
	b := row("carol", "bob", "b", 2000)
	b.Status = "sent"
	c := row("alice", "bob", "c", 3000)
	c.Status = "read"
	if err := db.InsertRows([]*Row{a, b, c}); err != nil {
		t.Fatal(err)
	}

	total, err := db.CountUnread("bob", "")
	if err != nil {
		t.Fatal(err)
	}
	if total != 2 {
		t.Errorf("unread = %d, want 2", total)
	}

	fromAlice, err := db.CountUnread("bob", "alice")
	if err != nil {
		t.Fatal(err)
	}
	if fromAlice != 1 {
		t.Errorf("unread from alice = %d, want 1", fromAlice)
	}
}

func TestCheckpoint(t *testing.T) {
	db := testDB(t)

	v, err := db.GetCheckpoint("cursor")
	if err != nil {
		t.Fatal(err)
	}
	if v != "" {
		t.Errorf("unset checkpoint = %q, want empty", v)
	}

	if err := db.SetCheckpoint("cursor", "100"); err != nil {
		t.Fatal(err)
	}
	if err := db.SetCheckpoint("cursor", "200"); err != nil {
		t.Fatal(err)
	}

	v, err = db.GetCheckpoint("cursor")
	if err != nil {
		t.Fatal(err)
	}
	if v != "200" {
		t.Errorf("checkpoint = %q, want 200", v)
	}
}
