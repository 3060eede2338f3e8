package edit

import (
	cryptorand "crypto/rand"
	"errors"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"go.uber.org/zap"
	"golang.org/x/crypto/nacl/box"

	"github.com/courier-chat/courier/internal/codec"
	"github.com/courier-chat/courier/internal/store"
)

func testController(t *testing.T, now time.Time) (*Controller, *store.DB) {
	t.Helper()
	path := filepath.Join(t.TempDir(), "test.db")
	db, err := store.Open(path)
	if err != nil {
		t.Fatal(err)
	}
	if _, err := db.Migrate(); err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { _ = db.Close() })
	logger, _ := zap.NewDevelopment()
	c := New(db, codec.Identity{}, nil, logger, func() time.Time { return now })
	return c, db
}

func insertMessage(t *testing.T, db *store.DB, sender, content string, createdAt time.Time) int64 {
	t.Helper()
	r := &store.Row{
		SenderID:    sender,
		ReceiverID:  "bob",
		Content:     []byte(content),
		ContentType: "text",
		CreatedAt:   createdAt.UnixMilli(),
		Status:      "sent",
	}
	if err := db.InsertRows([]*store.Row{r}); err != nil {
		t.Fatal(err)
	}
	return r.ID
}

func TestCanEditBoundary(t *testing.T) {
	created := time.UnixMilli(1_000_000)
	tests := []struct {
		name string
		now  time.Time
		want bool
	}{
		{"just inside", created.Add(Window - time.Millisecond), true},
		{"exact tie is inclusive", created.Add(Window), true},
		{"just outside", created.Add(Window + time.Millisecond), false},
		{"immediately", created, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := CanEdit(created, "alice", "alice", tt.now)
			if got != tt.want {
				t.Errorf("CanEdit = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestCanEditSenderOnly(t *testing.T) {
	created := time.UnixMilli(1_000_000)
	if CanEdit(created, "alice", "mallory", created.Add(time.Second)) {
		t.Error("non-sender should not be able to edit")
	}
}

func TestEditSuccess(t *testing.T) {
	created := time.UnixMilli(1_000_000)
	now := created.Add(time.Minute)
	c, db := testController(t, now)
	id := insertMessage(t, db, "alice", "original", created)

	if err := c.Edit(id, "corrected", "alice"); err != nil {
		t.Fatalf("Edit() error = %v", err)
	}

	row, _ := db.GetRow(id)
	if string(row.Content) != "corrected" {
		t.Errorf("content = %q, want corrected", row.Content)
	}
	if !row.IsEdited {
		t.Error("is_edited not set")
	}
	if row.EditedAt != now.UnixMilli() {
		t.Errorf("edited_at = %d, want %d", row.EditedAt, now.UnixMilli())
	}

	history, _ := db.EditHistory(id)
	if len(history) != 1 {
		t.Fatalf("history length = %d, want 1", len(history))
	}
	if string(history[0].Content) != "original" {
		t.Errorf("history holds %q, want original", history[0].Content)
	}
	// First edit records the creation time as the superseded version's time.
	if history[0].EditedAt != created.UnixMilli() {
		t.Errorf("history edited_at = %d, want creation time", history[0].EditedAt)
	}
}

// The current content must never be duplicated into history: after N edits
// the history holds exactly the N superseded versions.
func TestEditHistoryHoldsOnlySuperseded(t *testing.T) {
	created := time.UnixMilli(1_000_000)
	now := created.Add(time.Minute)
	c, db := testController(t, now)
	id := insertMessage(t, db, "alice", "v1", created)

	if err := c.Edit(id, "v2", "alice"); err != nil {
		t.Fatal(err)
	}
	if err := c.Edit(id, "v3", "alice"); err != nil {
		t.Fatal(err)
	}

	history, _ := db.EditHistory(id)
	if len(history) != 2 {
		t.Fatalf("history length = %d, want 2", len(history))
	}
	if string(history[0].Content) != "v1" || string(history[1].Content) != "v2" {
		t.Errorf("history = [%q, %q], want [v1, v2] oldest first", history[0].Content, history[1].Content)
	}
	row, _ := db.GetRow(id)
	if string(row.Content) != "v3" {
		t.Errorf("content = %q, want v3", row.Content)
	}
}

func TestEditWindowExpired(t *testing.T) {
	created := time.UnixMilli(1_000_000)
	c, db := testController(t, created.Add(Window+time.Millisecond))
	id := insertMessage(t, db, "alice", "original", created)

	err := c.Edit(id, "too late", "alice")
	if !errors.Is(err, ErrWindowExpired) {
		t.Errorf("error = %v, want ErrWindowExpired", err)
	}
	row, _ := db.GetRow(id)
	if string(row.Content) != "original" {
		t.Error("expired edit still mutated content")
	}
}

func TestEditNotAuthorized(t *testing.T) {
	created := time.UnixMilli(1_000_000)
	c, db := testController(t, created.Add(time.Second))
	id := insertMessage(t, db, "alice", "original", created)

	err := c.Edit(id, "hijacked", "mallory")
	if !errors.Is(err, ErrNotAuthorized) {
		t.Errorf("error = %v, want ErrNotAuthorized", err)
	}
}

func TestEditEmptyContent(t *testing.T) {
	created := time.UnixMilli(1_000_000)
	c, db := testController(t, created.Add(time.Second))
	id := insertMessage(t, db, "alice", "original", created)

	for _, content := range []string{"", "   ", "\n\t"} {
		if err := c.Edit(id, content, "alice"); !errors.Is(err, ErrEmptyContent) {
			t.Errorf("Edit(%q) error = %v, want ErrEmptyContent", content, err)
		}
	}
}

func TestEditNotFound(t *testing.T) {
	created := time.UnixMilli(1_000_000)
	c, _ := testController(t, created.Add(time.Second))

	err := c.Edit(9999, "anything", "alice")
	if !errors.Is(err, ErrNotFound) {
		t.Errorf("error = %v, want ErrNotFound", err)
	}
}

func TestEditRejectsFragmentRows(t *testing.T) {
	created := time.UnixMilli(1_000_000)
	c, db := testController(t, created.Add(time.Second))

	r := &store.Row{
		SenderID: "alice", ReceiverID: "bob",
		Content: []byte("part"), ContentType: "text",
		CreatedAt: created.UnixMilli(), Status: "sent",
		ChunkGroupID: "g1", ChunkIndex: 0, ChunkTotal: 3,
	}
	if err := db.InsertRows([]*store.Row{r}); err != nil {
		t.Fatal(err)
	}

	err := c.Edit(r.ID, "new", "alice")
	if !errors.Is(err, ErrNotFound) {
		t.Errorf("error = %v, want ErrNotFound for fragment row", err)
	}
}

// With a dual-copy codec the self copy must stay sender-readable after an
// edit even when rows for other conversations share the event's sender,
// timestamp and content type and trail it in the store.
func TestEditReSealsSelfCopyByKey(t *testing.T) {
	alicePub, alicePriv, err := box.GenerateKey(cryptorand.Reader)
	if err != nil {
		t.Fatal(err)
	}
	bobPub, _, err := box.GenerateKey(cryptorand.Reader)
	if err != nil {
		t.Fatal(err)
	}
	carolPub, _, err := box.GenerateKey(cryptorand.Reader)
	if err != nil {
		t.Fatal(err)
	}
	_ = alicePub
	bc := codec.NewBox(*alicePriv, "alice", map[string][32]byte{
		"bob":   *bobPub,
		"carol": *carolPub,
	})

	created := time.UnixMilli(1_000_000)
	now := created.Add(time.Minute)
	path := filepath.Join(t.TempDir(), "test.db")
	db, err := store.Open(path)
	if err != nil {
		t.Fatal(err)
	}
	if _, err := db.Migrate(); err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { _ = db.Close() })
	logger, _ := zap.NewDevelopment()
	c := New(db, bc, nil, logger, func() time.Time { return now })

	seal := func(peer string) []byte {
		stored, err := bc.Encode([]byte("original"), peer)
		if err != nil {
			t.Fatal(err)
		}
		return stored
	}
	mkRow := func(receiver string, content []byte) *store.Row {
		return &store.Row{
			SenderID: "alice", ReceiverID: receiver,
			Content: content, ContentType: "text",
			CreatedAt: created.UnixMilli(), Status: "sent",
		}
	}
	// The bob pair's copies, then a same-millisecond send to carol whose
	// rows trail them in id order.
	recvCopy := mkRow("bob", seal("bob"))
	selfCopy := mkRow("bob", seal("alice"))
	carolRecv := mkRow("carol", seal("carol"))
	carolSelf := mkRow("carol", seal("alice"))
	if err := db.InsertRows([]*store.Row{recvCopy, selfCopy, carolRecv, carolSelf}); err != nil {
		t.Fatal(err)
	}

	if err := c.Edit(recvCopy.ID, "corrected", "alice"); err != nil {
		t.Fatalf("Edit() error = %v", err)
	}

	edited, _ := db.GetRow(recvCopy.ID)
	plain, err := bc.Decode(edited.Content, "bob")
	if err != nil || string(plain) != "corrected" {
		t.Errorf("recipient copy decode = %q, %v; want corrected", plain, err)
	}
	edited, _ = db.GetRow(selfCopy.ID)
	plain, err = bc.Decode(edited.Content, "alice")
	if err != nil || string(plain) != "corrected" {
		t.Errorf("self copy decode = %q, %v; want sender-readable corrected", plain, err)
	}

	// The carol conversation is a different logical event and stays put.
	for _, id := range []int64{carolRecv.ID, carolSelf.ID} {
		row, _ := db.GetRow(id)
		if row.IsEdited {
			t.Errorf("row %d of the carol pair was edited", id)
		}
	}
}

func TestEditSanitizesScriptInjection(t *testing.T) {
	created := time.UnixMilli(1_000_000)
	c, db := testController(t, created.Add(time.Second))
	id := insertMessage(t, db, "alice", "original", created)

	if err := c.Edit(id, `hello <script>alert("xss")</script>world`, "alice"); err != nil {
		t.Fatal(err)
	}
	row, _ := db.GetRow(id)
	if strings.Contains(string(row.Content), "<script") {
		t.Errorf("script tag survived sanitization: %q", row.Content)
	}
	if !strings.Contains(string(row.Content), "hello") {
		t.Errorf("legitimate content stripped: %q", row.Content)
	}
}

func TestEditAllScriptContentIsEmpty(t *testing.T) {
	created := time.UnixMilli(1_000_000)
	c, db := testController(t, created.Add(time.Second))
	id := insertMessage(t, db, "alice", "original", created)

	err := c.Edit(id, `<script>alert(1)</script>`, "alice")
	if !errors.Is(err, ErrEmptyContent) {
		t.Errorf("error = %v, want ErrEmptyContent when nothing survives sanitization", err)
	}
}

func TestSanitize(t *testing.T) {
	tests := []struct {
		name string
		in   string
		want string
	}{
		{"plain", "hello world", "hello world"},
		{"script block", "a<script>x=1</script>b", "ab"},
		{"script block with attrs", `a<script type="text/javascript">x</script>b`, "ab"},
		{"orphan open tag", "a<script>b", "ab"},
		{"event handler", `<img src="x" onerror="alert(1)">`, `<img src="x">`},
		{"javascript url", `<a href="javascript:alert(1)">x</a>`, `<a href="alert(1)">x</a>`},
		{"case insensitive", "a<SCRIPT>x</SCRIPT>b", "ab"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := Sanitize(tt.in); got != tt.want {
				t.Errorf("Sanitize(%q) = %q, want %q", tt.in, got, tt.want)
			}
		})
	}
}
