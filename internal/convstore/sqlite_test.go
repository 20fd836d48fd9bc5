package convstore

import (
	"errors"
	"fmt"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"unicode/utf8"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()

	db, err := OpenDB(filepath.Join(t.TempDir(), "test.db"))
	if err != nil {
		t.Fatalf("OpenDB: %v", err)
	}
	t.Cleanup(func() { db.Close() })

	store, err := New(db)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	return store
}

func TestAppendAssignsContiguousSequence(t *testing.T) {
	store := newTestStore(t)

	conv, err := store.CreateConversation(1)
	if err != nil {
		t.Fatalf("CreateConversation: %v", err)
	}

	for i := 0; i < 5; i++ {
		role := RoleUser
		if i%2 == 1 {
			role = RoleAssistant
		}
		msg, err := store.AppendMessage(conv.ID, 1, role, fmt.Sprintf("message %d", i), "")
		if err != nil {
			t.Fatalf("AppendMessage %d: %v", i, err)
		}
		if msg.SequenceNumber != i {
			t.Errorf("message %d: sequence = %d, want %d", i, msg.SequenceNumber, i)
		}
	}
}

func TestAppendValidation(t *testing.T) {
	store := newTestStore(t)
	conv, err := store.CreateConversation(1)
	if err != nil {
		t.Fatalf("CreateConversation: %v", err)
	}

	if _, err := store.AppendMessage(conv.ID, 1, RoleUser, "", ""); !errors.Is(err, ErrValidation) {
		t.Errorf("empty content: err = %v, want ErrValidation", err)
	}
	if _, err := store.AppendMessage(conv.ID, 1, "system", "hi", ""); !errors.Is(err, ErrValidation) {
		t.Errorf("bad role: err = %v, want ErrValidation", err)
	}
}

func TestAppendToMissingConversation(t *testing.T) {
	store := newTestStore(t)

	if _, err := store.AppendMessage(999, 1, RoleUser, "hi", ""); !errors.Is(err, ErrNotFound) {
		t.Errorf("err = %v, want ErrNotFound", err)
	}
}

// A conversation owned by someone else must be indistinguishable from
// one that does not exist.
func TestOwnerIsolation(t *testing.T) {
	store := newTestStore(t)

	conv, err := store.CreateConversation(1)
	if err != nil {
		t.Fatalf("CreateConversation: %v", err)
	}
	if _, err := store.AppendMessage(conv.ID, 1, RoleUser, "mine", ""); err != nil {
		t.Fatalf("AppendMessage: %v", err)
	}

	if _, err := store.AppendMessage(conv.ID, 2, RoleUser, "intrusion", ""); !errors.Is(err, ErrNotFound) {
		t.Errorf("append as other owner: err = %v, want ErrNotFound", err)
	}
	if _, err := store.GetConversation(conv.ID, 2); !errors.Is(err, ErrNotFound) {
		t.Errorf("get as other owner: err = %v, want ErrNotFound", err)
	}
	if _, err := store.RecentMessages(conv.ID, 2, 10); !errors.Is(err, ErrNotFound) {
		t.Errorf("recent as other owner: err = %v, want ErrNotFound", err)
	}
	if _, _, err := store.Messages(conv.ID, 2, 10, 0); !errors.Is(err, ErrNotFound) {
		t.Errorf("messages as other owner: err = %v, want ErrNotFound", err)
	}

	summaries, err := store.ListConversations(2)
	if err != nil {
		t.Fatalf("ListConversations: %v", err)
	}
	if len(summaries) != 0 {
		t.Errorf("other owner sees %d conversations, want 0", len(summaries))
	}
}

func TestConcurrentAppendsStayContiguous(t *testing.T) {
	store := newTestStore(t)

	conv, err := store.CreateConversation(1)
	if err != nil {
		t.Fatalf("CreateConversation: %v", err)
	}

	const n = 20
	var wg sync.WaitGroup
	errs := make(chan error, n)
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			if _, err := store.AppendMessage(conv.ID, 1, RoleUser, fmt.Sprintf("concurrent %d", i), ""); err != nil {
				errs <- err
			}
		}(i)
	}
	wg.Wait()
	close(errs)
	for err := range errs {
		t.Fatalf("AppendMessage: %v", err)
	}

	msgs, err := store.RecentMessages(conv.ID, 1, n)
	if err != nil {
		t.Fatalf("RecentMessages: %v", err)
	}
	if len(msgs) != n {
		t.Fatalf("got %d messages, want %d", len(msgs), n)
	}
	for i, m := range msgs {
		if m.SequenceNumber != i {
			t.Errorf("position %d: sequence = %d, want %d", i, m.SequenceNumber, i)
		}
	}
}

func TestRecentMessagesWindow(t *testing.T) {
	store := newTestStore(t)

	conv, err := store.CreateConversation(1)
	if err != nil {
		t.Fatalf("CreateConversation: %v", err)
	}
	for i := 0; i < 10; i++ {
		if _, err := store.AppendMessage(conv.ID, 1, RoleUser, fmt.Sprintf("m%d", i), ""); err != nil {
			t.Fatalf("AppendMessage: %v", err)
		}
	}

	msgs, err := store.RecentMessages(conv.ID, 1, 3)
	if err != nil {
		t.Fatalf("RecentMessages: %v", err)
	}
	if len(msgs) != 3 {
		t.Fatalf("got %d messages, want 3", len(msgs))
	}
	want := []int{7, 8, 9}
	for i, m := range msgs {
		if m.SequenceNumber != want[i] {
			t.Errorf("position %d: sequence = %d, want %d", i, m.SequenceNumber, want[i])
		}
	}
}

func TestMessagesPagination(t *testing.T) {
	store := newTestStore(t)

	conv, err := store.CreateConversation(1)
	if err != nil {
		t.Fatalf("CreateConversation: %v", err)
	}
	for i := 0; i < 7; i++ {
		if _, err := store.AppendMessage(conv.ID, 1, RoleUser, fmt.Sprintf("m%d", i), ""); err != nil {
			t.Fatalf("AppendMessage: %v", err)
		}
	}

	page, total, err := store.Messages(conv.ID, 1, 3, 3)
	if err != nil {
		t.Fatalf("Messages: %v", err)
	}
	if total != 7 {
		t.Errorf("total = %d, want 7", total)
	}
	if len(page) != 3 {
		t.Fatalf("page size = %d, want 3", len(page))
	}
	if page[0].SequenceNumber != 3 || page[2].SequenceNumber != 5 {
		t.Errorf("page spans %d..%d, want 3..5", page[0].SequenceNumber, page[2].SequenceNumber)
	}
}

func TestToolInvocationsRoundTrip(t *testing.T) {
	store := newTestStore(t)

	conv, err := store.CreateConversation(1)
	if err != nil {
		t.Fatalf("CreateConversation: %v", err)
	}

	payload := `[{"tool":"create_task","inputs":{"title":"x"}}]`
	if _, err := store.AppendMessage(conv.ID, 1, RoleAssistant, "created it", payload); err != nil {
		t.Fatalf("AppendMessage: %v", err)
	}

	msgs, err := store.RecentMessages(conv.ID, 1, 10)
	if err != nil {
		t.Fatalf("RecentMessages: %v", err)
	}
	if msgs[0].ToolInvocations != payload {
		t.Errorf("tool invocations = %q, want %q", msgs[0].ToolInvocations, payload)
	}
}

func TestListConversationsSummaries(t *testing.T) {
	store := newTestStore(t)

	first, err := store.CreateConversation(1)
	if err != nil {
		t.Fatalf("CreateConversation: %v", err)
	}
	second, err := store.CreateConversation(1)
	if err != nil {
		t.Fatalf("CreateConversation: %v", err)
	}

	if _, err := store.AppendMessage(first.ID, 1, RoleUser, "hello", ""); err != nil {
		t.Fatalf("AppendMessage: %v", err)
	}
	long := strings.Repeat("x", 150)
	if _, err := store.AppendMessage(second.ID, 1, RoleUser, long, ""); err != nil {
		t.Fatalf("AppendMessage: %v", err)
	}

	summaries, err := store.ListConversations(1)
	if err != nil {
		t.Fatalf("ListConversations: %v", err)
	}
	if len(summaries) != 2 {
		t.Fatalf("got %d summaries, want 2", len(summaries))
	}

	byID := make(map[int64]Summary, len(summaries))
	for _, s := range summaries {
		byID[s.ID] = s
	}
	if got := byID[first.ID]; got.MessageCount != 1 || got.LastMessagePreview != "hello" {
		t.Errorf("first summary = %+v", got)
	}
	if got := byID[second.ID]; len(got.LastMessagePreview) != 100 {
		t.Errorf("preview length = %d, want 100", len(got.LastMessagePreview))
	}
}

func TestPreviewTruncatesOnRuneBoundary(t *testing.T) {
	store := newTestStore(t)

	conv, err := store.CreateConversation(1)
	if err != nil {
		t.Fatalf("CreateConversation: %v", err)
	}
	// 3 bytes per rune; byte 100 lands mid-rune.
	if _, err := store.AppendMessage(conv.ID, 1, RoleUser, strings.Repeat("日", 60), ""); err != nil {
		t.Fatalf("AppendMessage: %v", err)
	}

	summaries, err := store.ListConversations(1)
	if err != nil {
		t.Fatalf("ListConversations: %v", err)
	}
	preview := summaries[0].LastMessagePreview
	if !utf8.ValidString(preview) {
		t.Errorf("preview is not valid UTF-8: %q", preview)
	}
	if len(preview) != 99 {
		t.Errorf("preview length = %d, want 99", len(preview))
	}
}
