package annotate

import (
	"context"
	"errors"
	"io"
	"log"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"

	"github.com/daybridge/daybridge/internal/model"
	"github.com/daybridge/daybridge/internal/store"
)

type fakeMessages struct {
	replies []string
	errs    []error
	calls   int
	prompts []string
}

func (f *fakeMessages) New(ctx context.Context, params anthropic.MessageNewParams, opts ...option.RequestOption) (*anthropic.Message, error) {
	i := f.calls
	f.calls++
	for _, m := range params.Messages {
		for _, block := range m.Content {
			if block.OfText != nil {
				f.prompts = append(f.prompts, block.OfText.Text)
			}
		}
	}
	if i < len(f.errs) && f.errs[i] != nil {
		return nil, f.errs[i]
	}
	reply := `{"category": "other", "summary": ""}`
	if i < len(f.replies) {
		reply = f.replies[i]
	}
	return &anthropic.Message{
		Content: []anthropic.ContentBlockUnion{{Type: "text", Text: reply}},
	}, nil
}

func newTestAnnotator(t *testing.T, fake *fakeMessages) (*Annotator, *store.Store) {
	t.Helper()
	st, err := store.Open(filepath.Join(t.TempDir(), "annotate.db"))
	if err != nil {
		t.Fatalf("failed to open store: %v", err)
	}
	t.Cleanup(func() { st.Close() })
	if err := st.InitSchema(context.Background()); err != nil {
		t.Fatalf("failed to init schema: %v", err)
	}
	now := time.Date(2026, 3, 2, 9, 0, 0, 0, time.UTC)
	return &Annotator{
		store:    st,
		messages: fake,
		model:    anthropic.Model("test-model"),
		logger:   log.New(io.Discard, "", 0),
		clock:    func() time.Time { return now },
	}, st
}

func seedSynced(t *testing.T, st *store.Store, id, title string) *model.Record {
	t.Helper()
	rec := &model.Record{
		LocalID:           id,
		Kind:              model.KindTask,
		SyncStatus:        model.StatusSynced,
		Version:           1,
		LastSyncedVersion: 1,
		CreatedAt:         time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC),
		UpdatedAt:         time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC),
		Payload:           model.Payload{Title: title, TaskStatus: model.TaskOpen},
	}
	if err := st.UpsertRecord(context.Background(), rec); err != nil {
		t.Fatalf("failed to seed %s: %v", id, err)
	}
	return rec
}

func TestRunAnnotatesSyncedRecords(t *testing.T) {
	fake := &fakeMessages{replies: []string{
		`{"category": "errand", "summary": "Pick up the dry cleaning"}`,
	}}
	ann, st := newTestAnnotator(t, fake)
	seedSynced(t, st, "task-1", "Dry cleaning")

	n, err := ann.Run(context.Background(), model.KindTask, 0)
	if err != nil {
		t.Fatalf("run failed: %v", err)
	}
	if n != 1 {
		t.Fatalf("annotated %d records, want 1", n)
	}

	rec, err := st.GetRecord(context.Background(), "task-1")
	if err != nil {
		t.Fatalf("failed to reload record: %v", err)
	}
	if rec.Annotation == nil {
		t.Fatal("expected annotation to be stored")
	}
	if rec.Annotation.Category != "errand" {
		t.Errorf("category = %q, want errand", rec.Annotation.Category)
	}
	if rec.Annotation.Summary != "Pick up the dry cleaning" {
		t.Errorf("summary = %q", rec.Annotation.Summary)
	}
	if rec.Annotation.AnnotatedAt.IsZero() {
		t.Error("expected AnnotatedAt to be set")
	}
}

func TestRunSkipsAlreadyAnnotated(t *testing.T) {
	fake := &fakeMessages{}
	ann, st := newTestAnnotator(t, fake)
	rec := seedSynced(t, st, "task-1", "Done already")
	rec.Annotation = &model.Annotation{Category: "chore", AnnotatedAt: time.Now()}
	if err := st.UpsertRecord(context.Background(), rec); err != nil {
		t.Fatalf("failed to update record: %v", err)
	}

	n, err := ann.Run(context.Background(), model.KindTask, 0)
	if err != nil {
		t.Fatalf("run failed: %v", err)
	}
	if n != 0 || fake.calls != 0 {
		t.Fatalf("annotated %d records with %d API calls, want 0 and 0", n, fake.calls)
	}
}

func TestRunDropsFailedAnnotations(t *testing.T) {
	fake := &fakeMessages{
		errs:    []error{errors.New("rate limited"), nil},
		replies: []string{"", `{"category": "work", "summary": "Quarterly report"}`},
	}
	ann, st := newTestAnnotator(t, fake)
	seedSynced(t, st, "task-1", "Flaky one")
	seedSynced(t, st, "task-2", "Quarterly report")

	n, err := ann.Run(context.Background(), model.KindTask, 0)
	if err != nil {
		t.Fatalf("run failed: %v", err)
	}
	if n != 1 {
		t.Fatalf("annotated %d records, want 1", n)
	}

	// The failed record stays unannotated and untouched.
	flaky, err := st.GetRecord(context.Background(), "task-1")
	if err != nil {
		t.Fatalf("failed to reload record: %v", err)
	}
	if flaky.Annotation != nil {
		t.Error("expected failed annotation to be dropped")
	}
	if flaky.SyncStatus != model.StatusSynced {
		t.Errorf("status = %s, want synced", flaky.SyncStatus)
	}
}

func TestRunHonorsLimit(t *testing.T) {
	fake := &fakeMessages{}
	ann, st := newTestAnnotator(t, fake)
	seedSynced(t, st, "task-1", "One")
	seedSynced(t, st, "task-2", "Two")
	seedSynced(t, st, "task-3", "Three")

	n, err := ann.Run(context.Background(), model.KindTask, 2)
	if err != nil {
		t.Fatalf("run failed: %v", err)
	}
	if n != 2 || fake.calls != 2 {
		t.Fatalf("annotated %d records with %d API calls, want 2 and 2", n, fake.calls)
	}
}

func TestNilAnnotatorIsNoOp(t *testing.T) {
	var ann *Annotator
	n, err := ann.Run(context.Background(), model.KindTask, 0)
	if err != nil || n != 0 {
		t.Fatalf("nil annotator: n=%d err=%v, want 0 and nil", n, err)
	}
}

func TestNewWithoutKeyDisables(t *testing.T) {
	if New(nil, Config{}) != nil {
		t.Fatal("expected New without an API key to return nil")
	}
}

func TestParseReplyToleratesFences(t *testing.T) {
	ann, err := parseReply("```json\n{\"category\": \"meeting\", \"summary\": \"Weekly standup\"}\n```")
	if err != nil {
		t.Fatalf("parse failed: %v", err)
	}
	if ann.Category != "meeting" || ann.Summary != "Weekly standup" {
		t.Errorf("got %+v", ann)
	}
}

func TestParseReplyRejectsGarbage(t *testing.T) {
	if _, err := parseReply("I would classify this as a meeting."); err == nil {
		t.Error("expected prose reply to be rejected")
	}
	if _, err := parseReply(`{"summary": "no category"}`); err == nil {
		t.Error("expected missing category to be rejected")
	}
}

func TestDescribeIncludesPayloadFields(t *testing.T) {
	due := time.Date(2026, 3, 5, 17, 0, 0, 0, time.UTC)
	rec := &model.Record{
		Kind: model.KindTask,
		Payload: model.Payload{
			Title: "File taxes",
			Notes: "Gather the W-2 first",
			DueAt: &due,
		},
	}
	fake := &fakeMessages{replies: []string{`{"category": "finance", "summary": "Taxes"}`}}
	ann, _ := newTestAnnotator(t, fake)
	if _, err := ann.Annotate(context.Background(), rec); err != nil {
		t.Fatalf("annotate failed: %v", err)
	}
	if len(fake.prompts) != 1 {
		t.Fatalf("captured %d prompts, want 1", len(fake.prompts))
	}
	for _, want := range []string{"File taxes", "Gather the W-2 first", "2026-03-05T17:00:00Z"} {
		if !strings.Contains(fake.prompts[0], want) {
			t.Errorf("prompt missing %q:\n%s", want, fake.prompts[0])
		}
	}
}
