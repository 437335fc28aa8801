// Package annotate enriches synced records with classifier output from
// the Anthropic API. Annotations are advisory metadata: the sync policy
// never compares them, so annotating can never cause a conflict, and a
// failed annotation is logged and dropped rather than retried into the
// record's sync state.
package annotate

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"os"
	"strings"
	"time"

	"github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"

	"github.com/daybridge/daybridge/internal/model"
	"github.com/daybridge/daybridge/internal/store"
)

const systemPrompt = `You classify personal productivity records. Reply with strict JSON:
{"category": "<one word>", "summary": "<at most 15 words>"}
Categories for events: meeting, focus, social, travel, errand, other.
Categories for tasks: errand, chore, work, health, finance, other.
Categories for messages: action_required, newsletter, personal, notification, other.`

// messagesAPI is the slice of the SDK the annotator uses.
type messagesAPI interface {
	New(ctx context.Context, params anthropic.MessageNewParams, opts ...option.RequestOption) (*anthropic.Message, error)
}

// Config holds annotator configuration.
type Config struct {
	// APIKey for the Anthropic API. Empty disables the annotator.
	APIKey string
	// Model name; empty selects a small default.
	Model string
	// Logger for annotation activity.
	Logger *log.Logger
	// Clock is overridable in tests.
	Clock func() time.Time
}

// Annotator classifies records in the background.
type Annotator struct {
	store    *store.Store
	messages messagesAPI
	model    anthropic.Model
	logger   *log.Logger
	clock    func() time.Time
}

// New creates an annotator. Returns nil (disabled) when no API key is
// configured; callers treat a nil annotator as a no-op.
func New(st *store.Store, config Config) *Annotator {
	if config.APIKey == "" {
		return nil
	}
	if config.Model == "" {
		config.Model = string(anthropic.ModelClaude3_5HaikuLatest)
	}
	if config.Logger == nil {
		config.Logger = log.New(os.Stderr, "[annotate] ", log.LstdFlags)
	}
	if config.Clock == nil {
		config.Clock = time.Now
	}
	client := anthropic.NewClient(option.WithAPIKey(config.APIKey))
	return &Annotator{
		store:    st,
		messages: &client.Messages,
		model:    anthropic.Model(config.Model),
		logger:   config.Logger,
		clock:    config.Clock,
	}
}

// Run annotates up to limit synced records of one kind that have no
// annotation yet. Returns how many were annotated. Per-record failures
// are logged and skipped.
func (a *Annotator) Run(ctx context.Context, kind model.Kind, limit int) (int, error) {
	if a == nil {
		return 0, nil
	}
	records, err := a.store.ListByStatus(ctx, kind, model.StatusSynced)
	if err != nil {
		return 0, fmt.Errorf("failed to list records: %w", err)
	}

	done := 0
	for _, rec := range records {
		if rec.Annotation != nil {
			continue
		}
		if limit > 0 && done >= limit {
			break
		}
		if err := ctx.Err(); err != nil {
			return done, err
		}

		ann, err := a.Annotate(ctx, rec)
		if err != nil {
			a.logger.Printf("failed to annotate %s: %v", rec.LocalID, err)
			continue
		}
		rec.Annotation = ann
		if err := a.store.UpsertRecord(ctx, rec); err != nil {
			a.logger.Printf("failed to store annotation for %s: %v", rec.LocalID, err)
			continue
		}
		done++
	}
	return done, nil
}

// Annotate classifies one record without storing anything.
func (a *Annotator) Annotate(ctx context.Context, rec *model.Record) (*model.Annotation, error) {
	msg, err := a.messages.New(ctx, anthropic.MessageNewParams{
		Model:     a.model,
		MaxTokens: 128,
		System:    []anthropic.TextBlockParam{{Text: systemPrompt}},
		Messages: []anthropic.MessageParam{
			anthropic.NewUserMessage(anthropic.NewTextBlock(describe(rec))),
		},
	})
	if err != nil {
		return nil, fmt.Errorf("classifier call failed: %w", err)
	}

	var text strings.Builder
	for _, block := range msg.Content {
		if block.Type == "text" {
			text.WriteString(block.Text)
		}
	}

	ann, err := parseReply(text.String())
	if err != nil {
		return nil, err
	}
	ann.AnnotatedAt = a.clock().UTC()
	return ann, nil
}

// describe renders the record for the classifier without leaking ids.
func describe(rec *model.Record) string {
	var b strings.Builder
	fmt.Fprintf(&b, "kind: %s\ntitle: %s\n", rec.Kind, rec.Payload.Title)
	if rec.Payload.Notes != "" {
		fmt.Fprintf(&b, "notes: %s\n", rec.Payload.Notes)
	}
	switch rec.Kind {
	case model.KindEvent:
		if rec.Payload.Start != nil && rec.Payload.End != nil {
			fmt.Fprintf(&b, "when: %s to %s\n",
				rec.Payload.Start.Format(time.RFC3339), rec.Payload.End.Format(time.RFC3339))
		}
		if rec.Payload.Location != "" {
			fmt.Fprintf(&b, "location: %s\n", rec.Payload.Location)
		}
	case model.KindTask:
		if rec.Payload.DueAt != nil {
			fmt.Fprintf(&b, "due: %s\n", rec.Payload.DueAt.Format(time.RFC3339))
		}
	case model.KindMessage:
		fmt.Fprintf(&b, "folder: %s\n", rec.Payload.Folder)
	}
	return b.String()
}

// parseReply accepts the strict JSON the prompt demands, tolerating
// code fences some models wrap it in.
func parseReply(reply string) (*model.Annotation, error) {
	reply = strings.TrimSpace(reply)
	reply = strings.TrimPrefix(reply, "```json")
	reply = strings.TrimPrefix(reply, "```")
	reply = strings.TrimSuffix(reply, "```")
	reply = strings.TrimSpace(reply)

	var parsed struct {
		Category string `json:"category"`
		Summary  string `json:"summary"`
	}
	if err := json.Unmarshal([]byte(reply), &parsed); err != nil {
		return nil, fmt.Errorf("unparseable classifier reply %q: %w", reply, err)
	}
	if parsed.Category == "" {
		return nil, fmt.Errorf("classifier reply missing category")
	}
	return &model.Annotation{Category: parsed.Category, Summary: parsed.Summary}, nil
}
