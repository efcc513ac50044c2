package critique

import (
	"context"
	"errors"
	"strings"
	"sync/atomic"
	"testing"

	"github.com/valpere/turjuman/internal/domain"
	"github.com/valpere/turjuman/internal/provider"
)

type mockGenerator struct {
	generateFunc func(ctx context.Context, prompt string, p provider.Params) (*provider.Result, error)
	callCount    atomic.Int32
}

func (m *mockGenerator) Name() string { return "mock" }

func (m *mockGenerator) Generate(ctx context.Context, prompt string, p provider.Params) (*provider.Result, error) {
	m.callCount.Add(1)
	if m.generateFunc != nil {
		return m.generateFunc(ctx, prompt, p)
	}
	return &provider.Result{Text: `{"has_critical_error": false, "issues": []}`}, nil
}

func translatedChunks() []domain.Chunk {
	return []domain.Chunk{
		{Index: 0, SourceText: "First.", TranslatedText: "Перший.", Status: domain.ChunkTranslated},
		{Index: 1, SourceText: "Second.", TranslatedText: "Другий.", Status: domain.ChunkTranslated},
	}
}

func TestReview_SingleDocumentScopedCall(t *testing.T) {
	var prompt string
	gen := &mockGenerator{
		generateFunc: func(ctx context.Context, p string, _ provider.Params) (*provider.Result, error) {
			prompt = p
			return &provider.Result{
				Text:  `{"has_critical_error": false, "issues": ["minor wording"]}`,
				Usage: provider.Usage{PromptTokens: 5, CompletionTokens: 5, TotalTokens: 10},
			}, nil
		},
	}
	critic := New(gen, nil)

	verdict, usage, err := critic.Review(context.Background(), translatedChunks(), nil, domain.Config{TargetLang: "uk"})
	if err != nil {
		t.Fatalf("Review failed: %v", err)
	}
	if gen.callCount.Load() != 1 {
		t.Errorf("expected one review call for the whole document, got %d", gen.callCount.Load())
	}
	if verdict.HasCriticalError {
		t.Error("unexpected critical error flag")
	}
	if len(verdict.Issues) != 1 {
		t.Errorf("expected 1 issue, got %d", len(verdict.Issues))
	}
	if usage.TotalTokens != 10 {
		t.Errorf("expected usage reported, got %+v", usage)
	}
	// Both passages appear in the single prompt.
	if !strings.Contains(prompt, "PASSAGE 0") || !strings.Contains(prompt, "PASSAGE 1") {
		t.Error("expected both passages in the review prompt")
	}
}

func TestReview_ParsesFencedVerdictWithChunkIssues(t *testing.T) {
	gen := &mockGenerator{
		generateFunc: func(ctx context.Context, p string, _ provider.Params) (*provider.Result, error) {
			return &provider.Result{Text: "```json\n" +
				`{"has_critical_error": true, "issues": ["meaning lost"], "chunk_issues": {"1": ["omitted clause"], "bad": ["ignored"]}}` +
				"\n```"}, nil
		},
	}
	critic := New(gen, nil)

	verdict, _, err := critic.Review(context.Background(), translatedChunks(), nil, domain.Config{TargetLang: "uk"})
	if err != nil {
		t.Fatalf("Review failed: %v", err)
	}
	if !verdict.HasCriticalError {
		t.Error("expected critical error flag")
	}
	issues, ok := verdict.ChunkIssues[1]
	if !ok || len(issues) != 1 || issues[0] != "omitted clause" {
		t.Errorf("unexpected chunk issues: %+v", verdict.ChunkIssues)
	}
	if len(verdict.ChunkIssues) != 1 {
		t.Errorf("non-numeric keys should be dropped, got %+v", verdict.ChunkIssues)
	}
}

func TestReview_GenerationFailure(t *testing.T) {
	gen := &mockGenerator{
		generateFunc: func(ctx context.Context, p string, _ provider.Params) (*provider.Result, error) {
			return nil, errors.New("model down")
		},
	}
	critic := New(gen, nil)

	if _, _, err := critic.Review(context.Background(), translatedChunks(), nil, domain.Config{TargetLang: "uk"}); err == nil {
		t.Fatal("expected error when the review call fails")
	}
}

func TestReview_UnparseableVerdict(t *testing.T) {
	gen := &mockGenerator{
		generateFunc: func(ctx context.Context, p string, _ provider.Params) (*provider.Result, error) {
			return &provider.Result{Text: "The translation looks fine to me!"}, nil
		},
	}
	critic := New(gen, nil)

	if _, _, err := critic.Review(context.Background(), translatedChunks(), nil, domain.Config{TargetLang: "uk"}); err == nil {
		t.Fatal("expected error for an unparseable verdict")
	}
}

func TestBuildReviewPrompt_TruncatesLongPassages(t *testing.T) {
	long := strings.Repeat("слово ", 1000)
	chunks := []domain.Chunk{{Index: 0, SourceText: long, TranslatedText: long, Status: domain.ChunkTranslated}}

	prompt := buildReviewPrompt(chunks, nil, domain.Config{TargetLang: "uk"})

	if !strings.Contains(prompt, "[...]") {
		t.Error("expected truncation marker for oversized passages")
	}
	if len([]rune(prompt)) > 2*len([]rune(long)) {
		t.Error("prompt should be much shorter than the raw passages")
	}
}
