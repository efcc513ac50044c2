// Package critique reviews a completed translation pass as one document
// and returns a structured verdict. The verdict decides whether the job
// proceeds to revision or fails: a critical error means the translation
// must not be published as-is.
package critique

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strconv"
	"strings"

	"github.com/valpere/turjuman/internal/domain"
	"github.com/valpere/turjuman/internal/postprocess"
	"github.com/valpere/turjuman/internal/provider"
)

// pairRunes caps each source/translation excerpt embedded in the review
// prompt so large documents still fit one call.
const pairRunes = 1200

// Critic produces a document-scoped critique of translated chunks.
type Critic struct {
	gen provider.Generator
	log *slog.Logger
}

// New creates a Critic.
func New(gen provider.Generator, log *slog.Logger) *Critic {
	if log == nil {
		log = slog.Default()
	}
	return &Critic{gen: gen, log: log}
}

// Review critiques the whole translation in a single call and returns the
// parsed verdict. A generation or parse failure is returned as an error;
// callers treat it as critical, because an unreviewable translation cannot
// be vouched for.
func (c *Critic) Review(ctx context.Context, chunks []domain.Chunk, glossary domain.Glossary, cfg domain.Config) (*domain.Critique, provider.Usage, error) {
	var usage provider.Usage

	prompt := buildReviewPrompt(chunks, glossary, cfg)
	res, err := c.gen.Generate(ctx, prompt, provider.Params{Model: cfg.Model})
	if err != nil {
		return nil, usage, fmt.Errorf("critique call: %w", err)
	}
	usage.Add(res.Usage)

	verdict, err := parseVerdict(res.Text)
	if err != nil {
		return nil, usage, fmt.Errorf("parse critique response: %w", err)
	}

	c.log.Debug("critique complete",
		"critical", verdict.HasCriticalError,
		"issues", len(verdict.Issues),
		"flagged_chunks", len(verdict.ChunkIssues))
	return verdict, usage, nil
}

func buildReviewPrompt(chunks []domain.Chunk, glossary domain.Glossary, cfg domain.Config) string {
	var sb strings.Builder

	fmt.Fprintf(&sb, "You are a translation reviewer. The document below was translated into %s in numbered passages.\n", cfg.TargetLang)
	sb.WriteString("Review the translation as a whole for meaning loss, mistranslation, omissions, and inconsistent terminology across passages.\n")

	if len(glossary) > 0 {
		sb.WriteString("\nThe translation was required to use this terminology:\n")
		for _, term := range glossary.Terms() {
			if tr := term.TranslationFor(cfg.TargetLang); tr != "" {
				fmt.Fprintf(&sb, "  %s -> %s\n", term.SourceTerm, tr)
			}
		}
	}

	sb.WriteString("\nRespond ONLY with JSON in exactly this shape:\n")
	sb.WriteString(`{"has_critical_error": false, "issues": ["..."], "chunk_issues": {"0": ["..."]}}`)
	sb.WriteString("\nSet has_critical_error true only for meaning-changing problems, not style preferences.\n")
	sb.WriteString("Keys of chunk_issues are passage numbers.\n")

	for _, ch := range chunks {
		fmt.Fprintf(&sb, "\n--- PASSAGE %d SOURCE ---\n%s\n", ch.Index, truncate(ch.SourceText, pairRunes))
		fmt.Fprintf(&sb, "--- PASSAGE %d TRANSLATION ---\n%s\n", ch.Index, truncate(ch.FinalText(), pairRunes))
	}
	return sb.String()
}

func truncate(text string, maxRunes int) string {
	runes := []rune(text)
	if len(runes) <= maxRunes {
		return text
	}
	return string(runes[:maxRunes]) + " [...]"
}

// parseVerdict decodes the model's JSON verdict, tolerating code fences
// and commentary around it. chunk_issues arrives keyed by strings because
// JSON objects cannot have integer keys.
func parseVerdict(text string) (*domain.Critique, error) {
	var raw struct {
		HasCriticalError bool                `json:"has_critical_error"`
		Issues           []string            `json:"issues"`
		ChunkIssues      map[string][]string `json:"chunk_issues"`
	}
	if err := json.Unmarshal([]byte(postprocess.ExtractJSON(text)), &raw); err != nil {
		return nil, err
	}

	verdict := &domain.Critique{
		HasCriticalError: raw.HasCriticalError,
		Issues:           raw.Issues,
	}
	if len(raw.ChunkIssues) > 0 {
		verdict.ChunkIssues = make(map[int][]string, len(raw.ChunkIssues))
		for key, issues := range raw.ChunkIssues {
			idx, err := strconv.Atoi(strings.TrimSpace(key))
			if err != nil || len(issues) == 0 {
				continue
			}
			verdict.ChunkIssues[idx] = issues
		}
	}
	return verdict, nil
}
