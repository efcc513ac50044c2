// Package glossary resolves the unified term list a job translates with:
// the user's glossary, an auto-extracted one, or none. Terminology
// unification is a quality enhancement, not a correctness requirement, so
// extraction failures degrade to an empty glossary instead of aborting
// the job.
package glossary

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"

	"golang.org/x/text/unicode/norm"

	"github.com/valpere/turjuman/internal/domain"
	"github.com/valpere/turjuman/internal/markdown"
	"github.com/valpere/turjuman/internal/postprocess"
	"github.com/valpere/turjuman/internal/provider"
)

// Glossary source labels reported back to clients.
const (
	SourceNone = "none"
	SourceUser = "user"
	SourceAuto = "auto"
)

// excerptRunes caps the document context embedded in the extraction
// prompt.
const excerptRunes = 8000

// Resolver produces the glossary used by translation and critique prompts.
type Resolver struct {
	gen provider.Generator
	log *slog.Logger
}

// NewResolver creates a Resolver. gen may be nil when only quick mode or
// user glossaries are in play.
func NewResolver(gen provider.Generator, log *slog.Logger) *Resolver {
	if log == nil {
		log = slog.Default()
	}
	return &Resolver{gen: gen, log: log}
}

// Resolve returns the glossary for a job, the source label actually used,
// and the token usage of any extraction call.
//
// Quick mode skips terminology entirely. In deep mode a user glossary is
// returned contextualized (filtered to terms occurring in the document);
// without one, candidate terms are auto-extracted from a document excerpt.
func (r *Resolver) Resolve(ctx context.Context, document string, user domain.Glossary, cfg domain.Config) (domain.Glossary, string, provider.Usage) {
	var usage provider.Usage

	if cfg.TranslationMode == domain.ModeQuick {
		return domain.Glossary{}, SourceNone, usage
	}

	if len(user) > 0 {
		return contextualize(user, document), SourceUser, usage
	}

	if r.gen == nil {
		return domain.Glossary{}, SourceNone, usage
	}

	extracted, u, err := r.extract(ctx, document, cfg)
	usage.Add(u)
	if err != nil {
		r.log.Warn("terminology extraction failed, continuing without glossary", "error", err)
		return domain.Glossary{}, SourceNone, usage
	}
	if len(extracted) == 0 {
		return domain.Glossary{}, SourceNone, usage
	}
	return extracted, SourceAuto, usage
}

// contextualize keeps the terms whose source form occurs in the document.
// When nothing matches, the full glossary is kept: filtering is a prompt
// size optimization, not a gate.
func contextualize(user domain.Glossary, document string) domain.Glossary {
	haystack := strings.ToLower(document)
	filtered := domain.Glossary{}
	for key, term := range user {
		if strings.Contains(haystack, strings.ToLower(term.SourceTerm)) {
			filtered[key] = term
		}
	}
	if len(filtered) == 0 {
		return user
	}
	return filtered
}

func (r *Resolver) extract(ctx context.Context, document string, cfg domain.Config) (domain.Glossary, provider.Usage, error) {
	var usage provider.Usage

	excerpt := markdown.Excerpt(document, excerptRunes)
	prompt := buildExtractionPrompt(excerpt, cfg)

	res, err := r.gen.Generate(ctx, prompt, provider.Params{Model: cfg.Model})
	if err != nil {
		return nil, usage, fmt.Errorf("extraction call: %w", err)
	}
	usage.Add(res.Usage)

	gloss, err := ParseTerms(res.Text)
	if err != nil {
		return nil, usage, fmt.Errorf("parse extraction response: %w", err)
	}
	return gloss, usage, nil
}

func buildExtractionPrompt(excerpt string, cfg domain.Config) string {
	var sb strings.Builder
	sb.WriteString("You are a terminology specialist preparing a glossary for a book translation.\n")
	fmt.Fprintf(&sb, "Source language: %s. Target language: %s.\n\n", orDetect(cfg.SourceLang), cfg.TargetLang)
	sb.WriteString("Extract the key recurring terms from the document excerpt below: proper nouns, technical vocabulary, and named concepts whose translation must stay consistent across the whole document.\n")
	sb.WriteString("Respond ONLY with a JSON array, no commentary:\n")
	fmt.Fprintf(&sb, `[{"source_term": "...", "proposed_translations": {"%s": "..."}}]`, cfg.TargetLang)
	sb.WriteString("\n\nDOCUMENT EXCERPT:\n")
	sb.WriteString(excerpt)
	return sb.String()
}

func orDetect(lang string) string {
	if lang == "" || lang == "auto" {
		return "the detected language"
	}
	return lang
}

// ParseTerms decodes a JSON term list (tolerating code fences and
// surrounding commentary) into a Glossary, deduplicating by normalized
// source term with last-write-wins on collision.
func ParseTerms(text string) (domain.Glossary, error) {
	var entries []domain.GlossaryTerm
	if err := json.Unmarshal([]byte(postprocess.ExtractJSON(text)), &entries); err != nil {
		return nil, err
	}

	gloss := domain.Glossary{}
	for _, e := range entries {
		e.SourceTerm = strings.TrimSpace(e.SourceTerm)
		if e.SourceTerm == "" || len(e.Translations) == 0 {
			continue
		}
		gloss[TermKey(e.SourceTerm)] = e
	}
	return gloss, nil
}

// TermKey normalizes a source term for use as a glossary key: NFC
// normalization, trimmed, case-folded.
func TermKey(term string) string {
	return strings.ToLower(norm.NFC.String(strings.TrimSpace(term)))
}
