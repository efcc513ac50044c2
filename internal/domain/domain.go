// Package domain defines the data model shared by the translation
// pipeline: jobs, chunks, glossaries, critiques, and metrics.
package domain

import (
	"sort"
	"strings"
	"time"
)

// JobStatus is the coarse lifecycle state of a job.
type JobStatus string

const (
	JobPending   JobStatus = "pending"
	JobRunning   JobStatus = "running"
	JobCompleted JobStatus = "completed"
	JobFailed    JobStatus = "failed"
)

// Terminal reports whether the status is final.
func (s JobStatus) Terminal() bool {
	return s == JobCompleted || s == JobFailed
}

// Step names the pipeline stage a job is currently in.
type Step string

const (
	StepPending     Step = "pending"
	StepChunking    Step = "chunking"
	StepTerminology Step = "terminology_unification"
	StepTranslating Step = "translating"
	StepCritiquing  Step = "critiquing"
	StepRevising    Step = "revising"
	StepAssembling  Step = "assembling"
	StepCompleted   Step = "completed"
	StepFailed      Step = "failed"
)

// Mode selects the pipeline variant.
type Mode string

const (
	// ModeQuick translates chunks directly and assembles.
	ModeQuick Mode = "quick"
	// ModeDeep adds terminology unification, critique, and revision.
	ModeDeep Mode = "deep"
)

// ChunkStatus tracks a single chunk through the pipeline.
type ChunkStatus string

const (
	ChunkPending     ChunkStatus = "pending"
	ChunkTranslating ChunkStatus = "translating"
	ChunkTranslated  ChunkStatus = "translated"
	ChunkCritiqued   ChunkStatus = "critiqued"
	ChunkRefined     ChunkStatus = "refined"
	ChunkFailed      ChunkStatus = "failed"
)

// Chunk is an ordered, indexed segment of the source document sized for
// one generation call. Index defines document order and never changes;
// concatenating SourceText in index order reconstructs the original
// document byte for byte.
type Chunk struct {
	Index          int         `json:"index"`
	SourceText     string      `json:"source_text"`
	TranslatedText string      `json:"translated_chunk,omitempty"`
	RefinedText    string      `json:"refined_text,omitempty"`
	Status         ChunkStatus `json:"status"`
	Error          string      `json:"error,omitempty"`
}

// FinalText returns the refined translation when present, otherwise the
// initial translation.
func (c *Chunk) FinalText() string {
	if c.RefinedText != "" {
		return c.RefinedText
	}
	return c.TranslatedText
}

// GlossaryTerm maps a source term to per-language proposed translations.
// The "default" key applies when no language-specific entry exists.
type GlossaryTerm struct {
	SourceTerm   string            `json:"source_term"`
	Translations map[string]string `json:"proposed_translations"`
}

// TranslationFor returns the proposed translation for targetLang, falling
// back to the "default" entry, then to any entry.
func (t GlossaryTerm) TranslationFor(targetLang string) string {
	if v, ok := t.Translations[targetLang]; ok {
		return v
	}
	for k, v := range t.Translations {
		if strings.EqualFold(k, targetLang) {
			return v
		}
	}
	if v, ok := t.Translations["default"]; ok {
		return v
	}
	for _, v := range t.Translations {
		return v
	}
	return ""
}

// Glossary is a set of terms keyed by normalized source term.
type Glossary map[string]GlossaryTerm

// Terms returns the glossary entries ordered by source term, for stable
// prompt construction and persistence.
func (g Glossary) Terms() []GlossaryTerm {
	terms := make([]GlossaryTerm, 0, len(g))
	for _, t := range g {
		terms = append(terms, t)
	}
	sort.Slice(terms, func(i, j int) bool { return terms[i].SourceTerm < terms[j].SourceTerm })
	return terms
}

// Critique is the document-scoped verdict of the critique stage.
// HasCriticalError is a deliberate coarse tie-break: terminology
// contradictions and meaning loss set it, stylistic nits never do.
type Critique struct {
	HasCriticalError bool             `json:"has_critical_error"`
	Issues           []string         `json:"issues"`
	ChunkIssues      map[int][]string `json:"chunk_issues,omitempty"`
}

// Metrics accumulates token usage and wall-clock bounds for a job.
type Metrics struct {
	PromptTokens     int64      `json:"prompt_tokens"`
	CompletionTokens int64      `json:"completion_tokens"`
	TotalTokens      int64      `json:"total_tokens"`
	SourceWords      int        `json:"word_count_source,omitempty"`
	TargetWords      int        `json:"word_count_target,omitempty"`
	StartedAt        time.Time  `json:"started_at"`
	FinishedAt       *time.Time `json:"finished_at,omitempty"`
}

// AddUsage adds one generation call's token counts.
func (m *Metrics) AddUsage(prompt, completion int) {
	m.PromptTokens += int64(prompt)
	m.CompletionTokens += int64(completion)
	m.TotalTokens += int64(prompt + completion)
}

// Job is the unit of persistence and concurrency isolation. It is mutated
// exclusively by the pipeline engine; two jobs never share mutable state.
type Job struct {
	ID              string    `json:"job_id"`
	Filename        string    `json:"original_filename,omitempty"`
	OriginalContent string    `json:"-"`
	Config          Config    `json:"config"`
	Status          JobStatus `json:"status"`
	CurrentStep     Step      `json:"current_step"`
	Progress        float64   `json:"progress_percent"`
	GlossarySource  string    `json:"glossary_source,omitempty"`
	Glossary        Glossary  `json:"job_glossary,omitempty"`
	Critique        *Critique `json:"critiques,omitempty"`
	Chunks          []Chunk   `json:"chunks,omitempty"`
	FinalDocument   *string   `json:"final_document"`
	ErrorInfo       string    `json:"error_info,omitempty"`
	Metrics         Metrics   `json:"metrics"`
	CreatedAt       time.Time `json:"created_at"`
	UpdatedAt       time.Time `json:"updated_at"`
}

// CountWords counts whitespace-separated words, used for job metrics.
func CountWords(text string) int {
	return len(strings.Fields(text))
}
