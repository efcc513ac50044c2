package domain

import (
	"fmt"
	"strings"

	"golang.org/x/text/language"
)

// Defaults applied by ApplyDefaults when a submission leaves fields unset.
const (
	DefaultAccent       = "professional"
	DefaultMaxChunkSize = 4000
	DefaultMaxWorkers   = 4
	DefaultMaxAttempts  = 3
)

// Config is the translation configuration for one job. It is immutable
// once the job starts; re-submission creates a new job.
type Config struct {
	SourceLang           string `json:"source_lang"`
	TargetLang           string `json:"target_lang"`
	Provider             string `json:"provider"`
	Model                string `json:"model"`
	TargetLanguageAccent string `json:"target_language_accent"`
	TranslationMode      Mode   `json:"translation_mode"`
	MaxChunkSize         int    `json:"max_chunk_size,omitempty"`
	MaxWorkers           int    `json:"max_workers,omitempty"`
	MaxAttempts          int    `json:"max_attempts,omitempty"`
}

// ApplyDefaults fills unset fields and canonicalizes language identifiers.
func (c *Config) ApplyDefaults() {
	if c.TargetLanguageAccent == "" {
		c.TargetLanguageAccent = DefaultAccent
	}
	if c.TranslationMode == "" {
		c.TranslationMode = ModeDeep
	}
	if c.MaxChunkSize <= 0 {
		c.MaxChunkSize = DefaultMaxChunkSize
	}
	if c.MaxWorkers <= 0 {
		c.MaxWorkers = DefaultMaxWorkers
	}
	if c.MaxAttempts <= 0 {
		c.MaxAttempts = DefaultMaxAttempts
	}
	c.SourceLang = NormalizeLang(c.SourceLang)
	c.TargetLang = NormalizeLang(c.TargetLang)
}

// Validate reports configuration errors that would make the job unrunnable.
func (c Config) Validate() error {
	if c.TargetLang == "" {
		return fmt.Errorf("target_lang is required")
	}
	switch c.TranslationMode {
	case ModeQuick, ModeDeep:
	default:
		return fmt.Errorf("unknown translation_mode %q", c.TranslationMode)
	}
	return nil
}

// NormalizeLang canonicalizes a language identifier to its BCP 47 base
// form when parseable ("EN" → "en", "uk-UA" → "uk"). Free-form names like
// "english" are kept as typed, lowercased, since prompts accept them.
func NormalizeLang(lang string) string {
	lang = strings.TrimSpace(lang)
	if lang == "" || strings.EqualFold(lang, "auto") {
		return strings.ToLower(lang)
	}
	if tag, err := language.Parse(lang); err == nil {
		base, conf := tag.Base()
		if conf >= language.High {
			return base.String()
		}
	}
	return strings.ToLower(lang)
}
