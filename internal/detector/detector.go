// Package detector wraps lingua-go language detection for source language
// auto-detection at job submission and translated-output validation.
package detector

import (
	lingua "github.com/pemistahl/lingua-go"
)

// Detector identifies the language of a text sample. Building one loads
// language models and is expensive; construct once and reuse.
type Detector struct {
	det lingua.LanguageDetector
}

// New builds a detector over all languages lingua supports.
func New() *Detector {
	return &Detector{
		det: lingua.NewLanguageDetectorBuilder().
			FromAllLanguages().
			Build(),
	}
}

// Detect returns the detected language, or false when ambiguous.
func (d *Detector) Detect(text string) (lingua.Language, bool) {
	if text == "" {
		return lingua.Unknown, false
	}
	return d.det.DetectLanguageOf(text)
}

// DetectISO returns the ISO 639-1 code of the detected language.
func (d *Detector) DetectISO(text string) (string, bool) {
	lang, ok := d.Detect(text)
	if !ok {
		return "", false
	}
	return lang.IsoCode639_1().String(), true
}

// DetectName returns the English name of the detected language ("English",
// "Ukrainian"), useful for matching free-form language identifiers.
func (d *Detector) DetectName(text string) (string, bool) {
	lang, ok := d.Detect(text)
	if !ok {
		return "", false
	}
	return lang.String(), true
}
