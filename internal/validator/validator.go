// Package validator checks that generation output is written in the
// expected target language. The worker pool treats a failed check as a
// transient error, so a model answering in the wrong language is retried
// instead of accepted.
package validator

import (
	"fmt"
	"strings"

	"github.com/valpere/turjuman/internal/detector"
)

// minCheckRunes is the minimum rune count for a reliable detection;
// shorter texts pass without validation.
const minCheckRunes = 20

// Validator validates translated text against a target language that may
// be an ISO code ("uk") or a free-form name ("ukrainian").
type Validator struct {
	det *detector.Detector
}

// New creates a Validator. The underlying detector is expensive to build;
// reuse the instance across jobs.
func New() *Validator {
	return &Validator{det: detector.New()}
}

// NewWith wraps an existing detector.
func NewWith(det *detector.Detector) *Validator {
	return &Validator{det: det}
}

// Check returns nil when text appears to be written in targetLang, or an
// error naming the expected and detected languages. Texts too short to
// detect, and target identifiers the detector cannot resolve, pass.
func (v *Validator) Check(text, targetLang string) error {
	targetLang = strings.TrimSpace(targetLang)
	if targetLang == "" {
		return nil
	}

	text = strings.TrimSpace(text)
	if text == "" {
		return fmt.Errorf("translation is empty")
	}
	if len([]rune(text)) < minCheckRunes {
		return nil
	}

	iso, okISO := v.det.DetectISO(text)
	name, okName := v.det.DetectName(text)
	if !okISO && !okName {
		// Ambiguous sample, cannot validate.
		return nil
	}

	if strings.EqualFold(iso, targetLang) || strings.EqualFold(name, targetLang) {
		return nil
	}
	return fmt.Errorf("expected %s but detected %s", targetLang, detectedLabel(iso, name))
}

// detectedLabel names the detected language for error messages, using
// whichever of the name and ISO lookups succeeded.
func detectedLabel(iso, name string) string {
	switch {
	case name == "":
		return iso
	case iso == "":
		return name
	default:
		return name + " (" + iso + ")"
	}
}
