// Package postprocess removes common LLM artifacts from generation output
// before it is used downstream: thinking blocks, echoed instructions,
// wrapping quotes, and markdown code fences around JSON replies.
package postprocess

import (
	"regexp"
	"strings"
)

// Clean strips LLM artifacts from prose output and returns the trimmed
// result. Applied to every translation, revision, and extraction reply.
func Clean(text string) string {
	text = stripThinking(text)
	text = stripEchoes(text)
	text = stripWrappingQuotes(text)
	return strings.TrimSpace(text)
}

// Reasoning-style tags are listed explicitly; RE2 has no backreferences.
var (
	thinkingRe = regexp.MustCompile(
		`(?is)<thinking>.*?</thinking>|<think>.*?</think>|<reasoning>.*?</reasoning>|<reflection>.*?</reflection>`)
	// An opened tag with no closing tag means the model was cut off
	// mid-thought; drop everything from the tag on.
	openThinkingRe = regexp.MustCompile(
		`(?is)(?:<thinking>|<think>|<reasoning>|<reflection>).*$`)
)

func stripThinking(text string) string {
	text = thinkingRe.ReplaceAllString(text, "")
	text = openThinkingRe.ReplaceAllString(text, "")
	return strings.TrimSpace(text)
}

// echoRes match introductory phrases models prepend even when told not to.
// Anchored to the start and requiring a colon to limit false positives.
var echoRes = []*regexp.Regexp{
	regexp.MustCompile(`(?i)^here(?:'s| is)(?: the)? (?:refined |polished |revised |translated )?(?:translation|text)\s*:`),
	regexp.MustCompile(`(?i)^(?:the )?(?:refined |polished |revised )?(?:translation|translated text)\s*:`),
	regexp.MustCompile(`(?i)^(?:certainly|sure|of course)[,.]? here(?:'s| is)(?: the)? (?:refined |polished |translated )?(?:translation|text)\s*:`),
}

func stripEchoes(text string) string {
	for _, re := range echoRes {
		if loc := re.FindStringIndex(text); loc != nil && loc[0] == 0 {
			text = strings.TrimSpace(text[loc[1]:])
		}
	}
	return text
}

// stripWrappingQuotes removes a matching pair of outer quotes when the
// whole text is wrapped in them.
func stripWrappingQuotes(text string) string {
	runes := []rune(text)
	n := len(runes)
	if n < 2 {
		return text
	}
	pairs := map[rune]rune{
		'"':      '"',
		'\'':     '\'',
		'«':      '»',
		'“': '”',
		'‘': '’',
	}
	if close, ok := pairs[runes[0]]; ok && runes[n-1] == close {
		return strings.TrimSpace(string(runes[1 : n-1]))
	}
	return text
}

// ExtractJSON returns the JSON payload of a reply that may be wrapped in
// markdown code fences or surrounded by commentary. It strips a leading
// ```/```json fence and its closing fence, then falls back to the span
// between the first opening bracket and the last closing one.
func ExtractJSON(text string) string {
	text = strings.TrimSpace(stripThinking(text))

	if strings.HasPrefix(text, "```") {
		if nl := strings.IndexByte(text, '\n'); nl != -1 {
			text = text[nl+1:]
		}
		if end := strings.LastIndex(text, "```"); end != -1 {
			text = text[:end]
		}
		text = strings.TrimSpace(text)
	}

	start := strings.IndexAny(text, "[{")
	if start == -1 {
		return text
	}
	var end int
	if text[start] == '[' {
		end = strings.LastIndexByte(text, ']')
	} else {
		end = strings.LastIndexByte(text, '}')
	}
	if end > start {
		return text[start : end+1]
	}
	return text
}
