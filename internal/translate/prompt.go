package translate

import (
	"fmt"
	"strings"

	"github.com/valpere/turjuman/internal/domain"
)

func buildTranslationPrompt(source string, glossary domain.Glossary, cfg domain.Config) string {
	var sb strings.Builder

	fmt.Fprintf(&sb, "You are an expert literary translator. Translate the following text into %s.\n", cfg.TargetLang)
	if cfg.SourceLang != "" && cfg.SourceLang != "auto" {
		fmt.Fprintf(&sb, "The source language is %s.\n", cfg.SourceLang)
	}
	writeAccent(&sb, cfg)
	writeFormatHints(&sb, source)
	writeGlossary(&sb, glossary, cfg.TargetLang)

	sb.WriteString("\nPreserve the original markdown structure, paragraph breaks, and whitespace exactly.\n")
	sb.WriteString("Respond ONLY with the translated text, no preamble or commentary.\n")
	sb.WriteString("\nTEXT:\n")
	sb.WriteString(source)
	return sb.String()
}

func buildRevisionPrompt(source, translated string, glossary domain.Glossary, critique *domain.Critique, chunkIndex int, cfg domain.Config) string {
	var sb strings.Builder

	fmt.Fprintf(&sb, "You are an expert literary translator revising a translation into %s.\n", cfg.TargetLang)
	writeAccent(&sb, cfg)
	writeGlossary(&sb, glossary, cfg.TargetLang)

	if critique != nil {
		if len(critique.Issues) > 0 {
			sb.WriteString("\nA reviewer found these issues across the document:\n")
			for _, issue := range critique.Issues {
				fmt.Fprintf(&sb, "- %s\n", issue)
			}
		}
		if issues := critique.ChunkIssues[chunkIndex]; len(issues) > 0 {
			sb.WriteString("\nIssues specific to this passage:\n")
			for _, issue := range issues {
				fmt.Fprintf(&sb, "- %s\n", issue)
			}
		}
	}

	sb.WriteString("\nRewrite the translation to fix the issues while staying faithful to the source.\n")
	sb.WriteString("Preserve the original markdown structure, paragraph breaks, and whitespace exactly.\n")
	sb.WriteString("Respond ONLY with the revised translation, no commentary.\n")
	sb.WriteString("\nSOURCE TEXT:\n")
	sb.WriteString(source)
	sb.WriteString("\n\nCURRENT TRANSLATION:\n")
	sb.WriteString(translated)
	return sb.String()
}

func writeAccent(sb *strings.Builder, cfg domain.Config) {
	accent := cfg.TargetLanguageAccent
	if accent == "" {
		accent = domain.DefaultAccent
	}
	fmt.Fprintf(sb, "Write in a %s register appropriate for a published book.\n", accent)
}

// writeFormatHints adds handling instructions only when the chunk actually
// contains the construct, keeping prompts short for plain prose.
func writeFormatHints(sb *strings.Builder, source string) {
	if strings.Contains(source, "```") {
		sb.WriteString("Keep fenced code blocks byte-for-byte unchanged; translate only surrounding prose and code comments.\n")
	}
	if strings.Contains(source, "![") {
		sb.WriteString("Keep image links unchanged; translate only their alt text.\n")
	}
}

func writeGlossary(sb *strings.Builder, glossary domain.Glossary, targetLang string) {
	if len(glossary) == 0 {
		return
	}
	sb.WriteString("\nTERMINOLOGY (use these translations consistently):\n")
	for _, term := range glossary.Terms() {
		if tr := term.TranslationFor(targetLang); tr != "" {
			fmt.Fprintf(sb, "  %s -> %s\n", term.SourceTerm, tr)
		}
	}
}
