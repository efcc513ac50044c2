/*
Copyright © 2025 Valentyn Solomko <valentyn.solomko@gmail.com>

Licensed under the Apache License, Version 2.0 (the "License");
you may not use this file except in compliance with the License.
You may obtain a copy of the License at

	http://www.apache.org/licenses/LICENSE-2.0

Unless required by applicable law or agreed to in writing, software
distributed under the License is distributed on an "AS IS" BASIS,
WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
See the License for the specific language governing permissions and
limitations under the License.
*/
package cmd

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"

	"github.com/valpere/turjuman/internal/domain"
	"github.com/valpere/turjuman/internal/engine"
)

var (
	inputFile  string
	outputFile string
	sourceLang string
	targetLang string
	accent     string

	providerName string
	modelName    string
	mode         string

	maxChunkSize int
	maxWorkers   int

	glossarySelector string

	translateDBPath   string
	translateValidate bool
)

var translateCmd = &cobra.Command{
	Use:   "translate",
	Short: "Translate a document file",
	Long: `Translate a document through the full pipeline and write the result
to the output file.

Modes:
  quick   Chunk, translate, assemble
  deep    Adds terminology unification, critique, and revision

Glossary:
  --glossary none      No stored glossary (default)
  --glossary default   Use the default stored glossary
  --glossary <id>      Use a stored glossary by ID

Example:
  turjuman translate -i book.md -o book.uk.md --target uk --mode deep`,
	RunE: func(cmd *cobra.Command, args []string) error {
		if inputFile == outputFile {
			return fmt.Errorf("input file and output file cannot be the same")
		}

		content, err := os.ReadFile(inputFile)
		if err != nil {
			return fmt.Errorf("failed to read input file: %w", err)
		}

		db, err := openStore(translateDBPath)
		if err != nil {
			return err
		}
		defer db.Close()

		eng := newEngine(db, translateValidate)

		job, err := eng.Submit(engine.SubmitRequest{
			OriginalContent:  string(content),
			OriginalFilename: filepath.Base(inputFile),
			Config: domain.Config{
				SourceLang:           sourceLang,
				TargetLang:           targetLang,
				Provider:             providerName,
				Model:                modelName,
				TargetLanguageAccent: accent,
				TranslationMode:      domain.Mode(mode),
				MaxChunkSize:         maxChunkSize,
				MaxWorkers:           maxWorkers,
			},
			GlossarySelector: glossarySelector,
		})
		if err != nil {
			return err
		}
		fmt.Fprintf(os.Stderr, "Job %s started (%s mode, %s -> %s)\n",
			job.ID, job.Config.TranslationMode, job.Config.SourceLang, job.Config.TargetLang)

		sub := eng.Subscribe(job.ID)
		defer sub.Close()

		// A job that failed before the subscription landed has no stream
		// left; the check below must come after Subscribe so no terminal
		// update can slip between them.
		snap, err := eng.Get(job.ID)
		if err != nil {
			return fmt.Errorf("failed to load job: %w", err)
		}
		if !snap.Status.Terminal() {
			for update := range sub.C {
				fmt.Fprintf(os.Stderr, "  %-25s %5.1f%%\n", update.Step, update.Progress)
			}
		}

		// The stream is closed; the store holds the terminal state.
		final, err := eng.Get(job.ID)
		if err != nil {
			return fmt.Errorf("failed to load job result: %w", err)
		}
		if final.Status != domain.JobCompleted {
			return fmt.Errorf("translation failed: %s", final.ErrorInfo)
		}
		if final.FinalDocument == nil {
			return fmt.Errorf("job completed without a final document")
		}

		if dir := filepath.Dir(outputFile); dir != "." && dir != "" {
			if err := os.MkdirAll(dir, 0755); err != nil {
				return fmt.Errorf("failed to create output directory: %w", err)
			}
		}
		if err := os.WriteFile(outputFile, []byte(*final.FinalDocument), 0644); err != nil {
			return fmt.Errorf("failed to write output file: %w", err)
		}

		fmt.Printf("Successfully translated %s to %s (%d chunks, %d tokens)\n",
			final.Config.SourceLang, final.Config.TargetLang,
			len(final.Chunks), final.Metrics.TotalTokens)
		return nil
	},
}

func init() {
	rootCmd.AddCommand(translateCmd)

	translateCmd.Flags().StringVarP(&inputFile, "input", "i", "", "Input file (required)")
	translateCmd.Flags().StringVarP(&outputFile, "output", "o", "", "Output file (required)")
	translateCmd.Flags().StringVarP(&sourceLang, "source", "s", "auto", "Source language (auto-detected by default)")
	translateCmd.Flags().StringVarP(&targetLang, "target", "t", "", "Target language (required)")
	translateCmd.Flags().StringVar(&accent, "accent", "", "Target register, e.g. professional, literary, casual")
	translateCmd.Flags().StringVar(&providerName, "provider", "", "LLM provider: ollama, openrouter")
	translateCmd.Flags().StringVar(&modelName, "model", "", "Model name")
	translateCmd.Flags().StringVar(&mode, "mode", "deep", "Translation mode: quick, deep")
	translateCmd.Flags().IntVar(&maxChunkSize, "chunk-size", 0, "Maximum chunk size in characters")
	translateCmd.Flags().IntVar(&maxWorkers, "workers", 0, "Concurrent translation workers")
	translateCmd.Flags().StringVar(&glossarySelector, "glossary", "", "Glossary selector: none, default, or a glossary ID")
	translateCmd.Flags().StringVar(&translateDBPath, "db", defaultDBPath, "Database path")
	translateCmd.Flags().BoolVar(&translateValidate, "validate-language", true, "Validate that generated text is in the target language")

	translateCmd.MarkFlagRequired("input")
	translateCmd.MarkFlagRequired("output")
	translateCmd.MarkFlagRequired("target")
}
