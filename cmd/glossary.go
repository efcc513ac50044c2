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
	"encoding/json"
	"fmt"
	"os"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/google/uuid"
	"github.com/spf13/cobra"

	"github.com/valpere/turjuman/internal/domain"
	"github.com/valpere/turjuman/internal/glossary"
	"github.com/valpere/turjuman/internal/store"
)

var glossaryDBPath string

var glossaryCmd = &cobra.Command{
	Use:   "glossary",
	Short: "Manage stored glossaries",
	Long: `Create, inspect, and delete stored glossaries.

A glossary pins the translation of recurring terms (proper nouns, brand
names, domain vocabulary) so every chunk of a job renders them the same
way. Jobs select a glossary with --glossary <id>, --glossary default,
or inline terms in the API request.`,
}

var (
	glossaryImportName    string
	glossaryImportDefault bool
)

var glossaryImportCmd = &cobra.Command{
	Use:   "import <file.json>",
	Short: "Create a glossary from a JSON term file",
	Long: `Create a stored glossary from a JSON file of terms:

  [{"source_term": "Kyiv", "proposed_translations": {"uk": "Київ"}}]

Example:
  turjuman glossary import terms.json --name "City names" --default`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		data, err := os.ReadFile(args[0])
		if err != nil {
			return fmt.Errorf("failed to read term file: %w", err)
		}
		terms, err := glossary.ParseTerms(string(data))
		if err != nil {
			return fmt.Errorf("failed to parse term file: %w", err)
		}
		if len(terms) == 0 {
			return fmt.Errorf("term file contains no usable terms")
		}

		db, err := openStore(glossaryDBPath)
		if err != nil {
			return err
		}
		defer db.Close()

		name := glossaryImportName
		if name == "" {
			name = args[0]
		}
		now := time.Now().UTC()
		g := &store.UserGlossary{
			ID:        uuid.NewString(),
			Name:      name,
			Terms:     terms,
			IsDefault: glossaryImportDefault,
			CreatedAt: now,
			UpdatedAt: now,
		}
		if err := db.SaveUserGlossary(g); err != nil {
			return fmt.Errorf("failed to save glossary: %w", err)
		}
		fmt.Printf("Created glossary %s (%d terms)\n", g.ID, len(terms))
		return nil
	},
}

var glossaryAddLang string

var glossaryAddCmd = &cobra.Command{
	Use:   "add <glossary-id> <source-term> <translation>",
	Short: "Add or update a term in a stored glossary",
	Long: `Add a term to a stored glossary, or update its translation.

Example:
  turjuman glossary add 3f2a... "Kyiv" "Київ" --lang uk`,
	Args: cobra.ExactArgs(3),
	RunE: func(cmd *cobra.Command, args []string) error {
		if glossaryAddLang == "" {
			return fmt.Errorf("--lang flag is required")
		}

		db, err := openStore(glossaryDBPath)
		if err != nil {
			return err
		}
		defer db.Close()

		g, err := db.GetUserGlossary(args[0])
		if err != nil {
			return fmt.Errorf("failed to load glossary: %w", err)
		}

		source := strings.TrimSpace(args[1])
		key := glossary.TermKey(source)
		term, ok := g.Terms[key]
		if !ok {
			term = domain.GlossaryTerm{SourceTerm: source, Translations: map[string]string{}}
		}
		term.Translations[glossaryAddLang] = args[2]
		if g.Terms == nil {
			g.Terms = domain.Glossary{}
		}
		g.Terms[key] = term
		g.UpdatedAt = time.Now().UTC()

		if err := db.SaveUserGlossary(g); err != nil {
			return fmt.Errorf("failed to save glossary: %w", err)
		}
		fmt.Printf("Added: [%s] %q -> %q\n", glossaryAddLang, source, args[2])
		return nil
	},
}

var glossaryListCmd = &cobra.Command{
	Use:   "list",
	Short: "List stored glossaries",
	RunE: func(cmd *cobra.Command, args []string) error {
		db, err := openStore(glossaryDBPath)
		if err != nil {
			return err
		}
		defer db.Close()

		glossaries, err := db.ListUserGlossaries()
		if err != nil {
			return fmt.Errorf("failed to list glossaries: %w", err)
		}
		if len(glossaries) == 0 {
			fmt.Println("No stored glossaries.")
			return nil
		}

		w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
		fmt.Fprintln(w, "ID\tNAME\tTERMS\tDEFAULT")
		for _, g := range glossaries {
			def := ""
			if g.IsDefault {
				def = "yes"
			}
			fmt.Fprintf(w, "%s\t%s\t%d\t%s\n", g.ID, g.Name, len(g.Terms), def)
		}
		return w.Flush()
	},
}

var glossaryShowCmd = &cobra.Command{
	Use:   "show <glossary-id>",
	Short: "Show the terms of a stored glossary",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		db, err := openStore(glossaryDBPath)
		if err != nil {
			return err
		}
		defer db.Close()

		g, err := db.GetUserGlossary(args[0])
		if err != nil {
			return fmt.Errorf("failed to load glossary: %w", err)
		}

		w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
		fmt.Fprintln(w, "SOURCE TERM\tTRANSLATIONS")
		for _, term := range g.Terms.Terms() {
			pairs, err := json.Marshal(term.Translations)
			if err != nil {
				return err
			}
			fmt.Fprintf(w, "%s\t%s\n", term.SourceTerm, pairs)
		}
		return w.Flush()
	},
}

var glossarySetDefaultCmd = &cobra.Command{
	Use:   "set-default <glossary-id>",
	Short: "Mark a glossary as the default for new jobs",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		db, err := openStore(glossaryDBPath)
		if err != nil {
			return err
		}
		defer db.Close()

		g, err := db.GetUserGlossary(args[0])
		if err != nil {
			return fmt.Errorf("failed to load glossary: %w", err)
		}
		g.IsDefault = true
		g.UpdatedAt = time.Now().UTC()
		if err := db.SaveUserGlossary(g); err != nil {
			return fmt.Errorf("failed to save glossary: %w", err)
		}
		fmt.Printf("Default glossary: %s (%s)\n", g.ID, g.Name)
		return nil
	},
}

var glossaryDeleteCmd = &cobra.Command{
	Use:   "delete <glossary-id>",
	Short: "Delete a stored glossary",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		db, err := openStore(glossaryDBPath)
		if err != nil {
			return err
		}
		defer db.Close()

		if err := db.DeleteUserGlossary(args[0]); err != nil {
			return fmt.Errorf("failed to delete glossary: %w", err)
		}
		fmt.Printf("Deleted glossary: %s\n", args[0])
		return nil
	},
}

func init() {
	rootCmd.AddCommand(glossaryCmd)

	glossaryCmd.PersistentFlags().StringVar(&glossaryDBPath, "db", defaultDBPath, "Database path")

	glossaryImportCmd.Flags().StringVar(&glossaryImportName, "name", "", "Glossary name (defaults to the file name)")
	glossaryImportCmd.Flags().BoolVar(&glossaryImportDefault, "default", false, "Mark as the default glossary")
	glossaryAddCmd.Flags().StringVar(&glossaryAddLang, "lang", "", "Target language of the translation")

	glossaryCmd.AddCommand(glossaryImportCmd)
	glossaryCmd.AddCommand(glossaryAddCmd)
	glossaryCmd.AddCommand(glossaryListCmd)
	glossaryCmd.AddCommand(glossaryShowCmd)
	glossaryCmd.AddCommand(glossarySetDefaultCmd)
	glossaryCmd.AddCommand(glossaryDeleteCmd)
}
