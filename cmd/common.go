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
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"github.com/spf13/viper"

	"github.com/valpere/turjuman/internal/domain"
	"github.com/valpere/turjuman/internal/engine"
	"github.com/valpere/turjuman/internal/events"
	"github.com/valpere/turjuman/internal/provider"
	"github.com/valpere/turjuman/internal/store"
	"github.com/valpere/turjuman/internal/translate"
)

const defaultDBPath = "./data/turjuman.db"

func openStore(dbPath string) (*store.Store, error) {
	if dir := filepath.Dir(dbPath); dir != "." && dir != "" {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return nil, fmt.Errorf("failed to create data directory: %w", err)
		}
	}
	db, err := store.New(dbPath)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	return db, nil
}

// generatorFactory builds per-job generators from viper-backed settings,
// so API keys and base URLs come from config or TURJUMAN_* environment.
func generatorFactory() engine.GeneratorFactory {
	return func(cfg domain.Config) (provider.Generator, error) {
		name := cfg.Provider
		if name == "" {
			name = viper.GetString("provider")
		}
		opts := provider.Options{
			Model:   cfg.Model,
			Timeout: viper.GetDuration("request_timeout"),
		}
		switch name {
		case "openrouter":
			opts.BaseURL = viper.GetString("openrouter.url")
			opts.APIKey = viper.GetString("openrouter.api_key")
		default:
			opts.BaseURL = viper.GetString("ollama.url")
		}
		return provider.New(name, opts)
	}
}

func newEngine(db *store.Store, validateOutput bool) *engine.Engine {
	return engine.New(engine.Options{
		Store:      db,
		Hub:        events.NewHub(),
		Generators: generatorFactory(),
		Pool: translate.Config{
			MaxWorkers:  viper.GetInt("max_workers"),
			MaxAttempts: viper.GetInt("max_attempts"),
			RetryDelay:  viper.GetDuration("retry_delay"),
			Timeout:     viper.GetDuration("request_timeout"),
		},
		ValidateOutput: validateOutput,
		Logger:         slog.Default(),
	})
}

func init() {
	viper.SetDefault("provider", "ollama")
	viper.SetDefault("ollama.url", "http://localhost:11434")
	viper.SetDefault("openrouter.url", "https://openrouter.ai/api/v1")
	viper.SetDefault("max_workers", domain.DefaultMaxWorkers)
	viper.SetDefault("max_attempts", domain.DefaultMaxAttempts)
	viper.SetDefault("retry_delay", time.Second)
	viper.SetDefault("request_timeout", 2*time.Minute)
}
