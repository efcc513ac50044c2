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
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/valpere/turjuman/internal/server"
)

var (
	serveAddr     string
	serveDBPath   string
	serveValidate bool
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the translation job API server",
	Long: `Run the HTTP API server.

Endpoints:
  POST   /api/jobs          Submit a translation job
  GET    /api/jobs          List jobs
  GET    /api/jobs/{id}     Get a job snapshot
  DELETE /api/jobs/{id}     Cancel and delete a job
  GET    /api/jobs/{id}/ws  Stream live job progress (WebSocket)
  GET    /healthz           Health check`,
	RunE: func(cmd *cobra.Command, args []string) error {
		db, err := openStore(serveDBPath)
		if err != nil {
			return err
		}
		defer db.Close()

		eng := newEngine(db, serveValidate)
		srv := &http.Server{
			Addr:              serveAddr,
			Handler:           server.New(eng, slog.Default()),
			ReadHeaderTimeout: 10 * time.Second,
		}

		errCh := make(chan error, 1)
		go func() {
			slog.Info("server listening", "addr", serveAddr, "db", serveDBPath)
			errCh <- srv.ListenAndServe()
		}()

		stop := make(chan os.Signal, 1)
		signal.Notify(stop, os.Interrupt, syscall.SIGTERM)

		select {
		case err := <-errCh:
			return fmt.Errorf("server: %w", err)
		case sig := <-stop:
			slog.Info("shutting down", "signal", sig)
		}

		ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()
		if err := srv.Shutdown(ctx); err != nil {
			slog.Warn("http shutdown", "error", err)
		}
		if err := eng.Shutdown(ctx); err != nil && !errors.Is(err, context.DeadlineExceeded) {
			slog.Warn("engine shutdown", "error", err)
		}
		return nil
	},
}

func init() {
	rootCmd.AddCommand(serveCmd)

	serveCmd.Flags().StringVar(&serveAddr, "addr", ":8080", "Listen address")
	serveCmd.Flags().StringVar(&serveDBPath, "db", defaultDBPath, "Database path")
	serveCmd.Flags().BoolVar(&serveValidate, "validate-language", true, "Validate that generated text is in the target language")
}
