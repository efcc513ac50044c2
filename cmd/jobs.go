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
	"text/tabwriter"

	"github.com/spf13/cobra"
)

var jobsDBPath string

var jobsCmd = &cobra.Command{
	Use:   "jobs",
	Short: "Inspect stored translation jobs",
}

var jobsListCmd = &cobra.Command{
	Use:   "list",
	Short: "List jobs, newest first",
	RunE: func(cmd *cobra.Command, args []string) error {
		db, err := openStore(jobsDBPath)
		if err != nil {
			return err
		}
		defer db.Close()

		jobs, err := db.ListJobs()
		if err != nil {
			return fmt.Errorf("failed to list jobs: %w", err)
		}
		if len(jobs) == 0 {
			fmt.Println("No jobs.")
			return nil
		}

		w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
		fmt.Fprintln(w, "ID\tFILE\tSTATUS\tSTEP\tPROGRESS\tCREATED")
		for _, j := range jobs {
			fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%.1f%%\t%s\n",
				j.ID, j.Filename, j.Status, j.CurrentStep, j.Progress,
				j.CreatedAt.Format("2006-01-02 15:04"))
		}
		return w.Flush()
	},
}

var jobsShowOutput bool

var jobsShowCmd = &cobra.Command{
	Use:   "show <job-id>",
	Short: "Show a job snapshot as JSON",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		db, err := openStore(jobsDBPath)
		if err != nil {
			return err
		}
		defer db.Close()

		job, err := db.GetJob(args[0])
		if err != nil {
			return fmt.Errorf("failed to load job: %w", err)
		}

		if jobsShowOutput {
			if job.FinalDocument == nil {
				return fmt.Errorf("job has no final document")
			}
			fmt.Print(*job.FinalDocument)
			return nil
		}

		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		return enc.Encode(job)
	},
}

var jobsDeleteCmd = &cobra.Command{
	Use:   "delete <job-id>",
	Short: "Delete a stored job",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		db, err := openStore(jobsDBPath)
		if err != nil {
			return err
		}
		defer db.Close()

		if err := db.DeleteJob(args[0]); err != nil {
			return fmt.Errorf("failed to delete job: %w", err)
		}
		fmt.Printf("Deleted job: %s\n", args[0])
		return nil
	},
}

func init() {
	rootCmd.AddCommand(jobsCmd)

	jobsCmd.PersistentFlags().StringVar(&jobsDBPath, "db", defaultDBPath, "Database path")
	jobsShowCmd.Flags().BoolVar(&jobsShowOutput, "output", false, "Print only the final translated document")

	jobsCmd.AddCommand(jobsListCmd)
	jobsCmd.AddCommand(jobsShowCmd)
	jobsCmd.AddCommand(jobsDeleteCmd)
}
