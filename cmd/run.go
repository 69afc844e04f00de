package cmd

import (
	"fmt"
	"io"
	"os"

	"github.com/DominicWuest/bisector/pkg/bisector"
	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
)

var runMaxConcurrent uint

var runCmd = &cobra.Command{
	Use:   "run job.yml",
	Short: "Run all bisections of a job.yml",
	Long: `Run all bisections of a job.yml concurrently and print the report of every found divergence.

Exits with status 1 if any bisection found a divergence or failed.`,
	Args: cobra.ExactArgs(1),
	Run: func(cmd *cobra.Command, args []string) {
		job := loadJob(args[0], cmd.OutOrStdout())
		if cmd.Flags().Changed("max-concurrent") {
			job.MaxConcurrent = runMaxConcurrent
		}

		results, err := job.Run(cmd.Context())
		if err != nil {
			logrus.Fatalf("Failed to start job - %v", err)
		}

		failed := false
		for res := range results {
			switch {
			case res.Err != nil:
				failed = true
				fmt.Fprintf(cmd.OutOrStdout(), "== %s: failed - %v\n", res.Name, res.Err)
			case res.Divergence == nil:
				fmt.Fprintf(cmd.OutOrStdout(), "== %s: test ok\n", res.Name)
			default:
				failed = true
				fmt.Fprintf(cmd.OutOrStdout(), "== %s: diverged\n", res.Name)
				style := bisector.ChunkReport
				if job.Bisections[res.BisectionIndex].Mode == bisector.Fixed {
					style = bisector.FixedReport
				}
				if err := res.Divergence.WriteReport(cmd.OutOrStdout(), style); err != nil {
					logrus.Fatalf("Failed to write report - %v", err)
				}
			}
		}

		if failed {
			os.Exit(1)
		}
	},
}

// loadJob reads in the job config at path and applies the persistent flags to it, logging to w
func loadJob(path string, w io.Writer) *bisector.Job {
	jobYaml, err := os.Open(path)
	if err != nil {
		logrus.Fatalf("Failed to open job yaml - %v", err)
	}
	defer jobYaml.Close()

	job, err := bisector.GetJobFromConfig(jobYaml)
	if err != nil {
		logrus.Fatalf("Failed to read job config from yaml - %v", err)
	}

	job.Log = newLogger(w)
	if outputDir != "" {
		job.OutputDir = outputDir
	}

	return job
}

func init() {
	rootCmd.AddCommand(runCmd)

	runCmd.Flags().UintVarP(&runMaxConcurrent, "max-concurrent", "j", 0, "The max amount of bisections running at once, overrides the job config")
}
