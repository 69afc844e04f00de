package cmd

import (
	"github.com/DominicWuest/bisector/internal/server"
	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
)

var servePort int

var serveCmd = &cobra.Command{
	Use:   "serve job.yml",
	Short: "Start a server exposing the results of the bisections of a job.yml",
	Long: `Start a server exposing the results of the bisections of a job.yml.

Calling this command results in a RESTful HTTP server being created, from whose API the results can be fetched.
The server keeps running until interrupted.`,
	Args: cobra.ExactArgs(1),
	Run: func(cmd *cobra.Command, args []string) {
		job := loadJob(args[0], cmd.OutOrStdout())

		results, err := job.Run(cmd.Context())
		if err != nil {
			logrus.Fatalf("Failed to start job - %v", err)
		}

		serverType := server.HTTP
		_, err = server.NewServer(serverType, servePort, results)
		if err != nil {
			logrus.Fatalf("Failed to start webserver - %v", err)
		}

		<-cmd.Context().Done()
		job.Log.Info("Stopping job...")
		job.Stop()
	},
}

func init() {
	rootCmd.AddCommand(serveCmd)

	serveCmd.Flags().IntVarP(&servePort, "port", "p", 40032, "The port on which to start the server")
}
