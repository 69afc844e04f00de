package cmd

import (
	"context"
	"fmt"
	"os"

	"github.com/DominicWuest/bisector/pkg/bisector"
	"github.com/docker/docker/api/types"
	"github.com/docker/docker/api/types/container"
	"github.com/docker/docker/api/types/filters"
	"github.com/docker/docker/client"
	"github.com/manifoldco/promptui"
	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
)

var cleanupReports string
var cleanupNoContainers bool
var cleanupAgree bool

var cleanupCmd = &cobra.Command{
	Use:     "clean",
	Aliases: []string{"prune", "cleanup"},
	Short:   "Clean all artifacts created by bisector",
	Long: `This command cleans all artifacts created by bisector.
This includes containers left behind by interrupted docker oracles, as well as archived divergences if a report directory is passed.`,
	Run: func(cmd *cobra.Command, args []string) {
		var cli *client.Client
		var containers []types.Container
		if !cleanupNoContainers {
			var err error
			cli, err = client.NewClientWithOpts(client.FromEnv, client.WithAPIVersionNegotiation())
			if err != nil {
				logrus.Fatalf("Couldn't create docker client - %v", err)
			}
			defer cli.Close()

			containers, err = cli.ContainerList(context.Background(), container.ListOptions{
				All: true,
				Filters: filters.NewArgs(
					filters.KeyValuePair{
						Key:   "label",
						Value: bisector.ContainerLabel + "=1",
					},
				),
			})
			if err != nil {
				logrus.Fatalf("Couldn't list docker containers - %v", err)
			}
		}

		var reports []string
		if cleanupReports != "" {
			var err error
			reports, err = bisector.ListArchived(cleanupReports)
			if err != nil {
				logrus.Fatalf("Couldn't list archived divergences - %v", err)
			}
		}

		if len(containers)+len(reports) == 0 {
			logrus.Info("No containers or reports to remove. Exiting...")
			return
		}

		confirmationMessage := fmt.Sprintf("About to delete %d containers and %d reports.", len(containers), len(reports))
		logrus.Info(confirmationMessage)

		prompt := promptui.Prompt{
			Label:     "Proceed",
			IsConfirm: true,
		}

		if !cleanupAgree {
			_, err := prompt.Run()
			if err != nil {
				logrus.Info("Exiting...")
				os.Exit(0)
			}
		}

		for _, c := range containers {
			logrus.Infof("Deleting container %s (ID: %s)", c.Names[0][1:], c.ID)
			if err := cli.ContainerRemove(context.Background(), c.ID, container.RemoveOptions{Force: true}); err != nil {
				logrus.Fatalf("Failed to remove container with ID %s - %v", c.ID, err)
			}
		}

		for _, r := range reports {
			logrus.Infof("Deleting report %s", r)
			if err := os.Remove(r); err != nil {
				logrus.Fatalf("Failed to remove report %s - %v", r, err)
			}
		}

		logrus.Info("Done cleaning up.")
	},
}

func init() {
	rootCmd.AddCommand(cleanupCmd)

	cleanupCmd.Flags().StringVarP(&cleanupReports, "reports", "r", "", "Directory of archived divergences to delete.")
	cleanupCmd.Flags().BoolVar(&cleanupNoContainers, "no-containers", false, "Don't delete any containers, no docker daemon is needed.")
	cleanupCmd.Flags().BoolVarP(&cleanupAgree, "assume-yes", "y", false, `Bypass "Are you sure?" message.`)
}
