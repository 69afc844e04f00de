package cmd

import (
	"fmt"
	"os"

	"github.com/DominicWuest/bisector/pkg/bisector"
	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
)

var (
	chunksStart      int
	chunksSize       int
	chunksMaxWindows int
	chunksArgStyle   string
)

var chunksCmd = &cobra.Command{
	Use:     "chunks reference candidate",
	Aliases: []string{"scan"},
	Short:   "Bisect windows of test cases until the two binaries diverge",
	Long: `Bisect successive windows of test cases until the reference and candidate binaries diverge.

Without --max-windows, windows are scanned until a divergence is found, which might be never.
Exits with status 1 if a divergence was found.`,
	Args: cobra.ArbitraryArgs,
	Run: func(cmd *cobra.Command, args []string) {
		if len(args) < 2 {
			fmt.Fprint(cmd.OutOrStdout(), usageText)
			return
		}

		b, err := chunksBisection(args[0], args[1])
		if err != nil {
			logrus.Fatalf("Invalid bisection - %v", err)
		}

		d, err := runScan(cmd.Context(), cmd.OutOrStdout(), b, outputDir, newLogger(cmd.OutOrStdout()))
		if err != nil {
			logrus.Fatalf("Bisection failed - %v", err)
		}
		if d != nil {
			os.Exit(1)
		}

		fmt.Fprintf(cmd.OutOrStdout(), "no divergence found in %d windows of %d tests\n", chunksMaxWindows, chunksSize)
	},
}

// chunksBisection creates the bisection of the chunks command and validates its flags
func chunksBisection(reference, candidate string) (bisector.Bisection, error) {
	style, err := bisector.ParseArgStyle(chunksArgStyle)
	if err != nil {
		return bisector.Bisection{}, err
	}
	if chunksStart < 1 {
		return bisector.Bisection{}, fmt.Errorf("%w: tests are numbered from 1, can't start at %d", bisector.ErrInvalidInterval, chunksStart)
	}

	b := newBisection(reference, candidate, bisector.Chunks)
	b.Style = style
	b.Chunks = bisector.ChunkOptions{
		Start:      chunksStart,
		Size:       chunksSize,
		MaxWindows: chunksMaxWindows,
	}
	return b, b.Validate()
}

func init() {
	rootCmd.AddCommand(chunksCmd)

	chunksCmd.Flags().IntVar(&chunksStart, "start", 1, "The first test case, can only be changed with the range arg style")
	chunksCmd.Flags().IntVarP(&chunksSize, "chunk-size", "n", bisector.DefaultChunkSize, "The amount of test cases per window")
	chunksCmd.Flags().IntVar(&chunksMaxWindows, "max-windows", 0, "How many windows to scan at most, 0 for no limit")
	chunksCmd.Flags().StringVar(&chunksArgStyle, "arg-style", "range", `How ranges are passed to the binaries, either "range" or "count"`)
}
