package cmd

import (
	"fmt"

	"github.com/DominicWuest/bisector/pkg/bisector"
	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
)

var (
	fixedBound    int
	fixedArgStyle string
)

var fixedCmd = &cobra.Command{
	Use:   "fixed reference candidate",
	Short: "Check the test cases up to a bound and bisect them if the two binaries diverge",
	Long: `Check whether the reference and candidate binaries agree on the test cases up to a bound.
If they don't, the range up to the bound is bisected once and the first diverging test case is reported.

Exits with status 0 in both cases.`,
	Args: cobra.ArbitraryArgs,
	Run: func(cmd *cobra.Command, args []string) {
		if len(args) < 2 {
			fmt.Fprint(cmd.OutOrStdout(), usageText)
			return
		}

		style, err := bisector.ParseArgStyle(fixedArgStyle)
		if err != nil {
			logrus.Fatalf("%s not a valid argument for the arg style", fixedArgStyle)
		}

		b := newBisection(args[0], args[1], bisector.Fixed)
		b.Style = style
		b.Fixed = bisector.FixedOptions{
			Bound: fixedBound,
		}

		d, err := runScan(cmd.Context(), cmd.OutOrStdout(), b, outputDir, newLogger(cmd.OutOrStdout()))
		if err != nil {
			logrus.Fatalf("Bisection failed - %v", err)
		}
		if d == nil {
			fmt.Fprintln(cmd.OutOrStdout(), "test ok")
		}
	},
}

func init() {
	rootCmd.AddCommand(fixedCmd)

	fixedCmd.Flags().IntVarP(&fixedBound, "bound", "b", bisector.DefaultBound, "The last test case to check")
	fixedCmd.Flags().StringVar(&fixedArgStyle, "arg-style", "range", `How ranges are passed to the binaries, either "range" or "count"`)
}
