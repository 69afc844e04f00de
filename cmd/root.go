package cmd

import (
	"context"
	"io"
	"os"
	"os/signal"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
	prefixed "github.com/x-cray/logrus-prefixed-formatter"
)

var (
	verbosity int
	quiet     bool

	oracleTimeout time.Duration
	parallel      bool
	strict        bool
	verify        bool
	snapshot      bool
	outputDir     string
)

var rootCmd = &cobra.Command{
	Use:   "bisector",
	Short: "Find the first test case for which two builds of a library produce different output",
	Long: `bisector runs a reference and a candidate test binary over ranges of test cases
and bisects the first test case at which their outputs diverge.

Both binaries have to accept either a range of test cases "<min> <max>" (or "<max>" with --arg-style count)
or a single test case "-<index>", for which a detailed report is printed.`,
}

func Execute() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()

	err := rootCmd.ExecuteContext(ctx)
	if err != nil {
		os.Exit(1)
	}
}

func init() {
	rootCmd.PersistentFlags().CountVarP(&verbosity, "verbose", "v", "Increase the verbosity of the log, can be repeated")
	rootCmd.PersistentFlags().BoolVarP(&quiet, "quiet", "q", false, "Don't log anything")

	rootCmd.PersistentFlags().DurationVar(&oracleTimeout, "timeout", 0, "Timeout of a single test binary invocation, 0 for none")
	rootCmd.PersistentFlags().BoolVar(&parallel, "parallel", false, "Run the reference and candidate binaries concurrently")
	rootCmd.PersistentFlags().BoolVar(&strict, "strict", false, "Abort when a test binary fails instead of comparing its output")
	rootCmd.PersistentFlags().BoolVar(&verify, "verify", false, "Rerun the detailed reports of a found divergence to check that both binaries are deterministic")
	rootCmd.PersistentFlags().BoolVar(&snapshot, "snapshot", false, "Copy the test binaries to a temporary directory before running them")
	rootCmd.PersistentFlags().StringVarP(&outputDir, "out", "o", "", "Directory in which found divergences get archived")
}

// newLogger returns a logger writing to w with the verbosity set by the persistent flags.
// Progress is logged to the same output as the reports.
func newLogger(w io.Writer) *logrus.Logger {
	log := logrus.New()
	log.SetOutput(w)

	formatter := &prefixed.TextFormatter{
		DisableTimestamp: true,
	}
	log.SetFormatter(formatter)

	// Set logger verbosity
	if quiet {
		log.SetOutput(io.Discard)
	} else if verbosity == 0 {
		log.SetLevel(logrus.InfoLevel)
	} else if verbosity == 1 {
		log.SetLevel(logrus.DebugLevel)
	} else {
		log.SetLevel(logrus.TraceLevel)
	}

	return log
}
