package cmd

import (
	"context"
	"errors"
	"fmt"
	"io"

	"github.com/DominicWuest/bisector/pkg/bisector"
	"github.com/sirupsen/logrus"
)

const usageText = `Please provide two test binaries in the command line.

The first should be linked with a correct reference library.
The second binary should be linked with a library which needs to be tested.
`

// newBisection creates a bisection of the passed reference and candidate, configured by the persistent flags
func newBisection(reference, candidate string, mode bisector.Mode) bisector.Bisection {
	return bisector.Bisection{
		Name: "cli",

		Reference: reference,
		Candidate: candidate,

		Mode: mode,

		Timeout: oracleTimeout,

		Parallel: parallel,
		Strict:   strict,
		Verify:   verify,
		Snapshot: snapshot,
	}
}

// runScan runs the passed bisection and writes the report of a found divergence to w.
// If archiveDir is not empty, found divergences are archived in it.
func runScan(ctx context.Context, w io.Writer, b bisector.Bisection, archiveDir string, log *logrus.Logger) (*bisector.Divergence, error) {
	pair, closePair, err := b.Open(ctx, logrus.NewEntry(log))
	if err != nil {
		return nil, err
	}
	defer closePair()

	d, err := b.Scan(ctx, pair)
	if err != nil || d == nil {
		return nil, err
	}

	style := bisector.ChunkReport
	if b.Mode == bisector.Fixed {
		style = bisector.FixedReport
	}
	if err := d.WriteReport(w, style); err != nil {
		return nil, errors.Join(fmt.Errorf("failed to write report"), err)
	}

	if archiveDir != "" {
		path, err := bisector.ArchiveDivergence(archiveDir, d)
		if err != nil {
			return nil, errors.Join(fmt.Errorf("failed to archive divergence"), err)
		}
		log.Infof("Archived divergence to %s", path)
	}

	return d, nil
}
