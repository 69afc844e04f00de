package bisector

import (
	"context"
	"errors"
	"fmt"

	"github.com/sirupsen/logrus"
)

const (
	// DefaultChunkSize is the amount of test cases bisected per window by [ScanChunks]
	DefaultChunkSize = 100000
	// DefaultBound is the bound probed by [ScanFixed]
	DefaultBound = 3000000
)

// ChunkOptions configure [ScanChunks].
// Test cases are numbered from 1, so a Start of 0 selects the default.
type ChunkOptions struct {
	Start      int // The first test case, defaults to 1
	Size       int // The amount of test cases per window, defaults to [DefaultChunkSize]
	MaxWindows int // How many windows to scan at most, or 0 to scan until a divergence was found
}

func (o ChunkOptions) withDefaults() ChunkOptions {
	if o.Start == 0 {
		o.Start = 1
	}
	if o.Size == 0 {
		o.Size = DefaultChunkSize
	}
	return o
}

// validate checks options with applied defaults against the arg style they are used with
func (o ChunkOptions) validate(style ArgStyle) error {
	if o.Start < 1 || o.Size < 1 || o.MaxWindows < 0 {
		return fmt.Errorf("invalid chunk options %+v", o)
	}
	// Oracles passed a count always run all tests from 1, earlier divergences would be attributed to the first window
	if style == CountArgs && o.Start != 1 {
		return fmt.Errorf("%w: windows passed as counts have to start at test 1, not %d", ErrInvalidInterval, o.Start)
	}
	return nil
}

// FixedOptions configure [ScanFixed]
type FixedOptions struct {
	Bound int // The last test case to check, defaults to [DefaultBound]
}

// ScanChunks bisects successive windows of test cases until the oracles disagree in one of them.
//
// If MaxWindows is 0 and the oracles never disagree, ScanChunks only returns once the context is done.
// If all windows were scanned without a divergence, nil is returned.
func ScanChunks(ctx context.Context, p *Pair, opts ChunkOptions) (*Divergence, error) {
	opts = opts.withDefaults()
	if err := opts.validate(p.Style); err != nil {
		return nil, err
	}

	for window := 0; opts.MaxWindows == 0 || window < opts.MaxWindows; window++ {
		if err := ctx.Err(); err != nil {
			return nil, err
		}

		base := opts.Start + window*opts.Size
		end := base + opts.Size - 1

		p.log().Infof("running tests %d-%d", base, end)
		index, found, err := Bisect(ctx, p, base, end)
		if err != nil {
			return nil, errors.Join(fmt.Errorf("failed to bisect tests %d-%d", base, end), err)
		}
		if found {
			return describe(ctx, p, index, base, end)
		}
	}

	return nil, nil
}

// ScanFixed checks whether the oracles agree on the test cases up to a fixed bound and bisects them if they don't.
// If the oracles agree, nil is returned without any further invocations.
func ScanFixed(ctx context.Context, p *Pair, opts FixedOptions) (*Divergence, error) {
	if opts.Bound == 0 {
		opts.Bound = DefaultBound
	}
	if opts.Bound < 1 {
		return nil, fmt.Errorf("%w [1, %d]", ErrInvalidInterval, opts.Bound)
	}

	agree, err := p.Agree(ctx, 1, opts.Bound)
	if err != nil {
		return nil, err
	}
	if agree {
		p.log().Debugf("Oracles agree on tests 1-%d", opts.Bound)
		return nil, nil
	}

	p.log().Info("test failed, bisecting...")
	index, err := bisectDiverging(ctx, p, 1, opts.Bound)
	if err != nil {
		return nil, errors.Join(fmt.Errorf("failed to bisect tests 1-%d", opts.Bound), err)
	}
	return describe(ctx, p, index, 1, opts.Bound)
}

// describe gathers the detailed reports of both oracles for the diverging test case
func describe(ctx context.Context, p *Pair, index, windowStart, windowEnd int) (*Divergence, error) {
	log := p.log().WithFields(logrus.Fields{"test": index})
	log.Infof("Found first diverging test %d", index)

	ref, cand, err := p.Details(ctx, index)
	if err != nil {
		return nil, errors.Join(fmt.Errorf("failed to get details of test %d", index), err)
	}

	d := &Divergence{
		Index: index,

		WindowStart: windowStart,
		WindowEnd:   windowEnd,

		Reference: string(ref),
		Candidate: string(cand),

		ReferenceOracle: oracleName(p.Reference),
		CandidateOracle: oracleName(p.Candidate),

		ReferenceDigest: fingerprint(p.Reference, log),
		CandidateDigest: fingerprint(p.Candidate, log),
	}

	if p.Verify {
		for _, o := range []Oracle{p.Reference, p.Candidate} {
			deterministic, err := CheckDeterminism(ctx, OracleFunc(func(ctx context.Context, args ...string) ([]byte, error) {
				return p.invoke(ctx, o, args)
			}), detailArgs(index)...)
			if err != nil {
				return nil, errors.Join(fmt.Errorf("failed to verify oracle %s", oracleName(o)), err)
			}
			if !deterministic {
				log.Warnf("Oracle %s is not deterministic, the reported test is not trustworthy", oracleName(o))
				d.Flaky = true
			}
		}
		p.invocations += 4
	}

	d.Invocations = p.invocations
	return d, nil
}

// fingerprint returns the fingerprint of the passed oracle, or an empty string if it can't be fingerprinted
func fingerprint(o Oracle, log *logrus.Entry) string {
	f, ok := o.(Fingerprinter)
	if !ok {
		return ""
	}
	dgst, err := f.Fingerprint()
	if err != nil {
		log.Warnf("Failed to fingerprint oracle %s - %v", oracleName(o), err)
		return ""
	}
	return dgst.String()
}
