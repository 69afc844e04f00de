package bisector

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"strconv"
	"strings"
	"time"

	"github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"
)

// ArgStyle determines how a range of test cases is passed to an oracle
type ArgStyle int

const (
	// RangeArgs passes a range [lo, hi] as the two arguments "lo hi"
	RangeArgs ArgStyle = iota
	// CountArgs passes a range [lo, hi] as the single argument "hi", for oracles which always run the test cases 1 to hi
	CountArgs
)

var argStyles = map[string]ArgStyle{
	"range": RangeArgs,
	"count": CountArgs,
}

// ParseArgStyle returns the arg style with the passed name
func ParseArgStyle(name string) (ArgStyle, error) {
	style, ok := argStyles[strings.ToLower(name)]
	if !ok {
		return 0, fmt.Errorf("invalid arg style %s", name)
	}
	return style, nil
}

func (s ArgStyle) String() string {
	for name, style := range argStyles {
		if style == s {
			return name
		}
	}
	return fmt.Sprintf("ArgStyle(%d)", int(s))
}

// Args returns the oracle arguments for the range [lo, hi]
func (s ArgStyle) Args(lo, hi int) []string {
	if s == CountArgs {
		return []string{strconv.Itoa(hi)}
	}
	return []string{strconv.Itoa(lo), strconv.Itoa(hi)}
}

// detailArgs returns the oracle arguments for a detailed report of a single test case
func detailArgs(index int) []string {
	return []string{"-" + strconv.Itoa(index)}
}

// A Pair is a reference and a candidate oracle, which are always invoked with identical arguments.
type Pair struct {
	Reference Oracle // The oracle producing the expected output
	Candidate Oracle // The oracle under test

	Style ArgStyle // How ranges of test cases are passed to the oracles

	// Whether both oracles are invoked concurrently.
	// If false, the reference oracle always runs to completion before the candidate is started.
	Parallel bool

	Timeout time.Duration // The timeout of a single oracle invocation, or 0 if there is none

	// Whether oracle failures abort the bisection with an [OracleError].
	// If false, the output of a failed oracle is compared like any other output, which usually shows up as a mismatch.
	Strict bool

	// Whether the detailed reports of a found divergence are rerun to check that both oracles are deterministic.
	Verify bool

	Log *logrus.Entry // The log to which information gets printed to

	invocations int
}

// Invocations returns how many times the oracles of this pair were invoked so far
func (p *Pair) Invocations() int {
	return p.invocations
}

func (p *Pair) log() *logrus.Entry {
	if p.Log == nil {
		// Mute logger
		logger := logrus.New()
		logger.SetOutput(io.Discard)
		p.Log = logrus.NewEntry(logger)
	}
	return p.Log
}

// Agree reports whether both oracles produce identical output for the range [lo, hi]
func (p *Pair) Agree(ctx context.Context, lo, hi int) (bool, error) {
	ref, cand, err := p.outputs(ctx, p.Style.Args(lo, hi))
	if err != nil {
		return false, err
	}
	return bytes.Equal(ref, cand), nil
}

// Details returns the detailed reports of both oracles for a single test case
func (p *Pair) Details(ctx context.Context, index int) ([]byte, []byte, error) {
	return p.outputs(ctx, detailArgs(index))
}

// outputs invokes both oracles with the passed arguments and returns their outputs
func (p *Pair) outputs(ctx context.Context, args []string) ([]byte, []byte, error) {
	p.invocations += 2
	p.log().Tracef("Invoking oracles with %v", args)

	if !p.Parallel {
		ref, err := p.invoke(ctx, p.Reference, args)
		if err != nil {
			return nil, nil, err
		}
		cand, err := p.invoke(ctx, p.Candidate, args)
		if err != nil {
			return nil, nil, err
		}
		return ref, cand, nil
	}

	var ref, cand []byte
	g, gCtx := errgroup.WithContext(ctx)
	g.Go(func() error {
		var err error
		ref, err = p.invoke(gCtx, p.Reference, args)
		return err
	})
	g.Go(func() error {
		var err error
		cand, err = p.invoke(gCtx, p.Candidate, args)
		return err
	})
	if err := g.Wait(); err != nil {
		return nil, nil, err
	}
	return ref, cand, nil
}

// invoke runs a single oracle, applying the pair's timeout and failure policy
func (p *Pair) invoke(ctx context.Context, o Oracle, args []string) ([]byte, error) {
	invokeCtx := ctx
	if p.Timeout > 0 {
		var cancel context.CancelFunc
		invokeCtx, cancel = context.WithTimeout(ctx, p.Timeout)
		defer cancel()
	}

	out, err := o.Run(invokeCtx, args...)
	if err == nil {
		return out, nil
	}

	// Cancellations and timeouts are never part of the compared output
	if ctxErr := invokeCtx.Err(); ctxErr != nil {
		return nil, errors.Join(fmt.Errorf("invocation of oracle %s %s did not finish", oracleName(o), strings.Join(args, " ")), ctxErr)
	}

	if p.Strict {
		return nil, err
	}
	p.log().Debugf("Ignoring failure of oracle %s, comparing its output as is - %v", oracleName(o), err)
	return out, nil
}

// CheckDeterminism invokes the passed oracle twice with the same arguments and reports whether both outputs are identical.
func CheckDeterminism(ctx context.Context, o Oracle, args ...string) (bool, error) {
	first, err := o.Run(ctx, args...)
	if err != nil {
		return false, err
	}
	second, err := o.Run(ctx, args...)
	if err != nil {
		return false, err
	}
	return bytes.Equal(first, second), nil
}

// Close releases the resources held by both oracles
func (p *Pair) Close() error {
	return errors.Join(closeOracle(p.Reference), closeOracle(p.Candidate))
}
