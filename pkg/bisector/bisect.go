package bisector

import (
	"context"
	"fmt"
)

// Bisect returns the first test case in [min, max] for which the oracles of the passed pair disagree.
// If both oracles agree on the whole range, the returned boolean is false.
//
// The oracles have to be deterministic, otherwise the returned test case is meaningless.
func Bisect(ctx context.Context, p *Pair, min, max int) (int, bool, error) {
	if min < 0 || min > max {
		return 0, false, fmt.Errorf("%w [%d, %d]", ErrInvalidInterval, min, max)
	}

	agree, err := p.Agree(ctx, min, max)
	if err != nil {
		return 0, false, err
	}
	if agree {
		return 0, false, nil
	}

	index, err := bisectDiverging(ctx, p, min, max)
	if err != nil {
		return 0, false, err
	}
	return index, true, nil
}

// bisectDiverging returns the first test case in [min, max] for which the oracles disagree,
// given that they are already known to disagree on [min, max].
func bisectDiverging(ctx context.Context, p *Pair, min, max int) (int, error) {
	if min == max {
		return min, nil
	}

	// The loop below treats min as a good test case, check it separately
	agree, err := p.Agree(ctx, min, min)
	if err != nil {
		return 0, err
	}
	if !agree {
		return min, nil
	}

	for max != min+1 {
		if err := ctx.Err(); err != nil {
			return 0, err
		}

		avg := (min + max) / 2
		agree, err := p.Agree(ctx, min, avg)
		if err != nil {
			return 0, err
		}

		if agree {
			min = avg
		} else {
			max = avg
		}
		p.log().Debugf("Narrowed down to [%d, %d]", min, max)
	}

	return max, nil
}
