package bisector

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// recorder keeps track of all oracle invocations of a test
type recorder struct {
	mu    sync.Mutex
	calls []invocation
}

type invocation struct {
	oracle string
	args   []string
}

func (r *recorder) record(oracle string, args []string) {
	if r == nil {
		return
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	r.calls = append(r.calls, invocation{oracle, args})
}

// argsOf returns the arguments of all invocations of the passed oracle
func (r *recorder) argsOf(oracle string) [][]string {
	r.mu.Lock()
	defer r.mu.Unlock()

	var args [][]string
	for _, c := range r.calls {
		if c.oracle == oracle {
			args = append(args, c.args)
		}
	}
	return args
}

// syntheticOracle simulates a test binary. badIn reports whether the range [lo, hi] contains a broken test case, nil if there are none.
// Ranges may be passed in both arg styles.
func syntheticOracle(name string, badIn func(lo, hi int) bool, rec *recorder) Oracle {
	return OracleFunc(func(ctx context.Context, args ...string) ([]byte, error) {
		rec.record(name, args)

		if len(args) == 1 && strings.HasPrefix(args[0], "-") {
			test, err := strconv.Atoi(args[0][1:])
			if err != nil {
				return nil, err
			}
			if badIn != nil && badIn(test, test) {
				return []byte(fmt.Sprintf("test %d: bad", test)), nil
			}
			return []byte(fmt.Sprintf("test %d: good", test)), nil
		}

		lo, hi := 1, 0
		var err error
		if len(args) == 1 {
			hi, err = strconv.Atoi(args[0])
		} else {
			lo, err = strconv.Atoi(args[0])
			if err == nil {
				hi, err = strconv.Atoi(args[1])
			}
		}
		if err != nil {
			return nil, err
		}

		if badIn != nil && badIn(lo, hi) {
			return []byte(fmt.Sprintf("%d-%d: bad", lo, hi)), nil
		}
		return []byte(fmt.Sprintf("%d-%d: ok", lo, hi)), nil
	})
}

// brokenFrom returns a badIn function for which every test case from k on is broken
func brokenFrom(k int) func(lo, hi int) bool {
	return func(lo, hi int) bool { return hi >= k }
}

// brokenAt returns a badIn function for which only test case k is broken
func brokenAt(k int) func(lo, hi int) bool {
	return func(lo, hi int) bool { return lo <= k && k <= hi }
}

func syntheticPair(badIn func(lo, hi int) bool, rec *recorder) *Pair {
	return &Pair{
		Reference: syntheticOracle("ref", nil, rec),
		Candidate: syntheticOracle("new", badIn, rec),
	}
}

func TestBisect(t *testing.T) {
	values := []struct {
		min int
		max int
		k   int
	}{
		{1, 100, 1},
		{1, 100, 2},
		{1, 100, 50},
		{1, 100, 51},
		{1, 100, 99},
		{1, 100, 100},
		{10, 13, 10},
		{10, 13, 11},
		{10, 13, 13},
		{5, 5, 5},
		{0, 1, 0},
		{0, 1, 1},
		{1, 3000000, 1234567},
	}

	for i, v := range values {
		for name, badIn := range map[string]func(int, int) bool{
			"broken from k": brokenFrom(v.k),
			"broken at k":   brokenAt(v.k),
		} {
			index, found, err := Bisect(context.Background(), syntheticPair(badIn, nil), v.min, v.max)
			assert.Nil(t, err, "Bisect returned an error")
			assert.True(t, found, "Bisect found no divergence for test %d (%s)", i, name)
			assert.Equalf(t, v.k, index, "Bisect returned wrong test for test %d (%s); min: %d, max: %d", i, name, v.min, v.max)
		}
	}
}

func TestBisectNoDivergence(t *testing.T) {
	t.Run("Identical oracles", func(t *testing.T) {
		index, found, err := Bisect(context.Background(), syntheticPair(nil, nil), 1, 100000)
		assert.Nil(t, err)
		assert.False(t, found, "Identical oracles resulted in a divergence")
		assert.Equal(t, 0, index)
	})
	t.Run("Divergence outside of the range", func(t *testing.T) {
		rec := &recorder{}
		_, found, err := Bisect(context.Background(), syntheticPair(brokenAt(200), rec), 1, 100)
		assert.Nil(t, err)
		assert.False(t, found, "Divergence outside of the range was reported")
		assert.Len(t, rec.calls, 2, "Agreeing range resulted in more than one invocation per oracle")
	})
}

func TestBisectMidpoint(t *testing.T) {
	rec := &recorder{}

	index, found, err := Bisect(context.Background(), syntheticPair(brokenAt(13), rec), 10, 13)
	require.Nil(t, err)
	require.True(t, found)
	assert.Equal(t, 13, index)

	assert.Equal(t, [][]string{
		{"10", "13"}, // Whole range
		{"10", "10"}, // Lower bound
		{"10", "11"}, // First midpoint, floor((10+13)/2)
		{"11", "12"},
	}, rec.argsOf("ref"), "Wrong ranges checked")
	assert.Equal(t, rec.argsOf("ref"), rec.argsOf("new"), "Oracles were invoked with different arguments")
}

func TestBisectInvocationOrder(t *testing.T) {
	rec := &recorder{}
	_, _, err := Bisect(context.Background(), syntheticPair(brokenFrom(70), rec), 1, 100)
	require.Nil(t, err)

	require.True(t, len(rec.calls) > 2)
	require.Equal(t, 0, len(rec.calls)%2, "Oracles were invoked an uneven amount of times")
	for i := 0; i < len(rec.calls); i += 2 {
		assert.Equal(t, "ref", rec.calls[i].oracle, "Reference oracle was not invoked first")
		assert.Equal(t, "new", rec.calls[i+1].oracle, "Candidate oracle was not invoked second")
		assert.Equal(t, rec.calls[i].args, rec.calls[i+1].args)
	}
}

func TestBisectParallel(t *testing.T) {
	pair := syntheticPair(brokenFrom(4242), nil)
	pair.Parallel = true

	index, found, err := Bisect(context.Background(), pair, 1, 100000)
	assert.Nil(t, err)
	assert.True(t, found)
	assert.Equal(t, 4242, index)
}

func TestBisectNonDeterministic(t *testing.T) {
	// The candidate's third output is garbage, which makes the first midpoint look broken
	calls := 0
	honest := syntheticOracle("new", brokenFrom(75), nil)
	noisy := OracleFunc(func(ctx context.Context, args ...string) ([]byte, error) {
		calls++
		if calls == 3 {
			return []byte("noise"), nil
		}
		return honest.Run(ctx, args...)
	})

	pair := &Pair{
		Reference: syntheticOracle("ref", nil, nil),
		Candidate: noisy,
	}
	index, found, err := Bisect(context.Background(), pair, 1, 100)
	require.Nil(t, err)
	require.True(t, found)
	assert.NotEqual(t, 75, index, "Bisection of a non-deterministic oracle found the right test")
	assert.Equal(t, 50, index)

	// Make the second invocation of the check the noisy one
	calls = 1
	deterministic, err := CheckDeterminism(context.Background(), noisy, "1", "50")
	require.Nil(t, err)
	assert.False(t, deterministic, "Noisy oracle was reported to be deterministic")
}

func TestBisectInvalidInterval(t *testing.T) {
	values := []struct {
		min int
		max int
	}{
		{10, 9},
		{-1, 10},
		{-5, -1},
	}

	for _, v := range values {
		_, _, err := Bisect(context.Background(), syntheticPair(nil, nil), v.min, v.max)
		assert.ErrorIsf(t, err, ErrInvalidInterval, "Interval [%d, %d] was accepted", v.min, v.max)
	}
}

func TestBisectOracleFailure(t *testing.T) {
	failing := OracleFunc(func(ctx context.Context, args ...string) ([]byte, error) {
		return nil, &OracleError{Oracle: "failing", Args: args, ExitCode: 139, Err: errors.New("segmentation fault")}
	})

	t.Run("Failures are compared as output", func(t *testing.T) {
		pair := &Pair{
			Reference: syntheticOracle("ref", nil, nil),
			Candidate: failing,
		}
		index, found, err := Bisect(context.Background(), pair, 7, 100)
		assert.Nil(t, err, "Oracle failure was not conflated with a mismatch")
		assert.True(t, found)
		assert.Equal(t, 7, index)
	})
	t.Run("Failures abort strict bisections", func(t *testing.T) {
		pair := &Pair{
			Reference: syntheticOracle("ref", nil, nil),
			Candidate: failing,
			Strict:    true,
		}
		_, _, err := Bisect(context.Background(), pair, 7, 100)
		assert.ErrorIs(t, err, ErrOracleFailed, "Oracle failure didn't abort strict bisection")

		var oracleErr *OracleError
		require.True(t, errors.As(err, &oracleErr))
		assert.Equal(t, 139, oracleErr.ExitCode)
		assert.Equal(t, []string{"7", "100"}, oracleErr.Args)
	})
}

func TestBisectTimeout(t *testing.T) {
	hanging := OracleFunc(func(ctx context.Context, args ...string) ([]byte, error) {
		<-ctx.Done()
		return nil, ctx.Err()
	})

	pair := &Pair{
		Reference: syntheticOracle("ref", nil, nil),
		Candidate: hanging,
		Timeout:   10 * time.Millisecond,
	}

	_, _, err := Bisect(context.Background(), pair, 1, 100)
	assert.ErrorIs(t, err, context.DeadlineExceeded, "Hanging oracle didn't time out")
}

func TestArgStyle(t *testing.T) {
	assert.Equal(t, []string{"3", "17"}, RangeArgs.Args(3, 17))
	assert.Equal(t, []string{"17"}, CountArgs.Args(3, 17))
	assert.Equal(t, []string{"-17"}, detailArgs(17))

	style, err := ParseArgStyle("Count")
	assert.Nil(t, err)
	assert.Equal(t, CountArgs, style)
	assert.Equal(t, "count", style.String())

	_, err = ParseArgStyle("ranges")
	assert.NotNil(t, err, "Invalid arg style was accepted")
}
