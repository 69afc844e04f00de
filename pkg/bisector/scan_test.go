package bisector

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestScanChunks(t *testing.T) {
	t.Run("Divergence in second window", func(t *testing.T) {
		rec := &recorder{}

		d, err := ScanChunks(context.Background(), syntheticPair(brokenFrom(150000), rec), ChunkOptions{})
		require.Nil(t, err)
		require.NotNil(t, d, "No divergence found")

		assert.Equal(t, 150000, d.Index, "Wrong diverging test reported")
		assert.Equal(t, 100001, d.WindowStart)
		assert.Equal(t, 200000, d.WindowEnd)
		assert.Equal(t, "test 150000: good", d.Reference)
		assert.Equal(t, "test 150000: bad", d.Candidate)
		assert.Equal(t, "func", d.CandidateOracle)
		assert.Equal(t, len(rec.calls), d.Invocations)

		calls := rec.argsOf("ref")
		assert.Equal(t, []string{"1", "100000"}, calls[0], "First window not scanned first")
		assert.Equal(t, []string{"100001", "200000"}, calls[1], "Second window not scanned second")
		assert.Equal(t, []string{"-150000"}, calls[len(calls)-1], "Details not requested last")
	})
	t.Run("Divergence at window start", func(t *testing.T) {
		d, err := ScanChunks(context.Background(), syntheticPair(brokenAt(201), nil), ChunkOptions{Size: 100})
		require.Nil(t, err)
		require.NotNil(t, d)
		assert.Equal(t, 201, d.Index)
		assert.Equal(t, 201, d.WindowStart)
	})
	t.Run("Divergence at window end", func(t *testing.T) {
		d, err := ScanChunks(context.Background(), syntheticPair(brokenAt(200), nil), ChunkOptions{Size: 100})
		require.Nil(t, err)
		require.NotNil(t, d)
		assert.Equal(t, 200, d.Index)
		assert.Equal(t, 101, d.WindowStart)
	})
	t.Run("Custom start", func(t *testing.T) {
		rec := &recorder{}
		d, err := ScanChunks(context.Background(), syntheticPair(brokenFrom(1337), rec), ChunkOptions{Start: 1000, Size: 10})
		require.Nil(t, err)
		require.NotNil(t, d)
		assert.Equal(t, 1337, d.Index)
		assert.Equal(t, []string{"1000", "1009"}, rec.argsOf("ref")[0])
	})
	t.Run("No divergence within max windows", func(t *testing.T) {
		rec := &recorder{}
		d, err := ScanChunks(context.Background(), syntheticPair(brokenFrom(1000), rec), ChunkOptions{Size: 100, MaxWindows: 3})
		assert.Nil(t, err)
		assert.Nil(t, d, "Divergence found outside of the scanned windows")
		assert.Len(t, rec.calls, 6)
	})
	t.Run("Scans until cancelled", func(t *testing.T) {
		ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
		defer cancel()

		d, err := ScanChunks(ctx, syntheticPair(nil, nil), ChunkOptions{})
		assert.ErrorIs(t, err, context.DeadlineExceeded)
		assert.Nil(t, d)
	})
	t.Run("Invalid options", func(t *testing.T) {
		values := []ChunkOptions{
			{Size: -1},
			{Start: -1},
			{MaxWindows: -1},
		}
		for _, v := range values {
			_, err := ScanChunks(context.Background(), syntheticPair(nil, nil), v)
			assert.NotNilf(t, err, "Chunk options %+v were accepted", v)
		}
	})
	t.Run("Unset start scans from the first test", func(t *testing.T) {
		rec := &recorder{}
		d, err := ScanChunks(context.Background(), syntheticPair(nil, rec), ChunkOptions{Size: 10, MaxWindows: 1})
		assert.Nil(t, err)
		assert.Nil(t, d)
		assert.Equal(t, [][]string{{"1", "10"}}, rec.argsOf("ref"))
	})
	t.Run("Count arg style with custom start", func(t *testing.T) {
		// Counts always run the tests from 1, so test 5 would be reported as test 1000
		rec := &recorder{}
		pair := syntheticPair(brokenAt(5), rec)
		pair.Style = CountArgs

		d, err := ScanChunks(context.Background(), pair, ChunkOptions{Start: 1000, Size: 10, MaxWindows: 1})
		assert.ErrorIs(t, err, ErrInvalidInterval, "Windows passed as counts were accepted with a custom start")
		assert.Nil(t, d)
		assert.Empty(t, rec.calls, "Oracles were invoked despite invalid options")
	})
	t.Run("Count arg style from the first test", func(t *testing.T) {
		pair := syntheticPair(brokenAt(15), nil)
		pair.Style = CountArgs

		d, err := ScanChunks(context.Background(), pair, ChunkOptions{Start: 1, Size: 10})
		require.Nil(t, err)
		require.NotNil(t, d)
		assert.Equal(t, 15, d.Index)
		assert.Equal(t, 11, d.WindowStart)
	})
}

func TestScanFixed(t *testing.T) {
	t.Run("Agreeing oracles are not bisected", func(t *testing.T) {
		rec := &recorder{}
		pair := syntheticPair(nil, rec)

		d, err := ScanFixed(context.Background(), pair, FixedOptions{})
		assert.Nil(t, err)
		assert.Nil(t, d, "Agreeing oracles resulted in a divergence")

		assert.Equal(t, 2, pair.Invocations(), "Agreeing oracles were invoked more than once")
		assert.Equal(t, [][]string{{"1", "3000000"}}, rec.argsOf("ref"))
	})
	t.Run("Divergence below bound", func(t *testing.T) {
		d, err := ScanFixed(context.Background(), syntheticPair(brokenFrom(2718281), nil), FixedOptions{})
		require.Nil(t, err)
		require.NotNil(t, d)
		assert.Equal(t, 2718281, d.Index)
		assert.Equal(t, 1, d.WindowStart)
		assert.Equal(t, DefaultBound, d.WindowEnd)
	})
	t.Run("Count arg style", func(t *testing.T) {
		rec := &recorder{}
		pair := syntheticPair(brokenFrom(500), rec)
		pair.Style = CountArgs

		d, err := ScanFixed(context.Background(), pair, FixedOptions{Bound: 1000})
		require.Nil(t, err)
		require.NotNil(t, d)
		assert.Equal(t, 500, d.Index)

		calls := rec.argsOf("ref")
		assert.Equal(t, []string{"1000"}, calls[0])
		assert.Equal(t, []string{"1"}, calls[1])
		assert.Equal(t, []string{"500"}, calls[2], "Count style didn't check the first midpoint")
	})
	t.Run("First test diverging", func(t *testing.T) {
		d, err := ScanFixed(context.Background(), syntheticPair(brokenAt(1), nil), FixedOptions{Bound: 10})
		require.Nil(t, err)
		require.NotNil(t, d)
		assert.Equal(t, 1, d.Index)
	})
	t.Run("Invalid bound", func(t *testing.T) {
		_, err := ScanFixed(context.Background(), syntheticPair(nil, nil), FixedOptions{Bound: -3})
		assert.ErrorIs(t, err, ErrInvalidInterval)
	})
}

func TestScanVerify(t *testing.T) {
	t.Run("Deterministic oracles", func(t *testing.T) {
		pair := syntheticPair(brokenFrom(42), nil)
		pair.Verify = true

		d, err := ScanFixed(context.Background(), pair, FixedOptions{Bound: 100})
		require.Nil(t, err)
		require.NotNil(t, d)
		assert.False(t, d.Flaky, "Deterministic oracles reported as flaky")
	})
	t.Run("Non-deterministic details", func(t *testing.T) {
		calls := 0
		honest := syntheticOracle("new", brokenFrom(42), nil)
		flaky := OracleFunc(func(ctx context.Context, args ...string) ([]byte, error) {
			if args[0] == "-42" {
				calls++
				if calls%2 == 0 {
					return []byte("something else"), nil
				}
			}
			return honest.Run(ctx, args...)
		})

		pair := &Pair{
			Reference: syntheticOracle("ref", nil, nil),
			Candidate: flaky,
			Verify:    true,
		}

		d, err := ScanFixed(context.Background(), pair, FixedOptions{Bound: 100})
		require.Nil(t, err)
		require.NotNil(t, d)
		assert.Equal(t, 42, d.Index)
		assert.True(t, d.Flaky, "Non-deterministic oracle not detected")
	})
}
