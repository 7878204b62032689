package generator

import (
	"math"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fakeClock is a manually advanced clock for the time based generators.
type fakeClock struct {
	t time.Time
}

func (c *fakeClock) now() time.Time {
	return c.t
}

// edgeRandom always returns the given extremes of its range, to exercise the range boundaries.
type edgeRandom struct {
	high bool
}

func (r edgeRandom) Float64() float64 {
	if r.high {
		return 0.9999999999
	}
	return 0
}

func (r edgeRandom) Int63n(n int64) int64 {
	if r.high {
		return n - 1
	}
	return 0
}

func (r edgeRandom) Uint64() uint64 {
	if r.high {
		return math.MaxUint64
	}
	return 0
}

func TestUniform(t *testing.T) {
	gen, err := NewRegistry().Lookup("uniform")
	require.NoError(t, err)

	for i := 0; i < 1000; i++ {
		val, err := gen.Generate([]interface{}{10.0, 20.0})
		require.NoError(t, err)
		f, ok := val.(float64)
		require.True(t, ok)
		assert.GreaterOrEqual(t, f, 10.0)
		assert.LessOrEqual(t, f, 20.0)
	}

	_, err = gen.Generate([]interface{}{10.0})
	assert.ErrorIs(t, err, ErrParameter)

	_, err = gen.Generate([]interface{}{"low", 10.0})
	assert.ErrorIs(t, err, ErrParameter)
}

func TestRandint(t *testing.T) {
	gen, err := NewRegistry().Lookup("randint")
	require.NoError(t, err)

	for i := 0; i < 1000; i++ {
		val, err := gen.Generate([]interface{}{1.0, 10.0})
		require.NoError(t, err)
		n, ok := val.(int64)
		require.True(t, ok)
		assert.GreaterOrEqual(t, n, int64(1))
		assert.LessOrEqual(t, n, int64(10))
	}

	_, err = gen.Generate([]interface{}{5})
	assert.ErrorIs(t, err, ErrParameter)

	_, err = gen.Generate([]interface{}{1.5, 10.0})
	assert.ErrorIs(t, err, ErrParameter)

	_, err = gen.Generate([]interface{}{10, 1})
	assert.ErrorIs(t, err, ErrParameter)
}

func TestRandintIsInclusive(t *testing.T) {
	low := NewRegistry(WithRandom(edgeRandom{high: false}))
	high := NewRegistry(WithRandom(edgeRandom{high: true}))

	val, err := low.Generate("randint", []interface{}{3, 7})
	require.NoError(t, err)
	assert.Equal(t, int64(3), val)

	val, err = high.Generate("randint", []interface{}{3, 7})
	require.NoError(t, err)
	assert.Equal(t, int64(7), val)
}

func TestRandintWideRange(t *testing.T) {
	registry := NewRegistry()
	for i := 0; i < 1000; i++ {
		val, err := registry.Generate("randint", []interface{}{-9e18, 9e18})
		require.NoError(t, err)
		n, ok := val.(int64)
		require.True(t, ok)
		assert.GreaterOrEqual(t, n, int64(-9e18))
		assert.LessOrEqual(t, n, int64(9e18))
	}

	for _, edge := range []edgeRandom{{high: false}, {high: true}} {
		val, err := NewRegistry(WithRandom(edge)).Generate("randint", []interface{}{-9e18, 9e18})
		require.NoError(t, err)
		assert.GreaterOrEqual(t, val, int64(-9e18))
		assert.LessOrEqual(t, val, int64(9e18))
	}

	val, err := NewRegistry(WithRandom(edgeRandom{high: false})).Generate("randint", []interface{}{-9e18, 9e18})
	require.NoError(t, err)
	assert.Equal(t, int64(-9e18), val)
}

func TestRandintRejectsBoundsOutsideInt64(t *testing.T) {
	registry := NewRegistry()
	for _, params := range [][]interface{}{
		{0.0, 1e19},
		{-1e19, 0.0},
		{0.0, math.Inf(1)},
		{math.Inf(-1), 0.0},
		{math.NaN(), 1.0},
	} {
		_, err := registry.Generate("randint", params)
		assert.ErrorIs(t, err, ErrParameter, "params %v", params)
	}
}

func TestTimestamp(t *testing.T) {
	clock := &fakeClock{t: time.Unix(1700000000, 500)}
	registry := NewRegistry(WithClock(clock.now))

	val, err := registry.Generate("timestamp", nil)
	require.NoError(t, err)
	assert.Equal(t, int64(1700000000), val)

	val, err = NewRegistry().Generate("timestamp", []interface{}{"ignored"})
	require.NoError(t, err)
	assert.InDelta(t, time.Now().Unix(), val, 2)
}

func TestFixed(t *testing.T) {
	gen, err := NewRegistry().Lookup("fixed")
	require.NoError(t, err)

	for _, v := range []interface{}{42, 3.14, "test", true, nil} {
		val, err := gen.Generate([]interface{}{v, "extra"})
		require.NoError(t, err)
		assert.Equal(t, v, val)
	}

	_, err = gen.Generate([]interface{}{})
	assert.ErrorIs(t, err, ErrParameter)
}

func TestSine(t *testing.T) {
	clock := &fakeClock{t: time.Unix(1000, 0)}
	registry := NewRegistry(WithClock(clock.now))

	gen, err := registry.Lookup("sine")
	require.NoError(t, err)

	// with zero frequency the sine term vanishes and only the DC offset remains
	for _, elapsed := range []time.Duration{0, time.Second, 17 * time.Minute} {
		clock.t = time.Unix(1000, 0).Add(elapsed)
		val, err := gen.Generate([]interface{}{10.0, 0.0, 0.0, 50.0})
		require.NoError(t, err)
		assert.InDelta(t, 50.0, val, 1e-9)
	}

	// a quarter period after construction the wave is at its peak
	clock.t = time.Unix(1000, 0).Add(250 * time.Millisecond)
	val, err := gen.Generate([]interface{}{10.0, 1.0, 0.0, 50.0})
	require.NoError(t, err)
	assert.InDelta(t, 60.0, val, 1e-9)

	_, err = gen.Generate([]interface{}{10.0, 1.0})
	assert.ErrorIs(t, err, ErrParameter)
}

func TestSineEpochIsPerInstance(t *testing.T) {
	clock := &fakeClock{t: time.Unix(1000, 0)}
	first := NewRegistry(WithClock(clock.now))

	clock.t = time.Unix(1000, 0).Add(250 * time.Millisecond)
	second := NewRegistry(WithClock(clock.now))

	params := []interface{}{10.0, 1.0, 0.0, 50.0}
	a, err := first.Generate("sine", params)
	require.NoError(t, err)
	b, err := second.Generate("sine", params)
	require.NoError(t, err)

	assert.InDelta(t, 60.0, a, 1e-9)
	assert.InDelta(t, 50.0, b, 1e-9)
}

func TestNoise(t *testing.T) {
	gen, err := NewRegistry().Lookup("noise")
	require.NoError(t, err)

	for i := 0; i < 1000; i++ {
		val, err := gen.Generate([]interface{}{100.0, 5.0})
		require.NoError(t, err)
		assert.GreaterOrEqual(t, val, 95.0)
		assert.LessOrEqual(t, val, 105.0)
	}

	_, err = gen.Generate([]interface{}{100.0})
	assert.ErrorIs(t, err, ErrParameter)
}

func TestLookup(t *testing.T) {
	registry := NewRegistry()

	for _, name := range []string{"uniform", "randint", "timestamp", "fixed", "sine", "noise"} {
		_, err := registry.Lookup(name)
		assert.NoError(t, err, name)
	}

	_, err := registry.Lookup("invalid_generator")
	assert.ErrorIs(t, err, ErrUnknownGenerator)
	assert.ErrorContains(t, err, "fixed, noise, randint, sine, timestamp, uniform")
}

func TestNames(t *testing.T) {
	assert.Equal(t, []string{"fixed", "noise", "randint", "sine", "timestamp", "uniform"}, NewRegistry().Names())
}
