package generator

import (
	"errors"
	"fmt"
	"math"
	"strings"
	"time"

	"golang.org/x/exp/maps"
	"golang.org/x/exp/slices"
)

var (
	ErrParameter        = errors.New("invalid generator parameters")
	ErrUnknownGenerator = errors.New("unknown generator")
)

// Generator synthesises a register value from the parameters given in a register definition.
type Generator interface {
	Generate(params []interface{}) (interface{}, error)
}

// Random is the source of randomness used by the generators. Implementations must be safe for concurrent use.
type Random interface {
	Float64() float64
	Int63n(n int64) int64
	Uint64() uint64
}

// Registry maps generator names, as used in register tables, to generators.
// It is built once at startup and shared by every simulated device.
type Registry struct {
	generators map[string]Generator
}

type options struct {
	random Random
	now    func() time.Time
}

type Option func(*options)

// WithRandom sets the source of randomness for the random generators.
func WithRandom(r Random) Option {
	return func(o *options) {
		o.random = r
	}
}

// WithClock sets the wall clock used by the time based generators.
func WithClock(now func() time.Time) Option {
	return func(o *options) {
		o.now = now
	}
}

// NewRegistry returns a registry holding the standard generators: uniform, randint, timestamp, fixed, sine and noise.
func NewRegistry(opts ...Option) *Registry {
	o := options{
		random: NewLockedRandom(time.Now().UnixNano()),
		now:    time.Now,
	}
	for _, opt := range opts {
		opt(&o)
	}

	return &Registry{
		generators: map[string]Generator{
			"uniform":   &uniformGenerator{random: o.random},
			"randint":   &randintGenerator{random: o.random},
			"timestamp": &timestampGenerator{now: o.now},
			"fixed":     &fixedGenerator{},
			"sine":      newSineGenerator(o.now),
			"noise":     &noiseGenerator{random: o.random},
		},
	}
}

// Lookup returns the generator registered under `name`.
func (r *Registry) Lookup(name string) (Generator, error) {
	gen, ok := r.generators[name]
	if !ok {
		return nil, fmt.Errorf("%w '%s', available: %s", ErrUnknownGenerator, name, strings.Join(r.Names(), ", "))
	}
	return gen, nil
}

// Names returns the registered generator names in alphabetical order.
func (r *Registry) Names() []string {
	names := maps.Keys(r.generators)
	slices.Sort(names)
	return names
}

// Generate looks up the named generator and invokes it with `params`.
func (r *Registry) Generate(name string, params []interface{}) (interface{}, error) {
	gen, err := r.Lookup(name)
	if err != nil {
		return nil, err
	}
	return gen.Generate(params)
}

type uniformGenerator struct {
	random Random
}

// Generate returns a float uniformly distributed in [min, max].
func (g *uniformGenerator) Generate(params []interface{}) (interface{}, error) {
	vals, err := floatParams("uniform", params, "min", "max")
	if err != nil {
		return nil, err
	}
	min, max := vals[0], vals[1]
	return min + (max-min)*g.random.Float64(), nil
}

type randintGenerator struct {
	random Random
}

// Generate returns an integer uniformly distributed in [min, max], both ends included.
func (g *randintGenerator) Generate(params []interface{}) (interface{}, error) {
	vals, err := floatParams("randint", params, "min", "max")
	if err != nil {
		return nil, err
	}
	if vals[0] != math.Trunc(vals[0]) || vals[1] != math.Trunc(vals[1]) {
		return nil, fmt.Errorf("%w: randint requires integer [min, max], got %v", ErrParameter, params[:2])
	}
	for _, v := range vals {
		if v < math.MinInt64 || v >= math.MaxInt64 {
			return nil, fmt.Errorf("%w: randint bound %v is outside the int64 range", ErrParameter, v)
		}
	}
	min, max := int64(vals[0]), int64(vals[1])
	if min > max {
		return nil, fmt.Errorf("%w: randint min %d is greater than max %d", ErrParameter, min, max)
	}

	// the span wraps as int64 once it exceeds MaxInt64, but is exact as uint64
	span := uint64(max) - uint64(min)
	if span < math.MaxInt64 {
		return min + g.random.Int63n(int64(span)+1), nil
	}
	if span == math.MaxUint64 {
		return min + int64(g.random.Uint64()), nil
	}
	return min + int64(g.random.Uint64()%(span+1)), nil
}

type timestampGenerator struct {
	now func() time.Time
}

// Generate returns the current Unix time in seconds, the parameters are ignored.
func (g *timestampGenerator) Generate(params []interface{}) (interface{}, error) {
	return g.now().Unix(), nil
}

type fixedGenerator struct{}

// Generate returns the first parameter unchanged, whatever its type.
func (g *fixedGenerator) Generate(params []interface{}) (interface{}, error) {
	if len(params) == 0 {
		return nil, fmt.Errorf("%w: fixed requires at least 1 parameter", ErrParameter)
	}
	return params[0], nil
}

// sineGenerator produces a sine wave. Time is measured from the construction of the generator, so every instance has
// its own phase origin.
type sineGenerator struct {
	now   func() time.Time
	epoch time.Time
}

func newSineGenerator(now func() time.Time) *sineGenerator {
	return &sineGenerator{now: now, epoch: now()}
}

// Generate returns amplitude * sin(2π * frequency * t + phase) + dc_offset.
func (g *sineGenerator) Generate(params []interface{}) (interface{}, error) {
	vals, err := floatParams("sine", params, "amplitude", "frequency", "phase", "dc_offset")
	if err != nil {
		return nil, err
	}
	amplitude, frequency, phase, dcOffset := vals[0], vals[1], vals[2], vals[3]
	t := g.now().Sub(g.epoch).Seconds()
	return amplitude*math.Sin(2*math.Pi*frequency*t+phase) + dcOffset, nil
}

type noiseGenerator struct {
	random Random
}

// Generate returns base plus uniform noise in [-amplitude, +amplitude].
func (g *noiseGenerator) Generate(params []interface{}) (interface{}, error) {
	vals, err := floatParams("noise", params, "base_value", "noise_amplitude")
	if err != nil {
		return nil, err
	}
	base, amplitude := vals[0], vals[1]
	return base + (-amplitude + 2*amplitude*g.random.Float64()), nil
}

// floatParams converts the leading params to floats, one per name. Extra params are ignored.
func floatParams(generator string, params []interface{}, names ...string) ([]float64, error) {
	if len(params) < len(names) {
		return nil, fmt.Errorf("%w: %s requires %d parameters [%s], got %d",
			ErrParameter, generator, len(names), strings.Join(names, ", "), len(params))
	}

	vals := make([]float64, len(names))
	for i, name := range names {
		switch v := params[i].(type) {
		case float64:
			vals[i] = v
		case float32:
			vals[i] = float64(v)
		case int:
			vals[i] = float64(v)
		case int64:
			vals[i] = float64(v)
		default:
			return nil, fmt.Errorf("%w: %s parameter '%s' must be a number, got %v", ErrParameter, generator, name, params[i])
		}
	}
	return vals, nil
}
