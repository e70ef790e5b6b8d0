// Package sampler drives position-by-position decoding of a codemap: at
// each grid cell it runs a full forward pass, scales the cell's logits by
// temperature, draws one class per batch element and writes it back.
package sampler

import (
	"context"
	"fmt"
	"math"
	"math/rand"
	"time"

	"github.com/23skdu/longbow-descant/internal/codemap"
	"github.com/23skdu/longbow-descant/internal/logger"
	"github.com/23skdu/longbow-descant/internal/metrics"
	"github.com/23skdu/longbow-descant/internal/prior"
)

// Model is the codemap-level capability the sampler consumes. A full
// forward pass must return logits for every grid cell; cells not yet
// generated hold placeholder zeros that the causal mask keeps invisible.
type Model interface {
	Forward(ctx context.Context, input, condition []*codemap.Grid, cond prior.Conditioning, cache prior.Cache) (*prior.Logits, prior.Cache, error)
	Shape() (frequencies, duration int)
	Classes() int
	PredictFrequenciesFirst() bool
}

type Config struct {
	Temperature float64
	Seed        int64
}

type Options struct {
	BatchSize  int
	Condition  []*codemap.Grid
	Constraint *codemap.Grid
	Class      prior.Conditioning
}

type Sampler struct {
	Config Config
	rng    *rand.Rand
	log    *logger.Logger
}

func New(cfg Config) (*Sampler, error) {
	if cfg.Temperature <= 0 {
		return nil, fmt.Errorf("invalid temperature: %g (must be positive)", cfg.Temperature)
	}
	if cfg.Seed == 0 {
		cfg.Seed = time.Now().UnixNano()
	}
	return NewWithRand(cfg, rand.New(rand.NewSource(cfg.Seed))), nil
}

// NewWithRand injects the pseudo-random source, for deterministic tests.
func NewWithRand(cfg Config, rng *rand.Rand) *Sampler {
	return &Sampler{
		Config: cfg,
		rng:    rng,
		log:    logger.Log.Component("sampler"),
	}
}

// Sample fills a batch of codemaps autoregressively. The constraint, if
// any, seeds the top-left region of every batch element and is never
// overwritten. The incremental cache is scoped to this call.
func (s *Sampler) Sample(ctx context.Context, model Model, opts Options) ([]*codemap.Grid, error) {
	if !model.PredictFrequenciesFirst() {
		return nil, prior.UnsupportedError{Op: "sampling in time-major order"}
	}
	batch := opts.BatchSize
	if batch <= 0 {
		batch = 1
	}

	frequencies, duration := model.Shape()
	grids := make([]*codemap.Grid, batch)
	for b := range grids {
		grids[b] = codemap.New(frequencies, duration)
	}

	constraintHeight, constraintWidth := 0, 0
	if opts.Constraint != nil {
		for _, g := range grids {
			if err := g.ApplyConstraint(opts.Constraint); err != nil {
				metrics.RecordValidationError("sample", "constraint_shape")
				return nil, err
			}
		}
		constraintHeight = opts.Constraint.Frequencies
		constraintWidth = opts.Constraint.Duration
		metrics.ConstraintCellsTotal.Add(float64(constraintHeight * constraintWidth * batch))
	}

	s.log.Info("sampling codemap",
		"frequencies", frequencies, "duration", duration,
		"batch", batch, "temperature", s.Config.Temperature,
		"constraint", fmt.Sprintf("%dx%d", constraintHeight, constraintWidth))

	var cache prior.Cache
	started := time.Now()
	for t := 0; t < duration; t++ {
		// columns covered by the constraint start below it; the first
		// unconstrained row of such a column is sampled, not skipped
		startRow := 0
		if t < constraintWidth {
			startRow = constraintHeight
		}
		for f := startRow; f < frequencies; f++ {
			if err := ctx.Err(); err != nil {
				return nil, fmt.Errorf("sampling cancelled at (%d,%d): %w", f, t, err)
			}
			stepStart := time.Now()

			logits, nextCache, err := model.Forward(ctx, grids, opts.Condition, opts.Class, cache)
			if err != nil {
				return nil, fmt.Errorf("forward at (%d,%d): %w", f, t, err)
			}
			cache = nextCache

			for b := 0; b < batch; b++ {
				probs := s.softmax(logits.VocabAt(b, f, t))
				grids[b].Set(f, t, int32(s.draw(probs)))
			}
			metrics.RecordStep(time.Since(stepStart))
		}
		s.log.Debug("column sampled", "t", t, "of", duration)
	}

	s.log.Info("sampling complete",
		"cells", frequencies*duration, "elapsed", time.Since(started).String())
	return grids, nil
}

// softmax applies temperature scaling and a numerically stable softmax.
func (s *Sampler) softmax(logits []float32) []float64 {
	probs := make([]float64, len(logits))
	for i, v := range logits {
		probs[i] = float64(v) / s.Config.Temperature
	}

	maxVal := probs[0]
	for _, v := range probs {
		if v > maxVal {
			maxVal = v
		}
	}

	sum := 0.0
	for i := range probs {
		probs[i] = math.Exp(probs[i] - maxVal)
		sum += probs[i]
	}
	for i := range probs {
		probs[i] /= sum
	}
	return probs
}

// draw samples one index from a categorical distribution.
func (s *Sampler) draw(probs []float64) int {
	r := s.rng.Float64()
	acc := 0.0
	for i, p := range probs {
		acc += p
		if r < acc {
			return i
		}
	}
	return len(probs) - 1
}
