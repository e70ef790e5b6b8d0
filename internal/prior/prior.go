package prior

import (
	"context"
	"fmt"
	"math"
	"time"

	"gonum.org/v1/gonum/mat"

	"github.com/23skdu/longbow-descant/internal/codemap"
	"github.com/23skdu/longbow-descant/internal/config"
	"github.com/23skdu/longbow-descant/internal/logger"
	"github.com/23skdu/longbow-descant/internal/metrics"
)

// Cache is opaque incremental state owned by the backbone. It is scoped to
// one sampling invocation; the sampler threads it through consecutive
// forward calls and discards it afterwards. Correctness of any reuse is the
// backbone's responsibility.
type Cache interface{}

// Backbone is the external sequence-model capability: it consumes a
// prepared sequence, an optional fully-visible conditioning sequence and
// the additive causal mask, and returns one model-width output per input
// position.
type Backbone interface {
	Process(ctx context.Context, seq, conditioning *Sequence, mask []float32, cache Cache) (*Sequence, Cache, error)
}

// Identity is a position-local stand-in backbone that returns its input
// unchanged. It lets priors run end-to-end (untrained) and keeps tests
// independent of any attention implementation.
type Identity struct{}

func (Identity) Process(_ context.Context, seq, _ *Sequence, _ []float32, cache Cache) (*Sequence, Cache, error) {
	return seq.Clone(), cache, nil
}

// Logits holds per-cell class logits in vocabulary-major channel-first
// layout: [batch, class, frequency, time].
type Logits struct {
	Data        []float32
	Batch       int
	Classes     int
	Frequencies int
	Duration    int
}

func NewLogits(batch, classes, frequencies, duration int) *Logits {
	return &Logits{
		Data:        make([]float32, batch*classes*frequencies*duration),
		Batch:       batch,
		Classes:     classes,
		Frequencies: frequencies,
		Duration:    duration,
	}
}

func (l *Logits) index(b, c, f, t int) int {
	return ((b*l.Classes+c)*l.Frequencies+f)*l.Duration + t
}

func (l *Logits) At(b, c, f, t int) float32 {
	return l.Data[l.index(b, c, f, t)]
}

func (l *Logits) Set(b, c, f, t int, v float32) {
	l.Data[l.index(b, c, f, t)] = v
}

// VocabAt gathers the vocabulary logits of one cell.
func (l *Logits) VocabAt(b, f, t int) []float32 {
	out := make([]float32, l.Classes)
	for c := 0; c < l.Classes; c++ {
		out[c] = l.At(b, c, f, t)
	}
	return out
}

// Prior is the hierarchical autoregressive sequence engine for one
// resolution level: it assembles codemaps into sequences, drives the
// backbone under the causal mask, and projects outputs back into
// time-frequency logit maps.
type Prior struct {
	Params    *config.Params
	Weights   *Weights
	Assembler *SequenceAssembler

	backbone Backbone
	log      *logger.Logger
}

func New(p *config.Params, w *Weights, backbone Backbone) (*Prior, error) {
	if backbone == nil {
		return nil, fmt.Errorf("nil backbone")
	}
	assembler, err := NewAssembler(p, w)
	if err != nil {
		return nil, err
	}
	return &Prior{
		Params:    p,
		Weights:   w,
		Assembler: assembler,
		backbone:  backbone,
		log:       logger.Log.Component("prior"),
	}, nil
}

// NewRandom builds a prior with freshly initialized weights.
func NewRandom(p *config.Params, seed int64, backbone Backbone) (*Prior, error) {
	w, err := NewWeights(p, seed)
	if err != nil {
		return nil, err
	}
	return New(p, w, backbone)
}

// OutputLevel is the level this prior predicts.
func (pr *Prior) OutputLevel() config.Level {
	if pr.Params.Conditional {
		return config.LevelTarget
	}
	return config.LevelSource
}

// Shape returns the extents of the generated codemap.
func (pr *Prior) Shape() (frequencies, duration int) {
	f, d, _ := pr.Params.Shape(pr.OutputLevel())
	return f, d
}

func (pr *Prior) Classes() int { return pr.Params.NumClasses }

func (pr *Prior) PredictFrequenciesFirst() bool { return pr.Params.PredictFrequenciesFirst }

// MaskLength is the causal mask extent: the predicted level's sequence
// length. The conditioning sequence is never masked.
func (pr *Prior) MaskLength() int {
	n, _ := pr.Params.SequenceLength(pr.OutputLevel())
	return n
}

// Forward runs one full pass: prepare sequences, run the backbone under the
// causal mask, project outputs to class logits and de-flatten them back to
// the time-frequency grid.
func (pr *Prior) Forward(ctx context.Context, input, condition []*codemap.Grid, cond Conditioning, cache Cache) (*Logits, Cache, error) {
	p := pr.Params
	started := time.Now()

	var seq, condSeq *Sequence
	var err error
	if p.Conditional {
		if len(condition) != len(input) {
			return nil, cache, fmt.Errorf("conditional forward: %d condition maps for batch of %d",
				len(condition), len(input))
		}
		condSeq, err = pr.Assembler.Prepare(config.LevelSource, condition, cond)
		if err != nil {
			return nil, cache, err
		}
		seq, err = pr.Assembler.Prepare(config.LevelTarget, input, cond)
		if err != nil {
			return nil, cache, err
		}
	} else {
		if len(condition) != 0 {
			return nil, cache, fmt.Errorf("unconditional forward: condition maps not accepted")
		}
		seq, err = pr.Assembler.Prepare(config.LevelSource, input, cond)
		if err != nil {
			return nil, cache, err
		}
	}
	metrics.SequenceLength.Observe(float64(seq.Length))

	mask := CausalMask(seq.Length)
	out, cache, err := pr.backbone.Process(ctx, seq, condSeq, mask, cache)
	if err != nil {
		return nil, cache, err
	}
	if out.Batch != seq.Batch || out.Length != seq.Length || out.Dim != p.DModel {
		return nil, cache, fmt.Errorf("backbone output %dx%dx%d does not match input %dx%dx%d",
			out.Batch, out.Length, out.Dim, seq.Batch, seq.Length, p.DModel)
	}

	logits := pr.project(out)
	metrics.ForwardDuration.Observe(time.Since(started).Seconds())
	return logits, cache, nil
}

// project applies the output projection and scatters each sequence position
// back to its grid cell, undoing the patch ordering where active.
func (pr *Prior) project(out *Sequence) *Logits {
	p := pr.Params
	level := pr.OutputLevel()
	frequencies, duration, _ := p.Shape(level)

	rows := mat.NewDense(out.Batch*out.Length, out.Dim, out.Data)
	var proj mat.Dense
	proj.Mul(rows, pr.Weights.OutProj.T())

	logits := NewLogits(out.Batch, p.NumClasses, frequencies, duration)
	nan := 0
	for b := 0; b < out.Batch; b++ {
		for pos := 0; pos < out.Length; pos++ {
			f, t := pr.Assembler.Cell(level, pos)
			row := proj.RawRowView(b*out.Length + pos)
			for c := 0; c < p.NumClasses; c++ {
				v := row[c] + pr.Weights.OutBias[c]
				if math.IsNaN(v) || math.IsInf(v, 0) {
					nan++
				}
				logits.Set(b, c, f, t, float32(v))
			}
		}
	}
	if nan > 0 {
		metrics.LogitNaNTotal.Add(float64(nan))
		pr.log.Warn("non-finite logits", "count", nan)
	}
	return logits
}
