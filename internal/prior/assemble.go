package prior

import (
	"fmt"

	"gonum.org/v1/gonum/mat"

	"github.com/23skdu/longbow-descant/internal/codemap"
	"github.com/23skdu/longbow-descant/internal/config"
)

// Conditioning carries per-batch class indices for each conditioning
// modality. Every value slice must have one entry per batch element.
type Conditioning map[string][]int

// SequenceAssembler turns a batch of codemaps into prepared model-input
// sequences: token embedding + projection, positional concatenation, raster
// or patch-aligned ordering, and the shift-right with start symbol needed
// for next-token prediction.
type SequenceAssembler struct {
	params  *config.Params
	weights *Weights
	encoder *PositionalEncoder
	order   *codemap.PatchOrder // nil unless conditional patch-relative
	offsets map[string]int
}

func NewAssembler(p *config.Params, w *Weights) (*SequenceAssembler, error) {
	if err := p.Validate(); err != nil {
		return nil, err
	}
	a := &SequenceAssembler{
		params:  p,
		weights: w,
		encoder: NewPositionalEncoder(p, w),
		offsets: p.ConditioningOffsets(),
	}
	if p.Conditional && p.Scheme() == config.SchemePatchRelative {
		srcF, srcD, _ := p.Shape(config.LevelSource)
		tgtF, tgtD, _ := p.Shape(config.LevelTarget)
		order, err := codemap.NewPatchOrder(srcF, srcD, tgtF, tgtD)
		if err != nil {
			return nil, err
		}
		a.order = order
	}
	return a, nil
}

// Index maps a grid cell of the given level to its sequence position.
func (a *SequenceAssembler) Index(level config.Level, f, t int) int {
	frequencies, duration, _ := a.params.Shape(level)
	if a.order != nil && level == config.LevelTarget {
		return a.order.Index(f, t)
	}
	if a.params.PredictFrequenciesFirst {
		return t*frequencies + f
	}
	return f*duration + t
}

// Cell is the inverse of Index.
func (a *SequenceAssembler) Cell(level config.Level, pos int) (f, t int) {
	frequencies, duration, _ := a.params.Shape(level)
	if a.order != nil && level == config.LevelTarget {
		return a.order.Cell(pos)
	}
	if a.params.PredictFrequenciesFirst {
		return pos % frequencies, pos / frequencies
	}
	return pos / duration, pos % duration
}

// shifted reports whether sequences of the level get the shift-right with
// start symbol. A conditional model's source sequence is pure conditioning
// context and is used unshifted.
func (a *SequenceAssembler) shifted(level config.Level) bool {
	return level == config.LevelTarget || !a.params.Conditional
}

// Prepare assembles the batch of grids into sequences of model width.
func (a *SequenceAssembler) Prepare(level config.Level, grids []*codemap.Grid, cond Conditioning) (*Sequence, error) {
	p := a.params
	frequencies, duration, err := p.Shape(level)
	if err != nil {
		return nil, err
	}
	if len(grids) == 0 {
		return nil, fmt.Errorf("prepare %v: empty batch", level)
	}
	for _, g := range grids {
		if g.Frequencies != frequencies || g.Duration != duration {
			return nil, codemap.ShapeError{
				Op:   fmt.Sprintf("prepare %v", level),
				Want: [2]int{frequencies, duration},
				Got:  [2]int{g.Frequencies, g.Duration},
			}
		}
	}
	if err := a.checkConditioning(cond, len(grids)); err != nil {
		return nil, err
	}

	embed, proj, projBias, start := a.levelTables(level)

	// project the full embedding table once: (numClasses x embedOut)
	var projected mat.Dense
	projected.Mul(embed, proj.T())

	posGrid, err := a.encoder.Grid(level)
	if err != nil {
		return nil, err
	}

	batch := len(grids)
	length := frequencies * duration
	embedOut := p.DModel - p.PositionalDim
	seq := NewSequence(batch, length, p.DModel)
	shift := a.shifted(level)

	for b, g := range grids {
		for f := 0; f < frequencies; f++ {
			for t := 0; t < duration; t++ {
				token := g.At(f, t)
				if token < 0 || int(token) >= p.NumClasses {
					return nil, fmt.Errorf("prepare %v: token %d at (%d,%d) outside vocabulary [0,%d)",
						level, token, f, t, p.NumClasses)
				}
				pos := a.Index(level, f, t)
				if shift {
					// position 0 is the start symbol; the last cell in
					// sequence order is dropped
					pos++
					if pos >= length {
						continue
					}
				}
				row := seq.Row(b, pos)
				emb := projected.RawRowView(int(token))
				for i := 0; i < embedOut; i++ {
					row[i] = emb[i] + projBias[i]
				}
				copy(row[embedOut:], posGrid.At(f, t))
			}
		}
		if shift {
			startRow := seq.Row(b, 0)
			copy(startRow, start)
			if err := a.writeConditioning(startRow, cond, b); err != nil {
				return nil, err
			}
		}
	}
	return seq, nil
}

func (a *SequenceAssembler) levelTables(level config.Level) (embed, proj *mat.Dense, projBias, start []float64) {
	w := a.weights
	if level == config.LevelTarget {
		return w.TargetEmbed, w.TargetProj, w.TargetProjBias, w.TargetStart
	}
	return w.SourceEmbed, w.SourceProj, w.SourceProjBias, w.SourceStart
}

func (a *SequenceAssembler) checkConditioning(cond Conditioning, batch int) error {
	for name, values := range cond {
		table, ok := a.weights.CondEmbed[name]
		if !ok {
			return fmt.Errorf("unknown conditioning modality %q", name)
		}
		if len(values) != batch {
			return fmt.Errorf("modality %q: %d values for batch of %d", name, len(values), batch)
		}
		rows, _ := table.Dims()
		for _, v := range values {
			if v < 0 || v >= rows {
				return fmt.Errorf("modality %q: class %d outside [0,%d)", name, v, rows)
			}
		}
	}
	return nil
}

// writeConditioning embeds each modality's class and writes it into the
// start symbol at its configured offset range.
func (a *SequenceAssembler) writeConditioning(startRow []float64, cond Conditioning, b int) error {
	for name, values := range cond {
		table := a.weights.CondEmbed[name]
		emb := table.RawRowView(values[b])
		offset := a.offsets[name]
		copy(startRow[offset:offset+len(emb)], emb)
	}
	return nil
}
