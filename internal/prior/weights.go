package prior

import (
	"fmt"
	"math/rand"

	"gonum.org/v1/gonum/mat"

	"github.com/23skdu/longbow-descant/internal/config"
)

// Weights holds every learned parameter of a prior. They are created once at
// construction, mutated only by training, and read-only during inference.
type Weights struct {
	params *config.Params

	SourceEmbed        *mat.Dense // numClasses x embeddingDim
	SourceProj         *mat.Dense // (dModel-positionalDim) x embeddingDim
	SourceProjBias     []float64
	SourcePosFrequency *mat.Dense // sourceFrequencies x positionalDim/2
	SourcePosTime      *mat.Dense // sourceDuration x positionalDim/2
	SourceStart        []float64  // dModel

	// Target-level parameters, nil for unconditional models.
	TargetEmbed        *mat.Dense
	TargetProj         *mat.Dense
	TargetProjBias     []float64
	TargetPosFrequency *mat.Dense // targetFrequencies x positionalDim/2
	TargetPosTime      *mat.Dense // absolute scheme only
	TargetPosPatch     *mat.Dense // patch-relative scheme only: (ratioF*ratioD) x positionalDim/2
	TargetStart        []float64

	CondEmbed map[string]*mat.Dense // modality name -> numClasses x embeddingDim

	OutProj *mat.Dense // numClasses x dModel
	OutBias []float64
}

func randDense(rng *rand.Rand, rows, cols int) *mat.Dense {
	data := make([]float64, rows*cols)
	for i := range data {
		data[i] = rng.NormFloat64()
	}
	return mat.NewDense(rows, cols, data)
}

func randVec(rng *rand.Rand, n int) []float64 {
	v := make([]float64, n)
	for i := range v {
		v[i] = rng.NormFloat64()
	}
	return v
}

// NewWeights initializes all parameters from a normal distribution seeded by
// seed. Params must already be validated.
func NewWeights(p *config.Params, seed int64) (*Weights, error) {
	if err := p.Validate(); err != nil {
		return nil, err
	}
	rng := rand.New(rand.NewSource(seed))

	half := p.PositionalDim / 2
	embedOut := p.DModel - p.PositionalDim

	srcF, srcD, _ := p.Shape(config.LevelSource)

	w := &Weights{
		params:             p,
		SourceEmbed:        randDense(rng, p.NumClasses, p.EmbeddingDim),
		SourceProj:         randDense(rng, embedOut, p.EmbeddingDim),
		SourceProjBias:     randVec(rng, embedOut),
		SourcePosFrequency: randDense(rng, srcF, half),
		SourcePosTime:      randDense(rng, srcD, half),
		SourceStart:        randVec(rng, p.DModel),
		CondEmbed:          make(map[string]*mat.Dense, len(p.ClassConditioning)),
		OutProj:            randDense(rng, p.NumClasses, p.DModel),
		OutBias:            randVec(rng, p.NumClasses),
	}

	if p.Conditional {
		tgtF, tgtD, _ := p.Shape(config.LevelTarget)
		w.TargetEmbed = randDense(rng, p.NumClasses, p.EmbeddingDim)
		w.TargetProj = randDense(rng, embedOut, p.EmbeddingDim)
		w.TargetProjBias = randVec(rng, embedOut)
		w.TargetPosFrequency = randDense(rng, tgtF, half)
		w.TargetStart = randVec(rng, p.DModel)
		if p.Scheme() == config.SchemePatchRelative {
			rf, rd := p.Ratios()
			w.TargetPosPatch = randDense(rng, rf*rd, half)
		} else {
			w.TargetPosTime = randDense(rng, tgtD, half)
		}
	}

	for _, m := range p.ClassConditioning {
		w.CondEmbed[m.Name] = randDense(rng, m.NumClasses, m.EmbeddingDim)
	}

	return w, nil
}

// tensorRef names one parameter tensor and exposes its backing storage.
// The manifest order is the on-disk order of the checkpoint format.
type tensorRef struct {
	name string
	dims []int
	data []float64
}

func denseRef(name string, d *mat.Dense) tensorRef {
	r, c := d.Dims()
	return tensorRef{name: name, dims: []int{r, c}, data: d.RawMatrix().Data}
}

func vecRef(name string, v []float64) tensorRef {
	return tensorRef{name: name, dims: []int{len(v)}, data: v}
}

func (w *Weights) manifest() []tensorRef {
	refs := []tensorRef{
		denseRef("source.embed", w.SourceEmbed),
		denseRef("source.proj.weight", w.SourceProj),
		vecRef("source.proj.bias", w.SourceProjBias),
		denseRef("source.pos.frequency", w.SourcePosFrequency),
		denseRef("source.pos.time", w.SourcePosTime),
		vecRef("source.start", w.SourceStart),
	}
	if w.params.Conditional {
		refs = append(refs,
			denseRef("target.embed", w.TargetEmbed),
			denseRef("target.proj.weight", w.TargetProj),
			vecRef("target.proj.bias", w.TargetProjBias),
			denseRef("target.pos.frequency", w.TargetPosFrequency),
		)
		if w.params.Scheme() == config.SchemePatchRelative {
			refs = append(refs, denseRef("target.pos.patch", w.TargetPosPatch))
		} else {
			refs = append(refs, denseRef("target.pos.time", w.TargetPosTime))
		}
		refs = append(refs, vecRef("target.start", w.TargetStart))
	}
	for _, m := range w.params.ClassConditioning {
		refs = append(refs, denseRef(fmt.Sprintf("cond.%s.embed", m.Name), w.CondEmbed[m.Name]))
	}
	refs = append(refs,
		denseRef("out.proj.weight", w.OutProj),
		vecRef("out.proj.bias", w.OutBias),
	)
	return refs
}
