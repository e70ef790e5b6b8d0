// Package seqmask generates token-level corruption masks for masked
// sequence training. A strategy decides which positions of a flattened
// codemap sequence get replaced by its mask token; Apply performs the
// replacement in place.
package seqmask

import (
	"fmt"
	"math/rand"

	"github.com/23skdu/longbow-descant/internal/metrics"
	"github.com/23skdu/longbow-descant/internal/prior"
)

// Strategy produces one boolean mask row per batch element; true marks a
// position to be replaced by the strategy's mask token.
type Strategy interface {
	SampleMask(batchSize int) ([][]bool, error)
	MaskToken() int32
	SequenceLength() int
}

// Apply replaces masked positions of each row in place. Rows must match
// the strategy's sequence length.
func Apply(s Strategy, rows [][]int32) error {
	mask, err := s.SampleMask(len(rows))
	if err != nil {
		return err
	}
	token := s.MaskToken()
	masked := 0
	for i, row := range rows {
		if len(row) != s.SequenceLength() {
			return fmt.Errorf("row %d has length %d, want %d", i, len(row), s.SequenceLength())
		}
		for j, m := range mask[i] {
			if m {
				row[j] = token
				masked++
			}
		}
	}
	metrics.MaskedTokensTotal.Add(float64(masked))
	return nil
}

// Bernoulli masks each position independently with fixed probability.
type Bernoulli struct {
	P      float64
	Length int
	Token  int32
	rng    *rand.Rand
}

func NewBernoulli(p float64, length int, token int32, rng *rand.Rand) (*Bernoulli, error) {
	if p < 0 || p > 1 {
		return nil, fmt.Errorf("masking probability %g outside [0,1]", p)
	}
	if length <= 0 {
		return nil, fmt.Errorf("invalid sequence length %d", length)
	}
	return &Bernoulli{P: p, Length: length, Token: token, rng: rng}, nil
}

func (b *Bernoulli) SampleMask(batchSize int) ([][]bool, error) {
	mask := make([][]bool, batchSize)
	for i := range mask {
		mask[i] = make([]bool, b.Length)
		for j := range mask[i] {
			mask[i][j] = b.rng.Float64() < b.P
		}
	}
	return mask, nil
}

func (b *Bernoulli) MaskToken() int32    { return b.Token }
func (b *Bernoulli) SequenceLength() int { return b.Length }

// RangedBernoulli draws one masking probability uniformly from [Low, High)
// per call, then masks positions independently with it. All batch rows of
// one call share the drawn probability.
type RangedBernoulli struct {
	Low    float64
	High   float64
	Length int
	Token  int32
	rng    *rand.Rand
}

func NewRangedBernoulli(low, high float64, length int, token int32, rng *rand.Rand) (*RangedBernoulli, error) {
	if low < 0 || high > 1 || low >= high {
		return nil, fmt.Errorf("masking probability range [%g,%g) invalid", low, high)
	}
	if length <= 0 {
		return nil, fmt.Errorf("invalid sequence length %d", length)
	}
	return &RangedBernoulli{Low: low, High: high, Length: length, Token: token, rng: rng}, nil
}

func (r *RangedBernoulli) SampleMask(batchSize int) ([][]bool, error) {
	p := r.Low + r.rng.Float64()*(r.High-r.Low)
	mask := make([][]bool, batchSize)
	for i := range mask {
		mask[i] = make([]bool, r.Length)
		for j := range mask[i] {
			mask[i][j] = r.rng.Float64() < p
		}
	}
	return mask, nil
}

func (r *RangedBernoulli) MaskToken() int32    { return r.Token }
func (r *RangedBernoulli) SequenceLength() int { return r.Length }

// CountControlled masks an exact number of positions. The count is drawn
// once per call, uniformly between ceil(MinRatio*Length) and Length, and
// shared by every batch row; the positions differ per row.
type CountControlled struct {
	MinRatio float64
	Length   int
	Token    int32
	rng      *rand.Rand
}

func NewCountControlled(minRatio float64, length int, token int32, rng *rand.Rand) (*CountControlled, error) {
	if minRatio < 0 || minRatio > 1 {
		return nil, fmt.Errorf("minimum masking ratio %g outside [0,1]", minRatio)
	}
	if length <= 0 {
		return nil, fmt.Errorf("invalid sequence length %d", length)
	}
	return &CountControlled{MinRatio: minRatio, Length: length, Token: token, rng: rng}, nil
}

func (c *CountControlled) SampleMask(batchSize int) ([][]bool, error) {
	low := int(c.MinRatio * float64(c.Length))
	if float64(low) < c.MinRatio*float64(c.Length) {
		low++
	}
	k := low + c.rng.Intn(c.Length-low+1)

	mask := make([][]bool, batchSize)
	for i := range mask {
		mask[i] = make([]bool, c.Length)
		for _, j := range c.rng.Perm(c.Length)[:k] {
			mask[i][j] = true
		}
	}
	return mask, nil
}

func (c *CountControlled) MaskToken() int32    { return c.Token }
func (c *CountControlled) SequenceLength() int { return c.Length }

// ContiguousZones is a placeholder for span-based masking; it is declared
// but not implemented and fails on every call.
type ContiguousZones struct {
	Length int
	Token  int32
}

func (z *ContiguousZones) SampleMask(int) ([][]bool, error) {
	return nil, prior.UnsupportedError{Op: "contiguous zone masking"}
}

func (z *ContiguousZones) MaskToken() int32    { return z.Token }
func (z *ContiguousZones) SequenceLength() int { return z.Length }
