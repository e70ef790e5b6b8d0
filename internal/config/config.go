package config

import (
	"fmt"
	"os"

	json "github.com/goccy/go-json"
)

// Level identifies one of the two coupled codemap resolutions.
type Level int

const (
	// LevelSource is the coarse map, used as conditioning context in
	// hierarchical mode and as the predicted map in unconditional mode.
	LevelSource Level = iota
	// LevelTarget is the fine map, generated conditioned on the source.
	LevelTarget
)

func (l Level) String() string {
	switch l {
	case LevelSource:
		return "source"
	case LevelTarget:
		return "target"
	default:
		return fmt.Sprintf("level(%d)", int(l))
	}
}

// Scheme selects how positions are encoded for the target level.
type Scheme int

const (
	// SchemeAbsolute encodes each cell by absolute frequency row and time step.
	SchemeAbsolute Scheme = iota
	// SchemePatchRelative encodes a target cell by frequency row and its
	// offset within the parent source cell's patch.
	SchemePatchRelative
)

func (s Scheme) String() string {
	if s == SchemePatchRelative {
		return "patch_relative"
	}
	return "absolute"
}

// Modality describes one class-conditioning input (e.g. pitch, instrument).
type Modality struct {
	Name         string `json:"name"`
	NumClasses   int    `json:"num_classes"`
	EmbeddingDim int    `json:"embedding_dim"`
}

// Params carries every hyperparameter needed to reconstruct a prior.
// It is the flat key-value structure persisted next to a weights checkpoint.
type Params struct {
	Frequencies int `json:"frequencies"`
	Duration    int `json:"duration"`
	NumClasses  int `json:"num_classes"`

	DModel        int `json:"d_model"`
	EmbeddingDim  int `json:"embeddings_dim"`
	PositionalDim int `json:"positional_embeddings_dim"`

	PredictFrequenciesFirst    bool `json:"predict_frequencies_first"`
	PredictLowFrequenciesFirst bool `json:"predict_low_frequencies_first"`
	Relative                   bool `json:"use_relative"`

	Conditional          bool `json:"conditional"`
	ConditionFrequencies int  `json:"condition_frequencies,omitempty"`
	ConditionDuration    int  `json:"condition_duration,omitempty"`

	ClassConditioning   []Modality `json:"class_conditioning,omitempty"`
	PrependConditioning bool       `json:"class_conditioning_prepend"`

	// Backbone topology, retained so a checkpoint can re-instantiate the
	// external sequence model it was trained with.
	EncoderLayers int `json:"num_encoder_layers"`
	DecoderLayers int `json:"num_decoder_layers"`
	Heads         int `json:"num_heads"`
}

func Default() Params {
	return Params{
		Frequencies:                32,
		Duration:                   8,
		NumClasses:                 512,
		DModel:                     512,
		EmbeddingDim:               32,
		PositionalDim:              16,
		PredictFrequenciesFirst:    true,
		PredictLowFrequenciesFirst: true,
		EncoderLayers:              6,
		Heads:                      8,
	}
}

func (p *Params) Validate() error {
	if p.Frequencies <= 0 {
		return fmt.Errorf("invalid frequencies: %d (must be positive)", p.Frequencies)
	}
	if p.Duration <= 0 {
		return fmt.Errorf("invalid duration: %d (must be positive)", p.Duration)
	}
	if p.NumClasses <= 0 {
		return fmt.Errorf("invalid num_classes: %d (must be positive)", p.NumClasses)
	}
	if p.DModel <= 0 {
		return fmt.Errorf("invalid d_model: %d (must be positive)", p.DModel)
	}
	if p.EmbeddingDim <= 0 {
		return fmt.Errorf("invalid embeddings_dim: %d (must be positive)", p.EmbeddingDim)
	}
	if p.PositionalDim <= 0 || p.PositionalDim%2 != 0 {
		return fmt.Errorf("invalid positional_embeddings_dim: %d (must be positive and even)", p.PositionalDim)
	}
	if p.PositionalDim >= p.DModel {
		return fmt.Errorf("positional_embeddings_dim (%d) must be < d_model (%d)", p.PositionalDim, p.DModel)
	}
	if !p.PredictLowFrequenciesFirst {
		return fmt.Errorf("decreasing-frequency prediction order is unsupported")
	}
	if p.Relative && !p.PredictFrequenciesFirst {
		return fmt.Errorf("patch-relative positioning requires predict_frequencies_first")
	}
	if p.Conditional {
		if p.ConditionFrequencies <= 0 || p.ConditionDuration <= 0 {
			return fmt.Errorf("conditional model requires a condition shape, got %dx%d",
				p.ConditionFrequencies, p.ConditionDuration)
		}
		if p.Frequencies%p.ConditionFrequencies != 0 {
			return fmt.Errorf("frequencies (%d) not a multiple of condition_frequencies (%d)",
				p.Frequencies, p.ConditionFrequencies)
		}
		if p.Duration%p.ConditionDuration != 0 {
			return fmt.Errorf("duration (%d) not a multiple of condition_duration (%d)",
				p.Duration, p.ConditionDuration)
		}
	} else if p.Relative {
		return fmt.Errorf("patch-relative positioning requires a conditional model")
	}
	if err := p.validateClassConditioning(); err != nil {
		return err
	}
	if p.EncoderLayers <= 0 {
		return fmt.Errorf("invalid num_encoder_layers: %d (must be positive)", p.EncoderLayers)
	}
	if p.Conditional && p.DecoderLayers <= 0 {
		return fmt.Errorf("invalid num_decoder_layers: %d (must be positive for conditional model)", p.DecoderLayers)
	}
	if p.Heads <= 0 {
		return fmt.Errorf("invalid num_heads: %d (must be positive)", p.Heads)
	}
	return nil
}

func (p *Params) validateClassConditioning() error {
	seen := make(map[string]struct{}, len(p.ClassConditioning))
	total := 0
	for _, m := range p.ClassConditioning {
		if m.Name == "" {
			return fmt.Errorf("class conditioning modality with empty name")
		}
		if _, dup := seen[m.Name]; dup {
			return fmt.Errorf("duplicate class conditioning modality %q", m.Name)
		}
		seen[m.Name] = struct{}{}
		if m.NumClasses <= 0 {
			return fmt.Errorf("modality %q: invalid num_classes %d", m.Name, m.NumClasses)
		}
		if m.EmbeddingDim <= 0 {
			return fmt.Errorf("modality %q: invalid embedding_dim %d", m.Name, m.EmbeddingDim)
		}
		total += m.EmbeddingDim
	}
	if total > p.DModel {
		return fmt.Errorf("class conditioning embeddings (%d dims) exceed d_model (%d)", total, p.DModel)
	}
	return nil
}

// Scheme reports the positional scheme in effect.
func (p *Params) Scheme() Scheme {
	if p.Relative {
		return SchemePatchRelative
	}
	return SchemeAbsolute
}

// Shape returns the codemap extents of the given level. The target level
// only exists for conditional models.
func (p *Params) Shape(level Level) (frequencies, duration int, err error) {
	switch level {
	case LevelSource:
		if p.Conditional {
			return p.ConditionFrequencies, p.ConditionDuration, nil
		}
		return p.Frequencies, p.Duration, nil
	case LevelTarget:
		if !p.Conditional {
			return 0, 0, fmt.Errorf("target level undefined for unconditional model")
		}
		return p.Frequencies, p.Duration, nil
	default:
		return 0, 0, fmt.Errorf("unknown level %v", level)
	}
}

// SequenceLength returns the flattened sequence length of the given level.
func (p *Params) SequenceLength(level Level) (int, error) {
	f, d, err := p.Shape(level)
	if err != nil {
		return 0, err
	}
	return f * d, nil
}

// Ratios returns the per-axis resolution factors between target and source.
func (p *Params) Ratios() (frequencyRatio, durationRatio int) {
	if !p.Conditional {
		return 1, 1
	}
	return p.Frequencies / p.ConditionFrequencies, p.Duration / p.ConditionDuration
}

// ConditioningOffsets assigns each modality a non-overlapping range inside the
// start symbol, packed from the head or the tail per configuration.
// Assignment is sequential in declaration order so ranges cannot overlap;
// Validate guarantees the total width fits.
func (p *Params) ConditioningOffsets() map[string]int {
	offsets := make(map[string]int, len(p.ClassConditioning))
	if p.PrependConditioning {
		cur := 0
		for _, m := range p.ClassConditioning {
			offsets[m.Name] = cur
			cur += m.EmbeddingDim
		}
	} else {
		cur := p.DModel
		for _, m := range p.ClassConditioning {
			cur -= m.EmbeddingDim
			offsets[m.Name] = cur
		}
	}
	return offsets
}

// Save writes the parameters file as indented JSON.
func (p *Params) Save(path string) error {
	data, err := json.MarshalIndent(p, "", "    ")
	if err != nil {
		return fmt.Errorf("marshal params: %w", err)
	}
	return os.WriteFile(path, data, 0o644)
}

// Load reads and validates a parameters file.
func Load(path string) (*Params, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	var p Params
	if err := json.Unmarshal(data, &p); err != nil {
		return nil, fmt.Errorf("parse params %s: %w", path, err)
	}
	if err := p.Validate(); err != nil {
		return nil, fmt.Errorf("params %s: %w", path, err)
	}
	return &p, nil
}
