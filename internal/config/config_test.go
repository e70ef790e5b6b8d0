package config

import (
	"os"
	"path/filepath"
	"testing"
)

func conditionalParams() Params {
	p := Default()
	p.Conditional = true
	p.ConditionFrequencies = 16
	p.ConditionDuration = 4
	p.DecoderLayers = 6
	return p
}

func TestValidateDefault(t *testing.T) {
	p := Default()
	if err := p.Validate(); err != nil {
		t.Fatalf("default params should validate, got %v", err)
	}
}

func TestValidateRejects(t *testing.T) {
	cases := []struct {
		name   string
		mutate func(*Params)
	}{
		{"zero frequencies", func(p *Params) { p.Frequencies = 0 }},
		{"negative duration", func(p *Params) { p.Duration = -1 }},
		{"zero classes", func(p *Params) { p.NumClasses = 0 }},
		{"odd positional dim", func(p *Params) { p.PositionalDim = 15 }},
		{"positional dim too wide", func(p *Params) { p.PositionalDim = 512 }},
		{"decreasing frequencies", func(p *Params) { p.PredictLowFrequenciesFirst = false }},
		{"relative without frequencies-first", func(p *Params) {
			p.Conditional = true
			p.ConditionFrequencies = 16
			p.ConditionDuration = 4
			p.DecoderLayers = 6
			p.Relative = true
			p.PredictFrequenciesFirst = false
		}},
		{"relative without conditional", func(p *Params) { p.Relative = true }},
		{"conditional without condition shape", func(p *Params) { p.Conditional = true }},
		{"non-divisible condition shape", func(p *Params) {
			p.Conditional = true
			p.ConditionFrequencies = 5
			p.ConditionDuration = 4
			p.DecoderLayers = 6
		}},
		{"conditional without decoder layers", func(p *Params) {
			p.Conditional = true
			p.ConditionFrequencies = 16
			p.ConditionDuration = 4
		}},
	}
	for _, tc := range cases {
		p := Default()
		tc.mutate(&p)
		if err := p.Validate(); err == nil {
			t.Errorf("%s: expected validation error, got nil", tc.name)
		}
	}
}

func TestClassConditioningValidation(t *testing.T) {
	p := Default()
	p.ClassConditioning = []Modality{
		{Name: "pitch", NumClasses: 61, EmbeddingDim: 32},
		{Name: "pitch", NumClasses: 8, EmbeddingDim: 16},
	}
	if err := p.Validate(); err == nil {
		t.Error("duplicate modality name accepted")
	}

	p = Default()
	p.ClassConditioning = []Modality{
		{Name: "pitch", NumClasses: 61, EmbeddingDim: 300},
		{Name: "instrument", NumClasses: 11, EmbeddingDim: 300},
	}
	if err := p.Validate(); err == nil {
		t.Error("oversized conditioning embeddings accepted")
	}

	p = Default()
	p.ClassConditioning = []Modality{{Name: "pitch", NumClasses: 61, EmbeddingDim: 0}}
	if err := p.Validate(); err == nil {
		t.Error("zero-width modality accepted")
	}
}

func TestConditioningOffsetsTail(t *testing.T) {
	p := Default()
	p.ClassConditioning = []Modality{
		{Name: "pitch", NumClasses: 61, EmbeddingDim: 32},
		{Name: "instrument", NumClasses: 11, EmbeddingDim: 16},
	}
	if err := p.Validate(); err != nil {
		t.Fatalf("unexpected validation error: %v", err)
	}

	offsets := p.ConditioningOffsets()
	if offsets["pitch"] != p.DModel-32 {
		t.Errorf("pitch offset = %d, want %d", offsets["pitch"], p.DModel-32)
	}
	if offsets["instrument"] != p.DModel-32-16 {
		t.Errorf("instrument offset = %d, want %d", offsets["instrument"], p.DModel-48)
	}
}

func TestConditioningOffsetsHead(t *testing.T) {
	p := Default()
	p.PrependConditioning = true
	p.ClassConditioning = []Modality{
		{Name: "pitch", NumClasses: 61, EmbeddingDim: 32},
		{Name: "instrument", NumClasses: 11, EmbeddingDim: 16},
	}

	offsets := p.ConditioningOffsets()
	if offsets["pitch"] != 0 {
		t.Errorf("pitch offset = %d, want 0", offsets["pitch"])
	}
	if offsets["instrument"] != 32 {
		t.Errorf("instrument offset = %d, want 32", offsets["instrument"])
	}
}

func TestShapePerLevel(t *testing.T) {
	p := conditionalParams()

	f, d, err := p.Shape(LevelSource)
	if err != nil || f != 16 || d != 4 {
		t.Errorf("source shape = %dx%d (%v), want 16x4", f, d, err)
	}
	f, d, err = p.Shape(LevelTarget)
	if err != nil || f != 32 || d != 8 {
		t.Errorf("target shape = %dx%d (%v), want 32x8", f, d, err)
	}

	uncond := Default()
	if _, _, err := uncond.Shape(LevelTarget); err == nil {
		t.Error("target shape of unconditional model should error")
	}
}

func TestRatios(t *testing.T) {
	p := conditionalParams()
	rf, rd := p.Ratios()
	if rf != 2 || rd != 2 {
		t.Errorf("ratios = %dx%d, want 2x2", rf, rd)
	}
}

func TestSaveLoadRoundTrip(t *testing.T) {
	p := conditionalParams()
	p.Relative = true
	p.ClassConditioning = []Modality{{Name: "pitch", NumClasses: 61, EmbeddingDim: 8}}

	path := filepath.Join(t.TempDir(), "params.json")
	if err := p.Save(path); err != nil {
		t.Fatalf("save: %v", err)
	}

	loaded, err := Load(path)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if loaded.Frequencies != p.Frequencies || loaded.Relative != p.Relative ||
		loaded.ConditionDuration != p.ConditionDuration {
		t.Errorf("round trip mismatch: %+v vs %+v", loaded, p)
	}
	if loaded.ClassConditioning[0] != p.ClassConditioning[0] {
		t.Errorf("modality round trip mismatch")
	}
}

func TestLoadRejectsInvalid(t *testing.T) {
	path := filepath.Join(t.TempDir(), "params.json")
	if err := os.WriteFile(path, []byte(`{"frequencies": 0, "duration": 8}`), 0o644); err != nil {
		t.Fatal(err)
	}
	if _, err := Load(path); err == nil {
		t.Error("invalid params file accepted")
	}
}
