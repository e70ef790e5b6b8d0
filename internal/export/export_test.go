package export

import (
	"path/filepath"
	"testing"

	"github.com/23skdu/longbow-descant/internal/codemap"
	"github.com/23skdu/longbow-descant/internal/config"
)

func TestFileRoundTrip(t *testing.T) {
	grids := []*codemap.Grid{codemap.New(2, 3), codemap.New(2, 3)}
	for b, g := range grids {
		for f := 0; f < 2; f++ {
			for tt := 0; tt < 3; tt++ {
				g.Set(f, tt, int32(100*b+10*f+tt))
			}
		}
	}

	path := filepath.Join(t.TempDir(), "codemaps.arrow")
	if err := WriteFile(path, config.LevelTarget, grids); err != nil {
		t.Fatalf("WriteFile: %v", err)
	}

	level, loaded, err := ReadFile(path)
	if err != nil {
		t.Fatalf("ReadFile: %v", err)
	}
	if level != config.LevelTarget.String() {
		t.Errorf("level = %q, want %q", level, config.LevelTarget.String())
	}
	if len(loaded) != len(grids) {
		t.Fatalf("got %d grids, want %d", len(loaded), len(grids))
	}
	for b, g := range loaded {
		if g.Frequencies != 2 || g.Duration != 3 {
			t.Fatalf("grid %d has shape %dx%d, want 2x3", b, g.Frequencies, g.Duration)
		}
		for i, v := range g.Cells {
			if v != grids[b].Cells[i] {
				t.Errorf("grid %d cell %d = %d, want %d", b, i, v, grids[b].Cells[i])
			}
		}
	}
}

func TestNewRecordRejectsEmptyBatch(t *testing.T) {
	if _, err := NewRecord(config.LevelSource, nil); err == nil {
		t.Fatal("empty batch accepted")
	}
}

func TestReadFileMissing(t *testing.T) {
	if _, _, err := ReadFile(filepath.Join(t.TempDir(), "absent.arrow")); err == nil {
		t.Fatal("missing file accepted")
	}
}
