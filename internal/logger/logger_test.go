package logger

import (
	"bytes"
	"strings"
	"testing"
)

func TestSetupJSONFormat(t *testing.T) {
	var buf bytes.Buffer
	SetupWriter("debug", "json", &buf)

	Log.Info("sampling started", "frequencies", 8, "duration", 16)

	out := buf.String()
	if !strings.Contains(out, `"message":"sampling started"`) {
		t.Errorf("expected JSON message field, got %s", out)
	}
	if !strings.Contains(out, `"frequencies":8`) {
		t.Errorf("expected frequencies field, got %s", out)
	}
}

func TestLevelFiltering(t *testing.T) {
	var buf bytes.Buffer
	SetupWriter("warn", "json", &buf)

	Log.Debug("should be dropped")
	Log.Info("should be dropped too")
	Log.Warn("kept")

	out := buf.String()
	if strings.Contains(out, "dropped") {
		t.Errorf("sub-warn events leaked through: %s", out)
	}
	if !strings.Contains(out, "kept") {
		t.Errorf("warn event missing: %s", out)
	}
}

func TestUnknownLevelDefaultsToInfo(t *testing.T) {
	var buf bytes.Buffer
	SetupWriter("nonsense", "json", &buf)

	Log.Info("visible")
	if !strings.Contains(buf.String(), "visible") {
		t.Errorf("info event missing after bad level string")
	}
}

func TestComponentSubLogger(t *testing.T) {
	var buf bytes.Buffer
	SetupWriter("info", "json", &buf)

	Log.Component("sampler").Info("step")

	if !strings.Contains(buf.String(), `"component":"sampler"`) {
		t.Errorf("component field missing: %s", buf.String())
	}
}

func TestOddKeyValuePairs(t *testing.T) {
	var buf bytes.Buffer
	SetupWriter("info", "json", &buf)

	// trailing key without a value must not panic
	Log.Info("msg", "key")
	if !strings.Contains(buf.String(), `"message":"msg"`) {
		t.Errorf("message missing: %s", buf.String())
	}
}
