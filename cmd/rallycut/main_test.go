package main

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/banshee-data/rallycut/internal/config"
	"github.com/banshee-data/rallycut/internal/pipeline"
)

func TestFeedParsesFrames(t *testing.T) {
	var b strings.Builder
	for i := 0; i < 30; i++ {
		x := float64(i) * 10.0
		fmt.Fprintf(&b, `{"t": %.4f, "detections": [{"x": %.1f, "y": 300, "confidence": 0.9}]}`+"\n",
			float64(i)/30.0, x)
	}
	b.WriteString("\n") // blank lines are tolerated

	proc := pipeline.New(config.EmptyTuningConfig())
	lastTime, err := feed(proc, strings.NewReader(b.String()))
	require.NoError(t, err)
	assert.InDelta(t, 29.0/30.0, lastTime, 1e-9)

	summary := proc.Finalize(lastTime)
	assert.Equal(t, 30, summary.FramesProcessed)
}

func TestFeedRejectsMalformedLine(t *testing.T) {
	in := `{"t": 0.0, "detections": []}` + "\n" + `{not json}` + "\n"

	proc := pipeline.New(config.EmptyTuningConfig())
	_, err := feed(proc, strings.NewReader(in))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "line 2")
}

func TestFeedEmptyInput(t *testing.T) {
	proc := pipeline.New(config.EmptyTuningConfig())
	lastTime, err := feed(proc, strings.NewReader(""))
	require.NoError(t, err)
	assert.Zero(t, lastTime)
}

func TestRunRejectsInvalidUnits(t *testing.T) {
	in := filepath.Join(t.TempDir(), "frames.jsonl")
	require.NoError(t, os.WriteFile(in, []byte(`{"t": 0.0, "detections": []}`+"\n"), 0o644))

	err := run(in, "", "", "", "furlongs", 0)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "invalid units")
}
