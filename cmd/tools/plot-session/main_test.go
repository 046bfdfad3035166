package main

import (
	"bytes"
	"context"
	"errors"
	"image/png"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/banshee-data/facelock/internal/db"
	"github.com/banshee-data/facelock/internal/monitoring"
	"github.com/banshee-data/facelock/internal/servo"
)

func TestDutyTracks(t *testing.T) {
	base := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	cmds := []db.CommandRecord{
		{Axis: "tilt", Duty: 5, IssuedAt: base},
		{Axis: "pan", Duty: 50, IssuedAt: base.Add(15 * time.Millisecond)},
		{Axis: "pan", Duty: 35, IssuedAt: base.Add(time.Second), Error: "send failed"},
		{Axis: "pan", Duty: 40, IssuedAt: base.Add(2 * time.Second)},
	}

	tracks := dutyTracks(cmds)
	require.Len(t, tracks, 2)
	require.Len(t, tracks["pan"], 2)
	assert.InDelta(t, 0.015, tracks["pan"][0].X, 1e-9)
	assert.Equal(t, 50.0, tracks["pan"][0].Y)
	assert.InDelta(t, 2.0, tracks["pan"][1].X, 1e-9)
	assert.Equal(t, 0.0, tracks["tilt"][0].X)

	assert.Empty(t, dutyTracks(nil))
}

func TestRenderSession(t *testing.T) {
	base := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	cmds := []db.CommandRecord{
		{Axis: "tilt", Duty: 5, IssuedAt: base},
		{Axis: "pan", Duty: 50, IssuedAt: base},
		{Axis: "pan", Duty: 35, IssuedAt: base.Add(700 * time.Millisecond)},
	}

	var buf bytes.Buffer
	require.NoError(t, renderSession(&buf, "Session test", cmds))
	_, err := png.Decode(&buf)
	assert.NoError(t, err)

	err = renderSession(&buf, "empty", []db.CommandRecord{{Axis: "pan", Error: "x"}})
	assert.True(t, errors.Is(err, errNoCommands))
}

func TestPlotSession(t *testing.T) {
	monitoring.SetLogger(nil)
	dir := t.TempDir()
	store, err := db.Open(filepath.Join(dir, "facelock.db"))
	require.NoError(t, err)
	defer store.Close()
	ctx := context.Background()

	_, err = plotSession(ctx, store, "", filepath.Join(dir, "none.png"))
	assert.Error(t, err)

	s, err := store.StartSession(ctx, "fixtures.jsonl", time.Now())
	require.NoError(t, err)
	for _, duty := range []int{50, 55, 60} {
		require.NoError(t, store.RecordCommand(ctx, s.ID, servo.Command{
			Axis: servo.Pan, Requested: duty, Duty: duty, Driver: "auto", IssuedAt: time.Now(),
		}))
	}

	out := filepath.Join(dir, "latest.png")
	got, err := plotSession(ctx, store, "", out)
	require.NoError(t, err)
	assert.Equal(t, out, got)

	f, err := os.Open(out)
	require.NoError(t, err)
	defer f.Close()
	_, err = png.Decode(f)
	assert.NoError(t, err)
}
