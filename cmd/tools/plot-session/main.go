// Command plot-session renders the pan and tilt duty trajectory of a
// recorded tracking session to a PNG.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"image/color"
	"io"
	"log"
	"os"

	"gonum.org/v1/plot"
	"gonum.org/v1/plot/plotter"
	"gonum.org/v1/plot/vg"

	"github.com/banshee-data/facelock/internal/db"
	"github.com/banshee-data/facelock/internal/servo"
)

var (
	dbPath    = flag.String("db", "facelock.db", "SQLite database path")
	sessionID = flag.String("session", "", "Session id (latest session when empty)")
	outPath   = flag.String("out", "", "Output PNG (session-<id>.png when empty)")
)

var errNoCommands = errors.New("session has no successful commands")

var axisColors = map[string]color.RGBA{
	"pan":  {R: 31, G: 119, B: 180, A: 255},
	"tilt": {R: 214, G: 39, B: 40, A: 255},
}

// dutyTracks groups successful commands by axis as (seconds since the first
// command, duty) points.
func dutyTracks(cmds []db.CommandRecord) map[string]plotter.XYs {
	tracks := make(map[string]plotter.XYs, len(servo.Axes))
	var first *db.CommandRecord
	for i := range cmds {
		c := &cmds[i]
		if c.Error != "" {
			continue
		}
		if first == nil {
			first = c
		}
		tracks[c.Axis] = append(tracks[c.Axis], plotter.XY{
			X: c.IssuedAt.Sub(first.IssuedAt).Seconds(),
			Y: float64(c.Duty),
		})
	}
	return tracks
}

// renderSession writes the duty plot for cmds as PNG.
func renderSession(w io.Writer, title string, cmds []db.CommandRecord) error {
	tracks := dutyTracks(cmds)
	if len(tracks) == 0 {
		return errNoCommands
	}

	p := plot.New()
	p.Title.Text = title
	p.X.Label.Text = "Time (s)"
	p.Y.Label.Text = "Duty"
	p.Y.Min = servo.MinDuty
	p.Y.Max = servo.MaxDuty

	for _, axis := range servo.Axes {
		pts, ok := tracks[axis.String()]
		if !ok {
			continue
		}
		line, err := plotter.NewLine(pts)
		if err != nil {
			return err
		}
		// A duty holds until the next command.
		line.StepStyle = plotter.PostStep
		line.Color = axisColors[axis.String()]
		line.Width = vg.Points(1)
		p.Add(line)
		p.Legend.Add(axis.String(), line)
	}

	p.Legend.Top = true
	p.Legend.Left = false
	p.Legend.XOffs = -10
	p.Legend.YOffs = -10

	wt, err := p.WriterTo(14*vg.Inch, 6*vg.Inch, "png")
	if err != nil {
		return err
	}
	_, err = wt.WriteTo(w)
	return err
}

func plotSession(ctx context.Context, store *db.DB, id, out string) (string, error) {
	if id == "" {
		sessions, err := store.Sessions(ctx, 1)
		if err != nil {
			return "", err
		}
		if len(sessions) == 0 {
			return "", errors.New("no sessions recorded")
		}
		id = sessions[0].ID
	}
	cmds, err := store.SessionCommands(ctx, id)
	if err != nil {
		return "", err
	}
	if out == "" {
		short := id
		if len(short) > 8 {
			short = short[:8]
		}
		out = fmt.Sprintf("session-%s.png", short)
	}

	f, err := os.Create(out)
	if err != nil {
		return "", err
	}
	if err := renderSession(f, fmt.Sprintf("Session %s", id), cmds); err != nil {
		f.Close()
		os.Remove(out)
		return "", err
	}
	return out, f.Close()
}

func main() {
	flag.Parse()

	store, err := db.Open(*dbPath)
	if err != nil {
		log.Fatalf("failed to open database: %v", err)
	}
	defer store.Close()

	out, err := plotSession(context.Background(), store, *sessionID, *outPath)
	if err != nil {
		log.Fatalf("failed to plot session: %v", err)
	}
	log.Printf("wrote %s", out)
}
