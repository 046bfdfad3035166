package api

import (
	"bytes"
	"fmt"
	"net/http"
	"time"

	"github.com/go-echarts/go-echarts/v2/charts"
	"github.com/go-echarts/go-echarts/v2/opts"

	"github.com/banshee-data/facelock/internal/db"
	"github.com/banshee-data/facelock/internal/servo"
)

// dutySeries splits journal records (newest first) into time-ordered pan and
// tilt series. Each series carries the last known duty forward so both lines
// share one x axis. Failed sends are skipped.
func dutySeries(cmds []db.CommandRecord) (labels []string, pan, tilt []opts.LineData) {
	var (
		last    = map[string]int{}
		started time.Time
	)
	for i := len(cmds) - 1; i >= 0; i-- {
		c := cmds[i]
		if c.Error != "" {
			continue
		}
		if started.IsZero() {
			started = c.IssuedAt
		}
		last[c.Axis] = c.Duty
		labels = append(labels, fmt.Sprintf("%.2f", c.IssuedAt.Sub(started).Seconds()))
		pan = append(pan, lineValue(last, servo.Pan.String()))
		tilt = append(tilt, lineValue(last, servo.Tilt.String()))
	}
	return labels, pan, tilt
}

func lineValue(last map[string]int, axis string) opts.LineData {
	v, ok := last[axis]
	if !ok {
		return opts.LineData{}
	}
	return opts.LineData{Value: v}
}

// showDutyChart renders the most recent journaled duties as an HTML line chart.
func (s *Server) showDutyChart(w http.ResponseWriter, r *http.Request) {
	if s.DB == nil {
		writeJSONError(w, http.StatusServiceUnavailable, "command journal not available")
		return
	}
	limit, ok := parseLimit(r, 500)
	if !ok {
		writeJSONError(w, http.StatusBadRequest, "limit must be a positive integer")
		return
	}
	cmds, err := s.DB.RecentCommands(r.Context(), limit)
	if err != nil {
		writeJSONError(w, http.StatusInternalServerError, fmt.Sprintf("failed to load commands: %v", err))
		return
	}

	labels, pan, tilt := dutySeries(cmds)

	line := charts.NewLine()
	line.SetGlobalOptions(
		charts.WithInitializationOpts(opts.Initialization{PageTitle: "Servo Duties", Theme: "dark", Width: "100%", Height: "600px"}),
		charts.WithTitleOpts(opts.Title{Title: "Servo Duties", Subtitle: fmt.Sprintf("commands=%d", len(labels))}),
		charts.WithTooltipOpts(opts.Tooltip{Show: opts.Bool(true), Trigger: "axis"}),
		charts.WithLegendOpts(opts.Legend{Show: opts.Bool(true)}),
		charts.WithXAxisOpts(opts.XAxis{Name: "t (s)", NameLocation: "middle", NameGap: 25}),
		charts.WithYAxisOpts(opts.YAxis{Min: servo.MinDuty, Max: servo.MaxDuty, Name: "duty", NameLocation: "middle", NameGap: 30}),
		charts.WithDataZoomOpts(opts.DataZoom{Type: "slider"}),
	)
	line.SetXAxis(labels).
		AddSeries("pan", pan).
		AddSeries("tilt", tilt)

	var buf bytes.Buffer
	if err := line.Render(&buf); err != nil {
		writeJSONError(w, http.StatusInternalServerError, fmt.Sprintf("failed to render chart: %v", err))
		return
	}

	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	_, _ = w.Write(buf.Bytes())
}
