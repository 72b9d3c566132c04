package http

import (
	"fmt"
	"strings"
	"time"

	"github.com/liutianyi617/weather-advisor/internal/models"
)

const (
	chartWidth   = 720
	chartHeight  = 300
	chartPadLeft = 48
	chartPadRite = 24
	chartPadTop  = 24
	chartPadBot  = 40
)

var seriesColors = map[string]string{
	models.SeriesMinT: "#1f77b4",
	models.SeriesMaxT: "#d62728",
}

type chartLabel struct {
	X, Y float64
	Text string
}

type chartDot struct {
	X, Y  float64
	Value int
}

type chartLine struct {
	Name   string
	Color  string
	Points string
	Dots   []chartDot
}

// chartView is a server-rendered SVG line chart: one x position per time slot,
// one polyline per series.
type chartView struct {
	Width, Height int
	Left, Right   float64
	Top, Bottom   float64
	Lines         []chartLine
	XLabels       []chartLabel
	YLabels       []chartLabel
}

func buildChart(points []models.ChartPoint) *chartView {
	var slots []time.Time
	labels := map[time.Time]string{}
	index := map[time.Time]int{}
	for _, p := range points {
		if _, ok := index[p.Time]; !ok {
			index[p.Time] = len(slots)
			slots = append(slots, p.Time)
			labels[p.Time] = p.Label
		}
	}
	if len(slots) == 0 {
		return nil
	}

	lo, hi := points[0].Value, points[0].Value
	for _, p := range points {
		lo = min(lo, p.Value)
		hi = max(hi, p.Value)
	}
	lo, hi = lo-1, hi+1

	v := &chartView{
		Width:  chartWidth,
		Height: chartHeight,
		Left:   chartPadLeft,
		Right:  chartWidth - chartPadRite,
		Top:    chartPadTop,
		Bottom: chartHeight - chartPadBot,
	}
	plotW := v.Right - v.Left
	plotH := v.Bottom - v.Top

	x := func(i int) float64 {
		if len(slots) == 1 {
			return v.Left + plotW/2
		}
		return v.Left + plotW*float64(i)/float64(len(slots)-1)
	}
	y := func(val int) float64 {
		return v.Bottom - plotH*float64(val-lo)/float64(hi-lo)
	}

	for i, ts := range slots {
		v.XLabels = append(v.XLabels, chartLabel{X: x(i), Y: v.Bottom + 18, Text: labels[ts]})
	}
	for val := lo; val <= hi; val++ {
		v.YLabels = append(v.YLabels, chartLabel{X: v.Left - 8, Y: y(val) + 4, Text: fmt.Sprint(val)})
	}

	for _, name := range []string{models.SeriesMinT, models.SeriesMaxT} {
		line := chartLine{Name: name, Color: seriesColors[name]}
		var coords []string
		for _, p := range points {
			if p.Series != name {
				continue
			}
			dot := chartDot{X: x(index[p.Time]), Y: y(p.Value), Value: p.Value}
			line.Dots = append(line.Dots, dot)
			coords = append(coords, fmt.Sprintf("%.1f,%.1f", dot.X, dot.Y))
		}
		if len(coords) == 0 {
			continue
		}
		line.Points = strings.Join(coords, " ")
		v.Lines = append(v.Lines, line)
	}
	return v
}
