// Package extract turns a CWA forecast payload into the prompt summary sent to
// the advisory model and the rows plotted on the temperature chart.
package extract

import (
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/liutianyi617/weather-advisor/internal/models"
)

// Element codes read from the payload.
const (
	ElementMinT = "MinT"
	ElementMaxT = "MaxT"
	ElementPoP  = "PoP"
	ElementCI   = "CI"
)

// Placeholder replaces a missing element in the summary.
const Placeholder = "無"

// StartTimeLayout is the layout of TimeSlot.StartTime in CWA payloads.
const StartTimeLayout = "2006-01-02 15:04:05"

const summaryTemplate = "以下是 %s 未來的 36 小時天氣預報關鍵數據 (取第一時段): " +
	"最低溫度 (MinT): %s 度, " +
	"最高溫度 (MaxT): %s 度, " +
	"降雨機率 (PoP): %s %%, " +
	"舒適度 (CI): %s。"

// Result is the output of Extract.
type Result struct {
	Summary string
	Series  []models.ChartPoint
}

// Extract builds the summary and chart series for location from payload.
// Returns an error wrapping models.ErrExtraction when the records/location/weatherElement
// nesting is missing or a selected value cannot be read.
func Extract(location string, payload models.ForecastPayload, loc *time.Location) (Result, error) {
	elements, err := weatherElements(payload)
	if err != nil {
		return Result{}, err
	}

	summary, err := Summary(location, elements)
	if err != nil {
		return Result{}, err
	}
	series, err := ChartSeries(elements, loc)
	if err != nil {
		return Result{}, err
	}
	return Result{Summary: summary, Series: series}, nil
}

func weatherElements(payload models.ForecastPayload) ([]models.WeatherElement, error) {
	if payload.Records == nil {
		return nil, fmt.Errorf("%w: records missing", models.ErrExtraction)
	}
	if len(payload.Records.Location) == 0 {
		return nil, fmt.Errorf("%w: records.location empty", models.ErrExtraction)
	}
	elements := payload.Records.Location[0].WeatherElement
	if elements == nil {
		return nil, fmt.Errorf("%w: weatherElement missing", models.ErrExtraction)
	}
	return elements, nil
}

// findElement returns the first element named name.
func findElement(elements []models.WeatherElement, name string) (models.WeatherElement, bool) {
	for _, e := range elements {
		if e.ElementName == name {
			return e, true
		}
	}
	return models.WeatherElement{}, false
}

// firstValue returns the parameterName of the element's first slot, or Placeholder
// when the element is absent.
func firstValue(elements []models.WeatherElement, name string) (string, error) {
	e, ok := findElement(elements, name)
	if !ok {
		return Placeholder, nil
	}
	if len(e.Time) == 0 {
		return "", fmt.Errorf("%w: %s has no time slots", models.ErrExtraction, name)
	}
	return e.Time[0].Parameter.ParameterName, nil
}

// Summary renders the natural-language prompt from the first time slot of
// MinT, MaxT, PoP and CI.
func Summary(location string, elements []models.WeatherElement) (string, error) {
	values := make([]any, 0, 5)
	values = append(values, location)
	for _, name := range []string{ElementMinT, ElementMaxT, ElementPoP, ElementCI} {
		v, err := firstValue(elements, name)
		if err != nil {
			return "", err
		}
		values = append(values, v)
	}
	return fmt.Sprintf(summaryTemplate, values...), nil
}

// ChartSeries pairs MinT and MaxT slots by position and emits a MinT row and a
// MaxT row per pair. Slots are matched by index, not by timestamp; the shorter
// series bounds the output. Either series missing yields an empty result.
func ChartSeries(elements []models.WeatherElement, loc *time.Location) ([]models.ChartPoint, error) {
	minT, okMin := findElement(elements, ElementMinT)
	maxT, okMax := findElement(elements, ElementMaxT)
	if !okMin || !okMax {
		return []models.ChartPoint{}, nil
	}
	if loc == nil {
		loc = time.UTC
	}

	n := min(len(minT.Time), len(maxT.Time))
	points := make([]models.ChartPoint, 0, 2*n)
	for i := 0; i < n; i++ {
		lo, hi := minT.Time[i], maxT.Time[i]
		start, err := time.ParseInLocation(StartTimeLayout, strings.TrimSpace(lo.StartTime), loc)
		if err != nil {
			return nil, fmt.Errorf("%w: slot %d start time %q: %v", models.ErrExtraction, i, lo.StartTime, err)
		}
		loVal, err := parseTemperature(lo.Parameter.ParameterName)
		if err != nil {
			return nil, fmt.Errorf("%w: slot %d MinT: %v", models.ErrExtraction, i, err)
		}
		hiVal, err := parseTemperature(hi.Parameter.ParameterName)
		if err != nil {
			return nil, fmt.Errorf("%w: slot %d MaxT: %v", models.ErrExtraction, i, err)
		}
		label := start.Format("15:04")
		points = append(points,
			models.ChartPoint{Time: start, Label: label, Series: models.SeriesMinT, Value: loVal},
			models.ChartPoint{Time: start, Label: label, Series: models.SeriesMaxT, Value: hiVal},
		)
	}
	return points, nil
}

func parseTemperature(s string) (int, error) {
	return strconv.Atoi(strings.TrimSpace(s))
}
