package models

import "time"

// Series names used in chart rows.
const (
	SeriesMinT = "MinT"
	SeriesMaxT = "MaxT"
)

// ChartPoint is one row of the temperature chart: a time slot, the series it
// belongs to, and the integer temperature for that slot.
type ChartPoint struct {
	Time   time.Time `json:"time"`
	Label  string    `json:"label"` // HH:MM of Time, used as the chart axis label
	Series string    `json:"series"`
	Value  int       `json:"value"`
}

// Forecast is the derived result of one extraction and the value stored in the cache.
type Forecast struct {
	Location  string       `json:"location"`
	Summary   string       `json:"summary"`
	Series    []ChartPoint `json:"series"`
	FetchedAt time.Time    `json:"fetchedAt"`
}

// Outcome classifies how an advisory request ended. Exactly one applies per request.
type Outcome string

const (
	OutcomeGenerated         Outcome = "generated"
	OutcomeCredentialMissing Outcome = "credential_missing"
	OutcomeConnectionFailed  Outcome = "connection_failed"
	OutcomeParseFailed       Outcome = "parse_failed"
)

// Advisory is the text shown to the user: either generated prose or a fixed
// user-facing failure message.
type Advisory struct {
	Text     string  `json:"text"`
	Outcome  Outcome `json:"outcome"`
	Attempts int     `json:"attempts"`
}

// Dashboard is everything the presenter renders for one location.
type Dashboard struct {
	Forecast Forecast `json:"forecast"`
	Advisory Advisory `json:"advisory"`
}
