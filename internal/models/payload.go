package models

// ForecastPayload is the raw response body of the CWA datastore endpoint.
// Fields are kept as delivered by the provider; nothing is filtered here.
type ForecastPayload struct {
	Success string           `json:"success"`
	Message string           `json:"message,omitempty"`
	Records *ForecastRecords `json:"records"`
}

type ForecastRecords struct {
	DatasetDescription string             `json:"datasetDescription,omitempty"`
	Location           []LocationForecast `json:"location"`
}

// LocationForecast holds the weather elements for one administrative region.
// WeatherElement is nil when the field is absent from the payload and empty
// when the provider returned an empty list.
type LocationForecast struct {
	LocationName   string           `json:"locationName"`
	WeatherElement []WeatherElement `json:"weatherElement"`
}

// WeatherElement is one forecast element (MinT, MaxT, PoP, CI, Wx) with its time slots.
type WeatherElement struct {
	ElementName string     `json:"elementName"`
	Time        []TimeSlot `json:"time"`
}

type TimeSlot struct {
	StartTime string    `json:"startTime"`
	EndTime   string    `json:"endTime"`
	Parameter Parameter `json:"parameter"`
}

type Parameter struct {
	ParameterName  string `json:"parameterName"`
	ParameterValue string `json:"parameterValue,omitempty"`
	ParameterUnit  string `json:"parameterUnit,omitempty"`
}
