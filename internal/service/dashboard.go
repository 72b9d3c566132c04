package service

import (
	"context"
	"fmt"
	"strings"

	"github.com/liutianyi617/weather-advisor/internal/advisory"
	"github.com/liutianyi617/weather-advisor/internal/models"
	"github.com/liutianyi617/weather-advisor/internal/observability"
)

// Extractor is the cached forecast lookup the dashboard depends on.
type Extractor interface {
	Extract(ctx context.Context, location string) (models.Forecast, error)
	HasCredential() bool
}

// DashboardService runs the full pipeline for one location: credentials,
// cached extraction, advisory.
type DashboardService struct {
	forecasts Extractor
	advisor   advisory.Advisor
}

func NewDashboardService(forecasts Extractor, advisor advisory.Advisor) *DashboardService {
	return &DashboardService{forecasts: forecasts, advisor: advisor}
}

// MissingCredentials lists the environment variables of absent API keys.
func (d *DashboardService) MissingCredentials() []string {
	var missing []string
	if !d.forecasts.HasCredential() {
		missing = append(missing, "CWA_API_KEY")
	}
	if !d.advisor.HasCredential() {
		missing = append(missing, strings.ToUpper(d.advisor.Provider())+"_API_KEY")
	}
	return missing
}

// Forecast returns the cached forecast without calling the advisor.
func (d *DashboardService) Forecast(ctx context.Context, location string) (models.Forecast, error) {
	observability.RecordQuery(location)
	return d.forecasts.Extract(ctx, location)
}

// Dashboard halts with models.ErrConfiguration before any network call if
// either credential is missing. Advisory failures are carried in the result,
// never returned as errors.
func (d *DashboardService) Dashboard(ctx context.Context, location string) (models.Dashboard, error) {
	if missing := d.MissingCredentials(); len(missing) > 0 {
		return models.Dashboard{}, fmt.Errorf("%w: %s not set", models.ErrConfiguration, strings.Join(missing, ", "))
	}
	forecast, err := d.Forecast(ctx, location)
	if err != nil {
		return models.Dashboard{}, err
	}
	return models.Dashboard{
		Forecast: forecast,
		Advisory: d.advisor.Generate(ctx, forecast.Summary),
	}, nil
}
