package http

import (
	"embed"
	"errors"
	"fmt"
	"html/template"
	"net/http"
	"strings"

	"go.uber.org/zap"

	"github.com/liutianyi617/weather-advisor/internal/models"
	"github.com/liutianyi617/weather-advisor/internal/observability"
)

//go:embed templates/index.html
var templateFS embed.FS

var pageTemplate = template.Must(template.ParseFS(templateFS, "templates/index.html"))

const (
	pageTitle   = "☁️ 多雲整合服務：LLM 天氣顧問"
	pageCaption = "結合 CWA API 數據和 LLM 處理 (數據快取優化)"
)

type pageData struct {
	Title      string
	Caption    string
	Locations  []string
	Selected   string
	Error      string
	Advisory   *models.Advisory
	ChartTitle string
	Chart      *chartView
}

// Index handles GET /: location selector, advisory text and temperature chart.
// Any failure renders an error box in place of the advisory and chart.
func (h *Handler) Index(w http.ResponseWriter, r *http.Request) {
	data := pageData{
		Title:     pageTitle,
		Caption:   pageCaption,
		Locations: h.locations.List(),
	}

	requested := r.URL.Query().Get("location")
	if requested == "" && len(data.Locations) > 0 {
		requested = data.Locations[0]
	}
	location, err := h.locations.Validate(requested)
	if err != nil {
		data.Error = "無效的地點：" + err.Error()
		renderPage(w, r, http.StatusBadRequest, data)
		return
	}
	data.Selected = location

	if missing := h.dashboards.MissingCredentials(); len(missing) > 0 {
		data.Error = fmt.Sprintf("請檢查設定：您必須設定 %s。", strings.Join(missing, " 和 "))
		renderPage(w, r, http.StatusServiceUnavailable, data)
		return
	}

	dashboard, err := h.dashboards.Dashboard(r.Context(), location)
	h.recordOutcome(err)
	if err != nil {
		status, _, _ := errorResponse(err)
		data.Error = pageErrorMessage(err)
		renderPage(w, r, status, data)
		return
	}

	data.Advisory = &dashboard.Advisory
	if len(dashboard.Forecast.Series) > 0 {
		data.ChartTitle = fmt.Sprintf("📊 %s 36小時溫度趨勢", location)
		data.Chart = buildChart(dashboard.Forecast.Series)
	}
	renderPage(w, r, http.StatusOK, data)
}

func pageErrorMessage(err error) string {
	switch {
	case errors.Is(err, models.ErrConfiguration):
		return "❌ CWA API 金鑰未設定。請設定 CWA_API_KEY。"
	case errors.Is(err, models.ErrExtraction):
		return "CWA 數據處理錯誤。"
	case errors.Is(err, models.ErrUpstream):
		return "CWA API 請求失敗或連線錯誤。"
	default:
		return "服務暫時無法使用，請稍後再試。"
	}
}

func renderPage(w http.ResponseWriter, r *http.Request, status int, data pageData) {
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	w.WriteHeader(status)
	if err := pageTemplate.Execute(w, data); err != nil {
		if logger := observability.LoggerFromContext(r.Context()); logger != nil {
			logger.Error("render page", zap.Error(err))
		}
	}
}
