package httpapi

import (
	"context"
	"net/http"
	"time"

	"esp-gateway/internal/models"
	"esp-gateway/internal/repository"

	"go.uber.org/zap"
)

// DeviceService 编排器对 HTTP 层暴露的能力
type DeviceService interface {
	Status() models.DeviceStatus
	CurrentTelemetry() *models.TelemetrySample
	FetchSettings(ctx context.Context) *models.DeviceSettings
	PushSettings(settings models.DeviceSettings) bool
	CachedWeather(ctx context.Context) *models.WeatherSnapshot
	DailyReport(ctx context.Context) (string, error)
	WeeklyReport(ctx context.Context) (string, error)
}

// 历史/统计查询窗口边界（小时）
const (
	minHistoryHours  = 1
	maxHistoryHours  = 168
	historyMaxPoints = 200
)

// DeviceHandler 设备会话相关的 HTTP 接口
type DeviceHandler struct {
	service  DeviceService
	store    repository.TelemetryStore
	deviceID string
	logger   *zap.Logger
}

func NewDeviceHandler(service DeviceService, store repository.TelemetryStore, deviceID string, logger *zap.Logger) *DeviceHandler {
	return &DeviceHandler{service: service, store: store, deviceID: deviceID, logger: logger}
}

// telemetryResponse 当前遥测 + 设备状态
type telemetryResponse struct {
	models.TelemetrySample
	DeviceStatus models.DeviceStatus `json:"device_status"`
}

// GET /esp_service/telemetry
func (h *DeviceHandler) GetTelemetry(w http.ResponseWriter, r *http.Request) {
	sample := h.service.CurrentTelemetry()
	if sample == nil {
		writeJSON(w, http.StatusNotFound, Fail("no telemetry received yet"))
		return
	}
	writeJSON(w, http.StatusOK, Ok(telemetryResponse{
		TelemetrySample: *sample,
		DeviceStatus:    h.service.Status(),
	}))
}

// GET /esp_service/settings — 有界请求/应答拉取
func (h *DeviceHandler) GetSettings(w http.ResponseWriter, r *http.Request) {
	settings := h.service.FetchSettings(r.Context())
	if settings == nil {
		writeJSON(w, http.StatusNotFound, Fail("device did not respond"))
		return
	}
	writeJSON(w, http.StatusOK, Ok(settings))
}

// POST /esp_service/settings — 校验后透传下发
func (h *DeviceHandler) UpdateSettings(w http.ResponseWriter, r *http.Request) {
	var settings models.DeviceSettings
	if err := readBodyJSON(r, 1<<20, &settings); err != nil {
		writeJSON(w, http.StatusBadRequest, Fail("invalid settings payload"))
		return
	}
	if err := settings.Validate(); err != nil {
		writeJSON(w, http.StatusBadRequest, Fail(err.Error()))
		return
	}

	if !h.service.PushSettings(settings) {
		writeJSON(w, http.StatusServiceUnavailable, Fail("device is not online"))
		return
	}
	writeJSON(w, http.StatusOK, Ok("settings sent"))
}

// GET /esp_service/history?hours=1..168
func (h *DeviceHandler) GetHistory(w http.ResponseWriter, r *http.Request) {
	hours := clampHours(parseInt(r.URL.Query().Get("hours"), 24))

	records, err := h.store.History(r.Context(), time.Now(), hours, h.deviceID, historyMaxPoints)
	if err != nil {
		h.logger.Error("History query failed", zap.Error(err))
		writeJSON(w, http.StatusInternalServerError, Fail("history query failed"))
		return
	}
	if records == nil {
		records = []models.TelemetryRecord{}
	}

	writeJSON(w, http.StatusOK, Ok(models.HistoryResponse{
		PeriodHours:  hours,
		RecordsCount: len(records),
		Records:      records,
	}))
}

// GET /esp_service/stats?hours=1..168
func (h *DeviceHandler) GetStats(w http.ResponseWriter, r *http.Request) {
	hours := clampHours(parseInt(r.URL.Query().Get("hours"), 24))

	stats, err := h.store.Stats(r.Context(), hours, h.deviceID)
	if err != nil {
		h.logger.Error("Stats query failed", zap.Error(err))
		writeJSON(w, http.StatusInternalServerError, Fail("stats query failed"))
		return
	}
	writeJSON(w, http.StatusOK, Ok(stats))
}

// GET /esp_service/weather — 缓存快照
func (h *DeviceHandler) GetWeather(w http.ResponseWriter, r *http.Request) {
	snap := h.service.CachedWeather(r.Context())
	if snap == nil {
		writeJSON(w, http.StatusNotFound, Fail("no cached weather"))
		return
	}
	writeJSON(w, http.StatusOK, Ok(snap))
}

// GET /esp_service/ai_report/daily
func (h *DeviceHandler) GetDailyReport(w http.ResponseWriter, r *http.Request) {
	h.report(w, r, h.service.DailyReport)
}

// GET /esp_service/ai_report/weekly
func (h *DeviceHandler) GetWeeklyReport(w http.ResponseWriter, r *http.Request) {
	h.report(w, r, h.service.WeeklyReport)
}

func (h *DeviceHandler) report(w http.ResponseWriter, r *http.Request, build func(context.Context) (string, error)) {
	text, err := build(r.Context())
	if err != nil {
		h.logger.Error("Report generation failed", zap.Error(err))
		writeJSON(w, http.StatusInternalServerError, Fail("report generation failed"))
		return
	}
	if text == "" {
		writeJSON(w, http.StatusNotFound, Fail("no data for the requested period"))
		return
	}
	writeJSON(w, http.StatusOK, Ok(text))
}

func clampHours(hours int) int {
	if hours < minHistoryHours {
		return minHistoryHours
	}
	if hours > maxHistoryHours {
		return maxHistoryHours
	}
	return hours
}
