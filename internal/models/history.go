package models

import "time"

// TelemetryRecord 时序库中的一条合并记录（室内来自设备，室外来自天气 API）。
// 一行只会填充 *_in 或 *_out 其中一组。
type TelemetryRecord struct {
	Timestamp time.Time `json:"timestamp"`
	TempIn    *float64  `json:"temp_in"`
	HumIn     *float64  `json:"hum_in"`
	TempOut   *float64  `json:"temp_out"`
	HumOut    *float64  `json:"hum_out"`
	DeviceID  string    `json:"device_id"`
}

// HistoryResponse 历史查询响应
type HistoryResponse struct {
	PeriodHours  int               `json:"period_hours"`
	RecordsCount int               `json:"records_count"`
	Records      []TelemetryRecord `json:"records"`
}

// StatsResponse 区间统计
type StatsResponse struct {
	PeriodHours int `json:"period_hours"`

	TotalRecords   int `json:"total_records"`
	ESPRecords     int `json:"esp_records"`
	WeatherRecords int `json:"weather_records"`

	AvgTempIn *float64 `json:"avg_temp_in"`
	MinTempIn *float64 `json:"min_temp_in"`
	MaxTempIn *float64 `json:"max_temp_in"`

	AvgHumIn *float64 `json:"avg_hum_in"`
	MinHumIn *float64 `json:"min_hum_in"`
	MaxHumIn *float64 `json:"max_hum_in"`

	AvgTempOut *float64 `json:"avg_temp_out"`
	MinTempOut *float64 `json:"min_temp_out"`
	MaxTempOut *float64 `json:"max_temp_out"`

	AvgHumOut *float64 `json:"avg_hum_out"`
	MinHumOut *float64 `json:"min_hum_out"`
	MaxHumOut *float64 `json:"max_hum_out"`
}

// MetricStats 单指标聚合
type MetricStats struct {
	Avg *float64 `json:"avg"`
	Min *float64 `json:"min"`
	Max *float64 `json:"max"`
}

// DayStats 单个日历日（00:00:00–23:59:59.999999）的统计
type DayStats struct {
	Date string `json:"date"` // YYYY-MM-DD

	TempIn  MetricStats `json:"temp_in"`
	HumIn   MetricStats `json:"hum_in"`
	TempOut MetricStats `json:"temp_out"`
	HumOut  MetricStats `json:"hum_out"`

	TotalRecords   int `json:"total_records"`
	ESPRecords     int `json:"esp_records"`
	WeatherRecords int `json:"weather_records"`
}

// WeekStats 最近 7 个完整日历日的统计
type WeekStats struct {
	PeriodStart string `json:"period_start"` // YYYY-MM-DD
	PeriodEnd   string `json:"period_end"`

	Summary DayStats   `json:"summary"` // 全周聚合（Date 为空）
	Daily   []DayStats `json:"daily"`

	// Trend 前半周与后半周室内均温之差（数据不足 4 天时为 nil）
	Trend *float64 `json:"trend"`
}
