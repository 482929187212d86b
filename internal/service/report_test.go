package service

import (
	"testing"
	"time"

	"esp-gateway/internal/models"

	"github.com/stretchr/testify/assert"
)

func fptr(v float64) *float64 { return &v }

func TestBuildDailyPrompt(t *testing.T) {
	stats := &models.DayStats{
		Date:           "2026-08-31",
		TempIn:         models.MetricStats{Avg: fptr(21.3), Min: fptr(19.0), Max: fptr(24.5)},
		HumIn:          models.MetricStats{Avg: fptr(55.0), Min: fptr(48.0), Max: fptr(62.0)},
		TotalRecords:   42,
		ESPRecords:     30,
		WeatherRecords: 12,
	}
	records := []models.TelemetryRecord{
		{Timestamp: time.Date(2026, 8, 31, 10, 0, 0, 0, time.UTC), TempIn: fptr(20.0), HumIn: fptr(50.0)},
	}

	prompt := buildDailyPrompt(stats, records)

	assert.Contains(t, prompt, "2026-08-31")
	assert.Contains(t, prompt, "средняя 21.3°C, от 19.0 до 24.5")
	assert.Contains(t, prompt, "Всего записей: 42 (ESP: 30, погода: 12)")
	assert.Contains(t, prompt, "10:00: внутри 20.0°C/50.0%")
	// 室外没有数据时用占位符
	assert.Contains(t, prompt, "снаружи —°C/—%")
}

func TestBuildDailyPromptNoRecords(t *testing.T) {
	stats := &models.DayStats{Date: "2026-08-31"}
	prompt := buildDailyPrompt(stats, nil)
	assert.Contains(t, prompt, "Нет данных")
}

func TestFormatRecordsSamplesAtMostTen(t *testing.T) {
	records := make([]models.TelemetryRecord, 53)
	base := time.Date(2026, 8, 31, 0, 0, 0, 0, time.UTC)
	for i := range records {
		records[i] = models.TelemetryRecord{Timestamp: base.Add(time.Duration(i) * time.Minute)}
	}

	out := formatRecords(records, "15:04")
	lines := 1
	for _, c := range out {
		if c == '\n' {
			lines++
		}
	}
	assert.LessOrEqual(t, lines, 10)
}

func TestTrendWording(t *testing.T) {
	assert.Contains(t, trendWording(fptr(1.5)), "выросла на 1.5")
	assert.Contains(t, trendWording(fptr(-2.0)), "снизилась на 2.0")
	assert.Contains(t, trendWording(fptr(0)), "не изменилась")
	assert.Contains(t, trendWording(nil), "Недостаточно данных")
}

func TestBuildWeeklyPrompt(t *testing.T) {
	week := &models.WeekStats{
		PeriodStart: "2026-08-24",
		PeriodEnd:   "2026-08-30",
		Summary: models.DayStats{
			TempIn:       models.MetricStats{Avg: fptr(22.0), Min: fptr(18.0), Max: fptr(26.0)},
			TotalRecords: 300,
		},
		Daily: []models.DayStats{
			{Date: "2026-08-24", TempIn: models.MetricStats{Avg: fptr(21.0)}, HumIn: models.MetricStats{Avg: fptr(50.0)}},
		},
		Trend: fptr(0.8),
	}

	prompt := buildWeeklyPrompt(week, nil)

	assert.Contains(t, prompt, "2026-08-24 - 2026-08-30")
	assert.Contains(t, prompt, "Температура выросла на 0.8°C")
	assert.Contains(t, prompt, "08-24: внутри 21.0°C/50.0%")
	assert.Contains(t, prompt, "Всего записей за неделю: 300")
}
