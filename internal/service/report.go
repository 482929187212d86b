package service

import (
	"fmt"
	"strings"

	"esp-gateway/internal/models"
)

const reportSystemPrompt = "Ты — умный помощник системы умного дома."

// fmtMetric 指标值格式化；缺失值用 "—" 占位
func fmtMetric(v *float64) string {
	if v == nil {
		return "—"
	}
	return fmt.Sprintf("%.1f", *v)
}

// formatRecords 把降采样记录压缩成提示词里的动态行（最多 10 行）
func formatRecords(records []models.TelemetryRecord, timeLayout string) string {
	if len(records) == 0 {
		return "Нет данных"
	}

	step := len(records) / 10
	if step < 1 {
		step = 1
	}

	var lines []string
	for i := 0; i < len(records) && len(lines) < 10; i += step {
		r := records[i]
		lines = append(lines, fmt.Sprintf("%s: внутри %s°C/%s%%, снаружи %s°C/%s%%",
			r.Timestamp.Format(timeLayout),
			fmtMetric(r.TempIn), fmtMetric(r.HumIn),
			fmtMetric(r.TempOut), fmtMetric(r.HumOut),
		))
	}
	return strings.Join(lines, "\n")
}

// formatWeeklyDays 按天统计行
func formatWeeklyDays(daily []models.DayStats) string {
	if len(daily) == 0 {
		return "Нет данных"
	}

	var lines []string
	for _, day := range daily {
		date := day.Date
		if len(date) > 5 {
			date = date[5:] // MM-DD
		}
		lines = append(lines, fmt.Sprintf("📅 %s: внутри %s°C/%s%%, снаружи %s°C",
			date,
			fmtMetric(day.TempIn.Avg), fmtMetric(day.HumIn.Avg),
			fmtMetric(day.TempOut.Avg),
		))
	}
	return strings.Join(lines, "\n")
}

// buildDailyPrompt 昨日报告的固定提示词模板
func buildDailyPrompt(stats *models.DayStats, records []models.TelemetryRecord) string {
	return fmt.Sprintf(`Проанализируй данные за вчерашний день (%s) и напиши дружелюбный отчёт.

📊 Статистика за день:
- Температура внутри: средняя %s°C, от %s до %s
- Влажность внутри: средняя %s%%, от %s до %s

🌍 На улице:
- Температура: средняя %s°C, от %s до %s
- Влажность: средняя %s%%, от %s до %s

📈 Динамика за день:
Вот как менялись показатели (время → температура/влажность внутри и снаружи):
%s

📊 Дополнительно:
- Всего записей: %d (ESP: %d, погода: %d)

Напиши короткий (3-5 предложений), дружелюбный отчёт на русском языке.
Отметь, был ли день типичным, были ли аномалии, дай совет, если нужно.
Не используй markdown, просто текст.`,
		stats.Date,
		fmtMetric(stats.TempIn.Avg), fmtMetric(stats.TempIn.Min), fmtMetric(stats.TempIn.Max),
		fmtMetric(stats.HumIn.Avg), fmtMetric(stats.HumIn.Min), fmtMetric(stats.HumIn.Max),
		fmtMetric(stats.TempOut.Avg), fmtMetric(stats.TempOut.Min), fmtMetric(stats.TempOut.Max),
		fmtMetric(stats.HumOut.Avg), fmtMetric(stats.HumOut.Min), fmtMetric(stats.HumOut.Max),
		formatRecords(records, "15:04"),
		stats.TotalRecords, stats.ESPRecords, stats.WeatherRecords,
	)
}

// trendWording 周趋势措辞
func trendWording(trend *float64) string {
	switch {
	case trend == nil:
		return "Недостаточно данных для оценки тренда"
	case *trend > 0:
		return fmt.Sprintf("Температура выросла на %.1f°C", *trend)
	case *trend < 0:
		return fmt.Sprintf("Температура снизилась на %.1f°C", -*trend)
	default:
		return "Температура не изменилась"
	}
}

// buildWeeklyPrompt 周报的固定提示词模板
func buildWeeklyPrompt(week *models.WeekStats, records []models.TelemetryRecord) string {
	s := week.Summary
	return fmt.Sprintf(`Проанализируй данные за последнюю неделю (%s - %s) и напиши дружелюбный отчёт.

📊 Общая статистика за неделю:

🌡️ Температура внутри:
• Средняя: %s°C
• Минимальная: %s°C
• Максимальная: %s°C

💧 Влажность внутри:
• Средняя: %s%%
• Мин/макс: %s%% / %s%%

🌍 На улице:
• Температура: средняя %s°C (от %s до %s)
• Влажность: средняя %s%% (от %s до %s)

📈 Тренд за неделю:
%s

📊 По дням:
%s

📈 Динамика за неделю:
%s

📋 Детали:
• Всего записей за неделю: %d
• Записей с ESP: %d
• Обновлений погоды: %d

Напиши краткий (5-7 предложений) дружелюбный отчёт на русском языке.
Опиши общую картину недели, выдели самый холодный/тёплый день,
сравни снаружи и внутри, дай совет, если нужно.
Не используй markdown, просто текст.`,
		week.PeriodStart, week.PeriodEnd,
		fmtMetric(s.TempIn.Avg), fmtMetric(s.TempIn.Min), fmtMetric(s.TempIn.Max),
		fmtMetric(s.HumIn.Avg), fmtMetric(s.HumIn.Min), fmtMetric(s.HumIn.Max),
		fmtMetric(s.TempOut.Avg), fmtMetric(s.TempOut.Min), fmtMetric(s.TempOut.Max),
		fmtMetric(s.HumOut.Avg), fmtMetric(s.HumOut.Min), fmtMetric(s.HumOut.Max),
		trendWording(week.Trend),
		formatWeeklyDays(week.Daily),
		formatRecords(records, "01-02 15:04"),
		s.TotalRecords, s.ESPRecords, s.WeatherRecords,
	)
}
