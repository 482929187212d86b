package repository

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"esp-gateway/internal/models"

	"go.uber.org/zap"
)

// 行来源
const (
	SourceESP     = "esp"
	SourceWeather = "weather_api"
)

// TelemetryStore 时序读数存储接口
type TelemetryStore interface {
	SaveESPReading(ctx context.Context, temp, hum float64, deviceID string, ts time.Time) error
	SaveWeatherReading(ctx context.Context, temp, hum float64, ts time.Time) error
	History(ctx context.Context, endTime time.Time, hours int, deviceID string, maxPoints int) ([]models.TelemetryRecord, error)
	Stats(ctx context.Context, hours int, deviceID string) (*models.StatsResponse, error)
	YesterdayStats(ctx context.Context, now time.Time, deviceID string) (*models.DayStats, error)
	YesterdayRecords(ctx context.Context, now time.Time, deviceID string, maxPoints int) ([]models.TelemetryRecord, error)
	WeekStats(ctx context.Context, now time.Time, deviceID string) (*models.WeekStats, error)
	WeekRecords(ctx context.Context, now time.Time, deviceID string, maxPoints int) ([]models.TelemetryRecord, error)
	CleanupOldData(ctx context.Context, days int) (int64, error)
}

// PostgresTelemetryRepository 合并读数流（设备+天气）的时序 Repository
type PostgresTelemetryRepository struct {
	db     *sql.DB
	logger *zap.Logger
}

// NewPostgresTelemetryRepository 创建时序 Repository
func NewPostgresTelemetryRepository(db *sql.DB, logger *zap.Logger) *PostgresTelemetryRepository {
	return &PostgresTelemetryRepository{db: db, logger: logger}
}

// 确保实现了接口
var _ TelemetryStore = (*PostgresTelemetryRepository)(nil)

// EnsureSchema 初始化表结构（不存在时创建）
func (r *PostgresTelemetryRepository) EnsureSchema(ctx context.Context) error {
	_, err := r.db.ExecContext(ctx, `
		CREATE TABLE IF NOT EXISTS telemetry (
			id BIGSERIAL PRIMARY KEY,
			timestamp TIMESTAMPTZ NOT NULL DEFAULT NOW(),

			-- 室内传感器（设备）
			temp_in DOUBLE PRECISION,
			hum_in DOUBLE PRECISION,

			-- 室外数据（天气 API）
			temp_out DOUBLE PRECISION,
			hum_out DOUBLE PRECISION,

			device_id TEXT NOT NULL DEFAULT 'greenhouse_01',
			source TEXT NOT NULL DEFAULT 'esp',
			created_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
		)
	`)
	if err != nil {
		return fmt.Errorf("failed to create telemetry table: %w", err)
	}

	_, err = r.db.ExecContext(ctx,
		`CREATE INDEX IF NOT EXISTS idx_telemetry_timestamp ON telemetry(timestamp)`)
	if err != nil {
		return fmt.Errorf("failed to create telemetry index: %w", err)
	}

	r.logger.Info("Telemetry schema ready")
	return nil
}

// SaveESPReading 写入一条设备读数行（只填 *_in）
func (r *PostgresTelemetryRepository) SaveESPReading(ctx context.Context, temp, hum float64, deviceID string, ts time.Time) error {
	_, err := r.db.ExecContext(ctx, `
		INSERT INTO telemetry (timestamp, temp_in, hum_in, device_id, source)
		VALUES ($1, $2, $3, $4, $5)
	`, ts, temp, hum, deviceID, SourceESP)
	if err != nil {
		return fmt.Errorf("failed to save esp reading: %w", err)
	}

	r.logger.Debug("ESP reading saved",
		zap.Float64("temp", temp),
		zap.Float64("hum", hum),
		zap.String("device_id", deviceID),
	)
	return nil
}

// SaveWeatherReading 写入一条天气读数行（只填 *_out）
func (r *PostgresTelemetryRepository) SaveWeatherReading(ctx context.Context, temp, hum float64, ts time.Time) error {
	_, err := r.db.ExecContext(ctx, `
		INSERT INTO telemetry (timestamp, temp_out, hum_out, source)
		VALUES ($1, $2, $3, $4)
	`, ts, temp, hum, SourceWeather)
	if err != nil {
		return fmt.Errorf("failed to save weather reading: %w", err)
	}

	r.logger.Debug("Weather reading saved",
		zap.Float64("temp", temp),
		zap.Float64("hum", hum),
	)
	return nil
}

// rowsBetween 查询时间区间内的原始行（升序）
func (r *PostgresTelemetryRepository) rowsBetween(ctx context.Context, start, end time.Time, deviceID string) ([]models.TelemetryRecord, error) {
	query := `
		SELECT timestamp, temp_in, hum_in, temp_out, hum_out, device_id
		FROM telemetry
		WHERE timestamp >= $1 AND timestamp <= $2
	`
	args := []interface{}{start, end}
	if deviceID != "" {
		query += " AND device_id = $3"
		args = append(args, deviceID)
	}
	query += " ORDER BY timestamp ASC"

	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query telemetry rows: %w", err)
	}
	defer rows.Close()

	var records []models.TelemetryRecord
	for rows.Next() {
		var rec models.TelemetryRecord
		var tempIn, humIn, tempOut, humOut sql.NullFloat64
		var devID sql.NullString

		if err := rows.Scan(&rec.Timestamp, &tempIn, &humIn, &tempOut, &humOut, &devID); err != nil {
			return nil, fmt.Errorf("failed to scan telemetry row: %w", err)
		}

		if tempIn.Valid {
			v := tempIn.Float64
			rec.TempIn = &v
		}
		if humIn.Valid {
			v := humIn.Float64
			rec.HumIn = &v
		}
		if tempOut.Valid {
			v := tempOut.Float64
			rec.TempOut = &v
		}
		if humOut.Valid {
			v := humOut.Float64
			rec.HumOut = &v
		}
		if devID.Valid {
			rec.DeviceID = devID.String
		}

		records = append(records, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate telemetry rows: %w", err)
	}

	return records, nil
}

// History 最近 N 小时历史。多取 1 小时让室外值能携带进窗口起点，
// 降采样后截回请求窗口，最后再补一次室外空洞。
func (r *PostgresTelemetryRepository) History(ctx context.Context, endTime time.Time, hours int, deviceID string, maxPoints int) ([]models.TelemetryRecord, error) {
	start := endTime.Add(-time.Duration(hours+1) * time.Hour)
	records, err := r.rowsBetween(ctx, start, endTime, deviceID)
	if err != nil {
		return nil, err
	}
	if len(records) == 0 {
		return nil, nil
	}

	records = Downsample(records, maxPoints)

	cutoff := endTime.Add(-time.Duration(hours) * time.Hour)
	trimmed := records[:0]
	for _, rec := range records {
		if !rec.Timestamp.Before(cutoff) {
			trimmed = append(trimmed, rec)
		}
	}

	result := ForwardFillOutdoor(trimmed)

	r.logger.Debug("History prepared",
		zap.Int("hours", hours),
		zap.Int("points", len(result)),
	)
	return result, nil
}

// Stats 最近 N 小时的聚合统计（直接走 SQL 聚合，不经降采样路径）
func (r *PostgresTelemetryRepository) Stats(ctx context.Context, hours int, deviceID string) (*models.StatsResponse, error) {
	query := `
		SELECT
			COUNT(*) AS total_records,
			SUM(CASE WHEN temp_in IS NOT NULL THEN 1 ELSE 0 END) AS esp_records,
			SUM(CASE WHEN temp_out IS NOT NULL THEN 1 ELSE 0 END) AS weather_records,

			AVG(temp_in), MIN(temp_in), MAX(temp_in),
			AVG(hum_in), MIN(hum_in), MAX(hum_in),
			AVG(temp_out), MIN(temp_out), MAX(temp_out),
			AVG(hum_out), MIN(hum_out), MAX(hum_out)
		FROM telemetry
		WHERE timestamp >= NOW() - $1 * INTERVAL '1 hour'
	`
	args := []interface{}{hours}
	if deviceID != "" {
		query += " AND device_id = $2"
		args = append(args, deviceID)
	}

	stats := &models.StatsResponse{PeriodHours: hours}
	var esp, weather sql.NullInt64
	var avgTI, minTI, maxTI, avgHI, minHI, maxHI sql.NullFloat64
	var avgTO, minTO, maxTO, avgHO, minHO, maxHO sql.NullFloat64

	err := r.db.QueryRowContext(ctx, query, args...).Scan(
		&stats.TotalRecords, &esp, &weather,
		&avgTI, &minTI, &maxTI,
		&avgHI, &minHI, &maxHI,
		&avgTO, &minTO, &maxTO,
		&avgHO, &minHO, &maxHO,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to query stats: %w", err)
	}

	stats.ESPRecords = int(esp.Int64)
	stats.WeatherRecords = int(weather.Int64)
	stats.AvgTempIn = nullFloat(avgTI)
	stats.MinTempIn = nullFloat(minTI)
	stats.MaxTempIn = nullFloat(maxTI)
	stats.AvgHumIn = nullFloat(avgHI)
	stats.MinHumIn = nullFloat(minHI)
	stats.MaxHumIn = nullFloat(maxHI)
	stats.AvgTempOut = nullFloat(avgTO)
	stats.MinTempOut = nullFloat(minTO)
	stats.MaxTempOut = nullFloat(maxTO)
	stats.AvgHumOut = nullFloat(avgHO)
	stats.MinHumOut = nullFloat(minHO)
	stats.MaxHumOut = nullFloat(maxHO)

	return stats, nil
}

// statsBetween 日历边界内的聚合（日报/周报公用）
func (r *PostgresTelemetryRepository) statsBetween(ctx context.Context, start, end time.Time, deviceID string) (*models.DayStats, error) {
	query := `
		SELECT
			COUNT(*) AS total_records,
			SUM(CASE WHEN temp_in IS NOT NULL THEN 1 ELSE 0 END) AS esp_records,
			SUM(CASE WHEN temp_out IS NOT NULL THEN 1 ELSE 0 END) AS weather_records,

			AVG(temp_in), MIN(temp_in), MAX(temp_in),
			AVG(hum_in), MIN(hum_in), MAX(hum_in),
			AVG(temp_out), MIN(temp_out), MAX(temp_out),
			AVG(hum_out), MIN(hum_out), MAX(hum_out)
		FROM telemetry
		WHERE timestamp >= $1 AND timestamp <= $2
	`
	args := []interface{}{start, end}
	if deviceID != "" {
		query += " AND device_id = $3"
		args = append(args, deviceID)
	}

	day := &models.DayStats{Date: start.Format("2006-01-02")}
	var esp, weather sql.NullInt64
	var avgTI, minTI, maxTI, avgHI, minHI, maxHI sql.NullFloat64
	var avgTO, minTO, maxTO, avgHO, minHO, maxHO sql.NullFloat64

	err := r.db.QueryRowContext(ctx, query, args...).Scan(
		&day.TotalRecords, &esp, &weather,
		&avgTI, &minTI, &maxTI,
		&avgHI, &minHI, &maxHI,
		&avgTO, &minTO, &maxTO,
		&avgHO, &minHO, &maxHO,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to query calendar stats: %w", err)
	}

	day.ESPRecords = int(esp.Int64)
	day.WeatherRecords = int(weather.Int64)
	day.TempIn = models.MetricStats{Avg: nullFloat(avgTI), Min: nullFloat(minTI), Max: nullFloat(maxTI)}
	day.HumIn = models.MetricStats{Avg: nullFloat(avgHI), Min: nullFloat(minHI), Max: nullFloat(maxHI)}
	day.TempOut = models.MetricStats{Avg: nullFloat(avgTO), Min: nullFloat(minTO), Max: nullFloat(maxTO)}
	day.HumOut = models.MetricStats{Avg: nullFloat(avgHO), Min: nullFloat(minHO), Max: nullFloat(maxHO)}

	return day, nil
}

// dayBounds 日历日边界 00:00:00 – 23:59:59.999999
func dayBounds(day time.Time) (time.Time, time.Time) {
	start := time.Date(day.Year(), day.Month(), day.Day(), 0, 0, 0, 0, day.Location())
	end := start.Add(24*time.Hour - time.Microsecond)
	return start, end
}

// YesterdayStats 昨天（完整日历日）的统计；无数据返回 nil
func (r *PostgresTelemetryRepository) YesterdayStats(ctx context.Context, now time.Time, deviceID string) (*models.DayStats, error) {
	start, end := dayBounds(now.AddDate(0, 0, -1))
	day, err := r.statsBetween(ctx, start, end, deviceID)
	if err != nil {
		return nil, err
	}
	if day.TotalRecords == 0 {
		return nil, nil
	}
	return day, nil
}

// YesterdayRecords 昨天的降采样记录（报告路径，取块中间行时间戳）
func (r *PostgresTelemetryRepository) YesterdayRecords(ctx context.Context, now time.Time, deviceID string, maxPoints int) ([]models.TelemetryRecord, error) {
	start, end := dayBounds(now.AddDate(0, 0, -1))
	records, err := r.rowsBetween(ctx, start, end, deviceID)
	if err != nil {
		return nil, err
	}
	if len(records) == 0 {
		return nil, nil
	}
	return ForwardFillOutdoor(DownsampleMiddle(records, maxPoints)), nil
}

// WeekStats 截止昨天的 7 个完整日历日统计；整周无数据返回 nil
func (r *PostgresTelemetryRepository) WeekStats(ctx context.Context, now time.Time, deviceID string) (*models.WeekStats, error) {
	weekEnd := now.AddDate(0, 0, -1)
	weekStartDay := now.AddDate(0, 0, -7)
	start, _ := dayBounds(weekStartDay)
	_, end := dayBounds(weekEnd)

	summary, err := r.statsBetween(ctx, start, end, deviceID)
	if err != nil {
		return nil, err
	}
	if summary.TotalRecords == 0 {
		return nil, nil
	}
	summary.Date = ""

	week := &models.WeekStats{
		PeriodStart: start.Format("2006-01-02"),
		PeriodEnd:   weekEnd.Format("2006-01-02"),
		Summary:     *summary,
	}

	var dailyTemps []float64
	for i := 0; i < 7; i++ {
		ds, de := dayBounds(weekStartDay.AddDate(0, 0, i))
		day, err := r.statsBetween(ctx, ds, de, deviceID)
		if err != nil {
			return nil, err
		}
		week.Daily = append(week.Daily, *day)
		if day.TempIn.Avg != nil {
			dailyTemps = append(dailyTemps, *day.TempIn.Avg)
		}
	}

	// 趋势：前半周与后半周室内均温对比（不足 4 天有效数据不算）
	if len(dailyTemps) >= 4 {
		half := len(dailyTemps) / 2
		firstAvg := avg(dailyTemps[:half])
		secondAvg := avg(dailyTemps[half:])
		trend := secondAvg - firstAvg
		week.Trend = &trend
	}

	return week, nil
}

// WeekRecords 整周的降采样记录（报告路径）
func (r *PostgresTelemetryRepository) WeekRecords(ctx context.Context, now time.Time, deviceID string, maxPoints int) ([]models.TelemetryRecord, error) {
	start, _ := dayBounds(now.AddDate(0, 0, -7))
	_, end := dayBounds(now.AddDate(0, 0, -1))
	records, err := r.rowsBetween(ctx, start, end, deviceID)
	if err != nil {
		return nil, err
	}
	if len(records) == 0 {
		return nil, nil
	}
	return ForwardFillOutdoor(DownsampleMiddle(records, maxPoints)), nil
}

// CleanupOldData 删除早于保留期的行，返回删除数量
func (r *PostgresTelemetryRepository) CleanupOldData(ctx context.Context, days int) (int64, error) {
	res, err := r.db.ExecContext(ctx,
		`DELETE FROM telemetry WHERE timestamp < NOW() - $1 * INTERVAL '1 day'`, days)
	if err != nil {
		return 0, fmt.Errorf("failed to cleanup old telemetry: %w", err)
	}
	deleted, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("failed to read cleanup row count: %w", err)
	}

	r.logger.Info("Old telemetry cleaned up",
		zap.Int("days", days),
		zap.Int64("deleted", deleted),
	)
	return deleted, nil
}

func nullFloat(v sql.NullFloat64) *float64 {
	if !v.Valid {
		return nil
	}
	f := v.Float64
	return &f
}

func avg(vals []float64) float64 {
	if len(vals) == 0 {
		return 0
	}
	var sum float64
	for _, v := range vals {
		sum += v
	}
	return sum / float64(len(vals))
}
