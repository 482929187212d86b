package repository

import (
	"esp-gateway/internal/models"
)

// Downsample 固定块聚合降采样（窗口查询路径）。
// 块大小 = floor(len/maxPoints)，最小 1；块内室内值取均值，室外值取块内
// 最后一个非空值并跨块前向携带；聚合块的时间戳取块首行。
// 行数不超过 maxPoints 时原样返回。
func Downsample(records []models.TelemetryRecord, maxPoints int) []models.TelemetryRecord {
	return downsample(records, maxPoints, false)
}

// DownsampleMiddle 报告格式化路径的降采样：与 Downsample 规则相同，
// 但聚合块的时间戳取块的中间行。两条路径的取点规则历史上就不一致，
// 下游消费方依赖这一差异，不能合并。
func DownsampleMiddle(records []models.TelemetryRecord, maxPoints int) []models.TelemetryRecord {
	return downsample(records, maxPoints, true)
}

func downsample(records []models.TelemetryRecord, maxPoints int, middleTimestamp bool) []models.TelemetryRecord {
	if maxPoints <= 0 || len(records) <= maxPoints {
		return records
	}

	chunkSize := len(records) / maxPoints
	if chunkSize < 1 {
		chunkSize = 1
	}

	aggregated := make([]models.TelemetryRecord, 0, maxPoints+1)
	var lastTempOut, lastHumOut *float64

	for i := 0; i < len(records); i += chunkSize {
		end := i + chunkSize
		if end > len(records) {
			end = len(records)
		}
		chunk := records[i:end]

		var tempInSum, humInSum float64
		var tempInN, humInN int
		var chunkTempOut, chunkHumOut *float64

		for _, r := range chunk {
			if r.TempIn != nil {
				tempInSum += *r.TempIn
				tempInN++
			}
			if r.HumIn != nil {
				humInSum += *r.HumIn
				humInN++
			}
			if r.TempOut != nil {
				chunkTempOut = r.TempOut
			}
			if r.HumOut != nil {
				chunkHumOut = r.HumOut
			}
		}

		if chunkTempOut != nil {
			lastTempOut = chunkTempOut
		}
		if chunkHumOut != nil {
			lastHumOut = chunkHumOut
		}

		rep := chunk[0]
		if middleTimestamp {
			rep = chunk[len(chunk)/2]
		}

		agg := models.TelemetryRecord{
			Timestamp: rep.Timestamp,
			TempOut:   lastTempOut,
			HumOut:    lastHumOut,
			DeviceID:  chunk[0].DeviceID,
		}
		if tempInN > 0 {
			v := tempInSum / float64(tempInN)
			agg.TempIn = &v
		}
		if humInN > 0 {
			v := humInSum / float64(humInN)
			agg.HumIn = &v
		}
		aggregated = append(aggregated, agg)
	}

	return aggregated
}

// ForwardFillOutdoor 末段补洞：从头开始用最近一个非空室外值填充后续空洞。
// 与降采样中的携带是两个独立阶段。
func ForwardFillOutdoor(records []models.TelemetryRecord) []models.TelemetryRecord {
	var lastTempOut, lastHumOut *float64
	out := make([]models.TelemetryRecord, len(records))
	for i, r := range records {
		if r.TempOut != nil {
			lastTempOut = r.TempOut
		}
		if r.HumOut != nil {
			lastHumOut = r.HumOut
		}
		r.TempOut = lastTempOut
		r.HumOut = lastHumOut
		out[i] = r
	}
	return out
}
