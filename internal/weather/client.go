package weather

import (
	"context"
	"fmt"
	"time"

	"esp-gateway/internal/config"
	"esp-gateway/internal/models"

	"github.com/go-resty/resty/v2"
	"go.uber.org/zap"
)

// Fetcher 外部天气数据源
type Fetcher interface {
	Fetch(ctx context.Context) (*models.WeatherSnapshot, error)
}

// forecastResponse 天气 API 响应（只解码用到的字段）
type forecastResponse struct {
	Fact struct {
		Temp      int     `json:"temp"`
		FeelsLike int     `json:"feels_like"`
		Condition string  `json:"condition"`
		Humidity  int     `json:"humidity"`
		WindSpeed float64 `json:"wind_speed"`
	} `json:"fact"`
	Forecasts []struct {
		Date  string `json:"date"`
		Parts struct {
			Morning forecastPart `json:"morning"`
			Day     forecastPart `json:"day"`
			Evening forecastPart `json:"evening"`
			Night   forecastPart `json:"night"`
		} `json:"parts"`
	} `json:"forecasts"`
}

type forecastPart struct {
	TempAvg *int `json:"temp_avg"`
}

// Client 天气 API 客户端
type Client struct {
	http   *resty.Client
	config *config.WeatherConfig
	logger *zap.Logger
}

// NewClient 创建天气客户端
func NewClient(cfg *config.WeatherConfig, logger *zap.Logger) *Client {
	httpClient := resty.New().
		SetTimeout(10 * time.Second).
		SetHeader("X-Yandex-Weather-Key", cfg.APIKey)

	return &Client{
		http:   httpClient,
		config: cfg,
		logger: logger,
	}
}

var _ Fetcher = (*Client)(nil)

// Fetch 拉取当前天气和未来分段预报，转换为缓存快照。
// morning 取次日白天温度（设备在晚间展示"明早"），其余分段取当日。
func (c *Client) Fetch(ctx context.Context) (*models.WeatherSnapshot, error) {
	var result forecastResponse

	resp, err := c.http.R().
		SetContext(ctx).
		SetQueryParams(map[string]string{
			"lat":   fmt.Sprintf("%.4f", c.config.Lat),
			"lon":   fmt.Sprintf("%.4f", c.config.Lon),
			"lang":  "ru_RU",
			"limit": "2",
		}).
		SetResult(&result).
		Get(c.config.BaseURL)
	if err != nil {
		return nil, fmt.Errorf("weather request failed: %w", err)
	}
	if resp.IsError() {
		return nil, fmt.Errorf("weather API returned status %d", resp.StatusCode())
	}
	if len(result.Forecasts) == 0 {
		return nil, fmt.Errorf("weather API returned no forecasts")
	}

	now := time.Now()
	snap := &models.WeatherSnapshot{
		CurrentTemp:      result.Fact.Temp,
		CurrentFeelsLike: result.Fact.FeelsLike,
		CurrentCondition: result.Fact.Condition,
		Humidity:         result.Fact.Humidity,
		WindSpeed:        result.Fact.WindSpeed,
		Timestamp:        now,
		ExpiresAt:        now.Add(60 * time.Minute),
	}

	today := result.Forecasts[0].Parts
	snap.DayTemp = today.Day.TempAvg
	snap.EveningTemp = today.Evening.TempAvg
	snap.NightTemp = today.Night.TempAvg

	// "明早" 温度来自第二天的预报
	if len(result.Forecasts) > 1 {
		snap.MorningTemp = result.Forecasts[1].Parts.Morning.TempAvg
	} else {
		snap.MorningTemp = today.Morning.TempAvg
	}

	c.logger.Info("Weather fetched",
		zap.Int("temp", snap.CurrentTemp),
		zap.String("condition", snap.CurrentCondition),
	)
	return snap, nil
}
