package models

import "time"

// WeatherSnapshot 缓存中的天气快照（单地点单条）
type WeatherSnapshot struct {
	CurrentTemp      int     `json:"current_temp"`
	CurrentFeelsLike int     `json:"current_feels_like"`
	CurrentCondition string  `json:"current_condition"`
	Humidity         int     `json:"humidity"`
	WindSpeed        float64 `json:"wind_speed"`

	MorningTemp *int `json:"morning_temp"`
	DayTemp     *int `json:"day_temp"`
	EveningTemp *int `json:"evening_temp"`
	NightTemp   *int `json:"night_temp"`

	Timestamp time.Time `json:"timestamp"`
	// ExpiresAt 快照过期时间（= Timestamp + 60min）
	ExpiresAt     time.Time `json:"expires_at"`
	APICallsToday int       `json:"api_calls_today"`
}

// BoardWeather 推送到设备的天气载荷（无 timestamp，带格式化的更新时刻）
type BoardWeather struct {
	Temp      int     `json:"temp"`
	FeelsLike int     `json:"feels_like"`
	Condition string  `json:"condition"`
	Humidity  int     `json:"humidity"`
	WindSpeed float64 `json:"wind_speed"`

	MorningTemp int `json:"morning_temp"`
	DayTemp     int `json:"day_temp"`
	EveningTemp int `json:"evening_temp"`
	NightTemp   int `json:"night_temp"`

	UpdateAt string `json:"update_at"` // "14:38"
}

// BoardWeatherFromSnapshot 构造设备端天气载荷
func BoardWeatherFromSnapshot(s *WeatherSnapshot) BoardWeather {
	return BoardWeather{
		Temp:        s.CurrentTemp,
		FeelsLike:   s.CurrentFeelsLike,
		Condition:   s.CurrentCondition,
		Humidity:    s.Humidity,
		WindSpeed:   s.WindSpeed,
		MorningTemp: intOrZero(s.MorningTemp),
		DayTemp:     intOrZero(s.DayTemp),
		EveningTemp: intOrZero(s.EveningTemp),
		NightTemp:   intOrZero(s.NightTemp),
		UpdateAt:    s.Timestamp.Format("15:04"),
	}
}

// TimePayload 下发给设备的时间设置载荷
type TimePayload struct {
	Year   int `json:"year"`
	Month  int `json:"month"`
	Day    int `json:"day"`
	Hour   int `json:"hour"`
	Minute int `json:"minute"`
	Second int `json:"second"`
}

// TimePayloadFromTime 由本地时间构造时间载荷
func TimePayloadFromTime(t time.Time) TimePayload {
	return TimePayload{
		Year:   t.Year(),
		Month:  int(t.Month()),
		Day:    t.Day(),
		Hour:   t.Hour(),
		Minute: t.Minute(),
		Second: t.Second(),
	}
}

func intOrZero(p *int) int {
	if p == nil {
		return 0
	}
	return *p
}
