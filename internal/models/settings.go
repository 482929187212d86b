package models

import "fmt"

// DeviceSettings 设备端配置结构的镜像（字段与板上 SettingsData 一一对应）。
// 网关只做透传，不解释字段含义。
type DeviceSettings struct {
	// 屏幕模式（0-常亮，1-自动，2-智能）
	DisplayMode int `json:"displayMode"`

	// 日间继电器时间表
	DayOnHour    int `json:"dayOnHour"`
	DayOnMinute  int `json:"dayOnMinute"`
	DayOffHour   int `json:"dayOffHour"`
	DayOffMinute int `json:"dayOffMinute"`

	// 夜间继电器时间表
	NightOnHour    int `json:"nightOnHour"`
	NightOnMinute  int `json:"nightOnMinute"`
	NightOffHour   int `json:"nightOffHour"`
	NightOffMinute int `json:"nightOffMinute"`

	// 卫生间继电器时间表
	ToiletOnHour    int `json:"toiletOnHour"`
	ToiletOnMinute  int `json:"toiletOnMinute"`
	ToiletOffHour   int `json:"toiletOffHour"`
	ToiletOffMinute int `json:"toiletOffMinute"`

	// 继电器模式（false=自动，true=手动）与手动状态
	RelayMode        bool `json:"relayMode"`
	ManualDayState   bool `json:"manualDayState"`
	ManualNightState bool `json:"manualNightState"`

	// 显示超时（秒）
	DisplayTimeout           int `json:"displayTimeout"`
	DisplayChangeModeTimeout int `json:"displayChangeModeTimeout"`

	// 风扇
	FanDelay    int `json:"fanDelay"`
	FanDuration int `json:"fanDuration"`

	OfflineModeActive  bool `json:"offlineModeActive"`
	ShowForecastScreen bool `json:"showForecastScreen"`
	ShowTempScreen     bool `json:"showTempScreen"`
}

// Validate 基本范围校验（与板端约束一致）
func (s *DeviceSettings) Validate() error {
	if s.DisplayMode < 0 || s.DisplayMode > 2 {
		return fmt.Errorf("displayMode out of range: %d", s.DisplayMode)
	}
	for name, h := range map[string]int{
		"dayOnHour": s.DayOnHour, "dayOffHour": s.DayOffHour,
		"nightOnHour": s.NightOnHour, "nightOffHour": s.NightOffHour,
		"toiletOnHour": s.ToiletOnHour, "toiletOffHour": s.ToiletOffHour,
	} {
		if h < 0 || h > 23 {
			return fmt.Errorf("%s out of range: %d", name, h)
		}
	}
	for name, m := range map[string]int{
		"dayOnMinute": s.DayOnMinute, "dayOffMinute": s.DayOffMinute,
		"nightOnMinute": s.NightOnMinute, "nightOffMinute": s.NightOffMinute,
		"toiletOnMinute": s.ToiletOnMinute, "toiletOffMinute": s.ToiletOffMinute,
	} {
		if m < 0 || m > 59 {
			return fmt.Errorf("%s out of range: %d", name, m)
		}
	}
	if s.DisplayTimeout < 0 || s.DisplayTimeout > 3600 {
		return fmt.Errorf("displayTimeout out of range: %d", s.DisplayTimeout)
	}
	if s.DisplayChangeModeTimeout < 0 || s.DisplayChangeModeTimeout > 3600 {
		return fmt.Errorf("displayChangeModeTimeout out of range: %d", s.DisplayChangeModeTimeout)
	}
	if s.FanDelay < 0 {
		return fmt.Errorf("fanDelay out of range: %d", s.FanDelay)
	}
	if s.FanDuration < 0 {
		return fmt.Errorf("fanDuration out of range: %d", s.FanDuration)
	}
	return nil
}
