package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestLoadDefaults(t *testing.T) {
	cfg := Load()

	assert.Equal(t, ":8080", cfg.HTTP.Addr)
	assert.Equal(t, "tcp://localhost:1883", cfg.MQTT.Broker)
	assert.Equal(t, byte(1), cfg.MQTT.QoS)

	assert.Equal(t, "greenhouse_01", cfg.Device.DeviceID)
	assert.Equal(t, 30*time.Minute, cfg.Device.WeatherInterval)
	assert.Equal(t, 60*time.Second, cfg.Device.HeartbeatInterval)
	assert.Equal(t, 12*time.Hour, cfg.Device.TimeSyncInterval)
	assert.Equal(t, 5*time.Second, cfg.Device.SettingsTimeout)
	assert.Equal(t, 30*time.Second, cfg.Device.TimeSyncAckTimeout)
	assert.Equal(t, 5, cfg.Device.TelemetryPersistEvery)
	assert.Equal(t, 2, cfg.Device.TimeSyncDays)
	assert.Equal(t, 30, cfg.Device.RetentionDays)

	assert.Equal(t, 28, cfg.Weather.DailyBudget)
	assert.Equal(t, "Izhevsk", cfg.Weather.Location)
}

func TestLoadOverrides(t *testing.T) {
	t.Setenv("DEVICE_ID", "greenhouse_02")
	t.Setenv("WEATHER_INTERVAL", "15m")
	t.Setenv("WEATHER_DAILY_BUDGET", "10")
	t.Setenv("DB_PORT", "5433")
	t.Setenv("TELEMETRY_PERSIST_EVERY", "3")

	cfg := Load()

	assert.Equal(t, "greenhouse_02", cfg.Device.DeviceID)
	assert.Equal(t, 15*time.Minute, cfg.Device.WeatherInterval)
	assert.Equal(t, 10, cfg.Weather.DailyBudget)
	assert.Equal(t, 5433, cfg.Database.Port)
	assert.Equal(t, 3, cfg.Device.TelemetryPersistEvery)
}

func TestLoadInvalidValuesFallBack(t *testing.T) {
	t.Setenv("WEATHER_INTERVAL", "not-a-duration")
	t.Setenv("DB_PORT", "not-a-number")

	cfg := Load()

	assert.Equal(t, 30*time.Minute, cfg.Device.WeatherInterval)
	assert.Equal(t, 5432, cfg.Database.Port)
}
