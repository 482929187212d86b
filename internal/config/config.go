package config

import (
	"os"
	"strconv"
	"time"
)

// Config esp-gateway 配置
type Config struct {
	HTTP struct {
		Addr string
	}
	Database struct {
		Host     string
		Port     int
		User     string
		Password string
		Database string
		SSLMode  string
	}
	Redis struct {
		Addr     string
		Password string
		DB       int
	}
	MQTT    MQTTConfig
	Device  DeviceConfig
	Weather WeatherConfig
	AI      AIConfig
	Auth    struct {
		BotSecret string
	}
	Log struct {
		Level  string
		Format string
	}
}

// MQTTConfig MQTT 配置
type MQTTConfig struct {
	Broker   string // Broker 地址（如 "tcp://localhost:1883"）
	ClientID string
	Username string
	Password string
	QoS      byte
}

// DeviceConfig 设备会话配置（单设备部署）
type DeviceConfig struct {
	DeviceID              string
	WeatherInterval       time.Duration // 天气刷新周期
	HeartbeatInterval     time.Duration // 状态检查周期
	TimeSyncInterval      time.Duration // 时间同步检查周期
	TimeSyncDelay         time.Duration // 时间同步循环启动延迟
	TimeSyncDays          int           // 同步有效天数
	SettingsTimeout       time.Duration // 设置请求应答超时
	TimeSyncAckTimeout    time.Duration // 时间同步应答超时
	TelemetryPersistEvery int           // 每N条遥测落一条库
	RetentionDays         int           // 时序数据保留天数
}

// WeatherConfig 外部天气 API 配置
type WeatherConfig struct {
	APIKey      string
	BaseURL     string
	Lat         float64
	Lon         float64
	Location    string // 缓存键中的地点名
	DailyBudget int    // 每日调用预算（达到后只用缓存）
}

// AIConfig 文本生成 API 配置（OpenAI 兼容）
type AIConfig struct {
	Token   string
	BaseURL string
	Model   string
}

func Load() *Config {
	cfg := &Config{}
	cfg.HTTP.Addr = getEnv("HTTP_ADDR", ":8080")

	cfg.Database.Host = getEnv("DB_HOST", "localhost")
	cfg.Database.Port = parseInt(getEnv("DB_PORT", "5432"), 5432)
	cfg.Database.User = getEnv("DB_USER", "postgres")
	cfg.Database.Password = getEnv("DB_PASSWORD", "postgres")
	cfg.Database.Database = getEnv("DB_NAME", "esp_gateway")
	cfg.Database.SSLMode = getEnv("DB_SSLMODE", "disable")

	cfg.Redis.Addr = getEnv("REDIS_ADDR", "localhost:6379")
	cfg.Redis.Password = getEnv("REDIS_PASSWORD", "")
	cfg.Redis.DB = 0

	cfg.MQTT.Broker = getEnv("MQTT_BROKER", "tcp://localhost:1883")
	cfg.MQTT.ClientID = getEnv("MQTT_CLIENT_ID", "esp-gateway")
	cfg.MQTT.Username = getEnv("MQTT_USERNAME", "")
	cfg.MQTT.Password = getEnv("MQTT_PASSWORD", "")
	cfg.MQTT.QoS = 1

	cfg.Device.DeviceID = getEnv("DEVICE_ID", "greenhouse_01")
	cfg.Device.WeatherInterval = parseDuration(getEnv("WEATHER_INTERVAL", "30m"), 30*time.Minute)
	cfg.Device.HeartbeatInterval = parseDuration(getEnv("HEARTBEAT_INTERVAL", "60s"), 60*time.Second)
	cfg.Device.TimeSyncInterval = parseDuration(getEnv("TIME_SYNC_INTERVAL", "12h"), 12*time.Hour)
	cfg.Device.TimeSyncDelay = parseDuration(getEnv("TIME_SYNC_DELAY", "30s"), 30*time.Second)
	cfg.Device.TimeSyncDays = parseInt(getEnv("TIME_SYNC_DAYS", "2"), 2)
	cfg.Device.SettingsTimeout = parseDuration(getEnv("SETTINGS_TIMEOUT", "5s"), 5*time.Second)
	cfg.Device.TimeSyncAckTimeout = parseDuration(getEnv("TIME_SYNC_ACK_TIMEOUT", "30s"), 30*time.Second)
	cfg.Device.TelemetryPersistEvery = parseInt(getEnv("TELEMETRY_PERSIST_EVERY", "5"), 5)
	cfg.Device.RetentionDays = parseInt(getEnv("RETENTION_DAYS", "30"), 30)

	cfg.Weather.APIKey = getEnv("WEATHER_API_KEY", "")
	cfg.Weather.BaseURL = getEnv("WEATHER_BASE_URL", "https://api.weather.yandex.ru/v2/forecast")
	cfg.Weather.Lat = parseFloat(getEnv("WEATHER_LAT", "56.8526"), 56.8526)
	cfg.Weather.Lon = parseFloat(getEnv("WEATHER_LON", "53.2047"), 53.2047)
	cfg.Weather.Location = getEnv("WEATHER_LOCATION", "Izhevsk")
	cfg.Weather.DailyBudget = parseInt(getEnv("WEATHER_DAILY_BUDGET", "28"), 28)

	cfg.AI.Token = getEnv("AI_API_TOKEN", "")
	cfg.AI.BaseURL = getEnv("AI_BASE_URL", "https://api.deepseek.com")
	cfg.AI.Model = getEnv("AI_MODEL", "deepseek-chat")

	cfg.Auth.BotSecret = getEnv("BOT_SECRET", "")

	cfg.Log.Level = getEnv("LOG_LEVEL", "info")
	cfg.Log.Format = getEnv("LOG_FORMAT", "json")

	return cfg
}

func getEnv(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

func parseInt(s string, def int) int {
	i, err := strconv.Atoi(s)
	if err != nil {
		return def
	}
	return i
}

func parseFloat(s string, def float64) float64 {
	f, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return def
	}
	return f
}

func parseDuration(s string, def time.Duration) time.Duration {
	d, err := time.ParseDuration(s)
	if err != nil {
		return def
	}
	return d
}
