package mqtt

import (
	"encoding/json"
	"fmt"
	"strings"
	"sync"
	"time"

	"esp-gateway/internal/models"

	"go.uber.org/zap"
)

// 设备→后端 topic 后缀
const (
	suffixTelemetry      = "telemetry"
	suffixConfigUpdate   = "config/update"
	suffixWeatherRequest = "weather/request"
	suffixTimeReady      = "time/ready"
)

// 后端→设备 topic 后缀
const (
	suffixWeatherSend = "weather"
	suffixConfigGet   = "config/get"
	suffixConfigSet   = "config/set"
	suffixTimeSet     = "time/set"
)

// publisher 底层 MQTT 客户端抽象（用于在单元测试中替换真实 broker）
type publisher interface {
	EnsureConnected() bool
	Publish(topic string, qos byte, retained bool, payload []byte) error
	Subscribe(topic string, qos byte, handler MessageHandler) error
	Unsubscribe(topics ...string) error
}

// TelemetryCallback 遥测回调（载荷已校验，时间戳由网关补齐）
type TelemetryCallback func(deviceID string, sample models.TelemetrySample)

// SettingsCallback 设备配置应答回调
type SettingsCallback func(deviceID string, settings models.DeviceSettings)

// EventCallback 无载荷事件回调（天气请求、时间同步确认）
type EventCallback func(deviceID string)

// DeviceAdapter 设备 topic 路由层：负责订阅生命周期、JSON 编解码和
// 回调分发，把传输细节与编排器隔离。每种事件同一时刻只有一个回调。
type DeviceAdapter struct {
	pub      publisher
	deviceID string
	qos      byte
	logger   *zap.Logger

	mu          sync.RWMutex
	telemetryCB TelemetryCallback
	settingsCB  SettingsCallback
	weatherCB   EventCallback
	timeReadyCB EventCallback
}

// NewDeviceAdapter 创建设备传输适配器
func NewDeviceAdapter(client *Client, deviceID string, qos byte, logger *zap.Logger) *DeviceAdapter {
	return newDeviceAdapter(client, deviceID, qos, logger)
}

func newDeviceAdapter(pub publisher, deviceID string, qos byte, logger *zap.Logger) *DeviceAdapter {
	return &DeviceAdapter{
		pub:      pub,
		deviceID: deviceID,
		qos:      qos,
		logger:   logger,
	}
}

// Start 订阅全部入站 topic
func (a *DeviceAdapter) Start() error {
	for _, suffix := range []string{suffixTelemetry, suffixConfigUpdate, suffixWeatherRequest, suffixTimeReady} {
		topic := a.topic(suffix)
		if err := a.pub.Subscribe(topic, a.qos, a.handleInbound); err != nil {
			return fmt.Errorf("failed to subscribe to %s: %w", topic, err)
		}
		a.logger.Debug("Subscribed to device topic", zap.String("topic", topic))
	}
	return nil
}

// Stop 取消全部订阅
func (a *DeviceAdapter) Stop() error {
	topics := []string{
		a.topic(suffixTelemetry),
		a.topic(suffixConfigUpdate),
		a.topic(suffixWeatherRequest),
		a.topic(suffixTimeReady),
	}
	if err := a.pub.Unsubscribe(topics...); err != nil {
		return fmt.Errorf("failed to unsubscribe device topics: %w", err)
	}
	return nil
}

func (a *DeviceAdapter) topic(suffix string) string {
	return a.deviceID + "/" + suffix
}

// handleInbound 入站消息路由。解码失败或没有注册回调的消息只记日志并丢弃，
// 错误不向传输层传播。
func (a *DeviceAdapter) handleInbound(topic string, payload []byte) error {
	parts := strings.SplitN(topic, "/", 2)
	if len(parts) < 2 {
		a.logger.Warn("Malformed device topic", zap.String("topic", topic))
		return nil
	}
	deviceID := parts[0]
	suffix := parts[1]

	a.mu.RLock()
	telemetryCB := a.telemetryCB
	settingsCB := a.settingsCB
	weatherCB := a.weatherCB
	timeReadyCB := a.timeReadyCB
	a.mu.RUnlock()

	switch suffix {
	case suffixTelemetry:
		if telemetryCB == nil {
			a.logger.Debug("No telemetry callback registered", zap.String("device_id", deviceID))
			return nil
		}
		var p models.TelemetryPayload
		if err := json.Unmarshal(payload, &p); err != nil {
			a.logger.Warn("Invalid telemetry JSON",
				zap.String("device_id", deviceID),
				zap.Error(err),
			)
			return nil
		}
		if err := p.Validate(); err != nil {
			a.logger.Warn("Invalid telemetry payload",
				zap.String("device_id", deviceID),
				zap.Error(err),
			)
			return nil
		}
		telemetryCB(deviceID, p.Sample(deviceID, time.Now()))

	case suffixConfigUpdate:
		if settingsCB == nil {
			a.logger.Debug("No settings callback registered", zap.String("device_id", deviceID))
			return nil
		}
		var s models.DeviceSettings
		if err := json.Unmarshal(payload, &s); err != nil {
			a.logger.Warn("Invalid settings JSON",
				zap.String("device_id", deviceID),
				zap.Error(err),
			)
			return nil
		}
		if err := s.Validate(); err != nil {
			a.logger.Warn("Invalid settings payload",
				zap.String("device_id", deviceID),
				zap.Error(err),
			)
			return nil
		}
		settingsCB(deviceID, s)

	case suffixWeatherRequest:
		if weatherCB == nil {
			a.logger.Debug("No weather request callback registered", zap.String("device_id", deviceID))
			return nil
		}
		weatherCB(deviceID)

	case suffixTimeReady:
		if timeReadyCB == nil {
			a.logger.Debug("No time ready callback registered", zap.String("device_id", deviceID))
			return nil
		}
		timeReadyCB(deviceID)

	default:
		a.logger.Debug("Unhandled device topic",
			zap.String("topic", topic),
			zap.String("suffix", suffix),
		)
	}

	return nil
}

// ========== 回调注册（注册覆盖旧值，移除置空） ==========

// SetTelemetryCallback 设置遥测回调
func (a *DeviceAdapter) SetTelemetryCallback(cb TelemetryCallback) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.telemetryCB = cb
}

// SetSettingsCallback 设置配置应答回调
func (a *DeviceAdapter) SetSettingsCallback(cb SettingsCallback) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.settingsCB = cb
}

// RemoveSettingsCallback 移除配置应答回调
func (a *DeviceAdapter) RemoveSettingsCallback() {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.settingsCB = nil
}

// SetWeatherRequestCallback 设置天气请求回调
func (a *DeviceAdapter) SetWeatherRequestCallback(cb EventCallback) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.weatherCB = cb
}

// SetTimeReadyCallback 设置时间同步确认回调
func (a *DeviceAdapter) SetTimeReadyCallback(cb EventCallback) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.timeReadyCB = cb
}

// RemoveTimeReadyCallback 移除时间同步确认回调
func (a *DeviceAdapter) RemoveTimeReadyCallback() {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.timeReadyCB = nil
}

// ========== 出站发布（返回成功与否，不抛错误） ==========

// SendWeather 推送天气到设备
func (a *DeviceAdapter) SendWeather(deviceID string, w models.BoardWeather) bool {
	return a.publish(suffixWeatherSend, deviceID, w, "weather pushed")
}

// SendSettings 下发配置到设备
func (a *DeviceAdapter) SendSettings(deviceID string, s models.DeviceSettings) bool {
	return a.publish(suffixConfigSet, deviceID, s, "settings pushed")
}

// RequestSettings 请求设备当前配置（应答走 config/update）
func (a *DeviceAdapter) RequestSettings(deviceID string) bool {
	return a.publish(suffixConfigGet, deviceID, struct{}{}, "settings requested")
}

// SendTime 下发时间到设备
func (a *DeviceAdapter) SendTime(deviceID string, t models.TimePayload) bool {
	return a.publish(suffixTimeSet, deviceID, t, "time pushed")
}

// publish 统一出站路径：序列化、连接检查（断开时做一次重连）、QoS1 发布。
func (a *DeviceAdapter) publish(suffix, deviceID string, payload any, logMsg string) bool {
	data, err := json.Marshal(payload)
	if err != nil {
		a.logger.Error("Failed to marshal outbound payload",
			zap.String("suffix", suffix),
			zap.Error(err),
		)
		return false
	}

	if !a.pub.EnsureConnected() {
		a.logger.Warn("MQTT disconnected, dropping outbound message",
			zap.String("suffix", suffix),
			zap.String("device_id", deviceID),
		)
		return false
	}

	topic := deviceID + "/" + suffix
	if err := a.pub.Publish(topic, a.qos, false, data); err != nil {
		a.logger.Error("Failed to publish to device",
			zap.String("topic", topic),
			zap.Error(err),
		)
		return false
	}

	a.logger.Info("Message sent to device",
		zap.String("device_id", deviceID),
		zap.String("topic", topic),
		zap.String("action", logMsg),
	)
	return true
}
