package models

import (
	"fmt"
	"time"
)

// TelemetrySample 设备遥测数据
type TelemetrySample struct {
	DeviceID          string    `json:"device_id"`
	Temperature       float64   `json:"temperature"`
	Humidity          float64   `json:"humidity"`
	FreeMemory        *int64    `json:"free_memory,omitempty"`
	Uptime            *int64    `json:"uptime,omitempty"`
	BluetoothIsActive *bool     `json:"bluetooth_is_active,omitempty"`
	Timestamp         time.Time `json:"timestamp"`
}

// TelemetryPayload 设备上报的原始遥测（device_id 和 timestamp 由网关补齐）
type TelemetryPayload struct {
	Temperature       *float64 `json:"temperature"`
	Humidity          *float64 `json:"humidity"`
	FreeMemory        *int64   `json:"free_memory,omitempty"`
	Uptime            *int64   `json:"uptime,omitempty"`
	BluetoothIsActive *bool    `json:"bluetooth_is_active,omitempty"`
}

// Validate 检查必填字段
func (p *TelemetryPayload) Validate() error {
	if p.Temperature == nil {
		return fmt.Errorf("telemetry missing temperature")
	}
	if p.Humidity == nil {
		return fmt.Errorf("telemetry missing humidity")
	}
	return nil
}

// Sample 构造带设备ID和时间戳的遥测样本
func (p *TelemetryPayload) Sample(deviceID string, ts time.Time) TelemetrySample {
	return TelemetrySample{
		DeviceID:          deviceID,
		Temperature:       *p.Temperature,
		Humidity:          *p.Humidity,
		FreeMemory:        p.FreeMemory,
		Uptime:            p.Uptime,
		BluetoothIsActive: p.BluetoothIsActive,
		Timestamp:         ts,
	}
}
