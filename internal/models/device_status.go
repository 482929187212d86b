package models

// DeviceStatus 设备连接状态（基于最后一条消息的时间推断）
type DeviceStatus string

const (
	StatusNeverConnected DeviceStatus = "never_connected" // 从未连接
	StatusOnline         DeviceStatus = "online"          // 在线（< 2 分钟）
	StatusOffline        DeviceStatus = "offline"         // 离线（2-5 分钟）
	StatusDead           DeviceStatus = "dead"            // 失联（> 5 分钟）
)
