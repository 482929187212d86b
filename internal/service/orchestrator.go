package service

import (
	"context"
	"errors"
	"sync"
	"time"

	"esp-gateway/internal/config"
	"esp-gateway/internal/models"
	"esp-gateway/internal/mqtt"
	"esp-gateway/internal/repository"
	"esp-gateway/internal/weather"

	"go.uber.org/zap"
)

// 状态机阈值：活动间隔 <120s 在线，120–300s 离线，≥300s 失联
const (
	onlineThreshold = 120 * time.Second
	deadThreshold   = 300 * time.Second
)

// deviceTransport 编排器依赖的传输层能力（便于测试替换）
type deviceTransport interface {
	SetTelemetryCallback(mqtt.TelemetryCallback)
	SetSettingsCallback(mqtt.SettingsCallback)
	RemoveSettingsCallback()
	SetWeatherRequestCallback(mqtt.EventCallback)
	SetTimeReadyCallback(mqtt.EventCallback)
	RemoveTimeReadyCallback()
	SendWeather(deviceID string, w models.BoardWeather) bool
	SendSettings(deviceID string, s models.DeviceSettings) bool
	RequestSettings(deviceID string) bool
	SendTime(deviceID string, t models.TimePayload) bool
}

// snapshotCache 编排器依赖的缓存能力
type snapshotCache interface {
	GetSnapshot(ctx context.Context) *models.WeatherSnapshot
	SaveSnapshot(ctx context.Context, snap *models.WeatherSnapshot) error
	CallsToday(ctx context.Context) int
	ShouldSyncTime(ctx context.Context, deviceID string, intervalDays int) bool
	MarkSyncCompleted(ctx context.Context, deviceID string)
}

// reportGenerator 报告文本生成能力
type reportGenerator interface {
	Complete(ctx context.Context, systemPrompt, userPrompt string) (string, error)
}

// 进程内只允许一个编排器实例（设备会话是进程级单例）
var (
	orchestratorMu    sync.Mutex
	orchestratorBuilt bool
)

// ErrOrchestratorExists 第二次构造编排器时返回
var ErrOrchestratorExists = errors.New("orchestrator already constructed")

// Orchestrator 设备会话编排器：持有设备状态、请求应答关联和三个后台循环。
// 会话字段由 mu 保护，所有入站消息先经 recordActivity 记活动再做分发。
type Orchestrator struct {
	cfg       *config.Config
	transport deviceTransport
	store     repository.TelemetryStore
	cache     snapshotCache
	fetcher   weather.Fetcher
	generator reportGenerator
	logger    *zap.Logger

	mu               sync.Mutex
	status           models.DeviceStatus
	lastActivityAt   *time.Time
	currentTelemetry *models.TelemetrySample
	telemetryCounter int

	// 每种交换同一时刻最多一个在途（容量 1 的一次性通道）
	pendingSettings chan models.DeviceSettings
	pendingTimeAck  chan struct{}

	// 设置拉取串行化（HTTP 层可能并发调用）
	settingsFetchMu sync.Mutex
}

// NewOrchestrator 创建编排器。进程内第二次调用返回 ErrOrchestratorExists。
func NewOrchestrator(
	cfg *config.Config,
	transport deviceTransport,
	store repository.TelemetryStore,
	cache snapshotCache,
	fetcher weather.Fetcher,
	generator reportGenerator,
	logger *zap.Logger,
) (*Orchestrator, error) {
	orchestratorMu.Lock()
	defer orchestratorMu.Unlock()
	if orchestratorBuilt {
		return nil, ErrOrchestratorExists
	}
	orchestratorBuilt = true

	return &Orchestrator{
		cfg:       cfg,
		transport: transport,
		store:     store,
		cache:     cache,
		fetcher:   fetcher,
		generator: generator,
		logger:    logger,
		status:    models.StatusNeverConnected,
	}, nil
}

// Run 注册入站回调并运行三个后台循环，直到 ctx 取消。
func (o *Orchestrator) Run(ctx context.Context) {
	o.transport.SetTelemetryCallback(o.handleTelemetry)
	o.transport.SetWeatherRequestCallback(o.handleWeatherRequest)
	o.logger.Info("Device message handlers registered", zap.String("device_id", o.cfg.Device.DeviceID))

	var wg sync.WaitGroup
	wg.Add(3)
	go func() {
		defer wg.Done()
		o.runWeatherLoop(ctx)
	}()
	go func() {
		defer wg.Done()
		o.runHeartbeatLoop(ctx)
	}()
	go func() {
		defer wg.Done()
		o.runTimeSyncLoop(ctx)
	}()
	wg.Wait()

	o.logger.Info("Orchestrator stopped")
}

// ========== 状态机 ==========

// recomputeStatusLocked 按距上次活动的间隔重算状态（需持有 mu），转换会记日志
func (o *Orchestrator) recomputeStatusLocked() models.DeviceStatus {
	var newStatus models.DeviceStatus
	if o.lastActivityAt == nil {
		newStatus = models.StatusNeverConnected
	} else {
		since := time.Since(*o.lastActivityAt)
		switch {
		case since < onlineThreshold:
			newStatus = models.StatusOnline
		case since < deadThreshold:
			newStatus = models.StatusOffline
		default:
			newStatus = models.StatusDead
		}
	}

	if newStatus != o.status {
		o.logger.Info("Device status changed",
			zap.String("device_id", o.cfg.Device.DeviceID),
			zap.String("from", string(o.status)),
			zap.String("to", string(newStatus)),
		)
		o.status = newStatus
	}
	return o.status
}

// recordActivity 入站消息的统一活动记录点（任何消息都证明设备存活）
func (o *Orchestrator) recordActivity(activity string) {
	o.mu.Lock()
	defer o.mu.Unlock()
	now := time.Now()
	o.lastActivityAt = &now
	o.recomputeStatusLocked()
	o.logger.Debug("Device activity",
		zap.String("device_id", o.cfg.Device.DeviceID),
		zap.String("activity", activity),
		zap.String("status", string(o.status)),
	)
}

// Status 当前设备状态（重算后返回）
func (o *Orchestrator) Status() models.DeviceStatus {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.recomputeStatusLocked()
}

// CanSendToDevice 仅在线时允许向设备下发命令
func (o *Orchestrator) CanSendToDevice() bool {
	return o.Status() == models.StatusOnline
}

// ========== 入站处理 ==========

// handleTelemetry 遥测处理：缓存最新样本，每 N 条落一条库（用当前墙钟时间）
func (o *Orchestrator) handleTelemetry(deviceID string, sample models.TelemetrySample) {
	o.recordActivity("telemetry")

	o.mu.Lock()
	o.currentTelemetry = &sample
	o.telemetryCounter++
	persist := o.telemetryCounter >= o.cfg.Device.TelemetryPersistEvery
	if persist {
		o.telemetryCounter = 0
	}
	o.mu.Unlock()

	if !persist {
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := o.store.SaveESPReading(ctx, sample.Temperature, sample.Humidity, o.cfg.Device.DeviceID, time.Now()); err != nil {
		o.logger.Error("Failed to persist telemetry",
			zap.String("device_id", deviceID),
			zap.Error(err),
		)
	}
}

// handleWeatherRequest 设备主动要天气：直接回推缓存快照，不触发拉取
func (o *Orchestrator) handleWeatherRequest(deviceID string) {
	o.recordActivity("weather_request")
	o.logger.Info("Device requested weather", zap.String("device_id", deviceID))

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	o.pushWeatherFromCache(ctx)
}

// CurrentTelemetry 最新遥测样本（未收到过返回 nil）
func (o *Orchestrator) CurrentTelemetry() *models.TelemetrySample {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.currentTelemetry
}

// CachedWeather 当前缓存的天气快照
func (o *Orchestrator) CachedWeather(ctx context.Context) *models.WeatherSnapshot {
	return o.cache.GetSnapshot(ctx)
}

// ========== 请求/应答交换 ==========

// FetchSettings 向设备请求当前配置（有界等待）。
// 设备不可达、超时或应答无效都返回 nil 而不是错误。
func (o *Orchestrator) FetchSettings(ctx context.Context) *models.DeviceSettings {
	o.settingsFetchMu.Lock()
	defer o.settingsFetchMu.Unlock()

	if !o.CanSendToDevice() {
		o.logger.Warn("Skipping settings fetch, device not online",
			zap.String("status", string(o.Status())),
		)
		return nil
	}

	ch := make(chan models.DeviceSettings, 1)
	o.mu.Lock()
	o.pendingSettings = ch
	o.mu.Unlock()

	// 应答回调先于请求注册，回调移除无条件执行
	o.transport.SetSettingsCallback(o.resolveSettings)
	defer func() {
		o.transport.RemoveSettingsCallback()
		o.mu.Lock()
		o.pendingSettings = nil
		o.mu.Unlock()
	}()

	if !o.transport.RequestSettings(o.cfg.Device.DeviceID) {
		o.logger.Warn("Settings request publish failed")
		return nil
	}

	select {
	case settings := <-ch:
		o.logger.Info("Settings received", zap.String("device_id", o.cfg.Device.DeviceID))
		return &settings
	case <-time.After(o.cfg.Device.SettingsTimeout):
		o.logger.Warn("Settings fetch timed out",
			zap.String("device_id", o.cfg.Device.DeviceID),
			zap.Duration("timeout", o.cfg.Device.SettingsTimeout),
		)
		return nil
	case <-ctx.Done():
		return nil
	}
}

// resolveSettings 结算在途的设置拉取；迟到或跨设备的应答记日志后丢弃
func (o *Orchestrator) resolveSettings(deviceID string, settings models.DeviceSettings) {
	if deviceID != o.cfg.Device.DeviceID {
		o.logger.Warn("Settings response from unexpected device", zap.String("device_id", deviceID))
		return
	}
	o.recordActivity("config_response")

	o.mu.Lock()
	ch := o.pendingSettings
	o.pendingSettings = nil
	o.mu.Unlock()

	if ch == nil {
		o.logger.Warn("Late settings response discarded", zap.String("device_id", deviceID))
		return
	}
	ch <- settings
}

// PushSettings 下发配置到设备；不可达时无操作返回 false
func (o *Orchestrator) PushSettings(settings models.DeviceSettings) bool {
	if !o.CanSendToDevice() {
		o.logger.Warn("Skipping settings push, device not online",
			zap.String("status", string(o.Status())),
		)
		return false
	}
	return o.transport.SendSettings(o.cfg.Device.DeviceID, settings)
}

// ========== 后台循环 ==========

// runWeatherLoop 天气刷新循环。缓存失效且预算未耗尽时拉取上游，
// 无论是否刷新都把当前缓存推给设备并写一条天气行。
func (o *Orchestrator) runWeatherLoop(ctx context.Context) {
	ticker := time.NewTicker(o.cfg.Device.WeatherInterval)
	defer ticker.Stop()

	for {
		o.weatherTick(ctx)

		select {
		case <-ctx.Done():
			o.logger.Info("Weather loop cancelled")
			return
		case <-ticker.C:
		}
	}
}

func (o *Orchestrator) weatherTick(ctx context.Context) {
	cached := o.cache.GetSnapshot(ctx)
	calls := o.cache.CallsToday(ctx)

	updateNeeded := false
	switch {
	case cached == nil:
		updateNeeded = true
		o.logger.Info("No cached weather, refreshing")
	case cached.ExpiresAt.Before(time.Now()):
		updateNeeded = true
		o.logger.Info("Cached weather expired, refreshing")
	}

	if updateNeeded && calls >= o.weatherBudget() {
		o.logger.Warn("Daily weather API budget reached, reusing cache",
			zap.Int("calls_today", calls),
		)
		updateNeeded = false
	}

	if updateNeeded {
		snap, err := o.fetcher.Fetch(ctx)
		if err != nil {
			o.logger.Error("Weather fetch failed", zap.Error(err))
		} else {
			snap.APICallsToday = calls + 1
			if err := o.cache.SaveSnapshot(ctx, snap); err != nil {
				o.logger.Error("Failed to cache weather snapshot", zap.Error(err))
			} else {
				o.logger.Info("Weather snapshot refreshed", zap.Int("temp", snap.CurrentTemp))
			}
		}
	}

	// 无论刷新与否都推送缓存并落一条天气行
	o.pushWeatherFromCache(ctx)

	if cached = o.cache.GetSnapshot(ctx); cached != nil {
		if err := o.store.SaveWeatherReading(ctx, float64(cached.CurrentTemp), float64(cached.Humidity), time.Now()); err != nil {
			o.logger.Error("Failed to persist weather reading", zap.Error(err))
		}
	}
}

func (o *Orchestrator) weatherBudget() int {
	return o.cfg.Weather.DailyBudget
}

// pushWeatherFromCache 把缓存快照推给设备；设备不可达或缓存为空时跳过
func (o *Orchestrator) pushWeatherFromCache(ctx context.Context) {
	if !o.CanSendToDevice() {
		o.logger.Warn("Skipping weather push, device not online",
			zap.String("status", string(o.Status())),
		)
		return
	}

	snap := o.cache.GetSnapshot(ctx)
	if snap == nil {
		o.logger.Debug("No cached weather to push")
		return
	}
	o.transport.SendWeather(o.cfg.Device.DeviceID, models.BoardWeatherFromSnapshot(snap))
}

// runHeartbeatLoop 状态检查循环：重算状态，失联且有过遥测时报警，
// 重新上线时记一条恢复日志。
func (o *Orchestrator) runHeartbeatLoop(ctx context.Context) {
	o.logger.Info("Device monitoring started", zap.String("device_id", o.cfg.Device.DeviceID))
	ticker := time.NewTicker(o.cfg.Device.HeartbeatInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			o.logger.Info("Heartbeat loop cancelled")
			return
		case <-ticker.C:
			o.heartbeatTick()
		}
	}
}

func (o *Orchestrator) heartbeatTick() {
	o.mu.Lock()
	oldStatus := o.status
	newStatus := o.recomputeStatusLocked()
	telemetry := o.currentTelemetry
	o.mu.Unlock()

	if newStatus == models.StatusDead && telemetry != nil {
		minutes := int(time.Since(telemetry.Timestamp).Minutes())
		o.logger.Error("Device is dead",
			zap.String("device_id", o.cfg.Device.DeviceID),
			zap.Int("minutes_since_sample", minutes),
		)
	} else if newStatus == models.StatusOnline && oldStatus != models.StatusOnline {
		o.logger.Info("Device back online", zap.String("device_id", o.cfg.Device.DeviceID))
	}
}

// runTimeSyncLoop 时间同步循环：短暂延迟后每个周期检查一次；最近 N 天内
// 同步过或设备不可达则跳过；下发时间并在有界窗口内等待设备确认。
func (o *Orchestrator) runTimeSyncLoop(ctx context.Context) {
	select {
	case <-ctx.Done():
		return
	case <-time.After(o.cfg.Device.TimeSyncDelay):
	}

	ticker := time.NewTicker(o.cfg.Device.TimeSyncInterval)
	defer ticker.Stop()

	for {
		o.timeSyncTick(ctx)

		select {
		case <-ctx.Done():
			o.logger.Info("Time sync loop cancelled")
			return
		case <-ticker.C:
		}
	}
}

func (o *Orchestrator) timeSyncTick(ctx context.Context) {
	o.logger.Info("Checking time sync", zap.String("device_id", o.cfg.Device.DeviceID))

	if !o.CanSendToDevice() {
		o.logger.Warn("Skipping time sync, device not online",
			zap.String("status", string(o.Status())),
		)
		return
	}

	if !o.cache.ShouldSyncTime(ctx, o.cfg.Device.DeviceID, o.cfg.Device.TimeSyncDays) {
		o.logger.Info("Time sync not required", zap.String("device_id", o.cfg.Device.DeviceID))
		return
	}

	ch := make(chan struct{}, 1)
	o.mu.Lock()
	o.pendingTimeAck = ch
	o.mu.Unlock()

	o.transport.SetTimeReadyCallback(o.resolveTimeAck)
	defer func() {
		o.transport.RemoveTimeReadyCallback()
		o.mu.Lock()
		o.pendingTimeAck = nil
		o.mu.Unlock()
	}()

	now := time.Now()
	o.logger.Info("Sending time to device",
		zap.String("device_id", o.cfg.Device.DeviceID),
		zap.Time("time", now),
	)
	if !o.transport.SendTime(o.cfg.Device.DeviceID, models.TimePayloadFromTime(now)) {
		o.logger.Warn("Time publish failed", zap.String("device_id", o.cfg.Device.DeviceID))
		return
	}

	select {
	case <-ch:
		o.logger.Info("Time sync completed", zap.String("device_id", o.cfg.Device.DeviceID))
	case <-time.After(o.cfg.Device.TimeSyncAckTimeout):
		// 不做补偿，下个周期重试
		o.logger.Warn("Device did not acknowledge time sync",
			zap.String("device_id", o.cfg.Device.DeviceID),
			zap.Duration("timeout", o.cfg.Device.TimeSyncAckTimeout),
		)
	case <-ctx.Done():
	}
}

// resolveTimeAck 结算在途的时间同步；确认到达即在缓存里记同步时刻
func (o *Orchestrator) resolveTimeAck(deviceID string) {
	if deviceID != o.cfg.Device.DeviceID {
		o.logger.Warn("Time ack from unexpected device", zap.String("device_id", deviceID))
		return
	}
	o.recordActivity("time_sync_response")
	o.logger.Info("Device confirmed time sync", zap.String("device_id", deviceID))

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	o.cache.MarkSyncCompleted(ctx, deviceID)

	o.mu.Lock()
	ch := o.pendingTimeAck
	o.pendingTimeAck = nil
	o.mu.Unlock()

	if ch == nil {
		o.logger.Warn("Late time ack discarded", zap.String("device_id", deviceID))
		return
	}
	ch <- struct{}{}
}

// ========== 报告 ==========

// DailyReport 昨日数据的自然语言报告；无统计数据返回 ("", nil)
func (o *Orchestrator) DailyReport(ctx context.Context) (string, error) {
	now := time.Now()

	stats, err := o.store.YesterdayStats(ctx, now, o.cfg.Device.DeviceID)
	if err != nil {
		return "", err
	}
	if stats == nil {
		o.logger.Warn("No stats for yesterday, skipping report")
		return "", nil
	}

	records, err := o.store.YesterdayRecords(ctx, now, o.cfg.Device.DeviceID, 50)
	if err != nil {
		return "", err
	}

	prompt := buildDailyPrompt(stats, records)
	o.logger.Info("Requesting daily report", zap.String("date", stats.Date))
	return o.generator.Complete(ctx, reportSystemPrompt, prompt)
}

// WeeklyReport 最近 7 个完整日历日的自然语言报告；无统计数据返回 ("", nil)
func (o *Orchestrator) WeeklyReport(ctx context.Context) (string, error) {
	now := time.Now()

	week, err := o.store.WeekStats(ctx, now, o.cfg.Device.DeviceID)
	if err != nil {
		return "", err
	}
	if week == nil {
		o.logger.Warn("No stats for the last week, skipping report")
		return "", nil
	}

	records, err := o.store.WeekRecords(ctx, now, o.cfg.Device.DeviceID, 100)
	if err != nil {
		return "", err
	}

	prompt := buildWeeklyPrompt(week, records)
	o.logger.Info("Requesting weekly report",
		zap.String("period_start", week.PeriodStart),
		zap.String("period_end", week.PeriodEnd),
	)
	return o.generator.Complete(ctx, reportSystemPrompt, prompt)
}
