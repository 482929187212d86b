package service

import (
	"context"
	"sync"
	"testing"
	"time"

	"esp-gateway/internal/config"
	"esp-gateway/internal/models"
	"esp-gateway/internal/mqtt"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

// ========== 测试替身 ==========

type fakeTransport struct {
	mu          sync.Mutex
	telemetryCB mqtt.TelemetryCallback
	settingsCB  mqtt.SettingsCallback
	weatherCB   mqtt.EventCallback
	timeReadyCB mqtt.EventCallback

	weatherSent      []models.BoardWeather
	settingsSent     []models.DeviceSettings
	settingsRequests int
	timeSent         []models.TimePayload

	publishOK         bool
	onRequestSettings func(cb mqtt.SettingsCallback)
	onSendTime        func(cb mqtt.EventCallback)
}

func newFakeTransport() *fakeTransport {
	return &fakeTransport{publishOK: true}
}

func (f *fakeTransport) SetTelemetryCallback(cb mqtt.TelemetryCallback) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.telemetryCB = cb
}

func (f *fakeTransport) SetSettingsCallback(cb mqtt.SettingsCallback) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.settingsCB = cb
}

func (f *fakeTransport) RemoveSettingsCallback() {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.settingsCB = nil
}

func (f *fakeTransport) SetWeatherRequestCallback(cb mqtt.EventCallback) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.weatherCB = cb
}

func (f *fakeTransport) SetTimeReadyCallback(cb mqtt.EventCallback) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.timeReadyCB = cb
}

func (f *fakeTransport) RemoveTimeReadyCallback() {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.timeReadyCB = nil
}

func (f *fakeTransport) SendWeather(deviceID string, w models.BoardWeather) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	if !f.publishOK {
		return false
	}
	f.weatherSent = append(f.weatherSent, w)
	return true
}

func (f *fakeTransport) SendSettings(deviceID string, s models.DeviceSettings) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	if !f.publishOK {
		return false
	}
	f.settingsSent = append(f.settingsSent, s)
	return true
}

func (f *fakeTransport) RequestSettings(deviceID string) bool {
	f.mu.Lock()
	f.settingsRequests++
	cb := f.settingsCB
	hook := f.onRequestSettings
	ok := f.publishOK
	f.mu.Unlock()
	if !ok {
		return false
	}
	if hook != nil {
		hook(cb)
	}
	return true
}

func (f *fakeTransport) SendTime(deviceID string, t models.TimePayload) bool {
	f.mu.Lock()
	f.timeSent = append(f.timeSent, t)
	cb := f.timeReadyCB
	hook := f.onSendTime
	ok := f.publishOK
	f.mu.Unlock()
	if !ok {
		return false
	}
	if hook != nil {
		hook(cb)
	}
	return true
}

func (f *fakeTransport) totalPublishes() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.weatherSent) + len(f.settingsSent) + len(f.timeSent) + f.settingsRequests
}

type fakeStore struct {
	mu           sync.Mutex
	espReadings  []float64
	weatherSaves int
	yesterday    *models.DayStats
	week         *models.WeekStats
	records      []models.TelemetryRecord
}

func (f *fakeStore) SaveESPReading(_ context.Context, temp, _ float64, _ string, _ time.Time) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.espReadings = append(f.espReadings, temp)
	return nil
}

func (f *fakeStore) SaveWeatherReading(_ context.Context, _, _ float64, _ time.Time) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.weatherSaves++
	return nil
}

func (f *fakeStore) History(context.Context, time.Time, int, string, int) ([]models.TelemetryRecord, error) {
	return f.records, nil
}

func (f *fakeStore) Stats(context.Context, int, string) (*models.StatsResponse, error) {
	return &models.StatsResponse{}, nil
}

func (f *fakeStore) YesterdayStats(context.Context, time.Time, string) (*models.DayStats, error) {
	return f.yesterday, nil
}

func (f *fakeStore) YesterdayRecords(context.Context, time.Time, string, int) ([]models.TelemetryRecord, error) {
	return f.records, nil
}

func (f *fakeStore) WeekStats(context.Context, time.Time, string) (*models.WeekStats, error) {
	return f.week, nil
}

func (f *fakeStore) WeekRecords(context.Context, time.Time, string, int) ([]models.TelemetryRecord, error) {
	return f.records, nil
}

func (f *fakeStore) CleanupOldData(context.Context, int) (int64, error) {
	return 0, nil
}

func (f *fakeStore) espCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.espReadings)
}

type fakeCache struct {
	mu         sync.Mutex
	snapshot   *models.WeatherSnapshot
	calls      int
	needSync   bool
	syncMarked int
}

func (f *fakeCache) GetSnapshot(context.Context) *models.WeatherSnapshot {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.snapshot
}

func (f *fakeCache) SaveSnapshot(_ context.Context, snap *models.WeatherSnapshot) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.snapshot = snap
	f.calls++
	return nil
}

func (f *fakeCache) CallsToday(context.Context) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls
}

func (f *fakeCache) ShouldSyncTime(context.Context, string, int) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.needSync
}

func (f *fakeCache) MarkSyncCompleted(context.Context, string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.syncMarked++
}

type fakeFetcher struct {
	mu      sync.Mutex
	fetched int
	snap    *models.WeatherSnapshot
	err     error
}

func (f *fakeFetcher) Fetch(context.Context) (*models.WeatherSnapshot, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.fetched++
	if f.err != nil {
		return nil, f.err
	}
	snap := *f.snap
	return &snap, nil
}

func (f *fakeFetcher) count() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.fetched
}

type fakeGenerator struct {
	prompt string
	text   string
}

func (f *fakeGenerator) Complete(_ context.Context, _, userPrompt string) (string, error) {
	f.prompt = userPrompt
	return f.text, nil
}

// ========== 构造辅助 ==========

func testConfig() *config.Config {
	cfg := &config.Config{}
	cfg.Device.DeviceID = "greenhouse_01"
	cfg.Device.WeatherInterval = time.Hour
	cfg.Device.HeartbeatInterval = time.Minute
	cfg.Device.TimeSyncInterval = time.Hour
	cfg.Device.TimeSyncDelay = time.Millisecond
	cfg.Device.TimeSyncDays = 2
	cfg.Device.SettingsTimeout = 50 * time.Millisecond
	cfg.Device.TimeSyncAckTimeout = time.Second
	cfg.Device.TelemetryPersistEvery = 5
	cfg.Device.RetentionDays = 30
	cfg.Weather.DailyBudget = 28
	return cfg
}

type fixture struct {
	orch      *Orchestrator
	transport *fakeTransport
	store     *fakeStore
	cache     *fakeCache
	fetcher   *fakeFetcher
	generator *fakeGenerator
}

func newFixture(t *testing.T, cfg *config.Config) *fixture {
	t.Helper()

	orchestratorMu.Lock()
	orchestratorBuilt = false
	orchestratorMu.Unlock()

	f := &fixture{
		transport: newFakeTransport(),
		store:     &fakeStore{},
		cache:     &fakeCache{},
		fetcher:   &fakeFetcher{snap: &models.WeatherSnapshot{CurrentTemp: 5, Humidity: 70}},
		generator: &fakeGenerator{text: "отчёт"},
	}

	orch, err := NewOrchestrator(cfg, f.transport, f.store, f.cache, f.fetcher, f.generator, zap.NewNop())
	require.NoError(t, err)
	f.orch = orch
	return f
}

// markActive 把最后活动时间设置到 ago 之前
func (f *fixture) markActive(ago time.Duration) {
	past := time.Now().Add(-ago)
	f.orch.mu.Lock()
	f.orch.lastActivityAt = &past
	f.orch.mu.Unlock()
}

// ========== 测试 ==========

func TestOrchestratorSingleton(t *testing.T) {
	f := newFixture(t, testConfig())
	require.NotNil(t, f.orch)

	_, err := NewOrchestrator(testConfig(), f.transport, f.store, f.cache, f.fetcher, f.generator, zap.NewNop())
	assert.ErrorIs(t, err, ErrOrchestratorExists)
}

func TestStatusBoundaries(t *testing.T) {
	cases := []struct {
		name string
		ago  time.Duration
		want models.DeviceStatus
	}{
		{"just under online threshold", 119900 * time.Millisecond, models.StatusOnline},
		{"exactly at online threshold", 120 * time.Second, models.StatusOffline},
		{"just under dead threshold", 299900 * time.Millisecond, models.StatusOffline},
		{"exactly at dead threshold", 300 * time.Second, models.StatusDead},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			f := newFixture(t, testConfig())
			f.markActive(tc.ago)
			assert.Equal(t, tc.want, f.orch.Status())
		})
	}
}

func TestStatusNeverConnected(t *testing.T) {
	f := newFixture(t, testConfig())
	assert.Equal(t, models.StatusNeverConnected, f.orch.Status())

	// 心跳不会把从未连接的设备推进到其它状态
	for i := 0; i < 3; i++ {
		f.orch.heartbeatTick()
	}
	assert.Equal(t, models.StatusNeverConnected, f.orch.Status())
	assert.False(t, f.orch.CanSendToDevice())
}

func TestOutboundGatedWhenNotOnline(t *testing.T) {
	f := newFixture(t, testConfig())
	f.markActive(10 * time.Minute) // dead
	f.cache.snapshot = &models.WeatherSnapshot{CurrentTemp: 3, ExpiresAt: time.Now().Add(time.Hour)}

	assert.False(t, f.orch.CanSendToDevice())
	assert.False(t, f.orch.PushSettings(models.DeviceSettings{}))
	assert.Nil(t, f.orch.FetchSettings(context.Background()))
	f.orch.pushWeatherFromCache(context.Background())
	f.orch.timeSyncTick(context.Background())

	assert.Equal(t, 0, f.transport.totalPublishes())
}

func TestTelemetryPersistEveryFifth(t *testing.T) {
	f := newFixture(t, testConfig())

	sample := models.TelemetrySample{DeviceID: "greenhouse_01", Temperature: 21.5, Humidity: 55, Timestamp: time.Now()}
	for i := 0; i < 4; i++ {
		f.orch.handleTelemetry("greenhouse_01", sample)
	}
	assert.Equal(t, 0, f.store.espCount(), "first four samples stay in memory")

	f.orch.handleTelemetry("greenhouse_01", sample)
	assert.Equal(t, 1, f.store.espCount(), "fifth sample is persisted")

	for i := 0; i < 5; i++ {
		f.orch.handleTelemetry("greenhouse_01", sample)
	}
	assert.Equal(t, 2, f.store.espCount(), "counter wraps")

	require.NotNil(t, f.orch.CurrentTelemetry())
	assert.Equal(t, 21.5, f.orch.CurrentTelemetry().Temperature)
	assert.Equal(t, models.StatusOnline, f.orch.Status())
}

func TestFetchSettingsTimeout(t *testing.T) {
	f := newFixture(t, testConfig())
	f.markActive(time.Second)

	// 设备不应答
	start := time.Now()
	settings := f.orch.FetchSettings(context.Background())
	assert.Nil(t, settings)
	assert.GreaterOrEqual(t, time.Since(start), 50*time.Millisecond)

	// 回调已被无条件移除，迟到的应答只会被丢弃
	f.transport.mu.Lock()
	assert.Nil(t, f.transport.settingsCB)
	f.transport.mu.Unlock()
	f.orch.resolveSettings("greenhouse_01", models.DeviceSettings{DisplayMode: 1})
}

func TestFetchSettingsResolved(t *testing.T) {
	f := newFixture(t, testConfig())
	f.markActive(time.Second)

	want := models.DeviceSettings{DisplayMode: 2, DayOnHour: 8}
	f.transport.onRequestSettings = func(cb mqtt.SettingsCallback) {
		cb("greenhouse_01", want)
	}

	got := f.orch.FetchSettings(context.Background())
	require.NotNil(t, got)
	assert.Equal(t, want, *got)
	assert.Equal(t, 1, f.transport.settingsRequests)
}

func TestFetchSettingsIgnoresOtherDevice(t *testing.T) {
	f := newFixture(t, testConfig())
	f.markActive(time.Second)

	f.transport.onRequestSettings = func(cb mqtt.SettingsCallback) {
		cb("other_device", models.DeviceSettings{DisplayMode: 2})
	}

	assert.Nil(t, f.orch.FetchSettings(context.Background()))
}

func TestWeatherTickBudgetExhausted(t *testing.T) {
	f := newFixture(t, testConfig())
	f.cache.calls = 28 // 预算耗尽，缓存为空也不拉取

	f.orch.weatherTick(context.Background())

	assert.Equal(t, 0, f.fetcher.count())
	assert.Equal(t, 0, f.store.weatherSaves) // 没有缓存可落库
}

func TestWeatherTickRefreshesExpiredCache(t *testing.T) {
	f := newFixture(t, testConfig())
	f.cache.calls = 27
	f.cache.snapshot = &models.WeatherSnapshot{
		CurrentTemp: -2,
		ExpiresAt:   time.Now().Add(-time.Minute),
	}

	f.orch.weatherTick(context.Background())

	assert.Equal(t, 1, f.fetcher.count())
	assert.Equal(t, 1, f.store.weatherSaves)
}

func TestWeatherTickFreshCacheSkipsFetch(t *testing.T) {
	f := newFixture(t, testConfig())
	f.markActive(time.Second) // online，应推送
	f.cache.snapshot = &models.WeatherSnapshot{
		CurrentTemp: 4,
		Humidity:    60,
		ExpiresAt:   time.Now().Add(time.Hour),
	}

	f.orch.weatherTick(context.Background())

	assert.Equal(t, 0, f.fetcher.count())
	assert.Len(t, f.transport.weatherSent, 1, "cached snapshot is still pushed")
	assert.Equal(t, 1, f.store.weatherSaves)
}

func TestWeatherRequestRepushesCache(t *testing.T) {
	f := newFixture(t, testConfig())
	f.cache.snapshot = &models.WeatherSnapshot{CurrentTemp: 7, ExpiresAt: time.Now().Add(time.Hour)}

	f.orch.handleWeatherRequest("greenhouse_01")

	// 请求本身就是活动，设备随之在线
	assert.Equal(t, models.StatusOnline, f.orch.Status())
	assert.Len(t, f.transport.weatherSent, 1)
	assert.Equal(t, 0, f.fetcher.count(), "no forced fetch")
}

func TestTimeSyncCompleted(t *testing.T) {
	f := newFixture(t, testConfig())
	f.markActive(time.Second)
	f.cache.needSync = true

	f.transport.onSendTime = func(cb mqtt.EventCallback) {
		cb("greenhouse_01")
	}

	f.orch.timeSyncTick(context.Background())

	assert.Len(t, f.transport.timeSent, 1)
	assert.Equal(t, 1, f.cache.syncMarked)
}

func TestTimeSyncSkippedWhenRecent(t *testing.T) {
	f := newFixture(t, testConfig())
	f.markActive(time.Second)
	f.cache.needSync = false

	f.orch.timeSyncTick(context.Background())

	assert.Empty(t, f.transport.timeSent)
}

func TestTimeSyncAckTimeout(t *testing.T) {
	cfg := testConfig()
	cfg.Device.TimeSyncAckTimeout = 50 * time.Millisecond
	f := newFixture(t, cfg)
	f.markActive(time.Second)
	f.cache.needSync = true

	f.orch.timeSyncTick(context.Background())

	assert.Len(t, f.transport.timeSent, 1)
	assert.Equal(t, 0, f.cache.syncMarked)
	// 迟到的确认只记日志
	f.orch.resolveTimeAck("greenhouse_01")
	assert.Equal(t, 1, f.cache.syncMarked, "late ack still marks the sync in cache")
}

func TestDailyReportNoStats(t *testing.T) {
	f := newFixture(t, testConfig())

	text, err := f.orch.DailyReport(context.Background())
	require.NoError(t, err)
	assert.Empty(t, text)
	assert.Empty(t, f.generator.prompt, "generator not invoked without stats")
}

func TestDailyReportBuildsPrompt(t *testing.T) {
	f := newFixture(t, testConfig())
	avg := 21.3
	f.store.yesterday = &models.DayStats{
		Date:         "2026-08-31",
		TempIn:       models.MetricStats{Avg: &avg},
		TotalRecords: 42,
	}

	text, err := f.orch.DailyReport(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "отчёт", text)
	assert.Contains(t, f.generator.prompt, "2026-08-31")
	assert.Contains(t, f.generator.prompt, "21.3")
}

func TestWeeklyReportNoStats(t *testing.T) {
	f := newFixture(t, testConfig())

	text, err := f.orch.WeeklyReport(context.Background())
	require.NoError(t, err)
	assert.Empty(t, text)
}

func TestRunStopsOnCancel(t *testing.T) {
	f := newFixture(t, testConfig())

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		f.orch.Run(ctx)
		close(done)
	}()

	time.Sleep(20 * time.Millisecond)
	cancel()

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("orchestrator did not stop after cancellation")
	}
}
