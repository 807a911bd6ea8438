// internal/utils/metrics.go
package utils

import (
	"context"
	"strconv"
	"sync"
	"sync/atomic"
	"time"
)

// MetricsCollector 进程内计数器、仪表与直方图
type MetricsCollector struct {
	counters   map[string]*Counter
	gauges     map[string]*Gauge
	histograms map[string]*Histogram

	mu sync.RWMutex
}

// Counter 单调递增计数
type Counter struct {
	name  string
	value int64
}

// Gauge 可增可减的当前值
type Gauge struct {
	name  string
	value int64
}

// Histogram 记录 count/sum/min/max
type Histogram struct {
	name  string
	count int64
	sum   int64
	min   int64
	max   int64
	mu    sync.Mutex
}

// MetricsSnapshot /api/metrics 返回的快照
type MetricsSnapshot struct {
	Counters   map[string]int64            `json:"counters"`
	Gauges     map[string]int64            `json:"gauges"`
	Histograms map[string]map[string]int64 `json:"histograms"`
	Timestamp  time.Time                   `json:"timestamp"`
}

var (
	globalMetrics *MetricsCollector
	metricsOnce   sync.Once
)

// GetMetricsCollector 全局指标实例
func GetMetricsCollector() *MetricsCollector {
	metricsOnce.Do(func() {
		globalMetrics = NewMetricsCollector()
	})
	return globalMetrics
}

// NewMetricsCollector 独立实例，测试中使用
func NewMetricsCollector() *MetricsCollector {
	return &MetricsCollector{
		counters:   make(map[string]*Counter),
		gauges:     make(map[string]*Gauge),
		histograms: make(map[string]*Histogram),
	}
}

func (m *MetricsCollector) counter(name string) *Counter {
	m.mu.RLock()
	c, exists := m.counters[name]
	m.mu.RUnlock()
	if exists {
		return c
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	if c, exists = m.counters[name]; !exists {
		c = &Counter{name: name}
		m.counters[name] = c
	}
	return c
}

func (m *MetricsCollector) gauge(name string) *Gauge {
	m.mu.RLock()
	g, exists := m.gauges[name]
	m.mu.RUnlock()
	if exists {
		return g
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	if g, exists = m.gauges[name]; !exists {
		g = &Gauge{name: name}
		m.gauges[name] = g
	}
	return g
}

// IncrementCounter 计数 +1
func (m *MetricsCollector) IncrementCounter(name string) {
	atomic.AddInt64(&m.counter(name).value, 1)
}

// AddCounter 计数 +value
func (m *MetricsCollector) AddCounter(name string, value int64) {
	atomic.AddInt64(&m.counter(name).value, value)
}

// GetCounterValue 当前计数
func (m *MetricsCollector) GetCounterValue(name string) int64 {
	m.mu.RLock()
	c, exists := m.counters[name]
	m.mu.RUnlock()
	if !exists {
		return 0
	}
	return atomic.LoadInt64(&c.value)
}

// SetGauge 设置仪表值
func (m *MetricsCollector) SetGauge(name string, value int64) {
	atomic.StoreInt64(&m.gauge(name).value, value)
}

// IncGauge 仪表 +1
func (m *MetricsCollector) IncGauge(name string) {
	atomic.AddInt64(&m.gauge(name).value, 1)
}

// DecGauge 仪表 -1
func (m *MetricsCollector) DecGauge(name string) {
	atomic.AddInt64(&m.gauge(name).value, -1)
}

// RecordHistogram 记录一次观测值
func (m *MetricsCollector) RecordHistogram(name string, value int64) {
	m.mu.RLock()
	h, exists := m.histograms[name]
	m.mu.RUnlock()

	if !exists {
		m.mu.Lock()
		if h, exists = m.histograms[name]; !exists {
			h = &Histogram{name: name, min: value, max: value}
			m.histograms[name] = h
		}
		m.mu.Unlock()
	}

	h.mu.Lock()
	defer h.mu.Unlock()

	h.count++
	h.sum += value
	if value < h.min {
		h.min = value
	}
	if value > h.max {
		h.max = value
	}
}

// RecordDuration 以毫秒记录耗时
func (m *MetricsCollector) RecordDuration(name string, d time.Duration) {
	m.RecordHistogram(name, d.Milliseconds())
}

// Snapshot 所有指标的一致快照
func (m *MetricsCollector) Snapshot() MetricsSnapshot {
	m.mu.RLock()
	defer m.mu.RUnlock()

	snap := MetricsSnapshot{
		Counters:   make(map[string]int64, len(m.counters)),
		Gauges:     make(map[string]int64, len(m.gauges)),
		Histograms: make(map[string]map[string]int64, len(m.histograms)),
		Timestamp:  time.Now(),
	}
	for name, c := range m.counters {
		snap.Counters[name] = atomic.LoadInt64(&c.value)
	}
	for name, g := range m.gauges {
		snap.Gauges[name] = atomic.LoadInt64(&g.value)
	}
	for name, h := range m.histograms {
		h.mu.Lock()
		snap.Histograms[name] = map[string]int64{
			"count": h.count,
			"sum":   h.sum,
			"min":   h.min,
			"max":   h.max,
		}
		h.mu.Unlock()
	}
	return snap
}

// APIMetrics 业务层面的指标记录
type APIMetrics struct {
	metrics *MetricsCollector
	logger  *Logger
}

// NewAPIMetrics 使用全局收集器
func NewAPIMetrics() *APIMetrics {
	return &APIMetrics{
		metrics: GetMetricsCollector(),
		logger:  GetLogger(),
	}
}

// NewAPIMetricsWith 使用指定收集器
func NewAPIMetricsWith(m *MetricsCollector) *APIMetrics {
	return &APIMetrics{metrics: m, logger: GetLogger()}
}

// Collector 底层收集器
func (am *APIMetrics) Collector() *MetricsCollector {
	return am.metrics
}

// RecordAPIRequest 记录一次 HTTP 请求
func (am *APIMetrics) RecordAPIRequest(route, method string, statusCode int, duration time.Duration) {
	am.metrics.IncrementCounter("api_requests_total")
	am.metrics.IncrementCounter("api_requests_" + method + "_" + route)
	am.metrics.IncrementCounter("api_responses_" + strconv.Itoa(statusCode/100) + "xx")
	am.metrics.RecordDuration("api_response_time_ms", duration)
}

// RecordLLMRequest 记录一次模型调用
func (am *APIMetrics) RecordLLMRequest(engine, model string, ok bool, duration time.Duration) {
	am.metrics.IncrementCounter("llm_requests_total")
	am.metrics.IncrementCounter("llm_requests_" + engine)
	if !ok {
		am.metrics.IncrementCounter("llm_failures_" + engine)
	}
	am.metrics.RecordDuration("llm_response_time_ms", duration)

	am.logger.Debug("模型调用完成", map[string]interface{}{
		"engine":   engine,
		"model":    model,
		"ok":       ok,
		"duration": duration.Milliseconds(),
	})
}

// RecordEntryMutation 记录条目写操作（create/update/delete/alignment）
func (am *APIMetrics) RecordEntryMutation(action string) {
	am.metrics.IncrementCounter("entry_mutations_total")
	am.metrics.IncrementCounter("entry_" + action)
}

// RecordError 按类型与组件记录错误
func (am *APIMetrics) RecordError(errorType, component string) {
	am.metrics.IncrementCounter("errors_total")
	am.metrics.IncrementCounter("errors_" + errorType)
	am.metrics.IncrementCounter("errors_" + component)
}

// StartMetricsCollection 周期性输出指标摘要，直到 ctx 结束
func (am *APIMetrics) StartMetricsCollection(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			snap := am.metrics.Snapshot()
			am.logger.Info("指标摘要", map[string]interface{}{
				"counters": snap.Counters,
				"gauges":   snap.Gauges,
			})
		}
	}
}
