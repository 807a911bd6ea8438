// internal/utils/utils_test.go
package utils

import (
	"errors"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSecretRoundTrip(t *testing.T) {
	enc, err := EncryptSecret("sk-123456", "secret")
	require.NoError(t, err)
	assert.True(t, strings.HasPrefix(enc, EncryptedPrefix))
	assert.NotContains(t, enc, "sk-123456")

	dec, err := DecryptSecret(enc, "secret")
	require.NoError(t, err)
	assert.Equal(t, "sk-123456", dec)

	_, err = DecryptSecret(enc, "other")
	assert.Error(t, err)

	_, err = DecryptSecret(enc, "")
	assert.Error(t, err)
}

func TestSecretPassThrough(t *testing.T) {
	v, err := EncryptSecret("plain", "")
	require.NoError(t, err)
	assert.Equal(t, "plain", v)

	v, err = EncryptSecret("", "secret")
	require.NoError(t, err)
	assert.Equal(t, "", v)

	v, err = DecryptSecret("plain", "secret")
	require.NoError(t, err)
	assert.Equal(t, "plain", v)

	_, err = Decrypt("AAAA", "secret")
	assert.True(t, errors.Is(err, ErrCiphertextTooShort))
}

func TestMaskSecret(t *testing.T) {
	assert.Equal(t, "", MaskSecret(""))
	assert.Equal(t, "****", MaskSecret("abc"))
	assert.Equal(t, "****6789", MaskSecret("sk-123456789"))
}

func TestMetricsCollector(t *testing.T) {
	m := NewMetricsCollector()

	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			m.IncrementCounter("hits")
		}()
	}
	wg.Wait()
	assert.Equal(t, int64(20), m.GetCounterValue("hits"))
	assert.Equal(t, int64(0), m.GetCounterValue("missing"))

	m.IncGauge("ws_clients")
	m.IncGauge("ws_clients")
	m.DecGauge("ws_clients")

	m.RecordHistogram("latency", 5)
	m.RecordHistogram("latency", 1)
	m.RecordDuration("latency", 9*time.Millisecond)

	snap := m.Snapshot()
	assert.Equal(t, int64(20), snap.Counters["hits"])
	assert.Equal(t, int64(1), snap.Gauges["ws_clients"])
	assert.Equal(t, map[string]int64{"count": 3, "sum": 15, "min": 1, "max": 9}, snap.Histograms["latency"])
}

func TestAPIMetricsStatusBuckets(t *testing.T) {
	am := NewAPIMetricsWith(NewMetricsCollector())
	am.RecordAPIRequest("/api/entries", "GET", 200, time.Millisecond)
	am.RecordAPIRequest("/api/entries", "GET", 404, time.Millisecond)
	am.RecordLLMRequest("zhipu", "glm-4.6", false, time.Millisecond)
	am.RecordEntryMutation("create")

	m := am.Collector()
	assert.Equal(t, int64(2), m.GetCounterValue("api_requests_total"))
	assert.Equal(t, int64(1), m.GetCounterValue("api_responses_2xx"))
	assert.Equal(t, int64(1), m.GetCounterValue("api_responses_4xx"))
	assert.Equal(t, int64(1), m.GetCounterValue("llm_failures_zhipu"))
	assert.Equal(t, int64(1), m.GetCounterValue("entry_create"))
}

func TestInitLoggerWritesFile(t *testing.T) {
	logFile := filepath.Join(t.TempDir(), "nested", "app.log")
	require.NoError(t, InitLogger(logFile, false))

	logger := GetLogger()
	logger.Info("写入测试", map[string]interface{}{"b": 2, "a": "x"})
	logger.Sync()

	data, err := os.ReadFile(logFile)
	require.NoError(t, err)
	assert.Contains(t, string(data), "写入测试")
	assert.Contains(t, string(data), `"x"`)

	assert.NoError(t, logger.SetLogLevel("warn"))
	assert.Error(t, logger.SetLogLevel("loud"))
	assert.NoError(t, logger.SetLogLevel("info"))
}
