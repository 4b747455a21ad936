package metrics

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/mrcgq/rtpclient/internal/client"
	"github.com/mrcgq/rtpclient/internal/config"
	"github.com/mrcgq/rtpclient/internal/peer"
)

func TestSessionMetricsObserver(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := NewSessionMetrics(reg)

	m.ConnectAttempt("studio")
	m.ConnectAttempt("studio")
	m.Connected("studio")
	m.Disconnected("studio", peer.CKTimeout)
	m.Latency("studio", 2*time.Millisecond)
	m.BytesSent("studio", peer.MIDIChannel, 12)
	m.BytesSent("studio", peer.MIDIChannel, 8)
	m.BytesReceived("studio", peer.ControlChannel, 5)

	assert.Equal(t, 2.0, testutil.ToFloat64(m.ConnectAttempts.WithLabelValues("studio")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.Connections.WithLabelValues("studio")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.Disconnects.WithLabelValues("studio", "CK_TIMEOUT")))
	assert.Equal(t, 0.002, testutil.ToFloat64(m.LastLatency.WithLabelValues("studio")))
	assert.Equal(t, 20.0, testutil.ToFloat64(m.TxBytes.WithLabelValues("studio", "midi")))
	assert.Equal(t, 5.0, testutil.ToFloat64(m.RxBytes.WithLabelValues("studio", "control")))
}

type staticStats struct {
	targets []TargetStat
}

func (s staticStats) GetTargetStats() []TargetStat { return s.targets }
func (s staticStats) GetUptimeSeconds() float64    { return 42 }

func TestSupervisorCollector(t *testing.T) {
	c := NewSupervisorCollector(staticStats{targets: []TargetStat{
		{Name: "studio", State: client.StateConnected, TimerState: 6, LocalBasePort: 50000, RemoteBasePort: 5004,
			SmoothedLatency: 1500 * time.Microsecond},
		{Name: "stage", State: client.StateCKTimeout, Attempts: 3},
	}})

	perTarget := len(client.States()) + 6
	assert.Equal(t, 2*perTarget+2, testutil.CollectAndCount(c))

	expected := `
# HELP rtpmidi_supervisor_reconnect_attempts Consecutive reconnect attempts since last successful handshake
# TYPE rtpmidi_supervisor_reconnect_attempts gauge
rtpmidi_supervisor_reconnect_attempts{target="stage"} 3
rtpmidi_supervisor_reconnect_attempts{target="studio"} 0
`
	require.NoError(t, testutil.CollectAndCompare(c, strings.NewReader(expected), "rtpmidi_supervisor_reconnect_attempts"))

	expected = `
# HELP rtpmidi_supervisor_targets Number of configured targets
# TYPE rtpmidi_supervisor_targets gauge
rtpmidi_supervisor_targets 2
`
	require.NoError(t, testutil.CollectAndCompare(c, strings.NewReader(expected), "rtpmidi_supervisor_targets"))

	expected = `
# HELP rtpmidi_supervisor_smoothed_latency_seconds Smoothed latency probe round trip
# TYPE rtpmidi_supervisor_smoothed_latency_seconds gauge
rtpmidi_supervisor_smoothed_latency_seconds{target="stage"} 0
rtpmidi_supervisor_smoothed_latency_seconds{target="studio"} 0.0015
`
	require.NoError(t, testutil.CollectAndCompare(c, strings.NewReader(expected), "rtpmidi_supervisor_smoothed_latency_seconds"))
}

func testServerConfig(listen string) config.MetricsConfig {
	return config.MetricsConfig{Enabled: true, Listen: listen, Path: "/metrics", HealthPath: "/health"}
}

func httpGet(t *testing.T, url string) (int, string) {
	t.Helper()
	resp, err := http.Get(url)
	require.NoError(t, err)
	defer resp.Body.Close()
	body, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	return resp.StatusCode, string(body)
}

func TestMetricsServerEndpoints(t *testing.T) {
	var status atomic.Value
	status.Store(StatusDegraded)
	health := func() HealthStatus {
		return HealthStatus{
			Status:    status.Load().(string),
			Timestamp: time.Now(),
			Version:   Version,
			Components: map[string]ComponentHealth{
				"studio": {Status: StatusHealthy},
				"stage":  {Status: StatusUnhealthy, Message: "CK_TIMEOUT"},
			},
		}
	}
	stats := staticStats{targets: []TargetStat{
		{Name: "studio", State: client.StateConnected, LocalBasePort: 50000, RemoteBasePort: 5004},
	}}

	srv := NewMetricsServer(testServerConfig("127.0.0.1:0"), stats, health, zaptest.NewLogger(t))
	NewSessionMetrics(srv.Registry()).Connected("studio")

	require.NoError(t, srv.Start(context.Background()))
	defer srv.Stop()
	base := "http://" + srv.Addr()

	code, body := httpGet(t, base+"/metrics")
	assert.Equal(t, http.StatusOK, code)
	assert.Contains(t, body, `rtpmidi_session_connections_total{peer="studio"} 1`)
	assert.Contains(t, body, `rtpmidi_supervisor_targets 1`)

	code, body = httpGet(t, base+"/health")
	assert.Equal(t, http.StatusOK, code)
	var hs HealthStatus
	require.NoError(t, json.Unmarshal([]byte(body), &hs))
	assert.Equal(t, StatusDegraded, hs.Status)
	assert.Equal(t, "CK_TIMEOUT", hs.Components["stage"].Message)

	code, _ = httpGet(t, base+"/health/ready")
	assert.Equal(t, http.StatusOK, code)

	status.Store(StatusUnhealthy)
	code, _ = httpGet(t, base+"/health")
	assert.Equal(t, http.StatusServiceUnavailable, code)
	code, _ = httpGet(t, base+"/health/ready")
	assert.Equal(t, http.StatusServiceUnavailable, code)

	code, body = httpGet(t, base+TargetsPath)
	assert.Equal(t, http.StatusOK, code)
	var targets []map[string]interface{}
	require.NoError(t, json.Unmarshal([]byte(body), &targets))
	require.Len(t, targets, 1)
	assert.Equal(t, "studio", targets[0]["name"])
	assert.Equal(t, "CONNECTED", targets[0]["state"])
	assert.Equal(t, 50000.0, targets[0]["local_base_port"])
}

func TestMetricsServerLiveness(t *testing.T) {
	srv := NewMetricsServer(testServerConfig("127.0.0.1:0"), nil, nil, nil)
	srv.SetLivenessWindow(50 * time.Millisecond)
	require.NoError(t, srv.Start(context.Background()))
	defer srv.Stop()
	base := "http://" + srv.Addr()

	// 事件循环启动前视为存活
	code, body := httpGet(t, base+"/health/live")
	assert.Equal(t, http.StatusOK, code)
	assert.Equal(t, "OK", body)

	srv.Heartbeat()
	code, _ = httpGet(t, base+"/health/live")
	assert.Equal(t, http.StatusOK, code)

	time.Sleep(100 * time.Millisecond)
	code, body = httpGet(t, base+"/health/live")
	assert.Equal(t, http.StatusServiceUnavailable, code)
	assert.Contains(t, body, "STALLED")

	// 没有健康检查函数时恒为 healthy，也不提供目标状态端点
	code, _ = httpGet(t, base+"/health")
	assert.Equal(t, http.StatusOK, code)
	code, _ = httpGet(t, base+TargetsPath)
	assert.Equal(t, http.StatusNotFound, code)
}

func TestMetricsServerBindFailure(t *testing.T) {
	srv := NewMetricsServer(testServerConfig("127.0.0.1:0"), nil, nil, nil)
	require.NoError(t, srv.Start(context.Background()))
	defer srv.Stop()

	other := NewMetricsServer(testServerConfig(srv.Addr()), nil, nil, nil)
	assert.Error(t, other.Start(context.Background()))
}
