package metrics

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"market-workbench/internal/marketdata/bus"
	"market-workbench/internal/store/redis"

	"github.com/prometheus/client_golang/prometheus"
	dto "github.com/prometheus/client_model/go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func gather(t *testing.T, reg *prometheus.Registry) map[string]*dto.MetricFamily {
	t.Helper()
	mfs, err := reg.Gather()
	require.NoError(t, err)
	out := make(map[string]*dto.MetricFamily, len(mfs))
	for _, mf := range mfs {
		out[mf.GetName()] = mf
	}
	return out
}

func labelValue(m *dto.Metric, name string) string {
	for _, l := range m.GetLabel() {
		if l.GetName() == name {
			return l.GetValue()
		}
	}
	return ""
}

func TestMetrics_FeedHooks(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := New(reg)

	m.MessageReceived("trade")
	m.MessageReceived("trade")
	m.MessageMalformed("candle")
	m.ReconnectScheduled()
	m.BatchFlushed(7)
	m.StateChanged("connecting")
	m.StateChanged("connected")

	fams := gather(t, reg)
	msgs := fams["workbench_feed_messages_total"].GetMetric()
	require.Len(t, msgs, 1)
	assert.Equal(t, "trade", labelValue(msgs[0], "type"))
	assert.Equal(t, 2.0, msgs[0].GetCounter().GetValue())
	assert.Equal(t, 1.0, fams["workbench_feed_reconnects_total"].GetMetric()[0].GetCounter().GetValue())
	assert.Equal(t, uint64(1), fams["workbench_feed_batch_size"].GetMetric()[0].GetHistogram().GetSampleCount())

	states := map[string]float64{}
	for _, g := range fams["workbench_feed_state"].GetMetric() {
		states[labelValue(g, "state")] = g.GetGauge().GetValue()
	}
	assert.Equal(t, map[string]float64{"disconnected": 0, "connecting": 0, "connected": 1, "error": 0}, states)
}

func TestMetrics_BreakerAndRelay(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := New(reg)

	m.BreakerStateChanged(redis.StateClosed, redis.StateOpen)
	m.BreakerStateChanged(redis.StateOpen, redis.StateHalfOpen)
	hooks := m.RelayHooks()
	hooks.Sent("kafka")
	hooks.Dropped("redis")

	fams := gather(t, reg)
	assert.Equal(t, 2.0, fams["workbench_redis_circuit_breaker_state"].GetMetric()[0].GetGauge().GetValue())
	assert.Equal(t, 1.0, fams["workbench_redis_circuit_breaker_trips_total"].GetMetric()[0].GetCounter().GetValue())
	assert.Equal(t, "kafka", labelValue(fams["workbench_relay_sent_total"].GetMetric()[0], "sink"))
	assert.Equal(t, "redis", labelValue(fams["workbench_relay_dropped_total"].GetMetric()[0], "sink"))
}

func TestMetrics_ObserveTopic(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := New(reg)

	m.ObserveTopic("feed.trades", []bus.ChannelStat{{Len: 10, Cap: 100}, {Len: 75, Cap: 100}, {Len: 3, Cap: 0}})
	m.TopicDropped("feed.trades")

	fams := gather(t, reg)
	sat := fams["workbench_topic_saturation_pct"].GetMetric()
	require.Len(t, sat, 1)
	assert.Equal(t, "feed.trades", labelValue(sat[0], "topic"))
	assert.Equal(t, 75.0, sat[0].GetGauge().GetValue())
	assert.Equal(t, 1.0, fams["workbench_topic_drops_total"].GetMetric()[0].GetCounter().GetValue())
}

func TestHealth_Aggregation(t *testing.T) {
	h := NewHealth()
	h.AddCheck("sqlite", true, func(context.Context) error { return nil })
	h.AddCheck("redis", false, func(context.Context) error { return errors.New("connection refused") })
	h.Check(context.Background())

	r := h.Report()
	assert.Equal(t, StatusDegraded, r.Status)
	assert.True(t, r.Components["sqlite"].OK)
	assert.Equal(t, "connection refused", r.Components["redis"].Error)

	h.AddCheck("feed", true, func(context.Context) error { return errors.New("disconnected") })
	h.Check(context.Background())
	assert.Equal(t, StatusUnhealthy, h.Report().Status)

	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/healthz", nil))
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
	var body HealthReport
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.Len(t, body.Components, 3)
}

func TestServer_ExposesMetrics(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := New(reg)
	m.ReconnectScheduled()
	h := NewHealth()
	srv := NewServer(":0", reg, h, nil)

	rec := httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.True(t, strings.Contains(rec.Body.String(), "workbench_feed_reconnects_total 1"))

	rec = httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/healthz", nil))
	assert.Equal(t, http.StatusOK, rec.Code)
}
