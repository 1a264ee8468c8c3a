package metrics

import (
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
)

func TestMetrics_Record(t *testing.T) {
	m := New(prometheus.NewRegistry())

	m.CartOp("add", "ok")
	m.CartOp("add", "ok")
	m.CartOp("add", "ALREADY_OWNED")
	m.Finalize("committed", time.Now())
	m.GatewayCall("retrieve", "error")
	m.StreamResolved("preview")
	m.PlayDropped()
	m.Webhook("payment_intent.succeeded", 200)
	m.HTTPRequest("GET", 404)

	assert.Equal(t, 2.0, testutil.ToFloat64(m.CartOps.WithLabelValues("add", "ok")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.CartOps.WithLabelValues("add", "ALREADY_OWNED")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.FinalizeTotal.WithLabelValues("committed")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.GatewayCalls.WithLabelValues("retrieve", "error")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.StreamsResolved.WithLabelValues("preview")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.PlaysDropped))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.WebhookRequests.WithLabelValues("payment_intent.succeeded", "200")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.HTTPRequests.WithLabelValues("GET", "404")))
}

func TestMetrics_NilIsNoop(t *testing.T) {
	var m *Metrics
	assert.NotPanics(t, func() {
		m.CartOp("add", "ok")
		m.Finalize("committed", time.Now())
		m.GatewayCall("create", "ok")
		m.StreamResolved("full")
		m.PlayDropped()
		m.Webhook("x", 200)
		m.HTTPRequest("GET", 200)
	})
}

func TestNew_RegistersOnce(t *testing.T) {
	reg := prometheus.NewRegistry()
	New(reg)
	assert.Panics(t, func() { New(reg) }, "duplicate registration must panic")
}
