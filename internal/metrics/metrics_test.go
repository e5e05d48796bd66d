package metrics

import (
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
)

func TestCollectorsRegisterAndCount(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := New(reg)

	m.Chunks.WithLabelValues("video").Inc()
	m.Bytes.WithLabelValues("video").Add(60)

	assert.Equal(t, 1.0, testutil.ToFloat64(m.Chunks.WithLabelValues("video")))
	assert.Equal(t, 60.0, testutil.ToFloat64(m.Bytes.WithLabelValues("video")))

	assert.Panics(t, func() { New(reg) }, "double registration must fail")
}
