package metrics

import (
	"errors"
	"testing"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRecordConversion(t *testing.T) {
	reg := NewRegistry()
	m := NewRun(reg)

	m.RecordConversion(nil, 3, 5, 1, 2)
	m.RecordConversion(errors.New("boom"), 9, 9, 9, 9)

	assert.Equal(t, 1.0, testutil.ToFloat64(m.ConversionsTotal.WithLabelValues("succeeded")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.ConversionsTotal.WithLabelValues("failed")))
	assert.Equal(t, 3.0, testutil.ToFloat64(m.RegionsTotal))
	assert.Equal(t, 5.0, testutil.ToFloat64(m.IdentifiersTotal.WithLabelValues("resolved")))
	assert.Equal(t, 2.0, testutil.ToFloat64(m.IdentifiersTotal.WithLabelValues("malformed")))

	families, err := reg.Gather()
	require.NoError(t, err)
	var names []string
	for _, f := range families {
		names = append(names, f.GetName())
	}
	assert.Contains(t, names, "go_goroutines")
	assert.Contains(t, names, "six2five_conversions_total")
}
