package telemetry

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/aeroledger/aeroledger/server/internal/config"
)

func TestRecordCycle(t *testing.T) {
	before := testutil.ToFloat64(cyclesTotal.WithLabelValues(OutcomeSafeMode))
	RecordCycle(OutcomeSafeMode, 20*time.Millisecond)
	assert.Equal(t, before+1, testutil.ToFloat64(cyclesTotal.WithLabelValues(OutcomeSafeMode)))
}

func TestRecordJudgment_Status(t *testing.T) {
	RecordJudgment("predict", time.Second, errors.New("boom"))
	RecordJudgment("predict", time.Second, nil)
	assert.GreaterOrEqual(t, testutil.CollectAndCount(judgmentDuration), 2, "ok and error series")
}

func TestRecordAuditAndIngest(t *testing.T) {
	before := testutil.ToFloat64(auditTotal.WithLabelValues("dropped"))
	RecordAudit("dropped")
	assert.Equal(t, before+1, testutil.ToFloat64(auditTotal.WithLabelValues("dropped")))

	before = testutil.ToFloat64(ingestRejected.WithLabelValues("limits"))
	RecordIngestRejected("limits")
	assert.Equal(t, before+1, testutil.ToFloat64(ingestRejected.WithLabelValues("limits")))
}

func TestInitTracing_Disabled(t *testing.T) {
	shutdown, err := InitTracing(context.Background(), config.TelemetryConfig{})
	require.NoError(t, err)
	assert.NoError(t, shutdown(context.Background()))

	_, span := Tracer().Start(context.Background(), "noop")
	span.End()
}
