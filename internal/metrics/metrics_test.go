package metrics

import (
	"testing"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
)

func TestCounters(t *testing.T) {
	before := testutil.ToFloat64(eventsTotal.WithLabelValues("new-message"))
	EventReceived("new-message")
	EventReceived("new-message")
	assert.Equal(t, before+2, testutil.ToFloat64(eventsTotal.WithLabelValues("new-message")))

	beforeReceipts := testutil.ToFloat64(receiptsTotal.WithLabelValues("read"))
	ReceiptsApplied("read", 0)
	ReceiptsApplied("read", 3)
	assert.Equal(t, beforeReceipts+3, testutil.ToFloat64(receiptsTotal.WithLabelValues("read")))

	SetConnected(true)
	assert.Equal(t, float64(1), testutil.ToFloat64(connected))
	SetConnected(false)
	assert.Equal(t, float64(0), testutil.ToFloat64(connected))

	ObserveREST("send")()
	assert.Equal(t, 1, testutil.CollectAndCount(restDuration))
}
