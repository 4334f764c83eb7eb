package metrics

import (
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
)

func TestSink_IncrementAndSnapshot(t *testing.T) {
	sink := NewSink(prometheus.NewRegistry())

	sink.IncProcessed()
	sink.IncProcessed()
	sink.IncFailed()
	sink.IncRetried()
	sink.IncDeadLettered()

	snap := sink.Snapshot()
	assert.EqualValues(t, 2, snap.Processed)
	assert.EqualValues(t, 1, snap.Failed)
	assert.EqualValues(t, 1, snap.Retried)
	assert.EqualValues(t, 1, snap.DeadLettered)
}

func TestSink_ResetZeroesAllFour(t *testing.T) {
	sink := NewSink(prometheus.NewRegistry())
	sink.IncProcessed()
	sink.IncFailed()
	sink.IncRetried()
	sink.IncDeadLettered()

	sink.Reset()

	snap := sink.Snapshot()
	assert.Equal(t, Snapshot{}, snap)
}
