package swarm

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestAggregateEmpty(t *testing.T) {
	s := Aggregate(nil)

	assert.Equal(t, 0, s.Total)
	assert.Equal(t, 0.0, s.RetentionRate)
	assert.Equal(t, 0.0, s.StabilityRate)
	assert.Empty(t, s.RetryDistribution)
}

func TestAggregateAllFailed(t *testing.T) {
	outcomes := []ConnectionOutcome{
		{Slot: 0, ErrorMessage: "connection refused", RetryCount: 3, FinalAttempt: true},
		{Slot: 1, ErrorMessage: "connection refused", RetryCount: 3, FinalAttempt: true},
	}

	s := Aggregate(outcomes)

	assert.Equal(t, 2, s.Total)
	assert.Equal(t, 0, s.Successful)
	assert.Equal(t, 2, s.Failed)
	assert.Equal(t, 0.0, s.RetentionRate, "zero successes never divides by zero")
	assert.Equal(t, 0.0, s.StabilityRate)
	assert.Equal(t, map[int]int{3: 2}, s.RetryDistribution)
}

func TestAggregateMixedRun(t *testing.T) {
	outcomes := []ConnectionOutcome{
		{Slot: 0, Success: true, IsActive: true},
		{Slot: 1, Success: true, IsActive: true, RetryCount: 1},
		{Slot: 2, Success: true, IsActive: true, RetryCount: 2},
		{
			Slot: 3, Success: true, IsActive: false,
			DisconnectedAt:        time.Now(),
			DisconnectionReason:   "websocket: close 1006 (abnormal closure)",
			SpontaneousDisconnect: true,
		},
		{
			Slot: 4, Success: true, IsActive: false,
			DisconnectedAt:      time.Now(),
			DisconnectionReason: ManualDisconnectReason,
		},
		{Slot: 5, ErrorMessage: "connection refused", RetryCount: 2, FinalAttempt: true},
	}

	s := Aggregate(outcomes)

	assert.Equal(t, 6, s.Total)
	assert.Equal(t, 5, s.Successful)
	assert.Equal(t, 1, s.Failed)
	assert.Equal(t, 3, s.Active)
	assert.Equal(t, 2, s.Disconnected)
	assert.Equal(t, 1, s.SpontaneousDisconnections)

	assert.InDelta(t, 3.0/5.0, s.RetentionRate, 0.001)
	assert.InDelta(t, 4.0/5.0, s.StabilityRate, 0.001)

	assert.Equal(t, map[int]int{1: 1, 2: 2}, s.RetryDistribution)
	assert.Equal(t, map[string]int{"websocket: close 1006 (abnormal closure)": 1}, s.DisconnectReasons)
}

func TestAggregateManualDisconnectsDoNotHurtStability(t *testing.T) {
	outcomes := []ConnectionOutcome{
		{Slot: 0, Success: true, DisconnectionReason: ManualDisconnectReason},
		{Slot: 1, Success: true, DisconnectionReason: ManualDisconnectReason},
	}

	s := Aggregate(outcomes)

	assert.Equal(t, 0, s.SpontaneousDisconnections)
	assert.Equal(t, 1.0, s.StabilityRate)
	assert.Equal(t, 0.0, s.RetentionRate)
	assert.Empty(t, s.DisconnectReasons)
}
