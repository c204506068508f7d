package health

import (
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func record(t *Tracker, provider string, successes, failures int) {
	for i := 0; i < successes; i++ {
		t.RecordSuccess(provider, 10*time.Millisecond)
	}
	for i := 0; i < failures; i++ {
		t.RecordFail(provider, fmt.Errorf("upstream error %d", i))
	}
}

func TestTracker_UntriedProviderHasPerfectRate(t *testing.T) {
	tracker := NewTracker("eastmoney", 0.7, 0.2, nil)

	// A provider with no calls must stay eligible for selection.
	assert.Equal(t, "eastmoney", tracker.Recommend())
	assert.Equal(t, 1.0, tracker.health("eastmoney").SuccessRate())
}

func TestTracker_PrimaryPreferredWhenHealthy(t *testing.T) {
	tracker := NewTracker("eastmoney", 0.7, 0.2, nil)
	record(tracker, "eastmoney", 9, 1)
	record(tracker, "sina", 10, 0)

	// Backup is better but the gap (0.1) is inside the margin.
	assert.Equal(t, "eastmoney", tracker.Recommend())
}

func TestTracker_BackupWinsOnMargin(t *testing.T) {
	tracker := NewTracker("eastmoney", 0.7, 0.2, nil)
	record(tracker, "eastmoney", 7, 3)
	record(tracker, "sina", 9, 1)

	// Primary sits exactly on the floor (not below it), but the backup's
	// 0.9 exceeds it by more than the margin.
	assert.Equal(t, "sina", tracker.Recommend())
}

func TestTracker_BackupWinsWhenPrimaryBelowFloor(t *testing.T) {
	tracker := NewTracker("eastmoney", 0.7, 0.2, nil)
	record(tracker, "eastmoney", 6, 4)
	record(tracker, "tiantian", 8, 2)

	// 0.6 < floor 0.7, best backup takes over even within the margin.
	assert.Equal(t, "tiantian", tracker.Recommend())
}

func TestTracker_Snapshot(t *testing.T) {
	tracker := NewTracker("eastmoney", 0.7, 0.2, nil)
	tracker.RecordSuccess("eastmoney", 40*time.Millisecond)
	tracker.RecordSuccess("eastmoney", 20*time.Millisecond)
	tracker.RecordFail("eastmoney", errors.New("timeout"))

	snap := tracker.Snapshot()
	stats, ok := snap["eastmoney"]
	assert.True(t, ok)
	assert.InDelta(t, 2.0/3.0, stats.SuccessRate, 1e-9)
	assert.Equal(t, 30*time.Millisecond, stats.AvgLatency)
	assert.Equal(t, int64(3), stats.TotalCalls)
	assert.Equal(t, "timeout", stats.LastError)
}

func TestTracker_Reset(t *testing.T) {
	tracker := NewTracker("eastmoney", 0.7, 0.2, nil)
	record(tracker, "eastmoney", 1, 5)
	assert.Less(t, tracker.health("eastmoney").SuccessRate(), 0.7)

	tracker.Reset("eastmoney")
	assert.Equal(t, 1.0, tracker.health("eastmoney").SuccessRate())
	stats := tracker.Snapshot()["eastmoney"]
	assert.Equal(t, int64(0), stats.TotalCalls)
	assert.Empty(t, stats.LastError)
}
