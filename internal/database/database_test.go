package database

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"poolguard/internal/pipeline"
)

func openTestDB(t *testing.T) *Database {
	t.Helper()
	db, err := New(filepath.Join(t.TempDir(), "poolguard.db"))
	require.NoError(t, err)
	require.NoError(t, db.Migrate())
	t.Cleanup(func() { db.Close() })
	return db
}

func TestMigrate_Idempotent(t *testing.T) {
	db := openTestDB(t)
	require.NoError(t, db.Migrate())
	require.NoError(t, db.Ping())
}

func TestRiskEvents_SaveAndList(t *testing.T) {
	db := openTestDB(t)
	base := time.Date(2026, 6, 1, 10, 0, 0, 0, time.UTC)

	levels := []pipeline.WarningLevel{pipeline.WarningMedium, pipeline.WarningHigh, pipeline.WarningLow}
	prev := pipeline.WarningLow
	for i, level := range levels {
		require.NoError(t, db.SaveRiskEvent(&RiskEventRecord{
			ID:        string(rune('a' + i)),
			Previous:  prev,
			Current:   level,
			FrameSeq:  uint64(10 * (i + 1)),
			Timestamp: base.Add(time.Duration(i) * time.Minute),
		}))
		prev = level
	}

	events, err := db.ListRiskEvents(nil, pipeline.WarningLow, 0)
	require.NoError(t, err)
	require.Len(t, events, 3)
	assert.Equal(t, "c", events[0].ID)
	assert.Equal(t, "a", events[2].ID)
	assert.Equal(t, pipeline.WarningHigh, events[1].Current)
	assert.Equal(t, pipeline.WarningMedium, events[1].Previous)
	assert.Equal(t, uint64(20), events[1].FrameSeq)
	assert.WithinDuration(t, base.Add(time.Minute), events[1].Timestamp, time.Millisecond)

	events, err = db.ListRiskEvents(nil, pipeline.WarningLow, 2)
	require.NoError(t, err)
	assert.Len(t, events, 2)

	events, err = db.ListRiskEvents(nil, pipeline.WarningHigh, 0)
	require.NoError(t, err)
	require.Len(t, events, 1)
	assert.Equal(t, "b", events[0].ID)

	since := base.Add(90 * time.Second)
	events, err = db.ListRiskEvents(&since, pipeline.WarningLow, 0)
	require.NoError(t, err)
	require.Len(t, events, 1)
	assert.Equal(t, "c", events[0].ID)

	n, err := db.CountRiskEvents()
	require.NoError(t, err)
	assert.Equal(t, 3, n)
}

func TestRiskEvents_EmptyList(t *testing.T) {
	db := openTestDB(t)
	events, err := db.ListRiskEvents(nil, pipeline.WarningLow, 10)
	require.NoError(t, err)
	assert.NotNil(t, events)
	assert.Empty(t, events)
}

func TestRiskEvents_NotificationFlag(t *testing.T) {
	db := openTestDB(t)
	require.NoError(t, db.SaveRiskEvent(&RiskEventRecord{
		ID: "evt", Previous: pipeline.WarningLow, Current: pipeline.WarningHigh, Timestamp: time.Now(),
	}))

	event, err := db.GetRiskEvent("evt")
	require.NoError(t, err)
	require.NotNil(t, event)
	assert.False(t, event.NotificationSent)

	require.NoError(t, db.MarkNotified("evt"))
	event, err = db.GetRiskEvent("evt")
	require.NoError(t, err)
	assert.True(t, event.NotificationSent)

	missing, err := db.GetRiskEvent("nope")
	require.NoError(t, err)
	assert.Nil(t, missing)
}

func TestDeleteOldRiskEvents(t *testing.T) {
	db := openTestDB(t)
	now := time.Now()
	require.NoError(t, db.SaveRiskEvent(&RiskEventRecord{ID: "old", Current: pipeline.WarningMedium, Timestamp: now.Add(-48 * time.Hour)}))
	require.NoError(t, db.SaveRiskEvent(&RiskEventRecord{ID: "new", Current: pipeline.WarningMedium, Timestamp: now}))

	n, err := db.DeleteOldRiskEvents(now.Add(-24 * time.Hour))
	require.NoError(t, err)
	assert.Equal(t, int64(1), n)

	count, err := db.CountRiskEvents()
	require.NoError(t, err)
	assert.Equal(t, 1, count)
}

func TestConfig(t *testing.T) {
	db := openTestDB(t)

	v, err := db.GetConfig("telegram_chat")
	require.NoError(t, err)
	assert.Empty(t, v)

	require.NoError(t, db.SaveConfig("telegram_chat", "42"))
	require.NoError(t, db.SaveConfig("telegram_chat", "43"))
	v, err = db.GetConfig("telegram_chat")
	require.NoError(t, err)
	assert.Equal(t, "43", v)
}

func TestRecorder_PersistsBusEvents(t *testing.T) {
	db := openTestDB(t)
	bus := pipeline.NewEventBus()
	recorder := NewRecorder(db, 24*time.Hour)
	bus.Subscribe(recorder)

	bus.Publish(pipeline.RiskTransitionEvent{
		ID: "x1", Previous: pipeline.WarningLow, Current: pipeline.WarningMedium, FrameSeq: 5, Timestamp: time.Now(),
	})
	bus.Publish(pipeline.RiskTransitionEvent{
		ID: "x2", Previous: pipeline.WarningMedium, Current: pipeline.WarningHigh, FrameSeq: 9, Timestamp: time.Now().Add(time.Second),
	})
	recorder.MarkNotified("x2")

	// Publish only queues; nothing is written until Run drains the queue
	count, err := db.CountRiskEvents()
	require.NoError(t, err)
	assert.Equal(t, 0, count)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- recorder.Run(ctx) }()

	require.Eventually(t, func() bool {
		event, err := db.GetRiskEvent("x2")
		return err == nil && event != nil && event.NotificationSent
	}, 2*time.Second, 10*time.Millisecond)

	cancel()
	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("recorder did not stop")
	}

	events, err := db.ListRiskEvents(nil, pipeline.WarningLow, 0)
	require.NoError(t, err)
	require.Len(t, events, 2)
	assert.Equal(t, "x2", events[0].ID)
	assert.Equal(t, uint64(9), events[0].FrameSeq)
	assert.False(t, events[1].NotificationSent)
}

func TestRecorder_FlushesQueueOnStop(t *testing.T) {
	db := openTestDB(t)
	recorder := NewRecorder(db, 0)
	recorder.OnRiskTransition(pipeline.RiskTransitionEvent{
		ID: "late", Previous: pipeline.WarningLow, Current: pipeline.WarningMedium, Timestamp: time.Now(),
	})

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	require.NoError(t, recorder.Run(ctx))

	event, err := db.GetRiskEvent("late")
	require.NoError(t, err)
	assert.NotNil(t, event)
}
