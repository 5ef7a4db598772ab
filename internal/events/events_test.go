package events

import (
	"bytes"
	"errors"
	"sync"
	"testing"

	"github.com/aristath/tierindex/internal/domain"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestBus_SubscribeFiltersByType(t *testing.T) {
	bus := NewBus()

	var got []*Event
	bus.Subscribe(TierChanged, func(e *Event) { got = append(got, e) })

	bus.Emit(TierChanged, "grace", map[string]interface{}{"id": float64(1)})
	bus.Emit(AssetRegistered, "registry", nil)

	require.Len(t, got, 1)
	assert.Equal(t, TierChanged, got[0].Type)
	assert.Equal(t, "grace", got[0].Module)
	assert.Equal(t, float64(1), got[0].Data["id"])
	assert.False(t, got[0].Timestamp.IsZero())
}

func TestBus_SubscribeAllAndUnsubscribe(t *testing.T) {
	bus := NewBus()

	count := 0
	id := bus.SubscribeAll(func(*Event) { count++ })
	assert.Equal(t, 1, bus.SubscriberCount())

	bus.Emit(TierChanged, "grace", nil)
	bus.Emit(IndexValueUpdated, "index", nil)
	assert.Equal(t, 2, count)

	bus.Unsubscribe(id)
	bus.Unsubscribe(id)
	bus.Emit(TierChanged, "grace", nil)
	assert.Equal(t, 2, count)
	assert.Equal(t, 0, bus.SubscriberCount())
}

func TestBus_ConcurrentEmit(t *testing.T) {
	bus := NewBus()

	var mu sync.Mutex
	count := 0
	bus.SubscribeAll(func(*Event) {
		mu.Lock()
		count++
		mu.Unlock()
	})

	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			bus.Emit(MetricsSampled, "history", nil)
		}()
	}
	wg.Wait()

	assert.Equal(t, 20, count)
}

func TestManager_EmitTypedPublishesAndLogs(t *testing.T) {
	var buf bytes.Buffer
	log := zerolog.New(&buf)
	bus := NewBus()
	m := NewManager(bus, log)

	var got *Event
	bus.Subscribe(ActiveTierShifted, func(e *Event) { got = e })

	m.EmitTyped(ActiveTierShifted, "activetier", &ActiveTierShiftedData{
		OldTier:         domain.Tier1,
		NewTier:         domain.Tier2,
		Reason:          "automatic_80_percent",
		QualifyingCount: 4,
		TotalCount:      5,
	})

	require.NotNil(t, got)
	assert.Equal(t, "tier2", got.Data["new_tier"])
	assert.Equal(t, float64(4), got.Data["qualifying_count"])
	assert.Contains(t, buf.String(), "ACTIVE_TIER_SHIFTED")
	assert.Contains(t, buf.String(), `"service":"events"`)
}

func TestManager_EmitError(t *testing.T) {
	bus := NewBus()
	m := NewManager(bus, zerolog.Nop())

	var got *Event
	bus.Subscribe(ErrorOccurred, func(e *Event) { got = e })

	m.EmitError("scheduler", errors.New("boom"), map[string]interface{}{"job": "rebalance"})

	require.NotNil(t, got)
	assert.Equal(t, "boom", got.Data["error"])
	assert.Equal(t, "scheduler", got.Module)
}

func TestManager_NilBus(t *testing.T) {
	m := NewManager(nil, zerolog.Nop())
	assert.NotPanics(t, func() {
		m.EmitTyped(AssetRetired, "registry", &AssetRetiredData{ID: 3})
	})
}

func TestRecorder_FlushAndReset(t *testing.T) {
	rec := NewRecorder()
	rec.EmitTyped(AssetRegistered, "registry", &AssetRegisteredData{ID: 1})
	rec.EmitTyped(TierChanged, "grace", &TierChangedData{ID: 1, NewTier: domain.Tier2})
	rec.EmitTyped(AssetRegistered, "registry", &AssetRegisteredData{ID: 2})

	assert.Equal(t, 3, rec.Len())
	assert.Len(t, rec.OfType(AssetRegistered), 2)

	sink := NewRecorder()
	rec.Flush(sink)
	assert.Equal(t, 0, rec.Len())
	require.Equal(t, 3, sink.Len())
	assert.Equal(t, TierChanged, sink.Events()[1].Type)

	sink.Reset()
	assert.Equal(t, 0, sink.Len())
}

func TestEventDataTypes(t *testing.T) {
	tests := []struct {
		data EventData
		want EventType
	}{
		{&AssetRegisteredData{}, AssetRegistered},
		{&AssetUpdatedData{}, AssetUpdated},
		{&AssetRetiredData{}, AssetRetired},
		{&GracePeriodStartedData{}, GracePeriodStarted},
		{&GracePeriodCancelledData{}, GracePeriodCancelled},
		{&GracePeriodUpdatedData{}, GracePeriodUpdated},
		{&TierChangedData{}, TierChanged},
		{&EmergencyTierOverrideData{}, EmergencyTierOverride},
		{&OperatingStateChangedData{}, OperatingStateChanged},
		{&TierThresholdsUpdatedData{}, TierThresholdsUpdated},
		{&ActiveTierShiftedData{}, ActiveTierShifted},
		{&IndexInitializedData{}, IndexInitialized},
		{&IndexValueUpdatedData{}, IndexValueUpdated},
		{&IndexBaselineResetData{}, IndexBaselineReset},
		{&IndexTrackingSetData{}, IndexTrackingSet},
		{&RebalancePlannedData{}, RebalancePlanned},
		{&RebalanceStepFailedData{}, RebalanceStepFailed},
		{&RebalanceCompletedData{}, RebalanceCompleted},
		{&ZombieAssetLiquidatedData{}, ZombieAssetLiquidated},
		{&MetricsSampledData{}, MetricsSampled},
		{&BackupCompletedData{}, BackupCompleted},
		{&ErrorEventData{}, ErrorOccurred},
	}

	for _, tt := range tests {
		t.Run(string(tt.want), func(t *testing.T) {
			assert.Equal(t, tt.want, tt.data.EventType())
		})
	}
}
