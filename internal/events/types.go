// Package events provides event management functionality.
package events

import (
	"time"
)

// EventType represents different event types
type EventType string

const (
	// Registry
	AssetRegistered EventType = "ASSET_REGISTERED"
	AssetUpdated    EventType = "ASSET_UPDATED"
	AssetRetired    EventType = "ASSET_RETIRED"

	// Tier classification and grace periods
	GracePeriodStarted    EventType = "GRACE_PERIOD_STARTED"
	GracePeriodCancelled  EventType = "GRACE_PERIOD_CANCELLED"
	GracePeriodUpdated    EventType = "GRACE_PERIOD_UPDATED"
	TierChanged           EventType = "TIER_CHANGED"
	EmergencyTierOverride EventType = "EMERGENCY_TIER_OVERRIDE"
	TierThresholdsUpdated EventType = "TIER_THRESHOLDS_UPDATED"
	ActiveTierShifted     EventType = "ACTIVE_TIER_SHIFTED"

	// Operating state
	OperatingStateChanged EventType = "OPERATING_STATE_CHANGED"

	// Index
	IndexInitialized   EventType = "INDEX_INITIALIZED"
	IndexValueUpdated  EventType = "INDEX_VALUE_UPDATED"
	IndexBaselineReset EventType = "INDEX_BASELINE_RESET"
	IndexTrackingSet   EventType = "INDEX_TRACKING_SET"

	// Rebalancing
	RebalancePlanned      EventType = "REBALANCE_PLANNED"
	RebalanceStepFailed   EventType = "REBALANCE_STEP_FAILED"
	RebalanceCompleted    EventType = "REBALANCE_COMPLETED"
	ZombieAssetLiquidated EventType = "ZOMBIE_ASSET_LIQUIDATED"

	// Market data
	MetricsSampled EventType = "METRICS_SAMPLED"

	// Infrastructure
	BackupCompleted     EventType = "BACKUP_COMPLETED"
	SystemStatusChanged EventType = "SYSTEM_STATUS_CHANGED"
	ErrorOccurred       EventType = "ERROR_OCCURRED"
)

// Event represents a system event as delivered to subscribers
type Event struct {
	Type      EventType              `json:"type"`
	Timestamp time.Time              `json:"timestamp"`
	Data      map[string]interface{} `json:"data"`
	Module    string                 `json:"module"`
}
