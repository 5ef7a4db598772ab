package events

import (
	"time"

	"github.com/aristath/tierindex/internal/domain"
	"github.com/shopspring/decimal"
)

// EventData is the interface that all event data types must implement
type EventData interface {
	// EventType returns the event type this data is associated with
	EventType() EventType
}

// AssetRegisteredData contains data for AssetRegistered events
type AssetRegisteredData struct {
	ID             domain.AssetID `json:"id"`
	Underlying     string         `json:"underlying"`
	Provider       string         `json:"provider"`
	Tier           domain.Tier    `json:"tier"`
	TargetWeightBP int            `json:"target_weight_bp"`
}

// EventType returns the event type for AssetRegisteredData
func (d *AssetRegisteredData) EventType() EventType {
	return AssetRegistered
}

// AssetUpdatedData contains data for AssetUpdated events
type AssetUpdatedData struct {
	ID             domain.AssetID `json:"id"`
	TargetWeightBP int            `json:"target_weight_bp"`
	Tier           domain.Tier    `json:"tier"`
}

// EventType returns the event type for AssetUpdatedData
func (d *AssetUpdatedData) EventType() EventType {
	return AssetUpdated
}

// AssetRetiredData contains data for AssetRetired events
type AssetRetiredData struct {
	ID     domain.AssetID `json:"id"`
	Reason string         `json:"reason"`
}

// EventType returns the event type for AssetRetiredData
func (d *AssetRetiredData) EventType() EventType {
	return AssetRetired
}

// GracePeriodStartedData contains data for GracePeriodStarted events
type GracePeriodStartedData struct {
	ID          domain.AssetID `json:"id"`
	CurrentTier domain.Tier    `json:"current_tier"`
	NewTier     domain.Tier    `json:"new_tier"`
	CommitAt    time.Time      `json:"commit_at"`
	Reason      string         `json:"reason"`
}

// EventType returns the event type for GracePeriodStartedData
func (d *GracePeriodStartedData) EventType() EventType {
	return GracePeriodStarted
}

// GracePeriodCancelledData contains data for GracePeriodCancelled events
type GracePeriodCancelledData struct {
	ID           domain.AssetID `json:"id"`
	ProposedTier domain.Tier    `json:"proposed_tier"`
	Reason       string         `json:"reason"`
}

// EventType returns the event type for GracePeriodCancelledData
func (d *GracePeriodCancelledData) EventType() EventType {
	return GracePeriodCancelled
}

// GracePeriodUpdatedData contains data for GracePeriodUpdated events
type GracePeriodUpdatedData struct {
	OldSeconds int64 `json:"old_seconds"`
	NewSeconds int64 `json:"new_seconds"`
}

// EventType returns the event type for GracePeriodUpdatedData
func (d *GracePeriodUpdatedData) EventType() EventType {
	return GracePeriodUpdated
}

// TierChangedData contains data for TierChanged events
type TierChangedData struct {
	ID      domain.AssetID `json:"id"`
	OldTier domain.Tier    `json:"old_tier"`
	NewTier domain.Tier    `json:"new_tier"`
	Reason  string         `json:"reason"`
}

// EventType returns the event type for TierChangedData
func (d *TierChangedData) EventType() EventType {
	return TierChanged
}

// EmergencyTierOverrideData contains data for EmergencyTierOverride events
type EmergencyTierOverrideData struct {
	ID            domain.AssetID `json:"id"`
	OldTier       domain.Tier    `json:"old_tier"`
	NewTier       domain.Tier    `json:"new_tier"`
	Justification string         `json:"justification"`
}

// EventType returns the event type for EmergencyTierOverrideData
func (d *EmergencyTierOverrideData) EventType() EventType {
	return EmergencyTierOverride
}

// OperatingStateChangedData contains data for OperatingStateChanged events
type OperatingStateChangedData struct {
	OldState domain.OperatingState `json:"old_state"`
	NewState domain.OperatingState `json:"new_state"`
	Reason   string                `json:"reason"`
}

// EventType returns the event type for OperatingStateChangedData
func (d *OperatingStateChangedData) EventType() EventType {
	return OperatingStateChanged
}

// ThresholdPair is one tier's floors as carried in events
type ThresholdPair struct {
	Tier           domain.Tier     `json:"tier"`
	MarketCapFloor decimal.Decimal `json:"market_cap_floor"`
	VolumeFloor    decimal.Decimal `json:"volume_floor"`
}

// TierThresholdsUpdatedData contains data for TierThresholdsUpdated events
type TierThresholdsUpdatedData struct {
	Thresholds []ThresholdPair `json:"thresholds"`
}

// EventType returns the event type for TierThresholdsUpdatedData
func (d *TierThresholdsUpdatedData) EventType() EventType {
	return TierThresholdsUpdated
}

// ActiveTierShiftedData contains data for ActiveTierShifted events
type ActiveTierShiftedData struct {
	OldTier         domain.Tier `json:"old_tier"`
	NewTier         domain.Tier `json:"new_tier"`
	Reason          string      `json:"reason"`
	QualifyingCount int         `json:"qualifying_count"`
	TotalCount      int         `json:"total_count"`
	Justification   string      `json:"justification,omitempty"`
}

// EventType returns the event type for ActiveTierShiftedData
func (d *ActiveTierShiftedData) EventType() EventType {
	return ActiveTierShifted
}

// IndexInitializedData contains data for IndexInitialized events
type IndexInitializedData struct {
	BaselineValue     decimal.Decimal `json:"baseline_value"`
	BaselineAggregate decimal.Decimal `json:"baseline_aggregate"`
	AssetCount        int             `json:"asset_count"`
}

// EventType returns the event type for IndexInitializedData
func (d *IndexInitializedData) EventType() EventType {
	return IndexInitialized
}

// IndexValueUpdatedData contains data for IndexValueUpdated events
type IndexValueUpdatedData struct {
	Value         decimal.Decimal  `json:"value"`
	PerformanceBP int32            `json:"performance_bp"`
	Degraded      bool             `json:"degraded"`
	Missing       []domain.AssetID `json:"missing,omitempty"`
}

// EventType returns the event type for IndexValueUpdatedData
func (d *IndexValueUpdatedData) EventType() EventType {
	return IndexValueUpdated
}

// IndexBaselineResetData contains data for IndexBaselineReset events
type IndexBaselineResetData struct {
	OldAggregate  decimal.Decimal `json:"old_aggregate"`
	NewAggregate  decimal.Decimal `json:"new_aggregate"`
	Justification string          `json:"justification"`
}

// EventType returns the event type for IndexBaselineResetData
func (d *IndexBaselineResetData) EventType() EventType {
	return IndexBaselineReset
}

// IndexTrackingSetData contains data for IndexTrackingSet events
type IndexTrackingSetData struct {
	Enabled bool `json:"enabled"`
}

// EventType returns the event type for IndexTrackingSetData
func (d *IndexTrackingSetData) EventType() EventType {
	return IndexTrackingSet
}

// RebalancePlannedData contains data for RebalancePlanned events
type RebalancePlannedData struct {
	PlanID       string          `json:"plan_id"`
	TotalValue   decimal.Decimal `json:"total_value"`
	Instructions int             `json:"instructions"`
	Zombies      int             `json:"zombies"`
	ScaleFactor  decimal.Decimal `json:"scale_factor"`
}

// EventType returns the event type for RebalancePlannedData
func (d *RebalancePlannedData) EventType() EventType {
	return RebalancePlanned
}

// RebalanceStepFailedData contains data for RebalanceStepFailed events
type RebalanceStepFailedData struct {
	PlanID string         `json:"plan_id"`
	Step   int            `json:"step"`
	Kind   string         `json:"kind"`
	Asset  domain.AssetID `json:"asset"`
	Error  string         `json:"error"`
}

// EventType returns the event type for RebalanceStepFailedData
func (d *RebalanceStepFailedData) EventType() EventType {
	return RebalanceStepFailed
}

// RebalanceCompletedData contains data for RebalanceCompleted events
type RebalanceCompletedData struct {
	PlanID string `json:"plan_id"`
	Steps  int    `json:"steps"`
}

// EventType returns the event type for RebalanceCompletedData
func (d *RebalanceCompletedData) EventType() EventType {
	return RebalanceCompleted
}

// ZombieAssetLiquidatedData is the audit record of one zombie cleanup
type ZombieAssetLiquidatedData struct {
	ID             domain.AssetID   `json:"id"`
	Unstaked       decimal.Decimal  `json:"unstaked"`
	Liquidated     decimal.Decimal  `json:"liquidated"`
	Recovered      decimal.Decimal  `json:"recovered"`
	Targets        []domain.AssetID `json:"targets"`
	ExpectedUnlock time.Time        `json:"expected_unlock"`
}

// EventType returns the event type for ZombieAssetLiquidatedData
func (d *ZombieAssetLiquidatedData) EventType() EventType {
	return ZombieAssetLiquidated
}

// MetricsSampledData contains data for MetricsSampled events
type MetricsSampledData struct {
	Sampled     int              `json:"sampled"`
	Unavailable []domain.AssetID `json:"unavailable,omitempty"`
	Done        bool             `json:"done"`
}

// EventType returns the event type for MetricsSampledData
func (d *MetricsSampledData) EventType() EventType {
	return MetricsSampled
}

// BackupCompletedData contains data for BackupCompleted events
type BackupCompletedData struct {
	Key       string `json:"key"`
	SizeBytes int64  `json:"size_bytes"`
}

// EventType returns the event type for BackupCompletedData
func (d *BackupCompletedData) EventType() EventType {
	return BackupCompleted
}

// SystemStatusChangedData contains data for SystemStatusChanged events
type SystemStatusChangedData struct {
	Status   string   `json:"status"`
	Previous string   `json:"previous"`
	Problems []string `json:"problems,omitempty"`
}

// EventType returns the event type for SystemStatusChangedData
func (d *SystemStatusChangedData) EventType() EventType {
	return SystemStatusChanged
}

// ErrorEventData contains data for ErrorOccurred events
type ErrorEventData struct {
	Error   string                 `json:"error"`
	Context map[string]interface{} `json:"context,omitempty"`
}

// EventType returns the event type for ErrorEventData
func (d *ErrorEventData) EventType() EventType {
	return ErrorOccurred
}
