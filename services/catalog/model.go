package catalog

import (
	"encoding/json"
	"time"

	"gorm.io/datatypes"
)

type MissionType string

const (
	MissionSalesDollars MissionType = "sales_dollars"
	MissionSalesUnits   MissionType = "sales_units"
	MissionVideos       MissionType = "videos"
	MissionLikes        MissionType = "likes"
	MissionViews        MissionType = "views"
	MissionRaffle       MissionType = "raffle"
)

func (t MissionType) String() string { return string(t) }

// Metric returns the rollup metric a mission type accumulates. Raffle
// missions have no metric; they complete on entry.
func (t MissionType) Metric() string {
	if t == MissionRaffle {
		return ""
	}
	return string(t)
}

type RewardType string

const (
	RewardGiftCard        RewardType = "gift_card"
	RewardCommissionBoost RewardType = "commission_boost"
	RewardDiscount        RewardType = "discount"
	RewardSparkAds        RewardType = "spark_ads"
	RewardPhysicalGift    RewardType = "physical_gift"
	RewardExperience      RewardType = "experience"
	RewardRaffleGift      RewardType = "raffle_gift"
)

func (t RewardType) String() string { return string(t) }

// Instant returns true for rewards fulfilled by an external worker with
// no extra input at claim time.
func (t RewardType) Instant() bool {
	switch t {
	case RewardGiftCard, RewardSparkAds, RewardExperience, RewardRaffleGift:
		return true
	}
	return false
}

// Scheduled returns true for rewards that need an activation timestamp
// supplied with the claim.
func (t RewardType) Scheduled() bool {
	return t == RewardCommissionBoost || t == RewardDiscount
}

type RedemptionFrequency string

const (
	FrequencyOneTime   RedemptionFrequency = "one-time"
	FrequencyWeekly    RedemptionFrequency = "weekly"
	FrequencyMonthly   RedemptionFrequency = "monthly"
	FrequencyUnlimited RedemptionFrequency = "unlimited"
)

// Window returns the start of the current frequency window, or a zero
// time when every prior redemption counts (one-time) or none do
// (unlimited).
func (f RedemptionFrequency) Window(now time.Time) (time.Time, bool) {
	switch f {
	case FrequencyWeekly:
		return now.AddDate(0, 0, -7), true
	case FrequencyMonthly:
		return now.AddDate(0, -1, 0), true
	case FrequencyOneTime:
		return time.Time{}, true
	}
	return time.Time{}, false
}

// TierEligibilityAll marks a mission or reward open to every tier.
const TierEligibilityAll = "all"

type Mission struct {
	ID              string      `gorm:"column:id;primaryKey"`
	TenantID        string      `gorm:"column:tenant_id;index;not null"`
	Name            string      `gorm:"column:name"`
	Type            MissionType `gorm:"column:type;type:varchar(20);not null"`
	TargetValue     int64       `gorm:"column:target_value;not null;default:0"`
	TierEligibility string      `gorm:"column:tier_eligibility;not null;default:'all'"`
	PreviewFromTier *string     `gorm:"column:preview_from_tier"`
	Activated       bool        `gorm:"column:activated;not null;default:false"`
	Enabled         bool        `gorm:"column:enabled;not null;default:true"`
	Featured        bool        `gorm:"column:featured;not null;default:false"`
	RewardID        string      `gorm:"column:reward_id;not null"`
	DisplayOrder    int         `gorm:"column:display_order;not null;default:0"`
	RaffleEndDate   *time.Time  `gorm:"column:raffle_end_date"`
	CreatedAt       time.Time   `gorm:"column:created_at;autoCreateTime"`
	UpdatedAt       time.Time   `gorm:"column:updated_at;autoUpdateTime"`
}

func (Mission) TableName() string { return "missions" }

type Reward struct {
	ID                  string              `gorm:"column:id;primaryKey"`
	TenantID            string              `gorm:"column:tenant_id;index;not null"`
	Type                RewardType          `gorm:"column:type;type:varchar(20);not null"`
	Description         string              `gorm:"column:description"`
	ValueData           datatypes.JSON      `gorm:"column:value_data"`
	TierEligibility     string              `gorm:"column:tier_eligibility;not null;default:'all'"`
	PreviewFromTier     *string             `gorm:"column:preview_from_tier"`
	RedemptionFrequency RedemptionFrequency `gorm:"column:redemption_frequency;not null;default:'one-time'"`
	RedemptionQuantity  *int                `gorm:"column:redemption_quantity"`
	Enabled             bool                `gorm:"column:enabled;not null;default:true"`
	CreatedAt           time.Time           `gorm:"column:created_at;autoCreateTime"`
	UpdatedAt           time.Time           `gorm:"column:updated_at;autoUpdateTime"`
}

func (Reward) TableName() string { return "rewards" }

// RewardValue is the decoded value_data payload. Fields are populated
// per reward type; absent fields stay zero.
type RewardValue struct {
	Amount       float64 `json:"amount,omitempty"`
	Percent      float64 `json:"percent,omitempty"`
	DurationDays int     `json:"duration_days,omitempty"`
	SizeRequired bool    `json:"size_required,omitempty"`
}

func (r *Reward) Value() (RewardValue, error) {
	var v RewardValue
	if len(r.ValueData) == 0 {
		return v, nil
	}
	if err := json.Unmarshal(r.ValueData, &v); err != nil {
		return v, err
	}
	return v, nil
}
