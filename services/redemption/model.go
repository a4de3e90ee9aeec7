package redemption

import "time"

type Status string

const (
	StatusClaimable Status = "claimable"
	StatusClaimed   Status = "claimed"
	StatusFulfilled Status = "fulfilled"
	StatusConcluded Status = "concluded"
	StatusRejected  Status = "rejected"
)

func (s Status) String() string { return string(s) }

// Terminal reports whether no further transition is possible.
func (s Status) Terminal() bool {
	return s == StatusConcluded || s == StatusRejected
}

// Redemption is one claimable instance of a reward earned by one user.
// mission_progress_id is nil for catalog rewards claimed directly; when
// set, the unique index makes it the idempotency boundary for spawning.
type Redemption struct {
	ID                    string     `gorm:"column:id;primaryKey"`
	TenantID              string     `gorm:"column:tenant_id;index;not null"`
	UserID                string     `gorm:"column:user_id;index;not null"`
	RewardID              string     `gorm:"column:reward_id;not null"`
	MissionID             string     `gorm:"column:mission_id;index"`
	MissionProgressID     *string    `gorm:"column:mission_progress_id;uniqueIndex"`
	TierAtClaim           string     `gorm:"column:tier_at_claim;not null"`
	Status                Status     `gorm:"column:status;type:varchar(20);not null;default:'claimable'"`
	ClaimedAt             *time.Time `gorm:"column:claimed_at"`
	FulfilledAt           *time.Time `gorm:"column:fulfilled_at"`
	ConcludedAt           *time.Time `gorm:"column:concluded_at"`
	RejectedAt            *time.Time `gorm:"column:rejected_at"`
	ScheduledActivationAt *time.Time `gorm:"column:scheduled_activation_at"`
	ActivatedAt           *time.Time `gorm:"column:activated_at"`
	ExpiresAt             *time.Time `gorm:"column:expires_at"`
	CreatedAt             time.Time  `gorm:"column:created_at;autoCreateTime"`
	UpdatedAt             time.Time  `gorm:"column:updated_at;autoUpdateTime"`
}

func (Redemption) TableName() string { return "redemptions" }

type BoostStatus string

const (
	BoostPendingInfo   BoostStatus = "pending_info"
	BoostActive        BoostStatus = "active"
	BoostPendingPayout BoostStatus = "pending_payout"
	BoostFulfilled     BoostStatus = "fulfilled"
)

func (s BoostStatus) String() string { return string(s) }

// CommissionBoostRedemption carries the boost sub-state machine:
// pending_info -> active -> pending_payout -> fulfilled.
type CommissionBoostRedemption struct {
	ID                    string      `gorm:"column:id;primaryKey"`
	TenantID              string      `gorm:"column:tenant_id;index;not null"`
	RedemptionID          string      `gorm:"column:redemption_id;uniqueIndex;not null"`
	BoostStatus           BoostStatus `gorm:"column:boost_status;type:varchar(20);not null;default:'pending_info'"`
	Percent               float64     `gorm:"column:percent;not null"`
	DurationDays          int         `gorm:"column:duration_days;not null"`
	ScheduledActivationAt *time.Time  `gorm:"column:scheduled_activation_at"`
	ActivatedAt           *time.Time  `gorm:"column:activated_at"`
	ExpiresAt             *time.Time  `gorm:"column:expires_at"`
	PayoutInfoSetAt       *time.Time  `gorm:"column:payout_info_set_at"`
	ClearedAt             *time.Time  `gorm:"column:cleared_at"`
	CreatedAt             time.Time   `gorm:"column:created_at;autoCreateTime"`
	UpdatedAt             time.Time   `gorm:"column:updated_at;autoUpdateTime"`
}

func (CommissionBoostRedemption) TableName() string { return "commission_boost_redemptions" }

// PhysicalGiftRedemption holds shipping details captured at claim time
// plus the carrier milestones written by the shipping collaborator.
type PhysicalGiftRedemption struct {
	ID             string     `gorm:"column:id;primaryKey"`
	TenantID       string     `gorm:"column:tenant_id;index;not null"`
	RedemptionID   string     `gorm:"column:redemption_id;uniqueIndex;not null"`
	FirstName      string     `gorm:"column:first_name;not null"`
	LastName       string     `gorm:"column:last_name;not null"`
	Line1          string     `gorm:"column:line1;not null"`
	Line2          string     `gorm:"column:line2"`
	City           string     `gorm:"column:city;not null"`
	State          string     `gorm:"column:state"`
	PostalCode     string     `gorm:"column:postal_code;not null"`
	Country        string     `gorm:"column:country;not null"`
	Phone          string     `gorm:"column:phone"`
	Size           string     `gorm:"column:size"`
	Carrier        string     `gorm:"column:carrier"`
	TrackingNumber string     `gorm:"column:tracking_number"`
	ShippedAt      *time.Time `gorm:"column:shipped_at"`
	DeliveredAt    *time.Time `gorm:"column:delivered_at"`
	CreatedAt      time.Time  `gorm:"column:created_at;autoCreateTime"`
	UpdatedAt      time.Time  `gorm:"column:updated_at;autoUpdateTime"`
}

func (PhysicalGiftRedemption) TableName() string { return "physical_gift_redemptions" }

// ShippingInfo is the claim-time input for physical gifts.
type ShippingInfo struct {
	FirstName  string
	LastName   string
	Line1      string
	Line2      string
	City       string
	State      string
	PostalCode string
	Country    string
	Phone      string
	Size       string
}

func (s *ShippingInfo) complete() bool {
	return s != nil &&
		s.FirstName != "" && s.LastName != "" &&
		s.Line1 != "" && s.City != "" &&
		s.PostalCode != "" && s.Country != ""
}

// ClaimOptions carries the type-specific input supplied with a claim.
type ClaimOptions struct {
	ScheduledActivationAt *time.Time
	Shipping              *ShippingInfo
}
