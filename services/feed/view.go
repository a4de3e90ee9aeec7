package feed

import (
	"fmt"
	"time"

	"creatorloyalty/services/catalog"
	"creatorloyalty/services/progress"
	"creatorloyalty/services/redemption"
)

// Priority classes, 1 is highest. The class is derived from computed
// status only; sorting is a pure projection and mutates nothing.
const (
	ClassClaimableInstant   = 1
	ClassClaimableScheduled = 2
	ClassRaffleOpen         = 3
	ClassPendingInfo        = 4
	ClassFulfilling         = 5
	ClassActive             = 6
	ClassInProgress         = 7
	ClassDormant            = 8
	ClassLockedPreview      = 9
	ClassRafflePendingDraw  = 10
	ClassRaffleWon          = 11
	ClassTerminal           = 12
)

// Display statuses surfaced to the presentation boundary.
const (
	StatusClaimable   = "claimable"
	StatusScheduled   = "scheduled"
	StatusRaffleOpen  = "raffle_open"
	StatusPendingInfo = "pending_info"
	StatusRedeeming   = "redeeming"
	StatusSending     = "sending"
	StatusClearing    = "clearing"
	StatusActive      = "active"
	StatusInProgress  = "in_progress"
	StatusLocked      = "locked"
	StatusDormant     = "dormant"
	StatusPendingDraw = "pending_draw"
	StatusWon         = "won"
	StatusConcluded   = "concluded"
	StatusRejected    = "rejected"
)

// MissionView is one feed entry with its computed status and rank.
type MissionView struct {
	MissionID         string              `json:"mission_id"`
	Name              string              `json:"name"`
	Type              catalog.MissionType `json:"type"`
	RewardID          string              `json:"reward_id"`
	RewardType        catalog.RewardType  `json:"reward_type"`
	RewardDescription string              `json:"reward_description"`
	Status            string              `json:"status"`
	PriorityClass     int                 `json:"priority_class"`
	Featured          bool                `json:"featured"`
	DisplayOrder      int                 `json:"display_order"`
	CurrentValue      int64               `json:"current_value"`
	TargetValue       int64               `json:"target_value"`
	ProgressText      string              `json:"progress_text"`
	RedemptionID      string              `json:"redemption_id,omitempty"`
	CreatedAt         time.Time           `json:"created_at"`
}

// itemState is everything status computation needs about one mission
// for one user.
type itemState struct {
	mission    *catalog.Mission
	reward     *catalog.Reward
	visibility catalog.Visibility
	progress   *progress.MissionProgress
	redemption *redemption.Redemption
	boost      *redemption.CommissionBoostRedemption
	gift       *redemption.PhysicalGiftRedemption
	isWinner   *bool
	entered    bool
	now        time.Time
}

// classify maps one item's state to its display status and priority
// class.
func classify(st itemState) (string, int) {
	if st.redemption != nil && st.redemption.Status.Terminal() {
		if st.redemption.Status == redemption.StatusRejected {
			return StatusRejected, ClassTerminal
		}
		return StatusConcluded, ClassTerminal
	}

	if st.mission.Type == catalog.MissionRaffle {
		return classifyRaffle(st)
	}

	if st.redemption != nil {
		switch st.redemption.Status {
		case redemption.StatusClaimable:
			if st.reward.Type.Scheduled() {
				return StatusScheduled, ClassClaimableScheduled
			}
			return StatusClaimable, ClassClaimableInstant
		case redemption.StatusClaimed, redemption.StatusFulfilled:
			return classifyInFlight(st)
		}
	}

	if st.visibility == catalog.LockedPreview {
		return StatusLocked, ClassLockedPreview
	}

	if st.progress != nil && st.progress.Status == progress.StatusActive {
		return StatusInProgress, ClassInProgress
	}

	return StatusDormant, ClassDormant
}

// classifyInFlight covers claimed and fulfilled redemptions still
// moving through their type-specific sub-workflow.
func classifyInFlight(st itemState) (string, int) {
	switch st.reward.Type {
	case catalog.RewardCommissionBoost:
		if st.boost != nil {
			switch st.boost.BoostStatus {
			case redemption.BoostPendingInfo:
				if st.boost.ActivatedAt == nil && st.boost.PayoutInfoSetAt == nil {
					return StatusPendingInfo, ClassPendingInfo
				}
				return StatusScheduled, ClassFulfilling
			case redemption.BoostActive:
				return StatusActive, ClassActive
			case redemption.BoostPendingPayout:
				return StatusClearing, ClassFulfilling
			}
		}
		return StatusClearing, ClassFulfilling
	case catalog.RewardDiscount:
		if st.redemption.ActivatedAt != nil &&
			(st.redemption.ExpiresAt == nil || st.now.Before(*st.redemption.ExpiresAt)) {
			return StatusActive, ClassActive
		}
		return StatusScheduled, ClassFulfilling
	case catalog.RewardPhysicalGift:
		if st.gift != nil && st.gift.ShippedAt != nil {
			return StatusSending, ClassFulfilling
		}
		return StatusRedeeming, ClassFulfilling
	}
	return StatusRedeeming, ClassFulfilling
}

func classifyRaffle(st itemState) (string, int) {
	if st.isWinner != nil {
		if *st.isWinner {
			return StatusWon, ClassRaffleWon
		}
		return StatusRejected, ClassTerminal
	}
	if st.entered {
		return StatusPendingDraw, ClassRafflePendingDraw
	}
	if st.visibility == catalog.LockedPreview {
		return StatusLocked, ClassLockedPreview
	}
	if st.mission.Activated {
		return StatusRaffleOpen, ClassRaffleOpen
	}
	return StatusDormant, ClassDormant
}

// formatProgress renders the per-metric progress line.
func formatProgress(missionType catalog.MissionType, current, target int64) string {
	switch missionType {
	case catalog.MissionSalesDollars:
		return fmt.Sprintf("$%d / $%d", current, target)
	case catalog.MissionSalesUnits:
		return fmt.Sprintf("%d / %d units", current, target)
	case catalog.MissionVideos:
		return fmt.Sprintf("%d / %d videos", current, target)
	case catalog.MissionLikes:
		return fmt.Sprintf("%d / %d likes", current, target)
	case catalog.MissionViews:
		return fmt.Sprintf("%d / %d views", current, target)
	}
	return ""
}
