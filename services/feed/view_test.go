package feed

import (
	"testing"
	"time"

	"creatorloyalty/services/catalog"
	"creatorloyalty/services/progress"
	"creatorloyalty/services/redemption"

	"github.com/stretchr/testify/require"
)

func TestFormatProgress(t *testing.T) {
	require.Equal(t, "$40 / $100", formatProgress(catalog.MissionSalesDollars, 40, 100))
	require.Equal(t, "3 / 5 units", formatProgress(catalog.MissionSalesUnits, 3, 5))
	require.Equal(t, "1 / 2 videos", formatProgress(catalog.MissionVideos, 1, 2))
	require.Equal(t, "10 / 50 likes", formatProgress(catalog.MissionLikes, 10, 50))
	require.Equal(t, "0 / 1000 views", formatProgress(catalog.MissionViews, 0, 1000))
	require.Equal(t, "", formatProgress(catalog.MissionRaffle, 0, 0))
}

func TestSortViews(t *testing.T) {
	base := time.Date(2026, 8, 1, 0, 0, 0, 0, time.UTC)

	views := []*MissionView{
		{MissionID: "m1", PriorityClass: ClassDormant, DisplayOrder: 1, CreatedAt: base},
		{MissionID: "m2", PriorityClass: ClassClaimableInstant, DisplayOrder: 5, CreatedAt: base},
		{MissionID: "m3", PriorityClass: ClassClaimableInstant, DisplayOrder: 2, CreatedAt: base},
		{MissionID: "m4", PriorityClass: ClassTerminal, DisplayOrder: 0, CreatedAt: base, Featured: true},
		{MissionID: "m5", PriorityClass: ClassClaimableInstant, DisplayOrder: 2, CreatedAt: base.Add(-time.Hour)},
	}
	sortViews(views)

	got := make([]string, 0, len(views))
	for _, v := range views {
		got = append(got, v.MissionID)
	}
	require.Equal(t, []string{"m4", "m5", "m3", "m2", "m1"}, got)
}

func TestClassify_BoostStates(t *testing.T) {
	now := time.Now()
	mission := &catalog.Mission{Type: catalog.MissionSalesUnits}
	reward := &catalog.Reward{Type: catalog.RewardCommissionBoost}

	claimed := &redemption.Redemption{Status: redemption.StatusClaimed}

	st := itemState{
		mission:    mission,
		reward:     reward,
		visibility: catalog.EligibleClaimable,
		redemption: claimed,
		boost:      &redemption.CommissionBoostRedemption{BoostStatus: redemption.BoostPendingInfo},
		now:        now,
	}
	gotStatus, gotClass := classify(st)
	require.Equal(t, StatusPendingInfo, gotStatus)
	require.Equal(t, ClassPendingInfo, gotClass)

	st.boost = &redemption.CommissionBoostRedemption{BoostStatus: redemption.BoostActive}
	gotStatus, gotClass = classify(st)
	require.Equal(t, StatusActive, gotStatus)
	require.Equal(t, ClassActive, gotClass)

	st.boost = &redemption.CommissionBoostRedemption{BoostStatus: redemption.BoostPendingPayout}
	gotStatus, gotClass = classify(st)
	require.Equal(t, StatusClearing, gotStatus)
	require.Equal(t, ClassFulfilling, gotClass)
}

func TestClassify_ScheduledClaimable(t *testing.T) {
	st := itemState{
		mission:    &catalog.Mission{Type: catalog.MissionSalesUnits},
		reward:     &catalog.Reward{Type: catalog.RewardDiscount},
		visibility: catalog.EligibleClaimable,
		redemption: &redemption.Redemption{Status: redemption.StatusClaimable},
		now:        time.Now(),
	}
	gotStatus, gotClass := classify(st)
	require.Equal(t, StatusScheduled, gotStatus)
	require.Equal(t, ClassClaimableScheduled, gotClass)
}

func TestClassify_DormantOutranksLockedPreview(t *testing.T) {
	dormant := itemState{
		mission:    &catalog.Mission{Type: catalog.MissionViews},
		reward:     &catalog.Reward{Type: catalog.RewardGiftCard},
		visibility: catalog.EligibleClaimable,
		now:        time.Now(),
	}
	locked := dormant
	locked.visibility = catalog.LockedPreview

	dormantStatus, dormantClass := classify(dormant)
	lockedStatus, lockedClass := classify(locked)
	require.Equal(t, StatusDormant, dormantStatus)
	require.Equal(t, StatusLocked, lockedStatus)
	require.Less(t, dormantClass, lockedClass)
}

func TestClassify_TerminalWinsOverEverything(t *testing.T) {
	st := itemState{
		mission:    &catalog.Mission{Type: catalog.MissionSalesUnits},
		reward:     &catalog.Reward{Type: catalog.RewardGiftCard},
		visibility: catalog.EligibleClaimable,
		progress:   &progress.MissionProgress{Status: progress.StatusCompleted},
		redemption: &redemption.Redemption{Status: redemption.StatusConcluded},
		now:        time.Now(),
	}
	gotStatus, gotClass := classify(st)
	require.Equal(t, StatusConcluded, gotStatus)
	require.Equal(t, ClassTerminal, gotClass)
}
