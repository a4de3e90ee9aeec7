package feed

import (
	"context"
	"sync"
	"testing"
	"time"

	"creatorloyalty/pkg/config"
	"creatorloyalty/services/catalog"
	"creatorloyalty/services/progress"
	"creatorloyalty/services/raffle"
	"creatorloyalty/services/redemption"
	"creatorloyalty/services/tenant"
	"creatorloyalty/services/testutil"
	"creatorloyalty/services/tier"

	"github.com/bwmarrin/snowflake"
	"github.com/hibiken/asynq"
	"github.com/stretchr/testify/require"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/datatypes"
	"gorm.io/gorm"
)

func init() {
	zap.ReplaceGlobals(zap.NewNop())
}

type fakeEnqueuer struct {
	mu    sync.Mutex
	tasks []*asynq.Task
}

func (f *fakeEnqueuer) Enqueue(task *asynq.Task, opts ...asynq.Option) (*asynq.TaskInfo, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.tasks = append(f.tasks, task)
	return &asynq.TaskInfo{}, nil
}

type fixture struct {
	db          *gorm.DB
	node        *snowflake.Node
	tenants     *tenant.Service
	catalog     *catalog.Service
	redemptions *redemption.Service
	raffles     *raffle.Service
	svc         *Service
}

func newFixture(t *testing.T) *fixture {
	t.Helper()

	db := testutil.NewTestDB(t,
		&tenant.Tenant{}, &tenant.User{}, &tier.Tier{},
		&catalog.Mission{}, &catalog.Reward{},
		&progress.MissionProgress{}, &raffle.RaffleParticipation{},
		&redemption.Redemption{}, &redemption.CommissionBoostRedemption{}, &redemption.PhysicalGiftRedemption{},
	)
	node, err := snowflake.NewNode(1)
	require.NoError(t, err)

	tenants := tenant.NewService(tenant.ServiceParams{In: fx.In{}, DB: db, Node: node})
	tiers := tier.NewService(tier.ServiceParams{In: fx.In{}, DB: db})
	catalogSvc := catalog.NewService(catalog.ServiceParams{In: fx.In{}, DB: db, Node: node})

	cfg := &config.Config{}
	cfg.Fulfillment.ClearingDays = 20

	redemptions := redemption.NewService(redemption.ServiceParams{
		In:       fx.In{},
		DB:       db,
		Node:     node,
		Config:   cfg,
		Enqueuer: &fakeEnqueuer{},
		Catalog:  catalogSvc,
		Tenants:  tenants,
		Tiers:    tiers,
	})

	raffles := raffle.NewService(raffle.ServiceParams{
		In:          fx.In{},
		DB:          db,
		Node:        node,
		Catalog:     catalogSvc,
		Tenants:     tenants,
		Tiers:       tiers,
		Redemptions: redemptions,
	})

	svc := NewService(ServiceParams{
		In:      fx.In{},
		DB:      db,
		Catalog: catalogSvc,
		Tenants: tenants,
		Tiers:   tiers,
	})

	for _, tnt := range []string{"tnt_a", "tnt_b"} {
		require.NoError(t, db.Create([]*tier.Tier{
			{ID: "tier_1", TenantID: tnt, Name: "Bronze", Rank: 1},
			{ID: "tier_2", TenantID: tnt, Name: "Silver", Rank: 2},
			{ID: "tier_3", TenantID: tnt, Name: "Gold", Rank: 3},
		}).Error)
	}

	return &fixture{
		db:          db,
		node:        node,
		tenants:     tenants,
		catalog:     catalogSvc,
		redemptions: redemptions,
		raffles:     raffles,
		svc:         svc,
	}
}

func (f *fixture) seedUser(t *testing.T, tenantID, userTier string) *tenant.User {
	t.Helper()

	user, err := f.tenants.CreateUser(context.Background(), &tenant.CreateUserRequest{
		TenantID:    tenantID,
		Handle:      "creator-" + f.node.Generate().String(),
		CurrentTier: userTier,
	})
	require.NoError(t, err)
	return user
}

type missionSpec struct {
	tenantID        string
	missionType     catalog.MissionType
	rewardType      catalog.RewardType
	target          int64
	tierEligibility string
	previewFrom     *string
	displayOrder    int
	featured        bool
	valueData       string
}

func (f *fixture) seedMission(t *testing.T, spec missionSpec) *catalog.Mission {
	t.Helper()
	ctx := context.Background()

	rewardReq := &catalog.CreateRewardRequest{
		TenantID:        spec.tenantID,
		Type:            spec.rewardType,
		TierEligibility: spec.tierEligibility,
		PreviewFromTier: spec.previewFrom,
	}
	if spec.valueData != "" {
		rewardReq.ValueData = datatypes.JSON(spec.valueData)
	}
	reward, err := f.catalog.CreateReward(ctx, rewardReq)
	require.NoError(t, err)

	mission, err := f.catalog.CreateMission(ctx, &catalog.CreateMissionRequest{
		TenantID:        spec.tenantID,
		Name:            string(spec.missionType) + " mission",
		Type:            spec.missionType,
		TargetValue:     spec.target,
		TierEligibility: spec.tierEligibility,
		PreviewFromTier: spec.previewFrom,
		RewardID:        reward.ID,
		DisplayOrder:    spec.displayOrder,
		Featured:        spec.featured,
	})
	require.NoError(t, err)
	return mission
}

func (f *fixture) spawnClaimable(t *testing.T, user *tenant.User, mission *catalog.Mission) *redemption.Redemption {
	t.Helper()

	prog := &progress.MissionProgress{
		ID:        f.node.Generate().String(),
		TenantID:  mission.TenantID,
		UserID:    user.ID,
		MissionID: mission.ID,
		Status:    progress.StatusCompleted,
	}
	now := time.Now()
	prog.CompletedAt = &now
	prog.CurrentValue = mission.TargetValue
	require.NoError(t, f.db.Create(prog).Error)

	row, err := f.redemptions.Spawn(context.Background(), redemption.SpawnInput{
		TenantID:          mission.TenantID,
		UserID:            user.ID,
		MissionID:         mission.ID,
		MissionProgressID: prog.ID,
		RewardID:          mission.RewardID,
		TierAtClaim:       user.CurrentTier,
	})
	require.NoError(t, err)
	return row
}

func TestListAvailableMissions_Ordering(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	user := f.seedUser(t, "tnt_a", "tier_1")

	// Dormant mission, nothing earned yet.
	dormant := f.seedMission(t, missionSpec{
		tenantID: "tnt_a", missionType: catalog.MissionViews,
		rewardType: catalog.RewardGiftCard, target: 1000,
		tierEligibility: catalog.TierEligibilityAll, displayOrder: 1,
	})
	// In-progress mission.
	inProgress := f.seedMission(t, missionSpec{
		tenantID: "tnt_a", missionType: catalog.MissionSalesUnits,
		rewardType: catalog.RewardGiftCard, target: 100,
		tierEligibility: catalog.TierEligibilityAll, displayOrder: 2,
	})
	require.NoError(t, f.db.Create(&progress.MissionProgress{
		ID: f.node.Generate().String(), TenantID: "tnt_a",
		UserID: user.ID, MissionID: inProgress.ID,
		CurrentValue: 40, Status: progress.StatusActive,
	}).Error)

	// Claimable mission.
	claimable := f.seedMission(t, missionSpec{
		tenantID: "tnt_a", missionType: catalog.MissionVideos,
		rewardType: catalog.RewardGiftCard, target: 5,
		tierEligibility: catalog.TierEligibilityAll, displayOrder: 3,
	})
	f.spawnClaimable(t, user, claimable)

	// Locked preview of a higher tier's mission.
	preview := "tier_1"
	locked := f.seedMission(t, missionSpec{
		tenantID: "tnt_a", missionType: catalog.MissionLikes,
		rewardType: catalog.RewardGiftCard, target: 50,
		tierEligibility: "tier_3", previewFrom: &preview, displayOrder: 4,
	})

	views, err := f.svc.ListAvailableMissions(ctx, &ListMissionsRequest{TenantID: "tnt_a", UserID: user.ID})
	require.NoError(t, err)
	require.Len(t, views, 4)

	require.Equal(t, claimable.ID, views[0].MissionID)
	require.Equal(t, StatusClaimable, views[0].Status)
	require.Equal(t, inProgress.ID, views[1].MissionID)
	require.Equal(t, StatusInProgress, views[1].Status)
	require.Equal(t, dormant.ID, views[2].MissionID)
	require.Equal(t, StatusDormant, views[2].Status)
	require.Equal(t, locked.ID, views[3].MissionID)
	require.Equal(t, StatusLocked, views[3].Status)
}

func TestListAvailableMissions_FeaturedPinnedFirst(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	user := f.seedUser(t, "tnt_a", "tier_1")

	claimable := f.seedMission(t, missionSpec{
		tenantID: "tnt_a", missionType: catalog.MissionVideos,
		rewardType: catalog.RewardGiftCard, target: 5,
		tierEligibility: catalog.TierEligibilityAll, displayOrder: 1,
	})
	f.spawnClaimable(t, user, claimable)

	featured := f.seedMission(t, missionSpec{
		tenantID: "tnt_a", missionType: catalog.MissionViews,
		rewardType: catalog.RewardGiftCard, target: 1000,
		tierEligibility: catalog.TierEligibilityAll, displayOrder: 9, featured: true,
	})

	views, err := f.svc.ListAvailableMissions(ctx, &ListMissionsRequest{TenantID: "tnt_a", UserID: user.ID})
	require.NoError(t, err)
	require.Len(t, views, 2)

	// Featured wins over a higher computed priority.
	require.Equal(t, featured.ID, views[0].MissionID)
	require.Equal(t, claimable.ID, views[1].MissionID)
}

func TestListAvailableMissions_GrandfatheredUntilTerminal(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	user := f.seedUser(t, "tnt_a", "tier_3")

	mission := f.seedMission(t, missionSpec{
		tenantID: "tnt_a", missionType: catalog.MissionSalesUnits,
		rewardType: catalog.RewardGiftCard, target: 10,
		tierEligibility: "tier_3",
	})
	row := f.spawnClaimable(t, user, mission)

	_, err := f.redemptions.Claim(ctx, &redemption.ClaimRequest{
		RedemptionID: row.ID, TenantID: "tnt_a", UserID: user.ID,
	})
	require.NoError(t, err)

	// Demote the user below the mission's tier.
	require.NoError(t, f.db.Model(&tenant.User{}).Where("id = ?", user.ID).Update("current_tier", "tier_1").Error)

	views, err := f.svc.ListAvailableMissions(ctx, &ListMissionsRequest{TenantID: "tnt_a", UserID: user.ID})
	require.NoError(t, err)
	require.Len(t, views, 1)
	require.Equal(t, mission.ID, views[0].MissionID)
	require.Equal(t, StatusRedeeming, views[0].Status)

	// Terminal redemption ends the grandfathering.
	require.NoError(t, f.redemptions.Fulfill(ctx, "tnt_a", row.ID))
	require.NoError(t, f.redemptions.Conclude(ctx, "tnt_a", row.ID))

	views, err = f.svc.ListAvailableMissions(ctx, &ListMissionsRequest{TenantID: "tnt_a", UserID: user.ID})
	require.NoError(t, err)
	require.Empty(t, views)
}

func TestListAvailableMissions_TenantIsolation(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	userA := f.seedUser(t, "tnt_a", "tier_1")
	f.seedMission(t, missionSpec{
		tenantID: "tnt_a", missionType: catalog.MissionViews,
		rewardType: catalog.RewardGiftCard, target: 100,
		tierEligibility: catalog.TierEligibilityAll,
	})
	f.seedMission(t, missionSpec{
		tenantID: "tnt_b", missionType: catalog.MissionViews,
		rewardType: catalog.RewardGiftCard, target: 100,
		tierEligibility: catalog.TierEligibilityAll,
	})

	views, err := f.svc.ListAvailableMissions(ctx, &ListMissionsRequest{TenantID: "tnt_a", UserID: userA.ID})
	require.NoError(t, err)
	require.Len(t, views, 1)

	// The user id does not resolve through the other tenant.
	_, err = f.svc.ListAvailableMissions(ctx, &ListMissionsRequest{TenantID: "tnt_b", UserID: userA.ID})
	require.Error(t, err)
}

func TestListAvailableMissions_RaffleStatuses(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	user := f.seedUser(t, "tnt_a", "tier_1")

	mission := f.seedMission(t, missionSpec{
		tenantID: "tnt_a", missionType: catalog.MissionRaffle,
		rewardType: catalog.RewardRaffleGift,
		tierEligibility: catalog.TierEligibilityAll,
		valueData:       `{"amount": 500}`,
	})
	require.NoError(t, f.catalog.SetActivated(ctx, "tnt_a", mission.ID, true))

	views, err := f.svc.ListAvailableMissions(ctx, &ListMissionsRequest{TenantID: "tnt_a", UserID: user.ID})
	require.NoError(t, err)
	require.Len(t, views, 1)
	require.Equal(t, StatusRaffleOpen, views[0].Status)
	require.Equal(t, ClassRaffleOpen, views[0].PriorityClass)

	_, err = f.raffles.Participate(ctx, &raffle.ParticipateRequest{
		TenantID: "tnt_a", MissionID: mission.ID, UserID: user.ID,
	})
	require.NoError(t, err)

	views, err = f.svc.ListAvailableMissions(ctx, &ListMissionsRequest{TenantID: "tnt_a", UserID: user.ID})
	require.NoError(t, err)
	require.Equal(t, StatusPendingDraw, views[0].Status)
	require.Equal(t, ClassRafflePendingDraw, views[0].PriorityClass)

	entry, err := f.raffles.GetParticipation(ctx, "tnt_a", mission.ID, user.ID)
	require.NoError(t, err)
	require.NoError(t, f.raffles.SelectWinner(ctx, &raffle.SelectWinnerRequest{
		TenantID: "tnt_a", MissionID: mission.ID, WinningParticipationID: entry.ID,
	}))

	views, err = f.svc.ListAvailableMissions(ctx, &ListMissionsRequest{TenantID: "tnt_a", UserID: user.ID})
	require.NoError(t, err)
	require.Equal(t, StatusWon, views[0].Status)
	require.Equal(t, ClassRaffleWon, views[0].PriorityClass)
}

func TestGetMissionHistory(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	user := f.seedUser(t, "tnt_a", "tier_1")

	mission := f.seedMission(t, missionSpec{
		tenantID: "tnt_a", missionType: catalog.MissionVideos,
		rewardType: catalog.RewardGiftCard, target: 5,
		tierEligibility: catalog.TierEligibilityAll,
	})
	row := f.spawnClaimable(t, user, mission)

	_, err := f.redemptions.Claim(ctx, &redemption.ClaimRequest{
		RedemptionID: row.ID, TenantID: "tnt_a", UserID: user.ID,
	})
	require.NoError(t, err)
	require.NoError(t, f.redemptions.Fulfill(ctx, "tnt_a", row.ID))
	require.NoError(t, f.redemptions.Conclude(ctx, "tnt_a", row.ID))

	// A lost raffle shows up with its outcome.
	raffleMission := f.seedMission(t, missionSpec{
		tenantID: "tnt_a", missionType: catalog.MissionRaffle,
		rewardType: catalog.RewardRaffleGift,
		tierEligibility: catalog.TierEligibilityAll,
	})
	require.NoError(t, f.catalog.SetActivated(ctx, "tnt_a", raffleMission.ID, true))

	_, err = f.raffles.Participate(ctx, &raffle.ParticipateRequest{
		TenantID: "tnt_a", MissionID: raffleMission.ID, UserID: user.ID,
	})
	require.NoError(t, err)

	other := f.seedUser(t, "tnt_a", "tier_1")
	winner, err := f.raffles.Participate(ctx, &raffle.ParticipateRequest{
		TenantID: "tnt_a", MissionID: raffleMission.ID, UserID: other.ID,
	})
	require.NoError(t, err)

	require.NoError(t, f.raffles.SelectWinner(ctx, &raffle.SelectWinnerRequest{
		TenantID: "tnt_a", MissionID: raffleMission.ID, WinningParticipationID: winner.ParticipationID,
	}))

	history, err := f.svc.GetMissionHistory(ctx, &HistoryRequest{TenantID: "tnt_a", UserID: user.ID})
	require.NoError(t, err)
	require.Len(t, history, 2)

	byStatus := map[redemption.Status]*HistoryEntry{}
	for _, entry := range history {
		byStatus[entry.Status] = entry
	}

	require.Equal(t, catalog.RewardGiftCard, byStatus[redemption.StatusConcluded].RewardType)
	require.False(t, byStatus[redemption.StatusConcluded].IsRaffle)

	lost := byStatus[redemption.StatusRejected]
	require.True(t, lost.IsRaffle)
	require.NotNil(t, lost.IsWinner)
	require.False(t, *lost.IsWinner)
}
