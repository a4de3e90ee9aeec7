package redemption

import (
	"context"
	"sync"
	"testing"
	"time"

	"creatorloyalty/pkg/config"
	"creatorloyalty/services/catalog"
	"creatorloyalty/services/tenant"
	"creatorloyalty/services/testutil"
	"creatorloyalty/services/tier"

	"github.com/bwmarrin/snowflake"
	"github.com/hibiken/asynq"
	"github.com/stretchr/testify/require"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
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

func (f *fakeEnqueuer) taskTypes() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	types := make([]string, 0, len(f.tasks))
	for _, t := range f.tasks {
		types = append(types, t.Type())
	}
	return types
}

type fixture struct {
	db       *gorm.DB
	node     *snowflake.Node
	enqueuer *fakeEnqueuer
	tenants  *tenant.Service
	tiers    *tier.Service
	catalog  *catalog.Service
	svc      *Service
}

func newFixture(t *testing.T) *fixture {
	t.Helper()

	db := testutil.NewTestDB(t,
		&tenant.Tenant{}, &tenant.User{}, &tier.Tier{},
		&catalog.Mission{}, &catalog.Reward{},
		&Redemption{}, &CommissionBoostRedemption{}, &PhysicalGiftRedemption{},
	)
	node, err := snowflake.NewNode(1)
	require.NoError(t, err)

	enqueuer := &fakeEnqueuer{}
	tenants := tenant.NewService(tenant.ServiceParams{In: fx.In{}, DB: db, Node: node})
	tiers := tier.NewService(tier.ServiceParams{In: fx.In{}, DB: db})
	catalogSvc := catalog.NewService(catalog.ServiceParams{In: fx.In{}, DB: db, Node: node})

	cfg := &config.Config{}
	cfg.Fulfillment.ClearingDays = 20

	svc := NewService(ServiceParams{
		In:       fx.In{},
		DB:       db,
		Node:     node,
		Config:   cfg,
		Enqueuer: enqueuer,
		Catalog:  catalogSvc,
		Tenants:  tenants,
		Tiers:    tiers,
	})

	require.NoError(t, db.Create([]*tier.Tier{
		{ID: "tier_1", TenantID: "tnt_a", Name: "Bronze", Rank: 1},
		{ID: "tier_2", TenantID: "tnt_a", Name: "Silver", Rank: 2},
		{ID: "tier_3", TenantID: "tnt_a", Name: "Gold", Rank: 3},
	}).Error)

	return &fixture{
		db:       db,
		node:     node,
		enqueuer: enqueuer,
		tenants:  tenants,
		tiers:    tiers,
		catalog:  catalogSvc,
		svc:      svc,
	}
}

func (f *fixture) seedUser(t *testing.T, userTier string) *tenant.User {
	t.Helper()

	user, err := f.tenants.CreateUser(context.Background(), &tenant.CreateUserRequest{
		TenantID:    "tnt_a",
		Handle:      "creator-" + f.node.Generate().String(),
		CurrentTier: userTier,
	})
	require.NoError(t, err)
	return user
}

func (f *fixture) seedReward(t *testing.T, rewardType catalog.RewardType, valueData string) *catalog.Reward {
	t.Helper()

	req := &catalog.CreateRewardRequest{
		TenantID: "tnt_a",
		Type:     rewardType,
	}
	if valueData != "" {
		req.ValueData = datatypes.JSON(valueData)
	}

	reward, err := f.catalog.CreateReward(context.Background(), req)
	require.NoError(t, err)
	return reward
}

func (f *fixture) seedClaimable(t *testing.T, user *tenant.User, reward *catalog.Reward) *Redemption {
	t.Helper()

	row, err := f.svc.Spawn(context.Background(), SpawnInput{
		TenantID:          "tnt_a",
		UserID:            user.ID,
		MissionID:         "msn_" + f.node.Generate().String(),
		MissionProgressID: "prg_" + f.node.Generate().String(),
		RewardID:          reward.ID,
		TierAtClaim:       user.CurrentTier,
	})
	require.NoError(t, err)
	return row
}

func TestSpawn_DuplicateIsAbsorbed(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	user := f.seedUser(t, "tier_1")
	reward := f.seedReward(t, catalog.RewardGiftCard, `{"amount": 50}`)

	in := SpawnInput{
		TenantID:          "tnt_a",
		UserID:            user.ID,
		MissionID:         "msn_1",
		MissionProgressID: "prg_1",
		RewardID:          reward.ID,
		TierAtClaim:       "tier_1",
	}

	first, err := f.svc.Spawn(ctx, in)
	require.NoError(t, err)

	second, err := f.svc.Spawn(ctx, in)
	require.NoError(t, err)
	require.Equal(t, first.ID, second.ID)

	var count int64
	require.NoError(t, f.db.Model(&Redemption{}).Where("mission_progress_id = ?", "prg_1").Count(&count).Error)
	require.EqualValues(t, 1, count)
}

func TestClaim_DoubleClaimSingleTimestamp(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	user := f.seedUser(t, "tier_1")
	reward := f.seedReward(t, catalog.RewardGiftCard, `{"amount": 50}`)
	row := f.seedClaimable(t, user, reward)

	req := &ClaimRequest{RedemptionID: row.ID, TenantID: "tnt_a", UserID: user.ID}

	resp, err := f.svc.Claim(ctx, req)
	require.NoError(t, err)
	require.Equal(t, StatusClaimed, resp.Status)

	_, err = f.svc.Claim(ctx, req)
	require.Equal(t, codes.AlreadyExists, status.Code(err))

	var stored Redemption
	require.NoError(t, f.db.First(&stored, "id = ?", row.ID).Error)
	require.Equal(t, StatusClaimed, stored.Status)
	require.NotNil(t, stored.ClaimedAt)
	require.WithinDuration(t, resp.ClaimedAt, *stored.ClaimedAt, time.Second)
}

func TestClaim_ConcurrentClaimsSingleWinner(t *testing.T) {
	f := newFixture(t)
	user := f.seedUser(t, "tier_1")
	reward := f.seedReward(t, catalog.RewardGiftCard, `{"amount": 50}`)
	row := f.seedClaimable(t, user, reward)

	const attempts = 5
	results := make(chan error, attempts)
	var wg sync.WaitGroup
	for i := 0; i < attempts; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := f.svc.Claim(context.Background(), &ClaimRequest{
				RedemptionID: row.ID, TenantID: "tnt_a", UserID: user.ID,
			})
			results <- err
		}()
	}
	wg.Wait()
	close(results)

	var wins, already int
	for err := range results {
		switch status.Code(err) {
		case codes.OK:
			wins++
		case codes.AlreadyExists:
			already++
		default:
			t.Fatalf("unexpected claim error: %v", err)
		}
	}
	require.Equal(t, 1, wins)
	require.Equal(t, attempts-1, already)
}

func TestClaim_TenantMismatchIsNotFound(t *testing.T) {
	f := newFixture(t)
	user := f.seedUser(t, "tier_1")
	reward := f.seedReward(t, catalog.RewardGiftCard, `{"amount": 50}`)
	row := f.seedClaimable(t, user, reward)

	_, err := f.svc.Claim(context.Background(), &ClaimRequest{
		RedemptionID: row.ID, TenantID: "tnt_b", UserID: user.ID,
	})
	require.Equal(t, codes.NotFound, status.Code(err))

	var stored Redemption
	require.NoError(t, f.db.First(&stored, "id = ?", row.ID).Error)
	require.Equal(t, StatusClaimable, stored.Status)
}

func TestClaim_ScheduledRewardRequiresActivationTime(t *testing.T) {
	f := newFixture(t)
	user := f.seedUser(t, "tier_1")
	reward := f.seedReward(t, catalog.RewardCommissionBoost, `{"percent": 5, "duration_days": 14}`)
	row := f.seedClaimable(t, user, reward)

	_, err := f.svc.Claim(context.Background(), &ClaimRequest{
		RedemptionID: row.ID, TenantID: "tnt_a", UserID: user.ID,
	})
	require.Equal(t, codes.InvalidArgument, status.Code(err))

	at := time.Now().Add(48 * time.Hour)
	resp, err := f.svc.Claim(context.Background(), &ClaimRequest{
		RedemptionID: row.ID, TenantID: "tnt_a", UserID: user.ID,
		Options: ClaimOptions{ScheduledActivationAt: &at},
	})
	require.NoError(t, err)

	boost, err := f.svc.GetBoost(context.Background(), "tnt_a", resp.RedemptionID)
	require.NoError(t, err)
	require.Equal(t, BoostPendingInfo, boost.BoostStatus)
	require.EqualValues(t, 5, boost.Percent)
	require.Equal(t, 14, boost.DurationDays)

	require.Contains(t, f.enqueuer.taskTypes(), "boost:activate")
}

func TestClaim_PhysicalGiftRequiresShippingAndSize(t *testing.T) {
	f := newFixture(t)
	user := f.seedUser(t, "tier_1")
	reward := f.seedReward(t, catalog.RewardPhysicalGift, `{"size_required": true}`)
	row := f.seedClaimable(t, user, reward)

	shipping := &ShippingInfo{
		FirstName: "Ada", LastName: "Li",
		Line1: "1 Main St", City: "Austin",
		PostalCode: "78701", Country: "US",
	}

	_, err := f.svc.Claim(context.Background(), &ClaimRequest{
		RedemptionID: row.ID, TenantID: "tnt_a", UserID: user.ID,
		Options: ClaimOptions{Shipping: shipping},
	})
	require.Equal(t, codes.InvalidArgument, status.Code(err))

	shipping.Size = "M"
	_, err = f.svc.Claim(context.Background(), &ClaimRequest{
		RedemptionID: row.ID, TenantID: "tnt_a", UserID: user.ID,
		Options: ClaimOptions{Shipping: shipping},
	})
	require.NoError(t, err)

	gift, err := f.svc.GetGift(context.Background(), "tnt_a", row.ID)
	require.NoError(t, err)
	require.Equal(t, "M", gift.Size)
	require.Nil(t, gift.ShippedAt)
}

func TestClaim_TierMismatchIsPermissionDenied(t *testing.T) {
	f := newFixture(t)
	user := f.seedUser(t, "tier_1")

	reward, err := f.catalog.CreateReward(context.Background(), &catalog.CreateRewardRequest{
		TenantID:        "tnt_a",
		Type:            catalog.RewardGiftCard,
		TierEligibility: "tier_3",
	})
	require.NoError(t, err)

	row := f.seedClaimable(t, user, reward)

	_, err = f.svc.Claim(context.Background(), &ClaimRequest{
		RedemptionID: row.ID, TenantID: "tnt_a", UserID: user.ID,
	})
	require.Equal(t, codes.PermissionDenied, status.Code(err))
}

func TestLifecycle_ForwardOnly(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	user := f.seedUser(t, "tier_1")
	reward := f.seedReward(t, catalog.RewardGiftCard, `{"amount": 50}`)
	row := f.seedClaimable(t, user, reward)

	// Conclude before fulfill is not a legal move.
	err := f.svc.Conclude(ctx, "tnt_a", row.ID)
	require.Equal(t, codes.FailedPrecondition, status.Code(err))

	_, err = f.svc.Claim(ctx, &ClaimRequest{RedemptionID: row.ID, TenantID: "tnt_a", UserID: user.ID})
	require.NoError(t, err)

	// Reject is claimable-only.
	err = f.svc.Reject(ctx, "tnt_a", row.ID)
	require.Equal(t, codes.FailedPrecondition, status.Code(err))

	require.NoError(t, f.svc.Fulfill(ctx, "tnt_a", row.ID))
	require.NoError(t, f.svc.Conclude(ctx, "tnt_a", row.ID))

	var stored Redemption
	require.NoError(t, f.db.First(&stored, "id = ?", row.ID).Error)
	require.Equal(t, StatusConcluded, stored.Status)
	require.NotNil(t, stored.ConcludedAt)
}

func TestShipAndDeliver(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	user := f.seedUser(t, "tier_1")
	reward := f.seedReward(t, catalog.RewardPhysicalGift, "")
	row := f.seedClaimable(t, user, reward)

	_, err := f.svc.Claim(ctx, &ClaimRequest{
		RedemptionID: row.ID, TenantID: "tnt_a", UserID: user.ID,
		Options: ClaimOptions{Shipping: &ShippingInfo{
			FirstName: "Ada", LastName: "Li",
			Line1: "1 Main St", City: "Austin",
			PostalCode: "78701", Country: "US",
		}},
	})
	require.NoError(t, err)

	// Delivery confirmation cannot land before the carrier handoff.
	err = f.svc.Deliver(ctx, "tnt_a", row.ID)
	require.Equal(t, codes.FailedPrecondition, status.Code(err))

	require.NoError(t, f.svc.Ship(ctx, &ShipRequest{
		TenantID: "tnt_a", RedemptionID: row.ID,
		Carrier: "ups", TrackingNumber: "1Z999",
	}))

	gift, err := f.svc.GetGift(ctx, "tnt_a", row.ID)
	require.NoError(t, err)
	require.NotNil(t, gift.ShippedAt)
	require.Equal(t, "ups", gift.Carrier)

	// A redelivered handoff notification reads as already done, and the
	// first tracking number stays.
	err = f.svc.Ship(ctx, &ShipRequest{
		TenantID: "tnt_a", RedemptionID: row.ID,
		Carrier: "fedex", TrackingNumber: "777",
	})
	require.Equal(t, codes.AlreadyExists, status.Code(err))

	gift, err = f.svc.GetGift(ctx, "tnt_a", row.ID)
	require.NoError(t, err)
	require.Equal(t, "ups", gift.Carrier)

	require.NoError(t, f.svc.Deliver(ctx, "tnt_a", row.ID))

	err = f.svc.Deliver(ctx, "tnt_a", row.ID)
	require.Equal(t, codes.AlreadyExists, status.Code(err))

	var stored Redemption
	require.NoError(t, f.db.First(&stored, "id = ?", row.ID).Error)
	require.Equal(t, StatusConcluded, stored.Status)
}

func TestSpawnCatalog_FrequencyAndQuantity(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	user := f.seedUser(t, "tier_1")

	oneTime := f.seedReward(t, catalog.RewardGiftCard, "")

	_, err := f.svc.SpawnCatalog(ctx, &SpawnCatalogRequest{
		TenantID: "tnt_a", UserID: user.ID, RewardID: oneTime.ID, UserTier: "tier_1",
	})
	require.NoError(t, err)

	_, err = f.svc.SpawnCatalog(ctx, &SpawnCatalogRequest{
		TenantID: "tnt_a", UserID: user.ID, RewardID: oneTime.ID, UserTier: "tier_1",
	})
	require.Equal(t, codes.AlreadyExists, status.Code(err))

	quantity := 1
	capped, err := f.catalog.CreateReward(ctx, &catalog.CreateRewardRequest{
		TenantID:            "tnt_a",
		Type:                catalog.RewardExperience,
		RedemptionFrequency: catalog.FrequencyUnlimited,
		RedemptionQuantity:  &quantity,
	})
	require.NoError(t, err)

	_, err = f.svc.SpawnCatalog(ctx, &SpawnCatalogRequest{
		TenantID: "tnt_a", UserID: user.ID, RewardID: capped.ID, UserTier: "tier_1",
	})
	require.NoError(t, err)

	other := f.seedUser(t, "tier_1")
	_, err = f.svc.SpawnCatalog(ctx, &SpawnCatalogRequest{
		TenantID: "tnt_a", UserID: other.ID, RewardID: capped.ID, UserTier: "tier_1",
	})
	require.Equal(t, codes.ResourceExhausted, status.Code(err))
}

func TestBoostWorkers_ActivateAndClear(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	user := f.seedUser(t, "tier_1")
	reward := f.seedReward(t, catalog.RewardCommissionBoost, `{"percent": 10, "duration_days": 7}`)
	row := f.seedClaimable(t, user, reward)

	at := time.Now()
	_, err := f.svc.Claim(ctx, &ClaimRequest{
		RedemptionID: row.ID, TenantID: "tnt_a", UserID: user.ID,
		Options: ClaimOptions{ScheduledActivationAt: &at},
	})
	require.NoError(t, err)

	activate, err := NewBoostActivateTask(BoostActivatePayload{TenantID: "tnt_a", RedemptionID: row.ID})
	require.NoError(t, err)
	require.NoError(t, f.svc.HandleBoostActivate(ctx, activate))

	boost, err := f.svc.GetBoost(ctx, "tnt_a", row.ID)
	require.NoError(t, err)
	require.Equal(t, BoostActive, boost.BoostStatus)
	require.NotNil(t, boost.ExpiresAt)

	clear, err := NewBoostClearTask(BoostClearPayload{TenantID: "tnt_a", RedemptionID: row.ID})
	require.NoError(t, err)

	// First pass parks the boost for the returns window.
	require.NoError(t, f.svc.HandleBoostClear(ctx, clear))
	boost, err = f.svc.GetBoost(ctx, "tnt_a", row.ID)
	require.NoError(t, err)
	require.Equal(t, BoostPendingPayout, boost.BoostStatus)

	// Second pass clears the payout and fulfills the redemption.
	require.NoError(t, f.svc.HandleBoostClear(ctx, clear))
	boost, err = f.svc.GetBoost(ctx, "tnt_a", row.ID)
	require.NoError(t, err)
	require.Equal(t, BoostFulfilled, boost.BoostStatus)
	require.NotNil(t, boost.ClearedAt)

	var stored Redemption
	require.NoError(t, f.db.First(&stored, "id = ?", row.ID).Error)
	require.Equal(t, StatusFulfilled, stored.Status)
}

func TestFulfillInstantWorker(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	user := f.seedUser(t, "tier_1")
	reward := f.seedReward(t, catalog.RewardGiftCard, `{"amount": 25}`)
	row := f.seedClaimable(t, user, reward)

	_, err := f.svc.Claim(ctx, &ClaimRequest{RedemptionID: row.ID, TenantID: "tnt_a", UserID: user.ID})
	require.NoError(t, err)
	require.Contains(t, f.enqueuer.taskTypes(), "redemption:fulfill_instant")

	task, err := NewFulfillInstantTask(FulfillInstantPayload{TenantID: "tnt_a", RedemptionID: row.ID})
	require.NoError(t, err)

	require.NoError(t, f.svc.HandleFulfillInstant(ctx, task))
	// Redelivery is a no-op.
	require.NoError(t, f.svc.HandleFulfillInstant(ctx, task))

	var stored Redemption
	require.NoError(t, f.db.First(&stored, "id = ?", row.ID).Error)
	require.Equal(t, StatusFulfilled, stored.Status)
	require.NotNil(t, stored.FulfilledAt)
}
