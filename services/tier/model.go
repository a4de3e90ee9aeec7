package tier

import "time"

// Tier is one rung of a tenant's ladder. IDs follow the admin catalog
// convention ("tier_1".."tier_n"); Rank orders rungs ascending, so a
// higher rank means a higher tier.
type Tier struct {
	ID        string    `gorm:"column:id;primaryKey"`
	TenantID  string    `gorm:"column:tenant_id;primaryKey"`
	Name      string    `gorm:"column:name;not null"`
	Rank      int       `gorm:"column:rank;not null"`
	CreatedAt time.Time `gorm:"column:created_at;autoCreateTime"`
	UpdatedAt time.Time `gorm:"column:updated_at;autoUpdateTime"`
}

func (Tier) TableName() string { return "tiers" }

// Ladder is an immutable snapshot of one tenant's tier ordering, passed
// into operations instead of being held as shared mutable state.
type Ladder struct {
	ranks map[string]int
}

func NewLadder(tiers []*Tier) Ladder {
	ranks := make(map[string]int, len(tiers))
	for _, t := range tiers {
		ranks[t.ID] = t.Rank
	}
	return Ladder{ranks: ranks}
}

func (l Ladder) Rank(tierID string) (int, bool) {
	rank, ok := l.ranks[tierID]
	return rank, ok
}

// AtOrAbove reports whether userTier sits at or above requiredTier on
// the ladder. Unknown tiers never satisfy the comparison.
func (l Ladder) AtOrAbove(userTier, requiredTier string) bool {
	userRank, ok := l.ranks[userTier]
	if !ok {
		return false
	}
	requiredRank, ok := l.ranks[requiredTier]
	if !ok {
		return false
	}
	return userRank >= requiredRank
}
