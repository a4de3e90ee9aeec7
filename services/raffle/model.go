package raffle

import "time"

// RaffleParticipation is one user's entry in a raffle mission.
// is_winner stays NULL until the draw; the unique (mission, user) index
// guards the entry race the same way claims are guarded.
type RaffleParticipation struct {
	ID                string     `gorm:"column:id;primaryKey"`
	TenantID          string     `gorm:"column:tenant_id;index;not null"`
	MissionID         string     `gorm:"column:mission_id;uniqueIndex:idx_raffle_mission_user;not null"`
	UserID            string     `gorm:"column:user_id;uniqueIndex:idx_raffle_mission_user;not null"`
	MissionProgressID string     `gorm:"column:mission_progress_id;not null"`
	RedemptionID      string     `gorm:"column:redemption_id;not null"`
	IsWinner          *bool      `gorm:"column:is_winner"`
	ParticipatedAt    time.Time  `gorm:"column:participated_at;not null"`
	WinnerSelectedAt  *time.Time `gorm:"column:winner_selected_at"`
	CreatedAt         time.Time  `gorm:"column:created_at;autoCreateTime"`
	UpdatedAt         time.Time  `gorm:"column:updated_at;autoUpdateTime"`
}

func (RaffleParticipation) TableName() string { return "raffle_participations" }
