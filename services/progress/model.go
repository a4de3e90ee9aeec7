package progress

import "time"

type Status string

const (
	StatusDormant   Status = "dormant"
	StatusActive    Status = "active"
	StatusCompleted Status = "completed"
)

func (s Status) String() string { return string(s) }

// MissionProgress is one user's standing on one mission. Status only
// moves forward: dormant -> active -> completed. Completion is a
// one-way latch; a later drop in current_value never reopens it.
type MissionProgress struct {
	ID           string     `gorm:"column:id;primaryKey"`
	TenantID     string     `gorm:"column:tenant_id;index;not null"`
	UserID       string     `gorm:"column:user_id;uniqueIndex:idx_progress_user_mission;not null"`
	MissionID    string     `gorm:"column:mission_id;uniqueIndex:idx_progress_user_mission;not null"`
	CurrentValue int64      `gorm:"column:current_value;not null;default:0"`
	Status       Status     `gorm:"column:status;type:varchar(20);not null;default:'dormant'"`
	CompletedAt  *time.Time `gorm:"column:completed_at"`
	CreatedAt    time.Time  `gorm:"column:created_at;autoCreateTime"`
	UpdatedAt    time.Time  `gorm:"column:updated_at;autoUpdateTime"`
}

func (MissionProgress) TableName() string { return "mission_progresses" }
