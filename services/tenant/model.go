package tenant

import "time"

type TenantStatus string

var (
	Pending   TenantStatus = "pending"
	Active    TenantStatus = "active"
	Suspended TenantStatus = "suspended"
	Archived  TenantStatus = "archived"
)

func (t TenantStatus) String() string {
	switch t {
	case Pending, Active, Suspended, Archived:
		return string(t)
	default:
		return ""
	}
}

// Tenant is one isolated client organization. Everything downstream of
// this table carries its id; rows from two tenants never meet in a query.
type Tenant struct {
	ID          string       `gorm:"column:id;primaryKey"`
	CreatedAt   time.Time    `gorm:"column:created_at"`
	UpdatedAt   time.Time    `gorm:"column:updated_at"`
	Name        string       `gorm:"column:name;not null"`
	Slug        string       `gorm:"column:slug;uniqueIndex;not null"`
	CountryCode string       `gorm:"column:country_code"`
	Timezone    string       `gorm:"column:timezone"`
	Status      TenantStatus `gorm:"column:status"`
}

func (Tenant) TableName() string { return "tenants" }

// User is a creator account inside one tenant. CurrentTier points at the
// tenant's ladder; CheckpointStart anchors the rolling window progress
// accumulates over.
type User struct {
	ID              string    `gorm:"column:id;primaryKey"`
	TenantID        string    `gorm:"column:tenant_id;index;not null"`
	Handle          string    `gorm:"column:handle;index"`
	Email           string    `gorm:"column:email"`
	CurrentTier     string    `gorm:"column:current_tier"`
	CheckpointStart time.Time `gorm:"column:checkpoint_start"`
	CreatedAt       time.Time `gorm:"column:created_at;autoCreateTime"`
	UpdatedAt       time.Time `gorm:"column:updated_at;autoUpdateTime"`
}

func (User) TableName() string { return "users" }
