package activity

import (
	"time"
)

// Metric names match mission types so the progress tracker can sum the
// relevant rollup directly.
const (
	MetricSalesDollars = "sales_dollars"
	MetricSalesUnits   = "sales_units"
	MetricVideos       = "videos"
	MetricLikes        = "likes"
	MetricViews        = "views"
)

// MetricRollup is one aggregated counter bucket written by the upstream
// ingestion pipeline: per user, per metric, per day. The progress
// tracker only ever reads these; it never sees raw activity.
type MetricRollup struct {
	ID         string    `gorm:"column:id;primaryKey"`
	TenantID   string    `gorm:"column:tenant_id;uniqueIndex:idx_rollup_bucket;not null"`
	UserID     string    `gorm:"column:user_id;uniqueIndex:idx_rollup_bucket;not null"`
	Metric     string    `gorm:"column:metric;type:varchar(20);uniqueIndex:idx_rollup_bucket;not null"`
	BucketDate time.Time `gorm:"column:bucket_date;uniqueIndex:idx_rollup_bucket;not null"`
	Value      int64     `gorm:"column:value;not null;default:0"`
	CreatedAt  time.Time `gorm:"column:created_at;autoCreateTime"`
	UpdatedAt  time.Time `gorm:"column:updated_at;autoUpdateTime"`
}

func (MetricRollup) TableName() string { return "metric_rollups" }
