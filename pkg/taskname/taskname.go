package taskname

const (
	// Progress tasks
	ProgressRecompute = "progress:recompute"

	// Redemption tasks
	RedemptionFulfillInstant = "redemption:fulfill_instant"

	// Commission boost tasks
	BoostActivate = "boost:activate"
	BoostClear    = "boost:clear"

	// Discount tasks
	DiscountActivate = "discount:activate"
	DiscountExpire   = "discount:expire"
)
