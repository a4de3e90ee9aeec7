package catalog

import "creatorloyalty/services/tier"

type Visibility int

const (
	Hidden Visibility = iota
	LockedPreview
	EligibleVisible
	EligibleClaimable
)

func (v Visibility) String() string {
	switch v {
	case LockedPreview:
		return "locked_preview"
	case EligibleVisible:
		return "eligible_visible"
	case EligibleClaimable:
		return "eligible_claimable"
	}
	return "hidden"
}

// Eligible is the subset of mission/reward fields visibility depends on.
type Eligible struct {
	TierEligibility string
	PreviewFromTier *string
	Enabled         bool
}

func (m *Mission) Eligibility() Eligible {
	return Eligible{
		TierEligibility: m.TierEligibility,
		PreviewFromTier: m.PreviewFromTier,
		Enabled:         m.Enabled,
	}
}

func (r *Reward) Eligibility() Eligible {
	return Eligible{
		TierEligibility: r.TierEligibility,
		PreviewFromTier: r.PreviewFromTier,
		Enabled:         r.Enabled,
	}
}

// ItemVisibility computes what one user may do with one catalog item.
//
// Claim rights come only from an exact tier match or "all". A
// preview_from_tier at or below the user's tier grants visibility
// without claim rights. inflight marks a non-terminal redemption
// (claimed or fulfilled) held by the user for this item: it keeps a
// demoted or disabled item visible, but never makes it newly claimable.
func ItemVisibility(userTier string, ladder tier.Ladder, item Eligible, inflight bool) Visibility {
	if !item.Enabled {
		if inflight {
			return EligibleVisible
		}
		return Hidden
	}

	if item.TierEligibility == TierEligibilityAll || item.TierEligibility == userTier {
		return EligibleClaimable
	}

	if inflight {
		return EligibleVisible
	}

	if item.PreviewFromTier != nil && ladder.AtOrAbove(userTier, *item.PreviewFromTier) {
		return LockedPreview
	}

	return Hidden
}
