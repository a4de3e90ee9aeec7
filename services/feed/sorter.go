package feed

import "sort"

// sortViews orders a user's feed by (priority_class, display_order,
// created_at) ascending, with featured items pinned first regardless of
// computed priority.
func sortViews(views []*MissionView) {
	sort.SliceStable(views, func(i, j int) bool {
		a, b := views[i], views[j]
		if a.Featured != b.Featured {
			return a.Featured
		}
		if a.PriorityClass != b.PriorityClass {
			return a.PriorityClass < b.PriorityClass
		}
		if a.DisplayOrder != b.DisplayOrder {
			return a.DisplayOrder < b.DisplayOrder
		}
		return a.CreatedAt.Before(b.CreatedAt)
	})
}
