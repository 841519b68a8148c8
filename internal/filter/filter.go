// Package filter implements the quality gate applied to candidate deals
// before they are considered for posting.
package filter

import (
	"math"

	"github.com/vucciaro/dealsbot/internal/models"
)

// Accepts reports whether the deal clears every threshold in the profile.
// A deal with missing or non-finite numeric fields is rejected outright:
// the gate fails closed rather than letting bad data through.
func Accepts(deal models.Deal, profile models.CategoryProfile) bool {
	if !deal.Valid() {
		return false
	}
	if math.IsNaN(profile.MinDiscount) || math.IsNaN(profile.MinRating) ||
		math.IsNaN(profile.MinPrice) || math.IsNaN(profile.MaxPrice) {
		return false
	}
	if deal.DiscountPercent < profile.MinDiscount {
		return false
	}
	if deal.Rating < profile.MinRating {
		return false
	}
	if deal.ReviewCount < profile.MinReviews {
		return false
	}
	if deal.CurrentPrice < profile.MinPrice {
		return false
	}
	if deal.CurrentPrice > profile.MaxPrice {
		return false
	}
	return true
}
