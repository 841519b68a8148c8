// Package picker chooses which sourcing strategy a channel should query
// next, steering the long-run post mix toward 60% lightning, 30% browsing
// and 10% best-seller deals.
package picker

import (
	"github.com/vucciaro/dealsbot/internal/models"
)

// targetRatios is the desired long-run share of posts per strategy.
var targetRatios = map[models.Strategy]float64{
	models.StrategyLightning:  0.6,
	models.StrategyBrowsing:   0.3,
	models.StrategyBestSeller: 0.1,
}

// Next returns the strategy the channel should source from on its next
// post. It picks the strategy with the largest deficit against its target
// ratio, so the empirical mix converges without randomness: the same call
// history always yields the same choice. Ties fall to the higher-weighted
// strategy (lightning > browsing > bestseller). A channel with no posting
// history starts with lightning.
func Next(state *models.ChannelState) models.Strategy {
	total := state.TotalPosts()
	if total == 0 {
		return models.StrategyLightning
	}

	best := models.StrategyLightning
	bestDeficit := deficit(state, best, total)
	for _, s := range models.Strategies[1:] {
		if d := deficit(state, s, total); d > bestDeficit {
			best = s
			bestDeficit = d
		}
	}
	return best
}

func deficit(state *models.ChannelState, s models.Strategy, total int) float64 {
	return targetRatios[s]*float64(total) - float64(state.StrategyCounts[s])
}
