package analysis

import (
	"sort"

	"github.com/t77yq/crisiswatch/internal/model"
)

// AnalyzeSentimentContext computes sign ratios, reach-weighted sentiment and total reach.
// When no mention carries reach the weighted sentiment is the plain mean.
func AnalyzeSentimentContext(mentions []model.Mention) model.SentimentContext {
	var ctx model.SentimentContext
	if len(mentions) == 0 {
		return ctx
	}

	var positive, negative int
	var weightedSum, plainSum float64
	for _, m := range mentions {
		switch {
		case m.SentimentScore > 0:
			positive++
		case m.SentimentScore < 0:
			negative++
		}
		reach := m.ReachCount
		if reach < 0 {
			reach = 0
		}
		ctx.TotalReach += reach
		weightedSum += m.SentimentScore * float64(reach)
		plainSum += m.SentimentScore
	}

	n := float64(len(mentions))
	ctx.PositiveRatio = float64(positive) / n
	ctx.NegativeRatio = float64(negative) / n
	if ctx.TotalReach > 0 {
		ctx.WeightedSentiment = weightedSum / float64(ctx.TotalReach)
	} else {
		ctx.WeightedSentiment = plainSum / n
	}
	return ctx
}

// AnalyzeSentimentTrend compares the mean sentiment of the earlier half of the
// time-ordered batch with the later half.
func AnalyzeSentimentTrend(mentions []model.Mention) model.SentimentTrend {
	if len(mentions) < 2 {
		return model.TrendStable
	}

	ordered := sortByTime(mentions)
	half := len(ordered) / 2
	earlier := meanSentiment(ordered[:half])
	later := meanSentiment(ordered[half:])

	switch diff := later - earlier; {
	case diff < -trendBand:
		return model.TrendDeclining
	case diff > trendBand:
		return model.TrendImproving
	default:
		return model.TrendStable
	}
}

func meanSentiment(mentions []model.Mention) float64 {
	if len(mentions) == 0 {
		return 0
	}
	var sum float64
	for _, m := range mentions {
		sum += m.SentimentScore
	}
	return sum / float64(len(mentions))
}

// sortByTime returns a copy ordered by publication time
func sortByTime(mentions []model.Mention) []model.Mention {
	ordered := make([]model.Mention, len(mentions))
	copy(ordered, mentions)
	sort.SliceStable(ordered, func(i, j int) bool {
		return ordered[i].PublishedAt.Before(ordered[j].PublishedAt)
	})
	return ordered
}
