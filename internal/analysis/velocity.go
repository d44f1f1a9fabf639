package analysis

import (
	"time"

	"github.com/t77yq/crisiswatch/internal/model"
)

// AnalyzeVelocity computes mentions per hour, the change in that rate between
// the two halves of the time span, and the resulting viral risk.
func AnalyzeVelocity(mentions []model.Mention) model.VelocityAnalysis {
	if len(mentions) == 0 {
		return model.VelocityAnalysis{ViralRisk: model.ViralRiskLow}
	}

	ordered := sortByTime(mentions)
	first := ordered[0].PublishedAt
	last := ordered[len(ordered)-1].PublishedAt
	span := last.Sub(first)

	hours := spanHours(span)

	var reach int64
	for _, m := range ordered {
		if m.ReachCount > 0 {
			reach += m.ReachCount
		}
	}

	velocity := float64(len(ordered)) / hours

	var acceleration float64
	if len(ordered) >= 2 {
		var earlier, later int
		if span > 0 {
			mid := first.Add(span / 2)
			for _, m := range ordered {
				if m.PublishedAt.Before(mid) {
					earlier++
				} else {
					later++
				}
			}
		} else {
			earlier = len(ordered) / 2
			later = len(ordered) - earlier
		}
		halfHours := hours / 2
		acceleration = (float64(later)/halfHours - float64(earlier)/halfHours) / hours
	}

	return model.VelocityAnalysis{
		Velocity:     velocity,
		Acceleration: acceleration,
		ViralRisk:    ClassifyViralRisk(velocity, reach),
		TimeSpan:     span,
	}
}

// ClassifyViralRisk maps a mention rate and total reach onto a risk tier
func ClassifyViralRisk(velocity float64, reach int64) model.ViralRisk {
	switch {
	case velocity >= 50 || reach >= 1_000_000:
		return model.ViralRiskCritical
	case velocity >= 20 || reach >= 100_000:
		return model.ViralRiskHigh
	case velocity >= 5 || reach >= 10_000:
		return model.ViralRiskMedium
	default:
		return model.ViralRiskLow
	}
}

// spanHours is the analyzed span with the one hour floor applied
func spanHours(span time.Duration) float64 {
	if h := span.Hours(); h >= 1 {
		return h
	}
	return 1
}
