package delivery

import "github.com/t77yq/crisiswatch/internal/model"

// ComputeStats aggregates delivery records. An empty slice yields zero stats.
func ComputeStats(records []model.DeliveryRecord) model.DeliveryStats {
	stats := model.DeliveryStats{
		Channels: make(map[model.Channel]model.ChannelStats),
	}
	if len(records) == 0 {
		return stats
	}

	var totalMs int64
	for _, r := range records {
		stats.TotalDeliveries++
		if r.TotalSuccess {
			stats.SuccessfulDeliveries++
		}
		totalMs += r.DeliveryTimeMs

		for _, ch := range r.ChannelsAttempted {
			cs := stats.Channels[ch]
			cs.Attempts++
			stats.Channels[ch] = cs
		}
		for _, ch := range r.SuccessfulChannels {
			cs := stats.Channels[ch]
			cs.Successes++
			stats.Channels[ch] = cs
		}
	}

	stats.OverallSuccessRate = float64(stats.SuccessfulDeliveries) / float64(stats.TotalDeliveries)
	stats.AvgDeliveryTimeMs = float64(totalMs) / float64(stats.TotalDeliveries)
	for ch, cs := range stats.Channels {
		if cs.Attempts > 0 {
			cs.SuccessRate = float64(cs.Successes) / float64(cs.Attempts)
		}
		stats.Channels[ch] = cs
	}
	return stats
}
