package experiment

// RoleStats are per-participant-role contribution statistics.
type RoleStats struct {
	Participants int
	Messages     int
}

// AggregateStats are derived from the current session summary
// collection. They are recomputed deterministically every time the
// collection changes and never hand-mutated.
type AggregateStats struct {
	TotalSessions         int
	TotalMessages         int
	AvgMessagesPerSession float64
	ByRole                map[string]RoleStats
	ErrorRate             float64
	SuccessRate           float64
}

// ComputeAggregates derives aggregate statistics from a full session
// collection. The input order does not affect the result.
func ComputeAggregates(sessions []*SessionSummary) AggregateStats {
	stats := AggregateStats{ByRole: make(map[string]RoleStats)}
	stats.TotalSessions = len(sessions)

	var completed, failed int
	for _, s := range sessions {
		stats.TotalMessages += s.MessageCount

		switch s.Status {
		case SessionCompleted:
			completed++
		case SessionFailed:
			failed++
		}

		if s.Detail == nil {
			continue
		}
		for _, p := range s.Detail.Participants {
			role := p.Role
			if role == "" {
				role = "unknown"
			}
			rs := stats.ByRole[role]
			rs.Participants++
			rs.Messages += p.MessageCount
			stats.ByRole[role] = rs
		}
	}

	if stats.TotalSessions > 0 {
		stats.AvgMessagesPerSession = float64(stats.TotalMessages) / float64(stats.TotalSessions)
		stats.ErrorRate = float64(failed) / float64(stats.TotalSessions)
		stats.SuccessRate = float64(completed) / float64(stats.TotalSessions)
	}
	return stats
}
