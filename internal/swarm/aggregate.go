package swarm

// Summary is the derived view of an outcome list. Computed on demand, never
// cached; the outcome list stays the single source of truth.
type Summary struct {
	Total        int `json:"total"`
	Successful   int `json:"successful"`
	Failed       int `json:"failed"`
	Active       int `json:"active"`
	Disconnected int `json:"disconnected"`

	SpontaneousDisconnections int `json:"spontaneous_disconnections"`

	// RetentionRate is active/successful, StabilityRate is
	// (successful-spontaneous)/successful. Both use a floor-1 denominator
	// so zero successes yields 0, not NaN.
	RetentionRate float64 `json:"retention_rate"`
	StabilityRate float64 `json:"stability_rate"`

	// RetryDistribution counts outcomes per retry count, retries > 0 only.
	RetryDistribution map[int]int `json:"retry_distribution"`

	// DisconnectReasons counts spontaneous disconnections per reason.
	DisconnectReasons map[string]int `json:"disconnect_reasons,omitempty"`
}

// Aggregate derives a Summary from the outcome list at call time.
func Aggregate(outcomes []ConnectionOutcome) Summary {
	s := Summary{
		Total:             len(outcomes),
		RetryDistribution: make(map[int]int),
		DisconnectReasons: make(map[string]int),
	}

	for _, out := range outcomes {
		if out.Success {
			s.Successful++
			if out.IsActive {
				s.Active++
			} else {
				s.Disconnected++
			}
		} else {
			s.Failed++
		}
		if out.SpontaneousDisconnect {
			s.SpontaneousDisconnections++
			s.DisconnectReasons[out.DisconnectionReason]++
		}
		if out.RetryCount > 0 {
			s.RetryDistribution[out.RetryCount]++
		}
	}

	denom := s.Successful
	if denom < 1 {
		denom = 1
	}
	s.RetentionRate = float64(s.Active) / float64(denom)
	s.StabilityRate = float64(s.Successful-s.SpontaneousDisconnections) / float64(denom)

	return s
}
