package swarm

import "time"

// backoffDelay returns the wait before retry attempt k (k >= 1):
// base * 2^(k-1), no jitter. The ceiling is a deliberate deviation from
// pure exponential growth; without it a long retry budget stalls a slot
// for minutes. Early attempts below the cap follow the formula exactly.
func backoffDelay(base time.Duration, attempt int, ceiling time.Duration) time.Duration {
	if attempt < 1 || base <= 0 {
		return 0
	}

	d := base
	for i := 1; i < attempt; i++ {
		d *= 2
		if ceiling > 0 && d >= ceiling {
			return ceiling
		}
	}
	if ceiling > 0 && d > ceiling {
		return ceiling
	}
	return d
}
