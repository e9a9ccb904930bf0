package supervisor

import "time"

// backoffDelay returns the sleep before the k-th restart attempt
// (1-indexed): 2^min(k-1,4) seconds, i.e. 1, 2, 4, 8, 16, 16, 16... (spec.md §4.4, §8).
func backoffDelay(attempt int) time.Duration {
	if attempt < 1 {
		attempt = 1
	}
	shift := attempt - 1
	if shift > 4 {
		shift = 4
	}
	return time.Duration(1<<uint(shift)) * time.Second
}
