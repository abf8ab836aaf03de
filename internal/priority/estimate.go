package priority

// EstimateWait returns the expected wait in minutes for the item at a
// 1-based queue position, given the number of workers currently serving and
// the average service duration. With no active workers there is nothing to
// estimate from and the result is 0.
func EstimateWait(position, activeWorkers int, avgServiceMinutes int64) int64 {
	if activeWorkers <= 0 || position <= 1 || avgServiceMinutes <= 0 {
		return 0
	}
	return int64(position-1) * avgServiceMinutes / int64(activeWorkers)
}
