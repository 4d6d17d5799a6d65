package progress

// Milestones are the watch percentages reported to program webhooks.
var Milestones = []int{25, 50, 75, 100}

// CrossedMilestones returns the milestones in (prev, cur].
func CrossedMilestones(prev, cur float64) []int {
	var crossed []int
	for _, m := range Milestones {
		if prev < float64(m) && cur >= float64(m) {
			crossed = append(crossed, m)
		}
	}
	return crossed
}
