package queue

import "sort"

// OrderEntries sorts a clinic's waiting set into its total order and assigns
// 1-based contiguous positions. The comparator is three-keyed: emergency flag
// first, then priority score, then current waiting time, all descending.
// Residual ties fall back to join time then ID so the order is reproducible.
// The input slice is sorted in place and returned.
func OrderEntries(entries []*Entry) []*Entry {
	sort.SliceStable(entries, func(i, j int) bool {
		a, b := entries[i], entries[j]
		if a.IsEmergency != b.IsEmergency {
			return a.IsEmergency
		}
		if a.PriorityScore != b.PriorityScore {
			return a.PriorityScore > b.PriorityScore
		}
		if a.WaitingMinutes != b.WaitingMinutes {
			return a.WaitingMinutes > b.WaitingMinutes
		}
		if !a.JoinedAt.Equal(b.JoinedAt) {
			return a.JoinedAt.Before(b.JoinedAt)
		}
		return a.ID.String() < b.ID.String()
	})

	for i, e := range entries {
		e.QueuePosition = i + 1
	}
	return entries
}

// ComputeStats reduces an ordered waiting set to its aggregate statistics.
// An empty set yields zero-valued stats, not an error.
func ComputeStats(entries []*Entry) Stats {
	st := Stats{Count: len(entries)}
	if len(entries) == 0 {
		return st
	}
	var waitSum, scoreSum int
	for _, e := range entries {
		if e.IsEmergency {
			st.EmergencyCount++
		}
		waitSum += e.WaitingMinutes
		scoreSum += e.PriorityScore
	}
	st.MeanWaitMinutes = float64(waitSum) / float64(len(entries))
	st.MeanPriority = float64(scoreSum) / float64(len(entries))
	return st
}
