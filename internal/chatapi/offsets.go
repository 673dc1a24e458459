package chatapi

// ComputeOffsets returns the page offsets to visit after the first page:
// start+interval, start+2*interval, ... up to and including total.
func ComputeOffsets(start, total, interval int) []int {
	if interval <= 0 {
		interval = DefaultPageSize
	}
	var offsets []int
	for o := start + interval; o <= total; o += interval {
		offsets = append(offsets, o)
	}
	return offsets
}

// RequestCount estimates how many conversations a full backup will fetch.
// A nil stop means the whole list.
func RequestCount(total, start int, stop *int) int {
	if stop == nil {
		return total
	}
	return *stop - start
}
