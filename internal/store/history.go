package store

// appendBounded appends v and keeps only the newest limit values. The
// returned slice never aliases a backing array larger than it needs once
// trimming starts.
func appendBounded(h []float64, v float64, limit int) []float64 {
	h = append(h, v)
	if len(h) > limit {
		h = append([]float64(nil), h[len(h)-limit:]...)
	}
	return h
}

func cloneSeries(src []float64) []float64 {
	out := make([]float64, len(src))
	copy(out, src)
	return out
}
