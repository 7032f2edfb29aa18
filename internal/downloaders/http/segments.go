package httpdl

// Segment is one contiguous byte range of the target file. Index is 1-based,
// End is inclusive. A segment past the end of a small file is empty
// (Start == total, End == total-1) and counts as complete.
type Segment struct {
	Index      int
	Start      int64
	End        int64
	Downloaded int64
}

func (s Segment) Length() int64 {
	return max(0, s.End-s.Start+1)
}

func (s Segment) Complete() bool {
	return s.Downloaded >= s.Length()
}

// BlockSize is the uniform segment length, ceil(total/n).
func BlockSize(total int64, n int) int64 {
	if n <= 0 {
		return total
	}
	block := total / int64(n)
	if total%int64(n) != 0 {
		block++
	}
	return block
}

// ComputeSegments splits total bytes into n ranges of BlockSize bytes; the
// last non-empty range is clamped to end at total-1.
func ComputeSegments(total int64, n int) []Segment {
	if n <= 0 || total <= 0 {
		return nil
	}
	block := BlockSize(total, n)
	segments := make([]Segment, n)
	for i := range n {
		start := min(block*int64(i), total)
		end := min(block*int64(i+1), total) - 1
		segments[i] = Segment{Index: i + 1, Start: start, End: end}
	}
	return segments
}
