package scan

// Chunk is one bounded sub-range of blocks, inclusive on both ends.
type Chunk struct {
	From uint64
	To   uint64
}

// Chunks tiles [from, to] into ascending chunks of at most size blocks.
// The tiling is exact: no gaps, no overlaps, and the last chunk ends at to.
// Returns nil when from > to.
func Chunks(from, to, size uint64) []Chunk {
	if from > to {
		return nil
	}
	if size == 0 {
		size = 1
	}

	chunks := make([]Chunk, 0, (to-from)/size+1)
	for start := from; ; {
		end := to
		if remaining := to - start; remaining >= size {
			end = start + size - 1
		}
		chunks = append(chunks, Chunk{From: start, To: end})
		if end == to {
			break
		}
		start = end + 1
	}
	return chunks
}
