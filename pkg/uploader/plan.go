package uploader

// part is one contiguous byte range of the source file, numbered from 1.
type part struct {
	number int
	offset int64
	size   int64
}

// buildPlan computes the byte range of every part and returns the parts not
// yet present in completed, in ascending part order.
func buildPlan(totalBytes, partSize int64, totalParts int, completed map[int]bool) []part {
	pending := make([]part, 0, totalParts)
	for n := 1; n <= totalParts; n++ {
		if completed[n] {
			continue
		}
		offset := int64(n-1) * partSize
		size := partSize
		if n == totalParts {
			size = totalBytes - offset
		}
		pending = append(pending, part{number: n, offset: offset, size: size})
	}
	return pending
}
