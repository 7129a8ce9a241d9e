package broadcast

// Split cuts data into consecutive chunks of at most size bytes. Chunks are
// sub-slices of data with capped capacity; nothing is copied.
func Split(data []byte, size int64) [][]byte {
	if size <= 0 || int64(len(data)) <= size {
		return [][]byte{data}
	}
	n := int((int64(len(data)) + size - 1) / size)
	parts := make([][]byte, 0, n)
	for off := int64(0); off < int64(len(data)); off += size {
		end := off + size
		if end > int64(len(data)) {
			end = int64(len(data))
		}
		parts = append(parts, data[off:end:end])
	}
	return parts
}
