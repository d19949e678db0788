package ingestion

import "strings"

// Chunker splits text into overlapping windows measured in runes. A window
// ends at its last sentence end or newline when that lies past the halfway
// point.
type Chunker struct {
	Size    int
	Overlap int
}

func (c Chunker) Split(text string) []string {
	runes := []rune(text)
	size := c.Size
	if size <= 0 {
		size = 1000
	}
	overlap := c.Overlap
	if overlap < 0 || overlap >= size {
		overlap = 0
	}

	var chunks []string
	for start := 0; start < len(runes); {
		end := start + size
		if end >= len(runes) {
			end = len(runes)
		} else if bp := lastBreak(runes[start:end]); bp > size/2 {
			end = start + bp + 1
		}

		if piece := strings.TrimSpace(string(runes[start:end])); piece != "" {
			chunks = append(chunks, piece)
		}
		if end == len(runes) {
			break
		}

		next := end - overlap
		if next <= start {
			next = end
		}
		start = next
	}
	return chunks
}

func lastBreak(window []rune) int {
	for i := len(window) - 1; i >= 0; i-- {
		if window[i] == '.' || window[i] == '\n' {
			return i
		}
	}
	return -1
}
