package chunk

import (
	"math"
	"strings"

	"github.com/yezidelongshao/fastGPTProject/internal/domain"
)

// Overlap returns how many characters each window shares with the previous
// one: ceil(overlapRatio*chunkSize), capped so the step stays at least 1.
func Overlap(chunkSize int, overlapRatio float64) int {
	// 1e-9 absorbs float error such as 0.1*30 = 3.0000000000000004
	o := int(math.Ceil(overlapRatio*float64(chunkSize) - 1e-9))
	return min(max(o, 0), chunkSize-1)
}

// Split tiles text into windows of exactly chunkSize characters (the last may
// be shorter). Each window after the first starts Overlap(chunkSize,
// overlapRatio) characters before the end of the previous one, so dropping
// that many leading characters from every later chunk and concatenating
// gives back text.
func Split(text string, chunkSize int, overlapRatio float64) ([]domain.Chunk, error) {
	return split(text, chunkSize, overlapRatio, false)
}

// SplitAtBoundaries behaves like Split but lets a window end early at the
// last paragraph, line, sentence or word boundary in its second half. The
// overlap rule is the same, so chunks reassemble the same way.
func SplitAtBoundaries(text string, chunkSize int, overlapRatio float64) ([]domain.Chunk, error) {
	return split(text, chunkSize, overlapRatio, true)
}

func split(text string, chunkSize int, overlapRatio float64, boundaries bool) ([]domain.Chunk, error) {
	if chunkSize <= 0 {
		return nil, &domain.InvalidParameterError{Name: "chunkSize", Reason: "must be positive"}
	}
	if math.IsNaN(overlapRatio) || overlapRatio < 0 || overlapRatio >= 1 {
		return nil, &domain.InvalidParameterError{Name: "overlapRatio", Reason: "must be in [0, 1)"}
	}

	runes := []rune(text)
	n := len(runes)
	chunks := []domain.Chunk{}
	if n == 0 {
		return chunks, nil
	}

	overlap := Overlap(chunkSize, overlapRatio)
	start := 0
	for {
		end := start + chunkSize
		if end >= n {
			end = n
		} else if boundaries {
			// keep at least half a step of new content per window
			floor := start + overlap + max((chunkSize-overlap)/2, 1)
			end = boundaryBefore(runes, floor, end)
		}

		chunks = append(chunks, domain.Chunk{Index: len(chunks), Text: string(runes[start:end])})
		if end == n {
			return chunks, nil
		}
		start = end - overlap
	}
}

// boundary classes in order of preference
var boundaryClasses = []func(runes []rune, i int) bool{
	func(r []rune, i int) bool { return r[i] == '\n' && i > 0 && r[i-1] == '\n' },
	func(r []rune, i int) bool { return r[i] == '\n' },
	func(r []rune, i int) bool { return strings.ContainsRune(".!?。！？；;", r[i]) },
	func(r []rune, i int) bool { return r[i] == ' ' || r[i] == '\t' || r[i] == '，' || r[i] == ',' },
}

// boundaryBefore returns the end of the window [.., end) cut just after the
// best boundary at or after floor, or end when there is none.
func boundaryBefore(runes []rune, floor, end int) int {
	for _, isBoundary := range boundaryClasses {
		for i := end; i >= floor && i > 0; i-- {
			if isBoundary(runes, i-1) {
				return i
			}
		}
	}
	return end
}
