package pipeline

import (
	"github.com/pkg/errors"

	"github.com/Noofbiz/episodeBowl/records"
)

// FilterDummies returns the prefix of real entries from a padded chunk.
// Readers emit every real entry before any dummy one, so the prefix of
// length count(ClassID >= 0) is exactly the real data. The invariant is
// checked while counting: a real entry after a dummy one means the chunk is
// corrupt, and returning it would silently mislabel examples downstream.
func FilterDummies(chunk []records.Record) ([]records.Record, error) {
	actual := 0
	seenDummy := false
	for i, r := range chunk {
		if r.IsDummy() {
			seenDummy = true
			continue
		}
		if seenDummy {
			return nil, errors.WithMessagef(ErrContract, "real entry at slot %d follows a dummy", i)
		}
		actual++
	}
	return chunk[:actual], nil
}

// RemapLabels converts absolute class identifiers into dense labels in
// [0, K), K being the number of distinct classes, numbered by first
// occurrence. Equal class ids always map to equal labels. Support and query
// chunks are remapped independently of each other; they agree because the
// sampler draws the same class set, in the same order, for both chunks of
// one episode.
func RemapLabels(classIDs []int64) []int64 {
	labels := make([]int64, len(classIDs))
	index := make(map[int64]int64, len(classIDs))
	for i, id := range classIDs {
		label, ok := index[id]
		if !ok {
			label = int64(len(index))
			index[id] = label
		}
		labels[i] = label
	}
	return labels
}
