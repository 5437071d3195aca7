package records

import (
	"bytes"
	"image"
	_ "image/png"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestSyntheticEpisodeSourceLayout(t *testing.T) {
	chunks := ChunkSizes{Flush: 3, Support: 10, Query: 5}
	src := NewSyntheticEpisodeSource("layout", chunks, 7, 12, 1)

	for i := 0; i < 20; i++ {
		rec, err := src.Next()
		require.NoError(t, err)
		require.Len(t, rec, chunks.Total())

		for s := 0; s < chunks.Flush; s++ {
			require.True(t, rec[s].IsDummy(), "flush slot %d not dummy", s)
		}
		checkPaddedChunk(t, rec[chunks.Flush:chunks.Flush+chunks.Support])
		checkPaddedChunk(t, rec[chunks.Flush+chunks.Support:])
	}
}

// checkPaddedChunk verifies the reader contract: real entries first, dummy
// padding after, never interleaved.
func checkPaddedChunk(t *testing.T, chunk []Record) {
	t.Helper()
	seenDummy := false
	for i, r := range chunk {
		if r.IsDummy() {
			seenDummy = true
			continue
		}
		require.False(t, seenDummy, "real entry at slot %d after dummy", i)
	}
}

func TestSyntheticEpisodeSourceSharedClassSet(t *testing.T) {
	chunks := ChunkSizes{Flush: 0, Support: 12, Query: 12}
	src := NewSyntheticEpisodeSource("classes", chunks, 5, 12, 3)

	for i := 0; i < 10; i++ {
		rec, err := src.Next()
		require.NoError(t, err)
		support := firstOccurrenceOrder(rec[:chunks.Support])
		query := firstOccurrenceOrder(rec[chunks.Support:])
		if len(query) == 0 {
			// Query capacity could not fit one example per class.
			continue
		}
		require.Equal(t, support, query, "chunks disagree on class set or order")
	}
}

func firstOccurrenceOrder(chunk []Record) []int64 {
	var order []int64
	seen := make(map[int64]bool)
	for _, r := range chunk {
		if r.IsDummy() || seen[r.ClassID] {
			continue
		}
		seen[r.ClassID] = true
		order = append(order, r.ClassID)
	}
	return order
}

func TestSyntheticEpisodeSourcePayloadsDecodable(t *testing.T) {
	chunks := ChunkSizes{Flush: 1, Support: 4, Query: 2}
	src := NewSyntheticEpisodeSource("payloads", chunks, 3, 10, 5)

	rec, err := src.Next()
	require.NoError(t, err)
	for _, r := range rec {
		if r.IsDummy() {
			continue
		}
		ex, err := UnmarshalExample(r.Payload)
		require.NoError(t, err)
		require.Equal(t, r.ClassID, ex.Label)

		img, _, err := image.Decode(bytes.NewReader(ex.Image))
		require.NoError(t, err)
		require.Equal(t, image.Point{X: 10, Y: 10}, img.Bounds().Size())
	}
}

func TestSyntheticBatchSource(t *testing.T) {
	src := NewSyntheticBatchSource("flat", 9, 4, 10, 2)
	require.Equal(t, 4, src.NumClasses())

	for i := 0; i < 5; i++ {
		recs, err := src.Next()
		require.NoError(t, err)
		require.Len(t, recs, 9)
		for _, r := range recs {
			require.False(t, r.IsDummy())
			require.Less(t, r.ClassID, int64(4))
			require.NotEmpty(t, r.Payload)
		}
	}
}
