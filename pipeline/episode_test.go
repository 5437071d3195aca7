package pipeline

import (
	"context"
	"image/color"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/Noofbiz/episodeBowl/records"
)

func testAssembler(t *testing.T, chunks records.ChunkSizes) *EpisodeAssembler {
	t.Helper()
	asm, err := NewEpisodeAssembler(chunks, 8, nil, nil, 1, 4)
	require.NoError(t, err)
	return asm
}

func realRecord(t *testing.T, classID int64) records.Record {
	t.Helper()
	c := color.NRGBA{R: uint8(classID * 20), G: 80, B: 120, A: 255}
	return records.Record{Payload: solidPayload(t, 16, c), ClassID: classID}
}

func dummy() records.Record { return records.Record{ClassID: -1} }

func TestAssembleEpisode(t *testing.T) {
	// Flush 2, support [5, 5, dummy], query [9, dummy].
	chunks := records.ChunkSizes{Flush: 2, Support: 3, Query: 2}
	rec := records.EpisodeRecord{
		dummy(), dummy(),
		realRecord(t, 5), realRecord(t, 5), dummy(),
		realRecord(t, 9), dummy(),
	}

	ep, err := testAssembler(t, chunks).Assemble(context.Background(), rec)
	require.NoError(t, err)

	require.Len(t, ep.SupportImages, 2)
	require.Equal(t, []int64{5, 5}, ep.SupportClassIDs)
	require.Equal(t, []int64{0, 0}, ep.SupportLabels)

	require.Len(t, ep.QueryImages, 1)
	require.Equal(t, []int64{9}, ep.QueryClassIDs)
	require.Equal(t, []int64{0}, ep.QueryLabels)

	for _, img := range append(ep.SupportImages, ep.QueryImages...) {
		require.Len(t, img, 8*8*3)
	}
}

func TestAssembleEpisodeAllDummySupport(t *testing.T) {
	chunks := records.ChunkSizes{Flush: 1, Support: 2, Query: 2}
	rec := records.EpisodeRecord{
		dummy(),
		dummy(), dummy(),
		realRecord(t, 3), dummy(),
	}

	ep, err := testAssembler(t, chunks).Assemble(context.Background(), rec)
	require.NoError(t, err)
	require.Empty(t, ep.SupportImages)
	require.Empty(t, ep.SupportLabels)
	require.Empty(t, ep.SupportClassIDs)
	require.Len(t, ep.QueryImages, 1)
}

func TestAssembleEpisodeFullChunks(t *testing.T) {
	chunks := records.ChunkSizes{Flush: 0, Support: 2, Query: 2}
	rec := records.EpisodeRecord{
		realRecord(t, 4), realRecord(t, 6),
		realRecord(t, 4), realRecord(t, 6),
	}

	ep, err := testAssembler(t, chunks).Assemble(context.Background(), rec)
	require.NoError(t, err)
	require.Equal(t, []int64{4, 6}, ep.SupportClassIDs)
	require.Equal(t, []int64{0, 1}, ep.SupportLabels)
	require.Equal(t, []int64{0, 1}, ep.QueryLabels)
}

func TestAssembleEpisodeLabelsAgreeAcrossChunks(t *testing.T) {
	// Same class set in the same first-occurrence order means the
	// independently remapped label spaces coincide.
	chunks := records.ChunkSizes{Flush: 0, Support: 4, Query: 4}
	rec := records.EpisodeRecord{
		realRecord(t, 30), realRecord(t, 10), realRecord(t, 30), dummy(),
		realRecord(t, 30), realRecord(t, 10), dummy(), dummy(),
	}

	ep, err := testAssembler(t, chunks).Assemble(context.Background(), rec)
	require.NoError(t, err)
	require.Equal(t, []int64{0, 1, 0}, ep.SupportLabels)
	require.Equal(t, []int64{0, 1}, ep.QueryLabels)
}

func TestAssembleEpisodeLengthMismatch(t *testing.T) {
	chunks := records.ChunkSizes{Flush: 2, Support: 3, Query: 2}
	rec := records.EpisodeRecord{dummy(), dummy(), realRecord(t, 1)}

	_, err := testAssembler(t, chunks).Assemble(context.Background(), rec)
	require.ErrorIs(t, err, ErrConfig)
}

func TestAssembleEpisodeContractViolation(t *testing.T) {
	chunks := records.ChunkSizes{Flush: 0, Support: 3, Query: 0}
	rec := records.EpisodeRecord{realRecord(t, 1), dummy(), realRecord(t, 2)}

	_, err := testAssembler(t, chunks).Assemble(context.Background(), rec)
	require.ErrorIs(t, err, ErrContract)
}

func TestAssembleEpisodeDecodeErrorPropagates(t *testing.T) {
	chunks := records.ChunkSizes{Flush: 0, Support: 2, Query: 1}
	rec := records.EpisodeRecord{
		realRecord(t, 1),
		{Payload: []byte("garbage"), ClassID: 2},
		realRecord(t, 1),
	}

	_, err := testAssembler(t, chunks).Assemble(context.Background(), rec)
	require.ErrorIs(t, err, ErrDecode)
}

func TestAssembleEpisodeCancelled(t *testing.T) {
	chunks := records.ChunkSizes{Flush: 0, Support: 2, Query: 1}
	rec := records.EpisodeRecord{realRecord(t, 1), realRecord(t, 2), realRecord(t, 1)}

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := testAssembler(t, chunks).Assemble(ctx, rec)
	require.ErrorIs(t, err, context.Canceled)
}

func TestNewEpisodeAssemblerNegativeCapacity(t *testing.T) {
	_, err := NewEpisodeAssembler(records.ChunkSizes{Flush: -1, Support: 2, Query: 2}, 8, nil, nil, 1, 0)
	require.ErrorIs(t, err, ErrConfig)
}
