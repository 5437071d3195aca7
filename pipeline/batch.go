package pipeline

import (
	"context"
	"runtime"

	"github.com/Noofbiz/episodeBowl/records"
)

// Batch is one flat assembled unit for plain (non-episodic) training.
// Labels are the absolute class ids, unchanged: batch training classifies
// over the full label space, not a per-unit subset, so no remapping applies.
// In multi-source mode the ids may already carry a per-source offset.
type Batch struct {
	ImageSize int
	Images    [][]float32
	Labels    []int64
}

// BatchAssembler decodes flat record batches. No chunking and no dummy
// filtering: every entry in a batch is real.
type BatchAssembler struct {
	codec   *ImageCodec
	workers int
}

// NewBatchAssembler builds the codec for batch images. aug may be nil.
// workers bounds concurrent decodes per batch, 0 means NumCPU.
func NewBatchAssembler(imageSize int, aug *DataAugmentation, seed int64, workers int) (*BatchAssembler, error) {
	codec, err := NewImageCodec("batch", imageSize, aug, seed)
	if err != nil {
		return nil, err
	}
	if workers <= 0 {
		workers = runtime.NumCPU()
	}
	return &BatchAssembler{codec: codec, workers: workers}, nil
}

// Assemble decodes every record of the batch concurrently, order preserved.
func (a *BatchAssembler) Assemble(ctx context.Context, recs []records.Record) (*Batch, error) {
	images, err := decodeAll(ctx, recs, a.codec, a.workers)
	if err != nil {
		return nil, err
	}
	return &Batch{
		ImageSize: a.codec.Size(),
		Images:    images,
		Labels:    classIDs(recs),
	}, nil
}
