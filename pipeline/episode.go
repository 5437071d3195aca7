package pipeline

import (
	"context"
	"runtime"
	"sync"

	"github.com/pkg/errors"

	"github.com/Noofbiz/episodeBowl/records"
)

// Episode is one fully assembled few-shot task. The six slices are
// order-aligned per split: image i, label i and class id i describe the same
// example. Labels are dense in [0, K) by first occurrence, remapped
// independently for support and query; class ids keep the absolute
// identifiers for diagnostics and downstream bookkeeping.
type Episode struct {
	ImageSize int

	SupportImages   [][]float32
	SupportLabels   []int64
	SupportClassIDs []int64

	QueryImages   [][]float32
	QueryLabels   []int64
	QueryClassIDs []int64
}

// EpisodeAssembler turns one padded EpisodeRecord into an Episode: it skips
// the flush chunk, strips dummy padding from the support and query chunks,
// decodes every surviving image concurrently and remaps labels. Assemble is
// a pure function of its inputs; the assembler only holds configuration.
type EpisodeAssembler struct {
	chunks  records.ChunkSizes
	support *ImageCodec
	query   *ImageCodec
	workers int
}

// NewEpisodeAssembler validates capacities and builds the two codecs. The
// support and query augmentations are independent; either may be nil.
// workers bounds concurrent decodes per episode, 0 means NumCPU.
func NewEpisodeAssembler(chunks records.ChunkSizes, imageSize int, supportAug, queryAug *DataAugmentation, seed int64, workers int) (*EpisodeAssembler, error) {
	if chunks.Flush < 0 || chunks.Support < 0 || chunks.Query < 0 {
		return nil, configErrorf("chunk capacities must be non-negative, got %+v", chunks)
	}
	support, err := NewImageCodec("support", imageSize, supportAug, seed)
	if err != nil {
		return nil, err
	}
	query, err := NewImageCodec("query", imageSize, queryAug, seed+1)
	if err != nil {
		return nil, err
	}
	if workers <= 0 {
		workers = runtime.NumCPU()
	}
	return &EpisodeAssembler{chunks: chunks, support: support, query: query, workers: workers}, nil
}

// Assemble processes one episode record. Decode failures and padding
// contract violations propagate; the caller decides what dies with them.
func (a *EpisodeAssembler) Assemble(ctx context.Context, rec records.EpisodeRecord) (*Episode, error) {
	if len(rec) != a.chunks.Total() {
		return nil, configErrorf("episode record has %d slots, chunk capacities total %d", len(rec), a.chunks.Total())
	}
	supportStart := a.chunks.Flush
	queryStart := supportStart + a.chunks.Support

	support, err := FilterDummies(rec[supportStart:queryStart])
	if err != nil {
		return nil, errors.WithMessage(err, "support chunk")
	}
	query, err := FilterDummies(rec[queryStart:])
	if err != nil {
		return nil, errors.WithMessage(err, "query chunk")
	}

	ep := &Episode{
		ImageSize:       a.support.Size(),
		SupportClassIDs: classIDs(support),
		QueryClassIDs:   classIDs(query),
	}
	ep.SupportLabels = RemapLabels(ep.SupportClassIDs)
	ep.QueryLabels = RemapLabels(ep.QueryClassIDs)

	if ep.SupportImages, err = decodeAll(ctx, support, a.support, a.workers); err != nil {
		return nil, errors.WithMessage(err, "support chunk")
	}
	if ep.QueryImages, err = decodeAll(ctx, query, a.query, a.workers); err != nil {
		return nil, errors.WithMessage(err, "query chunk")
	}
	return ep, nil
}

func classIDs(recs []records.Record) []int64 {
	ids := make([]int64, len(recs))
	for i, r := range recs {
		ids[i] = r.ClassID
	}
	return ids
}

// decodeAll decodes every record concurrently, preserving input order in the
// output. Each decode is pure, so entries are handed to workers without any
// ordering constraint; results land at their input index. Cancelling ctx
// abandons queued work; in-flight decodes finish their current image only.
func decodeAll(ctx context.Context, recs []records.Record, codec *ImageCodec, workers int) ([][]float32, error) {
	out := make([][]float32, len(recs))
	if len(recs) == 0 {
		// Legitimately empty chunk (sampler produced zero examples).
		return out, nil
	}
	if workers > len(recs) {
		workers = len(recs)
	}

	jobs := make(chan int, len(recs))
	for i := range recs {
		jobs <- i
	}
	close(jobs)

	errChan := make(chan error, workers)
	var wg sync.WaitGroup
	for w := 0; w < workers; w++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for i := range jobs {
				if ctx.Err() != nil {
					return
				}
				img, err := codec.Decode(recs[i].Payload)
				if err != nil {
					errChan <- errors.WithMessagef(err, "entry %d", i)
					return
				}
				out[i] = img
			}
		}()
	}
	wg.Wait()
	close(errChan)
	if err := <-errChan; err != nil {
		return nil, err
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	return out, nil
}
