package pipeline

import (
	"context"
	"sync"
	"time"

	"github.com/pkg/errors"
	"k8s.io/klog/v2"

	"github.com/Noofbiz/episodeBowl/records"
)

// PoolSupported reports whether the underlying data sources support
// example-level splits ("pools"). They do not; a pool selector in the
// options is therefore a configuration error.
const PoolSupported = false

// ErrClosed is returned by Next after Close, or after a terminal error has
// already been delivered.
var ErrClosed = errors.New("pipeline closed")

// ReaderConfig carries the reader-facing options to a source factory. The
// pipeline itself only validates these; tuning shuffle and read buffers is
// the reader collaborator's business.
type ReaderConfig struct {
	Split             string
	Pool              string
	ShuffleBufferSize int
	ReadBufferBytes   int
	// BatchSize is the number of examples per flat batch. Only meaningful
	// for batch readers; episode readers size units from the sampler.
	BatchSize int
}

// EpisodeSourceFactory builds one episode reader, e.g. for one dataset.
type EpisodeSourceFactory func(ReaderConfig) (records.EpisodeSource, error)

// BatchSourceFactory builds one batch reader.
type BatchSourceFactory func(ReaderConfig) (records.BatchSource, error)

// Options are the knobs shared by all four pipelines.
type Options struct {
	// ImageSize is the side length of decoded images. Required.
	ImageSize int

	// Split identifies the source (meta-)split, forwarded to the readers.
	Split string

	// Pool optionally selects an example-level split ('train', 'valid' or
	// 'test'). Only valid when PoolSupported.
	Pool string

	// ShuffleBufferSize and ReadBufferBytes are forwarded to the readers.
	ShuffleBufferSize int
	ReadBufferBytes   int

	// DecodeWorkers bounds concurrent image decodes within one unit.
	// 0 means runtime.NumCPU.
	DecodeWorkers int

	// Seed drives source selection and augmentation randomness. 0 draws a
	// time-based seed.
	Seed int64
}

// EpisodeOptions configures an episodic pipeline. The support and query
// augmentations are independently settable; nil disables augmentation for
// that role.
type EpisodeOptions struct {
	Options
	SupportAugmentation *DataAugmentation
	QueryAugmentation   *DataAugmentation
}

// BatchOptions configures a batch pipeline.
type BatchOptions struct {
	Options
	BatchSize    int
	Augmentation *DataAugmentation

	// AddDatasetOffset shifts each source's class ids by the total class
	// count of the sources before it, keeping labels unique across
	// sources. Multi-source only.
	AddDatasetOffset bool
}

func (o *Options) validate() error {
	if o.ImageSize <= 0 {
		return configErrorf("image size must be positive, got %d", o.ImageSize)
	}
	if o.ShuffleBufferSize < 0 || o.ReadBufferBytes < 0 {
		return configErrorf("buffer sizes must be non-negative")
	}
	switch o.Pool {
	case "":
	case "train", "valid", "test":
		if !PoolSupported {
			return configErrorf("example-level splits or pools not supported, got pool %q", o.Pool)
		}
	default:
		return configErrorf("unknown pool %q, want train, valid or test", o.Pool)
	}
	return nil
}

func (o *Options) seed() int64 {
	if o.Seed != 0 {
		return o.Seed
	}
	return time.Now().UnixNano()
}

func (o *Options) readerConfig(batchSize int) ReaderConfig {
	return ReaderConfig{
		Split:             o.Split,
		Pool:              o.Pool,
		ShuffleBufferSize: o.ShuffleBufferSize,
		ReadBufferBytes:   o.ReadBufferBytes,
		BatchSize:         batchSize,
	}
}

// EpisodePipeline is a lazy, consumer-paced stream of assembled episodes.
// One unit of look-ahead is produced concurrently with the consumer's use of
// the previous unit; back-pressure is the full prefetch buffer.
type EpisodePipeline struct {
	name string
	pf   *prefetcher[*Episode]
}

// NewEpisodePipeline wires a single-source episodic pipeline: reader ->
// assembler -> depth-1 prefetch. The sampler's chunk sizes are fixed for the
// pipeline's lifetime.
func NewEpisodePipeline(factory EpisodeSourceFactory, sampler records.EpisodeSampler, opts EpisodeOptions) (*EpisodePipeline, error) {
	if err := opts.validate(); err != nil {
		return nil, err
	}
	src, err := factory(opts.readerConfig(0))
	if err != nil {
		return nil, errors.WithMessage(err, "failed to build episode reader")
	}
	return newEpisodePipeline(src, sampler, opts)
}

// NewMultiSourceEpisodePipeline wires one reader per factory and merges them
// with uniform per-episode source sampling. All sources must share the
// sampler's chunk configuration.
func NewMultiSourceEpisodePipeline(factories []EpisodeSourceFactory, sampler records.EpisodeSampler, opts EpisodeOptions) (*EpisodePipeline, error) {
	if err := opts.validate(); err != nil {
		return nil, err
	}
	sources := make([]records.EpisodeSource, len(factories))
	for i, factory := range factories {
		src, err := factory(opts.readerConfig(0))
		if err != nil {
			return nil, errors.WithMessagef(err, "failed to build episode reader %d", i)
		}
		sources[i] = src
	}
	mux, err := NewEpisodeMultiplexer(sources, opts.seed())
	if err != nil {
		return nil, err
	}
	return newEpisodePipeline(mux, sampler, opts)
}

func newEpisodePipeline(src records.EpisodeSource, sampler records.EpisodeSampler, opts EpisodeOptions) (*EpisodePipeline, error) {
	chunks := sampler.ChunkSizes()
	asm, err := NewEpisodeAssembler(chunks, opts.ImageSize, opts.SupportAugmentation, opts.QueryAugmentation, opts.seed(), opts.DecodeWorkers)
	if err != nil {
		return nil, err
	}
	klog.V(1).Infof("episode pipeline %s: chunks=%+v image_size=%d", src.Name(), chunks, opts.ImageSize)
	p := &EpisodePipeline{name: src.Name()}
	p.pf = newPrefetcher(func(ctx context.Context) (*Episode, error) {
		rec, err := src.Next()
		if err != nil {
			return nil, err
		}
		return asm.Assemble(ctx, rec)
	})
	return p, nil
}

// Name identifies the pipeline by its source(s).
func (p *EpisodePipeline) Name() string { return p.name }

// Next blocks until the next assembled episode is available or ctx is done.
func (p *EpisodePipeline) Next(ctx context.Context) (*Episode, error) {
	return p.pf.next(ctx)
}

// Close stops production and releases in-flight decode work.
func (p *EpisodePipeline) Close() { p.pf.close() }

// BatchPipeline is the flat-batch counterpart of EpisodePipeline.
type BatchPipeline struct {
	name string
	pf   *prefetcher[*Batch]
}

// NewBatchPipeline wires a single-source batch pipeline.
func NewBatchPipeline(factory BatchSourceFactory, opts BatchOptions) (*BatchPipeline, error) {
	if err := opts.validate(); err != nil {
		return nil, err
	}
	src, err := factory(opts.readerConfig(opts.BatchSize))
	if err != nil {
		return nil, errors.WithMessage(err, "failed to build batch reader")
	}
	return newBatchPipeline(src, opts)
}

// NewMultiSourceBatchPipeline wires one reader per factory and merges them
// with uniform per-batch source sampling, optionally offsetting class ids so
// labels stay unique across sources.
func NewMultiSourceBatchPipeline(factories []BatchSourceFactory, opts BatchOptions) (*BatchPipeline, error) {
	if err := opts.validate(); err != nil {
		return nil, err
	}
	sources := make([]records.BatchSource, len(factories))
	for i, factory := range factories {
		src, err := factory(opts.readerConfig(opts.BatchSize))
		if err != nil {
			return nil, errors.WithMessagef(err, "failed to build batch reader %d", i)
		}
		sources[i] = src
	}
	mux, err := NewBatchMultiplexer(sources, opts.AddDatasetOffset, opts.seed())
	if err != nil {
		return nil, err
	}
	return newBatchPipeline(mux, opts)
}

func (o *BatchOptions) validate() error {
	if err := o.Options.validate(); err != nil {
		return err
	}
	if o.BatchSize < 0 {
		return configErrorf("batch size must be non-negative, got %d", o.BatchSize)
	}
	return nil
}

func newBatchPipeline(src records.BatchSource, opts BatchOptions) (*BatchPipeline, error) {
	asm, err := NewBatchAssembler(opts.ImageSize, opts.Augmentation, opts.seed(), opts.DecodeWorkers)
	if err != nil {
		return nil, err
	}
	klog.V(1).Infof("batch pipeline %s: batch_size=%d image_size=%d offset=%v",
		src.Name(), opts.BatchSize, opts.ImageSize, opts.AddDatasetOffset)
	p := &BatchPipeline{name: src.Name()}
	p.pf = newPrefetcher(func(ctx context.Context) (*Batch, error) {
		recs, err := src.Next()
		if err != nil {
			return nil, err
		}
		return asm.Assemble(ctx, recs)
	})
	return p, nil
}

// Name identifies the pipeline by its source(s).
func (p *BatchPipeline) Name() string { return p.name }

// Next blocks until the next assembled batch is available or ctx is done.
func (p *BatchPipeline) Next(ctx context.Context) (*Batch, error) {
	return p.pf.next(ctx)
}

// Close stops production and releases in-flight decode work.
func (p *BatchPipeline) Close() { p.pf.close() }

type result[T any] struct {
	v   T
	err error
}

// prefetcher runs produce in its own goroutine and keeps exactly one
// finished unit buffered, so unit i+1 is assembled while the consumer works
// on unit i. The producer blocks once the buffer is full; that is the only
// back-pressure. A produce error is delivered once, then the stream stays
// terminated.
type prefetcher[T any] struct {
	out    chan result[T]
	cancel context.CancelFunc
	done   chan struct{}

	mu  sync.Mutex
	err error
}

func newPrefetcher[T any](produce func(context.Context) (T, error)) *prefetcher[T] {
	ctx, cancel := context.WithCancel(context.Background())
	p := &prefetcher[T]{
		out:    make(chan result[T], 1),
		cancel: cancel,
		done:   make(chan struct{}),
	}
	go func() {
		defer close(p.done)
		for {
			v, err := produce(ctx)
			if ctx.Err() != nil {
				return
			}
			select {
			case p.out <- result[T]{v: v, err: err}:
			case <-ctx.Done():
				return
			}
			if err != nil {
				return
			}
		}
	}()
	return p
}

func (p *prefetcher[T]) next(ctx context.Context) (T, error) {
	var zero T
	p.mu.Lock()
	if err := p.err; err != nil {
		p.mu.Unlock()
		return zero, err
	}
	p.mu.Unlock()

	select {
	case r := <-p.out:
		if r.err != nil {
			p.setErr(r.err)
			return zero, r.err
		}
		return r.v, nil
	case <-ctx.Done():
		return zero, ctx.Err()
	case <-p.done:
		// Producer is gone. A final unit may still sit in the buffer.
		select {
		case r := <-p.out:
			if r.err != nil {
				p.setErr(r.err)
				return zero, r.err
			}
			return r.v, nil
		default:
		}
		p.setErr(ErrClosed)
		p.mu.Lock()
		defer p.mu.Unlock()
		return zero, p.err
	}
}

func (p *prefetcher[T]) setErr(err error) {
	p.mu.Lock()
	if p.err == nil {
		p.err = err
	}
	p.mu.Unlock()
}

func (p *prefetcher[T]) close() {
	p.cancel()
	<-p.done
	p.setErr(ErrClosed)
}
