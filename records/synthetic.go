package records

import (
	"bytes"
	"image"
	"image/color"
	"image/png"
	"math/rand"
	"sync"

	"github.com/pkg/errors"
)

// Synthetic sources generate procedural image streams in the exact layout the
// real readers produce. They exist so the pipelines can be exercised end to
// end (tests, demo binary) without any on-disk dataset.

// SyntheticEpisodeSource emits padded EpisodeRecords: a dummy-filled flush
// chunk, then support and query chunks whose real entries share one class
// set drawn per episode, padded at the tail up to capacity.
type SyntheticEpisodeSource struct {
	name       string
	chunks     ChunkSizes
	numClasses int
	imageSize  int

	mu  sync.Mutex
	rng *rand.Rand
}

// NewSyntheticEpisodeSource creates a synthetic episode stream with
// numClasses distinct classes, emitting images of side imageSize pixels.
func NewSyntheticEpisodeSource(name string, chunks ChunkSizes, numClasses, imageSize int, seed int64) *SyntheticEpisodeSource {
	return &SyntheticEpisodeSource{
		name:       name,
		chunks:     chunks,
		numClasses: numClasses,
		imageSize:  imageSize,
		rng:        rand.New(rand.NewSource(seed)),
	}
}

// Name implements EpisodeSource.
func (s *SyntheticEpisodeSource) Name() string { return s.name }

// Next implements EpisodeSource. The stream is infinite.
func (s *SyntheticEpisodeSource) Next() (EpisodeRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	rec := make(EpisodeRecord, 0, s.chunks.Total())
	for i := 0; i < s.chunks.Flush; i++ {
		rec = append(rec, dummyRecord())
	}

	// Draw one class set shared by both chunks, in the same order, so the
	// independent per-chunk relabeling downstream stays consistent.
	maxWays := s.numClasses
	if s.chunks.Support < maxWays {
		maxWays = s.chunks.Support
	}
	if maxWays < 1 {
		maxWays = 1
	}
	ways := 1 + s.rng.Intn(maxWays)
	classes := s.rng.Perm(s.numClasses)[:ways]

	support, err := s.fillChunk(classes, s.chunks.Support)
	if err != nil {
		return nil, err
	}
	query, err := s.fillChunk(classes, s.chunks.Query)
	if err != nil {
		return nil, err
	}
	rec = append(rec, support...)
	rec = append(rec, query...)
	return rec, nil
}

// fillChunk emits between 1 and capacity/ways examples per class (or none at
// all when the capacity cannot fit one per class), then pads with dummies.
func (s *SyntheticEpisodeSource) fillChunk(classes []int, capacity int) ([]Record, error) {
	out := make([]Record, 0, capacity)
	perClass := 0
	if len(classes) > 0 && capacity >= len(classes) {
		perClass = 1 + s.rng.Intn(capacity/len(classes))
	}
	for _, class := range classes {
		for i := 0; i < perClass; i++ {
			r, err := s.drawRecord(int64(class))
			if err != nil {
				return nil, err
			}
			out = append(out, r)
		}
	}
	for len(out) < capacity {
		out = append(out, dummyRecord())
	}
	return out, nil
}

func (s *SyntheticEpisodeSource) drawRecord(class int64) (Record, error) {
	payload, err := drawExample(s.rng, class, s.imageSize)
	if err != nil {
		return Record{}, err
	}
	return Record{Payload: payload, ClassID: class}, nil
}

// SyntheticBatchSource emits flat batches of real records with classes drawn
// uniformly from [0, numClasses).
type SyntheticBatchSource struct {
	name       string
	batchSize  int
	numClasses int
	imageSize  int

	mu  sync.Mutex
	rng *rand.Rand
}

// NewSyntheticBatchSource creates a synthetic flat record stream.
func NewSyntheticBatchSource(name string, batchSize, numClasses, imageSize int, seed int64) *SyntheticBatchSource {
	return &SyntheticBatchSource{
		name:       name,
		batchSize:  batchSize,
		numClasses: numClasses,
		imageSize:  imageSize,
		rng:        rand.New(rand.NewSource(seed)),
	}
}

// Name implements BatchSource.
func (s *SyntheticBatchSource) Name() string { return s.name }

// NumClasses implements BatchSource.
func (s *SyntheticBatchSource) NumClasses() int { return s.numClasses }

// Next implements BatchSource. The stream is infinite.
func (s *SyntheticBatchSource) Next() ([]Record, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	out := make([]Record, s.batchSize)
	for i := range out {
		class := int64(s.rng.Intn(s.numClasses))
		payload, err := drawExample(s.rng, class, s.imageSize)
		if err != nil {
			return nil, err
		}
		out[i] = Record{Payload: payload, ClassID: class}
	}
	return out, nil
}

func dummyRecord() Record { return Record{ClassID: -1} }

// drawExample renders a small PNG whose base color is derived from the class
// with per-pixel noise, and wraps it in a gob-encoded Example.
func drawExample(rng *rand.Rand, class int64, size int) ([]byte, error) {
	img := image.NewNRGBA(image.Rect(0, 0, size, size))
	base := color.NRGBA{
		R: uint8(37 * (class + 1)),
		G: uint8(73 * (class + 1)),
		B: uint8(151 * (class + 1)),
		A: 255,
	}
	for y := 0; y < size; y++ {
		for x := 0; x < size; x++ {
			jitter := uint8(rng.Intn(16))
			img.SetNRGBA(x, y, color.NRGBA{
				R: base.R + jitter,
				G: base.G + jitter,
				B: base.B + jitter,
				A: 255,
			})
		}
	}
	var buf bytes.Buffer
	if err := png.Encode(&buf, img); err != nil {
		return nil, errors.Wrapf(err, "failed to encode synthetic image for class %d", class)
	}
	ex := Example{Image: buf.Bytes(), Label: class}
	return ex.Marshal()
}
